package wave

import (
	"errors"
	"fmt"
	"io"

	"github.com/audiolibrelab/pagedvr/internal/storage"
)

// Format describes the fixed recording format.
type Format struct {
	SampleRate    uint32
	BitsPerSample uint16
	Channels      uint16
}

// DefaultFormat is 15.625 kHz, 8-bit unsigned, mono.
var DefaultFormat = Format{SampleRate: 15625, BitsPerSample: 8, Channels: 1}

// File is an open WAVE file positioned after its preamble.
type File struct {
	handle *storage.Handle
	header Header

	// finalise is set for files created by this process; Close patches the
	// size fields only then.
	finalise bool
	written  uint32
}

// Create creates name (overwriting any existing file), writes a header with a
// zero data length and resets the sample counter.
func Create(d *storage.Driver, name string, f Format) (*File, error) {
	h, err := d.Create(name)
	if err != nil {
		return nil, err
	}
	file := &File{
		handle:   h,
		header:   NewHeader(f.SampleRate, f.BitsPerSample, f.Channels),
		finalise: true,
	}

	raw, err := file.header.MarshalBinary()
	if err != nil {
		return file, err
	}
	n, err := h.WriteBytes(raw)
	if err != nil {
		return file, fmt.Errorf("failed to write header: %w", err)
	}
	if n != HeaderSize {
		return file, fmt.Errorf("wrote %d of %d header bytes", n, HeaderSize)
	}
	return file, nil
}

// Open opens an existing file read-only and reads its header. When the header
// cannot be read the file is treated as empty: DataSize reports 0 and the
// returned error says why. The handle stays usable for Close either way.
func Open(d *storage.Driver, name string) (*File, error) {
	h, err := d.Open(name)
	if err != nil {
		return nil, err
	}
	file := &File{handle: h}

	raw := make([]byte, HeaderSize)
	n, err := h.ReadBytes(raw)
	if err != nil && !errors.Is(err, io.EOF) {
		return file, fmt.Errorf("failed to read header: %w", err)
	}
	if n != HeaderSize {
		return file, fmt.Errorf("%w: read %d of %d bytes", ErrInvalidHeader, n, HeaderSize)
	}
	var hdr Header
	if err := hdr.UnmarshalBinary(raw); err != nil {
		return file, err
	}
	file.header = hdr
	return file, nil
}

// Name returns the underlying file name.
func (f *File) Name() string { return f.handle.Name() }

// Header returns a copy of the header as currently known.
func (f *File) Header() Header { return f.header }

// DataSize is the sample-stream length recorded in the header.
func (f *File) DataSize() uint32 { return f.header.DataSize }

// Written is the number of sample bytes appended since Create.
func (f *File) Written() uint32 { return f.written }

// Write appends samples. The running count only includes bytes that reached
// storage.
func (f *File) Write(samples []byte) (int, error) {
	n, err := f.handle.WriteBytes(samples)
	f.written += uint32(n)
	if err != nil {
		return n, fmt.Errorf("failed to write samples: %w", err)
	}
	if n != len(samples) {
		return n, fmt.Errorf("wrote %d of %d bytes", n, len(samples))
	}
	return n, nil
}

// Read fills samples from the stream. At end of stream it returns the count
// read together with io.EOF.
func (f *File) Read(samples []byte) (int, error) {
	return f.handle.ReadBytes(samples)
}

// Close finalises the header of a created file and releases the handle.
// Every step is attempted; the errors are joined.
func (f *File) Close() error {
	var errs []error
	if f.finalise {
		f.finalise = false
		errs = append(errs, f.finaliseHeader()...)
	}
	if err := f.handle.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close %s: %w", f.Name(), err))
	}
	return errors.Join(errs...)
}

func (f *File) finaliseHeader() []error {
	f.header.DataSize = f.written
	f.header.ChunkSize = 36 + f.written

	var errs []error
	patch := func(offset int64, v uint32) {
		if err := f.handle.Seek(offset); err != nil {
			errs = append(errs, fmt.Errorf("failed to seek to %d: %w", offset, err))
			return
		}
		n, err := f.handle.WriteBytes(sizeField(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to patch offset %d: %w", offset, err))
		} else if n != 4 {
			errs = append(errs, fmt.Errorf("wrote %d of 4 bytes at offset %d", n, offset))
		}
	}
	patch(chunkSizeOffset, f.header.ChunkSize)
	patch(dataSizeOffset, f.header.DataSize)
	return errs
}
