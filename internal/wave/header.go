// Package wave manages the 44-byte RIFF/WAVE preamble in front of the raw
// sample stream. The recorder core never touches the preamble itself: it only
// appends or reads samples through File after the header has been handled.
package wave

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the fixed size of the preamble.
const HeaderSize = 44

const (
	chunkSizeOffset = 4
	dataSizeOffset  = 40
	pcmFormat       = 1
	fmtChunkSize    = 16
)

// ErrInvalidHeader is returned when a preamble is not a PCM RIFF/WAVE header.
var ErrInvalidHeader = errors.New("invalid wave header")

// Header mirrors the canonical 44-byte layout field by field.
type Header struct {
	ChunkID       [4]byte
	ChunkSize     uint32
	Format        [4]byte
	FmtID         [4]byte
	FmtSize       uint32
	AudioFormat   uint16
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
	DataID        [4]byte
	DataSize      uint32
}

// NewHeader builds a header with zero data length. ChunkSize and DataSize are
// patched once the sample count is known.
func NewHeader(sampleRate uint32, bitsPerSample, channels uint16) Header {
	blockAlign := channels * (bitsPerSample >> 3)
	return Header{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		FmtID:         [4]byte{'f', 'm', 't', ' '},
		FmtSize:       fmtChunkSize,
		AudioFormat:   pcmFormat,
		NumChannels:   channels,
		SampleRate:    sampleRate,
		ByteRate:      sampleRate * uint32(blockAlign),
		BlockAlign:    blockAlign,
		BitsPerSample: bitsPerSample,
		DataID:        [4]byte{'d', 'a', 't', 'a'},
	}
}

// MarshalBinary encodes the header in little-endian order.
func (h Header) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(HeaderSize)
	if err := binary.Write(&buf, binary.LittleEndian, h); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes and validates a 44-byte preamble.
func (h *Header) UnmarshalBinary(data []byte) error {
	if len(data) < HeaderSize {
		return fmt.Errorf("%w: %d bytes", ErrInvalidHeader, len(data))
	}
	if err := binary.Read(bytes.NewReader(data[:HeaderSize]), binary.LittleEndian, h); err != nil {
		return err
	}
	if string(h.ChunkID[:]) != "RIFF" || string(h.Format[:]) != "WAVE" || string(h.DataID[:]) != "data" {
		return fmt.Errorf("%w: missing RIFF/WAVE/data tags", ErrInvalidHeader)
	}
	if h.AudioFormat != pcmFormat {
		return fmt.Errorf("%w: audio format %d is not PCM", ErrInvalidHeader, h.AudioFormat)
	}
	return nil
}

func sizeField(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}
