// Package storage is the byte-stream transfer driver the recorder core calls
// once per page. It sits on top of an afero filesystem so the same code runs
// against a real directory or an in-memory filesystem.
package storage

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/spf13/afero"
)

// ErrClosed is returned for operations on a handle that was already closed.
var ErrClosed = errors.New("file handle closed")

// Driver opens files for bulk transfer.
type Driver struct {
	fs afero.Fs
}

// NewDriver wraps an existing filesystem.
func NewDriver(fs afero.Fs) *Driver {
	return &Driver{fs: fs}
}

// Mount returns a driver rooted at dir on the host filesystem. The directory
// is created if missing.
func Mount(dir string) (*Driver, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	slog.Debug("Storage mounted", "directory", dir)
	return NewDriver(afero.NewBasePathFs(afero.NewOsFs(), dir)), nil
}

// NewMemDriver returns a driver on a fresh in-memory filesystem.
func NewMemDriver() *Driver {
	return NewDriver(afero.NewMemMapFs())
}

// Fs exposes the underlying filesystem for listing and streaming.
func (d *Driver) Fs() afero.Fs { return d.fs }

// Create opens name for read/write, truncating any existing file.
func (d *Driver) Create(name string) (*Handle, error) {
	f, err := d.fs.OpenFile(name, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", name, err)
	}
	return &Handle{name: name, file: f}, nil
}

// Open opens an existing file read-only.
func (d *Driver) Open(name string) (*Handle, error) {
	f, err := d.fs.Open(name)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", name, err)
	}
	return &Handle{name: name, file: f}, nil
}

// Stat reports file information without opening it.
func (d *Driver) Stat(name string) (os.FileInfo, error) {
	return d.fs.Stat(name)
}

// Handle is an open file. It is used from the controller goroutine only.
type Handle struct {
	name string

	mu     sync.Mutex
	file   afero.File
	closed bool
}

// Name returns the file name the handle was opened with.
func (h *Handle) Name() string { return h.name }

// ReadBytes fills dst from the current position. A short read at end of file
// returns the count read and io.EOF.
func (h *Handle) ReadBytes(dst []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, ErrClosed
	}

	n, err := io.ReadFull(h.file, dst)
	switch {
	case errors.Is(err, io.ErrUnexpectedEOF):
		return n, io.EOF
	case err != nil:
		return n, err
	}
	return n, nil
}

// WriteBytes writes src at the current position.
func (h *Handle) WriteBytes(src []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0, ErrClosed
	}
	return h.file.Write(src)
}

// Seek moves the position to an absolute offset.
func (h *Handle) Seek(offset int64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	_, err := h.file.Seek(offset, io.SeekStart)
	return err
}

// Close flushes and releases the file.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	h.closed = true
	if err := h.file.Sync(); err != nil {
		h.file.Close()
		return err
	}
	return h.file.Close()
}
