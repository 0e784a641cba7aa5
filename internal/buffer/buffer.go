// Package buffer implements the two-page circular sample queue shared by the
// sampler goroutine and the session controller.
//
// Samples are queued or dequeued one byte at a time by the sampler, or one
// page at a time by the controller when it moves data to or from storage. A
// notification fires whenever a bytewise cursor crosses into the other page.
// No overflow or underflow protection is implemented: the session's page
// accounting is what keeps the cursors apart.
package buffer

import (
	"errors"
	"fmt"
	"sync/atomic"
)

const (
	// DefaultPageSize is the unit of bulk transfer to and from storage.
	DefaultPageSize = 512
	// Pages is fixed: the queue is always double-buffered.
	Pages = 2
)

// ErrMisaligned is the panic value raised in strict mode when a page-wise
// access is attempted while the cursor sits inside a page.
var ErrMisaligned = errors.New("page access with misaligned cursor")

// Event tags a flow-control notification.
type Event uint8

const (
	EventPageFull Event = iota + 1
	EventPageEmpty
)

func (e Event) String() string {
	switch e {
	case EventPageFull:
		return "page-full"
	case EventPageEmpty:
		return "page-empty"
	default:
		return fmt.Sprintf("event(%d)", uint8(e))
	}
}

// Option configures a Buffer.
type Option func(*Buffer)

// WithPageSize overrides DefaultPageSize.
func WithPageSize(size int) Option {
	return func(b *Buffer) {
		if size > 0 {
			b.pageSize = uint32(size)
		}
	}
}

// WithStrictAlignment makes ReadPage and WritePage panic with ErrMisaligned
// when called with a cursor that is not on a page boundary.
func WithStrictAlignment() Option {
	return func(b *Buffer) { b.strict = true }
}

// Buffer is a fixed two-page circular store of 8-bit samples.
//
// Each cursor has a single writer: head is advanced by whoever produces
// (sampler while recording, controller while playing) and tail by whoever
// consumes. The page-full and page-empty hooks run inline on the goroutine
// that moved the cursor.
type Buffer struct {
	data     []byte
	pageSize uint32
	strict   bool

	head atomic.Uint32
	tail atomic.Uint32

	onPageFull  func()
	onPageEmpty func()
}

// New allocates a buffer with no-op notification hooks. Call Init to bind the
// real ones.
func New(opts ...Option) *Buffer {
	b := &Buffer{pageSize: DefaultPageSize}
	for _, opt := range opts {
		opt(b)
	}
	b.data = make([]byte, b.pageSize*Pages)
	b.Init(nil, nil)
	return b
}

// Init binds the notification hooks and resets both cursors to the top of
// page 0. Nil hooks are replaced by no-ops. Init is idempotent.
func (b *Buffer) Init(onPageFull, onPageEmpty func()) {
	if onPageFull == nil {
		onPageFull = func() {}
	}
	if onPageEmpty == nil {
		onPageEmpty = func() {}
	}
	b.onPageFull = onPageFull
	b.onPageEmpty = onPageEmpty
	b.Reset()
}

// Reset moves both cursors back to the top of page 0. Stale samples are left
// in place and will be overwritten.
func (b *Buffer) Reset() {
	b.head.Store(0)
	b.tail.Store(0)
}

// Enqueue stores one sample at head and advances it. Crossing into page 1, or
// wrapping back to page 0, fires the page-full hook before returning.
func (b *Buffer) Enqueue(sample byte) {
	h := b.head.Load()
	b.data[h] = sample
	h++
	if h == uint32(len(b.data)) {
		h = 0
	}
	b.head.Store(h)
	if h == 0 || h == b.pageSize {
		b.onPageFull()
	}
}

// Dequeue returns the sample at tail and advances it. Crossing into page 1, or
// wrapping back to page 0, fires the page-empty hook before returning.
func (b *Buffer) Dequeue() byte {
	t := b.tail.Load()
	sample := b.data[t]
	t++
	if t == uint32(len(b.data)) {
		t = 0
	}
	b.tail.Store(t)
	if t == 0 || t == b.pageSize {
		b.onPageEmpty()
	}
	return sample
}

// ReadPage returns the full page starting at tail and moves tail to the start
// of the other page. It never fires hooks. Tail must be page aligned.
func (b *Buffer) ReadPage() []byte {
	t := b.tail.Load()
	b.checkAligned(t)
	page, next := b.flip(t)
	b.tail.Store(next)
	return b.page(page)
}

// WritePage returns the page starting at head for the caller to fill and moves
// head to the start of the other page. It never fires hooks. Head must be page
// aligned.
func (b *Buffer) WritePage() []byte {
	h := b.head.Load()
	b.checkAligned(h)
	page, next := b.flip(h)
	b.head.Store(next)
	return b.page(page)
}

// PageSize reports the size of one page in bytes.
func (b *Buffer) PageSize() int { return int(b.pageSize) }

// Capacity reports the total size of the backing store.
func (b *Buffer) Capacity() int { return len(b.data) }

// Head reports the write cursor offset.
func (b *Buffer) Head() int { return int(b.head.Load()) }

// Tail reports the read cursor offset.
func (b *Buffer) Tail() int { return int(b.tail.Load()) }

// flip picks the page addressed by cursor and the boundary after it.
func (b *Buffer) flip(cursor uint32) (page, next uint32) {
	if cursor >= b.pageSize {
		return 1, 0
	}
	return 0, b.pageSize
}

func (b *Buffer) page(n uint32) []byte {
	start := n * b.pageSize
	return b.data[start : start+b.pageSize : start+b.pageSize]
}

func (b *Buffer) checkAligned(cursor uint32) {
	if b.strict && cursor%b.pageSize != 0 {
		panic(fmt.Errorf("%w: offset %d, page size %d", ErrMisaligned, cursor, b.pageSize))
	}
}
