package buffer

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueue_PageFullFiresAtEveryBoundary(t *testing.T) {
	for _, pages := range []int{1, 2, 3, 8} {
		b := New()
		var crossings []int
		b.Init(func() { crossings = append(crossings, b.Head()) }, nil)

		n := pages * b.PageSize()
		for i := 0; i < n; i++ {
			before := len(crossings)
			b.Enqueue(byte(i))
			if (i+1)%b.PageSize() == 0 {
				require.Len(t, crossings, before+1, "sample %d should complete a page", i)
			} else {
				require.Len(t, crossings, before, "sample %d should not fire", i)
			}
		}

		require.Len(t, crossings, pages)
		for i, head := range crossings {
			assert.Equal(t, ((i+1)%Pages)*b.PageSize(), head)
		}
	}
}

func TestDequeue_PageEmptyFiresAtEveryBoundary(t *testing.T) {
	b := New()
	empties := 0
	b.Init(nil, func() { empties++ })

	for i := 0; i < 3*b.PageSize(); i++ {
		b.Dequeue()
	}
	assert.Equal(t, 3, empties)
	assert.Equal(t, b.PageSize(), b.Tail())
}

func TestReadPage_AlternatesParity(t *testing.T) {
	b := New(WithStrictAlignment())
	full := 0
	b.Init(func() { full++ }, nil)

	for cycle := 0; cycle < 6; cycle++ {
		for i := 0; i < b.PageSize(); i++ {
			b.Enqueue(byte(cycle))
		}
		require.Equal(t, cycle+1, full)

		page := b.ReadPage()
		require.Len(t, page, b.PageSize())
		for _, v := range page {
			require.Equal(t, byte(cycle), v)
		}

		// The page handed out must not be the one head is now filling.
		writing := b.Head() / b.PageSize()
		reading := (b.Tail()/b.PageSize() + 1) % Pages
		assert.NotEqual(t, writing, reading, "cycle %d", cycle)
	}
}

func TestReadPage_DisjointFromWriter(t *testing.T) {
	b := New()
	for i := 0; i < b.PageSize(); i++ {
		b.Enqueue(0xAA)
	}
	page := b.ReadPage()

	// Keep writing into the other page; the handed-out page is untouched.
	for i := 0; i < b.PageSize()-1; i++ {
		b.Enqueue(0x55)
	}
	for _, v := range page {
		require.Equal(t, byte(0xAA), v)
	}
}

func TestWritePage_FeedsDequeue(t *testing.T) {
	b := New()
	empties := 0
	b.Init(nil, func() { empties++ })

	first := b.WritePage()
	second := b.WritePage()
	for i := range first {
		first[i] = byte(i)
		second[i] = byte(255 - i%256)
	}
	assert.Equal(t, 0, b.Head(), "two page writes wrap head")

	for i := 0; i < b.PageSize(); i++ {
		require.Equal(t, byte(i), b.Dequeue())
	}
	assert.Equal(t, 1, empties)
	for i := 0; i < b.PageSize(); i++ {
		require.Equal(t, byte(255-i%256), b.Dequeue())
	}
	assert.Equal(t, 2, empties)
}

func TestReset_KeepsCallbacks(t *testing.T) {
	b := New(WithPageSize(4))
	full := 0
	b.Init(func() { full++ }, nil)

	b.Enqueue(1)
	b.Enqueue(2)
	b.Reset()
	assert.Equal(t, 0, b.Head())
	assert.Equal(t, 0, b.Tail())

	for i := 0; i < 4; i++ {
		b.Enqueue(byte(i))
	}
	assert.Equal(t, 1, full)
}

func TestInit_Idempotent(t *testing.T) {
	b := New(WithPageSize(4))
	calls := 0
	hook := func() { calls++ }
	b.Init(hook, hook)
	b.Enqueue(9)
	b.Init(hook, hook)

	assert.Equal(t, 0, b.Head())
	for i := 0; i < 4; i++ {
		b.Enqueue(byte(i))
	}
	assert.Equal(t, 1, calls)
}

func TestStrictAlignment_Panics(t *testing.T) {
	b := New(WithStrictAlignment())
	b.Enqueue(1)

	defer func() {
		r := recover()
		require.NotNil(t, r)
		err, ok := r.(error)
		require.True(t, ok)
		assert.True(t, errors.Is(err, ErrMisaligned))
	}()
	b.WritePage()
}

func TestLooseAlignment_DoesNotPanic(t *testing.T) {
	b := New()
	b.Enqueue(1)
	assert.NotPanics(t, func() { b.ReadPage() })
}

func TestEventString(t *testing.T) {
	assert.Equal(t, "page-full", EventPageFull.String())
	assert.Equal(t, "page-empty", EventPageEmpty.String())
	assert.Equal(t, "event(9)", Event(9).String())
}

func BenchmarkEnqueue(b *testing.B) {
	buf := New()
	for i := 0; i < b.N; i++ {
		buf.Enqueue(byte(i))
	}
}
