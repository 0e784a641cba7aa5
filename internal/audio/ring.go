package audio

import "sync/atomic"

// sampleRing is a single-producer single-consumer byte ring. The trigger
// goroutine pushes, the output device's pull callback pops. Positions only
// ever increase; the mask maps them into the power-of-two store.
type sampleRing struct {
	writePos atomic.Uint64
	_        [56]byte
	readPos  atomic.Uint64
	_        [56]byte

	buf  []byte
	mask uint64
}

func newSampleRing(minSize int) *sampleRing {
	size := 1
	for size < minSize {
		size <<= 1
	}
	return &sampleRing{buf: make([]byte, size), mask: uint64(size - 1)}
}

// push stores one sample, dropping it if the ring is full.
func (r *sampleRing) push(v byte) bool {
	w := r.writePos.Load()
	if w-r.readPos.Load() == uint64(len(r.buf)) {
		return false
	}
	r.buf[w&r.mask] = v
	r.writePos.Store(w + 1)
	return true
}

// pop fills p, padding with silence once the ring runs dry.
func (r *sampleRing) pop(p []byte) int {
	rd := r.readPos.Load()
	avail := r.writePos.Load() - rd
	n := 0
	for ; n < len(p) && uint64(n) < avail; n++ {
		p[n] = r.buf[(rd+uint64(n))&r.mask]
	}
	r.readPos.Store(rd + uint64(n))
	for i := n; i < len(p); i++ {
		p[i] = Silence
	}
	return n
}

// drain discards everything queued. Only the consumer side may call it.
func (r *sampleRing) drain() {
	r.readPos.Store(r.writePos.Load())
}
