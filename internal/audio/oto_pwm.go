//go:build !headless

package audio

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ebitengine/oto/v3"
)

const otoAvailable = true

var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoErr  error
)

// otoContext creates the process-wide output context; oto allows only one.
func otoContext(sampleRate int) (*oto.Context, error) {
	otoOnce.Do(func() {
		ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
			SampleRate:   sampleRate,
			ChannelCount: 1,
			Format:       oto.FormatUnsignedInt8,
		})
		if err != nil {
			otoErr = err
			return
		}
		<-ready
		otoCtx = ctx
	})
	return otoCtx, otoErr
}

// OtoPWM plays emitted samples on the host's default output device. Set only
// queues into a ring; oto pulls from it on its own goroutine.
type OtoPWM struct {
	ring   *sampleRing
	player *oto.Player
	idle   atomic.Bool
	mutex  sync.Mutex
}

// NewOtoPWM opens the default output at sampleRate, 8-bit mono.
func NewOtoPWM(sampleRate int) (*OtoPWM, error) {
	ctx, err := otoContext(sampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio output: %w", err)
	}
	p := &OtoPWM{ring: newSampleRing(sampleRate / 4)}
	p.idle.Store(true)
	p.player = ctx.NewPlayer(p)
	return p, nil
}

// Read implements io.Reader for oto.
func (p *OtoPWM) Read(buf []byte) (int, error) {
	if p.idle.Load() {
		p.ring.drain()
		for i := range buf {
			buf[i] = Silence
		}
		return len(buf), nil
	}
	p.ring.pop(buf)
	return len(buf), nil
}

func (p *OtoPWM) Set(duty byte) {
	if p.idle.CompareAndSwap(true, false) {
		p.start()
	}
	p.ring.push(duty)
}

func (p *OtoPWM) Idle() {
	p.idle.Store(true)
}

func (p *OtoPWM) start() {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	if p.player != nil && !p.player.IsPlaying() {
		p.player.Play()
	}
}

func (p *OtoPWM) Close() error {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.idle.Store(true)
	if p.player == nil {
		return nil
	}
	err := p.player.Close()
	p.player = nil
	return err
}
