// Package sampler runs the fixed-rate trigger that moves single samples
// between the audio devices and the page buffer.
//
// The trigger goroutine stands in for the timer interrupt. A Go ticker cannot
// fire tens of thousands of times per second, so the goroutine wakes once per
// quantum and fires every trigger period that has elapsed since the last
// wake. Tests drive the trigger directly with Tick instead.
package sampler

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/audiolibrelab/pagedvr/internal/audio"
	"github.com/audiolibrelab/pagedvr/internal/buffer"
)

// Mode is what the trigger does on each period.
type Mode uint32

const (
	ModeOff Mode = iota
	ModeCapture
	ModeEmit
)

func (m Mode) String() string {
	switch m {
	case ModeOff:
		return "off"
	case ModeCapture:
		return "capture"
	case ModeEmit:
		return "emit"
	default:
		return "unknown"
	}
}

// Options configures a Sampler.
type Options struct {
	SampleRate int
	// Quantum is how often the trigger goroutine wakes. Zero means 1ms.
	Quantum time.Duration
	// Manual disables the trigger goroutine; the caller invokes Tick.
	Manual bool
}

// maxBacklog bounds catch-up after a stall, in seconds of trigger periods.
const maxBacklog = 1

// Sampler owns the trigger and the capture and emission paths.
type Sampler struct {
	buf        *buffer.Buffer
	sampleRate int
	quantum    time.Duration
	manual     bool

	mode atomic.Uint32

	// Written by the controller while the trigger is stopped, read by the
	// trigger after it observes a non-off mode.
	adc     audio.ADC
	pwm     audio.PWM
	divider int
	rate    int

	// Trigger goroutine only.
	phase int
	ticks uint64

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// New returns an idle sampler bound to buf.
func New(buf *buffer.Buffer, opts Options) *Sampler {
	if opts.SampleRate <= 0 {
		opts.SampleRate = 15625
	}
	if opts.Quantum <= 0 {
		opts.Quantum = time.Millisecond
	}
	return &Sampler{
		buf:        buf,
		sampleRate: opts.SampleRate,
		quantum:    opts.Quantum,
		manual:     opts.Manual,
	}
}

// Mode reports what the trigger is currently doing.
func (s *Sampler) Mode() Mode { return Mode(s.mode.Load()) }

// StartCapture arms one conversion and one Enqueue per sample period.
func (s *Sampler) StartCapture(adc audio.ADC) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.haltTrigger()

	s.adc = adc
	s.pwm = nil
	s.rate = s.sampleRate
	s.reset()
	s.mode.Store(uint32(ModeCapture))
	s.launch()
	slog.Debug("Sampler started", "mode", ModeCapture, "rate", s.rate)
}

// StartEmit arms one Dequeue forwarded to pwm every divider trigger periods.
// The trigger runs at sampleRate*divider so the output keeps the sample rate.
func (s *Sampler) StartEmit(pwm audio.PWM, divider int) {
	if divider < 1 {
		divider = 1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.haltTrigger()

	s.pwm = pwm
	s.divider = divider
	s.rate = s.sampleRate * divider
	s.reset()
	s.mode.Store(uint32(ModeEmit))
	s.launch()
	slog.Debug("Sampler started", "mode", ModeEmit, "rate", s.rate, "divider", divider)
}

// Halt disarms the trigger so no further sample is moved. It is safe to call
// from a buffer hook running on the trigger goroutine and never blocks.
func (s *Sampler) Halt() {
	s.mode.Store(uint32(ModeOff))
}

// Stop disarms the trigger, waits for its goroutine and zeroes the output
// if the last session was an emission.
func (s *Sampler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.haltTrigger()
	if s.pwm != nil {
		s.pwm.Set(0)
		s.pwm.Idle()
	}
}

// Tick runs one trigger period. It must only be called by one goroutine at a
// time: the trigger goroutine, or the test driving a manual sampler.
func (s *Sampler) Tick() {
	s.ticks++
	if s.rate > 0 && s.ticks%uint64(s.rate) == 0 {
		slog.Debug("Sampler heartbeat", "mode", s.Mode(), "ticks", s.ticks)
	}

	switch Mode(s.mode.Load()) {
	case ModeCapture:
		s.buf.Enqueue(s.adc.Sample())
	case ModeEmit:
		s.phase++
		if s.phase < s.divider {
			return
		}
		s.phase = 0
		// The dequeue can fire page-empty, which may halt us; the sample
		// already dequeued is still emitted.
		s.pwm.Set(s.buf.Dequeue())
	}
}

func (s *Sampler) reset() {
	s.phase = 0
	s.ticks = 0
}

// launch starts the trigger goroutine. Caller holds mu.
func (s *Sampler) launch() {
	if s.manual {
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(s.rate, s.stop, s.done)
}

// haltTrigger disarms and joins the trigger goroutine. Caller holds mu.
func (s *Sampler) haltTrigger() {
	s.Halt()
	if s.stop == nil {
		return
	}
	close(s.stop)
	<-s.done
	s.stop, s.done = nil, nil
}

func (s *Sampler) run(rate int, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.quantum)
	defer ticker.Stop()

	start := time.Now()
	var fired uint64
	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C:
			due := uint64(now.Sub(start).Seconds() * float64(rate))
			if backlog := due - fired; due > fired && backlog > uint64(rate*maxBacklog) {
				slog.Debug("Sampler dropped backlog", "periods", backlog)
				fired = due - uint64(rate*maxBacklog)
			}
			for fired < due {
				if s.Mode() == ModeOff {
					// Halted from a hook; idle until Stop.
					fired = due
					break
				}
				s.Tick()
				fired++
			}
		}
	}
}
