// Package audio provides host stand-ins for the recorder's hardware: the
// analog-to-digital converter, the pulse-modulated output and the status
// lamps. Each is a narrow interface so tests can substitute fakes.
package audio

import (
	"log/slog"
	"math"
	"sync/atomic"
)

// Silence is the mid-scale value of an unsigned 8-bit sample.
const Silence byte = 0x80

// ADC performs one conversion per call. It is called from the trigger
// goroutine and must not block.
type ADC interface {
	Sample() byte
}

// PWM drives the modulated output. Set is called from the trigger goroutine
// once per output sample and must not block; Idle zeroes the output.
type PWM interface {
	Set(duty byte)
	Idle()
}

// ToneADC synthesises a sine wave at a fixed frequency.
type ToneADC struct {
	step  float64
	phase float64
}

// NewToneADC returns a tone generator for the given sample rate. A zero
// frequency defaults to 440 Hz.
func NewToneADC(frequency float64, sampleRate int) *ToneADC {
	if frequency <= 0 {
		frequency = 440
	}
	if sampleRate <= 0 {
		sampleRate = 15625
	}
	return &ToneADC{step: 2 * math.Pi * frequency / float64(sampleRate)}
}

func (t *ToneADC) Sample() byte {
	v := math.Sin(t.phase)
	t.phase += t.step
	if t.phase >= 2*math.Pi {
		t.phase -= 2 * math.Pi
	}
	return byte(127.5 + v*127)
}

// RampADC counts up by one per sample, wrapping at 256.
type RampADC struct {
	next atomic.Uint32
}

func (r *RampADC) Sample() byte {
	return byte(r.next.Add(1) - 1)
}

// SilenceADC always returns mid-scale.
type SilenceADC struct{}

func (SilenceADC) Sample() byte { return Silence }

// NullPWM discards output.
type NullPWM struct{}

func (NullPWM) Set(byte) {}
func (NullPWM) Idle()    {}

// Lamp is one of the three status indicators.
type Lamp string

const (
	LampPlaying   Lamp = "PLAYING"
	LampRecording Lamp = "RECORDING"
	LampStopped   Lamp = "STOPPED"
)

// Indicator shows exactly one lamp at a time.
type Indicator interface {
	Show(l Lamp)
}

// LampIndicator remembers the lit lamp and logs changes.
type LampIndicator struct {
	lit atomic.Value
}

// NewLampIndicator starts with the stopped lamp lit.
func NewLampIndicator() *LampIndicator {
	li := &LampIndicator{}
	li.lit.Store(LampStopped)
	return li
}

func (li *LampIndicator) Show(l Lamp) {
	if prev := li.lit.Swap(l); prev != l {
		slog.Debug("Indicator changed", "lamp", l)
	}
}

// Lit returns the lamp currently shown.
func (li *LampIndicator) Lit() Lamp {
	return li.lit.Load().(Lamp)
}
