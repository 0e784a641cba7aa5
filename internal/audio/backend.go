package audio

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/audiolibrelab/pagedvr/internal/config"
)

// BackendType names a host implementation of the analog input or output.
type BackendType string

const (
	BackendTone    BackendType = "tone"
	BackendRamp    BackendType = "ramp"
	BackendSilence BackendType = "silence"
	BackendOto     BackendType = "oto"
	BackendNull    BackendType = "null"
	BackendAuto    BackendType = "auto"
)

// Devices bundles the host stand-ins for the recorder's hardware.
type Devices struct {
	ADC       ADC
	PWM       PWM
	Indicator Indicator
}

// Close releases whatever output device was opened.
func (d *Devices) Close() error {
	if c, ok := d.PWM.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// NewDevices builds the input, output and indicator from configuration.
func NewDevices(cfg *config.Config) (*Devices, error) {
	adc, err := newADC(cfg)
	if err != nil {
		return nil, err
	}
	pwm, err := newPWM(cfg)
	if err != nil {
		return nil, err
	}
	return &Devices{ADC: adc, PWM: pwm, Indicator: NewLampIndicator()}, nil
}

func newADC(cfg *config.Config) (ADC, error) {
	switch BackendType(strings.ToLower(cfg.Audio.Source)) {
	case BackendTone, "":
		return NewToneADC(cfg.Audio.ToneHz, cfg.Audio.SampleRate), nil
	case BackendRamp:
		return &RampADC{}, nil
	case BackendSilence:
		return SilenceADC{}, nil
	default:
		return nil, fmt.Errorf("unknown audio source: %s (valid: tone, ramp, silence)", cfg.Audio.Source)
	}
}

func newPWM(cfg *config.Config) (PWM, error) {
	switch BackendType(strings.ToLower(cfg.Audio.Sink)) {
	case BackendNull:
		return NullPWM{}, nil
	case BackendOto:
		pwm, err := NewOtoPWM(cfg.Audio.SampleRate)
		if err != nil {
			return nil, err
		}
		return pwm, nil
	case BackendAuto, "":
		pwm, err := NewOtoPWM(cfg.Audio.SampleRate)
		if err != nil {
			slog.Warn("Audio output unavailable, playback will be silent", "error", err)
			return NullPWM{}, nil
		}
		return pwm, nil
	default:
		return nil, fmt.Errorf("unknown audio sink: %s (valid: oto, null, auto)", cfg.Audio.Sink)
	}
}

// GetAvailableBackends lists the source and sink backends compiled in.
func GetAvailableBackends() (sources, sinks []BackendType) {
	sources = []BackendType{BackendTone, BackendRamp, BackendSilence}
	sinks = []BackendType{BackendNull, BackendAuto}
	if otoAvailable {
		sinks = append(sinks, BackendOto)
	}
	return sources, sinks
}
