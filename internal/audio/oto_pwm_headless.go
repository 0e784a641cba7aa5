//go:build headless

package audio

import "errors"

const otoAvailable = false

// OtoPWM is unavailable in headless builds.
type OtoPWM struct{ NullPWM }

func NewOtoPWM(sampleRate int) (*OtoPWM, error) {
	return nil, errors.New("audio output not compiled in (headless build)")
}

func (p *OtoPWM) Close() error { return nil }
