package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/pagedvr/internal/config"
)

func TestToneADC_StaysInRangeAndVaries(t *testing.T) {
	adc := NewToneADC(440, 15625)
	seen := map[byte]bool{}
	for i := 0; i < 15625; i++ {
		seen[adc.Sample()] = true
	}
	assert.Greater(t, len(seen), 100, "a full-scale sine should cover most codes")
	assert.True(t, seen[255] || seen[254])
	assert.True(t, seen[0] || seen[1])
}

func TestRampADC_Wraps(t *testing.T) {
	var adc RampADC
	for i := 0; i < 600; i++ {
		require.Equal(t, byte(i), adc.Sample())
	}
}

func TestSampleRing_PadsWithSilence(t *testing.T) {
	r := newSampleRing(4)
	assert.True(t, r.push(1))
	assert.True(t, r.push(2))

	out := make([]byte, 4)
	assert.Equal(t, 2, r.pop(out))
	assert.Equal(t, []byte{1, 2, Silence, Silence}, out)
}

func TestSampleRing_DropsWhenFull(t *testing.T) {
	r := newSampleRing(2)
	assert.True(t, r.push(1))
	assert.True(t, r.push(2))
	assert.False(t, r.push(3))

	r.drain()
	out := make([]byte, 1)
	assert.Equal(t, 0, r.pop(out))
}

func TestLampIndicator(t *testing.T) {
	li := NewLampIndicator()
	assert.Equal(t, LampStopped, li.Lit())
	li.Show(LampRecording)
	assert.Equal(t, LampRecording, li.Lit())
}

func TestNewDevices_SelectsBackends(t *testing.T) {
	cfg := config.Default()
	cfg.Audio.Source = "ramp"
	cfg.Audio.Sink = "null"

	d, err := NewDevices(cfg)
	require.NoError(t, err)
	assert.IsType(t, &RampADC{}, d.ADC)
	assert.IsType(t, NullPWM{}, d.PWM)
	assert.NoError(t, d.Close())

	cfg.Audio.Source = "microphone"
	_, err = NewDevices(cfg)
	assert.Error(t, err)

	cfg.Audio.Source = "tone"
	cfg.Audio.Sink = "speaker"
	_, err = NewDevices(cfg)
	assert.Error(t, err)
}
