package session

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audiolibrelab/pagedvr/internal/audio"
	"github.com/audiolibrelab/pagedvr/internal/buffer"
	"github.com/audiolibrelab/pagedvr/internal/diag"
	"github.com/audiolibrelab/pagedvr/internal/input"
	"github.com/audiolibrelab/pagedvr/internal/metrics"
	"github.com/audiolibrelab/pagedvr/internal/sampler"
	"github.com/audiolibrelab/pagedvr/internal/storage"
	"github.com/audiolibrelab/pagedvr/internal/wave"
)

const pageSize = buffer.DefaultPageSize

type capturePWM struct {
	mu      sync.Mutex
	samples []byte
	idle    int
}

func (p *capturePWM) Set(b byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.samples = append(p.samples, b)
}

func (p *capturePWM) Idle() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.idle++
}

type rig struct {
	ctx     context.Context
	c       *Controller
	s       *sampler.Sampler
	buf     *buffer.Buffer
	store   *storage.Driver
	keys    *input.VirtualLines
	console *diag.Recorder
	pwm     *capturePWM
	lamp    *audio.LampIndicator
}

func newRig(t *testing.T, budget int, store *storage.Driver) *rig {
	t.Helper()
	if store == nil {
		store = storage.NewMemDriver()
	}
	r := &rig{
		ctx:     context.Background(),
		buf:     buffer.New(buffer.WithStrictAlignment()),
		store:   store,
		keys:    input.NewVirtualLines(input.DefaultHold),
		console: &diag.Recorder{},
		pwm:     &capturePWM{},
		lamp:    audio.NewLampIndicator(),
	}
	r.s = sampler.New(r.buf, sampler.Options{SampleRate: 15625, Manual: true})
	r.c = New(Options{
		Buffer:     r.buf,
		Sampler:    r.s,
		Storage:    store,
		Devices:    &audio.Devices{ADC: &audio.RampADC{}, PWM: r.pwm, Indicator: r.lamp},
		Input:      input.NewPoller(r.keys),
		Console:    r.console,
		Metrics:    metrics.New(prometheus.NewRegistry()),
		PageBudget: budget,
	})
	return r
}

// press holds a button long enough for the debouncer to accept it and then
// lets it go again.
func (r *rig) press(b input.Buttons) {
	r.keys.Press(b)
	for i := 0; i < 8; i++ {
		r.c.Step(r.ctx)
	}
}

// run ticks the sampler and steps the controller after every tick until the
// controller stops or limit ticks have elapsed. It returns the ticks used.
func (r *rig) run(limit int) int {
	for i := 0; i < limit; i++ {
		if r.c.State() == Stopped {
			return i
		}
		r.s.Tick()
		r.c.Step(r.ctx)
	}
	return limit
}

func (r *rig) tick(n int) {
	for i := 0; i < n; i++ {
		r.s.Tick()
		r.c.Step(r.ctx)
	}
}

func (r *rig) recorded(t *testing.T) []byte {
	t.Helper()
	data, err := afero.ReadFile(r.store.Fs(), DefaultFileName)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(data), wave.HeaderSize)
	return data[wave.HeaderSize:]
}

func ramp(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i)
	}
	return out
}

func TestRecordThenPlay_RoundTrip(t *testing.T) {
	const pages = 3
	r := newRig(t, pages, nil)

	r.press(input.ButtonRecord)
	require.Equal(t, Recording, r.c.State())
	assert.Equal(t, audio.LampRecording, r.lamp.Lit())

	r.run(pages*pageSize + 10)
	require.Equal(t, Stopped, r.c.State())
	assert.Equal(t, pages, r.c.Snapshot().PagesStored)
	assert.Equal(t, audio.LampStopped, r.lamp.Lit())

	f, err := wave.Open(r.store, DefaultFileName)
	require.NoError(t, err)
	assert.Equal(t, uint32(pages*pageSize), f.DataSize())
	assert.Equal(t, uint32(36+pages*pageSize), f.Header().ChunkSize)
	require.NoError(t, f.Close())
	assert.Equal(t, ramp(pages*pageSize), r.recorded(t))

	r.press(input.ButtonPlay)
	require.Equal(t, Playing, r.c.State())
	assert.Equal(t, audio.LampPlaying, r.lamp.Lit())

	r.run(2*pages*pageSize + 10)
	require.Equal(t, Stopped, r.c.State())

	require.Len(t, r.pwm.samples, pages*pageSize+1)
	assert.Equal(t, ramp(pages*pageSize), r.pwm.samples[:pages*pageSize])
	assert.Equal(t, byte(0), r.pwm.samples[pages*pageSize], "output zeroed at stop")
	assert.Equal(t, pages, r.c.Snapshot().PagesStored)
	assert.Zero(t, r.c.Snapshot().Overruns)
}

func TestRecord_BudgetOfOnePage(t *testing.T) {
	r := newRig(t, 1, nil)
	r.press(input.ButtonRecord)

	used := r.run(4 * pageSize)
	assert.Equal(t, pageSize, used)
	assert.Equal(t, Stopped, r.c.State())
	assert.Equal(t, sampler.ModeOff, r.s.Mode())
	assert.Equal(t, ramp(pageSize), r.recorded(t))
}

func TestRecord_ManualStopKeepsCurrentPage(t *testing.T) {
	r := newRig(t, DefaultPageBudget, nil)
	r.press(input.ButtonRecord)

	r.tick(2*pageSize + 100)
	require.Equal(t, 2, r.c.Snapshot().PagesStored)

	r.press(input.ButtonStop)
	assert.Equal(t, audio.LampStopped, r.lamp.Lit())
	assert.Equal(t, Recording, r.c.State(), "stop waits for the current page")

	r.run(pageSize)
	require.Equal(t, Stopped, r.c.State())
	assert.Equal(t, 3, r.c.Snapshot().PagesStored)
	assert.Equal(t, ramp(3*pageSize), r.recorded(t))
}

func TestRecord_StopWithPageQueued(t *testing.T) {
	r := newRig(t, DefaultPageBudget, nil)
	r.press(input.ButtonRecord)

	// First page full and not yet serviced.
	for i := 0; i < pageSize+50; i++ {
		r.s.Tick()
	}
	require.True(t, r.c.flow.pageReady.Load())

	r.press(input.ButtonStop)
	r.run(pageSize)
	require.Equal(t, Stopped, r.c.State())
	assert.Equal(t, 2, r.c.Snapshot().PagesStored)
	assert.Equal(t, ramp(2*pageSize), r.recorded(t))
}

func TestPlay_StopIsImmediate(t *testing.T) {
	r := newRig(t, 4, nil)
	r.press(input.ButtonRecord)
	r.run(8 * pageSize)
	require.Equal(t, Stopped, r.c.State())

	r.press(input.ButtonPlay)
	r.tick(100)
	r.press(input.ButtonStop)
	assert.Equal(t, Stopped, r.c.State())
	assert.Equal(t, sampler.ModeOff, r.s.Mode())
	assert.Equal(t, 1, r.pwm.idle)
}

func TestPlay_MissingFileStaysStopped(t *testing.T) {
	r := newRig(t, 4, nil)
	r.press(input.ButtonPlay)

	assert.Equal(t, Stopped, r.c.State())
	lines := r.console.Lines()
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "Storage open failed")
}

func TestPlay_EmptyFileStaysStopped(t *testing.T) {
	r := newRig(t, 4, nil)
	f, err := wave.Create(r.store, DefaultFileName, wave.DefaultFormat)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	r.press(input.ButtonPlay)
	assert.Equal(t, Stopped, r.c.State())
	assert.Equal(t, sampler.ModeOff, r.s.Mode())
	require.Len(t, r.console.Lines(), 1)
	assert.Contains(t, r.console.Lines()[0], "empty")
}

func TestPlay_ShortRecordingPadsWithSilence(t *testing.T) {
	r := newRig(t, 4, nil)
	f, err := wave.Create(r.store, DefaultFileName, wave.DefaultFormat)
	require.NoError(t, err)
	_, err = f.Write(ramp(100))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	r.press(input.ButtonPlay)
	r.run(4 * pageSize)
	require.Equal(t, Stopped, r.c.State())

	require.Len(t, r.pwm.samples, pageSize+1)
	assert.Equal(t, ramp(100), r.pwm.samples[:100])
	for _, b := range r.pwm.samples[100:pageSize] {
		require.Equal(t, audio.Silence, b)
	}
}

func TestInvalidState_ForcesIdleOnce(t *testing.T) {
	r := newRig(t, 4, nil)
	r.press(input.ButtonRecord)
	r.tick(10)

	before := len(r.console.Lines())
	r.c.flow.setState(State(7))
	r.c.Step(r.ctx)
	r.c.Step(r.ctx)

	lines := r.console.Lines()
	require.Len(t, lines, before+1, "exactly one diagnostic line")
	assert.Contains(t, lines[before], "invalid state 7")
	assert.Equal(t, Stopped, r.c.State())
	assert.Equal(t, sampler.ModeOff, r.s.Mode())
	assert.Equal(t, audio.LampStopped, r.lamp.Lit())
	assert.GreaterOrEqual(t, r.pwm.idle, 1)

	r.press(input.ButtonRecord)
	assert.Equal(t, Recording, r.c.State(), "controller recovers")
}

type failingFs struct {
	afero.Fs
}

func (f failingFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	file, err := f.Fs.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return failingFile{file}, nil
}

type failingFile struct {
	afero.File
}

var errDiskFull = errors.New("disk full")

func (f failingFile) Write(p []byte) (int, error) {
	if len(p) == pageSize {
		return 0, errDiskFull
	}
	return f.File.Write(p)
}

func TestRecord_StorageFailureIsBestEffort(t *testing.T) {
	r := newRig(t, 2, storage.NewDriver(failingFs{afero.NewMemMapFs()}))
	r.press(input.ButtonRecord)
	r.run(4 * pageSize)

	assert.Equal(t, Stopped, r.c.State())
	assert.Equal(t, 0, r.c.Snapshot().PagesStored)

	var failures int
	for _, l := range r.console.Lines() {
		if strings.Contains(l, "Storage write failed") {
			failures++
		}
	}
	assert.Equal(t, 2, failures)
}

// stallFs runs onWrite after the first page-sized write reaches storage.
type stallFs struct {
	afero.Fs
	onWrite *func()
}

func (f stallFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	file, err := f.Fs.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return &stallFile{File: file, onWrite: f.onWrite}, nil
}

type stallFile struct {
	afero.File
	onWrite *func()
	fired   bool
}

func (f *stallFile) Write(p []byte) (int, error) {
	n, err := f.File.Write(p)
	if len(p) == pageSize && !f.fired && *f.onWrite != nil {
		f.fired = true
		(*f.onWrite)()
	}
	return n, err
}

func TestRecord_PageFilledDuringWriteIsKept(t *testing.T) {
	onWrite := new(func())
	r := newRig(t, 4, storage.NewDriver(stallFs{Fs: afero.NewMemMapFs(), onWrite: onWrite}))
	*onWrite = func() {
		// The next page fills completely while the first is being stored.
		for i := 0; i < pageSize; i++ {
			r.s.Tick()
		}
	}

	r.press(input.ButtonRecord)
	r.run(8 * pageSize)

	require.Equal(t, Stopped, r.c.State())
	assert.Equal(t, 4, r.c.Snapshot().PagesStored)
	assert.Zero(t, r.c.Snapshot().Overruns)
	assert.Equal(t, ramp(4*pageSize), r.recorded(t))
}

func TestOverrun_IsCountedAndReported(t *testing.T) {
	r := newRig(t, DefaultPageBudget, nil)
	r.press(input.ButtonRecord)

	for i := 0; i < 2*pageSize; i++ {
		r.s.Tick()
	}
	r.c.Step(r.ctx)

	assert.Equal(t, 1, r.c.Snapshot().Overruns)
	var reported bool
	for _, l := range r.console.Lines() {
		reported = reported || strings.Contains(l, "overrun")
	}
	assert.True(t, reported)
}

func TestSnapshot_SessionIdentity(t *testing.T) {
	r := newRig(t, 4, nil)
	assert.Empty(t, r.c.Snapshot().SessionID)

	r.press(input.ButtonRecord)
	snap := r.c.Snapshot()
	assert.Equal(t, Recording, snap.State)
	assert.Equal(t, DefaultFileName, snap.FileName)
	assert.Equal(t, 4, snap.PagesRemaining)
	_, err := uuid.Parse(snap.SessionID)
	assert.NoError(t, err)
	assert.False(t, snap.StartedAt.IsZero())
}

func TestRun_RealTimeRecording(t *testing.T) {
	buf := buffer.New()
	keys := input.NewVirtualLines(input.DefaultHold)
	store := storage.NewMemDriver()
	c := New(Options{
		Buffer:       buf,
		Sampler:      sampler.New(buf, sampler.Options{SampleRate: 15625}),
		Storage:      store,
		Devices:      &audio.Devices{ADC: audio.SilenceADC{}, PWM: audio.NullPWM{}, Indicator: audio.NewLampIndicator()},
		Input:        input.NewPoller(keys),
		PageBudget:   4,
		PollInterval: time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	keys.Press(input.ButtonRecord)
	require.Eventually(t, func() bool {
		s := c.Snapshot()
		return s.State == Stopped && s.PagesStored == 4
	}, 5*time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	info, err := store.Stat(DefaultFileName)
	require.NoError(t, err)
	assert.Equal(t, int64(wave.HeaderSize+4*pageSize), info.Size())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "recording", Recording.String())
	assert.Equal(t, "invalid(9)", State(9).String())
	assert.False(t, State(3).Valid())
}
