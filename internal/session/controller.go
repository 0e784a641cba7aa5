// Package session implements the recorder's state machine: it starts and
// stops sessions on button edges and moves whole pages between the buffer
// and storage when the trigger goroutine announces them.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/audiolibrelab/pagedvr/internal/audio"
	"github.com/audiolibrelab/pagedvr/internal/buffer"
	"github.com/audiolibrelab/pagedvr/internal/diag"
	"github.com/audiolibrelab/pagedvr/internal/input"
	"github.com/audiolibrelab/pagedvr/internal/metrics"
	"github.com/audiolibrelab/pagedvr/internal/sampler"
	"github.com/audiolibrelab/pagedvr/internal/storage"
	"github.com/audiolibrelab/pagedvr/internal/wave"
)

const (
	DefaultPageBudget   = 305
	DefaultFileName     = "EGB240.WAV"
	DefaultPollInterval = 10 * time.Millisecond
)

// Options wires a Controller to its collaborators. Buffer, Sampler, Storage
// and Devices are required.
type Options struct {
	Buffer  *buffer.Buffer
	Sampler *sampler.Sampler
	Storage *storage.Driver
	Devices *audio.Devices
	Input   *input.Poller
	Console diag.Sink
	Metrics *metrics.Metrics

	PageBudget   int
	FileName     string
	Format       wave.Format
	Divider      int
	PollInterval time.Duration
}

// Snapshot is a point-in-time view of the controller for status queries.
type Snapshot struct {
	State          State     `json:"state"`
	SessionID      string    `json:"session_id,omitempty"`
	FileName       string    `json:"file_name"`
	StartedAt      time.Time `json:"started_at,omitempty"`
	PagesStored    int       `json:"pages_stored"`
	PagesRemaining int       `json:"pages_remaining"`
	Overruns       int       `json:"overruns"`
}

// Controller is the main loop. Step and Run must be called from a single
// goroutine; Snapshot may be called from anywhere.
type Controller struct {
	buf     *buffer.Buffer
	sampler *sampler.Sampler
	store   *storage.Driver
	dev     *audio.Devices
	input   *input.Poller
	console diag.Sink
	metrics *metrics.Metrics

	budget   int
	fileName string
	format   wave.Format
	divider  int
	poll     time.Duration

	flow flow
	wake chan buffer.Event

	// Controller goroutine only.
	file      *wave.File
	remaining uint32 // playback bytes left in the data chunk
	reported  uint32 // overruns already reported this session

	mu        sync.Mutex
	sessionID string
	startedAt time.Time
}

// New builds a controller and binds the buffer hooks to it.
func New(opts Options) *Controller {
	if opts.Console == nil {
		opts.Console = diag.NewConsole(nil)
	}
	if opts.Input == nil {
		opts.Input = input.NewPoller(nil)
	}
	if opts.PageBudget <= 0 {
		opts.PageBudget = DefaultPageBudget
	}
	if opts.FileName == "" {
		opts.FileName = DefaultFileName
	}
	if opts.Format == (wave.Format{}) {
		opts.Format = wave.DefaultFormat
	}
	if opts.Divider <= 0 {
		opts.Divider = 2
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}

	c := &Controller{
		buf:      opts.Buffer,
		sampler:  opts.Sampler,
		store:    opts.Storage,
		dev:      opts.Devices,
		input:    opts.Input,
		console:  opts.Console,
		metrics:  opts.Metrics,
		budget:   opts.PageBudget,
		fileName: opts.FileName,
		format:   opts.Format,
		divider:  opts.Divider,
		poll:     opts.PollInterval,
		wake:     make(chan buffer.Event, 1),
	}
	c.buf.Init(c.onPageFull, c.onPageEmpty)
	c.dev.Indicator.Show(audio.LampStopped)
	c.metrics.SetState(uint8(Stopped))
	return c
}

// State reports the current state.
func (c *Controller) State() State { return c.flow.State() }

// Snapshot returns the current status.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	remaining := int(c.flow.pageCount.Load())
	if remaining < 0 {
		remaining = 0
	}
	return Snapshot{
		State:          c.flow.State(),
		SessionID:      c.sessionID,
		FileName:       c.fileName,
		StartedAt:      c.startedAt,
		PagesStored:    int(c.flow.pagesStored.Load()),
		PagesRemaining: remaining,
		Overruns:       int(c.flow.overruns.Load()),
	}
}

// Run steps the controller until ctx is cancelled. It wakes on buffer
// notifications and at least once per poll interval to sample the buttons.
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	slog.Info("Controller running", "poll", c.poll, "budget", c.budget, "file", c.fileName)
	for {
		c.Step(ctx)
		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()
		case ev := <-c.wake:
			slog.Debug("Controller woken", "event", ev)
		case <-ticker.C:
		}
	}
}

// Step runs one main-loop iteration: it samples the buttons and services any
// pending page.
func (c *Controller) Step(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	pressed := c.input.Poll()
	if pressed != 0 {
		slog.Debug("Buttons pressed", "buttons", pressed, "state", c.State())
	}

	switch st := c.flow.State(); st {
	case Stopped:
		switch {
		case pressed.Has(input.ButtonPlay):
			c.startPlayback()
		case pressed.Has(input.ButtonRecord):
			c.startRecording()
		}
	case Recording:
		if pressed.Has(input.ButtonStop) {
			c.dev.Indicator.Show(audio.LampStopped)
			c.flow.truncate()
		}
		c.serviceRecording()
	case Playing:
		c.servicePlayback(pressed.Has(input.ButtonStop))
	default:
		c.recoverInvalid(st)
	}
	c.reportOverruns()
}

func (c *Controller) onPageFull() {
	if c.flow.countDown() {
		c.sampler.Halt()
		c.flow.raise(&c.flow.complete)
	} else {
		c.flow.raise(&c.flow.pageReady)
	}
	c.notify(buffer.EventPageFull)
}

func (c *Controller) onPageEmpty() {
	if c.flow.countDown() {
		c.sampler.Halt()
		c.flow.raise(&c.flow.complete)
	} else {
		c.flow.raise(&c.flow.pageReady)
	}
	c.notify(buffer.EventPageEmpty)
}

func (c *Controller) notify(ev buffer.Event) {
	select {
	case c.wake <- ev:
	default:
	}
}

func (c *Controller) startRecording() {
	file, err := wave.Create(c.store, c.fileName, c.format)
	if err != nil {
		c.storageFailed("create", err)
		if file == nil {
			return
		}
	}

	c.buf.Reset()
	c.flow.reset(c.budget)
	c.file = file
	c.begin(Recording, "record")
	c.dev.Indicator.Show(audio.LampRecording)
	c.console.Printf("Recording to %s...", c.fileName)
	c.sampler.StartCapture(c.dev.ADC)
}

func (c *Controller) serviceRecording() {
	// Acknowledge before the transfer; a page that fills during the write
	// raises the flag again.
	if c.flow.pageReady.Swap(false) {
		c.storePage()
	}
	if c.flow.complete.Swap(false) {
		c.storePage()
		c.sampler.Stop()
		c.finish()
	}
}

func (c *Controller) storePage() {
	page := c.buf.ReadPage()
	if _, err := c.file.Write(page); err != nil {
		c.storageFailed("write", err)
		return
	}
	c.flow.pagesStored.Add(1)
	c.metrics.PageWritten()
}

func (c *Controller) startPlayback() {
	file, err := wave.Open(c.store, c.fileName)
	if file == nil {
		c.storageFailed("open", err)
		return
	}
	if err != nil {
		slog.Debug("Unreadable header, treating recording as empty", "file", c.fileName, "error", err)
	}

	size := file.DataSize()
	pageSize := uint32(c.buf.PageSize())
	pages := int((size + pageSize - 1) / pageSize)
	if pages == 0 {
		if err := file.Close(); err != nil {
			c.storageFailed("close", err)
		}
		c.console.Printf("Nothing to play: %s is empty", c.fileName)
		return
	}

	c.buf.Reset()
	c.flow.reset(pages)
	c.file = file
	c.remaining = size
	c.begin(Playing, "play")
	c.dev.Indicator.Show(audio.LampPlaying)
	c.console.Printf("Playing %s (%d pages)...", c.fileName, pages)

	// Both pages are loaded before the first sample is emitted.
	for i := 0; i < buffer.Pages; i++ {
		c.loadPage()
	}
	c.sampler.StartEmit(c.dev.PWM, c.divider)
}

func (c *Controller) servicePlayback(stop bool) {
	complete := c.flow.complete.Load()
	if !complete && !stop && c.flow.pageReady.Swap(false) {
		c.loadPage()
	}
	if complete || stop {
		c.sampler.Stop()
		c.flow.complete.Store(false)
		c.flow.pageReady.Store(false)
		c.finish()
	}
}

// loadPage fills the next page from the data chunk. Anything past the end of
// the recording is silence.
func (c *Controller) loadPage() {
	page := c.buf.WritePage()
	want := uint32(len(page))
	if c.remaining < want {
		want = c.remaining
	}

	n := 0
	if want > 0 {
		var err error
		n, err = c.file.Read(page[:want])
		if err != nil && !errors.Is(err, io.EOF) {
			c.storageFailed("read", err)
		}
		c.remaining -= uint32(n)
		if n > 0 {
			c.flow.pagesStored.Add(1)
			c.metrics.PageRead()
		}
	}
	for i := n; i < len(page); i++ {
		page[i] = audio.Silence
	}
}

func (c *Controller) begin(st State, kind string) {
	c.mu.Lock()
	c.sessionID = uuid.NewString()
	c.startedAt = time.Now()
	id := c.sessionID
	c.mu.Unlock()

	c.reported = 0
	c.flow.setState(st)
	c.metrics.SetState(uint8(st))
	c.metrics.SessionStarted(kind)
	slog.Info("Session started", "kind", kind, "session", id, "file", c.fileName, "pages", c.flow.pageCount.Load())
}

// finish closes the file and returns to Stopped. The sampler must already be
// stopped.
func (c *Controller) finish() {
	if c.file != nil {
		if err := c.file.Close(); err != nil {
			c.storageFailed("close", err)
		}
		c.file = nil
	}
	stored := c.flow.pagesStored.Load()
	c.flow.setState(Stopped)
	c.metrics.SetState(uint8(Stopped))
	c.dev.Indicator.Show(audio.LampStopped)
	c.console.Printf("Done (%d pages)", stored)
	slog.Info("Session finished", "pages", stored, "overruns", c.flow.overruns.Load())
}

// recoverInvalid forces the idle configuration after an undefined state.
func (c *Controller) recoverInvalid(st State) {
	c.console.Printf("ERROR: controller entered invalid state %d, stopping", uint8(st))
	c.sampler.Stop()
	c.dev.PWM.Idle()
	if c.file != nil {
		if err := c.file.Close(); err != nil {
			slog.Error("Failed to close file after invalid state", "error", err)
		}
		c.file = nil
	}
	c.flow.pageReady.Store(false)
	c.flow.complete.Store(false)
	c.flow.setState(Stopped)
	c.metrics.SetState(uint8(Stopped))
	c.dev.Indicator.Show(audio.LampStopped)
}

// shutdown ends any running session when the loop exits.
func (c *Controller) shutdown() {
	if c.State() == Stopped {
		return
	}
	c.sampler.Stop()
	c.finish()
}

func (c *Controller) storageFailed(op string, err error) {
	c.metrics.StorageError(op)
	c.console.Printf("Storage %s failed: %v", op, err)
	slog.Error("Storage operation failed", "op", op, "file", c.fileName, "error", err)
}

type throttled interface {
	Throttled(format string, args ...any)
}

func (c *Controller) reportOverruns() {
	total := c.flow.overruns.Load()
	if total == c.reported {
		return
	}
	fresh := total - c.reported
	c.reported = total
	for i := uint32(0); i < fresh; i++ {
		c.metrics.Overrun()
	}
	msg := fmt.Sprintf("Page overrun (%d this session)", total)
	if t, ok := c.console.(throttled); ok {
		t.Throttled("%s", msg)
		return
	}
	c.console.Printf("%s", msg)
}
