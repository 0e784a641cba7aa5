package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/audiolibrelab/pagedvr/internal/audio"
	"github.com/audiolibrelab/pagedvr/internal/buffer"
	"github.com/audiolibrelab/pagedvr/internal/config"
	"github.com/audiolibrelab/pagedvr/internal/diag"
	"github.com/audiolibrelab/pagedvr/internal/input"
	"github.com/audiolibrelab/pagedvr/internal/metrics"
	"github.com/audiolibrelab/pagedvr/internal/sampler"
	"github.com/audiolibrelab/pagedvr/internal/session"
	"github.com/audiolibrelab/pagedvr/internal/storage"
	"github.com/audiolibrelab/pagedvr/internal/wave"
)

// Service represents the recorder operations offered to the CLI and the
// HTTP remote.
type Service interface {
	// Session operations
	Record() error
	Play() error
	Stop() error
	Status() session.Snapshot
	Await(ctx context.Context, state session.State) error

	// Configuration operations
	GetConfig() *config.Config

	// Information operations
	GetLastError() string
	ListRecordings() ([]RecordingInfo, error)
	Inspect(name string) (*wave.Info, error)
	OpenRecording(name string) (afero.File, os.FileInfo, error)
	Registry() *prometheus.Registry

	// Run drives the recorder until ctx is cancelled or a task fails.
	Run(ctx context.Context, tasks ...func(context.Context) error) error
	Close() error
}

// RecordingInfo describes one file in the storage directory.
type RecordingInfo struct {
	Name         string    `json:"name"`
	Size         int64     `json:"size"`
	SizeHuman    string    `json:"size_human"`
	ModTime      time.Time `json:"mod_time"`
	ModTimeHuman string    `json:"mod_time_human"`
	IsCurrent    bool      `json:"is_current"`
	DownloadURL  string    `json:"download_url"`
}

// Option customises the collaborators of a RecorderService.
type Option func(*options)

type options struct {
	storage *storage.Driver
	devices *audio.Devices
	console io.Writer
	lines   []input.Lines
}

// WithStorage replaces the storage directory from configuration.
func WithStorage(d *storage.Driver) Option {
	return func(o *options) { o.storage = d }
}

// WithDevices replaces the configured audio backends.
func WithDevices(d *audio.Devices) Option {
	return func(o *options) { o.devices = d }
}

// WithConsole sets where diagnostic lines are printed.
func WithConsole(w io.Writer) Option {
	return func(o *options) { o.console = w }
}

// WithLines adds button sources such as the terminal keyboard.
func WithLines(lines ...input.Lines) Option {
	return func(o *options) { o.lines = append(o.lines, lines...) }
}

// RecorderService is the main service implementation.
type RecorderService struct {
	cfg        *config.Config
	store      *storage.Driver
	devices    *audio.Devices
	controller *session.Controller
	buttons    *input.VirtualLines
	registry   *prometheus.Registry

	// Error tracking
	lastError      string
	lastErrorMutex sync.RWMutex
}

// New wires a recorder from configuration.
func New(cfg *config.Config, opts ...Option) (*RecorderService, error) {
	o := options{console: os.Stdout}
	for _, opt := range opts {
		opt(&o)
	}

	if o.storage == nil {
		d, err := storage.Mount(cfg.Storage.Directory)
		if err != nil {
			return nil, err
		}
		o.storage = d
	}
	if o.devices == nil {
		d, err := audio.NewDevices(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open audio devices: %w", err)
		}
		o.devices = d
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	bufOpts := []buffer.Option{buffer.WithPageSize(cfg.Buffer.PageSize)}
	if cfg.Buffer.StrictAlignment {
		bufOpts = append(bufOpts, buffer.WithStrictAlignment())
	}
	buf := buffer.New(bufOpts...)

	buttons := input.NewVirtualLines(input.DefaultHold)
	lines := append([]input.Lines{buttons}, o.lines...)

	console := diag.NewConsole(o.console).WithRateLimit(cfg.Diag.OverrunInterval, cfg.Diag.OverrunBurst)

	controller := session.New(session.Options{
		Buffer:  buf,
		Sampler: sampler.New(buf, sampler.Options{SampleRate: cfg.Audio.SampleRate, Quantum: cfg.Audio.Quantum}),
		Storage: o.storage,
		Devices: o.devices,
		Input:   input.NewPoller(input.Merge(lines...)),
		Console: console,
		Metrics: metrics.NewWithPrefix(registry),

		PageBudget: cfg.Session.PageBudget,
		FileName:   cfg.Session.FileName,
		Format: wave.Format{
			SampleRate:    uint32(cfg.Audio.SampleRate),
			BitsPerSample: uint16(cfg.Audio.BitsPerSample),
			Channels:      uint16(cfg.Audio.Channels),
		},
		Divider:      cfg.Audio.PlaybackDivider,
		PollInterval: cfg.Input.PollInterval,
	})

	return &RecorderService{
		cfg:        cfg,
		store:      o.storage,
		devices:    o.devices,
		controller: controller,
		buttons:    buttons,
		registry:   registry,
	}, nil
}

// Record presses the record button. It fails with session.ErrBusy unless the
// recorder is stopped.
func (s *RecorderService) Record() error {
	return s.start(input.ButtonRecord)
}

// Play presses the play button. It fails with session.ErrBusy unless the
// recorder is stopped.
func (s *RecorderService) Play() error {
	return s.start(input.ButtonPlay)
}

func (s *RecorderService) start(b input.Buttons) error {
	if st := s.controller.State(); st != session.Stopped {
		err := fmt.Errorf("cannot %s while %s: %w", b, st, session.ErrBusy)
		s.setLastError(err.Error())
		return err
	}
	slog.Debug("Service button press", "button", b)
	s.clearLastError()
	s.buttons.Press(b)
	return nil
}

// Stop presses the stop button. Stopping an idle recorder is a no-op.
func (s *RecorderService) Stop() error {
	if s.controller.State() == session.Stopped {
		return nil
	}
	s.buttons.Press(input.ButtonStop)
	return nil
}

// Status returns the controller snapshot.
func (s *RecorderService) Status() session.Snapshot {
	return s.controller.Snapshot()
}

// Await blocks until the controller reports state or ctx ends.
func (s *RecorderService) Await(ctx context.Context, state session.State) error {
	ticker := time.NewTicker(s.cfg.Input.PollInterval)
	defer ticker.Stop()
	for {
		if s.controller.State() == state {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// GetConfig returns the current configuration
func (s *RecorderService) GetConfig() *config.Config {
	return s.cfg
}

// Registry exposes the metrics registry for the /metrics endpoint.
func (s *RecorderService) Registry() *prometheus.Registry {
	return s.registry
}

// Run starts the controller loop and any extra tasks. The first task to fail
// cancels the rest.
func (s *RecorderService) Run(ctx context.Context, tasks ...func(context.Context) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := s.controller.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	for _, task := range tasks {
		task := task
		g.Go(func() error { return task(ctx) })
	}
	return g.Wait()
}

// Close releases the audio output.
func (s *RecorderService) Close() error {
	return s.devices.Close()
}

// ListRecordings returns the WAVE files in the storage directory, newest
// first.
func (s *RecorderService) ListRecordings() ([]RecordingInfo, error) {
	entries, err := afero.ReadDir(s.store.Fs(), "/")
	if err != nil {
		return nil, fmt.Errorf("failed to read storage directory: %w", err)
	}

	var recordings []RecordingInfo
	for _, info := range entries {
		if info.IsDir() || !strings.EqualFold(filepath.Ext(info.Name()), ".wav") {
			continue
		}
		recordings = append(recordings, RecordingInfo{
			Name:         info.Name(),
			Size:         info.Size(),
			SizeHuman:    formatBytes(info.Size()),
			ModTime:      info.ModTime(),
			ModTimeHuman: info.ModTime().Format("2006-01-02 15:04:05"),
			IsCurrent:    info.Name() == s.cfg.Session.FileName,
			DownloadURL:  fmt.Sprintf("/api/files/download/%s", info.Name()),
		})
	}

	sort.Slice(recordings, func(i, j int) bool {
		return recordings[i].ModTime.After(recordings[j].ModTime)
	})
	return recordings, nil
}

// Inspect decodes a recording's header. An empty name means the session file.
func (s *RecorderService) Inspect(name string) (*wave.Info, error) {
	if name == "" {
		name = s.cfg.Session.FileName
	}
	if err := checkName(name); err != nil {
		return nil, err
	}
	return wave.Inspect(s.store.Fs(), name, s.cfg.Buffer.PageSize)
}

// OpenRecording opens a recording for streaming. The caller closes the file.
func (s *RecorderService) OpenRecording(name string) (afero.File, os.FileInfo, error) {
	if err := checkName(name); err != nil {
		return nil, nil, err
	}
	f, err := s.store.Fs().Open(name)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open recording: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("failed to stat recording: %w", err)
	}
	if info.IsDir() {
		f.Close()
		return nil, nil, fmt.Errorf("%s is a directory", name)
	}
	return f, info, nil
}

// GetLastError returns the last error message (thread-safe)
func (s *RecorderService) GetLastError() string {
	s.lastErrorMutex.RLock()
	defer s.lastErrorMutex.RUnlock()
	return s.lastError
}

// setLastError sets the last error message (thread-safe)
func (s *RecorderService) setLastError(err string) {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = err

	slog.Error("Service error occurred", "error_message", err)
}

// clearLastError clears the last error message (thread-safe)
func (s *RecorderService) clearLastError() {
	s.lastErrorMutex.Lock()
	defer s.lastErrorMutex.Unlock()
	s.lastError = ""
}

func checkName(name string) error {
	if name == "" || filepath.Base(name) != name || strings.HasPrefix(name, ".") {
		return fmt.Errorf("invalid recording name: %q", name)
	}
	return nil
}

// formatBytes formats bytes in human readable format
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
