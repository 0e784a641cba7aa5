package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/audiolibrelab/pagedvr/internal/service"
	"github.com/audiolibrelab/pagedvr/internal/session"
)

const (
	startTimeout = 2 * time.Second
	stopTimeout  = 5 * time.Second
)

// withService builds the recorder, runs its controller in the background and
// calls fn with a context that ends on Ctrl+C. Extra tasks (web server,
// keyboard) run alongside the controller.
func withService(parent context.Context, fn func(ctx context.Context, svc service.Service) error, tasks func(service.Service) []func(context.Context) error, opts ...service.Option) error {
	if parent == nil {
		parent = context.Background()
	}
	sigCtx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := service.New(cfg, opts...)
	if err != nil {
		return fmt.Errorf("failed to create recorder: %w", err)
	}
	defer svc.Close()

	var extra []func(context.Context) error
	if tasks != nil {
		extra = tasks(svc)
	}

	// A failing task ends the session as well.
	fnCtx, cancelFn := context.WithCancel(sigCtx)
	defer cancelFn()

	runCtx, cancelRun := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		err := svc.Run(runCtx, extra...)
		cancelFn()
		done <- err
	}()

	err = fn(fnCtx, svc)
	cancelRun()
	if runErr := <-done; runErr != nil {
		return runErr
	}
	return err
}

// executeStep runs one session to completion.
func executeStep(ctx context.Context, svc service.Service, step rune) error {
	prev := svc.Status().SessionID

	switch step {
	case 'r':
		if err := svc.Record(); err != nil {
			return fmt.Errorf("failed to start recording: %w", err)
		}
	case 'p':
		if err := svc.Play(); err != nil {
			return fmt.Errorf("failed to start playback: %w", err)
		}
	default:
		return fmt.Errorf("unknown pipeline step: '%c' (valid: r=record, p=play)", step)
	}

	if err := awaitSession(ctx, svc, prev); err != nil {
		return err
	}

	slog.Info("Session running - Press Ctrl+C to stop", "state", svc.Status().State)
	if err := svc.Await(ctx, session.Stopped); err != nil {
		if !errors.Is(err, context.Canceled) {
			return err
		}
		slog.Info("Stopping session...")
		if err := svc.Stop(); err != nil {
			return fmt.Errorf("failed to stop: %w", err)
		}
		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := svc.Await(stopCtx, session.Stopped); err != nil {
			return fmt.Errorf("session did not stop: %w", err)
		}
	}

	snap := svc.Status()
	slog.Info("Session completed", "session", snap.SessionID, "pages", snap.PagesStored, "overruns", snap.Overruns)
	return nil
}

// awaitSession waits for a session newer than prev to appear. Playback of
// an empty or missing file never starts.
func awaitSession(ctx context.Context, svc service.Service, prev string) error {
	ctx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if svc.Status().SessionID != prev {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("session did not start (see console output)")
		case <-ticker.C:
		}
	}
}

func executePipeline(ctx context.Context) error {
	return runSteps(ctx, []rune(strings.ToLower(pipeline)))
}

// executePipelineAfter runs the pipeline steps that follow startStep, for
// commands that already performed it.
func executePipelineAfter(startStep rune) error {
	if pipeline == "" {
		return nil
	}

	steps := []rune(strings.ToLower(pipeline))

	// Find the starting position in the pipeline
	startIndex := -1
	for i, step := range steps {
		if step == startStep {
			startIndex = i
			break
		}
	}

	if startIndex == -1 {
		return fmt.Errorf("step '%c' not found in pipeline '%s'", startStep, pipeline)
	}

	return runSteps(context.Background(), steps[startIndex+1:])
}

func runSteps(ctx context.Context, steps []rune) error {
	if len(steps) == 0 {
		return nil
	}
	return withService(ctx, func(ctx context.Context, svc service.Service) error {
		for i, step := range steps {
			fmt.Printf("Pipeline: executing step %d/%d: '%c'...\n", i+1, len(steps), step)
			if err := executeStep(ctx, svc, step); err != nil {
				return fmt.Errorf("pipeline step '%c' failed: %w", step, err)
			}
			if ctx.Err() != nil {
				return nil
			}
		}
		return nil
	}, nil)
}

func validatePipeline() error {
	if pipeline == "" {
		return nil
	}

	validSteps := map[rune]bool{
		'r': true, // record
		'p': true, // play
	}

	steps := []rune(strings.ToLower(pipeline))
	for _, step := range steps {
		if !validSteps[step] {
			return fmt.Errorf("invalid pipeline step: '%c' (valid: r=record, p=play)", step)
		}
	}

	return nil
}
