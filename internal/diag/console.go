// Package diag provides the line-oriented diagnostic console. Messages are
// purely observational: nothing in the recorder branches on what was printed.
package diag

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Sink receives diagnostic lines.
type Sink interface {
	Printf(format string, args ...any)
}

// Console writes one line per message to an io.Writer and mirrors it to slog.
type Console struct {
	mu sync.Mutex
	w  io.Writer

	limiter *rate.Limiter
	dropped int
}

// NewConsole returns a console writing to w. A nil writer discards output but
// still logs.
func NewConsole(w io.Writer) *Console {
	if w == nil {
		w = io.Discard
	}
	return &Console{w: w}
}

// WithRateLimit caps the number of throttled lines (see Throttled) per
// interval. Regular Printf output is never limited.
func (c *Console) WithRateLimit(every time.Duration, burst int) *Console {
	if every > 0 && burst > 0 {
		c.limiter = rate.NewLimiter(rate.Every(every), burst)
	}
	return c
}

// Printf writes a single formatted line.
func (c *Console) Printf(format string, args ...any) {
	line := strings.TrimRight(fmt.Sprintf(format, args...), "\n")
	slog.Debug("console", "line", line)

	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w, line)
}

// Throttled writes a line unless the rate limit has been exhausted. Dropped
// lines are counted and summarised on the next line that gets through.
func (c *Console) Throttled(format string, args ...any) {
	if c.limiter != nil && !c.limiter.Allow() {
		c.mu.Lock()
		c.dropped++
		c.mu.Unlock()
		return
	}

	c.mu.Lock()
	dropped := c.dropped
	c.dropped = 0
	c.mu.Unlock()

	if dropped > 0 {
		c.Printf(format+" (%d similar suppressed)", append(args, dropped)...)
		return
	}
	c.Printf(format, args...)
}

// Recorder is a Sink that keeps every line in memory.
type Recorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *Recorder) Printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, fmt.Sprintf(format, args...))
}

// Lines returns a copy of the captured lines.
func (r *Recorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}
