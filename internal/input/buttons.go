// Package input turns raw push-button levels into debounced rising edges.
//
// The debouncer is a two-bit vertical counter across all buttons at once: a
// button changes its debounced level only after its raw level has disagreed
// with the debounced level on three consecutive samples.
package input

import "strings"

// Buttons is a bit set of push buttons.
type Buttons uint8

const (
	ButtonPlay Buttons = 1 << iota
	ButtonRecord
	ButtonStop
)

// Has reports whether every button in b is also in set.
func (set Buttons) Has(b Buttons) bool { return set&b == b && b != 0 }

func (set Buttons) String() string {
	if set == 0 {
		return "none"
	}
	var names []string
	for _, n := range []struct {
		b    Buttons
		name string
	}{{ButtonPlay, "play"}, {ButtonRecord, "record"}, {ButtonStop, "stop"}} {
		if set&n.b != 0 {
			names = append(names, n.name)
		}
	}
	return strings.Join(names, "+")
}

// ParseButton maps a button name to its bit.
func ParseButton(name string) (Buttons, bool) {
	switch strings.ToLower(name) {
	case "play":
		return ButtonPlay, true
	case "record":
		return ButtonRecord, true
	case "stop":
		return ButtonStop, true
	}
	return 0, false
}

// Lines reports the raw, undebounced button levels.
type Lines interface {
	Read() Buttons
}

// Debouncer filters contact bounce.
type Debouncer struct {
	debounced Buttons
	reg1      Buttons
	reg2      Buttons
}

// Update feeds one raw sample and returns the debounced levels.
func (d *Debouncer) Update(raw Buttons) Buttons {
	delta := raw ^ d.debounced
	d.debounced ^= d.reg2 & delta
	d.reg2 = d.reg1 & delta
	d.reg1 = delta
	return d.debounced
}

// Level returns the current debounced levels.
func (d *Debouncer) Level() Buttons { return d.debounced }

// EdgeDetector reports buttons that went from released to pressed.
type EdgeDetector struct {
	prev Buttons
}

// Rising returns the buttons pressed in level but not in the previous call.
func (e *EdgeDetector) Rising(level Buttons) Buttons {
	rise := level & (level ^ e.prev)
	e.prev = level
	return rise
}

// Poller samples Lines, debounces them and yields rising edges. It is used
// from the controller goroutine only.
type Poller struct {
	lines Lines
	deb   Debouncer
	edges EdgeDetector
}

// NewPoller wraps lines. A nil Lines reads as nothing pressed.
func NewPoller(lines Lines) *Poller {
	if lines == nil {
		lines = Idle{}
	}
	return &Poller{lines: lines}
}

// Poll takes one sample and returns the buttons that were just pressed.
func (p *Poller) Poll() Buttons {
	return p.edges.Rising(p.deb.Update(p.lines.Read()))
}

// Idle is Lines with nothing ever pressed.
type Idle struct{}

func (Idle) Read() Buttons { return 0 }

// Merge ORs several sources together.
func Merge(lines ...Lines) Lines {
	return merged(lines)
}

type merged []Lines

func (m merged) Read() Buttons {
	var b Buttons
	for _, l := range m {
		if l != nil {
			b |= l.Read()
		}
	}
	return b
}
