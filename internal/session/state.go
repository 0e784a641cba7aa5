package session

import (
	"errors"
	"fmt"
	"sync/atomic"
)

// ErrBusy is returned when a session is requested while another is running.
var ErrBusy = errors.New("recorder busy")

// State is the controller's top-level mode.
type State uint8

const (
	Stopped State = iota
	Recording
	Playing
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Recording:
		return "recording"
	case Playing:
		return "playing"
	default:
		return fmt.Sprintf("invalid(%d)", uint8(s))
	}
}

// Valid reports whether s is one of the three defined states.
func (s State) Valid() bool { return s <= Playing }

// flow is the state shared between the trigger goroutine (through the buffer
// hooks) and the controller. pageReady and complete are set only by the
// hooks and cleared only by the controller, after it has finished with the
// page the flag announced.
type flow struct {
	state     atomic.Uint32
	pageCount atomic.Int32
	pageReady atomic.Bool
	complete  atomic.Bool
	overruns  atomic.Uint32

	pagesStored atomic.Int32
}

func (f *flow) State() State { return State(f.state.Load()) }

func (f *flow) setState(s State) { f.state.Store(uint32(s)) }

func (f *flow) reset(pages int) {
	f.pageCount.Store(int32(pages))
	f.pagesStored.Store(0)
	f.pageReady.Store(false)
	f.complete.Store(false)
	f.overruns.Store(0)
}

// countDown consumes one page of the budget and reports whether it was the
// last one.
func (f *flow) countDown() bool {
	return f.pageCount.Add(-1) <= 0
}

// raise sets flag and records an overrun when it was still set.
func (f *flow) raise(flag *atomic.Bool) {
	if flag.Swap(true) {
		f.overruns.Add(1)
	}
}

// truncate lowers the remaining budget to one page unless it is already at
// or below that.
func (f *flow) truncate() {
	for {
		n := f.pageCount.Load()
		if n <= 1 || f.pageCount.CompareAndSwap(n, 1) {
			return
		}
	}
}
