package input

import "sync"

// DefaultHold is how many reads a virtual press stays down. It must exceed
// the three samples the debouncer needs to accept a change.
const DefaultHold = 4

// VirtualLines are buttons pressed by software, such as the HTTP remote or
// the terminal keys. A press holds the line down for a fixed number of reads
// and then releases it.
type VirtualLines struct {
	mu   sync.Mutex
	hold int
	down [3]int
}

// NewVirtualLines returns lines that hold each press for hold reads.
func NewVirtualLines(hold int) *VirtualLines {
	if hold < DefaultHold {
		hold = DefaultHold
	}
	return &VirtualLines{hold: hold}
}

// Press pushes the given buttons.
func (v *VirtualLines) Press(b Buttons) {
	v.mu.Lock()
	defer v.mu.Unlock()
	for i := range v.down {
		if b&(1<<i) != 0 {
			v.down[i] = v.hold
		}
	}
}

func (v *VirtualLines) Read() Buttons {
	v.mu.Lock()
	defer v.mu.Unlock()
	var b Buttons
	for i := range v.down {
		if v.down[i] > 0 {
			b |= 1 << i
			v.down[i]--
		}
	}
	return b
}
