package input

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/term"

	"github.com/audiolibrelab/pagedvr/internal/config"
)

const ctrlC = 0x03

// Keyboard maps terminal keys onto the push buttons. The terminal is put in
// raw mode so single key presses arrive without Enter.
type Keyboard struct {
	*VirtualLines

	keys map[byte]Buttons
	in   io.Reader
	quit chan struct{}

	fd       int
	oldState *term.State
	once     sync.Once
}

// NewKeyboard reads keys from in. When in is a terminal, Start switches it
// to raw mode.
func NewKeyboard(in io.Reader, km config.KeyMap, hold int) *Keyboard {
	keys := make(map[byte]Buttons, 3)
	for _, k := range []struct {
		key string
		b   Buttons
	}{{km.Play, ButtonPlay}, {km.Record, ButtonRecord}, {km.Stop, ButtonStop}} {
		if len(k.key) == 1 {
			keys[k.key[0]] = k.b
		}
	}
	return &Keyboard{
		VirtualLines: NewVirtualLines(hold),
		keys:         keys,
		in:           in,
		quit:         make(chan struct{}),
		fd:           -1,
	}
}

// Quit is closed when Ctrl+C or end of input is read. Raw mode swallows the
// interrupt signal, so callers watch this instead.
func (k *Keyboard) Quit() <-chan struct{} { return k.quit }

// Start enters raw mode (for terminals) and begins reading keys.
func (k *Keyboard) Start() error {
	if f, ok := k.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		k.fd = int(f.Fd())
		state, err := term.MakeRaw(k.fd)
		if err != nil {
			return fmt.Errorf("failed to set raw mode: %w", err)
		}
		k.oldState = state
	}

	go k.read()
	return nil
}

// Stop restores the terminal. A read blocked on input is abandoned.
func (k *Keyboard) Stop() {
	if k.oldState != nil {
		_ = term.Restore(k.fd, k.oldState)
		k.oldState = nil
	}
}

func (k *Keyboard) read() {
	buf := make([]byte, 1)
	for {
		n, err := k.in.Read(buf)
		if n > 0 {
			k.handle(buf[0])
		}
		if err != nil {
			if err != io.EOF {
				slog.Debug("Keyboard read failed", "error", err)
			}
			k.closeQuit()
			return
		}
	}
}

func (k *Keyboard) handle(key byte) {
	if key == ctrlC {
		k.closeQuit()
		return
	}
	if b, ok := k.keys[key]; ok {
		slog.Debug("Key pressed", "key", string(key), "button", b)
		k.Press(b)
	}
}

func (k *Keyboard) closeQuit() {
	k.once.Do(func() { close(k.quit) })
}
