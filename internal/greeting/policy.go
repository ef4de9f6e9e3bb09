package greeting

import (
	"fmt"
	"math/rand/v2"
	"os"
	"strings"
	"sync/atomic"
)

// State is the greeting lifecycle for one participant session.
type State int32

const (
	NotStarted State = iota
	InFlight
	Completed
)

// Guard makes the initial greeting at-most-once per session. Audio and
// video subscription events race to greet; the compare-and-set lets
// exactly one caller through.
type Guard struct {
	state atomic.Int32
}

// TryStart transitions NotStarted -> InFlight. A false return means a
// greeting is already in flight or completed and the caller must no-op.
func (g *Guard) TryStart() bool {
	return g.state.CompareAndSwap(int32(NotStarted), int32(InFlight))
}

// Finish marks the greeting Completed regardless of its outcome. A failed
// greeting is not retried.
func (g *Guard) Finish() {
	g.state.Store(int32(Completed))
}

// State returns the current greeting state.
func (g *Guard) State() State {
	return State(g.state.Load())
}

// defaultGreetings is used when no greetings file is configured.
var defaultGreetings = []string{
	"Hello! How may I help you?",
	"Hey! What can I do for you today?",
	"Hi there, how can I assist you today?",
	"Hi! How can I help you today?",
	"Hi! What would you like help with?",
}

// Picker selects a random greeting from a configurable list.
type Picker struct {
	greetings []string
}

// NewPicker loads greetings from path, one per line. An empty path selects
// the built-in list; an unreadable file is an error.
func NewPicker(path string) (*Picker, error) {
	if path == "" {
		return &Picker{greetings: defaultGreetings}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read greetings file: %w", err)
	}

	var greetings []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			greetings = append(greetings, line)
		}
	}
	if len(greetings) == 0 {
		return nil, fmt.Errorf("greetings file %s is empty", path)
	}
	return &Picker{greetings: greetings}, nil
}

// Pick returns a random greeting.
func (p *Picker) Pick() string {
	return p.greetings[rand.IntN(len(p.greetings))]
}
