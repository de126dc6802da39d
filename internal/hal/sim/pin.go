package sim

import (
	"sync"

	"github.com/Iron-Ham/swarmbot/internal/hal"
)

// Pin is a recording output pin.
type Pin struct {
	name string

	mu       sync.Mutex
	level    hal.Level
	history  []hal.Level
	failNext error
	onChange []func(from, to hal.Level)
}

// NewPin returns a pin at Low.
func NewPin(name string) *Pin {
	return &Pin{name: name}
}

// Name implements hal.OutputPin.
func (p *Pin) Name() string { return p.name }

// Set implements hal.OutputPin. Listeners run synchronously after the
// level is recorded.
func (p *Pin) Set(l hal.Level) error {
	p.mu.Lock()
	if err := p.failNext; err != nil {
		p.failNext = nil
		p.mu.Unlock()
		return err
	}
	from := p.level
	p.level = l
	p.history = append(p.history, l)
	listeners := p.onChange
	p.mu.Unlock()

	for _, fn := range listeners {
		fn(from, l)
	}
	return nil
}

// Level returns the current level.
func (p *Pin) Level() hal.Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.level
}

// History returns every level written, in order.
func (p *Pin) History() []hal.Level {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]hal.Level(nil), p.history...)
}

// Writes returns the number of Set calls that succeeded.
func (p *Pin) Writes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.history)
}

// FailNext makes the next Set return err without changing the level.
func (p *Pin) FailNext(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext = err
}

// OnChange registers a listener called after every successful Set.
func (p *Pin) OnChange(fn func(from, to hal.Level)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onChange = append(p.onChange, fn)
}

// EchoInput is an edge input fed by Emit.
type EchoInput struct {
	name string

	mu     sync.Mutex
	fn     func(hal.Edge)
	closed bool
}

// NewEchoInput returns an unwatched echo line.
func NewEchoInput(name string) *EchoInput {
	return &EchoInput{name: name}
}

// Name implements hal.EdgeInput.
func (e *EchoInput) Name() string { return e.name }

// Watch implements hal.EdgeInput.
func (e *EchoInput) Watch(fn func(hal.Edge)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fn = fn
	return nil
}

// Close implements hal.EdgeInput.
func (e *EchoInput) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	e.fn = nil
	return nil
}

// Emit delivers an edge to the watcher, if any. It reports whether the
// edge was delivered.
func (e *EchoInput) Emit(edge hal.Edge) bool {
	e.mu.Lock()
	fn := e.fn
	e.mu.Unlock()
	if fn == nil {
		return false
	}
	fn(edge)
	return true
}
