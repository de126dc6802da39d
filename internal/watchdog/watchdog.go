package watchdog

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Iron-Ham/swarmbot/internal/event"
	"github.com/Iron-Ham/swarmbot/internal/logging"
)

// DefaultExitCode is the process status used by ExitOnExpiry callers that
// do not configure one.
const DefaultExitCode = 3

// ExpiryFunc is called once for each guard that expires.
type ExpiryFunc func(op string, budget time.Duration)

// Watchdog hands out guards for blocking operations.
type Watchdog struct {
	grace    time.Duration
	onExpire ExpiryFunc
	logger   *logging.Logger
	bus      *event.Bus

	active  atomic.Int64
	expired atomic.Uint64
}

// Option configures a Watchdog.
type Option func(*Watchdog)

// WithGrace sets the slack added to every budget (default 250ms).
func WithGrace(d time.Duration) Option {
	return func(w *Watchdog) { w.grace = d }
}

// WithExpiry replaces the expiry action. The default exits the process
// with DefaultExitCode.
func WithExpiry(fn ExpiryFunc) Option {
	return func(w *Watchdog) { w.onExpire = fn }
}

// WithLogger sets the logger used to report expiries.
func WithLogger(l *logging.Logger) Option {
	return func(w *Watchdog) { w.logger = l }
}

// WithBus publishes watchdog.expired events on bus.
func WithBus(bus *event.Bus) Option {
	return func(w *Watchdog) { w.bus = bus }
}

// New creates a Watchdog.
func New(opts ...Option) *Watchdog {
	w := &Watchdog{grace: 250 * time.Millisecond}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = logging.NopLogger()
	}
	w.logger = w.logger.WithComponent("watchdog")
	if w.onExpire == nil {
		w.onExpire = ExitOnExpiry(DefaultExitCode)
	}
	return w
}

// Guard starts supervising op. The returned function must be called when
// op finishes; calling it more than once is harmless. A nil Watchdog
// returns a no-op.
func (w *Watchdog) Guard(op string, budget time.Duration) (done func()) {
	if w == nil {
		return func() {}
	}
	w.active.Add(1)
	var once sync.Once
	timer := time.AfterFunc(budget+w.grace, func() {
		once.Do(func() {
			w.active.Add(-1)
			w.expired.Add(1)
			w.logger.Error("blocking operation overran its budget",
				"op", op,
				"budget", budget.String(),
				"grace", w.grace.String(),
			)
			w.bus.Publish(event.NewWatchdogExpiredEvent(op, budget))
			w.onExpire(op, budget)
		})
	})
	return func() {
		once.Do(func() {
			timer.Stop()
			w.active.Add(-1)
		})
	}
}

// Active returns the number of guards not yet released or expired.
func (w *Watchdog) Active() int { return int(w.active.Load()) }

// Expired returns the number of guards that expired.
func (w *Watchdog) Expired() uint64 { return w.expired.Load() }

// ExitOnExpiry terminates the process with code so a service manager can
// restart it.
func ExitOnExpiry(code int) ExpiryFunc {
	return func(string, time.Duration) {
		os.Exit(code)
	}
}
