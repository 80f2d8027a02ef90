// Package execution carries progress reporting and cooperative cancellation
// through the phases of a join.
package execution

import (
	"context"
	"log/slog"
	"sync"

	"github.com/paveg/partjoin/internal/errors"
)

// Monitor receives progress updates.
type Monitor interface {
	// SetProgress receives a fraction in [0, 1].
	SetProgress(fraction float64)
	SetMessage(message string)
}

type nopMonitor struct{}

func (nopMonitor) SetProgress(float64) {}
func (nopMonitor) SetMessage(string)   {}

// LogMonitor reports progress through a slog logger, at most once per
// step of progress.
type LogMonitor struct {
	logger *slog.Logger
	step   float64
	last   float64
	mu     sync.Mutex
}

// NewLogMonitor creates a LogMonitor logging every step (e.g. 0.1 = 10%).
func NewLogMonitor(logger *slog.Logger, step float64) *LogMonitor {
	if logger == nil {
		logger = slog.Default()
	}
	if step <= 0 {
		step = 0.1
	}
	return &LogMonitor{logger: logger, step: step, last: -1}
}

// SetProgress implements Monitor.
func (m *LogMonitor) SetProgress(fraction float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last >= 0 && fraction < m.last+m.step && fraction < 1 {
		return
	}
	m.last = fraction
	m.logger.Info("progress", "percent", int(fraction*100))
}

// SetMessage implements Monitor.
func (m *LogMonitor) SetMessage(message string) {
	m.logger.Debug(message)
}

// Context binds a context.Context to a progress sub-range.
type Context struct {
	ctx     context.Context
	monitor Monitor
	lo, hi  float64
	last    *float64
}

// New creates a Context spanning the full progress range. A nil monitor
// discards progress.
func New(ctx context.Context, monitor Monitor) *Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if monitor == nil {
		monitor = nopMonitor{}
	}
	last := 0.0
	return &Context{ctx: ctx, monitor: monitor, lo: 0, hi: 1, last: &last}
}

// Background is New(context.Background(), nil).
func Background() *Context {
	return New(context.Background(), nil)
}

// Context returns the underlying context.
func (c *Context) Context() context.Context {
	return c.ctx
}

// CheckCanceled returns a canceled error once the context is done.
func (c *Context) CheckCanceled(op string) error {
	if err := c.ctx.Err(); err != nil {
		return errors.NewCanceledError(op, err)
	}
	return nil
}

// Sub returns a Context whose progress [0, 1] maps onto [from, to] of c.
func (c *Context) Sub(from, to float64) *Context {
	span := c.hi - c.lo
	return &Context{
		ctx:     c.ctx,
		monitor: c.monitor,
		lo:      c.lo + clamp(from)*span,
		hi:      c.lo + clamp(to)*span,
		last:    c.last,
	}
}

// SetProgress reports a fraction of this context's range. Reports that
// would move overall progress backwards are dropped.
func (c *Context) SetProgress(fraction float64) {
	overall := c.lo + clamp(fraction)*(c.hi-c.lo)
	if overall < *c.last {
		return
	}
	*c.last = overall
	c.monitor.SetProgress(overall)
}

// SetMessage forwards a status message.
func (c *Context) SetMessage(message string) {
	c.monitor.SetMessage(message)
}

// Progress returns the last overall fraction reported.
func (c *Context) Progress() float64 {
	return *c.last
}

func clamp(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return f
	}
}
