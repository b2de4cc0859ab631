// Package controller drives the charge limit tool and keeps the last
// known limit state. It owns no durable state: the firmware is the source
// of truth.
package controller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/charlie0129/fwlimit/pkg/events"
	"github.com/charlie0129/fwlimit/pkg/fwtool"
	"github.com/charlie0129/fwlimit/pkg/limit"
	"github.com/charlie0129/fwlimit/pkg/metrics"
)

// ErrBusy is returned when an operation overlaps another one on the same
// controller. No process is spawned for the rejected call.
var ErrBusy = errors.New("another charge limit operation is in progress")

// LimitTool reads and writes the firmware charge limit.
type LimitTool interface {
	GetMaximum(ctx context.Context) (int, error)
	SetMaximum(ctx context.Context, percent int) error
}

var _ LimitTool = &fwtool.Tool{}

// Result is delivered by the async operations.
type Result struct {
	State limit.State
	Err   error
}

type Option func(*Controller)

// WithEventHub publishes limit changes and failures to h.
func WithEventHub(h *events.Hub) Option {
	return func(c *Controller) { c.hub = h }
}

// WithRefreshBeforeToggle makes Toggle query the tool instead of trusting
// the last known state.
func WithRefreshBeforeToggle(refresh bool) Option {
	return func(c *Controller) { c.refreshBeforeToggle = refresh }
}

type Controller struct {
	tool                LimitTool
	hub                 *events.Hub
	refreshBeforeToggle bool

	// inFlight admits one tool invocation at a time.
	inFlight *semaphore.Weighted

	mu    sync.RWMutex
	state limit.State
	known bool
}

func New(tool LimitTool, opts ...Option) *Controller {
	c := &Controller{
		tool:     tool,
		inFlight: semaphore.NewWeighted(1),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SetRefreshBeforeToggle changes the toggle policy at runtime, e.g. on
// config reload.
func (c *Controller) SetRefreshBeforeToggle(refresh bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshBeforeToggle = refresh
}

// State returns the last known state. It is Standard until the tool
// reports otherwise.
func (c *Controller) State() limit.State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Known reports whether State has been confirmed by the tool.
func (c *Controller) Known() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.known
}

// Start runs the initial query. If it fails, the controller assumes
// Standard and keeps Known false.
func (c *Controller) Start(ctx context.Context) limit.State {
	s, err := c.QueryCurrentLimit(ctx)
	if err != nil {
		logrus.WithError(err).Warnf("initial charge limit query failed, assuming %s (%d%%)",
			limit.Standard, limit.StandardPercent)
		return c.State()
	}
	logrus.Infof("initial charge limit is %s (%d%%)", s, s.Percent())
	return s
}

// QueryCurrentLimit asks the tool for the current limit.
func (c *Controller) QueryCurrentLimit(ctx context.Context) (limit.State, error) {
	return c.do("query", func() (limit.State, error) {
		return c.query(ctx)
	})
}

// SetLimit makes the firmware enforce target. target must be Standard or
// Limited.
func (c *Controller) SetLimit(ctx context.Context, target limit.State) error {
	_, err := c.do("set", func() (limit.State, error) {
		return c.setLimit(ctx, target)
	})
	return err
}

// Toggle switches to the opposite of the current state and returns the new
// state. On failure the current state is returned unchanged.
func (c *Controller) Toggle(ctx context.Context) (limit.State, error) {
	return c.do("toggle", func() (limit.State, error) {
		return c.toggle(ctx)
	})
}

// QueryAsync is QueryCurrentLimit without blocking the caller.
func (c *Controller) QueryAsync(ctx context.Context) <-chan Result {
	return c.doAsync("query", func() (limit.State, error) {
		return c.query(ctx)
	})
}

// SetLimitAsync is SetLimit without blocking the caller.
func (c *Controller) SetLimitAsync(ctx context.Context, target limit.State) <-chan Result {
	return c.doAsync("set", func() (limit.State, error) {
		return c.setLimit(ctx, target)
	})
}

// ToggleAsync is Toggle without blocking the caller. The in-flight slot is
// taken before ToggleAsync returns, so a second call made before the first
// completes gets ErrBusy.
func (c *Controller) ToggleAsync(ctx context.Context) <-chan Result {
	return c.doAsync("toggle", func() (limit.State, error) {
		return c.toggle(ctx)
	})
}

func (c *Controller) do(op string, fn func() (limit.State, error)) (limit.State, error) {
	if !c.inFlight.TryAcquire(1) {
		logrus.WithField("op", op).Warn("rejected overlapping charge limit operation")
		metrics.RecordOperation(op, "busy", 0)
		return c.State(), ErrBusy
	}
	defer c.inFlight.Release(1)

	return c.finish(op, fn)
}

func (c *Controller) doAsync(op string, fn func() (limit.State, error)) <-chan Result {
	ch := make(chan Result, 1)
	if !c.inFlight.TryAcquire(1) {
		logrus.WithField("op", op).Warn("rejected overlapping charge limit operation")
		metrics.RecordOperation(op, "busy", 0)
		ch <- Result{State: c.State(), Err: ErrBusy}
		return ch
	}

	go func() {
		defer c.inFlight.Release(1)
		s, err := c.finish(op, fn)
		ch <- Result{State: s, Err: err}
	}()

	return ch
}

func (c *Controller) finish(op string, fn func() (limit.State, error)) (limit.State, error) {
	start := time.Now()
	s, err := fn()
	if err == nil {
		metrics.RecordOperation(op, metrics.ResultOK, time.Since(start))
		return s, nil
	}

	kind := fwtool.Kind(err)
	metrics.RecordOperation(op, kind, time.Since(start))
	logrus.WithFields(logrus.Fields{
		"op":   op,
		"kind": kind,
	}).WithError(err).Error("charge limit operation failed")
	c.hub.Publish(events.LimitError, events.LimitErrorEvent{
		Op:      op,
		Message: kind,
		Ts:      time.Now().Unix(),
	})
	return s, err
}

func (c *Controller) query(ctx context.Context) (limit.State, error) {
	n, err := c.tool.GetMaximum(ctx)
	if err != nil {
		return c.State(), err
	}
	s := limit.FromPercent(n)
	logrus.WithField("maximum", n).Debugf("tool reports %s", s)

	prev, wasKnown := c.update(s)
	if !wasKnown || prev != s {
		c.publishChanged(prev, s)
	}
	return s, nil
}

func (c *Controller) setLimit(ctx context.Context, target limit.State) (limit.State, error) {
	percent := target.Percent()
	if err := c.tool.SetMaximum(ctx, percent); err != nil {
		return c.State(), err
	}
	logrus.Infof("charge limit set to %d%%", percent)

	prev, _ := c.update(target)
	c.publishChanged(prev, target)
	return target, nil
}

func (c *Controller) toggle(ctx context.Context) (limit.State, error) {
	c.mu.RLock()
	current, refresh := c.state, c.refreshBeforeToggle
	c.mu.RUnlock()

	if refresh {
		s, err := c.query(ctx)
		if err != nil {
			return current, err
		}
		current = s
	}

	return c.setLimit(ctx, current.Opposite())
}

func (c *Controller) update(s limit.State) (prev limit.State, wasKnown bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev, wasKnown = c.state, c.known
	c.state, c.known = s, true
	metrics.SetChargeLimit(s.Percent())
	return prev, wasKnown
}

func (c *Controller) publishChanged(from, to limit.State) {
	c.hub.Publish(events.LimitChanged, events.LimitChangedEvent{
		From:    from.String(),
		To:      to.String(),
		Percent: to.Percent(),
		Ts:      time.Now().Unix(),
	})
}
