// Package coordinator runs a polling callback on an interval and fans the
// result out to the entities that depend on it.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"sync"
	"time"

	logp "github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ErrNotReady is returned by FirstRefresh when the first update fails.
var ErrNotReady = errors.New("not ready")

// UpdateFailed is what an UpdateFunc returns for expected failures, which
// turn dependent entities unavailable until the next successful tick.
type UpdateFailed struct {
	Message string
	Err     error
}

func (e *UpdateFailed) Error() string {
	return e.Message
}

func (e *UpdateFailed) Unwrap() error {
	return e.Err
}

type UpdateFunc[T any] func(ctx context.Context) (T, error)

type Options[T any] struct {
	Name     string
	Interval time.Duration
	Update   UpdateFunc[T]

	// AlwaysUpdate notifies listeners on every successful tick, even when
	// the data did not change.
	AlwaysUpdate bool

	// Equal compares two snapshots when AlwaysUpdate is false.
	// Defaults to reflect.DeepEqual.
	Equal func(a, b T) bool

	Logger *logp.Logger
}

var (
	updatesCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "homekit_spc",
		Subsystem: "coordinator",
		Name:      "updates_total",
	}, []string{"name"})

	updateFailuresCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "homekit_spc",
		Subsystem: "coordinator",
		Name:      "update_failures_total",
	}, []string{"name"})

	updateDurationGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "homekit_spc",
		Subsystem: "coordinator",
		Name:      "last_update_duration_seconds",
	}, []string{"name"})
)

type Coordinator[T any] struct {
	opts Options[T]
	log  *logp.Logger

	// tick serializes updates.
	tick sync.Mutex

	mu        sync.RWMutex
	data      T
	hasData   bool
	success   bool
	lastErr   error
	listeners map[int]func()
	nextID    int
}

func New[T any](opts Options[T]) *Coordinator[T] {
	if opts.Equal == nil {
		opts.Equal = func(a, b T) bool {
			return reflect.DeepEqual(a, b)
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logp.NewWithOptions(os.Stderr, logp.Options{
			ReportTimestamp: true,
			TimeFormat:      time.Kitchen,
			Prefix:          "coordinator",
		})
	}
	return &Coordinator[T]{
		opts:      opts,
		log:       logger.With("name", opts.Name),
		listeners: map[int]func(){},
	}
}

func (c *Coordinator[T]) Name() string {
	return c.opts.Name
}

func (c *Coordinator[T]) Interval() time.Duration {
	return c.opts.Interval
}

// FirstRefresh runs the first update. Callers should abort their setup when
// it fails.
func (c *Coordinator[T]) FirstRefresh(ctx context.Context) error {
	if err := c.Refresh(ctx); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrNotReady, c.opts.Name, err)
	}
	return nil
}

// Refresh runs a single update and notifies listeners. The returned error
// is informational; the coordinator already recorded it.
func (c *Coordinator[T]) Refresh(ctx context.Context) error {
	c.tick.Lock()
	defer c.tick.Unlock()

	start := time.Now()
	updatesCounter.WithLabelValues(c.opts.Name).Inc()
	data, err := c.opts.Update(ctx)
	updateDurationGauge.WithLabelValues(c.opts.Name).Set(time.Since(start).Seconds())

	if err != nil {
		updateFailuresCounter.WithLabelValues(c.opts.Name).Inc()
		c.fail(err)
		return err
	}

	c.mu.Lock()
	changed := !c.hasData || !c.opts.Equal(c.data, data)
	recovered := !c.success && c.lastErr != nil
	c.data = data
	c.hasData = true
	c.success = true
	c.lastErr = nil
	c.mu.Unlock()

	if recovered {
		c.log.Info("fetching data recovered")
	}
	c.log.Debug("finished fetching data", "took", time.Since(start), "changed", changed)

	if changed || recovered || c.opts.AlwaysUpdate {
		c.notify()
	}
	return nil
}

func (c *Coordinator[T]) fail(err error) {
	c.mu.Lock()
	wasSuccess := c.success || c.lastErr == nil
	c.success = false
	c.lastErr = err
	c.mu.Unlock()

	// only log the first failure of a streak.
	if wasSuccess {
		var uf *UpdateFailed
		if errors.As(err, &uf) {
			c.log.Error("error fetching data", "err", err)
		} else {
			c.log.Error("unexpected error fetching data", "err", err)
		}
	}
	c.notify()
}

// Run refreshes on every interval until ctx is done.
func (c *Coordinator[T]) Run(ctx context.Context) {
	tick := time.NewTicker(c.opts.Interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			c.log.Debug("stopped")
			return
		case <-tick.C:
			_ = c.Refresh(ctx)
		}
	}
}

// Subscribe adds a listener called after every update that changed state.
// The returned func removes it.
func (c *Coordinator[T]) Subscribe(fn func()) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

func (c *Coordinator[T]) notify() {
	c.mu.RLock()
	listeners := make([]func(), 0, len(c.listeners))
	for _, fn := range c.listeners {
		listeners = append(listeners, fn)
	}
	c.mu.RUnlock()

	for _, fn := range listeners {
		fn()
	}
}

// Data returns the last successful snapshot.
func (c *Coordinator[T]) Data() T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.data
}

func (c *Coordinator[T]) LastUpdateSuccess() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.success
}

func (c *Coordinator[T]) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}
