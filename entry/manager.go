package entry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	client "github.com/caarlos0/homekit-spc"
	"github.com/caarlos0/homekit-spc/coordinator"
	"github.com/cenkalti/backoff/v4"
)

var (
	ErrAlreadySetUp  = errors.New("entry already set up")
	ErrInvalidConfig = errors.New("invalid entry config")
)

// Platform receives the entities of a set up entry.
type Platform interface {
	Name() string
	Setup(ctx context.Context, rt *Runtime) error
	Unload(ctx context.Context, rt *Runtime) error
}

// Runtime is everything an entry owns while it is set up.
type Runtime struct {
	Entry       Entry
	Session     Session
	Coordinator *coordinator.Coordinator[Snapshot]
	Device      DeviceInfo

	cancel context.CancelFunc
	done   chan struct{}
}

func (rt *Runtime) start(ctx context.Context) {
	ctx, rt.cancel = context.WithCancel(context.WithoutCancel(ctx))
	rt.done = make(chan struct{})
	go func() {
		defer close(rt.done)
		rt.Coordinator.Run(ctx)
	}()
}

func (rt *Runtime) stop() {
	if rt.cancel == nil {
		return
	}
	rt.cancel()
	<-rt.done
}

// Manager owns the runtimes of all set up entries.
type Manager struct {
	newSession SessionFactory
	platforms  []Platform

	// lifecycle serializes Setup, Unload and Reload.
	lifecycle sync.Mutex

	mu      sync.RWMutex
	entries map[string]*Runtime
}

func NewManager(newSession SessionFactory, platforms ...Platform) *Manager {
	return &Manager{
		newSession: newSession,
		platforms:  platforms,
		entries:    map[string]*Runtime{},
	}
}

// Runtime returns the runtime of a set up entry.
func (m *Manager) Runtime(id string) (*Runtime, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rt, ok := m.entries[id]
	return rt, ok
}

// Setup logs in, runs the first refresh and forwards the entry to every
// platform. The runtime is stored only once all of that succeeded; on
// failure, loaded platforms are unloaded and the session is closed.
func (m *Manager) Setup(ctx context.Context, e Entry) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	return m.setup(ctx, e)
}

// SetupWithRetry retries Setup with exponential backoff until it succeeds,
// ctx is done, or the error is not recoverable (e.g. invalid credentials).
func (m *Manager) SetupWithRetry(ctx context.Context, e Entry) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxInterval = time.Minute
	bo.MaxElapsedTime = 0

	return backoff.RetryNotify(func() error {
		err := m.Setup(ctx, e)
		if err == nil {
			return nil
		}
		if client.KindOf(err) == client.KindAuth ||
			errors.Is(err, ErrInvalidConfig) ||
			errors.Is(err, ErrAlreadySetUp) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(bo, ctx), func(err error, d time.Duration) {
		log.Warn("entry not ready, retrying", "entry", e.ID, "in", d, "err", err)
	})
}

// Unload unloads every platform and, only if all of them succeed, closes
// the session and forgets the entry. It reports whether the entry was
// unloaded.
func (m *Manager) Unload(ctx context.Context, id string) bool {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	return m.unload(ctx, id)
}

// Reload unloads the entry and sets it up again, usually because its
// options changed.
func (m *Manager) Reload(ctx context.Context, e Entry) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	if _, ok := m.Runtime(e.ID); ok && !m.unload(ctx, e.ID) {
		return fmt.Errorf("could not unload %s", e.ID)
	}
	return m.setup(ctx, e)
}

// Close unloads all entries.
func (m *Manager) Close(ctx context.Context) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.mu.RLock()
	ids := make([]string, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		if !m.unload(ctx, id) {
			log.Error("could not unload entry", "entry", id)
		}
	}
}

func (m *Manager) setup(ctx context.Context, e Entry) error {
	if _, ok := m.Runtime(e.ID); ok {
		return fmt.Errorf("%w: %s", ErrAlreadySetUp, e.ID)
	}

	interval := e.PollInterval()
	session, err := m.newSession(e.Data)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	if err := session.Login(ctx); err != nil {
		closeSession(ctx, session)
		return fmt.Errorf("could not login: %w", err)
	}

	coord := coordinator.New(coordinator.Options[Snapshot]{
		Name:         CoordinatorName,
		Interval:     interval,
		Update:       newUpdateFunc(session),
		AlwaysUpdate: true,
		Logger:       log,
	})
	if err := coord.FirstRefresh(ctx); err != nil {
		closeSession(ctx, session)
		return err
	}

	rt := &Runtime{
		Entry:       e,
		Session:     session,
		Coordinator: coord,
		Device:      deviceInfoFor(session),
	}

	var loaded []Platform
	for _, p := range m.platforms {
		if err := p.Setup(ctx, rt); err != nil {
			for i := len(loaded) - 1; i >= 0; i-- {
				if err := loaded[i].Unload(ctx, rt); err != nil {
					log.Error("could not unload platform", "platform", loaded[i].Name(), "err", err)
				}
			}
			closeSession(ctx, session)
			return fmt.Errorf("could not set up %s platform: %w", p.Name(), err)
		}
		loaded = append(loaded, p)
	}

	rt.start(ctx)
	m.store(rt)
	log.Info(
		"entry set up",
		"entry", e.ID,
		"device", rt.Device.Name,
		"serial", rt.Device.SerialNumber,
		"interval", interval,
	)
	return nil
}

func (m *Manager) unload(ctx context.Context, id string) bool {
	rt, ok := m.Runtime(id)
	if !ok {
		return true
	}

	unloaded := true
	for _, p := range m.platforms {
		if err := p.Unload(ctx, rt); err != nil {
			log.Error("could not unload platform", "entry", id, "platform", p.Name(), "err", err)
			unloaded = false
		}
	}
	if !unloaded {
		return false
	}

	rt.stop()
	m.remove(id)
	closeSession(ctx, rt.Session)
	log.Info("entry unloaded", "entry", id)
	return true
}

func (m *Manager) store(rt *Runtime) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[rt.Entry.ID] = rt
}

func (m *Manager) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
}

func closeSession(ctx context.Context, s Session) {
	if err := s.Close(context.WithoutCancel(ctx)); err != nil {
		log.Error("could not close session", "err", err)
	}
}
