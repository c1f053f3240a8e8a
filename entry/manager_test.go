package entry

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	client "github.com/caarlos0/homekit-spc"
	"github.com/caarlos0/homekit-spc/coordinator"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	mu       sync.Mutex
	loginErr error
	armErr   error
	zonesErr error
	state    client.ArmState
	zones    []client.Zone
	site     string
	model    string
	serial   string
	firmware string
	logins   int
	closed   int
}

func (s *fakeSession) Login(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logins++
	return s.loginErr
}

func (s *fakeSession) ArmState(context.Context) (client.ArmState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.armErr
}

func (s *fakeSession) Zones(context.Context) ([]client.Zone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.zones, s.zonesErr
}

func (s *fakeSession) SerialNumber() string { return s.serial }
func (s *fakeSession) Site() string         { return s.site }
func (s *fakeSession) Model() string        { return s.model }
func (s *fakeSession) Firmware() string     { return s.firmware }

func (s *fakeSession) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeSession) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakePlatform struct {
	name      string
	setupErr  error
	unloadErr error
	setups    int
	unloads   int
}

func (p *fakePlatform) Name() string { return p.name }

func (p *fakePlatform) Setup(context.Context, *Runtime) error {
	p.setups++
	return p.setupErr
}

func (p *fakePlatform) Unload(context.Context, *Runtime) error {
	p.unloads++
	return p.unloadErr
}

func newTestSession() *fakeSession {
	return &fakeSession{
		state:    client.ArmStateFullSet,
		zones:    []client.Zone{{ID: 1, Name: "Door"}, {ID: 2, Name: "PIR"}},
		site:     "Home",
		model:    "SPC4320",
		serial:   "1234",
		firmware: "3.8.5",
	}
}

func factoryFor(sessions ...*fakeSession) (SessionFactory, *int) {
	var created int
	return func(Data) (Session, error) {
		s := sessions[created]
		created++
		return s, nil
	}, &created
}

var testEntry = Entry{
	ID: "panel",
	Data: Data{
		URL:      "http://panel.local",
		UserID:   "admin",
		Password: "secret",
	},
}

func TestSetup(t *testing.T) {
	session := newTestSession()
	factory, _ := factoryFor(session)
	platform := &fakePlatform{name: "sensor"}
	m := NewManager(factory, platform)
	t.Cleanup(func() { m.Close(context.Background()) })

	require.NoError(t, m.Setup(context.Background(), testEntry))

	rt, ok := m.Runtime(testEntry.ID)
	require.True(t, ok)
	require.Equal(t, session, rt.Session)
	require.Equal(t, 1, platform.setups)
	require.Equal(t, 1, session.logins)
	require.Equal(t, client.ArmStateFullSet, rt.Coordinator.Data().ArmState)
	require.Equal(t, time.Duration(DefaultPollInterval)*time.Second, rt.Coordinator.Interval())
	require.Equal(t, DeviceInfo{
		Identifiers:  []Identifier{{Domain: Domain, ID: "1234"}},
		Name:         "Home",
		Manufacturer: "Vanderbilt",
		Model:        "SPC4320",
		SerialNumber: "1234",
		Firmware:     "3.8.5",
	}, rt.Device)

	err := m.Setup(context.Background(), testEntry)
	require.ErrorIs(t, err, ErrAlreadySetUp)
}

func TestSetupFailures(t *testing.T) {
	t.Run("login", func(t *testing.T) {
		session := newTestSession()
		session.loginErr = &client.Error{Kind: client.KindAuth, Op: "login", Err: client.ErrInvalidCredentials}
		factory, _ := factoryFor(session)
		platform := &fakePlatform{name: "sensor"}
		m := NewManager(factory, platform)

		err := m.Setup(context.Background(), testEntry)
		require.ErrorIs(t, err, client.ErrInvalidCredentials)
		_, ok := m.Runtime(testEntry.ID)
		require.False(t, ok)
		require.Equal(t, 0, platform.setups)
		require.Equal(t, 1, session.closeCount())
	})

	t.Run("first refresh", func(t *testing.T) {
		session := newTestSession()
		session.armErr = &client.Error{Kind: client.KindPanel, Op: "arm state", Err: errors.New("status 503")}
		factory, _ := factoryFor(session)
		platform := &fakePlatform{name: "sensor"}
		m := NewManager(factory, platform)

		err := m.Setup(context.Background(), testEntry)
		require.ErrorIs(t, err, coordinator.ErrNotReady)
		_, ok := m.Runtime(testEntry.ID)
		require.False(t, ok)
		require.Equal(t, 0, platform.setups)
		require.Equal(t, 1, session.closeCount())
	})

	t.Run("platform", func(t *testing.T) {
		session := newTestSession()
		factory, _ := factoryFor(session)
		first := &fakePlatform{name: "homekit"}
		second := &fakePlatform{name: "mqtt", setupErr: errors.New("broker down")}
		m := NewManager(factory, first, second)

		err := m.Setup(context.Background(), testEntry)
		require.ErrorContains(t, err, "mqtt")
		_, ok := m.Runtime(testEntry.ID)
		require.False(t, ok)
		require.Equal(t, 1, first.unloads)
		require.Equal(t, 0, second.unloads)
		require.Equal(t, 1, session.closeCount())
	})

	t.Run("invalid config", func(t *testing.T) {
		m := NewManager(func(Data) (Session, error) {
			return nil, errors.New("bad url")
		})
		err := m.Setup(context.Background(), testEntry)
		require.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestSetupWithRetry(t *testing.T) {
	t.Run("recovers", func(t *testing.T) {
		failing := newTestSession()
		failing.zonesErr = &client.Error{Kind: client.KindTransport, Op: "zones", Err: errors.New("timeout")}
		ok := newTestSession()
		factory, created := factoryFor(failing, ok)
		m := NewManager(factory)
		t.Cleanup(func() { m.Close(context.Background()) })

		require.NoError(t, m.SetupWithRetry(context.Background(), testEntry))
		require.Equal(t, 2, *created)
		require.Equal(t, 1, failing.closeCount())
	})

	t.Run("auth is permanent", func(t *testing.T) {
		session := newTestSession()
		session.loginErr = &client.Error{Kind: client.KindAuth, Op: "login", Err: client.ErrInvalidCredentials}
		factory, created := factoryFor(session, newTestSession())
		m := NewManager(factory)

		err := m.SetupWithRetry(context.Background(), testEntry)
		require.ErrorIs(t, err, client.ErrInvalidCredentials)
		require.Equal(t, 1, *created)
	})
}

func TestUnload(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		session := newTestSession()
		factory, _ := factoryFor(session)
		platform := &fakePlatform{name: "sensor"}
		m := NewManager(factory, platform)
		require.NoError(t, m.Setup(context.Background(), testEntry))

		require.True(t, m.Unload(context.Background(), testEntry.ID))
		_, ok := m.Runtime(testEntry.ID)
		require.False(t, ok)
		require.Equal(t, 1, session.closeCount())
		require.Equal(t, 1, platform.unloads)

		require.True(t, m.Unload(context.Background(), testEntry.ID))
		require.Equal(t, 1, session.closeCount())
	})

	t.Run("platform failure keeps the entry", func(t *testing.T) {
		session := newTestSession()
		factory, _ := factoryFor(session)
		platform := &fakePlatform{name: "sensor"}
		m := NewManager(factory, platform)
		require.NoError(t, m.Setup(context.Background(), testEntry))

		platform.unloadErr = errors.New("busy")
		require.False(t, m.Unload(context.Background(), testEntry.ID))
		_, ok := m.Runtime(testEntry.ID)
		require.True(t, ok)
		require.Equal(t, 0, session.closeCount())

		platform.unloadErr = nil
		require.True(t, m.Unload(context.Background(), testEntry.ID))
		require.Equal(t, 1, session.closeCount())
	})
}

func TestReload(t *testing.T) {
	first := newTestSession()
	second := newTestSession()
	factory, _ := factoryFor(first, second)
	m := NewManager(factory)
	t.Cleanup(func() { m.Close(context.Background()) })
	require.NoError(t, m.Setup(context.Background(), testEntry))

	e := testEntry
	e.Options.PollInterval = 5
	require.NoError(t, m.Reload(context.Background(), e))

	rt, ok := m.Runtime(e.ID)
	require.True(t, ok)
	require.Equal(t, second, rt.Session)
	require.Equal(t, 5*time.Second, rt.Coordinator.Interval())
	require.Equal(t, 1, first.closeCount())
}

func TestPollInterval(t *testing.T) {
	for name, tt := range map[string]struct {
		data, options int
		expected      time.Duration
	}{
		"default":      {expected: DefaultPollInterval * time.Second},
		"data":         {data: 10, expected: 10 * time.Second},
		"options":      {data: 10, options: 3, expected: 3 * time.Second},
		"invalid data": {data: -1, expected: DefaultPollInterval * time.Second},
		"zero options": {data: 15, options: 0, expected: 15 * time.Second},
	} {
		t.Run(name, func(t *testing.T) {
			e := Entry{
				Data:    Data{PollInterval: tt.data},
				Options: Options{PollInterval: tt.options},
			}
			require.Equal(t, tt.expected, e.PollInterval())
		})
	}
}

func TestDeviceName(t *testing.T) {
	for name, tt := range map[string]struct {
		site, model, expected string
	}{
		"site":     {site: "Office", model: "SPC5330", expected: "Office"},
		"model":    {model: "SPC5330", expected: "SPC5330"},
		"fallback": {expected: "SPC Panel"},
	} {
		t.Run(name, func(t *testing.T) {
			info := deviceInfoFor(&fakeSession{site: tt.site, model: tt.model})
			require.Equal(t, tt.expected, info.Name)
		})
	}
}

func TestUpdate(t *testing.T) {
	t.Run("zones by id", func(t *testing.T) {
		session := newTestSession()
		snapshot, err := newUpdateFunc(session)(context.Background())
		require.NoError(t, err)
		require.Equal(t, client.ArmStateFullSet, snapshot.ArmState)
		require.Equal(t, map[int]client.Zone{
			1: {ID: 1, Name: "Door"},
			2: {ID: 2, Name: "PIR"},
		}, snapshot.Zones)
		require.Equal(t, []int{1, 2}, snapshot.ZoneIDs())
	})

	t.Run("panel error", func(t *testing.T) {
		session := newTestSession()
		cause := &client.Error{Kind: client.KindPanel, Op: "arm state", Err: errors.New("status 500")}
		session.armErr = cause

		_, err := newUpdateFunc(session)(context.Background())
		var uf *coordinator.UpdateFailed
		require.ErrorAs(t, err, &uf)
		require.Equal(t, cause.Error(), uf.Message)
		_, raw := err.(*client.Error)
		require.False(t, raw)
	})

	t.Run("value error", func(t *testing.T) {
		session := newTestSession()
		session.armErr = &client.Error{Kind: client.KindTransport, Op: "arm state", Err: errors.New(`invalid arm state: "Bogus"`)}

		_, err := newUpdateFunc(session)(context.Background())
		var uf *coordinator.UpdateFailed
		require.ErrorAs(t, err, &uf)
		require.True(t, strings.HasPrefix(uf.Message, "SPC communication error: "))
	})

	t.Run("zones transport error", func(t *testing.T) {
		session := newTestSession()
		session.zonesErr = &client.Error{Kind: client.KindTransport, Op: "zones", Err: errors.New("connection reset")}

		_, err := newUpdateFunc(session)(context.Background())
		var uf *coordinator.UpdateFailed
		require.ErrorAs(t, err, &uf)
		require.Equal(t, "SPC communication error: zones: connection reset", uf.Message)
	})

	t.Run("unknown errors are not translated", func(t *testing.T) {
		session := newTestSession()
		session.armErr = context.Canceled

		_, err := newUpdateFunc(session)(context.Background())
		require.Equal(t, context.Canceled, err)
	})
}

func TestTriggered(t *testing.T) {
	require.False(t, Snapshot{Zones: map[int]client.Zone{1: {ID: 1}}}.Triggered())
	require.True(t, Snapshot{Zones: map[int]client.Zone{
		1: {ID: 1},
		2: {ID: 2, Status: client.ZoneStatusAlarm},
	}}.Triggered())
}

type storeCheckPlatform struct {
	m      *Manager
	stored bool
}

func (p *storeCheckPlatform) Name() string { return "store-check" }

func (p *storeCheckPlatform) Setup(_ context.Context, rt *Runtime) error {
	_, p.stored = p.m.Runtime(rt.Entry.ID)
	return nil
}

func (p *storeCheckPlatform) Unload(context.Context, *Runtime) error { return nil }

func TestSetupStoresLast(t *testing.T) {
	factory, _ := factoryFor(newTestSession())
	check := &storeCheckPlatform{}
	m := NewManager(factory, check)
	check.m = m
	t.Cleanup(func() { m.Close(context.Background()) })

	require.NoError(t, m.Setup(context.Background(), testEntry))
	require.False(t, check.stored)
	_, ok := m.Runtime(testEntry.ID)
	require.True(t, ok)
}
