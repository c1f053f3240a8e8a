package main

import (
	"context"
	"errors"
	"sync"
	"testing"

	client "github.com/caarlos0/homekit-spc"
	"github.com/caarlos0/homekit-spc/entry"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	mu     sync.Mutex
	closed int
}

func (s *fakeSession) Login(context.Context) error { return nil }

func (s *fakeSession) ArmState(context.Context) (client.ArmState, error) {
	return client.ArmStateUnset, nil
}

func (s *fakeSession) Zones(context.Context) ([]client.Zone, error) {
	return []client.Zone{
		{ID: 1, Name: "Front Door", Area: "House"},
		{ID: 2, Name: "Hall PIR", Area: "House", Input: client.ZoneInputOpen},
	}, nil
}

func (s *fakeSession) SerialNumber() string { return "1234" }
func (s *fakeSession) Site() string         { return "Home" }
func (s *fakeSession) Model() string        { return "SPC4320" }
func (s *fakeSession) Firmware() string     { return "3.8.5" }

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

func TestUnloadWithBrokerDown(t *testing.T) {
	for name, brokerDown := range map[string]func(f *fakePublisher){
		"publish fails": func(f *fakePublisher) { f.err = errors.New("broker down") },
		"disconnected":  func(f *fakePublisher) { f.disconnected = true },
	} {
		t.Run(name, func(t *testing.T) {
			session := &fakeSession{}
			pub := &fakePublisher{}
			homekit := &homekitPlatform{cfg: Config{}}
			mqtt := newTestMQTTPlatform(pub)
			m := entry.NewManager(func(entry.Data) (entry.Session, error) {
				return session, nil
			}, homekit, mqtt)
			t.Cleanup(mqtt.Close)

			e := testConfig.entry(entry.Options{})
			require.NoError(t, m.Setup(context.Background(), e))

			pub.set(brokerDown)
			require.True(t, m.Unload(context.Background(), e.ID))
			_, ok := m.Runtime(e.ID)
			require.False(t, ok)
			require.Equal(t, 1, session.closeCount())
			require.Nil(t, homekit.unsubscribe)
		})
	}
}

