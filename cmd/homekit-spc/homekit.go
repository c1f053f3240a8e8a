package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/brutella/hap/accessory"
	"github.com/caarlos0/homekit-spc/coordinator"
	"github.com/caarlos0/homekit-spc/entry"
)

// homekitPlatform exposes an entry as HomeKit accessories. Accessories are
// created on the first setup and kept across reloads, since the HAP server
// can't change its accessory list while running.
type homekitPlatform struct {
	cfg            Config
	fallbackSerial func() string

	mu          sync.Mutex
	alarm       *SecuritySystem
	sensors     []*AlarmSensor
	unsubscribe func()
}

func (p *homekitPlatform) Name() string {
	return "homekit"
}

func (p *homekitPlatform) Setup(_ context.Context, rt *entry.Runtime) error {
	p.mu.Lock()
	if p.alarm == nil {
		p.build(rt)
	}
	coord := rt.Coordinator
	p.unsubscribe = coord.Subscribe(func() {
		p.update(coord)
	})
	p.mu.Unlock()

	p.update(coord)
	return nil
}

func (p *homekitPlatform) Unload(_ context.Context, _ *entry.Runtime) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.unsubscribe != nil {
		p.unsubscribe()
		p.unsubscribe = nil
	}
	return nil
}

func (p *homekitPlatform) build(rt *entry.Runtime) {
	serial := rt.Device.SerialNumber
	if serial == "" && p.fallbackSerial != nil {
		serial = p.fallbackSerial()
	}

	p.alarm = NewSecuritySystem(accessory.Info{
		Name:         rt.Device.Name,
		SerialNumber: serial,
		Manufacturer: rt.Device.Manufacturer,
		Model:        rt.Device.Model,
		Firmware:     rt.Device.Firmware,
	})
	p.alarm.Id = 2

	zones := p.cfg.zones(rt.Coordinator.Data())
	log.Info("loading accessories", "zones", allZoneConfigs(zones).String())
	for _, zone := range zones {
		sensor := newAlarmSensor(accessory.Info{
			Name:         zone.name,
			SerialNumber: fmt.Sprintf("%s-%d", serial, zone.id),
			Manufacturer: rt.Device.Manufacturer,
		}, zone)
		sensor.Id = uint64(100 + zone.id)
		p.sensors = append(p.sensors, sensor)
	}
}

func (p *homekitPlatform) update(coord *coordinator.Coordinator[entry.Snapshot]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.alarm == nil {
		return
	}

	if !coord.LastUpdateSuccess() {
		p.alarm.SetFault(true)
		for _, sensor := range p.sensors {
			sensor.SetFault(true)
		}
		return
	}

	snapshot := coord.Data()
	p.alarm.Update(snapshot)
	for _, sensor := range p.sensors {
		zone, ok := snapshot.Zones[sensor.ZoneID]
		if !ok {
			log.Warn("zone is gone from the panel", "zone", sensor.ZoneID)
			sensor.SetFault(true)
			continue
		}
		sensor.Update(zone)
	}
}

func (p *homekitPlatform) accessories() []*accessory.A {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.alarm == nil {
		return nil
	}
	result := []*accessory.A{p.alarm.A}
	for _, sensor := range p.sensors {
		result = append(result, sensor.A)
	}
	return result
}

// pageItems returns the zones as shown on the status page.
func (p *homekitPlatform) pageItems() (string, []PageItem) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.alarm == nil {
		return "Not ready", nil
	}

	state := [5]string{
		"Armed: Stay",
		"Armed: Away",
		"Armed: Night",
		"Disarmed",
		"Alarm Triggered",
	}[p.alarm.SecuritySystem.SecuritySystemCurrentState.Value()]
	if p.alarm.Fault.Value() == 1 {
		state += " (unavailable)"
	}

	var items []PageItem
	for _, sensor := range p.sensors {
		items = append(items, PageItem{
			Number:   sensor.ZoneID,
			Name:     sensor.Name(),
			Open:     sensor.IsOpen(),
			Tamper:   sensor.Tamper.Value() == 1,
			Bypassed: !sensor.Active.Value(),
			Fault:    sensor.Fault.Value() == 1,
		})
	}
	return state, items
}
