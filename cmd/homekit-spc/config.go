package main

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/brutella/hap/characteristic"
	client "github.com/caarlos0/homekit-spc"
	"github.com/caarlos0/homekit-spc/entry"
	"golang.org/x/exp/slices"
)

type Config struct {
	URL          string `env:"SPC_URL,notEmpty"`
	UserID       string `env:"SPC_USERID,notEmpty"`
	Password     string `env:"SPC_PASSWORD,notEmpty"`
	PollInterval int    `env:"SPC_POLL_INTERVAL"`
	MotionZones  []int  `env:"MOTION"`
	IgnoreZones  []int  `env:"IGNORE"`
	Address      string `env:"LISTEN"              envDefault:":9009"`
	DB           string `env:"DB"                  envDefault:"./db"`
	MQTTBroker   string `env:"MQTT_BROKER"`
	MQTTUsername string `env:"MQTT_USERNAME"`
	MQTTPassword string `env:"MQTT_PASSWORD"`
	MQTTPrefix   string `env:"MQTT_PREFIX"         envDefault:"homeassistant"`
}

type zoneKind uint8

const (
	kindContact zoneKind = iota + 1
	kindMotion
)

func (z zoneKind) String() string {
	switch z {
	case kindMotion:
		return "motion"
	default:
		return "contact"
	}
}

type zoneConfig struct {
	id   int
	name string
	kind zoneKind
}

type allZoneConfigs []zoneConfig

func (a allZoneConfigs) String() string {
	var zones []string
	for _, zone := range a {
		zones = append(
			zones,
			fmt.Sprintf("zone %d: %q (%s)", zone.id, zone.name, zone.kind.String()),
		)
	}
	return strings.Join(zones, "\n")
}

func (c Config) host() string {
	u, err := url.Parse(c.URL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}

func (c Config) entryID() string {
	return "spc-" + c.host()
}

func (c Config) entry(opts entry.Options) entry.Entry {
	return entry.Entry{
		ID: c.entryID(),
		Data: entry.Data{
			URL:          c.URL,
			UserID:       c.UserID,
			Password:     c.Password,
			PollInterval: c.PollInterval,
		},
		Options: opts,
	}
}

// zones returns the exposed zones of a snapshot, sorted by id.
func (c Config) zones(snapshot entry.Snapshot) []zoneConfig {
	var zones []zoneConfig
	for _, id := range snapshot.ZoneIDs() {
		if slices.Contains(c.IgnoreZones, id) {
			continue
		}
		zone := snapshot.Zones[id]
		name := zone.Name
		if name == "" {
			name = fmt.Sprintf("Zone %d", id)
		}
		kind := kindContact
		if slices.Contains(c.MotionZones, id) {
			kind = kindMotion
		}
		zones = append(zones, zoneConfig{
			id:   id,
			name: name,
			kind: kind,
		})
	}
	return zones
}

func getAlarmState(snapshot entry.Snapshot) int {
	if snapshot.Triggered() {
		return characteristic.SecuritySystemCurrentStateAlarmTriggered
	}

	switch snapshot.ArmState {
	case client.ArmStatePartSetA:
		return characteristic.SecuritySystemCurrentStateStayArm
	case client.ArmStatePartSetB:
		return characteristic.SecuritySystemCurrentStateNightArm
	case client.ArmStateFullSet:
		return characteristic.SecuritySystemCurrentStateAwayArm
	default:
		return characteristic.SecuritySystemCurrentStateDisarmed
	}
}
