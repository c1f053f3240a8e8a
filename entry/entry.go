// Package entry sets up and tears down configured SPC panels: one session,
// one polling coordinator and one device per config entry.
package entry

import (
	"context"
	"os"
	"time"

	client "github.com/caarlos0/homekit-spc"
	logp "github.com/charmbracelet/log"
)

var log = logp.NewWithOptions(os.Stderr, logp.Options{
	ReportTimestamp: true,
	TimeFormat:      time.Kitchen,
	Prefix:          "entry",
})

const (
	Domain              = "spc_webui"
	Manufacturer        = "Vanderbilt"
	CoordinatorName     = "SPC WebUI"
	DefaultPollInterval = 30 // seconds
)

// Data is the connection configuration of an entry.
type Data struct {
	URL          string
	UserID       string
	Password     string
	PollInterval int
}

// Options are user adjustable settings that override Data.
type Options struct {
	PollInterval int `json:"poll_interval,omitempty"`
}

type Entry struct {
	ID      string
	Data    Data
	Options Options
}

// PollInterval resolves the interval from the options, then the data, then
// the default. Values below one second count as unset.
func (e Entry) PollInterval() time.Duration {
	seconds := DefaultPollInterval
	switch {
	case e.Options.PollInterval >= 1:
		seconds = e.Options.PollInterval
	case e.Data.PollInterval >= 1:
		seconds = e.Data.PollInterval
	}
	return time.Duration(seconds) * time.Second
}

// Session is the panel connection an entry polls.
type Session interface {
	Login(ctx context.Context) error
	ArmState(ctx context.Context) (client.ArmState, error)
	Zones(ctx context.Context) ([]client.Zone, error)
	SerialNumber() string
	Site() string
	Model() string
	Firmware() string
	Close(ctx context.Context) error
}

type SessionFactory func(data Data) (Session, error)

// NewSession is the SessionFactory for real panels.
func NewSession(data Data) (Session, error) {
	s, err := client.New(data.URL, data.UserID, data.Password)
	if err != nil {
		return nil, err
	}
	return s, nil
}
