package main

import (
	"context"
	_ "embed"
	"errors"
	"html/template"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	"github.com/caarlos0/env/v11"
	client "github.com/caarlos0/homekit-spc"
	"github.com/caarlos0/homekit-spc/entry"
	logp "github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

//go:embed index.html
var index []byte

var log = logp.NewWithOptions(os.Stderr, logp.Options{
	ReportTimestamp: true,
	TimeFormat:      time.Kitchen,
	Prefix:          "homekit",
})

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	log.Info(
		"homekit-spc",
		"version", version,
		"commit", commit,
		"date", date,
		"info", strings.Join([]string{
			"Homekit bridge for Vanderbilt SPC alarm systems",
			"© Carlos Alexandro Becker",
			"https://becker.software",
		}, "\n"),
	)

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatal(
			"could not parse env",
			"err",
			strings.TrimPrefix(strings.ReplaceAll(err.Error(), "; ", "\n"), "env: ")+"\n",
		)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	signal.Notify(c, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-c
		log.Info("stopping server")
		signal.Stop(c)
		cancel()
	}()

	fs := hap.NewFsStore(cfg.DB)

	homekit := &homekitPlatform{
		cfg: cfg,
		fallbackSerial: func() string {
			mac, err := client.MacAddress(cfg.host())
			if err != nil {
				log.Warn(
					"could not get the mac address, needs 'cap_net_raw+ep' capabilities",
					"err", err,
				)
			}
			return mac
		},
	}
	platforms := []entry.Platform{homekit}

	var mqtt *mqttPlatform
	if cfg.MQTTBroker != "" {
		mqtt = &mqttPlatform{
			cfg: cfg,
			connect: func(willTopic string) (publisher, error) {
				return newPahoPublisher(cfg, willTopic)
			},
		}
		platforms = append(platforms, mqtt)
	}

	manager := entry.NewManager(entry.NewSession, platforms...)
	defer func() {
		manager.Close(context.Background())
		if mqtt != nil {
			mqtt.Close()
		}
	}()

	e := cfg.entry(loadOptions(fs, cfg.entryID()))
	log.Info("setting up panel", "url", cfg.URL, "user", cfg.UserID, "poll_interval", e.PollInterval())
	if err := manager.SetupWithRetry(ctx, e); err != nil {
		log.Error("could not set up panel", "err", err)
		return
	}

	bridge := accessory.NewBridge(accessory.Info{
		Name:         "SPC Bridge",
		Manufacturer: entry.Manufacturer,
		Firmware:     version,
	})

	server, err := hap.NewServer(fs, bridge.A, homekit.accessories()...)
	if err != nil {
		log.Error("fail to create server", "error", err)
		return
	}
	server.Addr = cfg.Address
	server.ServeMux().Handle("/metrics", promhttp.Handler())
	server.ServeMux().Handle("/options", optionsHandler(ctx, cfg, fs, manager))
	server.ServeMux().Handle("/", statusHandler(cfg, homekit, manager))

	log.Info("starting server", "addr", server.Addr)
	if err := server.ListenAndServe(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("failed to close server", "err", err)
	}
}

type PageItem struct {
	Number   int
	Name     string
	Open     bool
	Tamper   bool
	Bypassed bool
	Fault    bool
}

func statusHandler(cfg Config, homekit *homekitPlatform, manager *entry.Manager) http.Handler {
	tpl := template.Must(template.New("index").Parse(string(index)))
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		state, zones := homekit.pageItems()

		data := struct {
			State        string
			Device       entry.DeviceInfo
			PollInterval int
			LastError    string
			Zones        []PageItem
		}{
			State: state,
			Zones: zones,
		}
		if rt, ok := manager.Runtime(cfg.entryID()); ok {
			data.Device = rt.Device
			data.PollInterval = int(rt.Coordinator.Interval().Seconds())
			if err := rt.Coordinator.LastError(); err != nil {
				data.LastError = err.Error()
			}
		}
		_ = tpl.Execute(w, data)
	})
}
