package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var armStateGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace:   "homekit_spc",
	Subsystem:   "alarm",
	Name:        "state",
	Help:        "",
	ConstLabels: map[string]string{},
})

var availableGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace:   "homekit_spc",
	Subsystem:   "alarm",
	Name:        "available",
	Help:        "",
	ConstLabels: map[string]string{},
})

var tamperGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace:   "homekit_spc",
	Subsystem:   "alarm",
	Name:        "tamper",
	Help:        "",
	ConstLabels: map[string]string{},
}, []string{"name"})

var openGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace:   "homekit_spc",
	Subsystem:   "alarm",
	Name:        "open",
	Help:        "",
	ConstLabels: map[string]string{},
}, []string{"name"})

var bypassedGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace:   "homekit_spc",
	Subsystem:   "alarm",
	Name:        "bypassed",
	Help:        "",
	ConstLabels: map[string]string{},
}, []string{"name"})

var mqttPublishErrorCounter = promauto.NewCounter(prometheus.CounterOpts{
	Namespace:   "homekit_spc",
	Subsystem:   "mqtt",
	Name:        "publish_errors_total",
	Help:        "",
	ConstLabels: map[string]string{},
})
