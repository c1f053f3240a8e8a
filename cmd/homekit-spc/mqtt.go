package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	client "github.com/caarlos0/homekit-spc"
	"github.com/caarlos0/homekit-spc/coordinator"
	"github.com/caarlos0/homekit-spc/entry"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	mqttTimeout = 10 * time.Second
	mqttQoS     = 1

	payloadOnline  = "online"
	payloadOffline = "offline"
)

var armStateOptions = []string{
	client.ArmStateUnset.String(),
	client.ArmStatePartSetA.String(),
	client.ArmStatePartSetB.String(),
	client.ArmStateFullSet.String(),
}

var errNotConnected = errors.New("mqtt client not connected")

type publisher interface {
	Publish(topic string, payload []byte, retained bool) error
	IsConnected() bool
	Close()
}

type pahoPublisher struct {
	client pahomqtt.Client
}

func newPahoPublisher(cfg Config, willTopic string) (*pahoPublisher, error) {
	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.MQTTBroker).
		SetClientID(fmt.Sprintf("homekit-spc-%s", cfg.host())).
		SetUsername(cfg.MQTTUsername).
		SetPassword(cfg.MQTTPassword).
		SetAutoReconnect(true).
		SetConnectTimeout(mqttTimeout).
		SetWill(willTopic, payloadOffline, mqttQoS, true)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		log.Warn("mqtt connection lost", "err", err)
	})

	cli := pahomqtt.NewClient(opts)
	token := cli.Connect()
	if !token.WaitTimeout(mqttTimeout) {
		return nil, fmt.Errorf("could not connect to mqtt broker: timeout after %v", mqttTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("could not connect to mqtt broker: %w", err)
	}
	log.Info("connected to mqtt broker", "broker", cfg.MQTTBroker)
	return &pahoPublisher{client: cli}, nil
}

func (p *pahoPublisher) Publish(topic string, payload []byte, retained bool) error {
	if !p.IsConnected() {
		return errNotConnected
	}
	token := p.client.Publish(topic, mqttQoS, retained, payload)
	if !token.WaitTimeout(mqttTimeout) {
		return fmt.Errorf("could not publish to %s: timeout after %v", topic, mqttTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("could not publish to %s: %w", topic, err)
	}
	return nil
}

// IsConnected is false while paho is reconnecting, so publishes fail fast
// instead of queueing until they time out.
func (p *pahoPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

func (p *pahoPublisher) Close() {
	p.client.Disconnect(250)
}

type mqttDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	SerialNumber string   `json:"serial_number,omitempty"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

type mqttDiscovery struct {
	Name                string     `json:"name"`
	UniqueID            string     `json:"unique_id"`
	StateTopic          string     `json:"state_topic"`
	AvailabilityTopic   string     `json:"availability_topic"`
	JSONAttributesTopic string     `json:"json_attributes_topic,omitempty"`
	DeviceClass         string     `json:"device_class,omitempty"`
	Options             []string   `json:"options,omitempty"`
	PayloadOn           string     `json:"payload_on,omitempty"`
	PayloadOff          string     `json:"payload_off,omitempty"`
	Device              mqttDevice `json:"device"`
}

type zoneAttributes struct {
	Area   string `json:"area"`
	Type   string `json:"type"`
	Input  string `json:"input"`
	Status string `json:"status"`
}

type mqttMessage struct {
	topic   string
	payload []byte
}

// mqttPlatform publishes entries to Home Assistant through MQTT discovery.
// State is published by a worker per entry, so coordinator ticks never wait
// on the broker.
type mqttPlatform struct {
	cfg     Config
	connect func(willTopic string) (publisher, error)

	mu          sync.Mutex
	pub         publisher
	unsubscribe func()
	stopWorker  func()
}

func (p *mqttPlatform) Name() string {
	return "mqtt"
}

func (p *mqttPlatform) Setup(_ context.Context, rt *entry.Runtime) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	base := baseTopic(rt.Device)
	if p.pub == nil {
		pub, err := p.connect(availabilityTopic(base))
		if err != nil {
			return err
		}
		p.pub = pub
	}

	snapshot := rt.Coordinator.Data()
	for _, msg := range discoveryMessages(p.cfg, rt.Device, snapshot) {
		if err := p.pub.Publish(msg.topic, msg.payload, true); err != nil {
			return err
		}
	}

	// only the latest state matters, so pending kicks collapse into one.
	kick := make(chan struct{}, 1)
	stop := make(chan struct{})
	done := make(chan struct{})
	coord := rt.Coordinator
	device := rt.Device
	notify := func() {
		select {
		case kick <- struct{}{}:
		default:
		}
	}
	p.unsubscribe = coord.Subscribe(notify)
	p.stopWorker = func() {
		close(stop)
		<-done
	}
	notify()
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			case <-kick:
				p.publishState(device, coord)
			}
		}
	}()
	return nil
}

// Unload stops publishing state and marks the device offline. The offline
// message is best effort: the broker publishes the will when the
// connection drops, so a broker outage never keeps an entry loaded.
func (p *mqttPlatform) Unload(_ context.Context, rt *entry.Runtime) error {
	pub := p.stop()
	if pub == nil || !pub.IsConnected() {
		return nil
	}
	topic := availabilityTopic(baseTopic(rt.Device))
	if err := pub.Publish(topic, []byte(payloadOffline), true); err != nil {
		mqttPublishErrorCounter.Inc()
		log.Warn("could not publish offline status", "topic", topic, "err", err)
	}
	return nil
}

func (p *mqttPlatform) Close() {
	p.stop()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pub != nil {
		p.pub.Close()
		p.pub = nil
	}
}

// stop removes the listener, waits for the worker to finish and returns
// the current publisher.
func (p *mqttPlatform) stop() publisher {
	p.mu.Lock()
	unsubscribe, stopWorker := p.unsubscribe, p.stopWorker
	p.unsubscribe, p.stopWorker = nil, nil
	pub := p.pub
	p.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if stopWorker != nil {
		stopWorker()
	}
	return pub
}

func (p *mqttPlatform) publishState(device entry.DeviceInfo, coord *coordinator.Coordinator[entry.Snapshot]) {
	p.mu.Lock()
	pub := p.pub
	p.mu.Unlock()
	if pub == nil {
		return
	}
	if !pub.IsConnected() {
		log.Debug("broker not connected, skipping state")
		return
	}

	base := baseTopic(device)
	var msgs []mqttMessage
	if coord.LastUpdateSuccess() {
		msgs = append(stateMessages(p.cfg, base, coord.Data()), mqttMessage{
			topic:   availabilityTopic(base),
			payload: []byte(payloadOnline),
		})
	} else {
		msgs = []mqttMessage{{
			topic:   availabilityTopic(base),
			payload: []byte(payloadOffline),
		}}
	}

	for _, msg := range msgs {
		if err := pub.Publish(msg.topic, msg.payload, true); err != nil {
			// the next tick publishes everything again.
			mqttPublishErrorCounter.Inc()
			log.Error("could not publish state", "topic", msg.topic, "err", err)
			return
		}
	}
}

func baseTopic(device entry.DeviceInfo) string {
	id := device.SerialNumber
	if id == "" {
		id = slug(device.Name)
	}
	return "spc/" + id
}

func availabilityTopic(base string) string {
	return base + "/availability"
}

func uniqueID(device entry.DeviceInfo) string {
	return entry.Domain + "_" + strings.TrimPrefix(baseTopic(device), "spc/")
}

func discoveryMessages(cfg Config, device entry.DeviceInfo, snapshot entry.Snapshot) []mqttMessage {
	base := baseTopic(device)
	id := uniqueID(device)

	var identifiers []string
	for _, ident := range device.Identifiers {
		identifiers = append(identifiers, ident.Domain+"_"+ident.ID)
	}
	dev := mqttDevice{
		Identifiers:  identifiers,
		Name:         device.Name,
		Manufacturer: device.Manufacturer,
		Model:        device.Model,
		SerialNumber: device.SerialNumber,
		SWVersion:    device.Firmware,
	}

	msgs := []mqttMessage{
		mustDiscovery(
			fmt.Sprintf("%s/sensor/%s/arm_state/config", cfg.MQTTPrefix, id),
			mqttDiscovery{
				Name:              "Arm state",
				UniqueID:          id + "_arm_state",
				StateTopic:        base + "/arm_state",
				AvailabilityTopic: availabilityTopic(base),
				DeviceClass:       "enum",
				Options:           armStateOptions,
				Device:            dev,
			},
		),
	}

	for _, zone := range cfg.zones(snapshot) {
		deviceClass := "opening"
		if zone.kind == kindMotion {
			deviceClass = "motion"
		}
		msgs = append(msgs, mustDiscovery(
			fmt.Sprintf("%s/binary_sensor/%s/zone_%d/config", cfg.MQTTPrefix, id, zone.id),
			mqttDiscovery{
				Name:                zone.name,
				UniqueID:            fmt.Sprintf("%s_zone_%d", id, zone.id),
				StateTopic:          fmt.Sprintf("%s/zone/%d/state", base, zone.id),
				JSONAttributesTopic: fmt.Sprintf("%s/zone/%d/attributes", base, zone.id),
				AvailabilityTopic:   availabilityTopic(base),
				DeviceClass:         deviceClass,
				PayloadOn:           "ON",
				PayloadOff:          "OFF",
				Device:              dev,
			},
		))
	}
	return msgs
}

func stateMessages(cfg Config, base string, snapshot entry.Snapshot) []mqttMessage {
	msgs := []mqttMessage{{
		topic:   base + "/arm_state",
		payload: []byte(snapshot.ArmState.String()),
	}}
	for _, zc := range cfg.zones(snapshot) {
		zone := snapshot.Zones[zc.id]
		state := "OFF"
		if zone.IsOpen() {
			state = "ON"
		}
		attrs, _ := json.Marshal(zoneAttributes{
			Area:   zone.Area,
			Type:   zone.Type,
			Input:  zone.Input.String(),
			Status: zone.Status.String(),
		})
		msgs = append(msgs,
			mqttMessage{
				topic:   fmt.Sprintf("%s/zone/%d/state", base, zc.id),
				payload: []byte(state),
			},
			mqttMessage{
				topic:   fmt.Sprintf("%s/zone/%d/attributes", base, zc.id),
				payload: attrs,
			},
		)
	}
	return msgs
}

func mustDiscovery(topic string, d mqttDiscovery) mqttMessage {
	payload, err := json.Marshal(d)
	if err != nil {
		panic(fmt.Sprintf("could not encode discovery for %s: %v", topic, err))
	}
	return mqttMessage{topic: topic, payload: payload}
}

func slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}), "_")
}
