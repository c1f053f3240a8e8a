package main

import (
	"net/http"

	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/characteristic"
	"github.com/brutella/hap/service"
	client "github.com/caarlos0/homekit-spc"
	"github.com/caarlos0/homekit-spc/entry"
)

type AlarmSensor struct {
	*accessory.A
	ZoneID  int
	Kind    zoneKind
	Motion  *service.MotionSensor
	Contact *service.ContactSensor
	Active  *characteristic.StatusActive
	Tamper  *characteristic.StatusTampered
	Fault   *characteristic.StatusFault
}

func newAlarmSensor(info accessory.Info, zone zoneConfig) *AlarmSensor {
	a := AlarmSensor{
		ZoneID: zone.id,
		Kind:   zone.kind,
	}
	a.A = accessory.New(info, accessory.TypeSensor)

	a.Active = characteristic.NewStatusActive()
	a.Tamper = characteristic.NewStatusTampered()
	a.Fault = characteristic.NewStatusFault()

	switch zone.kind {
	case kindMotion:
		a.Motion = service.NewMotionSensor()
		a.Motion.AddC(a.Active.C)
		a.Motion.AddC(a.Tamper.C)
		a.Motion.AddC(a.Fault.C)
		a.AddS(a.Motion.S)
	default:
		a.Contact = service.NewContactSensor()
		a.Contact.AddC(a.Active.C)
		a.Contact.AddC(a.Tamper.C)
		a.Contact.AddC(a.Fault.C)
		a.AddS(a.Contact.S)
	}

	return &a
}

func (sensor *AlarmSensor) Update(zone client.Zone) {
	openGauge.WithLabelValues(sensor.Name()).Set(boolAs[float64](zone.IsOpen()))
	tamperGauge.WithLabelValues(sensor.Name()).Set(boolAs[float64](zone.IsTampered()))
	bypassedGauge.WithLabelValues(sensor.Name()).Set(boolAs[float64](zone.IsBypassed()))

	if v := !zone.IsBypassed(); sensor.Active.Value() != v {
		log.Info("bypass", "zone", zone.ID, "status", !v)
		sensor.Active.SetValue(v)
	}

	if v := boolAs[int](zone.IsTampered()); sensor.Tamper.Value() != v {
		log.Info("tamper", "zone", zone.ID, "status", zone.IsTampered(), "input", zone.Input)
		_ = sensor.Tamper.SetValue(v)
	}

	sensor.SetFault(zone.IsFaulted())

	switch sensor.Kind {
	case kindMotion:
		current := zone.IsOpen()
		if v := sensor.Motion.MotionDetected.Value(); v == current {
			return
		}
		sensor.Motion.MotionDetected.SetValue(current)
		log.Info(
			"motion",
			"zone", zone.ID,
			"status", current,
			"input", zone.Input,
			"state", zone.Status,
		)
	default:
		current := boolAs[int](zone.IsOpen())
		if v := sensor.Contact.ContactSensorState.Value(); v == current {
			return
		}
		_ = sensor.Contact.ContactSensorState.SetValue(current)
		log.Info(
			"contact",
			"zone", zone.ID,
			"status", current,
			"input", zone.Input,
			"state", zone.Status,
		)
	}
}

func (sensor *AlarmSensor) SetFault(fault bool) {
	if v := boolAs[int](fault); sensor.Fault.Value() != v {
		_ = sensor.Fault.SetValue(v)
		log.Info("fault", "zone", sensor.ZoneID, "status", fault)
	}
}

func (sensor *AlarmSensor) IsOpen() bool {
	if sensor.Motion != nil {
		return sensor.Motion.MotionDetected.Value()
	}
	return sensor.Contact.ContactSensorState.Value() == 1
}

type SecuritySystem struct {
	*accessory.A
	SecuritySystem *service.SecuritySystem
	Tampered       *characteristic.StatusTampered
	Fault          *characteristic.StatusFault
}

func NewSecuritySystem(info accessory.Info) *SecuritySystem {
	a := &SecuritySystem{}
	a.A = accessory.New(info, accessory.TypeSecuritySystem)

	a.SecuritySystem = service.NewSecuritySystem()
	a.AddS(a.SecuritySystem.S)

	a.Tampered = characteristic.NewStatusTampered()
	a.SecuritySystem.AddC(a.Tampered.C)

	a.Fault = characteristic.NewStatusFault()
	a.SecuritySystem.AddC(a.Fault.C)

	a.SecuritySystem.SecuritySystemTargetState.SetValueRequestFunc = a.updateHandler

	return a
}

func (a *SecuritySystem) Update(snapshot entry.Snapshot) {
	state := getAlarmState(snapshot)
	armStateGauge.Set(float64(state))
	if a.SecuritySystem.SecuritySystemCurrentState.Value() != state {
		err := a.SecuritySystem.SecuritySystemCurrentState.SetValue(state)
		log.Info("set current state", "state", state, "arm", snapshot.ArmState, "err", err)
	}

	// arming happens at the keypad, so the target follows the panel.
	if state != characteristic.SecuritySystemCurrentStateAlarmTriggered &&
		a.SecuritySystem.SecuritySystemTargetState.Value() != state {
		err := a.SecuritySystem.SecuritySystemTargetState.SetValue(state)
		log.Info("set target state", "state", state, "err", err)
	}

	var tampered bool
	for _, zone := range snapshot.Zones {
		if zone.IsTampered() {
			tampered = true
			break
		}
	}
	tamperGauge.WithLabelValues("system").Set(boolAs[float64](tampered))
	if v := boolAs[int](tampered); a.Tampered.Value() != v {
		_ = a.Tampered.SetValue(v)
		log.Info("alarm status", "tamper", tampered)
	}
	a.SetFault(false)
}

func (a *SecuritySystem) SetFault(fault bool) {
	availableGauge.Set(boolAs[float64](!fault))
	if v := boolAs[int](fault); a.Fault.Value() != v {
		_ = a.Fault.SetValue(v)
		log.Info("alarm status", "fault", fault)
	}
}

// updateHandler rejects target state changes: the web UI session is only
// used to read the panel.
func (a *SecuritySystem) updateHandler(
	v interface{},
	_ *http.Request,
) (response interface{}, code int) {
	log.Warn("arming from homekit is not supported, use the panel keypad", "target", v)
	return nil, hap.JsonStatusReadOnlyCharacteristic
}

func boolAs[T int | float64](b bool) T {
	if b {
		return 1
	}
	return 0
}
