package spc

import (
	"fmt"
	"strings"
)

type ArmState uint8

const (
	ArmStateUnset ArmState = iota
	ArmStatePartSetA
	ArmStatePartSetB
	ArmStateFullSet
)

func (s ArmState) String() string {
	switch s {
	case ArmStateUnset:
		return "Unset"
	case ArmStatePartSetA:
		return "Partset A"
	case ArmStatePartSetB:
		return "Partset B"
	case ArmStateFullSet:
		return "Fullset"
	default:
		return "Unknown"
	}
}

func parseArmState(s string) (ArmState, error) {
	switch normalize(s) {
	case "unset":
		return ArmStateUnset, nil
	case "partset a":
		return ArmStatePartSetA, nil
	case "partset b":
		return ArmStatePartSetB, nil
	case "fullset":
		return ArmStateFullSet, nil
	default:
		return 0, fmt.Errorf("invalid arm state: %q", s)
	}
}

type Area struct {
	Number int
	Name   string
	Mode   ArmState
}

type ZoneInput uint8

const (
	ZoneInputClosed ZoneInput = iota
	ZoneInputOpen
	ZoneInputShort
	ZoneInputDisconnected
	ZoneInputMasked
	ZoneInputOffline
	ZoneInputUnknown
)

func (i ZoneInput) String() string {
	switch i {
	case ZoneInputClosed:
		return "Closed"
	case ZoneInputOpen:
		return "Open"
	case ZoneInputShort:
		return "Short"
	case ZoneInputDisconnected:
		return "Disconnected"
	case ZoneInputMasked:
		return "Masked"
	case ZoneInputOffline:
		return "Offline"
	default:
		return "Unknown"
	}
}

func parseZoneInput(s string) ZoneInput {
	switch normalize(s) {
	case "closed":
		return ZoneInputClosed
	case "open":
		return ZoneInputOpen
	case "short":
		return ZoneInputShort
	case "disconnected":
		return ZoneInputDisconnected
	case "masked", "pir masked":
		return ZoneInputMasked
	case "offline", "sensor missing":
		return ZoneInputOffline
	default:
		return ZoneInputUnknown
	}
}

type ZoneStatus uint8

const (
	ZoneStatusNormal ZoneStatus = iota
	ZoneStatusAlarm
	ZoneStatusIsolated
	ZoneStatusInhibited
	ZoneStatusTrouble
	ZoneStatusUnknown
)

func (s ZoneStatus) String() string {
	switch s {
	case ZoneStatusNormal:
		return "Normal"
	case ZoneStatusAlarm:
		return "Alarm"
	case ZoneStatusIsolated:
		return "Isolated"
	case ZoneStatusInhibited:
		return "Inhibited"
	case ZoneStatusTrouble:
		return "Trouble"
	default:
		return "Unknown"
	}
}

func parseZoneStatus(s string) ZoneStatus {
	switch normalize(s) {
	case "normal", "":
		return ZoneStatusNormal
	case "alarm", "actuated":
		return ZoneStatusAlarm
	case "isolated":
		return ZoneStatusIsolated
	case "inhibited":
		return ZoneStatusInhibited
	case "trouble", "fault", "tamper":
		return ZoneStatusTrouble
	default:
		return ZoneStatusUnknown
	}
}

type Zone struct {
	ID     int
	Name   string
	Area   string
	Type   string
	Input  ZoneInput
	Status ZoneStatus
}

// IsOpen reports whether the sensor should show as open: either its input
// is open or it is currently in alarm.
func (z Zone) IsOpen() bool {
	return z.Input == ZoneInputOpen || z.Status == ZoneStatusAlarm
}

// IsTampered reports wiring problems on the zone input.
func (z Zone) IsTampered() bool {
	switch z.Input {
	case ZoneInputShort, ZoneInputDisconnected, ZoneInputMasked:
		return true
	default:
		return false
	}
}

func (z Zone) IsFaulted() bool {
	return z.Status == ZoneStatusTrouble || z.Input == ZoneInputOffline
}

func (z Zone) IsBypassed() bool {
	return z.Status == ZoneStatusIsolated || z.Status == ZoneStatusInhibited
}

// Summary is the identity block shown on the panel's system summary page.
type Summary struct {
	Site         string
	Model        string
	SerialNumber string
	Firmware     string
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
