package entry

import (
	"context"

	client "github.com/caarlos0/homekit-spc"
	"github.com/caarlos0/homekit-spc/coordinator"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Snapshot is the panel state read on a single poll.
type Snapshot struct {
	ArmState client.ArmState
	Zones    map[int]client.Zone
}

// ZoneIDs returns the zone ids in ascending order.
func (s Snapshot) ZoneIDs() []int {
	ids := maps.Keys(s.Zones)
	slices.Sort(ids)
	return ids
}

// Triggered reports whether any zone is in alarm.
func (s Snapshot) Triggered() bool {
	for _, zone := range s.Zones {
		if zone.Status == client.ZoneStatusAlarm {
			return true
		}
	}
	return false
}

func newUpdateFunc(s Session) coordinator.UpdateFunc[Snapshot] {
	return func(ctx context.Context) (Snapshot, error) {
		state, err := s.ArmState(ctx)
		if err != nil {
			return Snapshot{}, updateFailed(err)
		}
		zones, err := s.Zones(ctx)
		if err != nil {
			return Snapshot{}, updateFailed(err)
		}

		byID := make(map[int]client.Zone, len(zones))
		for _, zone := range zones {
			byID[zone.ID] = zone
		}
		return Snapshot{
			ArmState: state,
			Zones:    byID,
		}, nil
	}
}

// updateFailed maps session errors into coordinator failures. Errors of
// unknown kind are returned as is.
func updateFailed(err error) error {
	switch client.KindOf(err) {
	case client.KindPanel, client.KindAuth:
		return &coordinator.UpdateFailed{Message: err.Error(), Err: err}
	case client.KindTransport:
		return &coordinator.UpdateFailed{
			Message: "SPC communication error: " + err.Error(),
			Err:     err,
		}
	default:
		return err
	}
}
