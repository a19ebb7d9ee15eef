package types

import (
	"strings"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/NmBoyd/faster/internal/trajectory"
)

type VehicleState struct {
	Pos   r3.Vector `json:"pos"`
	Vel   r3.Vector `json:"vel"`
	Accel r3.Vector `json:"accel"`
	Stamp time.Time `json:"stamp"`
}

// Goal is the target position. Valid false clears it.
type Goal struct {
	Pos   r3.Vector `json:"pos"`
	Valid bool      `json:"valid"`
}

type FlightMode uint8

const (
	FlightModeGrounded FlightMode = iota
	FlightModeTakingOff
	FlightModeFlying
	FlightModeLanding
	FlightModeKill
)

var flightModeNames = []string{"grounded", "taking_off", "flying", "landing", "kill"}

func (m FlightMode) String() string {
	if int(m) < len(flightModeNames) {
		return flightModeNames[m]
	}
	return "unknown"
}

// Active reports whether the vehicle is airborne under our control.
func (m FlightMode) Active() bool {
	return m == FlightModeTakingOff || m == FlightModeFlying || m == FlightModeLanding
}

func ParseFlightMode(s string) (FlightMode, error) {
	for i, name := range flightModeNames {
		if strings.EqualFold(s, name) {
			return FlightMode(i), nil
		}
	}
	return FlightModeGrounded, errors.Errorf("unknown flight mode %q", s)
}

func (m FlightMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *FlightMode) UnmarshalText(b []byte) error {
	parsed, err := ParseFlightMode(string(b))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// PointCloud is a batch of occupied points. The map cloud replaces the
// static map; observation clouds are keyed by Stamp.
type PointCloud struct {
	Stamp  time.Time   `json:"stamp"`
	Points []r3.Vector `json:"points"`
}

type TrajectoryAccepted struct {
	ID          string              `json:"id"`
	Dt          float64             `json:"dt"`
	Samples     []trajectory.Sample `json:"samples"`
	Waypoints   []r3.Vector         `json:"waypoints"`
	Relaxations int                 `json:"relaxations"`
}

// TrajectoryRejected is only posted when rejected candidates are retained.
type TrajectoryRejected struct {
	ID        string              `json:"id"`
	Dt        float64             `json:"dt"`
	Samples   []trajectory.Sample `json:"samples"`
	Waypoints []r3.Vector         `json:"waypoints"`
	Reason    string              `json:"reason"`
}

// ReplanFailed is posted for every tick that did not accept a trajectory.
// Persistent is set while no accepted trajectory exists at all.
type ReplanFailed struct {
	Reason     string `json:"reason"`
	Detail     string `json:"detail"`
	Persistent bool   `json:"persistent"`
}
