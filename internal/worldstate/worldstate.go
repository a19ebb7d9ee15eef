// Package worldstate is the context shared by the ingestion path and the two
// periodic tasks. Each field has its own lock so the output stream never waits
// on a slow replan.
package worldstate

import (
	"sync"

	"github.com/NmBoyd/faster/internal/spatialindex"
	"github.com/NmBoyd/faster/internal/trajectory"
	"github.com/NmBoyd/faster/internal/types"
)

type World struct {
	Index *spatialindex.Index
	Slot  *trajectory.Slot

	vehicleMu  sync.RWMutex
	vehicle    types.VehicleState
	hasVehicle bool

	goalMu sync.RWMutex
	goal   types.Goal

	modeMu sync.RWMutex
	mode   types.FlightMode

	commandMu  sync.RWMutex
	command    trajectory.Command
	hasCommand bool
}

func New(index *spatialindex.Index) *World {
	return &World{Index: index, Slot: &trajectory.Slot{}}
}

// Snapshot is a consistent-per-field copy taken at the start of a tick.
type Snapshot struct {
	Vehicle     types.VehicleState
	HasVehicle  bool
	Goal        types.Goal
	Mode        types.FlightMode
	LastCommand trajectory.Command
	HasCommand  bool
}

func (w *World) Snapshot() Snapshot {
	var s Snapshot
	s.Vehicle, s.HasVehicle = w.VehicleState()
	s.Goal = w.Goal()
	s.Mode = w.Mode()
	s.LastCommand, s.HasCommand = w.LastCommand()
	return s
}

func (w *World) SetVehicleState(v types.VehicleState) {
	w.vehicleMu.Lock()
	defer w.vehicleMu.Unlock()
	w.vehicle, w.hasVehicle = v, true
}

func (w *World) VehicleState() (types.VehicleState, bool) {
	w.vehicleMu.RLock()
	defer w.vehicleMu.RUnlock()
	return w.vehicle, w.hasVehicle
}

func (w *World) SetGoal(g types.Goal) {
	w.goalMu.Lock()
	defer w.goalMu.Unlock()
	w.goal = g
}

func (w *World) Goal() types.Goal {
	w.goalMu.RLock()
	defer w.goalMu.RUnlock()
	return w.goal
}

func (w *World) SetMode(m types.FlightMode) {
	w.modeMu.Lock()
	defer w.modeMu.Unlock()
	w.mode = m
}

func (w *World) Mode() types.FlightMode {
	w.modeMu.RLock()
	defer w.modeMu.RUnlock()
	return w.mode
}

// SetLastCommand records the command the streamer just emitted.
func (w *World) SetLastCommand(c trajectory.Command) {
	w.commandMu.Lock()
	defer w.commandMu.Unlock()
	w.command, w.hasCommand = c, true
}

func (w *World) LastCommand() (trajectory.Command, bool) {
	w.commandMu.RLock()
	defer w.commandMu.RUnlock()
	return w.command, w.hasCommand
}

func (w *World) ClearLastCommand() {
	w.commandMu.Lock()
	defer w.commandMu.Unlock()
	w.command, w.hasCommand = trajectory.Command{}, false
}
