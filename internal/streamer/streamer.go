// Package streamer emits one flight controller setpoint per output period
// from the accepted trajectory, or from the takeoff and landing profiles.
package streamer

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"

	"github.com/NmBoyd/faster/internal/logging"
	"github.com/NmBoyd/faster/internal/trajectory"
	"github.com/NmBoyd/faster/internal/types"
	"github.com/NmBoyd/faster/internal/worldstate"
)

type Config struct {
	Period          time.Duration
	TakeoffAltitude float64
	TakeoffSpeed    float64
	LandAltitude    float64
	LandSpeed       float64
	// Feedforward keeps velocity, acceleration and jerk in emitted commands.
	Feedforward bool
}

type Streamer struct {
	cfg   Config
	world *worldstate.World
	clock clock.Clock
}

func New(cfg Config, world *worldstate.World, clk clock.Clock) *Streamer {
	return &Streamer{cfg, world, clk}
}

// Sample is the command for the current mode and time. It never blocks on
// the replanner: the slot is read under its own lock.
func (s *Streamer) Sample() (trajectory.Command, bool) {
	switch s.world.Mode() {
	case types.FlightModeFlying:
		if cmd, ok := s.world.Slot.Command(s.clock.Now()); ok {
			return cmd, true
		}
		if last, ok := s.world.LastCommand(); ok {
			return last.Hold(), true
		}
		return trajectory.Command{}, false
	case types.FlightModeTakingOff:
		return s.vertical(s.cfg.TakeoffAltitude, s.cfg.TakeoffSpeed)
	case types.FlightModeLanding:
		return s.vertical(s.cfg.LandAltitude, s.cfg.LandSpeed)
	default:
		return trajectory.Command{}, false
	}
}

// vertical moves the last command toward altitude at speed, one period at a
// time, holding the horizontal position.
func (s *Streamer) vertical(altitude, speed float64) (trajectory.Command, bool) {
	from, ok := s.world.LastCommand()
	if !ok {
		v, ok := s.world.VehicleState()
		if !ok {
			return trajectory.Command{}, false
		}
		from = trajectory.Command{Pos: v.Pos}
	}

	step := speed * s.cfg.Period.Seconds()
	gap := altitude - from.Pos.Z
	if math.Abs(gap) <= step {
		return trajectory.Command{Pos: r3.Vector{X: from.Pos.X, Y: from.Pos.Y, Z: altitude}}, true
	}
	dir := math.Copysign(1, gap)
	return trajectory.Command{
		Pos: r3.Vector{X: from.Pos.X, Y: from.Pos.Y, Z: from.Pos.Z + dir*step},
		Vel: r3.Vector{Z: dir * speed},
	}, true
}

type handler struct {
	streamer *Streamer
	deviceID string
	log      logging.Logger
}

// NewHandler posts a command message every output period.
func NewHandler(s *Streamer, deviceID string, log logging.Logger) types.MessageHandler {
	return &handler{s, deviceID, log}
}

func (h *handler) Run(ctx context.Context, wg *sync.WaitGroup, post types.PostFn) {
	ticker := h.streamer.clock.Ticker(h.streamer.cfg.Period)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				h.log.Info("Streamer shutting down")
				return
			case <-ticker.C:
				if msg, ok := h.tick(); ok {
					post(msg)
				}
			}
		}
	}()
}

func (h *handler) Receive(message types.Message) {
}

func (h *handler) tick() (types.Message, bool) {
	cmd, ok := h.streamer.Sample()
	if !ok {
		return types.Message{}, false
	}
	h.streamer.world.SetLastCommand(cmd)
	if !h.streamer.cfg.Feedforward {
		cmd = cmd.Hold()
	}
	msg := types.CreateMessage(types.CommandType, h.deviceID, h.deviceID, cmd)
	msg.Timestamp = h.streamer.clock.Now().UTC()
	return msg, true
}
