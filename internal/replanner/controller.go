// Package replanner runs the periodic search, optimize, verify and swap cycle.
package replanner

import (
	"math"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/NmBoyd/faster/internal/logging"
	"github.com/NmBoyd/faster/internal/optimizer"
	"github.com/NmBoyd/faster/internal/pathsearch"
	"github.com/NmBoyd/faster/internal/trajectory"
	"github.com/NmBoyd/faster/internal/types"
	"github.com/NmBoyd/faster/internal/verifier"
	"github.com/NmBoyd/faster/internal/worldstate"
)

type Phase int

const (
	PhaseIdle Phase = iota
	PhasePlanning
	PhaseHolding
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhasePlanning:
		return "planning"
	case PhaseHolding:
		return "holding"
	default:
		return "unknown"
	}
}

// restSpeed is the speed under which the vehicle counts as stopped at the goal.
const restSpeed = 0.05

// backoffSteps is how many points along the path are tried as terminal.
const backoffSteps = 10

type PathFinder interface {
	FindPath(start, goal r3.Vector, occupancy []r3.Vector) (pathsearch.Path, error)
}

type Checker interface {
	Check(traj *trajectory.Trajectory) (*verifier.Violation, error)
}

type Config struct {
	// Horizon is the arc length along the path planned per tick.
	Horizon       float64
	GoalTolerance float64
	InputLimit    float64
	RelaxAttempts int
	ShrinkFactor  float64
	// RetainRejected keeps unsafe candidates for diagnostics.
	RetainRejected bool
}

func (c Config) Validate() error {
	var err error
	if c.Horizon <= 0 {
		err = multierr.Append(err, errors.Errorf("horizon must be positive, got %v", c.Horizon))
	}
	if c.InputLimit <= 0 {
		err = multierr.Append(err, errors.Errorf("input limit must be positive, got %v", c.InputLimit))
	}
	if c.RelaxAttempts < 0 {
		err = multierr.Append(err, errors.Errorf("relax attempts must not be negative, got %d", c.RelaxAttempts))
	}
	if c.ShrinkFactor <= 0 || c.ShrinkFactor >= 1 {
		err = multierr.Append(err, errors.Errorf("shrink factor must be in (0, 1), got %v", c.ShrinkFactor))
	}
	return err
}

// Outcome describes what one tick did.
type Outcome struct {
	Phase       Phase
	Accepted    *trajectory.Trajectory
	Waypoints   []r3.Vector
	Rejected    *trajectory.Trajectory
	Relaxations int
	Err         error
	// Persistent is set on failure while no accepted trajectory exists.
	Persistent bool
}

type Controller struct {
	cfg      Config
	world    *worldstate.World
	search   PathFinder
	solver   optimizer.Solver
	checker  Checker
	clock    clock.Clock
	log      logging.Logger
	phase    Phase
	rejected *trajectory.Trajectory
}

func New(cfg Config, world *worldstate.World, search PathFinder, solver optimizer.Solver, checker Checker, clk clock.Clock, log logging.Logger) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.WithMessage(err, "invalid replanner config")
	}
	return &Controller{
		cfg:     cfg,
		world:   world,
		search:  search,
		solver:  solver,
		checker: checker,
		clock:   clk,
		log:     log,
	}, nil
}

// Phase is the state after the last tick.
func (c *Controller) Phase() Phase { return c.phase }

// LastRejected is the most recent unsafe candidate when retention is on.
func (c *Controller) LastRejected() *trajectory.Trajectory { return c.rejected }

// Tick runs one replan cycle against a snapshot of the world. It never
// replaces the accepted trajectory with anything that failed a stage.
func (c *Controller) Tick() Outcome {
	snap := c.world.Snapshot()
	now := c.clock.Now()

	if snap.Mode != types.FlightModeFlying {
		if snap.Mode == types.FlightModeGrounded {
			c.world.Slot.Clear()
			c.world.ClearLastCommand()
			c.phase = PhaseIdle
		}
		return Outcome{Phase: c.phase}
	}
	if !snap.Goal.Valid {
		// Idle, but flying without a goal is still reported every tick.
		out := c.failed(fail(ErrDataUnavailable, errors.New("no goal set")))
		c.phase = PhaseIdle
		out.Phase = c.phase
		return out
	}

	seed, err := c.seed(snap, now)
	if err != nil {
		return c.failed(err)
	}
	if seed.Pos.Distance(snap.Goal.Pos) <= c.cfg.GoalTolerance && seed.Vel.Norm() <= restSpeed {
		c.phase = PhaseHolding
		return Outcome{Phase: c.phase}
	}

	c.phase = PhasePlanning
	path, err := c.search.FindPath(seed.Pos, snap.Goal.Pos, c.world.Index.Points())
	if err != nil {
		return c.failed(fail(ErrNoPath, err))
	}

	bc := optimizer.BoundaryCondition{
		Initial:  seed,
		Terminal: optimizer.State{Pos: c.terminal(path, seed.Pos)},
	}
	traj, relaxations, err := optimizer.SolveRelaxed(c.solver, bc, c.cfg.InputLimit, c.cfg.RelaxAttempts, c.cfg.ShrinkFactor)
	if err != nil {
		return c.failed(fail(ErrInfeasible, err))
	}

	if _, err := c.checker.Check(traj); err != nil {
		if errors.Is(err, verifier.ErrStaleMap) {
			return c.failed(fail(ErrStaleMap, err))
		}
		out := c.failed(fail(ErrUnsafe, err))
		if c.cfg.RetainRejected {
			c.rejected = traj
			out.Rejected = traj
			out.Waypoints = path.Waypoints
		}
		return out
	}

	c.world.Slot.Swap(traj, now)
	c.phase = PhaseHolding
	return Outcome{
		Phase:       c.phase,
		Accepted:    traj,
		Waypoints:   path.Waypoints,
		Relaxations: relaxations,
	}
}

func (c *Controller) failed(err error) Outcome {
	if c.world.Slot.Empty() {
		c.phase = PhasePlanning
	} else {
		c.phase = PhaseHolding
	}
	return Outcome{Phase: c.phase, Err: err, Persistent: c.world.Slot.Empty()}
}

// seed is the state the new trajectory starts from: where the accepted one
// puts the vehicle now, else the last streamed command, else the estimate.
func (c *Controller) seed(snap worldstate.Snapshot, now time.Time) (optimizer.State, error) {
	if cmd, ok := c.world.Slot.Command(now); ok {
		return optimizer.State{Pos: cmd.Pos, Vel: cmd.Vel, Accel: cmd.Accel}, nil
	}
	if snap.HasCommand {
		cmd := snap.LastCommand
		return optimizer.State{Pos: cmd.Pos, Vel: cmd.Vel, Accel: cmd.Accel}, nil
	}
	if snap.HasVehicle {
		v := snap.Vehicle
		return optimizer.State{Pos: v.Pos, Vel: v.Vel, Accel: v.Accel}, nil
	}
	return optimizer.State{}, fail(ErrDataUnavailable, errors.New("no vehicle state received"))
}

// terminal is the farthest point within the horizon along the path that the
// seed can reach in a straight, unblocked line.
func (c *Controller) terminal(path pathsearch.Path, from r3.Vector) r3.Vector {
	reach := path.Length()
	if reach > c.cfg.Horizon {
		reach = c.cfg.Horizon
	}
	for i := backoffSteps; i > 0; i-- {
		p := path.PointAt(reach * float64(i) / backoffSteps)
		if path.Visible(from, p) {
			return p
		}
	}
	if len(path.Waypoints) > 1 {
		return path.PointAt(math.Min(reach, path.Waypoints[1].Distance(from)))
	}
	return from
}
