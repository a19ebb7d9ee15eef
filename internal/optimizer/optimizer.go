// Package optimizer produces dynamically feasible, fixed-horizon trajectories
// between two boundary conditions.
package optimizer

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/NmBoyd/faster/internal/trajectory"
)

var (
	// ErrInfeasible means no time step in the search range kept every
	// input within the limit.
	ErrInfeasible = errors.New("trajectory infeasible")
	// ErrNotConverged means the solve produced numbers whose terminal state
	// does not match the request.
	ErrNotConverged = errors.New("trajectory did not converge")
)

// InputOrder names the derivative used as the control input.
type InputOrder int

const (
	// InputAccel drives the vehicle with acceleration; boundary conditions
	// cover position, velocity and acceleration.
	InputAccel InputOrder = iota + 2
)

func (o InputOrder) String() string {
	switch o {
	case InputAccel:
		return "accel"
	default:
		return "unknown"
	}
}

// State is a boundary state. Acceleration doubles as the input value at the
// boundary sample.
type State struct {
	Pos   r3.Vector
	Vel   r3.Vector
	Accel r3.Vector
}

// BoundaryCondition pins the first and last sample of a trajectory.
type BoundaryCondition struct {
	Initial  State
	Terminal State
}

// Shrink pulls the terminal position toward the initial one, keeping factor of
// the full gap.
func (bc BoundaryCondition) Shrink(factor float64) BoundaryCondition {
	out := bc
	out.Terminal.Pos = bc.Initial.Pos.Add(bc.Terminal.Pos.Sub(bc.Initial.Pos).Mul(factor))
	return out
}

// Config selects and tunes a solver.
type Config struct {
	InputOrder InputOrder
	// Samples is N, the number of samples in every trajectory.
	Samples int
	// DtMin, DtMax and DtGrowth bound the time-step search in seconds.
	DtMin    float64
	DtMax    float64
	DtGrowth float64
	// Tolerance bounds the terminal mismatch accepted by the convergence check.
	Tolerance float64
}

// Validate reports every malformed field.
func (c Config) Validate() error {
	var err error
	if c.InputOrder != InputAccel {
		err = multierr.Append(err, errors.Errorf("unsupported input order %d", c.InputOrder))
	}
	if c.Samples < 4 {
		err = multierr.Append(err, errors.Errorf("samples must be at least 4, got %d", c.Samples))
	}
	if c.DtMin <= 0 || c.DtMax < c.DtMin {
		err = multierr.Append(err, errors.Errorf("invalid dt range [%v, %v]", c.DtMin, c.DtMax))
	}
	if c.DtGrowth <= 1 {
		err = multierr.Append(err, errors.Errorf("dt growth must exceed 1, got %v", c.DtGrowth))
	}
	if c.Tolerance <= 0 {
		err = multierr.Append(err, errors.Errorf("tolerance must be positive, got %v", c.Tolerance))
	}
	return err
}

// Solver turns a boundary condition and an input limit into a trajectory.
type Solver interface {
	Solve(bc BoundaryCondition, limit float64) (*trajectory.Trajectory, error)
}

// New returns the solver for cfg.InputOrder.
func New(cfg Config) (Solver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.WithMessage(err, "optimizer config")
	}
	switch cfg.InputOrder {
	case InputAccel:
		return &accelSolver{cfg: cfg}, nil
	default:
		return nil, errors.Errorf("unsupported input order %v", cfg.InputOrder)
	}
}

// SolveRelaxed solves bc and, while the result is infeasible, retries up to
// attempts times with the terminal gap multiplied by shrink each time. It
// returns the trajectory and how many relaxations were needed.
func SolveRelaxed(s Solver, bc BoundaryCondition, limit float64, attempts int, shrink float64) (*trajectory.Trajectory, int, error) {
	traj, err := s.Solve(bc, limit)
	factor := 1.0
	for i := 1; err != nil && i <= attempts; i++ {
		if !errors.Is(err, ErrInfeasible) && !errors.Is(err, ErrNotConverged) {
			return nil, i - 1, err
		}
		factor *= shrink
		traj, err = s.Solve(bc.Shrink(factor), limit)
		if err == nil {
			return traj, i, nil
		}
	}
	if err != nil {
		return nil, attempts, errors.WithMessagef(err, "after %d relaxations", attempts)
	}
	return traj, 0, nil
}
