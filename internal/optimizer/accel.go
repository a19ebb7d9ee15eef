package optimizer

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"github.com/NmBoyd/faster/internal/trajectory"
)

// accelSolver uses acceleration as the input, varying linearly between
// samples. The first and last accelerations come from the boundary
// condition; the N-2 interior ones minimise their sum of squares subject to
// the terminal position and velocity. Each axis is an independent
// minimum-norm problem A x = b with A of size 2 x (N-2).
type accelSolver struct {
	cfg Config
}

// axis is one coordinate of a boundary condition.
type axis struct {
	p0, v0, a0 float64
	pf, vf, af float64
}

func splitAxes(bc BoundaryCondition) [3]axis {
	i, f := bc.Initial, bc.Terminal
	return [3]axis{
		{i.Pos.X, i.Vel.X, i.Accel.X, f.Pos.X, f.Vel.X, f.Accel.X},
		{i.Pos.Y, i.Vel.Y, i.Accel.Y, f.Pos.Y, f.Vel.Y, f.Accel.Y},
		{i.Pos.Z, i.Vel.Z, i.Accel.Z, f.Pos.Z, f.Vel.Z, f.Accel.Z},
	}
}

func (s *accelSolver) Solve(bc BoundaryCondition, limit float64) (*trajectory.Trajectory, error) {
	if limit <= 0 {
		return nil, errors.Errorf("input limit must be positive, got %v", limit)
	}
	axes := splitAxes(bc)
	for dt := s.cfg.DtMin; dt <= s.cfg.DtMax*(1+1e-9); dt *= s.cfg.DtGrowth {
		var accels [3][]float64
		feasible := true
		for k, ax := range axes {
			a, err := s.solveAxis(ax, dt)
			if err != nil {
				return nil, err
			}
			if maxAbs(a) > limit {
				feasible = false
				break
			}
			accels[k] = a
		}
		if !feasible {
			continue
		}
		traj := s.build(bc, accels, dt)
		if err := s.checkConvergence(traj, bc); err != nil {
			return nil, err
		}
		return traj, nil
	}
	return nil, errors.WithMessagef(ErrInfeasible, "limit %.3f over dt [%.3f, %.3f]", limit, s.cfg.DtMin, s.cfg.DtMax)
}

// solveAxis returns the N accelerations of one axis for a fixed dt.
func (s *accelSolver) solveAxis(ax axis, dt float64) ([]float64, error) {
	n := s.cfg.Samples
	free := n - 2

	// The terminal state is affine in the interior accelerations: the
	// offset comes from rolling out with them all zero, each column of A
	// from rolling out a unit acceleration with zero boundaries.
	base := make([]float64, n)
	base[0], base[n-1] = ax.a0, ax.af
	p, v := integrate(ax.p0, ax.v0, base, dt)
	b := mat.NewVecDense(2, []float64{ax.pf - p, ax.vf - v})

	A := mat.NewDense(2, free, nil)
	unit := make([]float64, n)
	for i := 0; i < free; i++ {
		unit[i+1] = 1
		p, v := integrate(0, 0, unit, dt)
		A.Set(0, i, p)
		A.Set(1, i, v)
		unit[i+1] = 0
	}

	var aat mat.Dense
	aat.Mul(A, A.T())
	var y mat.VecDense
	if err := y.SolveVec(&aat, b); err != nil {
		return nil, errors.WithMessage(err, "minimum-norm solve")
	}
	var x mat.VecDense
	x.MulVec(A.T(), &y)

	out := base
	for i := 0; i < free; i++ {
		out[i+1] = x.AtVec(i)
	}
	return out, nil
}

// integrate rolls position and velocity forward under linearly varying
// acceleration and returns the state at the last sample.
func integrate(p, v float64, accels []float64, dt float64) (float64, float64) {
	for i := 0; i+1 < len(accels); i++ {
		a, next := accels[i], accels[i+1]
		p += v*dt + dt*dt*(a/3+next/6)
		v += dt * (a + next) / 2
	}
	return p, v
}

func (s *accelSolver) build(bc BoundaryCondition, accels [3][]float64, dt float64) *trajectory.Trajectory {
	n := s.cfg.Samples
	samples := make([]trajectory.Sample, n)
	p, v := bc.Initial.Pos, bc.Initial.Vel
	for i := 0; i < n; i++ {
		a := r3.Vector{X: accels[0][i], Y: accels[1][i], Z: accels[2][i]}
		samples[i] = trajectory.Sample{Pos: p, Vel: v, Accel: a}
		if i+1 < n {
			next := r3.Vector{X: accels[0][i+1], Y: accels[1][i+1], Z: accels[2][i+1]}
			p = p.Add(v.Mul(dt)).Add(a.Mul(dt * dt / 3)).Add(next.Mul(dt * dt / 6))
			v = v.Add(a.Add(next).Mul(dt / 2))
		}
	}
	return trajectory.New(samples, dt)
}

// checkConvergence compares the integrated terminal state to the request.
func (s *accelSolver) checkConvergence(traj *trajectory.Trajectory, bc BoundaryCondition) error {
	last := traj.Last()
	dp := last.Pos.Sub(bc.Terminal.Pos).Norm()
	dv := last.Vel.Sub(bc.Terminal.Vel).Norm()
	if dp > s.cfg.Tolerance || dv > s.cfg.Tolerance || math.IsNaN(dp) || math.IsNaN(dv) {
		return errors.WithMessagef(ErrNotConverged, "terminal error pos %.4f vel %.4f", dp, dv)
	}
	return nil
}

func maxAbs(xs []float64) float64 {
	var m float64
	for _, x := range xs {
		m = math.Max(m, math.Abs(x))
	}
	return m
}
