// Package verifier checks candidate trajectories against the spatial index.
package verifier

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/NmBoyd/faster/internal/spatialindex"
	"github.com/NmBoyd/faster/internal/trajectory"
)

var (
	// ErrUnsafe is returned when a sample comes closer than the clearance to
	// an obstacle.
	ErrUnsafe = errors.New("trajectory violates clearance")
	// ErrStaleMap is returned when no map was ever received and the startup
	// grace policy is off.
	ErrStaleMap = errors.New("no map received")
)

type Config struct {
	Clearance float64
	// SubSteps is the number of checks per optimizer step.
	SubSteps int
	// StartupGrace lets trajectories through on transient observations alone
	// until the first map arrives.
	StartupGrace bool
}

func (c Config) Validate() error {
	var err error
	if c.Clearance <= 0 {
		err = multierr.Append(err, errors.Errorf("clearance must be positive, got %v", c.Clearance))
	}
	if c.SubSteps <= 0 {
		err = multierr.Append(err, errors.Errorf("sub steps must be positive, got %d", c.SubSteps))
	}
	return err
}

// Violation describes the first sample found too close to an obstacle.
type Violation struct {
	Seconds  float64
	Point    r3.Vector
	Obstacle r3.Vector
	Distance float64
}

type Verifier struct {
	cfg   Config
	index *spatialindex.Index
}

func New(cfg Config, index *spatialindex.Index) (*Verifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.WithMessage(err, "invalid verifier config")
	}
	return &Verifier{cfg: cfg, index: index}, nil
}

// Check samples traj SubSteps times per step and stops at the first sample
// closer than the clearance to a map or live observation point.
func (v *Verifier) Check(traj *trajectory.Trajectory) (*Violation, error) {
	useMap := v.index.HasMap()
	if !useMap && !v.cfg.StartupGrace {
		return nil, ErrStaleMap
	}

	steps := (traj.Len()-1)*v.cfg.SubSteps + 1
	for s := 0; s < steps; s++ {
		sec := float64(s) * traj.Dt() / float64(v.cfg.SubSteps)
		p := traj.AtSeconds(sec).Pos
		if viol := v.checkPoint(p, useMap); viol != nil {
			viol.Seconds = sec
			return viol, errors.WithMessagef(ErrUnsafe, "%.3fm from obstacle at t=%.3fs", viol.Distance, sec)
		}
	}
	return nil, nil
}

func (v *Verifier) checkPoint(p r3.Vector, useMap bool) *Violation {
	if useMap {
		if n, ok, err := v.index.NearestInMap(p); err == nil && ok && n.Distance < v.cfg.Clearance {
			return &Violation{Point: p, Obstacle: n.Point, Distance: n.Distance}
		}
	}
	if n, ok := v.index.NearestInObservations(p); ok && n.Distance < v.cfg.Clearance {
		return &Violation{Point: p, Obstacle: n.Point, Distance: n.Distance}
	}
	return nil
}

// IsFree reports whether Check passes.
func (v *Verifier) IsFree(traj *trajectory.Trajectory) bool {
	_, err := v.Check(traj)
	return err == nil
}
