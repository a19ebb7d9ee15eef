// Package trajectory holds the discrete trajectories produced by the optimizer,
// the interpolator that turns them into dense commands, and the slot that
// publishes the accepted one to the output stream.
package trajectory

import (
	"math"
	"time"

	"github.com/golang/geo/r3"
	"github.com/google/uuid"
)

// Sample is one discrete state of a trajectory. Jerk is constant over the
// segment that starts at this sample; the last sample carries zero jerk.
type Sample struct {
	Pos   r3.Vector `json:"pos"`
	Vel   r3.Vector `json:"vel"`
	Accel r3.Vector `json:"accel"`
	Jerk  r3.Vector `json:"jerk"`
}

// Command is one interpolated setpoint for the flight controller.
type Command struct {
	Pos   r3.Vector `json:"pos"`
	Vel   r3.Vector `json:"vel"`
	Accel r3.Vector `json:"accel"`
	Jerk  r3.Vector `json:"jerk"`
}

// Hold returns c with every derivative zeroed.
func (c Command) Hold() Command {
	return Command{Pos: c.Pos}
}

// Trajectory is an immutable sequence of samples spaced dt seconds apart.
type Trajectory struct {
	id      string
	samples []Sample
	dt      float64
}

// New copies samples into a new trajectory. Jerk is derived from consecutive
// accelerations so that the piecewise cubic matches the sample states.
func New(samples []Sample, dt float64) *Trajectory {
	s := make([]Sample, len(samples))
	copy(s, samples)
	for i := 0; i < len(s)-1; i++ {
		s[i].Jerk = s[i+1].Accel.Sub(s[i].Accel).Mul(1 / dt)
	}
	if len(s) > 0 {
		s[len(s)-1].Jerk = r3.Vector{}
	}
	return &Trajectory{id: uuid.New().String(), samples: s, dt: dt}
}

// ID identifies the trajectory in published events.
func (t *Trajectory) ID() string { return t.id }

// Len is the number of samples.
func (t *Trajectory) Len() int { return len(t.samples) }

// Dt is the time step between samples in seconds.
func (t *Trajectory) Dt() float64 { return t.dt }

// Sample returns sample i.
func (t *Trajectory) Sample(i int) Sample { return t.samples[i] }

// Samples returns a copy of all samples.
func (t *Trajectory) Samples() []Sample {
	s := make([]Sample, len(t.samples))
	copy(s, t.samples)
	return s
}

// First is sample 0.
func (t *Trajectory) First() Sample { return t.samples[0] }

// Last is sample N-1.
func (t *Trajectory) Last() Sample { return t.samples[len(t.samples)-1] }

// Seconds is the total duration in seconds.
func (t *Trajectory) Seconds() float64 {
	if len(t.samples) < 2 {
		return 0
	}
	return float64(len(t.samples)-1) * t.dt
}

// Duration is the total duration.
func (t *Trajectory) Duration() time.Duration {
	return time.Duration(t.Seconds() * float64(time.Second))
}

// MaxInput is the largest per-axis acceleration over all samples.
func (t *Trajectory) MaxInput() float64 {
	var m float64
	for _, s := range t.samples {
		m = math.Max(m, math.Max(math.Abs(s.Accel.X), math.Max(math.Abs(s.Accel.Y), math.Abs(s.Accel.Z))))
	}
	return m
}

// Positions returns the sample positions, for visualisation.
func (t *Trajectory) Positions() []r3.Vector {
	out := make([]r3.Vector, len(t.samples))
	for i, s := range t.samples {
		out[i] = s.Pos
	}
	return out
}
