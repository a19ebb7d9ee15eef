package trajectory

import (
	"math"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rollout integrates linearly varying accelerations into consistent samples.
func rollout(p0, v0 r3.Vector, accels []r3.Vector, dt float64) []Sample {
	samples := make([]Sample, len(accels))
	p, v := p0, v0
	for i, a := range accels {
		samples[i] = Sample{Pos: p, Vel: v, Accel: a}
		if i+1 < len(accels) {
			next := accels[i+1]
			p = p.Add(v.Mul(dt)).Add(a.Mul(dt * dt / 3)).Add(next.Mul(dt * dt / 6))
			v = v.Add(a.Add(next).Mul(dt / 2))
		}
	}
	return samples
}

func testTrajectory() *Trajectory {
	accels := []r3.Vector{{}, {X: 1, Y: -0.5}, {X: 2, Z: 0.3}, {X: -1}, {X: -2, Y: 0.5}, {}}
	return New(rollout(r3.Vector{X: 1, Y: 2, Z: 3}, r3.Vector{X: 0.5}, accels, 0.2), 0.2)
}

func vecNear(t *testing.T, want, got r3.Vector, msg string) {
	t.Helper()
	assert.InDelta(t, 0, want.Sub(got).Norm(), 1e-9, "%s: want %v got %v", msg, want, got)
}

func TestNewDerivesJerk(t *testing.T) {
	tr := testTrajectory()
	require.Equal(t, 6, tr.Len())
	assert.NotEmpty(t, tr.ID())
	vecNear(t, r3.Vector{X: 5, Y: -2.5}, tr.Sample(0).Jerk, "jerk 0")
	vecNear(t, r3.Vector{}, tr.Last().Jerk, "last jerk")
	assert.InDelta(t, 1.0, tr.Seconds(), 1e-12)
	assert.Equal(t, time.Second, tr.Duration())
}

func TestSamplesIsACopy(t *testing.T) {
	tr := testTrajectory()
	s := tr.Samples()
	s[0].Pos = r3.Vector{X: 99}
	vecNear(t, r3.Vector{X: 1, Y: 2, Z: 3}, tr.First().Pos, "first")
}

func TestAtHitsSamples(t *testing.T) {
	tr := testTrajectory()
	for i := 0; i < tr.Len()-1; i++ {
		c := tr.AtSeconds(float64(i) * tr.Dt())
		s := tr.Sample(i)
		vecNear(t, s.Pos, c.Pos, "pos")
		vecNear(t, s.Vel, c.Vel, "vel")
		vecNear(t, s.Accel, c.Accel, "accel")
	}
}

func TestAtIsContinuousAcrossSegments(t *testing.T) {
	tr := testTrajectory()
	const eps = 1e-7
	for i := 1; i < tr.Len()-1; i++ {
		at := float64(i) * tr.Dt()
		before := tr.AtSeconds(at - eps)
		after := tr.AtSeconds(at + eps)
		assert.InDelta(t, 0, before.Pos.Sub(after.Pos).Norm(), 1e-5)
		assert.InDelta(t, 0, before.Vel.Sub(after.Vel).Norm(), 1e-5)
		assert.InDelta(t, 0, before.Accel.Sub(after.Accel).Norm(), 1e-4)
	}
}

func TestAtEndpointsAndHold(t *testing.T) {
	tr := testTrajectory()
	vecNear(t, tr.First().Pos, tr.At(-time.Second).Pos, "before start")

	end := tr.At(tr.Duration())
	vecNear(t, tr.Last().Pos, end.Pos, "end pos")
	assert.Equal(t, r3.Vector{}, end.Vel)
	assert.Equal(t, r3.Vector{}, end.Accel)

	late := tr.At(10 * time.Second)
	assert.Equal(t, end, late)
}

func TestDense(t *testing.T) {
	tr := testTrajectory()
	cmds := tr.Dense(100 * time.Millisecond)
	require.Len(t, cmds, 11)
	vecNear(t, tr.First().Pos, cmds[0].Pos, "first")
	vecNear(t, tr.Last().Pos, cmds[len(cmds)-1].Pos, "last")
	assert.Nil(t, tr.Dense(0))
}

func TestMaxInput(t *testing.T) {
	assert.InDelta(t, 2.0, testTrajectory().MaxInput(), 1e-12)
}

func TestSlot(t *testing.T) {
	var s Slot
	assert.True(t, s.Empty())
	_, ok := s.Command(time.Now())
	assert.False(t, ok)

	tr := testTrajectory()
	at := time.Unix(100, 0)
	s.Swap(tr, at)
	got, gotAt := s.Load()
	assert.Same(t, tr, got)
	assert.Equal(t, at, gotAt)

	c, ok := s.Command(at.Add(400 * time.Millisecond))
	require.True(t, ok)
	vecNear(t, tr.Sample(2).Pos, c.Pos, "slot command")

	s.Clear()
	assert.True(t, s.Empty())
}

func TestHold(t *testing.T) {
	c := Command{Pos: r3.Vector{X: 1}, Vel: r3.Vector{Y: 2}, Accel: r3.Vector{Z: 3}, Jerk: r3.Vector{X: math.Pi}}
	assert.Equal(t, Command{Pos: r3.Vector{X: 1}}, c.Hold())
}
