package trajectory

import (
	"math"
	"time"
)

// At evaluates the trajectory at the given time since acceptance.
//
// Inside segment k the acceleration is linear, so with tau = t - k*dt:
//
//	a(tau) = a_k + j_k*tau
//	v(tau) = v_k + a_k*tau + j_k*tau^2/2
//	p(tau) = p_k + v_k*tau + a_k*tau^2/2 + j_k*tau^3/6
//
// Past the end the final position is held with zero derivatives.
func (t *Trajectory) At(elapsed time.Duration) Command {
	return t.AtSeconds(elapsed.Seconds())
}

// AtSeconds is At with the elapsed time in seconds.
func (t *Trajectory) AtSeconds(sec float64) Command {
	n := len(t.samples)
	if n == 0 {
		return Command{}
	}
	if sec <= 0 {
		s := t.samples[0]
		return Command{Pos: s.Pos, Vel: s.Vel, Accel: s.Accel, Jerk: s.Jerk}
	}
	if n == 1 || sec >= t.Seconds() {
		return Command{Pos: t.samples[n-1].Pos}
	}

	k := int(math.Floor(sec / t.dt))
	if k > n-2 {
		k = n - 2
	}
	tau := sec - float64(k)*t.dt
	s := t.samples[k]
	tau2 := tau * tau
	tau3 := tau2 * tau

	return Command{
		Pos:   s.Pos.Add(s.Vel.Mul(tau)).Add(s.Accel.Mul(tau2 / 2)).Add(s.Jerk.Mul(tau3 / 6)),
		Vel:   s.Vel.Add(s.Accel.Mul(tau)).Add(s.Jerk.Mul(tau2 / 2)),
		Accel: s.Accel.Add(s.Jerk.Mul(tau)),
		Jerk:  s.Jerk,
	}
}

// Dense expands the trajectory into commands spaced period apart, starting at
// zero and ending with the final sample.
func (t *Trajectory) Dense(period time.Duration) []Command {
	if period <= 0 {
		return nil
	}
	total := t.Duration()
	out := make([]Command, 0, int(total/period)+2)
	for e := time.Duration(0); e < total; e += period {
		out = append(out, t.At(e))
	}
	return append(out, t.At(total))
}
