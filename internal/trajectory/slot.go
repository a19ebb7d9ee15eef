package trajectory

import (
	"sync"
	"time"
)

// Slot publishes the accepted trajectory. The replanner is the only writer and
// the output stream the main reader; a swap replaces the pointer and the
// acceptance time together so readers never see one without the other.
type Slot struct {
	mu         sync.RWMutex
	traj       *Trajectory
	acceptedAt time.Time
}

// Swap installs t as the accepted trajectory, restarting interpolation at now.
func (s *Slot) Swap(t *Trajectory, now time.Time) {
	s.mu.Lock()
	s.traj = t
	s.acceptedAt = now
	s.mu.Unlock()
}

// Clear drops the accepted trajectory.
func (s *Slot) Clear() {
	s.mu.Lock()
	s.traj = nil
	s.acceptedAt = time.Time{}
	s.mu.Unlock()
}

// Load returns the accepted trajectory and when it was accepted.
func (s *Slot) Load() (*Trajectory, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.traj, s.acceptedAt
}

// Empty reports whether no trajectory has been accepted.
func (s *Slot) Empty() bool {
	t, _ := s.Load()
	return t == nil
}

// Command interpolates the accepted trajectory at now.
func (s *Slot) Command(now time.Time) (Command, bool) {
	t, at := s.Load()
	if t == nil {
		return Command{}, false
	}
	return t.At(now.Sub(at)), true
}
