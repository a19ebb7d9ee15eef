// Package pathsearch finds collision-free waypoint sequences over a voxel grid
// built from the occupancy points.
package pathsearch

import (
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/graph/path"
	"gonum.org/v1/gonum/graph/simple"
)

// ErrNoPath is returned when no free route joins start and goal.
var ErrNoPath = errors.New("no path")

// Config sizes the search grid.
type Config struct {
	Resolution float64 // voxel edge length
	Inflation  float64 // safety radius around each occupied point
	Margin     float64 // padding around the occupancy bounds
	MaxVoxels  int     // refuse grids larger than this
}

// Validate reports every malformed field.
func (c Config) Validate() error {
	var err error
	if c.Resolution <= 0 {
		err = multierr.Append(err, errors.Errorf("voxel resolution must be positive, got %v", c.Resolution))
	}
	if c.Inflation < 0 {
		err = multierr.Append(err, errors.Errorf("inflation radius must not be negative, got %v", c.Inflation))
	}
	if c.Margin < 0 {
		err = multierr.Append(err, errors.Errorf("grid margin must not be negative, got %v", c.Margin))
	}
	if c.MaxVoxels <= 0 {
		err = multierr.Append(err, errors.Errorf("max voxels must be positive, got %d", c.MaxVoxels))
	}
	return err
}

// Path is an ordered waypoint sequence. The first waypoint is the exact
// start and the last the exact goal.
type Path struct {
	Waypoints []r3.Vector
	grid      *grid
}

// Direction is the unit direction of the first segment.
func (p Path) Direction() (r3.Vector, bool) {
	if len(p.Waypoints) < 2 {
		return r3.Vector{}, false
	}
	d := p.Waypoints[1].Sub(p.Waypoints[0])
	if d.Norm() == 0 {
		return r3.Vector{}, false
	}
	return d.Normalize(), true
}

// Length is the summed segment length.
func (p Path) Length() float64 {
	var l float64
	for i := 1; i < len(p.Waypoints); i++ {
		l += p.Waypoints[i].Distance(p.Waypoints[i-1])
	}
	return l
}

// PointAt returns the point at arc length s, clamped to the path ends.
func (p Path) PointAt(s float64) r3.Vector {
	if len(p.Waypoints) == 0 {
		return r3.Vector{}
	}
	for i := 1; i < len(p.Waypoints); i++ {
		a, b := p.Waypoints[i-1], p.Waypoints[i]
		seg := a.Distance(b)
		if s <= seg {
			if seg == 0 {
				return b
			}
			return a.Add(b.Sub(a).Mul(math.Max(s, 0) / seg))
		}
		s -= seg
	}
	return p.Waypoints[len(p.Waypoints)-1]
}

// Visible reports whether the segment a-b crosses only free voxels of the
// grid the path was searched on.
func (p Path) Visible(a, b r3.Vector) bool {
	if p.grid == nil {
		return false
	}
	return p.grid.visible(a, b)
}

// Searcher runs A* over a freshly built grid on every call.
type Searcher struct {
	cfg Config
}

// New returns a Searcher for cfg.
func New(cfg Config) (*Searcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.WithMessage(err, "invalid path search config")
	}
	return &Searcher{cfg: cfg}, nil
}

// FindPath returns the shortest 26-connected route from start to goal that
// avoids every voxel within the inflation radius of an occupancy point.
// Identical inputs give identical paths.
func (s *Searcher) FindPath(start, goal r3.Vector, occupancy []r3.Vector) (Path, error) {
	lo, hi := bounds(append([]r3.Vector{start, goal}, occupancy...))
	g := newGrid(lo, hi, s.cfg.Resolution, s.cfg.Margin)
	if g.size() > s.cfg.MaxVoxels {
		return Path{}, errors.WithMessagef(ErrNoPath, "grid of %d voxels exceeds %d", g.size(), s.cfg.MaxVoxels)
	}
	for _, p := range occupancy {
		g.inflate(p, s.cfg.Inflation)
	}

	sv, gv := g.locate(start), g.locate(goal)
	if !g.inside(sv) {
		return Path{}, errors.WithMessage(ErrNoPath, "start is outside the grid")
	}
	// The vehicle may already sit inside an inflated region.
	g.blocked[g.id(sv)] = false
	if !g.free(gv) {
		return Path{}, errors.WithMessage(ErrNoPath, "goal is blocked")
	}

	from, to := simple.Node(g.id(sv)), simple.Node(g.id(gv))
	shortest, _ := path.AStar(from, to, voxelGraph{g}, nil)
	nodes, cost := shortest.To(to.ID())
	if math.IsInf(cost, 1) || len(nodes) == 0 {
		return Path{}, ErrNoPath
	}

	raw := make([]r3.Vector, len(nodes))
	for i, n := range nodes {
		raw[i] = g.center(g.voxelOf(n.ID()))
	}
	raw[0] = start
	if len(raw) == 1 {
		raw = append(raw, goal)
	} else {
		raw[len(raw)-1] = goal
	}
	return Path{Waypoints: prune(g, raw), grid: g}, nil
}

// prune keeps, from each anchor, the farthest waypoint still visible from it.
func prune(g *grid, raw []r3.Vector) []r3.Vector {
	out := []r3.Vector{raw[0]}
	for i := 0; i < len(raw)-1; {
		next := i + 1
		for j := len(raw) - 1; j > i+1; j-- {
			if g.visible(raw[i], raw[j]) {
				next = j
				break
			}
		}
		out = append(out, raw[next])
		i = next
	}
	return out
}

func bounds(points []r3.Vector) (r3.Vector, r3.Vector) {
	lo, hi := points[0], points[0]
	for _, p := range points[1:] {
		lo = r3.Vector{X: math.Min(lo.X, p.X), Y: math.Min(lo.Y, p.Y), Z: math.Min(lo.Z, p.Z)}
		hi = r3.Vector{X: math.Max(hi.X, p.X), Y: math.Max(hi.Y, p.Y), Z: math.Max(hi.Z, p.Z)}
	}
	return lo, hi
}
