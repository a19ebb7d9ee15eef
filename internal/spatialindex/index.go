// Package spatialindex keeps k-d trees over the static map and a bounded,
// age-limited history of transient observations.
package spatialindex

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/spatial/kdtree"
)

// ErrUnavailable is returned when querying a tree that was never built.
// Callers must read it as "no obstacle data", never as "clear".
var ErrUnavailable = errors.New("spatial index unavailable")

// TreeID names a tree: the zero value is the map, anything else a transient
// batch keyed by its arrival time.
type TreeID struct {
	Transient bool
	Stamp     time.Time
}

// MapTree is the static map.
var MapTree = TreeID{}

// ObservationTree names the transient batch that arrived at stamp.
func ObservationTree(stamp time.Time) TreeID {
	return TreeID{Transient: true, Stamp: stamp}
}

func (id TreeID) String() string {
	if !id.Transient {
		return "map"
	}
	return "observation@" + id.Stamp.Format(time.RFC3339Nano)
}

// Neighbor is a point returned by a query with its Euclidean distance.
type Neighbor struct {
	Point    r3.Vector
	Distance float64
}

// tree is one k-d tree. Rebuild and query hold the same lock.
type tree struct {
	mu     sync.RWMutex
	kd     *kdtree.Tree
	points []r3.Vector
	stamp  time.Time
}

func (t *tree) rebuild(points []r3.Vector) {
	kd := kdtree.New(toKD(points), false)
	own := append([]r3.Vector(nil), points...)
	t.mu.Lock()
	t.kd = kd
	t.points = own
	t.mu.Unlock()
}

func (t *tree) nearest(q r3.Vector, k int) ([]Neighbor, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.kd == nil {
		return nil, ErrUnavailable
	}
	if t.kd.Root == nil || k <= 0 {
		return nil, nil
	}
	keep := kdtree.NewNKeeper(k)
	t.kd.NearestSet(keep, toPoint(q))
	return fromHeap(keep.Heap), nil
}

func (t *tree) withinRadius(q r3.Vector, r float64) ([]Neighbor, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.kd == nil {
		return nil, ErrUnavailable
	}
	if t.kd.Root == nil {
		return nil, nil
	}
	// kdtree distances are squared.
	keep := kdtree.NewDistKeeper(r * r)
	t.kd.NearestSet(keep, toPoint(q))
	return fromHeap(keep.Heap), nil
}

func (t *tree) snapshot() []r3.Vector {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.points
}

// Index holds the map tree and the live transient trees.
type Index struct {
	clock  clock.Clock
	maxAge time.Duration

	mapTree tree

	mu        sync.Mutex
	transient []*tree // ordered by stamp
}

// New returns an index that drops transient batches older than maxAge.
func New(clk clock.Clock, maxAge time.Duration) *Index {
	return &Index{clock: clk, maxAge: maxAge}
}

// Rebuild replaces the point set of tree id.
func (ix *Index) Rebuild(id TreeID, points []r3.Vector) {
	if !id.Transient {
		ix.mapTree.rebuild(points)
		return
	}

	ix.mu.Lock()
	t, ok := lo.Find(ix.transient, func(t *tree) bool { return t.stamp.Equal(id.Stamp) })
	if !ok {
		t = &tree{stamp: id.Stamp}
		ix.transient = append(ix.transient, t)
		sort.SliceStable(ix.transient, func(i, j int) bool {
			return ix.transient[i].stamp.Before(ix.transient[j].stamp)
		})
	}
	ix.mu.Unlock()

	t.rebuild(points)
}

// HasMap reports whether the map tree was ever built.
func (ix *Index) HasMap() bool {
	ix.mapTree.mu.RLock()
	defer ix.mapTree.mu.RUnlock()
	return ix.mapTree.kd != nil
}

// evict drops transient trees older than maxAge. Callers hold ix.mu.
func (ix *Index) evict() {
	now := ix.clock.Now()
	ix.transient = lo.Filter(ix.transient, func(t *tree, _ int) bool {
		return now.Sub(t.stamp) <= ix.maxAge
	})
}

// Live returns the ids of the transient trees that survive eviction.
func (ix *Index) Live() []TreeID {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.evict()
	return lo.Map(ix.transient, func(t *tree, _ int) TreeID { return ObservationTree(t.stamp) })
}

func (ix *Index) lookup(id TreeID) (*tree, error) {
	if !id.Transient {
		return &ix.mapTree, nil
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.evict()
	t, ok := lo.Find(ix.transient, func(t *tree) bool { return t.stamp.Equal(id.Stamp) })
	if !ok {
		return nil, errors.WithMessagef(ErrUnavailable, "tree %v", id)
	}
	return t, nil
}

// Nearest returns up to k nearest points of tree id, closest first.
func (ix *Index) Nearest(id TreeID, q r3.Vector, k int) ([]Neighbor, error) {
	t, err := ix.lookup(id)
	if err != nil {
		return nil, err
	}
	return t.nearest(q, k)
}

// WithinRadius returns every point of tree id within r of q, closest first.
func (ix *Index) WithinRadius(id TreeID, q r3.Vector, r float64) ([]Neighbor, error) {
	t, err := ix.lookup(id)
	if err != nil {
		return nil, err
	}
	return t.withinRadius(q, r)
}

// NearestInMap is the closest map point to q.
func (ix *Index) NearestInMap(q r3.Vector) (Neighbor, bool, error) {
	n, err := ix.mapTree.nearest(q, 1)
	if err != nil || len(n) == 0 {
		return Neighbor{}, false, err
	}
	return n[0], true, nil
}

// NearestInObservations is the closest point over every live transient tree.
func (ix *Index) NearestInObservations(q r3.Vector) (Neighbor, bool) {
	best := Neighbor{Distance: math.Inf(1)}
	found := false
	for _, id := range ix.Live() {
		n, err := ix.Nearest(id, q, 1)
		if err != nil || len(n) == 0 {
			continue
		}
		if n[0].Distance < best.Distance {
			best, found = n[0], true
		}
	}
	return best, found
}

// Points returns the map points followed by every live observation point.
func (ix *Index) Points() []r3.Vector {
	out := append([]r3.Vector(nil), ix.mapTree.snapshot()...)
	ix.mu.Lock()
	ix.evict()
	live := append([]*tree(nil), ix.transient...)
	ix.mu.Unlock()
	for _, t := range live {
		out = append(out, t.snapshot()...)
	}
	return out
}

func toPoint(v r3.Vector) kdtree.Point {
	return kdtree.Point{v.X, v.Y, v.Z}
}

func toKD(points []r3.Vector) kdtree.Points {
	return lo.Map(points, func(v r3.Vector, _ int) kdtree.Point { return toPoint(v) })
}

func fromHeap(h kdtree.Heap) []Neighbor {
	out := make([]Neighbor, 0, len(h))
	for _, c := range h {
		if c.Comparable == nil {
			continue
		}
		p := c.Comparable.(kdtree.Point)
		out = append(out, Neighbor{Point: r3.Vector{X: p[0], Y: p[1], Z: p[2]}, Distance: math.Sqrt(c.Dist)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	return out
}
