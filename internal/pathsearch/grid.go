package pathsearch

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/iterator"
	"gonum.org/v1/gonum/graph/simple"
)

// voxel is a grid cell index.
type voxel struct{ i, j, k int }

// neighbors is the 26-connected offset set in a fixed order.
var neighbors = func() []voxel {
	var out []voxel
	for dk := -1; dk <= 1; dk++ {
		for dj := -1; dj <= 1; dj++ {
			for di := -1; di <= 1; di++ {
				if di == 0 && dj == 0 && dk == 0 {
					continue
				}
				out = append(out, voxel{di, dj, dk})
			}
		}
	}
	return out
}()

// grid is an axis-aligned voxel grid. origin is the centre of voxel (0,0,0).
type grid struct {
	origin     r3.Vector
	res        float64
	nx, ny, nz int
	blocked    []bool
}

func newGrid(lo, hi r3.Vector, res, margin float64) *grid {
	m := r3.Vector{X: margin, Y: margin, Z: margin}
	lo, hi = lo.Sub(m), hi.Add(m)
	span := hi.Sub(lo)
	// locate rounds to the nearest centre, so the far bound may land on
	// index ceil(span/res).
	g := &grid{
		origin: lo,
		res:    res,
		nx:     int(math.Ceil(span.X/res)) + 1,
		ny:     int(math.Ceil(span.Y/res)) + 1,
		nz:     int(math.Ceil(span.Z/res)) + 1,
	}
	g.blocked = make([]bool, g.size())
	return g
}

func (g *grid) size() int { return g.nx * g.ny * g.nz }

func (g *grid) inside(v voxel) bool {
	return v.i >= 0 && v.j >= 0 && v.k >= 0 && v.i < g.nx && v.j < g.ny && v.k < g.nz
}

func (g *grid) id(v voxel) int64 {
	return int64(v.i + g.nx*(v.j+g.ny*v.k))
}

func (g *grid) voxelOf(id int64) voxel {
	n := int(id)
	return voxel{n % g.nx, (n / g.nx) % g.ny, n / (g.nx * g.ny)}
}

func (g *grid) locate(p r3.Vector) voxel {
	d := p.Sub(g.origin).Mul(1 / g.res)
	return voxel{int(math.Round(d.X)), int(math.Round(d.Y)), int(math.Round(d.Z))}
}

func (g *grid) center(v voxel) r3.Vector {
	return g.origin.Add(r3.Vector{X: float64(v.i), Y: float64(v.j), Z: float64(v.k)}.Mul(g.res))
}

func (g *grid) free(v voxel) bool {
	return g.inside(v) && !g.blocked[g.id(v)]
}

// inflate blocks every voxel whose cube lies within radius of p.
func (g *grid) inflate(p r3.Vector, radius float64) {
	c := g.locate(p)
	reach := int(math.Ceil(radius/g.res)) + 1
	half := g.res / 2
	for k := c.k - reach; k <= c.k+reach; k++ {
		for j := c.j - reach; j <= c.j+reach; j++ {
			for i := c.i - reach; i <= c.i+reach; i++ {
				v := voxel{i, j, k}
				if !g.inside(v) {
					continue
				}
				d := p.Sub(g.center(v))
				gap := r3.Vector{
					X: math.Max(0, math.Abs(d.X)-half),
					Y: math.Max(0, math.Abs(d.Y)-half),
					Z: math.Max(0, math.Abs(d.Z)-half),
				}
				if gap.Norm() <= radius {
					g.blocked[g.id(v)] = true
				}
			}
		}
	}
}

// visible walks the segment a-b at a quarter voxel and reports whether every
// visited voxel is free. An odd sample count keeps diagonal moves between
// voxel centres off the shared corner.
func (g *grid) visible(a, b r3.Vector) bool {
	step := g.res / 4
	n := int(math.Ceil(a.Distance(b)/step)) + 1
	if n%2 == 0 {
		n++
	}
	for s := 0; s <= n; s++ {
		q := a.Add(b.Sub(a).Mul(float64(s) / float64(n)))
		if !g.free(g.locate(q)) {
			return false
		}
	}
	return true
}

// voxelGraph exposes the free voxels of a grid to gonum's A*.
type voxelGraph struct{ g *grid }

func (vg voxelGraph) From(id int64) graph.Nodes {
	u := vg.g.voxelOf(id)
	var out []graph.Node
	for _, d := range neighbors {
		v := voxel{u.i + d.i, u.j + d.j, u.k + d.k}
		if vg.g.free(v) {
			out = append(out, simple.Node(vg.g.id(v)))
		}
	}
	return iterator.NewOrderedNodes(out)
}

func (vg voxelGraph) adjacent(uid, vid int64) bool {
	u, v := vg.g.voxelOf(uid), vg.g.voxelOf(vid)
	di, dj, dk := v.i-u.i, v.j-u.j, v.k-u.k
	if di == 0 && dj == 0 && dk == 0 {
		return false
	}
	return abs(di) <= 1 && abs(dj) <= 1 && abs(dk) <= 1 && vg.g.free(v)
}

func (vg voxelGraph) Edge(uid, vid int64) graph.Edge {
	if !vg.adjacent(uid, vid) {
		return nil
	}
	return simple.Edge{F: simple.Node(uid), T: simple.Node(vid)}
}

func (vg voxelGraph) Weight(xid, yid int64) (float64, bool) {
	if xid == yid {
		return 0, true
	}
	if !vg.adjacent(xid, yid) {
		return math.Inf(1), false
	}
	return vg.g.center(vg.g.voxelOf(xid)).Distance(vg.g.center(vg.g.voxelOf(yid))), true
}

func (vg voxelGraph) HeuristicCost(x, y graph.Node) float64 {
	return vg.g.center(vg.g.voxelOf(x.ID())).Distance(vg.g.center(vg.g.voxelOf(y.ID())))
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
