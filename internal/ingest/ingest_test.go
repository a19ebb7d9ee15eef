package ingest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NmBoyd/faster/internal/logging"
	"github.com/NmBoyd/faster/internal/spatialindex"
	"github.com/NmBoyd/faster/internal/types"
	"github.com/NmBoyd/faster/internal/worldstate"
)

func newWorld() (*worldstate.World, *clock.Mock) {
	clk := clock.NewMock()
	return worldstate.New(spatialindex.New(clk, time.Second)), clk
}

func TestReceiveStoresSnapshots(t *testing.T) {
	world, clk := newWorld()
	h := New(world, 4, clk, logging.NewTestLogger(t))

	h.Receive(types.CreateMessage(types.VehicleStateType, "fc", "drone", types.VehicleState{Pos: r3.Vector{Z: 2}}))
	h.Receive(types.CreateMessage(types.GoalType, "ground", "drone", types.Goal{Pos: r3.Vector{X: 5}, Valid: true}))
	h.Receive(types.CreateMessage(types.FlightModeType, "fc", "drone", types.FlightModeFlying))

	s := world.Snapshot()
	assert.True(t, s.HasVehicle)
	assert.Equal(t, 2.0, s.Vehicle.Pos.Z)
	assert.Equal(t, types.Goal{Pos: r3.Vector{X: 5}, Valid: true}, s.Goal)
	assert.Equal(t, types.FlightModeFlying, s.Mode)

	// last write wins
	h.Receive(types.CreateMessage(types.GoalType, "ground", "drone", types.Goal{}))
	assert.False(t, world.Goal().Valid)
}

func TestCloudsRebuildTrees(t *testing.T) {
	world, clk := newWorld()
	h := New(world, 4, clk, logging.NewTestLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	h.Run(ctx, &wg, func(types.Message) {})
	defer func() {
		cancel()
		wg.Wait()
	}()

	h.Receive(types.CreateMessage(types.MapCloudType, "mapper", "drone", types.PointCloud{Points: []r3.Vector{{X: 1}}}))
	h.Receive(types.CreateMessage(types.ObservationCloudType, "sensor", "drone", types.PointCloud{
		Stamp:  time.Unix(1e6, 0),
		Points: []r3.Vector{{Y: 1}},
	}))

	require.Eventually(t, func() bool {
		return world.Index.HasMap() && len(world.Index.Live()) == 1
	}, time.Second, time.Millisecond)
	assert.Equal(t, []spatialindex.TreeID{spatialindex.ObservationTree(clk.Now())}, world.Index.Live())
	assert.ElementsMatch(t, []r3.Vector{{X: 1}, {Y: 1}}, world.Index.Points())
}

func TestFullQueueDropsClouds(t *testing.T) {
	world, clk := newWorld()
	h := New(world, 1, clk, logging.NewTestLogger(t)).(*ingest)

	cloud := types.PointCloud{Points: []r3.Vector{{X: 1}}}
	h.Receive(types.CreateMessage(types.MapCloudType, "mapper", "drone", cloud))
	h.Receive(types.CreateMessage(types.MapCloudType, "mapper", "drone", cloud))
	assert.Len(t, h.queue, 1)
}
