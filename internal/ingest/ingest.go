// Package ingest hands inbound bus messages to the shared world without
// blocking the bus.
package ingest

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"

	"github.com/NmBoyd/faster/internal/logging"
	"github.com/NmBoyd/faster/internal/spatialindex"
	"github.com/NmBoyd/faster/internal/types"
	"github.com/NmBoyd/faster/internal/worldstate"
)

type cloudJob struct {
	id     spatialindex.TreeID
	points []r3.Vector
}

type ingest struct {
	world *worldstate.World
	clock clock.Clock
	log   logging.Logger
	queue chan cloudJob
}

// New stores state, goal and mode as they arrive and rebuilds k-d trees on a
// worker. A full queue drops the cloud.
func New(world *worldstate.World, queueSize int, clk clock.Clock, log logging.Logger) types.MessageHandler {
	return &ingest{world, clk, log, make(chan cloudJob, queueSize)}
}

func (in *ingest) Run(ctx context.Context, wg *sync.WaitGroup, post types.PostFn) {
	wg.Add(1)
	go in.runRebuildLoop(ctx, wg)
}

func (in *ingest) Receive(message types.Message) {
	switch m := message.Message.(type) {
	case types.VehicleState:
		in.world.SetVehicleState(m)
	case types.Goal:
		in.world.SetGoal(m)
	case types.FlightMode:
		in.world.SetMode(m)
	case types.PointCloud:
		switch message.MessageType {
		case types.MapCloudType:
			in.enqueue(cloudJob{spatialindex.MapTree, m.Points})
		case types.ObservationCloudType:
			// observations are aged from arrival, not from the sensor stamp
			in.enqueue(cloudJob{spatialindex.ObservationTree(in.clock.Now()), m.Points})
		}
	}
}

func (in *ingest) enqueue(job cloudJob) {
	select {
	case in.queue <- job:
	default:
		in.log.Warnw("Cloud queue full, dropping batch", "tree", job.id.String(), "points", len(job.points))
	}
}

func (in *ingest) runRebuildLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			in.log.Info("Ingest shutting down")
			return
		case job := <-in.queue:
			in.world.Index.Rebuild(job.id, job.points)
			in.log.Debugw("Rebuilt tree", "tree", job.id.String(), "points", len(job.points))
		}
	}
}
