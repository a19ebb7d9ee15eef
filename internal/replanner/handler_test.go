package replanner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NmBoyd/faster/internal/logging"
	"github.com/NmBoyd/faster/internal/trajectory"
	"github.com/NmBoyd/faster/internal/types"
)

type postbox struct {
	mu   sync.Mutex
	msgs []types.Message
}

func (p *postbox) post(msg types.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
}

func (p *postbox) ofType(messageType string) []types.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []types.Message
	for _, m := range p.msgs {
		if m.MessageType == messageType {
			out = append(out, m)
		}
	}
	return out
}

func runHandler(t *testing.T, f *fixture) (*handler, *postbox) {
	t.Helper()
	h := NewHandler(f.ctrl, f.clk, 100*time.Millisecond, "drone", logging.NewTestLogger(t)).(*handler)
	box := &postbox{}
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	h.Run(ctx, &wg, box.post)
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})
	return h, box
}

func TestHandlerTicksOnPeriod(t *testing.T) {
	f := newFixture(t, defaultOptions())
	f.fly(r3.Vector{}, r3.Vector{X: 4})
	_, box := runHandler(t, f)

	assert.Empty(t, box.ofType(types.TrajectoryAcceptedType))
	f.clk.Add(100 * time.Millisecond)
	require.Eventually(t, func() bool {
		return len(box.ofType(types.TrajectoryAcceptedType)) == 1
	}, time.Second, time.Millisecond)

	msg := box.ofType(types.TrajectoryAcceptedType)[0]
	assert.Equal(t, "drone", msg.From)
	accepted := msg.Message.(types.TrajectoryAccepted)
	assert.Len(t, accepted.Samples, 20)
	assert.Equal(t, []r3.Vector{{}, {X: 4}}, accepted.Waypoints)
	assert.Empty(t, box.ofType(types.ReplanFailedType))
}

func TestHandlerWakesOnGoal(t *testing.T) {
	opts := defaultOptions()
	opts.obstacles = shell(r3.Vector{X: 10}, 1.5, 0.25)
	f := newFixture(t, opts)
	f.fly(r3.Vector{}, r3.Vector{X: 10})
	h, box := runHandler(t, f)

	h.Receive(types.CreateMessage(types.GoalType, "ground", "drone", types.Goal{Pos: r3.Vector{X: 10}, Valid: true}))
	require.Eventually(t, func() bool {
		return len(box.ofType(types.ReplanFailedType)) == 1
	}, time.Second, time.Millisecond)

	failed := box.ofType(types.ReplanFailedType)[0].Message.(types.ReplanFailed)
	assert.Equal(t, "NoPath", failed.Reason)
	assert.True(t, failed.Persistent)
	assert.Contains(t, failed.Detail, "no path")

	// other traffic does not trigger a tick
	h.Receive(types.CreateMessage(types.VehicleStateType, "fc", "drone", types.VehicleState{}))
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, box.ofType(types.ReplanFailedType), 1)
}

func TestHandlerReportsMissingGoal(t *testing.T) {
	f := newFixture(t, defaultOptions())
	f.world.SetVehicleState(types.VehicleState{})
	f.world.SetMode(types.FlightModeFlying)
	_, box := runHandler(t, f)

	for i := 1; i <= 2; i++ {
		f.clk.Add(100 * time.Millisecond)
		require.Eventually(t, func() bool {
			return len(box.ofType(types.ReplanFailedType)) == i
		}, time.Second, time.Millisecond)
	}
	for _, msg := range box.ofType(types.ReplanFailedType) {
		failed := msg.Message.(types.ReplanFailed)
		assert.Equal(t, "DataUnavailable", failed.Reason)
		assert.True(t, failed.Persistent)
	}
	assert.Empty(t, box.ofType(types.TrajectoryAcceptedType))
}

func TestHandlerMessages(t *testing.T) {
	f := newFixture(t, defaultOptions())
	h := NewHandler(f.ctrl, f.clk, time.Second, "drone", logging.NewTestLogger(t)).(*handler)

	traj := trajectory.New([]trajectory.Sample{{}, {Pos: r3.Vector{X: 1}}}, 0.5)
	msgs := h.messages(Outcome{
		Rejected:  traj,
		Waypoints: []r3.Vector{{}, {X: 1}},
		Err:       fail(ErrUnsafe, errors.New("too close")),
	})
	require.Len(t, msgs, 2)
	assert.Equal(t, types.TrajectoryRejectedType, msgs[0].MessageType)
	rejected := msgs[0].Message.(types.TrajectoryRejected)
	assert.Equal(t, traj.ID(), rejected.ID)
	assert.Equal(t, "Unsafe: too close", rejected.Reason)
	assert.Equal(t, types.ReplanFailedType, msgs[1].MessageType)
	assert.Equal(t, f.clk.Now().UTC(), msgs[1].Timestamp)

	assert.Empty(t, h.messages(Outcome{Phase: PhaseHolding}))
}
