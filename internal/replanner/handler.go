package replanner

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/NmBoyd/faster/internal/logging"
	"github.com/NmBoyd/faster/internal/types"
)

type handler struct {
	ctrl     *Controller
	clock    clock.Clock
	period   time.Duration
	deviceID string
	log      logging.Logger
	wake     chan struct{}
}

// NewHandler ticks ctrl every period and posts the outcome on the bus. A new
// goal or flight mode triggers a tick right away.
func NewHandler(ctrl *Controller, clk clock.Clock, period time.Duration, deviceID string, log logging.Logger) types.MessageHandler {
	return &handler{ctrl, clk, period, deviceID, log, make(chan struct{}, 1)}
}

func (h *handler) Run(ctx context.Context, wg *sync.WaitGroup, post types.PostFn) {
	ticker := h.clock.Ticker(h.period)
	wg.Add(1)
	go h.runTickLoop(ctx, wg, ticker, post)
}

func (h *handler) Receive(message types.Message) {
	switch message.MessageType {
	case types.GoalType, types.FlightModeType:
		select {
		case h.wake <- struct{}{}:
		default:
		}
	}
}

func (h *handler) runTickLoop(ctx context.Context, wg *sync.WaitGroup, ticker *clock.Ticker, post types.PostFn) {
	defer wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Info("Replanner shutting down")
			return
		case <-ticker.C:
		case <-h.wake:
		}
		for _, msg := range h.messages(h.ctrl.Tick()) {
			post(msg)
		}
	}
}

// messages turns an outcome into bus messages and logs it.
func (h *handler) messages(out Outcome) []types.Message {
	result := make([]types.Message, 0)
	if out.Accepted != nil {
		h.log.Debugw("trajectory accepted",
			"id", out.Accepted.ID(),
			"dt", out.Accepted.Dt(),
			"relaxations", out.Relaxations)
		result = append(result, h.create(types.TrajectoryAcceptedType, types.TrajectoryAccepted{
			ID:          out.Accepted.ID(),
			Dt:          out.Accepted.Dt(),
			Samples:     out.Accepted.Samples(),
			Waypoints:   out.Waypoints,
			Relaxations: out.Relaxations,
		}))
	}
	if out.Rejected != nil {
		result = append(result, h.create(types.TrajectoryRejectedType, types.TrajectoryRejected{
			ID:        out.Rejected.ID(),
			Dt:        out.Rejected.Dt(),
			Samples:   out.Rejected.Samples(),
			Waypoints: out.Waypoints,
			Reason:    out.Err.Error(),
		}))
	}
	if out.Err != nil {
		h.log.Warnw("replan failed", "reason", Reason(out.Err), "persistent", out.Persistent, "error", out.Err)
		result = append(result, h.create(types.ReplanFailedType, types.ReplanFailed{
			Reason:     Reason(out.Err),
			Detail:     out.Err.Error(),
			Persistent: out.Persistent,
		}))
	}
	return result
}

func (h *handler) create(messageType string, payload interface{}) types.Message {
	msg := types.CreateMessage(messageType, h.deviceID, h.deviceID, payload)
	msg.Timestamp = h.clock.Now().UTC()
	return msg
}
