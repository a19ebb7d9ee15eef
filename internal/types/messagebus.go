package types

import (
	"context"
	"sync"

	"github.com/NmBoyd/faster/internal/logging"
)

type PostFn = func(msg Message)

type MessageHandler interface {
	Run(ctx context.Context, wg *sync.WaitGroup, post PostFn)
	Receive(message Message)
}

type MessageBus struct {
	bus       chan Message
	receivers []MessageHandler
	log       logging.Logger
}

func NewMessageBus(log logging.Logger, bus chan Message, receivers ...MessageHandler) *MessageBus {
	return &MessageBus{bus, receivers, log}
}

// Run starts every receiver and fans each posted message out to all of them
// until ctx is cancelled. The caller adds the bus to wg. Receivers must not
// block in Run; they start their own goroutines.
func (mb *MessageBus) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	busCapacity := cap(mb.bus)
	post := func(msg Message) {
		busLen := len(mb.bus)
		if busLen > busCapacity/2 {
			mb.log.Warnf("Bus capacity over 50%% [ %d / %d ]", busLen, busCapacity)
		}
		select {
		case mb.bus <- msg:
		case <-ctx.Done():
		}
	}

	for _, x := range mb.receivers {
		x.Run(ctx, wg, post)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-mb.bus:
			for _, x := range mb.receivers {
				x.Receive(msg)
			}
		}
	}
}
