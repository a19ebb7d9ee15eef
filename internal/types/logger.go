package types

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/NmBoyd/faster/internal/logging"
)

// quiet lists message types posted at output rate.
var quiet = map[string]bool{
	CommandType:      true,
	VehicleStateType: true,
}

type logger struct {
	log logging.Logger
}

// NewLogger returns a handler that logs every message crossing the bus.
func NewLogger(log logging.Logger) MessageHandler {
	return &logger{log}
}

func (l *logger) Receive(message Message) {
	if quiet[message.MessageType] {
		return
	}

	b, _ := json.Marshal(message.Message)
	l.log.Debugf("Message: %s (%s -> %s): %s", message.MessageType, message.From, message.To, string(b))
}

func (l *logger) Run(ctx context.Context, wg *sync.WaitGroup, post PostFn) {
}
