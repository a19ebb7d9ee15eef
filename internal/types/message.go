package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Message types carried on the bus.
const (
	VehicleStateType       = "vehicle-state"
	GoalType               = "goal"
	FlightModeType         = "flight-mode"
	MapCloudType           = "map-cloud"
	ObservationCloudType   = "observation-cloud"
	CommandType            = "command"
	TrajectoryAcceptedType = "trajectory-accepted"
	TrajectoryRejectedType = "trajectory-rejected"
	ReplanFailedType       = "replan-failed"
)

type Message struct {
	Timestamp   time.Time   `json:"timestamp"`
	From        string      `json:"from"`
	To          string      `json:"to"`
	ID          string      `json:"id"`
	MessageType string      `json:"message_type"`
	Message     interface{} `json:"message"`
}

// RawMessage is a Message whose payload has not been decoded yet.
type RawMessage struct {
	Timestamp   time.Time       `json:"timestamp"`
	From        string          `json:"from"`
	To          string          `json:"to"`
	ID          string          `json:"id"`
	MessageType string          `json:"message_type"`
	Message     json.RawMessage `json:"message"`
}

// Replace keeps the envelope of message and swaps its payload for v.
func (message *RawMessage) Replace(v interface{}) Message {
	return Message{
		message.Timestamp,
		message.From,
		message.To,
		message.ID,
		message.MessageType,
		v,
	}
}

func (message *Message) Replace(v interface{}) Message {
	return Message{
		message.Timestamp,
		message.From,
		message.To,
		message.ID,
		message.MessageType,
		v,
	}
}

func CreateMessage(messageType, from, to string, message interface{}) Message {
	return Message{
		time.Now().UTC(),
		from,
		to,
		uuid.New().String(),
		messageType,
		message,
	}
}
