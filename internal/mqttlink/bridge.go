package mqttlink

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"

	"github.com/NmBoyd/faster/internal/logging"
	"github.com/NmBoyd/faster/internal/types"
)

// Conn is the part of mqtt.Client the bridge uses.
type Conn interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
}

const (
	retain       = false
	outboxSize   = 64
	tokenTimeout = 5 * time.Second
)

// Inbound topic suffixes and the bus message type each one carries.
var inbound = map[string]string{
	"state": types.VehicleStateType,
	"goal":  types.GoalType,
	"mode":  types.FlightModeType,
	"map":   types.MapCloudType,
	"cloud": types.ObservationCloudType,
}

// Outbound bus message types and their topic suffixes.
var outbound = map[string]string{
	types.CommandType:            "command",
	types.TrajectoryAcceptedType: "trajectory",
	types.TrajectoryRejectedType: "rejected",
	types.ReplanFailedType:       "replan_failed",
}

type publication struct {
	topic   string
	payload []byte
}

type bridge struct {
	conn     Conn
	prefix   string
	qos      byte
	deviceID string
	log      logging.Logger
	outbox   chan publication
}

// NewBridge posts decoded payloads from <prefix>/<suffix> topics on the bus
// and publishes commands and replanning results as JSON.
func NewBridge(conn Conn, prefix string, qos byte, deviceID string, log logging.Logger) types.MessageHandler {
	return &bridge{conn, strings.TrimSuffix(prefix, "/"), qos, deviceID, log, make(chan publication, outboxSize)}
}

func (b *bridge) topic(suffix string) string {
	return b.prefix + "/" + suffix
}

func (b *bridge) Run(ctx context.Context, wg *sync.WaitGroup, post types.PostFn) {
	wg.Add(1)
	go b.runPublishLoop(ctx, wg, post)
}

func (b *bridge) Receive(message types.Message) {
	suffix, ok := outbound[message.MessageType]
	if !ok {
		return
	}
	payload, err := json.Marshal(message.Message)
	if err != nil {
		b.log.Errorw("Could not encode message", "type", message.MessageType, "error", err)
		return
	}
	select {
	case b.outbox <- publication{b.topic(suffix), payload}:
	default:
		b.log.Warnw("MQTT outbox full, dropping message", "type", message.MessageType)
	}
}

func (b *bridge) runPublishLoop(ctx context.Context, wg *sync.WaitGroup, post types.PostFn) {
	defer wg.Done()

	topics := b.subscribe(post)
	defer func() {
		if len(topics) > 0 {
			b.conn.Unsubscribe(topics...).WaitTimeout(tokenTimeout)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			b.log.Info("MQTT bridge shutting down")
			return
		case p := <-b.outbox:
			tok := b.conn.Publish(p.topic, b.qos, retain, p.payload)
			if !tok.WaitTimeout(tokenTimeout) {
				b.log.Warnw("MQTT publish timeout", "topic", p.topic)
				continue
			}
			if err := tok.Error(); err != nil {
				b.log.Errorw("MQTT publish failed", "topic", p.topic, "error", err)
			}
		}
	}
}

func (b *bridge) subscribe(post types.PostFn) []string {
	var topics []string
	for suffix, messageType := range inbound {
		messageType := messageType
		topic := b.topic(suffix)
		tok := b.conn.Subscribe(topic, b.qos, func(_ mqtt.Client, msg mqtt.Message) {
			payload, err := Decode(messageType, msg.Payload())
			if err != nil {
				b.log.Warnw("Dropping malformed payload", "topic", msg.Topic(), "error", err)
				return
			}
			post(types.CreateMessage(messageType, "mqtt", b.deviceID, payload))
		})
		if !tok.WaitTimeout(tokenTimeout) {
			b.log.Errorw("MQTT subscribe timeout", "topic", topic)
			continue
		}
		if err := tok.Error(); err != nil {
			b.log.Errorw("MQTT subscribe failed", "topic", topic, "error", err)
			continue
		}
		b.log.Infow("Subscribed", "topic", topic)
		topics = append(topics, topic)
	}
	return topics
}

// Decode turns a JSON payload into the bus payload for messageType. A flight
// mode may also arrive as a bare name.
func Decode(messageType string, payload []byte) (interface{}, error) {
	switch messageType {
	case types.VehicleStateType:
		var v types.VehicleState
		err := json.Unmarshal(payload, &v)
		return v, errors.WithMessage(err, "vehicle state")
	case types.GoalType:
		var v types.Goal
		err := json.Unmarshal(payload, &v)
		return v, errors.WithMessage(err, "goal")
	case types.FlightModeType:
		var v types.FlightMode
		if err := json.Unmarshal(payload, &v); err == nil {
			return v, nil
		}
		v, err := types.ParseFlightMode(strings.TrimSpace(string(payload)))
		return v, errors.WithMessage(err, "flight mode")
	case types.MapCloudType, types.ObservationCloudType:
		var v types.PointCloud
		err := json.Unmarshal(payload, &v)
		return v, errors.WithMessage(err, "point cloud")
	}
	return nil, errors.Errorf("no decoder for %q", messageType)
}
