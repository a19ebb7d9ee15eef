package mqttlink

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	jwt "github.com/dgrijalva/jwt-go"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NmBoyd/faster/internal/config"
	"github.com/NmBoyd/faster/internal/logging"
	"github.com/NmBoyd/faster/internal/trajectory"
	"github.com/NmBoyd/faster/internal/types"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Error() error                   { return t.err }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type fakeConn struct {
	mu        sync.Mutex
	handlers  map[string]mqtt.MessageHandler
	published map[string][]byte
	dropped   []string
}

func newFakeConn() *fakeConn {
	return &fakeConn{handlers: map[string]mqtt.MessageHandler{}, published: map[string][]byte{}}
}

func (c *fakeConn) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.published[topic] = payload.([]byte)
	return doneToken{}
}

func (c *fakeConn) Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[topic] = callback
	return doneToken{}
}

func (c *fakeConn) Unsubscribe(topics ...string) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropped = append(c.dropped, topics...)
	return doneToken{}
}

func (c *fakeConn) deliver(topic string, payload string) bool {
	c.mu.Lock()
	h, ok := c.handlers[topic]
	c.mu.Unlock()
	if ok {
		h(nil, fakeMessage{topic, []byte(payload)})
	}
	return ok
}

func (c *fakeConn) subscribed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers)
}

func (c *fakeConn) payload(topic string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.published[topic]
	return p, ok
}

func TestDecode(t *testing.T) {
	v, err := Decode(types.VehicleStateType, []byte(`{"pos":{"x":1,"y":2,"z":3},"vel":{"X":0.5}}`))
	require.NoError(t, err)
	assert.Equal(t, r3.Vector{X: 1, Y: 2, Z: 3}, v.(types.VehicleState).Pos)
	assert.Equal(t, 0.5, v.(types.VehicleState).Vel.X)

	v, err = Decode(types.GoalType, []byte(`{"pos":{"x":10},"valid":true}`))
	require.NoError(t, err)
	assert.Equal(t, types.Goal{Pos: r3.Vector{X: 10}, Valid: true}, v)

	v, err = Decode(types.FlightModeType, []byte(`"flying"`))
	require.NoError(t, err)
	assert.Equal(t, types.FlightModeFlying, v)

	v, err = Decode(types.FlightModeType, []byte("Landing\n"))
	require.NoError(t, err)
	assert.Equal(t, types.FlightModeLanding, v)

	v, err = Decode(types.ObservationCloudType, []byte(`{"points":[{"x":1},{"y":2}]}`))
	require.NoError(t, err)
	assert.Equal(t, []r3.Vector{{X: 1}, {Y: 2}}, v.(types.PointCloud).Points)

	_, err = Decode(types.GoalType, []byte(`{"pos":`))
	assert.Error(t, err)
	_, err = Decode(types.FlightModeType, []byte(`hover`))
	assert.Error(t, err)
	_, err = Decode(types.CommandType, []byte(`{}`))
	assert.Error(t, err)
}

func TestBridgePostsInbound(t *testing.T) {
	conn := newFakeConn()
	b := NewBridge(conn, "uav/", 1, "d1", logging.NewTestLogger(t))

	var mu sync.Mutex
	var got []types.Message
	post := func(msg types.Message) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, msg)
	}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	b.Run(ctx, &wg, post)

	require.Eventually(t, func() bool { return conn.subscribed() == len(inbound) }, time.Second, time.Millisecond)
	require.True(t, conn.deliver("uav/goal", `{"pos":{"x":3},"valid":true}`))
	require.True(t, conn.deliver("uav/mode", `flying`))
	require.True(t, conn.deliver("uav/map", `{"points":[{"x":1}]}`))
	require.True(t, conn.deliver("uav/state", `not json`))

	cancel()
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 3)
	assert.Equal(t, types.GoalType, got[0].MessageType)
	assert.Equal(t, types.Goal{Pos: r3.Vector{X: 3}, Valid: true}, got[0].Message)
	assert.Equal(t, "d1", got[0].To)
	assert.Equal(t, types.FlightModeType, got[1].MessageType)
	assert.Equal(t, types.FlightModeFlying, got[1].Message)
	assert.Equal(t, types.MapCloudType, got[2].MessageType)
	assert.Len(t, conn.dropped, len(inbound))
}

func TestBridgePublishesOutbound(t *testing.T) {
	conn := newFakeConn()
	b := NewBridge(conn, "uav", 0, "d1", logging.NewTestLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	b.Run(ctx, &wg, func(types.Message) {})

	cmd := trajectory.Command{Pos: r3.Vector{X: 1}, Vel: r3.Vector{Y: 2}}
	b.Receive(types.CreateMessage(types.CommandType, "d1", "d1", cmd))
	b.Receive(types.CreateMessage(types.ReplanFailedType, "d1", "d1", types.ReplanFailed{Reason: "NoPath", Persistent: true}))
	b.Receive(types.CreateMessage(types.GoalType, "d1", "d1", types.Goal{}))

	require.Eventually(t, func() bool {
		_, cmdOK := conn.payload("uav/command")
		_, failedOK := conn.payload("uav/replan_failed")
		return cmdOK && failedOK
	}, time.Second, time.Millisecond)

	p, _ := conn.payload("uav/command")
	var decoded trajectory.Command
	require.NoError(t, json.Unmarshal(p, &decoded))
	assert.Equal(t, cmd, decoded)

	p, _ = conn.payload("uav/replan_failed")
	var failed types.ReplanFailed
	require.NoError(t, json.Unmarshal(p, &failed))
	assert.Equal(t, "NoPath", failed.Reason)
	assert.True(t, failed.Persistent)

	_, ok := conn.payload("uav/goal")
	assert.False(t, ok)

	cancel()
	wg.Wait()
}

func writeKey(t *testing.T) (string, *rsa.PrivateKey) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	block := &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}
	path := filepath.Join(t.TempDir(), "rsa_private.pem")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0600))
	return path, key
}

func TestPassword(t *testing.T) {
	path, key := writeKey(t)
	keyData, err := os.ReadFile(path)
	require.NoError(t, err)

	pass, err := Password(keyData, "d1", time.Now())
	require.NoError(t, err)

	claims := &jwt.StandardClaims{}
	token, err := jwt.ParseWithClaims(pass, claims, func(*jwt.Token) (interface{}, error) {
		return &key.PublicKey, nil
	})
	require.NoError(t, err)
	assert.True(t, token.Valid)
	assert.Equal(t, "d1", claims.Audience)
	assert.Equal(t, algorithm, token.Method.Alg())

	_, err = Password([]byte("garbage"), "d1", time.Now())
	assert.Error(t, err)
}

func TestClientOptions(t *testing.T) {
	cfg := config.Default().MQTT

	opts, err := ClientOptions(cfg, "d1", time.Now())
	require.NoError(t, err)
	assert.Contains(t, opts.ClientID, "d1-")
	require.Len(t, opts.Servers, 1)
	assert.Equal(t, "localhost:1883", opts.Servers[0].Host)
	assert.Empty(t, opts.Password)

	path, _ := writeKey(t)
	cfg.ClientID = "fixed"
	cfg.PrivateKey = path
	opts, err = ClientOptions(cfg, "d1", time.Now())
	require.NoError(t, err)
	assert.Equal(t, "fixed", opts.ClientID)
	assert.Equal(t, username, opts.Username)
	assert.NotEmpty(t, opts.Password)

	cfg.PrivateKey = filepath.Join(t.TempDir(), "missing.pem")
	_, err = ClientOptions(cfg, "d1", time.Now())
	assert.Error(t, err)
}
