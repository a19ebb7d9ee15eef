// Package mqttlink connects the message bus to an MQTT broker.
package mqttlink

import (
	"context"
	"crypto/tls"
	"os"
	"time"

	jwt "github.com/dgrijalva/jwt-go"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/NmBoyd/faster/internal/config"
	"github.com/NmBoyd/faster/internal/logging"
)

const (
	algorithm      = "RS256"
	username       = "unused"
	connectTimeout = 5 * time.Second
	tokenLifetime  = 24 * time.Hour
)

// ClientOptions builds the paho options for cfg. A configured private key
// turns into a signed JWT used as the password.
func ClientOptions(cfg config.MQTT, deviceID string, now time.Time) (*mqtt.ClientOptions, error) {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = deviceID + "-" + uuid.New().String()
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12}).
		SetProtocolVersion(4) // MQTT 3.1.1

	if cfg.PrivateKey != "" {
		keyData, err := os.ReadFile(cfg.PrivateKey)
		if err != nil {
			return nil, errors.WithMessagef(err, "could not read private key %s", cfg.PrivateKey)
		}
		pass, err := Password(keyData, deviceID, now)
		if err != nil {
			return nil, err
		}
		opts.SetUsername(username).SetPassword(pass)
	}
	return opts, nil
}

// Password signs a JWT for audience with the PEM encoded RSA key.
func Password(keyData []byte, audience string, now time.Time) (string, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(keyData)
	if err != nil {
		return "", errors.WithMessage(err, "could not parse private key")
	}
	token := jwt.NewWithClaims(jwt.GetSigningMethod(algorithm), &jwt.StandardClaims{
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(tokenLifetime).Unix(),
		Audience:  audience,
	})
	pass, err := token.SignedString(key)
	if err != nil {
		return "", errors.WithMessage(err, "could not sign token")
	}
	return pass, nil
}

// Connect keeps trying the broker until it answers or ctx is cancelled. A
// refused connection is returned right away.
func Connect(ctx context.Context, opts *mqtt.ClientOptions, log logging.Logger) (mqtt.Client, error) {
	client := mqtt.NewClient(opts)
	log.Infow("Connecting MQTT", "brokers", len(opts.Servers))
	if err := connect(ctx, client, connectTimeout, log); err != nil {
		return nil, err
	}
	log.Info("MQTT connected")
	return client, nil
}

type connector interface {
	Connect() mqtt.Token
}

func connect(ctx context.Context, c connector, timeout time.Duration, log logging.Logger) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		tok := c.Connect()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tok.Done():
			if err := tok.Error(); err != nil {
				return errors.WithMessage(err, "could not connect MQTT")
			}
			return nil
		case <-time.After(timeout):
			log.Warn("MQTT connection timeout")
		}
	}
}
