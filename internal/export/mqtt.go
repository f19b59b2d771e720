package export

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/greenhouse-controller/internal/config"
	"github.com/thatsimonsguy/greenhouse-controller/internal/model"
)

const publishTimeout = 5 * time.Second

type MQTT struct {
	client mqtt.Client
	topic  string
}

// swappable for tests
var newMQTTClient = mqtt.NewClient

// NewMQTT connects to the broker, retrying with exponential backoff.
func NewMQTT(ctx context.Context, cfg config.MQTT) (*MQTT, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 10 * time.Second

	var client mqtt.Client
	err := backoff.Retry(func() error {
		client = newMQTTClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			log.Warn().Err(token.Error()).Str("broker", cfg.Broker).Msg("Failed to connect to MQTT broker")
			return token.Error()
		}
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, 4), ctx))
	if err != nil {
		return nil, fmt.Errorf("could not establish MQTT connection after retries: %w", err)
	}

	log.Info().Str("broker", cfg.Broker).Str("topic", cfg.Topic).Msg("MQTT exporter connected")
	return &MQTT{client: client, topic: cfg.Topic}, nil
}

func (m *MQTT) Name() string { return "mqtt" }

func (m *MQTT) Export(ctx context.Context, r model.SensorReading) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return err
	}

	token := m.client.Publish(m.topic, 1, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish to %s timed out", m.topic)
	}
	return token.Error()
}

func (m *MQTT) Close() {
	if m.client.IsConnected() {
		m.client.Disconnect(250)
		log.Info().Msg("MQTT connection closed")
	}
}
