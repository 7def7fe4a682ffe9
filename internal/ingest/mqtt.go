// Package ingest feeds tag readings from the gateway layer into the alarm
// detector. The MQTT source is the production path; tests drive the detector
// directly.
package ingest

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	anverr "github.com/anvilchain/anvilchain/internal/errors"
	"github.com/anvilchain/anvilchain/pkg/types"
)

// ReadingHandler receives each decoded tag reading.
type ReadingHandler func(r types.TagReading)

// MQTTConfig configures the broker connection and topic subscription.
type MQTTConfig struct {
	Broker   string `json:"broker" yaml:"broker"`
	ClientID string `json:"client_id" yaml:"client_id"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	// Topic is the reading subscription, typically "site/+/tags/#".
	Topic string `json:"topic" yaml:"topic"`
	QoS   byte   `json:"qos" yaml:"qos"`
}

// wireReading is the gateway's JSON payload shape. Timestamp is epoch
// milliseconds; zero means "use receive time".
type wireReading struct {
	TagName   string  `json:"tagName"`
	Value     float64 `json:"value"`
	Quality   string  `json:"quality"`
	Timestamp int64   `json:"timestamp"`
}

// MQTTSource subscribes to the gateway's tag topic and decodes readings.
type MQTTSource struct {
	cfg     MQTTConfig
	client  mqtt.Client
	handler ReadingHandler
	logger  *zap.Logger
}

// NewMQTTSource creates a source; Start connects and subscribes.
func NewMQTTSource(cfg MQTTConfig, handler ReadingHandler, logger *zap.Logger) *MQTTSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MQTTSource{cfg: cfg, handler: handler, logger: logger}
}

// Start connects to the broker and subscribes to the tag topic.
func (s *MQTTSource) Start() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.cfg.Broker)
	opts.SetClientID(s.cfg.ClientID)
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
	}
	if s.cfg.Password != "" {
		opts.SetPassword(s.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		s.logger.Info("connected to MQTT broker", zap.String("broker", s.cfg.Broker))
	})
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		s.logger.Warn("MQTT connection lost", zap.Error(err))
	})

	s.client = mqtt.NewClient(opts)
	if token := s.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	if token := s.client.Subscribe(s.cfg.Topic, s.cfg.QoS, s.onMessage); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", s.cfg.Topic, token.Error())
	}

	s.logger.Info("subscribed to tag readings", zap.String("topic", s.cfg.Topic))
	return nil
}

// onMessage decodes one payload and hands it to the handler. Malformed
// payloads are logged and dropped; the stream keeps flowing.
func (s *MQTTSource) onMessage(_ mqtt.Client, msg mqtt.Message) {
	reading, err := DecodeReading(msg.Payload())
	if err != nil {
		s.logger.Warn("dropping malformed tag reading",
			zap.String("topic", msg.Topic()),
			zap.Error(err))
		return
	}
	s.handler(reading)
}

// Stop unsubscribes and disconnects.
func (s *MQTTSource) Stop() {
	if s.client == nil {
		return
	}
	if token := s.client.Unsubscribe(s.cfg.Topic); token.Wait() && token.Error() != nil {
		s.logger.Warn("failed to unsubscribe", zap.Error(token.Error()))
	}
	s.client.Disconnect(250)
}

// DecodeReading parses one gateway payload into a TagReading.
func DecodeReading(payload []byte) (types.TagReading, error) {
	var w wireReading
	if err := json.Unmarshal(payload, &w); err != nil {
		return types.TagReading{}, anverr.NewIngestError(anverr.CodeMalformedReading, "failed to decode tag reading", err)
	}
	if w.TagName == "" {
		return types.TagReading{}, anverr.NewIngestError(anverr.CodeMalformedReading, "tag reading missing tagName", nil)
	}

	ts := time.Now().UTC()
	if w.Timestamp > 0 {
		ts = time.UnixMilli(w.Timestamp).UTC()
	}
	quality := w.Quality
	if quality == "" {
		quality = "GOOD"
	}

	return types.TagReading{
		TagName:   w.TagName,
		Value:     w.Value,
		Quality:   quality,
		Timestamp: ts,
	}, nil
}
