// Package bridge republishes telemetry events to external brokers. The
// MQTT bridge attaches to the hub like any other subscriber, so a broker
// outage degrades exactly like a slow client: events drop, nothing blocks.
package bridge

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sentinelflight/groundstation/internal/logger"
	"go.uber.org/zap"
)

// MQTTConfig configures the egress bridge.
type MQTTConfig struct {
	Broker      string
	TopicPrefix string
	ClientID    string
}

// MQTTBridge forwards telemetry_data events to <prefix>/<port> at QoS 0.
// It implements the hub's Subscriber interface.
type MQTTBridge struct {
	client mqtt.Client
	prefix string
}

// NewMQTTBridge connects to the broker and returns the bridge.
func NewMQTTBridge(cfg MQTTConfig) (*MQTTBridge, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("broker is required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = fmt.Sprintf("groundstation_%d", time.Now().Unix())
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("timed out connecting to MQTT broker %s", cfg.Broker)
	}
	if token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	logger.Info("mqtt bridge connected", zap.String("broker", cfg.Broker))
	return &MQTTBridge{client: client, prefix: cfg.TopicPrefix}, nil
}

// ID identifies the bridge on the hub.
func (b *MQTTBridge) ID() string { return "mqtt-bridge" }

// Send republishes telemetry events; other event types are ignored. The
// publish token is not awaited, keeping the hub fan-out non-blocking.
func (b *MQTTBridge) Send(data []byte) error {
	var envelope struct {
		Type string `json:"type"`
		Port string `json:"port"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || envelope.Type != "telemetry_data" {
		return nil
	}

	topic := b.prefix
	if envelope.Port != "" {
		topic += "/" + envelope.Port
	}
	b.client.Publish(topic, 0, false, data)
	return nil
}

// Close disconnects from the broker.
func (b *MQTTBridge) Close() {
	b.client.Disconnect(250)
}
