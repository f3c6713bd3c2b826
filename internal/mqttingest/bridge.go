// Package mqttingest bridges an MQTT broker into the hit pipeline for
// devices that report over MQTT instead of HTTP. Messages carry the same
// JSON client-message payload as the HTTP ingest endpoint.
package mqttingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/banshee-data/pothole.report/internal/hits"
	"github.com/banshee-data/pothole.report/internal/ingest"
	"github.com/banshee-data/pothole.report/internal/monitoring"
)

const connectTimeout = 10 * time.Second

var logf = monitoring.Prefixed("mqtt")

// Bridge subscribes to a topic and feeds decoded messages to the processor.
type Bridge struct {
	processor *ingest.Processor
	broker    string
	topic     string
	clientID  string
	client    mqtt.Client
}

// NewBridge configures a bridge; Start connects it.
func NewBridge(processor *ingest.Processor, broker, topic, clientID string) *Bridge {
	if clientID == "" {
		clientID = fmt.Sprintf("pothole-server-%d", time.Now().UnixNano())
	}
	return &Bridge{
		processor: processor,
		broker:    broker,
		topic:     topic,
		clientID:  clientID,
	}
}

// Start connects to the broker and subscribes. Subscriptions survive
// reconnects; paho restores them automatically.
func (b *Bridge) Start(ctx context.Context) error {
	opts := mqtt.NewClientOptions().
		AddBroker(b.broker).
		SetClientID(b.clientID).
		SetOrderMatters(false).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout)
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logf("connection lost: %v", err)
	}
	opts.OnConnect = func(_ mqtt.Client) {
		logf("connected to %s", b.broker)
	}

	b.client = mqtt.NewClient(opts)
	if token := b.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect to mqtt broker %s: %w", b.broker, token.Error())
	}

	handler := func(_ mqtt.Client, m mqtt.Message) {
		b.handleMessage(ctx, m.Payload())
	}
	if token := b.client.Subscribe(b.topic, 1, handler); token.Wait() && token.Error() != nil {
		b.client.Disconnect(250)
		return fmt.Errorf("subscribe to %s: %w", b.topic, token.Error())
	}
	logf("subscribed to %s", b.topic)
	return nil
}

// handleMessage decodes one payload and runs it through the processor.
// Malformed payloads are logged and dropped; there is no reply channel to
// report an error on.
func (b *Bridge) handleMessage(ctx context.Context, payload []byte) {
	var msg hits.ClientMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		logf("payload decode failed: %v", err)
		return
	}

	accepted, errMsg, _ := b.processor.Process(ctx, &msg, int64(len(payload)))
	if !accepted {
		logf("message rejected: %s", errMsg)
	}
}

// Stop unsubscribes and disconnects.
func (b *Bridge) Stop() {
	if b.client == nil {
		return
	}
	if token := b.client.Unsubscribe(b.topic); token.Wait() && token.Error() != nil {
		logf("unsubscribe failed: %v", token.Error())
	}
	b.client.Disconnect(250)
	logf("bridge stopped")
}
