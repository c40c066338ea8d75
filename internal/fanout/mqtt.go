package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const mqttPublishTimeout = 5 * time.Second

// mqttPublisher is the part of mqtt.Client the sender uses.
type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTSender publishes envelopes to MQTT topics derived from the channel
// name: "locations:event:42" becomes "<prefix>/locations/event/42".
type MQTTSender struct {
	client mqttPublisher
	prefix string
	qos    byte
}

// NewMQTTSender creates an MQTTSender.
func NewMQTTSender(client mqttPublisher, prefix string, qos byte) *MQTTSender {
	return &MQTTSender{client: client, prefix: strings.Trim(prefix, "/"), qos: qos}
}

// NewMQTTClient connects to broker and returns the client.
func NewMQTTClient(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetConnectTimeout(10 * time.Second).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connect mqtt %s: timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect mqtt %s: %w", broker, err)
	}
	return client, nil
}

// Topic maps a channel name to its MQTT topic.
func (s *MQTTSender) Topic(channel string) string {
	topic := strings.ReplaceAll(channel, ":", "/")
	if s.prefix == "" {
		return topic
	}
	return s.prefix + "/" + topic
}

func (s *MQTTSender) Send(ctx context.Context, channel string, events []string, payload any) error {
	data, err := json.Marshal(Envelope{Channel: channel, Events: events, Data: payload})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	topic := s.Topic(channel)
	token := s.client.Publish(topic, s.qos, false, data)

	timeout := mqttPublishTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt publish %s: timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	return nil
}
