package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// Publisher sends a payload to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Close()
}

// MQTTPublisher publishes with QoS 1 through a paho client.
type MQTTPublisher struct {
	client  mqtt.Client
	timeout time.Duration
}

// NewMQTTPublisher connects to broker (e.g. tcp://localhost:1883).
func NewMQTTPublisher(broker, clientID string) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.WithError(err).Warn("MQTT connection lost")
		})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(15 * time.Second) {
		return nil, fmt.Errorf("mqtt connect to %s: timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", broker, err)
	}
	return &MQTTPublisher{client: client, timeout: 5 * time.Second}, nil
}

// Publish sends payload and waits for the broker acknowledgement or ctx.
func (p *MQTTPublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	token := p.client.Publish(topic, 1, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(p.timeout):
		return errors.New("mqtt publish timed out")
	}
}

// Close disconnects after letting in-flight messages drain.
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}

// LogPublisher writes messages to the log. Used when no broker is configured.
type LogPublisher struct {
	logger *log.Entry
}

func NewLogPublisher(logger *log.Entry) *LogPublisher {
	if logger == nil {
		logger = log.WithField("component", "notify")
	}
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, topic string, payload []byte) error {
	p.logger.WithFields(log.Fields{
		"topic":   topic,
		"payload": string(payload),
	}).Info("Due notification")
	return nil
}

func (p *LogPublisher) Close() {}
