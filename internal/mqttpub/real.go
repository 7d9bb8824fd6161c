package mqttpub

import (
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"fenwick-energy/phase-switcher/internal/logic"
)

// RealPublisher publishes to an actual MQTT broker.
type RealPublisher struct {
	client paho.Client
}

// NewRealPublisher creates a publisher connected to the given broker.
func NewRealPublisher(broker string) (*RealPublisher, error) {
	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID("phase-switcher").
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)

	client := paho.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return &RealPublisher{client: client}, nil
}

// PublishTransition implements Publisher.
func (p *RealPublisher) PublishTransition(from, to logic.SequencerState, snap Snapshot) error {
	payload, err := FormatTransitionPayload(from, to, snap)
	if err != nil {
		return fmt.Errorf("format transition payload: %w", err)
	}
	token := p.client.Publish(TopicEvents, 1, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish transition timeout")
	}
	return token.Error()
}

// PublishTelemetry implements Publisher.
func (p *RealPublisher) PublishTelemetry(snap Snapshot) error {
	payload, err := FormatTelemetryPayload(snap)
	if err != nil {
		return fmt.Errorf("format telemetry payload: %w", err)
	}
	token := p.client.Publish(TopicTelemetry, 0, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("publish telemetry timeout")
	}
	return token.Error()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000)
	return nil
}
