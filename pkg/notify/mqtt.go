package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gridwatch/gridwatch/pkg/log"
	"github.com/levenlabs/go-lflag"
)

// MQTT publishes grid state transitions as a retained JSON document, so
// late subscribers immediately see the current state.
type MQTT struct {
	client mqtt.Client
	topic  string
}

// Configured sets up the notifier based on flags. An empty broker address
// disables publishing.
func Configured() Notifier {
	broker := lflag.String("mqtt-broker", "", "MQTT broker address (host:port); empty disables notifications")
	username := lflag.String("mqtt-username", "", "MQTT username")
	password := lflag.String("mqtt-password", "", "MQTT password")
	topic := lflag.String("mqtt-topic", "gridwatch/grid/state", "MQTT topic for grid state")
	clientID := lflag.String("mqtt-client-id", "gridwatch", "MQTT client ID")

	var p struct{ Notifier }

	lflag.Do(func() {
		if *broker == "" {
			p.Notifier = Noop{}
			return
		}

		opts := mqtt.NewClientOptions()
		opts.AddBroker(fmt.Sprintf("tcp://%s", *broker))
		opts.SetClientID(*clientID)
		opts.SetAutoReconnect(true)
		opts.SetConnectRetry(true)
		opts.SetConnectTimeout(10 * time.Second)
		if *username != "" {
			opts.SetUsername(*username)
		}
		if *password != "" {
			opts.SetPassword(*password)
		}

		client := mqtt.NewClient(opts)
		if token := client.Connect(); token.Wait() && token.Error() != nil {
			panic(fmt.Sprintf("connecting to MQTT broker: %v", token.Error()))
		}
		p.Notifier = &MQTT{client: client, topic: *topic}
	})

	return &p
}

type statePayload struct {
	HasElectricity bool    `json:"hasElectricity"`
	GridPowerW     float64 `json:"gridPowerW"`
	Timestamp      string  `json:"timestamp"`
}

func encodeState(on bool, powerW float64, at time.Time) ([]byte, error) {
	return json.Marshal(statePayload{
		HasElectricity: on,
		GridPowerW:     powerW,
		Timestamp:      at.UTC().Format(time.RFC3339),
	})
}

func (m *MQTT) publish(ctx context.Context, on bool, powerW float64) error {
	body, err := encodeState(on, powerW, time.Now())
	if err != nil {
		return fmt.Errorf("encoding state payload: %w", err)
	}
	token := m.client.Publish(m.topic, 1, true, body)
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("publish to %s timed out", m.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", m.topic, err)
	}
	log.Ctx(ctx).DebugContext(ctx, "published grid state",
		slog.String("topic", m.topic), slog.Bool("hasElectricity", on))
	return nil
}

// GridUp implements Notifier.
func (m *MQTT) GridUp(ctx context.Context, powerW float64) error {
	return m.publish(ctx, true, powerW)
}

// GridDown implements Notifier.
func (m *MQTT) GridDown(ctx context.Context) error {
	return m.publish(ctx, false, 0)
}

// Close disconnects from the broker.
func (m *MQTT) Close() {
	if m.client != nil && m.client.IsConnected() {
		m.client.Disconnect(250)
	}
}
