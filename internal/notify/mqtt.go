// Package notify announces finished artifacts to wall displays over MQTT.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/kratadata/quartier-atlas/internal/geo"
	"github.com/kratadata/quartier-atlas/internal/pipeline"
)

// Announcement is the JSON message published per artifact.
type Announcement struct {
	ImageURL     string        `json:"imageUrl"`
	Caption      string        `json:"caption"`
	QuartierID   int           `json:"quartierId"`
	QuartierName string        `json:"quartierName"`
	GPS          *geo.GeoPoint `json:"gps"`
	CreatedAt    time.Time     `json:"createdAt"`
}

type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTT publishes announcements on one topic.
type MQTT struct {
	client  publisher
	topic   string
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// Dial connects to broker. Reconnects are handled by the client.
func Dial(broker, clientID, topic string, logger *slog.Logger) (*MQTT, mqtt.Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if clientID == "" {
		clientID = fmt.Sprintf("quartier-atlas-%d", time.Now().UnixNano())
	}

	opts := mqtt.NewClientOptions().AddBroker(broker).SetClientID(clientID)
	opts = opts.SetAutoReconnect(true).SetConnectRetry(true).SetOrderMatters(false)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10*time.Second) {
		// ConnectRetry keeps trying in the background.
		logger.Warn("mqtt broker not reachable yet", "broker", broker)
	} else if err := token.Error(); err != nil {
		return nil, nil, fmt.Errorf("connect to broker: %w", err)
	}
	logger.Info("connected to mqtt broker", "broker", broker, "client", clientID)

	return New(client, topic, logger), client, nil
}

// New wraps an existing client.
func New(client publisher, topic string, logger *slog.Logger) *MQTT {
	if logger == nil {
		logger = slog.Default()
	}
	if topic == "" {
		topic = "quartier/artifacts"
	}
	return &MQTT{client: client, topic: topic, timeout: 5 * time.Second, now: time.Now, logger: logger}
}

// Announce implements pipeline.Announcer.
func (m *MQTT) Announce(ctx context.Context, r pipeline.Result) error {
	payload, err := json.Marshal(Announcement{
		ImageURL:     r.ImageURL,
		Caption:      r.Label,
		QuartierID:   r.District.ID,
		QuartierName: r.District.Name,
		GPS:          r.GPS,
		CreatedAt:    m.now().UTC(),
	})
	if err != nil {
		return err
	}

	token := m.client.Publish(m.topic, 1, false, payload)
	select {
	case <-token.Done():
	case <-time.After(m.timeout):
		return fmt.Errorf("publish to %s: timed out", m.topic)
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", m.topic, err)
	}
	m.logger.Debug("artifact announced", "topic", m.topic, "url", r.ImageURL)
	return nil
}
