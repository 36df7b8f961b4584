package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aseelert/sma-byd-tibber-automation/pkg/log"
	"github.com/aseelert/sma-byd-tibber-automation/pkg/types"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/levenlabs/go-lflag"
)

// Publisher pushes the battery status and each decision to an MQTT broker as
// retained JSON, mainly for Home Assistant dashboards. With no broker
// configured every method is a no-op.
type Publisher struct {
	broker      string
	topicPrefix string
	client      paho.Client
}

// Configured sets up flags for the publisher and returns the instance.
// Connect must be called before use.
func Configured() *Publisher {
	p := &Publisher{}
	broker := lflag.String("mqtt-broker", "", "MQTT broker address (tcp://host:1883), empty to disable")
	prefix := lflag.String("mqtt-topic-prefix", "smartenergy", "Prefix for all published MQTT topics")

	lflag.Do(func() {
		p.broker = *broker
		p.topicPrefix = *prefix
	})

	return p
}

// Enabled reports whether a broker is configured.
func (p *Publisher) Enabled() bool {
	return p.broker != ""
}

// Connect establishes the broker connection and announces online status. The
// will message flips the status topic to offline if we drop off.
func (p *Publisher) Connect(ctx context.Context) error {
	if !p.Enabled() {
		return nil
	}

	opts := paho.NewClientOptions().AddBroker(p.broker).SetClientID("smartenergy")
	opts.SetKeepAlive(30 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetWill(p.topicPrefix+"/status", "offline", 0, true)
	opts.OnConnect = func(client paho.Client) {
		log.Ctx(ctx).InfoContext(ctx, "mqtt connected", slog.String("broker", p.broker))
		client.Publish(p.topicPrefix+"/status", 0, true, "online")
	}
	opts.OnConnectionLost = func(client paho.Client, err error) {
		log.Ctx(ctx).WarnContext(ctx, "mqtt connection lost", slog.Any("error", err))
	}

	client := paho.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to mqtt broker %s: %w", p.broker, token.Error())
	}

	p.client = client
	return nil
}

// Close announces offline status and disconnects.
func (p *Publisher) Close() {
	if p.client == nil {
		return
	}
	p.client.Publish(p.topicPrefix+"/status", 0, true, "offline").Wait()
	p.client.Disconnect(250)
	p.client = nil
}

// PublishStatus pushes the latest battery snapshot.
func (p *Publisher) PublishStatus(ctx context.Context, status *types.BatteryStatus) error {
	if p.client == nil || status == nil {
		return nil
	}
	return p.publishJSON(ctx, p.topicPrefix+"/battery", status)
}

// PublishDecision pushes the latest control decision.
func (p *Publisher) PublishDecision(ctx context.Context, d types.ChargeDecision) error {
	if p.client == nil {
		return nil
	}
	return p.publishJSON(ctx, p.topicPrefix+"/decision", d)
}

func (p *Publisher) publishJSON(ctx context.Context, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode payload for %s: %w", topic, err)
	}

	log.Ctx(ctx).DebugContext(ctx, "publishing to mqtt", slog.String("topic", topic))
	if token := p.client.Publish(topic, 0, true, payload); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, token.Error())
	}
	return nil
}
