package application

import (
	"context"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lorawan-server-go/internal/config"
)

// Forwarder republishes application events from the NATS bus to an
// external MQTT broker.
type Forwarder struct {
	nc     *nats.Conn
	cfg    config.MQTTConfig
	client mqtt.Client
	subs   []*nats.Subscription
}

// NewForwarder creates a forwarder
func NewForwarder(nc *nats.Conn, cfg config.MQTTConfig) *Forwarder {
	return &Forwarder{nc: nc, cfg: cfg}
}

// Start connects to the broker and bridges events until the context is
// cancelled. With no broker configured it is a no-op.
func (f *Forwarder) Start(ctx context.Context) error {
	if f.cfg.Broker == "" {
		log.Info().Msg("no MQTT broker configured, forwarder disabled")
		<-ctx.Done()
		return ctx.Err()
	}

	opts := mqtt.NewClientOptions().
		AddBroker(f.cfg.Broker).
		SetClientID(f.cfg.ClientID).
		SetUsername(f.cfg.Username).
		SetPassword(f.cfg.Password).
		SetAutoReconnect(true).
		SetConnectTimeout(10 * time.Second)

	f.client = mqtt.NewClient(opts)
	if token := f.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect MQTT broker: %w", token.Error())
	}

	for _, kind := range []string{"rx", "join"} {
		sub, err := f.nc.Subscribe(fmt.Sprintf("application.*.device.*.%s", kind), f.republish)
		if err != nil {
			return fmt.Errorf("subscribe %s events: %w", kind, err)
		}
		f.subs = append(f.subs, sub)
	}

	log.Info().Str("broker", f.cfg.Broker).Msg("MQTT forwarder started")

	<-ctx.Done()

	for _, sub := range f.subs {
		sub.Unsubscribe()
	}
	f.client.Disconnect(250)
	return ctx.Err()
}

// republish maps a NATS subject application.<app>.device.<devaddr>.<kind>
// onto the configured MQTT topic template.
func (f *Forwarder) republish(msg *nats.Msg) {
	parts := strings.Split(msg.Subject, ".")
	if len(parts) != 5 {
		return
	}
	app, devAddr, kind := parts[1], parts[3], parts[4]

	topic := f.cfg.Topic
	topic = strings.ReplaceAll(topic, "{{app}}", app)
	topic = strings.ReplaceAll(topic, "{{devaddr}}", devAddr)
	if kind != "rx" {
		topic = strings.TrimSuffix(topic, "rx") + kind
	}

	if token := f.client.Publish(topic, 0, false, msg.Data); token.Wait() && token.Error() != nil {
		log.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
	}
}
