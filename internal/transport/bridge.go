// Package transport bridges glowd and the host platform over MQTT: light
// commands go out, switch actions and registry snapshots come in. The
// bridge itself stays dumb; inbound payloads are parsed and handed to the
// event bus, outbound commands are serialized as-is.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/glowlab/glowd/internal/config"
	"github.com/glowlab/glowd/internal/curve"
	"github.com/glowlab/glowd/internal/eventbus"
	"github.com/glowlab/glowd/internal/registry"
	"github.com/glowlab/glowd/internal/router"
)

// Topic layout under the configured base topic.
//
//	<base>/command/<kind>/<target>   out: light command, JSON router.Command
//	<base>/switch/<device>/action    in:  switch press, plain command string
//	<base>/registry                  in:  registry snapshot, retained JSON
//	<base>/curve/set                 in:  curve parameter update, JSON
const (
	topicCommand  = "command"
	topicSwitch   = "switch"
	topicRegistry = "registry"
	topicCurve    = "curve/set"
)

const qosAtLeastOnce byte = 1

// Bridge is the MQTT transport. It satisfies router.Commander.
type Bridge struct {
	client pahomqtt.Client
	cfg    config.MQTTConfig
	bus    *eventbus.Bus
}

// New builds the bridge without connecting.
func New(cfg config.MQTTConfig, bus *eventbus.Bus) *Bridge {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Address())

	if cfg.ClientID != "" {
		opts.SetClientID(cfg.ClientID)
	} else {
		opts.SetClientID("glowd-" + uuid.NewString()[:8])
	}
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	b := &Bridge{cfg: cfg, bus: bus}

	opts.OnConnect = func(c pahomqtt.Client) {
		log.Info().Str("broker", cfg.Address()).Msg("Connected to MQTT broker")
		// Resubscribe on every (re)connect; clean sessions drop state.
		b.subscribe()
	}
	opts.OnConnectionLost = func(c pahomqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	}
	opts.OnReconnecting = func(c pahomqtt.Client, opts *pahomqtt.ClientOptions) {
		log.Info().Msg("MQTT reconnecting")
	}

	b.client = pahomqtt.NewClient(opts)
	return b
}

// Connect establishes the broker connection.
func (b *Bridge) Connect(ctx context.Context) error {
	log.Info().Str("broker", b.cfg.Address()).Msg("Connecting to MQTT broker")

	token := b.client.Connect()
	select {
	case <-token.Done():
		if token.Error() != nil {
			return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("connection timeout: %w", ctx.Err())
	}
}

// Close disconnects from the broker.
func (b *Bridge) Close() {
	log.Info().Msg("Disconnecting from MQTT broker")
	b.client.Disconnect(250)
}

func (b *Bridge) topic(parts ...string) string {
	return b.cfg.BaseTopic + "/" + strings.Join(parts, "/")
}

func (b *Bridge) subscribe() {
	subs := map[string]pahomqtt.MessageHandler{
		b.topic(topicSwitch, "+", "action"): b.handleSwitch,
		b.topic(topicRegistry):              b.handleRegistry,
		b.topic(topicCurve):                 b.handleCurve,
	}
	for topic, handler := range subs {
		token := b.client.Subscribe(topic, qosAtLeastOnce, handler)
		token.Wait()
		if token.Error() != nil {
			log.Error().Err(token.Error()).Str("topic", topic).Msg("MQTT subscribe failed")
			continue
		}
		log.Debug().Str("topic", topic).Msg("Subscribed")
	}
}

// Send publishes a light command. Satisfies router.Commander; the router
// has already serialized access, so a blocking publish here is fine.
func (b *Bridge) Send(_ context.Context, cmd router.Command) error {
	payload, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("failed to encode command: %w", err)
	}

	topic := b.topic(topicCommand, string(cmd.Kind), cmd.TargetID)
	token := b.client.Publish(topic, qosAtLeastOnce, false, payload)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, token.Error())
	}

	log.Debug().Str("topic", topic).Str("command", cmd.ID).Msg("Command published")
	return nil
}

// handleSwitch turns `<base>/switch/<device>/action` into a button event.
// The payload is the bare action string, matching zigbee2mqtt's action
// topic convention.
func (b *Bridge) handleSwitch(_ pahomqtt.Client, msg pahomqtt.Message) {
	parts := strings.Split(msg.Topic(), "/")
	if len(parts) < 3 {
		log.Warn().Str("topic", msg.Topic()).Msg("Malformed switch topic")
		return
	}
	deviceID := parts[len(parts)-2]
	command := strings.TrimSpace(string(msg.Payload()))
	if command == "" {
		return
	}

	b.bus.Publish(eventbus.Event{
		Type: eventbus.EventTypeButton,
		Data: map[string]interface{}{
			"device":  deviceID,
			"command": command,
		},
	})
}

// handleRegistry parses a full registry snapshot. The platform publishes it
// retained, so a fresh daemon gets the current registry on connect.
func (b *Bridge) handleRegistry(_ pahomqtt.Client, msg pahomqtt.Message) {
	var snap registry.Snapshot
	if err := json.Unmarshal(msg.Payload(), &snap); err != nil {
		log.Error().Err(err).Msg("Failed to parse registry snapshot")
		return
	}

	b.bus.Publish(eventbus.Event{
		Type: eventbus.EventTypeRegistry,
		Data: map[string]interface{}{
			"snapshot": &snap,
		},
	})
}

// handleCurve parses a curve parameter update. Invalid parameter sets are
// rejected here, before anything is persisted or applied.
func (b *Bridge) handleCurve(_ pahomqtt.Client, msg pahomqtt.Message) {
	var p curve.Params
	if err := json.Unmarshal(msg.Payload(), &p); err != nil {
		log.Error().Err(err).Msg("Failed to parse curve params")
		return
	}
	if err := p.Validate(); err != nil {
		log.Error().Err(err).Msg("Rejected invalid curve params")
		return
	}

	b.bus.Publish(eventbus.Event{
		Type: eventbus.EventTypeCurve,
		Data: map[string]interface{}{
			"params": p,
		},
	})
}
