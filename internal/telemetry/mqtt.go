// Package telemetry publishes battle telemetry over MQTT.
package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/pokeproto-project/pokeproto/internal/config"
	"github.com/pokeproto-project/pokeproto/internal/events"
	"github.com/pokeproto-project/pokeproto/internal/util"
)

// MQTT topic suffixes (appended to the configured prefix).
const (
	TopicSession = "session"
	TopicTurns   = "turns"
	TopicResult  = "result"
)

// MQTTHandler manages the MQTT connection and publishes battle events.
type MQTTHandler struct {
	cfg      *config.Config
	eventBus *events.EventBus
	client   mqtt.Client

	// Metadata included in every message
	metadata map[string]interface{}
}

// NewMQTTHandler creates a new MQTT telemetry handler.
func NewMQTTHandler(cfg *config.Config, eventBus *events.EventBus) (*MQTTHandler, error) {
	mqttCfg := cfg.ApplicationData.MQTT

	if !mqttCfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}

	sysInfo := util.GetSystemInfo()
	metadata := map[string]interface{}{
		"hostname":  sysInfo.Hostname,
		"cpu_model": sysInfo.CPUModel,
		"cpu_cores": sysInfo.CPUCores,
		"memory_mb": sysInfo.TotalMemory,
		"peer_name": cfg.GetPeer().Name,
	}

	handler := &MQTTHandler{
		cfg:      cfg,
		eventBus: eventBus,
		metadata: metadata,
	}

	opts := mqtt.NewClientOptions()
	scheme := "tcp"
	if mqttCfg.UseTLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, mqttCfg.BrokerURL, mqttCfg.Port))

	if mqttCfg.ClientID != "" {
		opts.SetClientID(mqttCfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("pokeproto-%s", sysInfo.Hostname))
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)

	if mqttCfg.UseTLS {
		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
		if mqttCfg.CertFile != "" && mqttCfg.KeyFile != "" {
			cert, err := tls.LoadX509KeyPair(mqttCfg.CertFile, mqttCfg.KeyFile)
			if err != nil {
				return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Msg("MQTT connected")
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warn().Err(err).Msg("MQTT connection lost")
	})

	handler.client = mqtt.NewClient(opts)

	return handler, nil
}

// Start connects to the MQTT broker and subscribes to events.
func (h *MQTTHandler) Start(ctx context.Context) error {
	log.Info().
		Str("broker", h.cfg.ApplicationData.MQTT.BrokerURL).
		Int("port", h.cfg.ApplicationData.MQTT.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.subscribeEvents()

	<-ctx.Done()

	h.client.Disconnect(5000)
	log.Info().Msg("MQTT disconnected")

	return nil
}

// subscribeEvents registers event handlers for MQTT publishing.
func (h *MQTTHandler) subscribeEvents() {
	h.eventBus.Subscribe(events.EventBattleStarted, "mqtt.battleStarted", h.onBattleStarted)
	h.eventBus.Subscribe(events.EventTurnResolved, "mqtt.turnResolved", h.onTurnResolved)
	h.eventBus.Subscribe(events.EventDiscrepancy, "mqtt.discrepancy", h.onDiscrepancy)
	h.eventBus.Subscribe(events.EventGameOver, "mqtt.gameOver", h.onGameOver)
	h.eventBus.Subscribe(events.EventConnectionFailed, "mqtt.connectionFailed", h.onConnectionFailed)
}

func (h *MQTTHandler) topic(suffix string) string {
	prefix := h.cfg.ApplicationData.MQTT.TopicPrefix
	if prefix == "" {
		prefix = "pokeproto"
	}
	return prefix + "/battle/" + suffix
}

// publish sends a JSON message to an MQTT topic.
func (h *MQTTHandler) publish(topic string, payload interface{}) {
	if !h.client.IsConnected() {
		return
	}

	msg := h.buildMessage(payload)

	data, err := json.Marshal(msg)
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}

	token := h.client.Publish(topic, 1, false, data) // QoS 1
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage combines metadata with the event payload.
func (h *MQTTHandler) buildMessage(payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{})

	for k, v := range h.metadata {
		msg[k] = v
	}

	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	return msg
}

func (h *MQTTHandler) onBattleStarted(ctx context.Context, event events.Event) error {
	h.publish(h.topic(TopicSession), map[string]interface{}{
		"event":   "battle_started",
		"payload": event.Payload,
	})
	return nil
}

func (h *MQTTHandler) onTurnResolved(ctx context.Context, event events.Event) error {
	h.publish(h.topic(TopicTurns), event.Payload)
	return nil
}

func (h *MQTTHandler) onDiscrepancy(ctx context.Context, event events.Event) error {
	h.publish(h.topic(TopicTurns), map[string]interface{}{
		"event":   "discrepancy",
		"payload": event.Payload,
	})
	return nil
}

func (h *MQTTHandler) onGameOver(ctx context.Context, event events.Event) error {
	h.publish(h.topic(TopicResult), map[string]interface{}{
		"event":   "game_over",
		"payload": event.Payload,
	})
	return nil
}

func (h *MQTTHandler) onConnectionFailed(ctx context.Context, event events.Event) error {
	h.publish(h.topic(TopicSession), map[string]interface{}{
		"event":   "connection_failed",
		"payload": event.Payload,
	})
	return nil
}
