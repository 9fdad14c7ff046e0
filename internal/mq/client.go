package mq

import (
	"context"
	"fmt"
	"log/slog"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"home/tempsim/internal/config"
)

// quiesce is how long Disconnect waits for in-flight work, in milliseconds.
const quiesce = 250

// Client is a thin wrapper around a paho client. It never reconnects on its own.
type Client struct {
	c      paho.Client
	broker string
	logger *slog.Logger
}

// MessageHandler receives the topic and payload of an incoming message.
type MessageHandler func(topic string, payload []byte)

func NewClient(cfg *config.Config, logger *slog.Logger) *Client {
	return &Client{
		c:      paho.NewClient(newOptions(cfg, logger)),
		broker: cfg.MQTTAddress(),
		logger: logger,
	}
}

func newOptions(cfg *config.Config, logger *slog.Logger) *paho.ClientOptions {
	opt := paho.NewClientOptions().AddBroker(cfg.MQTTAddress()).SetClientID(ClientID(cfg.MQTTClientID))
	if cfg.MQTTUser != "" {
		opt.SetUsername(cfg.MQTTUser)
	}
	if cfg.MQTTPassword != "" {
		opt.SetPassword(cfg.MQTTPassword)
	}

	opt.SetCleanSession(true)
	opt.SetAutoReconnect(false)
	opt.SetConnectRetry(false)
	opt.SetConnectTimeout(cfg.ConnectTimeout())

	opt.SetConnectionLostHandler(func(_ paho.Client, err error) {
		logger.Warn("MQTT connection lost", "error", err)
	})
	return opt
}

// ClientID returns id, or a generated one when id is empty.
func ClientID(id string) string {
	if id != "" {
		return id
	}
	return "tempsim-" + uuid.NewString()[:8]
}

// Connect blocks until the broker accepts the connection or ctx ends.
func (mc *Client) Connect(ctx context.Context) error {
	mc.logger.Info("Connecting to MQTT broker", "broker", mc.broker)

	tkt := mc.c.Connect()
	select {
	case <-tkt.Done():
		if err := tkt.Error(); err != nil {
			return fmt.Errorf("connect to mqtt server %s: %w", mc.broker, err)
		}
	case <-ctx.Done():
		// Abort the attempt so a late CONNACK does not leave us connected.
		mc.c.Disconnect(0)
		return fmt.Errorf("connect to mqtt server %s: %w", mc.broker, ctx.Err())
	}

	mc.logger.Info("Connected to MQTT broker", "broker", mc.broker)
	return nil
}

func (mc *Client) Disconnect() {
	mc.c.Disconnect(quiesce)
	mc.logger.Info("Disconnected from MQTT broker")
}

func (mc *Client) IsConnected() bool {
	return mc.c.IsConnected()
}

// Publish waits for the broker to acknowledge the message or for ctx to end.
func (mc *Client) Publish(ctx context.Context, topic string, qos byte, payload string) error {
	tk := mc.c.Publish(topic, qos, false, payload)
	select {
	case <-tk.Done():
		if err := tk.Error(); err != nil {
			return fmt.Errorf("publish to %s: %w", topic, err)
		}
	case <-ctx.Done():
		return fmt.Errorf("publish to %s: %w", topic, ctx.Err())
	}
	mc.logger.Debug("Published message", "topic", topic, "payload", payload)
	return nil
}

func (mc *Client) Subscribe(topic string, qos byte, handler MessageHandler) error {
	tk := mc.c.Subscribe(topic, qos, func(_ paho.Client, msg paho.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	tk.Wait()
	if err := tk.Error(); err != nil {
		return fmt.Errorf("subscribe to %s: %w", topic, err)
	}
	mc.logger.Info("Subscribed to topic", "topic", topic, "qos", qos)
	return nil
}
