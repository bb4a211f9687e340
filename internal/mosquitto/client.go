package mosquitto

import (
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type Client struct {
	client mqtt.Client
	log    *slog.Logger
}

type Config struct {
	Broker   string
	ClientId string
	Username string
	Password string
	Topics   []string
	QoS      byte
}

const (
	broker_connection_limit = 60 // seconds to wait for the broker to come up
	subscribe_limit         = 10 * time.Second
)

// MsgHandler consumes raw payloads from subscribed topics.
type MsgHandler interface {
	HandleMsg(msg []byte) error
}

// NewClient connects to the broker and subscribes handler to every topic in
// cfg. Subscriptions are restored on reconnect.
func NewClient(cfg Config, handler MsgHandler, log *slog.Logger) (*Client, error) {
	c := &Client{log: log}

	onMessage := func(_ mqtt.Client, msg mqtt.Message) {
		if err := handler.HandleMsg(msg.Payload()); err != nil {
			log.Warn("dropping MQTT message", "topic", msg.Topic(), "err", err)
		}
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientId)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetOnConnectHandler(func(cl mqtt.Client) {
		for _, topic := range cfg.Topics {
			token := cl.Subscribe(topic, cfg.QoS, onMessage)
			if !token.WaitTimeout(subscribe_limit) {
				log.Error("subscribe timed out", "topic", topic)
				continue
			}
			if err := token.Error(); err != nil {
				log.Error("subscribe failed", "topic", topic, "err", err)
				continue
			}
			log.Info("subscribed", "topic", topic)
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn("broker connection lost", "err", err)
	})

	client := mqtt.NewClient(opts)

	token := client.Connect()
	isConnected := token.WaitTimeout(broker_connection_limit * time.Second)
	if !isConnected {
		return nil, fmt.Errorf("broker connection to %s timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("broker connection to %s: %w", cfg.Broker, err)
	}

	c.client = client
	return c, nil
}

// Close disconnects from the broker, allowing in-flight work 250ms.
func (c *Client) Close() {
	if c == nil || c.client == nil {
		return
	}
	c.client.Disconnect(250)
	c.log.Info("broker client disconnected")
}
