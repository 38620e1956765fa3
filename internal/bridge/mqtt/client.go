package mqtt

import (
	"errors"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/frostdev-ops/hmip-go/internal/config"
	"github.com/sirupsen/logrus"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultPublishTimeout = 5 * time.Second

	// milliseconds
	defaultDisconnectQuiesce = 250

	maxQoS = 2
)

var (
	ErrNotConnected     = errors.New("mqtt: client not connected")
	ErrConnectionFailed = errors.New("mqtt: connection failed")
	ErrPublishFailed    = errors.New("mqtt: publish failed")
	ErrInvalidTopic     = errors.New("mqtt: topic cannot be empty")
)

// Publisher is what the bridge needs from a broker connection
type Publisher interface {
	Publish(topic string, payload []byte, retained bool) error
	Close() error
}

// Client wraps a paho client with the bridge's QoS and status handling
type Client struct {
	client pahomqtt.Client
	qos    byte
	status string
	logger *logrus.Logger

	closeOnce sync.Once
}

// Connect dials the broker. The broker publishes "offline" to the status topic if the
// process goes away without Close.
func Connect(cfg config.MQTTConfig, logger *logrus.Logger) (*Client, error) {
	if cfg.QoS > maxQoS {
		return nil, fmt.Errorf("%w: invalid qos %d", ErrConnectionFailed, cfg.QoS)
	}

	status := StatusTopic(cfg.TopicPrefix)

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(defaultConnectTimeout)
	if cfg.KeepAlive > 0 {
		opts.SetKeepAlive(cfg.KeepAlive)
	}
	opts.SetWill(status, "offline", cfg.QoS, true)

	c := &Client{qos: cfg.QoS, status: status, logger: logger}

	opts.SetOnConnectHandler(func(cli pahomqtt.Client) {
		logger.WithField("broker", cfg.Broker).Info("MQTT connected")
		cli.Publish(status, cfg.QoS, true, "online")
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logger.WithError(err).Warn("MQTT connection lost")
	})

	c.client = pahomqtt.NewClient(opts)
	token := c.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return c, nil
}

// newClient wraps an existing paho client
func newClient(cli pahomqtt.Client, qos byte, prefix string, logger *logrus.Logger) *Client {
	return &Client{client: cli, qos: qos, status: StatusTopic(prefix), logger: logger}
}

func (c *Client) Publish(topic string, payload []byte, retained bool) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.client.IsConnectionOpen() {
		return ErrNotConnected
	}

	token := c.client.Publish(topic, c.qos, retained, payload)
	if !token.WaitTimeout(defaultPublishTimeout) {
		return fmt.Errorf("%w: timeout after %v", ErrPublishFailed, defaultPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}
	return nil
}

// Close publishes a graceful offline status and disconnects
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		if c.client.IsConnectionOpen() {
			token := c.client.Publish(c.status, c.qos, true, "offline")
			token.WaitTimeout(defaultPublishTimeout)
		}
		c.client.Disconnect(defaultDisconnectQuiesce)
		c.logger.Info("MQTT disconnected")
	})
	return nil
}
