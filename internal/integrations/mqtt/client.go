// Package mqtt is a publish-only MQTT client for session state and capture events.
package mqtt

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"birdwatch-go/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"
)

// Availability payloads
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// Client publishes to an MQTT broker
type Client struct {
	config      config.MQTTConfig
	client      mqtt.Client
	isConnected atomic.Bool
	timeout     time.Duration
}

// NewClient creates a client. Nothing is sent before Start.
func NewClient(cfg config.MQTTConfig) *Client {
	return &Client{config: cfg, timeout: 5 * time.Second}
}

// AvailabilityTopic is the retained topic carrying online / offline
func (c *Client) AvailabilityTopic() string {
	return c.config.TopicPrefix + "/availability"
}

// Start connects to the broker. The broker publishes "offline" to the
// availability topic when the connection drops.
func (c *Client) Start() error {
	if !c.config.Enabled {
		log.Info("MQTT client is disabled in configuration")
		return nil
	}

	opts := mqtt.NewClientOptions()
	brokerURL := fmt.Sprintf("tcp://%s:%d", c.config.Broker, c.config.Port)
	opts.AddBroker(brokerURL)
	opts.SetClientID(c.config.ClientID)
	if c.config.Username != "" {
		opts.SetUsername(c.config.Username)
		opts.SetPassword(c.config.Password)
	}
	opts.SetWill(c.AvailabilityTopic(), PayloadOffline, 1, true)
	opts.SetOnConnectHandler(c.onConnectHandler)
	opts.SetConnectionLostHandler(c.connectionLostHandler)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(time.Minute)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(10 * time.Second)

	c.client = mqtt.NewClient(opts)

	log.Infof("Connecting to MQTT broker at %s", brokerURL)
	token := c.client.Connect()
	if !token.WaitTimeout(c.timeout) {
		// ConnectRetry keeps trying in the background
		log.Warnf("MQTT broker %s not reachable yet, retrying in the background", brokerURL)
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}
	return nil
}

// Stop publishes "offline" and disconnects
func (c *Client) Stop() {
	if c.client == nil {
		return
	}
	if c.IsConnected() {
		if err := c.PublishRetain(c.AvailabilityTopic(), PayloadOffline); err != nil {
			log.WithError(err).Debug("Failed to publish offline state")
		}
	}
	log.Info("Disconnecting MQTT client")
	c.client.Disconnect(250)
	c.isConnected.Store(false)
}

// IsConnected reports whether the client is connected to the broker
func (c *Client) IsConnected() bool {
	return c.client != nil && c.isConnected.Load() && c.client.IsConnected()
}

func (c *Client) onConnectHandler(client mqtt.Client) {
	log.Infof("Connected to MQTT broker at %s:%d", c.config.Broker, c.config.Port)
	c.isConnected.Store(true)
	if token := client.Publish(c.AvailabilityTopic(), 1, true, PayloadOnline); token.WaitTimeout(c.timeout) && token.Error() != nil {
		log.WithError(token.Error()).Warn("Failed to publish online state")
	}
}

func (c *Client) connectionLostHandler(_ mqtt.Client, err error) {
	log.Errorf("MQTT connection lost: %v", err)
	c.isConnected.Store(false)
}

// PublishMessage sends payload to topic. Strings, byte slices and plain
// numbers are sent as text, everything else as JSON.
func (c *Client) PublishMessage(topic string, payload any, retain bool) error {
	if !c.IsConnected() {
		return fmt.Errorf("MQTT client is not connected")
	}

	payloadBytes, err := encodePayload(payload)
	if err != nil {
		return err
	}

	token := c.client.Publish(topic, 1, retain, payloadBytes)
	if !token.WaitTimeout(c.timeout) {
		return fmt.Errorf("timed out publishing to %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish message to topic %s: %w", topic, err)
	}

	log.Debugf("Published message to topic: %s", topic)
	return nil
}

// PublishRetain sends a retained message
func (c *Client) PublishRetain(topic string, payload any) error {
	return c.PublishMessage(topic, payload, true)
}

// Publish sends a message without the retain flag
func (c *Client) Publish(topic string, payload any) error {
	return c.PublishMessage(topic, payload, false)
}

func encodePayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case string:
		return []byte(p), nil
	case []byte:
		return p, nil
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, bool:
		return []byte(fmt.Sprintf("%v", p)), nil
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload to JSON: %w", err)
		}
		return b, nil
	}
}
