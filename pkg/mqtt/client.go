package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"

	"github.com/anchorwatch/anchorwatch/pkg/logx"
	"github.com/anchorwatch/anchorwatch/pkg/retry"
	"github.com/anchorwatch/anchorwatch/pkg/uci"
)

// Topic suffixes below the configured prefix
const (
	TopicStatus       = "status"
	TopicEvents       = "events"
	TopicAlarm        = "alarm"
	TopicCommand      = "cmd"
	TopicAvailability = "availability"
)

// ErrUnknownCommand is returned for a command action the daemon does not handle
var ErrUnknownCommand = errors.New("unknown command")

// broker is the part of the paho client this package uses
type broker interface {
	IsConnected() bool
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) MQTT.Token
	Subscribe(topic string, qos byte, callback MQTT.MessageHandler) MQTT.Token
	Unsubscribe(topics ...string) MQTT.Token
}

// Client publishes watch status and events and receives arm/disarm commands
type Client struct {
	logger *logx.Logger
	config *Config
	runner *retry.Runner

	mu          sync.RWMutex
	client      broker
	connected   bool
	lastPublish time.Time
	commands    CommandHandler
}

// Config holds MQTT configuration
type Config struct {
	Broker      string        `json:"broker"`
	ClientID    string        `json:"client_id"`
	Username    string        `json:"username"`
	Password    string        `json:"-"`
	TopicPrefix string        `json:"topic_prefix"`
	QoS         int           `json:"qos"`
	Retain      bool          `json:"retain"`
	Enabled     bool          `json:"enabled"`
	Timeout     time.Duration `json:"timeout"`
	Retry       retry.Config  `json:"-"`
}

// DefaultConfig returns default MQTT configuration
func DefaultConfig() *Config {
	return &Config{
		Broker:      "tcp://localhost:1883",
		ClientID:    "anchorwatchd",
		TopicPrefix: "anchorwatch",
		QoS:         1,
		Timeout:     5 * time.Second,
		Retry:       retry.Config{MaxAttempts: 3, InitialDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second, BackoffFactor: 2},
	}
}

// ConfigFromUCI converts the mqtt section of the daemon config
func ConfigFromUCI(c uci.MQTTConfig) *Config {
	config := DefaultConfig()
	config.Enabled = c.Enabled && c.Broker != ""
	if c.Broker != "" {
		config.Broker = c.Broker
	}
	if !strings.Contains(config.Broker, "://") {
		config.Broker = "tcp://" + config.Broker
	}
	if c.ClientID != "" {
		config.ClientID = c.ClientID
	}
	if c.TopicPrefix != "" {
		config.TopicPrefix = strings.TrimSuffix(c.TopicPrefix, "/")
	}
	config.Username = c.Username
	config.Password = c.Password
	if c.QoS >= 0 && c.QoS <= 2 {
		config.QoS = c.QoS
	}
	config.Retain = c.Retain
	return config
}

// Command is an arm/disarm request received on <prefix>/cmd
type Command struct {
	Action    string   `json:"action"` // "arm" or "disarm"
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
	Threshold float64  `json:"threshold,omitempty"`
}

// CommandHandler executes a received command
type CommandHandler func(ctx context.Context, cmd Command) error

// NewClient creates a new MQTT client
func NewClient(config *Config, logger *logx.Logger) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	return &Client{
		logger: logger,
		config: config,
		runner: retry.NewRunner(config.Retry),
	}
}

// Connect establishes connection to MQTT broker. The broker marks the daemon
// offline through the last-will message if the connection drops.
func (c *Client) Connect() error {
	if !c.config.Enabled {
		c.logger.Debug("MQTT client disabled")
		return nil
	}

	opts := MQTT.NewClientOptions()
	opts.AddBroker(c.config.Broker)
	opts.SetClientID(c.config.ClientID)
	if c.config.Username != "" {
		opts.SetUsername(c.config.Username)
		opts.SetPassword(c.config.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(time.Minute)
	opts.SetWill(c.topic(TopicAvailability), "offline", byte(c.config.QoS), true)

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)

	client := MQTT.NewClient(opts)
	c.mu.Lock()
	c.client = client
	c.mu.Unlock()

	token := client.Connect()
	if !token.WaitTimeout(c.config.Timeout) {
		// SetConnectRetry keeps trying in the background
		c.logger.Warn("MQTT broker not reachable yet, retrying in background", "broker", c.config.Broker)
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", err)
	}

	c.logger.Info("MQTT client connected", "broker", c.config.Broker)
	return nil
}

// Disconnect publishes the offline marker and disconnects from the broker
func (c *Client) Disconnect() error {
	c.mu.Lock()
	client, connected := c.client, c.connected
	c.connected = false
	c.mu.Unlock()

	if client != nil && connected {
		token := client.Publish(c.topic(TopicAvailability), byte(c.config.QoS), true, "offline")
		token.WaitTimeout(c.config.Timeout)
		client.Disconnect(250)
		c.logger.Info("MQTT client disconnected")
	}
	return nil
}

func (c *Client) onConnect(client MQTT.Client) {
	c.mu.Lock()
	c.connected = true
	handler := c.commands
	c.mu.Unlock()

	c.logger.Info("MQTT connection established")
	client.Publish(c.topic(TopicAvailability), byte(c.config.QoS), true, "online")

	// Subscriptions do not survive a clean-session reconnect
	if handler != nil {
		if err := c.subscribeCommands(); err != nil {
			c.logger.Error("MQTT resubscribe failed", "error", err)
		}
	}
}

func (c *Client) onConnectionLost(client MQTT.Client, err error) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	c.logger.Error("MQTT connection lost", "error", err)
}

func (c *Client) topic(suffix string) string {
	return c.config.TopicPrefix + "/" + suffix
}

func (c *Client) ready() (broker, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.config.Enabled || !c.connected || c.client == nil {
		return nil, false
	}
	return c.client, true
}

// PublishStatus publishes the watch status snapshot, retained so new
// subscribers see the current state
func (c *Client) PublishStatus(ctx context.Context, status interface{}) error {
	return c.publishJSON(ctx, c.topic(TopicStatus), true, map[string]interface{}{
		"timestamp": time.Now().UTC(),
		"status":    status,
	})
}

// PublishEvent publishes a watch event
func (c *Client) PublishEvent(ctx context.Context, event interface{}) error {
	return c.publishJSON(ctx, c.topic(TopicEvents), c.config.Retain, map[string]interface{}{
		"timestamp": time.Now().UTC(),
		"event":     event,
	})
}

// PublishAlarm publishes the retained alarm flag as "ON" or "OFF"
func (c *Client) PublishAlarm(ctx context.Context, triggered bool) error {
	value := "OFF"
	if triggered {
		value = "ON"
	}
	return c.publish(ctx, c.topic(TopicAlarm), true, []byte(value))
}

func (c *Client) publishJSON(ctx context.Context, topic string, retained bool, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return c.publish(ctx, topic, retained, data)
}

func (c *Client) publish(ctx context.Context, topic string, retained bool, data []byte) error {
	client, ok := c.ready()
	if !ok {
		return nil
	}

	err := c.runner.Do(ctx, func(ctx context.Context, attempt int) error {
		token := client.Publish(topic, byte(c.config.QoS), retained, data)
		if !token.WaitTimeout(c.config.Timeout) {
			return fmt.Errorf("publish to %s timed out", topic)
		}
		if err := token.Error(); err != nil {
			c.logger.Warn("MQTT publish failed", "topic", topic, "attempt", attempt, "error", err)
			return err
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, err)
	}

	c.mu.Lock()
	c.lastPublish = time.Now()
	c.mu.Unlock()
	c.logger.Debug("MQTT message published", "topic", topic, "size", len(data))
	return nil
}

// SubscribeCommands routes messages on <prefix>/cmd to handler
func (c *Client) SubscribeCommands(handler CommandHandler) error {
	c.mu.Lock()
	c.commands = handler
	c.mu.Unlock()
	return c.subscribeCommands()
}

func (c *Client) subscribeCommands() error {
	client, ok := c.ready()
	if !ok {
		return nil
	}
	topic := c.topic(TopicCommand)
	token := client.Subscribe(topic, byte(c.config.QoS), func(_ MQTT.Client, msg MQTT.Message) {
		if err := c.handleCommand(msg.Payload()); err != nil {
			c.logger.Warn("MQTT command rejected", "topic", msg.Topic(), "error", err)
		}
	})
	if !token.WaitTimeout(c.config.Timeout) {
		return fmt.Errorf("subscribe to %s timed out", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, err)
	}
	c.logger.Info("MQTT subscription created", "topic", topic)
	return nil
}

func (c *Client) handleCommand(payload []byte) error {
	c.mu.RLock()
	handler := c.commands
	c.mu.RUnlock()
	if handler == nil {
		return nil
	}

	var cmd Command
	trimmed := strings.TrimSpace(string(payload))
	// Plain "arm"/"disarm" payloads are accepted for simple dashboards
	if !strings.HasPrefix(trimmed, "{") {
		cmd.Action = trimmed
	} else if err := json.Unmarshal(payload, &cmd); err != nil {
		return fmt.Errorf("decode command: %w", err)
	}
	cmd.Action = strings.ToLower(cmd.Action)

	switch cmd.Action {
	case "arm", "disarm":
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Action)
	}
	if (cmd.Latitude == nil) != (cmd.Longitude == nil) {
		return errors.New("latitude and longitude must be given together")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return handler(ctx, cmd)
}

// IsConnected returns whether the MQTT client is connected
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected && c.client != nil && c.client.IsConnected()
}

// GetLastPublish returns the timestamp of the last publish
func (c *Client) GetLastPublish() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastPublish
}
