package options

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/autopeer-io/fwagent/pkg/mqtt"
	"github.com/autopeer-io/fwagent/pkg/mqtt/topic"
)

var _ IOptions = (*MqttOptions)(nil)

// MqttOptions contains configuration for the MQTT client and the device topic layout.
type MqttOptions struct {
	Broker   string `json:"broker" mapstructure:"broker"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	ClientID string `json:"client-id" mapstructure:"client-id"`

	// Client behavior
	KeepAlive      time.Duration `json:"keep-alive" mapstructure:"keep-alive"`
	ConnectTimeout time.Duration `json:"connect-timeout" mapstructure:"connect-timeout"`
	ReconnectDelay time.Duration `json:"reconnect-delay" mapstructure:"reconnect-delay"`
	SessionExpiry  uint32        `json:"session-expiry" mapstructure:"session-expiry"`
	CleanStart     bool          `json:"clean-start" mapstructure:"clean-start"`

	// InsecureSkipVerify controls whether a client verifies the server's certificate chain and host name.
	// This should be used only for testing.
	InsecureSkipVerify bool `json:"insecure-skip-verify" mapstructure:"insecure-skip-verify"`

	// Topics are built as {TopicRoot}/{DeviceID}/{subtopic}.
	// An empty TopicRoot yields {DeviceID}/{subtopic}.
	TopicRoot string `json:"topic-root" mapstructure:"topic-root"`

	// DeviceID names this device on the bus. Empty means IoT_<mac of the first interface>.
	DeviceID string `json:"device-id" mapstructure:"device-id"`

	// CommandSubtopic is the subtopic on which commands are received.
	CommandSubtopic string `json:"command-subtopic" mapstructure:"command-subtopic"`

	// QueueSize bounds the inbound command queue.
	QueueSize int `json:"queue-size" mapstructure:"queue-size"`
}

// NewMqttOptions creates a new MqttOptions with default values.
func NewMqttOptions() *MqttOptions {
	return &MqttOptions{
		Broker:             "mqtt://127.0.0.1:1883",
		KeepAlive:          60 * time.Second,
		ConnectTimeout:     5 * time.Second,
		ReconnectDelay:     3 * time.Second,
		SessionExpiry:      60,
		CleanStart:         true,
		InsecureSkipVerify: false,
		TopicRoot:          "",
		CommandSubtopic:    topic.Command,
		QueueSize:          16,
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *MqttOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}

	if o.Broker == "" {
		errs = append(errs, errors.New("--mqtt.broker is required"))
	} else if _, err := url.Parse(o.Broker); err != nil {
		errs = append(errs, fmt.Errorf("--mqtt.broker: %w", err))
	}
	if o.CommandSubtopic == "" || strings.ContainsAny(o.CommandSubtopic, topic.Separator+topic.Wildcard+topic.MultiWildcard) {
		errs = append(errs, fmt.Errorf("--mqtt.command-subtopic must be a single topic level, got %q", o.CommandSubtopic))
	}
	if strings.ContainsAny(o.DeviceID, topic.Separator+topic.Wildcard+topic.MultiWildcard) {
		errs = append(errs, fmt.Errorf("--mqtt.device-id must not contain topic separators or wildcards, got %q", o.DeviceID))
	}
	if o.ReconnectDelay < 0 {
		errs = append(errs, errors.New("--mqtt.reconnect-delay must not be negative"))
	}
	if o.QueueSize <= 0 {
		errs = append(errs, errors.New("--mqtt.queue-size must be positive"))
	}

	return errs
}

// AddFlags adds flags for MqttOptions to the specified FlagSet.
func (o *MqttOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Broker, "mqtt.broker", o.Broker, "The URL of the MQTT broker.")
	fs.StringVar(&o.Username, "mqtt.username", o.Username, "The username for MQTT authentication.")
	fs.StringVar(&o.Password, "mqtt.password", o.Password, "The password for MQTT authentication.")
	fs.StringVar(&o.ClientID, "mqtt.client-id", o.ClientID, "Explicit Client ID (optional, defaults to the device ID).")

	fs.DurationVar(&o.KeepAlive, "mqtt.keep-alive", o.KeepAlive, "MQTT Keep Alive interval.")
	fs.DurationVar(&o.ConnectTimeout, "mqtt.connect-timeout", o.ConnectTimeout, "Timeout for establishing MQTT connection.")
	fs.DurationVar(&o.ReconnectDelay, "mqtt.reconnect-delay", o.ReconnectDelay, "Delay between reconnection attempts after the broker connection drops.")
	fs.Uint32Var(&o.SessionExpiry, "mqtt.session-expiry", o.SessionExpiry, "MQTT Session Expiry Interval in seconds.")
	fs.BoolVar(&o.InsecureSkipVerify, "mqtt.insecure-skip-verify", o.InsecureSkipVerify, "If true, skips the TLS certificate verification.")

	fs.StringVar(&o.TopicRoot, "mqtt.topic-root", o.TopicRoot, "Optional prefix placed before the device ID in every topic.")
	fs.StringVar(&o.DeviceID, "mqtt.device-id", o.DeviceID, "Device identifier used as the base topic. Defaults to IoT_<mac>.")
	fs.StringVar(&o.CommandSubtopic, "mqtt.command-subtopic", o.CommandSubtopic, "Subtopic on which commands are received.")
	fs.IntVar(&o.QueueSize, "mqtt.queue-size", o.QueueSize, "Capacity of the inbound command queue.")
}

func (o *MqttOptions) ToClientConfig() *mqtt.ClientConfig {
	return &mqtt.ClientConfig{
		BrokerURL:          o.Broker,
		Username:           o.Username,
		Password:           o.Password,
		ClientID:           o.ClientID,
		KeepAlive:          uint16(o.KeepAlive.Seconds()),
		SessionExpiry:      o.SessionExpiry,
		ConnectTimeout:     o.ConnectTimeout,
		ReconnectDelay:     o.ReconnectDelay,
		CleanStart:         o.CleanStart,
		InsecureSkipVerify: o.InsecureSkipVerify,
	}
}
