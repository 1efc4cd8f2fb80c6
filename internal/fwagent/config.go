package fwagent

import (
	"errors"
	"fmt"

	"k8s.io/utils/clock"

	"github.com/autopeer-io/fwagent/internal/fwagent/command"
	"github.com/autopeer-io/fwagent/internal/fwagent/hal"
	"github.com/autopeer-io/fwagent/internal/fwagent/hub"
	"github.com/autopeer-io/fwagent/internal/fwagent/ota"
	"github.com/autopeer-io/fwagent/internal/fwagent/partition"
	"github.com/autopeer-io/fwagent/internal/fwagent/server"
	"github.com/autopeer-io/fwagent/internal/fwagent/source"
	"github.com/autopeer-io/fwagent/internal/fwagent/status"
	"github.com/autopeer-io/fwagent/pkg/mqtt"
	mqtttopic "github.com/autopeer-io/fwagent/pkg/mqtt/topic"
	"github.com/autopeer-io/fwagent/pkg/options"
)

// newMQTTClient is replaced in tests.
var newMQTTClient = mqtt.NewClient

type Config struct {
	MqttOptions      *options.MqttOptions
	HttpOptions      *options.HttpOptions
	S3Options        *options.S3Options
	OTAOptions       *options.OTAOptions
	PartitionOptions *options.PartitionOptions
	StatusOptions    *options.StatusOptions
	RestartOptions   *options.RestartOptions
}

func (cfg *Config) NewAgent() (*Agent, error) {
	deviceID := cfg.MqttOptions.DeviceID
	if deviceID == "" {
		if deviceID = hub.DiscoverDeviceID(); deviceID == "" {
			return nil, errors.New("FATAL: unable to derive a device ID, set --mqtt.device-id")
		}
	}

	store, err := partition.New(cfg.PartitionOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to open partition store: %w", err)
	}

	sources, err := cfg.newSources()
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	mqttClient, topicBuilder, err := cfg.initMqttClientAndTopicBuilder(deviceID)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to init mqtt client: %w", err)
	}

	restarter := hal.NewRestarter(cfg.RestartOptions)
	engine := ota.NewEngine(store, sources, restarter, cfg.OTAOptions)
	h := hub.New(mqttClient, topicBuilder, cfg.MqttOptions.CommandSubtopic, cfg.MqttOptions.QueueSize)
	dispatcher := command.NewDispatcher(cfg.MqttOptions.CommandSubtopic, h.Messages(), engine, restarter, cfg.RestartOptions.Delay)
	reporter := status.NewReporter(h, store, engine, cfg.StatusOptions)

	var srv *server.Server
	if cfg.HttpOptions.Enabled {
		srv = server.New(cfg.HttpOptions, store, reporter, engine, h)
	}

	return &Agent{
		deviceID:       deviceID,
		confirmBoot:    cfg.PartitionOptions.ConfirmBoot,
		confirmTimeout: cfg.PartitionOptions.ConfirmTimeout,
		store:          store,
		restarter:      restarter,
		clock:          clock.RealClock{},
		hub:            h,
		dispatcher:     dispatcher,
		reporter:       reporter,
		server:         srv,
	}, nil
}

func (cfg *Config) newSources() (*source.Mux, error) {
	mux := source.NewMux()

	httpSource := source.NewHTTPSource(cfg.OTAOptions)
	mux.Handle("http", httpSource)
	mux.Handle("https", httpSource)

	if cfg.S3Options.Enabled() {
		s3, err := source.NewS3Source(cfg.S3Options, cfg.OTAOptions)
		if err != nil {
			return nil, fmt.Errorf("failed to init s3 source: %w", err)
		}
		mux.Handle("s3", s3)
	}

	return mux, nil
}

func (cfg *Config) initMqttClientAndTopicBuilder(deviceID string) (mqtt.Client, *mqtttopic.TopicBuilder, error) {
	topicBuilder := mqtttopic.NewTopicBuilder(cfg.MqttOptions.TopicRoot, deviceID)

	mqttConfig := cfg.MqttOptions.ToClientConfig()
	if mqttConfig.ClientID == "" {
		mqttConfig.ClientID = deviceID
	}

	mqttConfig.WillTopic = topicBuilder.Online()
	mqttConfig.WillPayload = []byte(hub.OfflinePayload)
	mqttConfig.WillQoS = 1
	mqttConfig.WillRetain = true

	mqttClient, err := newMQTTClient(mqttConfig)
	if err != nil {
		return nil, nil, err
	}

	return mqttClient, topicBuilder, nil
}
