package options

import (
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/autopeer-io/fwagent/internal/fwagent"
	"github.com/autopeer-io/fwagent/pkg/app"
	"github.com/autopeer-io/fwagent/pkg/log"
	"github.com/autopeer-io/fwagent/pkg/options"
)

type AgentOptions struct {
	MqttOptions      *options.MqttOptions      `json:"mqtt" mapstructure:"mqtt"`
	HttpOptions      *options.HttpOptions      `json:"http" mapstructure:"http"`
	S3Options        *options.S3Options        `json:"s3" mapstructure:"s3"`
	OTAOptions       *options.OTAOptions       `json:"ota" mapstructure:"ota"`
	PartitionOptions *options.PartitionOptions `json:"partition" mapstructure:"partition"`
	StatusOptions    *options.StatusOptions    `json:"status" mapstructure:"status"`
	RestartOptions   *options.RestartOptions   `json:"restart" mapstructure:"restart"`
	Log              *log.Options              `json:"log" mapstructure:"log"`
}

var _ app.NamedFlagSetOptions = (*AgentOptions)(nil)

func NewAgentOptions() *AgentOptions {
	o := &AgentOptions{
		MqttOptions:      options.NewMqttOptions(),
		HttpOptions:      options.NewHttpOptions(),
		S3Options:        options.NewS3Options(),
		OTAOptions:       options.NewOTAOptions(),
		PartitionOptions: options.NewPartitionOptions(),
		StatusOptions:    options.NewStatusOptions(),
		RestartOptions:   options.NewRestartOptions(),
		Log:              log.NewOptions(),
	}

	return o
}

func (o *AgentOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.MqttOptions.AddFlags(fss.FlagSet("mqtt"))
	o.OTAOptions.AddFlags(fss.FlagSet("ota"))
	o.PartitionOptions.AddFlags(fss.FlagSet("partition"))
	o.S3Options.AddFlags(fss.FlagSet("s3"))
	o.StatusOptions.AddFlags(fss.FlagSet("status"))
	o.RestartOptions.AddFlags(fss.FlagSet("restart"))
	o.HttpOptions.AddFlags(fss.FlagSet("http"))
	o.Log.AddFlags(fss.FlagSet("Log"))
	return fss
}

func (o *AgentOptions) Complete() error {
	if o.Log.Name == "" {
		o.Log.Name = "fwagent"
	}
	return nil
}

func (o *AgentOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.MqttOptions.Validate()...)
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.S3Options.Validate()...)
	errs = append(errs, o.OTAOptions.Validate()...)
	errs = append(errs, o.PartitionOptions.Validate()...)
	errs = append(errs, o.StatusOptions.Validate()...)
	errs = append(errs, o.RestartOptions.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return utilerrors.NewAggregate(errs)
}

func (o *AgentOptions) Config() (*fwagent.Config, error) {
	return &fwagent.Config{
		MqttOptions:      o.MqttOptions,
		HttpOptions:      o.HttpOptions,
		S3Options:        o.S3Options,
		OTAOptions:       o.OTAOptions,
		PartitionOptions: o.PartitionOptions,
		StatusOptions:    o.StatusOptions,
		RestartOptions:   o.RestartOptions,
	}, nil
}
