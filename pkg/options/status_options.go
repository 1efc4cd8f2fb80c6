package options

import (
	"errors"
	"time"

	"github.com/spf13/pflag"

	"github.com/autopeer-io/fwagent/pkg/mqtt/topic"
)

var _ IOptions = (*StatusOptions)(nil)

// StatusOptions configures the periodic status report.
type StatusOptions struct {
	Interval      time.Duration `json:"interval" mapstructure:"interval"`
	RetryInterval time.Duration `json:"retry-interval" mapstructure:"retry-interval"`
	Subtopic      string        `json:"subtopic" mapstructure:"subtopic"`
}

func NewStatusOptions() *StatusOptions {
	return &StatusOptions{
		Interval:      60 * time.Second,
		RetryInterval: 5 * time.Second,
		Subtopic:      topic.Status,
	}
}

func (o *StatusOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}

	if o.Interval <= 0 || o.RetryInterval <= 0 {
		errs = append(errs, errors.New("--status.interval and --status.retry-interval must be positive"))
	}
	if o.Subtopic == "" {
		errs = append(errs, errors.New("--status.subtopic is required"))
	}

	return errs
}

func (o *StatusOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.DurationVar(&o.Interval, "status.interval", o.Interval, "Interval between status reports.")
	fs.DurationVar(&o.RetryInterval, "status.retry-interval", o.RetryInterval, "Delay before retrying a failed status report.")
	fs.StringVar(&o.Subtopic, "status.subtopic", o.Subtopic, "Subtopic on which status reports are published.")
}
