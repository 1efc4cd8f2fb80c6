package options

import (
	"errors"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*OTAOptions)(nil)

// OTAOptions tunes the firmware download and write pipeline.
type OTAOptions struct {
	// ConnectTimeout bounds establishing the connection to the image source.
	ConnectTimeout time.Duration `json:"connect-timeout" mapstructure:"connect-timeout"`

	// ReadTimeout bounds every single read from the image stream.
	ReadTimeout time.Duration `json:"read-timeout" mapstructure:"read-timeout"`

	// BufferSize is the chunk size used for reads and writes.
	BufferSize int `json:"buffer-size" mapstructure:"buffer-size"`

	InsecureSkipVerify bool `json:"insecure-skip-verify" mapstructure:"insecure-skip-verify"`

	// RejectSameVersion refuses images whose version equals the running one.
	RejectSameVersion bool `json:"reject-same-version" mapstructure:"reject-same-version"`

	// RestartDelay is the pause between activation and restart.
	RestartDelay time.Duration `json:"restart-delay" mapstructure:"restart-delay"`
}

func NewOTAOptions() *OTAOptions {
	return &OTAOptions{
		ConnectTimeout: 2 * time.Second,
		ReadTimeout:    30 * time.Second,
		BufferSize:     1024,
		RestartDelay:   250 * time.Millisecond,
	}
}

func (o *OTAOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}

	if o.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("--ota.connect-timeout must be positive"))
	}
	if o.ReadTimeout <= 0 {
		errs = append(errs, errors.New("--ota.read-timeout must be positive"))
	}
	// The first read has to hold the whole image prefix.
	if o.BufferSize < 288 {
		errs = append(errs, errors.New("--ota.buffer-size must be at least 288"))
	}
	if o.RestartDelay < 0 {
		errs = append(errs, errors.New("--ota.restart-delay must not be negative"))
	}

	return errs
}

func (o *OTAOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.DurationVar(&o.ConnectTimeout, "ota.connect-timeout", o.ConnectTimeout, "Timeout for connecting to the firmware source.")
	fs.DurationVar(&o.ReadTimeout, "ota.read-timeout", o.ReadTimeout, "Timeout for each read from the firmware stream.")
	fs.IntVar(&o.BufferSize, "ota.buffer-size", o.BufferSize, "Chunk size in bytes for firmware reads and writes.")
	fs.BoolVar(&o.InsecureSkipVerify, "ota.insecure-skip-verify", o.InsecureSkipVerify, "Skip TLS verification when downloading firmware.")
	fs.BoolVar(&o.RejectSameVersion, "ota.reject-same-version", o.RejectSameVersion, "Refuse images with the same version as the running firmware.")
	fs.DurationVar(&o.RestartDelay, "ota.restart-delay", o.RestartDelay, "Delay between activation and restart.")
}
