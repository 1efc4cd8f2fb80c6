package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*RestartOptions)(nil)

const (
	// RestartModeReboot reboots the host.
	RestartModeReboot = "reboot"
	// RestartModeExit exits the process and leaves the restart to a supervisor.
	RestartModeExit = "exit"
	// RestartModeNone only logs the request.
	RestartModeNone = "none"
)

// RestartOptions controls what "restart" means on this host.
type RestartOptions struct {
	Mode string `json:"mode" mapstructure:"mode"`

	// Delay is applied before a restart requested by command.
	Delay time.Duration `json:"delay" mapstructure:"delay"`

	// ExitCode is used by the exit mode.
	ExitCode int `json:"exit-code" mapstructure:"exit-code"`
}

func NewRestartOptions() *RestartOptions {
	return &RestartOptions{
		Mode:  RestartModeExit,
		Delay: 250 * time.Millisecond,
	}
}

func (o *RestartOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errs := []error{}

	switch o.Mode {
	case RestartModeReboot, RestartModeExit, RestartModeNone:
	default:
		errs = append(errs, fmt.Errorf("--restart.mode must be one of reboot, exit, none; got %q", o.Mode))
	}
	if o.Delay < 0 {
		errs = append(errs, fmt.Errorf("--restart.delay must not be negative"))
	}

	return errs
}

func (o *RestartOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Mode, "restart.mode", o.Mode, "How to restart: 'reboot' the host, 'exit' the process, or 'none'.")
	fs.DurationVar(&o.Delay, "restart.delay", o.Delay, "Delay before a commanded restart.")
	fs.IntVar(&o.ExitCode, "restart.exit-code", o.ExitCode, "Process exit code used by the 'exit' mode.")
}
