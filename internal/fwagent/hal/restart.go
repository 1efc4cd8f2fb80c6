package hal

import (
	"os"

	"github.com/autopeer-io/fwagent/internal/fwagent/core"
	"github.com/autopeer-io/fwagent/pkg/log"
	"github.com/autopeer-io/fwagent/pkg/options"
)

var _ core.Restarter = (*Restarter)(nil)

// Restarter 按配置的模式重启: 整机重启, 退出进程交给 supervisor 拉起, 或仅记录日志
type Restarter struct {
	mode     string
	exitCode int

	exit   func(code int)
	reboot func() error
}

func NewRestarter(opts *options.RestartOptions) *Restarter {
	return &Restarter{
		mode:     opts.Mode,
		exitCode: opts.ExitCode,
		exit:     os.Exit,
		reboot:   reboot,
	}
}

func (r *Restarter) Restart(reason string) error {
	log.Warn(">>> RESTART REQUESTED <<<", "reason", reason, "mode", r.mode)

	switch r.mode {
	case options.RestartModeReboot:
		_ = log.Sync()
		return r.reboot()
	case options.RestartModeExit:
		_ = log.Sync()
		r.exit(r.exitCode)
		return nil
	default:
		log.Info("Restart mode is 'none', continuing to run")
		return nil
	}
}
