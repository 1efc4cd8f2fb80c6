package hal

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/autopeer-io/fwagent/pkg/options"
)

func TestRestart(t *testing.T) {
	tests := []struct {
		mode     string
		wantExit int
		reboots  int
		err      error
	}{
		{mode: options.RestartModeExit, wantExit: 3},
		{mode: options.RestartModeReboot, wantExit: -1, reboots: 1, err: errors.New("operation not permitted")},
		{mode: options.RestartModeNone, wantExit: -1},
	}

	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			opts := options.NewRestartOptions()
			opts.Mode = tt.mode
			opts.ExitCode = 3

			exitCode, reboots := -1, 0
			r := NewRestarter(opts)
			r.exit = func(code int) { exitCode = code }
			r.reboot = func() error {
				reboots++
				return tt.err
			}

			err := r.Restart("test")
			assert.Equal(t, tt.err, err)
			assert.Equal(t, tt.wantExit, exitCode)
			assert.Equal(t, tt.reboots, reboots)
		})
	}
}
