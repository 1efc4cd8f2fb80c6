//go:build linux

package hal

import (
	"syscall"

	"github.com/autopeer-io/fwagent/pkg/log"
)

func reboot() error {
	log.Info("System is rebooting NOW...")
	syscall.Sync()
	return syscall.Reboot(syscall.LINUX_REBOOT_CMD_RESTART)
}
