package hub

import (
	"fmt"
	"net"
	"strings"

	"github.com/autopeer-io/fwagent/pkg/log"
)

// DiscoverDeviceID 从第一块非回环网卡的 MAC 地址生成设备 ID (IoT_<mac>)
// 找不到可用网卡时返回空字符串，由调用方决定如何处理
func DiscoverDeviceID() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		log.Error(err, "Failed to list network interfaces")
		return ""
	}
	return deviceIDFrom(ifaces)
}

func deviceIDFrom(ifaces []net.Interface) string {
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
			continue
		}
		mac := strings.ReplaceAll(iface.HardwareAddr.String(), ":", "")
		id := fmt.Sprintf("IoT_%s", mac)
		log.Info("DeviceID derived from interface", "interface", iface.Name, "id", id)
		return id
	}
	return ""
}
