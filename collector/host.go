package collector

import (
	"fmt"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
)

type HostInfo struct {
	Hostname        string
	OS              string
	Platform        string
	PlatformVersion string
	Uptime          uint64
}

func GetHostInfo() (HostInfo, error) {
	info, err := host.Info()
	if err != nil {
		return HostInfo{}, fmt.Errorf("failed to get host info: %v", err)
	}

	return HostInfo{
		Hostname:        info.Hostname,
		OS:              info.OS,
		Platform:        info.Platform,
		PlatformVersion: info.PlatformVersion,
		Uptime:          info.Uptime,
	}, nil
}

// Summary identifies the probing host in startup logs, so pinger.txt files collected from
// several machines can be told apart by their app logs.
func (h HostInfo) Summary() string {
	platform := strings.TrimSpace(h.Platform + " " + h.PlatformVersion)
	if platform == "" {
		platform = "unknown platform"
	}
	name := h.Hostname
	if name == "" {
		name = "unknown host"
	}
	return fmt.Sprintf("%s (%s, %s, up %ds)", name, platform, h.OS, h.Uptime)
}
