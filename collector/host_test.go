package collector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHostInfoSummary(t *testing.T) {
	tests := []struct {
		name string
		info HostInfo
		want string
	}{
		{
			name: "full",
			info: HostInfo{Hostname: "probe-1", OS: "linux", Platform: "ubuntu", PlatformVersion: "22.04", Uptime: 42},
			want: "probe-1 (ubuntu 22.04, linux, up 42s)",
		},
		{
			name: "empty",
			info: HostInfo{OS: "linux"},
			want: "unknown host (unknown platform, linux, up 0s)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.info.Summary())
		})
	}
}

func TestGetHostInfo(t *testing.T) {
	info, err := GetHostInfo()
	if err != nil {
		t.Skipf("host info unavailable: %v", err)
	}
	assert.NotEmpty(t, info.OS)
}
