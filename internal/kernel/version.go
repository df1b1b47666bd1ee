//go:build linux

package kernel

import (
	"fmt"

	dockerkernel "github.com/docker/docker/pkg/parsers/kernel"
)

// Minimum kernel versions the probe set depends on, gating the same way
// the teacher's pkg/linux/init.go gates tcp_info struct layout on kernel
// version (adaptToKernelVersion).
var (
	minRingBuf = dockerkernel.VersionInfo{Kernel: 5, Major: 8, Minor: 0}
	minSockMap = dockerkernel.VersionInfo{Kernel: 4, Major: 20, Minor: 0}
)

// Features reports which optional probe-set capabilities the running
// kernel supports.
type Features struct {
	Version     dockerkernel.VersionInfo
	HaveRingBuf bool
	HaveSockMap bool
}

// DetectFeatures inspects the running kernel's release string.
func DetectFeatures() (Features, error) {
	v, err := dockerkernel.GetKernelVersion()
	if err != nil {
		return Features{}, fmt.Errorf("kernel: detect version: %w", err)
	}

	return Features{
		Version:     *v,
		HaveRingBuf: dockerkernel.CompareKernelVersion(*v, minRingBuf) >= 0,
		HaveSockMap: dockerkernel.CompareKernelVersion(*v, minSockMap) >= 0,
	}, nil
}

// RequireRingBuf returns an error fit for a fatal startup diagnostic (§7)
// if the running kernel predates BPF_MAP_TYPE_RINGBUF.
func (f Features) RequireRingBuf() error {
	if !f.HaveRingBuf {
		return fmt.Errorf("kernel: %d.%d.%d is too old for ring buffers (need >= %d.%d.%d)",
			f.Version.Kernel, f.Version.Major, f.Version.Minor,
			minRingBuf.Kernel, minRingBuf.Major, minRingBuf.Minor)
	}
	return nil
}
