//go:build linux

package umad

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Mellanox/rdmamap"
)

const (
	madClassDir = "/sys/class/infiniband_mad"
	devDir      = "/dev/infiniband"
)

// resolveDevice maps a CA name and port number to the umad character device
// serving it. An empty name picks the first RDMA device the kernel lists.
func resolveDevice(device string, portNum int) (string, string, error) {
	if device == "" {
		devices := rdmamap.GetRdmaDeviceList()
		if len(devices) == 0 {
			return "", "", ErrNoDevice
		}
		device = devices[0]
	}

	entries, err := os.ReadDir(madClassDir)
	if err != nil {
		return "", "", fmt.Errorf("umad: read %s: %w", madClassDir, err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "umad") {
			continue
		}
		ibdev, err := readSysfsValue(filepath.Join(madClassDir, name, "ibdev"))
		if err != nil || ibdev != device {
			continue
		}
		port, err := readSysfsValue(filepath.Join(madClassDir, name, "port"))
		if err != nil {
			continue
		}
		if n, err := strconv.Atoi(port); err == nil && n == portNum {
			return device, filepath.Join(devDir, name), nil
		}
	}
	return "", "", fmt.Errorf("%w: %s port %d", ErrNoUmadDev, device, portNum)
}

func checkABIVersion() error {
	v, err := readSysfsValue(filepath.Join(madClassDir, "abi_version"))
	if err != nil {
		return fmt.Errorf("umad: read abi_version: %w", err)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("umad: parse abi_version %q: %w", v, err)
	}
	if n < minABIVersion {
		return fmt.Errorf("umad: kernel ABI version %d too old (need >= %d)", n, minABIVersion)
	}
	return nil
}

func readSysfsValue(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
