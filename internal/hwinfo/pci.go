// Package hwinfo enumerates PCI devices and resolves the ones that are
// VGA-compatible display controllers to a simplified vendor/device name
// string, mirroring fetch_pci_hw_device_names's external interface. Actual
// ML inference and model download are out of scope; this package only
// answers "what GPUs does this host have".
package hwinfo

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

const pciDevicesDir = "/sys/bus/pci/devices"

// vgaCompatibleClass is the PCI class code (base class 03, subclass 00,
// programming interface 00) for a VGA-compatible display controller.
const vgaCompatibleClass = "030000"

// ListGPUDeviceNames enumerates the host's PCI devices and returns a
// simplified "<vendor> <device>" string for each VGA-compatible display
// controller. It is a pure read of sysfs; on non-Linux hosts, or when
// sysfs is unavailable, it returns an empty slice rather than an error so
// callers can still serve the rest of the RPC surface.
func ListGPUDeviceNames() ([]string, error) {
	entries, err := os.ReadDir(pciDevicesDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", pciDevicesDir, err)
	}

	db := loadPCIIDDatabase()

	var names []string
	for _, entry := range entries {
		devDir := filepath.Join(pciDevicesDir, entry.Name())

		class, err := readSysfsHexField(devDir, "class")
		if err != nil || !strings.HasPrefix(class, vgaCompatibleClass) {
			continue
		}

		vendorID, err := readSysfsHexField(devDir, "vendor")
		if err != nil {
			continue
		}
		deviceID, err := readSysfsHexField(devDir, "device")
		if err != nil {
			continue
		}

		vendorName, deviceName := db.lookup(vendorID, deviceID)
		names = append(names, fmt.Sprintf("%s %s",
			simplifyPCIDevName(vendorName),
			simplifyPCIDevName(deviceName)))
	}
	return names, nil
}

func readSysfsHexField(devDir, field string) (string, error) {
	data, err := os.ReadFile(filepath.Join(devDir, field))
	if err != nil {
		return "", err
	}
	s := strings.TrimSpace(string(data))
	s = strings.TrimPrefix(s, "0x")
	if _, err := strconv.ParseUint(s, 16, 32); err != nil {
		return "", err
	}
	return s, nil
}

// simplifyPCIDevName strips the verbose corporate suffixes the pci.ids
// database tends to carry, mirroring the original implementation's
// simplify_pci_dev_name.
func simplifyPCIDevName(name string) string {
	replacements := []struct{ old, new string }{
		{"Corporation ", ""},
		{" Corporation", ""},
		{"Corporation", ""},
		{" Graphics", ""},
		{"Advanced Micro Devices ", "AMD "},
		{"Advanced Micro Devices,", "AMD,"},
		{"  ", " "},
	}
	for _, r := range replacements {
		name = strings.ReplaceAll(name, r.old, r.new)
	}
	return strings.TrimSpace(name)
}
