package hwinfo

import (
	"bufio"
	"os"
	"strings"
)

// wellKnownPCIIDPaths mirrors the locations the hwdata package installs
// pci.ids to on common Linux distributions.
var wellKnownPCIIDPaths = []string{
	"/usr/share/hwdata/pci.ids",
	"/usr/share/misc/pci.ids",
	"/var/lib/pciutils/pci.ids",
}

type pciIDDatabase struct {
	vendors map[string]string
	devices map[[2]string]string
}

func loadPCIIDDatabase() *pciIDDatabase {
	db := &pciIDDatabase{
		vendors: make(map[string]string),
		devices: make(map[[2]string]string),
	}

	for _, path := range wellKnownPCIIDPaths {
		if db.loadFile(path) {
			return db
		}
	}
	return db
}

// loadFile parses one pci.ids file. The format: a vendor line has no
// leading tab ("<vendor_id>  <vendor name>"); a device line has one
// leading tab ("\t<device_id>  <device name>"); lines starting with "C"
// begin the device class section, which this parser ignores.
func (db *pciIDDatabase) loadFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	var currentVendor string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "C ") {
			break // entering the device-class section; vendor/device section is done
		}
		if strings.HasPrefix(line, "\t\t") {
			continue // subvendor/subdevice line, not needed
		}
		if strings.HasPrefix(line, "\t") {
			id, name, ok := splitIDLine(strings.TrimPrefix(line, "\t"))
			if ok && currentVendor != "" {
				db.devices[[2]string{currentVendor, id}] = name
			}
			continue
		}
		id, name, ok := splitIDLine(line)
		if ok {
			currentVendor = id
			db.vendors[id] = name
		}
	}
	return true
}

func splitIDLine(line string) (id, name string, ok bool) {
	parts := strings.SplitN(line, "  ", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return strings.ToLower(strings.TrimSpace(parts[0])), strings.TrimSpace(parts[1]), true
}

func (db *pciIDDatabase) lookup(vendorID, deviceID string) (vendorName, deviceName string) {
	vendorID = strings.ToLower(vendorID)
	deviceID = strings.ToLower(deviceID)

	vendorName = "UNK"
	if n, ok := db.vendors[vendorID]; ok {
		vendorName = n
	}
	deviceName = "UNK"
	if n, ok := db.devices[[2]string{vendorID, deviceID}]; ok {
		deviceName = n
	}
	return vendorName, deviceName
}
