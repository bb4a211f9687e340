package scanner

import (
	"strings"

	"go.bug.st/serial/enumerator"
)

// PortInfo describes a serial port that looks like a cellular modem.
type PortInfo struct {
	Name    string `json:"port"`
	Product string `json:"description"`
	VID     string `json:"vid,omitempty"`
	PID     string `json:"pid,omitempty"`
}

var modemKeywords = []string{"mobile", "modem", "wwan", "lte", "4g", "cellular"}

// DetectModems lists serial ports whose USB product string names a
// cellular modem.
func DetectModems() ([]PortInfo, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}
	return filterModems(ports), nil
}

func filterModems(ports []*enumerator.PortDetails) []PortInfo {
	var modems []PortInfo
	for _, p := range ports {
		if p == nil || !looksLikeModem(p.Product) {
			continue
		}
		modems = append(modems, PortInfo{Name: p.Name, Product: p.Product, VID: p.VID, PID: p.PID})
	}
	return modems
}

func looksLikeModem(description string) bool {
	d := strings.ToLower(description)
	for _, k := range modemKeywords {
		if strings.Contains(d, k) {
			return true
		}
	}
	return false
}
