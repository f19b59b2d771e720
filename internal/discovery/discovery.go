package discovery

import (
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"go.bug.st/serial/enumerator"
)

// Port describes one OS-visible serial device.
type Port struct {
	Path         string `json:"path"`
	Manufacturer string `json:"manufacturer,omitempty"`
	FriendlyName string `json:"friendlyName,omitempty"`
	SerialNumber string `json:"serialNumber,omitempty"`
	VID          string `json:"vendorId,omitempty"`
	PID          string `json:"productId,omitempty"`
	IsUSB        bool   `json:"isUsb"`
}

// The enumerator reports vendor ids rather than manufacturer strings, so the
// common controller bridges are mapped back to their vendor names.
var vendorNames = map[string]string{
	"2341": "Arduino LLC",
	"2a03": "Arduino SRL",
	"1a86": "QinHeng Electronics CH340",
	"0403": "FTDI",
	"10c4": "Silicon Labs",
}

var manufacturerHints = []string{"arduino", "ch340", "ftdi"}

var devicePatterns = []string{"ttyUSB*", "ttyACM*"}

// swappable for tests
var listPorts = enumerator.GetDetailedPortsList

// ListPorts enumerates every serial port the OS reports.
func ListPorts() ([]Port, error) {
	details, err := listPorts()
	if err != nil {
		return nil, err
	}

	ports := make([]Port, 0, len(details))
	for _, d := range details {
		ports = append(ports, Port{
			Path:         d.Name,
			Manufacturer: vendorNames[strings.ToLower(d.VID)],
			FriendlyName: d.Product,
			SerialNumber: d.SerialNumber,
			VID:          d.VID,
			PID:          d.PID,
			IsUSB:        d.IsUSB,
		})
	}
	return ports, nil
}

// ListCandidatePorts returns the ports likely to be the greenhouse controller,
// in enumeration order. No ports is not an error.
func ListCandidatePorts() ([]Port, error) {
	ports, err := ListPorts()
	if err != nil {
		return nil, err
	}

	var candidates []Port
	for _, p := range ports {
		if IsCandidate(p) {
			candidates = append(candidates, p)
		}
	}
	log.Debug().Int("ports", len(ports)).Int("candidates", len(candidates)).Msg("Serial ports enumerated")
	return candidates, nil
}

func IsCandidate(p Port) bool {
	manufacturer := strings.ToLower(p.Manufacturer)
	for _, hint := range manufacturerHints {
		if strings.Contains(manufacturer, hint) {
			return true
		}
	}

	if strings.Contains(strings.ToLower(p.FriendlyName), "usb-serial ch340") {
		return true
	}

	base := filepath.Base(p.Path)
	for _, pattern := range devicePatterns {
		if ok, _ := filepath.Match(pattern, base); ok {
			return true
		}
	}
	return false
}
