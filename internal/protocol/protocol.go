package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

var (
	ErrEmptyLine      = errors.New("empty line")
	ErrMalformedJSON  = errors.New("malformed json")
	ErrMissingFields  = errors.New("missing required fields")
	ErrBadValue       = errors.New("bad field value")
	ErrUnknownCommand = errors.New("unknown command")
)

type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Reading is one decoded controller line. Temperature and Humidity are nil
// when the controller has no such sensor.
type Reading struct {
	SoilMoisture  float64  `json:"soilMoisture"`
	LightLevel    float64  `json:"lightLevel"`
	WaterLevel    float64  `json:"waterLevel"`
	PumpStatus    bool     `json:"pumpStatus"`
	EmergencyMode bool     `json:"emergencyMode"`
	Temperature   *float64 `json:"temperature,omitempty"`
	Humidity      *float64 `json:"humidity,omitempty"`
	Format        Format   `json:"format"`
}

type field int

const (
	fieldSoil field = iota
	fieldLight
	fieldWater
	fieldPump
	fieldEmergency
	fieldTemp
	fieldHumid
)

// aliases lists the accepted keys per field; earlier entries win.
var aliases = []struct {
	field field
	keys  []string
}{
	{fieldSoil, []string{"soil", "soilMoisture"}},
	{fieldLight, []string{"light", "lightLevel"}},
	{fieldWater, []string{"water", "waterLevel"}},
	{fieldPump, []string{"pump", "pumpStatus"}},
	{fieldEmergency, []string{"emergency", "emergencyMode"}},
	{fieldTemp, []string{"temp", "temperature"}},
	{fieldHumid, []string{"humid", "humidity"}},
}

var textKeys = func() map[string]field {
	m := make(map[string]field)
	for _, a := range aliases {
		for _, k := range a.keys {
			m[strings.ToLower(k)] = a.field
		}
	}
	return m
}()

// Decode parses one line in either wire format. It never panics; every
// failure is reported as an error wrapping one of the sentinels above.
func Decode(line string) (*Reading, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil, ErrEmptyLine
	}
	if strings.HasPrefix(trimmed, "{") {
		return decodeJSON(trimmed)
	}
	return decodeText(trimmed)
}

func decodeJSON(line string) (*Reading, error) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}

	r := &Reading{Format: FormatJSON}
	for _, a := range aliases {
		var value any
		found := false
		for _, k := range a.keys {
			if v, ok := raw[k]; ok {
				value, found = v, true
				break
			}
		}
		if !found {
			continue
		}
		if err := r.set(a.field, value); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func decodeText(line string) (*Reading, error) {
	r := &Reading{Format: FormatText}
	seen := make(map[field]bool)

	for _, pair := range strings.Split(line, ",") {
		key, value, ok := strings.Cut(pair, ":")
		if !ok {
			continue
		}
		f, known := textKeys[strings.ToLower(strings.TrimSpace(key))]
		if !known {
			continue
		}
		if err := r.set(f, strings.TrimSpace(value)); err != nil {
			return nil, err
		}
		seen[f] = true
	}

	for _, required := range []field{fieldSoil, fieldLight, fieldWater, fieldPump} {
		if !seen[required] {
			return nil, ErrMissingFields
		}
	}
	return r, nil
}

func (r *Reading) set(f field, value any) error {
	switch f {
	case fieldPump, fieldEmergency:
		b, err := toBool(value)
		if err != nil {
			return err
		}
		if f == fieldPump {
			r.PumpStatus = b
		} else {
			r.EmergencyMode = b
		}
		return nil
	}

	n, err := toFloat(value)
	if err != nil {
		return err
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		// A failed DHT read prints nan; the optional sensors are then absent.
		if f == fieldTemp || f == fieldHumid {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrBadValue, value)
	}
	switch f {
	case fieldSoil:
		r.SoilMoisture = n
	case fieldLight:
		r.LightLevel = n
	case fieldWater:
		r.WaterLevel = n
	case fieldTemp:
		r.Temperature = &n
	case fieldHumid:
		r.Humidity = &n
	}
	return nil
}

func toFloat(v any) (float64, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrBadValue, t)
		}
		return n, nil
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("%w: %v", ErrBadValue, v)
	}
}

func toBool(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case float64:
		return t != 0, nil
	case string:
		s := strings.TrimSpace(t)
		return s == "1" || strings.EqualFold(s, "true"), nil
	case nil:
		return false, nil
	default:
		return false, fmt.Errorf("%w: %v", ErrBadValue, v)
	}
}
