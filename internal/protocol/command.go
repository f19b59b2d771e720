package protocol

import (
	"fmt"
	"strings"
)

type Command string

const (
	PumpOn         Command = "PUMP_ON"
	PumpOff        Command = "PUMP_OFF"
	EmergencyStop  Command = "EMERGENCY_STOP"
	ClearEmergency Command = "CLEAR_EMERGENCY"
)

var commands = map[Command]bool{
	PumpOn:         true,
	PumpOff:        true,
	EmergencyStop:  true,
	ClearEmergency: true,
}

// Encode returns the newline-terminated wire form of cmd.
func Encode(cmd Command) (string, error) {
	if !commands[cmd] {
		return "", fmt.Errorf("%w: %q", ErrUnknownCommand, string(cmd))
	}
	return string(cmd) + "\n", nil
}

// ParseCommand accepts a token in any case, e.g. from the command line.
func ParseCommand(s string) (Command, error) {
	cmd := Command(strings.ToUpper(strings.TrimSpace(s)))
	if !commands[cmd] {
		return "", fmt.Errorf("%w: %q", ErrUnknownCommand, s)
	}
	return cmd, nil
}

// PumpCommand maps a desired pump state to its command.
func PumpCommand(on bool) Command {
	if on {
		return PumpOn
	}
	return PumpOff
}
