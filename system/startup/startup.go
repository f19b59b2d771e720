package startup

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ServiceOptions describes how systemd should launch the dashboard server.
type ServiceOptions struct {
	UnitPath   string
	User       string
	WorkingDir string
	Binary     string
	ConfigFile string
	DBPath     string
	// SerialGroup is added as a supplementary group so the service can open /dev/ttyUSB*.
	SerialGroup string
}

func (o ServiceOptions) withDefaults() ServiceOptions {
	if o.UnitPath == "" {
		o.UnitPath = "/etc/systemd/system/greenhouse.service"
	}
	if o.User == "" {
		o.User = "greenhouse"
	}
	if o.WorkingDir == "" {
		o.WorkingDir = "/opt/greenhouse"
	}
	if o.Binary == "" {
		o.Binary = filepath.Join(o.WorkingDir, "greenhouse")
	}
	if o.SerialGroup == "" {
		o.SerialGroup = "dialout"
	}
	return o
}

// RenderServiceUnit builds the unit file text.
func RenderServiceUnit(o ServiceOptions) string {
	o = o.withDefaults()

	args := []string{o.Binary}
	if o.ConfigFile != "" {
		args = append(args, "-config-file", o.ConfigFile)
	}
	if o.DBPath != "" {
		args = append(args, "-db", o.DBPath)
	}

	return fmt.Sprintf(`[Unit]
Description=Greenhouse dashboard and Arduino bridge
After=network.target

[Service]
Type=simple
User=%s
SupplementaryGroups=%s
WorkingDirectory=%s
ExecStart=%s
Restart=on-failure
RestartSec=5s

[Install]
WantedBy=multi-user.target
`, o.User, o.SerialGroup, o.WorkingDir, strings.Join(args, " "))
}

// InstallService writes the unit file and returns the path it was written to.
func InstallService(o ServiceOptions) (string, error) {
	o = o.withDefaults()
	if err := os.WriteFile(o.UnitPath, []byte(RenderServiceUnit(o)), 0644); err != nil {
		return o.UnitPath, fmt.Errorf("failed to write unit file: %w", err)
	}
	return o.UnitPath, nil
}

// EnableService reloads systemd and enables the unit at boot.
func EnableService(unitPath string) error {
	unit := filepath.Base(unitPath)
	for _, args := range [][]string{{"daemon-reload"}, {"enable", "--now", unit}} {
		cmd := exec.Command("systemctl", args...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Run(); err != nil {
			return fmt.Errorf("systemctl %s: %w", strings.Join(args, " "), err)
		}
	}
	return nil
}
