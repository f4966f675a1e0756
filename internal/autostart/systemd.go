package autostart

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"text/template"
)

const unitName = "rsynco.service"

var errUnsupported = errors.New("autostart is only supported with systemd on linux")

var unitTemplate = template.Must(template.New("unit").Parse(`[Unit]
Description=rsynco scheduled directory sync
After=network-online.target
Wants=network-online.target

[Service]
ExecStart={{.ExecPath}} watch
Restart=on-failure
RestartSec=5
KillSignal=SIGTERM
TimeoutStopSec=30
{{- if .Home}}
Environment=RSYNCO_HOME={{.Home}}
{{- end}}

[Install]
WantedBy=default.target
`))

// Systemd installs a user unit running "rsynco watch".
type Systemd struct {
	UnitDir string
	// Home is exported to the unit as RSYNCO_HOME when set.
	Home string
	run  func(args ...string) error
}

func NewSystemd() *Systemd {
	s := &Systemd{
		Home: os.Getenv("RSYNCO_HOME"),
		run:  systemctl,
	}
	if home, err := os.UserHomeDir(); err == nil {
		s.UnitDir = filepath.Join(home, ".config", "systemd", "user")
	}

	return s
}

func (s *Systemd) Path() string {
	return filepath.Join(s.UnitDir, unitName)
}

// Render returns the unit file for execPath.
func (s *Systemd) Render(execPath string) (string, error) {
	var buf bytes.Buffer
	err := unitTemplate.Execute(&buf, map[string]string{
		"ExecPath": execPath,
		"Home":     s.Home,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render unit: %w", err)
	}

	return buf.String(), nil
}

func (s *Systemd) Install(execPath string) error {
	if s.UnitDir == "" {
		return fmt.Errorf("cannot determine systemd user unit dir")
	}

	unit, err := s.Render(execPath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(s.UnitDir, 0755); err != nil {
		return fmt.Errorf("failed to create unit dir: %w", err)
	}
	if err := os.WriteFile(s.Path(), []byte(unit), 0644); err != nil {
		return fmt.Errorf("failed to write unit file: %w", err)
	}

	for _, args := range [][]string{
		{"daemon-reload"},
		{"enable", "--now", unitName},
	} {
		if err := s.run(args...); err != nil {
			return err
		}
	}

	return nil
}

func (s *Systemd) Uninstall() error {
	_ = s.run("disable", "--now", unitName)

	if err := os.Remove(s.Path()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove unit file: %w", err)
	}

	return s.run("daemon-reload")
}

func (s *Systemd) IsInstalled() (bool, error) {
	_, err := os.Stat(s.Path())
	if os.IsNotExist(err) {
		return false, nil
	}

	return err == nil, err
}

func systemctl(args ...string) error {
	full := append([]string{"--user"}, args...)
	out, err := exec.Command("systemctl", full...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to run systemctl %v: %w\n%s", args, err, out)
	}

	return nil
}
