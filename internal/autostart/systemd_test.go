package autostart

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSystemd(t *testing.T) (*Systemd, *[]string) {
	t.Helper()

	var calls []string
	s := &Systemd{
		UnitDir: filepath.Join(t.TempDir(), "systemd", "user"),
		run: func(args ...string) error {
			calls = append(calls, strings.Join(args, " "))
			return nil
		},
	}

	return s, &calls
}

func TestRender(t *testing.T) {
	s, _ := newTestSystemd(t)

	unit, err := s.Render("/usr/local/bin/rsynco")
	require.NoError(t, err)
	assert.Contains(t, unit, "ExecStart=/usr/local/bin/rsynco watch")
	assert.NotContains(t, unit, "RSYNCO_HOME")

	s.Home = "/srv/rsynco"
	unit, err = s.Render("/usr/local/bin/rsynco")
	require.NoError(t, err)
	assert.Contains(t, unit, "Environment=RSYNCO_HOME=/srv/rsynco\n")
}

func TestInstallAndUninstall(t *testing.T) {
	s, calls := newTestSystemd(t)

	installed, err := s.IsInstalled()
	require.NoError(t, err)
	assert.False(t, installed)

	require.NoError(t, s.Install("/usr/local/bin/rsynco"))
	assert.Equal(t, []string{"daemon-reload", "enable --now rsynco.service"}, *calls)

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), "rsynco watch")

	installed, err = s.IsInstalled()
	require.NoError(t, err)
	assert.True(t, installed)

	*calls = nil
	require.NoError(t, s.Uninstall())
	assert.Equal(t, []string{"disable --now rsynco.service", "daemon-reload"}, *calls)
	assert.NoFileExists(t, s.Path())
}
