package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalConfig = `
database:
  url: postgres://localhost:5432/collections
redis:
  url: localhost:6379
provider:
  base_url: https://api.telephony.local
  from_number: "+15550100000"
`

func TestLoad_DefaultsApplied(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "contact.tasks", cfg.NATS.TaskSubject)
	assert.Equal(t, "call-engine", cfg.NATS.QueueGroup)
	assert.Equal(t, 5, cfg.Compliance.DailyMaxContacts)
	assert.Equal(t, 8, cfg.Compliance.CallWindowStart)
	assert.Equal(t, 21, cfg.Compliance.CallWindowEnd)
	assert.Equal(t, "America/New_York", cfg.Compliance.DefaultTimezone)
	assert.Equal(t, 8, cfg.Orchestrator.Workers)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
server:
  port: 9090
compliance:
  daily_max_contacts: 3
`))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Compliance.DailyMaxContacts)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("CCE_SERVER__PORT", "7070")
	t.Setenv("CCE_COMPLIANCE__CALL_WINDOW_END", "20")

	cfg, err := Load(writeConfig(t, minimalConfig+`
server:
  port: 9090
`))
	require.NoError(t, err)

	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, 20, cfg.Compliance.CallWindowEnd)
}

func TestLoad_RejectsInvalidWindow(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
compliance:
  call_window_start: 22
  call_window_end: 8
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "call window start")
}

func TestLoad_RejectsUnknownTimezone(t *testing.T) {
	_, err := Load(writeConfig(t, minimalConfig+`
compliance:
  default_timezone: Mars/Olympus_Mons
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown timezone")
}

func TestLoad_RejectsMissingDatabaseURL(t *testing.T) {
	_, err := Load(writeConfig(t, `
redis:
  url: localhost:6379
provider:
  base_url: https://api.telephony.local
  from_number: "+15550100000"
`))
	assert.Error(t, err)
}
