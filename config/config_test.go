package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadConfiguration(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "config.toml")
	contents := `
log_level = "DEBUG"

[discord]
token = "secret"
lobby_channel_id = "10"
wanted_channel_id = "600"
ignore_role_ids = ["42"]

[persistence]
type = "buntdb"
dsn = "/tmp/roomkeeper.db"

[lfg]
filter = "!Bot"
staleness = "2h"
`
	require.NoError(t, os.WriteFile(configFile, []byte(contents), 0o644))

	cfg, err := ReadConfiguration(configFile, GetFlagSet())
	require.NoError(t, err)

	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "secret", cfg.DiscordConfig.Token)
	assert.Equal(t, "10", cfg.DiscordConfig.LobbyChannelID)
	assert.Equal(t, "600", cfg.DiscordConfig.WantedChannelID)
	assert.Equal(t, []string{"42"}, cfg.DiscordConfig.IgnoreRoleIDs)
	assert.Equal(t, "buntdb", cfg.PersistenceConfig.Type)
	assert.Equal(t, "/tmp/roomkeeper.db", cfg.PersistenceConfig.DSN)
	assert.Equal(t, "!Bot", cfg.LFGConfig.Filter)
	assert.Equal(t, 2*time.Hour, cfg.LFGConfig.Staleness)

	// defaults
	assert.Equal(t, "localhost:8090", cfg.StatusAddr)

	assert.Empty(t, cfg.Validate())
}

func TestValidateReportsMissingSettings(t *testing.T) {
	cfg := &Config{}
	missing := cfg.Validate()
	assert.Contains(t, missing, "discord.token")
	assert.Contains(t, missing, "discord.lobby_channel_id")
	assert.Contains(t, missing, "discord.wanted_channel_id")
}
