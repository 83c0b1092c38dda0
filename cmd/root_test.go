package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/mvarley/vendcord/vendcord"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromEnvFile(t *testing.T) {
	// initConfig stores *slog.LevelVar values in the global viper; reset
	// it so a prior test's Execute doesn't leak them into this run.
	viper.Reset()

	// Save the original environment
	originalEnv := os.Environ()
	t.Cleanup(
		func() {
			os.Clearenv()
			for _, envVar := range originalEnv {
				parts := strings.SplitN(envVar, "=", 2)
				os.Setenv(parts[0], parts[1])
			}
		},
	)

	// Clear the environment before the test
	os.Clearenv()

	tmpdir := t.TempDir()

	// Set up the test environment file
	envFile := filepath.Join(tmpdir, "test.env")

	envContent := `
# General/database config

VC_DATABASE=/home/foo/vendcord.sqlite3
VC_DATABASE_TYPE=sqlite
VC_DATABASE_LOG_LEVEL=INFO
VC_DATABASE_SLOW_THRESHOLD=200ms
VC_LOG_LEVEL=INFO
VC_STARTUP_TIMEOUT=30s
VC_SHUTDOWN_TIMEOUT=60s

# Discord bot config

VC_DISCORD_TOKEN=your-discord-bot-token
VC_DISCORD_APPLICATION_ID=your-discord-bot-app-id
VC_DISCORD_GUILD_ID=
VC_DISCORD_ADMIN_ROLE_ID=role-id-here
VC_DISCORD_ADMIN_CHANNEL_ID=channel-id-here
VC_DISCORD_VOUCH_CHANNEL_ID=vouch-channel-here
VC_DISCORD_LOG_LEVEL=WARN
VC_DISCORD_DISCORDGO_LOG_LEVEL=WARN
VC_DISCORD_STARTUP_MESSAGE="I'm here!"
VC_DISCORD_INVITE_FAKE_AGE=168h
VC_DISCORD_DMS_PER_SECOND=1

# Branding

VC_BRANDING_NAME=Test Store
VC_BRANDING_FOOTER=Test Footer

# API server

VC_API_ENABLED=true
VC_API_LISTEN=127.0.0.1:5000
VC_API_TOKEN=your-api-token
VC_API_LOG_LEVEL=DEBUG
VC_API_CORS_ALLOW_ORIGINS=https://127.0.0.1:5000 https://localhost:5000
VC_API_CORS_ALLOW_METHODS=GET OPTIONS HEAD
VC_API_CORS_MAX_AGE=12h
VC_API_READ_TIMEOUT=5s
VC_API_READ_HEADER_TIMEOUT=5s
VC_API_WRITE_TIMEOUT=10s
VC_API_IDLE_TIMEOUT=30s
`

	err := os.WriteFile(envFile, []byte(envContent), 0644)
	assert.NoError(t, err)

	rootCmd.SetArgs([]string{fmt.Sprintf("--config=%s", envFile), "version"})
	require.NoError(t, rootCmd.Execute())

	assert.Equal(t, "/home/foo/vendcord.sqlite3", cfg.Database)
	assert.Equal(t, "/home/foo/vendcord.sqlite3", viper.GetString("database"))
	assert.Equal(t, "sqlite", viper.GetString("database_type"))
	assert.Equal(t, 200*time.Millisecond, cfg.DatabaseSlowThreshold)
	assert.Equal(t, 30*time.Second, cfg.StartupTimeout)
	assert.Equal(t, 60*time.Second, cfg.ShutdownTimeout)

	require.NotNil(t, cfg.Discord)
	assert.Equal(t, "your-discord-bot-token", cfg.Discord.Token)
	assert.Equal(t, "your-discord-bot-app-id", cfg.Discord.ApplicationID)
	assert.Equal(t, "role-id-here", cfg.Discord.AdminRoleID)
	assert.Equal(t, "channel-id-here", cfg.Discord.AdminChannelID)
	assert.Equal(t, "vouch-channel-here", cfg.Discord.VouchChannelID)
	assert.Equal(t, 7*24*time.Hour, cfg.Discord.InviteFakeAge)
	assert.Equal(t, float64(1), cfg.Discord.DMsPerSecond)
	assertLogLevel(t, slog.LevelWarn, cfg.Discord.LogLevel)
	assertLogLevel(t, slog.LevelWarn, cfg.Discord.DiscordGoLogLevel)

	assert.Equal(t, "Test Store", cfg.Branding.Name)
	assert.Equal(t, "Test Footer", cfg.Branding.Footer)

	require.NotNil(t, cfg.API)
	assert.True(t, cfg.API.Enabled)
	assert.Equal(t, "127.0.0.1:5000", cfg.API.Listen)
	assert.Equal(t, "your-api-token", cfg.API.Token)
	assertLogLevel(t, slog.LevelDebug, cfg.API.LogLevel)
	assert.Equal(
		t,
		[]string{"https://127.0.0.1:5000", "https://localhost:5000"},
		cfg.API.CORS.AllowOrigins,
	)
	assert.Equal(t, 12*time.Hour, cfg.API.CORS.MaxAge)

	assert.Equal(
		t,
		vendcord.DefaultDiscordGatewayIntent,
		cfg.Discord.GatewayIntents,
	)
}

func assertLogLevel(t testing.TB, expected slog.Level, v any) {
	t.Helper()

	lvl, ok := v.(*slog.LevelVar)
	require.Truef(t, ok, "could not convert %#v (%T) to *slog.LevelVar", v, v)
	assert.Equal(t, expected, lvl.Level())
}

func TestLevelToStringHookFunc(t *testing.T) {
	hook := LevelToStringHookFunc()

	rv, err := hook(
		reflect.TypeOf(""),
		reflect.TypeOf(&slog.LevelVar{}),
		"DEBUG",
	)
	require.NoError(t, err)
	lvl, ok := rv.(*slog.LevelVar)
	require.True(t, ok)
	assert.Equal(t, slog.LevelDebug, lvl.Level())

	_, err = hook(
		reflect.TypeOf(""),
		reflect.TypeOf(&slog.LevelVar{}),
		"LOUD",
	)
	require.Error(t, err)

	// non-level targets pass through untouched
	rv, err = hook(
		reflect.TypeOf(""),
		reflect.TypeOf(&discordgo.Session{}),
		"hello",
	)
	require.NoError(t, err)
	assert.Equal(t, "hello", rv)
}

func TestLevelStringToLevelVar(t *testing.T) {
	lvl, err := levelStringToLevelVar("WARN")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, lvl.Level())

	_, err = levelStringToLevelVar("NOISY")
	require.Error(t, err)
}

func TestGetLogLevel(t *testing.T) {
	for _, expected := range []slog.Level{
		slog.LevelDebug,
		slog.LevelInfo,
		slog.LevelWarn,
		slog.LevelError,
	} {
		lvl, err := getLogLevel(expected.String())
		require.NoError(t, err)
		assert.Equal(t, expected, lvl)
	}
	_, err := getLogLevel("bogus")
	require.Error(t, err)
}
