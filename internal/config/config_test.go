package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadWithEnv("", map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.BindAddr)
	assert.Equal(t, 8, cfg.MemoryMaxTurns)
	assert.Equal(t, CompactionModeRetain, cfg.CompactionMode)
	assert.Equal(t, 2, cfg.CompactionKeepTurns)
	assert.Equal(t, 30*time.Second, cfg.GateCooldown)
	assert.Equal(t, 150, cfg.SummaryMaxTokens)
	assert.Equal(t, 500, cfg.ReplyMaxTokens)
	assert.Contains(t, cfg.GateJunkUtterances, "ok")
	assert.Equal(t, "memory", cfg.StoreMode())
	assert.False(t, cfg.WhatsAppEnabled())
}

func TestLoadEnvironmentOverrides(t *testing.T) {
	cfg, err := LoadWithEnv("", map[string]string{
		"MEMORY_MAX_TURNS":     "10",
		"COMPACTION_MODE":      "CLEAR",
		"GATE_COOLDOWN":        "5s",
		"GATE_JUNK_UTTERANCES": "ok|thanks",
		"SQLITE_PATH":          "/tmp/reysq.db",
		"OPENAI_BASE_URL":      "http://localhost:9999/v1/",
		"ACCESS_TOKEN":         "tok",
		"PHONE_NUMBER_ID":      "123",
	})
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.MemoryMaxTurns)
	assert.Equal(t, CompactionModeClear, cfg.CompactionMode)
	assert.Equal(t, 5*time.Second, cfg.GateCooldown)
	assert.Equal(t, []string{"ok", "thanks"}, cfg.GateJunkUtterances)
	assert.Equal(t, "sqlite", cfg.StoreMode())
	assert.Equal(t, "http://localhost:9999/v1", cfg.OpenAIBaseURL)
	assert.True(t, cfg.WhatsAppEnabled())
}

func TestLoadYAMLFileWithExpansion(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reysq.yaml")
	content := `
bind_addr: ":9090"
memory_max_turns: 6
compaction_keep_turns: 3
gate_cooldown: 45s
openai_api_key: ${TEST_OPENAI_KEY}
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadWithEnv(path, map[string]string{"TEST_OPENAI_KEY": "sk-test"})
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.BindAddr)
	assert.Equal(t, 6, cfg.MemoryMaxTurns)
	assert.Equal(t, 3, cfg.CompactionKeepTurns)
	assert.Equal(t, 45*time.Second, cfg.GateCooldown)
	assert.Equal(t, "sk-test", cfg.OpenAIAPIKey)
}

func TestLoadTOMLFileThenEnvironmentWins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reysq.toml")
	content := `
bind_addr = ":7070"
memory_max_turns = 9
brain_mode = "mock"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadWithEnv(path, map[string]string{"APP_BIND_ADDR": ":6060"})
	require.NoError(t, err)

	assert.Equal(t, ":6060", cfg.BindAddr)
	assert.Equal(t, 9, cfg.MemoryMaxTurns)
	assert.Equal(t, "mock", cfg.BrainMode)
}

func TestLoadRejectsUnknownExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reysq.ini")
	require.NoError(t, os.WriteFile(path, []byte("x=1"), 0o600))

	_, err := LoadWithEnv(path, map[string]string{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported config extension")
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"max turns too small", func(c *Config) { c.MemoryMaxTurns = 1 }, "MEMORY_MAX_TURNS"},
		{"keep equals K", func(c *Config) { c.CompactionKeepTurns = c.MemoryMaxTurns }, "COMPACTION_KEEP_TURNS"},
		{"keep zero in retain", func(c *Config) { c.CompactionKeepTurns = 0 }, "COMPACTION_KEEP_TURNS"},
		{"unknown mode", func(c *Config) { c.CompactionMode = "fold" }, "COMPACTION_MODE"},
		{"unknown failure mode", func(c *Config) { c.CompactionFailureMode = "panic" }, "COMPACTION_FAILURE_MODE"},
		{"negative cooldown", func(c *Config) { c.GateCooldown = -time.Second }, "GATE_COOLDOWN"},
		{"openai without key", func(c *Config) { c.BrainMode = "openai" }, "OPENAI_API_KEY"},
		{"empty fallback", func(c *Config) { c.FallbackReply = " " }, "FALLBACK_REPLY"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errMsg)
		})
	}

	t.Run("clear mode ignores keep turns", func(t *testing.T) {
		cfg := Default()
		cfg.CompactionMode = CompactionModeClear
		cfg.CompactionKeepTurns = 0
		assert.NoError(t, cfg.Validate())
	})
}
