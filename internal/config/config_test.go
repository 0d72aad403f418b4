package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/ai_mon/internal/domain"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

func TestLoadFile_MissingReturnsDefaults(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadFile_YAMLMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeFile(t, path, `
policy:
  violation_threshold: 3
rules:
  ai_websites:
    - name: ChatGPT
      pattern: "*.openai.com/*"
keywords:
  red: ["banana"]
store:
  backend: sqlite
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.True(t, cfg.Policy.Enabled, "absent fields keep defaults")
	assert.Equal(t, 3, cfg.Policy.ViolationThreshold)
	assert.Equal(t, 10, cfg.Policy.BlockDurationMinutes)
	require.Len(t, cfg.Rules.AIWebsites, 1)
	assert.Equal(t, "ChatGPT", cfg.Rules.AIWebsites[0].Name)
	assert.Nil(t, cfg.Rules.AcademicPlatforms)
	assert.Equal(t, []string{"banana"}, cfg.Keywords.Red)
	assert.Nil(t, cfg.Keywords.Yellow)
	assert.Equal(t, BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, DefaultDataDir, cfg.Store.DataDir)
}

func TestLoadFile_TOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	writeFile(t, path, `
[policy]
enabled = false
block_duration_minutes = 20

[[rules.academic_platforms]]
name = "Uni"
pattern = "*://uni.example.edu/*"

[store]
backend = "redis"
redis_addr = "redis.internal:6379"
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.False(t, cfg.Policy.Enabled)
	assert.Equal(t, 5, cfg.Policy.ViolationThreshold)
	assert.Equal(t, 20, cfg.Policy.BlockDurationMinutes)
	require.Len(t, cfg.Rules.AcademicPlatforms, 1)
	assert.Equal(t, "Uni", cfg.Rules.AcademicPlatforms[0].Name)
	assert.Equal(t, "redis.internal:6379", cfg.Store.RedisAddr)
}

func TestLoadFile_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	writeFile(t, path, `{"policy": {"violation_threshold": 2}, "log": {"level": "debug"}}`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Policy.ViolationThreshold)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadFile_Invalid(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name     string
		file     string
		content  string
		isPolicy bool
	}{
		{"bad yaml", "a.yaml", "policy: [", false},
		{"threshold zero", "b.yaml", "policy:\n  violation_threshold: 0\n", true},
		{"negative duration", "c.yaml", "policy:\n  block_duration_minutes: -1\n", true},
		{"duration above a week", "g.yaml", "policy:\n  block_duration_minutes: 200000000\n", true},
		{"unknown backend", "d.yaml", "store:\n  backend: etcd\n", false},
		{"rule without pattern", "e.yaml", "rules:\n  ai_websites:\n    - name: X\n", false},
		{"bad log level", "f.yaml", "log:\n  level: loud\n", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.file)
			writeFile(t, path, tt.content)

			_, err := LoadFile(path)
			require.Error(t, err)
			if tt.isPolicy {
				assert.ErrorIs(t, err, domain.ErrInvalidConfig)
			}
		})
	}
}

func TestWriteFile_RoundTrip(t *testing.T) {
	for _, ext := range []string{".yaml", ".toml", ".json"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "sub", "config"+ext)
			want := TemplateConfig()

			require.NoError(t, WriteFile(path, want, false))
			got, err := LoadFile(path)
			require.NoError(t, err)

			assert.Equal(t, want.Policy, got.Policy)
			assert.Equal(t, len(want.Rules.AIWebsites), len(got.Rules.AIWebsites))
			assert.Equal(t, want.Rules.AcademicPlatforms[0].Pattern, got.Rules.AcademicPlatforms[0].Pattern)
			assert.Equal(t, want.Keywords.Red, got.Keywords.Red)
			assert.Equal(t, want.GradingKeywords, got.GradingKeywords)

			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
		})
	}
}

func TestWriteFile_RefusesOverwrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, WriteFile(path, DefaultConfig(), false))

	err := WriteFile(path, DefaultConfig(), false)
	assert.ErrorIs(t, err, ErrConfigExists)

	assert.NoError(t, WriteFile(path, DefaultConfig(), true))
}

func TestConfigPaths(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Store.DataDir = "/var/lib/aimon"

	assert.Equal(t, "/var/lib/aimon/state.db", cfg.StorePath())
	assert.Equal(t, "/var/lib/aimon/aimon.sock", cfg.SocketPath())
	assert.Equal(t, "/var/lib/aimon/host.log", cfg.LogPath())

	cfg.Store.Backend = BackendFile
	assert.Equal(t, "/var/lib/aimon/state.json", cfg.StorePath())
	cfg.Store.Backend = BackendSQLite
	assert.Equal(t, "/var/lib/aimon/state.sqlite", cfg.StorePath())

	cfg.Store.Path = "/tmp/x.db"
	cfg.Host.SocketPath = "/tmp/x.sock"
	assert.Equal(t, "/tmp/x.db", cfg.StorePath())
	assert.Equal(t, "/tmp/x.sock", cfg.SocketPath())
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	assert.Equal(t, home, ExpandHome("~"))
	assert.Equal(t, filepath.Join(home, ".aimon"), ExpandHome("~/.aimon"))
	assert.Equal(t, "/abs/path", ExpandHome("/abs/path"))
	assert.Equal(t, "~user/x", ExpandHome("~user/x"))
}

func TestLoader_WatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "policy:\n  violation_threshold: 4\n")

	loader := NewLoader(path, zap.NewNop())
	loader.debounce = 10 * time.Millisecond
	cfg, err := loader.Load()
	require.NoError(t, err)
	require.Equal(t, 4, cfg.Policy.ViolationThreshold)

	var mu sync.Mutex
	var seen []int
	loader.OnChange(func(c *Config) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, c.Policy.ViolationThreshold)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, loader.Watch(ctx))

	// rejected: keeps the current config
	writeFile(t, path, "policy:\n  violation_threshold: 0\n")
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 4, loader.Config().Policy.ViolationThreshold)

	writeFile(t, path, "policy:\n  violation_threshold: 7\n")
	require.Eventually(t, func() bool {
		return loader.Config().Policy.ViolationThreshold == 7
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, seen)
	assert.Equal(t, 7, seen[len(seen)-1])
	assert.NotContains(t, seen, 0)
}

func TestLoader_IgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "policy:\n  violation_threshold: 4\n")

	loader := NewLoader(path, zap.NewNop())
	loader.debounce = 10 * time.Millisecond
	_, err := loader.Load()
	require.NoError(t, err)

	called := make(chan struct{}, 1)
	loader.OnChange(func(*Config) { called <- struct{}{} })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, loader.Watch(ctx))

	writeFile(t, filepath.Join(dir, "other.yaml"), "policy:\n  violation_threshold: 9\n")

	select {
	case <-called:
		t.Fatal("reload triggered by an unrelated file")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestDecodeFile_Rules(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "rules.yaml")
	writeFile(t, yamlPath, `
ai_websites:
  - name: Example AI
    pattern: "*://ai.example.com/*"
`)
	tomlPath := filepath.Join(dir, "rules.toml")
	writeFile(t, tomlPath, `
[[academic_platforms]]
name = "Example LMS"
pattern = "*://lms.example.edu/*"
`)

	var fromYAML domain.RuleOverrides
	require.NoError(t, DecodeFile(yamlPath, &fromYAML))
	require.Len(t, fromYAML.AIWebsites, 1)
	assert.Equal(t, "Example AI", fromYAML.AIWebsites[0].Name)

	var fromTOML domain.RuleOverrides
	require.NoError(t, DecodeFile(tomlPath, &fromTOML))
	require.Len(t, fromTOML.AcademicPlatforms, 1)
	assert.Equal(t, "*://lms.example.edu/*", fromTOML.AcademicPlatforms[0].Pattern)

	assert.Error(t, DecodeFile(filepath.Join(dir, "missing.yaml"), &fromYAML))
}
