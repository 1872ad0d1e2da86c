package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 10, cfg.Simplify.Threshold)
	assert.Equal(t, 8, cfg.Simplify.MaxPasses)
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
simplify:
  threshold: 25
codegen:
  fallback: false
pipeline:
  parallel: 4
log:
  level: debug
`))
	require.NoError(t, err)
	assert.Equal(t, 25, cfg.Simplify.Threshold)
	assert.Equal(t, 8, cfg.Simplify.MaxPasses, "unset fields keep their defaults")
	assert.False(t, cfg.Codegen.Fallback)
	assert.True(t, cfg.Codegen.CheckStack)
	assert.Equal(t, 4, cfg.Pipeline.Parallel)

	level, err := cfg.Level()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		msg  string
	}{
		{"unknown field", "simplify:\n  treshold: 3\n", "treshold"},
		{"passes", "simplify:\n  max_passes: 0\n", "max_passes"},
		{"parallel", "pipeline:\n  parallel: -2\n", "parallel"},
		{"level", "log:\n  level: loud\n", "log.level"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.msg)
		})
	}
}

func TestLoadWithEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mlback.yaml")
	require.NoError(t, os.WriteFile(path, []byte("simplify:\n  threshold: 20\n  max_passes: 3\n"), 0o644))

	t.Setenv(EnvThreshold, "40")
	t.Setenv(EnvParallel, "2")
	t.Setenv(EnvLogLevel, "warn")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 40, cfg.Simplify.Threshold, "the environment wins over the file")
	assert.Equal(t, 3, cfg.Simplify.MaxPasses)
	assert.Equal(t, 2, cfg.Pipeline.Parallel)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
