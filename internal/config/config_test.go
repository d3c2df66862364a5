package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig_Env(t *testing.T) {
	t.Setenv("MERGEGYM_ADDR", ":9999")
	t.Setenv("MERGEGYM_MAX_PARALLEL", "2")
	t.Setenv("MERGEGYM_ANALYZE_TIMEOUT", "5s")

	c := DefaultConfig()
	assert.Equal(t, ":9999", c.Addr)
	assert.Equal(t, 2, c.MaxParallel)
	assert.Equal(t, 5*time.Second, c.AnalyzeTimeout)
	assert.Equal(t, 7, c.MarkerSize)
}

func TestDefaultConfig_BadEnvKeepsDefaults(t *testing.T) {
	t.Setenv("MERGEGYM_MAX_PARALLEL", "many")
	t.Setenv("MERGEGYM_ANALYZE_TIMEOUT", "soon")

	c := DefaultConfig()
	assert.Equal(t, 4, c.MaxParallel)
	assert.Equal(t, 30*time.Second, c.AnalyzeTimeout)
}

func TestLoad(t *testing.T) {
	t.Run("no file", func(t *testing.T) {
		c, err := Load(t.TempDir())
		require.NoError(t, err)
		assert.Equal(t, DefaultConfig(), c)
	})

	t.Run("yaml", func(t *testing.T) {
		dir := t.TempDir()
		data := "addr: \":7000\"\nmax_parallel: 8\nanalyze_timeout: 1m\nrepo: demo\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, "mergegym.yaml"), []byte(data), 0o644))

		c, err := Load(dir)
		require.NoError(t, err)
		assert.Equal(t, ":7000", c.Addr)
		assert.Equal(t, 8, c.MaxParallel)
		assert.Equal(t, time.Minute, c.AnalyzeTimeout)
		assert.Equal(t, "demo", c.DefaultRepo)
	})

	t.Run("toml", func(t *testing.T) {
		dir := t.TempDir()
		data := "marker_size = 9\ndata_root = \"/srv/merge\"\n"
		require.NoError(t, os.WriteFile(filepath.Join(dir, "mergegym.toml"), []byte(data), 0o644))

		c, err := Load(dir)
		require.NoError(t, err)
		assert.Equal(t, 9, c.MarkerSize)
		assert.Equal(t, "/srv/merge", c.DataRoot)
	})

	t.Run("bad duration", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "mergegym.yml"), []byte("analyze_timeout: later\n"), 0o644))

		_, err := Load(dir)
		assert.ErrorContains(t, err, "analyze_timeout")
	})

	t.Run("malformed toml", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "mergegym.toml"), []byte("marker_size = = 1"), 0o644))

		_, err := Load(dir)
		assert.Error(t, err)
	})
}

func TestRepoPath(t *testing.T) {
	c := &Config{DataRoot: "/data"}
	assert.Equal(t, ".", c.RepoPath(""))
	assert.Equal(t, "/data/demo", c.RepoPath("demo"))
	assert.Equal(t, "/abs/repo", c.RepoPath("/abs/repo"))

	c.DefaultRepo = "fallback"
	assert.Equal(t, "/data/fallback", c.RepoPath(""))
}
