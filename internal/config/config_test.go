package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "capnpcore.yml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadParsesAllFields(t *testing.T) {
	path := writeConfig(t, `
traversalLimitWords: 1048576
nestingLimit: 32
logLevel: debug
logFile: /tmp/capnpcore.log
listenAddress: 127.0.0.1:9090
watchDirectory: /tmp/messages
`)

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(1048576), c.TraversalLimitWords)
	assert.Equal(t, uint(32), c.NestingLimit)
	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, "/tmp/capnpcore.log", c.LogFile)
	assert.Equal(t, "127.0.0.1:9090", c.ListenAddress)
	assert.Equal(t, "/tmp/messages", c.WatchDirectory)
	assert.Equal(t, path, c.Source())
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "no-such-setting: true\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingExplicitPath(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yml"))
	assert.ErrorIs(t, err, ErrNoConfigFile)
}

func TestLoadEmptyPathWithNoDefaultFileIsZeroConfig(t *testing.T) {
	// The default search path may legitimately contain a config on a
	// developer machine; only assert the zero-config fallback when it
	// does not.
	if FindDefaultConfigPath() != "" {
		t.Skip("a default config file exists on this machine")
	}
	c, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "", c.Source())
	assert.Zero(t, c.TraversalLimitWords)
}

func TestDefaultConfigSearchDirectoriesIncludesHome(t *testing.T) {
	dirs := DefaultConfigSearchDirectories()
	require.NotEmpty(t, dirs)
	assert.Equal(t, "~/.capnpcore", dirs[0])
}
