// Package config loads capnpcore's CLI configuration file, following the
// same search-path and strict-decode conventions cloudflared's config
// package uses for its YAML configuration.
package config

import (
	"os"
	"path/filepath"
	"runtime"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v3"
)

// DefaultConfigFiles is the file names searched for in each default
// directory, in order.
var DefaultConfigFiles = []string{"capnpcore.yml", "capnpcore.yaml"}

var (
	defaultUserConfigDirs = []string{"~/.capnpcore"}
	defaultNixConfigDirs  = []string{"/etc/capnpcore"}
)

// ErrNoConfigFile is returned when no config file is found on the default
// search path and none was given explicitly.
var ErrNoConfigFile = errors.New("no capnpcore config file found")

// Config is the root of the YAML configuration file: resource limits
// applied to every decode, logging settings, and the serve/watch commands'
// defaults.
type Config struct {
	// TraversalLimitWords bounds the total words a single decode may read,
	// mirroring ReaderOptions.TraversalLimitInWords.
	TraversalLimitWords uint64 `yaml:"traversalLimitWords"`
	// NestingLimit bounds pointer-chasing depth, mirroring
	// ReaderOptions.NestingLimit.
	NestingLimit uint `yaml:"nestingLimit"`
	// LogLevel is one of zerolog's level names (debug, info, warn, error).
	LogLevel string `yaml:"logLevel"`
	// LogFile, if set, also writes log output to a lumberjack-rotated file,
	// alongside the console.
	LogFile string `yaml:"logFile"`
	// ListenAddress is the serve command's default HTTP bind address.
	ListenAddress string `yaml:"listenAddress"`
	// WatchDirectory is the watch command's default directory to monitor
	// for new or changed message files.
	WatchDirectory string `yaml:"watchDirectory"`

	sourceFile string
}

// Source returns the path the configuration was loaded from, or "" if it
// is still the zero-value default configuration.
func (c *Config) Source() string {
	return c.sourceFile
}

// DefaultConfigSearchDirectories returns the directories searched, in
// order, for a default config file.
func DefaultConfigSearchDirectories() []string {
	dirs := make([]string, len(defaultUserConfigDirs))
	copy(dirs, defaultUserConfigDirs)
	if runtime.GOOS != "windows" {
		dirs = append(dirs, defaultNixConfigDirs...)
	}
	return dirs
}

// FindDefaultConfigPath returns the first config file found on the
// default search path, or "" if none exists.
func FindDefaultConfigPath() string {
	for _, dir := range DefaultConfigSearchDirectories() {
		expanded, err := homedir.Expand(dir)
		if err != nil {
			continue
		}
		for _, name := range DefaultConfigFiles {
			path := filepath.Join(expanded, name)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// Load reads and parses the config file at path. If path is empty, it
// falls back to FindDefaultConfigPath. Unknown fields are rejected, the
// way cloudflared's ReadConfigFile surfaces unrecognized keys as
// warnings, except here they fail the load outright since this is a
// narrower, purpose-built schema with no legacy settings bucket to catch
// the overflow.
func Load(path string) (*Config, error) {
	if path == "" {
		path = FindDefaultConfigPath()
		if path == "" {
			return &Config{}, nil
		}
	}

	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, errors.Wrap(err, "expanding config path")
	}

	f, err := os.Open(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoConfigFile
		}
		return nil, errors.Wrap(err, "opening config file")
	}
	defer f.Close()

	var c Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil {
		return nil, errors.Wrapf(err, "parsing YAML in config file at %s", expanded)
	}
	c.sourceFile = expanded
	return &c, nil
}
