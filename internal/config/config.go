// Package config loads process settings from flags, environment variables
// and an optional config file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "PR_AUTOPILOT"

// Setting keys.
const (
	KeyToken          = "token"
	KeyStateDir       = "state_dir"
	KeyLegacyStateDir = "legacy_state_dir"
	KeyConcurrency    = "concurrency"
	KeyTaskTimeout    = "task_timeout"
)

// Settings are the process-level options. User preferences such as the
// GitHub username live in the state file instead.
type Settings struct {
	Token          string
	StateDir       string
	LegacyStateDir string
	Concurrency    int
	TaskTimeout    time.Duration
}

// flagKeys maps flag names to setting keys.
var flagKeys = map[string]string{
	"state-dir":    KeyStateDir,
	"concurrency":  KeyConcurrency,
	"task-timeout": KeyTaskTimeout,
}

// Load resolves settings in the order flag, environment, config file, default.
// The config file is <state dir>/config.yaml and is optional. flags may be nil.
func Load(flags *pflag.FlagSet) (*Settings, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	return load(viper.New(), flags, home)
}

func load(v *viper.Viper, flags *pflag.FlagSet, home string) (*Settings, error) {
	v.SetDefault(KeyStateDir, filepath.Join(home, ".pr-autopilot"))
	v.SetDefault(KeyLegacyStateDir, filepath.Join(home, ".config", "pr-autopilot"))
	v.SetDefault(KeyConcurrency, 5)
	v.SetDefault(KeyTaskTimeout, "2m")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv(KeyToken, EnvPrefix+"_TOKEN", "GITHUB_TOKEN"); err != nil {
		return nil, err
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, err
				}
			}
		}
	}

	stateDir := expandHome(v.GetString(KeyStateDir), home)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(stateDir)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	s := &Settings{
		Token:          v.GetString(KeyToken),
		StateDir:       expandHome(v.GetString(KeyStateDir), home),
		LegacyStateDir: expandHome(v.GetString(KeyLegacyStateDir), home),
		Concurrency:    v.GetInt(KeyConcurrency),
		TaskTimeout:    v.GetDuration(KeyTaskTimeout),
	}
	if s.Concurrency <= 0 {
		return nil, fmt.Errorf("%s must be positive, got %d", KeyConcurrency, s.Concurrency)
	}
	if s.TaskTimeout < 0 {
		return nil, fmt.Errorf("%s must not be negative, got %s", KeyTaskTimeout, s.TaskTimeout)
	}
	return s, nil
}

func expandHome(path, home string) string {
	if path == "~" {
		return home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
