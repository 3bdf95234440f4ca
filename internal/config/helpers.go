package config

import (
	"os"
	"path/filepath"
	"strings"
)

// shellConfigDir returns the per-user directory holding the shell's files
func shellConfigDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "craftstudio")
}

func defaultAppConfigPath() string {
	dir := shellConfigDir()
	if dir == "" {
		return "craftstudio.json"
	}
	return filepath.Join(dir, "craftstudio.json")
}

func defaultDataRoot() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "instances"
	}
	return filepath.Join(home, ".craftstudio", "instances")
}

// ExpandHome expands a leading "~/" to the user's home directory
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// EnsureDirectories ensures all required directories exist
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		filepath.Dir(c.Paths.AppConfig),
		c.Paths.DataRoot,
	}

	for _, dir := range dirs {
		if dir == "" || dir == "." {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	return nil
}

// InstanceDataDir proposes a data dir for a new instance under the data root
func (c *Config) InstanceDataDir(name string) string {
	return filepath.Join(c.Paths.DataRoot, name)
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Logging.Level == "debug" && c.Logging.Format == "console"
}
