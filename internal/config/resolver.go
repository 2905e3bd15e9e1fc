package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ErrNoConfig is returned when no configuration file can be found.
var ErrNoConfig = errors.New("config: no configuration file found")

const fileName = "config.yaml"

// ResolvePath returns the configuration file to load. An explicit path wins;
// otherwise $XDG_CONFIG_HOME/toolgate/config.yaml and then
// ~/.config/toolgate/config.yaml are tried.
func ResolvePath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config: %w", err)
		}
		return explicit, nil
	}

	for _, p := range candidates() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("config: %w", err)
		}
	}
	return "", ErrNoConfig
}

func candidates() []string {
	var out []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		out = append(out, filepath.Join(xdg, "toolgate", fileName))
	}
	if home, err := os.UserHomeDir(); err == nil {
		out = append(out, filepath.Join(home, ".config", "toolgate", fileName))
	}
	return out
}

func (c *Config) resolveWorkspace(baseDir string) {
	if c.Workspace == "" {
		c.Workspace = "."
	}
	if !filepath.IsAbs(c.Workspace) {
		c.Workspace = filepath.Join(baseDir, c.Workspace)
	}
}
