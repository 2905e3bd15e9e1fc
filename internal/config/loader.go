package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"
)

// varPattern matches ${VAR}, ${VAR:-default} and ${file:PATH}.
var varPattern = regexp.MustCompile(`\$\{(?:file:([^}]+)|([A-Za-z_][A-Za-z0-9_]*)(?::-((?:[^}\\]|\\.)*))?)\}`)

// Load reads a YAML configuration file, expands variable references and
// decodes it. A relative workspace and relative ${file:...} references
// are resolved against the directory of the file.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	cfg, err := parse(raw, dir)
	if err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	cfg.resolveWorkspace(dir)
	return cfg, nil
}

// Parse expands variable references in raw YAML and decodes it. Unknown
// keys are rejected so that typos do not silently loosen the policy.
func Parse(raw []byte) (*Config, error) {
	return parse(raw, ".")
}

func parse(raw []byte, dir string) (*Config, error) {
	expanded, err := expandVars(raw, dir)
	if err != nil {
		return nil, fmt.Errorf("expanding variables: %w", err)
	}

	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing: %w", err)
	}
	if cfg.Version == "" {
		cfg.Version = "1"
	}
	return &cfg, nil
}

// expandVars substitutes environment variables and ${file:PATH} secrets.
// A file reference is replaced by the file content without its trailing
// newline, which suits tokens mounted by systemd or Kubernetes. Every
// unresolved reference is reported.
func expandVars(raw []byte, dir string) ([]byte, error) {
	var errs []error

	out := varPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		subs := varPattern.FindSubmatch(match)
		if file := string(subs[1]); file != "" {
			if !filepath.IsAbs(file) {
				file = filepath.Join(dir, file)
			}
			data, err := os.ReadFile(file)
			if err != nil {
				errs = append(errs, fmt.Errorf("reading secret file: %w", err))
				return match
			}
			return bytes.TrimRight(data, "\r\n")
		}

		name := string(subs[2])
		if value, ok := os.LookupEnv(name); ok {
			return []byte(value)
		}
		if subs[3] != nil {
			return subs[3]
		}
		errs = append(errs, fmt.Errorf("unresolved variable: %s", name))
		return match
	})
	return out, errors.Join(errs...)
}
