package security

import (
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrSandboxUnavailable is returned when sandboxing is enabled but the
// container runtime cannot be found. Commands never fall back to running
// unsandboxed.
var ErrSandboxUnavailable = errors.New("sandbox: docker not available")

// SandboxPolicy defines whether and how command tools run in a container.
type SandboxPolicy struct {
	// Enabled activates sandboxing. When false, commands run on the host.
	Enabled bool `yaml:"enabled"`

	// Image is the container image. Defaults to alpine:3.19.
	Image string `yaml:"image"`

	// Network keeps container networking. By default the container has none.
	Network bool `yaml:"network"`

	Limits ResourceLimits `yaml:"limits"`
}

// ResourceLimits defines resource constraints for sandboxed execution.
type ResourceLimits struct {
	// CPUShares is the relative CPU weight (Docker --cpu-shares).
	CPUShares int `yaml:"cpu_shares"`

	// MemoryMB is the memory limit in megabytes (Docker --memory).
	MemoryMB int `yaml:"memory_mb"`

	// TmpMB is the size of the /tmp tmpfs in megabytes.
	TmpMB int `yaml:"tmp_mb"`

	// PIDs bounds the number of processes in the container.
	PIDs int `yaml:"pids"`
}

// resourceLimitsDefaults returns sane defaults for sandbox limits.
func resourceLimitsDefaults() ResourceLimits {
	return ResourceLimits{
		CPUShares: 512,
		MemoryMB:  256,
		TmpMB:     100,
		PIDs:      256,
	}
}

const (
	defaultSandboxImage = "alpine:3.19"
	sandboxWorkdir      = "/workspace"
)

// Sandbox rewrites command argv so it runs inside a throwaway Docker
// container with the workspace bind-mounted. A nil *Sandbox runs commands
// unchanged.
type Sandbox struct {
	policy   SandboxPolicy
	lookPath func(string) (string, error)
}

// NewSandbox creates a sandbox for policy. Zero-value limits are replaced
// with defaults.
func NewSandbox(policy SandboxPolicy) *Sandbox {
	defaults := resourceLimitsDefaults()
	if policy.Limits.CPUShares <= 0 {
		policy.Limits.CPUShares = defaults.CPUShares
	}
	if policy.Limits.MemoryMB <= 0 {
		policy.Limits.MemoryMB = defaults.MemoryMB
	}
	if policy.Limits.TmpMB <= 0 {
		policy.Limits.TmpMB = defaults.TmpMB
	}
	if policy.Limits.PIDs <= 0 {
		policy.Limits.PIDs = defaults.PIDs
	}
	if policy.Image == "" {
		policy.Image = defaultSandboxImage
	}
	return &Sandbox{policy: policy, lookPath: exec.LookPath}
}

// Enabled reports whether commands are wrapped.
func (s *Sandbox) Enabled() bool {
	return s != nil && s.policy.Enabled
}

// NetworkIsolated reports whether wrapped commands run without a network.
func (s *Sandbox) NetworkIsolated() bool {
	return s.Enabled() && !s.policy.Network
}

// Wrap returns the argv that runs argv inside the container. workdir is the
// host workspace root and dir the command's working directory below it.
// When the sandbox is disabled argv is returned unchanged.
func (s *Sandbox) Wrap(argv []string, workdir, dir string, env []string) ([]string, error) {
	if !s.Enabled() {
		return argv, nil
	}
	if len(argv) == 0 {
		return nil, errors.New("sandbox: empty command")
	}
	docker, err := s.lookPath("docker")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSandboxUnavailable, err)
	}

	workdir = filepath.Clean(workdir)
	if strings.Contains(workdir, ":") {
		return nil, fmt.Errorf("sandbox: workdir contains invalid character: %q", workdir)
	}
	inner := sandboxWorkdir
	if dir != "" {
		rel, err := filepath.Rel(workdir, dir)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return nil, fmt.Errorf("sandbox: %s is outside %s", dir, workdir)
		}
		inner = filepath.ToSlash(filepath.Join(sandboxWorkdir, rel))
	}

	lim := s.policy.Limits
	out := []string{
		docker, "run", "--rm", "-i",
		"--read-only",
		"--cap-drop", "ALL",
		"--security-opt", "no-new-privileges:true",
		"--user", "65534:65534",
		"--pids-limit", strconv.Itoa(lim.PIDs),
		"--cpu-shares", strconv.Itoa(lim.CPUShares),
		"--memory", strconv.Itoa(lim.MemoryMB) + "m",
		"--tmpfs", "/tmp:rw,noexec,nosuid,size=" + strconv.Itoa(lim.TmpMB) + "m",
		"-v", workdir + ":" + sandboxWorkdir + ":rw",
		"-w", inner,
	}
	if !s.policy.Network {
		out = append(out, "--network=none")
	}
	for _, e := range env {
		out = append(out, "-e", e)
	}
	out = append(out, s.policy.Image)
	return append(out, argv...), nil
}
