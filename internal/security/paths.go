package security

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// maxSymlinkHops bounds symlink expansion during canonicalization.
const maxSymlinkHops = 40

// ErrSymlinkLoop is returned when a path expands through too many symlinks.
var ErrSymlinkLoop = errors.New("too many levels of symbolic links")

// Resolver performs the read-only filesystem lookups needed to resolve
// symlinks. It never creates, modifies or opens files.
type Resolver interface {
	Lstat(name string) (fs.FileInfo, error)
	Readlink(name string) (string, error)
}

type osResolver struct{}

func (osResolver) Lstat(name string) (fs.FileInfo, error) { return os.Lstat(name) }
func (osResolver) Readlink(name string) (string, error)   { return os.Readlink(name) }

// OSResolver returns a Resolver backed by the host filesystem.
func OSResolver() Resolver { return osResolver{} }

// Canonicalize resolves an absolute path component by component, the way the
// kernel would when opening it: symlinks are expanded before ".." is applied,
// dangling links are followed through their link text, and components that do
// not exist yet are appended verbatim.
func Canonicalize(r Resolver, path string) (string, error) {
	if r == nil {
		r = osResolver{}
	}
	if !filepath.IsAbs(path) {
		return "", fmt.Errorf("path %q is not absolute", path)
	}

	vol := filepath.VolumeName(path)
	root := vol + string(filepath.Separator)
	resolved := root
	pending := splitComponents(path[len(vol):])
	missing := false
	hops := 0

	for len(pending) > 0 {
		name := pending[0]
		pending = pending[1:]

		switch name {
		case "", ".":
			continue
		case "..":
			resolved = filepath.Dir(resolved)
			continue
		}

		next := filepath.Join(resolved, name)
		if missing {
			resolved = next
			continue
		}

		info, err := r.Lstat(next)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				missing = true
				resolved = next
				continue
			}
			return "", err
		}
		if info.Mode()&fs.ModeSymlink == 0 {
			resolved = next
			continue
		}

		hops++
		if hops > maxSymlinkHops {
			return "", fmt.Errorf("%w: %s", ErrSymlinkLoop, path)
		}
		target, err := r.Readlink(next)
		if err != nil {
			return "", err
		}
		if filepath.IsAbs(target) {
			tvol := filepath.VolumeName(target)
			resolved = tvol + string(filepath.Separator)
			target = target[len(tvol):]
		}
		pending = append(splitComponents(target), pending...)
	}

	return resolved, nil
}

// Within reports whether path equals root or is a descendant of it.
// Both arguments must already be canonical.
func Within(path, root string) bool {
	if path == root {
		return true
	}
	prefix := root
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(path, prefix)
}

// JoinWorkspace resolves candidate against a canonical workspace root without
// lexical cleaning, so ".." is applied after symlink expansion.
func JoinWorkspace(r Resolver, root, candidate string) (string, error) {
	abs := candidate
	if !filepath.IsAbs(candidate) {
		abs = root + string(filepath.Separator) + candidate
	}
	return Canonicalize(r, abs)
}

func splitComponents(p string) []string {
	return strings.Split(p, string(filepath.Separator))
}
