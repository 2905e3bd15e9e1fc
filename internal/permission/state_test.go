package permission

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type fakeTime struct {
	mu      sync.Mutex
	current time.Time
}

func (f *fakeTime) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

func (f *fakeTime) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = f.current.Add(d)
}

func TestNewState_RequiresRoot(t *testing.T) {
	t.Parallel()

	if _, err := NewState(StateConfig{}); err == nil {
		t.Fatal("expected error for empty workspace root")
	}
}

func TestNewState_CanonicalizesDeniedPaths(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "real"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.Symlink(filepath.Join(root, "real"), filepath.Join(root, "alias")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	st, err := NewState(StateConfig{WorkspaceRoot: root, DeniedPaths: []string{"alias", "/etc"}})
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}

	denied := st.DeniedPaths()
	if len(denied) != 2 {
		t.Fatalf("denied = %v, want 2 entries", denied)
	}
	if filepath.Base(denied[0]) != "real" {
		t.Fatalf("denied[0] = %q, want symlink resolved to real", denied[0])
	}
	if _, ok := st.deniedPrefix(filepath.Join(denied[0], "x")); !ok {
		t.Fatal("child of denied path should match")
	}
}

func TestState_DeniedPathsOnlyGrow(t *testing.T) {
	t.Parallel()

	st, err := NewState(StateConfig{WorkspaceRoot: t.TempDir(), DeniedPaths: []string{"a"}})
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}
	if err := st.DenyPath("b"); err != nil {
		t.Fatalf("DenyPath: %v", err)
	}
	if err := st.DenyPath("a"); err != nil {
		t.Fatalf("DenyPath duplicate: %v", err)
	}
	if got := len(st.DeniedPaths()); got != 2 {
		t.Fatalf("denied paths = %d, want 2", got)
	}
}

func TestState_SessionAllow(t *testing.T) {
	t.Parallel()

	st, err := NewState(StateConfig{WorkspaceRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}
	if st.Allowed("write_file") {
		t.Fatal("fresh state should not allow write_file")
	}
	st.AllowForSession("write_file")
	st.AllowForSession("edit_file")
	if !st.Allowed("write_file") {
		t.Fatal("write_file should be allowed")
	}
	got := st.SessionAllowed()
	if len(got) != 2 || got[0] != "edit_file" || got[1] != "write_file" {
		t.Fatalf("SessionAllowed() = %v", got)
	}
}

func TestState_YoloWindow(t *testing.T) {
	t.Parallel()

	st, err := NewState(StateConfig{WorkspaceRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}
	ft := &fakeTime{current: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
	st.now = ft.Now

	if st.Yolo() {
		t.Fatal("yolo should start disabled")
	}
	st.YoloFor(5 * time.Minute)
	ft.Advance(4 * time.Minute)
	if !st.Yolo() {
		t.Fatal("yolo should be active inside the window")
	}
	ft.Advance(2 * time.Minute)
	if st.Yolo() {
		t.Fatal("yolo should expire after the window")
	}

	st.SetYolo(true)
	if !st.Yolo() {
		t.Fatal("SetYolo(true) should enable yolo")
	}
	st.SetYolo(false)
	if st.Yolo() {
		t.Fatal("SetYolo(false) should disable yolo")
	}
}

func TestState_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	st, err := NewState(StateConfig{WorkspaceRoot: t.TempDir()})
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			st.AllowForSession("tool")
			_ = st.DenyPath(filepath.Join("d", string(rune('a'+i))))
		}()
		go func() {
			defer wg.Done()
			_ = st.Allowed("tool")
			_ = st.DeniedPaths()
			_ = st.Yolo()
		}()
	}
	wg.Wait()

	if got := len(st.DeniedPaths()); got != 16 {
		t.Fatalf("denied paths = %d, want 16", got)
	}
}
