package permission

import (
	"errors"
	"testing"
)

func TestModes_Resolve(t *testing.T) {
	t.Parallel()

	m := Modes{
		Tools: map[string]Mode{"read_file": ModeAuto},
		Auto:  []string{"list_dir"},
		Deny:  []string{" run_shell "},
	}

	tests := []struct {
		name   string
		want   Mode
		wantOK bool
	}{
		{"read_file", ModeAuto, true},
		{"list_dir", ModeAuto, true},
		{"run_shell", ModeDeny, true},
		{"write_file", "", false},
	}
	for _, tt := range tests {
		got, ok := m.Resolve(tt.name)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("Resolve(%q) = %q, %v; want %q, %v", tt.name, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestModes_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		modes    Modes
		wantErr  bool
		conflict bool
	}{
		{"empty", Modes{}, false, false},
		{"valid", Modes{Tools: map[string]Mode{"a": ModeAuto}, Deny: []string{"b"}}, false, false},
		{"invalid mode", Modes{Tools: map[string]Mode{"a": "sometimes"}}, true, false},
		{"empty name", Modes{Auto: []string{" "}}, true, false},
		{"conflict", Modes{Auto: []string{"a"}, Deny: []string{"a"}}, true, true},
		{"conflict with mapping", Modes{Tools: map[string]Mode{"a": ModeDeny}, Prompt: []string{"a"}}, true, true},
		{"path rules", Modes{Paths: map[string]PathRules{"a": {Denied: []string{"docs"}, Allowed: []string{"src"}}}}, false, false},
		{"empty path rule", Modes{Paths: map[string]PathRules{"a": {Allowed: []string{""}}}}, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.modes.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.conflict && !errors.Is(err, ErrToolInMultipleLists) {
				t.Fatalf("expected ErrToolInMultipleLists, got %v", err)
			}
		})
	}
}
