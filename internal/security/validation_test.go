package security

import (
	"errors"
	"strings"
	"testing"
)

func nested(depth int) string {
	return strings.Repeat(`{"a":`, depth) + "1" + strings.Repeat("}", depth)
}

func TestValidateArguments(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		args     string
		maxSize  int
		maxDepth int
		wantErr  error
	}{
		{name: "object", args: `{"path":"a.txt","limit":10}`},
		{name: "empty", args: ""},
		{name: "whitespace", args: "  \n"},
		{name: "null", args: "null"},
		{name: "depth at limit", args: nested(3), maxDepth: 3},
		{name: "size at limit", args: `{"p":"x"}`, maxSize: 9},
		{name: "too large", args: `{"path":"a.txt"}`, maxSize: 4, wantErr: ErrArgumentsTooLarge},
		{name: "too deep", args: nested(4), maxDepth: 3, wantErr: ErrJSONTooDeep},
		{name: "default depth", args: nested(DefaultMaxJSONDepth + 1), wantErr: ErrJSONTooDeep},
		{name: "deep arrays", args: `{"a":[[[[1]]]]}`, maxDepth: 4, wantErr: ErrJSONTooDeep},
		{name: "truncated", args: `{"a":`, wantErr: ErrInvalidJSON},
		{name: "unbalanced", args: `{"a":1}}`, wantErr: ErrInvalidJSON},
		{name: "trailing value", args: `{} {}`, wantErr: ErrInvalidJSON},
		{name: "array", args: `["ls"]`, wantErr: ErrNotObject},
		{name: "string", args: `"ls -la"`, wantErr: ErrNotObject},
		{name: "number", args: `42`, wantErr: ErrNotObject},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := ValidateArguments([]byte(tt.args), tt.maxSize, tt.maxDepth)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("ValidateArguments(%q) = %v", tt.args, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ValidateArguments(%q) = %v, want %v", tt.args, err, tt.wantErr)
			}
		})
	}
}

func TestValidateArguments_SizeCheckedFirst(t *testing.T) {
	t.Parallel()

	// Oversized and malformed: the size limit reports before any parsing.
	err := ValidateArguments([]byte(`{{{{{{{{`), 4, 0)
	if !errors.Is(err, ErrArgumentsTooLarge) {
		t.Fatalf("err = %v, want ErrArgumentsTooLarge", err)
	}
}

func TestValidateJSONDepth_AcceptsAnyValue(t *testing.T) {
	t.Parallel()

	for _, s := range []string{`[1,2]`, `"x"`, `true`, `{"a":{}}`} {
		if err := ValidateJSONDepth([]byte(s), 2); err != nil {
			t.Errorf("ValidateJSONDepth(%q) = %v", s, err)
		}
	}
}

func BenchmarkValidateArguments(b *testing.B) {
	data := []byte(`{"command":"go","argv":["test","./..."],"env":{"GOFLAGS":"-count=1"},"timeout_ms":30000}`)
	for range b.N {
		_ = ValidateArguments(data, DefaultMaxArgumentSize, DefaultMaxJSONDepth)
	}
}
