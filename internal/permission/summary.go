package permission

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/flemzord/toolgate/internal/security"
	"github.com/flemzord/toolgate/internal/tool"
)

const maxSummaryArgs = 400

// Summarize builds the human-readable risk summary shown in prompts.
func Summarize(desc tool.Descriptor, args json.RawMessage, findings []security.Finding, reason string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s wants %s", desc.Name, capabilityList(desc.Capabilities))
	if reason != "" {
		fmt.Fprintf(&b, " (%s)", reason)
	}

	if compact := compactArgs(args); compact != "" {
		fmt.Fprintf(&b, "\narguments: %s", compact)
	}
	for _, f := range findings {
		if f.Clean() {
			continue
		}
		fmt.Fprintf(&b, "\n%s: %s", f.Kind, f.Detail)
	}
	return b.String()
}

func compactArgs(args json.RawMessage) string {
	if len(args) == 0 {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, args); err != nil {
		return ""
	}
	s := buf.String()
	if len(s) <= maxSummaryArgs {
		return s
	}
	i := maxSummaryArgs
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return s[:i] + "…"
}
