package targets

import (
	"embed"
	"fmt"
	"path"
	"strings"
)

// ToolResolutionError reports a logical tool name that neither the
// helper set nor the target system tools can provide.
type ToolResolutionError struct {
	Tool string
}

func (e *ToolResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve build tool %q", e.Tool)
}

//go:embed helpers/*.sh
var helperFiles embed.FS

// builtinHelpers maps logical tool names to helper scripts staged
// into every build.
var builtinHelpers = map[string]string{
	"trim-install": "trim-install.sh",
	"copy-tree":    "copy-tree.sh",
}

func readBuiltinHelper(filename string) (string, error) {
	data, err := helperFiles.ReadFile(path.Join("helpers", filename))
	if err != nil {
		return "", fmt.Errorf("missing builtin helper %s: %w", filename, err)
	}
	return string(data), nil
}

// interpreterFor returns the interpreter command a staged helper must
// be invoked with, or "" for directly executable scripts.
func interpreterFor(filename string) string {
	switch {
	case strings.HasSuffix(filename, ".py"):
		return "python3"
	default:
		return ""
	}
}
