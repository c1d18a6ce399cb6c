// Package shell runs native build tools and system commands. All
// invocations of external programs in this codebase go through Run so
// that failures carry the command line, exit code and captured output.
package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/metaforge-build/metaforge/internal/utils/logger"
)

// ToolError reports a native tool that started but exited non-zero.
type ToolError struct {
	Cmd      string
	ExitCode int
	Output   string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s exited with status %d", e.Cmd, e.ExitCode)
}

// RunOpts adjusts how a command is executed.
type RunOpts struct {
	// Dir is the working directory; empty means the current directory.
	Dir string
	// Env entries are appended to the inherited environment.
	Env []string
	// Stream, when set, receives combined output as it is produced,
	// in addition to the captured copy returned by Run.
	Stream io.Writer
	// Stdin, when set, is fed to the command.
	Stdin io.Reader
}

// CmdString renders a command line for logs and error messages.
func CmdString(name string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, name)
	for _, a := range args {
		if strings.ContainsAny(a, " \t\"'$") {
			a = fmt.Sprintf("%q", a)
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

// Run executes name with args and returns the combined output. A
// non-zero exit is returned as *ToolError; failure to start at all is
// returned as a plain wrapped error.
func Run(ctx context.Context, name string, args []string, opts RunOpts) (string, error) {
	log := logger.Logger()
	cmdStr := CmdString(name, args)
	log.Debugf("exec: [%s]", cmdStr)

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}
	if opts.Stdin != nil {
		cmd.Stdin = opts.Stdin
	}

	var buf strings.Builder
	var sink io.Writer = &buf
	if opts.Stream != nil {
		sink = io.MultiWriter(&buf, opts.Stream)
	}
	cmd.Stdout = sink
	cmd.Stderr = sink

	err := cmd.Run()
	output := buf.String()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			if output != "" {
				log.Debugf(output)
			}
			return output, &ToolError{
				Cmd:      cmdStr,
				ExitCode: exitErr.ExitCode(),
				Output:   output,
			}
		}
		return output, fmt.Errorf("failed to exec %s: %w", cmdStr, err)
	}
	return output, nil
}

// LookPath reports the absolute path of an executable, or an error if
// it is not on PATH.
func LookPath(name string) (string, error) {
	return exec.LookPath(name)
}
