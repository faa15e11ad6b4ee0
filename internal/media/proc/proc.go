// Package proc runs external media tools in their own process group so a
// cancelled context stops the tool and every child it forked.
package proc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// maxOutput bounds how much tool output is carried in an error.
const maxOutput = 2048

// waitDelay bounds how long Wait lingers on pipes after the process is killed.
const waitDelay = 5 * time.Second

// Command builds a cmd that is killed as a group when ctx is done.
func Command(ctx context.Context, binary string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, binary, args...)
	configureGroup(cmd)
	cmd.WaitDelay = waitDelay
	return cmd
}

// Run executes binary and returns its stdout. On failure the error carries
// the trimmed tail of stderr. A cancelled or expired ctx is reported as the
// context error so callers can tell timeouts from tool failures.
func Run(ctx context.Context, binary string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := Command(ctx, binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%s: %w", binary, ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%s exited with status %d: %s", binary, exitErr.ExitCode(), Tail(stderr.String()))
		}
		return nil, fmt.Errorf("run %s: %w", binary, err)
	}
	return stdout.Bytes(), nil
}

// Tail collapses output to its last maxOutput bytes on one line.
func Tail(output string) string {
	output = strings.TrimSpace(output)
	if len(output) > maxOutput {
		output = "..." + output[len(output)-maxOutput:]
	}
	return strings.Join(strings.Fields(output), " ")
}
