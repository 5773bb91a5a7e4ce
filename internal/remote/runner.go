// Package remote provides command execution on SSH hosts and the
// oversized-journal aggregation path that sums token counts at the
// remote end instead of transferring file contents.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// TransferCap bounds how many bytes a single remote read may return.
const TransferCap = 10 << 20 // 10 MiB

// ErrOutputTruncated signals that remote output exceeded TransferCap.
// The captured prefix is discarded; callers must switch to the remote
// aggregation path instead of retrying the read.
var ErrOutputTruncated = errors.New("remote: output exceeded transfer cap")

// Runner executes a command on a remote host and captures its output
// into a bounded buffer.
type Runner interface {
	Run(ctx context.Context, host, command string) (stdout, stderr []byte, err error)
}

// SSHRunner shells out to the ssh binary. Host is passed verbatim, so
// ssh config aliases and user@host forms both work.
type SSHRunner struct {
	// Options are extra ssh flags, e.g. BatchMode or a ControlPath.
	Options []string
}

// Run implements Runner.
func (r *SSHRunner) Run(ctx context.Context, host, command string) ([]byte, []byte, error) {
	args := append([]string{}, r.Options...)
	args = append(args, host, command)

	cmd := exec.CommandContext(ctx, "ssh", args...)
	stdout := &cappedBuffer{cap: TransferCap}
	var stderr bytes.Buffer
	cmd.Stdout = stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if stdout.truncated {
			return nil, stderr.Bytes(), ErrOutputTruncated
		}
		return nil, stderr.Bytes(), fmt.Errorf("ssh %s: %w: %s",
			host, err, strings.TrimSpace(stderr.String()))
	}
	if stdout.truncated {
		return nil, stderr.Bytes(), ErrOutputTruncated
	}
	return stdout.buf.Bytes(), stderr.Bytes(), nil
}

// cappedBuffer stops accepting writes past cap and flags truncation.
// Returning an error aborts the local copy loop, which kills the ssh
// process rather than draining an arbitrarily large stream.
type cappedBuffer struct {
	buf       bytes.Buffer
	cap       int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if b.buf.Len()+len(p) > b.cap {
		b.truncated = true
		return 0, ErrOutputTruncated
	}
	return b.buf.Write(p)
}
