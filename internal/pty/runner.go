// Package pty starts a command attached to a pseudo-terminal. An agent that
// sees a terminal on its output line-buffers, and the terminal merges the
// child's stdout and stderr into one stream.
package pty

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"syscall"

	"github.com/creack/pty"
)

// Size represents terminal dimensions in rows and columns.
type Size struct {
	Rows uint16
	Cols uint16
}

// DefaultSize is wide enough that agents which check the terminal width do
// not wrap their own output.
var DefaultSize = Size{Rows: 50, Cols: 250}

// Runner is the interface for spawning a command on a PTY.
// Implementations can be swapped (e.g. creack/pty, or a mock for tests).
type Runner interface {
	Start(ctx context.Context, cmd *exec.Cmd, size Size) (io.ReadCloser, error)
}

// CreackPTY implements Runner using github.com/creack/pty.
type CreackPTY struct{}

// Ensure CreackPTY implements Runner.
var _ Runner = (*CreackPTY)(nil)

// Start implements Runner. Spawns cmd in a PTY with the given size. The
// returned reader reports io.EOF once the child side has closed.
func (c *CreackPTY) Start(ctx context.Context, cmd *exec.Cmd, size Size) (io.ReadCloser, error) {
	ws := &pty.Winsize{Rows: size.Rows, Cols: size.Cols}
	f, err := pty.StartWithSize(cmd, ws)
	if err != nil {
		return nil, err
	}
	// Context cancellation is handled by exec.CommandContext on cmd.
	return &eofReader{ReadCloser: f}, nil
}

// eofReader maps the EIO a Linux PTY master returns after the slave closes
// to io.EOF.
type eofReader struct {
	io.ReadCloser
}

func (r *eofReader) Read(p []byte) (int, error) {
	n, err := r.ReadCloser.Read(p)
	if err != nil && errors.Is(err, syscall.EIO) {
		return n, io.EOF
	}
	return n, err
}
