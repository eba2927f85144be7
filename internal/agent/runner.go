// Package agent launches the coding-agent CLI for a single turn and feeds its
// combined output through a stream reader.
package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"agentflow/internal/pty"
)

// DefaultBinary is the agent CLI looked up on PATH when none is configured.
const DefaultBinary = "agent"

// waitDelay bounds how long Wait blocks after cancellation.
const waitDelay = 2 * time.Second

// ErrAgentNotFound is returned by Resolve when the agent binary is missing.
var ErrAgentNotFound = errors.New("agent CLI not found")

// Transport selects how the child's combined output reaches the reader.
type Transport string

const (
	// TransportPipe shares one pipe between the child's stdout and stderr.
	TransportPipe Transport = "pipe"
	// TransportPTY attaches the child to a pseudo-terminal.
	TransportPTY Transport = "pty"
)

// ParseTransport validates a transport name. Empty means TransportPipe.
func ParseTransport(s string) (Transport, error) {
	switch Transport(strings.ToLower(strings.TrimSpace(s))) {
	case "", TransportPipe:
		return TransportPipe, nil
	case TransportPTY:
		return TransportPTY, nil
	}
	return "", fmt.Errorf("unsupported transport %q (want pipe or pty)", s)
}

// Turn is the input for one agent invocation.
type Turn struct {
	Prompt string
	// ResumeID continues an existing agent session when non-empty.
	ResumeID string
}

// Result holds the outcome of a single agent invocation.
type Result struct {
	ExitCode  int
	SessionID string // first session id seen in the output, or ""
	Duration  time.Duration
	TimedOut  bool // true if the agent was killed due to timeout
}

// StreamReader consumes the child's output and reports the session id.
type StreamReader interface {
	Read(src io.Reader) (string, error)
}

// CommandFactory builds an *exec.Cmd for the given context, working directory,
// binary and arguments. The command must come from exec.CommandContext with
// ctx. Tests can inject a factory that invokes a helper process instead.
type CommandFactory func(ctx context.Context, workDir string, name string, args ...string) *exec.Cmd

// defaultCommandFactory creates a real agent command.
func defaultCommandFactory(ctx context.Context, workDir string, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = workDir
	return cmd
}

// options holds optional configuration for a Runner.
type options struct {
	binary         string
	extraArgs      []string
	model          string
	workDir        string
	env            []string
	timeout        time.Duration
	transport      Transport
	commandFactory CommandFactory
	pty            pty.Runner
	logger         *log.Logger
}

// Option configures Runner behaviour.
type Option func(*options)

// WithBinary sets the agent executable (name on PATH or absolute path).
func WithBinary(binary string) Option {
	return func(o *options) { o.binary = binary }
}

// WithArgs inserts extra arguments before the fixed agent flags.
func WithArgs(args ...string) Option {
	return func(o *options) { o.extraArgs = append([]string(nil), args...) }
}

// WithModel passes --model to the agent when non-empty.
func WithModel(model string) Option {
	return func(o *options) { o.model = model }
}

// WithWorkDir sets the directory the agent runs in.
func WithWorkDir(dir string) Option {
	return func(o *options) { o.workDir = dir }
}

// WithEnv adds variables to the child's environment on top of the inherited
// one. Later values win over inherited ones.
func WithEnv(env map[string]string) Option {
	return func(o *options) {
		keys := make([]string, 0, len(env))
		for k := range env {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		o.env = o.env[:0]
		for _, k := range keys {
			o.env = append(o.env, k+"="+env[k])
		}
	}
}

// WithTimeout kills the agent if a turn runs longer than d. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithTransport selects pipe or PTY output.
func WithTransport(t Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithCommandFactory injects a custom command factory (used in tests).
func WithCommandFactory(f CommandFactory) Option {
	return func(o *options) { o.commandFactory = f }
}

// WithPTYRunner overrides the PTY implementation.
func WithPTYRunner(r pty.Runner) Option {
	return func(o *options) { o.pty = r }
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Runner launches one agent process per turn. Turns must not overlap.
type Runner struct {
	reader StreamReader
	opts   options
}

// New creates a Runner that sends agent output through reader.
func New(reader StreamReader, opts ...Option) (*Runner, error) {
	if reader == nil {
		return nil, errors.New("stream reader is required")
	}
	cfg := options{
		binary:         DefaultBinary,
		transport:      TransportPipe,
		commandFactory: defaultCommandFactory,
		pty:            &pty.CreackPTY{},
		logger:         log.New(io.Discard),
	}
	for _, o := range opts {
		o(&cfg)
	}
	if _, err := ParseTransport(string(cfg.transport)); err != nil {
		return nil, err
	}
	return &Runner{reader: reader, opts: cfg}, nil
}

// Args returns the argument list passed to the agent binary for turn.
func (r *Runner) Args(turn Turn) []string {
	args := append([]string(nil), r.opts.extraArgs...)
	args = append(args, "-p", "--force", "--output-format", "stream-json", "--stream-partial-output")
	if r.opts.model != "" {
		args = append(args, "--model", r.opts.model)
	}
	if turn.ResumeID != "" {
		args = append(args, "--resume="+turn.ResumeID)
	}
	return append(args, turn.Prompt)
}

// Run spawns the agent for one turn and blocks until it exits and its output
// is drained. A non-zero exit is reported in Result, not as an error; errors
// mean the agent could not be launched or waited for.
func (r *Runner) Run(ctx context.Context, turn Turn) (Result, error) {
	if strings.TrimSpace(turn.Prompt) == "" {
		return Result{}, errors.New("prompt is required")
	}

	if r.opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.timeout)
		defer cancel()
	}

	cmd := r.opts.commandFactory(ctx, r.opts.workDir, r.opts.binary, r.Args(turn)...)
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	cmd.Env = append(cmd.Env, r.opts.env...)

	r.opts.logger.Debug("starting agent",
		"transport", string(r.opts.transport),
		"resume", turn.ResumeID,
		"dir", cmd.Dir,
	)

	start := time.Now()
	out, err := r.start(ctx, cmd)
	if err != nil {
		return Result{}, fmt.Errorf("failed to run agent: %w", err)
	}

	// A descendant that escaped the process group can hold the output open
	// forever; closing our end on cancellation ends the read.
	stopClose := context.AfterFunc(ctx, func() { _ = out.Close() })
	sessionID, readErr := r.reader.Read(out)
	stopClose()
	if readErr != nil {
		if ctx.Err() != nil {
			r.opts.logger.Debug("agent output closed on cancellation", "err", readErr)
		} else {
			r.opts.logger.Warn("agent output interrupted", "err", readErr)
			// Keep draining so the child never blocks on a full pipe.
			_, _ = io.Copy(io.Discard, out)
		}
	}

	waitErr := cmd.Wait()
	_ = out.Close()
	duration := time.Since(start)

	timedOut := errors.Is(ctx.Err(), context.DeadlineExceeded)

	exitCode := 0
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return Result{SessionID: sessionID, Duration: duration}, fmt.Errorf("wait for agent: %w", waitErr)
		}
		exitCode = exitErr.ExitCode()
	}

	r.opts.logger.Debug("agent exited",
		"exit_code", exitCode,
		"session_id", sessionID,
		"duration", duration,
		"timed_out", timedOut,
	)

	return Result{
		ExitCode:  exitCode,
		SessionID: sessionID,
		Duration:  duration,
		TimedOut:  timedOut,
	}, nil
}

// start launches cmd and returns the read end of its merged output. The
// caller closes it after cmd.Wait. Cancelling ctx kills the agent's whole
// process group, not just the agent.
func (r *Runner) start(ctx context.Context, cmd *exec.Cmd) (io.ReadCloser, error) {
	killProcessGroupOnCancel(cmd)
	cmd.WaitDelay = waitDelay

	if r.opts.transport == TransportPTY {
		// The PTY starts a new session, which is also a new process group.
		return r.opts.pty.Start(ctx, cmd, pty.DefaultSize)
	}

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	cmd.Stdout = pw
	cmd.Stderr = pw
	newProcessGroup(cmd)
	err = cmd.Start()
	_ = pw.Close()
	if err != nil {
		_ = pr.Close()
		return nil, err
	}
	return pr, nil
}

// Resolve finds the agent binary using lookPath (normally exec.LookPath).
func Resolve(binary string, lookPath func(file string) (string, error)) (string, error) {
	if lookPath == nil {
		return "", errors.New("lookPath function is required")
	}
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = DefaultBinary
	}
	path, err := lookPath(binary)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrAgentNotFound, binary)
	}
	return path, nil
}
