// Package session drives the turn/session state machine on top of the agent
// runner. A Controller holds the session id observed from the agent and
// decides, per turn, whether to prepend the system prompt and which session
// to resume. It runs either a fixed list of prompts (RunBatch) or an
// interactive loop (RunDaemon).
package session

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/log"

	"agentflow/internal/agent"
	"agentflow/internal/stream"
)

// userRequestSeparator joins the system prompt and the first user prompt.
const userRequestSeparator = "\n\nUser request: "

// TurnRunner runs a single agent turn. *agent.Runner satisfies it.
type TurnRunner interface {
	Run(ctx context.Context, turn agent.Turn) (agent.Result, error)
}

// Tracer wraps each turn in a span. The returned context is handed to the
// runner.
type Tracer interface {
	StartTurn(ctx context.Context, index int, turn agent.Turn) context.Context
	EndTurn(result agent.Result, err error)
}

type noopTracer struct{}

func (noopTracer) StartTurn(ctx context.Context, _ int, _ agent.Turn) context.Context { return ctx }
func (noopTracer) EndTurn(agent.Result, error)                                        {}

// Compose builds the prompt sent to the agent. Only the first turn of a fresh
// conversation carries the system prompt.
func Compose(system, user string, turn int, sessionID string) string {
	if turn == 0 && sessionID == "" {
		return system + userRequestSeparator + user
	}
	return user
}

// Option configures a Controller.
type Option func(*Controller)

// WithResume starts the controller in an existing agent session.
func WithResume(sessionID string) Option {
	return func(c *Controller) { c.sessionID = sessionID }
}

// WithStyles sets the styles for the controller's own notices.
func WithStyles(s stream.Styles) Option {
	return func(c *Controller) { c.styles = s }
}

// WithOutput sets where banners and session notices are written.
func WithOutput(w io.Writer) Option {
	return func(c *Controller) { c.out = w }
}

// WithErrorOutput sets where failure notices are written.
func WithErrorOutput(w io.Writer) Option {
	return func(c *Controller) { c.errOut = w }
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *log.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithTracer wraps turns in spans.
func WithTracer(t Tracer) Option {
	return func(c *Controller) { c.tracer = t }
}

// Controller owns the session state across turns. It is not safe for
// concurrent use; turns are strictly sequential.
type Controller struct {
	runner       TurnRunner
	systemPrompt string

	sessionID string
	turn      int

	out    io.Writer
	errOut io.Writer
	styles stream.Styles
	logger *log.Logger
	tracer Tracer
}

// New creates a Controller that runs turns through runner.
func New(runner TurnRunner, systemPrompt string, opts ...Option) *Controller {
	c := &Controller{
		runner:       runner,
		systemPrompt: systemPrompt,
		out:          os.Stdout,
		errOut:       os.Stderr,
		styles:       stream.PlainStyles(),
		logger:       log.New(io.Discard),
		tracer:       noopTracer{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// SessionID returns the session the next turn will resume, or "" when idle.
func (c *Controller) SessionID() string {
	return c.sessionID
}

// reset drops the session so the next prompt starts a fresh conversation.
func (c *Controller) reset() {
	c.sessionID = ""
	c.turn = 0
}

// adopt records a newly observed session id. An empty observation keeps the
// current one.
func (c *Controller) adopt(sessionID string) {
	if sessionID == "" || sessionID == c.sessionID {
		return
	}
	c.logger.Debug("session changed", "from", c.sessionID, "to", sessionID)
	c.sessionID = sessionID
}

// runTurn runs one turn resuming the current session. The turn is detached
// from ctx cancellation: an interrupt ends the loop after the turn, never
// mid-turn.
func (c *Controller) runTurn(ctx context.Context, index int, prompt string) (agent.Result, error) {
	turn := agent.Turn{Prompt: prompt, ResumeID: c.sessionID}
	c.logger.Debug("turn starting", "index", index, "resume", turn.ResumeID)

	tctx := c.tracer.StartTurn(context.WithoutCancel(ctx), index, turn)
	result, err := c.runner.Run(tctx, turn)
	c.tracer.EndTurn(result, err)

	if err != nil {
		c.logger.Debug("turn failed to launch", "index", index, "err", err)
		return result, err
	}
	c.logger.Debug("turn finished",
		"index", index,
		"exit_code", result.ExitCode,
		"session_id", result.SessionID,
		"duration", result.Duration,
	)
	return result, nil
}

func (c *Controller) println(w io.Writer, s string) {
	_, _ = fmt.Fprintln(w, s)
}
