// Package logging builds the diagnostic logger. Agent output never goes
// through it; it reports what agentflow itself is doing.
package logging

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// DefaultLevel keeps diagnostics quiet unless something goes wrong.
const DefaultLevel = log.WarnLevel

// Option configures logger creation.
type Option func(*newOptions)

type newOptions struct {
	runID  string
	level  log.Level
	prefix string
}

// WithRunID sets the run_id field on every record. Without it a random id is
// generated.
func WithRunID(runID string) Option {
	return func(opts *newOptions) {
		opts.runID = strings.TrimSpace(runID)
	}
}

// WithLevel sets the minimum level that is written.
func WithLevel(level log.Level) Option {
	return func(opts *newOptions) {
		opts.level = level
	}
}

// WithPrefix sets the prefix printed before each message.
func WithPrefix(prefix string) Option {
	return func(opts *newOptions) {
		opts.prefix = prefix
	}
}

// New returns a text logger writing to w with a run_id field attached.
func New(w io.Writer, options ...Option) *log.Logger {
	resolved := resolveOptions(options)

	logger := log.NewWithOptions(w, log.Options{
		Level:           resolved.level,
		Prefix:          resolved.prefix,
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
	})
	return logger.With("run_id", resolved.runID)
}

// ParseLevel converts a level name ("debug", "info", "warn", "error") into a
// log.Level. Empty means DefaultLevel.
func ParseLevel(s string) (log.Level, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return DefaultLevel, nil
	}
	level, err := log.ParseLevel(strings.ToLower(s))
	if err != nil {
		return DefaultLevel, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

// NewRunID returns a short random id for correlating one invocation's logs.
func NewRunID() string {
	return uuid.New().String()[:8]
}

func resolveOptions(options []Option) newOptions {
	resolved := newOptions{level: DefaultLevel, prefix: "agentflow"}
	for _, option := range options {
		if option == nil {
			continue
		}
		option(&resolved)
	}
	if resolved.runID == "" {
		resolved.runID = NewRunID()
	}
	return resolved
}
