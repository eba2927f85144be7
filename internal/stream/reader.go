package stream

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/log"
)

// ToolObserver receives every decoded tool_call event in stream order.
type ToolObserver interface {
	ObserveTool(call *ToolCall)
}

// Reader consumes the agent's combined output line by line, prints each line
// (formatted or raw) as soon as it arrives, and remembers the first session
// id it sees.
type Reader struct {
	out       io.Writer
	format    bool
	formatter *Formatter
	observer  ToolObserver
	logger    *log.Logger
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithRawOutput disables formatting; every line is printed verbatim.
func WithRawOutput() ReaderOption {
	return func(r *Reader) { r.format = false }
}

// WithStyles sets the styles used by the formatter.
func WithStyles(styles Styles) ReaderOption {
	return func(r *Reader) { r.formatter = NewFormatter(styles) }
}

// WithToolObserver registers an observer for tool_call events.
func WithToolObserver(o ToolObserver) ReaderOption {
	return func(r *Reader) { r.observer = o }
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *log.Logger) ReaderOption {
	return func(r *Reader) { r.logger = l }
}

// NewReader creates a Reader that prints to out. Formatting is on by default.
func NewReader(out io.Writer, opts ...ReaderOption) *Reader {
	r := &Reader{
		out:       out,
		format:    true,
		formatter: NewFormatter(PlainStyles()),
		logger:    log.New(io.Discard),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Read drains src until EOF and returns the first non-empty session id seen.
// Lines that fail to decode are printed as-is and never stop the stream.
func (r *Reader) Read(src io.Reader) (string, error) {
	br := bufio.NewReader(src)
	sessionID := ""

	for {
		line, err := br.ReadString('\n')
		if line != "" {
			r.handleLine(strings.TrimRight(line, "\r\n"), &sessionID)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return sessionID, nil
			}
			return sessionID, fmt.Errorf("read agent output: %w", err)
		}
	}
}

func (r *Reader) handleLine(line string, sessionID *string) {
	if line == "" {
		return
	}

	ev, err := Decode([]byte(line))
	if err != nil {
		writeln(r.out, line)
		return
	}

	if *sessionID == "" && ev.SessionID() != "" {
		*sessionID = ev.SessionID()
		r.logger.Debug("session observed", "session_id", *sessionID)
	}

	if call, ok := ev.(*ToolCall); ok && r.observer != nil {
		r.observer.ObserveTool(call)
	}
	r.logUnrendered(ev)

	if !r.format {
		writeln(r.out, line)
		return
	}

	frag, ok := r.formatter.Render(ev)
	if !ok {
		return
	}
	if frag.Inline {
		write(r.out, frag.Text)
		return
	}
	writeln(r.out, frag.Text)
}

func (r *Reader) logUnrendered(ev Event) {
	switch e := ev.(type) {
	case *Unknown:
		r.logger.Debug("unknown event type", "type", string(e.Kind()))
	case *Malformed:
		r.logger.Debug("malformed event", "type", string(e.Kind()), "err", e.Err)
	case *ToolCall:
		if other, ok := e.Tool.(*OtherTool); ok {
			r.logger.Debug("unknown tool variant", "key", other.Key, "phase", string(e.Phase))
		}
	}
}

// write and writeln ignore errors: a closed terminal must not stop the
// agent's output from being drained.
func write(w io.Writer, s string) {
	_, _ = io.WriteString(w, s)
}

func writeln(w io.Writer, s string) {
	_, _ = io.WriteString(w, s+"\n")
}
