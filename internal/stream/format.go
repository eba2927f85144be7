package stream

import "fmt"

// Fragment is rendered display text for one event. Inline fragments are
// printed without a trailing newline so partial assistant and thinking
// chunks stream together.
type Fragment struct {
	Text   string
	Inline bool
}

// Formatter maps decoded events to display fragments. It holds no state
// between calls.
type Formatter struct {
	styles Styles
}

// NewFormatter creates a formatter using the given styles.
func NewFormatter(styles Styles) *Formatter {
	return &Formatter{styles: styles}
}

// Render returns the fragment for ev, or false when ev has nothing to show.
func (f *Formatter) Render(ev Event) (Fragment, bool) {
	switch e := ev.(type) {
	case *UserMessage:
		return block("\n" + f.styles.Label.Render("[USER]") + "\n" + e.Text), true
	case *AssistantMessage:
		if e.Text == "" {
			return Fragment{}, false
		}
		return Fragment{Text: e.Text, Inline: true}, true
	case *Thinking:
		if e.Text == "" {
			return Fragment{}, false
		}
		return Fragment{Text: RenderLines(f.styles.Muted, e.Text), Inline: true}, true
	case *Result:
		subtype := e.Subtype
		if subtype == "" {
			subtype = "?"
		}
		duration := e.DurationMS
		if duration == "" {
			duration = "0"
		}
		return block(fmt.Sprintf("\n%s %s (%sms)", f.styles.Result.Render("[RESULT]"), subtype, duration)), true
	case *ToolCall:
		switch e.Phase {
		case ToolStarted:
			return block(f.toolStarted(e.Tool)), true
		case ToolCompleted:
			return block(f.toolCompleted(e.Tool)), true
		}
		return Fragment{}, false
	}
	return Fragment{}, false
}

func (f *Formatter) toolStarted(tool Tool) string {
	var label, arg string
	switch t := tool.(type) {
	case *ShellTool:
		label, arg = "[SHELL]", t.Command
	case *ReadTool:
		label, arg = "[READ]", t.Path
	case *EditTool:
		label, arg = "[EDIT]", t.Path
	case *GrepTool:
		label, arg = "[GREP]", t.Pattern
	case *WriteTool:
		label, arg = "[WRITE]", t.Path
	case *DeleteTool:
		label, arg = "[DELETE]", t.Path
	case *OtherTool:
		label, arg = "[TOOL]", t.Key
		if arg == "" {
			arg = "?"
		}
	}
	return "\n" + f.styles.Tool.Render(label) + " " + arg
}

func (f *Formatter) toolCompleted(tool Tool) string {
	switch t := tool.(type) {
	case *ShellTool:
		if t.Succeeded {
			return f.ok("exit " + t.ExitCode)
		}
		return f.failed("failed")
	case *ReadTool:
		if t.Succeeded {
			return f.ok("read " + t.TotalLines + " lines")
		}
		return f.failed("read failed")
	case *EditTool:
		if t.Succeeded {
			return f.ok("edited")
		}
		return f.failed("edit failed")
	case *WriteTool:
		if t.Succeeded {
			return f.ok("wrote " + t.Path)
		}
		return f.failed("write failed")
	case *DeleteTool:
		if t.Succeeded {
			return f.ok("deleted")
		}
		return f.failed("delete failed")
	}
	return f.ok("done")
}

func (f *Formatter) ok(detail string) string {
	return "\n" + f.styles.Muted.Render("  "+IconSuccess+" "+detail)
}

func (f *Formatter) failed(detail string) string {
	return "\n" + f.styles.Error.Render("  "+IconFailed+" "+detail)
}

func block(text string) Fragment {
	return Fragment{Text: text}
}
