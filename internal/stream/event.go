package stream

import (
	"encoding/json"
	"errors"
	"fmt"

	"agentflow/internal/jsonutil"
)

// Kind is the discriminator carried in the "type" field of every event.
type Kind string

const (
	KindUser      Kind = "user"
	KindAssistant Kind = "assistant"
	KindToolCall  Kind = "tool_call"
	KindThinking  Kind = "thinking"
	KindResult    Kind = "result"
)

// Event is one decoded line of agent output. The concrete type is one of
// *UserMessage, *AssistantMessage, *ToolCall, *Thinking, *Result, *Unknown
// or *Malformed.
type Event interface {
	// Kind returns the event discriminator as it appeared on the wire.
	Kind() Kind
	// SessionID returns the top-level session_id field, or "".
	SessionID() string
}

type envelope struct {
	kind      Kind
	sessionID string
}

func (e envelope) Kind() Kind         { return e.kind }
func (e envelope) SessionID() string { return e.sessionID }

// UserMessage echoes the prompt the agent received.
type UserMessage struct {
	envelope
	Text string
}

// AssistantMessage is a (possibly partial) chunk of assistant text.
type AssistantMessage struct {
	envelope
	Text string
}

// Thinking is a chunk of model reasoning text.
type Thinking struct {
	envelope
	Text string
}

// Result is the terminal event of an agent run.
type Result struct {
	envelope
	Subtype    string
	DurationMS string
}

// Unknown is an event whose discriminator is not one we render.
type Unknown struct {
	envelope
}

// Malformed is an event whose discriminator is known but whose payload did
// not have the expected shape. It still carries the session id.
type Malformed struct {
	envelope
	Err error
}

// ToolPhase is the subtype of a tool_call event.
type ToolPhase string

const (
	ToolStarted   ToolPhase = "started"
	ToolCompleted ToolPhase = "completed"
)

// ToolCall reports a tool invocation starting or finishing.
type ToolCall struct {
	envelope
	CallID string
	Phase  ToolPhase
	Tool   Tool
}

// Tool is the closed set of tool variants: *ShellTool, *ReadTool, *EditTool,
// *GrepTool, *WriteTool, *DeleteTool and *OtherTool.
type Tool interface {
	// Name is the short lowercase tool name, e.g. "shell".
	Name() string
	isTool()
}

// ShellTool runs a command.
type ShellTool struct {
	Command   string
	Succeeded bool
	ExitCode  string
}

// ReadTool reads a file.
type ReadTool struct {
	Path       string
	Succeeded  bool
	TotalLines string
}

// EditTool edits a file in place.
type EditTool struct {
	Path      string
	Succeeded bool
}

// GrepTool searches for a pattern.
type GrepTool struct {
	Pattern string
}

// WriteTool writes a whole file.
type WriteTool struct {
	Path      string
	Succeeded bool
}

// DeleteTool removes a file.
type DeleteTool struct {
	Path      string
	Succeeded bool
}

// OtherTool is any variant we do not know. Key is the first key of the
// tool_call object, or "" if it was empty.
type OtherTool struct {
	Key string
}

func (*ShellTool) Name() string  { return "shell" }
func (*ReadTool) Name() string   { return "read" }
func (*EditTool) Name() string   { return "edit" }
func (*GrepTool) Name() string   { return "grep" }
func (*WriteTool) Name() string  { return "write" }
func (*DeleteTool) Name() string { return "delete" }
func (*OtherTool) Name() string  { return "other" }

func (*ShellTool) isTool()  {}
func (*ReadTool) isTool()   {}
func (*EditTool) isTool()   {}
func (*GrepTool) isTool()   {}
func (*WriteTool) isTool()  {}
func (*DeleteTool) isTool() {}
func (*OtherTool) isTool()  {}

// rawEvent is the first-pass parse of a line. Payload fields stay raw so a
// bad shape in one of them never hides the session id.
type rawEvent struct {
	Type      json.RawMessage `json:"type"`
	Subtype   json.RawMessage `json:"subtype"`
	SessionID json.RawMessage `json:"session_id"`
	CallID    json.RawMessage `json:"call_id"`
	Message   json.RawMessage `json:"message"`
	Text      json.RawMessage `json:"text"`
	ToolCall  json.RawMessage `json:"tool_call"`
	Duration  json.RawMessage `json:"duration_ms"`
}

type contentItem struct {
	Text string `json:"text"`
}

type messageBody struct {
	Content json.RawMessage `json:"content"`
}

// toolBody is the shape shared by every *ToolCall entry: args on start,
// result on completion.
type toolBody struct {
	Args   json.RawMessage `json:"args"`
	Result json.RawMessage `json:"result"`
}

type toolResult struct {
	Success json.RawMessage `json:"success"`
}

// errShape marks payloads that decoded as JSON but not into the shape the
// discriminator promises.
var errShape = errors.New("unexpected event shape")

// Decode parses one line of agent output. It returns an error only when the
// line is not a JSON object; payload problems surface as *Malformed.
func Decode(line []byte) (Event, error) {
	var raw rawEvent
	if err := jsonutil.UnmarshalObjectLine(line, &raw); err != nil {
		return nil, err
	}

	env := envelope{
		kind:      Kind(jsonutil.StringOr(raw.Type, "")),
		sessionID: jsonutil.StringOr(raw.SessionID, ""),
	}

	ev, err := decodePayload(env, &raw)
	if err != nil {
		return &Malformed{envelope: env, Err: err}, nil
	}
	return ev, nil
}

func decodePayload(env envelope, raw *rawEvent) (Event, error) {
	switch env.kind {
	case KindUser:
		items, err := decodeContent(raw.Message)
		if err != nil {
			return nil, err
		}
		text := ""
		if len(items) > 0 {
			text = items[0].Text
		}
		return &UserMessage{envelope: env, Text: text}, nil

	case KindAssistant:
		items, err := decodeContent(raw.Message)
		if err != nil {
			return nil, err
		}
		text := ""
		for _, item := range items {
			text += item.Text
		}
		return &AssistantMessage{envelope: env, Text: text}, nil

	case KindThinking:
		if jsonutil.IsNull(raw.Text) {
			return &Thinking{envelope: env}, nil
		}
		text, ok := jsonutil.String(raw.Text)
		if !ok {
			return nil, fmt.Errorf("thinking text: %w", errShape)
		}
		return &Thinking{envelope: env, Text: text}, nil

	case KindResult:
		return &Result{
			envelope:   env,
			Subtype:    jsonutil.ScalarText(raw.Subtype, ""),
			DurationMS: jsonutil.ScalarText(raw.Duration, ""),
		}, nil

	case KindToolCall:
		tool, err := decodeTool(ToolPhase(jsonutil.StringOr(raw.Subtype, "")), raw.ToolCall)
		if err != nil {
			return nil, err
		}
		return &ToolCall{
			envelope: env,
			CallID:   jsonutil.StringOr(raw.CallID, ""),
			Phase:    ToolPhase(jsonutil.StringOr(raw.Subtype, "")),
			Tool:     tool,
		}, nil

	default:
		return &Unknown{envelope: env}, nil
	}
}

// decodeContent accepts message.content as either an array of items or a
// single item object. A missing message or content yields no items.
func decodeContent(message json.RawMessage) ([]contentItem, error) {
	if jsonutil.IsNull(message) {
		return nil, nil
	}
	var body messageBody
	if err := json.Unmarshal(message, &body); err != nil {
		return nil, fmt.Errorf("message: %w", errShape)
	}
	if jsonutil.IsNull(body.Content) {
		return nil, nil
	}

	var items []contentItem
	if err := json.Unmarshal(body.Content, &items); err == nil {
		return items, nil
	}
	var single contentItem
	if err := json.Unmarshal(body.Content, &single); err != nil {
		return nil, fmt.Errorf("message content: %w", errShape)
	}
	return []contentItem{single}, nil
}

// toolKeys lists the known variants in match priority order.
var toolKeys = []string{
	"shellToolCall",
	"readToolCall",
	"editToolCall",
	"grepToolCall",
	"writeToolCall",
	"deleteToolCall",
}

func decodeTool(phase ToolPhase, raw json.RawMessage) (Tool, error) {
	if jsonutil.IsNull(raw) {
		return &OtherTool{}, nil
	}
	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("tool_call: %w", errShape)
	}

	for _, key := range toolKeys {
		entry, ok := entries[key]
		if !ok {
			continue
		}
		var body toolBody
		if err := json.Unmarshal(entry, &body); err != nil || jsonutil.IsNull(entry) {
			return nil, fmt.Errorf("tool_call.%s: %w", key, errShape)
		}
		return decodeKnownTool(key, phase, body)
	}

	keys, err := jsonutil.ObjectKeys(raw)
	if err != nil {
		return nil, fmt.Errorf("tool_call keys: %w", err)
	}
	other := &OtherTool{}
	if len(keys) > 0 {
		other.Key = keys[0]
	}
	return other, nil
}

func decodeKnownTool(key string, phase ToolPhase, body toolBody) (Tool, error) {
	args := map[string]json.RawMessage{}
	if !jsonutil.IsNull(body.Args) {
		if err := json.Unmarshal(body.Args, &args); err != nil {
			return nil, fmt.Errorf("tool_call.%s.args: %w", key, errShape)
		}
	}

	var result toolResult
	if phase == ToolCompleted && !jsonutil.IsNull(body.Result) {
		if err := json.Unmarshal(body.Result, &result); err != nil {
			return nil, fmt.Errorf("tool_call.%s.result: %w", key, errShape)
		}
	}
	succeeded := jsonutil.Truthy(result.Success)

	switch key {
	case "shellToolCall":
		tool := &ShellTool{Command: jsonutil.StringOr(args["command"], ""), Succeeded: succeeded}
		if succeeded {
			detail, err := successDetail(result.Success)
			if err != nil {
				return nil, fmt.Errorf("tool_call.%s.result: %w", key, err)
			}
			tool.ExitCode = jsonutil.ScalarText(detail["exitCode"], "")
		}
		return tool, nil
	case "readToolCall":
		tool := &ReadTool{Path: jsonutil.StringOr(args["path"], ""), Succeeded: succeeded}
		if succeeded {
			detail, err := successDetail(result.Success)
			if err != nil {
				return nil, fmt.Errorf("tool_call.%s.result: %w", key, err)
			}
			tool.TotalLines = jsonutil.ScalarText(detail["totalLines"], "0")
		}
		return tool, nil
	case "editToolCall":
		return &EditTool{Path: jsonutil.StringOr(args["path"], ""), Succeeded: succeeded}, nil
	case "grepToolCall":
		return &GrepTool{Pattern: jsonutil.StringOr(args["pattern"], "")}, nil
	case "writeToolCall":
		return &WriteTool{Path: jsonutil.StringOr(args["path"], ""), Succeeded: succeeded}, nil
	case "deleteToolCall":
		return &DeleteTool{Path: jsonutil.StringOr(args["path"], ""), Succeeded: succeeded}, nil
	}
	return nil, fmt.Errorf("tool_call.%s: %w", key, errShape)
}

func successDetail(raw json.RawMessage) (map[string]json.RawMessage, error) {
	var detail map[string]json.RawMessage
	if err := json.Unmarshal(raw, &detail); err != nil {
		return nil, errShape
	}
	return detail, nil
}
