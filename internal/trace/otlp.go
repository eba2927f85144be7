// Package trace exports one span per agent turn, with a child span per tool
// call, over OTLP/HTTP. Tracing is off unless OTEL_EXPORTER_OTLP_ENDPOINT is
// set; a disabled Tracer is a no-op.
package trace

import (
	"context"
	"os"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"agentflow/internal/agent"
	"agentflow/internal/stream"
)

const (
	instrumentationName = "agentflow/session"
	defaultServiceName  = "agentflow"

	spanTurn = "agentflow.turn"
	spanTool = "agentflow.tool"
)

// Attribute keys.
const (
	attrTurnIndex = attribute.Key("agentflow.turn.index")
	attrResumed   = attribute.Key("agentflow.turn.resumed")
	attrSessionID = attribute.Key("agentflow.session.id")
	attrExitCode  = attribute.Key("agentflow.exit_code")
	attrTimedOut  = attribute.Key("agentflow.timed_out")
	attrToolName  = attribute.Key("agentflow.tool.name")
	attrToolArg   = attribute.Key("agentflow.tool.argument")
	attrCallID    = attribute.Key("agentflow.tool.call_id")
	attrSuccess   = attribute.Key("agentflow.tool.success")
)

// Tracer turns session events into spans. Turns are sequential, so it tracks
// at most one open turn span at a time.
type Tracer struct {
	provider *sdktrace.TracerProvider // nil unless New exported over OTLP
	tracer   oteltrace.Tracer
	enabled  bool

	mu      sync.Mutex
	turnCtx context.Context
	turn    oteltrace.Span
	tools   map[string]oteltrace.Span
}

// New creates a Tracer exporting to OTEL_EXPORTER_OTLP_ENDPOINT. When the
// variable is unset the returned Tracer records nothing.
func New(ctx context.Context) (*Tracer, error) {
	endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if endpoint == "" {
		return NewWithProvider(noop.NewTracerProvider(), false), nil
	}

	var opts []otlptracehttp.Option
	if strings.Contains(endpoint, "://") {
		opts = append(opts, otlptracehttp.WithEndpointURL(endpoint))
	} else {
		opts = append(opts, otlptracehttp.WithEndpoint(endpoint), otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, err
	}

	serviceName := os.Getenv("OTEL_SERVICE_NAME")
	if serviceName == "" {
		serviceName = defaultServiceName
	}

	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String(serviceName),
	)

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	t := NewWithProvider(provider, true)
	t.provider = provider
	return t, nil
}

// NewWithProvider creates a Tracer on an existing provider.
func NewWithProvider(p oteltrace.TracerProvider, enabled bool) *Tracer {
	return &Tracer{
		tracer:  p.Tracer(instrumentationName),
		enabled: enabled,
		tools:   make(map[string]oteltrace.Span),
	}
}

// Enabled reports whether spans are being exported.
func (t *Tracer) Enabled() bool {
	return t != nil && t.enabled
}

// StartTurn opens the span for one turn and returns a context carrying it.
func (t *Tracer) StartTurn(ctx context.Context, index int, turn agent.Turn) context.Context {
	t.mu.Lock()
	defer t.mu.Unlock()

	ctx, span := t.tracer.Start(ctx, spanTurn,
		oteltrace.WithAttributes(
			attrTurnIndex.Int(index),
			attrResumed.Bool(turn.ResumeID != ""),
			attrSessionID.String(turn.ResumeID),
		),
	)
	t.turnCtx = ctx
	t.turn = span
	return ctx
}

// EndTurn closes the current turn span and any tool spans left open.
func (t *Tracer) EndTurn(result agent.Result, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.turn == nil {
		return
	}
	for id, span := range t.tools {
		span.SetStatus(codes.Error, "turn ended before tool completed")
		span.End()
		delete(t.tools, id)
	}

	t.turn.SetAttributes(
		attrExitCode.Int(result.ExitCode),
		attrTimedOut.Bool(result.TimedOut),
	)
	if result.SessionID != "" {
		t.turn.SetAttributes(attrSessionID.String(result.SessionID))
	}
	switch {
	case err != nil:
		t.turn.RecordError(err)
		t.turn.SetStatus(codes.Error, err.Error())
	case result.ExitCode != 0:
		t.turn.SetStatus(codes.Error, "agent exited non-zero")
	default:
		t.turn.SetStatus(codes.Ok, "")
	}
	t.turn.End()
	t.turn = nil
	t.turnCtx = nil
}

// ObserveTool implements stream.ToolObserver. A started event opens a child
// span of the current turn; the matching completed event closes it.
func (t *Tracer) ObserveTool(call *stream.ToolCall) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.turn == nil || call == nil || call.Tool == nil {
		return
	}
	key := call.CallID
	if key == "" {
		key = call.Tool.Name()
	}

	switch call.Phase {
	case stream.ToolStarted:
		if old, ok := t.tools[key]; ok {
			old.End()
		}
		_, span := t.tracer.Start(t.turnCtx, spanTool,
			oteltrace.WithAttributes(
				attrToolName.String(toolName(call.Tool)),
				attrToolArg.String(toolArgument(call.Tool)),
				attrCallID.String(call.CallID),
			),
		)
		t.tools[key] = span

	case stream.ToolCompleted:
		span, ok := t.tools[key]
		if !ok {
			return
		}
		delete(t.tools, key)
		success := toolSucceeded(call.Tool)
		span.SetAttributes(attrSuccess.Bool(success))
		if !success {
			span.SetStatus(codes.Error, call.Tool.Name()+" failed")
		}
		span.End()
	}
}

// Shutdown flushes and closes the exporter.
func (t *Tracer) Shutdown(ctx context.Context) error {
	if t == nil || t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}

func toolName(tool stream.Tool) string {
	if other, ok := tool.(*stream.OtherTool); ok && other.Key != "" {
		return other.Key
	}
	return tool.Name()
}

func toolArgument(tool stream.Tool) string {
	switch v := tool.(type) {
	case *stream.ShellTool:
		return v.Command
	case *stream.ReadTool:
		return v.Path
	case *stream.EditTool:
		return v.Path
	case *stream.GrepTool:
		return v.Pattern
	case *stream.WriteTool:
		return v.Path
	case *stream.DeleteTool:
		return v.Path
	}
	return ""
}

func toolSucceeded(tool stream.Tool) bool {
	switch v := tool.(type) {
	case *stream.ShellTool:
		return v.Succeeded
	case *stream.ReadTool:
		return v.Succeeded
	case *stream.EditTool:
		return v.Succeeded
	case *stream.WriteTool:
		return v.Succeeded
	case *stream.DeleteTool:
		return v.Succeeded
	}
	return true
}
