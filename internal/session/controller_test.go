package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentflow/internal/agent"
)

// fakeRunner returns scripted results in order and records every turn.
type fakeRunner struct {
	results []agent.Result
	errs    []error
	turns   []agent.Turn
}

func (f *fakeRunner) Run(_ context.Context, turn agent.Turn) (agent.Result, error) {
	i := len(f.turns)
	f.turns = append(f.turns, turn)
	var res agent.Result
	if i < len(f.results) {
		res = f.results[i]
	}
	var err error
	if i < len(f.errs) {
		err = f.errs[i]
	}
	return res, err
}

func newTestController(r TurnRunner, opts ...Option) (*Controller, *bytes.Buffer, *bytes.Buffer) {
	var out, errOut bytes.Buffer
	opts = append([]Option{WithOutput(&out), WithErrorOutput(&errOut)}, opts...)
	return New(r, "SYS", opts...), &out, &errOut
}

func TestCompose(t *testing.T) {
	assert.Equal(t, "SYS\n\nUser request: hello", Compose("SYS", "hello", 0, ""))
	assert.Equal(t, "hello", Compose("SYS", "hello", 0, "s1"), "resumed session skips system prompt")
	assert.Equal(t, "hello", Compose("SYS", "hello", 1, ""), "later turns skip system prompt")
}

func TestRunBatch_ThreadsMostRecentSession(t *testing.T) {
	r := &fakeRunner{results: []agent.Result{{SessionID: "s1"}, {SessionID: "s2"}, {SessionID: "s2"}}}
	c, out, errOut := newTestController(r)

	code := c.RunBatch(context.Background(), []string{"one", "two", "three"})
	require.Equal(t, 0, code)
	require.Len(t, r.turns, 3)

	assert.Equal(t, "SYS\n\nUser request: one", r.turns[0].Prompt)
	assert.Empty(t, r.turns[0].ResumeID)
	assert.Equal(t, "two", r.turns[1].Prompt)
	assert.Equal(t, "s1", r.turns[1].ResumeID)
	assert.Equal(t, "three", r.turns[2].Prompt)
	assert.Equal(t, "s2", r.turns[2].ResumeID)

	assert.Contains(t, out.String(), "[step 1/3] one")
	assert.Contains(t, out.String(), "[step 3/3] three")
	assert.Contains(t, out.String(), "session: s2")
	assert.Equal(t, "\nDone.\n", errOut.String())
	assert.Equal(t, "s2", c.SessionID())
}

func TestRunBatch_HaltsOnFailure(t *testing.T) {
	r := &fakeRunner{results: []agent.Result{{SessionID: "s1"}, {ExitCode: 2, SessionID: "s2"}, {}}}
	c, _, errOut := newTestController(r)

	code := c.RunBatch(context.Background(), []string{"a", "b", "c"})
	assert.Equal(t, 2, code)
	assert.Len(t, r.turns, 2, "third prompt must not run")
	assert.Contains(t, errOut.String(), "Step 2 failed (exit 2)")
	assert.NotContains(t, errOut.String(), "Done.")
}

func TestRunBatch_ResumeSkipsSystemPrompt(t *testing.T) {
	r := &fakeRunner{results: []agent.Result{{SessionID: "given"}}}
	c, _, _ := newTestController(r, WithResume("given"))

	require.Equal(t, 0, c.RunBatch(context.Background(), []string{"continue"}))
	require.Len(t, r.turns, 1)
	assert.Equal(t, "continue", r.turns[0].Prompt)
	assert.Equal(t, "given", r.turns[0].ResumeID)
}

func TestRunBatch_EmptyObservationKeepsSession(t *testing.T) {
	r := &fakeRunner{results: []agent.Result{{SessionID: "s1"}, {}, {}}}
	c, _, _ := newTestController(r)

	require.Equal(t, 0, c.RunBatch(context.Background(), []string{"a", "b", "c"}))
	assert.Equal(t, "s1", r.turns[2].ResumeID)
}

func TestRunBatch_SinglePromptHasNoBanner(t *testing.T) {
	r := &fakeRunner{}
	c, out, _ := newTestController(r)

	require.Equal(t, 0, c.RunBatch(context.Background(), []string{"only"}))
	assert.NotContains(t, out.String(), "[step")
	assert.NotContains(t, out.String(), "session:", "no session observed, nothing to report")
}

func TestRunBatch_BannerTruncatesPrompt(t *testing.T) {
	long := strings.Repeat("é", 100)
	r := &fakeRunner{}
	c, out, _ := newTestController(r)

	require.Equal(t, 0, c.RunBatch(context.Background(), []string{long, "b"}))
	assert.Contains(t, out.String(), "[step 1/2] "+strings.Repeat("é", 80)+"\n")
	assert.NotContains(t, out.String(), strings.Repeat("é", 81))
}

func TestRunBatch_LaunchErrorReturnsOne(t *testing.T) {
	r := &fakeRunner{errs: []error{errors.New("exec: not found")}}
	c, _, errOut := newTestController(r)

	assert.Equal(t, 1, c.RunBatch(context.Background(), []string{"a", "b"}))
	assert.Len(t, r.turns, 1)
	assert.Contains(t, errOut.String(), "exec: not found")
}

func TestRunBatch_SignalDeathMapsToOne(t *testing.T) {
	r := &fakeRunner{results: []agent.Result{{ExitCode: -1, TimedOut: true, Duration: time.Second}}}
	c, _, errOut := newTestController(r)

	assert.Equal(t, 1, c.RunBatch(context.Background(), []string{"a"}))
	assert.Contains(t, errOut.String(), "timed out")
	assert.Contains(t, errOut.String(), "Step 1 failed (exit -1)")
}

func TestRunBatch_CancelledBeforeStep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := &fakeRunner{}
	c, _, _ := newTestController(r)

	assert.Equal(t, 130, c.RunBatch(ctx, []string{"a"}))
	assert.Empty(t, r.turns)
}

func TestRunDaemon_SessionThreadingAndCommands(t *testing.T) {
	r := &fakeRunner{results: []agent.Result{{SessionID: "d1"}, {SessionID: "d1"}}}
	c, out, _ := newTestController(r)

	input := "/session\nfirst\n\n  second  \n/session\n/quit\nnever\n"
	code := c.RunDaemon(context.Background(), strings.NewReader(input))
	require.Equal(t, 0, code)
	require.Len(t, r.turns, 2, "commands and blank lines do not run turns")

	assert.Equal(t, "SYS\n\nUser request: first", r.turns[0].Prompt)
	assert.Empty(t, r.turns[0].ResumeID)
	assert.Equal(t, "second", r.turns[1].Prompt)
	assert.Equal(t, "d1", r.turns[1].ResumeID)

	s := out.String()
	assert.Contains(t, s, "Agent daemon ready.")
	assert.Contains(t, s, "session: (none)")
	assert.Contains(t, s, "session: d1")
	assert.Contains(t, s, "Bye.")
	assert.NotContains(t, s, "Shutting down.")
}

func TestRunDaemon_ResetStartsFreshConversation(t *testing.T) {
	r := &fakeRunner{results: []agent.Result{{SessionID: "old"}, {SessionID: "new"}}}
	c, out, _ := newTestController(r)

	code := c.RunDaemon(context.Background(), strings.NewReader("hi\n/reset\nagain\n"))
	require.Equal(t, 0, code)
	require.Len(t, r.turns, 2)

	assert.Equal(t, "SYS\n\nUser request: again", r.turns[1].Prompt)
	assert.Empty(t, r.turns[1].ResumeID)
	assert.Contains(t, out.String(), "Session reset.")
	assert.Equal(t, "new", c.SessionID())
}

func TestRunDaemon_ResumedSessionSkipsSystemPrompt(t *testing.T) {
	r := &fakeRunner{}
	c, _, _ := newTestController(r, WithResume("prev"))

	c.RunDaemon(context.Background(), strings.NewReader("go on"))
	require.Len(t, r.turns, 1)
	assert.Equal(t, "go on", r.turns[0].Prompt)
	assert.Equal(t, "prev", r.turns[0].ResumeID)
}

func TestRunDaemon_NonZeroExitContinues(t *testing.T) {
	r := &fakeRunner{results: []agent.Result{{ExitCode: 4}, {SessionID: "x"}}}
	c, out, errOut := newTestController(r)

	code := c.RunDaemon(context.Background(), strings.NewReader("a\nb\n"))
	assert.Equal(t, 0, code)
	assert.Len(t, r.turns, 2)
	assert.Contains(t, errOut.String(), "Agent exited with code 4")
	assert.Contains(t, out.String(), "session: ?")
	assert.Contains(t, out.String(), "session: x")
	assert.Contains(t, out.String(), "Shutting down.", "end of input shuts down")
}

func TestRunDaemon_LaunchErrorContinues(t *testing.T) {
	r := &fakeRunner{errs: []error{errors.New("boom")}}
	c, _, errOut := newTestController(r)

	assert.Equal(t, 0, c.RunDaemon(context.Background(), strings.NewReader("a\nb\n")))
	assert.Len(t, r.turns, 2)
	assert.Contains(t, errOut.String(), "Agent failed to start: boom")
}

func TestRunDaemon_CommandsAreCaseSensitive(t *testing.T) {
	r := &fakeRunner{}
	c, _, _ := newTestController(r)

	c.RunDaemon(context.Background(), strings.NewReader("/QUIT\n"))
	require.Len(t, r.turns, 1)
	assert.Contains(t, r.turns[0].Prompt, "/QUIT")
}

func TestRunDaemon_CancelWhileWaitingForInput(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	r := &fakeRunner{}
	c, out, _ := newTestController(r)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int, 1)
	go func() { done <- c.RunDaemon(ctx, pr) }()

	cancel()
	select {
	case code := <-done:
		assert.Equal(t, 0, code)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop on cancel")
	}
	assert.Empty(t, r.turns)
	assert.Contains(t, out.String(), "Shutting down.")
}

// blockingRunner blocks until released and reports whether its context was
// cancelled while it ran.
type blockingRunner struct {
	started  chan struct{}
	release  chan struct{}
	ctxAlive bool
}

func (b *blockingRunner) Run(ctx context.Context, _ agent.Turn) (agent.Result, error) {
	close(b.started)
	<-b.release
	b.ctxAlive = ctx.Err() == nil
	return agent.Result{SessionID: "kept"}, nil
}

func TestRunDaemon_InterruptDoesNotCancelRunningTurn(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	r := &blockingRunner{started: make(chan struct{}), release: make(chan struct{})}
	c, _, _ := newTestController(r)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan int, 1)
	go func() { done <- c.RunDaemon(ctx, pr) }()

	go func() { _, _ = pw.Write([]byte("work\n")) }()
	<-r.started
	cancel()
	close(r.release)

	select {
	case code := <-done:
		assert.Equal(t, 0, code)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop after the turn")
	}
	assert.True(t, r.ctxAlive, "turn context must survive the interrupt")
	assert.Equal(t, "kept", c.SessionID())
}

// cancellingRunner cancels the daemon's context from inside a turn, as an
// interrupt during a running turn does.
type cancellingRunner struct {
	cancel context.CancelFunc
	turns  int
}

func (c *cancellingRunner) Run(context.Context, agent.Turn) (agent.Result, error) {
	c.turns++
	c.cancel()
	return agent.Result{SessionID: "s1"}, nil
}

func TestRunDaemon_InterruptDuringTurnWinsOverQueuedInput(t *testing.T) {
	// Repeat to cover the random choice a bare select would make.
	for i := 0; i < 50; i++ {
		ctx, cancel := context.WithCancel(context.Background())
		r := &cancellingRunner{cancel: cancel}
		c, out, _ := newTestController(r)

		code := c.RunDaemon(ctx, strings.NewReader("first\nsecond\nthird\n"))
		cancel()

		require.Equal(t, 0, code)
		require.Equal(t, 1, r.turns, "no turn may start after an interrupt")
		assert.Contains(t, out.String(), "Shutting down.")
	}
}

type recordingTracer struct {
	started []int
	ended   []agent.Result
}

func (r *recordingTracer) StartTurn(ctx context.Context, index int, _ agent.Turn) context.Context {
	r.started = append(r.started, index)
	return ctx
}

func (r *recordingTracer) EndTurn(res agent.Result, _ error) {
	r.ended = append(r.ended, res)
}

func TestController_TracesEachTurn(t *testing.T) {
	r := &fakeRunner{results: []agent.Result{{SessionID: "a"}, {SessionID: "b"}}}
	tr := &recordingTracer{}
	c, _, _ := newTestController(r, WithTracer(tr))

	require.Equal(t, 0, c.RunBatch(context.Background(), []string{"1", "2"}))
	assert.Equal(t, []int{0, 1}, tr.started)
	require.Len(t, tr.ended, 2)
	assert.Equal(t, "b", tr.ended[1].SessionID)
}
