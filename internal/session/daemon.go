package session

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Daemon commands, matched against the whole trimmed input line.
const (
	CmdQuit    = "/quit"
	CmdSession = "/session"
	CmdReset   = "/reset"
)

// RunDaemon reads prompts from in, one per line, and runs each as a turn in
// the current session. It returns 0 on /quit, end of input, or when ctx is
// cancelled while waiting for input.
func (c *Controller) RunDaemon(ctx context.Context, in io.Reader) int {
	c.println(c.out, "\n"+c.styles.Label.Render("Agent daemon ready. Type a prompt and press Enter."))
	c.println(c.out, c.styles.Muted.Render(fmt.Sprintf("Commands:  %s  %s  %s", CmdQuit, CmdSession, CmdReset))+"\n")

	readCtx, stopReading := context.WithCancel(ctx)
	defer stopReading()
	lines := readLines(readCtx, in, c)

	for {
		// select picks randomly when input is also ready; an interrupt that
		// arrived during the last turn must win.
		if ctx.Err() != nil {
			c.println(c.out, "\n"+c.styles.Muted.Render("Shutting down."))
			return 0
		}
		_, _ = fmt.Fprint(c.out, c.styles.Label.Render("> "))

		var line string
		select {
		case <-ctx.Done():
			c.println(c.out, "\n"+c.styles.Muted.Render("Shutting down."))
			return 0
		case l, ok := <-lines:
			if !ok {
				c.println(c.out, "\n"+c.styles.Muted.Render("Shutting down."))
				return 0
			}
			line = l
		}

		input := strings.TrimSpace(line)
		switch input {
		case "":
			continue
		case CmdQuit:
			c.println(c.out, c.styles.Muted.Render("Bye."))
			return 0
		case CmdSession:
			id := c.sessionID
			if id == "" {
				id = "(none)"
			}
			c.println(c.out, c.styles.Muted.Render("session: "+id))
			continue
		case CmdReset:
			c.reset()
			c.println(c.out, c.styles.Warning.Render("Session reset. Next prompt starts a fresh agent."))
			continue
		}

		c.runDaemonTurn(ctx, input)
	}
}

func (c *Controller) runDaemonTurn(ctx context.Context, input string) {
	index := c.turn
	prompt := Compose(c.systemPrompt, input, index, c.sessionID)
	c.turn++

	result, err := c.runTurn(ctx, index, prompt)
	if err != nil {
		c.println(c.errOut, "\n"+c.styles.Error.Render(fmt.Sprintf("Agent failed to start: %v", err)))
	} else {
		c.adopt(result.SessionID)
		if result.TimedOut {
			c.println(c.errOut, "\n"+c.styles.Warning.Render(fmt.Sprintf("Turn timed out after %s", result.Duration.Round(time.Millisecond))))
		}
		if result.ExitCode != 0 {
			c.println(c.errOut, "\n"+c.styles.Error.Render(fmt.Sprintf("Agent exited with code %d", result.ExitCode)))
		}
	}

	id := c.sessionID
	if id == "" {
		id = "?"
	}
	c.println(c.out, "\n"+c.styles.Muted.Render("session: "+id)+"\n")
}

// readLines feeds lines from in to the returned channel until end of input
// or ctx is done. The channel is closed when reading stops. A final line
// without a newline is still delivered.
func readLines(ctx context.Context, in io.Reader, c *Controller) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		r := bufio.NewReader(in)
		for {
			line, err := r.ReadString('\n')
			if line != "" {
				select {
				case ch <- line:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					c.logger.Warn("reading input", "err", err)
				}
				return
			}
		}
	}()
	return ch
}
