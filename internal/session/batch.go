package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"agentflow/internal/stream"
)

const (
	bannerWidth     = 60
	bannerPromptMax = 80
)

// RunBatch runs prompts in order, threading the session id from each turn
// into the next. It stops at the first turn that exits non-zero and returns
// that exit code. A turn that cannot be launched returns 1.
func (c *Controller) RunBatch(ctx context.Context, prompts []string) int {
	n := len(prompts)
	for i, user := range prompts {
		if err := ctx.Err(); err != nil {
			c.println(c.errOut, "\n"+c.styles.Warning.Render(fmt.Sprintf("Interrupted before step %d.", i+1)))
			return 130
		}
		if n > 1 {
			c.printStepBanner(i, n, user)
		}

		prompt := Compose(c.systemPrompt, user, i, c.sessionID)
		result, err := c.runTurn(ctx, i, prompt)
		if err != nil {
			c.println(c.errOut, "\n"+c.styles.Error.Render(fmt.Sprintf("Step %d failed: %v", i+1, err)))
			return 1
		}
		if result.ExitCode != 0 {
			if result.TimedOut {
				c.println(c.errOut, "\n"+c.styles.Warning.Render(fmt.Sprintf("Step %d timed out after %s", i+1, result.Duration.Round(time.Millisecond))))
			}
			c.println(c.errOut, "\n"+c.styles.Error.Render(fmt.Sprintf("Step %d failed (exit %d)", i+1, result.ExitCode)))
			return processExitCode(result.ExitCode)
		}

		c.adopt(result.SessionID)
		if c.sessionID != "" {
			c.println(c.out, "\n"+c.styles.Muted.Render("session: "+c.sessionID))
		}
	}

	c.println(c.errOut, "\nDone.")
	return 0
}

func (c *Controller) printStepBanner(i, n int, prompt string) {
	rule := strings.Repeat("=", bannerWidth)
	text := fmt.Sprintf("%s\n  [step %d/%d] %s\n%s", rule, i+1, n, truncate(prompt, bannerPromptMax), rule)
	c.println(c.out, "\n"+stream.RenderLines(c.styles.Label, text))
}

// truncate returns the first max runes of s.
func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

// processExitCode maps an agent exit code onto one the process can return.
// Signal deaths report -1.
func processExitCode(code int) int {
	if code < 0 || code > 255 {
		return 1
	}
	return code
}
