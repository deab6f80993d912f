package agent

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/charmbracelet/log"
	"github.com/tmc/langchaingo/llms"

	"github.com/devicelab-dev/testpilot/pkg/executor"
)

const (
	// resultPreviewLen caps the tool output written to the operation log.
	resultPreviewLen = 200
	// screenshotWindow is how many trailing messages the screenshot hint
	// looks at.
	screenshotWindow = 8
)

// screenshotTools return images rather than text the model can search.
var screenshotTools = map[string]bool{
	"mobile_take_screenshot":      true,
	"mobile_screenshot_with_som":  true,
	"mobile_screenshot_with_grid": true,
}

const screenshotHint = "You have taken several screenshots in a row. Prefer mobile_list_elements " +
	"to read the page as text, and only take a screenshot when the element list cannot tell you the page state."

// Middleware tunes what the runner does around tool calls and model calls.
// The zero value disables all of it.
type Middleware struct {
	// ToolRetries re-runs a tool whose result reads like a failure up to
	// this many extra times.
	ToolRetries int
	RetryDelay  time.Duration
	// LogToolCalls writes each tool call with its arguments, a result
	// preview and the elapsed time to the run log.
	LogToolCalls bool
	// ScreenshotHintAfter asks the model to prefer mobile_list_elements once
	// this many screenshot results sit in the last few messages.
	ScreenshotHintAfter int
}

// DefaultMiddleware is what a run uses when the configuration says nothing.
func DefaultMiddleware() Middleware {
	return Middleware{
		ToolRetries:         2,
		RetryDelay:          time.Second,
		LogToolCalls:        true,
		ScreenshotHintAfter: 2,
	}
}

// errToolOutput marks a tool result that reads like a failure.
var errToolOutput = errors.New("tool output reports a failure")

// execTool runs one tool call through the retry and operation-log wrappers
// and returns the text the model will see.
func (r *Runner) execTool(ctx context.Context, log *log.Logger, name, args string) string {
	start := time.Now()
	attempts := 0
	var out string
	op := func() (string, error) {
		attempts++
		result, err := r.Tools.Execute(ctx, name, args)
		if err != nil {
			out = "error: " + err.Error()
		} else {
			out = result
		}
		if !executor.IsErrorText(out) {
			return out, nil
		}
		// A tool the device cannot perform fails the same way every time.
		if errors.Is(err, errors.ErrUnsupported) {
			return out, backoff.Permanent(errToolOutput)
		}
		return out, errToolOutput
	}

	maxTries := r.Middleware.ToolRetries + 1
	if maxTries < 1 {
		maxTries = 1
	}
	_, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(r.Middleware.RetryDelay)),
		backoff.WithMaxTries(uint(maxTries)),
		backoff.WithNotify(func(_ error, next time.Duration) {
			log.Warn("tool failed, retrying", "tool", name, "attempt", attempts, "of", maxTries, "delay", next)
		}),
	)
	if err != nil && maxTries > 1 && attempts == maxTries {
		log.Error("tool still failing", "tool", name, "attempts", attempts, "result", preview(out))
	}

	if r.Middleware.LogToolCalls {
		log.Info("tool call", "tool", name, "args", args, "attempts", attempts, "result", preview(out),
			"elapsed", time.Since(start).Round(time.Millisecond))
	}
	return out
}

// screenshotHeavy reports whether the recent history has enough screenshot
// results to warrant the hint.
func (r *Runner) screenshotHeavy(messages []llms.MessageContent) bool {
	limit := r.Middleware.ScreenshotHintAfter
	if limit <= 0 {
		return false
	}
	if len(messages) > screenshotWindow {
		messages = messages[len(messages)-screenshotWindow:]
	}
	n := 0
	for _, m := range messages {
		if m.Role != llms.ChatMessageTypeTool {
			continue
		}
		for _, p := range m.Parts {
			if resp, ok := p.(llms.ToolCallResponse); ok && screenshotTools[resp.Name] {
				n++
			}
		}
	}
	return n >= limit
}

func preview(s string) string {
	r := []rune(s)
	if len(r) <= resultPreviewLen {
		return s
	}
	return string(r[:resultPreviewLen]) + "..."
}
