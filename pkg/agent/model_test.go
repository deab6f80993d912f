package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/llms"

	"github.com/devicelab-dev/testpilot/pkg/executor"
	"github.com/devicelab-dev/testpilot/pkg/toolpolicy"
)

// call is what the fake model saw on one GenerateContent call.
type call struct {
	system string
	tools  []string
}

// fakeModel is an llms.Model driven by a reply function.
type fakeModel struct {
	mu    sync.Mutex
	calls []call
	reply func(ctx context.Context, msgs []llms.MessageContent, offered []string) (*llms.ContentChoice, error)
}

var _ llms.Model = (*fakeModel)(nil)

func (f *fakeModel) GenerateContent(ctx context.Context, msgs []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	var opts llms.CallOptions
	for _, o := range options {
		o(&opts)
	}
	var offered []string
	for _, t := range opts.Tools {
		offered = append(offered, t.Function.Name)
	}
	system := ""
	if len(msgs) > 0 && msgs[0].Role == llms.ChatMessageTypeSystem {
		system = executor.MessageText(msgs[0])
	}

	f.mu.Lock()
	f.calls = append(f.calls, call{system: system, tools: offered})
	f.mu.Unlock()

	choice, err := f.reply(ctx, msgs, offered)
	if err != nil {
		return nil, err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{choice}}, nil
}

func (f *fakeModel) Call(context.Context, string, ...llms.CallOption) (string, error) {
	return "", fmt.Errorf("not supported")
}

func (f *fakeModel) seen() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func toolCall(name string) llms.ToolCall {
	return llms.ToolCall{
		ID:           "call_" + name,
		Type:         "function",
		FunctionCall: &llms.FunctionCall{Name: name, Arguments: "{}"},
	}
}

// cooperative behaves like a compliant model: it calls the tool the last
// instruction names (or the first offered one), then answers in text once
// the result is in. With no tools offered it reports what it sees.
func cooperative(seen string) func(context.Context, []llms.MessageContent, []string) (*llms.ContentChoice, error) {
	return func(_ context.Context, msgs []llms.MessageContent, offered []string) (*llms.ContentChoice, error) {
		last := msgs[len(msgs)-1]
		if len(offered) == 0 {
			return &llms.ContentChoice{Content: "The screen shows " + seen}, nil
		}
		if last.Role == llms.ChatMessageTypeTool {
			return &llms.ContentChoice{Content: "Preconditions met. Step done."}, nil
		}
		name := offered[0]
		text := executor.MessageText(last)
		for _, t := range offered {
			if strings.Contains(text, t) {
				name = t
				break
			}
		}
		return &llms.ContentChoice{ToolCalls: []llms.ToolCall{toolCall(name)}}, nil
	}
}

// scripted replays fixed choices and fails when it runs out.
func scripted(choices ...*llms.ContentChoice) func(context.Context, []llms.MessageContent, []string) (*llms.ContentChoice, error) {
	var mu sync.Mutex
	i := 0
	return func(context.Context, []llms.MessageContent, []string) (*llms.ContentChoice, error) {
		mu.Lock()
		defer mu.Unlock()
		if i >= len(choices) {
			return nil, fmt.Errorf("script exhausted after %d calls", i)
		}
		c := choices[i]
		i++
		return c, nil
	}
}

// deviceTools is every tool a device would expose.
func deviceTools() []llms.Tool {
	names := map[string]bool{}
	for _, g := range toolpolicy.Groups() {
		for _, t := range g.Tools {
			names[t] = true
		}
	}
	for _, t := range toolpolicy.UtilityTools() {
		names[t] = true
	}
	for _, t := range toolpolicy.SetupTools() {
		names[t] = true
	}
	sortedNames := make([]string, 0, len(names))
	for n := range names {
		sortedNames = append(sortedNames, n)
	}
	sort.Strings(sortedNames)

	out := make([]llms.Tool, len(sortedNames))
	for i, n := range sortedNames {
		out[i] = llms.Tool{Type: "function", Function: &llms.FunctionDefinition{Name: n, Description: n}}
	}
	return out
}
