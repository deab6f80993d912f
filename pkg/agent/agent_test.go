package agent

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"go.uber.org/mock/gomock"

	"github.com/devicelab-dev/testpilot/pkg/core"
	"github.com/devicelab-dev/testpilot/pkg/executor"
	"github.com/devicelab-dev/testpilot/pkg/report"
	"github.com/devicelab-dev/testpilot/pkg/testcase"
	"github.com/devicelab-dev/testpilot/pkg/toolpolicy"
)

const loginCase = "测试任务名称：登录\n" +
	"前置条件：App已安装\n" +
	"1. 点击我的\n" +
	"2. 等待2秒\n" +
	"验证点：\"登录\"\n" +
	"com.example.app"

func TestRun_Pass(t *testing.T) {
	ctrl := gomock.NewController(t)
	tools := NewMockToolExecutor(ctrl)
	gomock.InOrder(
		tools.EXPECT().Execute(gomock.Any(), "mobile_list_apps", "{}").Return("com.example.app", nil),
		tools.EXPECT().Execute(gomock.Any(), "mobile_click_by_text", gomock.Any()).Return("clicked 我的", nil),
		tools.EXPECT().Execute(gomock.Any(), "mobile_wait", gomock.Any()).Return("waited 2s", nil),
	)

	model := &fakeModel{reply: cooperative("登录")}
	r := &Runner{Model: model, Tools: tools, Available: deviceTools(), ModelName: "fake", Version: "test"}

	res, err := r.Run(context.Background(), testcase.Parse(loginCase))
	require.NoError(t, err)
	assert.True(t, res.Passed())
	assert.Equal(t, core.PhaseCompleted, res.State.Phase)
	assert.Equal(t, 7, res.Turns)
	assert.Len(t, res.RunID, 36)
	assert.Contains(t, res.Text, "**Status:** PASS")
	assert.Contains(t, res.Text, "**Passed steps:** 2/2")

	rep := res.Report()
	assert.Equal(t, report.StatusPassed, rep.Status)
	assert.Equal(t, res.RunID, rep.RunID)
	assert.Equal(t, "fake", rep.Runner.Model)
	assert.Equal(t, 2, rep.Summary.Passed)
	require.NotNil(t, rep.Duration)

	calls := model.seen()
	require.Len(t, calls, 7)
	assert.Equal(t, toolpolicy.SetupTools(), calls[0].tools)
	assert.Contains(t, calls[0].system, "# Current instruction")
	assert.Contains(t, calls[0].system, "mobile test execution agent")
	assert.Equal(t, []string{"mobile_wait"}, calls[4].tools)
	assert.Empty(t, calls[6].tools)
}

func TestRun_ToolErrorFallsBack(t *testing.T) {
	ctrl := gomock.NewController(t)
	tools := NewMockToolExecutor(ctrl)
	tools.EXPECT().Execute(gomock.Any(), "mobile_list_apps", gomock.Any()).Return("com.example.app", nil)
	tools.EXPECT().Execute(gomock.Any(), "mobile_click_by_text", gomock.Any()).Return("", errors.New("element not found"))
	tools.EXPECT().Execute(gomock.Any(), "mobile_click_by_som", gomock.Any()).Return("tapped mark 3", nil)
	tools.EXPECT().Execute(gomock.Any(), "mobile_wait", gomock.Any()).Return("waited", nil)

	model := &fakeModel{reply: cooperative("登录")}
	r := &Runner{Model: model, Tools: tools, Available: deviceTools()}

	res, err := r.Run(context.Background(), testcase.Parse(loginCase))
	require.NoError(t, err)
	assert.True(t, res.Passed())

	var errResult string
	for _, m := range res.Messages {
		if m.Role == llms.ChatMessageTypeTool && executor.IsErrorText(executor.MessageText(m)) {
			errResult = executor.MessageText(m)
		}
	}
	assert.Equal(t, "error: element not found", errResult)

	var somOffered bool
	for _, c := range model.seen() {
		for _, name := range c.tools {
			if name == "mobile_click_by_som" {
				somOffered = true
				assert.NotContains(t, c.tools, "mobile_click_by_text")
			}
		}
	}
	assert.True(t, somOffered)
}

func TestRun_OnlyFirstToolCallRuns(t *testing.T) {
	ctrl := gomock.NewController(t)
	tools := NewMockToolExecutor(ctrl)
	tools.EXPECT().Execute(gomock.Any(), "mobile_list_apps", gomock.Any()).Return("apps", nil).Times(1)

	model := &fakeModel{reply: scripted(
		&llms.ContentChoice{ToolCalls: []llms.ToolCall{toolCall("mobile_list_apps"), toolCall("mobile_list_devices")}},
	)}
	r := &Runner{Model: model, Tools: tools, Available: deviceTools(), MaxTurns: 1}

	res, err := r.Run(context.Background(), testcase.Parse(loginCase))
	assert.ErrorIs(t, err, ErrTurnLimit)
	require.NotNil(t, res)

	// human, model, one tool result
	require.Len(t, res.Messages, 3)
	assert.Len(t, executor.ToolCalls(res.Messages[1]), 1)
	assert.Equal(t, "apps", executor.MessageText(res.Messages[2]))
	assert.Equal(t, core.PhaseSetup, res.State.Phase)
}

func TestRun_ToolNotOfferedIsRefused(t *testing.T) {
	ctrl := gomock.NewController(t)
	tools := NewMockToolExecutor(ctrl) // no calls expected

	model := &fakeModel{reply: scripted(
		&llms.ContentChoice{ToolCalls: []llms.ToolCall{toolCall("mobile_click_by_text")}},
	)}
	r := &Runner{Model: model, Tools: tools, Available: deviceTools(), MaxTurns: 1}

	res, err := r.Run(context.Background(), testcase.Parse(loginCase))
	assert.ErrorIs(t, err, ErrTurnLimit)
	assert.Contains(t, executor.MessageText(res.Messages[len(res.Messages)-1]), "not available")
}

func TestRun_ModelError(t *testing.T) {
	ctrl := gomock.NewController(t)
	boom := errors.New("rate limited")
	model := &fakeModel{reply: func(context.Context, []llms.MessageContent, []string) (*llms.ContentChoice, error) {
		return nil, boom
	}}
	r := &Runner{Model: model, Tools: NewMockToolExecutor(ctrl)}

	res, err := r.Run(context.Background(), testcase.Parse(loginCase))
	assert.ErrorIs(t, err, boom)
	require.NotNil(t, res)
	assert.Contains(t, res.Text, "FAIL")
}

func TestRun_RequiresModelAndTools(t *testing.T) {
	_, err := (&Runner{}).Run(context.Background(), testcase.Parse(""))
	assert.Error(t, err)
}

func TestRun_PreconditionFailureEndsRun(t *testing.T) {
	ctrl := gomock.NewController(t)
	tools := NewMockToolExecutor(ctrl)
	tools.EXPECT().Execute(gomock.Any(), gomock.Any(), gomock.Any()).Return("device list empty", nil)

	model := &fakeModel{reply: scripted(
		&llms.ContentChoice{ToolCalls: []llms.ToolCall{toolCall("mobile_list_devices")}},
		&llms.ContentChoice{Content: "Preconditions not met: no device connected"},
	)}
	r := &Runner{Model: model, Tools: tools, Available: deviceTools()}

	res, err := r.Run(context.Background(), testcase.Parse(loginCase))
	require.NoError(t, err)
	assert.Equal(t, core.PhaseFailed, res.State.Phase)
	assert.Equal(t, 2, res.Turns)
	assert.Contains(t, res.Text, "[FAIL] Preconditions")
	assert.True(t, errors.Is(res.State.Failure, core.ErrPreconditionUnmet))
}

// blockingModel waits for cancellation on every call.
func blockingModel(started chan<- struct{}) *fakeModel {
	return &fakeModel{reply: func(ctx context.Context, _ []llms.MessageContent, _ []string) (*llms.ContentChoice, error) {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}}
}

func TestStart_CancelIsPerRun(t *testing.T) {
	ctrl := gomock.NewController(t)
	tools := NewMockToolExecutor(ctrl)
	tools.EXPECT().Execute(gomock.Any(), gomock.Any(), gomock.Any()).Return("ok", nil).AnyTimes()

	started := make(chan struct{}, 1)
	blocked := &Runner{Model: blockingModel(started), Tools: tools}
	free := &Runner{Model: &fakeModel{reply: cooperative("登录")}, Tools: tools, Available: deviceTools()}

	h1 := blocked.Start(context.Background(), testcase.Parse(loginCase))
	h2 := free.Start(context.Background(), testcase.Parse(loginCase))
	assert.NotEqual(t, h1.ID, h2.ID)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("model was never called")
	}
	h1.Cancel()

	res1, err1 := h1.Wait()
	assert.ErrorIs(t, err1, context.Canceled)
	require.NotNil(t, res1)
	assert.Equal(t, h1.ID, res1.RunID)
	assert.Equal(t, core.PhaseSetup, res1.State.Phase)

	res2, err2 := h2.Wait()
	require.NoError(t, err2)
	assert.True(t, res2.Passed())

	select {
	case <-h1.Done():
	default:
		t.Error("Done not closed after Wait")
	}
}

func TestStart_CancelledParentStopsBeforeFirstTurn(t *testing.T) {
	ctrl := gomock.NewController(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	model := &fakeModel{reply: cooperative("x")}
	h := (&Runner{Model: model, Tools: NewMockToolExecutor(ctrl)}).Start(ctx, testcase.Parse(loginCase))
	res, err := h.Wait()
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, res.Turns)
	assert.Empty(t, model.seen())
}

func TestRunBatch(t *testing.T) {
	ctrl := gomock.NewController(t)
	var cleaned atomic.Int32

	workers := make([]Worker, 2)
	for i := range workers {
		tools := NewMockToolExecutor(ctrl)
		tools.EXPECT().Execute(gomock.Any(), gomock.Any(), gomock.Any()).Return("ok", nil).AnyTimes()
		workers[i] = Worker{ID: i, Serial: "emulator", Tools: tools, Cleanup: func() { cleaned.Add(1) }}
	}
	cases := []*testcase.TestCase{
		testcase.Parse(loginCase),
		testcase.Parse("1. 返回\n验证点：\"登录\""),
		testcase.Parse("1. 等待1秒"),
	}

	r := &Runner{Model: &fakeModel{reply: cooperative("登录")}, Available: deviceTools()}
	b, err := r.RunBatch(context.Background(), workers, cases)
	require.NoError(t, err)

	assert.Equal(t, 3, b.Total)
	assert.Equal(t, 3, b.Passed)
	assert.Equal(t, report.StatusPassed, b.Status)
	assert.Equal(t, int32(2), cleaned.Load())
	for i, res := range b.Results {
		require.NotNil(t, res, "case %d", i)
		assert.Same(t, cases[i], res.TestCase)
		assert.NoError(t, b.Errors[i])
	}
}

func TestRunBatch_PinnedCasesStayOnTheirDevice(t *testing.T) {
	ctrl := gomock.NewController(t)
	idle := NewMockToolExecutor(ctrl) // must never be called
	busy := NewMockToolExecutor(ctrl)
	busy.EXPECT().Execute(gomock.Any(), gomock.Any(), gomock.Any()).Return("ok", nil).AnyTimes()

	cases := []*testcase.TestCase{testcase.Parse("1. 等待1秒"), testcase.Parse("1. 返回")}
	for _, tc := range cases {
		tc.DeviceSerial = "R58M123"
	}
	workers := []Worker{
		{ID: 0, Serial: "emulator-5554", Tools: idle},
		{ID: 1, Serial: "R58M123", Tools: busy},
	}

	r := &Runner{Model: &fakeModel{reply: cooperative("x")}, Available: deviceTools()}
	b, err := r.RunBatch(context.Background(), workers, cases)
	require.NoError(t, err)
	assert.Equal(t, 2, b.Passed)
}

func TestQueueCases(t *testing.T) {
	pinned := testcase.Parse("1. 等待1秒")
	pinned.DeviceSerial = "A"
	unknown := testcase.Parse("1. 返回")
	unknown.DeviceSerial = "Z"
	plain := testcase.Parse("1. 截图")

	queues := queueCases([]Worker{{Serial: "A"}, {Serial: "B"}}, []*testcase.TestCase{pinned, unknown, plain})
	require.Len(t, queues, 2)
	assert.Len(t, queues["A"], 1)
	assert.Len(t, queues[""], 2)
	assert.Nil(t, queues["B"])
	assert.Same(t, pinned, (<-queues["A"]).tc)
}

func TestRunBatch_CancelledSkipsCases(t *testing.T) {
	ctrl := gomock.NewController(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := &Runner{Model: &fakeModel{reply: cooperative("x")}}
	b, err := r.RunBatch(ctx, []Worker{{Tools: NewMockToolExecutor(ctrl)}}, []*testcase.TestCase{testcase.Parse("")})
	require.NoError(t, err)
	assert.Equal(t, 1, b.Skipped)
	assert.Equal(t, report.StatusFailed, b.Status)
	assert.ErrorIs(t, b.Errors[0], context.Canceled)
}

func TestRunBatch_NoWorkers(t *testing.T) {
	_, err := (&Runner{}).RunBatch(context.Background(), nil, nil)
	assert.Error(t, err)
}
