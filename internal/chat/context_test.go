package chat

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/goalplan/internal/api"
	"github.com/ashureev/goalplan/internal/domain"
	"github.com/ashureev/goalplan/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSummaryPrompt(t *testing.T) {
	t.Parallel()
	ts := time.Now()
	prompt := BuildSummaryPrompt([]domain.Turn{
		domain.NewTurn(domain.RoleUser, "I want to run a 10K", ts),
		domain.NewTurn(domain.RoleModel, "By when?", ts),
	})
	assert.Equal(t, summaryInstruction+"user: I want to run a 10K\nmodel: By when?\n", prompt)
}

func TestSummarizeReturnsFirstCandidate(t *testing.T) {
	t.Parallel()
	model := &scriptedModel{replies: []*llm.Response{{Candidates: []string{"first", "second"}}}}
	text, err := NewSummarizer(time.Second).Summarize(context.Background(), model, makeTurns(2))
	require.NoError(t, err)
	assert.Equal(t, "first", text)

	calls := model.Calls()
	require.Len(t, calls, 1)
	require.Len(t, calls[0].Turns, 1)
	assert.Equal(t, domain.RoleUser, calls[0].Turns[0].Role)
}

func TestSummarizeModelFailure(t *testing.T) {
	t.Parallel()
	model := &scriptedModel{genErr: errors.New("503 from provider")}
	_, err := NewSummarizer(time.Second).Summarize(context.Background(), model, makeTurns(2))
	require.ErrorIs(t, err, domain.ErrModelUnavailable)
}

func TestInjectMetadata(t *testing.T) {
	t.Parallel()
	day := func(s string) *time.Time {
		v, _ := time.Parse(domain.DateLayout, s)
		return &v
	}
	clock := func(s string) *time.Time {
		v, _ := time.Parse(domain.TimeLayout, s)
		return &v
	}

	tests := []struct {
		name   string
		params domain.PlanningParams
		status domain.PlanStatus
		want   string
	}{
		{
			name: "no params",
			want: "hi\tplan_status:none, tasks_synced:false, calendar_synced:false",
		},
		{
			name: "all params and synced plan",
			params: domain.PlanningParams{
				StartDate: day("2024-06-01"), EndDate: day("2024-07-31"),
				StartTime: clock("07:00:00"), EndTime: clock("08:30:00"),
			},
			status: domain.PlanStatus{Generated: true, TasksSynced: true},
			want: "hi\tstart_date:2024-06-01, end_date:2024-07-31" +
				"\tstart_time:07:00:00, end_time:08:30:00" +
				"\tplan_status:generated, tasks_synced:true, calendar_synced:false",
		},
		{
			name:   "half a date range is omitted",
			params: domain.PlanningParams{StartDate: day("2024-06-01"), StartTime: clock("07:00:00"), EndTime: clock("08:00:00")},
			want:   "hi\tstart_time:07:00:00, end_time:08:00:00\tplan_status:none, tasks_synced:false, calendar_synced:false",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InjectMetadata("hi", tt.params, tt.status))
		})
	}
}

type stubCapability struct {
	name string
	out  any
	err  error
	got  map[string]any
}

func (c *stubCapability) Spec() llm.ToolSpec {
	return llm.ToolSpec{Name: c.name, Description: c.name}
}

func (c *stubCapability) Invoke(_ context.Context, _ string, args map[string]any) (any, error) {
	c.got = args
	return c.out, c.err
}

func TestBridgeDispatch(t *testing.T) {
	t.Parallel()
	fetch := &stubCapability{name: "fetch_tasks", out: []domain.TaskItem{{Title: "Run 3km"}}}
	broken := &stubCapability{name: "add_or_update_tasks", err: errors.New("quota exceeded")}
	b := NewBridge(fetch, broken)

	specs := b.Tools()
	require.Len(t, specs, 2)
	assert.Equal(t, "fetch_tasks", specs[0].Name)
	assert.Equal(t, "add_or_update_tasks", specs[1].Name)

	ctx := context.Background()
	res := b.Dispatch(ctx, "a@example.com", llm.FunctionCall{Name: "fetch_tasks", Args: map[string]any{"due_date": "2024-06-01"}})
	assert.Empty(t, res.Error)
	assert.Equal(t, fetch.out, res.Output)
	assert.Equal(t, "2024-06-01", fetch.got["due_date"])

	res = b.Dispatch(ctx, "a@example.com", llm.FunctionCall{Name: "add_or_update_tasks"})
	assert.Equal(t, "quota exceeded", res.Error)

	res = b.Dispatch(ctx, "a@example.com", llm.FunctionCall{Name: "delete_everything"})
	assert.Equal(t, ErrUnknownFunction, res.Error)
	assert.Nil(t, res.Output)
}

func TestNilBridge(t *testing.T) {
	t.Parallel()
	var b *Bridge
	assert.Empty(t, b.Tools())
	res := b.Dispatch(context.Background(), "a@example.com", llm.FunctionCall{Name: "fetch_tasks"})
	assert.Equal(t, ErrUnknownFunction, res.Error)
}

func TestCallTurns(t *testing.T) {
	t.Parallel()
	ts := time.Now()
	turns := callTurns(
		llm.FunctionCall{Name: "fetch_tasks", Args: map[string]any{"due_date": "2024-06-01"}},
		Result{Name: "fetch_tasks", Output: "no tasks"},
		ts,
	)
	require.Len(t, turns, 2)
	assert.Equal(t, domain.RoleModel, turns[0].Role)
	assert.Equal(t, `function_call fetch_tasks {"due_date":"2024-06-01"}`, turns[0].Text())
	assert.Equal(t, domain.RoleUser, turns[1].Role)
	assert.Equal(t, `function_result {"name":"fetch_tasks","result":"no tasks"}`, turns[1].Text())
}

func TestParseParams(t *testing.T) {
	t.Parallel()
	p, err := ParseParams(ParamsPayload{
		StartDate: "2024-06-01", EndDate: "2024-06-30",
		StartTime: "07:00:00", EndTime: "08:00:00",
	})
	require.NoError(t, err)
	assert.True(t, p.Complete())
	assert.Equal(t, "2024-06-30", p.EndDate.Format(domain.DateLayout))
	assert.Equal(t, ParamsPayload{
		StartDate: "2024-06-01", EndDate: "2024-06-30",
		StartTime: "07:00:00", EndTime: "08:00:00",
	}, FormatParams(p))

	partial, err := ParseParams(ParamsPayload{StartDate: "2024-06-01"})
	require.NoError(t, err)
	assert.False(t, partial.Complete())
	assert.Nil(t, partial.EndDate)

	for _, bad := range []ParamsPayload{
		{StartDate: "2024-06-30", EndDate: "2024-06-01"},
		{StartTime: "09:00:00", EndTime: "08:00:00"},
		{StartTime: "09:00:00", EndTime: "09:00:00"},
		{EndDate: "June 1st"},
	} {
		_, err := ParseParams(bad)
		var br *api.BadRequestError
		assert.True(t, errors.As(err, &br), "payload %+v", bad)
		assert.False(t, strings.Contains(err.Error(), "internal"))
	}
}
