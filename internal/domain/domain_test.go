package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanWireFormat(t *testing.T) {
	t.Parallel()
	raw := `{"plan":[{"date":"2024-06-01","task":"Run 3km easy","goal":"Run a 10K","start_time":"07:00:00","end_time":"08:00:00"}]}`

	var p Plan
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	require.Len(t, p.Entries, 1)
	assert.Equal(t, "Run 3km easy", p.Entries[0].Task)
	assert.Equal(t, "08:00:00", p.Entries[0].EndTime)

	out, err := json.Marshal(p)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))
}

func TestEmptyPlanEncodesAsList(t *testing.T) {
	t.Parallel()
	out, err := json.Marshal(Plan{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"plan":[]}`, string(out))
	assert.True(t, Plan{}.Empty())
}

func TestPlanRejectsWrongShape(t *testing.T) {
	t.Parallel()
	var p Plan
	require.Error(t, json.Unmarshal([]byte(`{"plan":"tomorrow"}`), &p))
	require.Error(t, json.Unmarshal([]byte(`not json`), &p))
}

func TestPlanEntryWindow(t *testing.T) {
	t.Parallel()
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	e := PlanEntry{Date: "2024-06-01", StartTime: "07:00:00", EndTime: "08:30:00"}

	start, end, err := e.Window(ny)
	require.NoError(t, err)
	assert.Equal(t, "2024-06-01T07:00:00-04:00", start.Format(time.RFC3339))
	assert.Equal(t, 90*time.Minute, end.Sub(start))

	_, _, err = PlanEntry{Date: "2024-06-01", StartTime: "7am", EndTime: "08:00:00"}.Window(time.UTC)
	require.Error(t, err)
	_, _, err = PlanEntry{Date: "June 1", StartTime: "07:00:00", EndTime: "08:00:00"}.Window(time.UTC)
	require.Error(t, err)
}

func TestPlanRecordStatus(t *testing.T) {
	t.Parallel()
	var none *PlanRecord
	assert.Equal(t, PlanStatus{}, none.Status())

	rec := &PlanRecord{
		Plan: Plan{Entries: []PlanEntry{{Date: "2024-06-01", Task: "Run"}}},
		Sync: SyncIDs{TaskIDs: map[string]string{"2024-06-01|Run": "t1"}},
	}
	assert.Equal(t, PlanStatus{Generated: true, TasksSynced: true}, rec.Status())
	assert.Equal(t, "2024-06-01|Run", rec.Plan.Entries[0].Key())
}

func TestPlanningParamsComplete(t *testing.T) {
	t.Parallel()
	now := time.Now()
	assert.False(t, PlanningParams{StartDate: &now, EndDate: &now}.Complete())
	assert.True(t, PlanningParams{StartDate: &now, EndDate: &now, StartTime: &now, EndTime: &now}.Complete())
}

func TestTurnHelpers(t *testing.T) {
	t.Parallel()
	ts := time.Now()
	turn := Turn{Role: RoleUser, Parts: []string{"I want ", "to run"}, Timestamp: ts}
	assert.Equal(t, "I want to run", turn.Text())
	assert.True(t, RoleModel.Valid())
	assert.False(t, Role("system").Valid())

	turns := []Turn{turn}
	cp := CloneTurns(turns)
	cp[0].Role = RoleModel
	assert.Equal(t, RoleUser, turns[0].Role)
	assert.Nil(t, CloneTurns(nil))

	st := Summary{Text: "runner, 10K", Timestamp: ts}.AsTurn()
	assert.Equal(t, RoleModel, st.Role)
	assert.Equal(t, "runner, 10K", st.Text())
}

func TestUserHasCredential(t *testing.T) {
	t.Parallel()
	assert.False(t, (&User{Key: "a@example.com"}).HasCredential())
	assert.True(t, (&User{Key: "a@example.com", TokenJSON: `{"access_token":"x"}`}).HasCredential())
}
