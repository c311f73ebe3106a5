package domain

import "errors"

var (
	// ErrUnauthenticated means the turn has no valid session credential.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrRateLimited means the user exceeded the message limit for the window.
	ErrRateLimited = errors.New("rate limited")
	// ErrModelUnavailable wraps provider failures: network, quota, timeouts.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrNoCandidates means the model answered with an empty candidate list.
	ErrNoCandidates = errors.New("model returned no candidates")
	// ErrMalformedPlan means the planner output was not a valid plan document.
	ErrMalformedPlan = errors.New("malformed plan")
	// ErrPlanningParamsIncomplete means dates or daily times are missing.
	ErrPlanningParamsIncomplete = errors.New("planning parameters incomplete")
	// ErrNoPlan means the user has not generated a plan yet.
	ErrNoPlan = errors.New("no plan generated")
	// ErrTasksNeverSynced means the plan has not been pushed to Google Tasks.
	ErrTasksNeverSynced = errors.New("tasks have never been synced")
	// ErrNotConnected means no Google credential is stored for the user.
	ErrNotConnected = errors.New("google account not connected")
)
