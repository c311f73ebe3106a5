// Package api provides shared HTTP helpers and the health endpoint.
//
//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ashureev/goalplan/internal/domain"
	"github.com/go-playground/validator/v10"
)

// DefaultMaxRequestBodySize is the default maximum allowed request body size (1MB).
const DefaultMaxRequestBodySize = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error": "failed to encode response"}`, http.StatusInternalServerError)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// ErrorBody is the payload written by WriteError.
type ErrorBody struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable,omitempty"`
}

// StatusFor maps domain errors to HTTP status codes and stable codes.
func StatusFor(err error) (int, string, bool) {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated", false
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests, "rate_limited", false
	case errors.Is(err, domain.ErrModelUnavailable), errors.Is(err, domain.ErrNoCandidates):
		return http.StatusBadGateway, "model_unavailable", true
	case errors.Is(err, domain.ErrMalformedPlan):
		return http.StatusUnprocessableEntity, "malformed_plan", true
	case errors.Is(err, domain.ErrPlanningParamsIncomplete):
		return http.StatusBadRequest, "planning_params_incomplete", false
	case errors.Is(err, domain.ErrNoPlan):
		return http.StatusConflict, "no_plan", false
	case errors.Is(err, domain.ErrTasksNeverSynced):
		return http.StatusConflict, "tasks_never_synced", false
	case errors.Is(err, domain.ErrNotConnected):
		return http.StatusConflict, "not_connected", false
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, "body_too_large", false
	case errors.As(err, new(*BadRequestError)):
		return http.StatusBadRequest, "bad_request", false
	default:
		return http.StatusInternalServerError, "internal", false
	}
}

// WriteError writes err using the shared error taxonomy. Internal errors are
// logged and hidden from the client.
func WriteError(w http.ResponseWriter, err error) {
	status, body := ErrorPayload(err)
	JSON(w, status, body)
}

// ErrorPayload builds the status and body reported for err.
func ErrorPayload(err error) (int, ErrorBody) {
	status, code, retryable := StatusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("Request failed", "error", err)
		msg = "internal error"
	}
	var bad *BadRequestError
	if errors.As(err, &bad) {
		msg = bad.Msg
	}
	return status, ErrorBody{Error: msg, Code: code, Retryable: retryable}
}

// BadRequestError reports invalid client input.
type BadRequestError struct {
	Msg string
}

func (e *BadRequestError) Error() string { return e.Msg }

// BadRequest builds a BadRequestError.
func BadRequest(format string, args ...any) error {
	return &BadRequestError{Msg: fmt.Sprintf(format, args...)}
}

// DecodeJSON reads a size-limited JSON body into v and validates its
// `validate` struct tags.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, DefaultMaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			return err
		}
		return BadRequest("invalid request body")
	}
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, strings.ToLower(fe.Field())+" "+fe.Tag())
			}
			return BadRequest("invalid fields: %s", strings.Join(fields, ", "))
		}
		return BadRequest("invalid request: %v", err)
	}
	return nil
}
