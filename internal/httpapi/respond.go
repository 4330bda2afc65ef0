package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"trendsched/internal/jobs"
	"trendsched/internal/observability/alerting"
	"trendsched/internal/task/engine"
)

var errRateLimited = errors.New("too many manual triggers, slow down")

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

// writeError is the single place errors become HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	code, kind := http.StatusInternalServerError, "internal_error"
	switch {
	case jobs.IsNotFound(err), errors.Is(err, alerting.ErrUnknownAlert):
		code, kind = http.StatusNotFound, "not_found"
	case jobs.IsBusy(err):
		w.Header().Set("Retry-After", "1")
		code, kind = http.StatusServiceUnavailable, "scheduler_busy"
	case errors.Is(err, errRateLimited):
		w.Header().Set("Retry-After", "1")
		code, kind = http.StatusTooManyRequests, "rate_limited"
	case errors.Is(err, engine.ErrStopped):
		code, kind = http.StatusServiceUnavailable, "scheduler_stopped"
	case errors.Is(err, alerting.ErrDisabled):
		code, kind = http.StatusConflict, "alerting_disabled"
	}
	writeJSON(w, code, errorBody{Error: kind, Message: err.Error()})
}

func writeStatus(w http.ResponseWriter, code int, kind, msg string) {
	writeJSON(w, code, errorBody{Error: kind, Message: msg})
}
