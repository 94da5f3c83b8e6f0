package server

import (
	"encoding/json"
	stdErrors "errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/BranchIntl/relayq/errors"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps err onto a status code and a JSON body
func writeError(w http.ResponseWriter, err error) {
	var validation *errors.ValidationError
	var limited *errors.RateLimitError

	switch {
	case stdErrors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "validation failed",
			"details": validation.Details,
		})

	case stdErrors.As(err, &limited):
		w.Header().Set("Retry-After", retryAfterSeconds(limited.RetryAfter))
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"message": "Too many requests"})

	case stdErrors.Is(err, errors.ErrJobNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})

	case errors.IsUpstream(err):
		slog.Error("Upstream unavailable", "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "upstream unavailable"})

	default:
		slog.Error("Request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func retryAfterSeconds(d time.Duration) string {
	seconds := int64(math.Ceil(d.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	return strconv.FormatInt(seconds, 10)
}
