package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/engmahmoudosman/esp32-iot-sensor-platform/internal/deadletter"
)

// handleListDeadLetters returns journaled batches, oldest first.
//
// Query parameters: reason, since (RFC 3339), limit.
func (s *Server) handleListDeadLetters(w http.ResponseWriter, r *http.Request) {
	if s.deadLetters == nil {
		writeError(w, r, http.StatusNotFound, codeNotFound, "dead letter journal is disabled")
		return
	}

	q := r.URL.Query()
	filter := deadletter.Filter{Reason: q.Get("reason")}

	if v := q.Get("since"); v != "" {
		since, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, codeBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = since
	}
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			writeError(w, r, http.StatusBadRequest, codeBadRequest, "limit must be a non-negative integer")
			return
		}
		filter.Limit = limit
	}

	entries, err := s.deadLetters.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing dead letters failed", "error", err)
		writeError(w, r, http.StatusInternalServerError, codeInternal, "failed to list dead letters")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}
