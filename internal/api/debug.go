package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/friendsincode/robobs/internal/logbuffer"
)

// handleDebugLog serves recent process log lines, newest first. The controller
// logs under component=robobs.
func (a *API) handleDebugLog(w http.ResponseWriter, r *http.Request) {
	if a.logBuffer == nil {
		writeError(w, http.StatusNotFound, "log_buffer_disabled")
		return
	}

	q := r.URL.Query()
	query := logbuffer.Query{
		Level:     q.Get("level"),
		Component: q.Get("component"),
		ProgramID: q.Get("program_id"),
		Search:    q.Get("search"),
		Limit:     200,
		Newest:    true,
	}
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_since")
			return
		}
		query.Since = since
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit")
			return
		}
		query.Limit = min(limit, 1000)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": a.logBuffer.Find(query),
		"stats":   a.logBuffer.Stats(),
	})
}
