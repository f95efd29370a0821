/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"time"

	"github.com/friendsincode/robobs/internal/auth"
	"github.com/friendsincode/robobs/internal/executor"
	"github.com/friendsincode/robobs/internal/models"
)

func (a *API) handleState(w http.ResponseWriter, r *http.Request) {
	snap := a.ctrl.Snapshot()
	resp := map[string]any{
		"rob_state":           snap.RobState,
		"no_program_on_queue": snap.NoProgramOnQueue,
		"attached":            snap.Attached,
		"leader":              a.isLeader(),
		"current":             nil,
	}
	if snap.Current != nil {
		resp["current"] = serializeCandidate(*snap.Current)
	}
	if a.exec != nil {
		state, err := a.exec.State(r.Context())
		if err != nil {
			a.logger.Warn().Err(err).Msg("executor state unavailable")
			resp["executor_state"] = nil
			resp["executor_error"] = err.Error()
		} else {
			resp["executor_state"] = state
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handlePlan previews what the scheduler would pick at ?at= (RFC3339, default
// the site's now) without advancing any start time.
func (a *API) handlePlan(w http.ResponseWriter, r *http.Request) {
	at, err := a.planInstant(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_at")
		return
	}

	selected, err := a.planner.Preview(r.Context(), at)
	if err != nil {
		a.logger.Error().Err(err).Time("at", at).Msg("plan preview failed")
		writeError(w, http.StatusBadGateway, "preview_failed")
		return
	}

	resp := map[string]any{"at": at.UTC(), "program": nil}
	if selected != nil {
		resp["program"] = serializeCandidate(*selected)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) planInstant(r *http.Request) (time.Time, error) {
	if raw := r.URL.Query().Get("at"); raw != "" {
		return time.Parse(time.RFC3339, raw)
	}
	if a.clock != nil {
		if now, err := a.clock.Now(r.Context()); err == nil {
			return now, nil
		}
	}
	return time.Now().UTC(), nil
}

func (a *API) handleStart(w http.ResponseWriter, r *http.Request) {
	a.ctrl.Start(r.Context())
	a.logOperator(r, "start")
	writeJSON(w, http.StatusOK, map[string]any{"rob_state": a.ctrl.Snapshot().RobState})
}

func (a *API) handleStop(w http.ResponseWriter, r *http.Request) {
	a.ctrl.Stop(r.Context())
	a.logOperator(r, "stop")
	writeJSON(w, http.StatusOK, map[string]any{"rob_state": a.ctrl.Snapshot().RobState})
}

func (a *API) handleWake(w http.ResponseWriter, r *http.Request) {
	if !a.requireLeader(w) {
		return
	}
	if err := a.ctrl.Wake(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, "wake_failed")
		return
	}
	a.logOperator(r, "wake")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "woken"})
}

func (a *API) handleReset(w http.ResponseWriter, r *http.Request) {
	if !a.requireLeader(w) {
		return
	}
	if err := a.ctrl.ResetScheduler(r.Context()); err != nil {
		writeError(w, http.StatusBadGateway, "reset_failed")
		return
	}
	a.logOperator(r, "reset")
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "reset_queued", "program": executor.ResetProgram})
}

// requireLeader refuses executor commands on a standby instance.
func (a *API) requireLeader(w http.ResponseWriter) bool {
	if a.isLeader() {
		return true
	}
	writeError(w, http.StatusConflict, "not_leader")
	return false
}

func (a *API) logOperator(r *http.Request, action string) {
	a.logger.Info().
		Str("action", action).
		Str("remote_addr", r.RemoteAddr).
		Str("user_id", auth.Caller(r.Context())).
		Msg("operator command")
}

func serializeCandidate(c models.Candidate) map[string]any {
	out := serializeProgram(c.Program)
	out["duration_seconds"] = c.Duration.Seconds()
	out["strategy"] = c.Strategy()
	return out
}
