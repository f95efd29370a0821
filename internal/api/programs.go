/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/friendsincode/robobs/internal/models"
	"github.com/friendsincode/robobs/internal/obslog"
	"github.com/friendsincode/robobs/internal/store"
)

func (a *API) handleTiers(w http.ResponseWriter, r *http.Request) {
	tiers, err := a.programs.Tiers(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("list tiers failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}
	if tiers == nil {
		tiers = []int{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tiers": tiers})
}

func (a *API) handleStrategies(w http.ResponseWriter, r *http.Request) {
	ids := []string{}
	if a.strategies != nil {
		ids = a.strategies()
	}
	writeJSON(w, http.StatusOK, map[string]any{"strategies": ids})
}

func (a *API) handleProgramsList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := store.ListFilters{PI: q.Get("pi")}

	if raw := q.Get("tier"); raw != "" {
		tier, err := strconv.Atoi(raw)
		if err != nil || tier < 0 {
			writeError(w, http.StatusBadRequest, "invalid_tier")
			return
		}
		filters.Tier = &tier
	}
	if raw := q.Get("finished"); raw != "" {
		finished, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_finished")
			return
		}
		filters.Finished = &finished
	}
	var ok bool
	if filters.Limit, filters.Offset, ok = pagination(w, r); !ok {
		return
	}

	programs, total, err := a.programs.List(r.Context(), filters)
	if err != nil {
		a.logger.Error().Err(err).Msg("list programs failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	items := make([]map[string]any, len(programs))
	for i, p := range programs {
		items[i] = serializeProgram(p)
	}
	writeJSON(w, http.StatusOK, map[string]any{"programs": items, "total": total})
}

func (a *API) handleProgramsGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "programID")
	program, err := a.programs.Get(r.Context(), id)
	if errors.Is(err, store.ErrProgramNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if err != nil {
		a.logger.Error().Err(err).Str("program_id", id).Msg("get program failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	out := serializeProgram(*program)
	actions := make([]map[string]any, len(program.ObsBlock.Actions))
	for i, act := range program.ObsBlock.Actions {
		actions[i] = serializeAction(act)
	}
	out["block"] = map[string]any{"name": program.ObsBlock.Name, "actions": actions}
	out["exposure_seconds"] = program.ObsBlock.ExposureTime().Seconds()
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filters obslog.QueryFilters

	if target := q.Get("target_id"); target != "" {
		filters.TargetID = &target
	}
	for key, dst := range map[string]**time.Time{"since": &filters.StartTime, "until": &filters.EndTime} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_"+key)
			return
		}
		*dst = &t
	}
	var ok bool
	if filters.Limit, filters.Offset, ok = pagination(w, r); !ok {
		return
	}

	entries, total, err := a.logs.Query(r.Context(), filters)
	if err != nil {
		a.logger.Error().Err(err).Msg("query observing log failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	items := make([]map[string]any, len(entries))
	for i, e := range entries {
		items[i] = map[string]any{
			"id":        e.ID,
			"time":      e.Time.UTC(),
			"target_id": e.TargetID,
			"name":      e.Name,
			"priority":  e.Priority,
			"action":    e.Action,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": items, "total": total})
}

func pagination(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	q := r.URL.Query()
	for key, dst := range map[string]*int{"limit": &limit, "offset": &offset} {
		raw := q.Get(key)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid_"+key)
			return 0, 0, false
		}
		*dst = n
	}
	if limit > 500 {
		limit = 500
	}
	return limit, offset, true
}

func serializeProgram(p models.Program) map[string]any {
	out := map[string]any{
		"id":       p.ID,
		"name":     p.Name,
		"pi":       p.PI,
		"tier":     p.Priority,
		"finished": p.Finished,
		"slew_at":  nil,
		"target": map[string]any{
			"id":   p.Target.ID,
			"name": p.Target.Name,
			"ra":   p.Target.RA,
			"dec":  p.Target.Dec,
		},
		"constraints": map[string]any{
			"name":            p.BlockPar.Name,
			"min_airmass":     p.BlockPar.MinAirmass,
			"max_airmass":     p.BlockPar.MaxAirmass,
			"min_moon_bright": p.BlockPar.MinMoonBright,
			"max_moon_bright": p.BlockPar.MaxMoonBright,
			"min_moon_dist":   p.BlockPar.MinMoonDist,
			"max_seeing":      p.BlockPar.MaxSeeing,
			"strategy":        p.BlockPar.SchedAlgorithm,
		},
	}
	if p.HasSlewAt() {
		out["slew_at"] = p.SlewAt.UTC()
	}
	return out
}

func serializeAction(a models.Action) map[string]any {
	out := map[string]any{"seq": a.Seq, "type": a.Type}
	switch a.Type {
	case models.ActionExpose:
		out["exptime"] = a.ExpTime
		out["frames"] = a.Frames
		out["filter"] = a.Filter
		out["image_type"] = a.ImageType
	case models.ActionPoint:
		for k, v := range map[string]*float64{"ra": a.RA, "dec": a.Dec, "alt": a.Alt, "az": a.Az} {
			if v != nil {
				out[k] = *v
			}
		}
	case models.ActionAutoFocus:
		out["focus_start"] = a.FocusStart
		out["focus_end"] = a.FocusEnd
		out["focus_step"] = a.FocusStep
	}
	return out
}
