/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package controller

import (
	"context"
	"fmt"

	"github.com/friendsincode/robobs/internal/events"
	"github.com/friendsincode/robobs/internal/executor"
	"github.com/friendsincode/robobs/internal/models"
	"github.com/friendsincode/robobs/internal/telemetry"
)

// OnStateChanged runs the control loop. Only the executor running dry
// (IDLE to OFF) while rob state is ON triggers a decision; everything else is
// logged. Errors from the clock, scheduler or executor leave the controller's
// state as it was.
func (c *Controller) OnStateChanged(ctx context.Context, newState, oldState executor.State) error {
	telemetry.ControllerEventsTotal.WithLabelValues("state_changed").Inc()
	c.logger.Debug().Str("from", string(oldState)).Str("to", string(newState)).Msg("executor state changed")

	if oldState != executor.StateIdle || newState != executor.StateOff {
		return nil
	}

	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()

	c.mu.Lock()
	rob, noProgram := c.rob, c.noProgram
	c.mu.Unlock()
	if rob != RobOn {
		c.logger.Debug().Msg("rob state off, leaving executor idle")
		return nil
	}

	ctx, span := telemetry.StartSpan(ctx, "controller", "controller.decide")
	defer span.End()

	now, err := c.clock.Now(ctx)
	if err != nil {
		telemetry.RecordError(span, err)
		return c.fail("clock", err)
	}

	selected, err := c.scheduler.Reshedule(ctx, now)
	if err != nil {
		telemetry.RecordError(span, err)
		return c.fail("reshedule", err)
	}

	switch {
	case selected != nil:
		if err := c.dispatch(ctx, *selected); err != nil {
			telemetry.RecordError(span, err)
			return err
		}
		telemetry.AddSpanAttributes(span, map[string]any{"decision": "program", "program": selected.Program.Name})

	case noProgram:
		c.logger.Info().Dur("backoff", c.config.Backoff).Msg("still nothing to observe, backing off")
		telemetry.BackoffTotal.Inc()
		telemetry.AddSpanAttributes(span, map[string]any{"decision": "backoff"})
		c.publish(events.EventBackoff, events.Payload{"time": now, "seconds": c.config.Backoff.Seconds()})
		if err := c.sleep(ctx, c.config.Backoff); err != nil {
			return err
		}

	default:
		park := executor.Park(c.config.ParkAlt, c.config.ParkAz)
		if err := c.exec.Enqueue(ctx, park); err != nil {
			telemetry.RecordError(span, err)
			return c.fail("park", err)
		}
		c.mu.Lock()
		c.noProgram = true
		c.mu.Unlock()

		telemetry.ProgramsDispatchedTotal.WithLabelValues("safety").Inc()
		telemetry.AddSpanAttributes(span, map[string]any{"decision": "park"})
		c.logger.Info().Float64("alt", c.config.ParkAlt).Float64("az", c.config.ParkAz).Msg("no program on queue, parking telescope")
		c.publish(events.EventPark, events.Payload{
			"time":    now,
			"program": executor.SafetyProgram,
			"alt":     c.config.ParkAlt,
			"az":      c.config.ParkAz,
		})
	}

	return c.Wake(ctx)
}

// dispatch hands the selected candidate to the executor and tracks it.
func (c *Controller) dispatch(ctx context.Context, selected models.Candidate) error {
	program := executor.FromCandidate(selected)
	if err := c.exec.Enqueue(ctx, program); err != nil {
		return c.fail("enqueue", err)
	}

	c.mu.Lock()
	c.current = &selected
	c.noProgram = false
	c.mu.Unlock()

	telemetry.ProgramsDispatchedTotal.WithLabelValues("program").Inc()
	c.logger.Info().
		Str("program", selected.Program.Name).
		Str("program_id", selected.Program.ID).
		Int("tier", selected.Program.Priority).
		Str("strategy", selected.Strategy()).
		Dur("duration", selected.Duration).
		Msg("program dispatched")
	c.publish(events.EventProgramDispatched, events.Payload{
		"program":    selected.Program.Name,
		"program_id": selected.Program.ID,
		"tier":       selected.Program.Priority,
		"strategy":   selected.Strategy(),
	})
	return nil
}

// OnProgramBegin writes the start of a program to the observing log.
func (c *Controller) OnProgramBegin(ctx context.Context, p executor.Program) error {
	telemetry.ControllerEventsTotal.WithLabelValues("program_begin").Inc()
	c.logger.Info().Str("program", p.Name).Msg("program started")

	c.publish(events.EventProgramBegin, events.Payload{"program": p.Name, "program_id": p.SourceID})
	return c.writeLog(ctx, p, models.LogProgramStarted)
}

// OnProgramComplete records the outcome of a program. A successful run of the
// tracked program finishes it and tells its strategy; any other outcome turns
// rob state off.
func (c *Controller) OnProgramComplete(ctx context.Context, p executor.Program, status executor.Status, message string) error {
	telemetry.ControllerEventsTotal.WithLabelValues("program_complete").Inc()
	telemetry.ProgramsCompletedTotal.WithLabelValues(string(status)).Inc()

	c.handlerMu.Lock()
	defer c.handlerMu.Unlock()

	c.logger.Info().Str("program", p.Name).Str("status", string(status)).Str("message", message).Msg("program completed")
	c.publish(events.EventProgramComplete, events.Payload{
		"program":    p.Name,
		"program_id": p.SourceID,
		"status":     string(status),
		"message":    message,
	})
	if err := c.writeLog(ctx, p, fmt.Sprintf(models.LogProgramEnded, status, message)); err != nil {
		return err
	}

	c.mu.Lock()
	current := c.current
	c.mu.Unlock()
	tracked := current != nil && p.SourceID != "" && current.Program.ID == p.SourceID

	if status != executor.StatusOK {
		c.logger.Warn().Str("program", p.Name).Msg("program did not complete, switching rob state off")
		if tracked {
			c.clearCurrent(current)
		}
		c.setRob(ctx, RobOff)
		return nil
	}
	if !tracked {
		return nil
	}

	if _, err := c.store.MarkFinished(ctx, current.Program.ID); err != nil {
		return c.fail("finish", err)
	}
	c.clearCurrent(current)

	if c.strategies == nil {
		return nil
	}
	s, err := c.strategies.Get(current.Strategy())
	if err != nil {
		c.logger.Warn().Err(err).Str("program", current.Program.Name).Msg("cannot report observation to strategy")
		return nil
	}
	if err := s.Observed(ctx, c.now(ctx), *current); err != nil {
		return c.fail("observed", err)
	}
	return nil
}

func (c *Controller) clearCurrent(expected *models.Candidate) {
	c.mu.Lock()
	if c.current == expected {
		c.current = nil
	}
	c.mu.Unlock()
}

// OnActionBegin relays the action to the event bus.
func (c *Controller) OnActionBegin(_ context.Context, a executor.Action, message string) error {
	telemetry.ControllerEventsTotal.WithLabelValues("action_begin").Inc()
	c.logger.Debug().Str("action", a.String()).Str("message", message).Msg("action started")
	c.publish(events.EventActionBegin, events.Payload{"action": a.String(), "type": string(a.Type), "message": message})
	return nil
}

// OnActionComplete relays the action's outcome to the event bus.
func (c *Controller) OnActionComplete(_ context.Context, a executor.Action, status executor.Status, message string) error {
	telemetry.ControllerEventsTotal.WithLabelValues("action_complete").Inc()
	c.logger.Debug().Str("action", a.String()).Str("status", string(status)).Str("message", message).Msg("action completed")
	c.publish(events.EventActionComplete, events.Payload{
		"action":  a.String(),
		"type":    string(a.Type),
		"status":  string(status),
		"message": message,
	})
	return nil
}

func (c *Controller) writeLog(ctx context.Context, p executor.Program, action string) error {
	entry := &models.ObservingLog{
		Time:     c.now(ctx),
		TargetID: p.TargetID,
		Name:     p.Name,
		Priority: p.Priority,
		Action:   action,
	}
	if err := c.obslog.Log(ctx, entry); err != nil {
		return c.fail("observing_log", err)
	}
	return nil
}
