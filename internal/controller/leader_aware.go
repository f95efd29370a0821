/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package controller

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// Leadership is the election the controller follows.
type Leadership interface {
	Start(ctx context.Context) error
	Stop() error
	IsLeader() bool
	LeaderCh() <-chan bool
}

// LeaderAware attaches the controller to the executor only while this
// instance holds leadership, so a single instance ever drives the telescope.
type LeaderAware struct {
	controller *Controller
	election   Leadership
	logger     zerolog.Logger

	// autoStart switches rob state on whenever leadership is gained.
	autoStart bool

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	attached bool
	done     chan struct{}
}

// NewLeaderAware wraps c so it follows election.
func NewLeaderAware(c *Controller, election Leadership, autoStart bool, logger zerolog.Logger) *LeaderAware {
	return &LeaderAware{
		controller: c,
		election:   election,
		autoStart:  autoStart,
		logger:     logger.With().Str("component", "leader_aware_controller").Logger(),
	}
}

// Start campaigns for leadership and follows it until Stop or ctx is done.
func (la *LeaderAware) Start(ctx context.Context) error {
	la.logger.Info().Msg("starting leader-aware controller")

	ctx, cancel := context.WithCancel(ctx)
	if err := la.election.Start(ctx); err != nil {
		cancel()
		return err
	}

	la.mu.Lock()
	la.ctx, la.cancel = ctx, cancel
	la.done = make(chan struct{})
	done := la.done
	la.mu.Unlock()

	go la.monitorLeadership(ctx, done)
	return nil
}

// Stop detaches the controller and gives up leadership.
func (la *LeaderAware) Stop() error {
	la.logger.Info().Msg("stopping leader-aware controller")

	la.mu.Lock()
	cancel, done := la.cancel, la.done
	la.cancel = nil
	la.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
	la.release()
	return la.election.Stop()
}

// IsLeader reports whether this instance currently drives the telescope.
func (la *LeaderAware) IsLeader() bool {
	return la.election.IsLeader()
}

func (la *LeaderAware) monitorLeadership(ctx context.Context, done chan struct{}) {
	defer close(done)

	if la.election.IsLeader() {
		la.acquire(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case leader := <-la.election.LeaderCh():
			if leader {
				la.logger.Info().Msg("became leader, attaching controller")
				la.acquire(ctx)
			} else {
				la.logger.Warn().Msg("lost leadership, detaching controller")
				la.release()
			}
		}
	}
}

func (la *LeaderAware) acquire(ctx context.Context) {
	la.mu.Lock()
	defer la.mu.Unlock()
	if la.attached {
		return
	}
	if err := la.controller.Attach(); err != nil && !errors.Is(err, ErrAttached) {
		la.logger.Error().Err(err).Msg("failed to attach controller")
		return
	}
	la.attached = true
	if la.autoStart {
		la.controller.Start(ctx)
		if err := la.controller.Wake(ctx); err != nil {
			la.logger.Warn().Err(err).Msg("initial wake failed")
		}
	}
}

func (la *LeaderAware) release() {
	la.mu.Lock()
	defer la.mu.Unlock()
	if !la.attached {
		return
	}
	la.attached = false
	if err := la.controller.Detach(); err != nil && !errors.Is(err, ErrNotAttached) {
		la.logger.Warn().Err(err).Msg("failed to detach controller")
	}
	la.controller.Stop(context.Background())
}
