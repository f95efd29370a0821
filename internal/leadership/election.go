/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package leadership elects the single instance allowed to drive the telescope.
package leadership

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/robobs/internal/telemetry"
)

const (
	defaultElectionKey   = "robobs:leader:controller"
	defaultLeaseDuration = 15 * time.Second
	defaultRetryInterval = 2 * time.Second
)

// releaseScript deletes the lease only while we still own it.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// Config configures leader election.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Key is the Redis key holding the current leader's instance id.
	Key string
	// LeaseDuration is how long a lease is valid without renewal.
	LeaseDuration time.Duration
	// RetryInterval is how often the lease is acquired or renewed.
	RetryInterval time.Duration

	InstanceID string
}

// DefaultConfig returns default election configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:     "localhost:6379",
		Key:           defaultElectionKey,
		LeaseDuration: defaultLeaseDuration,
		RetryInterval: defaultRetryInterval,
		InstanceID:    uuid.NewString(),
	}
}

// Election holds a Redis lease (SET NX with expiry) while this instance leads.
type Election struct {
	client redis.UniversalClient
	logger zerolog.Logger
	config Config

	mu       sync.Mutex
	isLeader bool
	cancel   context.CancelFunc
	done     chan struct{}
	leaderCh chan bool
}

// NewElection connects to Redis and prepares an election.
func NewElection(cfg Config, logger zerolog.Logger) (*Election, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	logger.Info().Str("redis_addr", cfg.RedisAddr).Msg("connected to Redis for leader election")
	return NewWithClient(client, cfg, logger), nil
}

// NewWithClient prepares an election on an existing client.
func NewWithClient(client redis.UniversalClient, cfg Config, logger zerolog.Logger) *Election {
	if cfg.Key == "" {
		cfg.Key = defaultElectionKey
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = defaultLeaseDuration
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}
	if cfg.RetryInterval >= cfg.LeaseDuration {
		cfg.RetryInterval = cfg.LeaseDuration / 3
	}
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}

	return &Election{
		client:   client,
		logger:   logger.With().Str("component", "leader_election").Str("instance_id", cfg.InstanceID).Logger(),
		config:   cfg,
		leaderCh: make(chan bool, 1),
	}
}

// InstanceID identifies this instance in the lease.
func (e *Election) InstanceID() string { return e.config.InstanceID }

// Start campaigns for leadership until Stop or ctx cancellation.
func (e *Election) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return errors.New("election already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})

	e.logger.Info().Dur("lease_duration", e.config.LeaseDuration).Msg("starting leader election")
	go e.campaignLoop(ctx, e.done)
	return nil
}

// Stop ends the campaign and releases the lease if held.
func (e *Election) Stop() error {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel = nil
	e.mu.Unlock()

	if cancel == nil {
		return nil
	}
	e.logger.Info().Msg("stopping leader election")
	cancel()
	<-done

	if e.IsLeader() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, e.client, []string{e.config.Key}, e.config.InstanceID).Err(); err != nil {
			e.logger.Error().Err(err).Msg("failed to release leadership lease")
		}
		e.setLeader(false)
	}
	return e.client.Close()
}

// IsLeader reports whether this instance currently holds the lease.
func (e *Election) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.isLeader
}

// LeaderCh receives leadership changes. Only the latest change is buffered.
func (e *Election) LeaderCh() <-chan bool {
	return e.leaderCh
}

// Leader returns the instance id holding the lease, or "" if none does.
func (e *Election) Leader(ctx context.Context) (string, error) {
	id, err := e.client.Get(ctx, e.config.Key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get leader: %w", err)
	}
	return id, nil
}

func (e *Election) campaignLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(e.config.RetryInterval)
	defer ticker.Stop()

	e.campaign(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.campaign(ctx)
		}
	}
}

func (e *Election) campaign(ctx context.Context) {
	held, err := e.acquire(ctx)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Error().Err(err).Msg("leadership campaign failed")
		}
		e.setLeader(false)
		return
	}
	e.setLeader(held)
}

// acquire takes the lease when free and renews it when we own it.
func (e *Election) acquire(ctx context.Context) (bool, error) {
	ok, err := e.client.SetNX(ctx, e.config.Key, e.config.InstanceID, e.config.LeaseDuration).Result()
	if err != nil {
		return false, fmt.Errorf("set lease: %w", err)
	}
	if ok {
		return true, nil
	}

	owner, err := e.client.Get(ctx, e.config.Key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get lease owner: %w", err)
	}
	if owner != e.config.InstanceID {
		return false, nil
	}
	if err := e.client.PExpire(ctx, e.config.Key, e.config.LeaseDuration).Err(); err != nil {
		return false, fmt.Errorf("renew lease: %w", err)
	}
	return true, nil
}

func (e *Election) setLeader(leader bool) {
	e.mu.Lock()
	if e.isLeader == leader {
		e.mu.Unlock()
		return
	}
	e.isLeader = leader
	e.mu.Unlock()

	id := e.config.InstanceID
	if leader {
		e.logger.Info().Msg("acquired leadership")
		telemetry.LeaderElectionStatus.WithLabelValues(id).Set(1)
		telemetry.LeaderElectionChanges.WithLabelValues(id, "acquired").Inc()
	} else {
		e.logger.Warn().Msg("lost leadership")
		telemetry.LeaderElectionStatus.WithLabelValues(id).Set(0)
		telemetry.LeaderElectionChanges.WithLabelValues(id, "lost").Inc()
	}

	// keep only the latest status
	select {
	case <-e.leaderCh:
	default:
	}
	select {
	case e.leaderCh <- leader:
	default:
	}
}
