/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package cache keeps ephemeris answers in Redis. They are expensive to ask
// the site service for and stable over a night.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/friendsincode/robobs/internal/telemetry"
)

const (
	DefaultTwilightTTL  = 36 * time.Hour
	DefaultMoonPhaseTTL = 6 * time.Hour
	DefaultCooldown     = time.Minute
)

const (
	keyRoot      = "robobs:cache:"
	KeyTwilight  = keyRoot + "twilight:"  // + night (YYYY-MM-DD, site local)
	KeyMoonPhase = keyRoot + "moonphase:" // + bucket start (unix seconds)
)

// MoonPhaseBucket is the resolution moon illumination is cached at.
const MoonPhaseBucket = 10 * time.Minute

// Config contains cache configuration.
type Config struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	TwilightTTL  time.Duration
	MoonPhaseTTL time.Duration

	// Cooldown is how long the cache stays bypassed after a Redis error.
	Cooldown time.Duration
}

// DefaultConfig returns default cache configuration.
func DefaultConfig() Config {
	return Config{
		RedisAddr:    "localhost:6379",
		TwilightTTL:  DefaultTwilightTTL,
		MoonPhaseTTL: DefaultMoonPhaseTTL,
		Cooldown:     DefaultCooldown,
	}
}

// Cache is a Redis-backed ephemeris cache. Every failure degrades to a miss;
// callers then ask the site service directly.
type Cache struct {
	client redis.UniversalClient
	logger zerolog.Logger
	config Config
	now    func() time.Time

	mu          sync.Mutex
	bypassUntil time.Time
}

// New connects to Redis. An unreachable server is logged and the cache starts
// in cooldown rather than failing startup.
func New(cfg Config, logger zerolog.Logger) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		PoolSize:     4,
	})
	c := NewWithClient(client, cfg, logger)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		c.trip(err, "ping")
		return c, nil
	}
	c.logger.Info().Str("addr", cfg.RedisAddr).Msg("ephemeris cache ready")
	return c, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client redis.UniversalClient, cfg Config, logger zerolog.Logger) *Cache {
	if cfg.TwilightTTL <= 0 {
		cfg.TwilightTTL = DefaultTwilightTTL
	}
	if cfg.MoonPhaseTTL <= 0 {
		cfg.MoonPhaseTTL = DefaultMoonPhaseTTL
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	return &Cache{
		client: client,
		logger: logger.With().Str("component", "cache").Logger(),
		config: cfg,
		now:    time.Now,
	}
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

// Available reports whether Redis is currently consulted.
func (c *Cache) Available() bool {
	if c == nil || c.client == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.now().Before(c.bypassUntil)
}

func (c *Cache) trip(err error, op string) {
	c.mu.Lock()
	c.bypassUntil = c.now().Add(c.config.Cooldown)
	c.mu.Unlock()
	c.logger.Warn().Err(err).Str("operation", op).Dur("cooldown", c.config.Cooldown).Msg("redis error, bypassing cache")
}

func (c *Cache) get(ctx context.Context, key string, dest any) bool {
	if !c.Available() {
		return false
	}
	data, err := c.client.Get(ctx, key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		telemetry.CacheRequestsTotal.WithLabelValues("miss").Inc()
		return false
	case err != nil:
		telemetry.CacheRequestsTotal.WithLabelValues("error").Inc()
		c.trip(err, "get")
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("discarding undecodable cache entry")
		telemetry.CacheRequestsTotal.WithLabelValues("miss").Inc()
		return false
	}
	telemetry.CacheRequestsTotal.WithLabelValues("hit").Inc()
	return true
}

func (c *Cache) set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.Available() {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal cache value: %w", err)
	}
	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		c.trip(err, "set")
		return err
	}
	return nil
}

// GetTwilight returns the cached morning twilight of a night.
func (c *Cache) GetTwilight(ctx context.Context, night string) (time.Time, bool) {
	var at time.Time
	if !c.get(ctx, KeyTwilight+night, &at) {
		return time.Time{}, false
	}
	return at, true
}

// SetTwilight caches the morning twilight of a night.
func (c *Cache) SetTwilight(ctx context.Context, night string, at time.Time) error {
	return c.set(ctx, KeyTwilight+night, at.UTC(), c.config.TwilightTTL)
}

// GetMoonPhase returns the cached illumination for the bucket containing t.
func (c *Cache) GetMoonPhase(ctx context.Context, t time.Time) (float64, bool) {
	var phase float64
	if !c.get(ctx, moonPhaseKey(t), &phase) {
		return 0, false
	}
	return phase, true
}

// SetMoonPhase caches the illumination for the bucket containing t.
func (c *Cache) SetMoonPhase(ctx context.Context, t time.Time, phase float64) error {
	return c.set(ctx, moonPhaseKey(t), phase, c.config.MoonPhaseTTL)
}

func moonPhaseKey(t time.Time) string {
	return KeyMoonPhase + strconv.FormatInt(t.Truncate(MoonPhaseBucket).Unix(), 10)
}
