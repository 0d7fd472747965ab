// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

// Package redis provides the Redis-backed session store used when the proxy
// runs as multiple replicas behind a load balancer.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/go-core-stack/mcp-oidc-proxy/pkg/session"
)

// Config holds Redis connection settings.
type Config struct {
	// URL is a redis:// connection string.
	URL string
	// KeyPrefix namespaces all session keys.
	KeyPrefix string
	// DialTimeout bounds the initial connection probe.
	DialTimeout time.Duration
}

// Store implements session.Store on top of a Redis server. Expiry is
// delegated to Redis TTLs, so Cleanup is a no-op.
type Store struct {
	client    *goredis.Client
	keyPrefix string
	logger    zerolog.Logger
}

// New connects to Redis and verifies the connection with a ping.
func New(cfg Config, logger zerolog.Logger) (*Store, error) {
	opt, err := goredis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := goredis.NewClient(opt)

	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "session:"
	}

	return &Store{
		client:    client,
		keyPrefix: prefix,
		logger:    logger.With().Str("component", "session-redis").Logger(),
	}, nil
}

func (s *Store) key(key string) string {
	return s.keyPrefix + key
}

func (s *Store) counter(name string) string {
	return s.keyPrefix + "counter:" + name
}

// Create implements session.Store.
func (s *Store) Create(ctx context.Context, key string, data any, ttl time.Duration) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal session data: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.key(key), raw, ttl).Result()
	if err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return session.ErrExists
	}

	if err := s.client.Incr(ctx, s.counter("created")).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("increment created counter failed")
	}
	return nil
}

// Get implements session.Store. Redis cannot distinguish expired keys from
// missing ones, so both surface as ErrNotFound.
func (s *Store) Get(ctx context.Context, key string, data any) error {
	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return session.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("redis get: %w", err)
	}
	if err := json.Unmarshal(raw, data); err != nil {
		return fmt.Errorf("unmarshal session data: %w", err)
	}
	return nil
}

// Update implements session.Store, preserving the remaining TTL.
func (s *Store) Update(ctx context.Context, key string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal session data: %w", err)
	}

	res, err := s.client.SetXX(ctx, s.key(key), raw, goredis.KeepTTL).Result()
	if err != nil {
		return fmt.Errorf("redis setxx: %w", err)
	}
	if !res {
		return session.ErrNotFound
	}
	return nil
}

// Delete implements session.Store.
func (s *Store) Delete(ctx context.Context, key string) error {
	n, err := s.client.Del(ctx, s.key(key)).Result()
	if err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	if n == 0 {
		return session.ErrNotFound
	}

	if err := s.client.Incr(ctx, s.counter("deleted")).Err(); err != nil {
		s.logger.Warn().Err(err).Msg("increment deleted counter failed")
	}
	return nil
}

// Exists implements session.Store.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(key)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists: %w", err)
	}
	return n > 0, nil
}

// Refresh implements session.Store.
func (s *Store) Refresh(ctx context.Context, key string, ttl time.Duration) error {
	var (
		ok  bool
		err error
	)
	if ttl > 0 {
		ok, err = s.client.Expire(ctx, s.key(key), ttl).Result()
	} else {
		ok, err = s.client.Persist(ctx, s.key(key)).Result()
	}
	if err != nil {
		return fmt.Errorf("redis expire: %w", err)
	}
	if !ok && ttl > 0 {
		return session.ErrNotFound
	}
	return nil
}

// Cleanup implements session.Store; Redis expires keys on its own.
func (s *Store) Cleanup(ctx context.Context) error {
	return nil
}

// Stats implements session.Store by scanning the key prefix.
func (s *Store) Stats(ctx context.Context) (session.Stats, error) {
	var active int64
	counterPrefix := s.counter("")
	iter := s.client.Scan(ctx, 0, s.keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		// Counter keys share the prefix but are not sessions.
		if strings.HasPrefix(iter.Val(), counterPrefix) {
			continue
		}
		active++
	}
	if err := iter.Err(); err != nil {
		return session.Stats{}, fmt.Errorf("redis scan: %w", err)
	}

	created, _ := s.client.Get(ctx, s.counter("created")).Int64()
	deleted, _ := s.client.Get(ctx, s.counter("deleted")).Int64()

	return session.Stats{
		ActiveSessions: active,
		TotalCreated:   created,
		TotalDeleted:   deleted,
		Backend:        "redis",
	}, nil
}

// Close releases the Redis connection pool.
func (s *Store) Close() error {
	return s.client.Close()
}
