// Package redisstore persists tracking state in Redis, for deployments that
// run duesync without a local disk.
package redisstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"duesync/internal/tracking"
)

const (
	// DefaultURL is the default Redis connection URL.
	DefaultURL = "redis://localhost:6379"
	// DefaultPrefix namespaces every key written by duesync.
	DefaultPrefix = "duesync:"

	pingTimeout = 2 * time.Second
)

var _ tracking.Persister = (*Store)(nil)

// Store keeps the extension ledger, processed triggers and due date
// assignments under a key prefix.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
}

// Open connects to the Redis server at rawURL and verifies the connection.
func Open(ctx context.Context, rawURL, prefix string) (*Store, error) {
	if strings.TrimSpace(rawURL) == "" {
		rawURL = DefaultURL
	}
	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return New(rdb, prefix), nil
}

// New wraps an existing client.
func New(rdb redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{rdb: rdb, prefix: prefix}
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.rdb.Close()
}

func (s *Store) extensionKey(affected string) string { return s.prefix + "ext:" + affected }
func (s *Store) extendedKey() string { return s.prefix + "extended" }
func (s *Store) processedKey() string { return s.prefix + "processed" }
func (s *Store) assignmentsKey() string { return s.prefix + "assignments" }
func (s *Store) secretsKey() string { return s.prefix + "webhook_secrets" }

// Load reads the full tracking state.
func (s *Store) Load(ctx context.Context) (tracking.Snapshot, error) {
	snap := tracking.Snapshot{
		Extensions:  make(map[string][]string),
		Assignments: make(map[string]string),
	}

	affected, err := s.rdb.SMembers(ctx, s.extendedKey()).Result()
	if err != nil {
		return snap, err
	}
	for _, task := range affected {
		triggers, err := s.rdb.SMembers(ctx, s.extensionKey(task)).Result()
		if err != nil {
			return snap, err
		}
		if len(triggers) == 0 {
			continue
		}
		sort.Strings(triggers)
		snap.Extensions[task] = triggers
	}

	processed, err := s.rdb.SMembers(ctx, s.processedKey()).Result()
	if err != nil {
		return snap, err
	}
	sort.Strings(processed)
	snap.Processed = processed

	assignments, err := s.rdb.HGetAll(ctx, s.assignmentsKey()).Result()
	if err != nil {
		return snap, err
	}
	for task, due := range assignments {
		snap.Assignments[task] = due
	}
	return snap, nil
}

// SaveExtension records that trigger extended affected.
func (s *Store) SaveExtension(ctx context.Context, affected, trigger string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, s.extensionKey(affected), trigger)
		pipe.SAdd(ctx, s.extendedKey(), affected)
		return nil
	})
	return err
}

// DeleteExtension removes one extension pair, dropping affected from the
// index once no trigger remains.
func (s *Store) DeleteExtension(ctx context.Context, affected, trigger string) error {
	key := s.extensionKey(affected)
	if err := s.rdb.SRem(ctx, key, trigger).Err(); err != nil {
		return err
	}
	remaining, err := s.rdb.SCard(ctx, key).Result()
	if err != nil {
		return err
	}
	if remaining == 0 {
		return s.rdb.SRem(ctx, s.extendedKey(), affected).Err()
	}
	return nil
}

// SaveProcessed marks a trigger entry as handled.
func (s *Store) SaveProcessed(ctx context.Context, trigger string) error {
	return s.rdb.SAdd(ctx, s.processedKey(), trigger).Err()
}

// DeleteProcessed clears a processed trigger.
func (s *Store) DeleteProcessed(ctx context.Context, trigger string) error {
	return s.rdb.SRem(ctx, s.processedKey(), trigger).Err()
}

// SaveAssignment stores the due date duesync last wrote for task.
func (s *Store) SaveAssignment(ctx context.Context, task, dueOn string) error {
	return s.rdb.HSet(ctx, s.assignmentsKey(), task, dueOn).Err()
}

// DeleteAssignment forgets the due date duesync wrote for task.
func (s *Store) DeleteAssignment(ctx context.Context, task string) error {
	return s.rdb.HDel(ctx, s.assignmentsKey(), task).Err()
}

// SaveWebhookSecret stores the handshake secret under name.
func (s *Store) SaveWebhookSecret(ctx context.Context, name, secret string) error {
	return s.rdb.HSet(ctx, s.secretsKey(), name, secret).Err()
}

// WebhookSecret returns the stored secret for name, or "" if none.
func (s *Store) WebhookSecret(ctx context.Context, name string) (string, error) {
	secret, err := s.rdb.HGet(ctx, s.secretsKey(), name).Result()
	if err == redis.Nil {
		return "", nil
	}
	return secret, err
}
