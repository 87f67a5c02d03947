// Package checkpoint persists survey session state to Redis so that any
// stateless replica can resume any session.
//
// Key layout (prefix is configurable):
//
//	{prefix}checkpoint:{thread_id}:{checkpoint_id}  serialized state blob
//	{prefix}list:{thread_id}                        sorted set of checkpoint ids, score = creation time
//	{prefix}thread:{thread_id}                      hash: latest_checkpoint, updated_at
//
// Every write refreshes the TTL on all three keys. Purge combines the index
// with a SCAN pass because a crash mid-write can leave checkpoint records
// with no index entry.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/surveyease/surveyease/pkg/state"
)

// scanBatchSize bounds each SCAN iteration.
const scanBatchSize = 100

// Meta describes one checkpoint in a thread's index.
type Meta struct {
	CheckpointID string    `json:"checkpoint_id"`
	ThreadID     string    `json:"thread_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// Store is a Redis-backed checkpoint store. It works against both a
// single-node client and a cluster client via redis.UniversalClient.
type Store struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	serde  *state.Serializer
}

// NewStore creates a Store. Connectivity is probed once; a probe failure is
// logged but does not prevent startup; the first real operation surfaces
// any persistent connectivity problem.
func NewStore(client redis.UniversalClient, keyPrefix string, ttl time.Duration) *Store {
	s := &Store{
		client: client,
		prefix: keyPrefix,
		ttl:    ttl,
		serde:  state.NewSerializer(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		slog.Warn("Checkpoint store ping failed, continuing anyway", "error", err)
	} else {
		slog.Info("Checkpoint store initialized", "key_prefix", keyPrefix, "ttl", ttl)
	}
	return s
}

// Ping probes Redis connectivity, used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) threadKey(threadID string) string {
	return s.prefix + "thread:" + threadID
}

func (s *Store) listKey(threadID string) string {
	return s.prefix + "list:" + threadID
}

func (s *Store) checkpointKey(threadID, checkpointID string) string {
	return s.prefix + "checkpoint:" + threadID + ":" + checkpointID
}

// Put serializes the state and writes a new checkpoint. Returns the new
// checkpoint id. Put errors are fatal to the current request.
func (s *Store) Put(ctx context.Context, threadID string, st *state.SessionState) (string, error) {
	if threadID == "" {
		return "", fmt.Errorf("thread_id is required")
	}

	blob, err := s.serde.Encode(st)
	if err != nil {
		return "", fmt.Errorf("failed to serialize checkpoint: %w", err)
	}

	now := time.Now().UTC()
	// The uuid suffix keeps ids unique when two writes land in the same
	// microsecond.
	checkpointID := fmt.Sprintf("checkpoint_%d_%s", now.UnixMicro(), uuid.NewString()[:8])

	if err := s.client.Set(ctx, s.checkpointKey(threadID, checkpointID), blob, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("failed to write checkpoint record: %w", err)
	}

	listKey := s.listKey(threadID)
	if err := s.client.ZAdd(ctx, listKey, redis.Z{
		Score:  float64(now.UnixNano()) / float64(time.Second),
		Member: checkpointID,
	}).Err(); err != nil {
		return "", fmt.Errorf("failed to index checkpoint: %w", err)
	}
	if s.ttl > 0 {
		if err := s.client.Expire(ctx, listKey, s.ttl).Err(); err != nil {
			return "", fmt.Errorf("failed to refresh index TTL: %w", err)
		}
	}

	threadKey := s.threadKey(threadID)
	if err := s.client.HSet(ctx, threadKey, map[string]any{
		"latest_checkpoint": checkpointID,
		"updated_at":        now.Format(time.RFC3339Nano),
	}).Err(); err != nil {
		return "", fmt.Errorf("failed to update thread summary: %w", err)
	}
	if s.ttl > 0 {
		if err := s.client.Expire(ctx, threadKey, s.ttl).Err(); err != nil {
			return "", fmt.Errorf("failed to refresh thread TTL: %w", err)
		}
	}

	slog.Debug("Checkpoint saved", "thread_id", threadID, "checkpoint_id", checkpointID)
	return checkpointID, nil
}

// GetLatest returns the most recent checkpoint state for a thread, or
// (nil, nil) when the thread has no recoverable checkpoint.
func (s *Store) GetLatest(ctx context.Context, threadID string) (*state.SessionState, error) {
	checkpointID, err := s.latestCheckpointID(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if checkpointID == "" {
		return nil, nil
	}

	blob, err := s.client.Get(ctx, s.checkpointKey(threadID, checkpointID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read checkpoint %s: %w", checkpointID, err)
	}

	st, err := s.serde.Decode(blob)
	if err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint %s: %w", checkpointID, err)
	}
	return st, nil
}

// latestCheckpointID consults the thread summary first and falls back to the
// highest-scored index entry.
func (s *Store) latestCheckpointID(ctx context.Context, threadID string) (string, error) {
	latest, err := s.client.HGet(ctx, s.threadKey(threadID), "latest_checkpoint").Result()
	if err == nil && latest != "" {
		return latest, nil
	}
	if err != nil && !errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("failed to read thread summary: %w", err)
	}

	ids, err := s.client.ZRevRange(ctx, s.listKey(threadID), 0, 0).Result()
	if err != nil {
		return "", fmt.Errorf("failed to read checkpoint index: %w", err)
	}
	if len(ids) == 0 {
		return "", nil
	}
	return ids[0], nil
}

// List walks the checkpoint index in descending creation order. A non-empty
// before restricts results to checkpoints strictly older than that id.
func (s *Store) List(ctx context.Context, threadID, before string, limit int64) ([]Meta, error) {
	listKey := s.listKey(threadID)

	var ids []string
	var err error
	if before != "" {
		score, zerr := s.client.ZScore(ctx, listKey, before).Result()
		if errors.Is(zerr, redis.Nil) {
			return nil, nil
		}
		if zerr != nil {
			return nil, fmt.Errorf("failed to resolve before cursor: %w", zerr)
		}
		count := limit
		if count <= 0 {
			count = scanBatchSize
		}
		ids, err = s.client.ZRevRangeByScore(ctx, listKey, &redis.ZRangeBy{
			Max:   "(" + strconv.FormatFloat(score, 'f', -1, 64),
			Min:   "-inf",
			Count: count,
		}).Result()
	} else {
		stop := int64(-1)
		if limit > 0 {
			stop = limit - 1
		}
		ids, err = s.client.ZRevRange(ctx, listKey, 0, stop).Result()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}

	metas := make([]Meta, 0, len(ids))
	for _, id := range ids {
		score, zerr := s.client.ZScore(ctx, listKey, id).Result()
		if zerr != nil {
			slog.Warn("Failed to score checkpoint index entry", "thread_id", threadID, "checkpoint_id", id, "error", zerr)
			continue
		}
		metas = append(metas, Meta{
			CheckpointID: id,
			ThreadID:     threadID,
			CreatedAt:    time.Unix(0, int64(score*float64(time.Second))).UTC(),
		})
	}
	return metas, nil
}

// Purge removes every key belonging to a thread: indexed checkpoints, the
// index, the thread summary, and any orphaned checkpoint records found by
// pattern scan. Returns the number of keys deleted.
func (s *Store) Purge(ctx context.Context, threadID string) (int, error) {
	deleted := make(map[string]bool)

	// Indexed checkpoints first.
	listKey := s.listKey(threadID)
	ids, err := s.client.ZRange(ctx, listKey, 0, -1).Result()
	if err != nil {
		slog.Debug("Failed to read checkpoint index during purge", "thread_id", threadID, "error", err)
	}
	for _, id := range ids {
		key := s.checkpointKey(threadID, id)
		if s.deleteKey(ctx, key) {
			deleted[key] = true
		}
	}

	// Pattern scan catches orphans written without an index entry.
	patterns := []string{
		s.prefix + "checkpoint:" + threadID + ":*",
		s.prefix + "list:" + threadID,
		s.prefix + "thread:" + threadID,
	}
	for _, pattern := range patterns {
		keys, scanErr := s.scanKeys(ctx, pattern)
		if scanErr != nil {
			slog.Debug("Key scan failed during purge", "pattern", pattern, "error", scanErr)
			continue
		}
		for _, key := range keys {
			if !deleted[key] && s.deleteKey(ctx, key) {
				deleted[key] = true
			}
		}
	}

	if s.deleteKey(ctx, listKey) {
		deleted[listKey] = true
	}
	threadKey := s.threadKey(threadID)
	if s.deleteKey(ctx, threadKey) {
		deleted[threadKey] = true
	}

	slog.Info("Purged thread state", "thread_id", threadID, "keys_deleted", len(deleted))
	return len(deleted), nil
}

func (s *Store) deleteKey(ctx context.Context, key string) bool {
	n, err := s.client.Del(ctx, key).Result()
	if err != nil {
		slog.Debug("Failed to delete key during purge", "key", key, "error", err)
		return false
	}
	return n > 0
}

// scanKeys runs a cursor-based SCAN for the pattern. On a cluster client the
// scan visits every primary node, since keys for one thread may hash to
// different slots.
func (s *Store) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	if cluster, ok := s.client.(*redis.ClusterClient); ok {
		var mu sync.Mutex
		seen := make(map[string]bool)
		err := cluster.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
			keys, scanErr := scanNode(ctx, node, pattern)
			if scanErr != nil {
				slog.Debug("Scan failed on cluster node", "pattern", pattern, "error", scanErr)
				return nil // keep scanning the remaining primaries
			}
			mu.Lock()
			for _, k := range keys {
				seen[k] = true
			}
			mu.Unlock()
			return nil
		})
		if err != nil {
			return nil, err
		}
		keys := make([]string, 0, len(seen))
		for k := range seen {
			keys = append(keys, k)
		}
		return keys, nil
	}
	return scanNode(ctx, s.client, pattern)
}

func scanNode(ctx context.Context, client redis.UniversalClient, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := client.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			return keys, err
		}
		keys = append(keys, batch...)
		if next == 0 {
			return keys, nil
		}
		cursor = next
	}
}
