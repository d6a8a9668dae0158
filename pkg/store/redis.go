package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/atlasops/atlas/pkg/agent"
)

// Key layout of the ephemeral tier:
//
//	conv:{id}                        conversation JSON blob, no TTL
//	conv:index                       ZSET of conversation IDs scored by last update
//	pending:{execution_id}           PendingExecution JSON, TTL = pending TTL + grace
//	audit:{YYYY-MM-DD}:{execution_id} AuditRecord JSON, TTL = retention (Redis audit mode)
const (
	convKeyPrefix    = "conv:"
	convIndexKey     = "conv:index"
	pendingKeyPrefix = "pending:"
	auditKeyPrefix   = "audit:"
)

// pendingKeyGrace keeps decided pending records readable after their TTL so
// late approvals surface AlreadyDecided instead of NotFound, and so the
// driver can reconcile expiries on re-entry.
const pendingKeyGrace = 24 * time.Hour

// RedisConversationStore keeps conversation snapshots in Redis with a ZSET
// recency index.
type RedisConversationStore struct {
	rdb *redis.Client
}

// NewRedisConversationStore wraps an existing Redis client.
func NewRedisConversationStore(rdb *redis.Client) *RedisConversationStore {
	return &RedisConversationStore{rdb: rdb}
}

func convKey(id string) string { return convKeyPrefix + id }

// Save writes the snapshot and bumps the index score.
func (s *RedisConversationStore) Save(ctx context.Context, conv *agent.Conversation) error {
	blob, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("marshal conversation %s: %w", conv.ID, err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, convKey(conv.ID), blob, 0)
	pipe.ZAdd(ctx, convIndexKey, redis.Z{
		Score:  float64(conv.UpdatedAt.UnixMilli()),
		Member: conv.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save conversation %s: %w", conv.ID, err)
	}
	return nil
}

// Load returns the conversation or agent.ErrNotFound.
func (s *RedisConversationStore) Load(ctx context.Context, id string) (*agent.Conversation, error) {
	blob, err := s.rdb.Get(ctx, convKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("conversation %s: %w", id, agent.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", id, err)
	}
	var conv agent.Conversation
	if err := json.Unmarshal(blob, &conv); err != nil {
		return nil, fmt.Errorf("unmarshal conversation %s: %w", id, err)
	}
	return &conv, nil
}

// Delete removes the blob and the index entry.
func (s *RedisConversationStore) Delete(ctx context.Context, id string) error {
	deleted, err := s.rdb.Del(ctx, convKey(id)).Result()
	if err != nil {
		return fmt.Errorf("delete conversation %s: %w", id, err)
	}
	if deleted == 0 {
		return fmt.Errorf("conversation %s: %w", id, agent.ErrNotFound)
	}
	if err := s.rdb.ZRem(ctx, convIndexKey, id).Err(); err != nil {
		return fmt.Errorf("unindex conversation %s: %w", id, err)
	}
	return nil
}

// List walks the index newest-first and renders summaries from the blobs.
// Index entries whose blob is gone are skipped.
func (s *RedisConversationStore) List(ctx context.Context) ([]agent.ConversationSummary, error) {
	ids, err := s.rdb.ZRevRange(ctx, convIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = convKey(id)
	}
	blobs, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("fetch conversation blobs: %w", err)
	}

	out := make([]agent.ConversationSummary, 0, len(ids))
	for i, raw := range blobs {
		str, ok := raw.(string)
		if !ok {
			continue
		}
		var conv agent.Conversation
		if err := json.Unmarshal([]byte(str), &conv); err != nil {
			continue
		}
		out = append(out, agent.ConversationSummary{
			ID:           ids[i],
			Title:        conv.Title,
			MessageCount: len(conv.Turns),
			LastUpdated:  conv.UpdatedAt,
		})
	}
	return out, nil
}

// RedisPendingStore keeps pending executions in Redis. Transitions run
// inside WATCH/MULTI so concurrent decisions on one execution serialise.
type RedisPendingStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisPendingStore wraps an existing Redis client. ttl <= 0 uses
// DefaultPendingTTL.
func NewRedisPendingStore(rdb *redis.Client, ttl time.Duration) *RedisPendingStore {
	if ttl <= 0 {
		ttl = DefaultPendingTTL
	}
	return &RedisPendingStore{rdb: rdb, ttl: ttl}
}

func pendingKey(executionID string) string { return pendingKeyPrefix + executionID }

// Create stores a new pending record under its TTL (plus the reconcile
// grace window).
func (s *RedisPendingStore) Create(ctx context.Context, p *PendingExecution) error {
	cp := *p
	cp.Status = PendingStatusPending
	blob, err := json.Marshal(&cp)
	if err != nil {
		return fmt.Errorf("marshal pending %s: %w", p.ExecutionID, err)
	}
	ok, err := s.rdb.SetNX(ctx, pendingKey(p.ExecutionID), blob, s.ttl+pendingKeyGrace).Result()
	if err != nil {
		return fmt.Errorf("create pending %s: %w", p.ExecutionID, err)
	}
	if !ok {
		return fmt.Errorf("pending %s: %w", p.ExecutionID, ErrDuplicate)
	}
	return nil
}

// Get returns the record or agent.ErrNotFound.
func (s *RedisPendingStore) Get(ctx context.Context, executionID string) (*PendingExecution, error) {
	blob, err := s.rdb.Get(ctx, pendingKey(executionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("pending %s: %w", executionID, agent.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load pending %s: %w", executionID, err)
	}
	var p PendingExecution
	if err := json.Unmarshal(blob, &p); err != nil {
		return nil, fmt.Errorf("unmarshal pending %s: %w", executionID, err)
	}
	return &p, nil
}

// Transition performs the CAS from pending to a terminal status under
// WATCH so racing decisions cannot both win.
func (s *RedisPendingStore) Transition(ctx context.Context, executionID string, to PendingStatus, decidedAt time.Time) (*PendingExecution, error) {
	if !to.Terminal() {
		return nil, fmt.Errorf("cannot transition pending %s to non-terminal status %q", executionID, to)
	}

	var updated *PendingExecution
	key := pendingKey(executionID)
	txn := func(tx *redis.Tx) error {
		blob, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("pending %s: %w", executionID, agent.ErrNotFound)
		}
		if err != nil {
			return err
		}
		var p PendingExecution
		if err := json.Unmarshal(blob, &p); err != nil {
			return fmt.Errorf("unmarshal pending %s: %w", executionID, err)
		}
		if p.Status.Terminal() {
			return fmt.Errorf("pending %s is %s: %w", executionID, p.Status, agent.ErrAlreadyDecided)
		}
		p.Status = to
		t := decidedAt
		p.DecidedAt = &t
		next, err := json.Marshal(&p)
		if err != nil {
			return fmt.Errorf("marshal pending %s: %w", executionID, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, redis.KeepTTL)
			return nil
		})
		if err != nil {
			return err
		}
		updated = &p
		return nil
	}

	for attempt := 0; attempt < 3; attempt++ {
		err := s.rdb.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, fmt.Errorf("transition pending %s: %w", executionID, redis.TxFailedErr)
}

// AttachResult stores the dispatched outcome on the record.
func (s *RedisPendingStore) AttachResult(ctx context.Context, executionID string, res agent.ToolResult) error {
	key := pendingKey(executionID)
	txn := func(tx *redis.Tx) error {
		blob, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return fmt.Errorf("pending %s: %w", executionID, agent.ErrNotFound)
		}
		if err != nil {
			return err
		}
		var p PendingExecution
		if err := json.Unmarshal(blob, &p); err != nil {
			return fmt.Errorf("unmarshal pending %s: %w", executionID, err)
		}
		p.Result = &res
		next, err := json.Marshal(&p)
		if err != nil {
			return fmt.Errorf("marshal pending %s: %w", executionID, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, redis.KeepTTL)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < 3; attempt++ {
		err := s.rdb.Watch(ctx, txn, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("attach result to pending %s: %w", executionID, redis.TxFailedErr)
}

// ListPending scans pending keys and returns undecided records, oldest
// first.
func (s *RedisPendingStore) ListPending(ctx context.Context) ([]*PendingExecution, error) {
	records, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}
	var out []*PendingExecution
	for _, p := range records {
		if p.Status == PendingStatusPending {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ExpireStale transitions overdue pending records to expired.
func (s *RedisPendingStore) ExpireStale(ctx context.Context, now time.Time) ([]*PendingExecution, error) {
	records, err := s.scan(ctx)
	if err != nil {
		return nil, err
	}
	var expired []*PendingExecution
	for _, p := range records {
		if p.Status != PendingStatusPending || !now.After(p.ExpiresAt) {
			continue
		}
		updated, err := s.Transition(ctx, p.ExecutionID, PendingStatusExpired, now)
		if err != nil {
			// Lost the race against a concurrent decision or sweeper.
			if errors.Is(err, agent.ErrAlreadyDecided) || errors.Is(err, agent.ErrNotFound) {
				continue
			}
			return expired, err
		}
		expired = append(expired, updated)
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].CreatedAt.Before(expired[j].CreatedAt) })
	return expired, nil
}

func (s *RedisPendingStore) scan(ctx context.Context) ([]*PendingExecution, error) {
	var out []*PendingExecution
	iter := s.rdb.Scan(ctx, 0, pendingKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		blob, err := s.rdb.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("scan pending: %w", err)
		}
		var p PendingExecution
		if err := json.Unmarshal(blob, &p); err != nil {
			continue
		}
		out = append(out, &p)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan pending: %w", err)
	}
	return out, nil
}

// RedisAuditStore is the audit tier used when no PostgreSQL is configured:
// one key per record, date-bucketed, expiring with the retention window.
type RedisAuditStore struct {
	rdb       *redis.Client
	retention time.Duration
}

// NewRedisAuditStore wraps an existing Redis client. retention <= 0 uses
// DefaultAuditRetention.
func NewRedisAuditStore(rdb *redis.Client, retention time.Duration) *RedisAuditStore {
	if retention <= 0 {
		retention = DefaultAuditRetention
	}
	return &RedisAuditStore{rdb: rdb, retention: retention}
}

func auditKey(requestedAt time.Time, executionID string) string {
	return auditKeyPrefix + requestedAt.UTC().Format("2006-01-02") + ":" + executionID
}

// Record appends one write-once entry under the retention TTL.
func (s *RedisAuditStore) Record(ctx context.Context, rec *AuditRecord) error {
	blob, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit %s: %w", rec.ExecutionID, err)
	}
	ok, err := s.rdb.SetNX(ctx, auditKey(rec.RequestedAt, rec.ExecutionID), blob, s.retention).Result()
	if err != nil {
		return fmt.Errorf("record audit %s: %w", rec.ExecutionID, err)
	}
	if !ok {
		return fmt.Errorf("audit %s: %w", rec.ExecutionID, ErrDuplicate)
	}
	return nil
}

// List returns up to limit records, newest first.
func (s *RedisAuditStore) List(ctx context.Context, limit int) ([]*AuditRecord, error) {
	return s.collect(ctx, limit, func(*AuditRecord) bool { return true })
}

// ListByConversation returns a conversation's records, newest first.
func (s *RedisAuditStore) ListByConversation(ctx context.Context, conversationID string, limit int) ([]*AuditRecord, error) {
	return s.collect(ctx, limit, func(r *AuditRecord) bool { return r.ConversationID == conversationID })
}

func (s *RedisAuditStore) collect(ctx context.Context, limit int, keep func(*AuditRecord) bool) ([]*AuditRecord, error) {
	var out []*AuditRecord
	iter := s.rdb.Scan(ctx, 0, auditKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		blob, err := s.rdb.Get(ctx, iter.Val()).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("scan audit: %w", err)
		}
		var rec AuditRecord
		if err := json.Unmarshal(blob, &rec); err != nil {
			continue
		}
		if keep(&rec) {
			out = append(out, &rec)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan audit: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.After(out[j].RequestedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Purge is a no-op: Redis audit keys expire with their TTL.
func (s *RedisAuditStore) Purge(context.Context, time.Time) (int, error) {
	return 0, nil
}
