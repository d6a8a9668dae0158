package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/atlasops/atlas/pkg/agent"
)

// MemoryConversationStore is the in-process conversation tier, used by
// tests and by deployments running without Redis. Snapshots are stored as
// serialized JSON so loads return independent copies, same as the Redis
// implementation.
type MemoryConversationStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
	meta  map[string]ConversationSummaryMeta
}

// ConversationSummaryMeta is the index entry kept alongside each blob.
type ConversationSummaryMeta struct {
	Title        string
	MessageCount int
	LastUpdated  time.Time
}

// NewMemoryConversationStore creates an empty in-memory conversation store.
func NewMemoryConversationStore() *MemoryConversationStore {
	return &MemoryConversationStore{
		blobs: make(map[string][]byte),
		meta:  make(map[string]ConversationSummaryMeta),
	}
}

// Save stores the snapshot and updates the recency index.
func (s *MemoryConversationStore) Save(_ context.Context, conv *agent.Conversation) error {
	blob, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("marshal conversation %s: %w", conv.ID, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[conv.ID] = blob
	s.meta[conv.ID] = ConversationSummaryMeta{
		Title:        conv.Title,
		MessageCount: len(conv.Turns),
		LastUpdated:  conv.UpdatedAt,
	}
	return nil
}

// Load returns the conversation or agent.ErrNotFound.
func (s *MemoryConversationStore) Load(_ context.Context, id string) (*agent.Conversation, error) {
	s.mu.RLock()
	blob, ok := s.blobs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, agent.ErrNotFound)
	}
	var conv agent.Conversation
	if err := json.Unmarshal(blob, &conv); err != nil {
		return nil, fmt.Errorf("unmarshal conversation %s: %w", id, err)
	}
	return &conv, nil
}

// Delete removes the conversation and its index entry.
func (s *MemoryConversationStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[id]; !ok {
		return fmt.Errorf("conversation %s: %w", id, agent.ErrNotFound)
	}
	delete(s.blobs, id)
	delete(s.meta, id)
	return nil
}

// List returns summaries sorted by recency, newest first.
func (s *MemoryConversationStore) List(_ context.Context) ([]agent.ConversationSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]agent.ConversationSummary, 0, len(s.meta))
	for id, m := range s.meta {
		out = append(out, agent.ConversationSummary{
			ID:           id,
			Title:        m.Title,
			MessageCount: m.MessageCount,
			LastUpdated:  m.LastUpdated,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastUpdated.Equal(out[j].LastUpdated) {
			return out[i].LastUpdated.After(out[j].LastUpdated)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// MemoryPendingStore keeps pending executions in process memory with
// lock-guarded compare-and-set transitions.
type MemoryPendingStore struct {
	mu      sync.Mutex
	records map[string]*PendingExecution
}

// NewMemoryPendingStore creates an empty pending store.
func NewMemoryPendingStore() *MemoryPendingStore {
	return &MemoryPendingStore{records: make(map[string]*PendingExecution)}
}

// Create stores a new pending record.
func (s *MemoryPendingStore) Create(_ context.Context, p *PendingExecution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[p.ExecutionID]; ok {
		return fmt.Errorf("pending %s: %w", p.ExecutionID, ErrDuplicate)
	}
	cp := *p
	cp.Status = PendingStatusPending
	s.records[p.ExecutionID] = &cp
	return nil
}

// Get returns a copy of the record or agent.ErrNotFound.
func (s *MemoryPendingStore) Get(_ context.Context, executionID string) (*PendingExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.records[executionID]
	if !ok {
		return nil, fmt.Errorf("pending %s: %w", executionID, agent.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

// Transition performs the CAS from pending to a terminal status.
func (s *MemoryPendingStore) Transition(_ context.Context, executionID string, to PendingStatus, decidedAt time.Time) (*PendingExecution, error) {
	if !to.Terminal() {
		return nil, fmt.Errorf("cannot transition pending %s to non-terminal status %q", executionID, to)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.records[executionID]
	if !ok {
		return nil, fmt.Errorf("pending %s: %w", executionID, agent.ErrNotFound)
	}
	if p.Status.Terminal() {
		return nil, fmt.Errorf("pending %s is %s: %w", executionID, p.Status, agent.ErrAlreadyDecided)
	}
	p.Status = to
	t := decidedAt
	p.DecidedAt = &t
	cp := *p
	return &cp, nil
}

// AttachResult stores the dispatched outcome on the record.
func (s *MemoryPendingStore) AttachResult(_ context.Context, executionID string, res agent.ToolResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.records[executionID]
	if !ok {
		return fmt.Errorf("pending %s: %w", executionID, agent.ErrNotFound)
	}
	p.Result = &res
	return nil
}

// ListPending returns undecided records, oldest first.
func (s *MemoryPendingStore) ListPending(_ context.Context) ([]*PendingExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*PendingExecution
	for _, p := range s.records {
		if p.Status == PendingStatusPending {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ExpireStale transitions overdue pending records to expired.
func (s *MemoryPendingStore) ExpireStale(_ context.Context, now time.Time) ([]*PendingExecution, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []*PendingExecution
	for _, p := range s.records {
		if p.Status == PendingStatusPending && now.After(p.ExpiresAt) {
			p.Status = PendingStatusExpired
			t := now
			p.DecidedAt = &t
			cp := *p
			expired = append(expired, &cp)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].CreatedAt.Before(expired[j].CreatedAt) })
	return expired, nil
}

// MemoryAuditStore is the in-process audit tier: write-once records,
// newest-first listing, cutoff-based purge.
type MemoryAuditStore struct {
	mu      sync.RWMutex
	records []*AuditRecord
	byID    map[string]struct{}
}

// NewMemoryAuditStore creates an empty audit store.
func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{byID: make(map[string]struct{})}
}

// Record appends one write-once entry.
func (s *MemoryAuditStore) Record(_ context.Context, rec *AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[rec.ExecutionID]; ok {
		return fmt.Errorf("audit %s: %w", rec.ExecutionID, ErrDuplicate)
	}
	cp := *rec
	s.records = append(s.records, &cp)
	s.byID[rec.ExecutionID] = struct{}{}
	return nil
}

// List returns up to limit records, newest first.
func (s *MemoryAuditStore) List(_ context.Context, limit int) ([]*AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(limit, func(*AuditRecord) bool { return true }), nil
}

// ListByConversation returns a conversation's records, newest first.
func (s *MemoryAuditStore) ListByConversation(_ context.Context, conversationID string, limit int) ([]*AuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collect(limit, func(r *AuditRecord) bool { return r.ConversationID == conversationID }), nil
}

func (s *MemoryAuditStore) collect(limit int, keep func(*AuditRecord) bool) []*AuditRecord {
	var out []*AuditRecord
	for i := len(s.records) - 1; i >= 0; i-- {
		if limit > 0 && len(out) >= limit {
			break
		}
		if keep(s.records[i]) {
			cp := *s.records[i]
			out = append(out, &cp)
		}
	}
	return out
}

// Purge drops records requested before the cutoff.
func (s *MemoryAuditStore) Purge(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.records[:0]
	dropped := 0
	for _, r := range s.records {
		if r.RequestedAt.Before(olderThan) {
			delete(s.byID, r.ExecutionID)
			dropped++
			continue
		}
		kept = append(kept, r)
	}
	s.records = kept
	return dropped, nil
}
