// Package memory keeps short free-text summaries of past operations and
// recalls the ones relevant to a new request. Entries live in Redis (or
// an in-process list) with a bounded length and a retention TTL; recall
// is keyword overlap with a recency bonus, not semantic search.
package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// maxEntriesPerCategory bounds each category's list; older entries
	// fall off the tail.
	maxEntriesPerCategory = 200

	// retention is how long an untouched category survives.
	retention = 30 * 24 * time.Hour

	keyPrefix = "memory:"
)

// Engine implements agent.MemoryRecaller over a category-keyed entry
// store.
type Engine struct {
	store  entryStore
	logger *slog.Logger
}

// entryStore holds newest-first entry lists per category.
type entryStore interface {
	push(ctx context.Context, category, text string) error
	entries(ctx context.Context, category string) ([]string, error)
	categories(ctx context.Context) ([]string, error)
}

// NewRedisEngine stores memories in Redis lists keyed by category.
func NewRedisEngine(rdb *redis.Client, logger *slog.Logger) *Engine {
	return &Engine{
		store:  &redisEntries{rdb: rdb},
		logger: logger.With("component", "memory"),
	}
}

// NewInProcessEngine keeps memories in process memory. Used when Redis
// is not configured; memories do not survive a restart.
func NewInProcessEngine(logger *slog.Logger) *Engine {
	return &Engine{
		store:  &localEntries{byCategory: make(map[string][]string)},
		logger: logger.With("component", "memory"),
	}
}

// Remember records one summary under a category.
func (e *Engine) Remember(ctx context.Context, category, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if category == "" {
		category = "general"
	}
	if err := e.store.push(ctx, category, text); err != nil {
		return fmt.Errorf("store memory: %w", err)
	}
	e.logger.Debug("Memory recorded", "category", category, "length", len(text))
	return nil
}

// Recall returns up to limit entries relevant to the query, across all
// categories, best match first.
func (e *Engine) Recall(ctx context.Context, query string, limit int) ([]string, error) {
	cats, err := e.store.categories(ctx)
	if err != nil {
		return nil, fmt.Errorf("list memory categories: %w", err)
	}
	var all []string
	for _, cat := range cats {
		entries, err := e.store.entries(ctx, cat)
		if err != nil {
			return nil, fmt.Errorf("read memory category %s: %w", cat, err)
		}
		all = append(all, entries...)
	}
	matches := rank(query, all, limit)
	e.logger.Debug("Memory recall", "candidates", len(all), "matched", len(matches))
	return matches, nil
}

type redisEntries struct {
	rdb *redis.Client
}

func (s *redisEntries) push(ctx context.Context, category, text string) error {
	key := keyPrefix + category
	pipe := s.rdb.TxPipeline()
	pipe.LPush(ctx, key, text)
	pipe.LTrim(ctx, key, 0, maxEntriesPerCategory-1)
	pipe.Expire(ctx, key, retention)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *redisEntries) entries(ctx context.Context, category string) ([]string, error) {
	return s.rdb.LRange(ctx, keyPrefix+category, 0, -1).Result()
}

func (s *redisEntries) categories(ctx context.Context) ([]string, error) {
	var cats []string
	iter := s.rdb.Scan(ctx, 0, keyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		cats = append(cats, strings.TrimPrefix(iter.Val(), keyPrefix))
	}
	return cats, iter.Err()
}

type localEntries struct {
	mu         sync.RWMutex
	byCategory map[string][]string
}

func (s *localEntries) push(_ context.Context, category, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := append([]string{text}, s.byCategory[category]...)
	if len(entries) > maxEntriesPerCategory {
		entries = entries[:maxEntriesPerCategory]
	}
	s.byCategory[category] = entries
	return nil
}

func (s *localEntries) entries(_ context.Context, category string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.byCategory[category]
	out := make([]string, len(entries))
	copy(out, entries)
	return out, nil
}

func (s *localEntries) categories(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cats := make([]string, 0, len(s.byCategory))
	for cat := range s.byCategory {
		cats = append(cats, cat)
	}
	return cats, nil
}
