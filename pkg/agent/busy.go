package agent

import "sync"

// busyRegistry guards driver entry per conversation. A conversation is busy
// while a loop runs on its behalf; concurrent chats fail fast with
// ErrConversationBusy rather than queueing, so callers always know the
// ordering of their own messages.
type busyRegistry struct {
	mu     sync.Mutex
	active map[string]struct{}
}

func newBusyRegistry() *busyRegistry {
	return &busyRegistry{active: make(map[string]struct{})}
}

// acquire marks the conversation busy. Returns false when already busy.
func (b *busyRegistry) acquire(conversationID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.active[conversationID]; ok {
		return false
	}
	b.active[conversationID] = struct{}{}
	return true
}

func (b *busyRegistry) release(conversationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.active, conversationID)
}
