// Package store persists the engine's durable state: conversation
// snapshots, pending executions awaiting approval, and the append-only
// audit log. Two tiers exist — an ephemeral fast-access tier (Redis, or
// in-memory for tests and single-node runs) and a durable audit tier
// (PostgreSQL when configured, Redis otherwise).
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/atlasops/atlas/pkg/agent"
)

// ErrDuplicate is returned when a write-once record (an audit entry, a
// pending execution) already exists under the same identifier.
var ErrDuplicate = errors.New("record already exists")

// PendingStatus is the approval state of a suspended execution.
type PendingStatus string

const (
	PendingStatusPending  PendingStatus = "pending"
	PendingStatusApproved PendingStatus = "approved"
	PendingStatusRejected PendingStatus = "rejected"
	PendingStatusExpired  PendingStatus = "expired"
)

// Terminal reports whether no further transition is allowed from s.
func (s PendingStatus) Terminal() bool {
	return s == PendingStatusApproved || s == PendingStatusRejected || s == PendingStatusExpired
}

// DefaultPendingTTL is how long a suspended execution waits for a decision.
const DefaultPendingTTL = time.Hour

// PendingExecution is a suspended tool call awaiting a human decision.
// Mode and Model capture the loop state at suspension so an approval
// resumes the conversation exactly where it halted.
type PendingExecution struct {
	ExecutionID    string          `json:"execution_id"`
	ConversationID string          `json:"conversation_id"`
	CallID         string          `json:"call_id"`
	Tool           string          `json:"tool"`
	Params         json.RawMessage `json:"params"`
	Classification string          `json:"classification"`
	Mode           string          `json:"mode"`
	Model          string          `json:"model"`
	Status         PendingStatus   `json:"status"`
	CreatedAt      time.Time       `json:"created_at"`
	ExpiresAt      time.Time       `json:"expires_at"`
	DecidedAt      *time.Time      `json:"decided_at,omitempty"`

	// Result holds the dispatched outcome once an approved execution
	// completes, so an interrupted resume can still be reconciled.
	Result *agent.ToolResult `json:"result,omitempty"`
}

// PendingStore owns pending-execution records. Status transitions are
// atomic compare-and-set; terminal states are never left.
type PendingStore interface {
	// Create stores a new record in status pending. ErrDuplicate when the
	// execution ID is already taken.
	Create(ctx context.Context, p *PendingExecution) error

	// Get returns the record or agent.ErrNotFound.
	Get(ctx context.Context, executionID string) (*PendingExecution, error)

	// Transition moves the record from pending to a terminal status and
	// stamps decidedAt. Returns the updated record. agent.ErrAlreadyDecided
	// when the record is already terminal, agent.ErrNotFound when absent.
	Transition(ctx context.Context, executionID string, to PendingStatus, decidedAt time.Time) (*PendingExecution, error)

	// AttachResult stores the dispatched outcome on an approved record.
	AttachResult(ctx context.Context, executionID string, res agent.ToolResult) error

	// ListPending returns all records still awaiting a decision, oldest
	// first.
	ListPending(ctx context.Context) ([]*PendingExecution, error)

	// ExpireStale transitions every pending record whose TTL has passed to
	// expired and returns the transitioned records.
	ExpireStale(ctx context.Context, now time.Time) ([]*PendingExecution, error)
}

// AuditStatus is the final status of a recorded execution.
type AuditStatus string

const (
	AuditStatusSuccess  AuditStatus = "success"
	AuditStatusError    AuditStatus = "error"
	AuditStatusRejected AuditStatus = "rejected"
	AuditStatusExpired  AuditStatus = "expired"
)

// DefaultAuditRetention is how long audit records are kept.
const DefaultAuditRetention = 30 * 24 * time.Hour

// ResultPreviewLimit bounds the stored result preview.
const ResultPreviewLimit = 500

// AuditRecord is the write-once trail entry for one execution. Approver is
// empty for safe auto-executed calls, "user" for human decisions, and
// "auto" for dangerous calls executed under auto mode.
type AuditRecord struct {
	ExecutionID    string          `json:"execution_id"`
	ConversationID string          `json:"conversation_id"`
	Tool           string          `json:"tool"`
	Params         json.RawMessage `json:"params"`
	Approver       string          `json:"approver,omitempty"`
	Status         AuditStatus     `json:"status"`
	RequestedAt    time.Time       `json:"requested_at"`
	DecidedAt      *time.Time      `json:"decided_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	ResultBytes    int             `json:"result_bytes"`
	ResultPreview  string          `json:"result_preview,omitempty"`
}

// AuditStore is the append-only execution trail. Writers never block
// readers; records are immutable once written.
type AuditStore interface {
	// Record appends one entry. ErrDuplicate when the execution ID was
	// already recorded.
	Record(ctx context.Context, rec *AuditRecord) error

	// List returns the most recent records, newest first, up to limit.
	List(ctx context.Context, limit int) ([]*AuditRecord, error)

	// ListByConversation returns a conversation's records, newest first.
	ListByConversation(ctx context.Context, conversationID string, limit int) ([]*AuditRecord, error)

	// Purge removes records older than the cutoff and reports how many
	// were dropped. Stores with native TTLs may report zero.
	Purge(ctx context.Context, olderThan time.Time) (int, error)
}

// Preview truncates a result payload to the stored preview size.
func Preview(payload string) string {
	if len(payload) <= ResultPreviewLimit {
		return payload
	}
	return payload[:ResultPreviewLimit]
}
