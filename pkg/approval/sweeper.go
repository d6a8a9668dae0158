package approval

import (
	"context"
	"log/slog"
	"time"

	"github.com/atlasops/atlas/pkg/store"
)

// DefaultSweepInterval is how often the sweeper looks for stale pendings
// and over-retention audit records.
const DefaultSweepInterval = 60 * time.Second

// Sweeper is the background retention loop: it expires pending executions
// past their TTL and purges audit records past the retention window. All
// operations are idempotent and safe to run from multiple replicas.
type Sweeper struct {
	pendings       store.PendingStore
	audits         store.AuditStore
	interval       time.Duration
	auditRetention time.Duration
	logger         *slog.Logger
	now            func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper creates the retention loop. interval <= 0 uses
// DefaultSweepInterval; auditRetention <= 0 uses store.DefaultAuditRetention.
func NewSweeper(pendings store.PendingStore, audits store.AuditStore, interval, auditRetention time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if auditRetention <= 0 {
		auditRetention = store.DefaultAuditRetention
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		pendings:       pendings,
		audits:         audits,
		interval:       interval,
		auditRetention: auditRetention,
		logger:         logger.With("component", "sweeper"),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Start launches the background loop.
func (s *Sweeper) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	s.logger.Info("Sweeper started",
		"interval", s.interval,
		"audit_retention", s.auditRetention)
}

// Stop signals the loop to exit and waits for it to finish.
func (s *Sweeper) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.logger.Info("Sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context) {
	defer close(s.done)

	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep runs one pass: expire stale pendings, audit each expiry, purge old
// audit records.
func (s *Sweeper) sweep(ctx context.Context) {
	now := s.now()

	expired, err := s.pendings.ExpireStale(ctx, now)
	if err != nil {
		s.logger.Error("Pending expiry sweep failed", "error", err)
	}
	for _, p := range expired {
		decidedAt := now
		if p.DecidedAt != nil {
			decidedAt = *p.DecidedAt
		}
		rec := &store.AuditRecord{
			ExecutionID:    p.ExecutionID,
			ConversationID: p.ConversationID,
			Tool:           p.Tool,
			Params:         p.Params,
			Status:         store.AuditStatusExpired,
			RequestedAt:    p.CreatedAt,
			DecidedAt:      &decidedAt,
		}
		if err := s.audits.Record(ctx, rec); err != nil {
			s.logger.Error("Audit write failed for expired pending",
				"execution_id", p.ExecutionID, "error", err)
		}
	}
	if len(expired) > 0 {
		s.logger.Info("Expired stale pending executions", "count", len(expired))
	}

	purged, err := s.audits.Purge(ctx, now.Add(-s.auditRetention))
	if err != nil {
		s.logger.Error("Audit retention purge failed", "error", err)
	} else if purged > 0 {
		s.logger.Info("Purged audit records past retention", "count", purged)
	}
}
