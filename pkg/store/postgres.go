package store

import (
	"context"
	stdsql "database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql

	"github.com/atlasops/atlas/pkg/agent"
)

//go:embed migrations
var migrationsFS embed.FS

// PostgresAuditStore is the durable audit tier: an append-only table with
// indexes on conversation ID and requested time, schema managed by
// embedded migrations.
type PostgresAuditStore struct {
	db *stdsql.DB
}

// NewPostgresAuditStore connects with the pgx stdlib driver, verifies the
// connection, and applies pending migrations.
func NewPostgresAuditStore(ctx context.Context, dsn string) (*PostgresAuditStore, error) {
	db, err := stdsql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresAuditStore{db: db}, nil
}

// NewPostgresAuditStoreFromDB wraps an existing connection and applies
// migrations. Used by tests running against a testcontainer.
func NewPostgresAuditStoreFromDB(db *stdsql.DB) (*PostgresAuditStore, error) {
	if err := runMigrations(db); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &PostgresAuditStore{db: db}, nil
}

// DB exposes the underlying connection for health checks.
func (s *PostgresAuditStore) DB() *stdsql.DB { return s.db }

// Close releases the connection pool.
func (s *PostgresAuditStore) Close() error { return s.db.Close() }

func runMigrations(db *stdsql.DB) error {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	src, err := iofs.New(sub, ".")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Record appends one write-once entry.
func (s *PostgresAuditStore) Record(ctx context.Context, rec *AuditRecord) error {
	const q = `
		INSERT INTO audit_records
			(execution_id, conversation_id, tool, params, approver, status,
			 requested_at, decided_at, completed_at, result_bytes, result_preview)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (execution_id) DO NOTHING`
	res, err := s.db.ExecContext(ctx, q,
		rec.ExecutionID, rec.ConversationID, rec.Tool, string(rec.Params),
		rec.Approver, string(rec.Status), rec.RequestedAt, rec.DecidedAt,
		rec.CompletedAt, rec.ResultBytes, rec.ResultPreview)
	if err != nil {
		return fmt.Errorf("insert audit %s: %w", rec.ExecutionID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert audit %s: %w", rec.ExecutionID, err)
	}
	if rows == 0 {
		return fmt.Errorf("audit %s: %w", rec.ExecutionID, ErrDuplicate)
	}
	return nil
}

// List returns up to limit records, newest first.
func (s *PostgresAuditStore) List(ctx context.Context, limit int) ([]*AuditRecord, error) {
	const q = `
		SELECT execution_id, conversation_id, tool, params, approver, status,
		       requested_at, decided_at, completed_at, result_bytes, result_preview
		FROM audit_records
		ORDER BY requested_at DESC
		LIMIT $1`
	return s.query(ctx, q, normalizeLimit(limit))
}

// ListByConversation returns a conversation's records, newest first.
func (s *PostgresAuditStore) ListByConversation(ctx context.Context, conversationID string, limit int) ([]*AuditRecord, error) {
	const q = `
		SELECT execution_id, conversation_id, tool, params, approver, status,
		       requested_at, decided_at, completed_at, result_bytes, result_preview
		FROM audit_records
		WHERE conversation_id = $1
		ORDER BY requested_at DESC
		LIMIT $2`
	return s.query(ctx, q, conversationID, normalizeLimit(limit))
}

// Purge removes records requested before the cutoff.
func (s *PostgresAuditStore) Purge(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM audit_records WHERE requested_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("purge audit records: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge audit records: %w", err)
	}
	return int(rows), nil
}

// Get returns one record by execution ID or agent.ErrNotFound.
func (s *PostgresAuditStore) Get(ctx context.Context, executionID string) (*AuditRecord, error) {
	const q = `
		SELECT execution_id, conversation_id, tool, params, approver, status,
		       requested_at, decided_at, completed_at, result_bytes, result_preview
		FROM audit_records
		WHERE execution_id = $1`
	records, err := s.query(ctx, q, executionID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("audit %s: %w", executionID, agent.ErrNotFound)
	}
	return records[0], nil
}

func (s *PostgresAuditStore) query(ctx context.Context, q string, args ...any) ([]*AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*AuditRecord
	for rows.Next() {
		var rec AuditRecord
		var params string
		if err := rows.Scan(&rec.ExecutionID, &rec.ConversationID, &rec.Tool,
			&params, &rec.Approver, &rec.Status, &rec.RequestedAt,
			&rec.DecidedAt, &rec.CompletedAt, &rec.ResultBytes, &rec.ResultPreview); err != nil {
			return nil, fmt.Errorf("scan audit record: %w", err)
		}
		rec.Params = []byte(params)
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit records: %w", err)
	}
	return out, nil
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return 100
	}
	return limit
}
