package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/lumyn-io/lumyn/pkg/canonicalize"
	"github.com/lumyn-io/lumyn/pkg/contracts"
	"github.com/lumyn-io/lumyn/pkg/records"
)

// PostgresStore backs shared deployments where multiple engine instances
// write through one database. Uniqueness still comes from the single store.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects with a lib/pq DSN.
func OpenPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// NewPostgresStore wraps an existing connection pool (used by tests).
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS policy_snapshots (
	policy_hash TEXT PRIMARY KEY,
	policy_id TEXT NOT NULL,
	policy_version TEXT NOT NULL,
	policy_text TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS decision_records (
	decision_id TEXT PRIMARY KEY,
	tenant_key TEXT NOT NULL,
	created_at TEXT NOT NULL,
	record_json TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS request_idempotency (
	tenant_key TEXT NOT NULL,
	request_id TEXT NOT NULL,
	decision_id TEXT NOT NULL,
	PRIMARY KEY (tenant_key, request_id)
);
CREATE TABLE IF NOT EXISTS memory_items (
	memory_id TEXT PRIMARY KEY,
	tenant_id TEXT,
	action_type TEXT NOT NULL,
	label TEXT NOT NULL,
	feature_json TEXT NOT NULL,
	summary TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS decision_events (
	event_id TEXT PRIMARY KEY,
	decision_id TEXT NOT NULL REFERENCES decision_records(decision_id),
	type TEXT NOT NULL,
	data_json TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memory_items_lookup
	ON memory_items (action_type, created_at DESC);
`

func (s *PostgresStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, postgresSchema); err != nil {
		return storageErr("init", err)
	}
	return nil
}

func (s *PostgresStore) PutPolicySnapshot(ctx context.Context, hash, policyID, policyVersion string, text []byte) error {
	query := `INSERT INTO policy_snapshots (policy_hash, policy_id, policy_version, policy_text, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (policy_hash) DO NOTHING`
	_, err := s.db.ExecContext(ctx, query,
		hash, policyID, policyVersion, string(text), records.Timestamp(time.Now()))
	if err != nil {
		return storageErr("put policy snapshot", err)
	}
	return nil
}

func (s *PostgresStore) GetPolicySnapshot(ctx context.Context, hash string) (*PolicySnapshot, error) {
	query := `SELECT policy_hash, policy_id, policy_version, policy_text, created_at
		FROM policy_snapshots WHERE policy_hash = $1`
	return scanPolicySnapshot(s.db.QueryRowContext(ctx, query, hash))
}

func (s *PostgresStore) PutDecisionRecord(ctx context.Context, record *contracts.DecisionRecord, tenantKey, requestID string) error {
	recordJSON, err := canonicalize.JSON(record)
	if err != nil {
		return fmt.Errorf("store: encode record: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO decision_records (decision_id, tenant_key, created_at, record_json) VALUES ($1, $2, $3, $4)`,
		record.DecisionID, tenantKey, record.CreatedAt, string(recordJSON))
	if err != nil {
		return classifyPostgres("put decision record", err)
	}

	if requestID != "" {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO request_idempotency (tenant_key, request_id, decision_id) VALUES ($1, $2, $3)`,
			tenantKey, requestID, record.DecisionID)
		if err != nil {
			return classifyPostgres("put idempotency row", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return classifyPostgres("commit", err)
	}
	return nil
}

func (s *PostgresStore) GetDecisionRecord(ctx context.Context, decisionID string) (*contracts.DecisionRecord, error) {
	var recordJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT record_json FROM decision_records WHERE decision_id = $1`, decisionID).Scan(&recordJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: decision %s: %w", decisionID, contracts.ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("get decision record", err)
	}
	return decodeRecord(recordJSON)
}

func (s *PostgresStore) GetDecisionIDForRequestID(ctx context.Context, tenantKey, requestID string) (string, error) {
	var decisionID string
	err := s.db.QueryRowContext(ctx,
		`SELECT decision_id FROM request_idempotency WHERE tenant_key = $1 AND request_id = $2`,
		tenantKey, requestID).Scan(&decisionID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", storageErr("probe idempotency", err)
	}
	return decisionID, nil
}

func (s *PostgresStore) ListMemoryItems(ctx context.Context, tenantID, actionType string, limit int) ([]contracts.MemoryItem, error) {
	query := `SELECT memory_id, tenant_id, action_type, label, feature_json, summary, created_at
		FROM memory_items WHERE action_type = $1`
	args := []any{actionType}
	if tenantID != "" {
		query += ` AND (tenant_id IS NULL OR tenant_id = $2)`
		args = append(args, tenantID)
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list memory items", err)
	}
	defer func() { _ = rows.Close() }()
	return scanMemoryItems(rows)
}

func (s *PostgresStore) PutMemoryItem(ctx context.Context, item contracts.MemoryItem) error {
	featureJSON, err := json.Marshal(item.Feature)
	if err != nil {
		return fmt.Errorf("store: encode feature: %w", err)
	}
	var tenant sql.NullString
	if item.TenantID != "" {
		tenant = sql.NullString{String: item.TenantID, Valid: true}
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO memory_items (memory_id, tenant_id, action_type, label, feature_json, summary, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		item.MemoryID, tenant, item.ActionType, string(item.Label), string(featureJSON), item.Summary, item.CreatedAt)
	if err != nil {
		return classifyPostgres("put memory item", err)
	}
	return nil
}

func (s *PostgresStore) AppendDecisionEvent(ctx context.Context, decisionID, eventType string, data map[string]any) (string, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM decision_records WHERE decision_id = $1`, decisionID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("store: decision %s: %w", decisionID, contracts.ErrNotFound)
	}
	if err != nil {
		return "", storageErr("check decision", err)
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("store: encode event data: %w", err)
	}
	eventID := records.NewEventID()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO decision_events (event_id, decision_id, type, data_json, created_at) VALUES ($1, $2, $3, $4, $5)`,
		eventID, decisionID, eventType, string(dataJSON), records.Timestamp(time.Now()))
	if err != nil {
		return "", classifyPostgres("append decision event", err)
	}
	return eventID, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// classifyPostgres maps 23505 (unique_violation) to the integrity error.
func classifyPostgres(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return integrityErr(op, err)
	}
	return storageErr(op, err)
}
