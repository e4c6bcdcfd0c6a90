package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lumyn-io/lumyn/pkg/canonicalize"
	"github.com/lumyn-io/lumyn/pkg/contracts"
	"github.com/lumyn-io/lumyn/pkg/records"
)

// SQLiteStore is the single-node store backing workspaces and the default
// server deployment.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating parent directories as needed) a SQLite store.
// WAL mode plus a busy timeout lets concurrent decide calls share the single
// writer without spurious SQLITE_BUSY failures.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create dir %s: %w", dir, err)
		}
	}
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteSchema = `
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

func (s *SQLiteStore) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return storageErr("init", err)
	}
	return nil
}

func (s *SQLiteStore) PutPolicySnapshot(ctx context.Context, hash, policyID, policyVersion string, text []byte) error {
	query := `INSERT INTO policy_snapshots (policy_hash, policy_id, policy_version, policy_text, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (policy_hash) DO NOTHING`
	_, err := s.db.ExecContext(ctx, query,
		hash, policyID, policyVersion, string(text), records.Timestamp(time.Now()))
	if err != nil {
		return storageErr("put policy snapshot", err)
	}
	return nil
}

func (s *SQLiteStore) GetPolicySnapshot(ctx context.Context, hash string) (*PolicySnapshot, error) {
	query := `SELECT policy_hash, policy_id, policy_version, policy_text, created_at
		FROM policy_snapshots WHERE policy_hash = ?`
	return scanPolicySnapshot(s.db.QueryRowContext(ctx, query, hash))
}

func (s *SQLiteStore) PutDecisionRecord(ctx context.Context, record *contracts.DecisionRecord, tenantKey, requestID string) error {
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
		`INSERT INTO decision_records (decision_id, tenant_key, created_at, record_json) VALUES (?, ?, ?, ?)`,
		record.DecisionID, tenantKey, record.CreatedAt, string(recordJSON))
	if err != nil {
		return classifySQLite("put decision record", err)
	}

	if requestID != "" {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO request_idempotency (tenant_key, request_id, decision_id) VALUES (?, ?, ?)`,
			tenantKey, requestID, record.DecisionID)
		if err != nil {
			return classifySQLite("put idempotency row", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return classifySQLite("commit", err)
	}
	return nil
}

func (s *SQLiteStore) GetDecisionRecord(ctx context.Context, decisionID string) (*contracts.DecisionRecord, error) {
	var recordJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT record_json FROM decision_records WHERE decision_id = ?`, decisionID).Scan(&recordJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: decision %s: %w", decisionID, contracts.ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("get decision record", err)
	}
	return decodeRecord(recordJSON)
}

func (s *SQLiteStore) GetDecisionIDForRequestID(ctx context.Context, tenantKey, requestID string) (string, error) {
	var decisionID string
	err := s.db.QueryRowContext(ctx,
		`SELECT decision_id FROM request_idempotency WHERE tenant_key = ? AND request_id = ?`,
		tenantKey, requestID).Scan(&decisionID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", storageErr("probe idempotency", err)
	}
	return decisionID, nil
}

func (s *SQLiteStore) ListMemoryItems(ctx context.Context, tenantID, actionType string, limit int) ([]contracts.MemoryItem, error) {
	query := `SELECT memory_id, tenant_id, action_type, label, feature_json, summary, created_at
		FROM memory_items WHERE action_type = ?`
	args := []any{actionType}
	if tenantID != "" {
		query += ` AND (tenant_id IS NULL OR tenant_id = ?)`
		args = append(args, tenantID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list memory items", err)
	}
	defer func() { _ = rows.Close() }()
	return scanMemoryItems(rows)
}

func (s *SQLiteStore) PutMemoryItem(ctx context.Context, item contracts.MemoryItem) error {
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
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		item.MemoryID, tenant, item.ActionType, string(item.Label), string(featureJSON), item.Summary, item.CreatedAt)
	if err != nil {
		return classifySQLite("put memory item", err)
	}
	return nil
}

func (s *SQLiteStore) AppendDecisionEvent(ctx context.Context, decisionID, eventType string, data map[string]any) (string, error) {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM decision_records WHERE decision_id = ?`, decisionID).Scan(&exists)
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
		`INSERT INTO decision_events (event_id, decision_id, type, data_json, created_at) VALUES (?, ?, ?, ?, ?)`,
		eventID, decisionID, eventType, string(dataJSON), records.Timestamp(time.Now()))
	if err != nil {
		return "", classifySQLite("append decision event", err)
	}
	return eventID, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// classifySQLite separates unique-constraint violations (absorbed by the
// orchestrator's idempotency path) from everything else.
func classifySQLite(op string, err error) error {
	// Only uniqueness maps to ErrIntegrity; other constraint classes (FK,
	// NOT NULL) are storage failures like any other driver error.
	if strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return integrityErr(op, err)
	}
	return storageErr(op, err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPolicySnapshot(row rowScanner) (*PolicySnapshot, error) {
	var snap PolicySnapshot
	var text, createdAt string
	err := row.Scan(&snap.PolicyHash, &snap.PolicyID, &snap.PolicyVersion, &text, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: policy snapshot: %w", contracts.ErrNotFound)
	}
	if err != nil {
		return nil, storageErr("get policy snapshot", err)
	}
	snap.PolicyText = []byte(text)
	t, err := time.Parse("2006-01-02T15:04:05.000Z", createdAt)
	if err != nil {
		return nil, fmt.Errorf("store: policy snapshot created_at %q: %w", createdAt, err)
	}
	snap.CreatedAt = t
	return &snap, nil
}

func decodeRecord(recordJSON string) (*contracts.DecisionRecord, error) {
	var record contracts.DecisionRecord
	if err := json.Unmarshal([]byte(recordJSON), &record); err != nil {
		return nil, fmt.Errorf("store: decode record: %w", err)
	}
	return &record, nil
}

func scanMemoryItems(rows *sql.Rows) ([]contracts.MemoryItem, error) {
	var items []contracts.MemoryItem
	for rows.Next() {
		var item contracts.MemoryItem
		var tenant sql.NullString
		var featureJSON string
		if err := rows.Scan(&item.MemoryID, &tenant, &item.ActionType, &item.Label,
			&featureJSON, &item.Summary, &item.CreatedAt); err != nil {
			return nil, storageErr("scan memory item", err)
		}
		item.TenantID = tenant.String
		if err := json.Unmarshal([]byte(featureJSON), &item.Feature); err != nil {
			return nil, fmt.Errorf("store: decode feature: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("iterate memory items", err)
	}
	return items, nil
}
