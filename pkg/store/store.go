// Package store persists the engine's durable state: policy snapshots,
// decision records, the idempotency index, memory items, and decision
// events. SQLite backs single-node deployments; Postgres is available for
// shared ones. Rows are immutable after insert.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/lumyn-io/lumyn/pkg/contracts"
)

// PolicySnapshot is the archived source text of a policy, keyed by hash.
type PolicySnapshot struct {
	PolicyHash    string
	PolicyID      string
	PolicyVersion string
	PolicyText    []byte
	CreatedAt     time.Time
}

// Store is the durable storage contract. All multi-statement writes happen
// in a single transaction; implementations map unique-constraint violations
// to contracts.ErrIntegrity and every other engine failure to
// contracts.ErrStorageUnavailable.
type Store interface {
	// Init runs the idempotent schema migration.
	Init(ctx context.Context) error

	// PutPolicySnapshot upserts a snapshot; the same hash twice is a no-op.
	PutPolicySnapshot(ctx context.Context, hash, policyID, policyVersion string, text []byte) error

	// GetPolicySnapshot fetches a snapshot by hash, ErrNotFound when absent.
	GetPolicySnapshot(ctx context.Context, hash string) (*PolicySnapshot, error)

	// PutDecisionRecord inserts a record and, when requestID is non-empty,
	// its idempotency row in the same transaction.
	PutDecisionRecord(ctx context.Context, record *contracts.DecisionRecord, tenantKey, requestID string) error

	// GetDecisionRecord fetches a record by id, ErrNotFound when absent.
	GetDecisionRecord(ctx context.Context, decisionID string) (*contracts.DecisionRecord, error)

	// GetDecisionIDForRequestID probes the idempotency index. A miss is
	// ("", nil), not an error.
	GetDecisionIDForRequestID(ctx context.Context, tenantKey, requestID string) (string, error)

	// ListMemoryItems returns items for an action type, newest first.
	// Items without a tenant match any tenant; tenantID "" disables the
	// tenant filter.
	ListMemoryItems(ctx context.Context, tenantID, actionType string, limit int) ([]contracts.MemoryItem, error)

	// PutMemoryItem inserts a memory item.
	PutMemoryItem(ctx context.Context, item contracts.MemoryItem) error

	// AppendDecisionEvent records an annotation on a persisted decision,
	// returning the new event id. Unknown decisions are ErrNotFound.
	AppendDecisionEvent(ctx context.Context, decisionID, eventType string, data map[string]any) (string, error)

	Close() error
}

// storageErr wraps a driver failure so the orchestrator's degraded path can
// recognize it with errors.Is.
func storageErr(op string, err error) error {
	return fmt.Errorf("store: %s: %w: %v", op, contracts.ErrStorageUnavailable, err)
}

func integrityErr(op string, err error) error {
	return fmt.Errorf("store: %s: %w: %v", op, contracts.ErrIntegrity, err)
}
