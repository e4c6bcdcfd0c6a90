// Package records assembles canonical decision records. The builder is a
// pure function of its inputs plus an injected clock and id generator, so
// tests can freeze time and ids.
package records

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lumyn-io/lumyn/pkg/canonicalize"
	"github.com/lumyn-io/lumyn/pkg/contracts"
)

// EngineVersion is stamped into determinism.engine_version.
const EngineVersion = "0.3.0"

// Clock supplies the record timestamp.
type Clock func() time.Time

// IDGenerator supplies decision and event ids.
type IDGenerator func() string

// NewDecisionID returns a time-ordered opaque id.
func NewDecisionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// v7 only fails if the entropy source does; fall back to random.
		id = uuid.New()
	}
	return "dec_" + id.String()
}

// NewEventID returns an id for a decision event.
func NewEventID() string {
	return "evt_" + uuid.NewString()
}

// Timestamp formats t as UTC ISO-8601 with millisecond precision.
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// InputsDigest hashes the pair that anchors replay: the redacted request
// view and the normalized feature view. It is a pure function of both.
func InputsDigest(redacted contracts.DecisionRequest, normalized contracts.NormalizedRequest) (string, error) {
	digest, err := canonicalize.Hash(map[string]any{
		"request":    map[string]any(redacted),
		"normalized": normalized,
	})
	if err != nil {
		return "", fmt.Errorf("records: inputs digest: %w", err)
	}
	return digest, nil
}

// Builder assembles decision_record.v0 documents.
type Builder struct {
	clock Clock
	newID IDGenerator
}

// NewBuilder returns a builder on the real clock and UUIDv7 ids.
func NewBuilder() *Builder {
	return &Builder{clock: time.Now, newID: NewDecisionID}
}

// NewBuilderWith injects clock and id generation.
func NewBuilderWith(clock Clock, newID IDGenerator) *Builder {
	return &Builder{clock: clock, newID: newID}
}

// Build assembles a record from the redacted request view and the
// evaluation outputs. It never mutates its inputs.
func (b *Builder) Build(
	redacted contracts.DecisionRequest,
	policyRef contracts.PolicyRef,
	evaluation contracts.Evaluation,
	risk contracts.Risk,
	inputsDigest string,
) *contracts.DecisionRecord {
	return &contracts.DecisionRecord{
		SchemaVersion: contracts.SchemaVersionRecord,
		DecisionID:    b.newID(),
		CreatedAt:     Timestamp(b.clock()),
		Request:       map[string]any(redacted),
		Policy:        policyRef,
		Evaluation:    evaluation,
		Risk:          risk,
		Determinism: contracts.Determinism{
			InputsDigest:  inputsDigest,
			EngineVersion: EngineVersion,
		},
	}
}

// BuildAbstain assembles the degraded record emitted when the store cannot
// accept the decision. It is returned to the caller but never persisted.
func (b *Builder) BuildAbstain(
	redacted contracts.DecisionRequest,
	policyRef contracts.PolicyRef,
	inputsDigest string,
) *contracts.DecisionRecord {
	return b.Build(redacted, policyRef,
		contracts.Evaluation{
			Verdict:      contracts.VerdictAbstain,
			ReasonCodes:  []string{contracts.ReasonStorageUnavailable},
			MatchedRules: []contracts.MatchedRule{},
			Queries:      []contracts.Query{},
		},
		contracts.Risk{
			UncertaintyScore:       1.0,
			FailureSimilarityScore: 0.0,
			FailureSimilarityTopK:  []contracts.SimilarityMatch{},
		},
		inputsDigest,
	)
}
