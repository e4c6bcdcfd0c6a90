package records

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumyn-io/lumyn/pkg/contracts"
)

func frozenBuilder() *Builder {
	at := time.Date(2026, 3, 14, 9, 26, 53, 589_000_000, time.UTC)
	return NewBuilderWith(
		func() time.Time { return at },
		func() string { return "dec_fixed" },
	)
}

func TestTimestampFormat(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 589_000_000, time.FixedZone("CET", 3600))
	assert.Equal(t, "2026-03-14T08:26:53.589Z", Timestamp(at))
}

func TestNewDecisionIDPrefix(t *testing.T) {
	id := NewDecisionID()
	assert.Contains(t, id, "dec_")
	assert.NotEqual(t, NewDecisionID(), id)
}

func TestInputsDigestDeterministic(t *testing.T) {
	request := contracts.DecisionRequest{
		"action": map[string]any{"type": "support.refund"},
	}
	normalized := contracts.NormalizedRequest{ActionType: "support.refund", Tags: []string{}}

	a, err := InputsDigest(request, normalized)
	require.NoError(t, err)
	b, err := InputsDigest(request, normalized)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Contains(t, a, "sha256:")
}

func TestInputsDigestSensitiveToRequest(t *testing.T) {
	normalized := contracts.NormalizedRequest{ActionType: "support.refund", Tags: []string{}}

	a, err := InputsDigest(contracts.DecisionRequest{"action": map[string]any{"type": "support.refund"}}, normalized)
	require.NoError(t, err)
	b, err := InputsDigest(contracts.DecisionRequest{"action": map[string]any{"type": "support.update"}}, normalized)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestBuild(t *testing.T) {
	b := frozenBuilder()
	request := contracts.DecisionRequest{"action": map[string]any{"type": "support.refund"}}
	policyRef := contracts.PolicyRef{PolicyID: "p", PolicyVersion: "0.1.0", PolicyHash: "sha256:aa", Mode: contracts.ModeEnforce}
	evaluation := contracts.Evaluation{
		Verdict:      contracts.VerdictAllow,
		ReasonCodes:  []string{},
		MatchedRules: []contracts.MatchedRule{},
		Queries:      []contracts.Query{},
	}
	risk := contracts.Risk{UncertaintyScore: 0.2, FailureSimilarityTopK: []contracts.SimilarityMatch{}}

	record := b.Build(request, policyRef, evaluation, risk, "sha256:bb")

	assert.Equal(t, contracts.SchemaVersionRecord, record.SchemaVersion)
	assert.Equal(t, "dec_fixed", record.DecisionID)
	assert.Equal(t, "2026-03-14T09:26:53.589Z", record.CreatedAt)
	assert.Equal(t, policyRef, record.Policy)
	assert.Equal(t, "sha256:bb", record.Determinism.InputsDigest)
	assert.Equal(t, EngineVersion, record.Determinism.EngineVersion)
}

func TestBuildAbstain(t *testing.T) {
	b := frozenBuilder()
	record := b.BuildAbstain(
		contracts.DecisionRequest{"action": map[string]any{"type": "x"}},
		contracts.PolicyRef{PolicyID: "p"},
		"sha256:bb",
	)

	assert.Equal(t, contracts.VerdictAbstain, record.Evaluation.Verdict)
	assert.Equal(t, []string{contracts.ReasonStorageUnavailable}, record.Evaluation.ReasonCodes)
	assert.Empty(t, record.Evaluation.MatchedRules)
	assert.Empty(t, record.Evaluation.Queries)
	assert.Equal(t, 1.0, record.Risk.UncertaintyScore)
	assert.Equal(t, 0.0, record.Risk.FailureSimilarityScore)
	assert.Empty(t, record.Risk.FailureSimilarityTopK)
}
