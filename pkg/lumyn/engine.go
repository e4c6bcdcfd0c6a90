// Package lumyn composes the decision pipeline end to end: validation,
// policy loading, normalization, redaction, digesting, idempotency,
// similarity, evaluation, and durable persistence.
package lumyn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/lumyn-io/lumyn/pkg/audit"
	"github.com/lumyn-io/lumyn/pkg/contracts"
	"github.com/lumyn-io/lumyn/pkg/engine"
	"github.com/lumyn-io/lumyn/pkg/policy"
	"github.com/lumyn-io/lumyn/pkg/records"
	"github.com/lumyn-io/lumyn/pkg/redact"
	"github.com/lumyn-io/lumyn/pkg/resources"
	"github.com/lumyn-io/lumyn/pkg/store"
)

// memoryCandidateLimit bounds how many memory items one decision considers.
const memoryCandidateLimit = 500

// Config parameterizes an Engine.
type Config struct {
	PolicyPath       string
	TopK             int
	RedactionProfile redact.Profile

	// Mode, when set, overlays the policy mode onto every request.
	Mode contracts.PolicyMode
}

// DefaultConfig returns the engine defaults.
func DefaultConfig(policyPath string) Config {
	return Config{
		PolicyPath:       policyPath,
		TopK:             5,
		RedactionProfile: redact.ProfileDefault,
	}
}

// Engine executes decide calls. It is re-entrant; the store is the only
// shared mutable state.
type Engine struct {
	cfg     Config
	res     *resources.Resources
	store   store.Store
	builder *records.Builder
	logger  *slog.Logger
	auditor audit.Logger
	tracer  trace.Tracer
}

// Option customizes an Engine.
type Option func(*Engine)

// WithBuilder injects a record builder (frozen clocks and ids in tests).
func WithBuilder(b *records.Builder) Option {
	return func(e *Engine) { e.builder = b }
}

// WithLogger injects a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithAuditor injects an audit sink.
func WithAuditor(a audit.Logger) Option {
	return func(e *Engine) { e.auditor = a }
}

// New assembles an engine over a store and compiled resources.
func New(cfg Config, res *resources.Resources, st store.Store, opts ...Option) *Engine {
	e := &Engine{
		cfg:     cfg,
		res:     res,
		store:   st,
		builder: records.NewBuilder(),
		logger:  slog.Default(),
		auditor: audit.Nop(),
		tracer:  otel.Tracer("lumyn.engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Decide runs the full decision pipeline for one request.
//
// The call is idempotent per (tenant_key, request_id) and degrades to an
// ABSTAIN record when the store cannot accept the decision. Validation and
// policy failures propagate; cancellation surfaces from the blocking points
// untouched.
func (e *Engine) Decide(ctx context.Context, request contracts.DecisionRequest) (*contracts.DecisionRecord, error) {
	ctx, span := e.tracer.Start(ctx, "lumyn.decide",
		trace.WithAttributes(attribute.Int("top_k", e.cfg.TopK)))
	defer span.End()

	// The evaluation view may carry a config-level mode overlay; it reaches
	// the persisted view only through the normal redaction path.
	requestEval := request.DeepCopy()
	if e.cfg.Mode == contracts.ModeEnforce || e.cfg.Mode == contracts.ModeAdvisory {
		requestEval.SetPolicyMode(e.cfg.Mode)
	}

	if err := e.res.ValidateRequest(requestEval); err != nil {
		return nil, err
	}

	loaded, err := policy.Load(e.cfg.PolicyPath, e.res)
	if err != nil {
		return nil, err
	}

	normalized := engine.Normalize(requestEval)

	profile := e.cfg.RedactionProfile
	if name := requestEval.RedactionProfile(); name != "" {
		if p, perr := redact.ParseProfile(name); perr == nil {
			profile = p
		}
	}
	requestForRecord, _, err := redact.Apply(requestEval.DeepCopy(), profile)
	if err != nil {
		return nil, err
	}

	inputsDigest, err := records.InputsDigest(requestForRecord, normalized)
	if err != nil {
		return nil, err
	}

	policyRef := loaded.Ref(requestEval.PolicyModeOverride())
	tenantKey := requestEval.TenantKey()
	requestID := requestEval.RequestID()

	if err := e.store.Init(ctx); err != nil {
		return e.degrade(ctx, span, requestForRecord, policyRef, inputsDigest, tenantKey, err)
	}
	if err := e.store.PutPolicySnapshot(ctx, loaded.Hash, loaded.PolicyID, loaded.PolicyVersion, loaded.Source); err != nil {
		return e.degrade(ctx, span, requestForRecord, policyRef, inputsDigest, tenantKey, err)
	}

	// Pre-probe. The unique index is the source of truth; this probe and the
	// post-integrity re-probe below are what make concurrent duplicates
	// return byte-identical records.
	if requestID != "" {
		existingID, err := e.store.GetDecisionIDForRequestID(ctx, tenantKey, requestID)
		if err != nil {
			return e.degrade(ctx, span, requestForRecord, policyRef, inputsDigest, tenantKey, err)
		}
		if existingID != "" {
			record, err := e.store.GetDecisionRecord(ctx, existingID)
			if err != nil {
				return e.degrade(ctx, span, requestForRecord, policyRef, inputsDigest, tenantKey, err)
			}
			span.SetAttributes(attribute.Bool("idempotent_replay", true))
			return record, nil
		}
	}

	feature := engine.BuildQueryFeature(requestEval, normalized)
	candidates, err := e.store.ListMemoryItems(ctx, requestEval.TenantID(), normalized.ActionType, memoryCandidateLimit)
	if err != nil {
		return e.degrade(ctx, span, requestForRecord, policyRef, inputsDigest, tenantKey, err)
	}

	evaluation := engine.Evaluate(requestEval, normalized, loaded)

	matches := engine.TopKMatches(feature, candidates, e.cfg.TopK)
	risk := foldRisk(evaluation.Verdict, matches)

	record := e.builder.Build(requestForRecord, policyRef, evaluation, risk, inputsDigest)

	if err := e.store.PutDecisionRecord(ctx, record, tenantKey, requestID); err != nil {
		switch {
		case errors.Is(err, contracts.ErrIntegrity) && requestID != "":
			// Lost the race; the first writer's record wins.
			existingID, probeErr := e.store.GetDecisionIDForRequestID(ctx, tenantKey, requestID)
			if probeErr == nil && existingID != "" {
				existing, getErr := e.store.GetDecisionRecord(ctx, existingID)
				if getErr == nil {
					span.SetAttributes(attribute.Bool("idempotent_replay", true))
					return existing, nil
				}
			}
			return nil, err
		case errors.Is(err, contracts.ErrStorageUnavailable):
			return e.degrade(ctx, span, requestForRecord, policyRef, inputsDigest, tenantKey, err)
		default:
			return nil, err
		}
	}

	span.SetAttributes(
		attribute.String("decision_id", record.DecisionID),
		attribute.String("verdict", string(record.Evaluation.Verdict)),
	)
	e.auditor.Record(tenantKey, audit.EventDecision, record.DecisionID, string(record.Evaluation.Verdict), map[string]any{
		"policy_hash":   record.Policy.PolicyHash,
		"inputs_digest": record.Determinism.InputsDigest,
	})
	return record, nil
}

// degrade emits the ABSTAIN record for a storage failure. The record is
// returned, logged, and audited, but never persisted.
func (e *Engine) degrade(
	ctx context.Context,
	span trace.Span,
	requestForRecord contracts.DecisionRequest,
	policyRef contracts.PolicyRef,
	inputsDigest string,
	tenantKey string,
	cause error,
) (*contracts.DecisionRecord, error) {
	if ctx.Err() != nil {
		// Cancellation is not a storage degradation.
		return nil, ctx.Err()
	}

	record := e.builder.BuildAbstain(requestForRecord, policyRef, inputsDigest)
	span.SetAttributes(
		attribute.String("decision_id", record.DecisionID),
		attribute.String("verdict", string(contracts.VerdictAbstain)),
	)
	e.logger.ErrorContext(ctx, "store unavailable, abstaining",
		"decision_id", record.DecisionID,
		"tenant_key", tenantKey,
		"error", cause)
	e.auditor.Record(tenantKey, audit.EventDegraded, record.DecisionID, string(contracts.VerdictAbstain), map[string]any{
		"error": cause.Error(),
	})
	return record, nil
}

// foldRisk derives the deterministic risk signals from the verdict and the
// similarity matches.
func foldRisk(verdict contracts.Verdict, matches []contracts.SimilarityMatch) contracts.Risk {
	failureScore := 0.0
	for _, m := range matches {
		if m.Label == string(contracts.LabelFailure) {
			failureScore = m.Score
			break
		}
	}

	uncertainty := 0.2
	if verdict == contracts.VerdictQuery {
		uncertainty += 0.2
	}
	if failureScore >= 0.35 {
		uncertainty += 0.3
	}
	uncertainty = min(1.0, max(0.0, uncertainty))

	topK := matches
	if topK == nil {
		topK = []contracts.SimilarityMatch{}
	}
	return contracts.Risk{
		UncertaintyScore:       uncertainty,
		FailureSimilarityScore: failureScore,
		FailureSimilarityTopK:  topK,
	}
}

// GetDecisionRecord fetches a persisted record.
func (e *Engine) GetDecisionRecord(ctx context.Context, decisionID string) (*contracts.DecisionRecord, error) {
	if err := e.store.Init(ctx); err != nil {
		return nil, err
	}
	return e.store.GetDecisionRecord(ctx, decisionID)
}

// AppendDecisionEvent validates and appends an annotation event.
func (e *Engine) AppendDecisionEvent(ctx context.Context, decisionID, eventType string, data map[string]any) (string, error) {
	if strings.TrimSpace(eventType) == "" {
		return "", &contracts.ValidationError{Message: "event type must be a non-empty string"}
	}
	if err := e.store.Init(ctx); err != nil {
		return "", err
	}
	eventID, err := e.store.AppendDecisionEvent(ctx, decisionID, eventType, data)
	if err != nil {
		return "", fmt.Errorf("append event: %w", err)
	}
	return eventID, nil
}
