package contracts

// Verdict is the outcome of a policy evaluation.
type Verdict string

const (
	VerdictAllow   Verdict = "ALLOW"
	VerdictBlock   Verdict = "BLOCK"
	VerdictQuery   Verdict = "QUERY"
	VerdictAbstain Verdict = "ABSTAIN" // produced only by the degraded path
)

// Effect is the action a fired rule requests.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectBlock Effect = "block"
	EffectQuery Effect = "query"
)

// ReasonStorageUnavailable is the sole reason code of a degraded record.
const ReasonStorageUnavailable = "STORAGE_UNAVAILABLE"

// MatchedRule identifies a rule that fired during evaluation, in firing order.
type MatchedRule struct {
	Stage       string   `json:"stage"`
	RuleID      string   `json:"rule_id"`
	Effect      Effect   `json:"effect"`
	ReasonCodes []string `json:"reason_codes"`
}

// Query carries the prompt of a fired query rule.
type Query struct {
	RuleID string `json:"rule_id"`
	Prompt string `json:"prompt"`
}

// Evaluation is the verdict block of a decision record.
type Evaluation struct {
	Verdict      Verdict       `json:"verdict"`
	ReasonCodes  []string      `json:"reason_codes"`
	MatchedRules []MatchedRule `json:"matched_rules"`
	Queries      []Query       `json:"queries"`
}

// PolicyRef binds a record to the exact policy snapshot that produced it.
type PolicyRef struct {
	PolicyID      string     `json:"policy_id"`
	PolicyVersion string     `json:"policy_version"`
	PolicyHash    string     `json:"policy_hash"`
	Mode          PolicyMode `json:"mode"`
}

// SimilarityMatch is one entry of the failure-similarity top-K.
type SimilarityMatch struct {
	MemoryID string  `json:"memory_id"`
	Label    string  `json:"label"`
	Score    float64 `json:"score"`
	Summary  string  `json:"summary"`
}

// Risk carries the deterministic risk signals of a decision.
type Risk struct {
	UncertaintyScore       float64           `json:"uncertainty_score"`
	FailureSimilarityScore float64           `json:"failure_similarity_score"`
	FailureSimilarityTopK  []SimilarityMatch `json:"failure_similarity_top_k"`
}

// Determinism anchors a record for bit-exact replay.
type Determinism struct {
	InputsDigest  string `json:"inputs_digest"`
	EngineVersion string `json:"engine_version"`
}

// DecisionRecord is the canonical decision_record.v0 document.
// Request holds the redacted view; CreatedAt is UTC ISO-8601 with
// millisecond precision, kept as a string so canonical JSON is stable.
type DecisionRecord struct {
	SchemaVersion string         `json:"schema_version"`
	DecisionID    string         `json:"decision_id"`
	CreatedAt     string         `json:"created_at"`
	Request       map[string]any `json:"request"`
	Policy        PolicyRef      `json:"policy"`
	Evaluation    Evaluation     `json:"evaluation"`
	Risk          Risk           `json:"risk"`
	Determinism   Determinism    `json:"determinism"`
}

// MemoryLabel classifies a memory item.
type MemoryLabel string

const (
	LabelSuccess MemoryLabel = "success"
	LabelFailure MemoryLabel = "failure"
	LabelNeutral MemoryLabel = "neutral"
)

// MemoryItem is a labeled prior feature vector used for similarity signals.
type MemoryItem struct {
	MemoryID   string         `json:"memory_id"`
	TenantID   string         `json:"tenant_id,omitempty"`
	ActionType string         `json:"action_type"`
	Label      MemoryLabel    `json:"label"`
	Feature    map[string]any `json:"feature"`
	Summary    string         `json:"summary"`
	CreatedAt  string         `json:"created_at"`
}

// DecisionEvent is an annotation appended to a persisted decision.
type DecisionEvent struct {
	EventID    string         `json:"event_id"`
	DecisionID string         `json:"decision_id"`
	Type       string         `json:"type"`
	Data       map[string]any `json:"data"`
	CreatedAt  string         `json:"created_at"`
}
