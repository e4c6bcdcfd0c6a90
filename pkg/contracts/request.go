// Package contracts defines the versioned documents exchanged with the Lumyn
// decision engine: decision requests, decision records, memory items, and
// decision events.
//
// Requests arrive as open JSON documents and are schema-validated at the
// boundary; the typed accessors here are the only way engine code reads them.
package contracts

// Schema version literals carried by the versioned documents.
const (
	SchemaVersionRequest = "decision_request.v0"
	SchemaVersionRecord  = "decision_record.v0"
	SchemaVersionPolicy  = "policy.v0"
)

// TenantKeyGlobal is the idempotency tenant key used when the request
// carries no tenant_id.
const TenantKeyGlobal = "__global__"

// PolicyMode controls how an empty evaluation resolves.
type PolicyMode string

const (
	ModeEnforce  PolicyMode = "enforce"
	ModeAdvisory PolicyMode = "advisory"
)

// DecisionRequest is the raw request document, kept as a mapping because
// evidence is an opaque payload and the redacted view must round-trip
// byte-exactly through canonical JSON.
type DecisionRequest map[string]any

// RequestID returns the idempotency request_id, or "" when absent.
func (r DecisionRequest) RequestID() string {
	id, _ := r["request_id"].(string)
	return id
}

// TenantID returns subject.tenant_id, or "" when absent.
func (r DecisionRequest) TenantID() string {
	subject, _ := r["subject"].(map[string]any)
	tenant, _ := subject["tenant_id"].(string)
	return tenant
}

// TenantKey returns the idempotency tenant key: tenant_id or "__global__".
func (r DecisionRequest) TenantKey() string {
	if t := r.TenantID(); t != "" {
		return t
	}
	return TenantKeyGlobal
}

// ActionType returns action.type, or "" when absent.
func (r DecisionRequest) ActionType() string {
	action, _ := r["action"].(map[string]any)
	typ, _ := action["type"].(string)
	return typ
}

// ActionTags returns action.tags as strings, in source order.
func (r DecisionRequest) ActionTags() []string {
	action, _ := r["action"].(map[string]any)
	raw, _ := action["tags"].([]any)
	tags := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			tags = append(tags, s)
		}
	}
	return tags
}

// RedactionProfile returns context.redaction.profile when it is a string,
// or "" otherwise.
func (r DecisionRequest) RedactionProfile() string {
	ctx, _ := r["context"].(map[string]any)
	red, _ := ctx["redaction"].(map[string]any)
	profile, _ := red["profile"].(string)
	return profile
}

// PolicyModeOverride returns policy.mode when it is a valid mode, or "".
func (r DecisionRequest) PolicyModeOverride() PolicyMode {
	policy, _ := r["policy"].(map[string]any)
	mode, _ := policy["mode"].(string)
	switch PolicyMode(mode) {
	case ModeEnforce, ModeAdvisory:
		return PolicyMode(mode)
	}
	return ""
}

// SetPolicyMode overlays a policy mode onto the request, creating the policy
// block when absent. Callers must pass a deep copy; the overlay must never
// reach the persisted view except through redaction.
func (r DecisionRequest) SetPolicyMode(mode PolicyMode) {
	policy, ok := r["policy"].(map[string]any)
	if !ok {
		policy = map[string]any{}
		r["policy"] = policy
	}
	policy["mode"] = string(mode)
}

// DeepCopy clones the request document. Values are limited to the JSON
// domain (maps, slices, strings, numbers, bools, null) by schema validation.
func (r DecisionRequest) DeepCopy() DecisionRequest {
	return DecisionRequest(deepCopyValue(map[string]any(r)).(map[string]any))
}

func deepCopyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepCopyValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepCopyValue(val)
		}
		return out
	default:
		return v
	}
}

// NormalizedRequest is the canonical feature view derived from a request.
// AmountCurrency and AmountUSD are pointers so null survives JSON encoding.
type NormalizedRequest struct {
	ActionType     string   `json:"action_type"`
	AmountCurrency *string  `json:"amount_currency"`
	AmountUSD      *float64 `json:"amount_usd"`
	Tags           []string `json:"tags"`
}
