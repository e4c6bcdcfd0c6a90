// Package replay validates exported decision packs offline. It recomputes
// the policy hash and the inputs digest from the pack members and compares
// them against the values baked into the record; any byte flipped in the
// policy or request member surfaces as a mismatch.
package replay

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lumyn-io/lumyn/pkg/contracts"
	"github.com/lumyn-io/lumyn/pkg/engine"
	"github.com/lumyn-io/lumyn/pkg/pack"
	"github.com/lumyn-io/lumyn/pkg/policy"
	"github.com/lumyn-io/lumyn/pkg/records"
	"github.com/lumyn-io/lumyn/pkg/resources"
)

// Result is the outcome of replaying one pack.
type Result struct {
	DecisionID   string   `json:"decision_id"`
	Verdict      string   `json:"verdict"`
	PolicyHash   string   `json:"policy_hash"`
	InputsDigest string   `json:"inputs_digest"`
	OK           bool     `json:"ok"`
	Failures     []string `json:"failures"`
}

// Validate replays a parsed pack.
func Validate(p *pack.Pack, res *resources.Resources) (*Result, error) {
	result := &Result{
		DecisionID:   p.Record.DecisionID,
		Verdict:      string(p.Record.Evaluation.Verdict),
		PolicyHash:   p.Record.Policy.PolicyHash,
		InputsDigest: p.Record.Determinism.InputsDigest,
		Failures:     []string{},
	}

	var recordDoc map[string]any
	if err := json.Unmarshal(p.RecordJSON, &recordDoc); err != nil {
		return nil, fmt.Errorf("replay: decode record: %w", err)
	}
	if err := res.ValidateRecord(recordDoc); err != nil {
		result.Failures = append(result.Failures, fmt.Sprintf("record schema: %v", err))
	}

	if loaded, err := policy.Parse(p.PolicySource, res); err != nil {
		result.Failures = append(result.Failures, fmt.Sprintf("policy parse: %v", err))
	} else if loaded.Hash != p.Record.Policy.PolicyHash {
		result.Failures = append(result.Failures,
			fmt.Sprintf("policy_hash mismatch: recomputed %s, record has %s",
				loaded.Hash, p.Record.Policy.PolicyHash))
	}

	var request contracts.DecisionRequest
	if err := json.Unmarshal(p.RequestJSON, &request); err != nil {
		result.Failures = append(result.Failures, fmt.Sprintf("request parse: %v", err))
	} else {
		normalized := engine.Normalize(request)
		digest, err := records.InputsDigest(request, normalized)
		if err != nil {
			return nil, fmt.Errorf("replay: recompute digest: %w", err)
		}
		if digest != p.Record.Determinism.InputsDigest {
			result.Failures = append(result.Failures,
				fmt.Sprintf("inputs_digest mismatch: recomputed %s, record has %s",
					digest, p.Record.Determinism.InputsDigest))
		}
	}

	result.OK = len(result.Failures) == 0
	return result, nil
}

// ValidateFile replays a pack from disk.
func ValidateFile(path string, res *resources.Resources) (*Result, error) {
	p, err := pack.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Validate(p, res)
}

// Text renders the result as a short plain summary.
func (r *Result) Text() string {
	var b strings.Builder
	status := "OK"
	if !r.OK {
		status = "FAILED"
	}
	fmt.Fprintf(&b, "replay %s: %s (verdict %s)\n", r.DecisionID, status, r.Verdict)
	for _, f := range r.Failures {
		fmt.Fprintf(&b, "  - %s\n", f)
	}
	return b.String()
}

// Markdown renders the result as a report suitable for review threads.
func (r *Result) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Replay Report\n\n")
	fmt.Fprintf(&b, "| Field | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Decision | `%s` |\n", r.DecisionID)
	fmt.Fprintf(&b, "| Verdict | %s |\n", r.Verdict)
	fmt.Fprintf(&b, "| Policy hash | `%s` |\n", r.PolicyHash)
	fmt.Fprintf(&b, "| Inputs digest | `%s` |\n", r.InputsDigest)
	if r.OK {
		fmt.Fprintf(&b, "\n**Result: OK**: pack verifies against its record.\n")
		return b.String()
	}
	fmt.Fprintf(&b, "\n**Result: FAILED**\n\n")
	for _, f := range r.Failures {
		fmt.Fprintf(&b, "- %s\n", f)
	}
	return b.String()
}
