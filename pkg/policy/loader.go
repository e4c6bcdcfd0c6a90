// Package policy loads, validates, and content-addresses versioned policy
// documents. Stage and rule ordering from the source document is preserved;
// it is significant for precedence.
package policy

import (
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/lumyn-io/lumyn/pkg/canonicalize"
	"github.com/lumyn-io/lumyn/pkg/contracts"
	"github.com/lumyn-io/lumyn/pkg/resources"
)

// Rule is one compiled policy rule.
type Rule struct {
	ID          string
	When        Predicate
	Effect      contracts.Effect
	ReasonCodes []string
	Prompt      string
}

// Stage is an ordered group of rules behind an optional match gate.
type Stage struct {
	ID    string
	Match *Predicate // nil gate always passes
	Rules []Rule
}

// LoadedPolicy is a parsed, validated, content-addressed policy.
type LoadedPolicy struct {
	PolicyID      string
	PolicyVersion string
	Mode          contracts.PolicyMode
	Stages        []Stage

	// Hash is the sha256: digest of the canonical JSON of the parsed
	// document; invariant under key reordering in the source YAML.
	Hash string

	// Source is the raw policy text, snapshotted alongside records.
	Source []byte
}

// Load reads and parses a policy file.
func Load(path string, res *resources.Resources) (*LoadedPolicy, error) {
	source, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy: read %s: %w", path, err)
	}
	return Parse(source, res)
}

// Parse validates policy YAML against the policy schema and the reason-code
// registry, compiles its predicates, and computes the policy hash.
func Parse(source []byte, res *resources.Resources) (*LoadedPolicy, error) {
	var doc map[string]any
	if err := yaml.Unmarshal(source, &doc); err != nil {
		return nil, &contracts.InvalidPolicyError{Message: fmt.Sprintf("yaml parse: %v", err)}
	}
	if doc == nil {
		return nil, &contracts.InvalidPolicyError{Message: "policy document is empty"}
	}
	if err := res.ValidatePolicy(doc); err != nil {
		return nil, err
	}

	hash, err := canonicalize.Hash(doc)
	if err != nil {
		return nil, fmt.Errorf("policy: hash: %w", err)
	}

	policyID, _ := doc["policy_id"].(string)
	version, _ := doc["policy_version"].(string)
	if _, err := semver.NewVersion(version); err != nil {
		return nil, &contracts.InvalidPolicyError{
			PolicyID: policyID,
			Message:  fmt.Sprintf("policy_version %q is not semver: %v", version, err),
		}
	}

	mode := contracts.ModeEnforce
	if raw, ok := doc["mode"].(string); ok {
		mode = contracts.PolicyMode(raw)
	}

	loaded := &LoadedPolicy{
		PolicyID:      policyID,
		PolicyVersion: version,
		Mode:          mode,
		Hash:          hash,
		Source:        source,
	}

	rawStages, _ := doc["stages"].([]any)
	for _, rawStage := range rawStages {
		stageDoc, _ := rawStage.(map[string]any)
		stage := Stage{}
		stage.ID, _ = stageDoc["id"].(string)

		if rawMatch, ok := stageDoc["match"].(map[string]any); ok {
			match, err := CompilePredicate(rawMatch)
			if err != nil {
				return nil, &contracts.InvalidPolicyError{
					PolicyID: policyID,
					Message:  fmt.Sprintf("stage %q match: %v", stage.ID, err),
				}
			}
			stage.Match = &match
		}

		rawRules, _ := stageDoc["rules"].([]any)
		for _, rawRule := range rawRules {
			ruleDoc, _ := rawRule.(map[string]any)
			rule := Rule{}
			rule.ID, _ = ruleDoc["id"].(string)
			effect, _ := ruleDoc["effect"].(string)
			rule.Effect = contracts.Effect(effect)
			rule.Prompt, _ = ruleDoc["prompt"].(string)

			rawWhen, _ := ruleDoc["when"].(map[string]any)
			when, err := CompilePredicate(rawWhen)
			if err != nil {
				return nil, &contracts.InvalidPolicyError{
					PolicyID: policyID,
					Message:  fmt.Sprintf("rule %q when: %v", rule.ID, err),
				}
			}
			rule.When = when

			rawCodes, _ := ruleDoc["reason_codes"].([]any)
			for _, rawCode := range rawCodes {
				if code, ok := rawCode.(string); ok {
					rule.ReasonCodes = append(rule.ReasonCodes, code)
				}
			}
			stage.Rules = append(stage.Rules, rule)
		}
		loaded.Stages = append(loaded.Stages, stage)
	}
	return loaded, nil
}

// Ref returns the policy reference block for a decision record, with the
// effective mode resolved against a request-level override.
func (p *LoadedPolicy) Ref(override contracts.PolicyMode) contracts.PolicyRef {
	mode := p.Mode
	if override != "" {
		mode = override
	}
	return contracts.PolicyRef{
		PolicyID:      p.PolicyID,
		PolicyVersion: p.PolicyVersion,
		PolicyHash:    p.Hash,
		Mode:          mode,
	}
}
