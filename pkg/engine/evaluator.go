package engine

import (
	"github.com/lumyn-io/lumyn/pkg/contracts"
	"github.com/lumyn-io/lumyn/pkg/policy"
)

// Evaluate runs the staged policy state machine over a request.
//
// Stages are scanned in document order; a stage whose match gate evaluates
// false is skipped wholesale. Within a stage, rules fire independently in
// order. The final verdict is the highest-precedence effect among all fired
// rules (block > query > allow); when nothing fires the verdict falls back
// to ALLOW under enforce mode and QUERY under advisory mode.
func Evaluate(request contracts.DecisionRequest, normalized contracts.NormalizedRequest, loaded *policy.LoadedPolicy) contracts.Evaluation {
	doc := map[string]any{
		"request":    map[string]any(request),
		"normalized": normalizedDoc(normalized),
	}

	mode := loaded.Mode
	if override := request.PolicyModeOverride(); override != "" {
		mode = override
	}

	eval := contracts.Evaluation{
		ReasonCodes:  []string{},
		MatchedRules: []contracts.MatchedRule{},
		Queries:      []contracts.Query{},
	}

	seenCodes := make(map[string]struct{})
	var fired []contracts.Effect
	for _, stage := range loaded.Stages {
		if stage.Match != nil && !stage.Match.Eval(doc) {
			continue
		}
		for _, rule := range stage.Rules {
			if !rule.When.Eval(doc) {
				continue
			}
			fired = append(fired, rule.Effect)
			eval.MatchedRules = append(eval.MatchedRules, contracts.MatchedRule{
				Stage:       stage.ID,
				RuleID:      rule.ID,
				Effect:      rule.Effect,
				ReasonCodes: append([]string{}, rule.ReasonCodes...),
			})
			for _, code := range rule.ReasonCodes {
				if _, dup := seenCodes[code]; dup {
					continue
				}
				seenCodes[code] = struct{}{}
				eval.ReasonCodes = append(eval.ReasonCodes, code)
			}
			if rule.Effect == contracts.EffectQuery {
				eval.Queries = append(eval.Queries, contracts.Query{
					RuleID: rule.ID,
					Prompt: rule.Prompt,
				})
			}
		}
	}

	eval.Verdict = foldVerdict(fired, mode)
	return eval
}

// foldVerdict applies effect precedence: block > query > allow.
func foldVerdict(fired []contracts.Effect, mode contracts.PolicyMode) contracts.Verdict {
	if len(fired) == 0 {
		if mode == contracts.ModeAdvisory {
			return contracts.VerdictQuery
		}
		return contracts.VerdictAllow
	}
	verdict := contracts.VerdictAllow
	for _, effect := range fired {
		switch effect {
		case contracts.EffectBlock:
			return contracts.VerdictBlock
		case contracts.EffectQuery:
			verdict = contracts.VerdictQuery
		}
	}
	return verdict
}

// normalizedDoc exposes the normalized view to predicate paths with the same
// nulls the digest sees.
func normalizedDoc(n contracts.NormalizedRequest) map[string]any {
	doc := map[string]any{
		"action_type":     n.ActionType,
		"amount_currency": nil,
		"amount_usd":      nil,
		"tags":            stringsToAny(n.Tags),
	}
	if n.AmountCurrency != nil {
		doc["amount_currency"] = *n.AmountCurrency
	}
	if n.AmountUSD != nil {
		doc["amount_usd"] = *n.AmountUSD
	}
	return doc
}

func stringsToAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
