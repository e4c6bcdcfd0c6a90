// Package engine holds the deterministic evaluation core: request
// normalization, the staged policy state machine, and experience-memory
// similarity scoring. Everything here is pure and side-effect free.
package engine

import (
	"sort"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/lumyn-io/lumyn/pkg/contracts"
)

// usdRates is the fixed conversion fixture. Swapping a rate silently would
// change inputs_digest for amount-bearing requests; treat edits as a
// breaking change to replayability.
var usdRates = map[string]float64{
	"USD": 1.0,
	"EUR": 1.08,
	"GBP": 1.26,
	"CAD": 0.74,
	"AUD": 0.66,
	"CHF": 1.11,
	"JPY": 0.0067,
}

// Normalize derives the canonical feature view of a request. Tags are
// NFC-normalized, lowercased, de-duplicated and sorted; amounts in
// currencies outside the fixture table normalize to a null USD value.
func Normalize(request contracts.DecisionRequest) contracts.NormalizedRequest {
	normalized := contracts.NormalizedRequest{
		ActionType: request.ActionType(),
		Tags:       []string{},
	}

	action, _ := request["action"].(map[string]any)
	if amount, ok := action["amount"].(map[string]any); ok {
		if currency, ok := amount["currency"].(string); ok {
			normalized.AmountCurrency = &currency
			if rate, known := usdRates[currency]; known {
				if value, ok := amountValue(amount["value"]); ok {
					usd := value * rate
					normalized.AmountUSD = &usd
				}
			}
		}
	}

	seen := make(map[string]struct{})
	for _, tag := range request.ActionTags() {
		cleaned := strings.ToLower(norm.NFC.String(tag))
		if _, dup := seen[cleaned]; dup {
			continue
		}
		seen[cleaned] = struct{}{}
		normalized.Tags = append(normalized.Tags, cleaned)
	}
	sort.Strings(normalized.Tags)

	return normalized
}

// AmountBucket maps a normalized USD amount onto the similarity bucket.
// A nil amount yields the empty bucket.
func AmountBucket(amountUSD *float64) string {
	switch {
	case amountUSD == nil:
		return ""
	case *amountUSD < 50:
		return "small"
	case *amountUSD < 200:
		return "medium"
	default:
		return "large"
	}
}

func amountValue(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	}
	return 0, false
}
