package engine

import (
	"sort"

	"github.com/lumyn-io/lumyn/pkg/contracts"
)

// QueryFeature is the compact feature vector compared against memory items.
type QueryFeature struct {
	ActionType     string
	AmountCurrency *string
	AmountBucket   string // "" when the amount is null
	Tags           []string
}

// BuildQueryFeature derives the similarity query from a request and its
// normalized view. Tags are the raw action tags; normalization is a digest
// concern, not a similarity one.
func BuildQueryFeature(request contracts.DecisionRequest, normalized contracts.NormalizedRequest) QueryFeature {
	return QueryFeature{
		ActionType:     normalized.ActionType,
		AmountCurrency: normalized.AmountCurrency,
		AmountBucket:   AmountBucket(normalized.AmountUSD),
		Tags:           request.ActionTags(),
	}
}

// Doc renders the feature as the mapping persisted on memory items.
func (q QueryFeature) Doc() map[string]any {
	doc := map[string]any{
		"action_type":       q.ActionType,
		"amount_currency":   nil,
		"amount_usd_bucket": nil,
		"tags":              stringsToAny(q.Tags),
	}
	if q.AmountCurrency != nil {
		doc["amount_currency"] = *q.AmountCurrency
	}
	if q.AmountBucket != "" {
		doc["amount_usd_bucket"] = q.AmountBucket
	}
	return doc
}

// TopKMatches scores candidates against the query feature and returns the
// best k, ordered by descending score with memory_id ascending as the
// tiebreaker. The ordering is stable across processes.
//
// Score = 0.5 * Jaccard(tags) + 1/6 per exact match on action_type,
// amount_currency, and amount_usd_bucket; null matches null.
func TopKMatches(query QueryFeature, candidates []contracts.MemoryItem, k int) []contracts.SimilarityMatch {
	if k <= 0 {
		return []contracts.SimilarityMatch{}
	}

	matches := make([]contracts.SimilarityMatch, 0, len(candidates))
	for _, item := range candidates {
		matches = append(matches, contracts.SimilarityMatch{
			MemoryID: item.MemoryID,
			Label:    string(item.Label),
			Score:    score(query, item.Feature),
			Summary:  item.Summary,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].MemoryID < matches[j].MemoryID
	})

	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

func score(query QueryFeature, feature map[string]any) float64 {
	s := 0.5 * jaccard(query.Tags, featureTags(feature))

	if actionType, _ := feature["action_type"].(string); actionType == query.ActionType {
		s += 1.0 / 6.0
	}
	if nullableEqual(query.AmountCurrency, feature["amount_currency"]) {
		s += 1.0 / 6.0
	}
	bucket := query.AmountBucket
	var bucketPtr *string
	if bucket != "" {
		bucketPtr = &bucket
	}
	if nullableEqual(bucketPtr, feature["amount_usd_bucket"]) {
		s += 1.0 / 6.0
	}
	return s
}

// nullableEqual treats a nil pointer and a JSON null as the same value.
func nullableEqual(want *string, got any) bool {
	if want == nil {
		return got == nil
	}
	s, ok := got.(string)
	return ok && s == *want
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	setA := make(map[string]struct{}, len(a))
	for _, s := range a {
		setA[s] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, s := range b {
		setB[s] = struct{}{}
	}
	intersection := 0
	for s := range setA {
		if _, ok := setB[s]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

func featureTags(feature map[string]any) []string {
	raw, _ := feature["tags"].([]any)
	tags := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			tags = append(tags, s)
		}
	}
	return tags
}
