// Package redact rewrites the evidence payload of a decision request before
// it is digested or persisted. Redaction runs before digest computation, so
// the inputs_digest depends only on the redacted view.
package redact

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/lumyn-io/lumyn/pkg/contracts"
)

// Profile selects how aggressively evidence is rewritten.
type Profile string

const (
	ProfileNone    Profile = "none"    // identity
	ProfileDefault Profile = "default" // drop deny-listed free-text fields
	ProfileStrict  Profile = "strict"  // default + hash every string leaf
)

// Placeholder replaces deny-listed free-text values.
const Placeholder = "<redacted>"

// denyList names evidence keys that carry free text. Structural identifiers
// (ids, hashes, digests) stay intact under the default profile.
var denyList = map[string]struct{}{
	"body":        {},
	"comment":     {},
	"content":     {},
	"description": {},
	"message":     {},
	"note":        {},
	"notes":       {},
	"summary":     {},
	"text":        {},
	"transcript":  {},
}

// Report lists what a redaction pass touched.
type Report struct {
	Profile       Profile  `json:"profile"`
	RedactedPaths []string `json:"redacted_paths"`
}

// ParseProfile validates a profile name; the empty string is not a profile.
func ParseProfile(name string) (Profile, error) {
	switch Profile(name) {
	case ProfileNone, ProfileDefault, ProfileStrict:
		return Profile(name), nil
	}
	return "", fmt.Errorf("redact: unknown profile %q", name)
}

// Apply redacts the request in place and returns the same request plus a
// report. Callers own the copy; Apply assumes it may mutate freely.
func Apply(request contracts.DecisionRequest, profile Profile) (contracts.DecisionRequest, Report, error) {
	report := Report{Profile: profile, RedactedPaths: []string{}}
	if profile == ProfileNone {
		return request, report, nil
	}
	if profile != ProfileDefault && profile != ProfileStrict {
		return nil, report, fmt.Errorf("redact: unknown profile %q", profile)
	}

	evidence, ok := request["evidence"].(map[string]any)
	if !ok {
		return request, report, nil
	}

	redactTree(evidence, "evidence", profile, &report)
	sort.Strings(report.RedactedPaths)
	return request, report, nil
}

func redactTree(node map[string]any, prefix string, profile Profile, report *Report) {
	for key, value := range node {
		path := prefix + "." + key
		if _, denied := denyList[key]; denied {
			if _, isString := value.(string); isString {
				node[key] = Placeholder
				report.RedactedPaths = append(report.RedactedPaths, path)
				continue
			}
		}
		switch t := value.(type) {
		case map[string]any:
			redactTree(t, path, profile, report)
		case []any:
			redactSlice(t, path, profile, report)
		case string:
			if profile == ProfileStrict {
				node[key] = hashPrefix(t)
				report.RedactedPaths = append(report.RedactedPaths, path)
			}
		}
	}
}

func redactSlice(items []any, prefix string, profile Profile, report *Report) {
	for i, value := range items {
		path := fmt.Sprintf("%s[%d]", prefix, i)
		switch t := value.(type) {
		case map[string]any:
			redactTree(t, path, profile, report)
		case []any:
			redactSlice(t, path, profile, report)
		case string:
			if profile == ProfileStrict {
				items[i] = hashPrefix(t)
				report.RedactedPaths = append(report.RedactedPaths, path)
			}
		}
	}
}

// hashPrefix maps a string leaf to a short, stable fingerprint.
func hashPrefix(s string) string {
	sum := sha256.Sum256([]byte(s))
	return "sha256:" + hex.EncodeToString(sum[:])[:16]
}
