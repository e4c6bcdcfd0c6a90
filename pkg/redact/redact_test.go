package redact

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumyn-io/lumyn/pkg/contracts"
)

func sampleRequest() contracts.DecisionRequest {
	return contracts.DecisionRequest{
		"schema_version": "decision_request.v0",
		"action":         map[string]any{"type": "support.refund"},
		"evidence": map[string]any{
			"ticket_id": "ZD-1",
			"note":      "customer is very upset",
			"thread": map[string]any{
				"transcript": "long conversation",
				"message_id": "msg-9",
			},
			"attachments": []any{
				map[string]any{"summary": "screenshot description", "hash": "sha256:abcd"},
			},
		},
	}
}

func TestApplyNoneIsIdentity(t *testing.T) {
	req := sampleRequest()
	out, report, err := Apply(req, ProfileNone)
	require.NoError(t, err)

	assert.Equal(t, "customer is very upset", out["evidence"].(map[string]any)["note"])
	assert.Empty(t, report.RedactedPaths)
}

func TestApplyDefaultDropsDenyListed(t *testing.T) {
	out, report, err := Apply(sampleRequest(), ProfileDefault)
	require.NoError(t, err)

	evidence := out["evidence"].(map[string]any)
	assert.Equal(t, Placeholder, evidence["note"])
	assert.Equal(t, "ZD-1", evidence["ticket_id"])

	thread := evidence["thread"].(map[string]any)
	assert.Equal(t, Placeholder, thread["transcript"])
	assert.Equal(t, "msg-9", thread["message_id"])

	attachment := evidence["attachments"].([]any)[0].(map[string]any)
	assert.Equal(t, Placeholder, attachment["summary"])
	assert.Equal(t, "sha256:abcd", attachment["hash"])

	assert.Equal(t, []string{
		"evidence.attachments[0].summary",
		"evidence.note",
		"evidence.thread.transcript",
	}, report.RedactedPaths)
}

func TestApplyStrictHashesRemainingStrings(t *testing.T) {
	out, report, err := Apply(sampleRequest(), ProfileStrict)
	require.NoError(t, err)

	evidence := out["evidence"].(map[string]any)
	assert.Equal(t, Placeholder, evidence["note"])
	assert.True(t, strings.HasPrefix(evidence["ticket_id"].(string), "sha256:"))

	thread := evidence["thread"].(map[string]any)
	assert.True(t, strings.HasPrefix(thread["message_id"].(string), "sha256:"))

	// Strict only rewrites evidence; action is untouched.
	assert.Equal(t, "support.refund", out["action"].(map[string]any)["type"])
	assert.NotEmpty(t, report.RedactedPaths)
}

func TestApplyStrictIsDeterministic(t *testing.T) {
	a, _, err := Apply(sampleRequest(), ProfileStrict)
	require.NoError(t, err)
	b, _, err := Apply(sampleRequest(), ProfileStrict)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestApplyNoEvidence(t *testing.T) {
	req := contracts.DecisionRequest{"action": map[string]any{"type": "x"}}
	out, report, err := Apply(req, ProfileDefault)
	require.NoError(t, err)
	assert.Equal(t, req, out)
	assert.Empty(t, report.RedactedPaths)
}

func TestParseProfile(t *testing.T) {
	for _, name := range []string{"none", "default", "strict"} {
		p, err := ParseProfile(name)
		require.NoError(t, err)
		assert.Equal(t, Profile(name), p)
	}

	_, err := ParseProfile("")
	require.Error(t, err)
	_, err = ParseProfile("aggressive")
	require.Error(t, err)
}
