package resources

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumyn-io/lumyn/pkg/contracts"
)

func validRequestDoc() map[string]any {
	return map[string]any{
		"schema_version": "decision_request.v0",
		"subject":        map[string]any{"type": "service", "id": "agent-a"},
		"action":         map[string]any{"type": "support.refund", "intent": "refund order"},
		"evidence":       map[string]any{},
		"context":        map[string]any{"mode": "digest_only", "digest": "sha256:aa"},
	}
}

func TestLoadEmbedded(t *testing.T) {
	res, err := Load()
	require.NoError(t, err)
	assert.True(t, res.KnownReasonCode("HIGH_VALUE"))
	assert.False(t, res.KnownReasonCode("NOT_A_CODE"))
}

func TestValidateRequest(t *testing.T) {
	res, err := Load()
	require.NoError(t, err)

	require.NoError(t, res.ValidateRequest(validRequestDoc()))

	bad := validRequestDoc()
	delete(bad, "action")
	err = res.ValidateRequest(bad)
	var validationErr *contracts.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.NotEmpty(t, validationErr.Message)
}

func TestValidateRequestCoercesIntegers(t *testing.T) {
	res, err := Load()
	require.NoError(t, err)

	doc := validRequestDoc()
	doc["action"].(map[string]any)["amount"] = map[string]any{
		"value": 500, "currency": "USD",
	}
	require.NoError(t, res.ValidateRequest(doc))
}

func TestWriteDefaultsRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "schemas")
	require.NoError(t, WriteDefaults(dir))

	res, err := LoadDir(dir)
	require.NoError(t, err)
	require.NoError(t, res.ValidateRequest(validRequestDoc()))
	assert.True(t, res.KnownReasonCode("HIGH_VALUE"))
}

func TestLoadDirMissing(t *testing.T) {
	_, err := LoadDir(filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
}
