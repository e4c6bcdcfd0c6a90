package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumyn-io/lumyn/pkg/contracts"
)

func run(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := Run(append([]string{"lumyn"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func writeRequestFile(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "request.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"schema_version": "decision_request.v0",
		"subject": {"type": "service", "id": "agent-a", "tenant_id": "acme"},
		"action": {"type": "support.refund", "intent": "refund order",
			"amount": {"value": 900, "currency": "USD"}},
		"evidence": {"ticket_id": "ZD-1"},
		"context": {"mode": "digest_only", "digest": "sha256:aa"}
	}`), 0o644))
	return path
}

func TestRunVersion(t *testing.T) {
	code, stdout, _ := run("version")
	assert.Zero(t, code)
	assert.Contains(t, stdout, "lumyn")
}

func TestRunUnknownCommand(t *testing.T) {
	code, _, stderr := run("frobnicate")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "unknown command")
}

func TestRunNoArgs(t *testing.T) {
	code, _, stderr := run()
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "Usage")
}

func TestDecideExportReplayExplain(t *testing.T) {
	dir := t.TempDir()
	ws := filepath.Join(dir, ".lumyn")
	reqPath := writeRequestFile(t, dir)

	// Decide blocks the high-value refund under the starter policy.
	code, stdout, stderr := run("decide", "--in", reqPath, "--workspace", ws)
	require.Zero(t, code, stderr)

	var record contracts.DecisionRecord
	require.NoError(t, json.Unmarshal([]byte(stdout), &record))
	assert.Equal(t, contracts.VerdictBlock, record.Evaluation.Verdict)
	assert.Contains(t, record.Evaluation.ReasonCodes, "HIGH_VALUE")

	// Export the decision as a pack.
	packPath := filepath.Join(dir, "decision.zip")
	code, _, stderr = run("export", record.DecisionID, "--out", packPath, "--pack", "--workspace", ws)
	require.Zero(t, code, stderr)
	_, err := os.Stat(packPath)
	require.NoError(t, err)

	// The pack replays clean.
	code, stdout, stderr = run("replay", packPath)
	require.Zero(t, code, stderr)
	assert.Contains(t, stdout, "OK")

	// Explain renders the decision.
	code, stdout, stderr = run("explain", record.DecisionID, "--workspace", ws)
	require.Zero(t, code, stderr)
	assert.Contains(t, stdout, "BLOCK")
	assert.Contains(t, stdout, "HIGH_VALUE")
}

func TestReplayTamperedPackFails(t *testing.T) {
	dir := t.TempDir()
	ws := filepath.Join(dir, ".lumyn")
	reqPath := writeRequestFile(t, dir)

	code, stdout, stderr := run("decide", "--in", reqPath, "--workspace", ws)
	require.Zero(t, code, stderr)
	var record contracts.DecisionRecord
	require.NoError(t, json.Unmarshal([]byte(stdout), &record))

	packPath := filepath.Join(dir, "decision.zip")
	code, _, stderr = run("export", record.DecisionID, "--out", packPath, "--pack", "--workspace", ws)
	require.Zero(t, code, stderr)

	// Truncating the archive makes replay report an error, not a mismatch.
	data, err := os.ReadFile(packPath)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(packPath, data[:len(data)-4], 0o644))

	code, _, stderr = run("replay", packPath)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "error:")
}

func TestExportWithoutPackWritesRecordJSON(t *testing.T) {
	dir := t.TempDir()
	ws := filepath.Join(dir, ".lumyn")
	reqPath := writeRequestFile(t, dir)

	code, stdout, stderr := run("decide", "--in", reqPath, "--workspace", ws)
	require.Zero(t, code, stderr)
	var record contracts.DecisionRecord
	require.NoError(t, json.Unmarshal([]byte(stdout), &record))

	outPath := filepath.Join(dir, "record.json")
	code, _, stderr = run("export", record.DecisionID, "--out", outPath, "--workspace", ws)
	require.Zero(t, code, stderr)

	content, err := os.ReadFile(outPath)
	require.NoError(t, err)
	var exported contracts.DecisionRecord
	require.NoError(t, json.Unmarshal(content, &exported))
	assert.Equal(t, record.DecisionID, exported.DecisionID)
}

func TestSchemasWritesFiles(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "schemas")

	code, stdout, stderr := run("schemas", "--out", dir)
	require.Zero(t, code, stderr)
	assert.Contains(t, stdout, "decision_request.v0.schema.json")

	_, err := os.Stat(filepath.Join(dir, "policy.v0.schema.json"))
	require.NoError(t, err)
}

func TestDecideMissingInputFlag(t *testing.T) {
	code, _, stderr := run("decide")
	assert.Equal(t, 2, code)
	assert.NotEmpty(t, stderr)
}
