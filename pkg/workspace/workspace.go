// Package workspace bootstraps the local directory layout the CLI works in:
// a policy file plus a SQLite database. Commands initialize it on demand, so
// a bare `lumyn decide` in an empty directory just works.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultDir is the workspace directory created next to the caller.
const DefaultDir = ".lumyn"

// DefaultPolicyTemplate is the starter policy written into new workspaces.
// It blocks high-value refunds, asks for review on sensitive actions, and
// allows everything else under enforce mode.
const DefaultPolicyTemplate = `schema_version: policy.v0
policy_id: lumyn-support
policy_version: 0.1.0
mode: enforce
stages:
  - id: refunds
    match:
      eq: {path: normalized.action_type, value: support.refund}
    rules:
      - id: refund-high-value
        when:
          gte: {path: normalized.amount_usd, value: 500}
        effect: block
        reason_codes: [HIGH_VALUE]
      - id: refund-unknown-currency
        when:
          all:
            - exists: {path: request.action.amount}
            - not:
                exists: {path: normalized.amount_usd}
        effect: query
        reason_codes: [UNKNOWN_CURRENCY]
        prompt: Confirm the refund currency before proceeding.
  - id: sensitive
    rules:
      - id: sensitive-types
        when:
          in:
            path: normalized.action_type
            values: [support.export_data, support.delete_account, support.change_owner]
        effect: query
        reason_codes: [SENSITIVE_ACTION]
        prompt: A human should review this action.
`

// Paths locates the pieces of a workspace.
type Paths struct {
	Root       string
	PolicyPath string
	StorePath  string
}

// Resolve maps a workspace directory to its contents.
func Resolve(dir string) Paths {
	if dir == "" {
		dir = DefaultDir
	}
	return Paths{
		Root:       dir,
		PolicyPath: filepath.Join(dir, "policies", "lumyn-support.v0.yml"),
		StorePath:  filepath.Join(dir, "lumyn.db"),
	}
}

// Init creates the workspace skeleton. Existing files are left alone unless
// force is set, in which case the policy template is rewritten.
func Init(dir string, force bool) (Paths, error) {
	paths := Resolve(dir)

	if err := os.MkdirAll(filepath.Dir(paths.PolicyPath), 0o755); err != nil {
		return paths, fmt.Errorf("workspace: create %s: %w", paths.Root, err)
	}

	_, err := os.Stat(paths.PolicyPath)
	if force || os.IsNotExist(err) {
		if err := os.WriteFile(paths.PolicyPath, []byte(DefaultPolicyTemplate), 0o644); err != nil {
			return paths, fmt.Errorf("workspace: write policy template: %w", err)
		}
	}

	return paths, nil
}

// Initialized reports whether the workspace has a policy on disk.
func Initialized(dir string) bool {
	paths := Resolve(dir)
	_, err := os.Stat(paths.PolicyPath)
	return err == nil
}
