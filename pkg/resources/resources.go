// Package resources loads and compiles the JSON Schemas and the reason-code
// registry the engine validates against. Defaults are embedded in the binary;
// a directory can override them for schema development.
package resources

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/lumyn-io/lumyn/pkg/contracts"
)

//go:embed schemas/*.json
var embedded embed.FS

// Schema file names, relative to the schema directory.
const (
	RequestSchemaFile = "decision_request.v0.schema.json"
	RecordSchemaFile  = "decision_record.v0.schema.json"
	PolicySchemaFile  = "policy.v0.schema.json"
	ReasonCodesFile   = "reason_codes.v0.json"
)

// Resources holds the compiled schemas and the reason-code registry.
// It is immutable after Load and safe for concurrent use.
type Resources struct {
	Request *jsonschema.Schema
	Record  *jsonschema.Schema
	Policy  *jsonschema.Schema

	reasonCodes map[string]struct{}
}

// Load compiles the embedded default schemas.
func Load() (*Resources, error) {
	sub, err := fs.Sub(embedded, "schemas")
	if err != nil {
		return nil, err
	}
	return loadFS(sub)
}

// LoadDir compiles schemas from a directory on disk. Missing files and
// malformed JSON are fatal.
func LoadDir(dir string) (*Resources, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("resources: schema dir: %w", err)
	}
	return loadFS(os.DirFS(dir))
}

func loadFS(fsys fs.FS) (*Resources, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	compile := func(name string) (*jsonschema.Schema, error) {
		raw, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("resources: read %s: %w", name, err)
		}
		url := "https://lumyn.dev/schemas/" + name
		if err := compiler.AddResource(url, bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("resources: load %s: %w", name, err)
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("resources: compile %s: %w", name, err)
		}
		return schema, nil
	}

	r := &Resources{}
	var err error
	if r.Request, err = compile(RequestSchemaFile); err != nil {
		return nil, err
	}
	if r.Record, err = compile(RecordSchemaFile); err != nil {
		return nil, err
	}
	if r.Policy, err = compile(PolicySchemaFile); err != nil {
		return nil, err
	}

	raw, err := fs.ReadFile(fsys, ReasonCodesFile)
	if err != nil {
		return nil, fmt.Errorf("resources: read %s: %w", ReasonCodesFile, err)
	}
	var registry struct {
		SchemaVersion string `json:"schema_version"`
		Codes         []struct {
			Code  string `json:"code"`
			Title string `json:"title"`
		} `json:"codes"`
	}
	if err := json.Unmarshal(raw, &registry); err != nil {
		return nil, fmt.Errorf("resources: parse %s: %w", ReasonCodesFile, err)
	}
	r.reasonCodes = make(map[string]struct{}, len(registry.Codes))
	for _, c := range registry.Codes {
		r.reasonCodes[c.Code] = struct{}{}
	}
	return r, nil
}

// KnownReasonCode reports whether code is in the registry.
func (r *Resources) KnownReasonCode(code string) bool {
	_, ok := r.reasonCodes[code]
	return ok
}

// ValidateRequest validates a decision request document.
// Schema failures surface as *contracts.ValidationError.
func (r *Resources) ValidateRequest(doc map[string]any) error {
	if err := r.Request.Validate(normalizeInstance(doc)); err != nil {
		return &contracts.ValidationError{Message: validationMessage(err)}
	}
	return nil
}

// ValidateRecord validates a decision record document.
func (r *Resources) ValidateRecord(doc map[string]any) error {
	if err := r.Record.Validate(normalizeInstance(doc)); err != nil {
		return &contracts.ValidationError{Message: validationMessage(err)}
	}
	return nil
}

// ValidatePolicy validates a parsed policy document against the policy
// schema and cross-checks every rule reason code against the registry.
func (r *Resources) ValidatePolicy(doc map[string]any) error {
	if err := r.Policy.Validate(normalizeInstance(doc)); err != nil {
		return &contracts.InvalidPolicyError{Message: validationMessage(err)}
	}
	stages, _ := doc["stages"].([]any)
	for _, rawStage := range stages {
		stage, _ := rawStage.(map[string]any)
		rules, _ := stage["rules"].([]any)
		for _, rawRule := range rules {
			rule, _ := rawRule.(map[string]any)
			codes, _ := rule["reason_codes"].([]any)
			for _, rawCode := range codes {
				code, _ := rawCode.(string)
				if !r.KnownReasonCode(code) {
					ruleID, _ := rule["id"].(string)
					return &contracts.InvalidPolicyError{
						Message: fmt.Sprintf("rule %q references unknown reason code %q", ruleID, code),
					}
				}
			}
		}
	}
	return nil
}

func validationMessage(err error) string {
	var ve *jsonschema.ValidationError
	if errors.As(err, &ve) {
		leaf := ve
		for len(leaf.Causes) > 0 {
			leaf = leaf.Causes[0]
		}
		loc := leaf.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return fmt.Sprintf("%s: %s", loc, leaf.Message)
	}
	return err.Error()
}

// normalizeInstance rewrites numeric types the jsonschema library does not
// recognize (e.g. int from hand-built test documents) into the JSON domain.
func normalizeInstance(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = normalizeInstance(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = normalizeInstance(val)
		}
		return out
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}

// Dir returns the canonical schema file names in a stable order, for tooling
// that materializes the embedded defaults to disk.
func Dir() []string {
	return []string{RequestSchemaFile, RecordSchemaFile, PolicySchemaFile, ReasonCodesFile}
}

// WriteDefaults materializes the embedded schemas into dir.
func WriteDefaults(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, name := range Dir() {
		raw, err := embedded.ReadFile("schemas/" + name)
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(dir, name), raw, 0o644); err != nil {
			return err
		}
	}
	return nil
}
