// Package pack builds and reads decision packs: ZIP archives bundling a
// decision record, its redacted request, and the policy text for offline
// replay. Member order and timestamps are fixed so the same inputs always
// produce the same archive bytes.
package pack

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/lumyn-io/lumyn/pkg/canonicalize"
	"github.com/lumyn-io/lumyn/pkg/contracts"
)

// Member names inside the archive, in write order.
const (
	MemberRecord  = "decision_record.json"
	MemberRequest = "request.json"
	MemberPolicy  = "policy.yml"
)

// Pack is the unpacked content of a decision pack.
type Pack struct {
	Record       *contracts.DecisionRecord
	RecordJSON   []byte
	RequestJSON  []byte
	PolicySource []byte
}

// Build serializes a record and its policy source into pack bytes. The
// record and request members are canonical JSON; the policy member is the
// source text byte for byte.
func Build(record *contracts.DecisionRecord, policySource []byte) ([]byte, error) {
	recordJSON, err := canonicalize.JSON(record)
	if err != nil {
		return nil, fmt.Errorf("pack: encode record: %w", err)
	}
	requestJSON, err := canonicalize.JSON(record.Request)
	if err != nil {
		return nil, fmt.Errorf("pack: encode request: %w", err)
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	members := []struct {
		name string
		data []byte
	}{
		{MemberRecord, recordJSON},
		{MemberRequest, requestJSON},
		{MemberPolicy, policySource},
	}
	for _, m := range members {
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:     m.name,
			Method:   zip.Deflate,
			Modified: time.Unix(0, 0).UTC(),
		})
		if err != nil {
			return nil, fmt.Errorf("pack: add %s: %w", m.name, err)
		}
		if _, err := w.Write(m.data); err != nil {
			return nil, fmt.Errorf("pack: write %s: %w", m.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("pack: close: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteFile builds a pack and writes it to path.
func WriteFile(path string, record *contracts.DecisionRecord, policySource []byte) error {
	data, err := Build(record, policySource)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("pack: write %s: %w", path, err)
	}
	return nil
}

// ReadFile opens and parses a pack from disk.
func ReadFile(path string) (*Pack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("pack: read %s: %w", path, err)
	}
	return Read(data)
}

// Read parses pack bytes. All three members must be present.
func Read(data []byte) (*Pack, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("pack: open: %w", err)
	}

	members := map[string][]byte{}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("pack: open member %s: %w", f.Name, err)
		}
		content, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("pack: read member %s: %w", f.Name, err)
		}
		members[f.Name] = content
	}

	for _, name := range []string{MemberRecord, MemberRequest, MemberPolicy} {
		if _, ok := members[name]; !ok {
			return nil, fmt.Errorf("pack: missing member %s", name)
		}
	}

	var record contracts.DecisionRecord
	if err := json.Unmarshal(members[MemberRecord], &record); err != nil {
		return nil, fmt.Errorf("pack: decode record: %w", err)
	}

	return &Pack{
		Record:       &record,
		RecordJSON:   members[MemberRecord],
		RequestJSON:  members[MemberRequest],
		PolicySource: members[MemberPolicy],
	}, nil
}
