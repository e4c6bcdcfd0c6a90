package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/lumyn-io/lumyn/pkg/archive"
	"github.com/lumyn-io/lumyn/pkg/pack"
	"github.com/lumyn-io/lumyn/pkg/workspace"
)

func runExportCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(stderr)
	outPath := fs.String("out", "", "output path")
	asPack := fs.Bool("pack", false, "export a decision pack (ZIP) instead of bare JSON")
	archiveURL := fs.String("archive", "", "also upload the pack to this destination (file://, s3://, gs://)")
	workspaceDir := fs.String("workspace", workspace.DefaultDir, "workspace directory")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		_, _ = fmt.Fprintln(stderr, "export: exactly one decision id is required")
		return 2
	}
	decisionID := fs.Arg(0)
	if *outPath == "" {
		_, _ = fmt.Fprintln(stderr, "export: --out is required")
		return 2
	}

	eng, st, _, err := openEngine(*workspaceDir)
	if err != nil {
		return fail(stderr, err)
	}
	defer func() { _ = st.Close() }()

	ctx := context.Background()
	record, err := eng.GetDecisionRecord(ctx, decisionID)
	if err != nil {
		return fail(stderr, err)
	}

	if !*asPack {
		data, err := json.MarshalIndent(record, "", "  ")
		if err != nil {
			return fail(stderr, err)
		}
		if err := os.WriteFile(*outPath, data, 0o644); err != nil {
			return fail(stderr, err)
		}
		_, _ = fmt.Fprintf(stdout, "exported %s to %s\n", decisionID, *outPath)
		return 0
	}

	snapshot, err := st.GetPolicySnapshot(ctx, record.Policy.PolicyHash)
	if err != nil {
		return fail(stderr, fmt.Errorf("policy snapshot %s: %w", record.Policy.PolicyHash, err))
	}

	data, err := pack.Build(record, snapshot.PolicyText)
	if err != nil {
		return fail(stderr, err)
	}
	if err := os.WriteFile(*outPath, data, 0o644); err != nil {
		return fail(stderr, err)
	}
	_, _ = fmt.Fprintf(stdout, "exported pack for %s to %s\n", decisionID, *outPath)

	if *archiveURL != "" {
		dest, err := archive.Open(ctx, *archiveURL)
		if err != nil {
			return fail(stderr, err)
		}
		name := filepath.Base(*outPath)
		if err := dest.Put(ctx, name, data); err != nil {
			return fail(stderr, err)
		}
		_, _ = fmt.Fprintf(stdout, "archived %s to %s\n", name, *archiveURL)
	}
	return 0
}
