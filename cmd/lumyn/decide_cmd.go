package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/lumyn-io/lumyn/pkg/contracts"
	"github.com/lumyn-io/lumyn/pkg/workspace"
)

func runDecideCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("decide", flag.ContinueOnError)
	fs.SetOutput(stderr)
	inPath := fs.String("in", "", "path to a DecisionRequest JSON file")
	workspaceDir := fs.String("workspace", workspace.DefaultDir, "workspace directory")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *inPath == "" {
		_, _ = fmt.Fprintln(stderr, "decide: --in is required")
		return 2
	}

	raw, err := os.ReadFile(*inPath)
	if err != nil {
		return fail(stderr, err)
	}
	var request contracts.DecisionRequest
	if err := json.Unmarshal(raw, &request); err != nil {
		return fail(stderr, fmt.Errorf("parse request: %w", err))
	}

	eng, st, _, err := openEngine(*workspaceDir)
	if err != nil {
		return fail(stderr, err)
	}
	defer func() { _ = st.Close() }()

	record, err := eng.Decide(context.Background(), request)
	if err != nil {
		return fail(stderr, err)
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(record); err != nil {
		return fail(stderr, err)
	}
	return 0
}
