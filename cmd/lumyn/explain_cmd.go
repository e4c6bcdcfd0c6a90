package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/lumyn-io/lumyn/pkg/contracts"
	"github.com/lumyn-io/lumyn/pkg/workspace"
)

func runExplainCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("explain", flag.ContinueOnError)
	fs.SetOutput(stderr)
	markdown := fs.Bool("markdown", false, "render a markdown report")
	workspaceDir := fs.String("workspace", workspace.DefaultDir, "workspace directory")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		_, _ = fmt.Fprintln(stderr, "explain: exactly one decision id is required")
		return 2
	}

	eng, st, _, err := openEngine(*workspaceDir)
	if err != nil {
		return fail(stderr, err)
	}
	defer func() { _ = st.Close() }()

	record, err := eng.GetDecisionRecord(context.Background(), fs.Arg(0))
	if err != nil {
		return fail(stderr, err)
	}

	if *markdown {
		_, _ = fmt.Fprint(stdout, explainMarkdown(record))
	} else {
		_, _ = fmt.Fprint(stdout, explainText(record))
	}
	return 0
}

func explainText(r *contracts.DecisionRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s  (%s)\n", r.DecisionID, r.Evaluation.Verdict, r.CreatedAt)
	fmt.Fprintf(&b, "policy: %s %s %s (mode %s)\n",
		r.Policy.PolicyID, r.Policy.PolicyVersion, r.Policy.PolicyHash, r.Policy.Mode)
	if len(r.Evaluation.ReasonCodes) > 0 {
		fmt.Fprintf(&b, "reasons: %s\n", strings.Join(r.Evaluation.ReasonCodes, ", "))
	}
	for _, m := range r.Evaluation.MatchedRules {
		fmt.Fprintf(&b, "  fired %s/%s -> %s\n", m.Stage, m.RuleID, m.Effect)
	}
	for _, q := range r.Evaluation.Queries {
		fmt.Fprintf(&b, "  query %s: %s\n", q.RuleID, q.Prompt)
	}
	fmt.Fprintf(&b, "risk: uncertainty %.2f, failure similarity %.2f\n",
		r.Risk.UncertaintyScore, r.Risk.FailureSimilarityScore)
	fmt.Fprintf(&b, "inputs_digest: %s\n", r.Determinism.InputsDigest)
	return b.String()
}

func explainMarkdown(r *contracts.DecisionRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Decision %s\n\n", r.DecisionID)
	fmt.Fprintf(&b, "**Verdict: %s** at %s\n\n", r.Evaluation.Verdict, r.CreatedAt)
	fmt.Fprintf(&b, "| Field | Value |\n|---|---|\n")
	fmt.Fprintf(&b, "| Policy | %s %s (mode %s) |\n", r.Policy.PolicyID, r.Policy.PolicyVersion, r.Policy.Mode)
	fmt.Fprintf(&b, "| Policy hash | `%s` |\n", r.Policy.PolicyHash)
	fmt.Fprintf(&b, "| Inputs digest | `%s` |\n", r.Determinism.InputsDigest)
	fmt.Fprintf(&b, "| Uncertainty | %.2f |\n", r.Risk.UncertaintyScore)
	fmt.Fprintf(&b, "| Failure similarity | %.2f |\n", r.Risk.FailureSimilarityScore)

	if len(r.Evaluation.ReasonCodes) > 0 {
		fmt.Fprintf(&b, "\n## Reasons\n\n")
		for _, code := range r.Evaluation.ReasonCodes {
			fmt.Fprintf(&b, "- `%s`\n", code)
		}
	}
	if len(r.Evaluation.MatchedRules) > 0 {
		fmt.Fprintf(&b, "\n## Matched rules\n\n")
		for _, m := range r.Evaluation.MatchedRules {
			fmt.Fprintf(&b, "- `%s/%s` -> %s\n", m.Stage, m.RuleID, m.Effect)
		}
	}
	if len(r.Evaluation.Queries) > 0 {
		fmt.Fprintf(&b, "\n## Queries\n\n")
		for _, q := range r.Evaluation.Queries {
			fmt.Fprintf(&b, "- `%s`: %s\n", q.RuleID, q.Prompt)
		}
	}
	if len(r.Risk.FailureSimilarityTopK) > 0 {
		fmt.Fprintf(&b, "\n## Similar prior actions\n\n")
		for _, m := range r.Risk.FailureSimilarityTopK {
			fmt.Fprintf(&b, "- `%s` (%s, score %.2f) %s\n", m.MemoryID, m.Label, m.Score, m.Summary)
		}
	}
	return b.String()
}
