// Command lumyn is the workspace CLI for the decision engine: run decisions
// from files, export and replay decision packs, and explain past decisions.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/lumyn-io/lumyn/pkg/lumyn"
	"github.com/lumyn-io/lumyn/pkg/records"
	"github.com/lumyn-io/lumyn/pkg/resources"
	"github.com/lumyn-io/lumyn/pkg/store"
	"github.com/lumyn-io/lumyn/pkg/workspace"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint, split out for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		usage(stderr)
		return 2
	}

	switch args[1] {
	case "version":
		_, _ = fmt.Fprintf(stdout, "lumyn %s\n", records.EngineVersion)
		return 0
	case "decide":
		return runDecideCmd(args[2:], stdout, stderr)
	case "export":
		return runExportCmd(args[2:], stdout, stderr)
	case "replay":
		return runReplayCmd(args[2:], stdout, stderr)
	case "explain":
		return runExplainCmd(args[2:], stdout, stderr)
	case "schemas":
		return runSchemasCmd(args[2:], stdout, stderr)
	case "help", "-h", "--help":
		usage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n", args[1])
		usage(stderr)
		return 2
	}
}

func usage(w io.Writer) {
	_, _ = fmt.Fprintln(w, `Usage: lumyn <command> [flags]

Commands:
  version                              Print the engine version
  decide --in <file> [--workspace d]   Run a decision from a request file
  export <decision_id> --out <path> --pack [--archive <url>]
                                       Export a decision pack
  replay <pack.zip> [--markdown]       Verify an exported pack offline
  explain <decision_id> [--markdown]   Render a decision for review
  schemas --out <dir>                  Write the built-in schema files`)
}

// openEngine bootstraps the workspace and assembles an engine over it.
// Callers own the returned store and must close it.
func openEngine(workspaceDir string) (*lumyn.Engine, *store.SQLiteStore, *resources.Resources, error) {
	paths, err := workspace.Init(workspaceDir, false)
	if err != nil {
		return nil, nil, nil, err
	}
	res, err := resources.Load()
	if err != nil {
		return nil, nil, nil, err
	}
	st, err := store.OpenSQLite(paths.StorePath)
	if err != nil {
		return nil, nil, nil, err
	}
	eng := lumyn.New(lumyn.DefaultConfig(paths.PolicyPath), res, st)
	return eng, st, res, nil
}

// fail prints the one-line error contract every command shares.
func fail(stderr io.Writer, err error) int {
	_, _ = fmt.Fprintln(stderr, "error:", err)
	return 1
}
