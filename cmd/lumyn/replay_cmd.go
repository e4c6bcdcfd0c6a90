package main

import (
	"flag"
	"fmt"
	"io"

	"github.com/lumyn-io/lumyn/pkg/replay"
	"github.com/lumyn-io/lumyn/pkg/resources"
)

func runReplayCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	fs.SetOutput(stderr)
	markdown := fs.Bool("markdown", false, "render a markdown report")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		_, _ = fmt.Fprintln(stderr, "replay: exactly one pack path is required")
		return 2
	}

	res, err := resources.Load()
	if err != nil {
		return fail(stderr, err)
	}
	result, err := replay.ValidateFile(fs.Arg(0), res)
	if err != nil {
		return fail(stderr, err)
	}

	if *markdown {
		_, _ = fmt.Fprint(stdout, result.Markdown())
	} else {
		_, _ = fmt.Fprint(stdout, result.Text())
	}
	if !result.OK {
		return 1
	}
	return 0
}
