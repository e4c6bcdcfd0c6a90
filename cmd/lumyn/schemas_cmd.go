package main

import (
	"flag"
	"fmt"
	"io"

	"github.com/lumyn-io/lumyn/pkg/resources"
)

func runSchemasCmd(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("schemas", flag.ContinueOnError)
	fs.SetOutput(stderr)
	outDir := fs.String("out", "", "directory to write the schema files into")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *outDir == "" {
		_, _ = fmt.Fprintln(stderr, "schemas: --out is required")
		return 2
	}

	if err := resources.WriteDefaults(*outDir); err != nil {
		return fail(stderr, err)
	}
	for _, name := range resources.Dir() {
		_, _ = fmt.Fprintln(stdout, name)
	}
	return 0
}
