// patterncheck loads every pattern file in a directory and reports
// schema, reference, and compliance diagnostics.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/dawsos/core/pkg/compliance"
	"github.com/dawsos/core/pkg/pattern"
	"github.com/dawsos/core/pkg/registry"
	"github.com/dawsos/core/pkg/version"
)

func main() {
	dir := flag.String("dir", "./patterns", "directory containing pattern YAML files")
	strict := flag.Bool("strict", false, "promote compliance warnings to errors")
	acceptLegacyParams := flag.Bool("accept-legacy-params-key", false, "accept the deprecated 'parameters' step key alongside 'params'")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Fprintln(os.Stdout, version.Full())
		os.Exit(0)
	}

	reg := registry.New()
	gate := compliance.New(*strict)

	corpus, diags := pattern.Load(*dir, pattern.ValidateDeps{Registry: reg, Gate: gate},
		pattern.LoadOptions{AcceptLegacyParamsKey: *acceptLegacyParams})

	var warnings, errs int
	for _, d := range diags {
		fmt.Fprintln(os.Stdout, d.String())
		switch d.Severity {
		case pattern.SeverityWarning:
			warnings++
		case pattern.SeverityError:
			errs++
		}
	}

	fmt.Fprintf(os.Stdout, "patterns loaded: %d, warnings: %d, errors: %d\n", len(corpus.Patterns), warnings, errs)

	switch {
	case errs > 0:
		os.Exit(2)
	case warnings > 0:
		os.Exit(1)
	default:
		os.Exit(0)
	}
}
