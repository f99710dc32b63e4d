// compliancecheck loads a pattern directory and prints the compliance
// gate's aggregate report as JSON.
package main

import (
	"encoding/json"
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
	strict := flag.Bool("strict", false, "promote compliance warnings to non-compliant")
	acceptLegacyParams := flag.Bool("accept-legacy-params-key", false, "accept the deprecated 'parameters' step key alongside 'params'")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Fprintln(os.Stdout, version.Full())
		os.Exit(0)
	}

	reg := registry.New()
	gate := compliance.New(*strict)

	_, diags := pattern.Load(*dir, pattern.ValidateDeps{Registry: reg, Gate: gate},
		pattern.LoadOptions{AcceptLegacyParamsKey: *acceptLegacyParams})

	report := gate.Report()
	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "marshaling report: %v\n", err)
		os.Exit(2)
	}
	fmt.Fprintln(os.Stdout, string(out))

	switch {
	case !report.OverallCompliant():
		os.Exit(2)
	case pattern.HasErrors(diags):
		os.Exit(2)
	case len(diags) > 0:
		os.Exit(1)
	default:
		os.Exit(0)
	}
}
