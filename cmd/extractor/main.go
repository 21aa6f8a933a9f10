// Command extractor pulls node metrics from the configured source, aligns them into
// fixed-width buckets and writes the tagged series table consumed by model training.
//
// Usage:
//
//	extractor run --config extractor.yaml
//	extractor run --source-opt server=db01 --source-opt user=reader --output-dir ./data
package main

import (
	"fmt"
	"os"

	"github.com/HatiCode/usagecast/cmd/extractor/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
