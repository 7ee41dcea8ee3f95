package loadgen

import "os"

// ShowHelp prints usage information for the load tool.
func ShowHelp() {
	os.Stdout.WriteString(`Workload Event Load Tool
========================

Submits generated training sessions to a running workload service and checks
that every trainer's monthly summary converges to the expected totals.

Usage:
  go run ./cmd/workload-events [options]

Options:
  -url string
        Base URL of the service (default "http://localhost:9080")
  -trainers int
        Number of distinct trainers (default 100)
  -events int
        ADD events per trainer (default 20)
  -delete-ratio float
        Share of ADD events followed by a DELETE (default 0.3)
  -workers int
        Number of concurrent submitters (default CPU cores * 2)
  -timeout duration
        HTTP request timeout (default 10s)
  -settle duration
        Max wait for summaries to converge per phase (default 1m)
  -output string
        Write generated events to this JSON file
  -verbose
        Enable debug logging
  -help
        Show this help message
`)
}
