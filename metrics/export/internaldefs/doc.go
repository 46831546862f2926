// Package internaldefs holds the exported metric names and histogram bounds
// for goGuard counters. The Prometheus and OpenTelemetry exporters both read
// from it so a counter has one name regardless of the backend scraping it.
package internaldefs
