package scanexec

import (
	"time"

	"github.com/gjvnq/ftp-scan/pkg/scan"
)

// Params defines the input required to initiate a scan run.
//
// Zero values for Concurrency, Timeout, and MaxBannerBytes fall back to
// the scan defaults. Retries, Backoff, and Deadline are used as given, so
// zero means no retries, no backoff wait, and no run deadline.
type Params struct {
	Targets        []string
	Ports          string // Comma-separated ports and ranges. Empty means port 21.
	Concurrency    int
	Timeout        time.Duration
	Retries        int
	Backoff        time.Duration
	Deadline       time.Duration
	MaxBannerBytes int
	EnablePing     bool
	PingCount      int
	AllowLoopback  bool
	CatalogPath    string // Signature file to load. Empty means the builtin catalog.
	TelemetryPath  string // JSONL detection log. Empty disables telemetry.
	OutputFormat   string // One of "", "text", "json", "yaml".
}

// Result summarizes a completed scan run.
type Result struct {
	RunID        string
	StartTime    string
	EndTime      string
	Status       string
	Scanned      int
	Matched      int
	Unclassified int
	Failed       int
	Records      []scan.Result
}
