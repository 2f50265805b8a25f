// pkg/scan/result.go
package scan

import (
	"time"

	"github.com/gjvnq/ftp-scan/pkg/catalog"
	"github.com/gjvnq/ftp-scan/pkg/probe"
)

// Status tracks a target through the scan lifecycle. Succeeded and Failed
// are terminal; a target never re-enters Queued.
type Status int

const (
	StatusQueued Status = iota
	StatusInFlight
	StatusRetrying
	StatusSucceeded
	StatusFailed
)

// String returns the string representation of the Status value.
func (s Status) String() string {
	return [...]string{"Queued", "InFlight", "Retrying", "Succeeded", "Failed"}[s]
}

// Result is the terminal record for one target. Succeeded means a banner was
// captured and classified (possibly as unclassified); Failed carries the
// outcome of the final attempt. Elapsed spans from first dispatch to the
// terminal state, backoff waits included.
type Result struct {
	Target         probe.Target
	Status         Status
	Outcome        probe.Outcome
	Classification catalog.Classification
	Attempts       int
	Elapsed        time.Duration
}

// Product is the classified product name, or empty for failed targets.
func (r Result) Product() string {
	if r.Status != StatusSucceeded {
		return ""
	}
	return r.Classification.Product
}

// Version is the classified product version, if any rule extracted one.
func (r Result) Version() string {
	return r.Classification.Version
}

// Banner is the captured greeting, or nil for failed targets.
func (r Result) Banner() []byte {
	return r.Outcome.Banner
}

// FailureDetail describes why a failed target failed.
func (r Result) FailureDetail() string {
	if r.Status != StatusFailed {
		return ""
	}
	if r.Outcome.Detail != "" {
		return r.Outcome.Detail
	}
	return r.Outcome.Kind.String()
}
