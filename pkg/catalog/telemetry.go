package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

// Match outcome labels recorded in telemetry events.
const (
	MatchSuccess = "success"
	MatchNone    = "no_match"
	MatchFailure = "failure"
)

// DetectionEvent is one classification outcome appended to the telemetry log.
// Events feed catalog tuning (AnalyzeTelemetry); the scanner never reads them
// back during a run.
type DetectionEvent struct {
	Timestamp     time.Time `json:"timestamp"`
	Target        string    `json:"target"`
	Port          int       `json:"port"`
	Product       string    `json:"product,omitempty"`
	Version       string    `json:"version,omitempty"`
	RuleID        string    `json:"rule_id,omitempty"`
	MatchType     string    `json:"match_type"`
	FailureReason string    `json:"failure_reason,omitempty"`
	BannerExcerpt string    `json:"banner_excerpt,omitempty"`
}

// TelemetryWriter appends detection events to a JSON Lines file. A mutex
// serializes writers inside the process and a flock file lock serializes
// scanner processes sharing the same file, so each line stays intact.
type TelemetryWriter struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	fileLock *flock.Flock
	enabled  bool
}

// NewTelemetryWriter opens path for appending. An empty path returns a
// disabled writer whose Write is a no-op; that keeps call sites free of nil
// checks when telemetry is off. The parent directory must already exist.
func NewTelemetryWriter(path string) (*TelemetryWriter, error) {
	if path == "" {
		return &TelemetryWriter{enabled: false}, nil
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open telemetry file: %w", err)
	}

	return &TelemetryWriter{
		path:     path,
		file:     file,
		fileLock: flock.New(path + ".lock"),
		enabled:  true,
	}, nil
}

// IsEnabled reports whether events will actually be persisted.
func (w *TelemetryWriter) IsEnabled() bool {
	return w.enabled
}

// Write appends one event as a single JSON line. A zero Timestamp is filled
// with the current time.
func (w *TelemetryWriter) Write(event DetectionEvent) error {
	if !w.enabled {
		return nil
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode telemetry event: %w", err)
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return fmt.Errorf("telemetry writer is closed")
	}

	if err := w.fileLock.Lock(); err != nil {
		return fmt.Errorf("lock telemetry file: %w", err)
	}
	defer w.fileLock.Unlock()

	if _, err := w.file.Write(data); err != nil {
		return fmt.Errorf("write telemetry event: %w", err)
	}
	return nil
}

// WriteSuccess records a banner that matched a signature.
func (w *TelemetryWriter) WriteSuccess(target string, port int, c Classification, excerpt string) error {
	return w.Write(DetectionEvent{
		Target:        target,
		Port:          port,
		Product:       c.Product,
		Version:       c.Version,
		RuleID:        c.RuleID,
		MatchType:     MatchSuccess,
		BannerExcerpt: excerpt,
	})
}

// WriteNoMatch records a banner no signature matched.
func (w *TelemetryWriter) WriteNoMatch(target string, port int, excerpt string) error {
	return w.Write(DetectionEvent{
		Target:        target,
		Port:          port,
		MatchType:     MatchNone,
		BannerExcerpt: excerpt,
	})
}

// WriteFailure records a probe that produced no banner at all.
func (w *TelemetryWriter) WriteFailure(target string, port int, reason string) error {
	return w.Write(DetectionEvent{
		Target:        target,
		Port:          port,
		MatchType:     MatchFailure,
		FailureReason: reason,
	})
}

// Close releases the underlying file. Safe on a disabled writer.
func (w *TelemetryWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.enabled || w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	return err
}
