// Copyright 2025 ftp-scan Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");

package subscribers

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/gjvnq/ftp-scan/pkg/output"
)

// DiagnosticSubscriber renders diagnostic events to a writer (usually stderr).
// It only handles EventDiag events at or below its configured level, so -v
// shows verbose output and -vv adds debug output.
type DiagnosticSubscriber struct {
	maxLevel output.OutputLevel
	writer   io.Writer
}

// NewDiagnosticSubscriber creates a subscriber that shows diagnostic events
// up to and including maxLevel.
func NewDiagnosticSubscriber(maxLevel output.OutputLevel, writer io.Writer) *DiagnosticSubscriber {
	return &DiagnosticSubscriber{
		maxLevel: maxLevel,
		writer:   writer,
	}
}

// Name returns the subscriber identifier.
func (s *DiagnosticSubscriber) Name() string {
	return "diagnostic-subscriber"
}

// ShouldHandle decides if this subscriber cares about the event.
// Only diagnostic events at or below the configured level are shown.
func (s *DiagnosticSubscriber) ShouldHandle(event output.OutputEvent) bool {
	return event.Type == output.EventDiag && event.Level <= s.maxLevel
}

// Handle renders a diagnostic event as a single line:
//
//	[VERBOSE] 12:30:45 Catalog loaded signatures:12
//
// Metadata pairs are sorted by key so output is stable.
func (s *DiagnosticSubscriber) Handle(event output.OutputEvent) {
	line := fmt.Sprintf("%s %s %s", levelTag(event.Level), event.Timestamp.Format("15:04:05"), event.Message)

	if len(event.Metadata) > 0 {
		keys := make([]string, 0, len(event.Metadata))
		for k := range event.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		pairs := make([]string, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, fmt.Sprintf("%s:%v", k, event.Metadata[k]))
		}
		line += " " + strings.Join(pairs, " ")
	}

	_, _ = fmt.Fprintln(s.writer, line)
}

// levelTag maps a diagnostic level to its display tag.
func levelTag(level output.OutputLevel) string {
	switch level {
	case output.LevelVerbose:
		return "[VERBOSE]"
	case output.LevelDebug:
		return "[DEBUG]"
	case output.LevelTrace:
		return "[TRACE]"
	default:
		return "[DIAG]"
	}
}
