package catalog

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"
)

// StatsFilter narrows which telemetry events AnalyzeTelemetry aggregates.
// The zero value means no filtering; TopN <= 0 defaults to 10.
type StatsFilter struct {
	Product string
	Since   *time.Time
	Until   *time.Time
	TopN    int
}

// ProductCount is a product with its successful match count.
type ProductCount struct {
	Product string `json:"product"`
	Count   int    `json:"count"`
}

// RuleCount is a signature rule with its hit count.
type RuleCount struct {
	RuleID string `json:"rule_id"`
	Count  int    `json:"count"`
}

// TelemetryStats summarizes a telemetry log for catalog tuning.
type TelemetryStats struct {
	TotalEvents    int            `json:"total_events"`
	Matched        int            `json:"matched"`
	Unmatched      int            `json:"unmatched"`
	Failures       int            `json:"failures"`
	MalformedLines int            `json:"malformed_lines,omitempty"`
	MatchRate      float64        `json:"match_rate"`
	TopProducts    []ProductCount `json:"top_products,omitempty"`
	RuleHits       []RuleCount    `json:"rule_hits,omitempty"`
	FailureReasons map[string]int `json:"failure_reasons,omitempty"`
	FirstEvent     time.Time      `json:"first_event"`
	LastEvent      time.Time      `json:"last_event"`
}

// AnalyzeTelemetry reads a JSON Lines telemetry file and aggregates match
// counts, top products, rule hit counts, and failure reasons. Lines that do
// not decode are counted as malformed and skipped rather than failing the
// whole analysis.
func AnalyzeTelemetry(path string, filter *StatsFilter) (*TelemetryStats, error) {
	if filter == nil {
		filter = &StatsFilter{}
	}
	topN := filter.TopN
	if topN <= 0 {
		topN = 10
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open telemetry file: %w", err)
	}
	defer f.Close()

	stats := &TelemetryStats{
		FailureReasons: make(map[string]int),
	}
	productCounts := make(map[string]int)
	ruleCounts := make(map[string]int)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var event DetectionEvent
		if err := json.Unmarshal(line, &event); err != nil {
			stats.MalformedLines++
			continue
		}

		if filter.Since != nil && event.Timestamp.Before(*filter.Since) {
			continue
		}
		if filter.Until != nil && event.Timestamp.After(*filter.Until) {
			continue
		}
		if filter.Product != "" && event.Product != filter.Product {
			continue
		}

		stats.TotalEvents++
		if stats.FirstEvent.IsZero() || event.Timestamp.Before(stats.FirstEvent) {
			stats.FirstEvent = event.Timestamp
		}
		if event.Timestamp.After(stats.LastEvent) {
			stats.LastEvent = event.Timestamp
		}

		switch event.MatchType {
		case MatchSuccess:
			stats.Matched++
			if event.Product != "" {
				productCounts[event.Product]++
			}
			if event.RuleID != "" {
				ruleCounts[event.RuleID]++
			}
		case MatchFailure:
			stats.Failures++
			reason := event.FailureReason
			if reason == "" {
				reason = "unknown"
			}
			stats.FailureReasons[reason]++
		default:
			stats.Unmatched++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read telemetry file: %w", err)
	}

	if stats.TotalEvents > 0 {
		stats.MatchRate = float64(stats.Matched) / float64(stats.TotalEvents)
	}
	stats.TopProducts = topProducts(productCounts, topN)
	stats.RuleHits = topRules(ruleCounts, topN)
	if len(stats.FailureReasons) == 0 {
		stats.FailureReasons = nil
	}

	return stats, nil
}

// topProducts orders products by count descending, then name ascending so
// equal counts list deterministically, and keeps the first n.
func topProducts(counts map[string]int, n int) []ProductCount {
	out := make([]ProductCount, 0, len(counts))
	for product, count := range counts {
		out = append(out, ProductCount{Product: product, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Product < out[j].Product
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func topRules(counts map[string]int, n int) []RuleCount {
	out := make([]RuleCount, 0, len(counts))
	for ruleID, count := range counts {
		out = append(out, RuleCount{RuleID: ruleID, Count: count})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].RuleID < out[j].RuleID
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}
