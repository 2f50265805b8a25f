package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/gjvnq/ftp-scan/cmd/ftpscan/internal/bind"
	"github.com/gjvnq/ftp-scan/cmd/ftpscan/internal/format"
	"github.com/gjvnq/ftp-scan/pkg/config"
	"github.com/gjvnq/ftp-scan/pkg/output"
	"github.com/gjvnq/ftp-scan/pkg/scan"
	"github.com/gjvnq/ftp-scan/pkg/scanexec"
	"github.com/gjvnq/ftp-scan/pkg/stringutil"
)

// ScanCmd defines the 'scan' command for probing FTP services.
var ScanCmd = &cobra.Command{
	Use:   "scan [targets...]",
	Short: "Probe FTP services and classify their greeting banners",
	Long: `Connects to every expanded target, captures the FTP greeting, and matches
it against the signature catalog to identify the server product and version.`,
	GroupID: "scan",
	Args:    cobra.ArbitraryArgs,
	RunE:    runScanCommand,
}

func runScanCommand(cmd *cobra.Command, args []string) error {
	formatter := format.FromCommand(cmd)
	out := setupOutputPipeline(cmd)

	// Collect targets from both --targets flag and positional arguments
	targetFlags, _ := cmd.Flags().GetStringSlice("targets")
	allTargets := make([]string, 0, len(targetFlags)+len(args))
	allTargets = append(allTargets, targetFlags...)
	allTargets = append(allTargets, args...)

	if len(allTargets) == 0 {
		return formatter.PrintTotalFailureSummary("scan", scanexec.ErrNoTargets, scanexec.ErrorCode(scanexec.ErrNoTargets))
	}

	logger := log.With().Str("command", "scan").Logger()
	logger.Info().Strs("targets", allTargets).Msg("Initializing scan command")

	out.Diag(output.LevelVerbose, "Initializing scan command", map[string]any{
		"targets": allTargets,
	})

	ctxFromCmd := cmd.Context()
	if ctxFromCmd == nil && cmd.Root() != nil {
		ctxFromCmd = cmd.Root().Context()
	}
	mgr := config.ManagerFromContext(ctxFromCmd)
	if mgr == nil {
		cfgErr := fmt.Errorf("configuration missing from context")
		logger.Error().Err(cfgErr).Msg("Config manager not found in context.")
		return formatter.PrintTotalFailureSummary("scan", cfgErr, scanexec.ErrorCode(cfgErr))
	}

	// Bind flags to options using centralized binder
	params, err := bind.BindScanOptions(cmd, allTargets, mgr.Get())
	if err != nil {
		logger.Error().Err(err).Msg("Failed to bind scan options")
		return formatter.PrintTotalFailureSummary("scan", err, scanexec.ErrorCode(err))
	}

	svc := scanexec.NewService()

	// Enable progress logging if interactive flag is set
	interactive, _ := cmd.Flags().GetBool("progress")
	if interactive {
		svc = svc.WithProgressSink(&progressLogger{
			logger: logger,
			out:    out,
		})
	}

	// Inject the Output interface into the context so the run can report
	// live findings through the same pipeline the command renders with.
	scanCtx := context.WithValue(ctxFromCmd, output.OutputKey, out)

	if params.OutputFormat == "text" {
		logger.Info().Int("target_count", len(allTargets)).Msg("Starting scan execution")
		// Only show emoji message in default mode (not in verbose/debug mode)
		verbosityCount, _ := cmd.Flags().GetCount("verbosity")
		if verbosityCount == 0 {
			out.Info(fmt.Sprintf("Starting scan of %d targets...", len(allTargets)))
		}
	}

	res, runErr := svc.Run(scanCtx, params)
	if runErr != nil {
		logger.Error().Err(runErr).Msg("Scan execution failed")
		out.Error(runErr)
		// A cancelled run still carries every result that completed before
		// the stop; targets dropped mid-flight are simply absent.
		if res != nil && len(res.Records) > 0 {
			if renderErr := renderScanOutput(out, formatter, params, res, logger); renderErr != nil {
				return renderErr
			}
			return runErr
		}
		return formatter.PrintTotalFailureSummary("scan", runErr, scanexec.ErrorCode(runErr))
	}

	return renderScanOutput(out, formatter, params, res, logger)
}

// scanReport is the render model for json and yaml output.
type scanReport struct {
	RunID        string            `json:"run_id" yaml:"run_id"`
	StartTime    string            `json:"start_time" yaml:"start_time"`
	EndTime      string            `json:"end_time" yaml:"end_time"`
	Status       string            `json:"status" yaml:"status"`
	Scanned      int               `json:"scanned" yaml:"scanned"`
	Matched      int               `json:"matched" yaml:"matched"`
	Unclassified int               `json:"unclassified" yaml:"unclassified"`
	Failed       int               `json:"failed" yaml:"failed"`
	Results      []scanReportEntry `json:"results" yaml:"results"`
}

type scanReportEntry struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Status   string `json:"status" yaml:"status"`
	Product  string `json:"product,omitempty" yaml:"product,omitempty"`
	Version  string `json:"version,omitempty" yaml:"version,omitempty"`
	RuleID   string `json:"rule_id,omitempty" yaml:"rule_id,omitempty"`
	Banner   string `json:"banner,omitempty" yaml:"banner,omitempty"`
	Failure  string `json:"failure,omitempty" yaml:"failure,omitempty"`
	Attempts int    `json:"attempts" yaml:"attempts"`
	Elapsed  string `json:"elapsed" yaml:"elapsed"`
}

// buildScanReport flattens the run result into the render model. Records keep
// their completion order; only the text renderer sorts for readability.
func buildScanReport(res *scanexec.Result) scanReport {
	report := scanReport{
		RunID:        res.RunID,
		StartTime:    res.StartTime,
		EndTime:      res.EndTime,
		Status:       res.Status,
		Scanned:      res.Scanned,
		Matched:      res.Matched,
		Unclassified: res.Unclassified,
		Failed:       res.Failed,
		Results:      make([]scanReportEntry, 0, len(res.Records)),
	}

	for _, r := range res.Records {
		entry := scanReportEntry{
			Host:     r.Target.Host,
			Port:     r.Target.Port,
			Status:   strings.ToLower(r.Status.String()),
			Attempts: r.Attempts,
			Elapsed:  r.Elapsed.String(),
		}
		if r.Status == scan.StatusSucceeded {
			entry.Product = r.Classification.Product
			entry.Version = r.Classification.Version
			entry.RuleID = r.Classification.RuleID
			entry.Banner = string(r.Banner())
		} else {
			entry.Failure = r.FailureDetail()
		}
		report.Results = append(report.Results, entry)
	}

	return report
}

func renderScanOutput(out output.Output, formatter format.Formatter, params scanexec.Params, res *scanexec.Result, logger zerolog.Logger) error {
	switch strings.ToLower(params.OutputFormat) {
	case "json":
		jsonData, jsonErr := json.MarshalIndent(buildScanReport(res), "", "  ")
		if jsonErr != nil {
			logger.Error().Err(jsonErr).Msg("Failed to marshal scan report to JSON")
			return formatter.PrintTotalFailureSummary("scan", jsonErr, scanexec.ErrorCode(jsonErr))
		}
		fmt.Println(string(jsonData))
	case "yaml":
		yamlData, yamlErr := yaml.Marshal(buildScanReport(res))
		if yamlErr != nil {
			logger.Error().Err(yamlErr).Msg("Failed to marshal scan report to YAML")
			return formatter.PrintTotalFailureSummary("scan", yamlErr, scanexec.ErrorCode(yamlErr))
		}
		fmt.Println(string(yamlData))
	default:
		if len(res.Records) > 0 {
			printScanSummary(out, res)
			printResultsTextOutput(out, res.Records)
		} else {
			out.Info("Scan completed, but no results were recorded.")
		}
	}

	return nil
}

// printScanSummary displays a human-readable summary table of scan results
func printScanSummary(out output.Output, res *scanexec.Result) {
	if res == nil {
		return
	}

	// Calculate duration
	var duration string
	if res.StartTime != "" && res.EndTime != "" {
		startTime, errStart := time.Parse(time.RFC3339Nano, res.StartTime)
		endTime, errEnd := time.Parse(time.RFC3339Nano, res.EndTime)
		if errStart == nil && errEnd == nil {
			duration = fmt.Sprintf("%.1fs", endTime.Sub(startTime).Seconds())
		} else {
			duration = "N/A"
		}
	} else {
		duration = "N/A"
	}

	// Unique products seen across classified banners
	productsMap := make(map[string]bool)
	for _, r := range res.Records {
		if r.Status != scan.StatusSucceeded || !r.Classification.Matched {
			continue
		}
		name := r.Classification.Product
		if r.Classification.Version != "" {
			name = fmt.Sprintf("%s %s", name, r.Classification.Version)
		}
		productsMap[name] = true
	}
	var products []string
	for p := range productsMap {
		products = append(products, p)
	}
	sort.Strings(products)
	productsStr := strings.Join(products, ", ")

	headers := []string{"Metric", "Value"}
	rows := [][]string{
		{"Run ID", res.RunID},
		{"Status", res.Status},
		{"Duration", duration},
		{"Scanned", fmt.Sprintf("%d", res.Scanned)},
		{"Matched", fmt.Sprintf("%d", res.Matched)},
		{"Unclassified", fmt.Sprintf("%d", res.Unclassified)},
		{"Failed", fmt.Sprintf("%d", res.Failed)},
	}

	// Only show Products row if any banners classified
	if productsStr != "" {
		rows = append(rows, []string{"Products", productsStr})
	}

	out.Table(headers, rows)
}

func printResultsTextOutput(out output.Output, records []scan.Result) {
	out.Info("--- Scan Results ---")

	// The run delivers completion order; sort a copy for display.
	sorted := make([]scan.Result, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Target.Host != sorted[j].Target.Host {
			return sorted[i].Target.Host < sorted[j].Target.Host
		}
		return sorted[i].Target.Port < sorted[j].Target.Port
	})

	lastHost := ""
	for _, r := range sorted {
		if r.Target.Host != lastHost {
			lastHost = r.Target.Host
			out.Info(fmt.Sprintf("\n## Target: %s", lastHost))
		}

		if r.Status == scan.StatusSucceeded {
			label := r.Classification.Product
			if r.Classification.Version != "" {
				label = fmt.Sprintf("%s %s", label, r.Classification.Version)
			}
			out.Info(fmt.Sprintf("   ✓ Port %d: %s", r.Target.Port, label))
			if banner := string(r.Banner()); banner != "" {
				out.Info(fmt.Sprintf("     Banner: %s", stringutil.Ellipsis(banner, 80)))
			}
		} else {
			out.Info(fmt.Sprintf("   ✗ Port %d: %s", r.Target.Port, r.FailureDetail()))
		}
		if r.Attempts > 1 {
			out.Info(fmt.Sprintf("     Attempts: %d", r.Attempts))
		}

		out.Diag(output.LevelVerbose, "Target result", map[string]any{
			"target":   r.Target.String(),
			"status":   strings.ToLower(r.Status.String()),
			"rule_id":  r.Classification.RuleID,
			"attempts": r.Attempts,
			"elapsed":  r.Elapsed.String(),
		})
	}

	out.Info("\n--- End of Scan Results ---")
}

type progressLogger struct {
	logger zerolog.Logger
	out    output.Output
}

func (p *progressLogger) OnEvent(ev scanexec.ProgressEvent) {
	// Structured logging for debugging
	entry := p.logger.Info().
		Str("phase", ev.Phase).
		Str("status", ev.Status)
	if ev.Target != "" {
		entry = entry.Str("target", ev.Target)
	}
	if ev.Message != "" {
		entry = entry.Str("message", ev.Message)
	}
	entry.Msg("scan progress")

	// User-friendly progress output via Output interface
	if p.out != nil {
		statusIcon := getStatusIcon(ev.Status)
		message := fmt.Sprintf("%s %s", statusIcon, ev.Phase)
		if ev.Target != "" {
			message = fmt.Sprintf("%s %s: %s", statusIcon, ev.Phase, ev.Target)
		}
		if ev.Message != "" {
			message += fmt.Sprintf(" - %s", ev.Message)
		}

		// Emit as info event (HumanFormatter will style it)
		p.out.Info(message)
	}
}

// getStatusIcon returns an icon based on status
func getStatusIcon(status string) string {
	switch status {
	case "start", "started", "running":
		return "⏳"
	case "completed", "succeeded", "loaded":
		return "✓"
	case "failed", "error":
		return "✗"
	default:
		return "•"
	}
}

func init() {
	ScanCmd.Flags().StringSliceP("targets", "t", []string{}, "Target hosts/networks (can be used multiple times or comma-separated, e.g., -t 192.168.1.0/24,ftp.example.com)")
	ScanCmd.Flags().StringP("ports", "p", "", "Ports/port ranges to probe (e.g., '21', '21,2121', '2100-2121'; default: 21)")
	ScanCmd.Flags().Int("concurrency", scan.DefaultConcurrency, "Maximum concurrent probes")
	ScanCmd.Flags().Duration("timeout", scan.DefaultTimeout, "Per-connection timeout")
	ScanCmd.Flags().Int("retries", scan.DefaultRetries, "Retry attempts per target after the first try")
	ScanCmd.Flags().Duration("backoff", scan.DefaultBackoff, "Base wait between retry attempts")
	ScanCmd.Flags().Duration("deadline", 0, "Overall run deadline (0 disables)")
	ScanCmd.Flags().String("catalog", "", "Signature catalog file (default: builtin catalog)")
	ScanCmd.Flags().String("telemetry", "", "Append detection telemetry to this JSONL file")
	ScanCmd.Flags().StringP("output", "o", "text", "Output format: text, json, yaml")
	ScanCmd.Flags().Bool("progress", false, "Print live progress updates during the scan")
	ScanCmd.Flags().Int("max-banner-bytes", scan.DefaultMaxBannerBytes, "Greeting read limit in bytes")

	// Ping specific flags
	ScanCmd.Flags().Bool("ping", false, "Enable ICMP host discovery before probing")
	ScanCmd.Flags().Int("ping-count", 1, "Number of ICMP pings per host")
	ScanCmd.Flags().Bool("allow-loopback", false, "Allow loopback addresses through discovery")
}
