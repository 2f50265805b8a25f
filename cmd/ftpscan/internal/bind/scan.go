package bind

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/gjvnq/ftp-scan/pkg/config"
	"github.com/gjvnq/ftp-scan/pkg/scanexec"
)

// BindScanOptions merges scan command flags with the loaded configuration.
//
// Flags the user set explicitly always win; for everything else the value
// comes from cfg, so config files and FTPSCAN_* environment variables take
// effect without the flag defaults clobbering them. Validation of the
// resulting parameters happens in the service layer.
//
// Flags read:
//   - --ports: Port list or ranges (e.g., "21,2121", "2100-2121")
//   - --concurrency: Maximum concurrent probes
//   - --timeout: Per-connection timeout
//   - --retries: Retry attempts per target after the first try
//   - --backoff: Base wait between retry attempts
//   - --deadline: Overall run deadline
//   - --catalog: Signature catalog file
//   - --telemetry: Detection telemetry JSONL file
//   - --output: Output format (text, json, yaml)
//   - --max-banner-bytes: Banner read limit
//   - --ping: Enable ICMP host discovery
//   - --ping-count: Number of ICMP pings per host
//   - --allow-loopback: Allow scanning loopback addresses
func BindScanOptions(cmd *cobra.Command, targets []string, cfg config.Config) (scanexec.Params, error) {
	flags := cmd.Flags()

	ports, _ := flags.GetString("ports")
	if !flags.Changed("ports") && cfg.Scan.Port != 0 {
		ports = strconv.Itoa(cfg.Scan.Port)
	}

	concurrency, _ := flags.GetInt("concurrency")
	if !flags.Changed("concurrency") {
		concurrency = cfg.Scan.Concurrency
	}

	timeout, _ := flags.GetDuration("timeout")
	if !flags.Changed("timeout") {
		timeout = cfg.Scan.Timeout
	}

	retries, _ := flags.GetInt("retries")
	if !flags.Changed("retries") {
		retries = cfg.Scan.Retries
	}

	backoff, _ := flags.GetDuration("backoff")
	if !flags.Changed("backoff") {
		backoff = cfg.Scan.Backoff
	}

	maxBannerBytes, _ := flags.GetInt("max-banner-bytes")
	if !flags.Changed("max-banner-bytes") {
		maxBannerBytes = cfg.Scan.MaxBannerBytes
	}

	catalogPath, _ := flags.GetString("catalog")
	if !flags.Changed("catalog") {
		catalogPath = cfg.Catalog.Path
	}

	telemetryPath, _ := flags.GetString("telemetry")
	if !flags.Changed("telemetry") {
		telemetryPath = cfg.Telemetry.Path
	}

	ping, _ := flags.GetBool("ping")
	if !flags.Changed("ping") {
		ping = cfg.Ping.Enabled
	}

	pingCount, _ := flags.GetInt("ping-count")
	if !flags.Changed("ping-count") {
		pingCount = cfg.Ping.Count
	}

	deadline, _ := flags.GetDuration("deadline")
	output, _ := flags.GetString("output")
	allowLoopback, _ := flags.GetBool("allow-loopback")

	params := scanexec.Params{
		Targets:        targets,
		Ports:          ports,
		Concurrency:    concurrency,
		Timeout:        timeout,
		Retries:        retries,
		Backoff:        backoff,
		Deadline:       deadline,
		MaxBannerBytes: maxBannerBytes,
		EnablePing:     ping,
		PingCount:      pingCount,
		AllowLoopback:  allowLoopback,
		CatalogPath:    catalogPath,
		TelemetryPath:  telemetryPath,
		OutputFormat:   output,
	}

	return params, nil
}
