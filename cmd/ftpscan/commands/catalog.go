package commands

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gjvnq/ftp-scan/cmd/ftpscan/internal/format"
	"github.com/gjvnq/ftp-scan/pkg/catalog"
	"github.com/gjvnq/ftp-scan/pkg/config"
	"github.com/gjvnq/ftp-scan/pkg/scanexec"
	"github.com/gjvnq/ftp-scan/pkg/stringutil"
)

// NewCatalogCommand wires CLI helpers for signature catalog management.
func NewCatalogCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "catalog",
		Aliases: []string{"cat"},
		Short:   "Manage banner signature catalogs",
		GroupID: "core",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	cmd.AddCommand(newCatalogValidateCommand())
	cmd.AddCommand(newCatalogShowCommand())
	cmd.AddCommand(newCatalogSyncCommand())
	cmd.AddCommand(newCatalogStatsCommand())

	return cmd
}

func newCatalogValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [file]",
		Short: "Validate a signature catalog YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := format.FromCommand(cmd)
			filePath := args[0]

			strict, _ := cmd.Flags().GetBool("strict")
			jsonOutput, _ := cmd.Flags().GetBool("json")

			result, err := catalog.ValidateFile(filePath, strict)
			if err != nil {
				return formatter.PrintTotalFailureSummary("validate signature catalog", err, scanexec.CodeCatalogError)
			}

			if jsonOutput {
				return formatter.PrintJSON(map[string]any{
					"valid":      result.IsValid(),
					"rule_count": result.RuleCount,
					"errors":     result.Errors,
					"warnings":   result.Warnings,
				})
			}

			log.Info().Int("rules", result.RuleCount).Msg("validating signature catalog")

			if len(result.Errors) > 0 {
				log.Error().Int("count", len(result.Errors)).Msg("validation errors found")
				for _, issue := range result.Errors {
					log.Error().
						Str("rule_id", issue.RuleID).
						Str("field", issue.Field).
						Str("message", issue.Message).
						Msg("validation error")
				}
			}

			if len(result.Warnings) > 0 {
				log.Warn().Int("count", len(result.Warnings)).Msg("validation warnings found")
				for _, issue := range result.Warnings {
					log.Warn().
						Str("rule_id", issue.RuleID).
						Str("field", issue.Field).
						Str("message", issue.Message).
						Msg("validation warning")
				}
			}

			if !result.IsValid() {
				return formatter.PrintTotalFailureSummary("validate signature catalog",
					catalog.NewValidationError(len(result.Errors), len(result.Warnings)),
					"VALIDATION_ERROR")
			}

			log.Info().Msg("validation passed")
			return nil
		},
	}

	cmd.Flags().Bool("strict", false, "Treat warnings as failures")
	cmd.Flags().Bool("json", false, "Output results as JSON")

	return cmd
}

func newCatalogShowCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the signatures the scanner will use",
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := format.FromCommand(cmd)

			filePath, _ := cmd.Flags().GetString("file")
			if filePath == "" {
				if cfg := configFromCommand(cmd); cfg.Catalog.Path != "" {
					filePath = cfg.Catalog.Path
				}
			}

			source := "builtin catalog"
			var cat *catalog.Catalog
			if filePath != "" {
				loaded, err := catalog.Load(filePath)
				if err != nil {
					return formatter.PrintTotalFailureSummary("show signature catalog", err, scanexec.ErrorCode(err))
				}
				cat = loaded
				source = filePath
			} else {
				cat = catalog.Builtin()
			}

			jsonOutput, _ := cmd.Flags().GetBool("json")
			if jsonOutput {
				rules := cat.Rules()
				entries := make([]catalog.Entry, 0, len(rules))
				for _, rule := range rules {
					entries = append(entries, catalog.Entry{
						ID:           rule.ID,
						Pattern:      rule.Pattern,
						Product:      rule.Product,
						VersionGroup: rule.VersionGroup,
					})
				}
				return formatter.PrintJSON(map[string]any{
					"source":     source,
					"count":      cat.Len(),
					"signatures": entries,
				})
			}

			out := setupOutputPipeline(cmd)
			out.Info(fmt.Sprintf("%d signatures from %s", cat.Len(), source))

			headers := []string{"ID", "Product", "Version Group", "Pattern"}
			rows := make([][]string, 0, cat.Len())
			for _, rule := range cat.Rules() {
				rows = append(rows, []string{
					rule.ID,
					rule.Product,
					strconv.Itoa(rule.VersionGroup),
					stringutil.Ellipsis(rule.Pattern, 60),
				})
			}
			out.Table(headers, rows)
			return nil
		},
	}

	cmd.Flags().String("file", "", "Signature catalog file (default: configured path, then builtin)")
	cmd.Flags().Bool("json", false, "Output results as JSON")

	return cmd
}

func newCatalogSyncCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync the signature catalog from a remote or local source",
		RunE: func(cmd *cobra.Command, _ []string) error {
			formatter := format.FromCommand(cmd)

			filePath, _ := cmd.Flags().GetString("file")
			url, _ := cmd.Flags().GetString("url")
			mirrors, _ := cmd.Flags().GetStringSlice("mirror")
			checksum, _ := cmd.Flags().GetString("checksum")
			dest, _ := cmd.Flags().GetString("dest")

			if filePath == "" && url == "" {
				err := fmt.Errorf("either --file or --url is required")
				return formatter.PrintTotalFailureSummary("sync signature catalog", err, scanexec.CodeInvalidConfig)
			}

			if dest == "" {
				dest = configFromCommand(cmd).Catalog.Path
			}
			if dest == "" {
				err := fmt.Errorf("no destination: set --dest or catalog.path in the configuration")
				return formatter.PrintTotalFailureSummary("sync signature catalog", err, scanexec.CodeInvalidConfig)
			}

			svc := catalog.SyncService{
				Store: &catalog.FileStore{Path: dest},
			}
			if filePath != "" {
				svc.Source = &catalog.FileSource{Path: filePath}
			} else {
				svc.Source = &catalog.HTTPSource{URL: url, Mirrors: mirrors, Checksum: checksum}
			}

			cat, err := svc.Sync(cmd.Context())
			if err != nil {
				return formatter.PrintTotalFailureSummary("sync signature catalog", err, scanexec.CodeCatalogError)
			}

			log.Info().Str("destination", dest).Int("signatures", cat.Len()).Msg("signature catalog synced")
			return nil
		},
	}

	cmd.Flags().String("file", "", "Load the signature catalog from a local file")
	cmd.Flags().String("url", "", "Download the signature catalog from a remote URL")
	cmd.Flags().StringSlice("mirror", []string{}, "Additional mirror URLs tried in order after --url fails")
	cmd.Flags().String("checksum", "", "Expected payload checksum (sha256:<hex>)")
	cmd.Flags().String("dest", "", "Destination file (default: catalog.path from the configuration)")

	return cmd
}

func newCatalogStatsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats [telemetry-file]",
		Short: "Summarize detection telemetry for catalog tuning",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := format.FromCommand(cmd)

			topN, _ := cmd.Flags().GetInt("top")
			product, _ := cmd.Flags().GetString("product")
			jsonOutput, _ := cmd.Flags().GetBool("json")

			filter := &catalog.StatsFilter{Product: product, TopN: topN}

			if sinceStr, _ := cmd.Flags().GetString("since"); sinceStr != "" {
				ts, err := time.Parse(time.RFC3339, sinceStr)
				if err != nil {
					return formatter.PrintTotalFailureSummary("analyze telemetry",
						fmt.Errorf("parse --since: %w", err), scanexec.CodeInvalidConfig)
				}
				filter.Since = &ts
			}
			if untilStr, _ := cmd.Flags().GetString("until"); untilStr != "" {
				ts, err := time.Parse(time.RFC3339, untilStr)
				if err != nil {
					return formatter.PrintTotalFailureSummary("analyze telemetry",
						fmt.Errorf("parse --until: %w", err), scanexec.CodeInvalidConfig)
				}
				filter.Until = &ts
			}

			stats, err := catalog.AnalyzeTelemetry(args[0], filter)
			if err != nil {
				return formatter.PrintTotalFailureSummary("analyze telemetry", err, scanexec.ErrorCode(err))
			}

			if jsonOutput {
				return formatter.PrintJSON(stats)
			}

			printTelemetryStats(cmd, args[0], stats)
			return nil
		},
	}

	cmd.Flags().Int("top", 10, "Number of products and rules to list")
	cmd.Flags().String("product", "", "Only count events for this product")
	cmd.Flags().String("since", "", "Ignore events before this RFC 3339 timestamp")
	cmd.Flags().String("until", "", "Ignore events after this RFC 3339 timestamp")
	cmd.Flags().Bool("json", false, "Output results as JSON")

	return cmd
}

func printTelemetryStats(cmd *cobra.Command, path string, stats *catalog.TelemetryStats) {
	out := setupOutputPipeline(cmd)
	out.Info(fmt.Sprintf("Telemetry: %s", path))

	rows := [][]string{
		{"Total Events", fmt.Sprintf("%d", stats.TotalEvents)},
		{"Matched", fmt.Sprintf("%d", stats.Matched)},
		{"Unmatched", fmt.Sprintf("%d", stats.Unmatched)},
		{"Failures", fmt.Sprintf("%d", stats.Failures)},
		{"Match Rate", fmt.Sprintf("%.1f%%", stats.MatchRate*100)},
	}
	if stats.MalformedLines > 0 {
		rows = append(rows, []string{"Malformed Lines", fmt.Sprintf("%d", stats.MalformedLines)})
	}
	if !stats.FirstEvent.IsZero() {
		rows = append(rows, []string{"First Event", stats.FirstEvent.Format(time.RFC3339)})
		rows = append(rows, []string{"Last Event", stats.LastEvent.Format(time.RFC3339)})
	}
	out.Table([]string{"Metric", "Value"}, rows)

	if len(stats.TopProducts) > 0 {
		out.Info("\n## Top Products")
		productRows := make([][]string, 0, len(stats.TopProducts))
		for _, pc := range stats.TopProducts {
			productRows = append(productRows, []string{pc.Product, fmt.Sprintf("%d", pc.Count)})
		}
		out.Table([]string{"Product", "Count"}, productRows)
	}

	if len(stats.RuleHits) > 0 {
		out.Info("\n## Rule Hits")
		ruleRows := make([][]string, 0, len(stats.RuleHits))
		for _, rc := range stats.RuleHits {
			ruleRows = append(ruleRows, []string{rc.RuleID, fmt.Sprintf("%d", rc.Count)})
		}
		out.Table([]string{"Rule", "Count"}, ruleRows)
	}

	if len(stats.FailureReasons) > 0 {
		out.Info("\n## Failure Reasons")
		reasons := make([]string, 0, len(stats.FailureReasons))
		for reason := range stats.FailureReasons {
			reasons = append(reasons, reason)
		}
		sort.Strings(reasons)
		reasonRows := make([][]string, 0, len(reasons))
		for _, reason := range reasons {
			reasonRows = append(reasonRows, []string{reason, fmt.Sprintf("%d", stats.FailureReasons[reason])})
		}
		out.Table([]string{"Reason", "Count"}, reasonRows)
	}
}

// configFromCommand returns the loaded configuration, falling back to the
// defaults when the root PersistentPreRunE has not run (direct tests).
func configFromCommand(cmd *cobra.Command) config.Config {
	ctx := cmd.Context()
	if ctx == nil && cmd.Root() != nil {
		ctx = cmd.Root().Context()
	}
	if mgr := config.ManagerFromContext(ctx); mgr != nil {
		return mgr.Get()
	}
	return config.DefaultConfig()
}
