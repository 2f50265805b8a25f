// Package scanexec drives a banner scan end to end: target expansion,
// optional liveness discovery, catalog loading, the coordinator run, and
// telemetry for every terminal result.
package scanexec

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gjvnq/ftp-scan/pkg/catalog"
	"github.com/gjvnq/ftp-scan/pkg/discovery"
	"github.com/gjvnq/ftp-scan/pkg/netutil"
	"github.com/gjvnq/ftp-scan/pkg/probe"
	"github.com/gjvnq/ftp-scan/pkg/scan"
	"github.com/gjvnq/ftp-scan/pkg/stringutil"
)

// bannerExcerptLen bounds banner text copied into telemetry events.
const bannerExcerptLen = 80

type coordinator interface {
	Run(ctx context.Context, targets []probe.Target) <-chan scan.Result
}

type discoverer interface {
	LiveHosts(ctx context.Context, hosts []string) []string
}

// ProgressSink receives progress notifications during a run.
type ProgressSink interface {
	OnEvent(ProgressEvent)
}

// ProgressEvent describes one step of a run. Target is empty for
// phase-level events and set for per-target ones.
type ProgressEvent struct {
	Phase     string
	Target    string
	Status    string
	Message   string
	Timestamp time.Time
}

// Service orchestrates scan runs. The zero value is not usable; construct
// with NewService.
type Service struct {
	catalogLoader      func(path string) (*catalog.Catalog, error)
	coordinatorFactory func(cfg scan.Config, cat *catalog.Catalog) (coordinator, error)
	discovererFactory  func(params Params) discoverer
	progressSink       ProgressSink
	telemetry          *catalog.TelemetryWriter
}

// NewService builds a Service with default dependencies.
func NewService() *Service {
	return &Service{
		catalogLoader: func(path string) (*catalog.Catalog, error) {
			if path == "" {
				return catalog.Builtin(), nil
			}
			return catalog.Load(path)
		},
		coordinatorFactory: func(cfg scan.Config, cat *catalog.Catalog) (coordinator, error) {
			return scan.NewCoordinator(cfg, cat)
		},
		discovererFactory: func(params Params) discoverer {
			prober := discovery.NewProber()
			if params.PingCount > 0 {
				prober.Count = params.PingCount
			}
			prober.AllowLoopback = params.AllowLoopback
			return prober
		},
	}
}

// WithProgressSink attaches a sink to receive progress notifications.
func (s *Service) WithProgressSink(sink ProgressSink) *Service {
	s.progressSink = sink
	return s
}

// WithTelemetry attaches a telemetry writer. The caller keeps ownership
// and closes it; a writer opened from Params.TelemetryPath instead is
// closed when the run ends.
func (s *Service) WithTelemetry(w *catalog.TelemetryWriter) *Service {
	s.telemetry = w
	return s
}

// WithCatalogLoader overrides catalog loading for testing.
func (s *Service) WithCatalogLoader(loader func(path string) (*catalog.Catalog, error)) *Service {
	s.catalogLoader = loader
	return s
}

// WithCoordinatorFactory allows replacing the coordinator constructor
// (useful for tests).
func (s *Service) WithCoordinatorFactory(factory func(cfg scan.Config, cat *catalog.Catalog) (coordinator, error)) *Service {
	s.coordinatorFactory = factory
	return s
}

// WithDiscovererFactory overrides liveness discovery construction for
// testing.
func (s *Service) WithDiscovererFactory(factory func(params Params) discoverer) *Service {
	s.discovererFactory = factory
	return s
}

// Run executes the scan pipeline described by params. Per-target failures
// are recorded in the Result, never returned as an error; the returned
// error covers conditions that prevent or cut short the run itself.
func (s *Service) Run(ctx context.Context, params Params) (*Result, error) {
	runID := uuid.New().String()
	startTime := time.Now()
	logger := log.With().Str("component", "scanexec").Str("run_id", runID).Logger()

	cfg := scanConfigFromParams(params)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ports, err := portsFromParams(params)
	if err != nil {
		return nil, err
	}
	if err := validateOutputFormat(params.OutputFormat); err != nil {
		return nil, err
	}

	hosts := netutil.ParseAndExpandTargets(params.Targets)
	if len(hosts) == 0 {
		return nil, ErrNoTargets
	}
	logger.Debug().Int("hosts", len(hosts)).Int("ports", len(ports)).Msg("Expanded scan targets")

	if params.EnablePing {
		s.emit("discover", "", "start", fmt.Sprintf("pinging %d hosts", len(hosts)))
		alive := s.discovererFactory(params).LiveHosts(ctx, hosts)
		s.emit("discover", "", "completed", fmt.Sprintf("%d of %d hosts alive", len(alive), len(hosts)))
		if len(alive) == 0 {
			return nil, ErrNoLiveHosts
		}
		hosts = alive
	}

	cat, err := s.catalogLoader(params.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCatalog, err)
	}
	s.emit("catalog", "", "loaded", fmt.Sprintf("%d signatures", cat.Len()))

	coord, err := s.coordinatorFactory(cfg, cat)
	if err != nil {
		return nil, fmt.Errorf("init coordinator: %w", err)
	}

	telemetry, closeTelemetry := s.telemetryWriter(params, logger)
	defer closeTelemetry()

	targets := make([]probe.Target, 0, len(hosts)*len(ports))
	for _, host := range hosts {
		for _, port := range ports {
			targets = append(targets, probe.Target{Host: host, Port: port})
		}
	}

	s.emit("scan", "", "start", fmt.Sprintf("%d targets", len(targets)))

	result := &Result{
		RunID:     runID,
		StartTime: startTime.Format(time.RFC3339),
	}
	for res := range coord.Run(ctx, targets) {
		result.Records = append(result.Records, res)
		result.Scanned++
		switch {
		case res.Status == scan.StatusSucceeded && res.Classification.Matched:
			result.Matched++
		case res.Status == scan.StatusSucceeded:
			result.Unclassified++
		default:
			result.Failed++
		}
		s.emitTarget(res)
		s.record(telemetry, res, logger)
	}

	runErr := ctx.Err()
	status := statusFromError(runErr)
	s.emit("scan", "", status, fmt.Sprintf("scanned=%d matched=%d unclassified=%d failed=%d",
		result.Scanned, result.Matched, result.Unclassified, result.Failed))

	result.EndTime = time.Now().Format(time.RFC3339)
	result.Status = status

	logger.Info().
		Int("scanned", result.Scanned).
		Int("matched", result.Matched).
		Int("unclassified", result.Unclassified).
		Int("failed", result.Failed).
		Str("status", status).
		Msg("Scan run finished")

	return result, runErr
}

func statusFromError(err error) string {
	if err != nil {
		return "failed"
	}
	return "completed"
}

// scanConfigFromParams merges params over the scan defaults.
func scanConfigFromParams(params Params) scan.Config {
	cfg := scan.DefaultConfig()
	cfg.Retries = params.Retries
	cfg.Backoff = params.Backoff
	cfg.Deadline = params.Deadline
	if params.Concurrency != 0 {
		cfg.Concurrency = params.Concurrency
	}
	if params.Timeout != 0 {
		cfg.Timeout = params.Timeout
	}
	if params.MaxBannerBytes != 0 {
		cfg.MaxBannerBytes = params.MaxBannerBytes
	}
	return cfg
}

func portsFromParams(params Params) ([]int, error) {
	ports, err := netutil.ParsePortString(params.Ports)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", scan.ErrInvalidConfig, err)
	}
	if len(ports) == 0 {
		ports = []int{probe.DefaultPort}
	}
	return ports, nil
}

func validateOutputFormat(format string) error {
	switch format {
	case "", "text", "json", "yaml":
		return nil
	default:
		return fmt.Errorf("%w: unknown output format %q", scan.ErrInvalidConfig, format)
	}
}

// telemetryWriter returns the writer for this run plus a cleanup func.
func (s *Service) telemetryWriter(params Params, logger zerolog.Logger) (*catalog.TelemetryWriter, func()) {
	if s.telemetry != nil {
		return s.telemetry, func() {}
	}
	if params.TelemetryPath == "" {
		return nil, func() {}
	}
	w, err := catalog.NewTelemetryWriter(params.TelemetryPath)
	if err != nil {
		logger.Warn().Err(err).Str("path", params.TelemetryPath).Msg("Failed to open telemetry writer, continuing without telemetry")
		return nil, func() {}
	}
	return w, func() { _ = w.Close() }
}

func (s *Service) emit(phase, target, status, msg string) {
	if s.progressSink == nil {
		return
	}
	s.progressSink.OnEvent(ProgressEvent{
		Phase:     phase,
		Target:    target,
		Status:    status,
		Message:   msg,
		Timestamp: time.Now(),
	})
}

func (s *Service) emitTarget(res scan.Result) {
	if res.Status == scan.StatusSucceeded {
		s.emit("scan", res.Target.String(), "succeeded", res.Classification.Product)
		return
	}
	s.emit("scan", res.Target.String(), "failed", res.FailureDetail())
}

func (s *Service) record(w *catalog.TelemetryWriter, res scan.Result, logger zerolog.Logger) {
	if w == nil || !w.IsEnabled() {
		return
	}

	var err error
	switch {
	case res.Status == scan.StatusSucceeded && res.Classification.Matched:
		err = w.WriteSuccess(res.Target.Host, res.Target.Port, res.Classification,
			stringutil.Ellipsis(string(res.Outcome.Banner), bannerExcerptLen))
	case res.Status == scan.StatusSucceeded:
		err = w.WriteNoMatch(res.Target.Host, res.Target.Port,
			stringutil.Ellipsis(string(res.Outcome.Banner), bannerExcerptLen))
	default:
		err = w.WriteFailure(res.Target.Host, res.Target.Port, res.FailureDetail())
	}
	if err != nil {
		logger.Warn().Err(err).Str("target", res.Target.String()).Msg("Failed to write telemetry event")
	}
}
