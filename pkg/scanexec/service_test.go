package scanexec

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gjvnq/ftp-scan/pkg/catalog"
	"github.com/gjvnq/ftp-scan/pkg/probe"
	"github.com/gjvnq/ftp-scan/pkg/scan"
)

// fakeCoordinator replays canned results for every target it is given.
type fakeCoordinator struct {
	mu      sync.Mutex
	cfg     scan.Config
	targets []probe.Target
	outcome func(probe.Target) scan.Result
}

func (f *fakeCoordinator) Run(ctx context.Context, targets []probe.Target) <-chan scan.Result {
	f.mu.Lock()
	f.targets = append(f.targets, targets...)
	f.mu.Unlock()

	results := make(chan scan.Result)
	go func() {
		defer close(results)
		for _, target := range targets {
			select {
			case results <- f.outcome(target):
			case <-ctx.Done():
				return
			}
		}
	}()
	return results
}

func (f *fakeCoordinator) seenTargets() []probe.Target {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]probe.Target(nil), f.targets...)
}

func withFakeCoordinator(svc *Service, fake *fakeCoordinator) *Service {
	return svc.WithCoordinatorFactory(func(cfg scan.Config, cat *catalog.Catalog) (coordinator, error) {
		fake.mu.Lock()
		fake.cfg = cfg
		fake.mu.Unlock()
		return fake, nil
	})
}

func matchedResult(target probe.Target, product, version string) scan.Result {
	return scan.Result{
		Target:         target,
		Status:         scan.StatusSucceeded,
		Outcome:        probe.Outcome{Kind: probe.KindBanner, Banner: []byte("220 " + product + " " + version)},
		Classification: catalog.Classification{Matched: true, RuleID: "rule-" + product, Product: product, Version: version},
		Attempts:       1,
	}
}

func unclassifiedResult(target probe.Target) scan.Result {
	return scan.Result{
		Target:         target,
		Status:         scan.StatusSucceeded,
		Outcome:        probe.Outcome{Kind: probe.KindBanner, Banner: []byte("220 Hello, unknown daemon")},
		Classification: catalog.Classification{Product: catalog.Unclassified},
		Attempts:       1,
	}
}

func failedResult(target probe.Target, reason probe.FailureReason) scan.Result {
	return scan.Result{
		Target:   target,
		Status:   scan.StatusFailed,
		Outcome:  probe.Outcome{Kind: probe.KindConnectFailed, Reason: reason, Detail: "connection refused"},
		Attempts: 2,
	}
}

type fakeDiscoverer struct {
	mu    sync.Mutex
	asked []string
	alive []string
}

func (f *fakeDiscoverer) LiveHosts(ctx context.Context, hosts []string) []string {
	f.mu.Lock()
	f.asked = append(f.asked, hosts...)
	f.mu.Unlock()
	return f.alive
}

func withFakeDiscoverer(svc *Service, fake *fakeDiscoverer) *Service {
	return svc.WithDiscovererFactory(func(params Params) discoverer { return fake })
}

type capturingSink struct {
	mu     sync.Mutex
	events []ProgressEvent
}

func (c *capturingSink) OnEvent(e ProgressEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *capturingSink) phases() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var phases []string
	for _, e := range c.events {
		phases = append(phases, e.Phase+"/"+e.Status)
	}
	return phases
}

// TestRun_HermeticLocal exercises the real pipeline against an ephemeral
// localhost listener that serves a ProFTPD greeting.
func TestRun_HermeticLocal(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		if strings.Contains(err.Error(), "operation not permitted") {
			t.Skip("skipping test: listening on TCP sockets is not permitted in this environment")
		}
		t.Fatalf("failed to listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		_, _ = conn.Write([]byte("220 ProFTPD 1.3.5 Server ready.\r\n"))
		_ = conn.Close()
	}()

	host, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)

	svc := NewService()
	res, runErr := svc.Run(context.Background(), Params{
		Targets: []string{host},
		Ports:   port,
		Timeout: 2 * time.Second,
	})

	require.NoError(t, runErr)
	require.NotNil(t, res)
	require.NotEmpty(t, res.RunID)
	assert.Equal(t, "completed", res.Status)
	assert.Equal(t, 1, res.Scanned)
	assert.Equal(t, 1, res.Matched)

	require.Len(t, res.Records, 1)
	record := res.Records[0]
	assert.Equal(t, scan.StatusSucceeded, record.Status)
	assert.Equal(t, "ProFTPD", record.Classification.Product)
	assert.Equal(t, "1.3.5", record.Classification.Version)
}

func TestRun_NoTargets(t *testing.T) {
	tests := []struct {
		name    string
		targets []string
	}{
		{"empty list", nil},
		{"blank entries", []string{"", "   "}},
		{"only unscannable addresses", []string{"224.0.0.1", "0.0.0.0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := NewService().Run(context.Background(), Params{Targets: tt.targets})
			require.ErrorIs(t, err, ErrNoTargets)
			assert.Nil(t, res)
			assert.Equal(t, CodeNoTargets, ErrorCode(err))
		})
	}
}

func TestRun_NoLiveHosts(t *testing.T) {
	svc := withFakeDiscoverer(NewService(), &fakeDiscoverer{alive: nil})
	res, err := svc.Run(context.Background(), Params{
		Targets:    []string{"192.0.2.1"},
		EnablePing: true,
	})
	require.ErrorIs(t, err, ErrNoLiveHosts)
	assert.Nil(t, res)
	assert.Equal(t, CodeNoLiveHosts, ErrorCode(err))
}

func TestRun_DiscoveryFiltersTargets(t *testing.T) {
	disc := &fakeDiscoverer{alive: []string{"192.0.2.1"}}
	coord := &fakeCoordinator{outcome: unclassifiedResult}
	svc := withFakeCoordinator(withFakeDiscoverer(NewService(), disc), coord)

	res, err := svc.Run(context.Background(), Params{
		Targets:    []string{"192.0.2.1", "192.0.2.2"},
		EnablePing: true,
	})
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.ElementsMatch(t, []string{"192.0.2.1", "192.0.2.2"}, disc.asked)
	require.Len(t, coord.seenTargets(), 1)
	assert.Equal(t, "192.0.2.1", coord.seenTargets()[0].Host)
	assert.Equal(t, 1, res.Scanned)
}

func TestRun_InvalidParams(t *testing.T) {
	tests := []struct {
		name   string
		params Params
	}{
		{"negative concurrency", Params{Targets: []string{"192.0.2.1"}, Concurrency: -1}},
		{"negative retries", Params{Targets: []string{"192.0.2.1"}, Retries: -1}},
		{"port out of range", Params{Targets: []string{"192.0.2.1"}, Ports: "70000"}},
		{"garbage ports", Params{Targets: []string{"192.0.2.1"}, Ports: "ftp"}},
		{"unknown output format", Params{Targets: []string{"192.0.2.1"}, OutputFormat: "xml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := NewService().Run(context.Background(), tt.params)
			require.ErrorIs(t, err, scan.ErrInvalidConfig)
			assert.Nil(t, res)
			assert.Equal(t, CodeInvalidConfig, ErrorCode(err))
		})
	}
}

func TestRun_CatalogErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		svc := NewService()
		res, err := svc.Run(context.Background(), Params{
			Targets:     []string{"192.0.2.1"},
			CatalogPath: filepath.Join(t.TempDir(), "missing.yaml"),
		})
		require.ErrorIs(t, err, ErrCatalog)
		assert.Nil(t, res)
		assert.Equal(t, CodeCatalogError, ErrorCode(err))
	})

	t.Run("invalid pattern", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "catalog.yaml")
		doc := "signatures:\n  - id: broken\n    pattern: \"^220 [\"\n    product: Broken\n"
		require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

		res, err := NewService().Run(context.Background(), Params{
			Targets:     []string{"192.0.2.1"},
			CatalogPath: path,
		})
		require.ErrorIs(t, err, ErrCatalog)
		assert.Nil(t, res)
		assert.Equal(t, CodeCatalogError, ErrorCode(err))

		var catErr *catalog.CatalogError
		require.ErrorAs(t, err, &catErr)
		assert.Equal(t, "broken", catErr.RuleID)
	})
}

func TestRun_TalliesAndProgress(t *testing.T) {
	outcomes := map[string]func(probe.Target) scan.Result{
		"192.0.2.1": func(tg probe.Target) scan.Result { return matchedResult(tg, "ProFTPD", "1.3.5") },
		"192.0.2.2": unclassifiedResult,
		"192.0.2.3": func(tg probe.Target) scan.Result { return failedResult(tg, probe.ReasonRefused) },
		"192.0.2.4": func(tg probe.Target) scan.Result { return failedResult(tg, probe.ReasonDNS) },
	}
	coord := &fakeCoordinator{outcome: func(tg probe.Target) scan.Result {
		return outcomes[tg.Host](tg)
	}}
	sink := &capturingSink{}
	svc := withFakeCoordinator(NewService(), coord).WithProgressSink(sink)

	res, err := svc.Run(context.Background(), Params{
		Targets: []string{"192.0.2.1", "192.0.2.2", "192.0.2.3", "192.0.2.4"},
	})
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, 4, res.Scanned)
	assert.Equal(t, 1, res.Matched)
	assert.Equal(t, 1, res.Unclassified)
	assert.Equal(t, 2, res.Failed)
	assert.Len(t, res.Records, 4)
	assert.Equal(t, "completed", res.Status)
	assert.NotEmpty(t, res.StartTime)
	assert.NotEmpty(t, res.EndTime)

	phases := sink.phases()
	assert.Contains(t, phases, "catalog/loaded")
	assert.Contains(t, phases, "scan/start")
	assert.Contains(t, phases, "scan/completed")

	var targetEvents int
	for _, e := range sink.events {
		if e.Phase == "scan" && e.Target != "" {
			targetEvents++
		}
	}
	assert.Equal(t, 4, targetEvents)
}

func TestRun_PortsExpansion(t *testing.T) {
	coord := &fakeCoordinator{outcome: unclassifiedResult}
	svc := withFakeCoordinator(NewService(), coord)

	res, err := svc.Run(context.Background(), Params{
		Targets: []string{"192.0.2.1"},
		Ports:   "21,2121",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Scanned)

	targets := coord.seenTargets()
	require.Len(t, targets, 2)
	assert.Equal(t, 21, targets[0].Port)
	assert.Equal(t, 2121, targets[1].Port)
}

func TestRun_DefaultPortApplied(t *testing.T) {
	coord := &fakeCoordinator{outcome: unclassifiedResult}
	svc := withFakeCoordinator(NewService(), coord)

	_, err := svc.Run(context.Background(), Params{Targets: []string{"192.0.2.1"}})
	require.NoError(t, err)

	targets := coord.seenTargets()
	require.Len(t, targets, 1)
	assert.Equal(t, probe.DefaultPort, targets[0].Port)
}

func TestRun_ConfigMergesDefaults(t *testing.T) {
	coord := &fakeCoordinator{outcome: unclassifiedResult}
	svc := withFakeCoordinator(NewService(), coord)

	_, err := svc.Run(context.Background(), Params{
		Targets:     []string{"192.0.2.1"},
		Concurrency: 7,
		Retries:     2,
	})
	require.NoError(t, err)

	assert.Equal(t, 7, coord.cfg.Concurrency)
	assert.Equal(t, 2, coord.cfg.Retries)
	assert.Equal(t, scan.DefaultTimeout, coord.cfg.Timeout)
	assert.Equal(t, scan.DefaultMaxBannerBytes, coord.cfg.MaxBannerBytes)
}

func TestRun_TelemetryFromParams(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry.jsonl")

	outcomes := map[string]func(probe.Target) scan.Result{
		"192.0.2.1": func(tg probe.Target) scan.Result { return matchedResult(tg, "vsftpd", "3.0.3") },
		"192.0.2.2": unclassifiedResult,
		"192.0.2.3": func(tg probe.Target) scan.Result { return failedResult(tg, probe.ReasonRefused) },
	}
	coord := &fakeCoordinator{outcome: func(tg probe.Target) scan.Result {
		return outcomes[tg.Host](tg)
	}}
	svc := withFakeCoordinator(NewService(), coord)

	_, err := svc.Run(context.Background(), Params{
		Targets:       []string{"192.0.2.1", "192.0.2.2", "192.0.2.3"},
		TelemetryPath: path,
	})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var byType = make(map[string]int)
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		var event catalog.DetectionEvent
		require.NoError(t, json.Unmarshal([]byte(line), &event))
		byType[event.MatchType]++
	}
	assert.Equal(t, 1, byType[catalog.MatchSuccess])
	assert.Equal(t, 1, byType[catalog.MatchNone])
	assert.Equal(t, 1, byType[catalog.MatchFailure])
}

func TestRun_TelemetryWriterAttached(t *testing.T) {
	path := filepath.Join(t.TempDir(), "telemetry.jsonl")
	writer, err := catalog.NewTelemetryWriter(path)
	require.NoError(t, err)

	coord := &fakeCoordinator{outcome: func(tg probe.Target) scan.Result {
		return matchedResult(tg, "ProFTPD", "1.3.5")
	}}
	svc := withFakeCoordinator(NewService(), coord).WithTelemetry(writer)

	_, err = svc.Run(context.Background(), Params{Targets: []string{"192.0.2.1"}})
	require.NoError(t, err)

	// The attached writer stays open across runs; the caller closes it.
	require.NoError(t, writer.Write(catalog.DetectionEvent{Target: "after-run", MatchType: catalog.MatchNone}))
	require.NoError(t, writer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 2)
}

func TestRun_Cancellation(t *testing.T) {
	release := make(chan struct{})
	coord := &fakeCoordinator{outcome: func(tg probe.Target) scan.Result {
		<-release
		return unclassifiedResult(tg)
	}}
	svc := withFakeCoordinator(NewService(), coord)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
		close(release)
	}()

	res, err := svc.Run(ctx, Params{Targets: []string{"192.0.2.1", "192.0.2.2"}})
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Equal(t, "failed", res.Status)
	assert.Equal(t, CodeInternal, ErrorCode(err))
}

func TestErrorCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"no targets", ErrNoTargets, CodeNoTargets},
		{"no live hosts", ErrNoLiveHosts, CodeNoLiveHosts},
		{"invalid config", scan.ErrInvalidConfig, CodeInvalidConfig},
		{"wrapped invalid config", errors.Join(errors.New("outer"), scan.ErrInvalidConfig), CodeInvalidConfig},
		{"catalog sentinel", ErrCatalog, CodeCatalogError},
		{"typed catalog error", &catalog.CatalogError{Index: 0, RuleID: "x", Err: errors.New("bad")}, CodeCatalogError},
		{"anything else", errors.New("boom"), CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ErrorCode(tt.err))
		})
	}
}
