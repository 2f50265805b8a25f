// pkg/scan/coordinator_test.go
package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gjvnq/ftp-scan/pkg/catalog"
	"github.com/gjvnq/ftp-scan/pkg/probe"
)

// stubFetcher replaces the network probe in coordinator tests. outcomes
// decides the result per target and attempt; delay simulates probe latency.
type stubFetcher struct {
	mu       sync.Mutex
	attempts map[string]int

	inFlight    int32
	maxInFlight int32

	delay    func(target probe.Target) time.Duration
	outcomes func(target probe.Target, attempt int) probe.Outcome
}

func newStubFetcher(outcomes func(probe.Target, int) probe.Outcome) *stubFetcher {
	return &stubFetcher{
		attempts: make(map[string]int),
		outcomes: outcomes,
	}
}

func (s *stubFetcher) Fetch(ctx context.Context, target probe.Target) probe.Outcome {
	current := atomic.AddInt32(&s.inFlight, 1)
	for {
		peak := atomic.LoadInt32(&s.maxInFlight)
		if current <= peak || atomic.CompareAndSwapInt32(&s.maxInFlight, peak, current) {
			break
		}
	}
	defer atomic.AddInt32(&s.inFlight, -1)

	if s.delay != nil {
		if d := s.delay(target); d > 0 {
			select {
			case <-time.After(d):
			case <-ctx.Done():
			}
		}
	}

	s.mu.Lock()
	s.attempts[target.String()]++
	attempt := s.attempts[target.String()]
	s.mu.Unlock()

	return s.outcomes(target, attempt)
}

func (s *stubFetcher) attemptsFor(target probe.Target) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[target.String()]
}

func bannerOf(text string) probe.Outcome {
	return probe.Outcome{Kind: probe.KindBanner, Banner: []byte(text), Elapsed: time.Millisecond}
}

func refusedOutcome() probe.Outcome {
	return probe.Outcome{Kind: probe.KindConnectFailed, Reason: probe.ReasonRefused, Detail: "connection refused"}
}

func timeoutOutcome() probe.Outcome {
	return probe.Outcome{Kind: probe.KindTimeout, Detail: "no greeting before timeout"}
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.Timeout = 100 * time.Millisecond
	cfg.Backoff = 5 * time.Millisecond
	return cfg
}

func targetList(n int) []probe.Target {
	targets := make([]probe.Target, 0, n)
	for i := range n {
		targets = append(targets, probe.Target{Host: fmt.Sprintf("10.0.0.%d", i+1), Port: 21})
	}
	return targets
}

func collectResults(t *testing.T, results <-chan Result) []Result {
	t.Helper()

	var collected []Result
	deadline := time.After(10 * time.Second)
	for {
		select {
		case r, ok := <-results:
			if !ok {
				return collected
			}
			collected = append(collected, r)
		case <-deadline:
			t.Fatal("Timed out waiting for the result channel to close")
		}
	}
}

func TestNewCoordinator_ValidatesConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Concurrency = 0

	_, err := NewCoordinator(cfg, nil)
	if err == nil {
		t.Fatal("Expected a validation error, got nil")
	}
	if !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("Expected error to wrap ErrInvalidConfig, got %v", err)
	}
}

func TestCoordinator_Run_ClassifiesBanners(t *testing.T) {
	t.Parallel()

	banners := map[string]string{
		"10.0.0.1:21": "220 ProFTPD 1.3.5 Server ready.",
		"10.0.0.2:21": "220 (vsFTPd 3.0.3)",
		"10.0.0.3:21": "220 Hello, unknown daemon",
	}
	fetcher := newStubFetcher(func(target probe.Target, attempt int) probe.Outcome {
		return bannerOf(banners[target.String()])
	})

	coord, err := NewCoordinator(fastConfig(), catalog.Builtin(), WithFetcher(fetcher))
	if err != nil {
		t.Fatalf("Failed to build coordinator: %v", err)
	}

	results := collectResults(t, coord.Run(context.Background(), targetList(3)))
	if len(results) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(results))
	}

	byTarget := make(map[string]Result, len(results))
	for _, r := range results {
		byTarget[r.Target.String()] = r
	}

	proftpd := byTarget["10.0.0.1:21"]
	if proftpd.Status != StatusSucceeded {
		t.Errorf("Expected ProFTPD target to succeed, got %s", proftpd.Status)
	}
	if proftpd.Product() != "ProFTPD" || proftpd.Version() != "1.3.5" {
		t.Errorf("Expected ProFTPD 1.3.5, got %s %s", proftpd.Product(), proftpd.Version())
	}
	if proftpd.Attempts != 1 {
		t.Errorf("Expected exactly 1 attempt, got %d", proftpd.Attempts)
	}

	vsftpd := byTarget["10.0.0.2:21"]
	if vsftpd.Product() != "vsftpd" || vsftpd.Version() != "3.0.3" {
		t.Errorf("Expected vsftpd 3.0.3, got %s %s", vsftpd.Product(), vsftpd.Version())
	}

	unknown := byTarget["10.0.0.3:21"]
	if unknown.Status != StatusSucceeded {
		t.Errorf("Expected unmatched banner to still succeed, got %s", unknown.Status)
	}
	if unknown.Product() != catalog.Unclassified {
		t.Errorf("Expected product %q, got %q", catalog.Unclassified, unknown.Product())
	}
}

func TestCoordinator_Run_ConcurrencyCeiling(t *testing.T) {
	t.Parallel()

	fetcher := newStubFetcher(func(target probe.Target, attempt int) probe.Outcome {
		return bannerOf("220 FTP ready")
	})
	fetcher.delay = func(probe.Target) time.Duration { return 30 * time.Millisecond }

	cfg := fastConfig()
	cfg.Concurrency = 4

	coord, err := NewCoordinator(cfg, nil, WithFetcher(fetcher))
	if err != nil {
		t.Fatalf("Failed to build coordinator: %v", err)
	}

	results := collectResults(t, coord.Run(context.Background(), targetList(20)))
	if len(results) != 20 {
		t.Fatalf("Expected 20 results, got %d", len(results))
	}

	if peak := atomic.LoadInt32(&fetcher.maxInFlight); peak > 4 {
		t.Errorf("Expected at most 4 probes in flight, observed %d", peak)
	}
}

func TestCoordinator_Run_RetriesExhausted(t *testing.T) {
	t.Parallel()

	fetcher := newStubFetcher(func(target probe.Target, attempt int) probe.Outcome {
		return refusedOutcome()
	})

	cfg := fastConfig()
	cfg.Retries = 2

	coord, err := NewCoordinator(cfg, nil, WithFetcher(fetcher))
	if err != nil {
		t.Fatalf("Failed to build coordinator: %v", err)
	}

	target := probe.Target{Host: "10.0.0.1", Port: 21}
	results := collectResults(t, coord.Run(context.Background(), []probe.Target{target}))

	if len(results) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(results))
	}
	r := results[0]
	if r.Status != StatusFailed {
		t.Errorf("Expected status Failed, got %s", r.Status)
	}
	if r.Attempts != 3 {
		t.Errorf("Expected retries+1 = 3 attempts, got %d", r.Attempts)
	}
	if got := fetcher.attemptsFor(target); got != 3 {
		t.Errorf("Expected the fetcher to be called exactly 3 times, got %d", got)
	}
	if r.Outcome.Reason != probe.ReasonRefused {
		t.Errorf("Expected the final outcome to carry the failure reason, got %s", r.Outcome.Reason)
	}
}

func TestCoordinator_Run_RetryThenSuccess(t *testing.T) {
	t.Parallel()

	fetcher := newStubFetcher(func(target probe.Target, attempt int) probe.Outcome {
		if attempt == 1 {
			return timeoutOutcome()
		}
		return bannerOf("220 ProFTPD 1.3.5 Server ready.")
	})

	cfg := fastConfig()
	cfg.Retries = 3

	coord, err := NewCoordinator(cfg, nil, WithFetcher(fetcher))
	if err != nil {
		t.Fatalf("Failed to build coordinator: %v", err)
	}

	target := probe.Target{Host: "10.0.0.1", Port: 21}
	results := collectResults(t, coord.Run(context.Background(), []probe.Target{target}))

	if len(results) != 1 {
		t.Fatalf("Expected 1 result, got %d", len(results))
	}
	r := results[0]
	if r.Status != StatusSucceeded {
		t.Errorf("Expected status Succeeded, got %s (detail: %s)", r.Status, r.Outcome.Detail)
	}
	if r.Attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", r.Attempts)
	}
	if r.Product() != "ProFTPD" {
		t.Errorf("Expected ProFTPD after retry, got %q", r.Product())
	}
}

func TestCoordinator_Run_NonRetryableFailsImmediately(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		outcome probe.Outcome
	}{
		{"dns failure", probe.Outcome{Kind: probe.KindConnectFailed, Reason: probe.ReasonDNS, Detail: "no such host"}},
		{"protocol error", probe.Outcome{Kind: probe.KindProtocolError, Detail: "malformed greeting"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fetcher := newStubFetcher(func(target probe.Target, attempt int) probe.Outcome {
				return tt.outcome
			})

			cfg := fastConfig()
			cfg.Retries = 5

			coord, err := NewCoordinator(cfg, nil, WithFetcher(fetcher))
			if err != nil {
				t.Fatalf("Failed to build coordinator: %v", err)
			}

			target := probe.Target{Host: "10.0.0.1", Port: 21}
			results := collectResults(t, coord.Run(context.Background(), []probe.Target{target}))

			if len(results) != 1 {
				t.Fatalf("Expected 1 result, got %d", len(results))
			}
			if results[0].Status != StatusFailed {
				t.Errorf("Expected status Failed, got %s", results[0].Status)
			}
			if results[0].Attempts != 1 {
				t.Errorf("Expected a single attempt for a non-retryable failure, got %d", results[0].Attempts)
			}
			if got := fetcher.attemptsFor(target); got != 1 {
				t.Errorf("Expected the fetcher to be called once, got %d", got)
			}
		})
	}
}

func TestCoordinator_Run_BackoffDoesNotHoldWorker(t *testing.T) {
	t.Parallel()

	slow := probe.Target{Host: "10.0.0.1", Port: 21}
	fetcher := newStubFetcher(func(target probe.Target, attempt int) probe.Outcome {
		if target == slow && attempt == 1 {
			return timeoutOutcome()
		}
		return bannerOf("220 FTP ready")
	})

	cfg := fastConfig()
	cfg.Concurrency = 1
	cfg.Retries = 1
	cfg.Backoff = 300 * time.Millisecond

	coord, err := NewCoordinator(cfg, nil, WithFetcher(fetcher))
	if err != nil {
		t.Fatalf("Failed to build coordinator: %v", err)
	}

	targets := []probe.Target{
		slow,
		{Host: "10.0.0.2", Port: 21},
		{Host: "10.0.0.3", Port: 21},
	}

	start := time.Now()
	type timed struct {
		result Result
		at     time.Duration
	}
	var order []timed
	for r := range coord.Run(context.Background(), targets) {
		order = append(order, timed{result: r, at: time.Since(start)})
	}

	if len(order) != 3 {
		t.Fatalf("Expected 3 results, got %d", len(order))
	}

	// The single worker must finish the two healthy targets while the
	// first target sits out its backoff; a worker held hostage by the
	// timer would push them past the 300ms backoff window.
	for _, entry := range order[:2] {
		if entry.result.Target == slow {
			t.Fatalf("Expected the retrying target to finish last, but it finished at position with %v", entry.at)
		}
		if entry.at > 250*time.Millisecond {
			t.Errorf("Expected healthy target %s to complete before the backoff elapsed, took %v",
				entry.result.Target, entry.at)
		}
	}

	last := order[2]
	if last.result.Target != slow {
		t.Fatalf("Expected the retried target to finish last, got %s", last.result.Target)
	}
	if last.result.Status != StatusSucceeded || last.result.Attempts != 2 {
		t.Errorf("Expected the retried target to succeed on attempt 2, got %s after %d attempts",
			last.result.Status, last.result.Attempts)
	}
	if last.at < cfg.Backoff {
		t.Errorf("Expected the retry to wait out the backoff, finished after %v", last.at)
	}
}

func TestCoordinator_Run_Cancellation(t *testing.T) {
	t.Parallel()

	fetcher := newStubFetcher(func(target probe.Target, attempt int) probe.Outcome {
		return bannerOf("220 FTP ready")
	})
	fetcher.delay = func(probe.Target) time.Duration { return 50 * time.Millisecond }

	cfg := fastConfig()
	cfg.Concurrency = 2

	coord, err := NewCoordinator(cfg, nil, WithFetcher(fetcher))
	if err != nil {
		t.Fatalf("Failed to build coordinator: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(120 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	results := collectResults(t, coord.Run(ctx, targetList(50)))
	elapsed := time.Since(start)

	if len(results) == 0 {
		t.Error("Expected some completed results before cancellation")
	}
	if len(results) >= 50 {
		t.Errorf("Expected cancellation to drop queued targets, got %d results", len(results))
	}
	if elapsed > 2*time.Second {
		t.Errorf("Expected the run to stop promptly after cancellation, took %v", elapsed)
	}
}

func TestCoordinator_Run_Deadline(t *testing.T) {
	t.Parallel()

	fetcher := newStubFetcher(func(target probe.Target, attempt int) probe.Outcome {
		return bannerOf("220 FTP ready")
	})
	fetcher.delay = func(probe.Target) time.Duration { return 40 * time.Millisecond }

	cfg := fastConfig()
	cfg.Concurrency = 1
	cfg.Deadline = 150 * time.Millisecond

	coord, err := NewCoordinator(cfg, nil, WithFetcher(fetcher))
	if err != nil {
		t.Fatalf("Failed to build coordinator: %v", err)
	}

	start := time.Now()
	results := collectResults(t, coord.Run(context.Background(), targetList(50)))
	elapsed := time.Since(start)

	if len(results) >= 50 {
		t.Errorf("Expected the deadline to cut the run short, got %d results", len(results))
	}
	if elapsed > 2*time.Second {
		t.Errorf("Expected the run to stop promptly at the deadline, took %v", elapsed)
	}
}

func TestCoordinator_Run_CompletionOrder(t *testing.T) {
	t.Parallel()

	slow := probe.Target{Host: "10.0.0.1", Port: 21}
	fast := probe.Target{Host: "10.0.0.2", Port: 21}

	fetcher := newStubFetcher(func(target probe.Target, attempt int) probe.Outcome {
		return bannerOf("220 FTP ready")
	})
	fetcher.delay = func(target probe.Target) time.Duration {
		if target == slow {
			return 150 * time.Millisecond
		}
		return 0
	}

	cfg := fastConfig()
	cfg.Concurrency = 2

	coord, err := NewCoordinator(cfg, nil, WithFetcher(fetcher))
	if err != nil {
		t.Fatalf("Failed to build coordinator: %v", err)
	}

	results := collectResults(t, coord.Run(context.Background(), []probe.Target{slow, fast}))
	if len(results) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(results))
	}
	if results[0].Target != fast {
		t.Errorf("Expected the fast target to finish first, got %s", results[0].Target)
	}
}

func TestCoordinator_Run_EmptyTargets(t *testing.T) {
	t.Parallel()

	fetcher := newStubFetcher(func(target probe.Target, attempt int) probe.Outcome {
		t.Error("Fetcher should not be called for an empty target list")
		return bannerOf("")
	})

	coord, err := NewCoordinator(fastConfig(), nil, WithFetcher(fetcher))
	if err != nil {
		t.Fatalf("Failed to build coordinator: %v", err)
	}

	results := collectResults(t, coord.Run(context.Background(), nil))
	if len(results) != 0 {
		t.Errorf("Expected no results for an empty target list, got %d", len(results))
	}
}
