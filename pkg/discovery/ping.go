// pkg/discovery/ping.go
// Package discovery filters scan targets down to hosts that answer ICMP
// echo requests. It is a best-effort pre-check: a host that cannot be
// pinged is dropped from the scan, and a ping error never fails the run.
package discovery

import (
	"context"
	"net"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/go-ping/ping"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Defaults used by NewProber and restored by LiveHosts when a field is
// left zero or set to a nonsensical value.
const (
	DefaultCount       = 1
	DefaultInterval    = 1 * time.Second
	DefaultTimeout     = 1 * time.Second
	DefaultConcurrency = 50
)

// Pinger is the slice of the ping library the prober needs.
type Pinger interface {
	Run() error
	Stop()
	Statistics() *ping.Statistics

	SetPrivileged(bool)
	SetCount(int)
	SetInterval(time.Duration)
	SetTimeout(time.Duration)
	GetTimeout() time.Duration
}

type pingerFactoryFunc func(host string) (Pinger, error)

// Prober sends ICMP echo requests to candidate hosts and reports which
// ones answered.
type Prober struct {
	Count         int           // Echo requests per host.
	Interval      time.Duration // Delay between echo requests to the same host.
	Timeout       time.Duration // Overall wait for replies from a single host.
	Privileged    bool          // Use raw sockets. Requires root on non-Windows systems.
	Concurrency   int           // Hosts probed at the same time.
	AllowLoopback bool          // Probe loopback addresses instead of skipping them.

	pingerFactory pingerFactoryFunc
	logger        zerolog.Logger
}

// NewProber returns a Prober with the package defaults. Loopback probing
// is enabled so local test setups work out of the box.
func NewProber() *Prober {
	return &Prober{
		Count:         DefaultCount,
		Interval:      DefaultInterval,
		Timeout:       DefaultTimeout,
		Concurrency:   DefaultConcurrency,
		AllowLoopback: true,
		pingerFactory: newRealPinger,
		logger:        log.With().Str("component", "discovery").Logger(),
	}
}

func newRealPinger(host string) (Pinger, error) {
	p, err := ping.NewPinger(host)
	if err != nil {
		return nil, err
	}
	return &realPingerAdapter{p: p}, nil
}

// LiveHosts pings every host and returns the ones that answered at least
// one echo request. Hosts are reported in completion order, not input
// order. Cancelling ctx stops scheduling further probes; hosts already
// confirmed live are still returned.
func (pr *Prober) LiveHosts(ctx context.Context, hosts []string) []string {
	count := pr.Count
	if count < 1 {
		count = DefaultCount
	}
	interval := pr.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	timeout := pr.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	concurrency := pr.Concurrency
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	factory := pr.pingerFactory
	if factory == nil {
		factory = newRealPinger
	}
	logger := pr.logger

	privileged := pr.Privileged
	if privileged && runtime.GOOS != "windows" && os.Geteuid() != 0 {
		logger.Warn().Msg("Privileged ping requested without root. Falling back to unprivileged ping.")
		privileged = false
	}

	candidates := hosts
	if !pr.AllowLoopback {
		candidates = make([]string, 0, len(hosts))
		for _, host := range hosts {
			ip := net.ParseIP(host)
			if ip != nil && ip.IsLoopback() {
				logger.Debug().Str("target", host).Msg("Skipping loopback address")
				continue
			}
			candidates = append(candidates, host)
		}
	}
	if len(candidates) == 0 {
		logger.Info().Msg("No hosts left to ping after filtering")
		return []string{}
	}

	var (
		live []string
		mu   sync.Mutex
		wg   sync.WaitGroup
	)
	sem := make(chan struct{}, concurrency)

	logger.Info().Int("targets", len(candidates)).Int("concurrency", concurrency).Msg("Starting liveness check")

loop:
	for _, host := range candidates {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Liveness check canceled. Skipping remaining hosts.")
			break loop
		default:
		}

		wg.Add(1)
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Done()
			logger.Info().Msg("Liveness check canceled. Skipping remaining hosts.")
			break loop
		}

		go func(host string) {
			defer wg.Done()
			defer func() { <-sem }()

			pinger, err := factory(host)
			if err != nil {
				logger.Warn().Str("target", host).Err(err).Msg("Failed to create pinger")
				return
			}

			pinger.SetPrivileged(privileged)
			pinger.SetCount(count)
			pinger.SetInterval(interval)
			pinger.SetTimeout(timeout)

			// The grace period covers go-ping's own shutdown after its
			// Timeout fires. Stop unblocks Run when the context ends first.
			opCtx, opCancel := context.WithTimeout(ctx, pinger.GetTimeout()+500*time.Millisecond)
			defer opCancel()

			go func() {
				<-opCtx.Done()
				if opCtx.Err() != nil {
					pinger.Stop()
				}
			}()

			err = pinger.Run()
			stats := pinger.Statistics()
			if err != nil {
				logger.Debug().Str("target", host).Err(err).Msg("Ping run failed")
			}

			if stats != nil && stats.PacketsRecv > 0 {
				mu.Lock()
				live = append(live, host)
				mu.Unlock()
				logger.Debug().Str("target", host).Msg("Host is live")
				return
			}
			if stats != nil {
				logger.Debug().Str("target", host).Int("sent", stats.PacketsSent).Int("recv", stats.PacketsRecv).Msg("Host did not respond")
			}
		}(host)
	}

	wg.Wait()

	logger.Info().Int("live_hosts", len(live)).Int("targets", len(candidates)).Msg("Liveness check completed")
	if live == nil {
		live = []string{}
	}
	return live
}

// realPingerAdapter wraps github.com/go-ping/ping.Pinger to satisfy Pinger.
type realPingerAdapter struct {
	p *ping.Pinger
}

func (r *realPingerAdapter) Run() error                   { return r.p.Run() }
func (r *realPingerAdapter) Stop()                        { r.p.Stop() }
func (r *realPingerAdapter) Statistics() *ping.Statistics { return r.p.Statistics() }

func (r *realPingerAdapter) SetPrivileged(v bool)        { r.p.SetPrivileged(v) }
func (r *realPingerAdapter) SetCount(c int)              { r.p.Count = c }
func (r *realPingerAdapter) SetInterval(i time.Duration) { r.p.Interval = i }
func (r *realPingerAdapter) SetTimeout(t time.Duration)  { r.p.Timeout = t }
func (r *realPingerAdapter) GetTimeout() time.Duration   { return r.p.Timeout }
