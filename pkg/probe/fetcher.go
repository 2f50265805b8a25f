// pkg/probe/fetcher.go
package probe

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultTimeout is the per-target budget covering dial plus greeting read.
	DefaultTimeout = 5 * time.Second
	// DefaultMaxBannerBytes bounds how much greeting a server may send.
	DefaultMaxBannerBytes = 4096

	maxBannerCeiling = 65536
)

// Fetcher connects to FTP endpoints and reads the server greeting, including
// RFC 959 multi-line greetings, within a single absolute deadline shared by
// the dial and the read.
type Fetcher struct {
	timeout        time.Duration
	maxBannerBytes int
	logger         zerolog.Logger
}

// NewFetcher builds a fetcher, clamping out-of-range values to defaults.
func NewFetcher(timeout time.Duration, maxBannerBytes int) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if maxBannerBytes <= 0 || maxBannerBytes > maxBannerCeiling {
		maxBannerBytes = DefaultMaxBannerBytes
	}

	return &Fetcher{
		timeout:        timeout,
		maxBannerBytes: maxBannerBytes,
		logger:         log.With().Str("component", "probe").Logger(),
	}
}

// Timeout returns the per-target probe budget.
func (f *Fetcher) Timeout() time.Duration {
	return f.timeout
}

// Fetch dials the target and reads its greeting. It always returns an
// Outcome; network trouble is data here, not an error. Cancelling ctx aborts
// the attempt and surfaces as a non-retryable connect failure.
func (f *Fetcher) Fetch(ctx context.Context, target Target) Outcome {
	deadline := time.Now().Add(f.timeout)
	dialer := &net.Dialer{Deadline: deadline}
	start := time.Now()

	conn, err := dialer.DialContext(ctx, "tcp", target.Address())
	if err != nil {
		return f.dialOutcome(ctx, err, time.Since(start))
	}
	defer func() { _ = conn.Close() }()

	if err := conn.SetDeadline(deadline); err != nil {
		return Outcome{Kind: KindConnectFailed, Elapsed: time.Since(start), Reason: ReasonOther, Detail: err.Error()}
	}

	// Unblock a pending read as soon as the caller gives up.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-watchDone:
		}
	}()

	outcome := f.readGreeting(ctx, conn, start)

	if outcome.Kind == KindBanner {
		f.logger.Debug().
			Str("target", target.String()).
			Int("bytes", len(outcome.Banner)).
			Dur("elapsed", outcome.Elapsed).
			Msg("banner captured")
	} else {
		f.logger.Debug().
			Str("target", target.String()).
			Str("kind", outcome.Kind.String()).
			Str("detail", outcome.Detail).
			Msg("banner fetch failed")
	}

	return outcome
}

func (f *Fetcher) dialOutcome(ctx context.Context, err error, elapsed time.Duration) Outcome {
	if ctx.Err() != nil {
		return Outcome{Kind: KindConnectFailed, Elapsed: elapsed, Reason: ReasonOther, Detail: ctx.Err().Error()}
	}

	// Resolution failures are never retried, even when the resolver timed
	// out rather than answering NXDOMAIN.
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return Outcome{Kind: KindConnectFailed, Elapsed: elapsed, Reason: ReasonDNS, Detail: err.Error()}
	}

	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return Outcome{Kind: KindTimeout, Elapsed: elapsed, Detail: "connect timed out"}
	}
	return Outcome{Kind: KindConnectFailed, Elapsed: elapsed, Reason: reasonForDialError(err), Detail: err.Error()}
}

// readGreeting accumulates greeting lines until the reply terminates. The
// first line fixes the reply code; a "NNN-" opener keeps the reply open until
// a "NNN " line with the same code closes it.
func (f *Fetcher) readGreeting(ctx context.Context, conn net.Conn, start time.Time) Outcome {
	reader := bufio.NewReader(io.LimitReader(conn, int64(f.maxBannerBytes)+1))

	var banner bytes.Buffer
	var code string

	for {
		line, err := reader.ReadString('\n')
		banner.WriteString(line)

		if banner.Len() > f.maxBannerBytes {
			return Outcome{Kind: KindProtocolError, Elapsed: time.Since(start), Detail: "banner too long"}
		}
		if err != nil {
			return f.readErrorOutcome(ctx, err, banner.Len(), time.Since(start))
		}

		trimmed := strings.TrimRight(line, "\r\n")
		if code == "" {
			c, continued, ok := parseGreetingLine(trimmed)
			if !ok {
				return Outcome{Kind: KindProtocolError, Elapsed: time.Since(start), Detail: "malformed greeting"}
			}
			if !continued {
				return bannerOutcome(banner.Bytes(), time.Since(start))
			}
			code = c
			continue
		}

		if c, continued, ok := parseGreetingLine(trimmed); ok && !continued && c == code {
			return bannerOutcome(banner.Bytes(), time.Since(start))
		}
	}
}

func (f *Fetcher) readErrorOutcome(ctx context.Context, err error, gotBytes int, elapsed time.Duration) Outcome {
	if ctx.Err() != nil {
		return Outcome{Kind: KindConnectFailed, Elapsed: elapsed, Reason: ReasonOther, Detail: ctx.Err().Error()}
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		if gotBytes == 0 {
			return Outcome{Kind: KindTimeout, Elapsed: elapsed, Detail: "no greeting before timeout"}
		}
		return Outcome{Kind: KindTimeout, Elapsed: elapsed, Detail: fmt.Sprintf("greeting incomplete after %d bytes", gotBytes)}
	}
	if errors.Is(err, io.EOF) {
		if gotBytes == 0 {
			return Outcome{Kind: KindProtocolError, Elapsed: elapsed, Detail: "empty greeting"}
		}
		return Outcome{Kind: KindProtocolError, Elapsed: elapsed, Detail: "truncated greeting"}
	}
	return Outcome{Kind: KindConnectFailed, Elapsed: elapsed, Reason: reasonForDialError(err), Detail: err.Error()}
}

func bannerOutcome(raw []byte, elapsed time.Duration) Outcome {
	banner := bytes.TrimSpace(raw)
	out := make([]byte, len(banner))
	copy(out, banner)
	return Outcome{Kind: KindBanner, Banner: out, Elapsed: elapsed}
}

// parseGreetingLine reports the 3-digit reply code of a greeting line, whether
// the line opens a multi-line reply, and whether the line is shaped like an
// FTP reply at all.
func parseGreetingLine(line string) (code string, continued bool, ok bool) {
	if len(line) < 3 {
		return "", false, false
	}
	for i := 0; i < 3; i++ {
		if line[i] < '0' || line[i] > '9' {
			return "", false, false
		}
	}
	if len(line) == 3 {
		return line[:3], false, true
	}
	switch line[3] {
	case ' ':
		return line[:3], false, true
	case '-':
		return line[:3], true, true
	}
	return "", false, false
}
