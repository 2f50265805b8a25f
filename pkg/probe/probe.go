// pkg/probe/probe.go
// Package probe dials FTP endpoints and captures their greeting banners.
package probe

import (
	"errors"
	"net"
	"strconv"
	"syscall"
	"time"
)

// DefaultPort is the IANA-assigned FTP control port.
const DefaultPort = 21

// Target is one host/port endpoint to probe.
type Target struct {
	Host string
	Port int
}

// Address renders the target in dialable host:port form.
func (t Target) Address() string {
	return net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
}

func (t Target) String() string {
	return t.Address()
}

// OutcomeKind names the terminal state of one fetch attempt.
type OutcomeKind int

const (
	// KindBanner means a complete greeting was captured.
	KindBanner OutcomeKind = iota
	// KindConnectFailed means the endpoint could not be reached or the
	// connection died before a greeting completed.
	KindConnectFailed
	// KindTimeout means the endpoint accepted the connection (or never
	// answered the dial) and stayed silent past the probe budget.
	KindTimeout
	// KindProtocolError means the endpoint spoke, but not valid FTP.
	KindProtocolError
)

func (k OutcomeKind) String() string {
	switch k {
	case KindBanner:
		return "banner"
	case KindConnectFailed:
		return "connect_failed"
	case KindTimeout:
		return "timeout"
	case KindProtocolError:
		return "protocol_error"
	}
	return "unknown"
}

// FailureReason classifies connect failures for retry decisions.
type FailureReason string

const (
	// ReasonDNS covers name resolution failures. The name will not start
	// resolving moments later, so these are never retried.
	ReasonDNS FailureReason = "dns"
	// ReasonRefused covers RST responses to the SYN.
	ReasonRefused FailureReason = "refused"
	// ReasonReset covers connections killed after establishment.
	ReasonReset FailureReason = "reset"
	// ReasonUnreachable covers host and network unreachable errors.
	ReasonUnreachable FailureReason = "unreachable"
	// ReasonOther covers everything else, including cancellation.
	ReasonOther FailureReason = "other"
)

// Outcome is the result of one banner fetch attempt. Banner is set only for
// KindBanner, Reason only for KindConnectFailed, and Detail holds a short
// human-readable explanation for the failure kinds.
type Outcome struct {
	Kind    OutcomeKind
	Banner  []byte
	Elapsed time.Duration
	Reason  FailureReason
	Detail  string
}

// Retryable reports whether another attempt against the same target could
// plausibly succeed. Timeouts and transient connect failures qualify; DNS
// failures and protocol errors do not, since the endpoint already gave a
// definitive answer.
func (o Outcome) Retryable() bool {
	switch o.Kind {
	case KindTimeout:
		return true
	case KindConnectFailed:
		return o.Reason != ReasonDNS
	}
	return false
}

func reasonForDialError(err error) FailureReason {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ReasonDNS
	}

	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return ReasonRefused
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return ReasonReset
	case errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH):
		return ReasonUnreachable
	}
	return ReasonOther
}
