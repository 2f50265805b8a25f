package scanexec

import (
	"errors"

	"github.com/gjvnq/ftp-scan/pkg/catalog"
	"github.com/gjvnq/ftp-scan/pkg/scan"
)

// Errors returned by Service.Run before any probe is sent.
var (
	// ErrNoTargets means target expansion produced nothing scannable.
	ErrNoTargets = errors.New("no scannable targets")
	// ErrNoLiveHosts means discovery was enabled and no host answered.
	ErrNoLiveHosts = errors.New("no live hosts after discovery")
	// ErrCatalog wraps any failure to load or compile the signature catalog.
	ErrCatalog = errors.New("catalog error")
)

// Stable error codes reported by the CLI alongside the error message.
const (
	CodeNoTargets     = "NO_TARGETS"
	CodeNoLiveHosts   = "NO_LIVE_HOSTS"
	CodeInvalidConfig = "INVALID_CONFIG"
	CodeCatalogError  = "CATALOG_ERROR"
	CodeInternal      = "INTERNAL"
)

// ErrorCode maps an error returned by Run to a stable machine-readable
// code. A nil error maps to the empty string.
func ErrorCode(err error) string {
	var catErr *catalog.CatalogError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoTargets):
		return CodeNoTargets
	case errors.Is(err, ErrNoLiveHosts):
		return CodeNoLiveHosts
	case errors.Is(err, scan.ErrInvalidConfig):
		return CodeInvalidConfig
	case errors.Is(err, ErrCatalog), errors.As(err, &catErr):
		return CodeCatalogError
	default:
		return CodeInternal
	}
}
