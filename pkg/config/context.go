// pkg/config/context.go
package config

import "context"

// contextKey is a private type for context keys defined in this package.
type contextKey string

// ManagerKey is the context key under which the root command passes the
// loaded Manager to subcommands.
const ManagerKey contextKey = "config-manager"

// ManagerFromContext extracts the Manager stored under ManagerKey, or nil
// when none was attached.
func ManagerFromContext(ctx context.Context) *Manager {
	if ctx == nil {
		return nil
	}
	mgr, ok := ctx.Value(ManagerKey).(*Manager)
	if !ok {
		return nil
	}
	return mgr
}
