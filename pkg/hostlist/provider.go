package hostlist

import (
	"context"
	"errors"
	"fmt"

	"github.com/projectdiscovery/sessionhunt/pkg/types"
)

var (
	// ErrUnauthorized marks provider failures caused by missing permissions.
	// Providers wrap it so the resolver can skip retries.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrScopeNotFound is returned when a named scope is unknown to the provider
	ErrScopeNotFound = errors.New("scope not found")
	// ErrNoProvider is returned when the scope requires a provider that is not configured
	ErrNoProvider = errors.New("no provider configured")
)

// DirectoryProvider enumerates every machine account of the directory
type DirectoryProvider interface {
	// ListHosts retrieves machine names page by page, calling yield once per
	// page of at most pageSize names. An error from yield aborts the listing
	// and is returned as is.
	ListHosts(ctx context.Context, pageSize int, yield func(names []string) error) error
}

// Scope is a named subdivision of the host population
type Scope struct {
	Name string
	ID   string
}

// ScopeProvider enumerates lease scopes and the hosts leased within them
type ScopeProvider interface {
	ListScopes(ctx context.Context) ([]Scope, error)
	ListHostsInScope(ctx context.Context, scopeID string) ([]string, error)
}

// ResolveError is returned when a host list cannot be produced
type ResolveError struct {
	Kind     types.ErrorKind
	Scope    types.ScanScope
	Attempts int
	Err      error
}

func (e *ResolveError) Error() string {
	msg := fmt.Sprintf("could not resolve hosts for scope %q: %s", e.Scope, e.Kind)
	if e.Attempts > 1 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ResolveError) Unwrap() error {
	return e.Err
}

func (e *ResolveError) ErrorKind() types.ErrorKind {
	return e.Kind
}
