package hostlist

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/projectdiscovery/gcache"
	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/sessionhunt/pkg/types"
	sliceutil "github.com/projectdiscovery/utils/slice"
)

const (
	DefaultAttempts      = 3
	DefaultRetryDelay    = 2 * time.Second
	DefaultPageSize      = 1000
	DefaultScopeCacheTTL = 5 * time.Minute
)

const scopeCacheKey = "scopes"

// Options tunes host list resolution
type Options struct {
	// Attempts is the maximum number of tries per resolution
	Attempts int
	// RetryDelay is the fixed pause between two attempts
	RetryDelay time.Duration
	// PageSize bounds how many names a directory page may carry
	PageSize int
	// HostPrefixes restricts named scope results to hostnames starting
	// with one of the prefixes (case-insensitive). Empty keeps every host.
	HostPrefixes []string
	// ScopeCacheTTL is how long a scope listing is reused
	ScopeCacheTTL time.Duration
}

// DefaultOptions returns the options used when none are given
func DefaultOptions() Options {
	return Options{
		Attempts:      DefaultAttempts,
		RetryDelay:    DefaultRetryDelay,
		PageSize:      DefaultPageSize,
		ScopeCacheTTL: DefaultScopeCacheTTL,
	}
}

// Resolver produces the list of target hostnames for a scan scope
type Resolver struct {
	directory  DirectoryProvider
	scopes     ScopeProvider
	options    Options
	scopeCache gcache.Cache[string, []Scope]
}

// NewResolver returns a resolver backed by the given providers. Either may
// be nil, in which case scopes needing it fail with ErrNoProvider.
func NewResolver(directory DirectoryProvider, scopes ScopeProvider, options Options) *Resolver {
	defaults := DefaultOptions()
	if options.Attempts <= 0 {
		options.Attempts = defaults.Attempts
	}
	if options.RetryDelay < 0 {
		options.RetryDelay = 0
	}
	if options.PageSize <= 0 {
		options.PageSize = defaults.PageSize
	}
	if options.ScopeCacheTTL <= 0 {
		options.ScopeCacheTTL = defaults.ScopeCacheTTL
	}
	prefixes := make([]string, 0, len(options.HostPrefixes))
	for _, prefix := range options.HostPrefixes {
		if prefix = strings.ToLower(strings.TrimSpace(prefix)); prefix != "" {
			prefixes = append(prefixes, prefix)
		}
	}
	options.HostPrefixes = prefixes

	return &Resolver{
		directory: directory,
		scopes:    scopes,
		options:   options,
		scopeCache: gcache.New[string, []Scope](8).
			LRU().
			Expiration(options.ScopeCacheTTL).
			Build(),
	}
}

// Resolve returns the hostnames targeted by scope.
//
// Failures are retried up to Options.Attempts times with a fixed delay,
// except permission failures and unknown scopes which fail on the first
// attempt. ctx is observed between attempts and between result items.
func (r *Resolver) Resolve(ctx context.Context, scope types.ScanScope) ([]string, error) {
	if scope.IsEmpty() {
		return nil, &ResolveError{Kind: types.KindInvalidInput, Scope: scope}
	}
	return retry(ctx, r.options, scope, func(ctx context.Context) ([]string, error) {
		if scope.IsAllHosts() {
			return r.allHosts(ctx)
		}
		return r.hostsInScope(ctx, strings.TrimSpace(scope.String()))
	})
}

// ListScopes returns the names of the scopes a sweep can target
func (r *Resolver) ListScopes(ctx context.Context) ([]string, error) {
	if r.scopes == nil {
		return nil, nil
	}
	scopes, err := retry(ctx, r.options, "", func(ctx context.Context) ([]Scope, error) {
		return r.listScopes(ctx, true)
	})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(scopes))
	for _, scope := range scopes {
		names = append(names, scope.Name)
	}
	return names, nil
}

func (r *Resolver) allHosts(ctx context.Context) ([]string, error) {
	if r.directory == nil {
		return nil, ErrNoProvider
	}
	var hosts []string
	err := r.directory.ListHosts(ctx, r.options.PageSize, func(names []string) error {
		for _, name := range names {
			if err := ctx.Err(); err != nil {
				return err
			}
			hosts = append(hosts, name)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return normalize(hosts, nil), nil
}

func (r *Resolver) hostsInScope(ctx context.Context, name string) ([]string, error) {
	if r.scopes == nil {
		return nil, ErrNoProvider
	}
	scope, err := r.lookupScope(ctx, name)
	if err != nil {
		return nil, err
	}
	hosts, err := r.scopes.ListHostsInScope(ctx, scope.ID)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return normalize(hosts, r.options.HostPrefixes), nil
}

// lookupScope maps a scope name (or ID) to the provider's scope, trying
// the cached listing first and a fresh one when the name is unknown
func (r *Resolver) lookupScope(ctx context.Context, name string) (Scope, error) {
	for _, useCache := range []bool{true, false} {
		scopes, err := r.listScopes(ctx, useCache)
		if err != nil {
			return Scope{}, err
		}
		for _, scope := range scopes {
			if strings.EqualFold(scope.Name, name) || strings.EqualFold(scope.ID, name) {
				return scope, nil
			}
		}
	}
	return Scope{}, ErrScopeNotFound
}

func (r *Resolver) listScopes(ctx context.Context, useCache bool) ([]Scope, error) {
	if useCache {
		if scopes, err := r.scopeCache.Get(scopeCacheKey); err == nil {
			return scopes, nil
		}
	}
	scopes, err := r.scopes.ListScopes(ctx)
	if err != nil {
		return nil, err
	}
	_ = r.scopeCache.Set(scopeCacheKey, scopes)
	return scopes, nil
}

// retry runs fn under the resolver retry policy
func retry[T any](ctx context.Context, options Options, scope types.ScanScope, fn func(context.Context) (T, error)) (T, error) {
	var (
		zero    T
		lastErr error
	)
	for attempt := 1; attempt <= options.Attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, &ResolveError{Kind: types.KindCancelled, Scope: scope, Attempts: attempt - 1, Err: err}
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		switch {
		case ctx.Err() != nil:
			return zero, &ResolveError{Kind: types.KindCancelled, Scope: scope, Attempts: attempt, Err: ctx.Err()}
		case errors.Is(err, ErrUnauthorized):
			return zero, &ResolveError{Kind: types.KindUnauthorized, Scope: scope, Attempts: attempt, Err: err}
		case errors.Is(err, ErrScopeNotFound):
			return zero, &ResolveError{Kind: types.KindScopeNotFound, Scope: scope, Attempts: attempt, Err: err}
		case errors.Is(err, ErrNoProvider):
			return zero, &ResolveError{Kind: types.KindInvalidInput, Scope: scope, Attempts: attempt, Err: err}
		}

		gologger.Verbose().Msgf("host list attempt %d/%d for %q failed: %s", attempt, options.Attempts, scope, err)
		if attempt == options.Attempts {
			break
		}

		timer := time.NewTimer(options.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, &ResolveError{Kind: types.KindCancelled, Scope: scope, Attempts: attempt, Err: ctx.Err()}
		case <-timer.C:
		}
	}
	return zero, &ResolveError{Kind: types.KindExhausted, Scope: scope, Attempts: options.Attempts, Err: lastErr}
}

// normalize trims names, drops empty ones and duplicates, and keeps only
// names matching one of prefixes when any are given
func normalize(names []string, prefixes []string) []string {
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if len(prefixes) > 0 && !hasPrefixFold(name, prefixes) {
			continue
		}
		out = append(out, name)
	}
	return sliceutil.Dedupe(out)
}

func hasPrefixFold(name string, prefixes []string) bool {
	lower := strings.ToLower(name)
	for _, prefix := range prefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}
