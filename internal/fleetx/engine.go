package fleetx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/sessionhunt/pkg/quser"
	"github.com/projectdiscovery/sessionhunt/pkg/types"
	syncutil "github.com/projectdiscovery/utils/sync"
	"github.com/rs/xid"
)

const (
	DefaultConcurrency  = 16
	DefaultSweepTimeout = 5 * time.Minute
)

// ErrEngineUsed is returned when Run or Start is called on an engine that
// already ran a sweep
var ErrEngineUsed = errors.New("engine already ran a sweep")

// HostResolver produces the target hostnames of a scope
type HostResolver interface {
	Resolve(ctx context.Context, scope types.ScanScope) ([]string, error)
}

// ErrorLogger receives the host error report of a finished sweep
type ErrorLogger interface {
	LogError(message string)
}

// Options tunes a sweep
type Options struct {
	// Concurrency bounds the number of probes in flight
	Concurrency int
	// ProbeTimeout bounds a single host probe
	ProbeTimeout time.Duration
	// SweepTimeout bounds the whole sweep, resolution included.
	// Zero uses DefaultSweepTimeout, a negative value disables it.
	SweepTimeout time.Duration
	// Logger receives host errors once the sweep is over
	Logger ErrorLogger
	// OnProgress is called from a single goroutine after each processed host
	OnProgress func(types.Progress)
}

// Engine runs one fleet sweep: it resolves the scope into hosts, probes
// them with bounded concurrency and aggregates the sessions matching a
// username filter.
type Engine struct {
	resolver HostResolver
	prober   quser.SessionProber
	options  Options

	used atomic.Bool

	mu    sync.RWMutex
	state types.SweepState
}

// New returns an idle engine
func New(resolver HostResolver, prober quser.SessionProber, options Options) *Engine {
	if options.Concurrency <= 0 {
		options.Concurrency = DefaultConcurrency
	}
	if options.ProbeTimeout <= 0 {
		options.ProbeTimeout = quser.DefaultTimeout
	}
	if options.SweepTimeout == 0 {
		options.SweepTimeout = DefaultSweepTimeout
	}
	return &Engine{
		resolver: resolver,
		prober:   prober,
		options:  options,
		state:    types.StateIdle,
	}
}

// State returns the current sweep state
func (e *Engine) State() types.SweepState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *Engine) setState(state types.SweepState) {
	e.mu.Lock()
	e.state = state
	e.mu.Unlock()
}

// Run performs the sweep and blocks until it reaches a terminal state.
//
// The returned result is never nil, except with ErrEngineUsed; it carries
// the partial matches and host errors when the sweep was cancelled. A
// non-nil error is returned for Cancelled and Failed sweeps.
func (e *Engine) Run(ctx context.Context, filter string, scope types.ScanScope) (*types.ScanResult, error) {
	return e.run(ctx, filter, scope, e.options.OnProgress)
}

func (e *Engine) run(ctx context.Context, filter string, scope types.ScanScope, onProgress func(types.Progress)) (*types.ScanResult, error) {
	if !e.used.CompareAndSwap(false, true) {
		return nil, ErrEngineUsed
	}

	result := &types.ScanResult{
		SweepID:   xid.New().String(),
		Filter:    strings.TrimSpace(filter),
		Scope:     types.ScanScope(strings.TrimSpace(scope.String())),
		State:     types.StateIdle,
		StartedAt: time.Now(),
	}

	if result.Filter == "" || result.Scope.IsEmpty() {
		return e.finish(result, types.StateFailed, &types.SweepError{
			Kind: types.KindInvalidInput,
			Err:  errors.New("username filter and scan scope are required"),
		})
	}

	awg, err := syncutil.New(syncutil.WithSize(e.options.Concurrency))
	if err != nil {
		return e.finish(result, types.StateFailed, &types.SweepError{Kind: types.KindInvalidInput, Err: err})
	}

	if e.options.SweepTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.options.SweepTimeout)
		defer cancel()
	}

	e.setState(types.StateResolving)
	result.State = types.StateResolving
	gologger.Verbose().Msgf("[%s] resolving hosts for scope %q", result.SweepID, result.Scope)

	hosts, err := e.resolver.Resolve(ctx, result.Scope)
	if err != nil {
		if ctx.Err() != nil || types.KindOf(err) == types.KindCancelled {
			return e.finish(result, types.StateCancelled, &types.SweepError{Kind: types.KindCancelled, Err: err})
		}
		return e.finish(result, types.StateFailed, &types.SweepError{Kind: types.KindOf(err), Err: err})
	}

	result.Total = len(hosts)
	e.setState(types.StateScanning)
	result.State = types.StateScanning
	gologger.Verbose().Msgf("[%s] scanning %d hosts for %q", result.SweepID, result.Total, result.Filter)

	e.scan(ctx, awg, hosts, result, onProgress)
	e.logHostErrors(result)

	if result.Attempted == result.Total {
		return e.finish(result, types.StateCompleted, nil)
	}
	return e.finish(result, types.StateCancelled, &types.SweepError{Kind: types.KindCancelled, Err: ctx.Err()})
}

func (e *Engine) finish(result *types.ScanResult, state types.SweepState, err error) (*types.ScanResult, error) {
	result.State = state
	result.FinishedAt = time.Now()
	e.setState(state)
	if err != nil {
		gologger.Verbose().Msgf("[%s] sweep %s: %s", result.SweepID, state, err)
		return result, err
	}
	gologger.Verbose().Msgf("[%s] sweep %s: %d matches on %d hosts", result.SweepID, state, len(result.Matches), result.Total)
	return result, nil
}

// outcome is the result of probing a single host
type outcome struct {
	host    string
	records []types.SessionRecord
	err     error
}

// scan probes hosts with at most Concurrency probes in flight. Outcomes
// are aggregated by a single goroutine; no probe is started once ctx is done.
func (e *Engine) scan(ctx context.Context, awg *syncutil.AdaptiveWaitGroup, hosts []string, result *types.ScanResult, onProgress func(types.Progress)) {
	outcomes := make(chan outcome)
	aggregated := make(chan struct{})

	go func() {
		defer close(aggregated)
		for o := range outcomes {
			if !e.aggregate(result, o) {
				continue
			}
			if onProgress != nil {
				onProgress(result.Progress())
			}
		}
	}()

	for _, host := range hosts {
		awg.Add()
		if ctx.Err() != nil {
			awg.Done()
			break
		}

		go func(host string) {
			defer awg.Done()

			records, err := e.prober.Probe(ctx, host, e.options.ProbeTimeout)
			outcomes <- outcome{host: host, records: records, err: err}
		}(host)
	}

	awg.Wait()
	close(outcomes)
	<-aggregated
}

// aggregate folds a probe outcome into result and reports whether the
// host counts as processed
func (e *Engine) aggregate(result *types.ScanResult, o outcome) bool {
	if o.err != nil {
		if types.KindOf(o.err) == types.KindCancelled {
			return false
		}
		result.Attempted++

		hostErr := types.HostError{Host: o.host, Kind: types.KindOf(o.err), Message: o.err.Error()}
		var probeErr *types.ProbeError
		if errors.As(o.err, &probeErr) {
			hostErr = probeErr.HostError()
			hostErr.Host = o.host
		}
		result.Errors = append(result.Errors, hostErr)
		gologger.Debug().Msgf("[%s] %s", result.SweepID, hostErr)
		return true
	}

	result.Attempted++
	result.Succeeded++
	for _, record := range o.records {
		if matchesFilter(record.Username, result.Filter) {
			result.Matches = append(result.Matches, record.WithHost(o.host))
		}
	}
	gologger.Debug().Msgf("[%s] %s: %d sessions", result.SweepID, o.host, len(o.records))
	return true
}

// logHostErrors forwards the host error report to the error logger as one batch
func (e *Engine) logHostErrors(result *types.ScanResult) {
	if e.options.Logger == nil || len(result.Errors) == 0 {
		return
	}
	e.options.Logger.LogError(fmt.Sprintf("sweep %s scope %q filter %q: %s", result.SweepID, result.Scope, result.Filter, result.Summary()))
}

// matchesFilter reports whether username contains filter, ignoring case
func matchesFilter(username, filter string) bool {
	return strings.Contains(strings.ToLower(username), strings.ToLower(filter))
}
