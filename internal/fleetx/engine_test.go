package fleetx

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/projectdiscovery/sessionhunt/pkg/hostlist"
	"github.com/projectdiscovery/sessionhunt/pkg/types"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type staticResolver struct {
	hosts  []string
	scopes []string
	err    error
	calls  atomic.Int32
}

func (r *staticResolver) Resolve(ctx context.Context, _ types.ScanScope) ([]string, error) {
	r.calls.Add(1)
	if r.err != nil {
		return nil, r.err
	}
	return r.hosts, nil
}

func (r *staticResolver) ListScopes(context.Context) ([]string, error) {
	return r.scopes, r.err
}

type probeFunc func(ctx context.Context, host string) ([]types.SessionRecord, error)

// fakeProber records probed hosts and tracks how many probes overlap
type fakeProber struct {
	fn probeFunc

	mu       sync.Mutex
	probed   []string
	inFlight int
	maxSeen  int
}

func (f *fakeProber) Probe(ctx context.Context, host string, _ time.Duration) ([]types.SessionRecord, error) {
	f.mu.Lock()
	f.probed = append(f.probed, host)
	f.inFlight++
	f.maxSeen = max(f.maxSeen, f.inFlight)
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()
	return f.fn(ctx, host)
}

func (f *fakeProber) probedHosts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.probed...)
}

// blockUntilCancelled mimics a probe of an unresponsive host
func blockUntilCancelled(ctx context.Context, host string) ([]types.SessionRecord, error) {
	<-ctx.Done()
	return nil, &types.ProbeError{Kind: types.KindCancelled, Host: host, Err: ctx.Err()}
}

type memoryLogger struct {
	mu       sync.Mutex
	messages []string
}

func (m *memoryLogger) LogError(message string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, message)
}

func abcProber() *fakeProber {
	return &fakeProber{fn: func(_ context.Context, host string) ([]types.SessionRecord, error) {
		switch host {
		case "A":
			return []types.SessionRecord{{Username: "JDoe", SessionName: "console", ID: "1", State: "Active"}}, nil
		case "B":
			return nil, nil
		default:
			return nil, &types.ProbeError{Kind: types.KindAccessDenied, Host: host, Message: "Access is denied."}
		}
	}}
}

func TestEngineSweep(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var progress []types.Progress
	logger := &memoryLogger{}
	engine := New(&staticResolver{hosts: []string{"A", "B", "C"}}, abcProber(), Options{
		Concurrency: 2,
		Logger:      logger,
		OnProgress:  func(p types.Progress) { progress = append(progress, p) },
	})
	require.Equal(t, types.StateIdle, engine.State())

	result, err := engine.Run(context.Background(), "jdoe", types.AllHosts)
	require.NoError(t, err)
	require.Equal(t, types.StateCompleted, result.State)
	require.Equal(t, types.StateCompleted, engine.State())
	require.NotEmpty(t, result.SweepID)

	require.Len(t, result.Matches, 1)
	require.Equal(t, "JDoe", result.Matches[0].Username)
	require.Equal(t, "A", result.Matches[0].Host)

	require.Len(t, result.Errors, 1)
	require.Equal(t, "C", result.Errors[0].Host)
	require.Equal(t, types.KindAccessDenied, result.Errors[0].Kind)

	require.Equal(t, 3, result.Total)
	require.Equal(t, 3, result.Attempted)
	require.Equal(t, 2, result.Succeeded)

	require.Len(t, progress, 3)
	for i, p := range progress {
		require.Equal(t, i+1, p.Processed)
		require.Equal(t, 3, p.Total)
	}

	require.Len(t, logger.messages, 1)
	require.Contains(t, logger.messages[0], "1 of 3 hosts could not be checked")
	require.Contains(t, logger.messages[0], "C: access denied")
}

func TestEngineFilterIsCaseInsensitiveSubstring(t *testing.T) {
	engine := New(&staticResolver{hosts: []string{"A", "B"}}, abcProber(), Options{})

	result, err := engine.Run(context.Background(), "jdo", "Finance")
	require.NoError(t, err)
	require.Len(t, result.Matches, 1)
	require.Equal(t, "JDoe", result.Matches[0].Username)
}

func TestEngineCancelAfterTwoHosts(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prober := &fakeProber{fn: func(ctx context.Context, host string) ([]types.SessionRecord, error) {
		if host == "h1" || host == "h2" {
			return []types.SessionRecord{{Username: "jdoe"}}, nil
		}
		return blockUntilCancelled(ctx, host)
	}}
	engine := New(&staticResolver{hosts: []string{"h1", "h2", "h3", "h4", "h5"}}, prober, Options{
		Concurrency: 1,
		OnProgress: func(p types.Progress) {
			if p.Processed == 2 {
				cancel()
			}
		},
	})

	result, err := engine.Run(ctx, "jdoe", types.AllHosts)
	require.Error(t, err)
	require.Equal(t, types.KindCancelled, types.KindOf(err))
	require.Equal(t, types.StateCancelled, result.State)
	require.Equal(t, 2, result.Attempted)
	require.Len(t, result.Matches, 2)
	require.Empty(t, result.Errors, "cancelled probes are not host errors")

	probed := prober.probedHosts()
	require.NotContains(t, probed, "h4")
	require.NotContains(t, probed, "h5")
}

func TestEngineSweepTimeout(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	prober := &fakeProber{fn: blockUntilCancelled}
	engine := New(&staticResolver{hosts: []string{"h1", "h2"}}, prober, Options{SweepTimeout: 50 * time.Millisecond})

	start := time.Now()
	result, err := engine.Run(context.Background(), "jdoe", types.AllHosts)
	require.Equal(t, types.KindCancelled, types.KindOf(err))
	require.Equal(t, types.StateCancelled, result.State)
	require.Less(t, time.Since(start), 5*time.Second)
}

func TestEngineConcurrencyBound(t *testing.T) {
	hosts := make([]string, 20)
	for i := range hosts {
		hosts[i] = fmt.Sprintf("pc-%02d", i)
	}
	prober := &fakeProber{fn: func(_ context.Context, _ string) ([]types.SessionRecord, error) {
		time.Sleep(5 * time.Millisecond)
		return nil, nil
	}}
	engine := New(&staticResolver{hosts: hosts}, prober, Options{Concurrency: 3})

	result, err := engine.Run(context.Background(), "jdoe", types.AllHosts)
	require.NoError(t, err)
	require.Equal(t, 20, result.Attempted)
	require.LessOrEqual(t, prober.maxSeen, 3)
}

func TestEngineInvalidInput(t *testing.T) {
	tests := []struct {
		name   string
		filter string
		scope  types.ScanScope
	}{
		{name: "empty filter", filter: "  ", scope: types.AllHosts},
		{name: "empty scope", filter: "jdoe", scope: " "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := &staticResolver{hosts: []string{"A"}}
			engine := New(resolver, abcProber(), Options{})

			result, err := engine.Run(context.Background(), tt.filter, tt.scope)
			require.Equal(t, types.KindInvalidInput, types.KindOf(err))
			require.Equal(t, types.StateFailed, result.State)
			require.Zero(t, resolver.calls.Load())
		})
	}
}

func TestEngineResolverFailure(t *testing.T) {
	resolveErr := &hostlist.ResolveError{Kind: types.KindUnauthorized, Scope: types.AllHosts, Attempts: 1, Err: hostlist.ErrUnauthorized}
	prober := abcProber()
	engine := New(&staticResolver{err: resolveErr}, prober, Options{})

	result, err := engine.Run(context.Background(), "jdoe", types.AllHosts)
	require.Equal(t, types.StateFailed, result.State)
	require.Equal(t, types.KindUnauthorized, types.KindOf(err))
	require.ErrorIs(t, err, hostlist.ErrUnauthorized)

	var target *hostlist.ResolveError
	require.ErrorAs(t, err, &target)
	require.Empty(t, prober.probedHosts())
}

func TestEngineResolverCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resolveErr := &hostlist.ResolveError{Kind: types.KindCancelled, Scope: types.AllHosts, Err: context.Canceled}
	engine := New(&staticResolver{err: resolveErr}, abcProber(), Options{})

	result, err := engine.Run(ctx, "jdoe", types.AllHosts)
	require.Equal(t, types.StateCancelled, result.State)
	require.Equal(t, types.KindCancelled, types.KindOf(err))
}

func TestEngineRejectsReuse(t *testing.T) {
	engine := New(&staticResolver{hosts: []string{"A"}}, abcProber(), Options{})

	_, err := engine.Run(context.Background(), "jdoe", types.AllHosts)
	require.NoError(t, err)

	result, err := engine.Run(context.Background(), "jdoe", types.AllHosts)
	require.Nil(t, result)
	require.True(t, errors.Is(err, ErrEngineUsed))
}

func TestEngineStart(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	engine := New(&staticResolver{hosts: []string{"A", "B", "C"}}, abcProber(), Options{Concurrency: 1})

	var (
		progress []types.Progress
		finals   []Event
	)
	for event := range engine.Start(context.Background(), "jdoe", types.AllHosts) {
		if event.IsFinal() {
			finals = append(finals, event)
			continue
		}
		progress = append(progress, *event.Progress)
	}

	require.Len(t, finals, 1)
	require.NoError(t, finals[0].Err)
	require.Equal(t, types.StateCompleted, finals[0].Result.State)
	require.Len(t, progress, 3)
	require.Equal(t, types.Progress{Processed: 3, Total: 3}, progress[2])
}

func TestServiceListScopes(t *testing.T) {
	service := NewService(&staticResolver{scopes: []string{"Finance", "all computers", "Lab"}}, abcProber(), Options{})

	scopes, err := service.ListScopes(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"Finance", "Lab", types.AllHosts.String()}, scopes)
}

func TestServiceCheckSingleHost(t *testing.T) {
	service := NewService(&staticResolver{}, abcProber(), Options{})

	records, err := service.CheckSingleHost(context.Background(), "A")
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "A", records[0].Host)

	_, err = service.CheckSingleHost(context.Background(), "C")
	require.Equal(t, types.KindAccessDenied, types.KindOf(err))
	require.True(t, strings.Contains(err.Error(), "Access is denied"))
}
