package fleetx

import (
	"context"

	"github.com/projectdiscovery/sessionhunt/pkg/quser"
	"github.com/projectdiscovery/sessionhunt/pkg/types"
)

// ScopeResolver is a HostResolver that can also list its named scopes
type ScopeResolver interface {
	HostResolver
	ListScopes(ctx context.Context) ([]string, error)
}

// Service is the caller facing surface: it starts sweeps, checks single
// hosts and lists the scopes a sweep can target
type Service struct {
	resolver ScopeResolver
	prober   quser.SessionProber
	options  Options
}

// NewService returns a service creating one engine per sweep with options
func NewService(resolver ScopeResolver, prober quser.SessionProber, options Options) *Service {
	return &Service{resolver: resolver, prober: prober, options: options}
}

// StartFleetScan starts a sweep in the background, see Engine.Start
func (s *Service) StartFleetScan(ctx context.Context, filter string, scope types.ScanScope) <-chan Event {
	return New(s.resolver, s.prober, s.options).Start(ctx, filter, scope)
}

// RunFleetScan runs a sweep to completion, see Engine.Run
func (s *Service) RunFleetScan(ctx context.Context, filter string, scope types.ScanScope) (*types.ScanResult, error) {
	return New(s.resolver, s.prober, s.options).Run(ctx, filter, scope)
}

// CheckSingleHost returns the sessions of host
func (s *Service) CheckSingleHost(ctx context.Context, host string) ([]types.SessionRecord, error) {
	return quser.NewChecker(s.prober, s.options.ProbeTimeout).Sessions(ctx, host)
}

// ListScopes returns the named scopes followed by the AllHosts sentinel
func (s *Service) ListScopes(ctx context.Context) ([]string, error) {
	names, err := s.resolver.ListScopes(ctx)
	if err != nil {
		return nil, err
	}
	scopes := make([]string, 0, len(names)+1)
	for _, name := range names {
		if !types.ScanScope(name).IsAllHosts() {
			scopes = append(scopes, name)
		}
	}
	return append(scopes, types.AllHosts.String()), nil
}
