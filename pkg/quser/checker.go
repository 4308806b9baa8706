package quser

import (
	"context"
	"strings"
	"time"

	"github.com/projectdiscovery/sessionhunt/pkg/types"
)

// SessionProber enumerates sessions on one host
type SessionProber interface {
	Probe(ctx context.Context, host string, timeout time.Duration) ([]types.SessionRecord, error)
}

// Checker answers ad-hoc questions about a single computer, without scope
// resolution or username filtering
type Checker struct {
	prober  SessionProber
	timeout time.Duration
}

// NewChecker returns a Checker using prober with the given per-call timeout
func NewChecker(prober SessionProber, timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Checker{prober: prober, timeout: timeout}
}

// Sessions returns every session open on host, attributed to host
func (c *Checker) Sessions(ctx context.Context, host string) ([]types.SessionRecord, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return nil, &types.ProbeError{Kind: types.KindInvalidInput, Message: "please enter a computer name"}
	}

	records, err := c.prober.Probe(ctx, host, c.timeout)
	if err != nil {
		return nil, err
	}
	for i := range records {
		records[i] = records[i].WithHost(host)
	}
	return records, nil
}

// HasAnySession reports whether anyone has a session on host
func (c *Checker) HasAnySession(ctx context.Context, host string) (bool, error) {
	records, err := c.Sessions(ctx, host)
	if err != nil {
		return false, err
	}
	return len(records) > 0, nil
}

// HasUserSession reports whether username has a session on host.
// Usernames compare case-insensitively but must otherwise match exactly.
func (c *Checker) HasUserSession(ctx context.Context, host, username string) (bool, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return false, &types.ProbeError{Kind: types.KindInvalidInput, Host: host, Message: "please enter a username"}
	}
	records, err := c.Sessions(ctx, host)
	if err != nil {
		return false, err
	}
	for _, record := range records {
		if strings.EqualFold(record.Username, username) {
			return true, nil
		}
	}
	return false, nil
}
