package quser

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/sessionhunt/pkg/types"
	stringsutil "github.com/projectdiscovery/utils/strings"
	"github.com/shirou/gopsutil/v3/process"
)

const (
	// DefaultTimeout bounds a single quser invocation
	DefaultTimeout = 30 * time.Second
	// DefaultHostArgFormat is how quser expects the remote host
	DefaultHostArgFormat = "/server:%s"

	// waitDelay bounds how long output pipes are drained after the child
	// has been killed, grandchildren may keep them open
	waitDelay = 2 * time.Second
)

var (
	// accessDeniedMarkers identify a permission failure in quser stderr
	accessDeniedMarkers = []string{"access is denied", "access denied"}
	// noSessionMarkers identify the "no sessions" answer, which quser
	// reports on stderr with exit code 1
	noSessionMarkers = []string{"no user exists for"}
)

// Prober runs quser against a single host
type Prober struct {
	path          string
	baseArgs      []string
	hostArgFormat string
	env           []string
}

// Option configures a Prober
type Option func(*Prober)

// WithBaseArgs sets arguments passed before the host argument
func WithBaseArgs(args ...string) Option {
	return func(p *Prober) {
		p.baseArgs = append([]string(nil), args...)
	}
}

// WithHostArgFormat sets the fmt format used to render the host argument
func WithHostArgFormat(format string) Option {
	return func(p *Prober) {
		p.hostArgFormat = format
	}
}

// WithEnv appends environment variables to the child environment
func WithEnv(env ...string) Option {
	return func(p *Prober) {
		p.env = append(p.env, env...)
	}
}

// NewProber returns a Prober running the executable at path
func NewProber(path string, opts ...Option) *Prober {
	p := &Prober{
		path:          path,
		hostArgFormat: DefaultHostArgFormat,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Path returns the executable the prober runs
func (p *Prober) Path() string {
	return p.path
}

// Probe enumerates the sessions open on host.
//
// The child process is bounded by timeout and by ctx: whichever of exit,
// timeout or cancellation happens first decides the outcome, and on
// timeout or cancellation the child (and its process tree) is killed and
// reaped before returning. Returned records have no Host set.
func (p *Prober) Probe(ctx context.Context, host string, timeout time.Duration) ([]types.SessionRecord, error) {
	if strings.TrimSpace(host) == "" {
		return nil, &types.ProbeError{Kind: types.KindInvalidInput, Host: host, Message: "empty host name"}
	}
	if err := ctx.Err(); err != nil {
		return nil, &types.ProbeError{Kind: types.KindCancelled, Host: host, Err: err}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	args := append(append([]string(nil), p.baseArgs...), fmt.Sprintf(p.hostArgFormat, host))
	cmd := exec.Command(p.path, args...)
	if len(p.env) > 0 {
		cmd.Env = append(cmd.Environ(), p.env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay
	configureCommand(cmd)

	if err := cmd.Start(); err != nil {
		kind := types.KindToolFailure
		if isNotFound(err) {
			kind = types.KindToolNotFound
		}
		return nil, &types.ProbeError{Kind: kind, Host: host, Err: fmt.Errorf("failed to start %s: %w", p.path, err)}
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return classify(host, err, stdout.String(), stderr.String())
	case <-timer.C:
		terminate(cmd)
		<-done
		gologger.Debug().Msgf("quser on %s timed out after %s", host, timeout)
		return nil, &types.ProbeError{Kind: types.KindTimeout, Host: host, Message: fmt.Sprintf("no answer within %s", timeout)}
	case <-ctx.Done():
		terminate(cmd)
		<-done
		return nil, &types.ProbeError{Kind: types.KindCancelled, Host: host, Err: ctx.Err()}
	}
}

// classify turns the outcome of a finished quser process into records or
// a typed error
func classify(host string, waitErr error, stdout, stderr string) ([]types.SessionRecord, error) {
	stderr = strings.TrimSpace(stderr)
	lowerStderr := strings.ToLower(stderr)

	if stringsutil.ContainsAny(lowerStderr, accessDeniedMarkers...) {
		return nil, &types.ProbeError{Kind: types.KindAccessDenied, Host: host, Message: stderr}
	}
	if stringsutil.ContainsAny(lowerStderr, noSessionMarkers...) {
		return nil, nil
	}

	if waitErr != nil {
		probeErr := &types.ProbeError{Kind: types.KindToolFailure, Host: host, Message: stderr, Err: waitErr}
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			probeErr.ExitCode = exitErr.ExitCode()
		}
		return nil, probeErr
	}
	if stderr != "" {
		return nil, &types.ProbeError{Kind: types.KindToolFailure, Host: host, Message: stderr}
	}
	return ParseOutput(stdout), nil
}

// terminate kills the child and everything it spawned. Errors are
// ignored, the process may already be gone.
func terminate(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pid := cmd.Process.Pid
	if proc, err := process.NewProcess(int32(pid)); err == nil {
		killChildren(proc)
	}
	killGroup(pid)
	_ = cmd.Process.Kill()
}

func killChildren(proc *process.Process) {
	children, err := proc.Children()
	if err != nil {
		return
	}
	for _, child := range children {
		killChildren(child)
		_ = child.Kill()
	}
}
