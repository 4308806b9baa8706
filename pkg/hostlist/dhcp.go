package hostlist

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	iputil "github.com/projectdiscovery/utils/ip"
	"github.com/tidwall/gjson"
)

// CommandRunner executes name with args and returns its captured output.
// A non-nil error is returned for start failures and non-zero exits.
type CommandRunner func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

const (
	// DefaultPowerShell is the shell DHCPServer invokes when none is set
	DefaultPowerShell = "powershell.exe"
	// shellWaitDelay bounds how long output pipes are drained once the
	// shell has been killed
	shellWaitDelay = 2 * time.Second
)

var deniedMarkers = []string{"access is denied", "permissiondenied", "unauthorizedaccess"}

// DHCPServer lists lease scopes and leased hostnames of a Windows DHCP
// server through the DhcpServer PowerShell module
type DHCPServer struct {
	// Server is the DHCP server address
	Server string
	// Shell is the PowerShell executable, DefaultPowerShell when empty
	Shell string
	// Run executes the shell, ExecRunner when nil
	Run CommandRunner
}

// NewDHCPServer validates server and returns a provider for it
func NewDHCPServer(server string) (*DHCPServer, error) {
	server = strings.TrimSpace(server)
	if !iputil.IsIP(server) {
		return nil, fmt.Errorf("invalid DHCP server IP address: %q", server)
	}
	return &DHCPServer{Server: server}, nil
}

// ListScopes implements ScopeProvider, returning only active scopes
func (d *DHCPServer) ListScopes(ctx context.Context) ([]Scope, error) {
	script := fmt.Sprintf(
		"Get-DhcpServerv4Scope -ComputerName %s | Where-Object { $_.State -eq 'Active' } | "+
			"Select-Object Name,@{n='ScopeId';e={$_.ScopeId.IPAddressToString}} | ConvertTo-Json -Compress",
		quotePS(d.Server),
	)
	output, err := d.invoke(ctx, script)
	if err != nil {
		return nil, err
	}

	var scopes []Scope
	forEachJSON(output, func(value gjson.Result) {
		scope := Scope{
			Name: strings.TrimSpace(value.Get("Name").String()),
			ID:   strings.TrimSpace(value.Get("ScopeId").String()),
		}
		if scope.ID == "" {
			return
		}
		if scope.Name == "" {
			scope.Name = scope.ID
		}
		scopes = append(scopes, scope)
	})
	return scopes, nil
}

// ListHostsInScope implements ScopeProvider
func (d *DHCPServer) ListHostsInScope(ctx context.Context, scopeID string) ([]string, error) {
	if !iputil.IsIP(scopeID) {
		return nil, fmt.Errorf("dhcp: %w: invalid scope id %q", ErrScopeNotFound, scopeID)
	}
	script := fmt.Sprintf(
		"Get-DhcpServerv4Lease -ComputerName %s -ScopeId %s | Select-Object -ExpandProperty HostName | ConvertTo-Json -Compress",
		quotePS(d.Server), quotePS(scopeID),
	)
	output, err := d.invoke(ctx, script)
	if err != nil {
		return nil, err
	}

	var hosts []string
	forEachJSON(output, func(value gjson.Result) {
		if host := shortName(value.String()); host != "" {
			hosts = append(hosts, host)
		}
	})
	return hosts, nil
}

func (d *DHCPServer) invoke(ctx context.Context, script string) ([]byte, error) {
	run := d.Run
	if run == nil {
		run = ExecRunner
	}
	shell := d.Shell
	if shell == "" {
		shell = DefaultPowerShell
	}

	stdout, stderr, err := run(ctx, shell, "-NoProfile", "-NonInteractive", "-Command", script)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	message := strings.TrimSpace(string(stderr))
	lower := strings.ToLower(message)
	for _, marker := range deniedMarkers {
		if strings.Contains(lower, marker) {
			return nil, fmt.Errorf("dhcp %s: %w: %s", d.Server, ErrUnauthorized, message)
		}
	}
	if err != nil {
		if message != "" {
			return nil, fmt.Errorf("dhcp %s: %w: %s", d.Server, err, message)
		}
		return nil, fmt.Errorf("dhcp %s: %w", d.Server, err)
	}
	if message != "" {
		return nil, fmt.Errorf("dhcp %s: %s", d.Server, message)
	}
	return stdout, nil
}

// ExecRunner runs the command as a child process bound to ctx
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = shellWaitDelay
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// forEachJSON visits every element of a ConvertTo-Json result, which is a
// bare value when the pipeline produced a single object
func forEachJSON(data []byte, fn func(gjson.Result)) {
	result := gjson.ParseBytes(bytes.TrimSpace(data))
	if !result.Exists() {
		return
	}
	if result.IsArray() {
		result.ForEach(func(_, value gjson.Result) bool {
			fn(value)
			return true
		})
		return
	}
	fn(result)
}

// shortName strips the DNS suffix DHCP registers leases with
func shortName(host string) string {
	host = strings.TrimSpace(host)
	if iputil.IsIP(host) {
		return host
	}
	if i := strings.IndexByte(host, '.'); i > 0 {
		host = host[:i]
	}
	return host
}

// quotePS renders s as a single-quoted PowerShell literal
func quotePS(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
