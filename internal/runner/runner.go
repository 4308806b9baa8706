package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/sessionhunt/internal/fleetx"
	"github.com/projectdiscovery/sessionhunt/pkg/errlog"
	"github.com/projectdiscovery/sessionhunt/pkg/hostlist"
	"github.com/projectdiscovery/sessionhunt/pkg/quser"
	"github.com/projectdiscovery/sessionhunt/pkg/types"
	errorutil "github.com/projectdiscovery/utils/errors"
)

// Runner contains the internal logic of the program
type Runner struct {
	options  *Options
	resolver *hostlist.Resolver
	service  *fleetx.Service
	errorLog *errlog.Logger
	output   io.WriteCloser
}

// NewRunner instance
func NewRunner(options *Options) (*Runner, error) {
	r := &Runner{options: options}

	directory, scopes, err := options.providers()
	if err != nil {
		return nil, err
	}
	r.resolver = hostlist.NewResolver(directory, scopes, hostlist.Options{
		Attempts:     options.Retries,
		RetryDelay:   options.RetryDelay,
		PageSize:     options.PageSize,
		HostPrefixes: options.HostPrefixes,
	})

	// scope listing does not need quser
	var prober quser.SessionProber = missingProber{}
	if !options.ListScopes {
		path, err := quser.FindPath(options.QuserPath)
		if err != nil {
			return nil, errorutil.NewWithErr(err).Msgf("could not locate %s, set -quser-path", quser.ToolName)
		}
		gologger.Verbose().Msgf("using %s", path)
		prober = quser.NewProber(path)
	}

	if !options.NoErrorLog && !options.ListScopes {
		r.errorLog = errlog.New(errlog.OpenFile(options.ErrorLog, options.ErrorLogMaxSize, 3))
	}

	if options.Output != "" {
		file, err := os.OpenFile(options.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, errorutil.NewWithErr(err).Msgf("could not create output file %s", options.Output)
		}
		r.output = file
	}

	serviceOptions := fleetx.Options{
		Concurrency:  options.Concurrency,
		ProbeTimeout: options.Timeout,
		SweepTimeout: options.SweepTimeout,
	}
	if r.errorLog != nil {
		serviceOptions.Logger = r.errorLog
	}
	r.service = fleetx.NewService(r.resolver, prober, serviceOptions)
	return r, nil
}

// providers builds the host list providers selected by the options. The
// directory and DHCP server take precedence over an inventory file.
func (options *Options) providers() (hostlist.DirectoryProvider, hostlist.ScopeProvider, error) {
	var (
		directory hostlist.DirectoryProvider
		scopes    hostlist.ScopeProvider
	)

	if options.Inventory != "" {
		inventory, err := hostlist.LoadInventory(options.Inventory)
		if err != nil {
			return nil, nil, errorutil.NewWithErr(err).Msgf("could not read inventory %s", options.Inventory)
		}
		directory, scopes = inventory, inventory
	}
	if options.LDAPURL != "" {
		directory = &hostlist.LDAPDirectory{
			URL:       options.LDAPURL,
			BaseDN:    options.BaseDN,
			Filter:    options.LDAPFilter,
			Anonymous: options.LDAPAnon,
		}
	}
	if options.DHCPServer != "" {
		server, err := hostlist.NewDHCPServer(options.DHCPServer)
		if err != nil {
			return nil, nil, err
		}
		scopes = server
	}
	return directory, scopes, nil
}

// Run the instance
func (r *Runner) Run(ctx context.Context) error {
	switch {
	case r.options.ListScopes:
		return r.listScopes(ctx)
	case len(r.options.Hosts) > 0:
		return r.checkHosts(ctx)
	default:
		return r.sweep(ctx)
	}
}

func (r *Runner) listScopes(ctx context.Context) error {
	scopes, err := r.service.ListScopes(ctx)
	if err != nil {
		return errorutil.NewWithErr(err).Msgf("could not list scopes")
	}
	for _, scope := range scopes {
		gologger.Silent().Msg(scope)
	}
	return nil
}

func (r *Runner) checkHosts(ctx context.Context) error {
	var failed int
	for _, host := range r.options.Hosts {
		records, err := r.service.CheckSingleHost(ctx, host)
		if err != nil {
			if types.KindOf(err) == types.KindCancelled {
				return err
			}
			failed++
			gologger.Error().Msgf("%s", err)
			continue
		}
		if len(records) == 0 {
			gologger.Info().Msgf("%s: no sessions", host)
			continue
		}
		if err := r.writeRecords(records); err != nil {
			return err
		}
	}
	if failed == len(r.options.Hosts) {
		return fmt.Errorf("could not check any of the %d hosts", failed)
	}
	return nil
}

func (r *Runner) sweep(ctx context.Context) error {
	scope := types.ScanScope(r.options.Scope)
	gologger.Info().Msgf("Looking for %q in %q", r.options.Username, scope)

	var final fleetx.Event
	for event := range r.service.StartFleetScan(ctx, r.options.Username, scope) {
		if event.IsFinal() {
			final = event
			continue
		}
		gologger.Verbose().Msgf("Checked %s hosts", event.Progress)
	}

	result, err := final.Result, final.Err
	if result == nil {
		return err
	}
	if result.State == types.StateFailed {
		return errorutil.NewWithErr(err).Msgf("sweep %s failed", result.SweepID)
	}

	if writeErr := r.writeRecords(result.Matches); writeErr != nil {
		return writeErr
	}
	r.printSummary(result)

	if result.State == types.StateCancelled {
		gologger.Warning().Msgf("Sweep interrupted after %s hosts, results are partial", result.Progress())
	}
	return nil
}

func (r *Runner) printSummary(result *types.ScanResult) {
	elapsed := humanize.RelTime(result.StartedAt, result.FinishedAt, "", "")
	gologger.Info().Msgf("Found %s sessions matching %q on %s of %s hosts in %s",
		humanize.Comma(int64(len(result.Matches))),
		result.Filter,
		humanize.Comma(int64(result.Succeeded)),
		humanize.Comma(int64(result.Total)),
		strings.TrimSpace(elapsed),
	)
	if summary := result.Summary(); summary != "" {
		gologger.Warning().Msgf("%s", summary)
		if r.errorLog != nil {
			gologger.Info().Msgf("Unreachable hosts were appended to %s", r.options.ErrorLog)
		}
	}
}

// writeRecords prints records to stdout and appends them to the output file
func (r *Runner) writeRecords(records []types.SessionRecord) error {
	if len(records) == 0 {
		return nil
	}

	if r.options.JSON {
		for _, record := range records {
			data, err := json.Marshal(record)
			if err != nil {
				return err
			}
			gologger.Silent().Msg(string(data))
		}
	} else {
		var sb strings.Builder
		tw := tabwriter.NewWriter(&sb, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "HOST\tUSERNAME\tSESSION\tID\tSTATE\tIDLE\tLOGON TIME")
		for _, record := range records {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
				record.Host, record.Username, record.SessionName, record.ID, record.State, record.IdleTime, record.LogonTime)
		}
		_ = tw.Flush()
		gologger.Silent().Msg(strings.TrimSuffix(sb.String(), "\n"))
	}

	if r.output == nil {
		return nil
	}
	encoder := json.NewEncoder(r.output)
	for _, record := range records {
		if err := encoder.Encode(record); err != nil {
			return errorutil.NewWithErr(err).Msgf("could not write to %s", r.options.Output)
		}
	}
	return nil
}

// Close flushes the error log and output file
func (r *Runner) Close() {
	if r.errorLog != nil {
		if err := r.errorLog.Close(); err != nil {
			gologger.Warning().Msgf("%s", err)
		}
	}
	if r.output != nil {
		_ = r.output.Close()
	}
}

// missingProber stands in when only scopes are listed
type missingProber struct{}

func (missingProber) Probe(_ context.Context, host string, _ time.Duration) ([]types.SessionRecord, error) {
	return nil, &types.ProbeError{Kind: types.KindToolNotFound, Host: host, Err: quser.ErrToolNotFound}
}
