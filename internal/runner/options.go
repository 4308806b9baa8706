package runner

import (
	"os"
	"strings"
	"time"

	"github.com/projectdiscovery/goflags"
	"github.com/projectdiscovery/gologger"
	"github.com/projectdiscovery/gologger/formatter"
	"github.com/projectdiscovery/gologger/levels"
	"github.com/projectdiscovery/sessionhunt/internal/fleetx"
	"github.com/projectdiscovery/sessionhunt/pkg/errlog"
	"github.com/projectdiscovery/sessionhunt/pkg/hostlist"
	"github.com/projectdiscovery/sessionhunt/pkg/quser"
	"github.com/projectdiscovery/sessionhunt/pkg/types"
	"github.com/projectdiscovery/sessionhunt/pkg/version"
	envutil "github.com/projectdiscovery/utils/env"
	errorutil "github.com/projectdiscovery/utils/errors"
	fileutil "github.com/projectdiscovery/utils/file"
	iputil "github.com/projectdiscovery/utils/ip"
)

var (
	LDAPURLEnv    = envutil.GetEnvOrDefault("SESSIONHUNT_LDAP_URL", "")
	BaseDNEnv     = envutil.GetEnvOrDefault("SESSIONHUNT_BASE_DN", "")
	DHCPServerEnv = envutil.GetEnvOrDefault("SESSIONHUNT_DHCP_SERVER", "")
	InventoryEnv  = envutil.GetEnvOrDefault("SESSIONHUNT_INVENTORY", "")
	QuserPathEnv  = envutil.GetEnvOrDefault("SESSIONHUNT_QUSER_PATH", "")
)

// Options contains the configuration options for a session hunt
type Options struct {
	ConfigFile string

	Username   string
	Scope      string
	Hosts      goflags.StringSlice
	ListScopes bool

	LDAPURL      string
	BaseDN       string
	LDAPFilter   string
	LDAPAnon     bool
	DHCPServer   string
	Inventory    string
	HostPrefixes goflags.StringSlice
	QuserPath    string

	Concurrency  int
	Timeout      time.Duration
	SweepTimeout time.Duration
	Retries      int
	RetryDelay   time.Duration
	PageSize     int

	Output          string
	JSON            bool
	ErrorLog        string
	ErrorLogMaxSize int
	NoErrorLog      bool

	Verbose bool
	Debug   bool
	Silent  bool
	NoColor bool
	Version bool
}

// ParseOptions parses the command line flags provided by a user
func ParseOptions() *Options {
	options := &Options{}
	flagSet := goflags.NewFlagSet()

	flagSet.SetDescription(`sessionhunt finds which Windows computers a user is logged on to`)

	flagSet.CreateGroup("input", "Input",
		flagSet.StringVarP(&options.Username, "user", "u", "", "username (or part of it) to hunt for"),
		flagSet.StringVarP(&options.Scope, "scope", "s", types.AllHosts.String(), "scope to sweep: a lease scope / inventory group name, or \"All Computers\""),
		flagSet.StringSliceVar(&options.Hosts, "host", nil, "list sessions on the given hosts instead of sweeping (comma separated)", goflags.CommaSeparatedStringSliceOptions),
		flagSet.BoolVarP(&options.ListScopes, "list-scopes", "ls", false, "list the scopes that can be swept then exit"),
	)

	flagSet.CreateGroup("providers", "Providers",
		flagSet.StringVarP(&options.LDAPURL, "ldap-url", "lu", LDAPURLEnv, "directory to list all computers from (e.g. ldap://dc01.corp.local)"),
		flagSet.StringVarP(&options.BaseDN, "base-dn", "bd", BaseDNEnv, "directory base DN (default: RootDSE naming context)"),
		flagSet.StringVar(&options.LDAPFilter, "ldap-filter", hostlist.DefaultComputerFilter, "directory filter selecting computer accounts"),
		flagSet.BoolVar(&options.LDAPAnon, "ldap-anonymous", false, "search the directory without binding as the current user"),
		flagSet.StringVarP(&options.DHCPServer, "dhcp-server", "ds", DHCPServerEnv, "DHCP server IP to list lease scopes from"),
		flagSet.StringVarP(&options.Inventory, "inventory", "i", InventoryEnv, "ansible style inventory file, groups are scopes"),
		flagSet.StringSliceVarP(&options.HostPrefixes, "host-prefix", "hp", nil, "only sweep scope hosts starting with the given prefixes (comma separated)", goflags.CommaSeparatedStringSliceOptions),
		flagSet.StringVarP(&options.QuserPath, "quser-path", "qp", QuserPathEnv, "path to the quser binary"),
	)

	flagSet.CreateGroup("tuning", "Tuning",
		flagSet.IntVarP(&options.Concurrency, "concurrency", "c", fleetx.DefaultConcurrency, "number of hosts to probe in parallel"),
		flagSet.DurationVarP(&options.Timeout, "timeout", "t", quser.DefaultTimeout, "time to wait for a single host"),
		flagSet.DurationVarP(&options.SweepTimeout, "sweep-timeout", "st", fleetx.DefaultSweepTimeout, "time to wait for a whole sweep"),
		flagSet.IntVar(&options.Retries, "retries", hostlist.DefaultAttempts, "attempts to list hosts of a scope"),
		flagSet.DurationVar(&options.RetryDelay, "retry-delay", hostlist.DefaultRetryDelay, "delay between host listing attempts"),
		flagSet.IntVar(&options.PageSize, "page-size", hostlist.DefaultPageSize, "directory page size"),
	)

	flagSet.CreateGroup("output", "Output",
		flagSet.StringVarP(&options.Output, "output", "o", "", "file to write matching sessions to (JSON lines)"),
		flagSet.BoolVarP(&options.JSON, "json", "j", false, "write sessions as JSON lines to stdout"),
		flagSet.StringVarP(&options.ErrorLog, "error-log", "el", errlog.DefaultFileName, "file to append unreachable host reports to"),
		flagSet.IntVar(&options.ErrorLogMaxSize, "error-log-max-size", 10, "error log size in megabytes before rotation"),
		flagSet.BoolVarP(&options.NoErrorLog, "no-error-log", "nel", false, "disable the error log file"),
	)

	flagSet.CreateGroup("debug", "Debug",
		flagSet.StringVar(&options.ConfigFile, "config", "", "cli flag configuration file"),
		flagSet.BoolVar(&options.Version, "version", false, "show version of the project"),
		flagSet.BoolVarP(&options.Verbose, "verbose", "v", false, "show verbose output"),
		flagSet.BoolVar(&options.Debug, "debug", false, "show every probed host"),
		flagSet.BoolVar(&options.Silent, "silent", false, "show only sessions in output"),
		flagSet.BoolVarP(&options.NoColor, "no-color", "nc", false, "disable output content coloring (ANSI escape codes)"),
	)

	if err := flagSet.Parse(); err != nil {
		gologger.Fatal().Msgf("%s\n", err)
	}

	if options.ConfigFile != "" {
		if err := flagSet.MergeConfigFile(options.ConfigFile); err != nil {
			gologger.Fatal().Msgf("Could not read config: %s\n", err)
		}
	}

	options.configureOutput()

	showBanner()

	if options.Version {
		gologger.Info().Msgf("Current Version: %s\n", version.GetVersion())
		os.Exit(0)
	}

	if err := options.validate(); err != nil {
		gologger.Fatal().Msgf("Program exiting: %s\n", err)
	}

	return options
}

// configureOutput configures the output on the screen
func (options *Options) configureOutput() {
	if options.Verbose {
		gologger.DefaultLogger.SetMaxLevel(levels.LevelVerbose)
	}
	if options.Debug {
		gologger.DefaultLogger.SetMaxLevel(levels.LevelDebug)
	}
	if options.NoColor {
		gologger.DefaultLogger.SetFormatter(formatter.NewCLI(true))
	}
	if options.Silent {
		gologger.DefaultLogger.SetMaxLevel(levels.LevelSilent)
	}
}

// validate checks the options for conflicts and applies defaults
func (options *Options) validate() error {
	options.Username = strings.TrimSpace(options.Username)
	options.Scope = strings.TrimSpace(options.Scope)
	options.DHCPServer = strings.TrimSpace(options.DHCPServer)

	switch {
	case options.ListScopes:
	case len(options.Hosts) > 0:
		if options.Username != "" {
			return errorutil.New("-user and -host cannot be used together, -host lists every session")
		}
	default:
		if options.Username == "" {
			return errorutil.New("please enter a username to hunt for (-user)")
		}
		if options.Scope == "" {
			return errorutil.New("please select a scope (-scope)")
		}
	}

	if options.DHCPServer != "" && !iputil.IsIP(options.DHCPServer) {
		return errorutil.New("invalid DHCP server IP address: %s", options.DHCPServer)
	}
	if options.Inventory != "" && !fileutil.FileExists(options.Inventory) {
		return errorutil.New("inventory file %s does not exist", options.Inventory)
	}
	if options.Concurrency <= 0 {
		options.Concurrency = fleetx.DefaultConcurrency
	}
	if options.Retries <= 0 {
		options.Retries = hostlist.DefaultAttempts
	}
	if options.PageSize <= 0 {
		options.PageSize = hostlist.DefaultPageSize
	}
	if options.ErrorLogMaxSize <= 0 {
		options.ErrorLogMaxSize = 10
	}
	return nil
}
