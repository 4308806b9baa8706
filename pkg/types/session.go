package types

import (
	"fmt"
	"strings"
	"time"
)

// AllHosts is the scope sentinel selecting every computer known to the directory
const AllHosts ScanScope = "All Computers"

// ScanScope selects which hosts a sweep targets: AllHosts or a named lease scope
type ScanScope string

// IsAllHosts reports whether the scope is the AllHosts sentinel
func (s ScanScope) IsAllHosts() bool {
	return strings.EqualFold(strings.TrimSpace(string(s)), string(AllHosts))
}

// IsEmpty reports whether the scope carries no selector
func (s ScanScope) IsEmpty() bool {
	return strings.TrimSpace(string(s)) == ""
}

func (s ScanScope) String() string {
	return string(s)
}

// SessionRecord is one interactive session reported by a host.
//
// Host is empty when the record comes straight from the parser and is
// filled in by whoever owns the probe result (see WithHost).
type SessionRecord struct {
	Username    string `json:"username"`
	SessionName string `json:"session_name"`
	ID          string `json:"id"`
	State       string `json:"state"`
	IdleTime    string `json:"idle_time"`
	LogonTime   string `json:"logon_time"`
	Host        string `json:"host,omitempty"`
}

// WithHost returns a copy of the record attributed to host
func (r SessionRecord) WithHost(host string) SessionRecord {
	r.Host = host
	return r
}

// Progress is a snapshot of how many hosts of a sweep have been processed
type Progress struct {
	Processed int `json:"processed"`
	Total     int `json:"total"`
}

func (p Progress) String() string {
	return fmt.Sprintf("%d of %d", p.Processed, p.Total)
}

// HostError describes why a single host could not be enumerated
type HostError struct {
	Host     string    `json:"host"`
	Kind     ErrorKind `json:"kind"`
	ExitCode int       `json:"exit_code,omitempty"`
	Message  string    `json:"message,omitempty"`
}

func (e HostError) String() string {
	var sb strings.Builder
	sb.WriteString(e.Host)
	sb.WriteString(": ")
	sb.WriteString(e.Kind.String())
	if e.ExitCode != 0 {
		fmt.Fprintf(&sb, " (exit code %d)", e.ExitCode)
	}
	if e.Message != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Message)
	}
	return sb.String()
}

// ScanResult is the aggregate outcome of one sweep
type ScanResult struct {
	SweepID    string          `json:"sweep_id"`
	Filter     string          `json:"filter"`
	Scope      ScanScope       `json:"scope"`
	State      SweepState      `json:"state"`
	Matches    []SessionRecord `json:"matches"`
	Errors     []HostError     `json:"errors"`
	Total      int             `json:"total"`
	Attempted  int             `json:"attempted"`
	Succeeded  int             `json:"succeeded"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// Progress returns the processed/total counters of the result
func (r *ScanResult) Progress() Progress {
	return Progress{Processed: r.Attempted, Total: r.Total}
}

// Summary renders every host error as a single report, one host per line.
// It returns an empty string when the sweep had no host errors.
func (r *ScanResult) Summary() string {
	if len(r.Errors) == 0 {
		return ""
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d of %d hosts could not be checked:", len(r.Errors), r.Attempted)
	for _, hostErr := range r.Errors {
		sb.WriteString("\n  ")
		sb.WriteString(hostErr.String())
	}
	return sb.String()
}
