package quser

import (
	"bufio"
	"strings"

	"github.com/projectdiscovery/sessionhunt/pkg/types"
)

// minFields is the number of whitespace separated columns a session line
// must have: USERNAME SESSIONNAME ID STATE IDLE LOGON-TIME...
const minFields = 6

// currentSessionMarker prefixes the username of the session quser runs in
const currentSessionMarker = ">"

// ParseLine parses a single session line of quser output.
//
// Columns are taken positionally. ID is kept as reported since some
// locales and OS versions emit placeholders there, and LOGON-TIME is the
// remainder of the line re-joined with single spaces.
func ParseLine(line string) (types.SessionRecord, bool) {
	fields := strings.Fields(line)
	if len(fields) < minFields {
		return types.SessionRecord{}, false
	}

	username := strings.TrimPrefix(fields[0], currentSessionMarker)
	if username == "" {
		return types.SessionRecord{}, false
	}

	return types.SessionRecord{
		Username:    username,
		SessionName: fields[1],
		ID:          fields[2],
		State:       fields[3],
		IdleTime:    fields[4],
		LogonTime:   strings.Join(fields[5:], " "),
	}, true
}

// ParseOutput parses the full stdout of quser. The first non-blank line is
// the column header and is skipped, as are blank and malformed lines.
func ParseOutput(output string) []types.SessionRecord {
	var records []types.SessionRecord
	scanner := bufio.NewScanner(strings.NewReader(output))

	header := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		// the first non-blank line is the column header
		if !header {
			header = true
			continue
		}
		if record, ok := ParseLine(line); ok {
			records = append(records, record)
		}
	}
	return records
}
