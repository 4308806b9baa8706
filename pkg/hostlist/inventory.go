package hostlist

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode"
)

const ungroupedScope = "ungrouped"

// Inventory is a static host list in Ansible INI style. Group headers
// become scopes, host patterns may carry a numeric or alphabetic range
// such as pc-[01:20] or lab-[a:c], and trailing host variables are ignored.
//
// Inventory serves both as a DirectoryProvider and a ScopeProvider.
type Inventory struct {
	order  []string
	groups map[string][]string
}

// LoadInventory reads an inventory file from disk
func LoadInventory(filename string) (*Inventory, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return ParseInventory(file)
}

// ParseInventory reads an inventory from r
func ParseInventory(r io.Reader) (*Inventory, error) {
	inventory := &Inventory{groups: make(map[string][]string)}
	group := ungroupedScope

	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}

		if strings.HasPrefix(line, "[") {
			if !strings.HasSuffix(line, "]") {
				return nil, fmt.Errorf("line %d: invalid group header %q", lineNo, line)
			}
			group = strings.TrimSpace(line[1 : len(line)-1])
			// [group:vars] and [group:children] sections carry no hosts
			if strings.Contains(group, ":") {
				group = ""
			}
			continue
		}
		if group == "" {
			continue
		}

		hosts, err := expandHostPattern(strings.Fields(line)[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		inventory.add(group, hosts)
	}

	return inventory, scanner.Err()
}

func (i *Inventory) add(group string, hosts []string) {
	if _, ok := i.groups[group]; !ok {
		i.order = append(i.order, group)
	}
	i.groups[group] = append(i.groups[group], hosts...)
}

// Hosts returns every host of the inventory in file order
func (i *Inventory) Hosts() []string {
	var hosts []string
	for _, group := range i.order {
		hosts = append(hosts, i.groups[group]...)
	}
	return hosts
}

// ListHosts implements DirectoryProvider
func (i *Inventory) ListHosts(ctx context.Context, pageSize int, yield func(names []string) error) error {
	hosts := i.Hosts()
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	for start := 0; start < len(hosts); start += pageSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(start+pageSize, len(hosts))
		if err := yield(hosts[start:end]); err != nil {
			return err
		}
	}
	return nil
}

// ListScopes implements ScopeProvider
func (i *Inventory) ListScopes(_ context.Context) ([]Scope, error) {
	scopes := make([]Scope, 0, len(i.order))
	for _, group := range i.order {
		scopes = append(scopes, Scope{Name: group, ID: group})
	}
	return scopes, nil
}

// ListHostsInScope implements ScopeProvider
func (i *Inventory) ListHostsInScope(_ context.Context, scopeID string) ([]string, error) {
	hosts, ok := i.groups[scopeID]
	if !ok {
		return nil, fmt.Errorf("inventory: %w: %q", ErrScopeNotFound, scopeID)
	}
	return append([]string(nil), hosts...), nil
}

// expandHostPattern expands a single [start:end(:step)] range in pattern
func expandHostPattern(pattern string) ([]string, error) {
	start := strings.Index(pattern, "[")
	end := strings.Index(pattern, "]")
	if start < 0 && end < 0 {
		return []string{pattern}, nil
	}
	if start <= 0 || end < start {
		return nil, fmt.Errorf("invalid host pattern %q", pattern)
	}

	prefix := pattern[:start]
	suffix := pattern[end+1:]
	rangeParts := strings.Split(pattern[start+1:end], ":")
	if len(rangeParts) < 2 || len(rangeParts) > 3 {
		return nil, fmt.Errorf("invalid range in host pattern %q", pattern)
	}

	// step defaults to 1
	increment := 1
	if len(rangeParts) == 3 {
		var err error
		increment, err = strconv.Atoi(rangeParts[2])
		if err != nil {
			return nil, fmt.Errorf("invalid increment: %v", err)
		}
		if increment <= 0 {
			return nil, errors.New("increment must be positive")
		}
	}

	var hosts []string
	startNum, startNumErr := strconv.Atoi(rangeParts[0])
	endNum, endNumErr := strconv.Atoi(rangeParts[1])
	switch {
	case startNumErr == nil && endNumErr == nil:
		// pc-[01:10] keeps the zero padding of the start bound
		width := 0
		if len(rangeParts[0]) > 1 && strings.HasPrefix(rangeParts[0], "0") {
			width = len(rangeParts[0])
		}
		for n := startNum; n <= endNum; n += increment {
			hosts = append(hosts, fmt.Sprintf("%s%0*d%s", prefix, width, n, suffix))
		}
	case isLetterBound(rangeParts[0]) && isLetterBound(rangeParts[1]):
		startChar := rangeParts[0][0]
		endChar := rangeParts[1][0]
		for c := int(startChar); c <= int(endChar); c += increment {
			hosts = append(hosts, fmt.Sprintf("%s%c%s", prefix, c, suffix))
		}
	default:
		return nil, errors.New("invalid range format: must be numeric or single letters")
	}
	return hosts, nil
}

func isLetterBound(bound string) bool {
	return len(bound) == 1 && unicode.IsLetter(rune(bound[0]))
}
