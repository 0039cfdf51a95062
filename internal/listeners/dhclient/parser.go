// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dhclient

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/ssahani/netevd/internal/errors"
)

// Lease is the most recent lease parsed for one interface.
type Lease struct {
	Interface  string
	Address    string
	SubnetMask string
	Routers    []string
	DNS        []string
	Domain     string
	Hostname   string
}

// ParseLeaseFile parses a dhclient lease database from disk.
func ParseLeaseFile(path string) (map[string]Lease, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindUnavailable, "failed to open lease file %s", path)
	}
	defer f.Close()
	return ParseLeases(f)
}

// ParseLeases parses dhclient lease blocks. The format is line
// oriented: "#" starts a comment, "lease {" opens a block, "}" closes
// it, and statements end with ";". dhclient appends renewals, so a
// later block for the same interface overrides an earlier one. Blocks
// without an interface statement are dropped.
func ParseLeases(r io.Reader) (map[string]Lease, error) {
	leases := make(map[string]Lease)

	var (
		current Lease
		inBlock bool
	)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "lease") && strings.HasSuffix(line, "{"):
			current = Lease{}
			inBlock = true
		case line == "}":
			if inBlock && current.Interface != "" {
				leases[current.Interface] = current
			}
			inBlock = false
		case inBlock:
			parseStatement(&current, strings.TrimSuffix(line, ";"))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "failed to read lease data")
	}
	return leases, nil
}

func parseStatement(lease *Lease, line string) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return
	}

	switch fields[0] {
	case "interface":
		lease.Interface = unquote(fields[1])
	case "fixed-address", "fixed-address6":
		lease.Address = fields[1]
	case "option":
		if len(fields) < 3 {
			return
		}
		value := strings.Join(fields[2:], " ")
		switch fields[1] {
		case "subnet-mask":
			lease.SubnetMask = fields[2]
		case "routers":
			lease.Routers = splitList(value)
		case "domain-name-servers", "dhcp6.name-servers":
			lease.DNS = splitList(value)
		case "domain-name", "dhcp6.domain-search":
			lease.Domain = unquote(fields[2])
		case "host-name":
			lease.Hostname = unquote(fields[2])
		}
	}
}

// splitList splits dhclient's comma-separated option values.
func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func unquote(s string) string {
	return strings.Trim(s, `"`)
}
