// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package validation sanitizes strings from untrusted sources (DHCP
// servers, bus signals, state files) before they reach child-process
// environments, bus arguments, or routing requests.
package validation

import (
	"net/netip"
	"regexp"
	"strings"

	"github.com/ssahani/netevd/internal/errors"
)

var (
	// Valid interface name: alphanumeric, dash, underscore, dot (for VLANs), max 15 chars
	interfaceNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_.-]{1,15}$`)

	// Hostname label: alphanumeric and hyphen, no leading/trailing hyphen
	hostnameLabelRegex = regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9-]*[a-zA-Z0-9])?$`)

	// Characters that must never reach a child-process environment.
	// Quotes and backslash stay legal so a JSON payload can pass.
	dangerousChars = []string{";", "$", "`", "&", "|", "<", ">", "(", ")", "\n", "\r", "\x00"}
)

// ValidateInterfaceName validates a network interface name.
func ValidateInterfaceName(name string) error {
	if name == "" {
		return errors.New(errors.KindValidation, "interface name cannot be empty")
	}

	if len(name) > 15 {
		return errors.Errorf(errors.KindValidation, "interface name too long (max 15 characters): %s", name)
	}

	if !interfaceNameRegex.MatchString(name) {
		return errors.Errorf(errors.KindValidation, "invalid interface name: %q (must be alphanumeric with -_.)", name)
	}

	return nil
}

// ValidateIPAddress validates a textual IPv4 or IPv6 address. An IPv6
// zone, when present, must itself be a valid interface name.
func ValidateIPAddress(addr string) error {
	a, err := netip.ParseAddr(addr)
	if err != nil {
		return errors.Errorf(errors.KindValidation, "invalid IP address: %q", addr)
	}
	if zone := a.Zone(); zone != "" && ValidateInterfaceName(zone) != nil {
		return errors.Errorf(errors.KindValidation, "invalid IP address zone: %q", addr)
	}
	return nil
}

// ValidateAddressList validates a whitespace-separated list of IP
// addresses. An empty list is valid.
func ValidateAddressList(list string) error {
	for _, tok := range strings.Fields(list) {
		if err := ValidateIPAddress(tok); err != nil {
			return err
		}
	}
	return nil
}

// ValidateHostname validates a hostname: at most 253 characters, labels
// of at most 63 characters, no leading or trailing hyphen in a label.
func ValidateHostname(hostname string) error {
	if hostname == "" {
		return errors.New(errors.KindValidation, "hostname cannot be empty")
	}
	if len(hostname) > 253 {
		return errors.Errorf(errors.KindValidation, "hostname too long (max 253 characters)")
	}

	for _, label := range strings.Split(hostname, ".") {
		if len(label) == 0 || len(label) > 63 {
			return errors.Errorf(errors.KindValidation, "invalid hostname label in %q", hostname)
		}
		if !hostnameLabelRegex.MatchString(label) {
			return errors.Errorf(errors.KindValidation, "invalid hostname label %q", label)
		}
	}
	return nil
}

// ValidateDomainName validates a search domain. Same rules as hostnames,
// except the leading label may be the wildcard "*".
func ValidateDomainName(domain string) error {
	trimmed := strings.TrimPrefix(domain, "*.")
	if trimmed == domain {
		return ValidateHostname(domain)
	}
	if err := ValidateHostname(trimmed); err != nil {
		return errors.Errorf(errors.KindValidation, "invalid domain name: %q", domain)
	}
	return nil
}

// StateNames is the closed set of interface lifecycle states; each maps
// one-to-one onto a hook subdirectory (<state>.d).
var StateNames = []string{
	"carrier",
	"no-carrier",
	"configured",
	"degraded",
	"routable",
	"activated",
	"disconnected",
	"manager",
	"routes",
}

// ValidateStateName validates a network state token against the closed set.
func ValidateStateName(state string) error {
	for _, s := range StateNames {
		if state == s {
			return nil
		}
	}
	return errors.Errorf(errors.KindValidation, "unknown state name: %q", state)
}

// ValidateEnvValue rejects values that could be interpreted by a shell
// if a hook fails to quote them. Defense in depth; hooks should still
// quote their variables.
func ValidateEnvValue(value string) error {
	for _, c := range dangerousChars {
		if strings.Contains(value, c) {
			return errors.Errorf(errors.KindValidation, "environment value contains dangerous character %q", c)
		}
	}
	return nil
}

// ValidateEnvKey validates an environment variable name.
func ValidateEnvKey(key string) error {
	if key == "" {
		return errors.New(errors.KindValidation, "environment key cannot be empty")
	}
	for i, c := range key {
		switch {
		case c >= 'A' && c <= 'Z', c == '_':
		case c >= '0' && c <= '9':
			if i == 0 {
				return errors.Errorf(errors.KindValidation, "environment key cannot start with a digit: %q", key)
			}
		default:
			return errors.Errorf(errors.KindValidation, "invalid environment key: %q", key)
		}
	}
	return nil
}
