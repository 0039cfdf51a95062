// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package system holds host integration: well-known paths and the
// privilege bootstrap performed before any asynchronous work starts.
package system

import "path/filepath"

const (
	// ConfigDir is the hook root and configuration directory.
	ConfigDir = "/etc/netevd"

	// ConfigFile is the default daemon configuration file.
	ConfigFile = "/etc/netevd/netevd.yaml"

	// DhclientLeaseFile is the default dhclient lease database.
	DhclientLeaseFile = "/var/lib/dhclient/dhclient.leases"

	// NetifLinkStateDir holds systemd-networkd per-link state files, one per ifindex.
	NetifLinkStateDir = "/run/systemd/netif/links"

	// NetifManagerStateFile is systemd-networkd's manager state file.
	NetifManagerStateFile = "/run/systemd/netif/state"

	// DefaultUser is the unprivileged account the daemon switches to.
	DefaultUser = "netevd"
)

// ScriptDir returns the hook directory for a state under the given root,
// e.g. /etc/netevd/routable.d.
func ScriptDir(root, state string) string {
	return filepath.Join(root, state+".d")
}
