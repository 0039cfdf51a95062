// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package event defines the normalized interface lifecycle event that
// every signal listener emits and the hook dispatcher consumes.
package event

import (
	"net/netip"
	"strings"

	"github.com/ssahani/netevd/internal/validation"
)

// State classifies an interface lifecycle event. Each state maps
// one-to-one onto a hook subdirectory (<state>.d).
type State string

const (
	StateCarrier      State = "carrier"
	StateNoCarrier    State = "no-carrier"
	StateConfigured   State = "configured"
	StateDegraded     State = "degraded"
	StateRoutable     State = "routable"
	StateActivated    State = "activated"
	StateDisconnected State = "disconnected"
	StateManager      State = "manager"
	StateRoutes       State = "routes"
)

// Valid reports whether the state is a member of the closed set.
func (s State) Valid() bool {
	return validation.ValidateStateName(string(s)) == nil
}

// Event is the normalized shape fed to the hook dispatcher.
type Event struct {
	// Link is the validated interface name.
	Link string

	// LinkIndex is the kernel interface index.
	LinkIndex int

	// State tags the event.
	State State

	// Backend names the signal source ("systemd-networkd",
	// "NetworkManager", "dhclient").
	Backend string

	// Addresses are the current global addresses on the link.
	Addresses []netip.Addr

	// Payload carries backend-specific extras (JSON, DHCP_*). Values
	// are re-validated by the dispatcher before reaching a child
	// environment.
	Payload map[string]string
}

// AddressList renders the addresses space-joined, the form hooks
// receive in ADDRESSES.
func (e Event) AddressList() string {
	parts := make([]string, 0, len(e.Addresses))
	for _, a := range e.Addresses {
		parts = append(parts, a.String())
	}
	return strings.Join(parts, " ")
}
