// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package transport encapsulates the kernel's route, rule, address and
// link programming interface. The watcher and the policy-routing engine
// talk to the Kernel interface; the netlink implementation lives in
// netlink_linux.go and a simulated one in sim.go.
package transport

import (
	"net/netip"

	"golang.org/x/sys/unix"

	"github.com/ssahani/netevd/internal/netstate"
)

// Address families carried explicitly on every request.
const (
	FamilyV4 = unix.AF_INET
	FamilyV6 = unix.AF_INET6
)

// FamilyOf returns the address family of an address.
func FamilyOf(addr netip.Addr) int {
	if addr.Is4() || addr.Is4In6() {
		return FamilyV4
	}
	return FamilyV6
}

// DefaultPrefix returns the default destination (0.0.0.0/0 or ::/0) for
// a family.
func DefaultPrefix(family int) netip.Prefix {
	if family == FamilyV4 {
		return netip.PrefixFrom(netip.IPv4Unspecified(), 0)
	}
	return netip.PrefixFrom(netip.IPv6Unspecified(), 0)
}

// Scope classifies an address the way the kernel does.
type Scope int

const (
	ScopeGlobal Scope = iota
	ScopeSite
	ScopeLink
	ScopeHost
	ScopeNowhere
)

func (s Scope) String() string {
	switch s {
	case ScopeGlobal:
		return "global"
	case ScopeSite:
		return "site"
	case ScopeLink:
		return "link"
	case ScopeHost:
		return "host"
	default:
		return "nowhere"
	}
}

// Link is a snapshot entry from ListLinks.
type Link struct {
	Index int
	Name  string
}

// AddrInfo is a snapshot entry from ListAddresses.
type AddrInfo struct {
	Addr  netip.Addr
	Scope Scope
}

// AddrEvent is one address change record.
type AddrEvent struct {
	LinkIndex int
	Addr      netip.Addr
	PrefixLen int
	Scope     Scope
	New       bool
}

// LinkEvent is one link change record.
type LinkEvent struct {
	Index int
	Name  string
	Gone  bool
}

// RouteEvent is one route change record for externally-created routes.
type RouteEvent struct {
	LinkIndex int
	Table     int
	New       bool
}

// Kernel is the typed client over the kernel's routing interface.
//
// Mutating calls are tolerant by contract: "already exists" on add and
// "not found" on remove are success. Each Subscribe call owns its own
// notification socket; the returned channel closes when the done
// channel closes or the subscription fails.
type Kernel interface {
	AddRoute(dest netip.Prefix, gw netip.Addr, linkIndex, metric, table int) error
	RemoveRoutes(linkIndex, table int) error

	AddRule(addr netip.Addr, dir netstate.Direction, table, priority int) error
	RemoveRule(addr netip.Addr, dir netstate.Direction, table int) error

	ListAddresses(linkIndex int) ([]AddrInfo, error)
	ListLinks() ([]Link, error)
	DiscoverGateway(linkIndex, family int) (netip.Addr, bool, error)

	SubscribeAddresses(done <-chan struct{}) (<-chan AddrEvent, error)
	SubscribeLinks(done <-chan struct{}) (<-chan LinkEvent, error)
	SubscribeRoutes(done <-chan struct{}) (<-chan RouteEvent, error)

	Close()
}
