// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package routing programs symmetric policy routing: one dedicated
// routing table per managed interface, and a FROM/TO rule pair per
// global address, so reply traffic leaves through the interface that
// owns the source address.
package routing

import (
	"net/netip"

	"github.com/ssahani/netevd/internal/errors"
	"github.com/ssahani/netevd/internal/logging"
	"github.com/ssahani/netevd/internal/netstate"
	"github.com/ssahani/netevd/internal/transport"
)

// TableBase is the first table id used for per-interface tables.
// Tables 200-250 are rarely claimed by other tooling.
const TableBase = 200

// DefaultRulePriority sits directly above the main-table rule (32766),
// so per-address tables win over main but never shadow the local table.
const DefaultRulePriority = 32765

// TableFor returns the dedicated routing table id for a link index.
func TableFor(linkIndex int) int {
	return TableBase + linkIndex
}

// Engine reacts to address acquisition and loss on managed interfaces.
type Engine struct {
	kernel   transport.Kernel
	state    *netstate.State
	priority int
	logger   *logging.Logger
}

// New creates a policy-routing engine.
func New(kernel transport.Kernel, state *netstate.State, priority int, logger *logging.Logger) *Engine {
	if priority <= 0 {
		priority = DefaultRulePriority
	}
	if logger == nil {
		logger = logging.Default().WithComponent("routing")
	}
	return &Engine{
		kernel:   kernel,
		state:    state,
		priority: priority,
		logger:   logger,
	}
}

// DrivesPolicy reports whether an address participates in policy
// routing: loopback, link-local (v4 169.254/16, v6 fe80::/10),
// multicast and unspecified addresses never do; ULA and global unicast
// do.
func DrivesPolicy(addr netip.Addr) bool {
	if !addr.IsValid() {
		return false
	}
	switch {
	case addr.IsLoopback(), addr.IsUnspecified(), addr.IsMulticast():
		return false
	case addr.IsLinkLocalUnicast(), addr.IsLinkLocalMulticast():
		return false
	}
	return true
}

// OnAddressAdded installs the route and rule pair for a freshly
// acquired address. The kernel's existing default route for the link
// supplies the gateway; when none is known yet the call is a no-op and
// will be retried on the next address event.
//
// Sub-steps that fail with "already exists" count as success. Any other
// failure rolls back the objects installed by this call and leaves the
// state model untouched.
func (e *Engine) OnAddressAdded(linkIndex int, name string, addr netip.Addr) error {
	if !DrivesPolicy(addr) {
		e.logger.Debug("address does not drive policy routing", "link", name, "address", addr)
		return nil
	}

	table := TableFor(linkIndex)
	family := transport.FamilyOf(addr)

	gw, found, err := e.kernel.DiscoverGateway(linkIndex, family)
	if err != nil {
		return errors.Wrapf(err, errors.KindInternal, "gateway discovery failed for %s", name)
	}
	if !found {
		e.logger.Debug("no gateway known yet, deferring", "link", name, "address", addr)
		return nil
	}

	dest := transport.DefaultPrefix(family)
	if err := e.kernel.AddRoute(dest, gw, linkIndex, 0, table); err != nil {
		e.logger.Warn("failed to add route", "link", name, "table", table, "error", err)
		return err
	}

	if err := e.kernel.AddRule(addr, netstate.RuleFrom, table, e.priority); err != nil {
		e.logger.Warn("failed to add from rule, rolling back", "link", name, "address", addr, "error", err)
		e.rollback(linkIndex, table, addr, false)
		return err
	}

	if err := e.kernel.AddRule(addr, netstate.RuleTo, table, e.priority); err != nil {
		e.logger.Warn("failed to add to rule, rolling back", "link", name, "address", addr, "error", err)
		e.rollback(linkIndex, table, addr, true)
		return err
	}

	e.state.RecordPolicy(linkIndex, table, gw, addr)
	e.logger.Info("configured policy routing",
		"link", name,
		"address", addr,
		"gateway", gw,
		"table", table)
	return nil
}

// rollback undoes a partially installed triple. Each removal treats
// "not found" as success, so rolling back an untaken step is harmless.
func (e *Engine) rollback(linkIndex, table int, addr netip.Addr, fromInstalled bool) {
	if fromInstalled {
		if err := e.kernel.RemoveRule(addr, netstate.RuleFrom, table); err != nil {
			e.logger.Warn("rollback: failed to remove from rule", "address", addr, "error", err)
		}
	}
	// The route may be shared with a sibling address on the same link;
	// only undo it when this call created the first reference.
	if e.state.RuleCountForTable(table) == 0 {
		if err := e.kernel.RemoveRoutes(linkIndex, table); err != nil {
			e.logger.Warn("rollback: failed to remove route", "table", table, "error", err)
		}
	}
}

// OnAddressRemoved tears down what OnAddressAdded installed for the
// address: TO rule first, then FROM rule, then the table's default
// route, so traffic cannot be steered into a half-dismantled table.
// The route survives while a sibling address still references the
// table. Every removal treats "not found" as success.
func (e *Engine) OnAddressRemoved(linkIndex int, name string, addr netip.Addr) error {
	table, tracked := e.state.RuleTable(addr)
	if !tracked {
		e.logger.Debug("address not tracked, nothing to tear down", "link", name, "address", addr)
		return nil
	}

	if err := e.kernel.RemoveRule(addr, netstate.RuleTo, table); err != nil {
		e.logger.Warn("failed to remove to rule", "address", addr, "error", err)
	}
	if err := e.kernel.RemoveRule(addr, netstate.RuleFrom, table); err != nil {
		e.logger.Warn("failed to remove from rule", "address", addr, "error", err)
	}

	othersRemain := e.state.DropRules(addr)
	if othersRemain {
		e.logger.Debug("table still referenced by sibling address", "table", table)
		return nil
	}

	if err := e.kernel.RemoveRoutes(linkIndex, table); err != nil {
		e.logger.Warn("failed to remove route", "table", table, "error", err)
	}
	e.state.ForgetRoute(linkIndex, table)

	e.logger.Info("dropped policy routing", "link", name, "address", addr, "table", table)
	return nil
}

// OnLinkRemoved reaps every rule pair and route derived from the
// removed link's table.
func (e *Engine) OnLinkRemoved(linkIndex int, name string) {
	table := TableFor(linkIndex)
	for _, addr := range e.state.AddressesForTable(table) {
		if err := e.OnAddressRemoved(linkIndex, name, addr); err != nil {
			e.logger.Warn("failed to reap address on link removal",
				"link", name,
				"address", addr,
				"error", err)
		}
	}
}
