// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux

package transport

import (
	"net"
	"net/netip"

	"github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"

	"github.com/ssahani/netevd/internal/errors"
	"github.com/ssahani/netevd/internal/logging"
	"github.com/ssahani/netevd/internal/netstate"
)

// Netlink is the rtnetlink-backed Kernel implementation. Request/reply
// calls share one handle; each subscription owns its own socket.
type Netlink struct {
	handle *netlink.Handle
	logger *logging.Logger
}

// NewNetlink opens a netlink handle.
func NewNetlink(logger *logging.Logger) (*Netlink, error) {
	if logger == nil {
		logger = logging.Default().WithComponent("netlink")
	}
	h, err := netlink.NewHandle()
	if err != nil {
		return nil, errors.Wrap(err, errors.KindUnavailable, "failed to open netlink handle")
	}
	return &Netlink{handle: h, logger: logger}, nil
}

// Close releases the request handle. Subscription sockets are torn down
// by their done channels.
func (n *Netlink) Close() {
	n.handle.Close()
}

// AddRoute installs a route in the given table. "Already exists" is success.
func (n *Netlink) AddRoute(dest netip.Prefix, gw netip.Addr, linkIndex, metric, table int) error {
	route := &netlink.Route{
		LinkIndex: linkIndex,
		Dst:       prefixToIPNet(dest),
		Gw:        addrToIP(gw),
		Table:     table,
		Priority:  metric,
		Family:    FamilyOf(gw),
	}
	if err := n.handle.RouteAdd(route); err != nil && !isExist(err) {
		return errors.Wrapf(err, errors.KindInternal, "failed to add route via %s dev %d table %d", gw, linkIndex, table)
	}
	return nil
}

// RemoveRoutes deletes every route this daemon could have placed in the
// given table for the link, both families. "Not found" is success.
func (n *Netlink) RemoveRoutes(linkIndex, table int) error {
	filter := &netlink.Route{LinkIndex: linkIndex, Table: table}
	flags := netlink.RT_FILTER_OIF | netlink.RT_FILTER_TABLE

	routes, err := n.handle.RouteListFiltered(netlink.FAMILY_ALL, filter, flags)
	if err != nil {
		return errors.Wrapf(err, errors.KindInternal, "failed to list routes in table %d", table)
	}
	for i := range routes {
		if err := n.handle.RouteDel(&routes[i]); err != nil && !isNotFound(err) {
			n.logger.Warn("failed to delete route", "table", table, "error", err)
		}
	}
	return nil
}

// AddRule installs a FROM or TO policy rule. "Already exists" is success.
func (n *Netlink) AddRule(addr netip.Addr, dir netstate.Direction, table, priority int) error {
	rule := n.buildRule(addr, dir, table)
	rule.Priority = priority
	if err := n.handle.RuleAdd(rule); err != nil && !isExist(err) {
		return errors.Wrapf(err, errors.KindInternal, "failed to add %s rule for %s table %d", dir, addr, table)
	}
	return nil
}

// RemoveRule deletes a FROM or TO policy rule. "Not found" is success.
func (n *Netlink) RemoveRule(addr netip.Addr, dir netstate.Direction, table int) error {
	rule := n.buildRule(addr, dir, table)
	if err := n.handle.RuleDel(rule); err != nil && !isNotFound(err) {
		return errors.Wrapf(err, errors.KindInternal, "failed to remove %s rule for %s table %d", dir, addr, table)
	}
	return nil
}

func (n *Netlink) buildRule(addr netip.Addr, dir netstate.Direction, table int) *netlink.Rule {
	rule := netlink.NewRule()
	rule.Table = table
	rule.Family = FamilyOf(addr)

	hostNet := &net.IPNet{IP: addrToIP(addr), Mask: hostMask(addr)}
	if dir == netstate.RuleFrom {
		rule.Src = hostNet
	} else {
		rule.Dst = hostNet
	}
	return rule
}

// ListAddresses returns the addresses on a link, both families.
func (n *Netlink) ListAddresses(linkIndex int) ([]AddrInfo, error) {
	link, err := n.handle.LinkByIndex(linkIndex)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindNotFound, "link %d not found", linkIndex)
	}
	addrs, err := n.handle.AddrList(link, netlink.FAMILY_ALL)
	if err != nil {
		return nil, errors.Wrapf(err, errors.KindInternal, "failed to list addresses on link %d", linkIndex)
	}

	out := make([]AddrInfo, 0, len(addrs))
	for _, a := range addrs {
		ip, ok := ipToAddr(a.IP)
		if !ok {
			continue
		}
		out = append(out, AddrInfo{Addr: ip, Scope: scopeFromKernel(a.Scope)})
	}
	return out, nil
}

// ListLinks returns a snapshot of all links.
func (n *Netlink) ListLinks() ([]Link, error) {
	links, err := n.handle.LinkList()
	if err != nil {
		return nil, errors.Wrap(err, errors.KindInternal, "failed to list links")
	}
	out := make([]Link, 0, len(links))
	for _, l := range links {
		attrs := l.Attrs()
		out = append(out, Link{Index: attrs.Index, Name: attrs.Name})
	}
	return out, nil
}

// DiscoverGateway finds the default gateway the kernel already knows for
// a link and family, preferring the main table.
func (n *Netlink) DiscoverGateway(linkIndex, family int) (netip.Addr, bool, error) {
	filter := &netlink.Route{LinkIndex: linkIndex}
	routes, err := n.handle.RouteListFiltered(family, filter, netlink.RT_FILTER_OIF)
	if err != nil {
		return netip.Addr{}, false, errors.Wrapf(err, errors.KindInternal, "failed to list routes for link %d", linkIndex)
	}

	var fallback netip.Addr
	for _, r := range routes {
		if !isDefaultRoute(&r) || r.Gw == nil {
			continue
		}
		gw, ok := ipToAddr(r.Gw)
		if !ok {
			continue
		}
		if r.Table == unix.RT_TABLE_MAIN {
			return gw, true, nil
		}
		if !fallback.IsValid() {
			fallback = gw
		}
	}
	if fallback.IsValid() {
		return fallback, true, nil
	}
	return netip.Addr{}, false, nil
}

// SubscribeAddresses subscribes to address notifications.
func (n *Netlink) SubscribeAddresses(done <-chan struct{}) (<-chan AddrEvent, error) {
	updates := make(chan netlink.AddrUpdate, 64)
	opts := netlink.AddrSubscribeOptions{
		ErrorCallback: func(err error) {
			// The library drops unexpected messages; not necessarily fatal.
			n.logger.Warn("address subscription reported an error", "error", err)
		},
	}
	if err := netlink.AddrSubscribeWithOptions(updates, done, opts); err != nil {
		return nil, errors.Wrap(err, errors.KindUnavailable, "failed to subscribe to address updates")
	}

	out := make(chan AddrEvent, 64)
	go func() {
		defer close(out)
		for u := range updates {
			ip, ok := ipToAddr(u.LinkAddress.IP)
			if !ok {
				continue
			}
			ones, _ := u.LinkAddress.Mask.Size()
			out <- AddrEvent{
				LinkIndex: u.LinkIndex,
				Addr:      ip,
				PrefixLen: ones,
				Scope:     scopeFromKernel(u.Scope),
				New:       u.NewAddr,
			}
		}
	}()
	return out, nil
}

// SubscribeLinks subscribes to link notifications.
func (n *Netlink) SubscribeLinks(done <-chan struct{}) (<-chan LinkEvent, error) {
	updates := make(chan netlink.LinkUpdate, 64)
	opts := netlink.LinkSubscribeOptions{
		ErrorCallback: func(err error) {
			n.logger.Warn("link subscription reported an error", "error", err)
		},
	}
	if err := netlink.LinkSubscribeWithOptions(updates, done, opts); err != nil {
		return nil, errors.Wrap(err, errors.KindUnavailable, "failed to subscribe to link updates")
	}

	out := make(chan LinkEvent, 64)
	go func() {
		defer close(out)
		for u := range updates {
			attrs := u.Link.Attrs()
			out <- LinkEvent{
				Index: attrs.Index,
				Name:  attrs.Name,
				Gone:  u.Header.Type == unix.RTM_DELLINK,
			}
		}
	}()
	return out, nil
}

// SubscribeRoutes subscribes to route notifications.
func (n *Netlink) SubscribeRoutes(done <-chan struct{}) (<-chan RouteEvent, error) {
	updates := make(chan netlink.RouteUpdate, 64)
	opts := netlink.RouteSubscribeOptions{
		ErrorCallback: func(err error) {
			n.logger.Warn("route subscription reported an error", "error", err)
		},
	}
	if err := netlink.RouteSubscribeWithOptions(updates, done, opts); err != nil {
		return nil, errors.Wrap(err, errors.KindUnavailable, "failed to subscribe to route updates")
	}

	out := make(chan RouteEvent, 64)
	go func() {
		defer close(out)
		for u := range updates {
			out <- RouteEvent{
				LinkIndex: u.Route.LinkIndex,
				Table:     u.Route.Table,
				New:       u.Type == unix.RTM_NEWROUTE,
			}
		}
	}()
	return out, nil
}

func isDefaultRoute(r *netlink.Route) bool {
	if r.Dst == nil {
		return true
	}
	ones, _ := r.Dst.Mask.Size()
	return ones == 0
}

func isExist(err error) bool {
	return errors.Is(err, unix.EEXIST)
}

func isNotFound(err error) bool {
	return errors.Is(err, unix.ENOENT) || errors.Is(err, unix.ESRCH)
}

func prefixToIPNet(p netip.Prefix) *net.IPNet {
	return &net.IPNet{
		IP:   addrToIP(p.Addr()),
		Mask: net.CIDRMask(p.Bits(), p.Addr().BitLen()),
	}
}

func addrToIP(a netip.Addr) net.IP {
	return net.IP(a.AsSlice())
}

func hostMask(a netip.Addr) net.IPMask {
	return net.CIDRMask(a.BitLen(), a.BitLen())
}

func ipToAddr(ip net.IP) (netip.Addr, bool) {
	a, ok := netip.AddrFromSlice(ip)
	if !ok {
		return netip.Addr{}, false
	}
	return a.Unmap(), true
}

func scopeFromKernel(scope int) Scope {
	switch scope {
	case unix.RT_SCOPE_UNIVERSE:
		return ScopeGlobal
	case unix.RT_SCOPE_SITE:
		return ScopeSite
	case unix.RT_SCOPE_LINK:
		return ScopeLink
	case unix.RT_SCOPE_HOST:
		return ScopeHost
	default:
		return ScopeNowhere
	}
}
