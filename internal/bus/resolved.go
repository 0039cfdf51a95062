// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package bus holds clients for the system services the daemon
// cooperates with over the message bus: systemd-resolved for per-link
// DNS and systemd-hostnamed for the host identity.
package bus

import (
	"context"
	"net/netip"

	"github.com/godbus/dbus/v5"

	"github.com/ssahani/netevd/internal/errors"
	"github.com/ssahani/netevd/internal/logging"
)

const (
	resolvedService   = "org.freedesktop.resolve1"
	resolvedPath      = "/org/freedesktop/resolve1"
	resolvedInterface = "org.freedesktop.resolve1.Manager"
)

// Resolved is a systemd-resolved client.
type Resolved struct {
	conn   *dbus.Conn
	logger *logging.Logger
}

// NewResolved connects to the system bus.
func NewResolved(logger *logging.Logger) (*Resolved, error) {
	if logger == nil {
		logger = logging.Default().WithComponent("resolved")
	}
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, errors.Wrap(err, errors.KindUnavailable, "failed to connect to system bus")
	}
	return &Resolved{conn: conn, logger: logger}, nil
}

// Close releases the bus connection.
func (r *Resolved) Close() {
	_ = r.conn.Close()
}

// linkDNS is the wire shape of one SetLinkDNS entry: address family
// plus raw address bytes.
type linkDNS struct {
	Family  int32
	Address []byte
}

// linkDomain is the wire shape of one SetLinkDomains entry.
type linkDomain struct {
	Domain      string
	RoutingOnly bool
}

// SetLinkDNS registers DNS servers for a link.
func (r *Resolved) SetLinkDNS(ctx context.Context, ifindex int, servers []netip.Addr) error {
	if len(servers) == 0 {
		return nil
	}

	entries := make([]linkDNS, 0, len(servers))
	for _, s := range servers {
		entries = append(entries, linkDNS{
			Family:  int32(family(s)),
			Address: s.AsSlice(),
		})
	}

	obj := r.conn.Object(resolvedService, resolvedPath)
	call := obj.CallWithContext(ctx, resolvedInterface+".SetLinkDNS", 0, int32(ifindex), entries)
	if call.Err != nil {
		return errors.Wrapf(call.Err, errors.KindUnavailable, "SetLinkDNS failed for link %d", ifindex)
	}

	r.logger.Info("registered DNS servers", "ifindex", ifindex, "count", len(servers))
	return nil
}

// SetLinkDomains registers search domains for a link.
func (r *Resolved) SetLinkDomains(ctx context.Context, ifindex int, domains []string) error {
	if len(domains) == 0 {
		return nil
	}

	entries := make([]linkDomain, 0, len(domains))
	for _, d := range domains {
		entries = append(entries, linkDomain{Domain: d})
	}

	obj := r.conn.Object(resolvedService, resolvedPath)
	call := obj.CallWithContext(ctx, resolvedInterface+".SetLinkDomains", 0, int32(ifindex), entries)
	if call.Err != nil {
		return errors.Wrapf(call.Err, errors.KindUnavailable, "SetLinkDomains failed for link %d", ifindex)
	}

	r.logger.Info("registered search domains", "ifindex", ifindex, "domains", domains)
	return nil
}

func family(a netip.Addr) int {
	if a.Is4() || a.Is4In6() {
		return 2 // AF_INET
	}
	return 10 // AF_INET6
}
