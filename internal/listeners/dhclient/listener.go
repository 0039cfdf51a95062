// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package dhclient watches the dhclient lease database and turns fresh
// leases into routable events.
package dhclient

import (
	"context"
	"net/netip"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/fsnotify/fsnotify"

	"github.com/ssahani/netevd/internal/bus"
	"github.com/ssahani/netevd/internal/config"
	"github.com/ssahani/netevd/internal/errors"
	"github.com/ssahani/netevd/internal/event"
	"github.com/ssahani/netevd/internal/hooks"
	"github.com/ssahani/netevd/internal/logging"
	"github.com/ssahani/netevd/internal/netstate"
	"github.com/ssahani/netevd/internal/validation"
)

// Listener consumes lease-file changes.
type Listener struct {
	cfg       config.DhclientConfig
	monitored func(string) bool
	state     *netstate.State
	disp      *hooks.Dispatcher
	resolved  *bus.Resolved
	hostnamed *bus.Hostnamed
	logger    *logging.Logger

	// last emitted lease per interface, to suppress rewrites that
	// change nothing
	seen map[string]Lease
}

// New creates a dhclient listener. The resolved and hostnamed clients
// may be nil; the corresponding integrations are then skipped even if
// enabled.
func New(cfg config.DhclientConfig, monitored func(string) bool, state *netstate.State, disp *hooks.Dispatcher, resolved *bus.Resolved, hostnamed *bus.Hostnamed, logger *logging.Logger) *Listener {
	if logger == nil {
		logger = logging.Default().WithComponent("dhclient")
	}
	return &Listener{
		cfg:       cfg,
		monitored: monitored,
		state:     state,
		disp:      disp,
		resolved:  resolved,
		hostnamed: hostnamed,
		logger:    logger,
		seen:      make(map[string]Lease),
	}
}

// Run watches the lease file until the context is cancelled. The
// containing directory is watched so the file surviving a
// rename-and-replace keeps being observed.
func (l *Listener) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, errors.KindUnavailable, "failed to create file watcher")
	}
	defer watcher.Close()

	dir := filepath.Dir(l.cfg.LeaseFile)
	if err := watcher.Add(dir); err != nil {
		return errors.Wrapf(err, errors.KindUnavailable, "failed to watch %s", dir)
	}
	l.logger.Info("watching lease file", "path", l.cfg.LeaseFile)

	// Pick up leases that predate the daemon.
	l.processLeaseFile(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return errors.New(errors.KindUnavailable, "file watcher closed")
			}
			if ev.Name != l.cfg.LeaseFile {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			l.processLeaseFile(ctx)
		case err, ok := <-watcher.Errors:
			if !ok {
				return errors.New(errors.KindUnavailable, "file watcher closed")
			}
			l.logger.Warn("file watcher error", "error", err)
		}
	}
}

func (l *Listener) processLeaseFile(ctx context.Context) {
	leases, err := ParseLeaseFile(l.cfg.LeaseFile)
	if err != nil {
		l.logger.Debug("lease file not readable", "error", err)
		return
	}

	for name, lease := range leases {
		if err := validation.ValidateInterfaceName(name); err != nil {
			l.logger.Warn("dropping lease with invalid interface name", "error", err)
			continue
		}
		if !l.monitored(name) {
			continue
		}
		if prev, ok := l.seen[name]; ok && reflect.DeepEqual(prev, lease) {
			continue
		}
		l.seen[name] = lease
		l.emit(ctx, name, lease)
	}
}

// emit builds a routable event for a fresh lease and fires hooks plus
// the enabled resolver/hostname integrations. Fields that fail
// validation are dropped individually; the event still fires.
func (l *Listener) emit(ctx context.Context, name string, lease Lease) {
	ifindex, _ := l.state.IndexOf(name)

	payload := make(map[string]string)
	var addresses []netip.Addr

	if addr, err := netip.ParseAddr(lease.Address); err == nil {
		addresses = append(addresses, addr)
		payload["DHCP_ADDRESS"] = lease.Address
	} else if lease.Address != "" {
		l.logger.Warn("dropping invalid lease address", "link", name, "value", lease.Address)
	}

	if len(lease.Routers) > 0 {
		gw := lease.Routers[0]
		if validation.ValidateIPAddress(gw) == nil {
			payload["DHCP_GATEWAY"] = gw
		} else {
			l.logger.Warn("dropping invalid lease gateway", "link", name, "value", gw)
		}
	}

	if dns := strings.Join(lease.DNS, " "); dns != "" {
		if validation.ValidateAddressList(dns) == nil {
			payload["DHCP_DNS"] = dns
		} else {
			l.logger.Warn("dropping invalid lease DNS list", "link", name)
		}
	}

	if lease.Domain != "" {
		if validation.ValidateDomainName(lease.Domain) == nil {
			payload["DHCP_DOMAIN"] = lease.Domain
		} else {
			l.logger.Warn("dropping invalid lease domain", "link", name, "value", lease.Domain)
		}
	}

	if lease.Hostname != "" {
		if validation.ValidateHostname(lease.Hostname) == nil {
			payload["DHCP_HOSTNAME"] = lease.Hostname
		} else {
			l.logger.Warn("dropping invalid lease hostname", "link", name, "value", lease.Hostname)
		}
	}

	l.logger.Info("lease acquired", "link", name, "address", payload["DHCP_ADDRESS"])

	l.registerServices(ctx, ifindex, payload)

	l.disp.Dispatch(ctx, event.Event{
		Link:      name,
		LinkIndex: ifindex,
		State:     event.StateRoutable,
		Backend:   config.BackendDhclient,
		Addresses: addresses,
		Payload:   payload,
	})
}

// registerServices pushes validated lease data into systemd-resolved
// and systemd-hostnamed when configuration enables it. Failures are
// logged; the event is not blocked.
func (l *Listener) registerServices(ctx context.Context, ifindex int, payload map[string]string) {
	if l.cfg.UseDNS && l.resolved != nil && payload["DHCP_DNS"] != "" && ifindex > 0 {
		var servers []netip.Addr
		for _, s := range strings.Fields(payload["DHCP_DNS"]) {
			if a, err := netip.ParseAddr(s); err == nil {
				servers = append(servers, a)
			}
		}
		if err := l.resolved.SetLinkDNS(ctx, ifindex, servers); err != nil {
			l.logger.Warn("failed to register DNS", "ifindex", ifindex, "error", err)
		}
	}

	if l.cfg.UseDomain && l.resolved != nil && payload["DHCP_DOMAIN"] != "" && ifindex > 0 {
		if err := l.resolved.SetLinkDomains(ctx, ifindex, []string{payload["DHCP_DOMAIN"]}); err != nil {
			l.logger.Warn("failed to register domain", "ifindex", ifindex, "error", err)
		}
	}

	if l.cfg.UseHostname && l.hostnamed != nil && payload["DHCP_HOSTNAME"] != "" {
		if err := l.hostnamed.SetStaticHostname(ctx, payload["DHCP_HOSTNAME"]); err != nil {
			l.logger.Warn("failed to set hostname", "error", err)
		}
	}
}
