// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package networkd listens for systemd-networkd link property changes
// on the system bus and turns them into normalized lifecycle events.
package networkd

import (
	"context"
	"net/netip"
	"strconv"
	"strings"

	"github.com/godbus/dbus/v5"

	"github.com/ssahani/netevd/internal/bus"
	"github.com/ssahani/netevd/internal/config"
	"github.com/ssahani/netevd/internal/errors"
	"github.com/ssahani/netevd/internal/event"
	"github.com/ssahani/netevd/internal/hooks"
	"github.com/ssahani/netevd/internal/logging"
	"github.com/ssahani/netevd/internal/netstate"
	"github.com/ssahani/netevd/internal/system"
	"github.com/ssahani/netevd/internal/transport"
	"github.com/ssahani/netevd/internal/validation"
)

const (
	networkdService  = "org.freedesktop.network1"
	networkdPath     = dbus.ObjectPath("/org/freedesktop/network1")
	linkPathPrefix   = "/org/freedesktop/network1/link/"
	propertiesSignal = "org.freedesktop.DBus.Properties.PropertiesChanged"
)

// Listener consumes networkd property-change signals.
type Listener struct {
	cfg       config.NetworkdConfig
	monitored func(string) bool
	state     *netstate.State
	kernel    transport.Kernel
	disp      *hooks.Dispatcher
	resolved  *bus.Resolved
	hostnamed *bus.Hostnamed
	logger    *logging.Logger

	// linksDir and managerFile override the state-file locations in
	// tests.
	linksDir    string
	managerFile string

	// last dispatched state per ifindex, to drop duplicate signals
	lastState map[int]string

	// last dispatched manager-level state
	lastManager string
}

// New creates a networkd listener. The resolved and hostnamed clients
// may be nil.
func New(cfg config.NetworkdConfig, monitored func(string) bool, state *netstate.State, kernel transport.Kernel, disp *hooks.Dispatcher, resolved *bus.Resolved, hostnamed *bus.Hostnamed, logger *logging.Logger) *Listener {
	if logger == nil {
		logger = logging.Default().WithComponent("networkd")
	}
	return &Listener{
		cfg:         cfg,
		monitored:   monitored,
		state:       state,
		kernel:      kernel,
		disp:        disp,
		resolved:    resolved,
		hostnamed:   hostnamed,
		logger:      logger,
		linksDir:    system.NetifLinkStateDir,
		managerFile: system.NetifManagerStateFile,
		lastState:   make(map[int]string),
	}
}

// Run subscribes on the system bus until the context is cancelled.
func (l *Listener) Run(ctx context.Context) error {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return errors.Wrap(err, errors.KindUnavailable, "failed to connect to system bus")
	}
	defer conn.Close()

	if err := conn.AddMatchSignal(
		dbus.WithMatchSender(networkdService),
		dbus.WithMatchInterface("org.freedesktop.DBus.Properties"),
		dbus.WithMatchMember("PropertiesChanged"),
	); err != nil {
		return errors.Wrap(err, errors.KindUnavailable, "failed to add networkd signal match")
	}

	signals := make(chan *dbus.Signal, 64)
	conn.Signal(signals)
	l.logger.Info("systemd-networkd listener started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig, ok := <-signals:
			if !ok {
				return errors.New(errors.KindUnavailable, "system bus connection lost")
			}
			if sig.Name != propertiesSignal {
				continue
			}
			if sig.Path == networkdPath {
				l.handleManagerSignal(ctx)
				continue
			}
			ifindex, ok := parseLinkPath(string(sig.Path))
			if !ok {
				continue
			}
			l.handleLinkSignal(ctx, ifindex)
		}
	}
}

// parseLinkPath extracts the ifindex from a networkd link object path.
// The leading digit of the index is bus-escaped, so index 3 appears as
// .../link/_33 and index 10 as .../link/_310.
func parseLinkPath(path string) (int, bool) {
	rest, ok := strings.CutPrefix(path, linkPathPrefix)
	if !ok {
		return 0, false
	}
	rest, ok = strings.CutPrefix(rest, "_3")
	if !ok {
		return 0, false
	}
	ifindex, err := strconv.Atoi(rest)
	if err != nil || ifindex <= 0 {
		return 0, false
	}
	return ifindex, true
}

func (l *Listener) handleLinkSignal(ctx context.Context, ifindex int) {
	name, ok := l.resolveName(ifindex)
	if !ok {
		l.logger.Debug("signal for unknown link", "ifindex", ifindex)
		return
	}
	if err := validation.ValidateInterfaceName(name); err != nil {
		l.logger.Warn("dropping signal with invalid link name", "error", err)
		return
	}
	if !l.monitored(name) {
		return
	}

	linkState, err := ParseLinkState(l.linksDir, ifindex)
	if err != nil {
		l.logger.Warn("failed to parse link state", "link", name, "error", err)
		return
	}

	// Operational state names the hook directory; the admin state
	// covers the configured transition, which has no oper equivalent.
	current := linkState.OperState
	if current == "" {
		current = linkState.AdminState
	}
	if current == "" {
		return
	}
	if l.lastState[ifindex] == current {
		l.logger.Debug("state unchanged", "link", name, "state", current)
		return
	}
	l.lastState[ifindex] = current

	if err := validation.ValidateStateName(current); err != nil {
		l.logger.Debug("state has no hook directory", "link", name, "state", current)
		return
	}

	l.logger.Info("link state changed", "link", name, "ifindex", ifindex, "state", current)

	addresses := l.globalAddresses(ifindex)
	payload := make(map[string]string)

	if l.cfg.EmitJSON {
		addrStrings := make([]string, 0, len(addresses))
		for _, a := range addresses {
			addrStrings = append(addrStrings, a.String())
		}
		if describe, err := BuildLinkDescribe(ifindex, name, linkState, addrStrings); err == nil {
			payload["JSON"] = describe
		} else {
			l.logger.Warn("failed to build link describe JSON", "link", name, "error", err)
		}
	}

	l.registerServices(ctx, ifindex, linkState)

	l.disp.Dispatch(ctx, event.Event{
		Link:      name,
		LinkIndex: ifindex,
		State:     event.State(current),
		Backend:   config.BackendNetworkd,
		Addresses: addresses,
		Payload:   payload,
	})
}

// handleManagerSignal dispatches manager.d hooks when networkd's
// overall operational state changes.
func (l *Listener) handleManagerSignal(ctx context.Context) {
	managerState, err := ParseManagerState(l.managerFile)
	if err != nil {
		l.logger.Warn("failed to parse manager state", "error", err)
		return
	}
	if managerState.OperState == "" || managerState.OperState == l.lastManager {
		return
	}
	l.lastManager = managerState.OperState

	l.logger.Info("manager state changed", "state", managerState.OperState)

	l.disp.Dispatch(ctx, event.Event{
		State:   event.StateManager,
		Backend: config.BackendNetworkd,
		Payload: map[string]string{
			"MANAGER_STATE": managerState.OperState,
			"ONLINE_STATE":  managerState.OnlineState,
		},
	})
}

func (l *Listener) resolveName(ifindex int) (string, bool) {
	if name, ok := l.state.NameOf(ifindex); ok {
		return name, true
	}
	links, err := l.kernel.ListLinks()
	if err != nil {
		return "", false
	}
	for _, link := range links {
		l.state.UpsertLink(link.Index, link.Name)
	}
	return l.state.NameOf(ifindex)
}

func (l *Listener) globalAddresses(ifindex int) []netip.Addr {
	infos, err := l.kernel.ListAddresses(ifindex)
	if err != nil {
		l.logger.Debug("failed to list addresses", "ifindex", ifindex, "error", err)
		return nil
	}
	var out []netip.Addr
	for _, info := range infos {
		if info.Scope == transport.ScopeGlobal {
			out = append(out, info.Addr)
		}
	}
	return out
}

// registerServices forwards DNS, domain and hostname data from the
// link state into the system services when enabled. Every value is
// validated first; offending entries are dropped.
func (l *Listener) registerServices(ctx context.Context, ifindex int, linkState LinkState) {
	if l.cfg.UseDNS && l.resolved != nil && len(linkState.DNS) > 0 {
		var servers []netip.Addr
		for _, s := range linkState.DNS {
			a, err := netip.ParseAddr(s)
			if err != nil {
				l.logger.Warn("dropping invalid DNS server", "value", s)
				continue
			}
			servers = append(servers, a)
		}
		if err := l.resolved.SetLinkDNS(ctx, ifindex, servers); err != nil {
			l.logger.Warn("failed to register DNS", "ifindex", ifindex, "error", err)
		}
	}

	if l.cfg.UseDomain && l.resolved != nil && len(linkState.Domains) > 0 {
		var domains []string
		for _, d := range linkState.Domains {
			if err := validation.ValidateDomainName(d); err != nil {
				l.logger.Warn("dropping invalid domain", "value", d)
				continue
			}
			domains = append(domains, d)
		}
		if err := l.resolved.SetLinkDomains(ctx, ifindex, domains); err != nil {
			l.logger.Warn("failed to register domains", "ifindex", ifindex, "error", err)
		}
	}

	if l.cfg.UseHostname && l.hostnamed != nil && len(linkState.Domains) > 0 {
		if err := l.hostnamed.SetStaticHostname(ctx, linkState.Domains[0]); err != nil {
			l.logger.Warn("failed to set hostname", "error", err)
		}
	}
}
