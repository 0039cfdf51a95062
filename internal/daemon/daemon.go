// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package daemon composes the watcher tasks, the configured signal
// listener and the hook dispatcher under a first-failure supervisor.
package daemon

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/ssahani/netevd/internal/bus"
	"github.com/ssahani/netevd/internal/config"
	"github.com/ssahani/netevd/internal/errors"
	"github.com/ssahani/netevd/internal/filters"
	"github.com/ssahani/netevd/internal/hooks"
	"github.com/ssahani/netevd/internal/listeners/dhclient"
	"github.com/ssahani/netevd/internal/listeners/networkd"
	"github.com/ssahani/netevd/internal/listeners/networkmanager"
	"github.com/ssahani/netevd/internal/logging"
	"github.com/ssahani/netevd/internal/netstate"
	"github.com/ssahani/netevd/internal/routing"
	"github.com/ssahani/netevd/internal/system"
	"github.com/ssahani/netevd/internal/transport"
	"github.com/ssahani/netevd/internal/watcher"
)

// Listener is one of the three signal-source variants.
type Listener interface {
	Run(ctx context.Context) error
}

// Daemon wires the event-processing core together.
type Daemon struct {
	cfg      *config.Config
	kernel   transport.Kernel
	watcher  *watcher.Watcher
	listener Listener
	logger   *logging.Logger
}

// New builds a daemon from configuration. The kernel transport is
// injected so tests can run against the simulator; ident is the
// unprivileged identity hooks run under.
func New(cfg *config.Config, kernel transport.Kernel, ident system.Identity, logger *logging.Logger) (*Daemon, error) {
	if logger == nil {
		logger = logging.Default()
	}

	state := netstate.New()
	engine := routing.New(kernel, state, cfg.Routing.RulePriority, logger.WithComponent("routing"))

	filterEngine := filters.NewEngine(cfg.Filters, logger.WithComponent("filters"))
	disp := hooks.NewDispatcher(
		cfg.System.HookRoot,
		cfg.System.HookTimeout.Std(),
		ident,
		filterEngine,
		logger.WithComponent("hooks"),
	)

	monitored := cfg.Monitoring.IsMonitored
	managed := cfg.Routing.IsManaged
	w := watcher.New(kernel, state, engine, disp, monitored, managed, logger.WithComponent("watcher"))

	listener, err := buildListener(cfg, state, kernel, disp, logger)
	if err != nil {
		return nil, err
	}

	return &Daemon{
		cfg:      cfg,
		kernel:   kernel,
		watcher:  w,
		listener: listener,
		logger:   logger.WithComponent("daemon"),
	}, nil
}

// buildListener selects the C7 variant from system.backend. The
// resolved and hostnamed integrations are optional; failure to reach
// them degrades the listener instead of killing startup.
func buildListener(cfg *config.Config, state *netstate.State, kernel transport.Kernel, disp *hooks.Dispatcher, logger *logging.Logger) (Listener, error) {
	monitored := cfg.Monitoring.IsMonitored

	var resolved *bus.Resolved
	var hostnamed *bus.Hostnamed

	needDNS := cfg.Backends.Dhclient.UseDNS || cfg.Backends.Dhclient.UseDomain ||
		cfg.Backends.SystemdNetworkd.UseDNS || cfg.Backends.SystemdNetworkd.UseDomain
	needHostname := cfg.Backends.Dhclient.UseHostname || cfg.Backends.SystemdNetworkd.UseHostname

	if needDNS {
		r, err := bus.NewResolved(logger.WithComponent("resolved"))
		if err != nil {
			logger.Warn("systemd-resolved unreachable, DNS registration disabled", "error", err)
		} else {
			resolved = r
		}
	}
	if needHostname {
		h, err := bus.NewHostnamed(logger.WithComponent("hostnamed"))
		if err != nil {
			logger.Warn("systemd-hostnamed unreachable, hostname updates disabled", "error", err)
		} else {
			hostnamed = h
		}
	}

	switch cfg.System.Backend {
	case config.BackendNetworkd:
		return networkd.New(cfg.Backends.SystemdNetworkd, monitored, state, kernel, disp, resolved, hostnamed, logger.WithComponent("networkd")), nil
	case config.BackendNetworkManager:
		return networkmanager.New(monitored, state, kernel, disp, logger.WithComponent("networkmanager")), nil
	case config.BackendDhclient:
		return dhclient.New(cfg.Backends.Dhclient, monitored, state, disp, resolved, hostnamed, logger.WithComponent("dhclient")), nil
	default:
		return nil, errors.Errorf(errors.KindValidation, "unknown backend %q", cfg.System.Backend)
	}
}

// Run executes until the context is cancelled or a task fails. The
// first completed child unblocks the group and cancels the rest.
// Kernel-side routes and rules installed by the engine deliberately
// survive shutdown; the kernel is the recovery source on restart.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.watcher.PrimeLinks(); err != nil {
		return errors.Wrap(err, errors.KindUnavailable, "failed to acquire initial links")
	}

	d.logger.Info("starting event processing", "backend", d.cfg.System.Backend)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.watcher.WatchAddresses(ctx) })
	g.Go(func() error { return d.watcher.WatchLinks(ctx) })
	g.Go(func() error { return d.watcher.WatchRoutes(ctx) })
	g.Go(func() error { return d.listener.Run(ctx) })

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	d.logger.Info("shutdown complete")
	return nil
}
