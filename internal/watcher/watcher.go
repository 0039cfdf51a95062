// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package watcher consumes the kernel's address, link and route
// notifications. It keeps the shared state model current and drives the
// policy-routing engine on address changes for managed interfaces.
package watcher

import (
	"context"

	"golang.org/x/time/rate"

	"github.com/ssahani/netevd/internal/errors"
	"github.com/ssahani/netevd/internal/event"
	"github.com/ssahani/netevd/internal/hooks"
	"github.com/ssahani/netevd/internal/logging"
	"github.com/ssahani/netevd/internal/netstate"
	"github.com/ssahani/netevd/internal/routing"
	"github.com/ssahani/netevd/internal/transport"
)

// Route events can arrive in bursts (table rebuilds, flapping
// uplinks); hook dispatch for them is damped to this sustained rate.
const (
	routeEventsPerSecond = 2
	routeEventBurst      = 8
)

// Watcher runs the three notification tasks.
type Watcher struct {
	kernel    transport.Kernel
	state     *netstate.State
	engine    *routing.Engine
	hooks     *hooks.Dispatcher
	monitored func(name string) bool
	managed   func(name string) bool
	limiter   *rate.Limiter
	logger    *logging.Logger
}

// New creates a watcher. The monitored and managed predicates come from
// configuration; the dispatcher may be nil to disable route hooks.
func New(kernel transport.Kernel, state *netstate.State, engine *routing.Engine, disp *hooks.Dispatcher, monitored, managed func(string) bool, logger *logging.Logger) *Watcher {
	if logger == nil {
		logger = logging.Default().WithComponent("watcher")
	}
	return &Watcher{
		kernel:    kernel,
		state:     state,
		engine:    engine,
		hooks:     disp,
		monitored: monitored,
		managed:   managed,
		limiter:   rate.NewLimiter(routeEventsPerSecond, routeEventBurst),
		logger:    logger,
	}
}

// PrimeLinks seeds the state model with a link snapshot. Called once
// before the tasks start so early address events resolve names.
func (w *Watcher) PrimeLinks() error {
	links, err := w.kernel.ListLinks()
	if err != nil {
		return err
	}
	for _, l := range links {
		w.state.UpsertLink(l.Index, l.Name)
	}
	w.logger.Debug("primed link table", "links", len(links))
	return nil
}

// WatchAddresses consumes address notifications until the context is
// cancelled or the subscription dies.
func (w *Watcher) WatchAddresses(ctx context.Context) error {
	ch, err := w.kernel.SubscribeAddresses(ctx.Done())
	if err != nil {
		return err
	}
	w.logger.Info("address watcher started")

	for ev := range ch {
		w.handleAddress(ev)
	}
	return w.exitReason(ctx, "address")
}

// WatchLinks consumes link notifications.
func (w *Watcher) WatchLinks(ctx context.Context) error {
	ch, err := w.kernel.SubscribeLinks(ctx.Done())
	if err != nil {
		return err
	}
	w.logger.Info("link watcher started")

	for ev := range ch {
		w.handleLink(ev)
	}
	return w.exitReason(ctx, "link")
}

// WatchRoutes consumes route notifications for externally-created
// routes and dispatches routes.d hooks. The daemon does not own these
// routes; it only reports them.
func (w *Watcher) WatchRoutes(ctx context.Context) error {
	ch, err := w.kernel.SubscribeRoutes(ctx.Done())
	if err != nil {
		return err
	}
	w.logger.Info("route watcher started")

	for ev := range ch {
		w.handleRoute(ctx, ev)
	}
	return w.exitReason(ctx, "route")
}

// exitReason distinguishes shutdown from transport loss once a
// subscription channel closes.
func (w *Watcher) exitReason(ctx context.Context, kind string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return errors.Errorf(errors.KindUnavailable, "%s subscription closed", kind)
}

func (w *Watcher) handleAddress(ev transport.AddrEvent) {
	name, ok := w.resolveName(ev.LinkIndex)
	if !ok {
		w.logger.Debug("address event for unknown link", "ifindex", ev.LinkIndex, "address", ev.Addr)
		return
	}
	if !w.monitored(name) {
		return
	}

	if ev.New {
		w.state.AddAddress(ev.LinkIndex, ev.Addr)
	} else {
		w.state.RemoveAddress(ev.LinkIndex, ev.Addr)
	}

	if ev.Scope != transport.ScopeGlobal || !w.managed(name) {
		return
	}

	if ev.New {
		w.logger.Info("global address acquired", "link", name, "address", ev.Addr)
		if err := w.engine.OnAddressAdded(ev.LinkIndex, name, ev.Addr); err != nil {
			w.logger.Warn("policy configuration failed", "link", name, "address", ev.Addr, "error", err)
		}
	} else {
		w.logger.Info("global address lost", "link", name, "address", ev.Addr)
		if err := w.engine.OnAddressRemoved(ev.LinkIndex, name, ev.Addr); err != nil {
			w.logger.Warn("policy teardown failed", "link", name, "address", ev.Addr, "error", err)
		}
	}
}

// resolveName maps an index to a name, refreshing the link table from a
// snapshot when the index is unknown (the link notification may not
// have been processed yet).
func (w *Watcher) resolveName(linkIndex int) (string, bool) {
	if name, ok := w.state.NameOf(linkIndex); ok {
		return name, true
	}
	links, err := w.kernel.ListLinks()
	if err != nil {
		w.logger.Warn("link snapshot failed", "error", err)
		return "", false
	}
	for _, l := range links {
		w.state.UpsertLink(l.Index, l.Name)
	}
	return w.state.NameOf(linkIndex)
}

func (w *Watcher) handleLink(ev transport.LinkEvent) {
	if ev.Gone {
		name, _ := w.state.NameOf(ev.Index)
		w.logger.Info("link removed", "link", name, "ifindex", ev.Index)
		w.engine.OnLinkRemoved(ev.Index, name)
		w.state.RemoveLink(ev.Index)
		return
	}
	w.state.UpsertLink(ev.Index, ev.Name)
}

func (w *Watcher) handleRoute(ctx context.Context, ev transport.RouteEvent) {
	if w.hooks == nil || ev.LinkIndex == 0 {
		return
	}
	name, ok := w.state.NameOf(ev.LinkIndex)
	if !ok || !w.monitored(name) {
		return
	}
	if !w.limiter.Allow() {
		w.logger.Debug("route event dropped by rate limiter", "link", name)
		return
	}

	kind := "del"
	if ev.New {
		kind = "new"
	}
	w.hooks.Dispatch(ctx, event.Event{
		Link:      name,
		LinkIndex: ev.LinkIndex,
		State:     event.StateRoutes,
		Backend:   "kernel",
		Payload:   map[string]string{"EVENT": kind},
	})
}
