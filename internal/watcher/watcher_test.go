// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package watcher

import (
	"context"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssahani/netevd/internal/hooks"
	"github.com/ssahani/netevd/internal/logging"
	"github.com/ssahani/netevd/internal/netstate"
	"github.com/ssahani/netevd/internal/routing"
	"github.com/ssahani/netevd/internal/system"
	"github.com/ssahani/netevd/internal/transport"
)

func all(string) bool { return true }

func managedOnly(names ...string) func(string) bool {
	set := make(map[string]bool)
	for _, n := range names {
		set[n] = true
	}
	return func(name string) bool { return set[name] }
}

func newTestWatcher(managed func(string) bool) (*Watcher, *transport.SimKernel, *netstate.State) {
	sim := transport.NewSimKernel()
	st := netstate.New()
	log := logging.New(logging.Config{Level: logging.LevelError})
	eng := routing.New(sim, st, 0, log)
	w := New(sim, st, eng, nil, all, managed, log)
	return w, sim, st
}

// runAddressTask starts WatchAddresses and returns a stop function that
// cancels it and waits for exit.
func runAddressTask(t *testing.T, w *Watcher) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = w.WatchAddresses(ctx)
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestPrimeLinks(t *testing.T) {
	w, sim, st := newTestWatcher(all)
	sim.Links = []transport.Link{{Index: 2, Name: "eth0"}, {Index: 3, Name: "eth1"}}

	require.NoError(t, w.PrimeLinks())
	name, ok := st.NameOf(3)
	require.True(t, ok)
	assert.Equal(t, "eth1", name)
}

func TestAddressAddDrivesEngine(t *testing.T) {
	w, sim, st := newTestWatcher(managedOnly("eth1"))
	sim.Links = []transport.Link{{Index: 3, Name: "eth1"}}
	sim.Gateways[3] = netip.MustParseAddr("192.168.1.1")
	require.NoError(t, w.PrimeLinks())

	stop := runAddressTask(t, w)
	defer stop()

	addr := netip.MustParseAddr("192.168.1.100")
	sim.InjectAddr(transport.AddrEvent{LinkIndex: 3, Addr: addr, PrefixLen: 24, Scope: transport.ScopeGlobal, New: true})

	waitFor(t, func() bool { return sim.HasRoute(3, 203) }, "route not installed")
	assert.True(t, sim.HasRule(netstate.RuleFrom, addr, 203))
	assert.True(t, sim.HasRule(netstate.RuleTo, addr, 203))
	assert.Contains(t, st.AddressesOf(3), addr)
}

func TestAddressRemoveTearsDown(t *testing.T) {
	w, sim, _ := newTestWatcher(managedOnly("eth1"))
	sim.Links = []transport.Link{{Index: 3, Name: "eth1"}}
	sim.Gateways[3] = netip.MustParseAddr("192.168.1.1")
	require.NoError(t, w.PrimeLinks())

	stop := runAddressTask(t, w)
	defer stop()

	addr := netip.MustParseAddr("192.168.1.100")
	sim.InjectAddr(transport.AddrEvent{LinkIndex: 3, Addr: addr, PrefixLen: 24, Scope: transport.ScopeGlobal, New: true})
	waitFor(t, func() bool { return sim.HasRoute(3, 203) }, "route not installed")

	sim.InjectAddr(transport.AddrEvent{LinkIndex: 3, Addr: addr, PrefixLen: 24, Scope: transport.ScopeGlobal, New: false})
	waitFor(t, func() bool { return !sim.HasRoute(3, 203) }, "route not removed")
	assert.False(t, sim.HasRule(netstate.RuleFrom, addr, 203))
}

func TestUnmanagedInterfaceIgnoredByEngine(t *testing.T) {
	w, sim, st := newTestWatcher(managedOnly("eth1"))
	sim.Links = []transport.Link{{Index: 2, Name: "eth0"}}
	sim.Gateways[2] = netip.MustParseAddr("10.0.0.1")
	require.NoError(t, w.PrimeLinks())

	stop := runAddressTask(t, w)
	defer stop()

	addr := netip.MustParseAddr("10.0.0.5")
	sim.InjectAddr(transport.AddrEvent{LinkIndex: 2, Addr: addr, PrefixLen: 24, Scope: transport.ScopeGlobal, New: true})

	waitFor(t, func() bool { return len(st.AddressesOf(2)) == 1 }, "address not recorded")
	assert.Empty(t, sim.Routes, "unmanaged interface must not get policy routing")
}

func TestLinkLocalScopeIgnoredByEngine(t *testing.T) {
	w, sim, st := newTestWatcher(managedOnly("eth1"))
	sim.Links = []transport.Link{{Index: 3, Name: "eth1"}}
	sim.Gateways[3] = netip.MustParseAddr("192.168.1.1")
	require.NoError(t, w.PrimeLinks())

	stop := runAddressTask(t, w)
	defer stop()

	addr := netip.MustParseAddr("fe80::1")
	sim.InjectAddr(transport.AddrEvent{LinkIndex: 3, Addr: addr, PrefixLen: 64, Scope: transport.ScopeLink, New: true})

	// Recorded, but no policy routing.
	waitFor(t, func() bool { return len(st.AddressesOf(3)) == 1 }, "address not recorded")
	assert.Empty(t, sim.Routes)
}

func TestUnknownIndexTriggersSnapshotRefresh(t *testing.T) {
	w, sim, st := newTestWatcher(managedOnly("eth7"))
	// Link table intentionally not primed; the snapshot has the answer.
	sim.Links = []transport.Link{{Index: 7, Name: "eth7"}}
	sim.Gateways[7] = netip.MustParseAddr("172.16.0.1")

	stop := runAddressTask(t, w)
	defer stop()

	addr := netip.MustParseAddr("172.16.0.10")
	sim.InjectAddr(transport.AddrEvent{LinkIndex: 7, Addr: addr, PrefixLen: 16, Scope: transport.ScopeGlobal, New: true})

	waitFor(t, func() bool { return sim.HasRoute(7, 207) }, "snapshot refresh did not resolve link")
	name, ok := st.NameOf(7)
	require.True(t, ok)
	assert.Equal(t, "eth7", name)
}

func TestLinkRemovalReapsDerivedState(t *testing.T) {
	w, sim, st := newTestWatcher(managedOnly("eth1"))
	sim.Links = []transport.Link{{Index: 3, Name: "eth1"}}
	sim.Gateways[3] = netip.MustParseAddr("192.168.1.1")
	require.NoError(t, w.PrimeLinks())

	addr := netip.MustParseAddr("192.168.1.100")
	w.handleAddress(transport.AddrEvent{LinkIndex: 3, Addr: addr, PrefixLen: 24, Scope: transport.ScopeGlobal, New: true})
	require.True(t, sim.HasRoute(3, 203))

	w.handleLink(transport.LinkEvent{Index: 3, Name: "eth1", Gone: true})

	assert.Empty(t, sim.Rules)
	assert.Empty(t, sim.Routes)
	assert.False(t, st.HasRules(addr))
	_, ok := st.NameOf(3)
	assert.False(t, ok)
}

func TestLinkUpsert(t *testing.T) {
	w, _, st := newTestWatcher(all)
	w.handleLink(transport.LinkEvent{Index: 9, Name: "wg0"})
	idx, ok := st.IndexOf("wg0")
	require.True(t, ok)
	assert.Equal(t, 9, idx)
}

func TestRouteEventDispatchesHook(t *testing.T) {
	root := t.TempDir()
	out := filepath.Join(root, "routes.txt")
	hookDir := filepath.Join(root, "routes.d")
	require.NoError(t, os.MkdirAll(hookDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(hookDir, "01-route.sh"),
		[]byte("#!/bin/sh\nprintf '%s|%s|%s\\n' \"$LINK\" \"$STATE\" \"$EVENT\" >> "+out+"\n"), 0o755))

	log := logging.New(logging.Config{Level: logging.LevelError})
	sim := transport.NewSimKernel()
	sim.Links = []transport.Link{{Index: 3, Name: "eth1"}}
	st := netstate.New()
	eng := routing.New(sim, st, 0, log)
	disp := hooks.NewDispatcher(root, 5*time.Second, system.Current(), nil, log)
	w := New(sim, st, eng, disp, all, managedOnly(), log)
	require.NoError(t, w.PrimeLinks())

	w.handleRoute(context.Background(), transport.RouteEvent{LinkIndex: 3, Table: 254, New: true})

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "eth1|routes|new", strings.TrimSpace(string(data)))
}

func TestRouteEventWithoutLinkIgnored(t *testing.T) {
	w, _, _ := newTestWatcher(all)
	// No dispatcher configured and no link known; must be a no-op.
	w.handleRoute(context.Background(), transport.RouteEvent{LinkIndex: 0, Table: 254, New: true})
}

func TestSubscriptionLossIsFatal(t *testing.T) {
	w, sim, _ := newTestWatcher(all)

	ctx := context.Background()
	done := make(chan error, 1)
	go func() { done <- w.WatchAddresses(ctx) }()

	// Simulate transport failure: the subscription channel closes while
	// the context is still live.
	sim.CloseAddrStream()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not exit on subscription loss")
	}
}
