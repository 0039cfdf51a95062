// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package networkd

import (
	"context"
	"encoding/json"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssahani/netevd/internal/config"
	"github.com/ssahani/netevd/internal/hooks"
	"github.com/ssahani/netevd/internal/logging"
	"github.com/ssahani/netevd/internal/netstate"
	"github.com/ssahani/netevd/internal/system"
	"github.com/ssahani/netevd/internal/transport"
)

func TestParseLinkPath(t *testing.T) {
	cases := []struct {
		path string
		want int
		ok   bool
	}{
		{"/org/freedesktop/network1/link/_33", 3, true},
		{"/org/freedesktop/network1/link/_31", 1, true},
		{"/org/freedesktop/network1/link/_310", 10, true},
		{"/org/freedesktop/network1/link/_3128", 128, true},
		{"/org/freedesktop/network1", 0, false},
		{"/org/freedesktop/network1/link/bogus", 0, false},
		{"/org/freedesktop/resolve1/link/_33", 0, false},
	}
	for _, c := range cases {
		got, ok := parseLinkPath(c.path)
		if got != c.want || ok != c.ok {
			t.Errorf("parseLinkPath(%q) = %d,%v, want %d,%v", c.path, got, ok, c.want, c.ok)
		}
	}
}

func writeStateFile(t *testing.T, dir string, ifindex int, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, strconv.Itoa(ifindex)), []byte(content), 0o644))
}

func TestParseLinkState(t *testing.T) {
	dir := t.TempDir()
	writeStateFile(t, dir, 3, `# This is private data. Do not parse.
ADMIN_STATE=configured
OPER_STATE=routable
CARRIER_STATE=carrier
ADDRESS_STATE=routable
IPV4_ADDRESS_STATE=routable
IPV6_ADDRESS_STATE=degraded
ONLINE_STATE=online
DNS=8.8.8.8 8.8.4.4
DOMAINS=example.com
`)

	state, err := ParseLinkState(dir, 3)
	require.NoError(t, err)

	assert.Equal(t, "configured", state.AdminState)
	assert.Equal(t, "routable", state.OperState)
	assert.Equal(t, "carrier", state.CarrierState)
	assert.Equal(t, []string{"8.8.8.8", "8.8.4.4"}, state.DNS)
	assert.Equal(t, []string{"example.com"}, state.Domains)
	assert.True(t, state.Routable())
}

func TestParseLinkStateMissingFile(t *testing.T) {
	state, err := ParseLinkState(t.TempDir(), 42)
	require.NoError(t, err)
	assert.Equal(t, LinkState{}, state)
	assert.False(t, state.Routable())
}

func TestParseManagerState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state")
	require.NoError(t, os.WriteFile(path, []byte("OPER_STATE=routable\nONLINE_STATE=online\n"), 0o644))

	state, err := ParseManagerState(path)
	require.NoError(t, err)
	assert.Equal(t, "routable", state.OperState)
	assert.Equal(t, "online", state.OnlineState)
}

func TestBuildLinkDescribe(t *testing.T) {
	state := LinkState{
		OperState: "routable",
		DNS:       []string{"8.8.8.8"},
	}
	out, err := BuildLinkDescribe(3, "eth1", state, []string{"192.168.1.100"})
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "eth1", decoded["ifname"])
	assert.Equal(t, "routable", decoded["oper_state"])
	// Empty fields are omitted entirely.
	_, present := decoded["carrier_state"]
	assert.False(t, present)
}

func newTestListener(t *testing.T, emitJSON bool) (*Listener, *transport.SimKernel, string) {
	t.Helper()
	root := t.TempDir()
	log := logging.New(logging.Config{Level: logging.LevelError})

	sim := transport.NewSimKernel()
	sim.Links = []transport.Link{{Index: 3, Name: "eth1"}}
	sim.Addrs[3] = []transport.AddrInfo{
		{Addr: netip.MustParseAddr("192.168.1.100"), Scope: transport.ScopeGlobal},
		{Addr: netip.MustParseAddr("fe80::1"), Scope: transport.ScopeLink},
	}

	st := netstate.New()
	st.UpsertLink(3, "eth1")

	disp := hooks.NewDispatcher(root, 5*time.Second, system.Current(), nil, log)
	l := New(config.NetworkdConfig{EmitJSON: emitJSON}, func(string) bool { return true }, st, sim, disp, nil, nil, log)
	l.linksDir = t.TempDir()
	return l, sim, root
}

func TestHandleLinkSignalDispatchesHook(t *testing.T) {
	l, _, root := newTestListener(t, true)
	out := filepath.Join(root, "out.txt")

	hookDir := system.ScriptDir(root, "routable")
	require.NoError(t, os.MkdirAll(hookDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(hookDir, "01-record.sh"),
		[]byte("#!/bin/sh\nprintf '%s|%s|%s|%s\\n' \"$LINK\" \"$STATE\" \"$ADDRESSES\" \"$JSON\" >> "+out+"\n"), 0o755))

	writeStateFile(t, l.linksDir, 3, "OPER_STATE=routable\n")
	l.handleLinkSignal(context.Background(), 3)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	line := strings.TrimSpace(string(data))

	parts := strings.SplitN(line, "|", 4)
	require.Len(t, parts, 4)
	assert.Equal(t, "eth1", parts[0])
	assert.Equal(t, "routable", parts[1])
	// Only the global address is exported.
	assert.Equal(t, "192.168.1.100", parts[2])

	var describe map[string]any
	require.NoError(t, json.Unmarshal([]byte(parts[3]), &describe))
	assert.Equal(t, "routable", describe["oper_state"])
}

func TestHandleLinkSignalDeduplicates(t *testing.T) {
	l, _, root := newTestListener(t, false)
	out := filepath.Join(root, "count.txt")

	hookDir := system.ScriptDir(root, "routable")
	require.NoError(t, os.MkdirAll(hookDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(hookDir, "01-count.sh"),
		[]byte("#!/bin/sh\necho x >> "+out+"\n"), 0o755))

	writeStateFile(t, l.linksDir, 3, "OPER_STATE=routable\n")
	l.handleLinkSignal(context.Background(), 3)
	l.handleLinkSignal(context.Background(), 3)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, 1, len(strings.Fields(string(data))), "duplicate state must not re-fire hooks")
}

func TestHandleManagerSignal(t *testing.T) {
	l, _, root := newTestListener(t, false)
	out := filepath.Join(root, "manager.txt")

	hookDir := system.ScriptDir(root, "manager")
	require.NoError(t, os.MkdirAll(hookDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(hookDir, "01-manager.sh"),
		[]byte("#!/bin/sh\nprintf '%s|%s\\n' \"$STATE\" \"$MANAGER_STATE\" >> "+out+"\n"), 0o755))

	l.managerFile = filepath.Join(t.TempDir(), "state")
	require.NoError(t, os.WriteFile(l.managerFile, []byte("OPER_STATE=routable\nONLINE_STATE=online\n"), 0o644))

	l.handleManagerSignal(context.Background())
	// Unchanged manager state is deduplicated.
	l.handleManagerSignal(context.Background())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "manager|routable", strings.TrimSpace(string(data)))
}

func TestHandleLinkSignalUnknownStateDropped(t *testing.T) {
	l, _, root := newTestListener(t, false)
	out := filepath.Join(root, "never.txt")

	hookDir := system.ScriptDir(root, "routable")
	require.NoError(t, os.MkdirAll(hookDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(hookDir, "01-never.sh"),
		[]byte("#!/bin/sh\necho ran >> "+out+"\n"), 0o755))

	writeStateFile(t, l.linksDir, 3, "OPER_STATE=dormant\n")
	l.handleLinkSignal(context.Background(), 3)

	_, err := os.Stat(out)
	assert.True(t, os.IsNotExist(err), "dormant has no hook directory")
}
