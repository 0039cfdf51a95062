// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dhclient

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssahani/netevd/internal/config"
	"github.com/ssahani/netevd/internal/hooks"
	"github.com/ssahani/netevd/internal/logging"
	"github.com/ssahani/netevd/internal/netstate"
	"github.com/ssahani/netevd/internal/system"
)

func TestLeaseFileToHook(t *testing.T) {
	root := t.TempDir()
	leaseDir := t.TempDir()
	leasePath := filepath.Join(leaseDir, "dhclient.leases")
	out := filepath.Join(root, "out.txt")

	hookDir := system.ScriptDir(root, "routable")
	require.NoError(t, os.MkdirAll(hookDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(hookDir, "01-record.sh"),
		[]byte("#!/bin/sh\nprintf '%s|%s|%s|%s\\n' \"$LINK\" \"$STATE\" \"$DHCP_ADDRESS\" \"$DHCP_GATEWAY\" >> "+out+"\n"), 0o755))

	log := logging.New(logging.Config{Level: logging.LevelError})
	st := netstate.New()
	st.UpsertLink(2, "eth0")
	disp := hooks.NewDispatcher(root, 5*time.Second, system.Current(), nil, log)

	cfg := config.DhclientConfig{LeaseFile: leasePath}
	l := New(cfg, func(string) bool { return true }, st, disp, nil, nil, log)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = l.Run(ctx)
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	// Give the watcher a moment to arm before the write lands.
	time.Sleep(100 * time.Millisecond)

	lease := `
lease {
  interface "eth0";
  fixed-address 10.0.0.5;
  option routers 10.0.0.1;
}
`
	require.NoError(t, os.WriteFile(leasePath, []byte(lease), 0o644))

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if data, err := os.ReadFile(out); err == nil && len(data) > 0 {
			assert.Equal(t, "eth0|routable|10.0.0.5|10.0.0.1", strings.TrimSpace(string(data)))
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("hook did not fire for new lease")
}

func TestDuplicateLeaseSuppressed(t *testing.T) {
	log := logging.New(logging.Config{Level: logging.LevelError})
	st := netstate.New()
	st.UpsertLink(2, "eth0")

	root := t.TempDir()
	out := filepath.Join(root, "count.txt")
	hookDir := system.ScriptDir(root, "routable")
	require.NoError(t, os.MkdirAll(hookDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(hookDir, "01-count.sh"),
		[]byte("#!/bin/sh\necho x >> "+out+"\n"), 0o755))

	leasePath := filepath.Join(t.TempDir(), "dhclient.leases")
	lease := "lease {\n  interface \"eth0\";\n  fixed-address 10.0.0.5;\n}\n"
	require.NoError(t, os.WriteFile(leasePath, []byte(lease), 0o644))

	disp := hooks.NewDispatcher(root, 5*time.Second, system.Current(), nil, log)
	l := New(config.DhclientConfig{LeaseFile: leasePath}, func(string) bool { return true }, st, disp, nil, nil, log)

	ctx := context.Background()
	l.processLeaseFile(ctx)
	l.processLeaseFile(ctx)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, 1, len(strings.Fields(string(data))), "unchanged lease must not re-fire hooks")
}

func TestInvalidLeaseFieldsDropped(t *testing.T) {
	log := logging.New(logging.Config{Level: logging.LevelError})
	st := netstate.New()
	st.UpsertLink(2, "eth0")

	root := t.TempDir()
	out := filepath.Join(root, "env.txt")
	hookDir := system.ScriptDir(root, "routable")
	require.NoError(t, os.MkdirAll(hookDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(hookDir, "01-env.sh"),
		[]byte("#!/bin/sh\nprintf '%s|%s\\n' \"$DHCP_ADDRESS\" \"$DHCP_HOSTNAME\" >> "+out+"\n"), 0o755))

	disp := hooks.NewDispatcher(root, 5*time.Second, system.Current(), nil, log)
	l := New(config.DhclientConfig{}, func(string) bool { return true }, st, disp, nil, nil, log)

	l.emit(context.Background(), "eth0", Lease{
		Interface: "eth0",
		Address:   "10.0.0.5",
		Hostname:  "bad host name",
	})

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	// The event fired with the offending key absent.
	assert.Equal(t, "10.0.0.5|", strings.TrimSpace(string(data)))
}
