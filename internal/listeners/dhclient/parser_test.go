// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package dhclient

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSingleLease(t *testing.T) {
	src := `
lease {
  interface "eth0";
  fixed-address 192.168.1.100;
  option subnet-mask 255.255.255.0;
  option routers 192.168.1.1;
  option domain-name-servers 8.8.8.8, 8.8.4.4;
  option domain-name "example.com";
  option host-name "myhost";
}
`
	leases, err := ParseLeases(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, leases, 1)

	l := leases["eth0"]
	assert.Equal(t, "eth0", l.Interface)
	assert.Equal(t, "192.168.1.100", l.Address)
	assert.Equal(t, "255.255.255.0", l.SubnetMask)
	assert.Equal(t, []string{"192.168.1.1"}, l.Routers)
	assert.Equal(t, []string{"8.8.8.8", "8.8.4.4"}, l.DNS)
	assert.Equal(t, "example.com", l.Domain)
	assert.Equal(t, "myhost", l.Hostname)
}

func TestLaterLeaseWins(t *testing.T) {
	src := `
lease {
  interface "eth0";
  fixed-address 10.0.0.4;
  option routers 10.0.0.254;
}
lease {
  interface "eth0";
  fixed-address 10.0.0.5;
  option routers 10.0.0.1;
}
`
	leases, err := ParseLeases(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, leases, 1)

	l := leases["eth0"]
	assert.Equal(t, "10.0.0.5", l.Address)
	assert.Equal(t, []string{"10.0.0.1"}, l.Routers)
}

func TestMultipleInterfaces(t *testing.T) {
	src := `
lease {
  interface "eth0";
  fixed-address 10.0.0.5;
}
lease {
  interface "eth1";
  fixed-address 172.16.0.9;
}
`
	leases, err := ParseLeases(strings.NewReader(src))
	require.NoError(t, err)
	assert.Len(t, leases, 2)
	assert.Equal(t, "10.0.0.5", leases["eth0"].Address)
	assert.Equal(t, "172.16.0.9", leases["eth1"].Address)
}

func TestBlockWithoutInterfaceDropped(t *testing.T) {
	src := `
lease {
  fixed-address 10.0.0.5;
}
lease {
  interface "eth0";
  fixed-address 10.0.0.6;
}
`
	leases, err := ParseLeases(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, leases, 1)
	assert.Equal(t, "10.0.0.6", leases["eth0"].Address)
}

func TestCommentsAndBlankLines(t *testing.T) {
	src := `
# dhclient lease database
lease {
  interface "eth0"; # primary uplink

  fixed-address 10.0.0.5;
}
`
	leases, err := ParseLeases(strings.NewReader(src))
	require.NoError(t, err)
	require.Len(t, leases, 1)
	assert.Equal(t, "10.0.0.5", leases["eth0"].Address)
}

func TestGarbageOutsideBlocksIgnored(t *testing.T) {
	src := `
stray statement;
lease {
  interface "eth0";
  fixed-address 10.0.0.5;
  unknown-statement with args;
}
`
	leases, err := ParseLeases(strings.NewReader(src))
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", leases["eth0"].Address)
}

func TestEmptyInput(t *testing.T) {
	leases, err := ParseLeases(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, leases)
}
