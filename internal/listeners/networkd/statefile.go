// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package networkd

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-ini/ini"

	"github.com/ssahani/netevd/internal/errors"
)

// LinkState is the structured per-link state systemd-networkd writes to
// /run/systemd/netif/links/<ifindex>, a flat KEY=value file.
type LinkState struct {
	AdminState       string
	OperState        string
	CarrierState     string
	AddressState     string
	IPv4AddressState string
	IPv6AddressState string
	OnlineState      string
	DNS              []string
	Domains          []string
	Gateway          string
	Gateway6         string
}

// ManagerState is the structured manager state from
// /run/systemd/netif/state.
type ManagerState struct {
	OperState        string
	CarrierState     string
	AddressState     string
	IPv4AddressState string
	IPv6AddressState string
	OnlineState      string
}

// ParseLinkState reads the state file for an ifindex from dir. A
// missing file is not an error; networkd may not manage the link.
func ParseLinkState(dir string, ifindex int) (LinkState, error) {
	path := filepath.Join(dir, strconv.Itoa(ifindex))

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return LinkState{}, nil
	}

	f, err := ini.Load(path)
	if err != nil {
		return LinkState{}, errors.Wrapf(err, errors.KindInternal, "failed to parse link state file %s", path)
	}
	sec := f.Section("")

	return LinkState{
		AdminState:       sec.Key("ADMIN_STATE").String(),
		OperState:        sec.Key("OPER_STATE").String(),
		CarrierState:     sec.Key("CARRIER_STATE").String(),
		AddressState:     sec.Key("ADDRESS_STATE").String(),
		IPv4AddressState: sec.Key("IPV4_ADDRESS_STATE").String(),
		IPv6AddressState: sec.Key("IPV6_ADDRESS_STATE").String(),
		OnlineState:      sec.Key("ONLINE_STATE").String(),
		DNS:              strings.Fields(sec.Key("DNS").String()),
		Domains:          strings.Fields(sec.Key("DOMAINS").String()),
		Gateway:          sec.Key("GATEWAY").String(),
		Gateway6:         sec.Key("GATEWAY6").String(),
	}, nil
}

// ParseManagerState reads the manager state file. A missing file is not
// an error.
func ParseManagerState(path string) (ManagerState, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return ManagerState{}, nil
	}

	f, err := ini.Load(path)
	if err != nil {
		return ManagerState{}, errors.Wrapf(err, errors.KindInternal, "failed to parse manager state file %s", path)
	}
	sec := f.Section("")

	return ManagerState{
		OperState:        sec.Key("OPER_STATE").String(),
		CarrierState:     sec.Key("CARRIER_STATE").String(),
		AddressState:     sec.Key("ADDRESS_STATE").String(),
		IPv4AddressState: sec.Key("IPV4_ADDRESS_STATE").String(),
		IPv6AddressState: sec.Key("IPV6_ADDRESS_STATE").String(),
		OnlineState:      sec.Key("ONLINE_STATE").String(),
	}, nil
}

// Routable reports whether the link's operational state is routable.
func (s LinkState) Routable() bool {
	return s.OperState == "routable"
}
