// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package networkd

import (
	"encoding/json"

	"github.com/ssahani/netevd/internal/errors"
)

// LinkDescribe is the JSON shape exported in the hook environment when
// backends.systemd_networkd.emit_json is enabled. Empty fields are
// omitted.
type LinkDescribe struct {
	IfIndex          int      `json:"ifindex"`
	IfName           string   `json:"ifname"`
	AdminState       string   `json:"admin_state,omitempty"`
	OperState        string   `json:"oper_state,omitempty"`
	CarrierState     string   `json:"carrier_state,omitempty"`
	AddressState     string   `json:"address_state,omitempty"`
	IPv4AddressState string   `json:"ipv4_address_state,omitempty"`
	IPv6AddressState string   `json:"ipv6_address_state,omitempty"`
	OnlineState      string   `json:"online_state,omitempty"`
	DNS              []string `json:"dns,omitempty"`
	Domains          []string `json:"domains,omitempty"`
	Addresses        []string `json:"addresses,omitempty"`
	Gateway          string   `json:"gateway,omitempty"`
	Gateway6         string   `json:"gateway6,omitempty"`
}

// BuildLinkDescribe serializes the link state for the JSON payload key.
func BuildLinkDescribe(ifindex int, ifname string, state LinkState, addresses []string) (string, error) {
	describe := LinkDescribe{
		IfIndex:          ifindex,
		IfName:           ifname,
		AdminState:       state.AdminState,
		OperState:        state.OperState,
		CarrierState:     state.CarrierState,
		AddressState:     state.AddressState,
		IPv4AddressState: state.IPv4AddressState,
		IPv6AddressState: state.IPv6AddressState,
		OnlineState:      state.OnlineState,
		DNS:              state.DNS,
		Domains:          state.Domains,
		Addresses:        addresses,
		Gateway:          state.Gateway,
		Gateway6:         state.Gateway6,
	}

	data, err := json.Marshal(describe)
	if err != nil {
		return "", errors.Wrap(err, errors.KindInternal, "failed to serialize link describe")
	}
	return string(data), nil
}
