// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package netstate holds the daemon's shared in-memory projection of
// kernel network state: link name/index mappings, known per-interface
// addresses, and the routes and policy rules this daemon created.
//
// The model is pure data under a single RWMutex. Writers are the
// watcher and the policy-routing engine; listeners read snapshots when
// filling hook metadata. Multi-field mutations happen under one
// exclusive acquisition so readers never observe a rule pair without
// its route.
package netstate

import (
	"net/netip"
	"sync"
)

// Direction distinguishes the two policy rules kept per address.
type Direction int

const (
	// RuleFrom matches packets whose source equals the address.
	RuleFrom Direction = iota
	// RuleTo matches packets whose destination equals the address.
	RuleTo
)

func (d Direction) String() string {
	if d == RuleFrom {
		return "from"
	}
	return "to"
}

// Route is a route entry this daemon installed, keyed by (link index, table).
type Route struct {
	LinkIndex int
	Gateway   netip.Addr
	Table     int
}

// Rule is a policy rule this daemon installed, keyed by address.
type Rule struct {
	Address netip.Addr
	Table   int
	Dir     Direction
}

type routeKey struct {
	index int
	table int
}

// State is the shared network state model.
type State struct {
	mu sync.RWMutex

	byName  map[string]int
	byIndex map[int]string
	addrs   map[int]map[netip.Addr]struct{}
	routes  map[routeKey]Route
	from    map[netip.Addr]Rule
	to      map[netip.Addr]Rule
}

// New creates an empty state model.
func New() *State {
	return &State{
		byName:  make(map[string]int),
		byIndex: make(map[int]string),
		addrs:   make(map[int]map[netip.Addr]struct{}),
		routes:  make(map[routeKey]Route),
		from:    make(map[netip.Addr]Rule),
		to:      make(map[netip.Addr]Rule),
	}
}

// UpsertLink records or renames a link. A name reused by a new index
// (interface destroyed and recreated) displaces the stale mapping so
// the name/index relation stays one-to-one.
func (s *State) UpsertLink(index int, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.byIndex[index]; ok && old != name {
		delete(s.byName, old)
	}
	if oldIdx, ok := s.byName[name]; ok && oldIdx != index {
		delete(s.byIndex, oldIdx)
	}
	s.byName[name] = index
	s.byIndex[index] = name
}

// RemoveLink forgets a link, its addresses, and any routes placed in
// its tables. Rules are reaped by the policy engine before this runs.
func (s *State) RemoveLink(index int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if name, ok := s.byIndex[index]; ok {
		delete(s.byName, name)
		delete(s.byIndex, index)
	}
	delete(s.addrs, index)
	for k := range s.routes {
		if k.index == index {
			delete(s.routes, k)
		}
	}
}

// NameOf returns the name for a link index.
func (s *State) NameOf(index int) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	name, ok := s.byIndex[index]
	return name, ok
}

// IndexOf returns the index for a link name.
func (s *State) IndexOf(name string) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	index, ok := s.byName[name]
	return index, ok
}

// Links returns a snapshot of the index-to-name map.
func (s *State) Links() map[int]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int]string, len(s.byIndex))
	for k, v := range s.byIndex {
		out[k] = v
	}
	return out
}

// AddAddress records an address sighting on a link.
func (s *State) AddAddress(index int, addr netip.Addr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.addrs[index]
	if !ok {
		set = make(map[netip.Addr]struct{})
		s.addrs[index] = set
	}
	set[addr] = struct{}{}
}

// RemoveAddress forgets an address on a link.
func (s *State) RemoveAddress(index int, addr netip.Addr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.addrs[index]; ok {
		delete(set, addr)
		if len(set) == 0 {
			delete(s.addrs, index)
		}
	}
}

// AddressesOf returns a snapshot of the addresses known on a link.
func (s *State) AddressesOf(index int) []netip.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.addrs[index]
	out := make([]netip.Addr, 0, len(set))
	for a := range set {
		out = append(out, a)
	}
	return out
}

// RecordRoute records a daemon-created route.
func (s *State) RecordRoute(index, table int, gateway netip.Addr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordRouteLocked(index, table, gateway)
}

// ForgetRoute drops the route entry for (index, table).
func (s *State) ForgetRoute(index, table int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.routes, routeKey{index: index, table: table})
}

// RouteFor returns the recorded route for (index, table).
func (s *State) RouteFor(index, table int) (Route, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.routes[routeKey{index: index, table: table}]
	return r, ok
}

// RecordRule records a daemon-created policy rule.
func (s *State) RecordRule(addr netip.Addr, dir Direction, table int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordRuleLocked(addr, dir, table)
}

// ForgetRule drops the rule entry for an address and direction.
func (s *State) ForgetRule(addr netip.Addr, dir Direction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dir == RuleFrom {
		delete(s.from, addr)
	} else {
		delete(s.to, addr)
	}
}

// RuleTable returns the table a tracked address's rules point at.
func (s *State) RuleTable(addr netip.Addr) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.from[addr]; ok {
		return r.Table, true
	}
	if r, ok := s.to[addr]; ok {
		return r.Table, true
	}
	return 0, false
}

// HasRules reports whether any rule is tracked for the address.
func (s *State) HasRules(addr netip.Addr) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, inFrom := s.from[addr]
	_, inTo := s.to[addr]
	return inFrom || inTo
}

// AddressesForTable returns every address whose tracked rules reference
// the given table. Used to reap derived state when a link disappears.
func (s *State) AddressesForTable(table int) []netip.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[netip.Addr]struct{})
	for a, r := range s.from {
		if r.Table == table {
			seen[a] = struct{}{}
		}
	}
	for a, r := range s.to {
		if r.Table == table {
			seen[a] = struct{}{}
		}
	}
	out := make([]netip.Addr, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	return out
}

// RuleCountForTable returns how many rule entries reference the table.
func (s *State) RuleCountForTable(table int) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, r := range s.from {
		if r.Table == table {
			n++
		}
	}
	for _, r := range s.to {
		if r.Table == table {
			n++
		}
	}
	return n
}

// RecordPolicy records the route and both rules for an address in one
// exclusive acquisition, so readers never see a partial triple.
func (s *State) RecordPolicy(index, table int, gateway, addr netip.Addr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordRouteLocked(index, table, gateway)
	s.recordRuleLocked(addr, RuleFrom, table)
	s.recordRuleLocked(addr, RuleTo, table)
}

// DropRules removes both rule entries for an address in one exclusive
// acquisition and reports whether any other tracked address still
// references the same table.
func (s *State) DropRules(addr netip.Addr) (othersRemain bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	table := -1
	if r, ok := s.from[addr]; ok {
		table = r.Table
	} else if r, ok := s.to[addr]; ok {
		table = r.Table
	}
	delete(s.from, addr)
	delete(s.to, addr)
	if table < 0 {
		return false
	}
	for _, r := range s.from {
		if r.Table == table {
			return true
		}
	}
	for _, r := range s.to {
		if r.Table == table {
			return true
		}
	}
	return false
}

func (s *State) recordRouteLocked(index, table int, gateway netip.Addr) {
	s.routes[routeKey{index: index, table: table}] = Route{
		LinkIndex: index,
		Gateway:   gateway,
		Table:     table,
	}
}

func (s *State) recordRuleLocked(addr netip.Addr, dir Direction, table int) {
	rule := Rule{Address: addr, Table: table, Dir: dir}
	if dir == RuleFrom {
		s.from[addr] = rule
	} else {
		s.to[addr] = rule
	}
}
