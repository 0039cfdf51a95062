// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package transport

import (
	"fmt"
	"net/netip"
	"sync"

	"github.com/ssahani/netevd/internal/netstate"
)

// SimKernel is a stateful in-memory Kernel for tests and dry runs. It
// tracks installed routes and rules and can inject notification events
// and per-call failures.
type SimKernel struct {
	mu sync.Mutex

	Links    []Link
	Addrs    map[int][]AddrInfo
	Gateways map[int]netip.Addr

	Routes map[string]int // "linkIndex/table" -> 1 while installed
	Rules  map[string]int // "dir/addr/table" -> 1 while installed

	// FailOn makes the named call return an error: "AddRoute",
	// "AddRuleFrom", "AddRuleTo", "RemoveRoutes", "RemoveRule".
	FailOn map[string]error

	// Calls records mutating operations in order.
	Calls []string

	addrCh  chan AddrEvent
	linkCh  chan LinkEvent
	routeCh chan RouteEvent

	// addrClose guards addrCh, which both CloseAddrStream and the
	// subscription's done channel may close.
	addrClose sync.Once
}

// NewSimKernel creates an empty simulated kernel.
func NewSimKernel() *SimKernel {
	return &SimKernel{
		Addrs:    make(map[int][]AddrInfo),
		Gateways: make(map[int]netip.Addr),
		Routes:   make(map[string]int),
		Rules:    make(map[string]int),
		FailOn:   make(map[string]error),
		addrCh:   make(chan AddrEvent, 64),
		linkCh:   make(chan LinkEvent, 64),
		routeCh:  make(chan RouteEvent, 64),
	}
}

func routeSimKey(linkIndex, table int) string {
	return fmt.Sprintf("%d/%d", linkIndex, table)
}

func ruleSimKey(dir netstate.Direction, addr netip.Addr, table int) string {
	return fmt.Sprintf("%s/%s/%d", dir, addr, table)
}

// AddRoute records a route installation.
func (s *SimKernel) AddRoute(dest netip.Prefix, gw netip.Addr, linkIndex, metric, table int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, "AddRoute "+routeSimKey(linkIndex, table))
	if err := s.FailOn["AddRoute"]; err != nil {
		return err
	}
	// Add over an existing route is "already exists", which is success.
	s.Routes[routeSimKey(linkIndex, table)] = 1
	return nil
}

// RemoveRoutes drops any recorded route for (linkIndex, table).
func (s *SimKernel) RemoveRoutes(linkIndex, table int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, "RemoveRoutes "+routeSimKey(linkIndex, table))
	if err := s.FailOn["RemoveRoutes"]; err != nil {
		return err
	}
	delete(s.Routes, routeSimKey(linkIndex, table))
	return nil
}

// AddRule records a rule installation.
func (s *SimKernel) AddRule(addr netip.Addr, dir netstate.Direction, table, priority int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, "AddRule "+ruleSimKey(dir, addr, table))
	key := "AddRuleFrom"
	if dir == netstate.RuleTo {
		key = "AddRuleTo"
	}
	if err := s.FailOn[key]; err != nil {
		return err
	}
	s.Rules[ruleSimKey(dir, addr, table)] = 1
	return nil
}

// RemoveRule drops a recorded rule. Removing an absent rule is success.
func (s *SimKernel) RemoveRule(addr netip.Addr, dir netstate.Direction, table int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, "RemoveRule "+ruleSimKey(dir, addr, table))
	if err := s.FailOn["RemoveRule"]; err != nil {
		return err
	}
	delete(s.Rules, ruleSimKey(dir, addr, table))
	return nil
}

// ListAddresses returns the configured addresses for a link.
func (s *SimKernel) ListAddresses(linkIndex int) ([]AddrInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]AddrInfo(nil), s.Addrs[linkIndex]...), nil
}

// ListLinks returns the configured link snapshot.
func (s *SimKernel) ListLinks() ([]Link, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Link(nil), s.Links...), nil
}

// DiscoverGateway returns the configured gateway for a link, if any.
func (s *SimKernel) DiscoverGateway(linkIndex, family int) (netip.Addr, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	gw, ok := s.Gateways[linkIndex]
	if !ok || FamilyOf(gw) != family {
		return netip.Addr{}, false, nil
	}
	return gw, true, nil
}

// SubscribeAddresses returns the injectable address event channel.
func (s *SimKernel) SubscribeAddresses(done <-chan struct{}) (<-chan AddrEvent, error) {
	go func() {
		<-done
		s.addrClose.Do(func() { close(s.addrCh) })
	}()
	return s.addrCh, nil
}

// SubscribeLinks returns the injectable link event channel.
func (s *SimKernel) SubscribeLinks(done <-chan struct{}) (<-chan LinkEvent, error) {
	go func() {
		<-done
		close(s.linkCh)
	}()
	return s.linkCh, nil
}

// SubscribeRoutes returns the injectable route event channel.
func (s *SimKernel) SubscribeRoutes(done <-chan struct{}) (<-chan RouteEvent, error) {
	go func() {
		<-done
		close(s.routeCh)
	}()
	return s.routeCh, nil
}

// Close is a no-op for the simulator.
func (s *SimKernel) Close() {}

// InjectAddr delivers an address event to subscribers.
func (s *SimKernel) InjectAddr(ev AddrEvent) { s.addrCh <- ev }

// InjectLink delivers a link event to subscribers.
func (s *SimKernel) InjectLink(ev LinkEvent) { s.linkCh <- ev }

// InjectRoute delivers a route event to subscribers.
func (s *SimKernel) InjectRoute(ev RouteEvent) { s.routeCh <- ev }

// CloseAddrStream simulates transport loss on the address subscription.
func (s *SimKernel) CloseAddrStream() { s.addrClose.Do(func() { close(s.addrCh) }) }

// HasRoute reports whether a route is installed for (linkIndex, table).
func (s *SimKernel) HasRoute(linkIndex, table int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Routes[routeSimKey(linkIndex, table)] != 0
}

// HasRule reports whether a rule is installed.
func (s *SimKernel) HasRule(dir netstate.Direction, addr netip.Addr, table int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Rules[ruleSimKey(dir, addr, table)] != 0
}
