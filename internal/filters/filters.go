// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package filters evaluates operator-defined match rules against
// normalized events before hooks fire. The first matching execute or
// ignore filter decides; a matching log filter records the match and
// evaluation continues. With no deciding match, the event executes.
package filters

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/ssahani/netevd/internal/event"
	"github.com/ssahani/netevd/internal/logging"
)

// Action is what a matching filter does with the event.
type Action string

const (
	ActionExecute Action = "execute"
	ActionIgnore  Action = "ignore"
	ActionLog     Action = "log"
)

// Match describes which events a filter applies to. Empty fields match
// everything.
type Match struct {
	Interface        string `yaml:"interface,omitempty"`
	InterfacePattern string `yaml:"interface_pattern,omitempty"`
	EventType        string `yaml:"event_type,omitempty"`
	IPFamily         string `yaml:"ip_family,omitempty"` // ipv4, ipv6, any
	Backend          string `yaml:"backend,omitempty"`
	Condition        string `yaml:"condition,omitempty"`
}

// Filter pairs a match rule with an action.
type Filter struct {
	Match  Match  `yaml:"match"`
	Action Action `yaml:"action"`
}

// Engine evaluates a filter chain.
type Engine struct {
	filters []Filter
	logger  *logging.Logger
}

// NewEngine creates a filter engine. A nil or empty chain executes
// everything.
func NewEngine(filters []Filter, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.Default().WithComponent("filters")
	}
	return &Engine{filters: filters, logger: logger}
}

// ShouldExecute reports whether hooks should run for the event.
func (e *Engine) ShouldExecute(ev event.Event) bool {
	for _, f := range e.filters {
		if !f.matches(ev) {
			continue
		}
		switch f.Action {
		case ActionExecute:
			return true
		case ActionIgnore:
			return false
		case ActionLog:
			e.logger.Info("filter matched (log only)",
				"link", ev.Link,
				"state", ev.State,
				"backend", ev.Backend)
		}
	}
	return true
}

func (f Filter) matches(ev event.Event) bool {
	m := f.Match

	if m.Interface != "" && m.Interface != ev.Link {
		return false
	}

	if m.InterfacePattern != "" {
		re, err := regexp.Compile("^" + strings.ReplaceAll(regexp.QuoteMeta(m.InterfacePattern), `\*`, ".*") + "$")
		if err != nil || !re.MatchString(ev.Link) {
			return false
		}
	}

	if m.EventType != "" && m.EventType != string(ev.State) {
		return false
	}

	switch strings.ToLower(m.IPFamily) {
	case "", "any":
	case "ipv4":
		if !hasFamily(ev, false) {
			return false
		}
	case "ipv6":
		if !hasFamily(ev, true) {
			return false
		}
	default:
		return false
	}

	if m.Backend != "" && m.Backend != ev.Backend {
		return false
	}

	if m.Condition != "" && !evalCondition(m.Condition, ev) {
		return false
	}

	return true
}

func hasFamily(ev event.Event, v6 bool) bool {
	for _, a := range ev.Addresses {
		if a.Is6() == v6 {
			return true
		}
	}
	return false
}

// evalCondition handles the small expression language inherited from
// the configuration format: has_gateway, dns_count </> N, and
// interface == "name". Unrecognized conditions match.
func evalCondition(cond string, ev event.Event) bool {
	if strings.Contains(cond, "has_gateway") {
		return ev.Payload["DHCP_GATEWAY"] != ""
	}

	if strings.Contains(cond, "dns_count") {
		count := len(strings.Fields(ev.Payload["DHCP_DNS"]))
		if pos := strings.IndexByte(cond, '>'); pos >= 0 {
			if threshold, err := strconv.Atoi(strings.TrimSpace(cond[pos+1:])); err == nil {
				return count > threshold
			}
		}
		if pos := strings.IndexByte(cond, '<'); pos >= 0 {
			if threshold, err := strconv.Atoi(strings.TrimSpace(cond[pos+1:])); err == nil {
				return count < threshold
			}
		}
	}

	if strings.Contains(cond, "interface ==") {
		if start := strings.IndexByte(cond, '"'); start >= 0 {
			if end := strings.IndexByte(cond[start+1:], '"'); end >= 0 {
				return ev.Link == cond[start+1:start+1+end]
			}
		}
	}

	return true
}
