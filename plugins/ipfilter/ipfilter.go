// Copyright 2015 The Avalon Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ipfilter is an optional PreRoute-phase plugin that allows or
// denies a request by the client identity (IP) the Plugin Context
// already carries. Grounded on the config/setup-style one-file-per-
// concern plugin shape; the CIDR matching itself is stdlib net.
package ipfilter

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	"github.com/neomody77/avalon-sub001/hooks"
	"github.com/neomody77/avalon-sub001/plugin"
)

const TypeTag = "ipfilter"

type config struct {
	// AllowCIDRs, if non-empty, makes this an allowlist: only matching
	// clients pass. DenyCIDRs is checked first regardless.
	AllowCIDRs []string `json:"allow_cidrs"`
	DenyCIDRs  []string `json:"deny_cidrs"`
}

// Plugin blocks requests by client IP/CIDR membership.
type Plugin struct {
	allow []*net.IPNet
	deny  []*net.IPNet
}

var _ plugin.Plugin = (*Plugin)(nil)

func New() plugin.Plugin { return &Plugin{} }

func (p *Plugin) Init(configBlob []byte) error {
	var cfg config
	if len(configBlob) > 0 {
		if err := json.Unmarshal(configBlob, &cfg); err != nil {
			return fmt.Errorf("ipfilter: %w", err)
		}
	}
	allow, err := parseNets(cfg.AllowCIDRs)
	if err != nil {
		return err
	}
	deny, err := parseNets(cfg.DenyCIDRs)
	if err != nil {
		return err
	}
	p.allow, p.deny = allow, deny
	return nil
}

func (p *Plugin) Start() error { return nil }
func (p *Plugin) Stop() error  { return nil }

func parseNets(cidrs []string) ([]*net.IPNet, error) {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, ipnet, err := net.ParseCIDR(c)
		if err != nil {
			return nil, fmt.Errorf("ipfilter: invalid cidr %q: %w", c, err)
		}
		nets = append(nets, ipnet)
	}
	return nets, nil
}

func contains(nets []*net.IPNet, ip net.IP) bool {
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Binding returns the hooks.Binding that enforces this plugin's
// allow/deny lists in the PreRoute phase.
func (p *Plugin) Binding(priority int) hooks.Binding {
	return hooks.Binding{
		Phase:    hooks.PreRoute,
		Priority: priority,
		PluginID: TypeTag,
		FnID:     "check",
		Fn: func(ctx *plugin.Context) (hooks.Action, error) {
			ip := net.ParseIP(ctx.Identity)
			if ip == nil {
				return hooks.Continue, nil
			}
			if contains(p.deny, ip) {
				ctx.ResponseStatus = http.StatusForbidden
				return hooks.ShortCircuit, nil
			}
			if len(p.allow) > 0 && !contains(p.allow, ip) {
				ctx.ResponseStatus = http.StatusForbidden
				return hooks.ShortCircuit, nil
			}
			return hooks.Continue, nil
		},
	}
}
