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

package main

import (
	"encoding/json"
	"fmt"

	"github.com/neomody77/avalon-sub001/avconfig"
	"github.com/neomody77/avalon-sub001/hooks"
	"github.com/neomody77/avalon-sub001/plugin"
	"github.com/neomody77/avalon-sub001/plugins/circuitbreaker"
	"github.com/neomody77/avalon-sub001/plugins/cors"
	"github.com/neomody77/avalon-sub001/plugins/ipfilter"
	"github.com/neomody77/avalon-sub001/plugins/requestid"
	"github.com/neomody77/avalon-sub001/plugins/scriptedrewrite"
)

// allPluginNames lists every name wireOptionalPlugins registers, for
// teardownPlugins to stop on shutdown regardless of which were
// actually enabled (Teardown on a never-instantiated name is a no-op).
var allPluginNames = []string{
	requestid.TypeTag,
	ipfilter.TypeTag,
	cors.TypeTag,
	circuitbreaker.TypeTag,
	scriptedrewrite.TypeTag,
}

// wireOptionalPlugins registers and, per cfg.Plugins, instantiates the
// C9/C10 optional plugins, binding each instance's hooks into exec.
// This is the one place the plugin.Registry lifecycle (Init/Start, and
// implicitly Stop at shutdown via registry.Teardown) gets exercised;
// every route/pool/rewrite concern in SPEC_FULL.md's core is wired
// directly, without going through the registry indirection.
func wireOptionalPlugins(cfg *avconfig.Config, exec *hooks.Executor) (*plugin.Registry, error) {
	registry := plugin.NewRegistry()

	if err := registry.Register(requestid.TypeTag, requestid.New); err != nil {
		return nil, err
	}
	if err := registry.Register(ipfilter.TypeTag, ipfilter.New); err != nil {
		return nil, err
	}
	if err := registry.Register(cors.TypeTag, cors.New); err != nil {
		return nil, err
	}
	if err := registry.Register(circuitbreaker.TypeTag, circuitbreaker.New); err != nil {
		return nil, err
	}
	if err := registry.Register(scriptedrewrite.TypeTag, scriptedrewrite.New); err != nil {
		return nil, err
	}

	if cfg.Plugins.RequestID.Enabled {
		inst, err := registry.Instantiate(requestid.TypeTag, mustJSON(cfg.Plugins.RequestID))
		if err != nil {
			return nil, err
		}
		exec.Register(inst.(*requestid.Plugin).Binding(cfg.Plugins.RequestID.Priority))
	}

	if cfg.Plugins.IPFilter.Enabled {
		inst, err := registry.Instantiate(ipfilter.TypeTag, mustJSON(cfg.Plugins.IPFilter))
		if err != nil {
			return nil, err
		}
		exec.Register(inst.(*ipfilter.Plugin).Binding(cfg.Plugins.IPFilter.Priority))
	}

	if cfg.Plugins.CORS.Enabled {
		inst, err := registry.Instantiate(cors.TypeTag, mustJSON(cfg.Plugins.CORS))
		if err != nil {
			return nil, err
		}
		exec.Register(inst.(*cors.Plugin).Binding(cfg.Plugins.CORS.Priority))
	}

	if cfg.Plugins.CircuitBreaker.Enabled {
		inst, err := registry.Instantiate(circuitbreaker.TypeTag, mustJSON(cfg.Plugins.CircuitBreaker))
		if err != nil {
			return nil, err
		}
		cb := inst.(*circuitbreaker.Plugin)
		exec.Register(cb.PreUpstreamBinding(cfg.Plugins.CircuitBreaker.Priority))
		exec.Register(cb.PostUpstreamBinding(cfg.Plugins.CircuitBreaker.Priority))
	}

	if cfg.Plugins.ScriptedRewrite.Enabled {
		inst, err := registry.Instantiate(scriptedrewrite.TypeTag, mustJSON(cfg.Plugins.ScriptedRewrite))
		if err != nil {
			return nil, err
		}
		exec.Register(inst.(*scriptedrewrite.Plugin).Binding(cfg.Plugins.ScriptedRewrite.Priority))
	}

	return registry, nil
}

func mustJSON(v any) []byte {
	blob, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("plugins: marshaling config: %v", err))
	}
	return blob
}

// teardownPlugins stops every instantiated plugin, ignoring any stop
// error so that shutdown still proceeds; stop errors are not logged.
func teardownPlugins(registry *plugin.Registry, names []string) {
	for _, name := range names {
		_ = registry.Teardown(name)
	}
}
