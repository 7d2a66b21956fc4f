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

// Package cors is an optional PreRoute-phase plugin that answers
// cross-origin preflight requests and annotates every response with
// the configured Access-Control-* headers, via Context.SetResponseHeader
// since hooks never see the http.ResponseWriter directly.
package cors

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/neomody77/avalon-sub001/hooks"
	"github.com/neomody77/avalon-sub001/plugin"
)

const TypeTag = "cors"

type config struct {
	AllowedOrigins []string `json:"allowed_origins"`
	AllowedMethods []string `json:"allowed_methods"`
	AllowedHeaders []string `json:"allowed_headers"`
}

// Plugin writes CORS response headers and short-circuits OPTIONS
// preflight requests with a 204.
type Plugin struct {
	cfg config
}

var _ plugin.Plugin = (*Plugin)(nil)

func New() plugin.Plugin { return &Plugin{} }

func (p *Plugin) Init(configBlob []byte) error {
	p.cfg = config{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}
	if len(configBlob) == 0 {
		return nil
	}
	return json.Unmarshal(configBlob, &p.cfg)
}

func (p *Plugin) Start() error { return nil }
func (p *Plugin) Stop() error  { return nil }

// Binding returns the hooks.Binding that applies this plugin's CORS
// headers in the PreRoute phase.
func (p *Plugin) Binding(priority int) hooks.Binding {
	return hooks.Binding{
		Phase:    hooks.PreRoute,
		Priority: priority,
		PluginID: TypeTag,
		FnID:     "annotate",
		Fn: func(ctx *plugin.Context) (hooks.Action, error) {
			ctx.SetResponseHeader("Access-Control-Allow-Origin", strings.Join(p.cfg.AllowedOrigins, ", "))
			ctx.SetResponseHeader("Access-Control-Allow-Methods", strings.Join(p.cfg.AllowedMethods, ", "))
			ctx.SetResponseHeader("Access-Control-Allow-Headers", strings.Join(p.cfg.AllowedHeaders, ", "))

			if ctx.Method == http.MethodOptions {
				ctx.ResponseStatus = http.StatusNoContent
				return hooks.ShortCircuit, nil
			}
			return hooks.Continue, nil
		},
	}
}
