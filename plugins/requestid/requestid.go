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

// Package requestid is an optional EarlyRequest-phase plugin that
// stamps every request with a unique id, tagging the Plugin Context so
// later hooks (and the access logger) can correlate on it. Named after
// the teacher's removed caddyhttp/request_id handler; the
// implementation is new, built on github.com/google/uuid rather than
// that handler's code.
package requestid

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/neomody77/avalon-sub001/hooks"
	"github.com/neomody77/avalon-sub001/plugin"
)

// TypeTag namespaces this plugin's Context slot.
const TypeTag = "requestid"

// slotName is the Context.Set/Get key the generated id is stored
// under.
const slotName = "id"

// config is the plugin's JSON config blob, decoded by Init.
type config struct {
	// Header names the response header the id would be written to, if
	// a caller goes on to echo it back. Informational only: Plugin
	// itself has no access to http.ResponseWriter, so nothing writes
	// this header on its own. Default "X-Request-Id".
	Header string `json:"header"`
}

// Plugin generates a UUIDv4 per request and stores it on the Context.
type Plugin struct {
	cfg config
}

var _ plugin.Plugin = (*Plugin)(nil)

// New returns an uninitialized Plugin, for Registry.Register.
func New() plugin.Plugin { return &Plugin{} }

func (p *Plugin) Init(configBlob []byte) error {
	p.cfg = config{Header: "X-Request-Id"}
	if len(configBlob) == 0 {
		return nil
	}
	return json.Unmarshal(configBlob, &p.cfg)
}

func (p *Plugin) Start() error { return nil }
func (p *Plugin) Stop() error  { return nil }

// Binding returns the hooks.Binding that runs this plugin in the
// EarlyRequest phase at the given priority.
func (p *Plugin) Binding(priority int) hooks.Binding {
	return hooks.Binding{
		Phase:    hooks.EarlyRequest,
		Priority: priority,
		PluginID: TypeTag,
		FnID:     "stamp",
		Fn: func(ctx *plugin.Context) (hooks.Action, error) {
			id := uuid.NewString()
			plugin.Set(ctx, TypeTag, slotName, id)
			ctx.AddTag(TypeTag)
			return hooks.Continue, nil
		},
	}
}

// Get retrieves the request id stamped on ctx by this plugin, if any.
func Get(ctx *plugin.Context) (string, bool) {
	return plugin.Get[string](ctx, TypeTag, slotName)
}
