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

// Package scriptedrewrite is an optional PreRoute-phase plugin that
// evaluates a single boolean expression against the request's method,
// path, and host, using github.com/expr-lang/expr. It deliberately
// stops at "does this request match" and an optional reject status;
// it is not a general scripting engine, per spec.md §1's non-goal
// against embedding a scripting language for request handling.
package scriptedrewrite

import (
	"encoding/json"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/neomody77/avalon-sub001/hooks"
	"github.com/neomody77/avalon-sub001/plugin"
)

const TypeTag = "scriptedrewrite"

type config struct {
	// Expression must evaluate to a bool given env{Method,Path,Host}.
	Expression string `json:"expression"`
	// RejectStatus, if non-zero, short-circuits matching requests with
	// this status instead of just tagging them.
	RejectStatus int `json:"reject_status"`
}

// env is the variable set an Expression may reference.
type env struct {
	Method string
	Path   string
	Host   string
}

// Plugin compiles Expression once at Init and evaluates it per request.
type Plugin struct {
	cfg     config
	program *vm.Program
}

var _ plugin.Plugin = (*Plugin)(nil)

func New() plugin.Plugin { return &Plugin{} }

func (p *Plugin) Init(configBlob []byte) error {
	if len(configBlob) > 0 {
		if err := json.Unmarshal(configBlob, &p.cfg); err != nil {
			return fmt.Errorf("scriptedrewrite: %w", err)
		}
	}
	if p.cfg.Expression == "" {
		return nil
	}
	program, err := expr.Compile(p.cfg.Expression, expr.Env(env{}), expr.AsBool())
	if err != nil {
		return fmt.Errorf("scriptedrewrite: compiling expression: %w", err)
	}
	p.program = program
	return nil
}

func (p *Plugin) Start() error { return nil }
func (p *Plugin) Stop() error  { return nil }

// Binding returns the hooks.Binding that evaluates the compiled
// expression in the PreRoute phase.
func (p *Plugin) Binding(priority int) hooks.Binding {
	return hooks.Binding{
		Phase:    hooks.PreRoute,
		Priority: priority,
		PluginID: TypeTag,
		FnID:     "evaluate",
		Fn: func(ctx *plugin.Context) (hooks.Action, error) {
			if p.program == nil {
				return hooks.Continue, nil
			}
			out, err := vm.Run(p.program, env{Method: ctx.Method, Path: ctx.Path, Host: ctx.Host})
			if err != nil {
				return hooks.Continue, fmt.Errorf("scriptedrewrite: evaluating: %w", err)
			}
			matched, _ := out.(bool)
			if !matched {
				return hooks.Continue, nil
			}
			ctx.AddTag(TypeTag + ":matched")
			if p.cfg.RejectStatus != 0 {
				ctx.ResponseStatus = p.cfg.RejectStatus
				return hooks.ShortCircuit, nil
			}
			return hooks.Continue, nil
		},
	}
}
