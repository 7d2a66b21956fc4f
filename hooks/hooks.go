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

// Package hooks is the priority-ordered plugin chain that runs between
// request-pipeline states. It generalizes middleware.Middleware's flat
// chain-of-http.HandlerFunc idiom into the fixed ordered phase list and
// per-phase priority ordering of spec.md §3/§4.9.
package hooks

import (
	"sort"
	"sync"

	"github.com/neomody77/avalon-sub001/plugin"
)

// Phase names one of the fixed, ordered stages a request passes
// through. The order below is the order phases run in; it is not
// configurable.
type Phase string

const (
	EarlyRequest Phase = "EarlyRequest"
	PreRoute     Phase = "PreRoute"
	PostRoute    Phase = "PostRoute"
	PreUpstream  Phase = "PreUpstream"
	PostUpstream Phase = "PostUpstream"
	PreResponse  Phase = "PreResponse"
	PostResponse Phase = "PostResponse"
	Logging      Phase = "Logging"
)

// Phases lists every phase in execution order.
var Phases = []Phase{
	EarlyRequest, PreRoute, PostRoute, PreUpstream, PostUpstream,
	PreResponse, PostResponse, Logging,
}

// Action is what a hook tells the executor to do next.
type Action int

const (
	// Continue runs the next hook in the current phase.
	Continue Action = iota
	// SkipPhase skips the remaining hooks in the current phase but
	// continues the pipeline into the next phase.
	SkipPhase
	// ShortCircuit responds now, skipping every remaining phase except
	// Logging.
	ShortCircuit
)

// Func is one hook's implementation. It receives the shared per-request
// Context and returns the action the executor should take next.
type Func func(ctx *plugin.Context) (Action, error)

// Binding ties a hook Func to its phase, priority, and owning plugin,
// so a log or error message can name which plugin/fn misbehaved.
type Binding struct {
	Phase    Phase
	Priority int
	PluginID string
	FnID     string
	Fn       Func
}

// Executor runs the bindings registered for each phase in ascending
// priority, breaking ties by registration order. It is safe for
// concurrent registration and execution; registration is expected to
// be rare (config load/reload) relative to execution (every request).
type Executor struct {
	mu       sync.RWMutex
	byPhase  map[Phase][]Binding
}

// NewExecutor returns an empty Executor.
func NewExecutor() *Executor {
	return &Executor{byPhase: make(map[Phase][]Binding)}
}

// Register adds b to its phase's binding list and re-sorts that phase
// by ascending priority, stable on registration order for ties.
func (e *Executor) Register(b Binding) {
	e.mu.Lock()
	defer e.mu.Unlock()
	// Copy before appending and sorting, so a Run still iterating the
	// previous slice never sees it reordered underneath it.
	bindings := append(append([]Binding(nil), e.byPhase[b.Phase]...), b)
	sort.SliceStable(bindings, func(i, j int) bool {
		return bindings[i].Priority < bindings[j].Priority
	})
	e.byPhase[b.Phase] = bindings
}

// Outcome is what Run reports back to the pipeline: whether to keep
// going, and if not, which phase to resume at (Logging, on a
// short-circuit or hook error) along with the error that caused it,
// if any.
type Outcome struct {
	ShortCircuited bool
	Err            error
	FailedPlugin   string
}

// Run executes every binding registered for phase, in order. A hook
// returning SkipPhase stops this phase's remaining hooks but leaves
// Outcome.ShortCircuited false. A hook returning ShortCircuit, or
// returning a non-nil error outside the Logging phase, stops the
// entire pipeline early (the Logging phase still runs). An error
// returned from a Logging-phase hook is swallowed: the remaining
// Logging hooks still run, and the first such error is reported in
// Outcome.Err (with ShortCircuited false) for the caller to log, per
// spec.md §4.9.
func (e *Executor) Run(phase Phase, ctx *plugin.Context) Outcome {
	e.mu.RLock()
	bindings := e.byPhase[phase]
	e.mu.RUnlock()

	var out Outcome
	for _, b := range bindings {
		action, err := b.Fn(ctx)
		if err != nil {
			if phase == Logging {
				if out.Err == nil {
					out.Err, out.FailedPlugin = err, b.PluginID
				}
				continue
			}
			return Outcome{ShortCircuited: true, Err: err, FailedPlugin: b.PluginID}
		}
		switch action {
		case ShortCircuit:
			return Outcome{ShortCircuited: true}
		case SkipPhase:
			return out
		case Continue:
			// fall through to the next binding
		}
	}
	return out
}
