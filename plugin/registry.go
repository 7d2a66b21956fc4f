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

package plugin

import (
	"fmt"
	"sync"
)

// Plugin is one hook-providing unit with a named lifecycle: Init is
// called once per Instantiate with its raw config blob, then Start,
// then (elsewhere) its hook functions run per request, then Stop at
// teardown. Reload defaults to Stop; Init; Start when a Plugin doesn't
// implement Reloader.
type Plugin interface {
	Init(config []byte) error
	Start() error
	Stop() error
}

// Reloader is implemented by a Plugin that can apply a new config
// without a full stop/start cycle.
type Reloader interface {
	Reload(config []byte) error
}

// Factory constructs a fresh, uninitialized Plugin instance.
type Factory func() Plugin

// Registry holds named plugin factories and the live instances created
// from them. One RWMutex guards both maps: Lookup takes only its read
// lock, while Register, Instantiate and Teardown take the write lock.
type Registry struct {
	mu         sync.RWMutex
	factories  map[string]Factory
	instances  map[string]Plugin
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]Factory),
		instances: make(map[string]Plugin),
	}
}

// Register adds a named factory. Re-registering an already-registered
// name is an error, per spec.md §4.10.
func (r *Registry) Register(name string, factory Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("plugin: %q already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// Instantiate builds a new instance of the named plugin, initializes
// it with configBlob, starts it, and keeps it reachable for Reload/
// Teardown by name.
func (r *Registry) Instantiate(name string, configBlob []byte) (Plugin, error) {
	r.mu.Lock()
	factory, ok := r.factories[name]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("plugin: %q not registered", name)
	}

	inst := factory()
	if err := inst.Init(configBlob); err != nil {
		return nil, fmt.Errorf("plugin: %q init: %w", name, err)
	}
	if err := inst.Start(); err != nil {
		return nil, fmt.Errorf("plugin: %q start: %w", name, err)
	}

	r.mu.Lock()
	r.instances[name] = inst
	r.mu.Unlock()
	return inst, nil
}

// Lookup returns the live instance registered under name, if any.
// Called on the request hot path, so it only takes a read lock.
func (r *Registry) Lookup(name string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[name]
	return inst, ok
}

// Reload applies a new config to the named instance: it calls Reload
// if the instance implements Reloader, or falls back to Stop; Init;
// Start, per spec.md §4.10's documented default.
func (r *Registry) Reload(name string, configBlob []byte) error {
	r.mu.RLock()
	inst, ok := r.instances[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("plugin: %q not instantiated", name)
	}

	if reloadable, ok := inst.(Reloader); ok {
		return reloadable.Reload(configBlob)
	}
	if err := inst.Stop(); err != nil {
		return fmt.Errorf("plugin: %q stop during reload: %w", name, err)
	}
	if err := inst.Init(configBlob); err != nil {
		return fmt.Errorf("plugin: %q init during reload: %w", name, err)
	}
	return inst.Start()
}

// Teardown stops and forgets the named instance.
func (r *Registry) Teardown(name string) error {
	r.mu.Lock()
	inst, ok := r.instances[name]
	delete(r.instances, name)
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return inst.Stop()
}
