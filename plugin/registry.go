// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package plugin hosts NLP solver plugins.
//
// Plugins are registered explicitly into a Registry owned by the start-up
// code. There is no package level registry and no loading of shared objects.
package plugin

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/curioloop/nlpadapter/config"
	"github.com/curioloop/nlpadapter/host"
)

// APIVersion is the plugin interface version a plugin must be built against.
const APIVersion = 23

var (
	// ErrDuplicate a plugin with the same name is registered.
	ErrDuplicate = errors.New("plugin already registered")
	// ErrNotFound no plugin with the requested name.
	ErrNotFound = errors.New("plugin not found")
	// ErrVersion the plugin was built against another interface version.
	ErrVersion = errors.New("plugin version mismatch")
)

// Creator builds a solver for the host functions configured by opts.
type Creator func(fn host.Functions, opts config.Options) (Solver, error)

// Plugin describes a solver plugin.
type Plugin struct {
	Name    string
	Version int
	Doc     string
	Creator Creator
}

// Registry maps plugin names to plugins. It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
}

// NewRegistry creates a registry populated with the given plugins.
func NewRegistry(plugins ...Plugin) (*Registry, error) {
	r := &Registry{plugins: make(map[string]Plugin, len(plugins))}
	for _, p := range plugins {
		if err := r.Register(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a plugin.
func (r *Registry) Register(p Plugin) (err error) {
	switch {
	case p.Name == "":
		err = errors.New("plugin name is required")
	case p.Creator == nil:
		err = fmt.Errorf("plugin %s: creator is required", p.Name)
	case p.Version != APIVersion:
		err = fmt.Errorf("plugin %s: %w: built for %d, host is %d", p.Name, ErrVersion, p.Version, APIVersion)
	}
	if err != nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.plugins[p.Name]; ok {
		return fmt.Errorf("plugin %s: %w", p.Name, ErrDuplicate)
	}
	r.plugins[p.Name] = p
	return nil
}

// Lookup returns the named plugin.
func (r *Registry) Lookup(name string) (Plugin, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[name]
	return p, ok
}

// Names returns the registered plugin names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.plugins))
	for name := range r.plugins {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// New creates a solver from the named plugin.
func (r *Registry) New(name string, fn host.Functions, opts config.Options) (Solver, error) {
	p, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q (available: %v)", ErrNotFound, name, r.Names())
	}
	if fn == nil {
		return nil, fmt.Errorf("plugin %s: host functions are required", name)
	}
	s, err := p.Creator(fn, opts)
	if err != nil {
		return nil, fmt.Errorf("plugin %s: %w", name, err)
	}
	return s, nil
}
