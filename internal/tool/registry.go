// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sigil Contributors

package tool

import (
	"encoding/json"
	"strings"
	"sync"

	wardenerr "github.com/sigil-dev/warden/pkg/errors"
	"github.com/xeipuuv/gojsonschema"
)

type entry struct {
	tool   Tool
	def    Definition
	schema *gojsonschema.Schema
}

// Registry holds tools by name. Each tool's input schema is compiled at
// registration; names are unique.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []string
	frozen  bool
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*entry)}
}

// Register adds tools. It refuses duplicates, malformed schemas and
// registration after Definitions has been called.
func (r *Registry) Register(tools ...Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range tools {
		def := t.Definition()
		if def.Name == "" {
			return wardenerr.New(wardenerr.CodeAgentToolInvalidInput, "tool definition has no name")
		}
		if r.frozen {
			return wardenerr.Errorf(wardenerr.CodeAgentToolInvalidInput,
				"registry is frozen; cannot register %q", def.Name)
		}
		if _, ok := r.entries[def.Name]; ok {
			return wardenerr.Errorf(wardenerr.CodeAgentToolDuplicate, "tool %q already registered", def.Name)
		}
		if def.InputSchema == nil {
			def.InputSchema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		if def.Capability == "" {
			def.Capability = CapabilityMeta
		}

		schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(def.InputSchema))
		if err != nil {
			return wardenerr.Wrapf(err, wardenerr.CodeAgentToolInvalidInput, "compiling input schema for %q", def.Name)
		}

		r.entries[def.Name] = &entry{tool: t, def: def, schema: schema}
		r.order = append(r.order, def.Name)
	}
	return nil
}

// MustRegister is Register for static tool sets.
func (r *Registry) MustRegister(tools ...Tool) {
	if err := r.Register(tools...); err != nil {
		panic(err)
	}
}

// Lookup returns the tool and its normalised definition.
func (r *Registry) Lookup(name string) (Tool, Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, Definition{}, false
	}
	return e.tool, e.def, true
}

// Definitions returns every definition in registration order and freezes
// the registry, so the set sent to the model never changes mid-session.
func (r *Registry) Definitions() []Definition {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true

	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.entries[name].def)
	}
	return defs
}

// Names lists registered tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// ValidateArguments checks args against the tool's schema.
func (r *Registry) ValidateArguments(name string, args json.RawMessage) error {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return wardenerr.Errorf(wardenerr.CodeAgentToolNotFound, "unknown tool %q", name)
	}
	return validateAgainst(e.schema, name, args)
}

func validateAgainst(schema *gojsonschema.Schema, name string, args json.RawMessage) error {
	res, err := schema.Validate(gojsonschema.NewBytesLoader(args))
	if err != nil {
		return wardenerr.Wrapf(err, wardenerr.CodeAgentToolInvalidInput, "arguments for %q are not valid JSON", name)
	}
	if res.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return wardenerr.New(wardenerr.CodeAgentToolInvalidInput, strings.Join(msgs, "; "),
		wardenerr.FieldTool(name))
}
