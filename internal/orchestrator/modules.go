// Copyright 2026 The Switchboard Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package orchestrator

import (
	"fmt"
	"strings"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Content categories used for module dispatch and the fallback table.
const (
	CategoryPython = "python"
	CategoryCSharp = "csharp"
	CategoryMath   = "math"
	CategoryChat   = "chat"
)

// ModuleRegistry is the explicit module registration table built at
// startup. Modules are registered by name with the categories they serve;
// there is no discovery scan.
type ModuleRegistry struct {
	mu         sync.RWMutex
	byName     map[string]Module
	byCategory map[string]string
}

// NewModuleRegistry returns an empty registry.
func NewModuleRegistry() *ModuleRegistry {
	return &ModuleRegistry{
		byName:     make(map[string]Module),
		byCategory: make(map[string]string),
	}
}

// Register adds a module under its name and binds it to the given
// categories. Duplicate names and already-bound categories are rejected.
func (r *ModuleRegistry) Register(m Module, categories ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := m.Name()
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("module %s already registered", name)
	}
	for _, cat := range categories {
		if owner, bound := r.byCategory[cat]; bound {
			return fmt.Errorf("category %s already bound to module %s", cat, owner)
		}
	}

	r.byName[name] = m
	for _, cat := range categories {
		r.byCategory[cat] = name
	}
	log.Debugf("Registered module %s for categories %v", name, categories)
	return nil
}

// Resolve returns the module bound to a category.
func (r *ModuleRegistry) Resolve(category string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.byCategory[category]
	if !ok {
		return nil, false
	}
	m, ok := r.byName[name]
	return m, ok
}

// Get returns a module by name, used by the fallback table.
func (r *ModuleRegistry) Get(name string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byName[name]
	return m, ok
}

var pythonMarkers = []string{"python", "def ", "import ", "pip ", ".py"}
var csharpMarkers = []string{"c#", "csharp", "using system", "namespace ", ".cs"}
var mathMarkers = []string{"calculate", "solve", "equation", "integral", "derivative", "sum of"}

// Categorize maps a query to a content category by keyword detection over
// content and intent. Chat is the catch-all.
func Categorize(q *Query) string {
	text := strings.ToLower(q.Content + " " + q.Intent)
	for _, m := range pythonMarkers {
		if strings.Contains(text, m) {
			return CategoryPython
		}
	}
	for _, m := range csharpMarkers {
		if strings.Contains(text, m) {
			return CategoryCSharp
		}
	}
	for _, m := range mathMarkers {
		if strings.Contains(text, m) {
			return CategoryMath
		}
	}
	return CategoryChat
}
