package blocks

import (
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"cmtools/internal/services"
)

// Option customizes a Resolver.
type Option func(*Resolver)

// WithClassCheck rejects blocks whose class_name is not accepted by known.
// The handler registry supplies this so that resolution reports unknown
// handlers as configuration errors.
func WithClassCheck(known func(string) bool) Option {
	return func(r *Resolver) {
		r.known = known
	}
}

// Resolver merges blocks of one document. It holds no mutable state beyond
// the document it was built from.
type Resolver struct {
	doc   *Document
	known func(string) bool
}

// NewResolver binds a resolver to doc.
func NewResolver(doc *Document, opts ...Option) *Resolver {
	if doc == nil {
		doc = NewDocument(nil)
	}
	r := &Resolver{doc: doc}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Document returns the document being resolved.
func (r *Resolver) Document() *Document {
	return r.doc
}

// Resolve merges the block's includes and then its own fields.
func (r *Resolver) Resolve(name string) (Resolved, error) {
	body, ok := r.doc.blocks[name]
	if !ok {
		return Resolved{}, &ConfigError{Block: name, Reason: "block not defined"}
	}
	merged, err := r.merge(name, map[string]bool{})
	if err != nil {
		return Resolved{}, err
	}
	resolved, err := newResolved(name, toStrings(body[keyIncludes]), merged)
	if err != nil {
		return Resolved{}, err
	}
	if strings.TrimSpace(resolved.ClassName) == "" {
		return Resolved{}, &ConfigError{Block: name, Reason: "class_name is required"}
	}
	if r.known != nil && !r.known(resolved.ClassName) {
		return Resolved{}, &ConfigError{
			Block:  name,
			Reason: fmt.Sprintf("class_name %q is not registered", resolved.ClassName),
			Err:    services.ErrUnknownHandler,
		}
	}
	return resolved, nil
}

func (r *Resolver) merge(name string, visiting map[string]bool) (Body, error) {
	if visiting[name] {
		return nil, &ConfigError{Block: name, Reason: "include cycle"}
	}
	body, ok := r.doc.blocks[name]
	if !ok {
		return nil, &ConfigError{Block: name, Reason: "block not defined"}
	}
	visiting[name] = true
	defer delete(visiting, name)

	merged := Body{}
	for _, include := range toStrings(body[keyIncludes]) {
		if !r.doc.Has(include) {
			return nil, &ConfigError{Block: name, Reason: fmt.Sprintf("include %q not defined", include)}
		}
		part, err := r.merge(include, visiting)
		if err != nil {
			return nil, err
		}
		maps.Copy(merged, part)
	}
	for key, value := range body {
		if key == keyIncludes {
			continue
		}
		merged[key] = value
	}
	return merged, nil
}

// Validate resolves every block that declares or inherits a class_name and
// returns the first failure.
func (r *Resolver) Validate() error {
	for _, name := range r.doc.Names() {
		merged, err := r.merge(name, map[string]bool{})
		if err != nil {
			return err
		}
		if toString(merged[keyClassName]) == "" {
			continue
		}
		if _, err := r.Resolve(name); err != nil {
			return err
		}
	}
	return nil
}

type cacheKey struct {
	version int64
	block   string
}

// Cache memoizes resolution per (config document version, block name).
type Cache struct {
	mu      sync.RWMutex
	entries map[cacheKey]Resolved
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{entries: map[cacheKey]Resolved{}}
}

// Resolve returns the cached record for (version, block) or resolves it with r.
func (c *Cache) Resolve(version int64, r *Resolver, block string) (Resolved, error) {
	key := cacheKey{version: version, block: block}
	c.mu.RLock()
	cached, ok := c.entries[key]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}
	resolved, err := r.Resolve(block)
	if err != nil {
		return Resolved{}, err
	}
	c.mu.Lock()
	c.entries[key] = resolved
	c.mu.Unlock()
	return resolved, nil
}

// Forget drops every record cached for version.
func (c *Cache) Forget(version int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if key.version == version {
			delete(c.entries, key)
		}
	}
}

// Len reports how many records are cached.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// StepOrder returns the campaign's steps ordered so that each step follows its
// prerequisites, preserving the declared order otherwise. Unknown
// prerequisites and cycles are configuration errors.
func StepOrder(r *Resolver, campaign Resolved) ([]Resolved, error) {
	declared := campaign.Steps
	steps := make(map[string]Resolved, len(declared))
	for _, name := range declared {
		resolved, err := r.Resolve(name)
		if err != nil {
			return nil, err
		}
		steps[name] = resolved
	}
	for _, name := range declared {
		for _, prereq := range steps[name].Prerequisites {
			if _, ok := steps[prereq]; !ok {
				return nil, &ConfigError{Block: name, Reason: fmt.Sprintf("prerequisite %q is not a step of campaign %q", prereq, campaign.Block)}
			}
		}
	}

	ordered := make([]Resolved, 0, len(declared))
	placed := map[string]bool{}
	for len(ordered) < len(declared) {
		progressed := false
		for _, name := range declared {
			if placed[name] {
				continue
			}
			ready := true
			for _, prereq := range steps[name].Prerequisites {
				if !placed[prereq] {
					ready = false
					break
				}
			}
			if ready {
				placed[name] = true
				ordered = append(ordered, steps[name])
				progressed = true
			}
		}
		if !progressed {
			var pending []string
			for _, name := range declared {
				if !placed[name] {
					pending = append(pending, name)
				}
			}
			slices.Sort(pending)
			return nil, &ConfigError{Block: campaign.Block, Reason: fmt.Sprintf("prerequisite cycle among %s", strings.Join(pending, ", "))}
		}
	}
	return ordered, nil
}
