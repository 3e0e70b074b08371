// Package catalog keeps the generated resources of a backend in
// declaration order, with lookup by name in any casing.
package catalog

import (
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/schemaforge/schemaforge/core/record"
	"github.com/schemaforge/schemaforge/core/table"
)

// Resource is one generated resource.
type Resource struct {
	Name      string
	Prefix    string // the lowercase path segment
	Schema    json.RawMessage
	Record    *record.Type
	Table     table.Definition
	CreatedAt time.Time
}

// Path returns the route path of the resource.
func (r *Resource) Path() string {
	return "/" + r.Prefix
}

// Catalog is the ordered set of generated resources of a backend. All
// methods are safe for concurrent use.
type Catalog struct {
	mutex   sync.RWMutex
	byKey   map[string]int
	entries []*Resource
}

// New returns an empty catalog.
func New() *Catalog {
	return &Catalog{byKey: map[string]int{}}
}

// Register adds a resource. A resource with the same name, in any
// casing, is replaced and keeps its position.
func (c *Catalog) Register(resource *Resource) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	key := strings.ToLower(resource.Name)
	if i, ok := c.byKey[key]; ok {
		c.entries[i] = resource
		return
	}
	c.byKey[key] = len(c.entries)
	c.entries = append(c.entries, resource)
}

// Lookup returns the resource with the given name, in any casing.
func (c *Catalog) Lookup(name string) (*Resource, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	i, ok := c.byKey[strings.ToLower(name)]
	if !ok {
		return nil, false
	}
	return c.entries[i], true
}

// Delete removes the resource with the given name, in any casing, and
// returns it. Later resources move up.
func (c *Catalog) Delete(name string) (*Resource, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	key := strings.ToLower(name)
	i, ok := c.byKey[key]
	if !ok {
		return nil, false
	}
	resource := c.entries[i]
	c.entries = append(c.entries[:i], c.entries[i+1:]...)
	delete(c.byKey, key)
	for k, j := range c.byKey {
		if j > i {
			c.byKey[k] = j - 1
		}
	}
	return resource, true
}

// List returns all resources in registration order.
func (c *Catalog) List() []*Resource {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return append([]*Resource{}, c.entries...)
}

// Len returns the number of resources.
func (c *Catalog) Len() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.entries)
}
