// Package demangle renders mangled linkage names (Itanium C++, and
// whatever else the underlying library recognizes) as their source-level
// form, for display in reports and panic diagnostics.
package demangle

import (
	"sync"

	"github.com/ianlancetaylor/demangle"
)

// Cache memoizes Demangle results, since the same linkage name is typically
// looked up once per symbol but possibly many times across compilation
// units (DWARF inlined subprograms referencing the same abstract origin).
type Cache struct {
	mu    sync.Mutex
	cache map[string]string
}

// NewCache returns an empty demangling cache.
func NewCache() *Cache {
	return &Cache{cache: make(map[string]string)}
}

// Demangle returns the display name for a possibly-mangled linkage name. If
// name does not look like a mangled symbol, it is returned unchanged
// (demangling failure is never fatal, per the "best-effort, must not itself
// crash" error-path rule for diagnostic formatting).
func (c *Cache) Demangle(name string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if cached, ok := c.cache[name]; ok {
		return cached
	}

	out := demangle.Filter(name)
	c.cache[name] = out
	return out
}
