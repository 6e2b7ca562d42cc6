package core

import "sync/atomic"

// Catalog maps model names to verified availability. An absent entry means
// the model has never been tried; true and false are verified states, never
// inferred. Readers always observe a complete snapshot: mutations build a new
// map and swap it atomically.
type Catalog struct {
	snapshot atomic.Pointer[map[string]bool]
}

// NewCatalog builds a catalog pre-populated with the given models marked
// available.
func NewCatalog(models ...string) *Catalog {
	c := &Catalog{}
	m := make(map[string]bool, len(models))
	for _, name := range models {
		m[name] = true
	}
	c.snapshot.Store(&m)
	return c
}

// Lookup returns the verified availability of a model and whether the model
// has an entry at all.
func (c *Catalog) Lookup(model string) (available bool, known bool) {
	m := c.snapshot.Load()
	if m == nil {
		return false, false
	}
	available, known = (*m)[model]
	return available, known
}

// Set records a verified availability state for one model.
func (c *Catalog) Set(model string, available bool) {
	for {
		old := c.snapshot.Load()
		next := make(map[string]bool, len(*old)+1)
		for k, v := range *old {
			next[k] = v
		}
		next[model] = available
		if c.snapshot.CompareAndSwap(old, &next) {
			return
		}
	}
}

// Replace swaps the whole catalog for the given verified-available set.
func (c *Catalog) Replace(models []string) {
	next := make(map[string]bool, len(models))
	for _, name := range models {
		next[name] = true
	}
	c.snapshot.Store(&next)
}

// Remove deletes a model's entry, returning it to the untried state.
func (c *Catalog) Remove(model string) {
	for {
		old := c.snapshot.Load()
		if _, ok := (*old)[model]; !ok {
			return
		}
		next := make(map[string]bool, len(*old))
		for k, v := range *old {
			if k != model {
				next[k] = v
			}
		}
		if c.snapshot.CompareAndSwap(old, &next) {
			return
		}
	}
}

// Models returns the names of verified-available models.
func (c *Catalog) Models() []string {
	m := c.snapshot.Load()
	names := make([]string, 0, len(*m))
	for name, available := range *m {
		if available {
			names = append(names, name)
		}
	}
	return names
}

// Snapshot returns a copy of the full catalog state.
func (c *Catalog) Snapshot() map[string]bool {
	m := c.snapshot.Load()
	out := make(map[string]bool, len(*m))
	for k, v := range *m {
		out[k] = v
	}
	return out
}
