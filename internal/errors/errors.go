package errors

import (
	"errors"
	"sort"
	"sync"
)

// Collector gathers per-template failures from a batch operation such as a
// precompile of every template.
type Collector struct {
	errs  map[string]error
	mutex sync.RWMutex
}

// NewCollector creates a new error collector.
func NewCollector() *Collector {
	return &Collector{errs: make(map[string]error)}
}

// Add records err for the named template. A nil err is ignored.
func (c *Collector) Add(template string, err error) {
	if err == nil {
		return
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.errs[template] = err
}

// HasErrors returns true if any error was recorded.
func (c *Collector) HasErrors() bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.errs) > 0
}

// Templates returns the names with a recorded error, sorted.
func (c *Collector) Templates() []string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	names := make([]string, 0, len(c.errs))
	for name := range c.errs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Get returns the error recorded for a template.
func (c *Collector) Get(template string) error {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.errs[template]
}

// Err joins every recorded error in template order, or returns nil.
func (c *Collector) Err() error {
	names := c.Templates()
	if len(names) == 0 {
		return nil
	}
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	all := make([]error, 0, len(names))
	for _, name := range names {
		all = append(all, c.errs[name])
	}
	return errors.Join(all...)
}
