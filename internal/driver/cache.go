package driver

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/mengxiangmengyuan/fabrik/internal/ir"
)

// SanitizeName strips every character outside [A-Za-z0-9_.-].
func SanitizeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '_', r == '.', r == '-':
			return r
		}
		return -1
	}, name)
}

// Normalize returns cfg with a sanitised driver name, defaulting to
// ir.DefaultDriver when none is left.
func Normalize(cfg ir.ServiceConfig) ir.ServiceConfig {
	cfg.Driver = SanitizeName(cfg.Driver)
	if cfg.Driver == "" {
		cfg.Driver = ir.DefaultDriver
	}
	return cfg
}

// Key returns the cache key for cfg.
func Key(cfg ir.ServiceConfig) (string, error) {
	sig, err := ir.ServiceSignature(Normalize(cfg))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return sig, nil
}

type entry struct {
	ready  chan struct{}
	driver Driver
	err    error
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithLogger sets the logger used for construction and eviction events.
func WithLogger(logger *slog.Logger) CacheOption {
	return func(c *Cache) {
		c.logger = logger
	}
}

// Cache hands out one driver per distinct service configuration.
// Concurrent callers asking for the same configuration share a single
// construction. Failed constructions are never cached.
type Cache struct {
	registry *Registry
	logger   *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

// NewCache creates a cache that resolves factories from registry.
// A nil registry uses DefaultRegistry().
func NewCache(registry *Registry, opts ...CacheOption) *Cache {
	if registry == nil {
		registry = DefaultRegistry()
	}
	c := &Cache{
		registry: registry,
		logger:   slog.Default(),
		entries:  make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Registry returns the registry the cache resolves factories from.
func (c *Cache) Registry() *Registry {
	return c.registry
}

// GetOrCreate returns the driver for cfg, constructing it on first use.
func (c *Cache) GetOrCreate(cfg ir.ServiceConfig) (Driver, error) {
	cfg = Normalize(cfg)
	key, err := Key(cfg)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		c.mu.Unlock()
		<-e.ready
		return e.driver, e.err
	}
	e := &entry{ready: make(chan struct{})}
	c.entries[key] = e
	c.mu.Unlock()

	e.driver, e.err = c.construct(cfg)
	if e.err != nil {
		c.mu.Lock()
		if c.entries[key] == e {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		c.logger.Warn("driver construction failed", "driver", cfg.Driver, "error", e.err)
	} else {
		c.logger.Debug("driver constructed", "driver", cfg.Driver, "key", key[:12])
	}
	close(e.ready)
	return e.driver, e.err
}

func (c *Cache) construct(cfg ir.ServiceConfig) (d Driver, err error) {
	factory, ok := c.registry.Lookup(cfg.Driver)
	if !ok {
		return nil, &UnknownDriverError{Name: cfg.Driver}
	}

	defer func() {
		if r := recover(); r != nil {
			d, err = nil, &DriverInitError{Driver: cfg.Driver, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	d, err = factory(cfg)
	if err != nil {
		return nil, &DriverInitError{Driver: cfg.Driver, Err: err}
	}
	if d == nil {
		return nil, &DriverInitError{Driver: cfg.Driver, Err: fmt.Errorf("factory returned no driver")}
	}
	return d, nil
}

// Evict drops the driver for cfg, closing it when it implements io.Closer.
// It reports whether an entry was present.
func (c *Cache) Evict(cfg ir.ServiceConfig) bool {
	key, err := Key(cfg)
	if err != nil {
		return false
	}

	c.mu.Lock()
	e, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
	}
	c.mu.Unlock()

	if ok {
		c.release(e)
	}
	return ok
}

// Reset drops and closes every cached driver.
func (c *Cache) Reset() {
	c.mu.Lock()
	old := c.entries
	c.entries = make(map[string]*entry)
	c.mu.Unlock()

	for _, e := range old {
		c.release(e)
	}
}

// Len returns the number of cached entries, including in-flight ones.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) release(e *entry) {
	<-e.ready
	if e.err != nil {
		return
	}
	if closer, ok := e.driver.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			c.logger.Warn("driver close failed", "error", err)
		}
	}
}
