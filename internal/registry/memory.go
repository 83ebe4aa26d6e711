package registry

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"maestro/internal/events"
	"maestro/internal/logging"
)

// CachedReader decorates a MemoryReader with an LRU over Get lookups.
// Listing always goes to the backing reader.
type CachedReader struct {
	inner MemoryReader
	cache *lru.Cache[string, Task]
}

// NewCachedReader wraps inner with a cache of the given size.
func NewCachedReader(inner MemoryReader, size int) (*CachedReader, error) {
	if size < 1 {
		size = 128
	}
	cache, err := lru.New[string, Task](size)
	if err != nil {
		return nil, fmt.Errorf("build reader cache: %w", err)
	}
	return &CachedReader{inner: inner, cache: cache}, nil
}

// List implements MemoryReader.
func (c *CachedReader) List(limit int) ([]Task, error) {
	tasks, err := c.inner.List(limit)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		c.cache.Add(t.ID, t)
	}
	return tasks, nil
}

// Get implements MemoryReader, serving hits from the cache.
func (c *CachedReader) Get(id string) (Task, bool, error) {
	if t, ok := c.cache.Get(id); ok {
		return t, true, nil
	}
	t, ok, err := c.inner.Get(id)
	if err != nil || !ok {
		return Task{}, ok, err
	}
	c.cache.Add(id, t)
	return t, true, nil
}

// Bootstrap repopulates the store from persisted memory. It emits
// memory.bootstrap and memory.tasks but no per-task lifecycle events; a
// restart must not replay history to subscribers.
func Bootstrap(store *Store, reader MemoryReader, bus events.Publisher, logger logging.Logger) error {
	if bus == nil {
		bus = events.NopPublisher{}
	}
	logger = logging.OrNop(logger)

	bus.Publish(events.TypeMemoryBootstrap, "", map[string]any{"state": "started"})

	tasks, err := reader.List(0)
	if err != nil {
		return fmt.Errorf("bootstrap list: %w", err)
	}
	for _, t := range tasks {
		store.restore(t)
	}
	logger.Info("bootstrapped %d tasks from memory", len(tasks))

	bus.Publish(events.TypeMemoryTasks, "", map[string]any{"count": len(tasks)})
	return nil
}
