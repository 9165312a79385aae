package configs

import (
	"sync"
)

type Config[T any] interface {
	Reload(chan<- T)
}

type Module[T any] interface {
	Name() string
	Watch(<-chan T)
}

// ConfigManager fans every reloaded value out to the registered modules.
type ConfigManager[T any] struct {
	update chan T
	data   *T

	mux     *sync.RWMutex
	modules map[string]chan T
}

func NewManager[T any](cfg Config[T]) *ConfigManager[T] {
	update := make(chan T)
	go cfg.Reload(update)

	manager := &ConfigManager[T]{
		update:  update,
		mux:     new(sync.RWMutex),
		modules: make(map[string]chan T),
	}
	go manager.startNotify()

	return manager
}

// Data returns the last value seen, nil before the first reload.
func (c *ConfigManager[T]) Data() *T {
	c.mux.RLock()
	defer c.mux.RUnlock()
	return c.data
}

func (c *ConfigManager[T]) AddModule(m Module[T]) {
	c.mux.Lock()
	defer c.mux.Unlock()
	// one channel per module, the module drains it in its own goroutine
	ch := make(chan T, 1)
	c.modules[m.Name()] = ch
	go m.Watch(ch)
}

func (c *ConfigManager[T]) RemoveModule(name string) {
	c.mux.Lock()
	defer c.mux.Unlock()
	channel, ok := c.modules[name]
	if ok {
		close(channel)
		delete(c.modules, name)
	}
}

func (c *ConfigManager[T]) startNotify() {
	for newData := range c.update {
		c.mux.Lock()
		c.data = &newData
		c.mux.Unlock()

		c.mux.RLock()
		for _, module := range c.modules {
			module <- newData
		}
		c.mux.RUnlock()
	}

	c.mux.Lock()
	defer c.mux.Unlock()
	for name, channel := range c.modules {
		close(channel)
		delete(c.modules, name)
	}
}
