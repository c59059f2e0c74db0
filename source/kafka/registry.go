package kafka

import (
	"fmt"
	"sort"
	"sync"
)

// Factory builds an unconfigured Client.
type Factory func() Client

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register makes a driver available to NewClient. Drivers call it from init.
func Register(name string, f Factory) {
	registryMu.Lock()
	registry[name] = f
	registryMu.Unlock()
}

// NewClient returns a driver by name ("sarama", "sarama-assign").
func NewClient(name string) (Client, error) {
	registryMu.RLock()
	f, ok := registry[name]
	registryMu.RUnlock()
	if ok {
		return f(), nil
	}
	return nil, fmt.Errorf("kafka: unsupported driver %q (have %v)", name, Drivers())
}

func Drivers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
