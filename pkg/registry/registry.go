// Package registry is the process-wide admin root (spec.md §9 "Global
// registry"): it holds the live dory instances in this process so the
// admin HTTP transport can find them by name.
package registry

import (
	"sort"
	"sync"

	"github.com/dory-project/dory/pkg/device"
)

var (
	mu        sync.RWMutex
	instances = map[string]*device.Device{}
)

// Register adds dev to the registry, keyed by its instance name. It
// replaces any prior registration under the same name.
func Register(dev *device.Device) {
	mu.Lock()
	defer mu.Unlock()
	instances[dev.Name()] = dev
}

// Deregister removes the instance registered under name, if any.
func Deregister(name string) {
	mu.Lock()
	defer mu.Unlock()
	delete(instances, name)
}

// Get returns the instance registered under name, or nil if none is.
func Get(name string) *device.Device {
	mu.RLock()
	defer mu.RUnlock()
	return instances[name]
}

// List returns the names of every currently registered instance, sorted.
func List() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(instances))
	for name := range instances {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
