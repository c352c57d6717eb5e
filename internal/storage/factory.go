// factory.go maps backend names (local, s3, azure, gcs) to constructors.
package storage

import (
	"fmt"

	"github.com/user-audit-scheduler/user-audit-scheduler/internal/config"
)

// BackendNone disables archiving.
const BackendNone = "none"

// FactoryFunc builds a backend from the application config.
type FactoryFunc func(*config.Config) (Storage, error)

var factories = make(map[string]FactoryFunc)

// Register registers a storage backend factory
func Register(name string, factory FactoryFunc) {
	factories[name] = factory
}

// NewStorage creates the configured backend. It returns nil, nil when
// archiving is disabled.
func NewStorage(cfg *config.Config) (Storage, error) {
	name := cfg.Storage.DefaultBackend
	if name == "" || name == BackendNone {
		return nil, nil
	}

	factory, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("unsupported storage backend: %s (must be 'none', 'local', 'azure', 's3', or 'gcs')", name)
	}

	return factory(cfg)
}
