package sync

import (
	"fmt"
	"sort"
	"sync"

	"github.com/openmirror/treesync/internal/storage"
	"github.com/openmirror/treesync/internal/storage/blobstore"
	"github.com/openmirror/treesync/internal/storage/localfs"
	"github.com/openmirror/treesync/internal/storage/memstore"
)

// AdapterParams carries backend-specific construction inputs. Path is
// the root directory for localfs and the database file for blobstore;
// memstore ignores it.
type AdapterParams struct {
	Path string
}

// AdapterFactory builds a storage adapter from params.
type AdapterFactory func(params *AdapterParams) (storage.Adapter, error)

var (
	factoryMu sync.RWMutex
	factories = make(map[storage.BackendType]AdapterFactory)
)

// RegisterBackend binds a backend tag to its factory. Later
// registrations replace earlier ones.
func RegisterBackend(backend storage.BackendType, factory AdapterFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	factories[backend] = factory
}

// NewAdapter builds an adapter for the given backend tag.
func NewAdapter(backend storage.BackendType, params *AdapterParams) (storage.Adapter, error) {
	factoryMu.RLock()
	factory, ok := factories[backend]
	factoryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
	if params == nil {
		params = &AdapterParams{}
	}
	return factory(params)
}

// RegisteredBackends lists the known backend tags in sorted order.
func RegisteredBackends() []storage.BackendType {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	out := make([]storage.BackendType, 0, len(factories))
	for bt := range factories {
		out = append(out, bt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func init() {
	RegisterBackend(storage.BackendLocalFS, func(params *AdapterParams) (storage.Adapter, error) {
		if params.Path == "" {
			return nil, fmt.Errorf("localfs backend requires a root path")
		}
		return localfs.New(params.Path)
	})
	RegisterBackend(storage.BackendMemStore, func(_ *AdapterParams) (storage.Adapter, error) {
		return memstore.New(), nil
	})
	RegisterBackend(storage.BackendBlobStore, func(params *AdapterParams) (storage.Adapter, error) {
		if params.Path == "" {
			return nil, fmt.Errorf("blobstore backend requires a database path")
		}
		return blobstore.New(params.Path), nil
	})
}
