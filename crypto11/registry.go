package crypto11

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
)

// Registry caches loaded modules by path.
// Modules are never unloaded.
type Registry struct {
	loader Loader

	lock    sync.Mutex
	modules map[string]Module
}

// DefaultRegistry is the process-wide registry of PKCS#11 modules
var DefaultRegistry = NewRegistry(LoadModule)

// NewRegistry returns registry that uses loader on first use of a path
func NewRegistry(loader Loader) *Registry {
	return &Registry{
		loader:  loader,
		modules: make(map[string]Module),
	}
}

// GetOrLoad returns the module for the path, loading it on the first call.
// The registry lock is held while loading, so concurrent callers never
// load the same path twice.
func (r *Registry) GetOrLoad(path string) (Module, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if m, ok := r.modules[path]; ok {
		return m, nil
	}

	m, err := r.loader(path)
	if err != nil {
		logger.KV(xlog.ERROR, "reason", "load", "module", path, "err", err.Error())
		if !errors.Is(err, ErrModuleLoad) {
			err = errors.Wrapf(ErrModuleLoad, "%q: %v", path, err)
		}
		return nil, err
	}
	if m == nil {
		return nil, errors.Wrapf(ErrModuleLoad, "%q: loader returned no module", path)
	}

	r.modules[path] = m
	return m, nil
}

// Loaded returns paths of the loaded modules
func (r *Registry) Loaded() []string {
	r.lock.Lock()
	defer r.lock.Unlock()

	list := make([]string, 0, len(r.modules))
	for p := range r.modules {
		list = append(list, p)
	}
	return list
}
