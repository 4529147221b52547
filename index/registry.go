package index

import (
	"sync"

	"github.com/fulldump/segmentdb/dberr"
)

type Factory func(definition Definition) (Index, error)

// Registry maps index type names to factories. It is passed explicitly to the
// collections that use it.
type Registry struct {
	mutex     sync.RWMutex
	factories map[string]Factory
	order     []string
}

func NewRegistry() *Registry {
	return &Registry{
		factories: map[string]Factory{},
	}
}

// DefaultRegistry returns a new registry with the built-in types.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("hash", newHashFromDefinition)
	r.Register("btree", newBTreeFromDefinition)
	r.Register("fulltext", newFulltextFromDefinition)
	return r
}

func (r *Registry) Register(typ string, factory Factory) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.factories[typ]; exists {
		return dberr.New(dberr.KindBadParameter, "index type '%s' already registered", typ)
	}
	r.factories[typ] = factory
	r.order = append(r.order, typ)
	return nil
}

func (r *Registry) New(definition Definition) (Index, error) {
	r.mutex.RLock()
	factory, exists := r.factories[definition.Type]
	r.mutex.RUnlock()

	if !exists {
		return nil, dberr.New(dberr.KindBadParameter, "unknown index type '%s'", definition.Type)
	}
	if definition.Name == "" {
		return nil, dberr.New(dberr.KindBadParameter, "index name is mandatory")
	}
	return factory(definition)
}

// Types lists the registered types in registration order.
func (r *Registry) Types() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return append([]string(nil), r.order...)
}
