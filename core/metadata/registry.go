package metadata

import (
	"sort"
	"sync"

	lerrors "github.com/asaidimu/go-loom/core/errors"
	"github.com/asaidimu/go-loom/core/schema"
	"go.uber.org/zap"
)

// Provider resolves entity persisters by entity name.
type Provider interface {
	GetEntityPersister(name string) (*EntityPersister, error)
}

// Registry is the in-process Provider. It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	persisters map[string]*EntityPersister
	logger     *zap.Logger
}

var _ Provider = (*Registry)(nil)

// NewRegistry creates an empty registry.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		persisters: make(map[string]*EntityPersister),
		logger:     logger,
	}
}

// Register derives a persister from the schema and stores it under the entity
// name, replacing any previous mapping.
func (r *Registry) Register(sc *schema.SchemaDefinition) (*EntityPersister, error) {
	p, err := NewEntityPersister(sc)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.persisters[p.EntityName()] = p
	r.logger.Debug("Registered entity persister",
		zap.String("entity", p.EntityName()),
		zap.String("table", p.TableName()),
		zap.Int("columns", p.ColumnCount()))
	return p, nil
}

// GetEntityPersister returns the persister for an entity name.
func (r *Registry) GetEntityPersister(name string) (*EntityPersister, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.persisters[name]
	if !ok {
		return nil, lerrors.NewMappingError(name, "unknown entity")
	}
	return p, nil
}

// EntityNames returns the registered entity names sorted alphabetically.
func (r *Registry) EntityNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.persisters))
	for name := range r.persisters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
