// Package persistence ties the storage interactor, the metadata registry and
// the entity loaders together. Entity schemas are registered once, stored in
// the `_schemas` table and reloaded on startup; documents are written through
// the interactor and read back through load plans.
package persistence

import (
	"context"
	"fmt"
	"sync"

	"github.com/asaidimu/go-events"
	"github.com/asaidimu/go-loom/core/loader"
	"github.com/asaidimu/go-loom/core/loadplan"
	"github.com/asaidimu/go-loom/core/mapping"
	"github.com/asaidimu/go-loom/core/metadata"
	"github.com/asaidimu/go-loom/core/schema"
	"github.com/asaidimu/go-loom/core/session"
	"github.com/asaidimu/go-loom/utils"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Options configure a Persistence.
type Options struct {
	Logger *zap.Logger
	Tracer trace.Tracer
	// BatchSize is the number of identifiers loaded per statement.
	BatchSize int
	// JoinFetch joins the associations marked "join", and the paths enabled
	// by Influencers, into every load.
	JoinFetch   bool
	Influencers loadplan.Influencers
	ReadOnly    bool
}

// ValidationError reports a document rejected by its entity schema.
type ValidationError struct {
	Entity string
	Issues []schema.Issue
}

func (e *ValidationError) Error() string {
	if len(e.Issues) == 0 {
		return fmt.Sprintf("invalid %s document", e.Entity)
	}
	return fmt.Sprintf("invalid %s document: %s (%s)", e.Entity, e.Issues[0].Message, e.Issues[0].Path)
}

type loaderCache struct {
	mu      sync.Mutex
	loaders map[string]*loader.EntityLoader
}

func (c *loaderCache) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loaders = make(map[string]*loader.EntityLoader)
}

// Persistence is safe for concurrent use. Every load runs in its own session
// unless the caller brings one.
type Persistence struct {
	interactor    DatabaseInteractor
	registry      *metadata.Registry
	mappings      *mapping.Registry
	schemas       *metadata.EntityPersister
	loaders       *loaderCache
	options       Options
	logger        *zap.Logger
	subscriptions map[string]*SubscriptionInfo
	subMu         *sync.RWMutex
	bus           *events.TypedEventBus[PersistenceEvent]
}

// NewPersistence creates the `_schemas` table if needed and registers every
// schema stored in it.
func NewPersistence(interactor DatabaseInteractor, options Options) (*Persistence, error) {
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	bus, err := events.NewTypedEventBus[PersistenceEvent](events.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("could not initialize event bus: %w", err)
	}

	sc, err := schemasSchema()
	if err != nil {
		return nil, fmt.Errorf("error parsing schemas collection schema: %w", err)
	}
	schemas, err := metadata.NewEntityPersister(sc)
	if err != nil {
		return nil, fmt.Errorf("error mapping schemas collection: %w", err)
	}

	ctx := context.Background()
	exists, err := interactor.CollectionExists(ctx, schemas)
	if err != nil {
		return nil, fmt.Errorf("error looking up schema collection: %w", err)
	}
	if !exists {
		if err := interactor.CreateCollection(ctx, schemas); err != nil {
			return nil, fmt.Errorf("failed to create table for collections %s: %w", sc.Name, err)
		}
	}

	p := &Persistence{
		interactor:    interactor,
		registry:      metadata.NewRegistry(logger.Named("metadata")),
		mappings:      mapping.NewRegistry(),
		schemas:       schemas,
		loaders:       &loaderCache{loaders: make(map[string]*loader.EntityLoader)},
		options:       options,
		logger:        logger,
		subscriptions: make(map[string]*SubscriptionInfo),
		subMu:         &sync.RWMutex{},
		bus:           bus,
	}

	records, err := interactor.SelectDocuments(ctx, schemas)
	if err != nil {
		return nil, fmt.Errorf("error reading stored schemas: %w", err)
	}
	for _, record := range records {
		stored, err := schemaFromRecord(record)
		if err != nil {
			return nil, err
		}
		if _, err := p.registry.Register(stored); err != nil {
			return nil, fmt.Errorf("stored schema %s: %w", stored.Name, err)
		}
		p.mappings.Register(mapping.NewDocumentMapping(stored))
	}
	logger.Debug("Persistence ready", zap.Int("entities", len(records)))
	return p, nil
}

// Provider returns the metadata of the registered entities.
func (p *Persistence) Provider() metadata.Provider { return p.registry }

// Entities returns the names of the registered entities.
func (p *Persistence) Entities() []string { return p.registry.EntityNames() }

// Schema returns the schema an entity was registered with.
func (p *Persistence) Schema(entity string) (*schema.SchemaDefinition, error) {
	persister, err := p.registry.GetEntityPersister(entity)
	if err != nil {
		return nil, err
	}
	return persister.Schema(), nil
}

// Map replaces the object mapping of an entity. Entities without a mapping
// load as schema.Document values.
func (p *Persistence) Map(m mapping.EntityMapping) {
	p.mappings.Register(m)
	p.loaders.reset()
}

// Register creates the table of a new entity and stores its schema.
func (p *Persistence) Register(ctx context.Context, sc *schema.SchemaDefinition) (*metadata.EntityPersister, error) {
	var name string
	if sc != nil {
		name = sc.Name
	}
	result, err := p.withEventEmission("register", name, collectionCreateEvents, sc, func() (any, error) {
		persister, err := metadata.NewEntityPersister(sc)
		if err != nil {
			return nil, err
		}
		if _, err := p.registry.GetEntityPersister(sc.Name); err == nil {
			return nil, fmt.Errorf("entity %s is already registered", sc.Name)
		}
		if err := p.interactor.CreateCollection(ctx, persister); err != nil {
			return nil, fmt.Errorf("failed to create collection %s: %w", sc.Name, err)
		}
		record, err := newSchemaRecord(sc)
		if err != nil {
			return nil, err
		}
		if _, err := p.interactor.InsertDocuments(ctx, p.schemas, []schema.Document{record}); err != nil {
			return nil, fmt.Errorf("failed to store schema %s: %w", sc.Name, err)
		}

		persister, err = p.registry.Register(sc)
		if err != nil {
			return nil, err
		}
		if _, err := p.mappings.Lookup(sc.Name); err != nil {
			p.mappings.Register(mapping.NewDocumentMapping(sc))
		}
		p.loaders.reset()
		return persister, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*metadata.EntityPersister), nil
}

// Save validates and inserts records of an entity. A record is a
// schema.Document, a map[string]any, or a struct whose json tags name the
// entity's fields.
func (p *Persistence) Save(ctx context.Context, entity string, records ...any) (int64, error) {
	result, err := p.withEventEmission("create", entity, documentCreateEvents, records, func() (any, error) {
		persister, err := p.registry.GetEntityPersister(entity)
		if err != nil {
			return nil, err
		}
		docs := make([]schema.Document, 0, len(records))
		for _, record := range records {
			doc, err := toDocument(record)
			if err != nil {
				return nil, fmt.Errorf("invalid %s record: %w", entity, err)
			}
			if ok, issues := schema.NewValidator(persister.Schema()).Validate(doc, false); !ok {
				return nil, &ValidationError{Entity: entity, Issues: issues}
			}
			docs = append(docs, doc)
		}
		return p.interactor.InsertDocuments(ctx, persister, docs)
	})
	if err != nil {
		return 0, err
	}
	return result.(int64), nil
}

func toDocument(record any) (schema.Document, error) {
	switch r := record.(type) {
	case schema.Document:
		return r, nil
	case map[string]any:
		return schema.Document(r), nil
	}
	m, err := utils.StructToMap(record)
	if err != nil {
		return nil, err
	}
	return schema.Document(m), nil
}

// Load loads entities by identifier in a fresh session. Composite
// identifiers are passed as []any in primary index order.
func (p *Persistence) Load(ctx context.Context, entity string, ids ...any) ([]any, error) {
	return p.LoadInSession(ctx, session.New(p.logger.Named("session")), entity, ids...)
}

// LoadInSession loads entities by identifier, resolving them against and
// registering them in sess.
func (p *Persistence) LoadInSession(ctx context.Context, sess session.IdentityMap, entity string, ids ...any) ([]any, error) {
	result, err := p.withEventEmission("load", entity, loadEvents, ids, func() (any, error) {
		l, err := p.Loader(entity)
		if err != nil {
			return nil, err
		}
		return l.Load(ctx, p.interactor, sess, ids...)
	})
	if err != nil {
		return nil, err
	}
	return result.([]any), nil
}

// Loader returns the entity loader of an entity, built on first use with the
// persistence options.
func (p *Persistence) Loader(entity string) (*loader.EntityLoader, error) {
	p.loaders.mu.Lock()
	defer p.loaders.mu.Unlock()
	if l, ok := p.loaders.loaders[entity]; ok {
		return l, nil
	}

	opts := []loader.LoaderOption{
		loader.WithLoaderDialect(p.interactor.Dialect()),
		loader.WithLogger(p.logger.Named("loader")),
		loader.WithReadOnly(p.options.ReadOnly),
	}
	if p.options.BatchSize > 0 {
		opts = append(opts, loader.WithBatchSize(p.options.BatchSize))
	}
	if p.options.JoinFetch {
		opts = append(opts, loader.WithJoinFetch(p.options.Influencers))
	}
	if p.options.Tracer != nil {
		opts = append(opts, loader.WithTracer(p.options.Tracer))
	}
	l, err := loader.NewEntityLoader(p.registry, p.mappings, entity, opts...)
	if err != nil {
		return nil, err
	}
	p.loaders.loaders[entity] = l
	return l, nil
}

// DeleteAll removes every document of an entity.
func (p *Persistence) DeleteAll(ctx context.Context, entity string) (int64, error) {
	result, err := p.withEventEmission("delete", entity, documentDeleteEvents, nil, func() (any, error) {
		persister, err := p.registry.GetEntityPersister(entity)
		if err != nil {
			return nil, err
		}
		return p.interactor.DeleteDocuments(ctx, persister)
	})
	if err != nil {
		return 0, err
	}
	return result.(int64), nil
}

// Transact runs callback against a Persistence bound to a new transaction.
// The transaction is committed when callback succeeds and rolled back
// otherwise. Entities registered inside the callback stay registered in
// memory even when the transaction rolls back.
func (p *Persistence) Transact(ctx context.Context, callback func(tx *Persistence) (any, error)) (any, error) {
	txInteractor, err := p.interactor.StartTransaction(ctx)
	if err != nil {
		return nil, err
	}

	tx := *p
	tx.interactor = txInteractor

	result, err := callback(&tx)
	if err != nil {
		if rbErr := txInteractor.Rollback(ctx); rbErr != nil {
			p.logger.Error("Rollback failed", zap.Error(rbErr))
		}
		return result, err
	}
	if err := txInteractor.Commit(ctx); err != nil {
		return result, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return result, nil
}

// RegisterSubscription registers a callback for a persistence event and
// returns the id to unregister it with.
func (p *Persistence) RegisterSubscription(options RegisterSubscriptionOptions) string {
	p.subMu.Lock()
	defer p.subMu.Unlock()

	callback := options.Callback
	unsubscribe := p.bus.Subscribe(string(options.Event), func(ctx context.Context, event PersistenceEvent) error {
		return callback(ctx, event)
	})
	id := uuid.New().String()

	p.subscriptions[id] = &SubscriptionInfo{
		Id:          &id,
		Event:       options.Event,
		Unsubscribe: unsubscribe,
		Label:       options.Label,
		Description: options.Description,
	}
	return id
}

// UnregisterSubscription removes a subscription by its id.
func (p *Persistence) UnregisterSubscription(id string) {
	p.subMu.Lock()
	defer p.subMu.Unlock()

	if info, ok := p.subscriptions[id]; ok {
		info.Unsubscribe()
		delete(p.subscriptions, id)
	}
}

// Subscriptions returns the active subscriptions.
func (p *Persistence) Subscriptions() []SubscriptionInfo {
	p.subMu.RLock()
	defer p.subMu.RUnlock()

	subs := make([]SubscriptionInfo, 0, len(p.subscriptions))
	for _, sub := range p.subscriptions {
		subs = append(subs, *sub)
	}
	return subs
}
