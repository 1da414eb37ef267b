package loader

import (
	"context"
	"database/sql"
	"strconv"

	"github.com/asaidimu/go-loom/core/alias"
	lerrors "github.com/asaidimu/go-loom/core/errors"
	"github.com/asaidimu/go-loom/core/loadplan"
	"github.com/asaidimu/go-loom/core/metadata"
	"github.com/asaidimu/go-loom/core/session"
	"github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "github.com/asaidimu/go-loom/core/loader"

// Querier executes a statement. *sql.DB, *sql.Conn and *sql.Tx implement it.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// LoaderOptions configure an EntityLoader.
type LoaderOptions struct {
	BatchSize       int
	Dialect         Dialect
	JoinFetch       bool
	Influencers     loadplan.Influencers
	ReadOnly        bool
	RefreshExisting bool
	Logger          *zap.Logger
	Tracer          trace.Tracer
}

// DefaultLoaderOptions loads one identifier per statement with the standard
// dialect and no fetches.
func DefaultLoaderOptions() LoaderOptions {
	return LoaderOptions{
		BatchSize:   1,
		Dialect:     StandardDialect{},
		Influencers: loadplan.NoInfluencers,
	}
}

// LoaderOption mutates LoaderOptions.
type LoaderOption func(*LoaderOptions)

// WithBatchSize sets how many identifiers one statement loads.
func WithBatchSize(n int) LoaderOption {
	return func(o *LoaderOptions) { o.BatchSize = n }
}

// WithLoaderDialect sets the SQL dialect.
func WithLoaderDialect(d Dialect) LoaderOption {
	return func(o *LoaderOptions) { o.Dialect = d }
}

// WithJoinFetch switches to the join-fetch strategy.
func WithJoinFetch(influencers loadplan.Influencers) LoaderOption {
	return func(o *LoaderOptions) {
		o.JoinFetch = true
		o.Influencers = influencers
	}
}

// WithReadOnly marks loaded entities read-only in the session.
func WithReadOnly(readOnly bool) LoaderOption {
	return func(o *LoaderOptions) { o.ReadOnly = readOnly }
}

// WithRefresh re-hydrates entities already present in the session.
func WithRefresh(refresh bool) LoaderOption {
	return func(o *LoaderOptions) { o.RefreshExisting = refresh }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) LoaderOption {
	return func(o *LoaderOptions) { o.Logger = logger }
}

// WithTracer sets the tracer. Defaults to the global tracer provider.
func WithTracer(tracer trace.Tracer) LoaderOption {
	return func(o *LoaderOptions) { o.Tracer = tracer }
}

// EntityLoader loads entities of one type by identifier. It is safe for
// concurrent use as long as every call brings its own session.
type EntityLoader struct {
	entity     string
	persister  *metadata.EntityPersister
	provider   metadata.Provider
	plan       *loadplan.LoadPlan
	builder    *EntityLoadQueryBuilder
	processor  *ResultSetProcessor
	statements *cache.Cache
	options    LoaderOptions
	logger     *zap.Logger
	tracer     trace.Tracer
}

// NewEntityLoader builds the load plan, query builder and result set processor
// for entityName.
func NewEntityLoader(provider metadata.Provider, mappings MappingLookup, entityName string, opts ...LoaderOption) (*EntityLoader, error) {
	options := DefaultLoaderOptions()
	for _, opt := range opts {
		opt(&options)
	}
	if options.BatchSize < 1 {
		options.BatchSize = 1
	}
	if options.Dialect == nil {
		options.Dialect = StandardDialect{}
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tracer := options.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}

	persister, err := provider.GetEntityPersister(entityName)
	if err != nil {
		return nil, err
	}

	var strategy loadplan.Strategy = loadplan.NewSingleRootStrategy(provider, options.Influencers)
	if options.JoinFetch {
		strategy = loadplan.NewJoinFetchStrategy(provider, options.Influencers)
	}
	plan, err := loadplan.BuildRootEntityLoadPlan(strategy, persister)
	if err != nil {
		return nil, err
	}

	processor, err := NewResultSetProcessor(plan, mappings,
		WithRefreshExisting(options.RefreshExisting),
		WithProcessorLogger(logger))
	if err != nil {
		return nil, err
	}

	logger.Debug("Built entity loader",
		zap.String("entity", entityName),
		zap.String("strategy", strategy.Name()),
		zap.Int("nodes", len(plan.Nodes())),
		zap.Int("batchSize", options.BatchSize))

	return &EntityLoader{
		entity:    entityName,
		persister: persister,
		provider:  provider,
		plan:      plan,
		builder: NewEntityLoadQueryBuilder(options.Influencers, plan,
			WithDialect(options.Dialect), WithBuilderLogger(logger)),
		processor:  processor,
		statements: cache.New(cache.NoExpiration, 0),
		options:    options,
		logger:     logger,
		tracer:     tracer,
	}, nil
}

// Plan returns the load plan.
func (l *EntityLoader) Plan() *loadplan.LoadPlan { return l.plan }

// SQL returns the statement loading batchSize identifiers.
func (l *EntityLoader) SQL(batchSize int) (string, error) {
	_, text, err := l.statement(batchSize)
	return text, err
}

// statement returns a fresh alias context and the SQL rendered with it. Alias
// generation is deterministic for a given seed, so the text is memoized per
// batch size.
func (l *EntityLoader) statement(batchSize int) (*alias.Context, string, error) {
	aliases, err := alias.NewContext(l.plan, 0, nil)
	if err != nil {
		return nil, "", err
	}
	key := strconv.Itoa(batchSize)
	if cached, ok := l.statements.Get(key); ok {
		return aliases, cached.(string), nil
	}
	text, err := l.builder.GenerateSQL(batchSize, l.provider, aliases)
	if err != nil {
		return nil, "", err
	}
	l.statements.Set(key, text, cache.NoExpiration)
	return aliases, text, nil
}

// Load loads the entities with the given identifiers, BatchSize identifiers
// per statement. Composite identifiers are passed as []any. A nil session
// opens a fresh one.
func (l *EntityLoader) Load(ctx context.Context, q Querier, sess session.IdentityMap, ids ...any) ([]any, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	if sess == nil {
		sess = session.New(l.logger)
	}

	var results []any
	for start := 0; start < len(ids); start += l.options.BatchSize {
		chunk := ids[start:min(start+l.options.BatchSize, len(ids))]
		batch := l.options.BatchSize
		if len(chunk) == 1 {
			batch = 1
		}
		loaded, err := l.loadBatch(ctx, q, sess, chunk, batch)
		if err != nil {
			return nil, err
		}
		results = append(results, loaded...)
	}
	return results, nil
}

func (l *EntityLoader) loadBatch(ctx context.Context, q Querier, sess session.IdentityMap, ids []any, batchSize int) (_ []any, err error) {
	ctx, span := l.tracer.Start(ctx, "loom.load",
		trace.WithAttributes(
			attribute.String("loom.entity", l.entity),
			attribute.Int("loom.batch_size", batchSize),
			attribute.Int("loom.identifiers", len(ids)),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	aliases, text, err := l.statement(batchSize)
	if err != nil {
		return nil, err
	}
	positional, err := IdentifierParameters(l.persister, ids, batchSize)
	if err != nil {
		return nil, err
	}
	params := QueryParameters{PositionalValues: positional}
	args, err := BindParameters(params, nil)
	if err != nil {
		return nil, err
	}

	l.logger.Debug("Executing load statement",
		zap.String("entity", l.entity),
		zap.String("sql", text),
		zap.Any("params", args))

	rows, err := q.QueryContext(ctx, text, args...)
	if err != nil {
		l.logger.Error("Load statement failed", zap.String("entity", l.entity), zap.Error(err))
		return nil, &lerrors.ResourceStateError{Op: "execute load of " + l.entity, Err: err}
	}
	defer rows.Close()

	results, err := l.processor.ExtractResults(ExtractRequest{
		Advisor:    NoOpLoadPlanAdvisor{},
		Cursor:     rows,
		Session:    sess,
		Parameters: params,
		Aliases:    aliases,
		ReadOnly:   l.options.ReadOnly,
	})
	if err != nil {
		l.logger.Error("Extraction failed", zap.String("entity", l.entity), zap.Error(err))
		return nil, err
	}
	span.SetAttributes(attribute.Int("loom.results", len(results)))
	return results, nil
}
