package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/asaidimu/go-loom/core/loader"
	"github.com/asaidimu/go-loom/core/loadplan"
	"github.com/asaidimu/go-loom/core/mapping"
	"github.com/asaidimu/go-loom/core/metadata"
	"github.com/asaidimu/go-loom/core/naming"
	"github.com/asaidimu/go-loom/core/persistence"
	"github.com/asaidimu/go-loom/core/schema"
	"github.com/asaidimu/go-loom/core/service"
	"github.com/asaidimu/go-loom/sqlite"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// DataSourceName is where the data source is bound in the naming directory.
const DataSourceName = "jdbc/default"

// DataSource is an open connection pool together with the dialect its
// statements are rendered in.
type DataSource struct {
	*sql.DB
	Driver  string
	Dialect loader.Dialect
}

func (d *DataSource) Stop() error { return d.DB.Close() }

// Catalog hands out entity loaders.
type Catalog interface {
	Entities() []string
	Loader(entity string) (*loader.EntityLoader, error)
}

type app struct {
	cfg      service.Config
	logger   *zap.Logger
	registry *service.Registry
	tracing  *sdktrace.TracerProvider
}

// settings flattens the viper configuration into dotted keys.
func settings(v *viper.Viper) service.Config {
	cfg := make(service.Config)
	for _, key := range v.AllKeys() {
		cfg[key] = v.Get(key)
	}
	return cfg
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopmentConfig().Build()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

// newTracerProvider installs a global tracer provider for the configured
// exporter. It returns nil when tracing is off.
func newTracerProvider(exporter string, w io.Writer) (*sdktrace.TracerProvider, error) {
	switch exporter {
	case "", "none":
		return nil, nil
	case "stdout":
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("creating stdout exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exp),
			sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", "loom"))),
		)
		otel.SetTracerProvider(tp)
		return tp, nil
	}
	return nil, fmt.Errorf("unsupported tracing exporter %q", exporter)
}

func newApp(v *viper.Viper, opts *rootOptions) (*app, error) {
	cfg := settings(v)
	logger, err := newLogger(opts.verbose)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	tp, err := newTracerProvider(cfg.StringOr("tracing.exporter", "none"), os.Stderr)
	if err != nil {
		return nil, err
	}

	reg := service.NewRegistry(cfg, logger)
	a := &app{cfg: cfg, logger: logger, registry: reg, tracing: tp}
	if err := service.Register[naming.Service](reg, naming.Initiator{}); err != nil {
		return nil, err
	}
	if err := service.Register[*DataSource](reg, service.InitiatorFunc[*DataSource](a.openDataSource)); err != nil {
		return nil, err
	}
	if err := service.Register[Catalog](reg, service.InitiatorFunc[Catalog](a.openCatalog)); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) close() {
	if err := a.registry.Close(); err != nil {
		a.logger.Warn("Stopping services", zap.Error(err))
	}
	if a.tracing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.tracing.Shutdown(ctx); err != nil {
			a.logger.Warn("Flushing traces", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

func (a *app) openDataSource(cfg service.Config, reg *service.Registry) (*DataSource, error) {
	driver := cfg.StringOr("database.driver", "sqlite3")
	dsn := cfg.StringOr("database.dsn", "")
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening %s database: %w", driver, err)
	}
	if driver == "sqlite3" {
		db.SetMaxOpenConns(1)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to %s database: %w", driver, err)
	}

	ds := &DataSource{DB: db, Driver: driver, Dialect: loader.DialectFor(driver)}
	if driver == "sqlite3" {
		ds.Dialect = sqlite.Dialect{}
	}
	names, err := service.Get[naming.Service](reg)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := names.Rebind(DataSourceName, ds); err != nil {
		db.Close()
		return nil, err
	}
	a.logger.Debug("Opened data source", zap.String("driver", driver))
	return ds, nil
}

func (a *app) persistenceOptions(cfg service.Config) persistence.Options {
	batch, _ := cfg.Int("loader.batch_size")
	readOnly, _ := cfg.Bool("loader.read_only")
	options := persistence.Options{
		Logger:      a.logger.Named("persistence"),
		BatchSize:   batch,
		JoinFetch:   strings.EqualFold(cfg.StringOr("loader.fetch", "none"), "join"),
		Influencers: loadplan.NewInfluencers(stringList(cfg, "loader.influencers")...),
		ReadOnly:    readOnly,
	}
	if a.tracing != nil {
		options.Tracer = a.tracing.Tracer("github.com/asaidimu/go-loom/cmd")
	}
	return options
}

// openCatalog keeps schemas in the database for sqlite3. Other drivers read
// them from the files listed under "schemas".
func (a *app) openCatalog(cfg service.Config, reg *service.Registry) (Catalog, error) {
	ds, err := service.Get[*DataSource](reg)
	if err != nil {
		return nil, err
	}
	options := a.persistenceOptions(cfg)
	if ds.Driver == "sqlite3" {
		interactor := sqlite.NewSQLiteInteractor(ds.DB, a.logger.Named("sqlite"), nil, nil)
		p, err := persistence.NewPersistence(interactor, options)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	c, err := newFileCatalog(stringList(cfg, "schemas"), ds.Dialect, options)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// store returns the catalog as a Persistence, which only the sqlite3 driver
// provides.
func (a *app) store() (*persistence.Persistence, error) {
	catalog, err := service.Get[Catalog](a.registry)
	if err != nil {
		return nil, err
	}
	p, ok := catalog.(*persistence.Persistence)
	if !ok {
		return nil, fmt.Errorf("driver %s keeps schemas in files; list them under \"schemas\" instead", a.cfg.StringOr("database.driver", ""))
	}
	return p, nil
}

// dataSource resolves the data source through the naming directory.
func (a *app) dataSource() (*DataSource, error) {
	if _, err := service.Get[*DataSource](a.registry); err != nil {
		return nil, err
	}
	names, err := service.Get[naming.Service](a.registry)
	if err != nil {
		return nil, err
	}
	bound, err := names.Lookup(DataSourceName)
	if err != nil {
		return nil, err
	}
	ds, ok := bound.(*DataSource)
	if !ok {
		return nil, fmt.Errorf("%s is bound to %T, not a data source", DataSourceName, bound)
	}
	return ds, nil
}

func stringList(cfg service.Config, key string) []string {
	var out []string
	switch v := cfg[key].(type) {
	case []string:
		out = v
	case []any:
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
	case string:
		for _, item := range strings.Split(v, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
	}
	return out
}

// fileCatalog serves loaders for schemas read from files.
type fileCatalog struct {
	registry *metadata.Registry
	mappings *mapping.Registry
	opts     []loader.LoaderOption

	mu      sync.Mutex
	loaders map[string]*loader.EntityLoader
}

func newFileCatalog(paths []string, dialect loader.Dialect, options persistence.Options) (*fileCatalog, error) {
	c := &fileCatalog{
		registry: metadata.NewRegistry(options.Logger.Named("metadata")),
		mappings: mapping.NewRegistry(),
		loaders:  make(map[string]*loader.EntityLoader),
		opts: []loader.LoaderOption{
			loader.WithLoaderDialect(dialect),
			loader.WithLogger(options.Logger.Named("loader")),
			loader.WithReadOnly(options.ReadOnly),
		},
	}
	if options.BatchSize > 0 {
		c.opts = append(c.opts, loader.WithBatchSize(options.BatchSize))
	}
	if options.JoinFetch {
		c.opts = append(c.opts, loader.WithJoinFetch(options.Influencers))
	}
	if options.Tracer != nil {
		c.opts = append(c.opts, loader.WithTracer(options.Tracer))
	}

	for _, path := range paths {
		sc, err := schema.LoadFile(path)
		if err != nil {
			return nil, err
		}
		if _, err := c.registry.Register(sc); err != nil {
			return nil, fmt.Errorf("schema %s: %w", path, err)
		}
		c.mappings.Register(mapping.NewDocumentMapping(sc))
	}
	return c, nil
}

func (c *fileCatalog) Entities() []string { return c.registry.EntityNames() }

func (c *fileCatalog) Loader(entity string) (*loader.EntityLoader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if l, ok := c.loaders[entity]; ok {
		return l, nil
	}
	l, err := loader.NewEntityLoader(c.registry, c.mappings, entity, c.opts...)
	if err != nil {
		return nil, err
	}
	c.loaders[entity] = l
	return l, nil
}
