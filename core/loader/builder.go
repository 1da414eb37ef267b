// Package loader compiles load plans into SQL, executes them and turns the
// resulting rows back into entities.
package loader

import (
	"strings"

	"github.com/asaidimu/go-loom/core/alias"
	lerrors "github.com/asaidimu/go-loom/core/errors"
	"github.com/asaidimu/go-loom/core/loadplan"
	"github.com/asaidimu/go-loom/core/metadata"
	"github.com/asaidimu/go-loom/core/schema"
	"go.uber.org/zap"
)

// EntityLoadQueryBuilder renders the statement that loads the root entity of a
// plan by identifier.
type EntityLoadQueryBuilder struct {
	influencers loadplan.Influencers
	plan        *loadplan.LoadPlan
	dialect     Dialect
	logger      *zap.Logger
}

// BuilderOption configures an EntityLoadQueryBuilder.
type BuilderOption func(*EntityLoadQueryBuilder)

// WithDialect selects the SQL dialect. Defaults to StandardDialect.
func WithDialect(d Dialect) BuilderOption {
	return func(b *EntityLoadQueryBuilder) {
		if d != nil {
			b.dialect = d
		}
	}
}

// WithBuilderLogger sets the logger used to trace generated statements.
func WithBuilderLogger(logger *zap.Logger) BuilderOption {
	return func(b *EntityLoadQueryBuilder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewEntityLoadQueryBuilder creates a builder for plan.
func NewEntityLoadQueryBuilder(influencers loadplan.Influencers, plan *loadplan.LoadPlan, opts ...BuilderOption) *EntityLoadQueryBuilder {
	b := &EntityLoadQueryBuilder{
		influencers: influencers,
		plan:        plan,
		dialect:     StandardDialect{},
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Plan returns the plan the builder renders.
func (b *EntityLoadQueryBuilder) Plan() *loadplan.LoadPlan { return b.plan }

// Influencers returns the influencers the plan was built under.
func (b *EntityLoadQueryBuilder) Influencers() loadplan.Influencers { return b.influencers }

// Dialect returns the dialect the builder renders with.
func (b *EntityLoadQueryBuilder) Dialect() Dialect { return b.dialect }

// GenerateSQL renders a statement loading batchSize root identifiers. Columns
// are selected in the plan's node order, identifier columns first, which is the
// order the ResultSetProcessor reads them back in.
func (b *EntityLoadQueryBuilder) GenerateSQL(batchSize int, provider metadata.Provider, aliases *alias.Context) (string, error) {
	if batchSize < 1 {
		return "", lerrors.NewIllegalStateError("batch size must be at least 1, got %d", batchSize)
	}
	if b.plan == nil {
		return "", lerrors.NewIllegalStateError("query builder has no load plan")
	}
	root, ok := b.plan.Root()
	if !ok {
		return "", lerrors.NewIllegalStateError("load query needs a single entity return")
	}
	if aliases == nil {
		return "", lerrors.NewIllegalStateError("alias context is nil")
	}
	if provider == nil {
		return "", lerrors.NewIllegalStateError("entity metadata provider is nil")
	}

	nodes := b.plan.Nodes()
	tables := make(map[loadplan.Node]*metadata.EntityPersister, len(nodes))
	for _, node := range nodes {
		if !aliases.Covers(node) {
			return "", lerrors.NewIllegalStateError("alias context does not cover %s", node.Path())
		}
		if len(aliases.ResolveAlias(node)) != len(node.Columns()) {
			return "", lerrors.NewIllegalStateError("alias context has %d aliases for the %d columns of %s",
				len(aliases.ResolveAlias(node)), len(node.Columns()), node.Path())
		}
		p, err := provider.GetEntityPersister(node.Persister().EntityName())
		if err != nil {
			return "", err
		}
		tables[node] = p
	}

	q := b.dialect.QuoteIdentifier
	column := func(node loadplan.Node, name string) string {
		return q(aliases.TableAlias(node)) + "." + q(name)
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	first := true
	for _, node := range nodes {
		names := aliases.ResolveAlias(node)
		for i, col := range node.Columns() {
			if !first {
				sb.WriteString(", ")
			}
			first = false
			sb.WriteString(column(node, col.Name))
			sb.WriteString(" AS ")
			sb.WriteString(q(names[i]))
		}
	}

	sb.WriteString(" FROM ")
	sb.WriteString(q(tables[root].TableName()))
	sb.WriteString(" ")
	sb.WriteString(q(aliases.TableAlias(root)))

	for _, node := range nodes[1:] {
		fetch, ok := node.(*loadplan.Fetch)
		if !ok {
			return "", lerrors.NewIllegalStateError("unexpected node %s below the root", node.Path())
		}
		owner := fetch.Owner()
		assoc := fetch.Association()

		var left, right string
		if assoc.Kind == schema.RelationManyToOne {
			left = column(owner, fetch.ForeignKey().Name)
			right = column(fetch, tables[fetch].IdentifierColumns()[0].Name)
		} else {
			left = column(owner, tables[owner].IdentifierColumns()[0].Name)
			right = column(fetch, fetch.ForeignKey().Name)
		}
		sb.WriteString(" LEFT OUTER JOIN ")
		sb.WriteString(q(tables[fetch].TableName()))
		sb.WriteString(" ")
		sb.WriteString(q(aliases.TableAlias(fetch)))
		sb.WriteString(" ON ")
		sb.WriteString(left)
		sb.WriteString(" = ")
		sb.WriteString(right)
	}

	ids := tables[root].IdentifierColumns()
	sb.WriteString(" WHERE ")
	sb.WriteString(b.identifierPredicate(ids, batchSize, func(name string) string { return column(root, name) }))

	if b.plan.HasCollectionFetches() {
		sb.WriteString(" ORDER BY ")
		for i, id := range ids {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(column(root, id.Name))
		}
	}

	sql := sb.String()
	b.logger.Debug("Generated load statement",
		zap.String("entity", root.Persister().EntityName()),
		zap.Int("batchSize", batchSize),
		zap.String("dialect", b.dialect.Name()),
		zap.String("sql", sql))
	return sql, nil
}

func (b *EntityLoadQueryBuilder) identifierPredicate(ids []metadata.Column, batchSize int, column func(string) string) string {
	param := 0
	next := func() string {
		param++
		return b.dialect.Placeholder(param)
	}

	if len(ids) == 1 {
		if batchSize == 1 {
			return column(ids[0].Name) + " = " + next()
		}
		placeholders := make([]string, batchSize)
		for i := range placeholders {
			placeholders[i] = next()
		}
		return column(ids[0].Name) + " IN (" + strings.Join(placeholders, ", ") + ")"
	}

	groups := make([]string, batchSize)
	for g := range groups {
		parts := make([]string, len(ids))
		for i, id := range ids {
			parts[i] = column(id.Name) + " = " + next()
		}
		groups[g] = "(" + strings.Join(parts, " AND ") + ")"
	}
	return strings.Join(groups, " OR ")
}
