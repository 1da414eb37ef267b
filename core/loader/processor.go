package loader

import (
	"iter"
	"strings"

	"github.com/asaidimu/go-loom/core/alias"
	lerrors "github.com/asaidimu/go-loom/core/errors"
	"github.com/asaidimu/go-loom/core/loadplan"
	"github.com/asaidimu/go-loom/core/mapping"
	"github.com/asaidimu/go-loom/core/metadata"
	"github.com/asaidimu/go-loom/core/session"
	"go.uber.org/zap"
)

// RowCursor is the sequential view of a result set. *sql.Rows implements it.
type RowCursor interface {
	Next() bool
	Columns() ([]string, error)
	Scan(dest ...any) error
	Err() error
}

// FetchAdvice tells the processor what to do with a fetched association.
type FetchAdvice int

const (
	// FetchHydrate materializes and attaches the fetched entity.
	FetchHydrate FetchAdvice = iota
	// FetchSkip ignores the fetch and everything below it.
	FetchSkip
)

// LoadPlanAdvisor may suppress the hydration of individual fetches.
type LoadPlanAdvisor interface {
	AdviseFetch(fetch *loadplan.Fetch) FetchAdvice
}

// NoOpLoadPlanAdvisor hydrates every fetch.
type NoOpLoadPlanAdvisor struct{}

func (NoOpLoadPlanAdvisor) AdviseFetch(*loadplan.Fetch) FetchAdvice { return FetchHydrate }

// MappingLookup resolves the object mapping of an entity.
type MappingLookup interface {
	Lookup(entity string) (mapping.EntityMapping, error)
}

// ExtractRequest carries the collaborators of one extraction.
type ExtractRequest struct {
	Advisor         LoadPlanAdvisor
	Cursor          RowCursor
	Session         session.IdentityMap
	Parameters      QueryParameters
	NamedParameters NamedParameterContext
	Aliases         *alias.Context
	// ReturnProxies yields the session's proxy of a root instead of the
	// instance when the session has one.
	ReturnProxies bool
	// ReadOnly marks every materialized entity read-only in the session.
	ReadOnly bool
	// OptionalObject is hydrated in place of a new instance for the root whose
	// identifier equals OptionalID.
	OptionalObject any
	OptionalID     any
}

type binding struct {
	node     loadplan.Node
	entity   string
	columns  []metadata.Column
	idCount  int
	mapping  mapping.EntityMapping
	setters  []mapping.Setter
	fetch    *loadplan.Fetch
	attach   mapping.Attacher
	children []*binding
}

// ResultSetProcessor turns rows of a statement rendered for a plan into
// entities. It is immutable and may serve concurrent extractions, each with its
// own cursor, session and alias context.
type ResultSetProcessor struct {
	plan            *loadplan.LoadPlan
	bindings        []*binding
	byNode          map[loadplan.Node]*binding
	refreshExisting bool
	logger          *zap.Logger
}

// ProcessorOption configures a ResultSetProcessor.
type ProcessorOption func(*ResultSetProcessor)

// WithRefreshExisting re-hydrates instances already present in the session,
// unless they were marked read-only.
func WithRefreshExisting(refresh bool) ProcessorOption {
	return func(p *ResultSetProcessor) { p.refreshExisting = refresh }
}

// WithProcessorLogger sets the processor logger.
func WithProcessorLogger(logger *zap.Logger) ProcessorOption {
	return func(p *ResultSetProcessor) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewResultSetProcessor binds a setter to every column of every entity node of
// plan, and an attacher to every fetch.
func NewResultSetProcessor(plan *loadplan.LoadPlan, mappings MappingLookup, opts ...ProcessorOption) (*ResultSetProcessor, error) {
	if plan == nil {
		return nil, lerrors.NewIllegalStateError("result set processor needs a load plan")
	}
	p := &ResultSetProcessor{
		plan:   plan,
		byNode: make(map[loadplan.Node]*binding),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}

	for _, node := range plan.Nodes() {
		b := &binding{node: node, columns: node.Columns()}
		if persister := node.Persister(); persister != nil {
			if mappings == nil {
				return nil, lerrors.NewMappingError(persister.EntityName(), "no object mappings available")
			}
			m, err := mappings.Lookup(persister.EntityName())
			if err != nil {
				return nil, err
			}
			b.entity = persister.EntityName()
			b.mapping = m
			b.idCount = len(persister.IdentifierColumns())
			for _, col := range b.columns {
				setter, ok := m.Property(col.Property)
				if !ok {
					return nil, lerrors.NewMappingError(b.entity, "property %q has no accessor", col.Property)
				}
				b.setters = append(b.setters, setter)
			}
		}
		if fetch, ok := node.(*loadplan.Fetch); ok {
			owner := p.byNode[fetch.Owner()]
			attach, ok := owner.mapping.Association(fetch.Association().Name)
			if !ok {
				return nil, lerrors.NewMappingError(owner.entity, "association %q has no accessor", fetch.Association().Name)
			}
			b.fetch = fetch
			b.attach = attach
			owner.children = append(owner.children, b)
		}
		p.bindings = append(p.bindings, b)
		p.byNode[node] = b
	}
	return p, nil
}

// Plan returns the plan the processor reads.
func (p *ResultSetProcessor) Plan() *loadplan.LoadPlan { return p.plan }

// ExtractResults reads the whole cursor and returns the materialized results.
func (p *ResultSetProcessor) ExtractResults(req ExtractRequest) ([]any, error) {
	var results []any
	for result, err := range p.Results(req) {
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	return results, nil
}

// Results lazily reads the cursor. A plan with a single entity return yields
// each distinct root once, after the rows it spans have been read; any other
// plan yields one value, or one []any tuple, per row. The cursor is never
// closed and the sequence cannot be restarted.
func (p *ResultSetProcessor) Results(req ExtractRequest) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		x, err := p.newExtraction(req)
		if err != nil {
			yield(nil, err)
			return
		}
		x.run(yield)
	}
}

type extraction struct {
	*ResultSetProcessor
	req       ExtractRequest
	positions map[*binding][]int
	row       []any
	rowNum    int
	attached  map[attachment]bool
	created   map[session.EntityKey]bool
	optional  *session.EntityKey
	readOnly  session.ReadOnlyMarker
	yielded   int
}

type attachment struct {
	owner session.EntityKey
	path  string
	child session.EntityKey
}

func (p *ResultSetProcessor) newExtraction(req ExtractRequest) (*extraction, error) {
	if req.Cursor == nil {
		return nil, lerrors.NewIllegalStateError("no row cursor to extract from")
	}
	if req.Aliases == nil || req.Aliases.Plan() != p.plan {
		return nil, lerrors.NewIllegalStateError("alias context was not built for this load plan")
	}
	if req.Advisor == nil {
		req.Advisor = NoOpLoadPlanAdvisor{}
	}
	if req.Session == nil {
		req.Session = session.New(p.logger)
	}

	names, err := req.Cursor.Columns()
	if err != nil {
		return nil, &lerrors.ResourceStateError{Op: "read columns", Err: err}
	}
	index := make(map[string]int, len(names))
	for i, name := range names {
		index[name] = i
		if _, dup := index[strings.ToLower(name)]; !dup {
			index[strings.ToLower(name)] = i
		}
	}

	x := &extraction{
		ResultSetProcessor: p,
		req:                req,
		positions:          make(map[*binding][]int, len(p.bindings)),
		row:                make([]any, len(names)),
		attached:           make(map[attachment]bool),
		created:            make(map[session.EntityKey]bool),
	}
	x.readOnly, _ = req.Session.(session.ReadOnlyMarker)

	for _, b := range p.bindings {
		aliases := req.Aliases.ResolveAlias(b.node)
		if len(aliases) != len(b.columns) {
			return nil, lerrors.NewIllegalStateError("alias context does not cover %s", b.node.Path())
		}
		pos := make([]int, len(aliases))
		for i, a := range aliases {
			at, ok := index[a]
			if !ok {
				at, ok = index[strings.ToLower(a)]
			}
			if !ok {
				return nil, &lerrors.DataIntegrityError{Alias: a, Reason: "column missing from result set"}
			}
			pos[i] = at
		}
		x.positions[b] = pos
	}

	if req.OptionalObject != nil {
		if root, ok := p.plan.Root(); ok {
			key, err := optionalKey(root.Persister(), req.OptionalID)
			if err != nil {
				return nil, err
			}
			x.optional = &key
		}
	}
	return x, nil
}

func optionalKey(persister *metadata.EntityPersister, id any) (session.EntityKey, error) {
	values, err := identifierValues(persister, persister.IdentifierColumns(), id)
	if err != nil {
		return session.EntityKey{}, err
	}
	return session.NewEntityKey(persister.EntityName(), values...)
}

func (x *extraction) run(yield func(any, error) bool) {
	if x.plan.SingleEntityReturn() {
		x.runRoots(yield)
	} else {
		x.runTuples(yield)
	}
	x.logger.Debug("Extracted results",
		zap.Int("rows", x.rowNum),
		zap.Int("results", x.yielded),
		zap.Int("parameters", len(x.req.Parameters.PositionalValues)))
}

func (x *extraction) limitReached() bool {
	return x.req.Parameters.MaxRows > 0 && x.yielded >= x.req.Parameters.MaxRows
}

// emit yields a result and reports whether reading should continue.
func (x *extraction) emit(yield func(any, error) bool, v any) bool {
	x.yielded++
	return yield(v, nil) && !x.limitReached()
}

func (x *extraction) runRoots(yield func(any, error) bool) {
	root := x.bindings[0]
	var (
		pending    any
		pendingKey session.EntityKey
		hasPending bool
		emitted    = make(map[session.EntityKey]bool)
	)

	for x.next() {
		if err := x.scan(); err != nil {
			yield(nil, err)
			return
		}
		instance, key, ok, err := x.resolve(root)
		if err != nil {
			yield(nil, err)
			return
		}
		if !ok {
			yield(nil, &lerrors.DataIntegrityError{
				Alias:  x.req.Aliases.ResolveAlias(root.node)[0],
				Row:    x.rowNum,
				Reason: "root identifier is null",
			})
			return
		}
		if err := x.fetches(root, key, instance); err != nil {
			yield(nil, err)
			return
		}

		if hasPending && pendingKey != key {
			emitted[pendingKey] = true
			if !x.emit(yield, x.result(pending, pendingKey)) {
				return
			}
			hasPending = false
		}
		if !emitted[key] {
			pending, pendingKey, hasPending = instance, key, true
		}
	}
	if err := x.req.Cursor.Err(); err != nil {
		yield(nil, &lerrors.ResourceStateError{Op: "read rows", Err: err})
		return
	}
	if hasPending {
		x.emit(yield, x.result(pending, pendingKey))
	}
}

func (x *extraction) runTuples(yield func(any, error) bool) {
	returns := x.plan.Returns()
	for x.next() {
		if err := x.scan(); err != nil {
			yield(nil, err)
			return
		}
		tuple := make([]any, len(returns))
		for i, r := range returns {
			b := x.byNode[r]
			if b.mapping == nil {
				v, err := x.value(b, 0)
				if err != nil {
					yield(nil, err)
					return
				}
				tuple[i] = v
				continue
			}
			instance, key, ok, err := x.resolve(b)
			if err != nil {
				yield(nil, err)
				return
			}
			if !ok {
				yield(nil, &lerrors.DataIntegrityError{
					Alias:  x.req.Aliases.ResolveAlias(b.node)[0],
					Row:    x.rowNum,
					Reason: "identifier of " + b.entity + " is null",
				})
				return
			}
			if err := x.fetches(b, key, instance); err != nil {
				yield(nil, err)
				return
			}
			tuple[i] = x.result(instance, key)
		}

		var out any = tuple
		if len(tuple) == 1 {
			out = tuple[0]
		}
		if !x.emit(yield, out) {
			return
		}
	}
	if err := x.req.Cursor.Err(); err != nil {
		yield(nil, &lerrors.ResourceStateError{Op: "read rows", Err: err})
	}
}

func (x *extraction) next() bool {
	if !x.req.Cursor.Next() {
		return false
	}
	x.rowNum++
	return true
}

func (x *extraction) scan() error {
	dest := make([]any, len(x.row))
	for i := range x.row {
		x.row[i] = nil
		dest[i] = &x.row[i]
	}
	if err := x.req.Cursor.Scan(dest...); err != nil {
		return &lerrors.ResourceStateError{Op: "scan row", Err: err}
	}
	return nil
}

func (x *extraction) result(instance any, key session.EntityKey) any {
	if x.req.ReturnProxies {
		if proxies, ok := x.req.Session.(session.ProxySource); ok {
			if proxy, ok := proxies.Proxy(key); ok {
				return proxy
			}
		}
	}
	return instance
}

// value reads and coerces column i of a binding in the current row.
func (x *extraction) value(b *binding, i int) (any, error) {
	raw := x.row[x.positions[b][i]]
	v, err := mapping.Coerce(raw, b.columns[i].Type)
	if err != nil {
		return nil, x.conversionError(b, i, raw, err)
	}
	return v, nil
}

func (x *extraction) conversionError(b *binding, i int, raw any, err error) error {
	return &lerrors.TypeConversionError{
		Entity:   b.entity,
		Property: b.columns[i].Property,
		Alias:    x.req.Aliases.ResolveAlias(b.node)[i],
		Value:    raw,
		Target:   string(b.columns[i].Type),
		Err:      err,
	}
}

// resolve returns the instance the current row describes for an entity
// binding. ok is false when the identifier columns are null.
func (x *extraction) resolve(b *binding) (instance any, key session.EntityKey, ok bool, err error) {
	ids := make([]any, b.idCount)
	for i := range ids {
		v, err := x.value(b, i)
		if err != nil {
			return nil, key, false, err
		}
		if v == nil {
			return nil, key, false, nil
		}
		ids[i] = v
	}
	key, err = session.NewEntityKey(b.entity, ids...)
	if err != nil {
		return nil, key, false, x.conversionError(b, 0, ids[0], err)
	}

	if existing, found := x.req.Session.GetExisting(key); found {
		if x.refreshExisting && (x.readOnly == nil || !x.readOnly.IsReadOnly(key)) {
			if err := x.hydrate(b, existing); err != nil {
				return nil, key, false, err
			}
		}
		x.markReadOnly(key)
		return existing, key, true, nil
	}

	if b.fetch == nil && x.optional != nil && *x.optional == key {
		instance = x.req.OptionalObject
	} else {
		instance = b.mapping.Instantiate()
	}
	if err := x.hydrate(b, instance); err != nil {
		return nil, key, false, err
	}
	x.req.Session.Register(key, instance)
	x.created[key] = true
	x.markReadOnly(key)
	return instance, key, true, nil
}

func (x *extraction) markReadOnly(key session.EntityKey) {
	if x.req.ReadOnly && x.readOnly != nil {
		x.readOnly.MarkReadOnly(key)
	}
}

func (x *extraction) hydrate(b *binding, instance any) error {
	for i, set := range b.setters {
		v, err := x.value(b, i)
		if err != nil {
			return err
		}
		if err := set(instance, v); err != nil {
			return x.conversionError(b, i, x.row[x.positions[b][i]], err)
		}
	}
	return nil
}

// fetches materializes the joined children of an owner and attaches each
// distinct child once. Owners that were already in the session before this
// extraction keep their associations as they are.
func (x *extraction) fetches(owner *binding, ownerKey session.EntityKey, ownerInstance any) error {
	for _, child := range owner.children {
		if x.req.Advisor.AdviseFetch(child.fetch) == FetchSkip {
			continue
		}
		instance, key, ok, err := x.resolve(child)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		link := attachment{owner: ownerKey, path: child.node.Path(), child: key}
		if x.created[ownerKey] && !x.attached[link] {
			if err := child.attach(ownerInstance, instance); err != nil {
				return &lerrors.MappingError{Entity: owner.entity, Reason: "cannot attach " + child.node.Path(), Err: err}
			}
			x.attached[link] = true
		}
		if err := x.fetches(child, key, instance); err != nil {
			return err
		}
	}
	return nil
}
