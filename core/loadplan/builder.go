package loadplan

import (
	"fmt"
	"strings"

	lerrors "github.com/asaidimu/go-loom/core/errors"
	"github.com/asaidimu/go-loom/core/metadata"
	"github.com/asaidimu/go-loom/core/schema"
)

// Influencers carry per-load adjustments to the default fetch behaviour.
type Influencers struct {
	// Fetches enables join fetching of "Entity.association" paths regardless of
	// their mapped fetch mode.
	Fetches map[string]bool
}

// NoInfluencers is the empty set of influencers.
var NoInfluencers = Influencers{}

// NewInfluencers enables the given "Entity.association" fetch paths.
func NewInfluencers(paths ...string) Influencers {
	if len(paths) == 0 {
		return NoInfluencers
	}
	fetches := make(map[string]bool, len(paths))
	for _, p := range paths {
		fetches[strings.TrimSpace(p)] = true
	}
	return Influencers{Fetches: fetches}
}

// FetchEnabled reports whether entity.association was enabled.
func (i Influencers) FetchEnabled(entity, association string) bool {
	return i.Fetches[entity+"."+association]
}

// Empty reports whether no influencer is set.
func (i Influencers) Empty() bool {
	return len(i.Fetches) == 0
}

// Strategy decides which associations of an entity are joined into the plan.
type Strategy interface {
	Name() string
	Provider() metadata.Provider
	Influencers() Influencers
	// ShouldFetch is asked for every association of an entity node at the given
	// depth (the root's associations are at depth 1).
	ShouldFetch(owner *metadata.EntityPersister, association metadata.Association, depth int) bool
}

// SingleRootStrategy loads the root entity alone.
type SingleRootStrategy struct {
	provider    metadata.Provider
	influencers Influencers
}

// NewSingleRootStrategy creates the "single root, no fetches" strategy.
func NewSingleRootStrategy(provider metadata.Provider, influencers Influencers) *SingleRootStrategy {
	return &SingleRootStrategy{provider: provider, influencers: influencers}
}

func (s *SingleRootStrategy) Name() string                { return "single-root" }
func (s *SingleRootStrategy) Provider() metadata.Provider { return s.provider }
func (s *SingleRootStrategy) Influencers() Influencers    { return s.influencers }

func (s *SingleRootStrategy) ShouldFetch(*metadata.EntityPersister, metadata.Association, int) bool {
	return false
}

// DefaultMaxFetchDepth bounds how deep a JoinFetchStrategy follows associations.
const DefaultMaxFetchDepth = 3

// JoinFetchStrategy joins associations mapped with fetch mode "join" and those
// enabled through influencers.
type JoinFetchStrategy struct {
	provider    metadata.Provider
	influencers Influencers
	MaxDepth    int
}

// NewJoinFetchStrategy creates a join-fetch strategy with DefaultMaxFetchDepth.
func NewJoinFetchStrategy(provider metadata.Provider, influencers Influencers) *JoinFetchStrategy {
	return &JoinFetchStrategy{provider: provider, influencers: influencers, MaxDepth: DefaultMaxFetchDepth}
}

func (s *JoinFetchStrategy) Name() string                { return "join-fetch" }
func (s *JoinFetchStrategy) Provider() metadata.Provider { return s.provider }
func (s *JoinFetchStrategy) Influencers() Influencers    { return s.influencers }

func (s *JoinFetchStrategy) ShouldFetch(owner *metadata.EntityPersister, association metadata.Association, depth int) bool {
	maxDepth := s.MaxDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxFetchDepth
	}
	if depth > maxDepth {
		return false
	}
	return association.Fetch == schema.FetchJoin || s.influencers.FetchEnabled(owner.EntityName(), association.Name)
}

// BuildRootEntityLoadPlan builds the plan that loads persister's entity by
// identifier. The strategy decides which associations are joined; an entity is
// never joined twice along the same path.
func BuildRootEntityLoadPlan(strategy Strategy, persister *metadata.EntityPersister) (*LoadPlan, error) {
	if strategy == nil {
		return nil, lerrors.NewIllegalStateError("fetch strategy is nil")
	}
	root, err := NewEntityReturn(persister)
	if err != nil {
		return nil, err
	}

	onPath := map[string]bool{persister.EntityName(): true}
	if err := addFetches(strategy, &root.entityNode, root, 1, onPath); err != nil {
		return nil, err
	}
	return NewLoadPlan(root)
}

func addFetches(strategy Strategy, owner *entityNode, ownerNode Node, depth int, onPath map[string]bool) error {
	for _, assoc := range owner.persister.Associations() {
		if onPath[assoc.Target] || !strategy.ShouldFetch(owner.persister, assoc, depth) {
			continue
		}
		target, foreignKey, err := resolveTarget(strategy.Provider(), owner.persister, assoc)
		if err != nil {
			return err
		}

		fetch := &Fetch{
			entityNode: entityNode{
				persister: target,
				path:      fmt.Sprintf("%s.%s", owner.path, assoc.Name),
			},
			owner:       ownerNode,
			association: assoc,
			foreignKey:  foreignKey,
		}
		owner.fetches = append(owner.fetches, fetch)

		onPath[assoc.Target] = true
		err = addFetches(strategy, &fetch.entityNode, fetch, depth+1, onPath)
		delete(onPath, assoc.Target)
		if err != nil {
			return err
		}
	}
	return nil
}

// resolveTarget returns the fetched persister and the foreign key column,
// which lives on the owner for many-to-one and on the target for one-to-many.
func resolveTarget(provider metadata.Provider, owner *metadata.EntityPersister, assoc metadata.Association) (*metadata.EntityPersister, metadata.Column, error) {
	if provider == nil {
		return nil, metadata.Column{}, lerrors.NewMappingError(owner.EntityName(), "no metadata provider to resolve association %q", assoc.Name)
	}
	target, err := provider.GetEntityPersister(assoc.Target)
	if err != nil {
		return nil, metadata.Column{}, &lerrors.MappingError{
			Entity: owner.EntityName(),
			Reason: fmt.Sprintf("association %q targets unknown entity %q", assoc.Name, assoc.Target),
			Err:    err,
		}
	}
	// The join condition pairs one foreign key column with one identifier column.
	keyed, holder := owner, target
	if assoc.Kind == schema.RelationManyToOne {
		keyed, holder = target, owner
	}
	if keyed.CompositeIdentifier() {
		return nil, metadata.Column{}, lerrors.NewMappingError(owner.EntityName(),
			"association %q cannot be joined through a composite identifier of %q", assoc.Name, keyed.EntityName())
	}
	foreignKey, ok := holder.ColumnFor(assoc.ForeignKey)
	if !ok {
		return nil, metadata.Column{}, lerrors.NewMappingError(owner.EntityName(),
			"association %q joins on %q, which %q does not declare", assoc.Name, assoc.ForeignKey, holder.EntityName())
	}
	return target, foreignKey, nil
}
