// Package alias assigns SQL aliases to the nodes of a load plan. A Context is
// built once per generated statement: the query builder selects columns under
// its aliases and the result set processor reads them back under the same names.
package alias

import (
	"strconv"
	"strings"

	lerrors "github.com/asaidimu/go-loom/core/errors"
	"github.com/asaidimu/go-loom/core/loadplan"
)

const maxPrefixLength = 10

// Context maps every node of one plan to its table alias and column aliases.
// It is not meant to be shared across statements.
type Context struct {
	plan    *loadplan.LoadPlan
	seed    int
	columns map[loadplan.Node][]string
	tables  map[loadplan.Node]string
}

// NewContext assigns aliases to every node of plan. Nodes are numbered in
// depth-first pre-order starting at zero and the seed is added to that number.
//
// An override with one alias per column is used verbatim. A single-element
// override for a node with several columns is a base name: it becomes the table
// alias and the columns are named "<base>_<index>".
func NewContext(plan *loadplan.LoadPlan, seed int, overrides map[loadplan.Node][]string) (*Context, error) {
	if plan == nil {
		return nil, lerrors.NewIllegalStateError("cannot build an alias context without a load plan")
	}
	if seed < 0 {
		return nil, lerrors.NewIllegalStateError("alias seed must not be negative, got %d", seed)
	}
	for node := range overrides {
		if _, ok := plan.NodeIndex(node); !ok {
			return nil, lerrors.NewIllegalStateError("alias override for a node outside the load plan")
		}
	}

	c := &Context{
		plan:    plan,
		seed:    seed,
		columns: make(map[loadplan.Node][]string),
		tables:  make(map[loadplan.Node]string),
	}
	used := make(map[string]loadplan.Node)
	claim := func(alias string, node loadplan.Node) error {
		if alias == "" {
			return lerrors.NewIllegalStateError("empty alias for node %s", node.Path())
		}
		if other, taken := used[alias]; taken {
			return lerrors.NewIllegalStateError("alias %q of %s collides with %s", alias, node.Path(), other.Path())
		}
		used[alias] = node
		return nil
	}

	for n, node := range plan.Nodes() {
		suffix := strconv.Itoa(seed+n) + "_"
		cols := node.Columns()
		table := generatedTableAlias(node, suffix)

		aliases := make([]string, len(cols))
		override, overridden := overrides[node]
		switch {
		case !overridden:
			for i, col := range cols {
				aliases[i] = prefix(col.Name) + strconv.Itoa(i) + "_" + suffix
			}
		case len(override) == len(cols):
			copy(aliases, override)
		case len(override) == 1:
			table = override[0]
			for i := range cols {
				aliases[i] = override[0] + "_" + strconv.Itoa(i)
			}
		default:
			return nil, lerrors.NewIllegalStateError("override for %s has %d aliases, the node has %d columns",
				node.Path(), len(override), len(cols))
		}

		if node.Persister() != nil {
			if err := claim(table, node); err != nil {
				return nil, err
			}
			c.tables[node] = table
		}
		for _, a := range aliases {
			if err := claim(a, node); err != nil {
				return nil, err
			}
		}
		c.columns[node] = aliases
	}
	return c, nil
}

func generatedTableAlias(node loadplan.Node, suffix string) string {
	if p := node.Persister(); p != nil {
		return prefix(p.TableName()) + suffix
	}
	return ""
}

// prefix returns the first letters of name, lower-cased, or "c" when name has none.
func prefix(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if r >= 'a' && r <= 'z' {
			b.WriteRune(r)
			if b.Len() == maxPrefixLength {
				break
			}
		}
	}
	if b.Len() == 0 {
		return "c"
	}
	return b.String()
}

// ResolveAlias returns the column aliases of node, one per column in select
// order. Repeated calls return the same slice; nodes outside the plan resolve
// to nil.
func (c *Context) ResolveAlias(node loadplan.Node) []string {
	return c.columns[node]
}

// TableAlias returns the table alias of an entity node.
func (c *Context) TableAlias(node loadplan.Node) string {
	return c.tables[node]
}

// Covers reports whether node has aliases in this context.
func (c *Context) Covers(node loadplan.Node) bool {
	_, ok := c.columns[node]
	return ok
}

// Plan returns the plan the aliases were assigned for.
func (c *Context) Plan() *loadplan.LoadPlan {
	return c.plan
}

// Seed returns the uniqueness seed of the context.
func (c *Context) Seed() int {
	return c.seed
}
