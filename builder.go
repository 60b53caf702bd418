/*
Package facet – fluent query chains.

Query is a value-type builder: every method returns a modified copy, so a
chain can branch at any point without affecting its parent. A terminal call
(Go, Params) consumes the accumulated state and compiles it through the same
path as Entity.Query.
*/
package facet

import "context"

// Query accumulates facets and options for one query. The zero value is not
// usable; start a chain with Entity.Find.
type Query struct {
	entity *Entity
	facets Item
	opts   Options
}

// With adds one facet value. Operator maps pass through unchanged, so
// With(attr, Item{"gt": v}) and the named comparator methods are equivalent.
func (q Query) With(attr string, value any) Query {
	facets := cloneItem(q.facets)
	facets[attr] = value
	q.facets = facets
	return q
}

// WithAll merges a facet map into the chain.
func (q Query) WithAll(facets Item) Query {
	merged := cloneItem(q.facets)
	for k, v := range facets {
		merged[k] = v
	}
	q.facets = merged
	return q
}

func (q Query) comparator(attr, op string, value any) Query {
	return q.With(attr, map[string]any{op: value})
}

// Begins matches sort keys starting with the encoded prefix.
func (q Query) Begins(attr string, value any) Query {
	return q.comparator(attr, "begins", value)
}

// Between bounds the sort key on both sides; a nil bound leaves that side
// open and the comparison degrades to >= or <=.
func (q Query) Between(attr string, lo, hi any) Query {
	return q.With(attr, map[string]any{"between": []any{lo, hi}})
}

func (q Query) GreaterThan(attr string, value any) Query {
	return q.comparator(attr, "gt", value)
}

func (q Query) GreaterEqual(attr string, value any) Query {
	return q.comparator(attr, "gte", value)
}

func (q Query) LessThan(attr string, value any) Query {
	return q.comparator(attr, "lt", value)
}

func (q Query) LessEqual(attr string, value any) Query {
	return q.comparator(attr, "lte", value)
}

// Index pins the chain to a named access pattern instead of automatic
// selection.
func (q Query) Index(name string) Query {
	q.opts.Index = name
	return q
}

// Where attaches an external condition/filter builder.
func (q Query) Where(w *Where) Query {
	q.opts.Where = w
	return q
}

// Limit caps the total number of items returned.
func (q Query) Limit(n int) Query {
	q.opts.Limit = n
	return q
}

// Pages caps the number of requests issued.
func (q Query) Pages(n int) Query {
	q.opts.MaxPages = n
	return q
}

// Cursor resumes the chain from a prior result's continuation token.
func (q Query) Cursor(token string) Query {
	q.opts.Cursor = token
	return q
}

// Reverse walks the sort key descending.
func (q Query) Reverse() Query {
	q.opts.Reverse = true
	return q
}

// Consistent requests strongly consistent reads.
func (q Query) Consistent() Query {
	q.opts.Consistent = true
	return q
}

// Fields projects the result down to the named logical attributes.
func (q Query) Fields(names ...string) Query {
	q.opts.Fields = append([]string{}, names...)
	return q
}

// Count returns the match count instead of items.
func (q Query) Count() Query {
	q.opts.Count = true
	return q
}

// Hidden includes hidden attributes in shaped results.
func (q Query) Hidden() Query {
	q.opts.Hidden = true
	return q
}

// Stats accumulates request statistics into s.
func (q Query) Stats(s *Stats) Query {
	q.opts.Stats = s
	return q
}

// Go executes the chain.
func (q Query) Go(ctx context.Context) (*Result, error) {
	opts := q.opts
	return q.entity.Query(ctx, q.facets, &opts)
}

// Params compiles the chain and returns the request map without executing.
func (q Query) Params() (Item, error) {
	opts := q.opts
	cfg, err := q.entity.resolveOptions("query", &opts, Options{})
	if err != nil {
		return nil, err
	}
	expr, _, err := q.entity.compileFind(q.facets, &cfg)
	if err != nil {
		return nil, err
	}
	return expr.command()
}
