/*
Package facet – entity API.

An Entity binds one compiled model to a Table and carries the operation
surface: point reads and writes, conditional updates, queries, scans,
collection queries and the unique-attribute transaction helpers. Every
operation resolves its options into an immutable call configuration up
front; the caller's maps and option structs are never modified.
*/
package facet

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Entity is one registered record type on a Table.
type Entity struct {
	Name string

	model *entityModel
	table *Table
}

func newEntity(table *Table, schema *Schema) (*Entity, error) {
	model, err := compileSchema(schema, table.modelParams())
	if err != nil {
		return nil, err
	}
	return &Entity{Name: model.Entity, model: model, table: table}, nil
}

func boolPtr(b bool) *bool { return &b }

// Service returns the service name the entity belongs to.
func (e *Entity) Service() string { return e.model.Service }

// Version returns the entity's schema version.
func (e *Entity) Version() string { return e.model.Version }

// ─── point writes ────────────────────────────────────────────────────────────

// Create writes a new item and fails when an item with the same primary key
// already exists.
func (e *Entity) Create(ctx context.Context, properties Item, opts *Options) (Item, error) {
	cfg, err := e.resolveOptions("put", opts, Options{})
	if err != nil {
		return nil, err
	}
	cfg.exists = boolPtr(false)
	if e.model.HasUnique {
		return e.createUnique(ctx, properties, &cfg)
	}
	return e.putItem(ctx, properties, &cfg)
}

// Put writes an item unconditionally. Use Exists to add an existence
// condition.
func (e *Entity) Put(ctx context.Context, properties Item, opts *Options) (Item, error) {
	cfg, err := e.resolveOptions("put", opts, Options{})
	if err != nil {
		return nil, err
	}
	return e.putItem(ctx, properties, &cfg)
}

func (e *Entity) putItem(ctx context.Context, properties Item, cfg *callConfig) (Item, error) {
	expr, rec, err := e.compilePut(properties, cfg)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, "put", expr, rec, cfg)
}

// ─── point reads ─────────────────────────────────────────────────────────────

// Get retrieves one item by its key facets. A miss returns (nil, nil). When
// the sort key is under-specified the lookup degrades to a bounded query and
// fails if more than one item matches.
func (e *Entity) Get(ctx context.Context, facets Item, opts *Options) (Item, error) {
	cfg, err := e.resolveOptions("get", facetOpts(opts), Options{})
	if err != nil {
		return nil, err
	}
	expr, fallback, err := e.compileKeysOnly("get", facets, &cfg)
	if err != nil {
		return nil, err
	}
	if fallback {
		o2 := Options{}
		if opts != nil {
			o2 = *opts
		}
		o2.Limit = 2
		res, err := e.Query(ctx, facets, &o2)
		if err != nil {
			return nil, err
		}
		if len(res.Items) > 1 {
			return nil, NewError(fmt.Sprintf("get on %q without a full sort key matched more than one item", e.Name),
				WithCode(ErrNonUnique), WithContext(map[string]any{"properties": facets}))
		}
		if len(res.Items) == 0 {
			return nil, nil
		}
		return res.Items[0], nil
	}
	return e.run(ctx, "get", expr, nil, &cfg)
}

// ─── updates ─────────────────────────────────────────────────────────────────

// Update applies set and remove deltas to an existing item; it fails when the
// item does not exist.
func (e *Entity) Update(ctx context.Context, properties Item, opts *Options) (Item, error) {
	cfg, err := e.resolveOptions("update", opts, Options{})
	if err != nil {
		return nil, err
	}
	cfg.exists = boolPtr(true)
	return e.updateItem(ctx, properties, &cfg)
}

// Patch is Update: deltas against an item that must already exist.
func (e *Entity) Patch(ctx context.Context, properties Item, opts *Options) (Item, error) {
	return e.Update(ctx, properties, opts)
}

// Upsert applies deltas, creating the item when absent. Every primary key
// attribute is (re)written so a created item is fully addressable.
func (e *Entity) Upsert(ctx context.Context, properties Item, opts *Options) (Item, error) {
	cfg, err := e.resolveOptions("update", opts, Options{})
	if err != nil {
		return nil, err
	}
	cfg.exists = nil
	return e.updateItem(ctx, properties, &cfg)
}

func (e *Entity) updateItem(ctx context.Context, properties Item, cfg *callConfig) (Item, error) {
	if e.model.HasUnique && e.uniqueTouched(properties, cfg) {
		return e.updateUnique(ctx, properties, cfg)
	}
	expr, err := e.compileUpdate(properties, cfg)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, "update", expr, nil, cfg)
}

// ─── deletes ─────────────────────────────────────────────────────────────────

// Remove deletes an item by its key facets. With an under-specified sort key
// or Many set, matching items are found first and deleted one by one.
func (e *Entity) Remove(ctx context.Context, facets Item, opts *Options) (Item, error) {
	cfg, err := e.resolveOptions("delete", facetOpts(opts), Options{})
	if err != nil {
		return nil, err
	}
	expr, fallback, err := e.compileKeysOnly("delete", facets, &cfg)
	if err != nil {
		return nil, err
	}
	if fallback || cfg.many {
		return e.removeByFind(ctx, facets, &cfg)
	}
	if e.model.HasUnique {
		return e.removeUnique(ctx, facets, &cfg)
	}
	return e.run(ctx, "delete", expr, nil, &cfg)
}

func (e *Entity) removeByFind(ctx context.Context, facets Item, cfg *callConfig) (Item, error) {
	res, err := e.Query(ctx, facets, nil)
	if err != nil {
		return nil, err
	}
	if len(res.Items) > 1 && !cfg.many {
		return nil, NewError(fmt.Sprintf("remove on %q matched multiple items; set Many to delete them all", e.Name),
			WithCode(ErrNonUnique), WithContext(map[string]any{"properties": facets}))
	}
	var last Item
	for _, item := range res.Items {
		removed, err := e.Remove(ctx, item, &Options{Return: cfg.ret})
		if err != nil {
			return nil, err
		}
		last = removed
	}
	return last, nil
}

// ─── queries / scans ─────────────────────────────────────────────────────────

// Query selects the best-covering access pattern for the facets and runs a
// key-condition query. When no access pattern covers the facets the query
// falls back to a filtered scan.
func (e *Entity) Query(ctx context.Context, facets Item, opts *Options) (*Result, error) {
	cfg, err := e.resolveOptions("query", opts, Options{})
	if err != nil {
		return nil, err
	}
	expr, op, err := e.compileFind(facets, &cfg)
	if err != nil {
		return nil, err
	}
	return e.runMulti(ctx, op, expr, &cfg)
}

// compileFind resolves the access pattern for the facets and compiles either
// a query or, when nothing covers them, a filtered scan. The returned op
// names the operation the expression was compiled for.
func (e *Entity) compileFind(facets Item, cfg *callConfig) (*expression, string, error) {
	m := e.model
	var im *indexMeta
	if cfg.index != "" {
		im = m.Indexes[cfg.index]
	} else if name, ok := m.matchIndex(facets); ok {
		im = m.Indexes[name]
	}
	if im == nil {
		logTrace(e.table.log, fmt.Sprintf("no access pattern covers query on %q, scanning", e.Name),
			map[string]any{"properties": facets})
		expr, err := e.compileScan(facets, cfg)
		if err != nil {
			return nil, "", err
		}
		return expr, "scan", nil
	}
	expr, err := e.compileQuery(im, facets, cfg)
	if err != nil {
		return nil, "", err
	}
	return expr, "query", nil
}

// Find starts an immutable query chain seeded with the facets. See Query
// (the builder type) for the chain surface.
func (e *Entity) Find(facets Item) Query {
	return Query{entity: e, facets: cloneItem(facets)}
}

// Scan reads the whole table filtered down to this entity. Supplied facets
// become additional equality filters.
func (e *Entity) Scan(ctx context.Context, facets Item, opts *Options) (*Result, error) {
	cfg, err := e.resolveOptions("scan", opts, Options{})
	if err != nil {
		return nil, err
	}
	return e.scanItems(ctx, facets, &cfg)
}

func (e *Entity) scanItems(ctx context.Context, facets Item, cfg *callConfig) (*Result, error) {
	expr, err := e.compileScan(facets, cfg)
	if err != nil {
		return nil, err
	}
	return e.runMulti(ctx, "scan", expr, cfg)
}

// Collection queries a cross-entity collection through this entity's access
// pattern. Results group by owning entity name.
func (e *Entity) Collection(ctx context.Context, collection string, facets Item, opts *Options) (*CollectionResult, error) {
	cfg, err := e.resolveOptions("query", opts, Options{})
	if err != nil {
		return nil, err
	}
	expr, err := e.compileCollection(collection, facets, &cfg)
	if err != nil {
		return nil, err
	}
	return e.runCollection(ctx, expr, &cfg)
}

// ─── transactions ────────────────────────────────────────────────────────────

// Check adds a condition on this entity's item to a write transaction
// without modifying it. Valid only with Options.Transaction; without an
// explicit condition the item must exist.
func (e *Entity) Check(ctx context.Context, facets Item, opts *Options) error {
	cfg, err := e.resolveOptions("check", facetOpts(opts), Options{})
	if err != nil {
		return err
	}
	if cfg.transaction == nil {
		return NewArgError("check requires a transaction")
	}
	if cfg.exists == nil && cfg.where == nil {
		cfg.exists = boolPtr(true)
	}
	expr, _, err := e.compileKeysOnly("check", facets, &cfg)
	if err != nil {
		return err
	}
	cmd, err := expr.command()
	if err != nil {
		return err
	}
	return e.accumulateTransaction("check", cmd, &cfg)
}

// ─── key utilities ───────────────────────────────────────────────────────────

// EncodeKeys derives every physical key field resolvable from the facets,
// across all access patterns.
func (e *Entity) EncodeKeys(facets Item) (Item, error) {
	m := e.model
	keys := Item{}
	for _, name := range m.Order {
		im := m.Indexes[name]
		pk, ok, err := m.encodeKey(im.PK, facets)
		if err != nil {
			return nil, err
		}
		if ok {
			keys[im.PK.Field] = pk
		}
		if im.SK != nil {
			sk, ok, err := m.encodeKey(im.SK, facets)
			if err != nil {
				return nil, err
			}
			if ok {
				keys[im.SK.Field] = sk
			}
		}
	}
	return keys, nil
}

// DecodeKeys recovers the logical facets embedded in a stored item's primary
// key fields.
func (e *Entity) DecodeKeys(item Item) (Item, error) {
	return e.model.decodeKeys(e.model.Primary.Name, item, nil)
}

// MatchIndex returns the best-covering access pattern for the facets, or
// false when only a scan can satisfy them.
func (e *Entity) MatchIndex(facets Item) (string, bool) {
	return e.model.matchIndex(facets)
}

// facetOpts guards point operations against paging options leaking in from a
// shared Options value.
func facetOpts(opts *Options) *Options {
	if opts == nil {
		return nil
	}
	o := *opts
	o.Cursor = ""
	o.StartKey = nil
	return &o
}

// ─── unique attributes ───────────────────────────────────────────────────────

// Unique attribute values are reserved through guard items written in the
// same transaction as the entity item. The guard partition key embeds the
// entity, the physical field and the value.

func (e *Entity) uniqueGuardKey(field string, value any) string {
	return fmt.Sprintf("_unique#%s#%s#%v", e.model.Entity, field, value)
}

func (e *Entity) uniqueAttrs() []*attrMeta {
	m := e.model
	names := make([]string, 0, 2)
	for name, a := range m.Attrs {
		if a.Def.Unique && !a.InPrimary {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	attrs := make([]*attrMeta, len(names))
	for i, name := range names {
		attrs[i] = m.Attrs[name]
	}
	return attrs
}

func (e *Entity) uniqueTouched(properties Item, cfg *callConfig) bool {
	m := e.model
	touched := func(name string) bool {
		a := m.Attrs[name]
		return a != nil && a.Def.Unique && !a.InPrimary
	}
	for name := range properties {
		if touched(name) {
			return true
		}
	}
	for name := range cfg.set {
		if touched(name) {
			return true
		}
	}
	for _, name := range cfg.remove {
		if touched(name) {
			return true
		}
	}
	return false
}

func (e *Entity) uniqueWriteValue(a *attrMeta, v any, view Item) any {
	v = e.model.applySet(a.Name, v, view)
	return e.transformWrite(a, v)
}

func (e *Entity) uniquePutCmd(pk string) (Item, error) {
	m := e.model
	item := Item{m.Primary.PK.Field: pk}
	if m.Primary.SK != nil {
		item[m.Primary.SK.Field] = "_unique#"
	}
	av, err := marshalForDynamo(item)
	if err != nil {
		return nil, err
	}
	return Item{
		"TableName":                e.table.name,
		"Item":                     av,
		"ConditionExpression":      "attribute_not_exists(#_0)",
		"ExpressionAttributeNames": map[string]string{"#_0": m.Primary.PK.Field},
	}, nil
}

func (e *Entity) uniqueDeleteCmd(pk string) (Item, error) {
	m := e.model
	key := Item{m.Primary.PK.Field: pk}
	if m.Primary.SK != nil {
		key[m.Primary.SK.Field] = "_unique#"
	}
	av, err := marshalForDynamo(key)
	if err != nil {
		return nil, err
	}
	return Item{"TableName": e.table.name, "Key": av}, nil
}

func addTransactItem(txn Item, top string, cmd Item) {
	items, _ := txn["TransactItems"].([]any)
	txn["TransactItems"] = append(items, Item{top: cmd})
}

func (e *Entity) createUnique(ctx context.Context, properties Item, cfg *callConfig) (Item, error) {
	ownTxn := cfg.transaction == nil
	txn := cfg.transaction
	if txn == nil {
		txn = Item{}
	}
	cfgTx := *cfg
	cfgTx.transaction = txn

	expr, rec, err := e.compilePut(properties, &cfgTx)
	if err != nil {
		return nil, err
	}
	cmd, err := expr.command()
	if err != nil {
		return nil, err
	}
	addTransactItem(txn, "Put", cmd)

	var guarded []string
	for _, a := range e.uniqueAttrs() {
		v := rec[a.Field]
		if v == nil {
			continue
		}
		putCmd, err := e.uniquePutCmd(e.uniqueGuardKey(a.Field, v))
		if err != nil {
			return nil, err
		}
		addTransactItem(txn, "Put", putCmd)
		guarded = append(guarded, a.Name)
	}
	if !ownTxn {
		return e.shapeItem("put", rec, cfg), nil
	}
	if _, err := e.table.Transact(ctx, "write", txn, nil); err != nil {
		if isConditionalFailed(err) {
			return nil, NewError(fmt.Sprintf("cannot create %q: unique attributes %q already exist",
				e.Name, strings.Join(guarded, ", ")), WithCode(ErrUnique))
		}
		return nil, err
	}
	return e.shapeItem("put", rec, cfg), nil
}

func (e *Entity) removeUnique(ctx context.Context, facets Item, cfg *callConfig) (Item, error) {
	ownTxn := cfg.transaction == nil
	txn := cfg.transaction
	if txn == nil {
		txn = Item{}
	}

	prior, err := e.Get(ctx, facets, &Options{Hidden: true})
	if err != nil {
		return nil, err
	}
	if prior == nil {
		if cfg.exists == nil || *cfg.exists {
			return nil, NewError(fmt.Sprintf("cannot find item to remove for %q", e.Name),
				WithCode(ErrNotFound), WithContext(map[string]any{"properties": facets}))
		}
		return nil, nil
	}

	for _, a := range e.uniqueAttrs() {
		v := prior[a.Name]
		if v == nil {
			continue
		}
		v = e.uniqueWriteValue(a, v, prior)
		delCmd, err := e.uniqueDeleteCmd(e.uniqueGuardKey(a.Field, v))
		if err != nil {
			return nil, err
		}
		addTransactItem(txn, "Delete", delCmd)
	}

	cfgTx := *cfg
	cfgTx.transaction = txn
	expr, _, err := e.compileKeysOnly("delete", facets, &cfgTx)
	if err != nil {
		return nil, err
	}
	cmd, err := expr.command()
	if err != nil {
		return nil, err
	}
	addTransactItem(txn, "Delete", cmd)

	if !ownTxn {
		return e.visibleCopy(prior, cfg), nil
	}
	if _, err := e.table.Transact(ctx, "write", txn, nil); err != nil {
		return nil, err
	}
	return e.visibleCopy(prior, cfg), nil
}

func (e *Entity) updateUnique(ctx context.Context, properties Item, cfg *callConfig) (Item, error) {
	ownTxn := cfg.transaction == nil
	txn := cfg.transaction
	if txn == nil {
		txn = Item{}
	}
	m := e.model

	keyFacets := Item{}
	for name, v := range properties {
		if a := m.Attrs[name]; a != nil && a.InPrimary {
			keyFacets[name] = v
		}
	}
	prior, err := e.Get(ctx, keyFacets, &Options{Hidden: true})
	if err != nil {
		return nil, err
	}
	if prior == nil && cfg.exists != nil && *cfg.exists {
		return nil, NewError(fmt.Sprintf("cannot find item to update for %q", e.Name),
			WithCode(ErrNotFound), WithContext(map[string]any{"properties": properties}))
	}

	for _, a := range e.uniqueAttrs() {
		removed := containsStr(cfg.remove, a.Name)
		newVal, inSet := cfg.set[a.Name]
		if !inSet {
			newVal = properties[a.Name]
		}
		var priorVal any
		if prior != nil {
			priorVal = prior[a.Name]
		}
		if newVal == nil && !removed {
			continue
		}
		if fmt.Sprintf("%v", newVal) == fmt.Sprintf("%v", priorVal) {
			continue
		}
		if priorVal != nil {
			pv := e.uniqueWriteValue(a, priorVal, prior)
			delCmd, err := e.uniqueDeleteCmd(e.uniqueGuardKey(a.Field, pv))
			if err != nil {
				return nil, err
			}
			addTransactItem(txn, "Delete", delCmd)
		}
		if newVal != nil && !removed {
			nv := e.uniqueWriteValue(a, newVal, properties)
			putCmd, err := e.uniquePutCmd(e.uniqueGuardKey(a.Field, nv))
			if err != nil {
				return nil, err
			}
			addTransactItem(txn, "Put", putCmd)
		}
	}

	cfgTx := *cfg
	cfgTx.transaction = txn
	expr, err := e.compileUpdate(properties, &cfgTx)
	if err != nil {
		return nil, err
	}
	cmd, err := expr.command()
	if err != nil {
		return nil, err
	}
	addTransactItem(txn, "Update", cmd)

	echo := Item{}
	if prior != nil {
		echo = cloneItem(prior)
	}
	for name, v := range properties {
		echo[name] = v
	}
	for name, v := range cfg.set {
		echo[name] = v
	}
	for _, name := range cfg.remove {
		delete(echo, name)
	}

	if !ownTxn {
		return e.visibleCopy(echo, cfg), nil
	}
	if _, err := e.table.Transact(ctx, "write", txn, nil); err != nil {
		if isConditionalFailed(err) {
			return nil, NewError(fmt.Sprintf("cannot update unique attributes for %q", e.Name),
				WithCode(ErrUnique))
		}
		return nil, err
	}
	return e.visibleCopy(echo, cfg), nil
}

// visibleCopy strips hidden attributes from a logical item unless the call
// asked for them.
func (e *Entity) visibleCopy(item Item, cfg *callConfig) Item {
	if item == nil {
		return nil
	}
	out := cloneItem(item)
	if cfg.hidden {
		return out
	}
	for name, a := range e.model.Attrs {
		if a.Def.Hidden {
			delete(out, name)
		}
	}
	return out
}

func isConditionalFailed(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if strings.Contains(msg, "ConditionalCheckFailed") ||
		strings.Contains(msg, "TransactionCanceledException") ||
		strings.Contains(msg, "Transaction Cancelled") {
		return true
	}
	var fe *FacetError
	if errors.As(err, &fe) && fe.Cause != nil {
		cause := fe.Cause.Error()
		return strings.Contains(cause, "ConditionalCheckFailed") ||
			strings.Contains(cause, "TransactionCanceledException")
	}
	return false
}

// mapConditionFailure translates a wire-level conditional failure into the
// operation's domain error: a guarded create finds the item already there, a
// guarded update or delete finds it missing. Other errors pass through.
func (e *Entity) mapConditionFailure(op string, err error, cfg *callConfig) error {
	if cfg.exists == nil || !isConditionalFailed(err) {
		return err
	}
	if op == "put" && !*cfg.exists {
		return NewError(fmt.Sprintf("item for %q already exists", e.Name),
			WithCode(ErrUnique), WithCause(err))
	}
	if (op == "update" || op == "delete") && *cfg.exists {
		return NewError(fmt.Sprintf("cannot find item for %q", e.Name),
			WithCode(ErrNotFound), WithCause(err))
	}
	return err
}
