/*
Package facet – query/scan execution and response shaping.

The executor drives multi-page iteration and turns raw wire items back into
logical records: ownership checks against the embedded identity markers, key
decoding, read transforms and cursor construction. Batch and transaction
accumulation also land here since they share the command path.
*/
package facet

import (
	"context"
	"fmt"
	"strconv"
	"time"
)

// sanityPages caps pagination when the caller sets no page limit.
const sanityPages = 1000

// followThreads bounds concurrent point reads when resolving follow access
// patterns to their primary items.
const followThreads = 10

// Stats accumulates request statistics when Options.Stats is supplied.
type Stats struct {
	Count    int
	Scanned  int
	Capacity float64
}

// Result is the outcome of a query or scan.
type Result struct {
	Items []Item
	Count int

	// Cursor resumes the iteration when more pages exist; LastKey carries the
	// undecoded key instead when the raw pager is active.
	Cursor  string
	LastKey Item

	// Command holds the compiled request when execution was disabled.
	Command Item
}

// CollectionResult is the outcome of a collection query, grouped by owning
// entity name.
type CollectionResult struct {
	Groups map[string][]Item
	Count  int

	Cursor  string
	LastKey Item

	// Command holds the compiled request when execution was disabled.
	Command Item
}

// ─── single-item execution ───────────────────────────────────────────────────

// run executes a compiled single-item operation. echo carries the physical
// write image for operations the store does not echo back (put).
func (e *Entity) run(ctx context.Context, op string, expr *expression, echo Item, cfg *callConfig) (Item, error) {
	cmd, err := expr.command()
	if err != nil {
		return nil, err
	}
	if !cfg.execute {
		logInfo(e.table.log, fmt.Sprintf("command for %q %q (not executed)", op, e.Name),
			map[string]any{"cmd": cmd, "op": op})
		return cmd, nil
	}
	if cfg.batch != nil {
		if err := e.accumulateBatch(op, cmd, cfg); err != nil {
			return nil, err
		}
		return e.shapeItem(op, echo, cfg), nil
	}
	if cfg.transaction != nil {
		if err := e.accumulateTransaction(op, cmd, cfg); err != nil {
			return nil, err
		}
		return e.shapeItem(op, echo, cfg), nil
	}

	result, err := e.table.execute(ctx, e.Name, op, cmd, cfg)
	if err != nil {
		return nil, e.mapConditionFailure(op, err, cfg)
	}
	e.collectStats(result, cfg)

	var raw Item
	switch op {
	case "put":
		return e.shapeItem(op, echo, cfg), nil
	case "get":
		raw, _ = result["Item"].(Item)
	case "delete", "update":
		raw, _ = result["Attributes"].(Item)
	}
	if raw == nil {
		if op == "delete" && cfg.ret != "" {
			return Item{}, nil
		}
		return nil, nil
	}
	shaped, ok := e.shapeRead(op, raw, cfg)
	if !ok {
		return nil, nil
	}
	return shaped, nil
}

// ─── multi-item execution ────────────────────────────────────────────────────

// runMulti drives the page loop for queries and scans. Iteration stops at the
// first of: no continuation key, the page cap, or the item cap. Pages
// concatenate in arrival order.
func (e *Entity) runMulti(ctx context.Context, op string, expr *expression, cfg *callConfig) (*Result, error) {
	if !cfg.execute {
		cmd, err := expr.command()
		if err != nil {
			return nil, err
		}
		logInfo(e.table.log, fmt.Sprintf("command for %q %q (not executed)", op, e.Name),
			map[string]any{"cmd": cmd, "op": op})
		return &Result{Command: cmd}, nil
	}

	rawItems, lastKey, total, err := e.pageLoop(ctx, op, expr, cfg)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	for _, raw := range rawItems {
		if shaped, ok := e.shapeRead(op, raw, cfg); ok {
			res.Items = append(res.Items, shaped)
		}
	}
	if cfg.count {
		res.Count = total
	} else {
		res.Count = len(res.Items)
	}

	if err := e.attachCursor(&res.Cursor, &res.LastKey, lastKey, cfg); err != nil {
		return nil, err
	}

	if op == "query" && e.shouldFollow(expr.index, cfg) {
		res.Items, err = e.followItems(ctx, res.Items, cfg)
		if err != nil {
			return nil, err
		}
	}
	return res, nil
}

// runCollection is runMulti for cross-entity collection queries: each raw
// item is shaped by its owning entity and grouped under that entity's name.
// Items of unregistered entities are skipped.
func (e *Entity) runCollection(ctx context.Context, expr *expression, cfg *callConfig) (*CollectionResult, error) {
	if !cfg.execute {
		cmd, err := expr.command()
		if err != nil {
			return nil, err
		}
		logInfo(e.table.log, fmt.Sprintf("command for collection query on %q (not executed)", e.Name),
			map[string]any{"cmd": cmd, "op": "query"})
		return &CollectionResult{Command: cmd}, nil
	}

	rawItems, lastKey, total, err := e.pageLoop(ctx, "query", expr, cfg)
	if err != nil {
		return nil, err
	}

	res := &CollectionResult{Groups: map[string][]Item{}}
	entityField := e.model.Attrs[e.model.EntityField].Field
	for _, raw := range rawItems {
		name, _ := raw[entityField].(string)
		owner := e.table.Entity(name)
		if owner == nil {
			logTrace(e.table.log, fmt.Sprintf("collection item for unregistered entity %q skipped", name), nil)
			continue
		}
		if shaped, ok := owner.shapeRead("query", raw, cfg); ok {
			res.Groups[owner.Name] = append(res.Groups[owner.Name], shaped)
		}
	}
	if cfg.count {
		res.Count = total
	} else {
		for _, items := range res.Groups {
			res.Count += len(items)
		}
	}
	if err := e.attachCursor(&res.Cursor, &res.LastKey, lastKey, cfg); err != nil {
		return nil, err
	}
	return res, nil
}

// pageLoop issues the request repeatedly, advancing the exclusive start key,
// until a stop condition triggers.
func (e *Entity) pageLoop(ctx context.Context, op string, expr *expression, cfg *callConfig) ([]Item, Item, int, error) {
	cmd, err := expr.command()
	if err != nil {
		return nil, nil, 0, err
	}

	maxPages := cfg.maxPages
	if maxPages <= 0 {
		maxPages = sanityPages
	}

	var rawItems []Item
	var lastKey Item
	total := 0
	pages := 0
	for {
		result, err := e.table.execute(ctx, e.Name, op, cmd, cfg)
		if err != nil {
			return nil, nil, 0, err
		}
		if items, ok := result["Items"].([]Item); ok {
			rawItems = append(rawItems, items...)
		}
		total += toInt(result["Count"])
		e.collectStats(result, cfg)

		lk, more := result["LastEvaluatedKey"].(Item)
		if more {
			cmd["ExclusiveStartKey"] = lk
			lastKey = lk
		} else {
			lastKey = nil
		}
		if cfg.limit > 0 && len(rawItems) >= cfg.limit {
			break
		}
		pages++
		if !more || pages >= maxPages {
			break
		}
	}
	return rawItems, lastKey, total, nil
}

func (e *Entity) attachCursor(cursor *string, rawKey *Item, lastKey Item, cfg *callConfig) error {
	if lastKey == nil {
		return nil
	}
	if cfg.rawPager {
		*rawKey = lastKey
		return nil
	}
	token, err := e.table.cursors.Serialize(lastKey)
	if err != nil {
		return err
	}
	*cursor = token
	return nil
}

func (e *Entity) collectStats(result Item, cfg *callConfig) {
	if cfg.stats == nil {
		return
	}
	cfg.stats.Count += toInt(result["Count"])
	cfg.stats.Scanned += toInt(result["ScannedCount"])
	if cap, ok := result["ConsumedCapacity"].(map[string]any); ok {
		if u, ok := cap["CapacityUnits"].(float64); ok {
			cfg.stats.Capacity += u
		}
	}
}

// ─── response shaping ────────────────────────────────────────────────────────

// shapeRead runs the full read path for one raw item: ownership check, key
// decoding and attribute transforms. ok=false discards the item.
func (e *Entity) shapeRead(op string, raw Item, cfg *callConfig) (Item, bool) {
	m := e.model
	if !cfg.ignoreOwnership && !e.owns(raw) {
		return nil, false
	}
	shaped := e.shapeItem(op, raw, cfg)
	decoded, err := m.decodeKeys(m.Primary.Name, raw, nil)
	if err != nil {
		if !cfg.ignoreOwnership {
			return nil, false
		}
		return shaped, true
	}
	for name, v := range decoded {
		if name == markerUnparsed {
			continue
		}
		if _, present := shaped[name]; present {
			continue
		}
		if a := m.Attrs[name]; a != nil && a.Def.Hidden && !cfg.hidden {
			continue
		}
		shaped[name] = v
	}
	return shaped, true
}

// owns reports whether a raw item carries this entity's identity markers. An
// item without markers is claimed when its partition key parses against the
// primary key template.
func (e *Entity) owns(raw Item) bool {
	m := e.model
	entityAttr := m.Attrs[m.EntityField]
	versionAttr := m.Attrs[m.VersionField]
	name, hasName := raw[entityAttr.Field].(string)
	if hasName {
		if name != m.Entity {
			return false
		}
		if ver, ok := raw[versionAttr.Field].(string); ok && ver != m.Version {
			return false
		}
		return true
	}
	pkRaw, ok := raw[m.Primary.PK.Field]
	if !ok {
		return false
	}
	_, matched := m.matchKey(m.Primary.PK, pkRaw)
	return matched
}

// shapeItem converts a physical item into its visible logical form: hidden
// attribute filtering, decryption, read-side type transforms and defaults
// for absent values.
func (e *Entity) shapeItem(op string, raw Item, cfg *callConfig) Item {
	if raw == nil {
		return nil
	}
	m := e.model
	rec := Item{}
	for name, a := range m.Attrs {
		if a.Def.Hidden && !cfg.hidden {
			continue
		}
		value, present := raw[a.Field]
		if !present && op == "put" {
			value, present = raw[name]
		}
		if a.Def.Crypt && value != nil {
			if s, ok := value.(string); ok {
				if dec, err := e.table.decrypt(s); err == nil {
					value = dec
				}
			}
		}
		if value == nil {
			if a.Def.Default != nil {
				if len(cfg.fields) == 0 || containsStr(cfg.fields, name) {
					rec[name] = a.Def.Default
				}
			} else if a.Def.Required && present == false && e.table.warn &&
				cfg.batch == nil && cfg.transaction == nil && len(cfg.fields) == 0 {
				logError(e.table.log, fmt.Sprintf("required attribute %q of %q not in item", name, e.Name), nil)
			}
			continue
		}
		rec[name] = e.transformRead(a, value, raw)
	}
	return rec
}

func (e *Entity) transformRead(a *attrMeta, value any, raw Item) any {
	if a.Def.Get != nil {
		value = a.Def.Get(value, raw)
	}
	if a.Type != TypeDate || value == nil {
		return value
	}
	if a.Def.TTL {
		switch v := value.(type) {
		case float64:
			return time.Unix(int64(v), 0).UTC()
		case int64:
			return time.Unix(v, 0).UTC()
		}
	}
	switch v := value.(type) {
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t
		}
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC()
		}
		return v
	case float64:
		return time.UnixMilli(int64(v)).UTC()
	case int64:
		return time.UnixMilli(v).UTC()
	}
	return value
}

// ─── follow ──────────────────────────────────────────────────────────────────

func (e *Entity) shouldFollow(im *indexMeta, cfg *callConfig) bool {
	if cfg.follow != nil {
		return *cfg.follow
	}
	return im != nil && im.Follow
}

// followItems resolves items read from a keys-only access pattern to their
// primary copies with bounded concurrent point reads. Slots are pre-sized so
// results keep the query order.
func (e *Entity) followItems(ctx context.Context, items []Item, cfg *callConfig) ([]Item, error) {
	if len(items) == 0 {
		return items, nil
	}
	opts := &Options{Follow: boolPtr(false), Consistent: cfg.consistent, Hidden: cfg.hidden}
	out := make([]Item, len(items))
	errs := make(chan error, len(items))
	sem := make(chan struct{}, followThreads)
	for i, item := range items {
		i, item := i, item
		sem <- struct{}{}
		go func() {
			defer func() { <-sem }()
			got, err := e.Get(ctx, item, opts)
			if err != nil {
				errs <- err
				return
			}
			out[i] = got
		}()
	}
	for i := 0; i < cap(sem); i++ {
		sem <- struct{}{}
	}
	close(errs)
	for err := range errs {
		if err != nil {
			return nil, err
		}
	}
	results := make([]Item, 0, len(out))
	for _, item := range out {
		if item != nil {
			results = append(results, item)
		}
	}
	return results, nil
}

// ─── batch / transaction accumulation ────────────────────────────────────────

func (e *Entity) accumulateBatch(op string, cmd Item, cfg *callConfig) error {
	requests, _ := cfg.batch["RequestItems"].(map[string]any)
	if requests == nil {
		requests = map[string]any{}
		cfg.batch["RequestItems"] = requests
	}
	switch op {
	case "get":
		tbl, _ := requests[e.table.name].(map[string]any)
		if tbl == nil {
			tbl = map[string]any{"Keys": []any{}}
			requests[e.table.name] = tbl
		}
		keys, _ := tbl["Keys"].([]any)
		tbl["Keys"] = append(keys, cmd["Key"])
	case "put", "delete":
		list, _ := requests[e.table.name].([]any)
		requests[e.table.name] = append(list, map[string]any{batchOpName(op): cmd})
	default:
		return NewArgError("unsupported batch operation \"" + op + "\"")
	}
	return nil
}

func batchOpName(op string) string {
	if op == "delete" {
		return "DeleteRequest"
	}
	return "PutRequest"
}

func (e *Entity) accumulateTransaction(op string, cmd Item, cfg *callConfig) error {
	tops := map[string]string{
		"get": "Get", "put": "Put", "delete": "Delete", "update": "Update", "check": "ConditionCheck",
	}
	top, ok := tops[op]
	if !ok {
		return NewArgError("unsupported transaction operation \"" + op + "\"")
	}
	items, _ := cfg.transaction["TransactItems"].([]any)
	cfg.transaction["TransactItems"] = append(items, Item{top: cmd})
	return nil
}

// ─── small helpers ───────────────────────────────────────────────────────────

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}
