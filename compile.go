/*
Package facet – per-operation parameter compilation.

Each public operation compiles a transient expression from the entity model,
the caller's facet values and the resolved call configuration. Compilation is
synchronous and CPU-only; nothing here touches the network. The caller's maps
are never modified.
*/
package facet

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

func cloneItem(src Item) Item {
	out := make(Item, len(src)+4)
	for k, v := range src {
		out[k] = v
	}
	return out
}

func sortedKeys(m Item) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func timestampsOn(ts any, kind string) bool {
	return ts == true || ts == kind
}

// ─── primary key resolution ──────────────────────────────────────────────────

// primaryKeys encodes the primary partition and sort key from the supplied
// facets. A missing partition-key facet is an error; an under-specified sort
// key returns complete=false so the caller can fall back to a bounded query.
func (e *Entity) primaryKeys(facets Item) (Item, bool, error) {
	m := e.model
	keys := Item{}
	pk, ok, err := m.encodeKey(m.Primary.PK, facets)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, NewError(fmt.Sprintf("missing partition key facets for %q", m.Entity),
			WithCode(ErrMissing), WithContext(map[string]any{"properties": facets}))
	}
	keys[m.Primary.PK.Field] = pk
	complete := true
	if m.Primary.SK != nil {
		sk, ok, err := m.encodeKey(m.Primary.SK, facets)
		if err != nil {
			return nil, false, err
		}
		if ok {
			keys[m.Primary.SK.Field] = sk
		} else {
			complete = false
		}
	}
	return keys, complete, nil
}

// batchKeys is primaryKeys with completeness enforced, for batch and
// transaction item compilation.
func (e *Entity) batchKeys(facets Item) (Item, error) {
	keys, complete, err := e.primaryKeys(facets)
	if err != nil {
		return nil, err
	}
	if !complete {
		return nil, NewError(fmt.Sprintf("missing sort key facets for %q", e.model.Entity),
			WithCode(ErrMissing), WithContext(map[string]any{"properties": facets}))
	}
	return keys, nil
}

// ─── write-path preparation ──────────────────────────────────────────────────

// prepareWrite normalises the caller's properties into the logical write view:
// context and identity injection, defaults, generated values, timestamps, null
// conversion and validation. Returns the view plus attribute names scheduled
// for removal by null conversion.
func (e *Entity) prepareWrite(op string, properties Item, cfg *callConfig) (Item, []string, error) {
	m := e.model
	norm := cloneItem(properties)
	upsert := op == "update" && cfg.exists == nil

	e.injectContext(op, norm, cfg)

	if op == "put" || upsert {
		norm[m.EntityField] = m.Entity
		norm[m.VersionField] = m.Version
		e.applyDefaults(norm)
	}

	now := time.Now()
	if op == "put" {
		if timestampsOn(m.Timestamps, "create") {
			norm[m.CreatedField] = now
		}
		if timestampsOn(m.Timestamps, "update") {
			norm[m.UpdatedField] = now
		}
	} else if op == "update" {
		if timestampsOn(m.Timestamps, "update") {
			norm[m.UpdatedField] = now
		}
		if upsert && timestampsOn(m.Timestamps, "create") {
			norm[m.CreatedField] = now
		}
	}

	removes := e.convertNulls(op, norm)
	if err := e.validateItem(op, norm); err != nil {
		return nil, nil, err
	}
	return norm, removes, nil
}

// injectContext copies table and per-call context values over the properties.
// Context never rewrites an index key outside of put.
func (e *Entity) injectContext(op string, norm Item, cfg *callConfig) {
	m := e.model
	apply := func(ctx Item) {
		for name, v := range ctx {
			a := m.Attrs[name]
			if a == nil {
				continue
			}
			if op != "put" && a.InPrimary {
				continue
			}
			norm[name] = v
		}
	}
	apply(e.table.context)
	apply(cfg.context)
}

func (e *Entity) applyDefaults(norm Item) {
	for name, a := range e.model.Attrs {
		if _, ok := norm[name]; ok {
			continue
		}
		if a.Def.Default != nil {
			norm[name] = a.Def.Default
		} else if a.genKind != "" {
			norm[name] = e.table.generate(a.genKind, a.genSize)
		}
	}
}

// convertNulls drops null values for attributes that do not store nulls. On
// update the dropped names become removes. Required attributes stay put so
// validation can report them.
func (e *Entity) convertNulls(op string, norm Item) []string {
	var removes []string
	for name, v := range norm {
		a := e.model.Attrs[name]
		if a == nil || v != nil || a.Def.Nulls {
			continue
		}
		if a.Def.Required {
			continue
		}
		delete(norm, name)
		if op == "update" {
			removes = append(removes, name)
		}
	}
	sort.Strings(removes)
	return removes
}

// validateItem checks regex and enum constraints plus required coverage.
func (e *Entity) validateItem(op string, norm Item) error {
	if op != "put" && op != "update" {
		return nil
	}
	m := e.model
	validation := map[string]string{}
	for name, v := range norm {
		a := m.Attrs[name]
		if a == nil {
			continue
		}
		if a.validate != nil {
			s, _ := v.(string)
			if !a.validate.MatchString(s) {
				validation[name] = fmt.Sprintf("bad value %v for %q", v, name)
			}
		}
		if a.Def.Enum != nil && !containsStr(a.Def.Enum, fmt.Sprintf("%v", v)) {
			validation[name] = fmt.Sprintf("bad value %v for %q", v, name)
		}
	}
	for name, a := range m.Attrs {
		if !a.Def.Required {
			continue
		}
		v, exists := norm[name]
		if op == "put" && (!exists || v == nil) {
			validation[name] = fmt.Sprintf("value not defined for required attribute %q", name)
		} else if op == "update" && exists && v == nil {
			validation[name] = fmt.Sprintf("value not defined for required attribute %q", name)
		}
	}
	if len(validation) == 0 {
		return nil
	}
	names := make([]string, 0, len(validation))
	for k := range validation {
		names = append(names, k)
	}
	sort.Strings(names)
	return NewError(fmt.Sprintf("validation failed in %q for %q", m.Entity, strings.Join(names, ", ")),
		WithCode(ErrValidation), WithContext(map[string]any{"validation": validation}))
}

// buildRecord maps the logical write view to the physical item: setter hooks,
// type transforms and field-level encryption.
func (e *Entity) buildRecord(norm Item) (Item, error) {
	m := e.model
	rec := Item{}
	for name, v := range norm {
		a := m.Attrs[name]
		if a == nil {
			continue
		}
		w, err := e.writeValue(a, v, norm)
		if err != nil {
			return nil, err
		}
		rec[a.Field] = w
	}
	return rec, nil
}

func (e *Entity) writeValue(a *attrMeta, v any, norm Item) (any, error) {
	v = e.model.applySet(a.Name, v, norm)
	v = e.transformWrite(a, v)
	if a.Def.Crypt && v != nil {
		if s, ok := v.(string); ok {
			if enc, err := e.table.encrypt(s); err == nil {
				v = enc
			}
		}
	}
	return v, nil
}

// transformWrite converts a Go value to its stored representation.
func (e *Entity) transformWrite(a *attrMeta, v any) any {
	if v == nil {
		return nil
	}
	switch a.Type {
	case TypeDate:
		return e.writeDate(a, v)
	case TypeNumber:
		if s, ok := v.(string); ok {
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return f
			}
		}
	case TypeBoolean:
		switch b := v.(type) {
		case bool:
			return b
		case string:
			return b != "false" && b != ""
		}
	case TypeString:
		if _, isMap := v.(map[string]any); isMap {
			return v // operator map for key conditions
		}
		return fmt.Sprintf("%v", v)
	}
	return v
}

func (e *Entity) writeDate(a *attrMeta, v any) any {
	if a.Def.TTL {
		switch t := v.(type) {
		case time.Time:
			return t.Unix()
		case string:
			if parsed, err := time.Parse(time.RFC3339, t); err == nil {
				return parsed.Unix()
			}
		case float64:
			return int64(math.Ceil(t / 1000))
		}
		return v
	}
	if e.model.IsoDates {
		switch t := v.(type) {
		case time.Time:
			return t.UTC().Format(time.RFC3339Nano)
		case string:
			if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
				return parsed.UTC().Format(time.RFC3339Nano)
			}
			return t
		case float64:
			return time.UnixMilli(int64(t)).UTC().Format(time.RFC3339Nano)
		}
		return v
	}
	switch t := v.(type) {
	case time.Time:
		return t.UnixMilli()
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed.UnixMilli()
		}
		if ms, err := strconv.ParseInt(t, 10, 64); err == nil {
			return ms
		}
		return t
	case float64:
		return int64(t)
	}
	return v
}

// ─── get / delete ────────────────────────────────────────────────────────────

// compileKeysOnly builds a point get or delete. fallback=true means the sort
// key was under-specified and the caller should run a bounded query instead.
func (e *Entity) compileKeysOnly(op string, facets Item, cfg *callConfig) (*expression, bool, error) {
	m := e.model
	keys, complete, err := e.primaryKeys(facets)
	if err != nil {
		return nil, false, err
	}
	if !complete {
		return nil, true, nil
	}
	expr := newExpression(e, op, cfg, m.Primary)
	for f, v := range keys {
		expr.setKey(f, v)
	}
	switch op {
	case "delete", "check":
		if cfg.exists != nil {
			expr.addExistsCondition(m.Primary.PK.Field, *cfg.exists)
		}
		if err := expr.applyWhere(); err != nil {
			return nil, false, err
		}
	case "get":
		if err := e.addProjection(expr, cfg, m.Primary); err != nil {
			return nil, false, err
		}
	}
	return expr, false, nil
}

// ─── put ─────────────────────────────────────────────────────────────────────

// compilePut builds the full write image: the record after setters, identity
// fields, the primary key and every secondary key derivable from the written
// attributes. Secondary keys with an unresolved partition side stay sparse.
func (e *Entity) compilePut(facets Item, cfg *callConfig) (*expression, Item, error) {
	m := e.model
	norm, _, err := e.prepareWrite("put", facets, cfg)
	if err != nil {
		return nil, nil, err
	}
	rec, err := e.buildRecord(norm)
	if err != nil {
		return nil, nil, err
	}
	for _, name := range m.Order {
		im := m.Indexes[name]
		pk, ok, err := m.encodeKey(im.PK, norm)
		if err != nil {
			return nil, nil, err
		}
		if im == m.Primary {
			if !ok {
				return nil, nil, NewError(fmt.Sprintf("missing partition key facets for %q", m.Entity),
					WithCode(ErrMissing), WithContext(map[string]any{"properties": facets}))
			}
		} else if !ok || pk == nil {
			continue
		}
		rec[im.PK.Field] = pk
		if im.SK != nil {
			sk, _, err := m.encodeKey(im.SK, norm)
			if err != nil {
				return nil, nil, err
			}
			if sk != nil {
				rec[im.SK.Field] = sk
			}
		}
	}
	expr := newExpression(e, "put", cfg, m.Primary)
	for _, f := range sortedKeys(rec) {
		expr.setItem(f, rec[f])
	}
	if cfg.exists != nil {
		expr.addExistsCondition(m.Primary.PK.Field, *cfg.exists)
	}
	if err := expr.applyWhere(); err != nil {
		return nil, nil, err
	}
	return expr, rec, nil
}

// ─── update ──────────────────────────────────────────────────────────────────

// compileUpdate builds a conditional update from set and remove deltas. The
// primary index key is never modified through this path; secondary keys
// impacted by the deltas are re-derived, and a derived sort key loses its
// value when a facet it depends on is removed. With exists unset the update
// may create the item, so every primary key attribute is (re)written.
func (e *Entity) compileUpdate(facets Item, cfg *callConfig) (*expression, error) {
	m := e.model
	upsert := cfg.exists == nil

	keyProps := Item{}
	setProps := Item{}
	for name, v := range facets {
		if a := m.Attrs[name]; a != nil && a.InPrimary {
			keyProps[name] = v
		} else {
			setProps[name] = v
		}
	}
	for name, v := range cfg.set {
		setProps[name] = v
	}
	removes := append([]string{}, cfg.remove...)

	if err := e.guardUpdates(setProps, cfg.set, removes); err != nil {
		return nil, err
	}

	merged := cloneItem(keyProps)
	for name, v := range setProps {
		if m.Attrs[name] == nil {
			continue // unknown attributes are dropped
		}
		merged[name] = v
	}
	norm, nullRemoves, err := e.prepareWrite("update", merged, cfg)
	if err != nil {
		return nil, err
	}
	removes = append(removes, nullRemoves...)
	sort.Strings(removes)

	keys, complete, err := e.primaryKeys(norm)
	if err != nil {
		return nil, err
	}
	if !complete {
		return nil, NewError(fmt.Sprintf("missing sort key facets for %q", m.Entity),
			WithCode(ErrMissing), WithContext(map[string]any{"properties": facets}))
	}

	expr := newExpression(e, "update", cfg, m.Primary)
	for f, v := range keys {
		expr.setKey(f, v)
	}

	for _, name := range sortedKeys(norm) {
		a := m.Attrs[name]
		if a == nil {
			continue
		}
		if _, isKey := keyProps[name]; isKey && !upsert {
			continue
		}
		if a.InPrimary && !upsert {
			continue
		}
		v, err := e.writeValue(a, norm[name], norm)
		if err != nil {
			return nil, err
		}
		if upsert && name == m.CreatedField && timestampsOn(m.Timestamps, "create") {
			expr.addSetIfAbsent(a.Field, v)
			continue
		}
		expr.addSet(a.Field, v)
	}
	for _, name := range removes {
		if a := m.Attrs[name]; a != nil {
			expr.addRemove(a.Field)
		}
	}

	if err := e.updateDerivedKeys(expr, norm, setProps, removes, upsert); err != nil {
		return nil, err
	}

	if cfg.exists != nil {
		expr.addExistsCondition(m.Primary.PK.Field, *cfg.exists)
	}
	if err := expr.applyWhere(); err != nil {
		return nil, err
	}
	return expr, nil
}

// guardUpdates rejects deltas that would rewrite the primary index key or a
// read-only attribute. Explicitly named unknown attributes are an argument
// error; implicit ones are dropped by the caller.
func (e *Entity) guardUpdates(setProps, explicit Item, removes []string) error {
	m := e.model
	for _, name := range sortedKeys(explicit) {
		a := m.Attrs[name]
		if a == nil {
			return NewError(fmt.Sprintf("unknown attribute %q in set", name), WithCode(ErrArgument))
		}
	}
	for _, name := range sortedKeys(setProps) {
		a := m.Attrs[name]
		if a == nil {
			continue
		}
		if a.InPrimary {
			return NewError(fmt.Sprintf("attribute %q is part of the primary index key and cannot be updated", name),
				WithCode(ErrArgument))
		}
		if a.Def.ReadOnly {
			return NewError(fmt.Sprintf("attribute %q is read-only", name), WithCode(ErrValidation))
		}
	}
	for _, name := range removes {
		a := m.Attrs[name]
		if a == nil {
			return NewError(fmt.Sprintf("unknown attribute %q in remove", name), WithCode(ErrArgument))
		}
		if a.InPrimary {
			return NewError(fmt.Sprintf("attribute %q is part of the primary index key and cannot be removed", name),
				WithCode(ErrArgument))
		}
		if a.Def.Required {
			return NewError(fmt.Sprintf("attribute %q is required and cannot be removed", name),
				WithCode(ErrValidation))
		}
		if a.Def.ReadOnly {
			return NewError(fmt.Sprintf("attribute %q is read-only", name), WithCode(ErrValidation))
		}
	}
	return nil
}

// updateDerivedKeys re-derives the key fields of secondary indexes whose
// facets intersect the deltas. A side that no longer completes because one of
// its facets was removed gets an explicit remove; a side that was never fully
// supplied in this call is left untouched.
func (e *Entity) updateDerivedKeys(expr *expression, norm, setProps Item, removes []string, upsert bool) error {
	m := e.model
	changed := map[string]bool{}
	for name := range setProps {
		changed[name] = true
	}
	for _, name := range removes {
		changed[name] = true
	}
	if upsert {
		for name, a := range m.Attrs {
			if a.InPrimary {
				changed[name] = true
			}
		}
	}
	// reverse-map the deltas to the key sides they touch
	type sideRef struct {
		index string
		side  keySide
	}
	impacted := map[sideRef]bool{}
	for name := range changed {
		for _, slot := range m.ByAttr[name] {
			impacted[sideRef{slot.Index, slot.Side}] = true
		}
	}

	for _, name := range m.Order {
		im := m.Indexes[name]
		if im == m.Primary {
			continue
		}
		for _, kp := range []struct {
			side keySide
			km   *keyMeta
		}{{sidePK, im.PK}, {sideSK, im.SK}} {
			km := kp.km
			if km == nil || !impacted[sideRef{name, kp.side}] {
				continue
			}
			enc, ok, err := m.encodeKey(km, norm)
			if err != nil {
				return err
			}
			if ok {
				expr.addSet(km.Field, enc)
			} else if sideRemoved(km, removes) {
				expr.addRemove(km.Field)
			}
		}
	}
	return nil
}

func sideRemoved(km *keyMeta, removes []string) bool {
	for _, slot := range km.Slots {
		if containsStr(removes, slot.Attr) {
			return true
		}
	}
	return false
}

// keyedFacets is the set of attributes bound to an access pattern's keys.
func keyedFacets(im *indexMeta) map[string]bool {
	keyed := map[string]bool{}
	for _, slot := range im.PK.Slots {
		keyed[slot.Attr] = true
	}
	if im.SK != nil {
		for _, slot := range im.SK.Slots {
			keyed[slot.Attr] = true
		}
	}
	return keyed
}

// ─── query ───────────────────────────────────────────────────────────────────

// compileQuery builds a key-condition query against the given access pattern.
// The partition key must be fully supplied; the sort key degrades to prefix
// semantics when partially supplied. Non-key facets become equality filters.
func (e *Entity) compileQuery(im *indexMeta, facets Item, cfg *callConfig) (*expression, error) {
	m := e.model
	expr := newExpression(e, "query", cfg, im)

	pk, ok, err := m.encodeKey(im.PK, facets)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, NewError(fmt.Sprintf("missing partition key facets for access pattern %q", im.Name),
			WithCode(ErrMissing), WithContext(map[string]any{"properties": facets}))
	}
	expr.addKeyEquality(im.PK.Field, pk)

	if im.SK != nil {
		if err := e.addSortKeyCondition(expr, im, facets); err != nil {
			return nil, err
		}
	}
	if err := e.addFacetFilters(expr, keyedFacets(im), facets); err != nil {
		return nil, err
	}
	if err := expr.applyWhere(); err != nil {
		return nil, err
	}
	if err := e.addProjection(expr, cfg, im); err != nil {
		return nil, err
	}
	return expr, nil
}

// addSortKeyCondition walks the sort-key slots in order, collecting plain
// values until the first operator-valued facet. Facets past the operator are
// ignored; a fully supplied plain key is an equality, a partial one a prefix.
func (e *Entity) addSortKeyCondition(expr *expression, im *indexMeta, facets Item) error {
	m := e.model
	km := im.SK
	vals := Item{}
	opName := ""
	var operand any
	var opAttr string

	for _, slot := range km.Slots {
		v, present := facets[slot.Attr]
		if !present || v == nil {
			break
		}
		if opMap, isOp := v.(map[string]any); isOp {
			name, arg, err := singleOperator(opMap)
			if err != nil {
				return err
			}
			if name == "eq" {
				vals[slot.Attr] = arg
				continue
			}
			opName, operand, opAttr = name, arg, slot.Attr
			break
		}
		vals[slot.Attr] = v
	}

	encode := func(values Item) (any, bool, error) { return m.encodeKey(km, values) }

	switch opName {
	case "":
		enc, complete, err := encode(vals)
		if err != nil {
			return err
		}
		if complete {
			return expr.addSortCondition("eq", km.Field, enc, nil)
		}
		return expr.addSortCondition("begins", km.Field, enc, nil)
	case "between":
		lo, hi, err := betweenBounds(operand)
		if err != nil {
			return err
		}
		if lo == nil && hi == nil {
			return NewError("between requires at least one bound", WithCode(ErrArgument))
		}
		if lo != nil && hi != nil {
			vals[opAttr] = lo
			encLo, _, err := encode(vals)
			if err != nil {
				return err
			}
			vals[opAttr] = hi
			encHi, _, err := encode(vals)
			if err != nil {
				return err
			}
			return expr.addSortCondition("between", km.Field, encLo, encHi)
		}
		// one bound: single comparator, no second placeholder
		if lo != nil {
			vals[opAttr] = lo
			enc, _, err := encode(vals)
			if err != nil {
				return err
			}
			return expr.addSortCondition("gte", km.Field, enc, nil)
		}
		vals[opAttr] = hi
		enc, _, err := encode(vals)
		if err != nil {
			return err
		}
		return expr.addSortCondition("lte", km.Field, enc, nil)
	default:
		vals[opAttr] = operand
		enc, _, err := encode(vals)
		if err != nil {
			return err
		}
		return expr.addSortCondition(opName, km.Field, enc, nil)
	}
}

// singleOperator unpacks a one-entry operator map such as {"gt": v}.
func singleOperator(opMap map[string]any) (string, any, error) {
	if len(opMap) != 1 {
		return "", nil, NewError("sort key operator map must hold exactly one operator", WithCode(ErrArgument))
	}
	for name, arg := range opMap {
		if name == "begins_with" {
			name = "begins"
		}
		if _, ok := KeyOperators[name]; !ok {
			return "", nil, NewError(fmt.Sprintf("unsupported sort key operator %q", name), WithCode(ErrArgument))
		}
		return name, arg, nil
	}
	return "", nil, nil
}

// betweenBounds accepts a two-element slice; a nil element leaves that bound
// open.
func betweenBounds(operand any) (any, any, error) {
	bounds, ok := operand.([]any)
	if !ok || len(bounds) == 0 || len(bounds) > 2 {
		return nil, nil, NewError("between expects a slice of one or two bounds", WithCode(ErrArgument))
	}
	if len(bounds) == 1 {
		return bounds[0], nil, nil
	}
	return bounds[0], bounds[1], nil
}

// addFacetFilters turns supplied facets into equality filters, skipping the
// given key facets. Identity markers are skipped too; ownership is enforced
// on read shaping.
func (e *Entity) addFacetFilters(expr *expression, keyed map[string]bool, facets Item) error {
	m := e.model
	for _, name := range sortedKeys(facets) {
		v := facets[name]
		if v == nil || keyed[name] {
			continue
		}
		a := m.Attrs[name]
		if a == nil || name == m.EntityField || name == m.VersionField {
			continue
		}
		if _, isOp := v.(map[string]any); isOp {
			continue
		}
		w, err := e.writeValue(a, v, facets)
		if err != nil {
			return err
		}
		expr.addFilterEquality(a.Field, w)
	}
	return nil
}

// ─── collection query ────────────────────────────────────────────────────────

// compileCollection builds a cross-entity query over a collection: partition
// equality plus a begins_with on the shared collection prefix of the sort key.
func (e *Entity) compileCollection(collection string, facets Item, cfg *callConfig) (*expression, error) {
	m := e.model
	var im *indexMeta
	for _, name := range m.Order {
		if ix := m.Indexes[name]; strings.EqualFold(ix.Collection, collection) {
			im = ix
			break
		}
	}
	if im == nil {
		return nil, NewError(fmt.Sprintf("unknown collection %q for %q", collection, m.Entity),
			WithCode(ErrArgument))
	}
	expr := newExpression(e, "query", cfg, im)
	pk, ok, err := m.encodeKey(im.PK, facets)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, NewError(fmt.Sprintf("missing partition key facets for collection %q", collection),
			WithCode(ErrMissing), WithContext(map[string]any{"properties": facets}))
	}
	expr.addKeyEquality(im.PK.Field, pk)
	prefix := applyCase("$"+strings.ToLower(collection), im.SK.Casing)
	if err := expr.addSortCondition("begins", im.SK.Field, prefix, nil); err != nil {
		return nil, err
	}
	if err := expr.applyWhere(); err != nil {
		return nil, err
	}
	if err := e.addProjection(expr, cfg, im); err != nil {
		return nil, err
	}
	return expr, nil
}

// ─── scan ────────────────────────────────────────────────────────────────────

// compileScan restricts a table scan to this entity: a begins_with on the
// partition-key prefix plus identity marker equality, merged with any caller
// filter. Supplied facets become additional equality filters.
func (e *Entity) compileScan(facets Item, cfg *callConfig) (*expression, error) {
	m := e.model
	im := m.Primary
	expr := newExpression(e, "scan", cfg, im)
	if prefix := scanPrefix(im.PK); prefix != "" {
		expr.addFilterBeginsWith(im.PK.Field, prefix)
	}
	if a := m.Attrs[m.EntityField]; a != nil {
		expr.addFilterEquality(a.Field, m.Entity)
	}
	if a := m.Attrs[m.VersionField]; a != nil {
		expr.addFilterEquality(a.Field, m.Version)
	}
	if err := e.addFacetFilters(expr, nil, facets); err != nil {
		return nil, err
	}
	if err := expr.applyWhere(); err != nil {
		return nil, err
	}
	if err := e.addProjection(expr, cfg, im); err != nil {
		return nil, err
	}
	return expr, nil
}

// scanPrefix is the static leading text of a key, empty when the key stores a
// raw number and cannot be prefix-matched.
func scanPrefix(km *keyMeta) string {
	if km.RawNumeric {
		return ""
	}
	p := km.Prefix
	if km.Custom && len(km.Literals) > 0 {
		p = km.Literals[0]
	}
	return applyCase(p, km.Casing)
}

// ─── projection ──────────────────────────────────────────────────────────────

// addProjection resolves requested logical attributes to physical fields.
// Identity markers ride along for ownership checks; unless the raw pager is
// active, the key fields needed to rebuild a cursor are retained as well.
func (e *Entity) addProjection(expr *expression, cfg *callConfig, im *indexMeta) error {
	if len(cfg.fields) == 0 {
		return nil
	}
	m := e.model
	for _, name := range cfg.fields {
		f, ok := m.fieldFor(name)
		if !ok {
			return NewError(fmt.Sprintf("unknown attribute %q in projection", name),
				WithCode(ErrProjection), WithContext(map[string]any{"fields": cfg.fields}))
		}
		expr.addProject(f)
	}
	if f, ok := m.fieldFor(m.EntityField); ok {
		expr.addProject(f)
	}
	if f, ok := m.fieldFor(m.VersionField); ok {
		expr.addProject(f)
	}
	if !cfg.rawPager {
		for _, f := range m.keyFields(im.Name) {
			expr.addProject(f)
		}
	}
	return nil
}
