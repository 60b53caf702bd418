/*
Package facet – key encoding and decoding.

Encoding walks the ordered facet slots of one key side and concatenates
"prefix + #label_ + value" segments (or the template's literal text for
custom keys), stopping at the first missing value. Decoding matches the
pattern compiled from the same structure and coerces captures back to the
declared attribute types, so any key the codec emits round-trips.
*/
package facet

import (
	"strconv"
	"strings"
	"time"
)

// markerUnparsed is planted in a decoded facet map when the key string did
// not match but the facets could be recovered from backup values.
const markerUnparsed = "__unparsed"

// encodeKey builds the physical value for one key side from logical facet
// values. The returned bool reports whether every facet was supplied; when
// false the string holds the longest well-formed prefix, which is exactly
// what range queries need.
func (m *entityModel) encodeKey(km *keyMeta, values Item) (any, bool, error) {
	if km.RawNumeric {
		slot := km.Slots[0]
		v, ok := values[slot.Attr]
		if !ok || v == nil {
			return nil, false, nil
		}
		v = m.applySet(slot.Attr, v, values)
		n, err := toFloat(v)
		if err != nil {
			return nil, false, NewError("key attribute \""+slot.Attr+"\" must be numeric",
				WithCode(ErrType), WithCause(err))
		}
		return n, true, nil
	}

	var b strings.Builder
	b.WriteString(km.Prefix)
	complete := true
	for i, slot := range km.Slots {
		v, ok := values[slot.Attr]
		if !ok || v == nil {
			complete = false
			break
		}
		s, err := m.formatFacet(slot.Attr, v, values)
		if err != nil {
			return nil, false, err
		}
		if km.Custom {
			b.WriteString(km.Literals[i])
		} else {
			b.WriteString("#")
			b.WriteString(slot.Label)
			b.WriteString("_")
		}
		b.WriteString(s)
	}
	if km.Custom && complete {
		b.WriteString(km.Literals[len(km.Literals)-1])
	}
	return applyCase(b.String(), km.Casing), complete, nil
}

// formatFacet runs the attribute's Set hook and stringifies the value for
// embedding in a key.
func (m *entityModel) formatFacet(attr string, v any, item Item) (string, error) {
	v = m.applySet(attr, v, item)
	am := m.Attrs[attr]
	switch tv := v.(type) {
	case string:
		return tv, nil
	case bool:
		return strconv.FormatBool(tv), nil
	case time.Time:
		return m.formatDate(tv), nil
	}
	if am != nil && am.Type == TypeNumber {
		n, err := toFloat(v)
		if err != nil {
			return "", NewError("key attribute \""+attr+"\" must be numeric",
				WithCode(ErrType), WithCause(err))
		}
		return strconv.FormatFloat(n, 'f', -1, 64), nil
	}
	if n, err := toFloat(v); err == nil {
		return strconv.FormatFloat(n, 'f', -1, 64), nil
	}
	return "", NewError("cannot embed value of attribute \""+attr+"\" in a key",
		WithCode(ErrType), WithContext(map[string]any{"attribute": attr}))
}

func (m *entityModel) applySet(attr string, v any, item Item) any {
	if am, ok := m.Attrs[attr]; ok && am.Def != nil && am.Def.Set != nil {
		return am.Def.Set(v, item)
	}
	return v
}

func (m *entityModel) formatDate(t time.Time) string {
	if m.IsoDates {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func applyCase(s string, mode caseMode) string {
	switch mode {
	case caseUpper:
		return strings.ToUpper(s)
	case caseNone:
		return s
	}
	return strings.ToLower(s)
}

// matchKey matches a physical key value against one key side and returns the
// decoded facets. ok is false when the value does not belong to this key.
func (m *entityModel) matchKey(km *keyMeta, raw any) (Item, bool) {
	if km.RawNumeric {
		n, err := toFloat(raw)
		if err != nil {
			return nil, false
		}
		return Item{km.Slots[0].Attr: n}, true
	}
	s, ok := raw.(string)
	if !ok {
		return nil, false
	}
	groups := km.pattern.FindStringSubmatch(s)
	if groups == nil {
		return nil, false
	}
	out := Item{}
	for i, slot := range km.Slots {
		v, cok := m.coerceFacet(slot.Attr, groups[i+1])
		if !cok {
			return nil, false
		}
		out[slot.Attr] = v
	}
	return out, true
}

// coerceFacet converts a captured key segment to the attribute's declared
// primitive type.
func (m *entityModel) coerceFacet(attr, capture string) (any, bool) {
	am, ok := m.Attrs[attr]
	if !ok {
		return capture, true
	}
	switch am.Type {
	case TypeNumber:
		n, err := strconv.ParseFloat(capture, 64)
		if err != nil {
			return nil, false
		}
		return n, true
	case TypeBoolean:
		b, err := strconv.ParseBool(strings.ToLower(capture))
		if err != nil {
			return nil, false
		}
		return b, true
	case TypeDate:
		if t, err := time.Parse(time.RFC3339Nano, capture); err == nil {
			return t, true
		}
		if ms, err := strconv.ParseInt(capture, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC(), true
		}
		return capture, true
	}
	return capture, true
}

// decodeKeySide decodes one key side, falling back to backup facet values
// when the stored string does not match. The bool reports that the backup
// path was taken.
func (m *entityModel) decodeKeySide(km *keyMeta, raw any, backup Item) (Item, bool, error) {
	if facets, ok := m.matchKey(km, raw); ok {
		return facets, false, nil
	}
	if backup != nil {
		out := Item{}
		have := true
		for _, slot := range km.Slots {
			v, ok := backup[slot.Attr]
			if !ok {
				have = false
				break
			}
			out[slot.Attr] = v
		}
		if have {
			return out, true, nil
		}
	}
	return nil, false, NewError("key does not belong to entity \""+m.Entity+"\"",
		WithCode(ErrOwnership),
		WithContext(map[string]any{"entity": m.Entity, "field": km.Field}))
}

// decodeKeys extracts the logical facets of the named access pattern from a
// stored item's physical key fields. An entirely empty key pair decodes to
// an empty map; a recovered-but-unparsed key carries the markerUnparsed
// entry.
func (m *entityModel) decodeKeys(index string, item Item, backup Item) (Item, error) {
	im, ok := m.Indexes[index]
	if !ok {
		return nil, NewError("unknown access pattern \""+index+"\"", WithCode(ErrArgument))
	}
	out := Item{}
	empty := true
	unparsed := false
	for _, km := range []*keyMeta{im.PK, im.SK} {
		if km == nil {
			continue
		}
		raw, present := item[km.Field]
		if !present || raw == nil || raw == "" {
			continue
		}
		empty = false
		facets, fellBack, err := m.decodeKeySide(km, raw, backup)
		if err != nil {
			return nil, err
		}
		for k, v := range facets {
			out[k] = v
		}
		if fellBack {
			unparsed = true
		}
	}
	if empty {
		return Item{}, nil
	}
	if unparsed {
		out[markerUnparsed] = true
	}
	return out, nil
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int8:
		return float64(n), nil
	case int16:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case uint:
		return float64(n), nil
	case uint8:
		return float64(n), nil
	case uint16:
		return float64(n), nil
	case uint32:
		return float64(n), nil
	case uint64:
		return float64(n), nil
	case string:
		return strconv.ParseFloat(n, 64)
	}
	return 0, NewError("not a number", WithCode(ErrType))
}
