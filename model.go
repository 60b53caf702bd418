/*
Package facet – schema compilation.

compileSchema turns a declarative Schema into the immutable runtime model:
per-index key metadata with ordered facet slots, derived prefixes, decode
patterns, and attribute metadata. Every validation failure here is fatal at
construction and carries its own error code.
*/
package facet

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// keySide distinguishes the two sides of an access-pattern key.
type keySide int

const (
	sidePK keySide = iota
	sideSK
)

// keyShape is the schema-version tag, resolved exactly once at compile time.
// All prefix derivation reads this tag; nothing downstream re-inspects the
// schema's Format string.
type keyShape int

const (
	shapeV2 keyShape = iota // version rides on the sort-key prefix
	shapeV1                 // legacy: version rides on the partition-key prefix
)

// caseMode is the casing rule applied to a finished key string.
type caseMode int

const (
	caseLower caseMode = iota
	caseUpper
	caseNone
)

// facetSlot binds one composite attribute to (index, key side, position).
type facetSlot struct {
	Attr  string
	Label string // empty for custom-template keys
	Index string // access-pattern name
	Side  keySide
	Pos   int
}

// keyMeta is the compiled form of one side of an access-pattern key. Facet
// slots are stored as an ordered array and addressed by position; there is
// no positional sparsity.
type keyMeta struct {
	Field      string      // physical key attribute
	Prefix     string      // derived literal prefix; "" for custom templates
	Slots      []facetSlot // ordered facet slots
	Literals   []string    // custom templates: literal text around slots (len = len(Slots)+1)
	Casing     caseMode
	Custom     bool
	RawNumeric bool // single unlabeled numeric facet: key keeps the raw number
	pattern    *regexp.Regexp
}

// indexMeta is the compiled form of one access pattern.
type indexMeta struct {
	Name       string // access-pattern name from the schema
	Index      string // physical index name; "" = primary
	Collection string
	Local      bool
	Follow     bool
	Project    any
	PK         *keyMeta
	SK         *keyMeta
}

// attribute key roles, used to reject an attribute serving as partition key
// in one index and sort key in another.
const (
	roleNone = iota
	rolePK
	roleSK
)

// attrMeta is the compiled form of one attribute.
type attrMeta struct {
	Name      string
	Field     string // physical storage name
	Type      AttributeType
	Def       *AttributeDef
	Indexed   bool
	InPrimary bool
	role      int
	validate  *regexp.Regexp
	genKind   string
	genSize   int
}

// entityModel is the immutable runtime model compiled from a Schema.
type entityModel struct {
	Entity  string
	Service string
	Version string
	Shape   keyShape

	Attrs   map[string]*attrMeta
	fields  map[string]string // logical name → physical field
	logical map[string]string // physical field → logical name

	Indexes map[string]*indexMeta
	Order   []string // deterministic walk order: primary first, then sorted
	Primary *indexMeta

	// arena reverse map: attribute → every slot it occupies
	ByAttr map[string][]facetSlot

	EntityField  string
	VersionField string
	CreatedField string
	UpdatedField string
	Timestamps   any
	IsoDates     bool
	TTLField     string

	HasUnique bool
	HasCrypt  bool
}

// modelParams carries the table-level settings that shape compilation.
type modelParams struct {
	EntityField  string
	VersionField string
	CreatedField string
	UpdatedField string
	Timestamps   any // bool | "create" | "update"
	IsoDates     bool
}

func (p modelParams) withDefaults() modelParams {
	if p.EntityField == "" {
		p.EntityField = "_entity"
	}
	if p.VersionField == "" {
		p.VersionField = "_version"
	}
	if p.CreatedField == "" {
		p.CreatedField = "created"
	}
	if p.UpdatedField == "" {
		p.UpdatedField = "updated"
	}
	return p
}

// compileSchema validates a Schema and builds the runtime model. It is pure:
// the input schema is not modified and the result never changes afterwards.
func compileSchema(schema *Schema, params modelParams) (*entityModel, error) {
	if schema == nil {
		return nil, NewError("schema is nil", WithCode(ErrModelFormat))
	}
	if schema.Model.Entity == "" || schema.Model.Service == "" {
		return nil, NewError("schema must name a service and an entity",
			WithCode(ErrModelFormat))
	}
	shape, err := resolveShape(schema.Format)
	if err != nil {
		return nil, err
	}
	if len(schema.Attributes) == 0 {
		return nil, NewError("schema declares no attributes", WithCode(ErrModelFormat))
	}
	if len(schema.Indexes) == 0 {
		return nil, NewError("schema declares no access patterns", WithCode(ErrModelPrimary))
	}
	params = params.withDefaults()

	version := schema.Model.Version
	if version == "" {
		version = "1"
	}
	m := &entityModel{
		Entity:       strings.ToLower(schema.Model.Entity),
		Service:      strings.ToLower(schema.Model.Service),
		Version:      version,
		Shape:        shape,
		Attrs:        map[string]*attrMeta{},
		fields:       map[string]string{},
		logical:      map[string]string{},
		Indexes:      map[string]*indexMeta{},
		ByAttr:       map[string][]facetSlot{},
		EntityField:  params.EntityField,
		VersionField: params.VersionField,
		CreatedField: params.CreatedField,
		UpdatedField: params.UpdatedField,
		Timestamps:   params.Timestamps,
		IsoDates:     params.IsoDates,
	}

	if err := m.compileAttributes(schema); err != nil {
		return nil, err
	}
	if err := m.injectAmbientAttributes(); err != nil {
		return nil, err
	}
	if err := m.compileIndexes(schema); err != nil {
		return nil, err
	}

	for _, am := range m.Attrs {
		if am.Def != nil && am.Def.Unique && !am.InPrimary {
			m.HasUnique = true
		}
		if am.Def != nil && am.Def.Crypt {
			m.HasCrypt = true
		}
	}
	return m, nil
}

func resolveShape(format string) (keyShape, error) {
	switch format {
	case "", "v2":
		return shapeV2, nil
	case "v1":
		return shapeV1, nil
	}
	return 0, NewError("unknown schema format \""+format+"\"", WithCode(ErrModelFormat),
		WithContext(map[string]any{"format": format}))
}

func (m *entityModel) compileAttributes(schema *Schema) error {
	for name, def := range schema.Attributes {
		if def == nil {
			def = &AttributeDef{}
		}
		typ := def.Type
		if typ == "" {
			typ = TypeString
		}
		typ = AttributeType(strings.ToLower(string(typ)))
		if !validAttributeTypes[typ] {
			return NewError("unknown type \""+string(def.Type)+"\" for attribute \""+name+"\"",
				WithCode(ErrModelAttribute))
		}
		am := &attrMeta{
			Name:  name,
			Field: name,
			Type:  typ,
			Def:   def,
			role:  roleNone,
		}
		if def.Field != "" {
			am.Field = def.Field
		}
		if def.Validate != "" {
			re, err := parseValidate(def.Validate)
			if err != nil {
				return NewError("invalid validation pattern for attribute \""+name+"\"",
					WithCode(ErrModelAttribute), WithCause(err))
			}
			am.validate = re
		}
		if def.Generate != "" {
			kind, size, err := parseGenerate(def.Generate)
			if err != nil {
				return err
			}
			am.genKind, am.genSize = kind, size
		}
		if def.TTL {
			if m.TTLField != "" {
				return NewError("multiple TTL attributes declared", WithCode(ErrModelAttribute))
			}
			m.TTLField = am.Field
		}
		if prev, ok := m.logical[am.Field]; ok {
			return NewError("attributes \""+prev+"\" and \""+name+"\" share the field \""+am.Field+"\"",
				WithCode(ErrModelConflict))
		}
		m.Attrs[name] = am
		m.fields[name] = am.Field
		m.logical[am.Field] = name
	}
	return nil
}

// injectAmbientAttributes adds the identity fields and optional timestamp
// attributes every compiled model carries.
func (m *entityModel) injectAmbientAttributes() error {
	for _, name := range []string{m.EntityField, m.VersionField} {
		if _, ok := m.Attrs[name]; ok {
			return NewError("attribute \""+name+"\" collides with a reserved identity field",
				WithCode(ErrModelAttribute))
		}
		am := &attrMeta{
			Name:  name,
			Field: name,
			Type:  TypeString,
			Def:   &AttributeDef{Type: TypeString, Hidden: true, ReadOnly: true},
			role:  roleNone,
		}
		m.Attrs[name] = am
		m.fields[name] = name
		m.logical[name] = name
	}
	ts := m.Timestamps
	if ts == true || ts == "create" {
		m.ensureDateAttribute(m.CreatedField)
	}
	if ts == true || ts == "update" {
		m.ensureDateAttribute(m.UpdatedField)
	}
	return nil
}

func (m *entityModel) ensureDateAttribute(name string) {
	if _, ok := m.Attrs[name]; ok {
		return
	}
	am := &attrMeta{
		Name:  name,
		Field: name,
		Type:  TypeDate,
		Def:   &AttributeDef{Type: TypeDate, ReadOnly: true},
		role:  roleNone,
	}
	m.Attrs[name] = am
	m.fields[name] = name
	m.logical[name] = name
}

func (m *entityModel) compileIndexes(schema *Schema) error {
	// field signature map enforces identical key definitions wherever a
	// physical field is reused across access patterns
	signatures := map[string]string{}
	physical := map[string]string{}

	var primaryName string
	for name, def := range schema.Indexes {
		if def == nil || def.PK == nil || def.PK.Field == "" {
			return NewError("access pattern \""+name+"\" has no partition key",
				WithCode(ErrModelIndex))
		}
		if def.Index == "" {
			if primaryName != "" {
				return NewError("multiple primary access patterns: \""+primaryName+"\" and \""+name+"\"",
					WithCode(ErrModelPrimary))
			}
			primaryName = name
		} else {
			if prev, ok := physical[def.Index]; ok {
				return NewError("access patterns \""+prev+"\" and \""+name+"\" share the index name \""+def.Index+"\"",
					WithCode(ErrModelIndex))
			}
			physical[def.Index] = name
		}
		if def.Collection != "" && def.SK == nil {
			return NewError("collection \""+def.Collection+"\" on access pattern \""+name+"\" requires a sort key",
				WithCode(ErrModelCollection))
		}
	}
	if primaryName == "" {
		return NewError("schema declares no primary access pattern", WithCode(ErrModelPrimary))
	}

	primaryDef := schema.Indexes[primaryName]
	for name, def := range schema.Indexes {
		im := &indexMeta{
			Name:       name,
			Index:      def.Index,
			Collection: strings.ToLower(def.Collection),
			Local:      def.Type == "local",
			Follow:     def.Follow,
			Project:    def.Project,
		}
		if im.Local {
			if def.Index == "" || def.PK.Field != primaryDef.PK.Field {
				return NewError("local access pattern \""+name+"\" must reuse the primary partition key",
					WithCode(ErrModelIndex))
			}
		}
		pk, err := m.compileKey(name, sidePK, def.PK, im.Collection)
		if err != nil {
			return err
		}
		im.PK = pk
		if def.SK != nil {
			sk, err := m.compileKey(name, sideSK, def.SK, im.Collection)
			if err != nil {
				return err
			}
			im.SK = sk
			// pk and sk facets of one index must be disjoint
			for _, ps := range pk.Slots {
				for _, ss := range sk.Slots {
					if ps.Attr == ss.Attr {
						return NewError("attribute \""+ps.Attr+"\" appears on both sides of access pattern \""+name+"\"",
							WithCode(ErrModelFacet))
					}
				}
			}
		}
		for _, kp := range []struct {
			side keySide
			km   *keyMeta
		}{{sidePK, pk}, {sideSK, im.SK}} {
			side, km := kp.side, kp.km
			if km == nil {
				continue
			}
			sig := keySignature(km)
			if prev, ok := signatures[km.Field]; ok && prev != sig {
				return NewError("field \""+km.Field+"\" carries conflicting key definitions",
					WithCode(ErrModelConflict))
			}
			signatures[km.Field] = sig
			if err := m.markRoles(km, side, def.Index == ""); err != nil {
				return err
			}
		}
		m.Indexes[name] = im
		if def.Index == "" {
			m.Primary = im
		}
	}

	// deterministic walk order: primary first, then secondaries by name
	names := make([]string, 0, len(m.Indexes))
	for name := range m.Indexes {
		if name != primaryName {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	m.Order = append([]string{primaryName}, names...)

	for _, name := range m.Order {
		im := m.Indexes[name]
		for _, km := range []*keyMeta{im.PK, im.SK} {
			if km == nil {
				continue
			}
			for _, slot := range km.Slots {
				m.ByAttr[slot.Attr] = append(m.ByAttr[slot.Attr], slot)
			}
		}
	}
	return nil
}

// compileKey builds the keyMeta for one side of one access pattern.
func (m *entityModel) compileKey(index string, side keySide, kd *KeyDef, collection string) (*keyMeta, error) {
	casing, err := resolveCasing(kd.Casing)
	if err != nil {
		return nil, err
	}
	km := &keyMeta{Field: kd.Field, Casing: casing}

	facets := kd.Facets
	if kd.Template != "" {
		km.Custom = true
		literals, vars := splitTemplate(kd.Template)
		if len(vars) == 0 {
			return nil, NewError("template for \""+kd.Field+"\" names no composite attributes",
				WithCode(ErrModelTemplate))
		}
		if kd.Facets != nil && !equalStrings(kd.Facets, vars) {
			return nil, NewError("template and facet list for \""+kd.Field+"\" disagree",
				WithCode(ErrModelTemplate),
				WithContext(map[string]any{"template": vars, "facets": kd.Facets}))
		}
		facets = vars
		km.Literals = literals
	} else {
		km.Prefix = m.keyPrefix(side, collection)
	}

	seen := map[string]bool{}
	for pos, attr := range facets {
		if seen[attr] {
			return nil, NewError("attribute \""+attr+"\" appears twice in one key",
				WithCode(ErrModelFacet))
		}
		seen[attr] = true
		am, ok := m.Attrs[attr]
		if !ok {
			return nil, NewError("key attribute \""+attr+"\" is not declared",
				WithCode(ErrModelAttribute),
				WithContext(map[string]any{"index": index, "attribute": attr}))
		}
		label := ""
		if !km.Custom {
			label = strings.ToLower(am.Name)
			if am.Def != nil && am.Def.Label != "" {
				label = strings.ToLower(am.Def.Label)
			}
		}
		km.Slots = append(km.Slots, facetSlot{
			Attr:  attr,
			Label: label,
			Index: index,
			Side:  side,
			Pos:   pos,
		})
	}

	if km.Custom && len(km.Slots) == 1 && emptyLiterals(km.Literals) {
		if m.Attrs[km.Slots[0].Attr].Type == TypeNumber {
			km.RawNumeric = true
		}
	}
	km.pattern = buildKeyPattern(km)
	return km, nil
}

// markRoles records index membership on attributes and rejects an attribute
// serving as partition key in one index and sort key in another.
func (m *entityModel) markRoles(km *keyMeta, side keySide, primary bool) error {
	role := rolePK
	if side == sideSK {
		role = roleSK
	}
	for _, slot := range km.Slots {
		am := m.Attrs[slot.Attr]
		am.Indexed = true
		if primary {
			am.InPrimary = true
		}
		if am.role == roleNone {
			am.role = role
		} else if am.role != role {
			return NewError("attribute \""+slot.Attr+"\" is a partition key in one index and a sort key in another",
				WithCode(ErrModelConflict))
		}
	}
	return nil
}

// keyPrefix derives the literal prefix for a generated (non-custom) key.
func (m *entityModel) keyPrefix(side keySide, collection string) string {
	if side == sidePK {
		if m.Shape == shapeV1 {
			return "$" + m.Service + "_" + m.Version
		}
		return "$" + m.Service
	}
	ent := m.Entity
	if m.Shape != shapeV1 {
		ent = m.Entity + "_" + m.Version
	}
	if collection != "" {
		return "$" + collection + "#" + ent
	}
	return "$" + ent
}

func resolveCasing(c string) (caseMode, error) {
	switch strings.ToLower(c) {
	case "", "lower":
		return caseLower, nil
	case "upper":
		return caseUpper, nil
	case "none":
		return caseNone, nil
	}
	return 0, NewError("unknown casing \""+c+"\"", WithCode(ErrModelFormat))
}

// keySignature canonicalizes a key definition so reuse of a physical field
// across access patterns can demand identical definitions.
func keySignature(km *keyMeta) string {
	parts := []string{km.Prefix, strconv.Itoa(int(km.Casing)), strconv.FormatBool(km.Custom)}
	for _, s := range km.Slots {
		parts = append(parts, s.Attr+":"+s.Label)
	}
	parts = append(parts, km.Literals...)
	return strings.Join(parts, "|")
}

// splitTemplate breaks "LIT${a}LIT${b}" into literals ["LIT","LIT",""] and
// vars ["a","b"]; len(literals) == len(vars)+1.
func splitTemplate(tmpl string) (literals []string, vars []string) {
	re := regexp.MustCompile(`\$\{(.*?)\}`)
	last := 0
	for _, loc := range re.FindAllStringSubmatchIndex(tmpl, -1) {
		literals = append(literals, tmpl[last:loc[0]])
		vars = append(vars, tmpl[loc[2]:loc[3]])
		last = loc[1]
	}
	literals = append(literals, tmpl[last:])
	return literals, vars
}

func emptyLiterals(literals []string) bool {
	for _, l := range literals {
		if l != "" {
			return false
		}
	}
	return true
}

// buildKeyPattern reconstructs the decode regular expression from the same
// prefix/label structure encoding uses. Case-insensitive so cased keys still
// round trip.
func buildKeyPattern(km *keyMeta) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("(?i)^")
	if km.Custom {
		trailing := km.Literals[len(km.Literals)-1]
		for i := range km.Slots {
			b.WriteString(regexp.QuoteMeta(km.Literals[i]))
			b.WriteString(capture(i == len(km.Slots)-1 && trailing == ""))
		}
		b.WriteString(regexp.QuoteMeta(trailing))
	} else {
		b.WriteString(regexp.QuoteMeta(km.Prefix))
		for i, slot := range km.Slots {
			b.WriteString(regexp.QuoteMeta("#" + slot.Label + "_"))
			b.WriteString(capture(i == len(km.Slots)-1))
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}

func capture(last bool) string {
	if last {
		return "(.*)"
	}
	return "(.*?)"
}

// slotAt addresses the facet arena by (index, side, position).
func (m *entityModel) slotAt(index string, side keySide, pos int) (facetSlot, bool) {
	im, ok := m.Indexes[index]
	if !ok {
		return facetSlot{}, false
	}
	km := im.PK
	if side == sideSK {
		km = im.SK
	}
	if km == nil || pos < 0 || pos >= len(km.Slots) {
		return facetSlot{}, false
	}
	return km.Slots[pos], true
}

// fieldFor translates a logical attribute name to its physical field.
func (m *entityModel) fieldFor(name string) (string, bool) {
	f, ok := m.fields[name]
	return f, ok
}

// keyFields lists every physical key field of the named access pattern plus
// the primary index, deduplicated. Projections retain these so pagination
// cursors stay reconstructable.
func (m *entityModel) keyFields(index string) []string {
	fields := []string{}
	add := func(im *indexMeta) {
		if im == nil {
			return
		}
		for _, km := range []*keyMeta{im.PK, im.SK} {
			if km == nil {
				continue
			}
			if !containsStr(fields, km.Field) {
				fields = append(fields, km.Field)
			}
		}
	}
	add(m.Primary)
	if index != "" && index != m.Primary.Name {
		add(m.Indexes[index])
	}
	return fields
}

// parseValidate compiles a "/pattern/flags" or bare pattern string.
func parseValidate(s string) (*regexp.Regexp, error) {
	pat := s
	if strings.HasPrefix(s, "/") {
		end := strings.LastIndex(s, "/")
		if end > 0 {
			flags := s[end+1:]
			pat = s[1:end]
			if strings.Contains(flags, "i") {
				pat = "(?i)" + pat
			}
		}
	}
	return regexp.Compile(pat)
}

// parseGenerate understands "uuid", "ulid", "uid" and "uid(n)".
func parseGenerate(g string) (kind string, size int, err error) {
	switch {
	case g == "uuid" || g == "ulid":
		return g, 0, nil
	case g == "uid":
		return "uid", 10, nil
	case strings.HasPrefix(g, "uid(") && strings.HasSuffix(g, ")"):
		n, aerr := strconv.Atoi(g[4 : len(g)-1])
		if aerr != nil || n <= 0 {
			return "", 0, NewError("invalid generate \""+g+"\"", WithCode(ErrModelAttribute))
		}
		return "uid", n, nil
	}
	return "", 0, NewError("unknown generate \""+g+"\"", WithCode(ErrModelAttribute))
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func containsStr(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
