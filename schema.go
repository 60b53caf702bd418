/*
Package facet – declarative schema types.

A Schema names the entity (service/entity/version identity), declares its
typed attributes, and lists the access patterns whose physical keys are
composed from attribute values. Schemas are plain data: they can be built in
code or loaded from YAML/JSON via LoadSchema.
*/
package facet

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Item is the generic unit of data exchanged with the library: logical
// attribute maps on the way in, shaped records on the way out, and raw
// command maps at the low-level Table API.
type Item = map[string]any

// AttributeType names the primitive and container types an attribute may carry.
type AttributeType string

const (
	TypeString  AttributeType = "string"
	TypeNumber  AttributeType = "number"
	TypeBoolean AttributeType = "boolean"
	TypeDate    AttributeType = "date"
	TypeObject  AttributeType = "object"
	TypeArray   AttributeType = "array"
	TypeSet     AttributeType = "set"
)

var validAttributeTypes = map[AttributeType]bool{
	TypeString: true, TypeNumber: true, TypeBoolean: true, TypeDate: true,
	TypeObject: true, TypeArray: true, TypeSet: true,
}

// ValueFunc transforms an attribute value. Set hooks run before a value is
// written or embedded in a key; Get hooks run as items are shaped on read.
type ValueFunc func(value any, item Item) any

// AttributeDef declares one logical attribute.
type AttributeDef struct {
	Type     AttributeType `yaml:"type,omitempty" json:"type,omitempty"`
	Required bool          `yaml:"required,omitempty" json:"required,omitempty"`
	Hidden   bool          `yaml:"hidden,omitempty" json:"hidden,omitempty"`
	ReadOnly bool          `yaml:"readOnly,omitempty" json:"readOnly,omitempty"`
	Default  any           `yaml:"default,omitempty" json:"default,omitempty"`
	Generate string        `yaml:"generate,omitempty" json:"generate,omitempty"` // "uuid"|"ulid"|"uid"|"uid(n)"
	Validate string        `yaml:"validate,omitempty" json:"validate,omitempty"` // regex string "/pat/flags"
	Enum     []string      `yaml:"enum,omitempty" json:"enum,omitempty"`
	Field    string        `yaml:"field,omitempty" json:"field,omitempty"` // physical field name override
	Label    string        `yaml:"label,omitempty" json:"label,omitempty"` // key segment label override
	Crypt    bool          `yaml:"crypt,omitempty" json:"crypt,omitempty"`
	Unique   bool          `yaml:"unique,omitempty" json:"unique,omitempty"`
	Nulls    bool          `yaml:"nulls,omitempty" json:"nulls,omitempty"`
	TTL      bool          `yaml:"ttl,omitempty" json:"ttl,omitempty"`

	// Set/Get hooks are code-only; yaml/json schemas cannot carry them.
	Set ValueFunc `yaml:"-" json:"-"`
	Get ValueFunc `yaml:"-" json:"-"`
}

// KeyDef declares one side of an access-pattern key.
//
// Array style lists the composite attributes in order; each contributes a
// "#label_value" segment after the derived prefix. Template style supplies
// the whole key layout verbatim, e.g. "PREFIX#${region}#${id}"; literal text
// is kept as-is and no prefix is derived. When both are given they must
// describe the same attributes in the same order.
type KeyDef struct {
	Field    string   `yaml:"field" json:"field"`
	Facets   []string `yaml:"facets,omitempty" json:"facets,omitempty"`
	Template string   `yaml:"template,omitempty" json:"template,omitempty"`
	Casing   string   `yaml:"casing,omitempty" json:"casing,omitempty"` // "lower" (default) | "upper" | "none"
}

// IndexDef declares an access pattern. An empty Index name denotes the
// table's primary index.
type IndexDef struct {
	Index      string  `yaml:"index,omitempty" json:"index,omitempty"`
	Collection string  `yaml:"collection,omitempty" json:"collection,omitempty"`
	PK         *KeyDef `yaml:"pk" json:"pk"`
	SK         *KeyDef `yaml:"sk,omitempty" json:"sk,omitempty"`
	Type       string  `yaml:"type,omitempty" json:"type,omitempty"`       // "local" for LSI
	Project    any     `yaml:"project,omitempty" json:"project,omitempty"` // "all"|"keys"|[]string
	Follow     bool    `yaml:"follow,omitempty" json:"follow,omitempty"`
}

// ModelIdent is the identity triple stamped into key prefixes and the two
// identity fields of every stored item.
type ModelIdent struct {
	Service string `yaml:"service" json:"service"`
	Entity  string `yaml:"entity" json:"entity"`
	Version string `yaml:"version" json:"version"`
}

// Schema is the declarative input to Table.AddEntity.
//
// Format selects the key-shape convention and is resolved exactly once when
// the schema is compiled: "v2" (default) puts the version on the sort-key
// prefix, "v1" is the legacy shape with the version on the partition-key
// prefix.
type Schema struct {
	Format     string                   `yaml:"format,omitempty" json:"format,omitempty"`
	Model      ModelIdent               `yaml:"model" json:"model"`
	Attributes map[string]*AttributeDef `yaml:"attributes" json:"attributes"`
	Indexes    map[string]*IndexDef     `yaml:"indexes" json:"indexes"`
}

// LoadSchema parses a Schema from YAML (or JSON, which YAML subsumes).
func LoadSchema(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, NewError("cannot parse schema", WithCode(ErrModelFormat), WithCause(err))
	}
	return &s, nil
}

// LoadSchemaFile reads and parses a schema file.
func LoadSchemaFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewError("cannot read schema file", WithCode(ErrModelFormat), WithCause(err))
	}
	return LoadSchema(data)
}
