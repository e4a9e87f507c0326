package domain

import (
	"fmt"
	"regexp"
	"sort"
	"sync"
)

// FieldType is the semantic type of a journaled attribute.
type FieldType string

const (
	FieldString    FieldType = "string"
	FieldText      FieldType = "text"
	FieldInteger   FieldType = "integer"
	FieldFloat     FieldType = "float"
	FieldDecimal   FieldType = "decimal"
	FieldDate      FieldType = "date"
	FieldDateTime  FieldType = "datetime"
	FieldBoolean   FieldType = "boolean"
	FieldReference FieldType = "reference"
)

func (t FieldType) valid() bool {
	switch t {
	case FieldString, FieldText, FieldInteger, FieldFloat, FieldDecimal, FieldDate, FieldDateTime, FieldBoolean, FieldReference:
		return true
	}
	return false
}

// TechnicalFields are never journaled regardless of the schema declaration.
var TechnicalFields = map[string]struct{}{
	"id":           {},
	"lock_version": {},
	"updated_at":   {},
	"updated_on":   {},
	"type":         {},
}

// IsTechnical reports whether name is a surrogate id, lock counter, timestamp or discriminator.
func IsTechnical(name string) bool {
	_, ok := TechnicalFields[name]
	return ok
}

// Field declares one attribute of a journable kind.
type Field struct {
	Name      string    `yaml:"name"`
	Type      FieldType `yaml:"type"`
	Journaled bool      `yaml:"journaled"`
	Required  bool      `yaml:"required"`
}

// AssociationSource tells storage adapters where to read association members from.
// When TypeColumn is set the owner is polymorphic and rows are filtered by TypeValue.
type AssociationSource struct {
	Table       string `yaml:"table"`
	OwnerColumn string `yaml:"owner_column"`
	KeyColumn   string `yaml:"key_column"`
	ValueColumn string `yaml:"value_column"`
	TypeColumn  string `yaml:"type_column,omitempty"`
	TypeValue   string `yaml:"type_value,omitempty"`
}

// AssociationSpec declares a tracked association.
// Keyed associations diff values per key, set associations diff membership.
type AssociationSpec struct {
	Name   string             `yaml:"name"`
	Keyed  bool               `yaml:"keyed"`
	Source *AssociationSource `yaml:"source,omitempty"`
}

// DetailKey is the change set key of a single association member.
func (a AssociationSpec) DetailKey(key int64) string {
	return fmt.Sprintf("%s_%d", a.Name, key)
}

// ChecksumReference is one singular relation covered by the cache checksum.
type ChecksumReference struct {
	Column        string `yaml:"column"`
	Table         string `yaml:"table"`
	UpdatedColumn string `yaml:"updated_column"`
}

// Schema is the static journaling declaration for one journable kind.
type Schema struct {
	Kind         string              `yaml:"kind"`
	Table        string              `yaml:"table"`
	Fields       []Field             `yaml:"fields"`
	Associations []AssociationSpec   `yaml:"associations"`
	Checksum     []ChecksumReference `yaml:"checksum"`

	index map[string]int
}

// Field looks up a declared field by name.
func (s *Schema) Field(name string) (Field, bool) {
	if s.index == nil {
		s.buildIndex()
	}
	i, ok := s.index[name]
	if !ok {
		return Field{}, false
	}
	return s.Fields[i], true
}

// JournaledFields returns the comparable attribute set in declaration order.
func (s *Schema) JournaledFields() []Field {
	out := make([]Field, 0, len(s.Fields))
	for _, f := range s.Fields {
		if f.Journaled && !IsTechnical(f.Name) {
			out = append(out, f)
		}
	}
	return out
}

// Association looks up a declared association by name.
func (s *Schema) Association(name string) (AssociationSpec, bool) {
	for _, a := range s.Associations {
		if a.Name == name {
			return a, true
		}
	}
	return AssociationSpec{}, false
}

func (s *Schema) buildIndex() {
	s.index = make(map[string]int, len(s.Fields))
	for i, f := range s.Fields {
		s.index[f.Name] = i
	}
}

var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Validate checks the declaration and identifiers used to build SQL.
func (s *Schema) Validate() error {
	if s.Kind == "" {
		return fmt.Errorf("schema: kind is required")
	}
	if !identifierPattern.MatchString(s.Table) {
		return fmt.Errorf("schema %s: invalid table %q", s.Kind, s.Table)
	}
	seen := make(map[string]struct{}, len(s.Fields))
	for _, f := range s.Fields {
		if !identifierPattern.MatchString(f.Name) {
			return fmt.Errorf("schema %s: invalid field name %q", s.Kind, f.Name)
		}
		if !f.Type.valid() {
			return fmt.Errorf("schema %s: field %s has unknown type %q", s.Kind, f.Name, f.Type)
		}
		if _, dup := seen[f.Name]; dup {
			return fmt.Errorf("schema %s: duplicate field %s", s.Kind, f.Name)
		}
		seen[f.Name] = struct{}{}
	}
	for _, a := range s.Associations {
		if !identifierPattern.MatchString(a.Name) {
			return fmt.Errorf("schema %s: invalid association name %q", s.Kind, a.Name)
		}
		if _, clash := seen[a.Name]; clash {
			return fmt.Errorf("schema %s: association %s clashes with a field", s.Kind, a.Name)
		}
		if src := a.Source; src != nil {
			for _, ident := range []string{src.Table, src.OwnerColumn, src.KeyColumn, src.ValueColumn} {
				if !identifierPattern.MatchString(ident) {
					return fmt.Errorf("schema %s: association %s has invalid identifier %q", s.Kind, a.Name, ident)
				}
			}
			if src.TypeColumn != "" && !identifierPattern.MatchString(src.TypeColumn) {
				return fmt.Errorf("schema %s: association %s has invalid type column %q", s.Kind, a.Name, src.TypeColumn)
			}
		}
	}
	for _, ref := range s.Checksum {
		for _, ident := range []string{ref.Column, ref.Table, ref.UpdatedColumn} {
			if !identifierPattern.MatchString(ident) {
				return fmt.Errorf("schema %s: checksum reference has invalid identifier %q", s.Kind, ident)
			}
		}
	}
	return nil
}

// Registry holds the schemas of all journable kinds.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*Schema
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{schemas: make(map[string]*Schema)}
}

// Register validates and stores a schema, replacing any previous declaration of the kind.
func (r *Registry) Register(schema Schema) error {
	for i := range schema.Fields {
		if IsTechnical(schema.Fields[i].Name) {
			schema.Fields[i].Journaled = false
		}
	}
	if err := schema.Validate(); err != nil {
		return err
	}
	schema.buildIndex()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[schema.Kind] = &schema
	return nil
}

// Lookup returns the schema registered for kind.
func (r *Registry) Lookup(kind string) (*Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemas[kind]
	if !ok {
		return nil, WrapError(ErrCodeInvalid, ErrUnknownKind.Message, fmt.Errorf("kind %q", kind))
	}
	return s, nil
}

// Kinds lists registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.schemas))
	for k := range r.schemas {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
