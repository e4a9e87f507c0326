package domain

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type schemaFile struct {
	Kinds []schemaDecl `yaml:"kinds"`
}

type fieldDecl struct {
	Name      string    `yaml:"name"`
	Type      FieldType `yaml:"type"`
	Journaled *bool     `yaml:"journaled"`
	Required  bool      `yaml:"required"`
}

type schemaDecl struct {
	Kind         string              `yaml:"kind"`
	Table        string              `yaml:"table"`
	Fields       []fieldDecl         `yaml:"fields"`
	Associations []AssociationSpec   `yaml:"associations"`
	Checksum     []ChecksumReference `yaml:"checksum"`
}

// ParseSchemas decodes a YAML schema document. Fields are journaled unless
// they set journaled: false.
func ParseSchemas(data []byte) ([]Schema, error) {
	var file schemaFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode schema file: %w", err)
	}

	schemas := make([]Schema, 0, len(file.Kinds))
	for _, decl := range file.Kinds {
		s := Schema{
			Kind:         decl.Kind,
			Table:        decl.Table,
			Associations: decl.Associations,
			Checksum:     decl.Checksum,
		}
		for _, f := range decl.Fields {
			journaled := true
			if f.Journaled != nil {
				journaled = *f.Journaled
			}
			s.Fields = append(s.Fields, Field{
				Name:      f.Name,
				Type:      f.Type,
				Journaled: journaled,
				Required:  f.Required,
			})
		}
		schemas = append(schemas, s)
	}
	return schemas, nil
}

// LoadFile registers every kind declared in a YAML schema file, overriding
// built-in declarations of the same kind.
func (r *Registry) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read schema file: %w", err)
	}
	schemas, err := ParseSchemas(data)
	if err != nil {
		return err
	}
	for _, s := range schemas {
		if err := r.Register(s); err != nil {
			return fmt.Errorf("register %s: %w", s.Kind, err)
		}
	}
	return nil
}
