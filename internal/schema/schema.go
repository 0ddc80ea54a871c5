// Package schema describes the local table records are reconciled into.
package schema

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/mengxiangmengyuan/fabrik/internal/coerce"
	"github.com/mengxiangmengyuan/fabrik/internal/ir"
)

var identRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidIdentifier reports whether name can be used as a table or column name.
func ValidIdentifier(name string) bool {
	return identRE.MatchString(name)
}

// Field is one typed local column.
type Field struct {
	Name string
	Type coerce.Type
}

// FromExternalFormat converts a mapped value into the field's representation.
func (f Field) FromExternalFormat(raw any) (any, error) {
	return coerce.Value(raw, f.Type)
}

// Table is a local table definition.
type Table struct {
	Name       string
	PrimaryKey string
	ForeignKey string
	Fields     map[string]Field
}

// Lookup returns the field definition for name.
func (t *Table) Lookup(name string) (Field, bool) {
	f, ok := t.Fields[name]
	return f, ok
}

// FieldNames returns field names in canonical order.
func (t *Table) FieldNames() []string {
	return ir.SortedKeys(t.Fields)
}

// FromTarget builds a table from a definition target. The foreign key is
// always a field; it defaults to text when not declared.
func FromTarget(target ir.TargetSpec) (*Table, error) {
	var errs []error

	if !ValidIdentifier(target.Table) {
		errs = append(errs, fmt.Errorf("invalid table name %q", target.Table))
	}
	pk := target.PrimaryKeyOrDefault()
	if !ValidIdentifier(pk) {
		errs = append(errs, fmt.Errorf("invalid primary key %q", pk))
	}
	if !ValidIdentifier(target.ForeignKey) {
		errs = append(errs, fmt.Errorf("invalid foreign key %q", target.ForeignKey))
	}
	if target.ForeignKey != "" && target.ForeignKey == pk {
		errs = append(errs, fmt.Errorf("foreign key %q must differ from the primary key", pk))
	}

	t := &Table{
		Name:       target.Table,
		PrimaryKey: pk,
		ForeignKey: target.ForeignKey,
		Fields:     make(map[string]Field, len(target.Fields)+1),
	}
	for _, name := range ir.SortedKeys(target.Fields) {
		if !ValidIdentifier(name) {
			errs = append(errs, fmt.Errorf("invalid field name %q", name))
			continue
		}
		if name == pk {
			errs = append(errs, fmt.Errorf("field %q collides with the primary key", name))
			continue
		}
		typ, err := coerce.ParseType(target.Fields[name])
		if err != nil {
			errs = append(errs, fmt.Errorf("field %q: %w", name, err))
			continue
		}
		t.Fields[name] = Field{Name: name, Type: typ}
	}
	if _, ok := t.Fields[target.ForeignKey]; !ok && ValidIdentifier(target.ForeignKey) && target.ForeignKey != pk {
		t.Fields[target.ForeignKey] = Field{Name: target.ForeignKey, Type: coerce.TypeText}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return t, nil
}
