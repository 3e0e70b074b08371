// Package table derives and materializes the postgres tables backing
// generated resources.
package table

import (
	"fmt"
	"strings"

	"github.com/schemaforge/schemaforge/core/csql"
	"github.com/schemaforge/schemaforge/core/record"
	"github.com/schemaforge/schemaforge/core/typemap"
)

// Column is a single column of a generated table.
type Column struct {
	Name     string
	Storage  typemap.StorageType
	NotNull  bool
	Identity bool
}

// Definition describes the table backing one generated resource.
type Definition struct {
	Resource string
	Name     string
	Columns  []Column
}

// Name returns the table name for a resource.
func Name(resource string) string {
	return "dynamic_" + strings.ToLower(resource)
}

// Build derives the table definition for a record type. The identity
// column comes first as the serial primary key, required properties get
// NOT NULL columns.
func Build(typ *record.Type) Definition {
	columns := make([]Column, 0, len(typ.Fields))
	for _, f := range typ.Fields {
		columns = append(columns, Column{
			Name:     f.Name,
			Storage:  typemap.Storage(f.Spec),
			NotNull:  f.Required,
			Identity: f.Identity,
		})
	}
	return Definition{
		Resource: typ.Name,
		Name:     Name(typ.Name),
		Columns:  columns,
	}
}

// CreateStatement returns the CREATE TABLE statement for this table in
// the given database schema.
func (d Definition) CreateStatement(dbSchema string) string {
	parts := make([]string, 0, len(d.Columns))
	for _, c := range d.Columns {
		part := "\"" + c.Name + "\" "
		if c.Identity {
			part += "serial PRIMARY KEY"
		} else {
			part += c.Storage.SQL()
			if c.NotNull {
				part += " NOT NULL"
			}
		}
		parts = append(parts, part)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s.\"%s\" (", dbSchema, d.Name) +
		strings.Join(parts, ", ") + ");"
}

// Materialize creates the table if it does not exist yet. Tables of
// previously declared resources are reused as they are, there is no
// migration of existing columns.
func (d Definition) Materialize(db *csql.DB) error {
	_, err := db.Exec(d.CreateStatement(db.Schema))
	if err != nil {
		return fmt.Errorf("cannot create table %s: %w", d.Name, err)
	}
	return nil
}
