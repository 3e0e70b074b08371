package typemap_test

import (
	"testing"

	"github.com/schemaforge/schemaforge/core/schema"
	"github.com/schemaforge/schemaforge/core/typemap"
)

func TestStorage(t *testing.T) {
	cases := []struct {
		name string
		spec schema.FieldSpec
		sql  string
	}{
		{"default string", schema.FieldSpec{Type: "string"}, "varchar(255)"},
		{"bounded string", schema.FieldSpec{Type: "string", MaxLength: 100}, "varchar(100)"},
		{"boundary string", schema.FieldSpec{Type: "string", MaxLength: 500}, "varchar(500)"},
		{"long string", schema.FieldSpec{Type: "string", MaxLength: 501}, "text"},
		{"text description", schema.FieldSpec{Type: "string", Description: "Long Text content"}, "text"},
		{"date-time", schema.FieldSpec{Type: "string", Format: "date-time"}, "timestamp"},
		{"datetime", schema.FieldSpec{Type: "string", Format: "datetime"}, "timestamp"},
		{"uuid stays string", schema.FieldSpec{Type: "string", Format: "uuid"}, "varchar(255)"},
		{"integer", schema.FieldSpec{Type: "integer"}, "integer"},
		{"number", schema.FieldSpec{Type: "number"}, "double precision"},
		{"boolean", schema.FieldSpec{Type: "boolean"}, "boolean"},
		{"array", schema.FieldSpec{Type: "array"}, "json"},
		{"object", schema.FieldSpec{Type: "object"}, "json"},
		{"unknown type", schema.FieldSpec{Type: "datetime"}, "varchar(255)"},
		{"no type", schema.FieldSpec{}, "varchar(255)"},
	}
	for _, c := range cases {
		if got := typemap.Storage(c.spec).SQL(); got != c.sql {
			t.Errorf("%s: got %s, want %s", c.name, got, c.sql)
		}
	}
}

func TestValue(t *testing.T) {
	v := typemap.Value(schema.FieldSpec{Type: "array"})
	if v.Kind != typemap.ValueList || v.Elem == nil || v.Elem.Kind != typemap.ValueString {
		t.Error("array without items must hold strings")
	}

	v = typemap.Value(schema.FieldSpec{Type: "array", Items: &schema.FieldSpec{Type: "integer"}})
	if v.Kind != typemap.ValueList || v.Elem == nil || v.Elem.Kind != typemap.ValueInteger {
		t.Error("array of integers expected")
	}

	v = typemap.Value(schema.FieldSpec{Type: "string", Format: "date-time"})
	if v.Kind != typemap.ValueTimestamp {
		t.Error("date-time string must be a timestamp")
	}

	v = typemap.Value(schema.FieldSpec{Type: "whatever"})
	if v.Kind != typemap.ValueString {
		t.Error("unknown types must be treated as strings")
	}
}
