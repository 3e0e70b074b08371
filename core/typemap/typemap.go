/*
Package typemap maps resource schema properties to the value types
accepted over the wire and to the postgres column types backing them.
*/
package typemap

import (
	"fmt"
	"strings"

	"github.com/schemaforge/schemaforge/core/schema"
)

// ValueKind enumerates the value types a generated resource accepts in
// JSON request bodies.
type ValueKind int

// all supported value kinds
const (
	ValueString ValueKind = iota
	ValueInteger
	ValueNumber
	ValueBoolean
	ValueTimestamp
	ValueList
	ValueObject
)

func (k ValueKind) String() string {
	switch k {
	case ValueString:
		return "string"
	case ValueInteger:
		return "integer"
	case ValueNumber:
		return "number"
	case ValueBoolean:
		return "boolean"
	case ValueTimestamp:
		return "timestamp"
	case ValueList:
		return "list"
	case ValueObject:
		return "object"
	}
	return "unknown"
}

// ValueType is the wire type of a property. For lists, Elem describes
// the element type.
type ValueType struct {
	Kind ValueKind
	Elem *ValueType
}

// StorageKind enumerates the postgres column types generated resources
// are stored with.
type StorageKind int

// all supported storage kinds
const (
	StorageVarchar StorageKind = iota
	StorageText
	StorageTimestamp
	StorageInteger
	StorageDouble
	StorageBoolean
	StorageJSON
)

// StorageType is the postgres column type of a property.
type StorageType struct {
	Kind   StorageKind
	Length int // varchar length
}

// SQL returns the type as it appears in CREATE TABLE.
func (s StorageType) SQL() string {
	switch s.Kind {
	case StorageVarchar:
		return fmt.Sprintf("varchar(%d)", s.Length)
	case StorageText:
		return "text"
	case StorageTimestamp:
		return "timestamp"
	case StorageInteger:
		return "integer"
	case StorageDouble:
		return "double precision"
	case StorageBoolean:
		return "boolean"
	case StorageJSON:
		return "json"
	}
	return ""
}

// Value returns the wire type for a property specification. Properties
// with an unknown type are treated as strings.
func Value(spec schema.FieldSpec) ValueType {
	switch spec.Type {
	case "string":
		if isDateTime(spec.Format) {
			return ValueType{Kind: ValueTimestamp}
		}
		return ValueType{Kind: ValueString}
	case "integer":
		return ValueType{Kind: ValueInteger}
	case "number":
		return ValueType{Kind: ValueNumber}
	case "boolean":
		return ValueType{Kind: ValueBoolean}
	case "array":
		elem := ValueType{Kind: ValueString}
		if spec.Items != nil {
			elem = Value(*spec.Items)
		}
		return ValueType{Kind: ValueList, Elem: &elem}
	case "object":
		return ValueType{Kind: ValueObject}
	}
	return ValueType{Kind: ValueString}
}

// Storage returns the postgres column type for a property
// specification. Properties with an unknown type are stored as
// varchar(255).
func Storage(spec schema.FieldSpec) StorageType {
	switch spec.Type {
	case "string":
		if isDateTime(spec.Format) {
			return StorageType{Kind: StorageTimestamp}
		}
		if prefersText(spec) {
			return StorageType{Kind: StorageText}
		}
		length := spec.MaxLength
		if length <= 0 {
			length = 255
		}
		return StorageType{Kind: StorageVarchar, Length: length}
	case "integer":
		return StorageType{Kind: StorageInteger}
	case "number":
		return StorageType{Kind: StorageDouble}
	case "boolean":
		return StorageType{Kind: StorageBoolean}
	case "array", "object":
		return StorageType{Kind: StorageJSON}
	}
	return StorageType{Kind: StorageVarchar, Length: 255}
}

func isDateTime(format string) bool {
	return format == "date-time" || format == "datetime"
}

// long strings and properties described as text get a text column
// instead of varchar
func prefersText(spec schema.FieldSpec) bool {
	return spec.MaxLength > 500 ||
		strings.Contains(strings.ToLower(spec.Description), "text")
}
