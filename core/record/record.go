/*
Package record turns parsed resource schemas into record types.

A record type drives everything a generated resource does with data: it
validates and coerces JSON request bodies, it provides scan destinations
for database reads, and it renders stored records back into JSON objects
with the property order of the schema.
*/
package record

import (
	"bytes"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/schemaforge/schemaforge/core/schema"
	"github.com/schemaforge/schemaforge/core/typemap"
)

// Field is a single property of a record type.
type Field struct {
	Name     string
	Spec     schema.FieldSpec
	Value    typemap.ValueType
	Required bool
	Identity bool
}

// Type is the record type generated for one resource.
type Type struct {
	Name   string
	Fields []Field
}

// SchemaError reports that a schema cannot be turned into a record type.
type SchemaError struct {
	Model string
	Err   error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("invalid schema for model %s: %v", e.Model, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// FieldError describes one rejected property of a request body.
type FieldError struct {
	Name    string
	Problem string
}

// FieldErrors is the validation error for a request body.
type FieldErrors struct {
	Model  string
	Fields []FieldError
}

func (e *FieldErrors) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Name + ": " + f.Problem
	}
	return fmt.Sprintf("invalid %s: %s", e.Model, strings.Join(parts, "; "))
}

// Translate turns a parsed schema document into the record type for a
// model. The identity property id always comes first, regardless of
// where the schema declares it. A declared id keeps its description but
// is always the generated integer identity.
func Translate(model string, doc *schema.Document) (*Type, error) {
	if err := doc.Validate(); err != nil {
		return nil, &SchemaError{Model: model, Err: err}
	}
	idSpec, declared := doc.Properties["id"]
	if !declared {
		idSpec = schema.FieldSpec{Type: "integer", Description: "Unique identifier"}
	}
	fields := []Field{{
		Name:     "id",
		Spec:     idSpec,
		Value:    typemap.ValueType{Kind: typemap.ValueInteger},
		Identity: true,
	}}
	required := map[string]bool{}
	for _, name := range doc.Required {
		required[name] = true
	}
	for _, name := range doc.PropertyOrder {
		if name == "id" {
			continue
		}
		spec := doc.Properties[name]
		fields = append(fields, Field{
			Name:     name,
			Spec:     spec,
			Value:    typemap.Value(spec),
			Required: required[name],
		})
	}
	return &Type{Name: model, Fields: fields}, nil
}

// Writable returns the fields settable by a request body, which is
// everything except the identity.
func (t *Type) Writable() []Field {
	return t.Fields[1:]
}

// Construct validates body as a JSON object for this record type and
// returns the values to store, keyed by field name. Absent properties
// fall back to their schema default, or to null if they are not
// required. All values are coerced to the wire type of their property.
//
// Malformed JSON returns a plain error. Rejected properties return a
// *FieldErrors with one entry per property.
func (t *Type) Construct(body []byte) (map[string]interface{}, error) {
	var submitted map[string]interface{}
	if err := json.Unmarshal(body, &submitted); err != nil {
		return nil, err
	}
	values := map[string]interface{}{}
	errs := &FieldErrors{Model: t.Name}
	for _, f := range t.Writable() {
		raw, present := submitted[f.Name]
		switch {
		case !present && f.Spec.HasDefault():
			value, problem := coerce(f.Spec.Default, f.Value)
			if problem != "" {
				errs.Fields = append(errs.Fields, FieldError{f.Name, "default " + problem})
				continue
			}
			values[f.Name] = value
		case !present && f.Required:
			errs.Fields = append(errs.Fields, FieldError{f.Name, "field required"})
		case !present:
			values[f.Name] = nil
		case raw == nil && f.Required:
			errs.Fields = append(errs.Fields, FieldError{f.Name, "field may not be null"})
		case raw == nil:
			values[f.Name] = nil
		default:
			value, problem := coerce(raw, f.Value)
			if problem != "" {
				errs.Fields = append(errs.Fields, FieldError{f.Name, problem})
				continue
			}
			values[f.Name] = value
		}
	}
	if len(errs.Fields) > 0 {
		return nil, errs
	}
	return values, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func coerce(raw interface{}, vt typemap.ValueType) (interface{}, string) {
	switch vt.Kind {
	case typemap.ValueString:
		if s, ok := raw.(string); ok {
			return s, ""
		}
	case typemap.ValueInteger:
		switch n := raw.(type) {
		case float64:
			if n == math.Trunc(n) {
				return int64(n), ""
			}
		case int:
			return int64(n), ""
		case int64:
			return n, ""
		}
	case typemap.ValueNumber:
		switch n := raw.(type) {
		case float64:
			return n, ""
		case int:
			return float64(n), ""
		case int64:
			return float64(n), ""
		}
	case typemap.ValueBoolean:
		if b, ok := raw.(bool); ok {
			return b, ""
		}
	case typemap.ValueTimestamp:
		if s, ok := raw.(string); ok {
			for _, layout := range timestampLayouts {
				if ts, err := time.Parse(layout, s); err == nil {
					return ts, ""
				}
			}
		}
	case typemap.ValueList:
		list, ok := raw.([]interface{})
		if !ok {
			break
		}
		elem := typemap.ValueType{Kind: typemap.ValueString}
		if vt.Elem != nil {
			elem = *vt.Elem
		}
		result := make([]interface{}, len(list))
		for i, item := range list {
			value, problem := coerce(item, elem)
			if problem != "" {
				return nil, fmt.Sprintf("element %d %s", i, problem)
			}
			result[i] = value
		}
		return result, ""
	case typemap.ValueObject:
		if m, ok := raw.(map[string]interface{}); ok {
			return m, ""
		}
	}
	return nil, "is not a valid " + vt.Kind.String()
}

// ParameterValues turns constructed values into query parameters for the
// writable columns, in field order. Lists and objects are marshalled
// into their json column representation.
func (t *Type) ParameterValues(values map[string]interface{}) ([]interface{}, error) {
	params := make([]interface{}, 0, len(t.Fields)-1)
	for _, f := range t.Writable() {
		value := values[f.Name]
		switch f.Value.Kind {
		case typemap.ValueList, typemap.ValueObject:
			if value == nil {
				params = append(params, nil)
				continue
			}
			data, err := json.MarshalWithOption(value, json.DisableHTMLEscape())
			if err != nil {
				return nil, fmt.Errorf("cannot marshal %s: %w", f.Name, err)
			}
			params = append(params, data)
		default:
			params = append(params, value)
		}
	}
	return params, nil
}

// ScanValues returns one scan destination per field, in field order,
// with types matching the generated columns.
func (t *Type) ScanValues() []interface{} {
	values := make([]interface{}, len(t.Fields))
	for i, f := range t.Fields {
		switch f.Value.Kind {
		case typemap.ValueInteger:
			values[i] = &sql.NullInt64{}
		case typemap.ValueNumber:
			values[i] = &sql.NullFloat64{}
		case typemap.ValueBoolean:
			values[i] = &sql.NullBool{}
		case typemap.ValueTimestamp:
			values[i] = &sql.NullTime{}
		case typemap.ValueList, typemap.ValueObject:
			values[i] = &[]byte{}
		default:
			values[i] = &sql.NullString{}
		}
	}
	return values
}

// Object turns scanned values into the stored record. Null columns
// become JSON null, json columns are unmarshalled.
func (t *Type) Object(values []interface{}) (*Object, error) {
	if len(values) != len(t.Fields) {
		return nil, fmt.Errorf("expected %d values, got %d", len(t.Fields), len(values))
	}
	object := &Object{
		names:  make([]string, len(t.Fields)),
		values: make([]interface{}, len(t.Fields)),
	}
	for i, f := range t.Fields {
		object.names[i] = f.Name
		switch v := values[i].(type) {
		case *sql.NullInt64:
			if v.Valid {
				object.values[i] = v.Int64
			}
		case *sql.NullFloat64:
			if v.Valid {
				object.values[i] = v.Float64
			}
		case *sql.NullBool:
			if v.Valid {
				object.values[i] = v.Bool
			}
		case *sql.NullTime:
			if v.Valid {
				object.values[i] = v.Time
			}
		case *sql.NullString:
			if v.Valid {
				object.values[i] = v.String
			}
		case *[]byte:
			if len(*v) > 0 {
				var value interface{}
				if err := json.Unmarshal(*v, &value); err != nil {
					return nil, fmt.Errorf("stored %s is not valid json: %w", f.Name, err)
				}
				object.values[i] = value
			}
		default:
			return nil, fmt.Errorf("unsupported scan value for %s", f.Name)
		}
	}
	return object, nil
}

// Object is one stored record. It marshals as a JSON object with the
// property order of the schema.
type Object struct {
	names  []string
	values []interface{}
}

// Value returns the value of the named property, or nil.
func (o *Object) Value(name string) interface{} {
	for i, n := range o.names {
		if n == name {
			return o.values[i]
		}
	}
	return nil
}

// MarshalJSON renders the object with its properties in declaration
// order.
func (o *Object) MarshalJSON() ([]byte, error) {
	var buffer bytes.Buffer
	buffer.WriteByte('{')
	for i, name := range o.names {
		if i > 0 {
			buffer.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buffer.Write(key)
		buffer.WriteByte(':')
		value, err := json.MarshalWithOption(o.values[i], json.DisableHTMLEscape())
		if err != nil {
			return nil, err
		}
		buffer.Write(value)
	}
	buffer.WriteByte('}')
	return buffer.Bytes(), nil
}
