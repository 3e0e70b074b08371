/*
Package schema parses the JSON schemas which declare generated resources.

A resource schema is a JSON object in the style of JSON schema draft 7,
with a "properties" object and an optional "required" list. The parser
preserves the declaration order of properties, since the generated
database columns and the generated JSON objects keep that order.
*/
package schema

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/goccy/go-json"
)

// FieldSpec describes a single property of a resource schema.
type FieldSpec struct {
	Type        string      `json:"type,omitempty"`
	Format      string      `json:"format,omitempty"`
	Description string      `json:"description,omitempty"`
	Default     interface{} `json:"default,omitempty"`
	MaxLength   int         `json:"maxLength,omitempty"`
	Items       *FieldSpec  `json:"items,omitempty"`
}

// HasDefault returns true if the property declares a default value.
// A JSON null default counts as no default.
func (f FieldSpec) HasDefault() bool {
	return f.Default != nil
}

// Document is a parsed resource schema.
type Document struct {
	Schema     string               `json:"$schema,omitempty"`
	Title      string               `json:"title,omitempty"`
	Type       string               `json:"type,omitempty"`
	Required   []string             `json:"required,omitempty"`
	Properties map[string]FieldSpec `json:"properties"`

	// PropertyOrder lists the property names in order of declaration
	PropertyOrder []string `json:"-"`

	hasProperties bool
}

// Parse parses data as a resource schema document.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// UnmarshalJSON parses a schema document. Unlike plain unmarshalling
// into a map, it preserves the declaration order of the properties.
func (d *Document) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("schema must be a JSON object")
	}
	for dec.More() {
		tok, err = dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v", tok)
		}
		switch key {
		case "$schema":
			err = dec.Decode(&d.Schema)
		case "title":
			err = dec.Decode(&d.Title)
		case "type":
			err = dec.Decode(&d.Type)
		case "required":
			err = dec.Decode(&d.Required)
		case "properties":
			err = d.decodeProperties(dec)
		default:
			var skip json.RawMessage
			err = dec.Decode(&skip)
		}
		if err != nil {
			return fmt.Errorf("cannot parse %s: %w", key, err)
		}
	}
	if _, err = dec.Token(); err != nil { // closing brace
		return err
	}
	if _, err = dec.Token(); err != io.EOF {
		return errors.New("unexpected data after schema document")
	}
	return nil
}

func (d *Document) decodeProperties(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.New("properties must be a JSON object")
	}
	d.hasProperties = true
	d.Properties = map[string]FieldSpec{}
	for dec.More() {
		tok, err = dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v", tok)
		}
		var spec FieldSpec
		if err := dec.Decode(&spec); err != nil {
			return fmt.Errorf("property %s: %w", name, err)
		}
		if _, exists := d.Properties[name]; !exists {
			d.PropertyOrder = append(d.PropertyOrder, name)
		}
		d.Properties[name] = spec
	}
	_, err = dec.Token() // closing brace
	return err
}

// HasProperties returns true if the schema declares a properties object,
// even an empty one.
func (d *Document) HasProperties() bool {
	return d.hasProperties
}

// column names are also legal postgres identifiers, maximum 63 characters
var propertyNameRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)

// Problems returns the list of structural problems which make the schema
// unusable for resource generation. An empty list means the schema is
// usable.
func (d *Document) Problems() []string {
	var problems []string
	if !d.hasProperties {
		return append(problems, "schema has no properties object")
	}
	for _, name := range d.PropertyOrder {
		if !propertyNameRegex.MatchString(name) {
			problems = append(problems, fmt.Sprintf("property name '%s' cannot be used as a database column", name))
		}
	}
	return problems
}

// Validate returns an error if the schema cannot be used for resource
// generation.
func (d *Document) Validate() error {
	problems := d.Problems()
	if len(problems) == 0 {
		return nil
	}
	return errors.New(strings.Join(problems, "; "))
}
