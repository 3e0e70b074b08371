package schema

import (
	"github.com/xeipuuv/gojsonschema"
)

// Check validates data against the JSON schema draft 7 meta schema and
// reports all findings. An empty list means data is a well-formed schema
// document.
//
// Check only looks at the document itself. Whether the schema can be
// used for resource generation is decided by Problems.
func Check(data []byte) []string {
	sl := gojsonschema.NewSchemaLoader()
	sl.Draft = gojsonschema.Draft7
	sl.AutoDetect = true
	sl.Validate = true
	if _, err := sl.Compile(gojsonschema.NewBytesLoader(data)); err != nil {
		return []string{err.Error()}
	}
	return nil
}
