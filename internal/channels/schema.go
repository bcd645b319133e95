package channels

import (
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// updateSchemaJSON is a loose structural description of the subset of the
// Telegram Update shape the parser cares about. It intentionally only
// requires update_id to be present and typed as a number — everything else
// is optional, since a missing message/chat/user is a legitimate (and
// separately reason-coded) skip, not a schema violation. The schema exists
// to catch update payloads that are not even update-shaped (e.g. a bare
// array, or update_id of the wrong type), which the parser maps to the
// same unsupported-update-type skip it already uses for edits/media.
const updateSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "update_id": {"type": "number"},
    "message": {"type": "object"}
  },
  "required": ["update_id"]
}`

var (
	updateSchemaOnce sync.Once
	updateSchema     *jsonschema.Schema
	updateSchemaErr  error
)

func compiledUpdateSchema() (*jsonschema.Schema, error) {
	updateSchemaOnce.Do(func() {
		c := jsonschema.NewCompiler()
		if err := c.AddResource("tg-live://update.json", strings.NewReader(updateSchemaJSON)); err != nil {
			updateSchemaErr = err
			return
		}
		updateSchema, updateSchemaErr = c.Compile("tg-live://update.json")
	})
	return updateSchema, updateSchemaErr
}

// validateUpdateShape reports whether the decoded instance (as produced by
// encoding/json into interface{}) satisfies the minimal Update shape.
// Compilation failures are treated as "shape is fine" — schema validation
// here is a defensive pre-filter, not the source of truth for parsing
// correctness, so an internal schema bug must never turn into spurious
// skips.
func validateUpdateShape(instance any) bool {
	sch, err := compiledUpdateSchema()
	if err != nil || sch == nil {
		return true
	}
	return sch.Validate(instance) == nil
}
