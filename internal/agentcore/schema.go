package agentcore

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// schemaCache avoids recompiling the same tool schema on every SpecFor
// call; tool schemas are static per process, so the cache never evicts.
var schemaCache sync.Map

// ValidateToolSchema compiles raw as a JSON Schema document, the same
// compile-as-validation idiom used elsewhere in this tree for validating
// schema documents rather than data against them. A tool's parameters
// schema never changes at runtime, so a successful compile here is
// sufficient; there is no instance data to validate against it yet.
func ValidateToolSchema(toolName string, raw json.RawMessage) error {
	key := toolName + ":" + string(raw)
	if _, ok := schemaCache.Load(key); ok {
		return nil
	}
	if _, err := jsonschema.CompileString(toolName+".schema.json", string(raw)); err != nil {
		return fmt.Errorf("invalid tool schema: %w", err)
	}
	schemaCache.Store(key, struct{}{})
	return nil
}
