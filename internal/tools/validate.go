package tools

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// ErrInvalidArguments is wrapped by every validation failure.
var ErrInvalidArguments = errors.New("invalid arguments")

// ValidateArguments checks arguments against the descriptor's JSON schema
// (draft-07 or 2020-12). An empty schema accepts anything.
func ValidateArguments(d Descriptor, arguments map[string]any) error {
	if len(d.Schema) == 0 {
		return nil
	}
	resolved, err := resolveSchema(d.Schema)
	if err != nil {
		return fmt.Errorf("%w for %q: schema: %v", ErrInvalidArguments, d.Name, err)
	}
	instance, err := jsonValue(arguments)
	if err != nil {
		return fmt.Errorf("%w for %q: %v", ErrInvalidArguments, d.Name, err)
	}
	if err := resolved.Validate(instance); err != nil {
		return fmt.Errorf("%w for %q: %v", ErrInvalidArguments, d.Name, err)
	}
	return nil
}

func resolveSchema(raw map[string]any) (*jsonschema.Resolved, error) {
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(encoded, &schema); err != nil {
		return nil, err
	}
	switch schema.Schema {
	case "", "http://json-schema.org/draft-07/schema#", "https://json-schema.org/draft-07/schema#",
		"https://json-schema.org/draft/2020-12/schema":
	default:
		// Other drafts share the keywords tool servers use; check as 2020-12.
		schema.Schema = ""
	}
	return schema.Resolve(nil)
}

// jsonValue round-trips arguments so Go numbers arrive as float64 and a
// nil map as an empty object, the shapes a decoded tool call has.
func jsonValue(arguments map[string]any) (map[string]any, error) {
	if arguments == nil {
		return map[string]any{}, nil
	}
	encoded, err := json.Marshal(arguments)
	if err != nil {
		return nil, fmt.Errorf("arguments are not JSON: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(encoded, &out); err != nil {
		return nil, err
	}
	return out, nil
}
