package config

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// updateSchemaDoc is the shape a RemoteConfigUpdate must satisfy before its
// signature is even checked, so a malformed update is rejected cheaply
// rather than spending an Ed25519 verification on garbage.
const updateSchemaDoc = `{
	"type": "object",
	"required": ["key", "value", "base_version", "signing"],
	"properties": {
		"key": {"type": "string", "minLength": 1},
		"base_version": {"type": "integer", "minimum": 0},
		"signing": {
			"type": "object",
			"required": ["device_id", "public_key", "timestamp", "payload_hash", "signature"],
			"properties": {
				"device_id": {"type": "string"},
				"public_key": {"type": "string"},
				"timestamp": {"type": "string"},
				"payload_hash": {"type": "string"},
				"signature": {"type": "string"}
			}
		}
	}
}`

var updateSchema *jsonschema.Schema

func init() {
	var doc any
	if err := json.Unmarshal([]byte(updateSchemaDoc), &doc); err != nil {
		panic(fmt.Sprintf("config: invalid embedded update schema: %v", err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("remote-config-update.json", doc); err != nil {
		panic(fmt.Sprintf("config: compile embedded update schema: %v", err))
	}
	schema, err := compiler.Compile("remote-config-update.json")
	if err != nil {
		panic(fmt.Sprintf("config: compile embedded update schema: %v", err))
	}
	updateSchema = schema
}

// ValidateUpdateShape pre-validates raw update bytes against the envelope
// schema before any unmarshaling into model.RemoteConfigUpdate or signature
// work is attempted.
func ValidateUpdateShape(raw []byte) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("config: update is not valid JSON: %w", err)
	}
	if err := updateSchema.Validate(doc); err != nil {
		return fmt.Errorf("config: update fails schema validation: %w", err)
	}
	return nil
}
