package streams

// Definition pairs an event type/version with its payload schema.
type Definition struct {
	EventType string
	Version   string
	Schema    []byte
}

var definitions = []Definition{
	{
		EventType: EventPageChanged,
		Version:   PageChangedVersion,
		Schema: []byte(`{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["project_id", "path", "change"],
  "properties": {
    "project_id": {"type": "string", "minLength": 1},
    "path": {"type": "string", "pattern": "^/"},
    "change": {"type": "string", "enum": ["created", "updated", "deleted", "moved", "copied", "imported"]},
    "previous_path": {"type": "string", "pattern": "^/"},
    "actor": {"type": "string"}
  },
  "additionalProperties": false
}`),
	},
}

// Definitions returns a copy of the built-in event schemas.
func Definitions() []Definition {
	out := make([]Definition, len(definitions))
	copy(out, definitions)
	return out
}

// RegisterDefaults installs every built-in schema into registry.
func RegisterDefaults(registry *SchemaRegistry) error {
	for _, def := range definitions {
		if err := registry.Register(def.EventType, def.Version, def.Schema); err != nil {
			return err
		}
	}
	return nil
}
