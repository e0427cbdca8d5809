package provisioning

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Snapshot schemas, one per resource type. Each requires the view object
// workers read when translating: user events carry the user record (profile
// is optional), group events carry the group record, membership events carry
// both ids of the edge. Extra keys pass through untouched.
const (
	userSnapshotSchema = `{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type": "object",
		"required": ["user"],
		"properties": {
			"user": {
				"type": "object",
				"required": ["id"],
				"properties": {"id": {"type": "string", "minLength": 1}}
			},
			"profile": {"type": "object"}
		}
	}`

	groupSnapshotSchema = `{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type": "object",
		"required": ["group"],
		"properties": {
			"group": {
				"type": "object",
				"required": ["id"],
				"properties": {"id": {"type": "string", "minLength": 1}}
			}
		}
	}`

	groupMemberSnapshotSchema = `{
		"$schema": "https://json-schema.org/draft/2020-12/schema",
		"type": "object",
		"required": ["groupMember"],
		"properties": {
			"groupMember": {
				"type": "object",
				"required": ["groupId", "userId"],
				"properties": {
					"groupId": {"type": "string", "minLength": 1},
					"userId": {"type": "string", "minLength": 1}
				}
			}
		}
	}`
)

// SnapshotValidator checks event snapshots against the embedded JSON Schema
// for their resource type before they are fanned out. DELETE events may omit
// the snapshot entirely (the local record is already gone); everything else
// must carry the view the workers will translate from.
type SnapshotValidator struct {
	schemas map[ResourceType]*jsonschema.Schema
}

// NewSnapshotValidator compiles the embedded snapshot schemas.
func NewSnapshotValidator() (*SnapshotValidator, error) {
	sources := map[ResourceType]string{
		ResourceUser:        userSnapshotSchema,
		ResourceGroup:       groupSnapshotSchema,
		ResourceGroupMember: groupMemberSnapshotSchema,
	}

	v := &SnapshotValidator{schemas: make(map[ResourceType]*jsonschema.Schema, len(sources))}
	for rt, src := range sources {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		schemaURL := fmt.Sprintf("https://halyard.schemas.local/provisioning/%s.schema.json", strings.ToLower(string(rt)))
		if err := c.AddResource(schemaURL, strings.NewReader(src)); err != nil {
			return nil, fmt.Errorf("failed to load snapshot schema for %s: %w", rt, err)
		}
		compiled, err := c.Compile(schemaURL)
		if err != nil {
			return nil, fmt.Errorf("failed to compile snapshot schema for %s: %w", rt, err)
		}
		v.schemas[rt] = compiled
	}
	return v, nil
}

// Validate checks the event's snapshot against the schema for its resource
// type. DELETE events with a nil snapshot pass; DELETE events that do carry
// one are still held to the schema.
func (v *SnapshotValidator) Validate(e *LocalEvent) error {
	if e.Kind == EventDelete && e.Snapshot == nil {
		return nil
	}

	schema, ok := v.schemas[e.ResourceType]
	if !ok {
		return fmt.Errorf("no snapshot schema for resource type %s", e.ResourceType)
	}
	if e.Snapshot == nil {
		return fmt.Errorf("event %s has no snapshot", e.ID)
	}

	// The validator only understands decoded JSON values; snapshots built in
	// Go code may carry typed nested maps, so round-trip through JSON first.
	raw, err := json.Marshal(e.Snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot for event %s: %w", e.ID, err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("failed to decode snapshot for event %s: %w", e.ID, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("snapshot validation failed for event %s: %w", e.ID, err)
	}
	return nil
}
