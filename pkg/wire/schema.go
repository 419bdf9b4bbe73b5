package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Schemas is a registry of compiled JSON Schemas keyed by action type. It
// turns the untyped "data" field of an action into a tagged union
// discriminated by actionType. Action types with no registered schema pass
// unchecked.
type Schemas struct {
	mu      sync.RWMutex
	actions map[string]*jsonschema.Schema
}

func NewSchemas() *Schemas {
	return &Schemas{actions: make(map[string]*jsonschema.Schema)}
}

// RegisterAction compiles schema (a Draft 2020-12 document) and binds it to
// actionType, replacing any previous one. An empty schema removes the binding.
func (s *Schemas) RegisterAction(actionType string, schema string) error {
	if schema == "" {
		s.mu.Lock()
		delete(s.actions, actionType)
		s.mu.Unlock()
		return nil
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	schemaURL := fmt.Sprintf("https://anemo.schemas.local/actions/%s.schema.json", actionType)
	if err := c.AddResource(schemaURL, strings.NewReader(schema)); err != nil {
		return fmt.Errorf("failed to load %s schema: %w", actionType, err)
	}
	compiled, err := c.Compile(schemaURL)
	if err != nil {
		return fmt.Errorf("failed to compile %s schema: %w", actionType, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.actions[actionType] = compiled
	return nil
}

// ValidateAction checks payload, as it would be sent on the wire, against
// the schema registered for actionType.
func (s *Schemas) ValidateAction(actionType string, payload any) error {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	schema, ok := s.actions[actionType]
	s.mu.RUnlock()
	if !ok {
		return nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s payload: %w", actionType, err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", actionType, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("invalid %s payload: %w", actionType, err)
	}
	return nil
}

// Decode unmarshals an action payload into T. Servers use it to read the typed
// variant once the action type has been matched.
func Decode[T any](raw json.RawMessage) (T, error) {
	var v T
	if len(raw) == 0 || string(raw) == "null" {
		return v, nil
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, fmt.Errorf("failed to decode payload: %w", err)
	}
	return v, nil
}
