package metadata

import (
	"maps"
	"slices"
	"time"
)

// EntityMetadataType identifies a kind of business entity. Two values are
// equal only when they were created with the same name.
type EntityMetadataType struct {
	name string
}

// NewEntityMetadataType returns the type token for name.
func NewEntityMetadataType(name string) EntityMetadataType {
	return EntityMetadataType{name: name}
}

func (t EntityMetadataType) String() string { return t.name }

// IsZero reports whether t was never initialized through NewEntityMetadataType.
func (t EntityMetadataType) IsZero() bool { return t.name == "" }

// EntityMetadata is the canonical record every provider converts to and from.
// Fields is keyed by business field name, never by backend column.
type EntityMetadata struct {
	EntityType       EntityMetadataType
	EntityID         string
	EntityFieldNames []string
	EntityCreated    *time.Time
	Fields           map[string]any
}

// New returns an empty record for t/id.
func New(t EntityMetadataType, id string) *EntityMetadata {
	return &EntityMetadata{
		EntityType: t,
		EntityID:   id,
		Fields:     make(map[string]any),
	}
}

// HasField reports whether name is listed in EntityFieldNames.
func (m *EntityMetadata) HasField(name string) bool {
	return slices.Contains(m.EntityFieldNames, name)
}

// AppendField sets a computed value and records its name once.
func (m *EntityMetadata) AppendField(name string, value any) {
	if m.Fields == nil {
		m.Fields = make(map[string]any)
	}
	m.Fields[name] = value
	if !m.HasField(name) {
		m.EntityFieldNames = append(m.EntityFieldNames, name)
	}
}

// RemoveField drops name from both the values and the field list.
func (m *EntityMetadata) RemoveField(name string) {
	delete(m.Fields, name)
	m.EntityFieldNames = slices.DeleteFunc(m.EntityFieldNames, func(n string) bool { return n == name })
}

// Clone returns a deep copy of m. Nested []any and map[string]any values are
// copied; other values are shared.
func (m *EntityMetadata) Clone() *EntityMetadata {
	if m == nil {
		return nil
	}
	c := &EntityMetadata{
		EntityType:       m.EntityType,
		EntityID:         m.EntityID,
		EntityFieldNames: slices.Clone(m.EntityFieldNames),
		Fields:           make(map[string]any, len(m.Fields)),
	}
	if m.EntityCreated != nil {
		created := *m.EntityCreated
		c.EntityCreated = &created
	}
	for k, v := range m.Fields {
		c.Fields[k] = cloneValue(v)
	}
	return c
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := maps.Clone(val)
		for k, inner := range out {
			out[k] = cloneValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = cloneValue(inner)
		}
		return out
	case []byte:
		return slices.Clone(val)
	case []string:
		return slices.Clone(val)
	default:
		return v
	}
}
