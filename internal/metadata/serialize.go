package metadata

import (
	"fmt"
	"slices"
	"strconv"
)

// SerializeFunc converts a business object into its canonical record.
type SerializeFunc func(obj any) (*EntityMetadata, error)

// DeserializeFunc builds a new business object from a canonical record.
type DeserializeFunc func(md *EntityMetadata) (any, error)

// ValueEncoder applies a backend's value rules to one declared field.
type ValueEncoder func(field string, v any) (any, error)

// NewSerializer builds the object→record converter for t using the field map
// registered under mappingKind. Fields mapped to HookedColumn are copied
// unencoded for hook to rewrite.
func NewSerializer(reg *Registry, t EntityMetadataType, mappingKind DefinitionKind, encode ValueEncoder, hook SerializeHook) (SerializeFunc, error) {
	idField, err := reg.IDFieldName(t)
	if err != nil {
		return nil, err
	}
	mapping, err := reg.Mapping(t, mappingKind)
	if err != nil {
		return nil, err
	}
	declared := reg.FieldNames(t)

	return func(obj any) (*EntityMetadata, error) {
		values, err := ObjectFieldValues(obj)
		if err != nil {
			return nil, fmt.Errorf("serialize %s: %w", t, err)
		}
		id, err := idString(values[idField])
		if err != nil {
			return nil, fmt.Errorf("serialize %s: id field %q: %w", t, idField, err)
		}

		md := New(t, id)
		md.EntityFieldNames = slices.Clone(declared)
		for _, name := range declared {
			v := values[name]
			if mapping[name] == HookedColumn {
				md.Fields[name] = v
				continue
			}
			encoded, err := encode(name, v)
			if err != nil {
				return nil, fmt.Errorf("serialize %s field %q: %w", t, name, err)
			}
			md.Fields[name] = encoded
		}
		if hook != nil {
			if err := hook(obj, md); err != nil {
				return nil, fmt.Errorf("serialize %s: %w", t, err)
			}
		}
		return md, nil
	}, nil
}

// NewDeserializer builds the record→object converter for t.
func NewDeserializer(reg *Registry, t EntityMetadataType, hook DeserializeHook) (DeserializeFunc, error) {
	idField, err := reg.IDFieldName(t)
	if err != nil {
		return nil, err
	}
	if _, err := reg.GetDefinition(t, KindInstantiate, true); err != nil {
		return nil, err
	}

	return func(md *EntityMetadata) (any, error) {
		if md == nil {
			return nil, fmt.Errorf("deserialize %s: nil metadata", t)
		}
		if md.EntityType != t {
			return nil, fmt.Errorf("deserialize %s: record is of type %s", t, md.EntityType)
		}
		obj, err := reg.InstantiateObject(t)
		if err != nil {
			return nil, err
		}
		values := make(map[string]any, len(md.Fields)+1)
		for k, v := range md.Fields {
			values[k] = v
		}
		values[idField] = md.EntityID
		if hook != nil {
			if err := hook(md, values); err != nil {
				return nil, fmt.Errorf("deserialize %s: %w", t, err)
			}
		}
		if err := ApplyFieldValues(values, obj); err != nil {
			return nil, fmt.Errorf("deserialize %s: %w", t, err)
		}
		return obj, nil
	}, nil
}

func idString(v any) (string, error) {
	switch id := v.(type) {
	case nil:
		return "", fmt.Errorf("missing")
	case string:
		if id == "" {
			return "", fmt.Errorf("empty")
		}
		return id, nil
	case int:
		return strconv.Itoa(id), nil
	case int64:
		return strconv.FormatInt(id, 10), nil
	default:
		return "", fmt.Errorf("unsupported id type %T", v)
	}
}
