package table

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"portal/internal/metadata"
)

// Numbers are stored as strings, like the document backend.
var valueRules = metadata.ValueRules{NumbersAsStrings: true}

// encodeValue converts a business value to one of the property types the
// backend stores: string, bool, time.Time or []byte.
func encodeValue(field string, v any) (any, error) {
	normalized, err := metadata.NormalizeValue(v, valueRules)
	if err != nil {
		return nil, err
	}
	switch normalized.(type) {
	case nil, string, bool, time.Time, []byte:
		return normalized, nil
	default:
		return nil, fmt.Errorf("field %q: %T cannot be stored as a table property", field, v)
	}
}

// marshalEntity renders properties with their EDM type annotations.
func marshalEntity(partitionKey, rowKey string, props map[string]any) ([]byte, error) {
	entity := aztables.EDMEntity{
		Entity:     aztables.Entity{PartitionKey: partitionKey, RowKey: rowKey},
		Properties: make(map[string]any, len(props)),
	}
	for name, v := range props {
		switch val := v.(type) {
		case nil:
		case string, bool:
			entity.Properties[name] = val
		case time.Time:
			entity.Properties[name] = aztables.EDMDateTime(val.UTC())
		case []byte:
			entity.Properties[name] = aztables.EDMBinary(val)
		default:
			return nil, fmt.Errorf("property %q: unsupported type %T", name, v)
		}
	}
	return json.Marshal(entity)
}

// unmarshalEntity parses a stored entity into plain Go values. Numbers come
// back as strings.
func unmarshalEntity(raw []byte) (partitionKey, rowKey string, props map[string]any, err error) {
	var entity aztables.EDMEntity
	if err := json.Unmarshal(raw, &entity); err != nil {
		return "", "", nil, fmt.Errorf("decode entity: %w", err)
	}
	props = make(map[string]any, len(entity.Properties))
	for name, v := range entity.Properties {
		decoded, err := decodeProperty(v)
		if err != nil {
			return "", "", nil, fmt.Errorf("property %q: %w", name, err)
		}
		props[name] = decoded
	}
	return entity.PartitionKey, entity.RowKey, props, nil
}

func decodeProperty(v any) (any, error) {
	switch val := v.(type) {
	case nil, string, bool:
		return val, nil
	case aztables.EDMDateTime:
		return time.Time(val).UTC(), nil
	case aztables.EDMBinary:
		return []byte(val), nil
	case aztables.EDMGUID:
		return string(val), nil
	case aztables.EDMInt64:
		return strconv.FormatInt(int64(val), 10), nil
	case int32:
		return strconv.FormatInt(int64(val), 10), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case json.Number:
		return val.String(), nil
	default:
		return nil, fmt.Errorf("unsupported stored type %T", v)
	}
}
