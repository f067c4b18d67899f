package table

import (
	"fmt"
	"strconv"

	"portal/internal/metadata"
)

// RepeatedGroup flattens a slice of two-field structs into a count column
// and one column pair per element: with KeyColumn "teamid" and ValueSuffix
// "p", element i is stored in teamid{i} and teamid{i}p.
type RepeatedGroup struct {
	Field       string // business field holding the slice
	CountColumn string
	KeyColumn   string
	ValueSuffix string
	KeyName     string // element field stored in KeyColumn{i}
	ValueName   string // element field stored in KeyColumn{i}+ValueSuffix
}

func (g RepeatedGroup) keyColumn(i int) string   { return g.KeyColumn + strconv.Itoa(i) }
func (g RepeatedGroup) valueColumn(i int) string { return g.keyColumn(i) + g.ValueSuffix }

// SerializeHook replaces the slice value with the flattened columns.
func (g RepeatedGroup) SerializeHook() metadata.SerializeHook {
	return func(_ any, md *metadata.EntityMetadata) error {
		raw := md.Fields[g.Field]
		delete(md.Fields, g.Field)

		normalized, err := metadata.NormalizeValue(raw, valueRules)
		if err != nil {
			return fmt.Errorf("%s: %w", g.Field, err)
		}
		var items []any
		switch v := normalized.(type) {
		case nil:
		case []any:
			items = v
		default:
			return fmt.Errorf("%s: expected a slice, got %T", g.Field, raw)
		}

		md.AppendField(g.CountColumn, strconv.Itoa(len(items)))
		for i, item := range items {
			pair, ok := item.(map[string]any)
			if !ok {
				return fmt.Errorf("%s[%d]: expected a struct, got %T", g.Field, i, item)
			}
			md.AppendField(g.keyColumn(i), stringOrEmpty(pair[g.KeyName]))
			md.AppendField(g.valueColumn(i), stringOrEmpty(pair[g.ValueName]))
		}
		return nil
	}
}

// DeserializeHook rebuilds the slice from the flattened columns, in index
// order.
func (g RepeatedGroup) DeserializeHook() metadata.DeserializeHook {
	return func(md *metadata.EntityMetadata, values map[string]any) error {
		count := 0
		if raw, ok := md.Fields[g.CountColumn]; ok && raw != nil {
			n, err := strconv.Atoi(fmt.Sprint(raw))
			if err != nil || n < 0 {
				return fmt.Errorf("%s: invalid count %v", g.CountColumn, raw)
			}
			count = n
		}
		if count > len(md.Fields) {
			return fmt.Errorf("%s: count %d exceeds the stored columns", g.CountColumn, count)
		}

		var items []any
		for i := range count {
			key, ok := md.Fields[g.keyColumn(i)]
			if !ok {
				return fmt.Errorf("%s: column %s missing", g.Field, g.keyColumn(i))
			}
			items = append(items, map[string]any{
				g.KeyName:   key,
				g.ValueName: md.Fields[g.valueColumn(i)],
			})
		}
		if items == nil {
			values[g.Field] = nil
		} else {
			values[g.Field] = items
		}
		delete(values, g.CountColumn)
		for i := range count {
			delete(values, g.keyColumn(i))
			delete(values, g.valueColumn(i))
		}
		return nil
	}
}

func stringOrEmpty(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprint(v)
}
