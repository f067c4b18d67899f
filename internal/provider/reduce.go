package provider

import (
	"fmt"
	"sort"

	"portal/internal/metadata"
)

// Distinct collapses rows to one row per distinct value of field. The value
// is returned under as. Rows without the field are skipped.
func Distinct(t metadata.EntityMetadataType, rows []*metadata.EntityMetadata, field, as string) []*metadata.EntityMetadata {
	seen := make(map[string]bool)
	var values []string
	for _, row := range rows {
		v, ok := row.Fields[field]
		if !ok || v == nil {
			continue
		}
		s := fmt.Sprint(v)
		if !seen[s] {
			seen[s] = true
			values = append(values, s)
		}
	}
	sort.Strings(values)

	out := make([]*metadata.EntityMetadata, 0, len(values))
	for _, v := range values {
		md := metadata.New(t, "")
		md.AppendField(as, v)
		out = append(out, md)
	}
	return out
}

// CountBy groups rows by field and returns one row per group with the group
// value under keyName and the int64 row count under countName, ordered by
// group value.
func CountBy(t metadata.EntityMetadataType, rows []*metadata.EntityMetadata, field, keyName, countName string) []*metadata.EntityMetadata {
	counts := make(map[string]int64)
	for _, row := range rows {
		v, ok := row.Fields[field]
		if !ok || v == nil {
			continue
		}
		counts[fmt.Sprint(v)]++
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]*metadata.EntityMetadata, 0, len(keys))
	for _, k := range keys {
		md := metadata.New(t, "")
		md.AppendField(keyName, k)
		md.AppendField(countName, counts[k])
		out = append(out, md)
	}
	return out
}
