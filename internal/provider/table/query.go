package table

import (
	"fmt"
	"sort"
	"strings"

	"portal/internal/metadata"
	"portal/internal/provider"
)

// QueryBuilder turns a fixed query into an OData filter over one type's
// partition.
type QueryBuilder func(q metadata.FixedQuery, qc *QueryContext) (*Query, error)

// Query is the native form of a fixed query.
type Query struct {
	Filter string
	// Reduce post-processes the fetched rows, for aggregates the service
	// cannot compute.
	Reduce func(rows []*metadata.EntityMetadata) []*metadata.EntityMetadata
}

// QueryContext describes where a type's rows live.
type QueryContext struct {
	Type         metadata.EntityMetadataType
	FieldMap     map[string]string
	PartitionKey string
	RowKeyPrefix string
}

// Column returns the property a business field is stored in.
func (qc *QueryContext) Column(field string) (string, error) {
	col, ok := qc.FieldMap[field]
	if !ok || col == "" || col == metadata.HookedColumn {
		return "", metadata.ErrConfiguration.New("%s has no table column for field %q", qc.Type, field)
	}
	return col, nil
}

// PartitionFilter restricts a query to the type's partition.
func (qc *QueryContext) PartitionFilter() string {
	return "PartitionKey eq " + quote(qc.PartitionKey)
}

// Where filters the type's partition on equality of business fields.
func (qc *QueryContext) Where(fields map[string]any) (*Query, error) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	clauses := []string{qc.PartitionFilter()}
	for _, name := range names {
		col, err := qc.Column(name)
		if err != nil {
			return nil, err
		}
		lit, err := literal(fields[name])
		if err != nil {
			return nil, fmt.Errorf("filter %s: %w", name, err)
		}
		clauses = append(clauses, col+" eq "+lit)
	}
	return &Query{Filter: strings.Join(clauses, " and ")}, nil
}

// Unsupported is the error for a discriminator the builder has no case for.
func (qc *QueryContext) Unsupported(q metadata.FixedQuery) error {
	return provider.Unsupported(Name, qc.Type, q)
}

func literal(v any) (string, error) {
	encoded, err := encodeValue("", v)
	if err != nil {
		return "", err
	}
	switch val := encoded.(type) {
	case string:
		return quote(val), nil
	case bool:
		if val {
			return "true", nil
		}
		return "false", nil
	default:
		return "", fmt.Errorf("cannot filter on %T", v)
	}
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func asQueryBuilder(v any) (QueryBuilder, bool) {
	switch b := v.(type) {
	case QueryBuilder:
		return b, true
	case func(metadata.FixedQuery, *QueryContext) (*Query, error):
		return b, true
	}
	return nil, false
}
