package memory

import (
	"fmt"
	"sort"
	"strings"

	"portal/internal/metadata"
	"portal/internal/provider"
)

// QueryBuilder turns a fixed query into a filter expression.
type QueryBuilder func(q metadata.FixedQuery, qc *QueryContext) (*Query, error)

// Query selects rows with an expr-lang boolean expression. The expression
// sees the stored row as row (keyed by column), the id as id, and each
// entry of Params by name. An empty Filter matches every row.
type Query struct {
	Filter string
	Params map[string]any
	Reduce func(rows []*metadata.EntityMetadata) []*metadata.EntityMetadata
}

// QueryContext describes a type's columns.
type QueryContext struct {
	Type     metadata.EntityMetadataType
	FieldMap map[string]string
}

// Key returns the column a business field is stored under.
func (qc *QueryContext) Key(field string) (string, error) {
	col, ok := qc.FieldMap[field]
	if !ok || col == "" || col == metadata.HookedColumn {
		return "", metadata.ErrConfiguration.New("%s has no memory column for field %q", qc.Type, field)
	}
	return col, nil
}

// Where matches rows whose fields equal the given values.
func (qc *QueryContext) Where(fields map[string]any) (*Query, error) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	q := &Query{Params: make(map[string]any, len(fields))}
	clauses := make([]string, 0, len(names))
	for i, name := range names {
		col, err := qc.Key(name)
		if err != nil {
			return nil, err
		}
		v, err := metadata.NormalizeValue(fields[name], valueRules)
		if err != nil {
			return nil, fmt.Errorf("filter %s: %w", name, err)
		}
		param := fmt.Sprintf("p%d", i)
		q.Params[param] = v
		clauses = append(clauses, fmt.Sprintf("row[%q] == %s", col, param))
	}
	q.Filter = strings.Join(clauses, " && ")
	return q, nil
}

// Unsupported is the error for a discriminator the builder has no case for.
func (qc *QueryContext) Unsupported(q metadata.FixedQuery) error {
	return provider.Unsupported(Name, qc.Type, q)
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
