package postgres

import (
	"fmt"
	"sort"

	"portal/internal/metadata"
	"portal/internal/provider"
	"portal/internal/store"
)

// QueryBuilder turns a fixed query into SQL against one type's document table.
// Builders return provider.Unsupported (see QueryContext.Unsupported) for
// discriminators they do not handle.
type QueryBuilder func(q metadata.FixedQuery, qc *QueryContext) (*Query, error)

// Query is the native form of a fixed query.
type Query struct {
	SQL    string
	Values []any
	// SkipEntityMapping returns rows as-is (aggregates, distinct lists)
	// instead of converting the generic columns into entity metadata.
	SkipEntityMapping bool
}

// QueryContext is everything a builder needs to address a type's table.
type QueryContext struct {
	Type           metadata.EntityMetadataType
	FieldMap       map[string]string
	TableName      string
	TypeColumn     string
	IDColumn       string
	MetadataColumn string
	Dialect        store.Dialect
	Params         store.ParamBuilder
	// TypeValue resolves the discriminator stored in TypeColumn.
	TypeValue func() string
}

// Key returns the document key a business field is stored under.
func (qc *QueryContext) Key(field string) (string, error) {
	key, ok := qc.FieldMap[field]
	if !ok || key == "" || key == metadata.HookedColumn {
		return "", metadata.ErrConfiguration.New("%s has no postgres column for field %q", qc.Type, field)
	}
	return key, nil
}

// Field returns a text expression reading a business field from the document.
func (qc *QueryContext) Field(field string) (string, error) {
	key, err := qc.Key(field)
	if err != nil {
		return "", err
	}
	return qc.Dialect.JSONField(qc.MetadataColumn, key)
}

// SelectEntities returns the SELECT of the three generic columns.
func (qc *QueryContext) SelectEntities() string {
	return fmt.Sprintf("SELECT %s, %s, %s FROM %s", qc.TypeColumn, qc.IDColumn, qc.MetadataColumn, qc.TableName)
}

// TypeFilter returns the predicate restricting rows to the queried type.
func (qc *QueryContext) TypeFilter() string {
	return fmt.Sprintf("%s = %s", qc.TypeColumn, qc.Params.Add(qc.TypeValue()))
}

// Contains returns a containment predicate over business field values.
// Values are normalized the same way the serializer stores them, so numeric
// filters match their string form.
func (qc *QueryContext) Contains(fields map[string]any) (string, error) {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	doc := make(map[string]any, len(fields))
	for _, name := range names {
		key, err := qc.Key(name)
		if err != nil {
			return "", err
		}
		v, err := metadata.NormalizeValue(fields[name], valueRules)
		if err != nil {
			return "", fmt.Errorf("filter %s: %w", name, err)
		}
		doc[key] = v
	}
	return qc.Dialect.JSONContains(qc.MetadataColumn, qc.Params, doc)
}

// Where selects entities of the type whose document contains fields.
func (qc *QueryContext) Where(fields map[string]any) (*Query, error) {
	typeFilter := qc.TypeFilter()
	if len(fields) == 0 {
		return qc.Build(fmt.Sprintf("%s WHERE %s", qc.SelectEntities(), typeFilter), false), nil
	}
	contains, err := qc.Contains(fields)
	if err != nil {
		return nil, err
	}
	return qc.Build(fmt.Sprintf("%s WHERE %s AND %s", qc.SelectEntities(), typeFilter, contains), false), nil
}

// Build binds the accumulated parameters to sql.
func (qc *QueryContext) Build(sql string, skipEntityMapping bool) *Query {
	return &Query{SQL: sql, Values: qc.Params.Params(), SkipEntityMapping: skipEntityMapping}
}

// Unsupported is the error for a discriminator the builder has no case for.
func (qc *QueryContext) Unsupported(q metadata.FixedQuery) error {
	return provider.Unsupported(Name, qc.Type, q)
}

// QueryError hides the statement and its arguments from the error text. They
// stay available to loggers through the fields.
type QueryError struct {
	Op   string
	Type metadata.EntityMetadataType
	SQL  string
	Args []any
	Err  error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("postgres %s for %s failed", e.Op, e.Type)
}

func (e *QueryError) Unwrap() error { return e.Err }

func asQueryBuilder(v any) (QueryBuilder, bool) {
	switch b := v.(type) {
	case QueryBuilder:
		return b, true
	case func(metadata.FixedQuery, *QueryContext) (*Query, error):
		return b, true
	}
	return nil, false
}
