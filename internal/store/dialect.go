package store

import (
	"fmt"
	"regexp"
)

// DocumentColumns names the three generic columns of a document table.
type DocumentColumns struct {
	Type     string
	ID       string
	Metadata string
}

// DefaultDocumentColumns are the column names existing deployments use.
var DefaultDocumentColumns = DocumentColumns{
	Type:     "entitytype",
	ID:       "entityid",
	Metadata: "metadata",
}

// Dialect abstracts database-specific SQL generation and behavior.
type Dialect interface {
	// Name returns "postgres" or "sqlite".
	Name() string

	// DriverName returns the database/sql driver name ("pgx" or "sqlite").
	DriverName() string

	// NewParamBuilder creates a dialect-aware parameter builder.
	NewParamBuilder() ParamBuilder

	// DocumentTableSQL returns the DDL for one entity type's document table.
	DocumentTableSQL(table string, cols DocumentColumns) (string, error)

	// JSONValue wraps a placeholder so the bound JSON text is stored as a document.
	JSONValue(placeholder string) string

	// JSONField returns an expression reading key from the document column as text.
	JSONField(column, key string) (string, error)

	// JSONContains returns a predicate matching documents that contain every
	// key/value pair of doc.
	// PostgreSQL: "column @> $n::jsonb" with the document as one param.
	// SQLite: one json_extract equality per key.
	JSONContains(column string, pb ParamBuilder, doc map[string]any) (string, error)

	// MapError inspects a driver error and returns a well-known sentinel error if applicable.
	MapError(err error) error
}

// ParamBuilder accumulates query parameters and generates dialect-specific placeholders.
type ParamBuilder interface {
	// Add appends a value and returns the placeholder string.
	Add(v any) string

	// Params returns all accumulated parameter values.
	Params() []any

	// Count returns the number of parameters added so far.
	Count() int
}

// NewDialect creates a Dialect for the given driver name ("postgres" or "sqlite").
func NewDialect(driver string) Dialect {
	switch driver {
	case "sqlite":
		return &SQLiteDialect{}
	default:
		return &PostgresDialect{}
	}
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// ValidIdentifier reports whether name is safe to splice into SQL unquoted.
func ValidIdentifier(name string) bool {
	return identifierPattern.MatchString(name)
}

func checkIdentifiers(names ...string) error {
	for _, name := range names {
		if !ValidIdentifier(name) {
			return fmt.Errorf("invalid identifier: %q", name)
		}
	}
	return nil
}

// --- PostgreSQL ParamBuilder ---

type pgParamBuilder struct {
	params []any
	n      int
}

func (p *pgParamBuilder) Add(v any) string {
	p.n++
	p.params = append(p.params, v)
	return fmt.Sprintf("$%d", p.n)
}

func (p *pgParamBuilder) Params() []any { return p.params }
func (p *pgParamBuilder) Count() int    { return p.n }

// --- SQLite ParamBuilder ---

type sqliteParamBuilder struct {
	params []any
	n      int
}

func (p *sqliteParamBuilder) Add(v any) string {
	p.n++
	p.params = append(p.params, v)
	return fmt.Sprintf("?%d", p.n)
}

func (p *sqliteParamBuilder) Params() []any { return p.params }
func (p *sqliteParamBuilder) Count() int    { return p.n }
