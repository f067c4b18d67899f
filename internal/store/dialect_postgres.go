package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// PostgresDialect implements Dialect for PostgreSQL via pgx/stdlib.
type PostgresDialect struct{}

func (d *PostgresDialect) Name() string       { return "postgres" }
func (d *PostgresDialect) DriverName() string { return "pgx" }

func (d *PostgresDialect) NewParamBuilder() ParamBuilder {
	return &pgParamBuilder{}
}

func (d *PostgresDialect) DocumentTableSQL(table string, cols DocumentColumns) (string, error) {
	if err := checkIdentifiers(table, cols.Type, cols.ID, cols.Metadata); err != nil {
		return "", err
	}
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
    %[2]s TEXT NOT NULL,
    %[3]s TEXT NOT NULL,
    %[4]s JSONB NOT NULL,
    PRIMARY KEY (%[2]s, %[3]s)
);
CREATE INDEX IF NOT EXISTS idx_%[1]s_%[4]s ON %[1]s USING GIN (%[4]s jsonb_path_ops);`,
		table, cols.Type, cols.ID, cols.Metadata), nil
}

func (d *PostgresDialect) JSONValue(placeholder string) string {
	return placeholder + "::jsonb"
}

func (d *PostgresDialect) JSONField(column, key string) (string, error) {
	if err := checkIdentifiers(column, key); err != nil {
		return "", err
	}
	return fmt.Sprintf("%s->>'%s'", column, key), nil
}

func (d *PostgresDialect) JSONContains(column string, pb ParamBuilder, doc map[string]any) (string, error) {
	if err := checkIdentifiers(column); err != nil {
		return "", err
	}
	encoded, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encode containment document: %w", err)
	}
	return fmt.Sprintf("%s @> %s::jsonb", column, pb.Add(string(encoded))), nil
}

func (d *PostgresDialect) MapError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	}
	// With pgx/stdlib some paths only surface the PG code in the message
	errStr := err.Error()
	if strings.Contains(errStr, "23505") || strings.Contains(errStr, "duplicate key") {
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	}
	return err
}

// Compile-time check
var _ Dialect = (*PostgresDialect)(nil)
