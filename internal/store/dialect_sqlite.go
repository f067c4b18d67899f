package store

import (
	"fmt"
	"sort"
	"strings"
)

// SQLiteDialect implements Dialect for SQLite via modernc.org/sqlite.
type SQLiteDialect struct{}

func (d *SQLiteDialect) Name() string       { return "sqlite" }
func (d *SQLiteDialect) DriverName() string { return "sqlite" }

func (d *SQLiteDialect) NewParamBuilder() ParamBuilder {
	return &sqliteParamBuilder{}
}

func (d *SQLiteDialect) DocumentTableSQL(table string, cols DocumentColumns) (string, error) {
	if err := checkIdentifiers(table, cols.Type, cols.ID, cols.Metadata); err != nil {
		return "", err
	}
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
    %[2]s TEXT NOT NULL,
    %[3]s TEXT NOT NULL,
    %[4]s TEXT NOT NULL,
    PRIMARY KEY (%[2]s, %[3]s)
)`, table, cols.Type, cols.ID, cols.Metadata), nil
}

func (d *SQLiteDialect) JSONValue(placeholder string) string {
	return "json(" + placeholder + ")"
}

func (d *SQLiteDialect) JSONField(column, key string) (string, error) {
	if err := checkIdentifiers(column, key); err != nil {
		return "", err
	}
	return fmt.Sprintf("json_extract(%s, '$.%s')", column, key), nil
}

func (d *SQLiteDialect) JSONContains(column string, pb ParamBuilder, doc map[string]any) (string, error) {
	if len(doc) == 0 {
		return "1 = 1", nil
	}
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	preds := make([]string, 0, len(keys))
	for _, k := range keys {
		field, err := d.JSONField(column, k)
		if err != nil {
			return "", err
		}
		v := doc[k]
		switch val := v.(type) {
		case string, int, int64, float64:
		case bool:
			// json_extract yields 1/0 for JSON booleans
			if val {
				v = 1
			} else {
				v = 0
			}
		default:
			return "", fmt.Errorf("sqlite containment on %q: unsupported value %T", k, v)
		}
		preds = append(preds, fmt.Sprintf("%s = %s", field, pb.Add(v)))
	}
	return strings.Join(preds, " AND "), nil
}

func (d *SQLiteDialect) MapError(err error) error {
	if err == nil {
		return nil
	}
	errStr := err.Error()
	if strings.Contains(errStr, "UNIQUE constraint failed") || strings.Contains(errStr, "constraint failed: UNIQUE") {
		return fmt.Errorf("%w: %w", ErrUniqueViolation, err)
	}
	return err
}

var _ Dialect = (*SQLiteDialect)(nil)
