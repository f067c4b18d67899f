package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"portal/internal/config"
	"portal/internal/store"
)

func newSQLite(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(context.Background(), config.DatabaseConfig{Driver: "sqlite", Path: t.TempDir(), Name: "store"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestDocumentTableRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newSQLite(t)
	conn, err := s.Conn(ctx)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, s.EnsureDocumentTable(ctx, conn, "docs", store.DefaultDocumentColumns))
	// idempotent
	require.NoError(t, s.EnsureDocumentTable(ctx, conn, "docs", store.DefaultDocumentColumns))

	pb := s.Dialect.NewParamBuilder()
	insert := "INSERT INTO docs (entitytype, entityid, metadata) VALUES (" +
		pb.Add("Note") + ", " + pb.Add("n1") + ", " + s.Dialect.JSONValue(pb.Add(`{"title":"hi","pinned":true}`)) + ")"
	n, err := store.Exec(ctx, conn, insert, pb.Params()...)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	_, err = store.Exec(ctx, conn, insert, pb.Params()...)
	require.True(t, errors.Is(store.MapError(s.Dialect, err), store.ErrUniqueViolation))

	pb = s.Dialect.NewParamBuilder()
	pred, err := s.Dialect.JSONContains("metadata", pb, map[string]any{"title": "hi", "pinned": true})
	require.NoError(t, err)
	title, err := s.Dialect.JSONField("metadata", "title")
	require.NoError(t, err)
	rows, err := store.QueryRows(ctx, conn, "SELECT entityid, "+title+" AS title FROM docs WHERE "+pred, pb.Params()...)
	require.NoError(t, err)
	require.Equal(t, []map[string]any{{"entityid": "n1", "title": "hi"}}, rows)
}

func TestIdentifiers(t *testing.T) {
	require.True(t, store.ValidIdentifier("repository_metadata"))
	require.False(t, store.ValidIdentifier("1table"))
	require.False(t, store.ValidIdentifier("docs; DROP TABLE x"))
	require.False(t, store.ValidIdentifier(""))

	for _, d := range []store.Dialect{&store.PostgresDialect{}, &store.SQLiteDialect{}} {
		_, err := d.DocumentTableSQL("bad-name", store.DefaultDocumentColumns)
		require.Error(t, err, d.Name())
		_, err = d.JSONField("metadata", "x'y")
		require.Error(t, err, d.Name())
	}
}

func TestPostgresDialect(t *testing.T) {
	d := store.NewDialect("postgres")
	require.Equal(t, "pgx", d.DriverName())

	pb := d.NewParamBuilder()
	pred, err := d.JSONContains("metadata", pb, map[string]any{"organizationid": "42"})
	require.NoError(t, err)
	require.Equal(t, "metadata @> $1::jsonb", pred)
	require.Equal(t, []any{`{"organizationid":"42"}`}, pb.Params())

	field, err := d.JSONField("metadata", "nominee")
	require.NoError(t, err)
	require.Equal(t, "metadata->>'nominee'", field)

	pgErr := &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"}
	mapped := d.MapError(pgErr)
	require.True(t, errors.Is(mapped, store.ErrUniqueViolation))
	var native *pgconn.PgError
	require.True(t, errors.As(mapped, &native))

	other := errors.New("connection reset")
	require.Equal(t, other, d.MapError(other))
	require.NoError(t, store.MapError(d, nil))
}

func TestSQLiteContainsRejectsNested(t *testing.T) {
	d := store.NewDialect("sqlite")
	_, err := d.JSONContains("metadata", d.NewParamBuilder(), map[string]any{"tags": []any{"a"}})
	require.Error(t, err)

	pred, err := d.JSONContains("metadata", d.NewParamBuilder(), nil)
	require.NoError(t, err)
	require.Equal(t, "1 = 1", pred)
}
