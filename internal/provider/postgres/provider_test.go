package postgres_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"portal/internal/config"
	"portal/internal/metadata"
	"portal/internal/provider"
	"portal/internal/provider/postgres"
	"portal/internal/store"
)

var (
	widgetType = metadata.NewEntityMetadataType("Widget")
	gadgetType = metadata.NewEntityMetadataType("Gadget")
)

type widget struct {
	ID    string `entity:"id"`
	Name  string `entity:"name"`
	Count string `entity:"count"`
}

type gadget struct {
	ID             string    `entity:"id"`
	OrganizationID string    `entity:"organizationId"`
	Nominee        string    `entity:"nominee"`
	Size           int       `entity:"size"`
	Enabled        bool      `entity:"enabled"`
	Created        time.Time `entity:"created"`
}

func widgetQueries(q metadata.FixedQuery, qc *postgres.QueryContext) (*postgres.Query, error) {
	switch q.(type) {
	case metadata.QueryAll:
		return qc.Where(nil)
	default:
		return nil, qc.Unsupported(q)
	}
}

func gadgetQueries(q metadata.FixedQuery, qc *postgres.QueryContext) (*postgres.Query, error) {
	switch query := q.(type) {
	case metadata.QueryAll:
		return qc.Where(nil)
	case metadata.QueryByOrganizationID:
		return qc.Where(map[string]any{"organizationId": query.OrganizationID})
	case metadata.QueryVoteCountsByElection:
		nominee, err := qc.Field("nominee")
		if err != nil {
			return nil, err
		}
		sql := "SELECT " + nominee + " AS nominee, COUNT(*) AS votes FROM " + qc.TableName +
			" WHERE " + qc.TypeFilter() + " GROUP BY " + nominee + " ORDER BY " + nominee
		return qc.Build(sql, true), nil
	case metadata.QueryDistinctOrganizationIDs:
		return qc.Build("SELECT * FROM no_such_table WHERE secret = "+qc.Params.Add("hunter2"), true), nil
	default:
		return nil, qc.Unsupported(q)
	}
}

func newRegistry(t *testing.T) *metadata.Registry {
	t.Helper()
	b := metadata.NewBuilder()
	require.NoError(t, b.Define(metadata.EntityDefinition{
		Type:        widgetType,
		New:         func() any { return &widget{} },
		IDFieldName: "id",
		FieldNames:  []string{"name", "count"},
		Postgres: &metadata.PostgresDefinition{
			Mapping: map[string]string{"name": "name", "count": "count"},
			Table:   "widgets",
			Queries: postgres.QueryBuilder(widgetQueries),
		},
	}))
	require.NoError(t, b.Define(metadata.EntityDefinition{
		Type:        gadgetType,
		New:         func() any { return &gadget{} },
		IDFieldName: "id",
		FieldNames:  []string{"organizationId", "nominee", "size", "enabled", "created"},
		Postgres: &metadata.PostgresDefinition{
			Mapping: map[string]string{
				"organizationId": "organizationid",
				"nominee":        "nominee",
				"size":           "size",
				"enabled":        "enabled",
				"created":        "created",
			},
			Table:   "gadgets",
			Queries: gadgetQueries,
		},
	}))
	reg, err := b.Build()
	require.NoError(t, err)
	return reg
}

func newProvider(t *testing.T) (*postgres.Provider, *store.Store) {
	t.Helper()
	ctx := context.Background()
	s, err := store.New(ctx, config.DatabaseConfig{Driver: "sqlite", Path: t.TempDir(), Name: "entities"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	p, err := postgres.New(s, newRegistry(t), postgres.Options{Logger: zerolog.Nop()})
	require.NoError(t, err)
	require.NoError(t, p.EnsureTables(ctx))
	return p, s
}

func TestWidgetScenario(t *testing.T) {
	ctx := context.Background()
	p, _ := newProvider(t)
	widgets := provider.NewCollection[widget](p, widgetType)

	in := &widget{ID: "w1", Name: "foo", Count: "3"}
	require.NoError(t, widgets.Insert(ctx, in))

	out, err := widgets.Get(ctx, "w1")
	require.NoError(t, err)
	require.Equal(t, in, out)

	err = widgets.Insert(ctx, &widget{ID: "w1", Name: "bar", Count: "4"})
	require.Error(t, err)
	require.True(t, provider.IsConflict(err), "got %v", err)
	require.True(t, errors.Is(err, store.ErrUniqueViolation))

	_, err = p.FixedQueryMetadata(ctx, widgetType, metadata.QueryByCorporateID{CorporateID: "c"})
	require.True(t, provider.IsUnsupported(err), "got %v", err)
}

func TestNumbersAndTimesStoredAsStrings(t *testing.T) {
	ctx := context.Background()
	p, s := newProvider(t)
	gadgets := provider.NewCollection[gadget](p, gadgetType)

	created := time.Date(2099, 12, 31, 23, 59, 59, 0, time.UTC)
	in := &gadget{ID: "g1", OrganizationID: "123", Size: 42, Enabled: true, Created: created}
	require.NoError(t, gadgets.Insert(ctx, in))

	rows, err := store.QueryRows(ctx, s.DB, "SELECT entitytype, metadata FROM gadgets WHERE entityid = ?1", "g1")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "Gadget", rows[0]["entitytype"])

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(rows[0]["metadata"].(string)), &doc))
	require.Equal(t, "42", doc["size"])
	require.Equal(t, "123", doc["organizationid"])
	require.Equal(t, true, doc["enabled"])
	require.Equal(t, "2099-12-31T23:59:59Z", doc["created"])
	require.NotContains(t, doc, "id")

	out, err := gadgets.Get(ctx, "g1")
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestRoundTripEdgeValues(t *testing.T) {
	ctx := context.Background()
	p, _ := newProvider(t)
	gadgets := provider.NewCollection[gadget](p, gadgetType)

	cases := []*gadget{
		{ID: "empty"},
		{ID: "past", Size: -7, Created: time.Date(1601, 1, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "future", Nominee: "ü", Size: 1 << 40, Created: time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, in := range cases {
		require.NoError(t, gadgets.Insert(ctx, in))
		out, err := gadgets.Get(ctx, in.ID)
		require.NoError(t, err)
		require.Equal(t, in, out, in.ID)
	}
}

func TestNotFoundUpdateDeleteClear(t *testing.T) {
	ctx := context.Background()
	p, _ := newProvider(t)

	_, err := p.GetMetadata(ctx, widgetType, "missing")
	require.True(t, provider.IsNotFound(err), "got %v", err)

	serialize, err := p.SerializationHelper(widgetType)
	require.NoError(t, err)
	md, err := serialize(&widget{ID: "w2", Name: "a", Count: "1"})
	require.NoError(t, err)

	err = p.UpdateMetadata(ctx, md)
	require.True(t, provider.IsNotFound(err), "got %v", err)
	require.NoError(t, p.DeleteMetadata(ctx, md))

	require.NoError(t, p.SetMetadata(ctx, md))
	md.Fields["name"] = "b"
	require.NoError(t, p.UpdateMetadata(ctx, md))

	got, err := p.GetMetadata(ctx, widgetType, "w2")
	require.NoError(t, err)
	require.Equal(t, "b", got.Fields["name"])
	require.Equal(t, []string{"name", "count"}, got.EntityFieldNames)

	require.NoError(t, p.ClearMetadataStore(ctx, widgetType))
	all, err := p.FixedQueryMetadata(ctx, widgetType, metadata.QueryAll{})
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestFixedQueries(t *testing.T) {
	ctx := context.Background()
	p, _ := newProvider(t)
	gadgets := provider.NewCollection[gadget](p, gadgetType)

	for _, g := range []*gadget{
		{ID: "a", OrganizationID: "1", Nominee: "alice"},
		{ID: "b", OrganizationID: "1", Nominee: "bob"},
		{ID: "c", OrganizationID: "2", Nominee: "alice"},
	} {
		require.NoError(t, gadgets.Insert(ctx, g))
	}

	byOrg, err := gadgets.Query(ctx, metadata.QueryByOrganizationID{OrganizationID: "1"})
	require.NoError(t, err)
	require.Len(t, byOrg, 2)
	for _, g := range byOrg {
		require.Equal(t, "1", g.OrganizationID)
	}

	counts, err := p.FixedQueryMetadata(ctx, gadgetType, metadata.QueryVoteCountsByElection{ElectionID: "e"})
	require.NoError(t, err)
	require.Len(t, counts, 2)
	require.Equal(t, "alice", counts[0].Fields["nominee"])
	require.EqualValues(t, 2, counts[0].Fields["votes"])
	require.Equal(t, "bob", counts[1].Fields["nominee"])
	require.EqualValues(t, 1, counts[1].Fields["votes"])
}

func TestQueryErrorHidesStatement(t *testing.T) {
	ctx := context.Background()
	p, _ := newProvider(t)

	_, err := p.FixedQueryMetadata(ctx, gadgetType, metadata.QueryDistinctOrganizationIDs{})
	require.Error(t, err)
	require.True(t, provider.ErrTransport.Has(err))
	require.NotContains(t, err.Error(), "no_such_table")
	require.NotContains(t, err.Error(), "hunter2")

	var qe *postgres.QueryError
	require.True(t, errors.As(err, &qe))
	require.Contains(t, qe.SQL, "no_such_table")
	require.Equal(t, []any{"hunter2"}, qe.Args)
}

func TestInvalidTableOverride(t *testing.T) {
	s := &store.Store{Dialect: store.NewDialect("postgres")}
	_, err := postgres.New(s, newRegistry(t), postgres.Options{Tables: map[string]string{"Widget": "drop table;"}})
	require.True(t, metadata.IsConfigurationError(err), "got %v", err)
}

var sampleStrings = []string{"", " ", "0", "-1", "o'brien", "ü", "日本語", "tab\tline\nbreak", `"quoted"`, `back\slash`}

func randomString(rng *rand.Rand) string {
	if rng.Intn(3) == 0 {
		return sampleStrings[rng.Intn(len(sampleStrings))]
	}
	const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789 -_.é"
	runes := []rune(alphabet)
	out := make([]rune, rng.Intn(24))
	for i := range out {
		out[i] = runes[rng.Intn(len(runes))]
	}
	return string(out)
}

func randomInt(rng *rand.Rand) int {
	switch rng.Intn(6) {
	case 0:
		return 0
	case 1:
		return math.MaxInt64
	case 2:
		return math.MinInt64
	default:
		return int(rng.Int63() - rng.Int63())
	}
}

// randomTime returns the zero time or a UTC instant between 1601 and 9999
// truncated to precision.
func randomTime(rng *rand.Rand, precision time.Duration) time.Time {
	if rng.Intn(5) == 0 {
		return time.Time{}
	}
	lo := time.Date(1601, 1, 1, 0, 0, 0, 0, time.UTC).Unix()
	hi := time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC).Unix()
	nsec := rng.Int63n(int64(time.Second))
	nsec -= nsec % int64(precision)
	return time.Unix(lo+rng.Int63n(hi-lo), nsec).UTC()
}

func TestRoundTripRandomValues(t *testing.T) {
	ctx := context.Background()
	p, _ := newProvider(t)
	gadgets := provider.NewCollection[gadget](p, gadgetType)
	rng := rand.New(rand.NewSource(1601))

	for i := range 200 {
		in := &gadget{
			ID:             fmt.Sprintf("g%03d", i),
			OrganizationID: randomString(rng),
			Nominee:        randomString(rng),
			Size:           randomInt(rng),
			Enabled:        rng.Intn(2) == 0,
			Created:        randomTime(rng, time.Nanosecond),
		}
		require.NoError(t, gadgets.Insert(ctx, in))
		out, err := gadgets.Get(ctx, in.ID)
		require.NoError(t, err)
		require.Equal(t, in, out, "%+v", in)
	}
}
