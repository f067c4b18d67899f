package memory_test

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"portal/internal/metadata"
	"portal/internal/provider"
	"portal/internal/provider/memory"
)

var voteType = metadata.NewEntityMetadataType("Vote")

type vote struct {
	ID       string    `entity:"id"`
	Election string    `entity:"electionId"`
	Nominee  string    `entity:"nominee"`
	Weight   int       `entity:"weight"`
	Tags     []string  `entity:"tags"`
	Cast     time.Time `entity:"cast"`
}

func voteQueries(q metadata.FixedQuery, qc *memory.QueryContext) (*memory.Query, error) {
	switch query := q.(type) {
	case metadata.QueryAll:
		return qc.Where(nil)
	case metadata.QueryVoteCountsByElection:
		mq, err := qc.Where(map[string]any{"electionId": query.ElectionID})
		if err != nil {
			return nil, err
		}
		mq.Reduce = func(rows []*metadata.EntityMetadata) []*metadata.EntityMetadata {
			return provider.CountBy(qc.Type, rows, "nominee", "nominee", "votes")
		}
		return mq, nil
	case metadata.QueryByAlternateID:
		return &memory.Query{Filter: "id == wanted", Params: map[string]any{"wanted": query.ID}}, nil
	default:
		return nil, qc.Unsupported(q)
	}
}

func newProvider(t *testing.T) *memory.Provider {
	t.Helper()
	b := metadata.NewBuilder()
	require.NoError(t, b.Define(metadata.EntityDefinition{
		Type:        voteType,
		New:         func() any { return &vote{} },
		IDFieldName: "id",
		FieldNames:  []string{"electionId", "nominee", "weight", "tags", "cast"},
		Memory: &metadata.MemoryDefinition{
			Mapping: map[string]string{
				"electionId": "election",
				"nominee":    "nominee",
				"weight":     "weight",
				"tags":       "tags",
				"cast":       "cast",
			},
			Queries: memory.QueryBuilder(voteQueries),
		},
	}))
	reg, err := b.Build()
	require.NoError(t, err)
	p, err := memory.New(reg, zerolog.Nop())
	require.NoError(t, err)
	return p
}

func TestCRUD(t *testing.T) {
	ctx := context.Background()
	p := newProvider(t)
	votes := provider.NewCollection[vote](p, voteType)

	in := &vote{ID: "v1", Election: "e1", Nominee: "alice", Weight: 0, Tags: []string{"a", ""}, Cast: time.Date(3000, 1, 1, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, votes.Insert(ctx, in))
	require.True(t, provider.IsConflict(votes.Insert(ctx, in)))

	out, err := votes.Get(ctx, "v1")
	require.NoError(t, err)
	require.Equal(t, in, out)

	_, err = votes.Get(ctx, "nope")
	require.True(t, provider.IsNotFound(err))
	require.True(t, provider.IsNotFound(votes.Replace(ctx, &vote{ID: "nope"})))
	require.NoError(t, votes.Delete(ctx, &vote{ID: "nope"}))

	in.Nominee = "bob"
	require.NoError(t, votes.Replace(ctx, in))
	out, err = votes.Get(ctx, "v1")
	require.NoError(t, err)
	require.Equal(t, "bob", out.Nominee)

	require.NoError(t, p.ClearMetadataStore(ctx, voteType))
	_, err = votes.Get(ctx, "v1")
	require.True(t, provider.IsNotFound(err))
}

func TestStoredCopiesAreIsolated(t *testing.T) {
	ctx := context.Background()
	p := newProvider(t)

	md := metadata.New(voteType, "v1")
	md.Fields["tags"] = []any{"x"}
	require.NoError(t, p.SetMetadata(ctx, md))
	md.Fields["tags"].([]any)[0] = "mutated"

	got, err := p.GetMetadata(ctx, voteType, "v1")
	require.NoError(t, err)
	require.Equal(t, []any{"x"}, got.Fields["tags"])

	got.Fields["tags"].([]any)[0] = "mutated again"
	again, err := p.GetMetadata(ctx, voteType, "v1")
	require.NoError(t, err)
	require.Equal(t, []any{"x"}, again.Fields["tags"])
}

func TestFixedQueries(t *testing.T) {
	ctx := context.Background()
	p := newProvider(t)
	votes := provider.NewCollection[vote](p, voteType)

	for i, nominee := range []string{"alice", "bob", "alice", "carol"} {
		election := "e1"
		if i == 3 {
			election = "e2"
		}
		require.NoError(t, votes.Insert(ctx, &vote{ID: fmt.Sprint(i), Election: election, Nominee: nominee}))
	}

	all, err := votes.Query(ctx, metadata.QueryAll{})
	require.NoError(t, err)
	require.Len(t, all, 4)

	counts, err := p.FixedQueryMetadata(ctx, voteType, metadata.QueryVoteCountsByElection{ElectionID: "e1"})
	require.NoError(t, err)
	require.Len(t, counts, 2)
	require.Equal(t, "alice", counts[0].Fields["nominee"])
	require.Equal(t, int64(2), counts[0].Fields["votes"])
	require.Equal(t, "bob", counts[1].Fields["nominee"])
	require.Equal(t, int64(1), counts[1].Fields["votes"])

	byID, err := votes.Query(ctx, metadata.QueryByAlternateID{ID: "2"})
	require.NoError(t, err)
	require.Len(t, byID, 1)
	require.Equal(t, "2", byID[0].ID)

	_, err = p.FixedQueryMetadata(ctx, voteType, metadata.QueryByCorporateID{})
	require.True(t, provider.IsUnsupported(err))
}

func TestConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	p := newProvider(t)

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			md := metadata.New(voteType, fmt.Sprint(i%10))
			md.Fields["nominee"] = "n"
			errs <- p.SetMetadata(ctx, md)
		}()
	}
	wg.Wait()
	close(errs)

	var ok, conflicts int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case provider.IsConflict(err):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 10, ok)
	require.Equal(t, 40, conflicts)
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
	votes := provider.NewCollection[vote](newProvider(t), voteType)
	rng := rand.New(rand.NewSource(9999))

	for i := range 200 {
		in := &vote{
			ID:       fmt.Sprintf("v%03d", i),
			Election: randomString(rng),
			Nominee:  randomString(rng),
			Weight:   randomInt(rng),
			Cast:     randomTime(rng, time.Nanosecond),
		}
		for range rng.Intn(4) {
			in.Tags = append(in.Tags, randomString(rng))
		}
		require.NoError(t, votes.Insert(ctx, in))
		out, err := votes.Get(ctx, in.ID)
		require.NoError(t, err)
		require.Equal(t, in, out, "%+v", in)
	}
}
