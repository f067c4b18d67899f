package entities

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"portal/internal/metadata"
	"portal/internal/provider"
	"portal/internal/provider/memory"
	"portal/internal/provider/postgres"
	"portal/internal/provider/table"
)

// ElectionVoteType records one ballot in a nomination election.
var ElectionVoteType = metadata.NewEntityMetadataType("ElectionVote")

type ElectionVote struct {
	VoteID      string    `entity:"voteId"`
	ElectionID  string    `entity:"electionId"`
	CorporateID string    `entity:"corporateId"`
	Nominee     string    `entity:"nominee"`
	Comment     string    `entity:"comment"`
	Voted       time.Time `entity:"voted"`
}

// NewElectionVote returns a ballot with a fresh id.
func NewElectionVote(electionID, corporateID, nominee string) *ElectionVote {
	return &ElectionVote{
		VoteID:      uuid.NewString(),
		ElectionID:  electionID,
		CorporateID: corporateID,
		Nominee:     nominee,
		Voted:       time.Now().UTC(),
	}
}

var voteFields = []string{
	"electionId",
	"corporateId",
	"nominee",
	"comment",
	"voted",
}

var voteMapping = map[string]string{
	"electionId":  "electionid",
	"corporateId": "corporateid",
	"nominee":     "nominee",
	"comment":     "comment",
	"voted":       "voted",
}

func voteDefinition() metadata.EntityDefinition {
	return metadata.EntityDefinition{
		Type:        ElectionVoteType,
		New:         func() any { return &ElectionVote{} },
		IDFieldName: "voteId",
		FieldNames:  voteFields,
		Postgres: &metadata.PostgresDefinition{
			Mapping: voteMapping,
			Table:   "electionvotes",
			Queries: postgres.QueryBuilder(votePostgresQueries),
		},
		Table: &metadata.TableDefinition{
			Mapping:      voteMapping,
			Table:        "electionvotes",
			PartitionKey: "electionvote",
			RowKeyPrefix: "vote_",
			Queries:      table.QueryBuilder(voteTableQueries),
		},
		Memory: &metadata.MemoryDefinition{
			Mapping: identityMapping(voteFields),
			Queries: memory.QueryBuilder(voteMemoryQueries),
		},
	}
}

func votePostgresQueries(q metadata.FixedQuery, qc *postgres.QueryContext) (*postgres.Query, error) {
	switch query := q.(type) {
	case metadata.QueryAll:
		return qc.Where(nil)
	case metadata.QueryByCorporateID:
		return qc.Where(map[string]any{"corporateId": query.CorporateID})
	case metadata.QueryVoteCountsByElection:
		nominee, err := qc.Field("nominee")
		if err != nil {
			return nil, err
		}
		typeFilter := qc.TypeFilter()
		contains, err := qc.Contains(map[string]any{"electionId": query.ElectionID})
		if err != nil {
			return nil, err
		}
		sql := fmt.Sprintf(`SELECT %s AS "nominee", COUNT(*) AS "votes" FROM %s WHERE %s AND %s GROUP BY 1 ORDER BY 1`,
			nominee, qc.TableName, typeFilter, contains)
		return qc.Build(sql, true), nil
	default:
		return nil, qc.Unsupported(q)
	}
}

func voteTableQueries(q metadata.FixedQuery, qc *table.QueryContext) (*table.Query, error) {
	switch query := q.(type) {
	case metadata.QueryAll:
		return qc.Where(nil)
	case metadata.QueryByCorporateID:
		return qc.Where(map[string]any{"corporateId": query.CorporateID})
	case metadata.QueryVoteCountsByElection:
		tq, err := qc.Where(map[string]any{"electionId": query.ElectionID})
		if err != nil {
			return nil, err
		}
		tq.Reduce = func(rows []*metadata.EntityMetadata) []*metadata.EntityMetadata {
			return provider.CountBy(qc.Type, rows, "nominee", "nominee", "votes")
		}
		return tq, nil
	default:
		return nil, qc.Unsupported(q)
	}
}

func voteMemoryQueries(q metadata.FixedQuery, qc *memory.QueryContext) (*memory.Query, error) {
	switch query := q.(type) {
	case metadata.QueryAll:
		return qc.Where(nil)
	case metadata.QueryByCorporateID:
		return qc.Where(map[string]any{"corporateId": query.CorporateID})
	case metadata.QueryVoteCountsByElection:
		mq, err := qc.Where(map[string]any{"electionId": query.ElectionID})
		if err != nil {
			return nil, err
		}
		mq.Reduce = func(rows []*metadata.EntityMetadata) []*metadata.EntityMetadata {
			return provider.CountBy(qc.Type, rows, "nominee", "nominee", "votes")
		}
		return mq, nil
	default:
		return nil, qc.Unsupported(q)
	}
}
