package entities

import (
	"fmt"
	"time"

	"portal/internal/metadata"
	"portal/internal/provider"
	"portal/internal/provider/memory"
	"portal/internal/provider/postgres"
	"portal/internal/provider/table"
)

// RepositoryMetadataType records repositories created through the portal.
var RepositoryMetadataType = metadata.NewEntityMetadataType("RepositoryMetadata")

// TeamPermission is one initial team grant on a new repository.
type TeamPermission struct {
	TeamID     string `entity:"teamId" json:"teamId"`
	Permission string `entity:"permission" json:"permission"`
}

type RepositoryMetadata struct {
	RepositoryID                string           `entity:"repositoryId"`
	OrganizationID              string           `entity:"organizationId"`
	OrganizationName            string           `entity:"organizationName"`
	RepositoryName              string           `entity:"repositoryName"`
	Created                     time.Time        `entity:"created"`
	CreatedByThirdPartyID       string           `entity:"createdByThirdPartyId"`
	CreatedByThirdPartyUsername string           `entity:"createdByThirdPartyUsername"`
	CreatedByCorporateID        string           `entity:"createdByCorporateId"`
	InitialDescription          string           `entity:"initialRepositoryDescription"`
	InitialVisibility           string           `entity:"initialRepositoryVisibility"`
	ProjectType                 string           `entity:"projectType"`
	InitialTeamPermissions      []TeamPermission `entity:"initialTeamPermissions"`
}

var repositoryFields = []string{
	"organizationId",
	"organizationName",
	"repositoryName",
	"created",
	"createdByThirdPartyId",
	"createdByThirdPartyUsername",
	"createdByCorporateId",
	"initialRepositoryDescription",
	"initialRepositoryVisibility",
	"projectType",
	"initialTeamPermissions",
}

// Older rows carried the creating user's display name.
var repositoryLegacyColumns = []string{"createdByCorporateDisplayName"}

// Table rows store initialTeamPermissions as teamcount, teamid{i}, teamid{i}p.
var repositoryTeamPermissions = table.RepeatedGroup{
	Field:       "initialTeamPermissions",
	CountColumn: "teamcount",
	KeyColumn:   "teamid",
	ValueSuffix: "p",
	KeyName:     "teamId",
	ValueName:   "permission",
}

func repositoryDefinition() metadata.EntityDefinition {
	return metadata.EntityDefinition{
		Type:               RepositoryMetadataType,
		New:                func() any { return &RepositoryMetadata{} },
		IDFieldName:        "repositoryId",
		FieldNames:         repositoryFields,
		PermittedExtraKeys: repositoryLegacyColumns,
		Postgres: &metadata.PostgresDefinition{
			Mapping: map[string]string{
				"createdByCorporateDisplayName": "createdbycorporatedisplayname",
				"organizationId":                "organizationid",
				"organizationName":              "organizationname",
				"repositoryName":                "repositoryname",
				"created":                       "created",
				"createdByThirdPartyId":         "createdbythirdpartyid",
				"createdByThirdPartyUsername":   "createdbythirdpartyusername",
				"createdByCorporateId":          "createdbycorporateid",
				"initialRepositoryDescription":  "initialrepositorydescription",
				"initialRepositoryVisibility":   "initialrepositoryvisibility",
				"projectType":                   "projecttype",
				"initialTeamPermissions":        "initialteampermissions",
			},
			Table:   "repositorymetadata",
			Queries: postgres.QueryBuilder(repositoryPostgresQueries),
		},
		Table: &metadata.TableDefinition{
			Mapping: map[string]string{
				"repositoryId":                 "repositoryid",
				"organizationId":               "organizationid",
				"organizationName":             "organizationname",
				"repositoryName":               "repositoryname",
				"created":                      "created",
				"createdByThirdPartyId":        "createdbythirdpartyid",
				"createdByThirdPartyUsername":  "createdbythirdpartyusername",
				"createdByCorporateId":         "createdbycorporateid",
				"initialRepositoryDescription": "initialrepositorydescription",
				"initialRepositoryVisibility":  "initialrepositoryvisibility",
				"projectType":                  "projecttype",
				"initialTeamPermissions":       metadata.HookedColumn,
			},
			Table:        "repositorymetadata",
			PartitionKey: "repositorymetadata",
			// Rows were keyed by request id before repositories had durable ids.
			NoPointQueries:  true,
			Queries:         table.QueryBuilder(repositoryTableQueries),
			SerializeHook:   repositoryTeamPermissions.SerializeHook(),
			DeserializeHook: repositoryTeamPermissions.DeserializeHook(),
		},
		Memory: &metadata.MemoryDefinition{
			Mapping: identityMapping(repositoryFields),
			Queries: memory.QueryBuilder(repositoryMemoryQueries),
		},
	}
}

func repositoryPostgresQueries(q metadata.FixedQuery, qc *postgres.QueryContext) (*postgres.Query, error) {
	switch query := q.(type) {
	case metadata.QueryAll:
		return qc.Where(nil)
	case metadata.QueryByOrganizationID:
		return qc.Where(map[string]any{"organizationId": query.OrganizationID})
	case metadata.QueryDeleteByOrganizationID:
		return qc.Where(map[string]any{"organizationId": query.OrganizationID})
	case metadata.QueryByOrganizationAndRepositoryName:
		return qc.Where(map[string]any{
			"organizationId": query.OrganizationID,
			"repositoryName": query.RepositoryName,
		})
	case metadata.QueryDistinctOrganizationIDs:
		org, err := qc.Field("organizationId")
		if err != nil {
			return nil, err
		}
		sql := fmt.Sprintf(`SELECT DISTINCT %s AS "organizationId" FROM %s WHERE %s ORDER BY 1`,
			org, qc.TableName, qc.TypeFilter())
		return qc.Build(sql, true), nil
	default:
		return nil, qc.Unsupported(q)
	}
}

func repositoryTableQueries(q metadata.FixedQuery, qc *table.QueryContext) (*table.Query, error) {
	switch query := q.(type) {
	case metadata.QueryAll:
		return qc.Where(nil)
	case metadata.QueryByAlternateID:
		return qc.Where(map[string]any{"repositoryId": query.ID})
	case metadata.QueryByOrganizationID:
		return qc.Where(map[string]any{"organizationId": query.OrganizationID})
	case metadata.QueryDeleteByOrganizationID:
		return qc.Where(map[string]any{"organizationId": query.OrganizationID})
	case metadata.QueryByOrganizationAndRepositoryName:
		return qc.Where(map[string]any{
			"organizationId": query.OrganizationID,
			"repositoryName": query.RepositoryName,
		})
	case metadata.QueryDistinctOrganizationIDs:
		tq, err := qc.Where(nil)
		if err != nil {
			return nil, err
		}
		tq.Reduce = func(rows []*metadata.EntityMetadata) []*metadata.EntityMetadata {
			return provider.Distinct(qc.Type, rows, "organizationId", "organizationId")
		}
		return tq, nil
	default:
		return nil, qc.Unsupported(q)
	}
}

func repositoryMemoryQueries(q metadata.FixedQuery, qc *memory.QueryContext) (*memory.Query, error) {
	switch query := q.(type) {
	case metadata.QueryAll:
		return qc.Where(nil)
	case metadata.QueryByOrganizationID:
		return qc.Where(map[string]any{"organizationId": query.OrganizationID})
	case metadata.QueryDeleteByOrganizationID:
		return qc.Where(map[string]any{"organizationId": query.OrganizationID})
	case metadata.QueryByOrganizationAndRepositoryName:
		return qc.Where(map[string]any{
			"organizationId": query.OrganizationID,
			"repositoryName": query.RepositoryName,
		})
	case metadata.QueryDistinctOrganizationIDs:
		mq, err := qc.Where(nil)
		if err != nil {
			return nil, err
		}
		mq.Reduce = func(rows []*metadata.EntityMetadata) []*metadata.EntityMetadata {
			return provider.Distinct(qc.Type, rows, "organizationId", "organizationId")
		}
		return mq, nil
	default:
		return nil, qc.Unsupported(q)
	}
}
