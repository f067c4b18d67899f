package entities

import (
	"time"

	"portal/internal/metadata"
	"portal/internal/provider/memory"
	"portal/internal/provider/postgres"
	"portal/internal/provider/table"
)

// LocalExtensionKeyType holds per-user keys for the browser extension.
var LocalExtensionKeyType = metadata.NewEntityMetadataType("LocalExtensionKey")

// LocalExtensionKey is keyed by the user's third-party id. The key material
// is encrypted at rest by the table backend.
type LocalExtensionKey struct {
	ThirdPartyID   string    `entity:"thirdPartyId"`
	CorporateID    string    `entity:"corporateId"`
	LocalDataKey   string    `entity:"localDataKey"`
	LocalValidator string    `entity:"localValidator"`
	Created        time.Time `entity:"created"`
}

var extensionKeyFields = []string{
	"corporateId",
	"localDataKey",
	"localValidator",
	"created",
}

func extensionKeyDefinition() metadata.EntityDefinition {
	return metadata.EntityDefinition{
		Type:        LocalExtensionKeyType,
		New:         func() any { return &LocalExtensionKey{} },
		IDFieldName: "thirdPartyId",
		FieldNames:  extensionKeyFields,
		Postgres: &metadata.PostgresDefinition{
			Mapping: map[string]string{
				"corporateId":    "corporateid",
				"localDataKey":   "localdatakey",
				"localValidator": "localvalidator",
				"created":        "created",
			},
			Table:   "localextensionkeys",
			Queries: postgres.QueryBuilder(extensionKeyPostgresQueries),
		},
		Table: &metadata.TableDefinition{
			Mapping: map[string]string{
				"corporateId":    "corporateid",
				"localDataKey":   "localdatakey",
				"localValidator": "localvalidator",
				"created":        "created",
			},
			Table:            "localextensionkeys",
			PartitionKey:     "localextensionkey",
			EncryptedColumns: []string{"localdatakey", "localvalidator"},
			Queries:          table.QueryBuilder(extensionKeyTableQueries),
		},
		Memory: &metadata.MemoryDefinition{
			Mapping: identityMapping(extensionKeyFields),
			Queries: memory.QueryBuilder(extensionKeyMemoryQueries),
		},
	}
}

func extensionKeyPostgresQueries(q metadata.FixedQuery, qc *postgres.QueryContext) (*postgres.Query, error) {
	switch query := q.(type) {
	case metadata.QueryAll:
		return qc.Where(nil)
	case metadata.QueryByCorporateID:
		return qc.Where(map[string]any{"corporateId": query.CorporateID})
	default:
		return nil, qc.Unsupported(q)
	}
}

func extensionKeyTableQueries(q metadata.FixedQuery, qc *table.QueryContext) (*table.Query, error) {
	switch query := q.(type) {
	case metadata.QueryAll:
		return qc.Where(nil)
	case metadata.QueryByCorporateID:
		return qc.Where(map[string]any{"corporateId": query.CorporateID})
	default:
		return nil, qc.Unsupported(q)
	}
}

func extensionKeyMemoryQueries(q metadata.FixedQuery, qc *memory.QueryContext) (*memory.Query, error) {
	switch query := q.(type) {
	case metadata.QueryAll:
		return qc.Where(nil)
	case metadata.QueryByCorporateID:
		return qc.Where(map[string]any{"corporateId": query.CorporateID})
	default:
		return nil, qc.Unsupported(q)
	}
}
