package metadata

import "fmt"

// DefinitionKind names one piece of per-type registration data.
type DefinitionKind int

const (
	KindInstantiate DefinitionKind = iota + 1 // func() any
	KindIDFieldName                           // string
	KindFieldNames                            // []string
	KindPermittedExtraKeys                    // []string

	KindPostgresMapping      // map[string]string
	KindPostgresDefaultTable // string
	KindPostgresQueries      // postgres.QueryBuilder

	KindTableMapping             // map[string]string
	KindTableDefaultTable        // string
	KindTablePartitionKey        // string
	KindTableRowKeyPrefix        // string
	KindTableNoPointQueries      // bool
	KindTableEncryptedColumns    // []string
	KindTableQueries             // table.QueryBuilder
	KindTableSerializeHook       // SerializeHook
	KindTableDeserializeHook     // DeserializeHook

	KindMemoryMapping // map[string]string
	KindMemoryQueries // memory.QueryBuilder
)

var kindNames = map[DefinitionKind]string{
	KindInstantiate:           "instantiate",
	KindIDFieldName:           "id field name",
	KindFieldNames:            "field names",
	KindPermittedExtraKeys:    "permitted extra keys",
	KindPostgresMapping:       "postgres mapping",
	KindPostgresDefaultTable:  "postgres default table",
	KindPostgresQueries:       "postgres queries",
	KindTableMapping:          "table mapping",
	KindTableDefaultTable:     "table default table",
	KindTablePartitionKey:     "table partition key",
	KindTableRowKeyPrefix:     "table row key prefix",
	KindTableNoPointQueries:   "table no point queries",
	KindTableEncryptedColumns: "table encrypted columns",
	KindTableQueries:          "table queries",
	KindTableSerializeHook:    "table serialize hook",
	KindTableDeserializeHook:  "table deserialize hook",
	KindMemoryMapping:         "memory mapping",
	KindMemoryQueries:         "memory queries",
}

func (k DefinitionKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("definition kind %d", int(k))
}

// HookedColumn is the mapping value for a field that a specialized hook
// writes instead of the generic serializer.
const HookedColumn = "-"

// backend groups the kinds a storage backend needs for one type.
type backend struct {
	name    string
	mapping DefinitionKind
	table   DefinitionKind // zero when the backend has no table concept
	queries DefinitionKind
}

var backends = []backend{
	{name: "postgres", mapping: KindPostgresMapping, table: KindPostgresDefaultTable, queries: KindPostgresQueries},
	{name: "table", mapping: KindTableMapping, table: KindTableDefaultTable, queries: KindTableQueries},
	{name: "memory", mapping: KindMemoryMapping, queries: KindMemoryQueries},
}

// SerializeHook runs after generic serialization and may rewrite fields that
// cannot be stored as flat columns.
type SerializeHook func(obj any, md *EntityMetadata) error

// DeserializeHook runs before values are applied to a new object. It may read
// computed columns from md and set values for the declared fields.
type DeserializeHook func(md *EntityMetadata, values map[string]any) error

// PostgresDefinition is the Postgres part of an EntityDefinition.
type PostgresDefinition struct {
	Mapping map[string]string
	Table   string
	Queries any
}

// TableDefinition is the table storage part of an EntityDefinition.
type TableDefinition struct {
	Mapping          map[string]string
	Table            string
	PartitionKey     string
	RowKeyPrefix     string
	NoPointQueries   bool
	EncryptedColumns []string
	Queries          any
	SerializeHook    SerializeHook
	DeserializeHook  DeserializeHook
}

// MemoryDefinition is the in-memory part of an EntityDefinition.
type MemoryDefinition struct {
	Mapping map[string]string
	Queries any
}

// EntityDefinition bundles every registration for one type.
type EntityDefinition struct {
	Type               EntityMetadataType
	New                func() any
	IDFieldName        string
	FieldNames         []string
	PermittedExtraKeys []string

	Postgres *PostgresDefinition
	Table    *TableDefinition
	Memory   *MemoryDefinition
}
