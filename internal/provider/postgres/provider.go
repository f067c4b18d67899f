// Package postgres stores entities as JSON documents, one table per type with
// a type column, an id column and a document column.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"portal/internal/metadata"
	"portal/internal/provider"
	"portal/internal/store"
)

// Name identifies this backend.
const Name = "postgres"

// Numbers and times are stored as strings so other clients read the same
// representation regardless of JSON number handling.
var valueRules = metadata.ValueRules{NumbersAsStrings: true, TimesAsStrings: true}

// Options adjusts table and column naming.
type Options struct {
	// Columns defaults to store.DefaultDocumentColumns.
	Columns store.DocumentColumns
	// Tables overrides the registered table name, keyed by type name.
	Tables map[string]string
	Logger zerolog.Logger
}

// Provider implements provider.Provider over a store.Store.
type Provider struct {
	store  *store.Store
	reg    *metadata.Registry
	cols   store.DocumentColumns
	tables map[metadata.EntityMetadataType]string
	log    zerolog.Logger
}

var _ provider.Provider = (*Provider)(nil)

// New resolves every Postgres-mapped type's table and validates its naming.
func New(s *store.Store, reg *metadata.Registry, opts Options) (*Provider, error) {
	cols := opts.Columns
	if cols == (store.DocumentColumns{}) {
		cols = store.DefaultDocumentColumns
	}
	for _, name := range []string{cols.Type, cols.ID, cols.Metadata} {
		if !store.ValidIdentifier(name) {
			return nil, metadata.ErrConfiguration.New("invalid postgres column name %q", name)
		}
	}

	p := &Provider{
		store:  s,
		reg:    reg,
		cols:   cols,
		tables: make(map[metadata.EntityMetadataType]string),
		log:    opts.Logger.With().Str("provider", Name).Logger(),
	}
	for _, t := range reg.TypesWith(metadata.KindPostgresMapping) {
		table, err := reg.String(t, metadata.KindPostgresDefaultTable, true)
		if err != nil {
			return nil, err
		}
		if override := opts.Tables[t.String()]; override != "" {
			table = override
		}
		if !store.ValidIdentifier(table) {
			return nil, metadata.ErrConfiguration.New("invalid postgres table name %q for %s", table, t)
		}
		if _, err := p.builder(t); err != nil {
			return nil, err
		}
		p.tables[t] = table
	}
	return p, nil
}

func (p *Provider) Name() string { return Name }

// EnsureTables creates any missing document tables.
func (p *Provider) EnsureTables(ctx context.Context) error {
	conn, err := p.store.Conn(ctx)
	if err != nil {
		return provider.ErrTransport.Wrap(err)
	}
	defer conn.Close()

	created := make(map[string]bool)
	for _, t := range p.sortedTypes() {
		table := p.tables[t]
		if created[table] {
			continue
		}
		if err := p.store.EnsureDocumentTable(ctx, conn, table, p.cols); err != nil {
			return provider.ErrTransport.Wrap(err)
		}
		created[table] = true
		p.log.Debug().Str("table", table).Msg("document table ready")
	}
	return nil
}

func (p *Provider) sortedTypes() []metadata.EntityMetadataType {
	types := make([]metadata.EntityMetadataType, 0, len(p.tables))
	for t := range p.tables {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i].String() < types[j].String() })
	return types
}

func (p *Provider) table(t metadata.EntityMetadataType) (string, error) {
	table, ok := p.tables[t]
	if !ok {
		return "", metadata.ErrConfiguration.New("%s is not configured for entity type %s", metadata.KindPostgresMapping, t)
	}
	return table, nil
}

func (p *Provider) builder(t metadata.EntityMetadataType) (QueryBuilder, error) {
	v, err := p.reg.GetDefinition(t, metadata.KindPostgresQueries, true)
	if err != nil {
		return nil, err
	}
	b, ok := asQueryBuilder(v)
	if !ok {
		return nil, metadata.ErrConfiguration.New("%s for %s is %T, not a postgres.QueryBuilder", metadata.KindPostgresQueries, t, v)
	}
	return b, nil
}

func (p *Provider) queryContext(t metadata.EntityMetadataType) (*QueryContext, error) {
	table, err := p.table(t)
	if err != nil {
		return nil, err
	}
	mapping, err := p.reg.Mapping(t, metadata.KindPostgresMapping)
	if err != nil {
		return nil, err
	}
	return &QueryContext{
		Type:           t,
		FieldMap:       mapping,
		TableName:      table,
		TypeColumn:     p.cols.Type,
		IDColumn:       p.cols.ID,
		MetadataColumn: p.cols.Metadata,
		Dialect:        p.store.Dialect,
		Params:         p.store.Dialect.NewParamBuilder(),
		TypeValue:      t.String,
	}, nil
}

func (p *Provider) GetMetadata(ctx context.Context, t metadata.EntityMetadataType, id string) (*metadata.EntityMetadata, error) {
	qc, err := p.queryContext(t)
	if err != nil {
		return nil, err
	}
	sqlStr := fmt.Sprintf("%s WHERE %s AND %s = %s",
		qc.SelectEntities(), qc.TypeFilter(), p.cols.ID, qc.Params.Add(id))

	rows, err := p.query(ctx, "get", t, sqlStr, qc.Params.Params())
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, provider.ErrNotFound.New("%s %s", t, id)
	}
	return p.rowToMetadata(t, qc.FieldMap, rows[0])
}

func (p *Provider) SetMetadata(ctx context.Context, md *metadata.EntityMetadata) error {
	qc, doc, err := p.prepareWrite(md)
	if err != nil {
		return err
	}
	sqlStr := fmt.Sprintf("INSERT INTO %s (%s, %s, %s) VALUES (%s, %s, %s)",
		qc.TableName, p.cols.Type, p.cols.ID, p.cols.Metadata,
		qc.Params.Add(qc.TypeValue()), qc.Params.Add(md.EntityID), p.store.Dialect.JSONValue(qc.Params.Add(doc)))

	_, err = p.exec(ctx, "insert", md.EntityType, sqlStr, qc.Params.Params())
	return err
}

// UpdateMetadata replaces the document of an existing row. A missing row is
// ErrNotFound.
func (p *Provider) UpdateMetadata(ctx context.Context, md *metadata.EntityMetadata) error {
	qc, doc, err := p.prepareWrite(md)
	if err != nil {
		return err
	}
	sqlStr := fmt.Sprintf("UPDATE %s SET %s = %s WHERE %s AND %s = %s",
		qc.TableName, p.cols.Metadata, p.store.Dialect.JSONValue(qc.Params.Add(doc)),
		qc.TypeFilter(), p.cols.ID, qc.Params.Add(md.EntityID))

	n, err := p.exec(ctx, "update", md.EntityType, sqlStr, qc.Params.Params())
	if err != nil {
		return err
	}
	if n == 0 {
		return provider.ErrNotFound.New("%s %s", md.EntityType, md.EntityID)
	}
	return nil
}

// DeleteMetadata removes the row. Deleting a missing row is not an error.
func (p *Provider) DeleteMetadata(ctx context.Context, md *metadata.EntityMetadata) error {
	if md == nil {
		return fmt.Errorf("delete: nil metadata")
	}
	qc, err := p.queryContext(md.EntityType)
	if err != nil {
		return err
	}
	sqlStr := fmt.Sprintf("DELETE FROM %s WHERE %s AND %s = %s",
		qc.TableName, qc.TypeFilter(), p.cols.ID, qc.Params.Add(md.EntityID))

	_, err = p.exec(ctx, "delete", md.EntityType, sqlStr, qc.Params.Params())
	return err
}

func (p *Provider) ClearMetadataStore(ctx context.Context, t metadata.EntityMetadataType) error {
	qc, err := p.queryContext(t)
	if err != nil {
		return err
	}
	sqlStr := fmt.Sprintf("DELETE FROM %s WHERE %s", qc.TableName, qc.TypeFilter())

	n, err := p.exec(ctx, "clear", t, sqlStr, qc.Params.Params())
	if err != nil {
		return err
	}
	p.log.Info().Str("entity_type", t.String()).Int64("rows", n).Msg("cleared metadata store")
	return nil
}

func (p *Provider) FixedQueryMetadata(ctx context.Context, t metadata.EntityMetadataType, q metadata.FixedQuery) ([]*metadata.EntityMetadata, error) {
	if q == nil {
		return nil, fmt.Errorf("fixed query for %s: nil query", t)
	}
	build, err := p.builder(t)
	if err != nil {
		return nil, err
	}
	qc, err := p.queryContext(t)
	if err != nil {
		return nil, err
	}
	query, err := build(q, qc)
	if err != nil {
		return nil, err
	}

	rows, err := p.query(ctx, string(q.FixedQueryType()), t, query.SQL, query.Values)
	if err != nil {
		return nil, err
	}
	results := make([]*metadata.EntityMetadata, 0, len(rows))
	for _, row := range rows {
		var md *metadata.EntityMetadata
		if query.SkipEntityMapping {
			md = p.rawRow(t, row)
		} else if md, err = p.rowToMetadata(t, qc.FieldMap, row); err != nil {
			return nil, err
		}
		results = append(results, md)
	}
	return results, nil
}

func (p *Provider) SerializationHelper(t metadata.EntityMetadataType) (metadata.SerializeFunc, error) {
	return metadata.NewSerializer(p.reg, t, metadata.KindPostgresMapping, encodeValue, nil)
}

func (p *Provider) DeserializationHelper(t metadata.EntityMetadataType) (metadata.DeserializeFunc, error) {
	return metadata.NewDeserializer(p.reg, t, nil)
}

func (p *Provider) SupportsPointQueryForType(metadata.EntityMetadataType) bool { return true }

func encodeValue(_ string, v any) (any, error) {
	return metadata.NormalizeValue(v, valueRules)
}

// prepareWrite renders md's fields as the JSON document keyed by column name.
func (p *Provider) prepareWrite(md *metadata.EntityMetadata) (*QueryContext, string, error) {
	if md == nil {
		return nil, "", fmt.Errorf("write: nil metadata")
	}
	if md.EntityID == "" {
		return nil, "", fmt.Errorf("write %s: empty entity id", md.EntityType)
	}
	qc, err := p.queryContext(md.EntityType)
	if err != nil {
		return nil, "", err
	}

	doc := make(map[string]any, len(md.Fields))
	for field, v := range md.Fields {
		key, ok := qc.FieldMap[field]
		if !ok || key == metadata.HookedColumn {
			key = field
		}
		encoded, err := metadata.NormalizeValue(v, valueRules)
		if err != nil {
			return nil, "", fmt.Errorf("write %s field %q: %w", md.EntityType, field, err)
		}
		doc[key] = encoded
	}
	encoded, err := json.Marshal(doc)
	if err != nil {
		return nil, "", fmt.Errorf("write %s: encode document: %w", md.EntityType, err)
	}
	return qc, string(encoded), nil
}

// rowToMetadata drops the generic columns and promotes document keys back to
// business field names.
func (p *Provider) rowToMetadata(t metadata.EntityMetadataType, mapping map[string]string, row map[string]any) (*metadata.EntityMetadata, error) {
	id := fmt.Sprint(row[p.cols.ID])
	doc, err := decodeDocument(row[p.cols.Metadata])
	if err != nil {
		return nil, fmt.Errorf("decode %s %s: %w", t, id, err)
	}

	byColumn := make(map[string]string, len(mapping))
	for field, col := range mapping {
		byColumn[col] = field
	}

	md := metadata.New(t, id)
	md.EntityFieldNames = p.reg.FieldNames(t)
	for key, v := range doc {
		if field, ok := byColumn[key]; ok {
			md.Fields[field] = v
			continue
		}
		md.Fields[key] = v
	}
	return md, nil
}

func (p *Provider) rawRow(t metadata.EntityMetadataType, row map[string]any) *metadata.EntityMetadata {
	id, _ := row[p.cols.ID].(string)
	md := metadata.New(t, id)
	for k, v := range row {
		if k == p.cols.ID {
			continue
		}
		md.AppendField(k, v)
	}
	sort.Strings(md.EntityFieldNames)
	return md
}

func decodeDocument(v any) (map[string]any, error) {
	var raw []byte
	switch doc := v.(type) {
	case nil:
		return map[string]any{}, nil
	case map[string]any:
		return doc, nil
	case string:
		raw = []byte(doc)
	case []byte:
		raw = doc
	default:
		return nil, fmt.Errorf("unexpected document type %T", v)
	}
	out := map[string]any{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (p *Provider) query(ctx context.Context, op string, t metadata.EntityMetadataType, sqlStr string, args []any) ([]map[string]any, error) {
	conn, err := p.store.Conn(ctx)
	if err != nil {
		return nil, provider.ErrTransport.Wrap(err)
	}
	defer conn.Close()

	p.log.Debug().Str("op", op).Str("entity_type", t.String()).Str("sql", sqlStr).Interface("args", args).Msg("query")
	rows, err := store.QueryRows(ctx, conn, sqlStr, args...)
	if err != nil {
		return nil, p.classify(op, t, sqlStr, args, err)
	}
	return rows, nil
}

func (p *Provider) exec(ctx context.Context, op string, t metadata.EntityMetadataType, sqlStr string, args []any) (int64, error) {
	conn, err := p.store.Conn(ctx)
	if err != nil {
		return 0, provider.ErrTransport.Wrap(err)
	}
	defer conn.Close()

	p.log.Debug().Str("op", op).Str("entity_type", t.String()).Str("sql", sqlStr).Interface("args", args).Msg("exec")
	n, err := store.Exec(ctx, conn, sqlStr, args...)
	if err != nil {
		return 0, p.classify(op, t, sqlStr, args, err)
	}
	return n, nil
}

// classify keeps the native unique violation reachable under ErrConflict and
// hides statement text from everything else.
func (p *Provider) classify(op string, t metadata.EntityMetadataType, sqlStr string, args []any, err error) error {
	mapped := store.MapError(p.store.Dialect, err)
	if errors.Is(mapped, store.ErrUniqueViolation) {
		return provider.ErrConflict.Wrap(mapped)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, sql.ErrConnDone) {
		return provider.ErrTransport.Wrap(err)
	}
	qe := &QueryError{Op: op, Type: t, SQL: sqlStr, Args: args, Err: err}
	p.log.Debug().Err(err).Str("op", op).Str("entity_type", t.String()).Str("sql", sqlStr).Msg("query failed")
	return provider.ErrTransport.Wrap(qe)
}
