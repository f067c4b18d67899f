// Package table stores entities in Azure Table storage. Every type lives in
// one fixed partition; the row key is the type's prefix followed by the id.
package table

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/rs/zerolog"

	"portal/internal/metadata"
	"portal/internal/provider"
	"portal/internal/tableencryption"
)

// Name identifies this backend.
const Name = "table"

// Options configures a Provider.
type Options struct {
	Clients ClientFactory
	// Tables overrides the registered table name, keyed by type name.
	Tables map[string]string
	// Encryption is required when any type declares encrypted columns.
	Encryption *tableencryption.Engine
	// PageSize caps entities per page; zero uses the service default.
	PageSize int32
	Logger   zerolog.Logger
}

type typeInfo struct {
	client       Client
	table        string
	partitionKey string
	rowKeyPrefix string
	noPoint      bool
	encrypted    []string
	mapping      map[string]string
	idColumn     string // empty unless the id field is mapped
	build        QueryBuilder
}

// Provider implements provider.Provider over table storage.
type Provider struct {
	reg      *metadata.Registry
	types    map[metadata.EntityMetadataType]*typeInfo
	engine   *tableencryption.Engine
	pageSize int32
	log      zerolog.Logger
}

var _ provider.Provider = (*Provider)(nil)

// New resolves a client and the key layout for every table-mapped type.
func New(reg *metadata.Registry, opts Options) (*Provider, error) {
	if opts.Clients == nil {
		return nil, metadata.ErrConfiguration.New("table provider needs a client factory")
	}
	p := &Provider{
		reg:      reg,
		types:    make(map[metadata.EntityMetadataType]*typeInfo),
		engine:   opts.Encryption,
		pageSize: opts.PageSize,
		log:      opts.Logger.With().Str("provider", Name).Logger(),
	}
	for _, t := range reg.TypesWith(metadata.KindTableMapping) {
		info, err := p.resolveType(t, opts)
		if err != nil {
			return nil, err
		}
		p.types[t] = info
	}
	return p, nil
}

func (p *Provider) resolveType(t metadata.EntityMetadataType, opts Options) (*typeInfo, error) {
	info := &typeInfo{noPoint: p.reg.Bool(t, metadata.KindTableNoPointQueries)}
	var err error
	if info.table, err = p.reg.String(t, metadata.KindTableDefaultTable, true); err != nil {
		return nil, err
	}
	if override := opts.Tables[t.String()]; override != "" {
		info.table = override
	}
	if info.partitionKey, err = p.reg.String(t, metadata.KindTablePartitionKey, true); err != nil {
		return nil, err
	}
	if info.rowKeyPrefix, err = p.reg.String(t, metadata.KindTableRowKeyPrefix, false); err != nil {
		return nil, err
	}
	if info.encrypted, err = p.reg.Strings(t, metadata.KindTableEncryptedColumns, false); err != nil {
		return nil, err
	}
	if len(info.encrypted) > 0 && p.engine == nil {
		return nil, metadata.ErrConfiguration.New("%s encrypts %s but no encryption options were provided", t, strings.Join(info.encrypted, ", "))
	}
	if info.mapping, err = p.reg.Mapping(t, metadata.KindTableMapping); err != nil {
		return nil, err
	}
	idField, err := p.reg.IDFieldName(t)
	if err != nil {
		return nil, err
	}
	if col := info.mapping[idField]; col != metadata.HookedColumn {
		info.idColumn = col
	}

	raw, err := p.reg.GetDefinition(t, metadata.KindTableQueries, true)
	if err != nil {
		return nil, err
	}
	var ok bool
	if info.build, ok = asQueryBuilder(raw); !ok {
		return nil, metadata.ErrConfiguration.New("%s for %s is %T, not a table.QueryBuilder", metadata.KindTableQueries, t, raw)
	}

	if info.client, err = opts.Clients(info.table); err != nil {
		return nil, fmt.Errorf("table client for %s: %w", t, err)
	}
	return info, nil
}

func (p *Provider) Name() string { return Name }

func (p *Provider) info(t metadata.EntityMetadataType) (*typeInfo, error) {
	info, ok := p.types[t]
	if !ok {
		return nil, metadata.ErrConfiguration.New("%s is not configured for entity type %s", metadata.KindTableMapping, t)
	}
	return info, nil
}

// EnsureTables creates missing tables for clients that support it.
func (p *Provider) EnsureTables(ctx context.Context) error {
	done := make(map[string]bool)
	for _, t := range p.reg.TypesWith(metadata.KindTableMapping) {
		info := p.types[t]
		creator, ok := info.client.(tableCreator)
		if !ok || done[info.table] {
			continue
		}
		if _, err := creator.CreateTable(ctx, nil); err != nil && !isTableExists(err) {
			return classify(err, "create table %s", info.table)
		}
		done[info.table] = true
	}
	return nil
}

func (p *Provider) SupportsPointQueryForType(t metadata.EntityMetadataType) bool {
	info, err := p.info(t)
	return err == nil && !info.noPoint
}

// GetMetadata reads by key, or through QueryByAlternateID for types whose
// row keys do not carry the id.
func (p *Provider) GetMetadata(ctx context.Context, t metadata.EntityMetadataType, id string) (*metadata.EntityMetadata, error) {
	info, err := p.info(t)
	if err != nil {
		return nil, err
	}
	if info.noPoint {
		rows, err := p.FixedQueryMetadata(ctx, t, metadata.QueryByAlternateID{ID: id})
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, provider.ErrNotFound.New("%s %s", t, id)
		}
		if len(rows) > 1 {
			p.log.Warn().Str("entity_type", t.String()).Str("id", id).Int("rows", len(rows)).Msg("alternate id matched more than one row")
		}
		return rows[0], nil
	}

	resp, err := info.client.GetEntity(ctx, info.partitionKey, info.rowKeyPrefix+id, nil)
	if err != nil {
		return nil, classify(err, "get %s %s", t, id)
	}
	return p.entityToMetadata(ctx, t, info, resp.Value)
}

func (p *Provider) SetMetadata(ctx context.Context, md *metadata.EntityMetadata) error {
	info, err := p.writeInfo(md)
	if err != nil {
		return err
	}
	body, err := p.metadataToEntity(ctx, info, md, info.rowKeyPrefix+md.EntityID)
	if err != nil {
		return err
	}
	if _, err := info.client.AddEntity(ctx, body, nil); err != nil {
		return classify(err, "insert %s %s", md.EntityType, md.EntityID)
	}
	return nil
}

// UpdateMetadata replaces the whole row. A missing row is ErrNotFound.
func (p *Provider) UpdateMetadata(ctx context.Context, md *metadata.EntityMetadata) error {
	info, err := p.writeInfo(md)
	if err != nil {
		return err
	}
	rowKey, err := p.locate(ctx, md.EntityType, info, md.EntityID)
	if err != nil {
		return err
	}
	body, err := p.metadataToEntity(ctx, info, md, rowKey)
	if err != nil {
		return err
	}
	if _, err := info.client.UpdateEntity(ctx, body, &aztables.UpdateEntityOptions{UpdateMode: aztables.UpdateModeReplace}); err != nil {
		return classify(err, "update %s %s", md.EntityType, md.EntityID)
	}
	return nil
}

// DeleteMetadata removes the row. A missing row is ErrNotFound.
func (p *Provider) DeleteMetadata(ctx context.Context, md *metadata.EntityMetadata) error {
	info, err := p.writeInfo(md)
	if err != nil {
		return err
	}
	rowKey, err := p.locate(ctx, md.EntityType, info, md.EntityID)
	if err != nil {
		return err
	}
	if _, err := info.client.DeleteEntity(ctx, info.partitionKey, rowKey, nil); err != nil {
		return classify(err, "delete %s %s", md.EntityType, md.EntityID)
	}
	return nil
}

// ClearMetadataStore always returns ErrUnsupported.
func (p *Provider) ClearMetadataStore(_ context.Context, t metadata.EntityMetadataType) error {
	return provider.ErrUnsupported.New("clear metadata store for %s on %s", t, Name)
}

func (p *Provider) FixedQueryMetadata(ctx context.Context, t metadata.EntityMetadataType, q metadata.FixedQuery) ([]*metadata.EntityMetadata, error) {
	if q == nil {
		return nil, fmt.Errorf("fixed query for %s: nil query", t)
	}
	info, err := p.info(t)
	if err != nil {
		return nil, err
	}
	query, err := info.build(q, p.queryContext(t, info))
	if err != nil {
		return nil, err
	}

	entities, err := p.list(ctx, t, info, query.Filter)
	if err != nil {
		return nil, err
	}
	rows := make([]*metadata.EntityMetadata, 0, len(entities))
	for _, raw := range entities {
		md, err := p.entityToMetadata(ctx, t, info, raw)
		if err != nil {
			return nil, err
		}
		rows = append(rows, md)
	}
	if query.Reduce != nil {
		rows = query.Reduce(rows)
	}
	return rows, nil
}

func (p *Provider) SerializationHelper(t metadata.EntityMetadataType) (metadata.SerializeFunc, error) {
	var hook metadata.SerializeHook
	if v, _ := p.reg.GetDefinition(t, metadata.KindTableSerializeHook, false); v != nil {
		hook, _ = v.(metadata.SerializeHook)
	}
	return metadata.NewSerializer(p.reg, t, metadata.KindTableMapping, encodeValue, hook)
}

func (p *Provider) DeserializationHelper(t metadata.EntityMetadataType) (metadata.DeserializeFunc, error) {
	var hook metadata.DeserializeHook
	if v, _ := p.reg.GetDefinition(t, metadata.KindTableDeserializeHook, false); v != nil {
		hook, _ = v.(metadata.DeserializeHook)
	}
	return metadata.NewDeserializer(p.reg, t, hook)
}

func (p *Provider) queryContext(t metadata.EntityMetadataType, info *typeInfo) *QueryContext {
	return &QueryContext{
		Type:         t,
		FieldMap:     info.mapping,
		PartitionKey: info.partitionKey,
		RowKeyPrefix: info.rowKeyPrefix,
	}
}

func (p *Provider) writeInfo(md *metadata.EntityMetadata) (*typeInfo, error) {
	if md == nil {
		return nil, fmt.Errorf("write: nil metadata")
	}
	if md.EntityID == "" {
		return nil, fmt.Errorf("write %s: empty entity id", md.EntityType)
	}
	return p.info(md.EntityType)
}

// locate returns the row key of an existing row.
func (p *Provider) locate(ctx context.Context, t metadata.EntityMetadataType, info *typeInfo, id string) (string, error) {
	if !info.noPoint {
		return info.rowKeyPrefix + id, nil
	}
	filter := fmt.Sprintf("PartitionKey eq %s and %s eq %s", quote(info.partitionKey), info.idColumn, quote(id))
	entities, err := p.list(ctx, t, info, filter)
	if err != nil {
		return "", err
	}
	if len(entities) == 0 {
		return "", provider.ErrNotFound.New("%s %s", t, id)
	}
	_, rowKey, _, err := unmarshalEntity(entities[0])
	if err != nil {
		return "", provider.ErrTransport.Wrap(err)
	}
	return rowKey, nil
}

// list pages through every result of filter.
func (p *Provider) list(ctx context.Context, t metadata.EntityMetadataType, info *typeInfo, filter string) ([][]byte, error) {
	opts := &aztables.ListEntitiesOptions{Filter: &filter}
	if p.pageSize > 0 {
		opts.Top = &p.pageSize
	}
	p.log.Debug().Str("entity_type", t.String()).Str("table", info.table).Str("filter", filter).Msg("query")

	var out [][]byte
	pages := 0
	pager := info.client.NewListEntitiesPager(opts)
	for pager.More() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, classify(err, "query %s", t)
		}
		out = append(out, page.Entities...)
		pages++
	}
	p.log.Debug().Str("entity_type", t.String()).Int("pages", pages).Int("rows", len(out)).Msg("query done")
	return out, nil
}

func (p *Provider) metadataToEntity(ctx context.Context, info *typeInfo, md *metadata.EntityMetadata, rowKey string) ([]byte, error) {
	props := make(map[string]any, len(md.Fields)+1)
	for field, v := range md.Fields {
		col, ok := info.mapping[field]
		if col == metadata.HookedColumn {
			continue
		}
		if !ok {
			// computed by a serialize hook
			col = field
		}
		encoded, err := encodeValue(field, v)
		if err != nil {
			return nil, fmt.Errorf("write %s: %w", md.EntityType, err)
		}
		props[col] = encoded
	}
	if info.idColumn != "" {
		props[info.idColumn] = md.EntityID
	}

	if len(info.encrypted) > 0 {
		encrypted, err := p.engine.Encrypt(ctx, info.partitionKey, rowKey, props, info.encrypted)
		if err != nil {
			return nil, err
		}
		props = encrypted
	}
	body, err := marshalEntity(info.partitionKey, rowKey, props)
	if err != nil {
		return nil, fmt.Errorf("write %s: %w", md.EntityType, err)
	}
	return body, nil
}

func (p *Provider) entityToMetadata(ctx context.Context, t metadata.EntityMetadataType, info *typeInfo, raw []byte) (*metadata.EntityMetadata, error) {
	partitionKey, rowKey, props, err := unmarshalEntity(raw)
	if err != nil {
		return nil, provider.ErrTransport.Wrap(err)
	}
	if _, ok := props[tableencryption.MetadataKeyProperty]; ok {
		if p.engine == nil {
			return nil, tableencryption.ErrCrypto.New("%s row %s is encrypted but no encryption options were provided", t, rowKey)
		}
		if props, err = p.engine.Decrypt(ctx, partitionKey, rowKey, props); err != nil {
			return nil, err
		}
	}

	id := strings.TrimPrefix(rowKey, info.rowKeyPrefix)
	if info.idColumn != "" {
		if v, ok := props[info.idColumn].(string); ok && v != "" {
			id = v
		}
		delete(props, info.idColumn)
	}

	byColumn := make(map[string]string, len(info.mapping))
	for field, col := range info.mapping {
		if col != metadata.HookedColumn {
			byColumn[col] = field
		}
	}

	md := metadata.New(t, id)
	md.EntityFieldNames = p.reg.FieldNames(t)
	var computed []string
	for col, v := range props {
		if field, ok := byColumn[col]; ok {
			md.Fields[field] = v
			continue
		}
		computed = append(computed, col)
	}
	sort.Strings(computed)
	for _, col := range computed {
		md.AppendField(col, props[col])
	}
	return md, nil
}
