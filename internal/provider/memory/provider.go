// Package memory keeps entities in process memory. It backs tests and local
// development and implements the same contract as the durable backends.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rs/zerolog"

	"portal/internal/metadata"
	"portal/internal/provider"
)

// Name identifies this backend.
const Name = "memory"

var valueRules = metadata.ValueRules{}

// record is a stored row: values keyed by mapped column.
type record struct {
	id      string
	columns map[string]any
}

// Provider implements provider.Provider with maps guarded by a RWMutex.
type Provider struct {
	reg *metadata.Registry
	log zerolog.Logger

	mu   sync.RWMutex
	rows map[metadata.EntityMetadataType]map[string]*record

	progMu   sync.Mutex
	programs map[string]*vm.Program
}

var _ provider.Provider = (*Provider)(nil)

func New(reg *metadata.Registry, log zerolog.Logger) (*Provider, error) {
	for _, t := range reg.TypesWith(metadata.KindMemoryMapping) {
		v, err := reg.GetDefinition(t, metadata.KindMemoryQueries, true)
		if err != nil {
			return nil, err
		}
		if _, ok := asQueryBuilder(v); !ok {
			return nil, metadata.ErrConfiguration.New("%s for %s is %T, not a memory.QueryBuilder", metadata.KindMemoryQueries, t, v)
		}
	}
	return &Provider{
		reg:      reg,
		log:      log.With().Str("provider", Name).Logger(),
		rows:     make(map[metadata.EntityMetadataType]map[string]*record),
		programs: make(map[string]*vm.Program),
	}, nil
}

func (p *Provider) Name() string { return Name }

func (p *Provider) mapping(t metadata.EntityMetadataType) (map[string]string, error) {
	return p.reg.Mapping(t, metadata.KindMemoryMapping)
}

func (p *Provider) GetMetadata(_ context.Context, t metadata.EntityMetadataType, id string) (*metadata.EntityMetadata, error) {
	mapping, err := p.mapping(t)
	if err != nil {
		return nil, err
	}
	p.mu.RLock()
	rec, ok := p.rows[t][id]
	p.mu.RUnlock()
	if !ok {
		return nil, provider.ErrNotFound.New("%s %s", t, id)
	}
	return p.toMetadata(t, mapping, rec), nil
}

func (p *Provider) SetMetadata(_ context.Context, md *metadata.EntityMetadata) error {
	rec, err := p.toRecord(md)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	byID, ok := p.rows[md.EntityType]
	if !ok {
		byID = make(map[string]*record)
		p.rows[md.EntityType] = byID
	}
	if _, exists := byID[md.EntityID]; exists {
		return provider.ErrConflict.New("%s %s", md.EntityType, md.EntityID)
	}
	byID[md.EntityID] = rec
	return nil
}

// UpdateMetadata replaces an existing row. A missing row is ErrNotFound.
func (p *Provider) UpdateMetadata(_ context.Context, md *metadata.EntityMetadata) error {
	rec, err := p.toRecord(md)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.rows[md.EntityType][md.EntityID]; !exists {
		return provider.ErrNotFound.New("%s %s", md.EntityType, md.EntityID)
	}
	p.rows[md.EntityType][md.EntityID] = rec
	return nil
}

// DeleteMetadata removes the row if present.
func (p *Provider) DeleteMetadata(_ context.Context, md *metadata.EntityMetadata) error {
	if md == nil {
		return fmt.Errorf("delete: nil metadata")
	}
	if _, err := p.mapping(md.EntityType); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.rows[md.EntityType], md.EntityID)
	return nil
}

func (p *Provider) ClearMetadataStore(_ context.Context, t metadata.EntityMetadataType) error {
	if _, err := p.mapping(t); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.rows, t)
	return nil
}

func (p *Provider) FixedQueryMetadata(_ context.Context, t metadata.EntityMetadataType, q metadata.FixedQuery) ([]*metadata.EntityMetadata, error) {
	if q == nil {
		return nil, fmt.Errorf("fixed query for %s: nil query", t)
	}
	mapping, err := p.mapping(t)
	if err != nil {
		return nil, err
	}
	v, err := p.reg.GetDefinition(t, metadata.KindMemoryQueries, true)
	if err != nil {
		return nil, err
	}
	build, _ := asQueryBuilder(v)
	query, err := build(q, &QueryContext{Type: t, FieldMap: mapping})
	if err != nil {
		return nil, err
	}

	var prog *vm.Program
	if query.Filter != "" {
		if prog, err = p.compile(query.Filter); err != nil {
			return nil, err
		}
	}

	p.mu.RLock()
	candidates := make([]*record, 0, len(p.rows[t]))
	for _, rec := range p.rows[t] {
		candidates = append(candidates, rec)
	}
	p.mu.RUnlock()
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].id < candidates[j].id })

	var results []*metadata.EntityMetadata
	for _, rec := range candidates {
		if prog != nil {
			ok, err := p.match(prog, query.Params, rec)
			if err != nil {
				return nil, fmt.Errorf("memory query %s for %s: %w", q.FixedQueryType(), t, err)
			}
			if !ok {
				continue
			}
		}
		results = append(results, p.toMetadata(t, mapping, rec))
	}
	if query.Reduce != nil {
		results = query.Reduce(results)
	}
	return results, nil
}

func (p *Provider) SerializationHelper(t metadata.EntityMetadataType) (metadata.SerializeFunc, error) {
	return metadata.NewSerializer(p.reg, t, metadata.KindMemoryMapping, encodeValue, nil)
}

func (p *Provider) DeserializationHelper(t metadata.EntityMetadataType) (metadata.DeserializeFunc, error) {
	return metadata.NewDeserializer(p.reg, t, nil)
}

func (p *Provider) SupportsPointQueryForType(metadata.EntityMetadataType) bool { return true }

func encodeValue(_ string, v any) (any, error) {
	return metadata.NormalizeValue(v, valueRules)
}

func (p *Provider) compile(filter string) (*vm.Program, error) {
	p.progMu.Lock()
	defer p.progMu.Unlock()
	if prog, ok := p.programs[filter]; ok {
		return prog, nil
	}
	prog, err := expr.Compile(filter, expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile filter: %w", err)
	}
	p.programs[filter] = prog
	return prog, nil
}

func (p *Provider) match(prog *vm.Program, params map[string]any, rec *record) (bool, error) {
	env := make(map[string]any, len(params)+2)
	for k, v := range params {
		env[k] = v
	}
	env["row"] = rec.columns
	env["id"] = rec.id

	out, err := expr.Run(prog, env)
	if err != nil {
		return false, fmt.Errorf("evaluate filter: %w", err)
	}
	ok, _ := out.(bool)
	return ok, nil
}

func (p *Provider) toRecord(md *metadata.EntityMetadata) (*record, error) {
	if md == nil {
		return nil, fmt.Errorf("write: nil metadata")
	}
	if md.EntityID == "" {
		return nil, fmt.Errorf("write %s: empty entity id", md.EntityType)
	}
	mapping, err := p.mapping(md.EntityType)
	if err != nil {
		return nil, err
	}
	copied := md.Clone()
	rec := &record{id: md.EntityID, columns: make(map[string]any, len(copied.Fields))}
	for field, v := range copied.Fields {
		col, ok := mapping[field]
		if !ok || col == metadata.HookedColumn {
			col = field
		}
		rec.columns[col] = v
	}
	return rec, nil
}

func (p *Provider) toMetadata(t metadata.EntityMetadataType, mapping map[string]string, rec *record) *metadata.EntityMetadata {
	byColumn := make(map[string]string, len(mapping))
	for field, col := range mapping {
		byColumn[col] = field
	}
	md := metadata.New(t, rec.id)
	md.EntityFieldNames = p.reg.FieldNames(t)
	for col, v := range rec.columns {
		if field, ok := byColumn[col]; ok {
			md.Fields[field] = v
			continue
		}
		md.Fields[col] = v
	}
	return md.Clone()
}
