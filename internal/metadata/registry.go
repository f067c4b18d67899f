package metadata

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"

	"github.com/zeebo/errs"
)

// ErrConfiguration classes registration and startup validation failures.
var ErrConfiguration = errs.Class("entity metadata configuration")

// Builder collects registrations. It is not safe for concurrent use and is
// discarded once Build succeeds.
type Builder struct {
	defs  map[EntityMetadataType]map[DefinitionKind]any
	order []EntityMetadataType
}

func NewBuilder() *Builder {
	return &Builder{defs: make(map[EntityMetadataType]map[DefinitionKind]any)}
}

// Register records value for (t, kind). Registering the same pair twice fails.
func (b *Builder) Register(t EntityMetadataType, kind DefinitionKind, value any) error {
	if t.IsZero() {
		return ErrConfiguration.New("cannot register %s for an unnamed type", kind)
	}
	byKind, ok := b.defs[t]
	if !ok {
		byKind = make(map[DefinitionKind]any)
		b.defs[t] = byKind
		b.order = append(b.order, t)
	}
	if _, exists := byKind[kind]; exists {
		return ErrConfiguration.New("%s already registered for %s", kind, t)
	}
	byKind[kind] = value
	return nil
}

// Define registers every populated part of def.
func (b *Builder) Define(def EntityDefinition) error {
	var group errs.Group
	reg := func(kind DefinitionKind, value any) {
		group.Add(b.Register(def.Type, kind, value))
	}

	if def.New != nil {
		reg(KindInstantiate, def.New)
	}
	if def.IDFieldName != "" {
		reg(KindIDFieldName, def.IDFieldName)
	}
	reg(KindFieldNames, slices.Clone(def.FieldNames))
	if len(def.PermittedExtraKeys) > 0 {
		reg(KindPermittedExtraKeys, slices.Clone(def.PermittedExtraKeys))
	}

	if pg := def.Postgres; pg != nil {
		reg(KindPostgresMapping, pg.Mapping)
		if pg.Table != "" {
			reg(KindPostgresDefaultTable, pg.Table)
		}
		if pg.Queries != nil {
			reg(KindPostgresQueries, pg.Queries)
		}
	}

	if tbl := def.Table; tbl != nil {
		reg(KindTableMapping, tbl.Mapping)
		if tbl.Table != "" {
			reg(KindTableDefaultTable, tbl.Table)
		}
		if tbl.PartitionKey != "" {
			reg(KindTablePartitionKey, tbl.PartitionKey)
		}
		if tbl.RowKeyPrefix != "" {
			reg(KindTableRowKeyPrefix, tbl.RowKeyPrefix)
		}
		if tbl.NoPointQueries {
			reg(KindTableNoPointQueries, true)
		}
		if len(tbl.EncryptedColumns) > 0 {
			reg(KindTableEncryptedColumns, slices.Clone(tbl.EncryptedColumns))
		}
		if tbl.Queries != nil {
			reg(KindTableQueries, tbl.Queries)
		}
		if tbl.SerializeHook != nil {
			reg(KindTableSerializeHook, tbl.SerializeHook)
		}
		if tbl.DeserializeHook != nil {
			reg(KindTableDeserializeHook, tbl.DeserializeHook)
		}
	}

	if mem := def.Memory; mem != nil {
		reg(KindMemoryMapping, mem.Mapping)
		if mem.Queries != nil {
			reg(KindMemoryQueries, mem.Queries)
		}
	}

	return group.Err()
}

// Build validates every registered type and returns the read-only registry.
// All problems are reported together.
func (b *Builder) Build() (*Registry, error) {
	var problems []string
	for _, t := range b.order {
		problems = append(problems, validateType(t, b.defs[t])...)
	}
	if len(problems) > 0 {
		return nil, ErrConfiguration.New("%d problem(s):\n  %s", len(problems), strings.Join(problems, "\n  "))
	}

	reg := &Registry{defs: make(map[EntityMetadataType]map[DefinitionKind]any, len(b.defs))}
	for t, byKind := range b.defs {
		copied := make(map[DefinitionKind]any, len(byKind))
		for k, v := range byKind {
			copied[k] = cloneDefinition(v)
		}
		reg.defs[t] = copied
	}
	return reg, nil
}

// cloneDefinition copies the map and slice definitions so callers keep no
// handle on registry state.
func cloneDefinition(v any) any {
	switch val := v.(type) {
	case map[string]string:
		return maps.Clone(val)
	case []string:
		return slices.Clone(val)
	}
	return v
}

func validateType(t EntityMetadataType, defs map[DefinitionKind]any) []string {
	var problems []string
	if _, ok := defs[KindInstantiate].(func() any); !ok {
		problems = append(problems, fmt.Sprintf("%s: no instantiation factory", t))
	}
	idField, _ := defs[KindIDFieldName].(string)
	if idField == "" {
		problems = append(problems, fmt.Sprintf("%s: no id field name", t))
	}
	declared, _ := defs[KindFieldNames].([]string)
	extras, _ := defs[KindPermittedExtraKeys].([]string)
	if idField != "" {
		extras = append(slices.Clone(extras), idField)
	}

	configured := 0
	for _, be := range backends {
		raw, ok := defs[be.mapping]
		if !ok {
			continue
		}
		configured++
		mapping, ok := raw.(map[string]string)
		if !ok {
			problems = append(problems, fmt.Sprintf("%s: %s is %T, not map[string]string", t, be.mapping, raw))
			continue
		}
		if err := RuntimeValidateMappings(t, be.mapping, declared, mapping, extras); err != nil {
			problems = append(problems, err.Error())
		}
		if be.table != 0 {
			if name, _ := defs[be.table].(string); name == "" {
				problems = append(problems, fmt.Sprintf("%s: %s backend has a mapping but no %s", t, be.name, be.table))
			}
		}
		if defs[be.queries] == nil {
			problems = append(problems, fmt.Sprintf("%s: %s backend has a mapping but no fixed query builder", t, be.name))
		}
	}
	if configured == 0 {
		problems = append(problems, fmt.Sprintf("%s: no backend mapping registered", t))
	}

	if _, ok := defs[KindTableMapping]; ok {
		if pk, _ := defs[KindTablePartitionKey].(string); pk == "" {
			problems = append(problems, fmt.Sprintf("%s: table backend has no fixed partition key", t))
		}
		mapping, _ := defs[KindTableMapping].(map[string]string)
		if noPoint, _ := defs[KindTableNoPointQueries].(bool); noPoint && mapping[idField] == "" {
			problems = append(problems, fmt.Sprintf("%s: table type without point queries must map id field %q to a column", t, idField))
		}
		encrypted, _ := defs[KindTableEncryptedColumns].([]string)
		for _, col := range encrypted {
			if !slices.Contains(mappedColumns(mapping), col) {
				problems = append(problems, fmt.Sprintf("%s: encrypted column %q is not a mapped table column", t, col))
			}
		}
		for fieldName, column := range mapping {
			if column == HookedColumn && defs[KindTableSerializeHook] == nil {
				problems = append(problems, fmt.Sprintf("%s: field %q is hooked but no table serialize hook is registered", t, fieldName))
			}
		}
	}
	return problems
}

func mappedColumns(mapping map[string]string) []string {
	cols := make([]string, 0, len(mapping))
	for _, col := range mapping {
		cols = append(cols, col)
	}
	return cols
}

// RuntimeValidateMappings compares the declared field names against the keys
// of mapping. Keys listed in permittedExtraKeys may appear in mapping without
// being declared. Every mismatch is listed in the returned error.
func RuntimeValidateMappings(t EntityMetadataType, kind DefinitionKind, declaredFieldNames []string, mapping map[string]string, permittedExtraKeys []string) error {
	var missing, unexpected []string
	for _, name := range declaredFieldNames {
		if _, ok := mapping[name]; !ok {
			missing = append(missing, name)
		}
	}
	for key := range mapping {
		if slices.Contains(declaredFieldNames, key) || slices.Contains(permittedExtraKeys, key) {
			continue
		}
		unexpected = append(unexpected, key)
	}
	if len(missing) == 0 && len(unexpected) == 0 {
		return nil
	}
	sort.Strings(missing)
	sort.Strings(unexpected)

	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "declared but not mapped: "+strings.Join(missing, ", "))
	}
	if len(unexpected) > 0 {
		parts = append(parts, "mapped but not declared: "+strings.Join(unexpected, ", "))
	}
	return ErrConfiguration.New("%s %s: %s", t, kind, strings.Join(parts, "; "))
}

// Registry is the validated, read-only set of registrations.
type Registry struct {
	defs map[EntityMetadataType]map[DefinitionKind]any
}

// Types returns every registered type ordered by name.
func (r *Registry) Types() []EntityMetadataType {
	types := make([]EntityMetadataType, 0, len(r.defs))
	for t := range r.defs {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i].name < types[j].name })
	return types
}

// TypeByName finds a registered type by its name.
func (r *Registry) TypeByName(name string) (EntityMetadataType, bool) {
	t := NewEntityMetadataType(name)
	_, ok := r.defs[t]
	return t, ok
}

// GetDefinition returns the value for (t, kind). When the value is missing it
// returns a configuration error if throwIfMissing is set, and (nil, nil)
// otherwise. Map and slice values are returned as copies.
func (r *Registry) GetDefinition(t EntityMetadataType, kind DefinitionKind, throwIfMissing bool) (any, error) {
	if byKind, ok := r.defs[t]; ok {
		if v, ok := byKind[kind]; ok {
			return cloneDefinition(v), nil
		}
	}
	if throwIfMissing {
		return nil, ErrConfiguration.New("%s is not configured for entity type %s", kind, t)
	}
	return nil, nil
}

// HasDefinition reports whether (t, kind) has a value.
func (r *Registry) HasDefinition(t EntityMetadataType, kind DefinitionKind) bool {
	v, _ := r.GetDefinition(t, kind, false)
	return v != nil
}

// InstantiateObject calls the registered factory for t.
func (r *Registry) InstantiateObject(t EntityMetadataType) (any, error) {
	v, err := r.GetDefinition(t, KindInstantiate, true)
	if err != nil {
		return nil, err
	}
	factory, ok := v.(func() any)
	if !ok {
		return nil, ErrConfiguration.New("instantiate for %s is %T", t, v)
	}
	return factory(), nil
}

// String returns a string definition, or "" when absent and not required.
func (r *Registry) String(t EntityMetadataType, kind DefinitionKind, required bool) (string, error) {
	v, err := r.GetDefinition(t, kind, required)
	if err != nil || v == nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", ErrConfiguration.New("%s for %s is %T, not string", kind, t, v)
	}
	return s, nil
}

// Strings returns a []string definition.
func (r *Registry) Strings(t EntityMetadataType, kind DefinitionKind, required bool) ([]string, error) {
	v, err := r.GetDefinition(t, kind, required)
	if err != nil || v == nil {
		return nil, err
	}
	s, ok := v.([]string)
	if !ok {
		return nil, ErrConfiguration.New("%s for %s is %T, not []string", kind, t, v)
	}
	return s, nil
}

// Bool returns a bool definition, false when absent.
func (r *Registry) Bool(t EntityMetadataType, kind DefinitionKind) bool {
	v, _ := r.GetDefinition(t, kind, false)
	b, _ := v.(bool)
	return b
}

// Mapping returns the field→column map registered under kind.
func (r *Registry) Mapping(t EntityMetadataType, kind DefinitionKind) (map[string]string, error) {
	v, err := r.GetDefinition(t, kind, true)
	if err != nil {
		return nil, err
	}
	m, ok := v.(map[string]string)
	if !ok {
		return nil, ErrConfiguration.New("%s for %s is %T", kind, t, v)
	}
	return m, nil
}

// FieldNames returns the declared business fields of t in declaration order.
func (r *Registry) FieldNames(t EntityMetadataType) []string {
	names, _ := r.Strings(t, KindFieldNames, false)
	return names
}

// IDFieldName returns the business field holding the entity id.
func (r *Registry) IDFieldName(t EntityMetadataType) (string, error) {
	return r.String(t, KindIDFieldName, true)
}

// TypesWith returns the types that registered kind.
func (r *Registry) TypesWith(kind DefinitionKind) []EntityMetadataType {
	var out []EntityMetadataType
	for _, t := range r.Types() {
		if r.HasDefinition(t, kind) {
			out = append(out, t)
		}
	}
	return out
}

// IsConfigurationError reports whether err came from registration or validation.
func IsConfigurationError(err error) bool {
	return ErrConfiguration.Has(err)
}
