package instrument

import (
	"context"

	"portal/internal/metadata"
	"portal/internal/provider"
)

// Wrap returns a provider that reports every I/O call of p to inst.
func Wrap(p provider.Provider, inst Instrumenter) provider.Provider {
	if inst == nil {
		inst = NoopInstrumenter{}
	}
	return &instrumented{next: p, inst: inst}
}

type instrumented struct {
	next provider.Provider
	inst Instrumenter
}

func (w *instrumented) Name() string { return w.next.Name() }

func (w *instrumented) GetMetadata(ctx context.Context, t metadata.EntityMetadataType, id string) (md *metadata.EntityMetadata, err error) {
	ctx, span := w.inst.StartSpan(ctx, w.next.Name(), "get", t)
	span.SetEntity(id)
	defer func() { span.End(err) }()
	return w.next.GetMetadata(ctx, t, id)
}

func (w *instrumented) SetMetadata(ctx context.Context, md *metadata.EntityMetadata) (err error) {
	ctx, span := w.start(ctx, "insert", md)
	defer func() { span.End(err) }()
	return w.next.SetMetadata(ctx, md)
}

func (w *instrumented) UpdateMetadata(ctx context.Context, md *metadata.EntityMetadata) (err error) {
	ctx, span := w.start(ctx, "update", md)
	defer func() { span.End(err) }()
	return w.next.UpdateMetadata(ctx, md)
}

func (w *instrumented) DeleteMetadata(ctx context.Context, md *metadata.EntityMetadata) (err error) {
	ctx, span := w.start(ctx, "delete", md)
	defer func() { span.End(err) }()
	return w.next.DeleteMetadata(ctx, md)
}

func (w *instrumented) ClearMetadataStore(ctx context.Context, t metadata.EntityMetadataType) (err error) {
	ctx, span := w.inst.StartSpan(ctx, w.next.Name(), "clear", t)
	defer func() { span.End(err) }()
	return w.next.ClearMetadataStore(ctx, t)
}

func (w *instrumented) FixedQueryMetadata(ctx context.Context, t metadata.EntityMetadataType, q metadata.FixedQuery) (rows []*metadata.EntityMetadata, err error) {
	op := "query"
	if q != nil {
		op = "query:" + string(q.FixedQueryType())
	}
	ctx, span := w.inst.StartSpan(ctx, w.next.Name(), op, t)
	defer func() {
		if err == nil {
			span.SetRows(len(rows))
		}
		span.End(err)
	}()
	return w.next.FixedQueryMetadata(ctx, t, q)
}

func (w *instrumented) SerializationHelper(t metadata.EntityMetadataType) (metadata.SerializeFunc, error) {
	return w.next.SerializationHelper(t)
}

func (w *instrumented) DeserializationHelper(t metadata.EntityMetadataType) (metadata.DeserializeFunc, error) {
	return w.next.DeserializationHelper(t)
}

func (w *instrumented) SupportsPointQueryForType(t metadata.EntityMetadataType) bool {
	return w.next.SupportsPointQueryForType(t)
}

func (w *instrumented) start(ctx context.Context, op string, md *metadata.EntityMetadata) (context.Context, Span) {
	var t metadata.EntityMetadataType
	var id string
	if md != nil {
		t, id = md.EntityType, md.EntityID
	}
	ctx, span := w.inst.StartSpan(ctx, w.next.Name(), op, t)
	span.SetEntity(id)
	return ctx, span
}
