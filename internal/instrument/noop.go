package instrument

import (
	"context"

	"portal/internal/metadata"
)

// NoopInstrumenter discards all spans. Used when instrumentation is disabled.
type NoopInstrumenter struct{}

func (NoopInstrumenter) StartSpan(ctx context.Context, _, _ string, _ metadata.EntityMetadataType) (context.Context, Span) {
	return ctx, NoopSpan{}
}

// NoopSpan discards all data.
type NoopSpan struct{}

func (NoopSpan) End(error)        {}
func (NoopSpan) SetEntity(string) {}
func (NoopSpan) SetRows(int)      {}
