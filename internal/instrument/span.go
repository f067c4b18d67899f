// Package instrument records metrics and debug events for provider calls.
package instrument

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"

	"portal/internal/metadata"
	"portal/internal/provider"
	"portal/internal/tableencryption"
)

// Instrumenter starts a span per provider operation.
type Instrumenter interface {
	StartSpan(ctx context.Context, backend, operation string, t metadata.EntityMetadataType) (context.Context, Span)
}

// Span covers one operation. End must be called exactly once.
type Span interface {
	SetEntity(id string)
	SetRows(n int)
	End(err error)
}

// Metrics holds the provider metrics.
type Metrics struct {
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	RowsReturned      *prometheus.HistogramVec
}

// NewMetrics creates the metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		OperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "entitymeta_provider_operations_total",
				Help: "Total number of entity provider operations",
			},
			[]string{"provider", "operation", "entity_type", "status"},
		),
		OperationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "entitymeta_provider_operation_duration_seconds",
				Help:    "Duration of entity provider operations in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"provider", "operation"},
		),
		RowsReturned: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "entitymeta_provider_query_rows",
				Help:    "Rows returned by fixed queries",
				Buckets: prometheus.ExponentialBuckets(1, 4, 8),
			},
			[]string{"provider", "entity_type"},
		),
	}
}

// PromInstrumenter records spans as Prometheus metrics and debug log events.
type PromInstrumenter struct {
	metrics *Metrics
	log     zerolog.Logger
}

func NewPromInstrumenter(m *Metrics, log zerolog.Logger) *PromInstrumenter {
	return &PromInstrumenter{metrics: m, log: log}
}

func (i *PromInstrumenter) StartSpan(ctx context.Context, backend, operation string, t metadata.EntityMetadataType) (context.Context, Span) {
	return ctx, &promSpan{
		inst:      i,
		backend:   backend,
		operation: operation,
		entity:    t.String(),
		start:     time.Now(),
		rows:      -1,
	}
}

type promSpan struct {
	inst      *PromInstrumenter
	backend   string
	operation string
	entity    string
	id        string
	rows      int
	start     time.Time
}

func (s *promSpan) SetEntity(id string) { s.id = id }
func (s *promSpan) SetRows(n int)       { s.rows = n }

func (s *promSpan) End(err error) {
	elapsed := time.Since(s.start)
	status := Status(err)
	m := s.inst.metrics
	m.OperationsTotal.WithLabelValues(s.backend, s.operation, s.entity, status).Inc()
	m.OperationDuration.WithLabelValues(s.backend, s.operation).Observe(elapsed.Seconds())
	if s.rows >= 0 {
		m.RowsReturned.WithLabelValues(s.backend, s.entity).Observe(float64(s.rows))
	}

	ev := s.inst.log.Debug()
	if status == "error" || status == "crypto_error" {
		ev = s.inst.log.Warn().Err(err)
	}
	ev = ev.Str("provider", s.backend).
		Str("operation", s.operation).
		Str("entity_type", s.entity).
		Str("status", status).
		Dur("elapsed", elapsed)
	if s.id != "" {
		ev = ev.Str("entity_id", s.id)
	}
	if s.rows >= 0 {
		ev = ev.Int("rows", s.rows)
	}
	ev.Msg("provider operation")
}

// Status labels an operation result with its error class.
func Status(err error) string {
	switch {
	case err == nil:
		return "ok"
	case provider.IsNotFound(err):
		return "not_found"
	case provider.IsConflict(err):
		return "conflict"
	case provider.IsUnsupported(err):
		return "unsupported"
	case metadata.IsConfigurationError(err):
		return "configuration_error"
	case tableencryption.ErrCrypto.Has(err):
		return "crypto_error"
	default:
		return "error"
	}
}
