// Package provider defines the contract every entity metadata backend
// implements and the errors callers classify results with.
package provider

import (
	"context"

	"github.com/zeebo/errs"

	"portal/internal/metadata"
)

var (
	// ErrNotFound is returned when a point lookup or its fallback query finds
	// no row, and by backends that refuse to update or delete a missing row.
	ErrNotFound = errs.Class("entity not found")
	// ErrConflict is returned when an insert collides with an existing row.
	// The native driver error stays reachable with errors.As.
	ErrConflict = errs.Class("entity already exists")
	// ErrUnsupported is returned for a fixed query or operation the backend
	// does not implement for a type.
	ErrUnsupported = errs.Class("not implemented for this type and backend")
	// ErrTransport wraps failures talking to the underlying store.
	ErrTransport = errs.Class("entity store")
)

// Provider is the only surface business code uses to persist entities.
type Provider interface {
	// Name identifies the backend in logs and metrics.
	Name() string

	GetMetadata(ctx context.Context, t metadata.EntityMetadataType, id string) (*metadata.EntityMetadata, error)
	// SetMetadata inserts and never overwrites.
	SetMetadata(ctx context.Context, md *metadata.EntityMetadata) error
	// UpdateMetadata replaces an existing row.
	UpdateMetadata(ctx context.Context, md *metadata.EntityMetadata) error
	DeleteMetadata(ctx context.Context, md *metadata.EntityMetadata) error
	// ClearMetadataStore removes every row of t. Backends that cannot do
	// this return ErrUnsupported.
	ClearMetadataStore(ctx context.Context, t metadata.EntityMetadataType) error
	FixedQueryMetadata(ctx context.Context, t metadata.EntityMetadataType, q metadata.FixedQuery) ([]*metadata.EntityMetadata, error)

	SerializationHelper(t metadata.EntityMetadataType) (metadata.SerializeFunc, error)
	DeserializationHelper(t metadata.EntityMetadataType) (metadata.DeserializeFunc, error)

	// SupportsPointQueryForType reports whether GetMetadata is a direct key
	// lookup for t rather than a query.
	SupportsPointQueryForType(t metadata.EntityMetadataType) bool
}

// Unsupported returns the error for a query discriminator a backend has no
// handler for.
func Unsupported(backend string, t metadata.EntityMetadataType, q metadata.FixedQuery) error {
	return ErrUnsupported.New("fixed query %q for type %s on %s", q.FixedQueryType(), t, backend)
}

// IsNotFound reports whether err is classed as ErrNotFound.
func IsNotFound(err error) bool { return ErrNotFound.Has(err) }

// IsConflict reports whether err is classed as ErrConflict.
func IsConflict(err error) bool { return ErrConflict.Has(err) }

// IsUnsupported reports whether err is classed as ErrUnsupported.
func IsUnsupported(err error) bool { return ErrUnsupported.Has(err) }
