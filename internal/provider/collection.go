package provider

import (
	"context"
	"fmt"

	"portal/internal/metadata"
)

// Collection gives business code typed access to one entity type. T is the
// struct the type's factory instantiates.
type Collection[T any] struct {
	p Provider
	t metadata.EntityMetadataType
}

func NewCollection[T any](p Provider, t metadata.EntityMetadataType) *Collection[T] {
	return &Collection[T]{p: p, t: t}
}

// Type returns the entity type this collection reads and writes.
func (c *Collection[T]) Type() metadata.EntityMetadataType { return c.t }

func (c *Collection[T]) Get(ctx context.Context, id string) (*T, error) {
	md, err := c.p.GetMetadata(ctx, c.t, id)
	if err != nil {
		return nil, err
	}
	return c.decode(md)
}

func (c *Collection[T]) Insert(ctx context.Context, obj *T) error {
	md, err := c.encode(obj)
	if err != nil {
		return err
	}
	return c.p.SetMetadata(ctx, md)
}

func (c *Collection[T]) Replace(ctx context.Context, obj *T) error {
	md, err := c.encode(obj)
	if err != nil {
		return err
	}
	return c.p.UpdateMetadata(ctx, md)
}

func (c *Collection[T]) Delete(ctx context.Context, obj *T) error {
	md, err := c.encode(obj)
	if err != nil {
		return err
	}
	return c.p.DeleteMetadata(ctx, md)
}

// Query runs a fixed query that returns entity-shaped rows.
func (c *Collection[T]) Query(ctx context.Context, q metadata.FixedQuery) ([]*T, error) {
	rows, err := c.p.FixedQueryMetadata(ctx, c.t, q)
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(rows))
	for _, md := range rows {
		obj, err := c.decode(md)
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}

func (c *Collection[T]) encode(obj *T) (*metadata.EntityMetadata, error) {
	serialize, err := c.p.SerializationHelper(c.t)
	if err != nil {
		return nil, err
	}
	return serialize(obj)
}

func (c *Collection[T]) decode(md *metadata.EntityMetadata) (*T, error) {
	deserialize, err := c.p.DeserializationHelper(c.t)
	if err != nil {
		return nil, err
	}
	obj, err := deserialize(md)
	if err != nil {
		return nil, err
	}
	typed, ok := obj.(*T)
	if !ok {
		return nil, fmt.Errorf("%s factory returned %T, collection expects %T", c.t, obj, new(T))
	}
	return typed, nil
}
