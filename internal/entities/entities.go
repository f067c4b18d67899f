// Package entities registers the business types the portal persists.
package entities

import (
	"portal/internal/metadata"
)

// Definitions returns the registration of every portal type.
func Definitions() []metadata.EntityDefinition {
	return []metadata.EntityDefinition{
		repositoryDefinition(),
		extensionKeyDefinition(),
		voteDefinition(),
	}
}

// Register defines every portal type on b. Problems are reported by Build.
func Register(b *metadata.Builder) error {
	for _, def := range Definitions() {
		if err := b.Define(def); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry builds a registry holding only the portal types.
func NewRegistry() (*metadata.Registry, error) {
	b := metadata.NewBuilder()
	if err := Register(b); err != nil {
		return nil, err
	}
	return b.Build()
}

func identityMapping(fields []string) map[string]string {
	m := make(map[string]string, len(fields))
	for _, f := range fields {
		m[f] = f
	}
	return m
}
