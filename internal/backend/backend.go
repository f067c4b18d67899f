// Package backend opens the entity provider a configuration selects.
package backend

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"portal/internal/config"
	"portal/internal/logger"
	"portal/internal/metadata"
	"portal/internal/provider"
	"portal/internal/provider/memory"
	"portal/internal/provider/postgres"
	"portal/internal/provider/table"
	"portal/internal/secrets"
	"portal/internal/store"
	"portal/internal/tableencryption"
)

// Opened is a ready provider and whatever must be released with it.
type Opened struct {
	Provider provider.Provider
	close    func() error
}

// Close releases the underlying connection pool, if any.
func (o *Opened) Close() error {
	if o.close == nil {
		return nil
	}
	return o.close()
}

func typeNames(reg *metadata.Registry) []string {
	types := reg.Types()
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = t.String()
	}
	return names
}

// Open builds the provider named by cfg.Provider over reg.
func Open(ctx context.Context, cfg *config.Config, reg *metadata.Registry, log zerolog.Logger) (*Opened, error) {
	switch cfg.Provider {
	case memory.Name:
		p, err := memory.New(reg, logger.Component(log, memory.Name))
		if err != nil {
			return nil, err
		}
		return &Opened{Provider: p}, nil

	case postgres.Name:
		return openPostgres(ctx, cfg, reg, log)

	case table.Name:
		return openTable(ctx, cfg, reg, log)

	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}
}

func openPostgres(ctx context.Context, cfg *config.Config, reg *metadata.Registry, log zerolog.Logger) (*Opened, error) {
	s, err := store.New(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	p, err := postgres.New(s, reg, postgres.Options{
		Columns: store.DocumentColumns{
			Type:     cfg.Database.TypeColumn,
			ID:       cfg.Database.IDColumn,
			Metadata: cfg.Database.MetadataColumn,
		},
		Tables: config.TableOverrides(cfg.Database.Tables, typeNames(reg)),
		Logger: logger.Component(log, postgres.Name),
	})
	if err != nil {
		s.Close()
		return nil, err
	}
	if cfg.Database.CreateTables {
		if err := p.EnsureTables(ctx); err != nil {
			s.Close()
			return nil, err
		}
	}
	log.Info().Str("driver", s.Dialect.Name()).Msg("document store ready")
	return &Opened{Provider: p, close: s.Close}, nil
}

func openTable(ctx context.Context, cfg *config.Config, reg *metadata.Registry, log zerolog.Logger) (*Opened, error) {
	clients, err := table.NewSharedKeyClientFactory(cfg.Table)
	if err != nil {
		return nil, err
	}

	var engine *tableencryption.Engine
	if cfg.Encryption.Enabled() {
		resolver, err := secrets.FromConfig(cfg.Encryption)
		if err != nil {
			return nil, fmt.Errorf("encryption keys: %w", err)
		}
		engine, err = tableencryption.New(tableencryption.Options{
			KeyEncryptionKeyID: cfg.Encryption.KeyEncryptionKeyID,
			Resolver:           resolver,
		})
		if err != nil {
			return nil, err
		}
	}

	p, err := table.New(reg, table.Options{
		Clients:    clients,
		Tables:     config.TableOverrides(cfg.Table.Tables, typeNames(reg)),
		Encryption: engine,
		PageSize:   cfg.Table.PageSize,
		Logger:     logger.Component(log, table.Name),
	})
	if err != nil {
		return nil, err
	}
	if cfg.Table.CreateTables {
		if err := p.EnsureTables(ctx); err != nil {
			return nil, err
		}
	}
	log.Info().Str("account", cfg.Table.AccountName).Bool("encryption", engine != nil).Msg("table store ready")
	return &Opened{Provider: p}, nil
}
