package backend_test

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"portal/internal/backend"
	"portal/internal/config"
	"portal/internal/entities"
	"portal/internal/metadata"
)

func TestOpenMemory(t *testing.T) {
	reg, err := entities.NewRegistry()
	require.NoError(t, err)

	opened, err := backend.Open(context.Background(), &config.Config{Provider: "memory"}, reg, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, "memory", opened.Provider.Name())
	require.NoError(t, opened.Close())
}

func TestOpenSQLiteCreatesTables(t *testing.T) {
	ctx := context.Background()
	reg, err := entities.NewRegistry()
	require.NoError(t, err)

	cfg := &config.Config{
		Provider: "postgres",
		Database: config.DatabaseConfig{
			Driver:       "sqlite",
			Path:         t.TempDir(),
			Name:         "portal",
			CreateTables: true,
			Tables:       map[string]string{"electionvote": "votes_v2"},
		},
	}
	opened, err := backend.Open(ctx, cfg, reg, zerolog.Nop())
	require.NoError(t, err)
	defer opened.Close()

	p := opened.Provider
	serialize, err := p.SerializationHelper(entities.ElectionVoteType)
	require.NoError(t, err)
	md, err := serialize(entities.NewElectionVote("e1", "voter", "nominee"))
	require.NoError(t, err)
	require.NoError(t, p.SetMetadata(ctx, md))

	rows, err := p.FixedQueryMetadata(ctx, entities.ElectionVoteType, metadata.QueryAll{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestOpenTableRequiresKeysForEncryptedTypes(t *testing.T) {
	reg, err := entities.NewRegistry()
	require.NoError(t, err)

	cfg := &config.Config{
		Provider: "table",
		Table:    config.TableConfig{AccountName: "portaldata", AccountKey: "a2V5"},
	}
	_, err = backend.Open(context.Background(), cfg, reg, zerolog.Nop())
	require.True(t, metadata.IsConfigurationError(err))

	cfg.Encryption = config.EncryptionConfig{KeyEncryptionKeyID: "kek1", MasterSecret: "s3cret"}
	opened, err := backend.Open(context.Background(), cfg, reg, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, "table", opened.Provider.Name())
	require.False(t, opened.Provider.SupportsPointQueryForType(entities.RepositoryMetadataType))
	require.True(t, opened.Provider.SupportsPointQueryForType(entities.ElectionVoteType))
}
