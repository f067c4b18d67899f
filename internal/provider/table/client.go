package table

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"portal/internal/config"
	"portal/internal/metadata"
	"portal/internal/provider"
)

// Client is the part of *aztables.Client the provider uses.
type Client interface {
	AddEntity(ctx context.Context, entity []byte, options *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	GetEntity(ctx context.Context, partitionKey string, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	UpdateEntity(ctx context.Context, entity []byte, options *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error)
	DeleteEntity(ctx context.Context, partitionKey string, rowKey string, options *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error)
	NewListEntitiesPager(options *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
}

// tableCreator is implemented by clients that can create their table.
type tableCreator interface {
	CreateTable(ctx context.Context, options *aztables.CreateTableOptions) (aztables.CreateTableResponse, error)
}

var _ Client = (*aztables.Client)(nil)
var _ tableCreator = (*aztables.Client)(nil)

// ClientFactory returns the client for a table name.
type ClientFactory func(table string) (Client, error)

// NewSharedKeyClientFactory authenticates with the account key from cfg.
func NewSharedKeyClientFactory(cfg config.TableConfig) (ClientFactory, error) {
	cred, err := aztables.NewSharedKeyCredential(cfg.AccountName, cfg.AccountKey)
	if err != nil {
		return nil, metadata.ErrConfiguration.New("table credential: %v", err)
	}
	svc, err := aztables.NewServiceClientWithSharedKey(cfg.URL(), cred, nil)
	if err != nil {
		return nil, metadata.ErrConfiguration.New("table service client: %v", err)
	}
	return func(table string) (Client, error) {
		return svc.NewClient(table), nil
	}, nil
}

// classify maps service errors onto the provider taxonomy.
func classify(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch {
		case respErr.StatusCode == http.StatusConflict || respErr.ErrorCode == string(aztables.EntityAlreadyExists):
			return provider.ErrConflict.Wrap(fmt.Errorf(format+": %w", append(args, err)...))
		case respErr.StatusCode == http.StatusNotFound || respErr.ErrorCode == string(aztables.ResourceNotFound):
			return provider.ErrNotFound.Wrap(fmt.Errorf(format+": %w", append(args, err)...))
		}
	}
	return provider.ErrTransport.Wrap(fmt.Errorf(format+": %w", append(args, err)...))
}

func isTableExists(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) &&
		(respErr.StatusCode == http.StatusConflict || respErr.ErrorCode == string(aztables.TableAlreadyExists))
}
