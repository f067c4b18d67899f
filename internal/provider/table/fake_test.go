package table_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"portal/internal/provider/table"
)

// fakeTables keeps one fakeClient per table name.
type fakeTables struct {
	mu       sync.Mutex
	pageSize int
	clients  map[string]*fakeClient
}

func newFakeTables(pageSize int) *fakeTables {
	return &fakeTables{pageSize: pageSize, clients: map[string]*fakeClient{}}
}

func (f *fakeTables) factory() table.ClientFactory {
	return func(name string) (table.Client, error) {
		f.mu.Lock()
		defer f.mu.Unlock()
		c, ok := f.clients[name]
		if !ok {
			c = &fakeClient{pageSize: f.pageSize, rows: map[string][]byte{}}
			f.clients[name] = c
		}
		return c, nil
	}
}

func (f *fakeTables) client(name string) *fakeClient {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.clients[name]
}

type fakeClient struct {
	mu        sync.Mutex
	pageSize  int
	rows      map[string][]byte // "pk\x00rk" -> entity JSON
	pageCalls int
	filters   []string
}

func rowID(pk, rk string) string { return pk + "\x00" + rk }

func keysOf(body []byte) (string, string, map[string]any, error) {
	var props map[string]any
	if err := json.Unmarshal(body, &props); err != nil {
		return "", "", nil, err
	}
	pk, _ := props["PartitionKey"].(string)
	rk, _ := props["RowKey"].(string)
	return pk, rk, props, nil
}

func responseError(status int, code string) error {
	req, _ := http.NewRequest(http.MethodGet, "https://example.table.core.windows.net/fake", nil)
	return &azcore.ResponseError{
		StatusCode: status,
		ErrorCode:  code,
		RawResponse: &http.Response{
			StatusCode: status,
			Status:     http.StatusText(status),
			Header:     http.Header{},
			Body:       http.NoBody,
			Request:    req,
		},
	}
}

func (c *fakeClient) put(body []byte) {
	pk, rk, _, err := keysOf(body)
	if err != nil {
		panic(err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rows[rowID(pk, rk)] = body
}

func (c *fakeClient) raw(pk, rk string) map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	body, ok := c.rows[rowID(pk, rk)]
	if !ok {
		return nil
	}
	_, _, props, _ := keysOf(body)
	return props
}

func (c *fakeClient) AddEntity(_ context.Context, entity []byte, _ *aztables.AddEntityOptions) (aztables.AddEntityResponse, error) {
	pk, rk, _, err := keysOf(entity)
	if err != nil {
		return aztables.AddEntityResponse{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.rows[rowID(pk, rk)]; exists {
		return aztables.AddEntityResponse{}, responseError(http.StatusConflict, string(aztables.EntityAlreadyExists))
	}
	c.rows[rowID(pk, rk)] = entity
	return aztables.AddEntityResponse{Value: entity}, nil
}

func (c *fakeClient) GetEntity(_ context.Context, pk, rk string, _ *aztables.GetEntityOptions) (aztables.GetEntityResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	body, ok := c.rows[rowID(pk, rk)]
	if !ok {
		return aztables.GetEntityResponse{}, responseError(http.StatusNotFound, string(aztables.ResourceNotFound))
	}
	return aztables.GetEntityResponse{Value: body}, nil
}

func (c *fakeClient) UpdateEntity(_ context.Context, entity []byte, opts *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error) {
	if opts == nil || opts.UpdateMode != aztables.UpdateModeReplace {
		return aztables.UpdateEntityResponse{}, fmt.Errorf("fake only supports replace")
	}
	pk, rk, _, err := keysOf(entity)
	if err != nil {
		return aztables.UpdateEntityResponse{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rows[rowID(pk, rk)]; !ok {
		return aztables.UpdateEntityResponse{}, responseError(http.StatusNotFound, string(aztables.ResourceNotFound))
	}
	c.rows[rowID(pk, rk)] = entity
	return aztables.UpdateEntityResponse{}, nil
}

func (c *fakeClient) DeleteEntity(_ context.Context, pk, rk string, _ *aztables.DeleteEntityOptions) (aztables.DeleteEntityResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.rows[rowID(pk, rk)]; !ok {
		return aztables.DeleteEntityResponse{}, responseError(http.StatusNotFound, string(aztables.ResourceNotFound))
	}
	delete(c.rows, rowID(pk, rk))
	return aztables.DeleteEntityResponse{}, nil
}

// NewListEntitiesPager evaluates "col eq literal" clauses joined by "and"
// and serves the matches in pages linked by continuation keys.
func (c *fakeClient) NewListEntitiesPager(opts *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse] {
	filter := ""
	if opts != nil && opts.Filter != nil {
		filter = *opts.Filter
	}
	c.mu.Lock()
	c.filters = append(c.filters, filter)
	var ids []string
	for id, body := range c.rows {
		_, _, props, _ := keysOf(body)
		if matches(filter, props) {
			ids = append(ids, id)
		}
	}
	c.mu.Unlock()
	sort.Strings(ids)

	return runtime.NewPager(runtime.PagingHandler[aztables.ListEntitiesResponse]{
		More: func(page aztables.ListEntitiesResponse) bool {
			return page.NextRowKey != nil
		},
		Fetcher: func(_ context.Context, page *aztables.ListEntitiesResponse) (aztables.ListEntitiesResponse, error) {
			start := 0
			if page != nil && page.NextRowKey != nil {
				start = sort.SearchStrings(ids, rowID(*page.NextPartitionKey, *page.NextRowKey))
			}
			end := min(start+c.pageSize, len(ids))

			c.mu.Lock()
			defer c.mu.Unlock()
			c.pageCalls++
			var resp aztables.ListEntitiesResponse
			for _, id := range ids[start:end] {
				resp.Entities = append(resp.Entities, c.rows[id])
			}
			if end < len(ids) {
				pk, rk, _ := strings.Cut(ids[end], "\x00")
				resp.NextPartitionKey, resp.NextRowKey = &pk, &rk
			}
			return resp, nil
		},
	})
}

func matches(filter string, props map[string]any) bool {
	if filter == "" {
		return true
	}
	for _, clause := range strings.Split(filter, " and ") {
		col, lit, ok := strings.Cut(clause, " eq ")
		if !ok {
			panic("fake cannot evaluate " + clause)
		}
		v := props[col]
		switch lit {
		case "true", "false":
			if fmt.Sprint(v) != lit {
				return false
			}
		default:
			want := strings.ReplaceAll(strings.Trim(lit, "'"), "''", "'")
			if s, _ := v.(string); s != want {
				return false
			}
		}
	}
	return true
}
