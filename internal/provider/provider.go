// Package provider contains the adapters that talk to external
// project-management services. Each adapter knows its provider's auth scheme,
// pagination format, and well-known field names; everything above this package
// treats providers uniformly.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/jyang234/taskport/internal/mapping"
	"github.com/jyang234/taskport/internal/registry"
)

// RawRecord is one work item as fetched from a provider, flattened to dotted
// keys (e.g. Jira's fields.status.name is exposed as "status.name"). Every
// adapter sets the "id" key to the provider's item identifier.
type RawRecord map[string]any

// Page is one page of raw records. An empty NextCursor terminates the
// sequence. Total is nil for providers that do not report it ahead of
// pagination.
type Page struct {
	Records    []RawRecord
	NextCursor string
	Total      *int
}

// Adapter is the per-provider capability set: authenticate a credential,
// fetch one page of records, and seed a default field mapping.
type Adapter interface {
	// ID returns the provider id this adapter serves.
	ID() string

	// Authenticate performs one lightweight authenticated request and returns
	// a best-effort account identifier for display.
	Authenticate(ctx context.Context, credential string) (string, error)

	// FetchPage fetches the page at cursor. An empty cursor means the first
	// page. The returned sequence is not restartable; re-running an import
	// fetches from scratch.
	FetchPage(ctx context.Context, credential, cursor string) (*Page, error)

	// DefaultRules returns the provider's well-known field mapping so users
	// start from a sensible default rather than a blank mapping.
	DefaultRules() []mapping.Rule
}

// Options configures adapter construction.
type Options struct {
	// BaseURL overrides the provider's default endpoint. Required for Jira
	// (site-specific), optional elsewhere (useful for tests and self-hosted
	// instances).
	BaseURL string

	// CSVPath is the local file for the csv provider.
	CSVPath string

	// PageSize bounds records per page for paginated providers.
	PageSize int

	// HTTPClient overrides the default client. Timeouts are applied by
	// callers through context.
	HTTPClient *http.Client
}

const defaultPageSize = 50

func (o Options) pageSize() int {
	if o.PageSize > 0 {
		return o.PageSize
	}
	return defaultPageSize
}

func (o Options) httpClient() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	return &http.Client{Timeout: 30 * time.Second}
}

// New constructs the adapter for a provider id.
func New(id string, opts Options) (Adapter, error) {
	switch id {
	case registry.Jira:
		return newJira(opts)
	case registry.Asana:
		return newAsana(opts), nil
	case registry.Trello:
		return newTrello(opts), nil
	case registry.Monday:
		return newMonday(opts), nil
	case registry.Linear:
		return newLinear(opts), nil
	case registry.CSV:
		return newCSV(opts)
	default:
		return nil, &registry.UnknownProviderError{ID: id}
	}
}

// joinURL concatenates a base URL and path without doubling slashes.
func joinURL(base, path string) string {
	for len(base) > 0 && base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	return fmt.Sprintf("%s%s", base, path)
}
