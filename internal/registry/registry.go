// Package registry holds the static catalog of supported import providers.
// The catalog is built at process start and never mutated.
package registry

import "fmt"

// Provider IDs
const (
	Jira   = "jira"
	Asana  = "asana"
	Trello = "trello"
	Monday = "monday"
	Linear = "linear"
	CSV    = "csv"
)

// Auth methods
const (
	AuthAPIKey = "api-key"
	AuthOAuth  = "oauth"
	AuthNone   = "none"
)

// Capability flags
const (
	CapPaginated       = "paginated"
	CapRateLimited     = "rate-limited"
	CapSupportsMapping = "supports-mapping"
)

// Descriptor describes one supported provider and its capabilities.
type Descriptor struct {
	ID           string   `json:"id"`
	DisplayName  string   `json:"display_name"`
	AuthMethod   string   `json:"auth_method"`
	Capabilities []string `json:"capabilities"`
	DocURL       string   `json:"doc_url"`
}

// HasCapability reports whether the descriptor declares the given capability.
func (d Descriptor) HasCapability(cap string) bool {
	for _, c := range d.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// UnknownProviderError is returned when an unregistered provider id is
// requested.
type UnknownProviderError struct {
	ID string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("unknown provider: %q", e.ID)
}

var catalog = []Descriptor{
	{
		ID:           Jira,
		DisplayName:  "Jira",
		AuthMethod:   AuthAPIKey,
		Capabilities: []string{CapPaginated, CapRateLimited, CapSupportsMapping},
		DocURL:       "https://developer.atlassian.com/cloud/jira/platform/rest/v2/",
	},
	{
		ID:           Asana,
		DisplayName:  "Asana",
		AuthMethod:   AuthOAuth,
		Capabilities: []string{CapPaginated, CapRateLimited, CapSupportsMapping},
		DocURL:       "https://developers.asana.com/reference/rest-api-reference",
	},
	{
		ID:           Trello,
		DisplayName:  "Trello",
		AuthMethod:   AuthAPIKey,
		Capabilities: []string{CapPaginated, CapRateLimited, CapSupportsMapping},
		DocURL:       "https://developer.atlassian.com/cloud/trello/rest/",
	},
	{
		ID:           Monday,
		DisplayName:  "Monday.com",
		AuthMethod:   AuthAPIKey,
		Capabilities: []string{CapPaginated, CapRateLimited, CapSupportsMapping},
		DocURL:       "https://developer.monday.com/api-reference/",
	},
	{
		ID:           Linear,
		DisplayName:  "Linear",
		AuthMethod:   AuthAPIKey,
		Capabilities: []string{CapPaginated, CapRateLimited, CapSupportsMapping},
		DocURL:       "https://developers.linear.app/docs/graphql/working-with-the-graphql-api",
	},
	{
		ID:           CSV,
		DisplayName:  "CSV file",
		AuthMethod:   AuthNone,
		Capabilities: []string{CapSupportsMapping},
		DocURL:       "",
	},
}

// List returns all registered providers in catalog order.
func List() []Descriptor {
	out := make([]Descriptor, len(catalog))
	copy(out, catalog)
	return out
}

// Describe looks up a provider by id.
func Describe(id string) (Descriptor, error) {
	for _, d := range catalog {
		if d.ID == id {
			return d, nil
		}
	}
	return Descriptor{}, &UnknownProviderError{ID: id}
}
