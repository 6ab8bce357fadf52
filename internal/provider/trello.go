package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/jyang234/taskport/internal/mapping"
	"github.com/jyang234/taskport/internal/registry"
	"github.com/jyang234/taskport/internal/task"
)

const trelloDefaultURL = "https://api.trello.com"

// trelloAdapter talks to the Trello REST API. The credential is "key:token"
// passed as query parameters (Trello's documented scheme). Pagination walks
// card ids with the before parameter.
type trelloAdapter struct {
	baseURL  string
	pageSize int
	client   *http.Client
}

func newTrello(opts Options) *trelloAdapter {
	base := opts.BaseURL
	if base == "" {
		base = trelloDefaultURL
	}
	return &trelloAdapter{baseURL: base, pageSize: opts.pageSize(), client: opts.httpClient()}
}

func (a *trelloAdapter) ID() string { return registry.Trello }

func (a *trelloAdapter) get(ctx context.Context, credential, path string, query url.Values) (*http.Response, error) {
	key, token, ok := strings.Cut(credential, ":")
	if !ok {
		return nil, &Error{Provider: registry.Trello, Kind: KindUnauthorized, Err: fmt.Errorf("credential must be key:token")}
	}
	if query == nil {
		query = url.Values{}
	}
	query.Set("key", key)
	query.Set("token", token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, joinURL(a.baseURL, path)+"?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return nil, netError(registry.Trello, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, classifyStatus(registry.Trello, resp)
	}
	return resp, nil
}

func (a *trelloAdapter) Authenticate(ctx context.Context, credential string) (string, error) {
	resp, err := a.get(ctx, credential, "/1/members/me", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var me struct {
		Username string `json:"username"`
		FullName string `json:"fullName"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&me); err != nil {
		return "", malformedError(registry.Trello, err)
	}
	if me.FullName != "" {
		return me.FullName, nil
	}
	return me.Username, nil
}

func (a *trelloAdapter) FetchPage(ctx context.Context, credential, cursor string) (*Page, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(a.pageSize))
	q.Set("sort", "-id")
	if cursor != "" {
		q.Set("before", cursor)
	}

	resp, err := a.get(ctx, credential, "/1/members/me/cards", q)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var cards []struct {
		ID     string   `json:"id"`
		Name   string   `json:"name"`
		Desc   string   `json:"desc"`
		Due    string   `json:"due"`
		Closed bool     `json:"closed"`
		Labels []struct {
			Name string `json:"name"`
		} `json:"labels"`
		List struct {
			Name string `json:"name"`
		} `json:"list"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&cards); err != nil {
		return nil, malformedError(registry.Trello, err)
	}

	page := &Page{}
	for _, c := range cards {
		status := c.List.Name
		if status == "" {
			if c.Closed {
				status = "done"
			} else {
				status = "open"
			}
		}
		rec := RawRecord{
			"id":        c.ID,
			"name":      c.Name,
			"desc":      c.Desc,
			"list.name": status,
		}
		if c.Due != "" {
			rec["due"] = c.Due
		}
		if len(c.Labels) > 0 {
			labels := make([]string, len(c.Labels))
			for i, l := range c.Labels {
				labels[i] = l.Name
			}
			rec["labels"] = labels
		}
		page.Records = append(page.Records, rec)
	}
	if len(cards) == a.pageSize {
		page.NextCursor = cards[len(cards)-1].ID
	}
	return page, nil
}

func (a *trelloAdapter) DefaultRules() []mapping.Rule {
	return []mapping.Rule{
		{SourceField: "name", TargetField: task.FieldTitle, Required: true},
		{SourceField: "list.name", TargetField: task.FieldStatus, Required: true, Transform: mapping.Lower()},
		{SourceField: "due", TargetField: task.FieldDueDate},
		{SourceField: "desc", TargetField: task.FieldDescription},
		{SourceField: "labels", TargetField: task.FieldTags},
	}
}
