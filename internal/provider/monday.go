package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/jyang234/taskport/internal/mapping"
	"github.com/jyang234/taskport/internal/registry"
	"github.com/jyang234/taskport/internal/task"
)

const mondayDefaultURL = "https://api.monday.com"

// mondayAdapter talks to the monday.com GraphQL API (v2). The credential is
// an API token sent in the Authorization header. Pagination uses the
// items_page / next_items_page cursor pair.
type mondayAdapter struct {
	baseURL  string
	pageSize int
	client   *http.Client
}

func newMonday(opts Options) *mondayAdapter {
	base := opts.BaseURL
	if base == "" {
		base = mondayDefaultURL
	}
	return &mondayAdapter{baseURL: base, pageSize: opts.pageSize(), client: opts.httpClient()}
}

func (a *mondayAdapter) ID() string { return registry.Monday }

func (a *mondayAdapter) query(ctx context.Context, credential, gql string, out any) error {
	body, err := json.Marshal(map[string]string{"query": gql})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, joinURL(a.baseURL, "/v2"), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", credential)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return netError(registry.Monday, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return classifyStatus(registry.Monday, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return malformedError(registry.Monday, err)
	}
	return nil
}

func (a *mondayAdapter) Authenticate(ctx context.Context, credential string) (string, error) {
	var body struct {
		Data struct {
			Me struct {
				Name  string `json:"name"`
				Email string `json:"email"`
			} `json:"me"`
		} `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := a.query(ctx, credential, `query { me { name email } }`, &body); err != nil {
		return "", err
	}
	if len(body.Errors) > 0 {
		// monday returns 200 with an errors array for bad tokens
		return "", &Error{Provider: registry.Monday, Kind: KindUnauthorized, Err: fmt.Errorf("%s", body.Errors[0].Message)}
	}
	if body.Data.Me.Name != "" {
		return body.Data.Me.Name, nil
	}
	return body.Data.Me.Email, nil
}

func (a *mondayAdapter) FetchPage(ctx context.Context, credential, cursor string) (*Page, error) {
	var gql string
	if cursor == "" {
		gql = fmt.Sprintf(`query { boards { items_page (limit: %d) { cursor items { id name state column_values { id text } } } } }`, a.pageSize)
	} else {
		gql = fmt.Sprintf(`query { next_items_page (limit: %d, cursor: %q) { cursor items { id name state column_values { id text } } } }`, a.pageSize, cursor)
	}

	type itemsPage struct {
		Cursor string `json:"cursor"`
		Items  []struct {
			ID           string `json:"id"`
			Name         string `json:"name"`
			State        string `json:"state"`
			ColumnValues []struct {
				ID   string `json:"id"`
				Text string `json:"text"`
			} `json:"column_values"`
		} `json:"items"`
	}
	var body struct {
		Data struct {
			Boards []struct {
				ItemsPage itemsPage `json:"items_page"`
			} `json:"boards"`
			NextItemsPage itemsPage `json:"next_items_page"`
		} `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := a.query(ctx, credential, gql, &body); err != nil {
		return nil, err
	}
	if len(body.Errors) > 0 {
		return nil, malformedError(registry.Monday, fmt.Errorf("%s", body.Errors[0].Message))
	}

	var ip itemsPage
	if cursor == "" {
		if len(body.Data.Boards) > 0 {
			ip = body.Data.Boards[0].ItemsPage
		}
	} else {
		ip = body.Data.NextItemsPage
	}

	page := &Page{}
	for _, item := range ip.Items {
		rec := RawRecord{
			"id":    item.ID,
			"name":  item.Name,
			"state": item.State,
		}
		// Column values surface under their column id (status, person, date, ...)
		for _, cv := range item.ColumnValues {
			if cv.Text != "" {
				rec[cv.ID] = cv.Text
			}
		}
		page.Records = append(page.Records, rec)
	}
	page.NextCursor = ip.Cursor
	return page, nil
}

func (a *mondayAdapter) DefaultRules() []mapping.Rule {
	return []mapping.Rule{
		{SourceField: "name", TargetField: task.FieldTitle, Required: true},
		{SourceField: "status", TargetField: task.FieldStatus, Required: true, Transform: mapping.Lookup(map[string]string{
			"Working on it": "in_progress",
			"Stuck":         "blocked",
			"Done":          "done",
		})},
		{SourceField: "person", TargetField: task.FieldAssignee},
		{SourceField: "date", TargetField: task.FieldDueDate},
		{SourceField: "priority", TargetField: task.FieldPriority, Transform: mapping.Lower()},
	}
}
