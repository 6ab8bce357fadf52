package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"

	"github.com/jyang234/taskport/internal/mapping"
	"github.com/jyang234/taskport/internal/registry"
	"github.com/jyang234/taskport/internal/task"
)

const asanaDefaultURL = "https://app.asana.com"

// asanaAdapter talks to the Asana REST API with a personal access token.
// Asana paginates with opaque offset tokens and never reports a total.
type asanaAdapter struct {
	baseURL  string
	pageSize int
	client   *http.Client
}

func newAsana(opts Options) *asanaAdapter {
	base := opts.BaseURL
	if base == "" {
		base = asanaDefaultURL
	}
	return &asanaAdapter{baseURL: base, pageSize: opts.pageSize(), client: opts.httpClient()}
}

func (a *asanaAdapter) ID() string { return registry.Asana }

func (a *asanaAdapter) get(ctx context.Context, credential, path string, query url.Values) (*http.Response, error) {
	u := joinURL(a.baseURL, path)
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+credential)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, netError(registry.Asana, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, classifyStatus(registry.Asana, resp)
	}
	return resp, nil
}

func (a *asanaAdapter) Authenticate(ctx context.Context, credential string) (string, error) {
	resp, err := a.get(ctx, credential, "/api/1.0/users/me", nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var me struct {
		Data struct {
			Name  string `json:"name"`
			Email string `json:"email"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&me); err != nil {
		return "", malformedError(registry.Asana, err)
	}
	if me.Data.Name != "" {
		return me.Data.Name, nil
	}
	return me.Data.Email, nil
}

func (a *asanaAdapter) FetchPage(ctx context.Context, credential, cursor string) (*Page, error) {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(a.pageSize))
	q.Set("assignee", "me")
	q.Set("workspace", "default")
	q.Set("opt_fields", "gid,name,notes,completed,assignee.name,due_on,tags.name")
	if cursor != "" {
		q.Set("offset", cursor)
	}

	resp, err := a.get(ctx, credential, "/api/1.0/tasks", q)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body struct {
		Data []struct {
			GID       string `json:"gid"`
			Name      string `json:"name"`
			Notes     string `json:"notes"`
			Completed bool   `json:"completed"`
			DueOn     string `json:"due_on"`
			Assignee  struct {
				Name string `json:"name"`
			} `json:"assignee"`
			Tags []struct {
				Name string `json:"name"`
			} `json:"tags"`
		} `json:"data"`
		NextPage *struct {
			Offset string `json:"offset"`
		} `json:"next_page"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, malformedError(registry.Asana, err)
	}

	page := &Page{}
	for _, t := range body.Data {
		status := "open"
		if t.Completed {
			status = "done"
		}
		rec := RawRecord{
			"gid":       t.GID,
			"id":        t.GID,
			"name":      t.Name,
			"notes":     t.Notes,
			"completed": status,
		}
		if t.DueOn != "" {
			rec["due_on"] = t.DueOn
		}
		if t.Assignee.Name != "" {
			rec["assignee.name"] = t.Assignee.Name
		}
		if len(t.Tags) > 0 {
			tags := make([]string, len(t.Tags))
			for i, tg := range t.Tags {
				tags[i] = tg.Name
			}
			rec["tags"] = tags
		}
		page.Records = append(page.Records, rec)
	}
	if body.NextPage != nil && body.NextPage.Offset != "" {
		page.NextCursor = body.NextPage.Offset
	}
	return page, nil
}

func (a *asanaAdapter) DefaultRules() []mapping.Rule {
	return []mapping.Rule{
		{SourceField: "name", TargetField: task.FieldTitle, Required: true},
		{SourceField: "completed", TargetField: task.FieldStatus, Required: true},
		{SourceField: "assignee.name", TargetField: task.FieldAssignee},
		{SourceField: "due_on", TargetField: task.FieldDueDate},
		{SourceField: "notes", TargetField: task.FieldDescription},
		{SourceField: "tags", TargetField: task.FieldTags},
	}
}
