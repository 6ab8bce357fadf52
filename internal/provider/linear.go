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

const linearDefaultURL = "https://api.linear.app"

// linearAdapter talks to the Linear GraphQL API. The credential is an API key
// sent in the Authorization header. Pagination uses Relay-style
// pageInfo{hasNextPage, endCursor}.
type linearAdapter struct {
	baseURL  string
	pageSize int
	client   *http.Client
}

func newLinear(opts Options) *linearAdapter {
	base := opts.BaseURL
	if base == "" {
		base = linearDefaultURL
	}
	return &linearAdapter{baseURL: base, pageSize: opts.pageSize(), client: opts.httpClient()}
}

func (a *linearAdapter) ID() string { return registry.Linear }

func (a *linearAdapter) query(ctx context.Context, credential, gql string, out any) error {
	body, err := json.Marshal(map[string]string{"query": gql})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, joinURL(a.baseURL, "/graphql"), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", credential)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return netError(registry.Linear, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return classifyStatus(registry.Linear, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return malformedError(registry.Linear, err)
	}
	return nil
}

func (a *linearAdapter) Authenticate(ctx context.Context, credential string) (string, error) {
	var body struct {
		Data struct {
			Viewer struct {
				Name  string `json:"name"`
				Email string `json:"email"`
			} `json:"viewer"`
		} `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := a.query(ctx, credential, `query { viewer { name email } }`, &body); err != nil {
		return "", err
	}
	if len(body.Errors) > 0 {
		return "", &Error{Provider: registry.Linear, Kind: KindUnauthorized, Err: fmt.Errorf("%s", body.Errors[0].Message)}
	}
	if body.Data.Viewer.Name != "" {
		return body.Data.Viewer.Name, nil
	}
	return body.Data.Viewer.Email, nil
}

func (a *linearAdapter) FetchPage(ctx context.Context, credential, cursor string) (*Page, error) {
	after := ""
	if cursor != "" {
		after = fmt.Sprintf(", after: %q", cursor)
	}
	gql := fmt.Sprintf(`query { issues(first: %d%s) {
		nodes { identifier title description dueDate priority
			state { name } assignee { name } labels { nodes { name } } }
		pageInfo { hasNextPage endCursor } } }`, a.pageSize, after)

	var body struct {
		Data struct {
			Issues struct {
				Nodes []struct {
					Identifier  string  `json:"identifier"`
					Title       string  `json:"title"`
					Description string  `json:"description"`
					DueDate     string  `json:"dueDate"`
					Priority    float64 `json:"priority"`
					State       struct {
						Name string `json:"name"`
					} `json:"state"`
					Assignee struct {
						Name string `json:"name"`
					} `json:"assignee"`
					Labels struct {
						Nodes []struct {
							Name string `json:"name"`
						} `json:"nodes"`
					} `json:"labels"`
				} `json:"nodes"`
				PageInfo struct {
					HasNextPage bool   `json:"hasNextPage"`
					EndCursor   string `json:"endCursor"`
				} `json:"pageInfo"`
			} `json:"issues"`
		} `json:"data"`
		Errors []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := a.query(ctx, credential, gql, &body); err != nil {
		return nil, err
	}
	if len(body.Errors) > 0 {
		return nil, malformedError(registry.Linear, fmt.Errorf("%s", body.Errors[0].Message))
	}

	page := &Page{}
	for _, n := range body.Data.Issues.Nodes {
		rec := RawRecord{
			"id":          n.Identifier,
			"title":       n.Title,
			"description": n.Description,
			"state.name":  n.State.Name,
		}
		if n.DueDate != "" {
			rec["dueDate"] = n.DueDate
		}
		if n.Priority > 0 {
			rec["priority"] = n.Priority
		}
		if n.Assignee.Name != "" {
			rec["assignee.name"] = n.Assignee.Name
		}
		if len(n.Labels.Nodes) > 0 {
			labels := make([]string, len(n.Labels.Nodes))
			for i, l := range n.Labels.Nodes {
				labels[i] = l.Name
			}
			rec["labels"] = labels
		}
		page.Records = append(page.Records, rec)
	}
	if body.Data.Issues.PageInfo.HasNextPage {
		page.NextCursor = body.Data.Issues.PageInfo.EndCursor
	}
	return page, nil
}

func (a *linearAdapter) DefaultRules() []mapping.Rule {
	return []mapping.Rule{
		{SourceField: "title", TargetField: task.FieldTitle, Required: true},
		{SourceField: "state.name", TargetField: task.FieldStatus, Required: true, Transform: mapping.Lookup(map[string]string{
			"Backlog":     "open",
			"Todo":        "open",
			"In Progress": "in_progress",
			"In Review":   "review",
			"Done":        "done",
			"Canceled":    "done",
		})},
		{SourceField: "assignee.name", TargetField: task.FieldAssignee},
		{SourceField: "dueDate", TargetField: task.FieldDueDate},
		// Linear priorities: 1=Urgent 2=High 3=Normal 4=Low (0 = none)
		{SourceField: "priority", TargetField: task.FieldPriority, Transform: mapping.Lookup(map[string]string{
			"1": "urgent", "2": "high", "3": "normal", "4": "low",
		})},
		{SourceField: "description", TargetField: task.FieldDescription},
		{SourceField: "labels", TargetField: task.FieldTags},
	}
}
