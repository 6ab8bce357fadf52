package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/jyang234/taskport/internal/mapping"
	"github.com/jyang234/taskport/internal/registry"
	"github.com/jyang234/taskport/internal/task"
)

// jiraAdapter talks to the Jira REST API v2. The credential is either
// "email:token" (Jira Cloud basic auth) or a bare personal access token
// (Server/DC bearer auth).
type jiraAdapter struct {
	baseURL  string
	pageSize int
	client   *http.Client
}

func newJira(opts Options) (*jiraAdapter, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("jira requires a site base URL (e.g. https://yourteam.atlassian.net)")
	}
	return &jiraAdapter{
		baseURL:  opts.BaseURL,
		pageSize: opts.pageSize(),
		client:   opts.httpClient(),
	}, nil
}

func (a *jiraAdapter) ID() string { return registry.Jira }

func (a *jiraAdapter) setAuth(req *http.Request, credential string) {
	if email, tok, ok := strings.Cut(credential, ":"); ok {
		req.SetBasicAuth(email, tok)
		return
	}
	req.Header.Set("Authorization", "Bearer "+credential)
}

// Authenticate probes GET /rest/api/2/myself, the cheapest authenticated
// endpoint Jira offers.
func (a *jiraAdapter) Authenticate(ctx context.Context, credential string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, joinURL(a.baseURL, "/rest/api/2/myself"), nil)
	if err != nil {
		return "", err
	}
	a.setAuth(req, credential)

	resp, err := a.client.Do(req)
	if err != nil {
		return "", netError(registry.Jira, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus(registry.Jira, resp)
	}

	var me struct {
		DisplayName  string `json:"displayName"`
		EmailAddress string `json:"emailAddress"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&me); err != nil {
		return "", malformedError(registry.Jira, err)
	}
	if me.DisplayName != "" {
		return me.DisplayName, nil
	}
	return me.EmailAddress, nil
}

type jiraSearchRequest struct {
	JQL        string   `json:"jql"`
	StartAt    int      `json:"startAt"`
	MaxResults int      `json:"maxResults"`
	Fields     []string `json:"fields"`
}

type jiraSearchResponse struct {
	StartAt int `json:"startAt"`
	Total   int `json:"total"`
	Issues  []struct {
		Key    string `json:"key"`
		Fields struct {
			Summary     string `json:"summary"`
			Description string `json:"description"`
			DueDate     string `json:"duedate"`
			Labels      []string `json:"labels"`
			Status      struct {
				Name string `json:"name"`
			} `json:"status"`
			Priority struct {
				Name string `json:"name"`
			} `json:"priority"`
			Assignee struct {
				DisplayName string `json:"displayName"`
			} `json:"assignee"`
		} `json:"fields"`
	} `json:"issues"`
}

// FetchPage searches issues ordered by creation date. The cursor is the
// 0-based startAt offset; Jira reports the total up front.
func (a *jiraAdapter) FetchPage(ctx context.Context, credential, cursor string) (*Page, error) {
	startAt := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return nil, malformedError(registry.Jira, fmt.Errorf("bad cursor %q", cursor))
		}
		startAt = n
	}

	body, err := json.Marshal(jiraSearchRequest{
		JQL:        "ORDER BY created ASC",
		StartAt:    startAt,
		MaxResults: a.pageSize,
		Fields:     []string{"summary", "description", "status", "priority", "assignee", "duedate", "labels"},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, joinURL(a.baseURL, "/rest/api/2/search"), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	a.setAuth(req, credential)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, netError(registry.Jira, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(registry.Jira, resp)
	}

	var sr jiraSearchResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, malformedError(registry.Jira, err)
	}

	page := &Page{Total: &sr.Total}
	for _, issue := range sr.Issues {
		rec := RawRecord{
			"id":          issue.Key,
			"summary":     issue.Fields.Summary,
			"description": issue.Fields.Description,
			"status.name": issue.Fields.Status.Name,
			"duedate":     issue.Fields.DueDate,
		}
		if issue.Fields.Priority.Name != "" {
			rec["priority.name"] = issue.Fields.Priority.Name
		}
		if issue.Fields.Assignee.DisplayName != "" {
			rec["assignee.displayName"] = issue.Fields.Assignee.DisplayName
		}
		if len(issue.Fields.Labels) > 0 {
			rec["labels"] = issue.Fields.Labels
		}
		page.Records = append(page.Records, rec)
	}

	next := startAt + len(sr.Issues)
	if len(sr.Issues) > 0 && next < sr.Total {
		page.NextCursor = strconv.Itoa(next)
	}
	return page, nil
}

func (a *jiraAdapter) DefaultRules() []mapping.Rule {
	return []mapping.Rule{
		{SourceField: "summary", TargetField: task.FieldTitle, Required: true},
		{SourceField: "status.name", TargetField: task.FieldStatus, Required: true, Transform: mapping.Lookup(map[string]string{
			"To Do":       "open",
			"Backlog":     "open",
			"In Progress": "in_progress",
			"In Review":   "review",
			"Done":        "done",
			"Closed":      "done",
		})},
		{SourceField: "assignee.displayName", TargetField: task.FieldAssignee},
		{SourceField: "duedate", TargetField: task.FieldDueDate},
		{SourceField: "priority.name", TargetField: task.FieldPriority, Transform: mapping.JiraPriority},
		{SourceField: "description", TargetField: task.FieldDescription},
		{SourceField: "labels", TargetField: task.FieldTags},
	}
}
