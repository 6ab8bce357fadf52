package provider

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"

	"github.com/jyang234/taskport/internal/mapping"
	"github.com/jyang234/taskport/internal/registry"
	"github.com/jyang234/taskport/internal/task"
)

// csvAdapter reads records from a local CSV file. The header row supplies the
// source field names. There is no network boundary and no credential; the
// auth step is a no-op.
type csvAdapter struct {
	path     string
	pageSize int

	once    sync.Once
	loadErr error
	records []RawRecord
}

func newCSV(opts Options) (*csvAdapter, error) {
	if opts.CSVPath == "" {
		return nil, fmt.Errorf("csv provider requires a file path")
	}
	return &csvAdapter{path: opts.CSVPath, pageSize: opts.pageSize()}, nil
}

func (a *csvAdapter) ID() string { return registry.CSV }

// Authenticate always succeeds for local files.
func (a *csvAdapter) Authenticate(ctx context.Context, credential string) (string, error) {
	return "local", nil
}

func (a *csvAdapter) load() error {
	a.once.Do(func() {
		f, err := os.Open(a.path)
		if err != nil {
			a.loadErr = malformedError(registry.CSV, err)
			return
		}
		defer f.Close()

		r := csv.NewReader(f)
		r.FieldsPerRecord = -1 // tolerate ragged rows, mapper handles gaps

		rows, err := r.ReadAll()
		if err != nil {
			a.loadErr = malformedError(registry.CSV, err)
			return
		}
		if len(rows) == 0 {
			a.loadErr = malformedError(registry.CSV, fmt.Errorf("%s: empty file", a.path))
			return
		}

		header := rows[0]
		for i, row := range rows[1:] {
			rec := RawRecord{}
			for col, name := range header {
				if col < len(row) && row[col] != "" {
					rec[name] = row[col]
				}
			}
			if _, ok := rec["id"]; !ok {
				if v, ok := rec["Id"]; ok {
					rec["id"] = v
				} else if v, ok := rec["ID"]; ok {
					rec["id"] = v
				} else {
					// Row number keeps re-imports of the same file idempotent.
					rec["id"] = fmt.Sprintf("row-%d", i+1)
				}
			}
			a.records = append(a.records, rec)
		}
	})
	return a.loadErr
}

// FetchPage pages through the parsed file. The cursor is the record offset;
// the total is known as soon as the file is read.
func (a *csvAdapter) FetchPage(ctx context.Context, credential, cursor string) (*Page, error) {
	if err := a.load(); err != nil {
		return nil, err
	}

	start := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return nil, malformedError(registry.CSV, fmt.Errorf("bad cursor %q", cursor))
		}
		start = n
	}

	total := len(a.records)
	end := start + a.pageSize
	if end > total {
		end = total
	}
	if start > total {
		start = total
	}

	page := &Page{Records: a.records[start:end], Total: &total}
	if end < total {
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}

func (a *csvAdapter) DefaultRules() []mapping.Rule {
	return []mapping.Rule{
		{SourceField: "Title", TargetField: task.FieldTitle, Required: true},
		{SourceField: "Status", TargetField: task.FieldStatus, Required: true, Transform: mapping.Lower()},
		{SourceField: "Assignee", TargetField: task.FieldAssignee},
		{SourceField: "Due Date", TargetField: task.FieldDueDate},
		{SourceField: "Priority", TargetField: task.FieldPriority, Transform: mapping.Lower()},
		{SourceField: "Description", TargetField: task.FieldDescription},
		{SourceField: "Labels", TargetField: task.FieldTags, Transform: mapping.Split(",")},
	}
}
