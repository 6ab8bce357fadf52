package mapping

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jyang234/taskport/internal/task"
)

// Validate checks a rule set against the target schema. It returns one error
// per problem so the wizard can show everything at once: an UnknownTarget
// error for every rule aimed at a nonexistent field, and a MissingRequired
// error for every required target field no rule covers.
func Validate(rules []Rule) []*Error {
	var errs []*Error

	covered := make(map[string]bool, len(rules))
	for _, r := range rules {
		if !task.IsField(r.TargetField) {
			errs = append(errs, &Error{Kind: KindUnknownTarget, Field: r.TargetField})
			continue
		}
		covered[r.TargetField] = true
	}

	for _, f := range task.Required {
		if !covered[f] {
			errs = append(errs, &Error{Kind: KindMissingRequired, Field: f})
		}
	}

	return errs
}

// Apply converts one raw record into a Task. A nil *RecordError means the
// record converted cleanly. The caller is responsible for identity fields
// (SourceID, ExternalID); Apply only fills schema fields.
//
// Missing optional source values are skipped. Missing values for a rule
// marked required produce MissingRequiredField; a required target field is
// implicitly required even if its rule is not flagged.
func Apply(rules []Rule, raw map[string]any) (*task.Task, *RecordError) {
	t := &task.Task{}

	for _, r := range rules {
		v, ok := raw[r.SourceField]
		if !ok || v == nil || v == "" {
			if r.Required || task.IsRequired(r.TargetField) {
				return nil, &RecordError{Kind: RecordMissingRequiredField, Field: r.SourceField}
			}
			continue
		}

		if r.Transform != nil {
			tv, err := r.Transform(v)
			if err != nil {
				return nil, &RecordError{Kind: RecordTransformFailure, Field: r.SourceField, Reason: err.Error()}
			}
			v = tv
		}

		if err := assign(t, r.TargetField, v); err != nil {
			return nil, &RecordError{Kind: RecordTransformFailure, Field: r.SourceField, Reason: err.Error()}
		}
	}

	return t, nil
}

func assign(t *task.Task, field string, v any) error {
	switch field {
	case task.FieldTitle:
		s, err := toString(v)
		if err != nil {
			return err
		}
		t.Title = s
	case task.FieldStatus:
		s, err := toString(v)
		if err != nil {
			return err
		}
		t.Status = s
	case task.FieldAssignee:
		s, err := toString(v)
		if err != nil {
			return err
		}
		t.Assignee = s
	case task.FieldPriority:
		s, err := toString(v)
		if err != nil {
			return err
		}
		t.Priority = s
	case task.FieldDescription:
		s, err := toString(v)
		if err != nil {
			return err
		}
		t.Description = s
	case task.FieldDueDate:
		ts, err := toTime(v)
		if err != nil {
			return err
		}
		t.DueDate = ts
	case task.FieldTags:
		tags, err := toTags(v)
		if err != nil {
			return err
		}
		t.Tags = tags
	default:
		return fmt.Errorf("unknown target field: %q", field)
	}
	return nil
}

func toString(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case fmt.Stringer:
		return x.String(), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case bool:
		return strconv.FormatBool(x), nil
	default:
		return "", fmt.Errorf("cannot convert %T to string", v)
	}
}

// Accepted due-date layouts, checked in order.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05.000-0700", // Jira's datetime format
}

func toTime(v any) (*time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return &x, nil
	case string:
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, x); err == nil {
				return &ts, nil
			}
		}
		return nil, fmt.Errorf("unparseable date: %q", x)
	default:
		return nil, fmt.Errorf("cannot convert %T to date", v)
	}
}

func toTags(v any) ([]string, error) {
	switch x := v.(type) {
	case []string:
		return x, nil
	case []any:
		tags := make([]string, 0, len(x))
		for _, e := range x {
			s, err := toString(e)
			if err != nil {
				return nil, err
			}
			tags = append(tags, s)
		}
		return tags, nil
	case string:
		if x == "" {
			return nil, nil
		}
		parts := strings.Split(x, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, nil
	default:
		return nil, fmt.Errorf("cannot convert %T to tags", v)
	}
}
