// Package task defines the internal task schema that imported records are
// normalized into. The field names here are the only valid mapping targets.
package task

import "time"

// Target field names
const (
	FieldTitle       = "title"
	FieldStatus      = "status"
	FieldAssignee    = "assignee"
	FieldDueDate     = "dueDate"
	FieldPriority    = "priority"
	FieldDescription = "description"
	FieldTags        = "tags"
)

// Fields lists every valid mapping target in schema order.
var Fields = []string{
	FieldTitle,
	FieldStatus,
	FieldAssignee,
	FieldDueDate,
	FieldPriority,
	FieldDescription,
	FieldTags,
}

// Required lists the target fields that must have a mapping rule before an
// import is allowed to start.
var Required = []string{FieldTitle, FieldStatus}

// IsField reports whether name is a valid mapping target.
func IsField(name string) bool {
	for _, f := range Fields {
		if f == name {
			return true
		}
	}
	return false
}

// IsRequired reports whether name is a required target field.
func IsRequired(name string) bool {
	for _, f := range Required {
		if f == name {
			return true
		}
	}
	return false
}

// Task is a normalized work item produced by the field mapper. SourceID and
// ExternalID together form the identity used for idempotent commits.
type Task struct {
	SourceID    string     `json:"source_id"`
	ExternalID  string     `json:"external_id"`
	Title       string     `json:"title"`
	Status      string     `json:"status"`
	Assignee    string     `json:"assignee,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	Priority    string     `json:"priority,omitempty"`
	Description string     `json:"description,omitempty"`
	Tags        []string   `json:"tags,omitempty"`
}
