package mapping

import "fmt"

// Mapping-level error kinds. These gate the wizard's MAPPING step.
const (
	KindUnknownTarget   = "unknown_target"
	KindMissingRequired = "missing_required"
)

// Error reports a problem with a mapping rule set.
type Error struct {
	Kind  string
	Field string
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindUnknownTarget:
		return fmt.Sprintf("unknown target field: %q", e.Field)
	case KindMissingRequired:
		return fmt.Sprintf("required target field has no mapping rule: %q", e.Field)
	default:
		return fmt.Sprintf("mapping error (%s): %q", e.Kind, e.Field)
	}
}

// Record-level error kinds. These are recorded against a single record and
// never abort a run.
const (
	RecordMissingRequiredField = "missing_required_field"
	RecordTransformFailure     = "transform_failure"
	RecordStoreRejected        = "store_rejected"
)

// RecordError reports that a single raw record could not be converted or
// committed. The record is skipped and the error is logged on the job.
type RecordError struct {
	Kind   string
	Field  string
	Reason string
}

func (e *RecordError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("record error (%s) on field %q: %s", e.Kind, e.Field, e.Reason)
	}
	return fmt.Sprintf("record error (%s) on field %q", e.Kind, e.Field)
}
