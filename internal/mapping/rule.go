// Package mapping converts raw provider records into internal tasks according
// to a user-editable set of mapping rules.
package mapping

import (
	"fmt"
	"strings"
)

// Transform is a pure function applied to a raw source value before it is
// written into the target field.
type Transform func(any) (any, error)

// Rule declares that one provider field feeds one target schema field.
type Rule struct {
	SourceField string
	TargetField string
	Required    bool
	Transform   Transform
}

// Lookup returns a transform that replaces values via a lookup table. Values
// with no table entry pass through unchanged so partial tables stay usable.
func Lookup(table map[string]string) Transform {
	return func(v any) (any, error) {
		s, err := toString(v)
		if err != nil {
			return nil, err
		}
		if mapped, ok := table[s]; ok {
			return mapped, nil
		}
		return s, nil
	}
}

// StrictLookup is like Lookup but fails on values missing from the table.
func StrictLookup(table map[string]string) Transform {
	return func(v any) (any, error) {
		s, err := toString(v)
		if err != nil {
			return nil, err
		}
		mapped, ok := table[s]
		if !ok {
			return nil, fmt.Errorf("no lookup entry for %q", s)
		}
		return mapped, nil
	}
}

// Split returns a transform that splits a delimited string into trimmed parts.
// Used for tag-style fields that providers serialize as one string.
func Split(sep string) Transform {
	return func(v any) (any, error) {
		s, err := toString(v)
		if err != nil {
			return nil, err
		}
		if s == "" {
			return []string{}, nil
		}
		parts := strings.Split(s, sep)
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		return parts, nil
	}
}

// Lower returns a transform that lowercases a string value.
func Lower() Transform {
	return func(v any) (any, error) {
		s, err := toString(v)
		if err != nil {
			return nil, err
		}
		return strings.ToLower(s), nil
	}
}

// JiraPriority maps Jira's default priority names onto the internal scale.
var JiraPriority = Lookup(map[string]string{
	"Highest":  "urgent",
	"Blocker":  "urgent",
	"Critical": "urgent",
	"High":     "high",
	"Medium":   "normal",
	"Low":      "low",
	"Lowest":   "low",
})
