package registry

import (
	"errors"
	"testing"
)

func TestDescribe_KnownProviders(t *testing.T) {
	for _, id := range []string{Jira, Asana, Trello, Monday, Linear, CSV} {
		t.Run(id, func(t *testing.T) {
			d, err := Describe(id)
			if err != nil {
				t.Fatalf("Describe(%q) failed: %v", id, err)
			}
			if d.ID != id {
				t.Errorf("expected id %q, got %q", id, d.ID)
			}
			if d.DisplayName == "" {
				t.Errorf("provider %q has no display name", id)
			}
			if !d.HasCapability(CapSupportsMapping) {
				t.Errorf("provider %q should support mapping", id)
			}
		})
	}
}

func TestDescribe_Unknown(t *testing.T) {
	_, err := Describe("basecamp")
	if err == nil {
		t.Fatal("expected error for unregistered provider")
	}
	var unknown *UnknownProviderError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownProviderError, got %T", err)
	}
	if unknown.ID != "basecamp" {
		t.Errorf("expected id 'basecamp' in error, got %q", unknown.ID)
	}
}

func TestList_StableOrder(t *testing.T) {
	first := List()
	second := List()
	if len(first) != 6 {
		t.Fatalf("expected 6 providers, got %d", len(first))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Errorf("catalog order changed between calls at %d: %q vs %q", i, first[i].ID, second[i].ID)
		}
	}
	if first[0].ID != Jira {
		t.Errorf("expected jira first, got %q", first[0].ID)
	}
}

func TestCSV_NeedsNoAuth(t *testing.T) {
	d, err := Describe(CSV)
	if err != nil {
		t.Fatal(err)
	}
	if d.AuthMethod != AuthNone {
		t.Errorf("csv should need no auth, got %q", d.AuthMethod)
	}
	if d.HasCapability(CapRateLimited) {
		t.Error("csv should not be rate limited")
	}
}
