package filters

import (
	"slices"

	"github.com/usagedeck/usagedeck/internal/daterange"
)

// Field names a filter dimension.
type Field string

const (
	FieldUsers   Field = "users"
	FieldModels  Field = "models"
	FieldAPIKeys Field = "api_keys"
	FieldRange   Field = "date_range"
)

// Change is one requested edit to a single dimension.
type Change struct {
	Field Field
	IDs   []string
	Range daterange.DateRange
}

// ChangeKind classifies an implied change.
type ChangeKind string

const (
	// KindCleared means the cascade emptied a dependent dimension.
	KindCleared ChangeKind = "cleared"
	// KindAdvisory means a dependent selection may no longer match; nothing
	// was altered.
	KindAdvisory ChangeKind = "advisory"
	// KindIgnored means the write was accepted but had no effect.
	KindIgnored ChangeKind = "ignored"
)

// ImpliedChange describes a side effect the cascade applied, or a condition
// the operator should be told about.
type ImpliedChange struct {
	Kind    ChangeKind
	Field   Field
	Message string
}

// Cascade applies one change to the current set and returns the new
// effective set plus every implied change. Pure function: neither argument
// is mutated, so the dependency rules are testable without a coordinator.
func Cascade(current FilterSet, change Change) (FilterSet, []ImpliedChange) {
	next := current.Clone()
	var implied []ImpliedChange

	switch change.Field {
	case FieldUsers:
		next.UserIDs = normalizeIDs(change.IDs)
		switch {
		case len(next.UserIDs) == 0 && len(next.APIKeyIDs) > 0:
			// API keys are scoped to users; with no users selected the key
			// filter has nothing to attach to.
			next.APIKeyIDs = nil
			implied = append(implied, ImpliedChange{
				Kind:    KindCleared,
				Field:   FieldAPIKeys,
				Message: "API key filter disabled",
			})
		case len(next.UserIDs) > 0 && len(next.APIKeyIDs) > 0 && !slices.Equal(next.UserIDs, current.UserIDs):
			// Keys belonging to deselected users are left in place; the
			// backend ignores ids outside the selected users.
			implied = append(implied, ImpliedChange{
				Kind:    KindAdvisory,
				Field:   FieldAPIKeys,
				Message: "API key selection may have changed; re-check the key filter",
			})
		}

	case FieldModels:
		next.ModelIDs = normalizeIDs(change.IDs)

	case FieldAPIKeys:
		if len(next.UserIDs) == 0 {
			if ids := normalizeIDs(change.IDs); len(ids) > 0 {
				implied = append(implied, ImpliedChange{
					Kind:    KindIgnored,
					Field:   FieldAPIKeys,
					Message: "API key filter requires at least one selected user",
				})
			}
			next.APIKeyIDs = nil
		} else {
			next.APIKeyIDs = normalizeIDs(change.IDs)
		}

	case FieldRange:
		next.Range = change.Range
	}

	return next, implied
}
