package filters

import "github.com/usagedeck/usagedeck/internal/daterange"

// Coordinator owns a session's effective FilterSet. Every setter routes
// through Cascade so the dependency rules apply no matter which surface
// triggered the edit.
type Coordinator struct {
	current FilterSet
}

// NewCoordinator starts with an empty selection over the given range.
func NewCoordinator(initial daterange.DateRange) *Coordinator {
	return &Coordinator{current: FilterSet{Range: initial}}
}

// Current returns a copy of the effective selection.
func (c *Coordinator) Current() FilterSet {
	return c.current.Clone()
}

// SetUsers replaces the user selection.
func (c *Coordinator) SetUsers(ids []string) (FilterSet, []ImpliedChange) {
	return c.apply(Change{Field: FieldUsers, IDs: ids})
}

// SetModels replaces the model selection.
func (c *Coordinator) SetModels(ids []string) (FilterSet, []ImpliedChange) {
	return c.apply(Change{Field: FieldModels, IDs: ids})
}

// SetAPIKeys replaces the API key selection. Writes while no users are
// selected are accepted and ignored rather than rejected.
func (c *Coordinator) SetAPIKeys(ids []string) (FilterSet, []ImpliedChange) {
	return c.apply(Change{Field: FieldAPIKeys, IDs: ids})
}

// SetRange replaces the date range.
func (c *Coordinator) SetRange(rng daterange.DateRange) (FilterSet, []ImpliedChange) {
	return c.apply(Change{Field: FieldRange, Range: rng})
}

func (c *Coordinator) apply(change Change) (FilterSet, []ImpliedChange) {
	next, implied := Cascade(c.current, change)
	c.current = next
	return next.Clone(), implied
}
