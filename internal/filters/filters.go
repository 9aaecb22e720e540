package filters

import (
	"slices"
	"sort"
	"strings"

	"github.com/usagedeck/usagedeck/internal/daterange"
)

// FilterSet is the effective multi-dimensional selection attached to every
// analytics query. Id sets are always normalized: trimmed, deduplicated,
// sorted. APIKeyIDs is only ever non-empty while UserIDs is non-empty.
type FilterSet struct {
	Range     daterange.DateRange
	UserIDs   []string
	ModelIDs  []string
	APIKeyIDs []string
}

// Clone returns a copy whose id slices are independent of the receiver's.
func (f FilterSet) Clone() FilterSet {
	f.UserIDs = slices.Clone(f.UserIDs)
	f.ModelIDs = slices.Clone(f.ModelIDs)
	f.APIKeyIDs = slices.Clone(f.APIKeyIDs)
	return f
}

// CacheKey returns the canonical serialization used for cache identity.
// Because id sets are sorted on entry, logically equal selections produce
// byte-equal keys regardless of the order ids were picked in.
func (f FilterSet) CacheKey() string {
	var b strings.Builder
	b.WriteString(f.Range.StartString())
	b.WriteByte('|')
	b.WriteString(f.Range.EndString())
	b.WriteString("|u:")
	b.WriteString(strings.Join(f.UserIDs, ","))
	b.WriteString("|m:")
	b.WriteString(strings.Join(f.ModelIDs, ","))
	b.WriteString("|k:")
	b.WriteString(strings.Join(f.APIKeyIDs, ","))
	return b.String()
}

// Equal reports whether both sets select the same data.
func (f FilterSet) Equal(other FilterSet) bool {
	return f.CacheKey() == other.CacheKey()
}

func normalizeIDs(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	clean := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		clean = append(clean, id)
	}
	if len(clean) == 0 {
		return nil
	}
	sort.Strings(clean)
	return clean
}
