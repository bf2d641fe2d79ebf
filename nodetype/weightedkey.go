package nodetype

import (
	"sort"
	"strings"

	"github.com/orneryd/contentengine/name"
)

// WeightedKey is the cache key for an Effective Node Type aggregate:
// the sorted set of constituent type names plus an integer weight
// equal to the size of its transitive closure (spec.md §3). Weight
// lets the aggregation algorithm prefer trying larger, cheaper-to-
// extend cached aggregates first.
type WeightedKey struct {
	names  []name.QName
	weight int
}

// NewWeightedKey builds a key from a (possibly unsorted, possibly
// duplicated) set of type names and a closure weight.
func NewWeightedKey(names []name.QName, weight int) WeightedKey {
	uniq := make(map[name.QName]struct{}, len(names))
	for _, n := range names {
		uniq[n] = struct{}{}
	}
	sorted := make([]name.QName, 0, len(uniq))
	for n := range uniq {
		sorted = append(sorted, n)
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].String() < sorted[j].String()
	})
	return WeightedKey{names: sorted, weight: weight}
}

// Names returns the sorted constituent type names.
func (k WeightedKey) Names() []name.QName {
	return k.names
}

// Weight returns the transitive-closure size used to order aggregates.
func (k WeightedKey) Weight() int {
	return k.weight
}

// Size reports the number of constituent types in the key (not the
// closure weight).
func (k WeightedKey) Size() int {
	return len(k.names)
}

// String is the cache map key: the sorted names joined, ignoring
// weight, since two keys with the same name set are the same cache
// entry regardless of how the weight was computed (spec.md §8: "The
// ENT cache never contains two keys differing only by ordering").
func (k WeightedKey) String() string {
	parts := make([]string, len(k.names))
	for i, n := range k.names {
		parts[i] = n.String()
	}
	return strings.Join(parts, "|")
}

// IsSubsetOf reports whether every name in k is present in other.
func (k WeightedKey) IsSubsetOf(other map[name.QName]struct{}) bool {
	for _, n := range k.names {
		if _, ok := other[n]; !ok {
			return false
		}
	}
	return true
}
