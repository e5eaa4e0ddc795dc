package engine

import (
	"time"

	"github.com/evermemos/evermemos/pkg/types"
)

// TemporalValidityFilter narrows the foresights attached to retrieval
// results to those valid at a given instant. Results themselves are always
// retained; only the attached foresight subset shrinks.
type TemporalValidityFilter struct{}

// FilterResult populates TemporalValidForesights with the subset of the
// cell's foresights valid at t and returns the same result.
func (TemporalValidityFilter) FilterResult(result *types.RetrievalResult, t time.Time) *types.RetrievalResult {
	var valid []types.Foresight
	for _, f := range result.MemCell.Foresights {
		if f.IsValidAt(t) {
			valid = append(valid, f)
		}
	}
	result.TemporalValidForesights = valid
	return result
}

// FilterResults applies FilterResult to every result in place.
func (f TemporalValidityFilter) FilterResults(results []*types.RetrievalResult, t time.Time) []*types.RetrievalResult {
	for _, res := range results {
		f.FilterResult(res, t)
	}
	return results
}
