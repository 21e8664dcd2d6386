package qdf

// Overrides is a partial Options as it arrives over the wire. Nil fields
// keep the base value, so an explicit zero is distinguishable from absent.
type Overrides struct {
	HalfLifeDays      *float64 `json:"halfLifeDays,omitempty"`
	FreshnessWeight   *float64 `json:"freshnessWeight,omitempty"`
	PopularityWeight  *float64 `json:"popularityWeight,omitempty"`
	MinFreshnessScore *float64 `json:"minFreshnessScore,omitempty"`
	MaxResults        *int     `json:"maxResults,omitempty"`
}

// Apply layers o over base and normalizes the result.
func (o *Overrides) Apply(base Options) Options {
	if o == nil {
		return base.Normalize()
	}
	if o.HalfLifeDays != nil {
		base.HalfLifeDays = *o.HalfLifeDays
	}
	if o.FreshnessWeight != nil {
		base.FreshnessWeight = *o.FreshnessWeight
	}
	if o.PopularityWeight != nil {
		base.PopularityWeight = *o.PopularityWeight
	}
	if o.MinFreshnessScore != nil {
		base.MinFreshnessScore = *o.MinFreshnessScore
	}
	if o.MaxResults != nil {
		base.MaxResults = *o.MaxResults
	}
	return base.Normalize()
}
