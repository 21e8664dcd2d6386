// Package qdf ranks candidate documents by query-deserves-freshness: a
// weighted blend of recency decay, popularity and textual relevance.
package qdf

import (
	"math"
	"sort"
	"strings"
	"time"
)

const (
	DefaultHalfLifeDays      = 30.0
	DefaultFreshnessWeight   = 0.4
	DefaultPopularityWeight  = 0.3
	DefaultMinFreshnessScore = 0.1
	DefaultMaxResults        = 10

	titleMatchScore   = 0.5
	contentMatchScore = 0.1
	contentMatchCap   = 0.3
	tagMatchScore     = 0.2
	tagMatchCap       = 0.2
)

// Document is a ranking candidate.
type Document struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	PublishedAt  time.Time `json:"publishedAt"`
	LastModified time.Time `json:"lastModified"`
	ContentType  string    `json:"contentType,omitempty"`
	Popularity   float64   `json:"popularity"`
	Tags         []string  `json:"tags,omitempty"`
	Source       string    `json:"source,omitempty"`
	URL          string    `json:"url,omitempty"`
}

// Result is a scored document.
type Result struct {
	Document        Document `json:"document"`
	Score           float64  `json:"score"`
	FreshnessScore  float64  `json:"freshnessScore"`
	PopularityScore float64  `json:"popularityScore"`
	RelevanceScore  float64  `json:"relevanceScore"`
}

// Options tunes ranking. Start from DefaultOptions; Normalize repairs
// out-of-range values.
type Options struct {
	HalfLifeDays      float64 `json:"halfLifeDays"`
	FreshnessWeight   float64 `json:"freshnessWeight"`
	PopularityWeight  float64 `json:"popularityWeight"`
	MinFreshnessScore float64 `json:"minFreshnessScore"`
	MaxResults        int     `json:"maxResults"`
}

// DefaultOptions returns half-life 30 days, weights 0.4/0.3/0.3, minimum
// freshness 0.1 and at most 10 results.
func DefaultOptions() Options {
	return Options{
		HalfLifeDays:      DefaultHalfLifeDays,
		FreshnessWeight:   DefaultFreshnessWeight,
		PopularityWeight:  DefaultPopularityWeight,
		MinFreshnessScore: DefaultMinFreshnessScore,
		MaxResults:        DefaultMaxResults,
	}
}

// Normalize returns a copy with defaults for non-positive half-life and
// result limit, weights and minimum freshness clamped to [0,1], and weights
// scaled down proportionally when they sum past 1.
func (o Options) Normalize() Options {
	if !(o.HalfLifeDays > 0) || math.IsInf(o.HalfLifeDays, 0) {
		o.HalfLifeDays = DefaultHalfLifeDays
	}
	if o.MaxResults <= 0 {
		o.MaxResults = DefaultMaxResults
	}
	o.FreshnessWeight = clamp01(o.FreshnessWeight)
	o.PopularityWeight = clamp01(o.PopularityWeight)
	o.MinFreshnessScore = clamp01(o.MinFreshnessScore)
	if sum := o.FreshnessWeight + o.PopularityWeight; sum > 1 {
		o.FreshnessWeight /= sum
		o.PopularityWeight /= sum
	}
	return o
}

// RelevanceWeight is the weight left for relevance after freshness and
// popularity.
func (o Options) RelevanceWeight() float64 {
	return math.Max(0, 1-o.FreshnessWeight-o.PopularityWeight)
}

// Rank scores docs against query at instant now, drops documents below the
// minimum freshness, sorts by score descending keeping input order on ties,
// and truncates to MaxResults.
func Rank(docs []Document, query string, opts Options, now time.Time) []Result {
	opts = opts.Normalize()
	q := strings.ToLower(strings.TrimSpace(query))

	results := make([]Result, 0, len(docs))
	for _, d := range docs {
		r := Score(d, q, opts, now)
		if r.FreshnessScore < opts.MinFreshnessScore {
			continue
		}
		results = append(results, r)
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > opts.MaxResults {
		results = results[:opts.MaxResults]
	}
	return results
}

// Score computes every component for a single document. query must already
// be lower-cased.
func Score(d Document, query string, opts Options, now time.Time) Result {
	fresh := Freshness(d, opts.HalfLifeDays, now)
	pop := Popularity(d.Popularity)
	rel := Relevance(d, query)
	return Result{
		Document:        d,
		Score:           opts.FreshnessWeight*fresh + opts.PopularityWeight*pop + opts.RelevanceWeight()*rel,
		FreshnessScore:  fresh,
		PopularityScore: pop,
		RelevanceScore:  rel,
	}
}

// Freshness is exp(-days/halfLife) over the younger of the publish and
// modify timestamps. A zero timestamp defers to the other; with both zero
// the document has no known age and scores 0.
func Freshness(d Document, halfLifeDays float64, now time.Time) float64 {
	days, ok := ageDays(d, now)
	if !ok {
		return 0
	}
	return math.Exp(-days / halfLifeDays)
}

func ageDays(d Document, now time.Time) (float64, bool) {
	var ages []float64
	for _, ts := range []time.Time{d.PublishedAt, d.LastModified} {
		if ts.IsZero() {
			continue
		}
		age := now.Sub(ts).Hours() / 24
		if age < 0 {
			age = 0
		}
		ages = append(ages, age)
	}
	switch len(ages) {
	case 0:
		return 0, false
	case 1:
		return ages[0], true
	default:
		return math.Min(ages[0], ages[1]), true
	}
}

// Popularity maps a raw popularity count onto [0,1], saturating at 100.
func Popularity(p float64) float64 {
	if !(p > 0) {
		return 0
	}
	return math.Min(p/100, 1)
}

// Relevance awards 0.5 for the query appearing in the title, 0.1 per content
// occurrence up to 0.3, and 0.2 if any tag contains the query, capped at 1.
// Matching is case-insensitive substring; query must be lower-cased.
func Relevance(d Document, query string) float64 {
	if query == "" {
		return 0
	}
	var score float64
	if strings.Contains(strings.ToLower(d.Title), query) {
		score += titleMatchScore
	}
	if n := strings.Count(strings.ToLower(d.Content), query); n > 0 {
		score += math.Min(float64(n)*contentMatchScore, contentMatchCap)
	}
	tagMatches := 0
	for _, tag := range d.Tags {
		if strings.Contains(strings.ToLower(tag), query) {
			tagMatches++
		}
	}
	if tagMatches > 0 {
		score += math.Min(float64(tagMatches)*tagMatchScore, tagMatchCap)
	}
	return math.Min(score, 1)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
