package models

import "time"

// Filter is a conjunction of metadata predicates applied to candidate chunks
// before the top-k cut. Zero-valued fields impose no constraint.
//
// A chunk without a timestamp never satisfies a filter that sets DateFrom or
// DateTo: missing metadata does not satisfy a range predicate. This holds
// identically for every vector store variant.
type Filter struct {
	DocID    string     `json:"doc_id,omitempty"`
	Source   string     `json:"source,omitempty"`
	DateFrom *time.Time `json:"date_from,omitempty"`
	DateTo   *time.Time `json:"date_to,omitempty"`
}

// IsZero reports whether the filter imposes no constraints.
func (f *Filter) IsZero() bool {
	return f == nil || (f.DocID == "" && f.Source == "" && f.DateFrom == nil && f.DateTo == nil)
}

// Matches reports whether chunk c satisfies every predicate of the filter.
// A nil filter matches everything.
func (f *Filter) Matches(c *Chunk) bool {
	if f == nil {
		return true
	}
	if f.DocID != "" && c.DocID != f.DocID {
		return false
	}
	if f.Source != "" && c.Source != f.Source {
		return false
	}
	if f.DateFrom != nil || f.DateTo != nil {
		if c.Timestamp == nil {
			return false
		}
		if f.DateFrom != nil && c.Timestamp.Before(*f.DateFrom) {
			return false
		}
		if f.DateTo != nil && c.Timestamp.After(*f.DateTo) {
			return false
		}
	}
	return true
}
