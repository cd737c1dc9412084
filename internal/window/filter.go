package window

import (
	"sort"
	"time"
)

// Row is one (ticker, date) observation.
type Row struct {
	Ticker string
	Date   time.Time
	Close  float64
	Volume float64
}

// Threshold binds a filter bound to the parameter that supplies it.
type Threshold struct {
	Param string  `json:"param"`
	Value float64 `json:"value"`
}

// FilterPlan is the cheap content filter applied to in-window rows only.
// Generated scanners emit the same plan into their filter stage.
type FilterPlan struct {
	MinPrice  *Threshold `json:"min_price,omitempty"`
	MinVolume *Threshold `json:"min_volume,omitempty"`
}

// Empty reports whether the plan filters nothing.
func (p FilterPlan) Empty() bool {
	return p.MinPrice == nil && p.MinVolume == nil
}

// Partition is the outcome of applying a FilterPlan.
type Partition struct {
	Historical []Row
	InWindow   []Row
	Kept       []Row
	Combined   []Row
}

// Dropped counts in-window rows removed by the content filter.
func (p Partition) Dropped() int {
	return len(p.InWindow) - len(p.Kept)
}

// keep reports whether a single in-window row survives the plan.
func (p FilterPlan) keep(row Row) bool {
	if p.MinPrice != nil && row.Close < p.MinPrice.Value {
		return false
	}
	if p.MinVolume != nil && row.Volume < p.MinVolume.Value {
		return false
	}
	return true
}

// Apply splits rows into historical and in-window sets, filters the in-window
// set and recombines. Historical rows always pass through untouched, so
// len(Combined) == len(Historical) + len(Kept).
func (p FilterPlan) Apply(r Range, rows []Row) Partition {
	var part Partition
	for _, row := range rows {
		if r.Contains(row.Date) {
			part.InWindow = append(part.InWindow, row)
			if p.keep(row) {
				part.Kept = append(part.Kept, row)
			}
			continue
		}
		part.Historical = append(part.Historical, row)
	}

	part.Combined = make([]Row, 0, len(part.Historical)+len(part.Kept))
	part.Combined = append(part.Combined, part.Historical...)
	part.Combined = append(part.Combined, part.Kept...)
	sort.SliceStable(part.Combined, func(i, j int) bool {
		a, b := part.Combined[i], part.Combined[j]
		if a.Ticker != b.Ticker {
			return a.Ticker < b.Ticker
		}
		return a.Date.Before(b.Date)
	})
	return part
}
