// Package query turns a snapshot of records into the list the screens display:
// search, then tag filter, then sort, plus the total of what is shown.
package query

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/zombor/coincard/internal/record"
)

// SortMode selects the list order. The zero value is the default.
type SortMode int

const (
	AmountDesc SortMode = iota
	AmountAsc
	DateAsc
	DateDesc
)

var sortModeNames = map[SortMode]string{
	AmountDesc: "amount_desc",
	AmountAsc:  "amount_asc",
	DateAsc:    "date_asc",
	DateDesc:   "date_desc",
}

func (m SortMode) String() string {
	if name, ok := sortModeNames[m]; ok {
		return name
	}
	return fmt.Sprintf("SortMode(%d)", int(m))
}

// ParseSortMode maps "amount_desc", "amount_asc", "date_asc" and "date_desc" to a SortMode.
// An empty string selects the default.
func ParseSortMode(s string) (SortMode, error) {
	if s == "" {
		return AmountDesc, nil
	}
	for mode, name := range sortModeNames {
		if name == s {
			return mode, nil
		}
	}
	return AmountDesc, fmt.Errorf("unknown sort mode %q", s)
}

// Options describes one list view
type Options struct {
	Search string   // recipient substring, empty for all
	Tag    string   // required hashtag, empty for none
	Sort   SortMode
}

// View is the displayed list and the sum of its amounts
type View struct {
	Records []*record.Record `json:"records"`
	Total   int64            `json:"total"`
	Count   int              `json:"count"`
}

// Apply runs search, tag filter and sort over records and totals the result.
// The input slice is not modified.
func Apply(records []*record.Record, opts Options) View {
	shown := Sort(FilterByTag(Search(records, opts.Search), opts.Tag), opts.Sort)
	return View{
		Records: shown,
		Total:   Sum(shown),
		Count:   len(shown),
	}
}

// Search keeps the records whose recipient contains q, ignoring case
func Search(records []*record.Record, q string) []*record.Record {
	out := make([]*record.Record, 0, len(records))
	for _, r := range records {
		if r.RecipientContains(q) {
			out = append(out, r)
		}
	}
	return out
}

// FilterByTag keeps the records carrying tag. An empty tag keeps everything.
func FilterByTag(records []*record.Record, tag string) []*record.Record {
	out := make([]*record.Record, 0, len(records))
	for _, r := range records {
		if tag == "" || r.HasHashtag(tag) {
			out = append(out, r)
		}
	}
	return out
}

// Sort returns a stably sorted copy of records
func Sort(records []*record.Record, mode SortMode) []*record.Record {
	out := slices.Clone(records)
	if out == nil {
		out = make([]*record.Record, 0)
	}

	var compare func(a, b *record.Record) int
	switch mode {
	case AmountAsc:
		compare = func(a, b *record.Record) int { return cmp.Compare(a.Amount, b.Amount) }
	case DateAsc:
		compare = func(a, b *record.Record) int { return a.CreatedAt.Compare(b.CreatedAt) }
	case DateDesc:
		compare = func(a, b *record.Record) int { return b.CreatedAt.Compare(a.CreatedAt) }
	default:
		compare = func(a, b *record.Record) int { return cmp.Compare(b.Amount, a.Amount) }
	}

	slices.SortStableFunc(out, compare)
	return out
}

// Sum adds up the amounts of records
func Sum(records []*record.Record) int64 {
	var total int64
	for _, r := range records {
		total += r.Amount
	}
	return total
}
