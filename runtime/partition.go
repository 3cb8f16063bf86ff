package runtime

import (
	"fmt"
	"time"

	"github.com/pithecene-io/tranche/types"
)

// soqlTimeLayout formats datetime literals in SOQL filters.
const soqlTimeLayout = "2006-01-02T15:04:05.000Z"

// Partition splits r into n contiguous, non-overlapping sub-ranges of equal
// width. The last sub-range ends exactly at r.Stop and absorbs the
// remainder. Widths are truncated to whole milliseconds when r spans at
// least n milliseconds, since SOQL datetime literals carry millisecond
// precision.
//
// A single range is returned when n <= 1, when r is empty, or when r is
// shorter than n nanoseconds.
func Partition(r types.TimeRange, n int) []types.TimeRange {
	if n <= 1 || r.Empty() {
		return []types.TimeRange{r}
	}
	exact := r.Duration() / time.Duration(n)
	if exact <= 0 {
		return []types.TimeRange{r}
	}
	// Millisecond steps keep boundaries aligned with SOQL precision; ranges
	// narrower than n milliseconds split at the exact step instead.
	step := exact.Truncate(time.Millisecond)
	if step <= 0 {
		step = exact
	}

	out := make([]types.TimeRange, n)
	start := r.Start
	for i := range n {
		stop := start.Add(step)
		if i == n-1 {
			stop = r.Stop
		}
		out[i] = types.TimeRange{Start: start, Stop: stop}
		start = stop
	}
	return out
}

// ExtendQuery appends a half-open filter on dateField to query:
//
//	<query> WHERE <dateField> >= <start> AND <dateField> < <stop>
func ExtendQuery(query, dateField string, r types.TimeRange) string {
	return fmt.Sprintf("%s WHERE %s >= %s AND %s < %s",
		query,
		dateField, formatSOQLTime(r.Start),
		dateField, formatSOQLTime(r.Stop),
	)
}

func formatSOQLTime(t time.Time) string {
	return t.UTC().Format(soqlTimeLayout)
}
