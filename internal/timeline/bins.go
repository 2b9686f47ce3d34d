package timeline

import "time"

const dateLabelLayout = "2006-01-02"

// Bin is one time bucket of a report timeline. Start is inclusive, End
// exclusive.
type Bin struct {
	Start time.Time
	End   time.Time
	Label string
}

// Contains reports whether ts falls inside the bin.
func (b Bin) Contains(ts time.Time) bool {
	return !ts.Before(b.Start) && ts.Before(b.End)
}

// BuildBins builds the timeline buckets for a period ending on endDay:
// 7 daily bins for a week, 4 weekly bins for a month, 12 weekly bins
// for a quarter. Bins are ordered oldest first and the last bin always
// covers endDay in full.
func BuildBins(r Range, endDay time.Time) []Bin {
	count, widthDays := binShape(r)
	upper := truncateToDay(endDay).AddDate(0, 0, 1)

	bins := make([]Bin, count)
	for i := count - 1; i >= 0; i-- {
		start := upper.AddDate(0, 0, -widthDays)
		bins[i] = Bin{
			Start: start,
			End:   upper,
			Label: start.Format(dateLabelLayout),
		}
		upper = start
	}
	return bins
}

// AssignToBin returns the index of the bin containing ts, or -1 when ts
// falls outside every bin.
func AssignToBin(bins []Bin, ts time.Time) int {
	for i, bin := range bins {
		if bin.Contains(ts) {
			return i
		}
	}
	return -1
}

func binShape(r Range) (count, widthDays int) {
	switch r {
	case RangeMonth:
		return 4, 7
	case RangeQuarter:
		return 12, 7
	default:
		return 7, 1
	}
}
