package timeline

import "fmt"

// InfinitePercent is the rendered change when activity grew from zero.
const InfinitePercent = "+∞%"

// PercentChange formats the relative change from previous to current
// with one decimal place. A zero previous value has no finite ratio:
// growth from nothing renders as +∞%, and zero-to-zero as 0%.
func PercentChange(current, previous float64) string {
	if previous == 0 {
		if current > 0 {
			return InfinitePercent
		}
		return "0%"
	}
	change := (current - previous) / previous * 100
	return fmt.Sprintf("%.1f%%", change)
}
