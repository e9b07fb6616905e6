package billing

import (
	"fmt"
	"time"
)

// PeriodEnd adds count billing intervals to start. Calendar arithmetic
// follows time.AddDate, so Jan 31 plus one month lands on Mar 3 (or Mar 2
// in a leap year).
func PeriodEnd(start time.Time, interval string, count int64) (time.Time, error) {
	if count <= 0 {
		return time.Time{}, fmt.Errorf("invalid interval count %d", count)
	}
	n := int(count)
	switch interval {
	case "day":
		return start.AddDate(0, 0, n), nil
	case "week":
		return start.AddDate(0, 0, 7*n), nil
	case "month":
		return start.AddDate(0, n, 0), nil
	case "year":
		return start.AddDate(n, 0, 0), nil
	}
	return time.Time{}, fmt.Errorf("unsupported billing interval %q", interval)
}
