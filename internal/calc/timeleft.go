package calc

import (
	"fmt"
	"time"
)

// TimeLeft renders the remaining time until endMs as shown on market cards.
func TimeLeft(endMs int64, now time.Time) string {
	if Ended(endMs, now) {
		return "Ended"
	}
	diff := endMs - now.UnixMilli()

	d := time.Duration(diff) * time.Millisecond
	days := int64(d / (24 * time.Hour))
	hours := int64((d % (24 * time.Hour)) / time.Hour)
	mins := int64((d % time.Hour) / time.Minute)

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh left", days, hours)
	case hours > 0:
		return fmt.Sprintf("%dh %dm left", hours, mins)
	default:
		return fmt.Sprintf("%dm left", mins)
	}
}

// Ended reports whether endMs is not in the future.
func Ended(endMs int64, now time.Time) bool {
	return endMs <= now.UnixMilli()
}
