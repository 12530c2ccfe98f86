package archive

import (
	"fmt"
	"strings"
	"time"
)

// expandPattern substitutes the {SYMBOL}, {BROKER}, {YEAR}, {MONTH}, {DAY}
// placeholders in an archive URL pattern. Month and year patterns simply
// omit the finer placeholders.
func expandPattern(pattern, symbol, broker string, day time.Time) string {
	day = day.UTC()
	r := strings.NewReplacer(
		"{SYMBOL}", symbol,
		"{BROKER}", broker,
		"{YEAR}", fmt.Sprintf("%04d", day.Year()),
		"{MONTH}", fmt.Sprintf("%02d", int(day.Month())),
		"{DAY}", fmt.Sprintf("%02d", day.Day()),
	)
	return r.Replace(pattern)
}
