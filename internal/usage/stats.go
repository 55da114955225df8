package usage

import "time"

// Summary aggregates samples inside a time window.
type Summary struct {
	Count         int
	From          time.Time
	To            time.Time
	TotalBytes    int64
	RateMBPerHour float64
}

// Summarize aggregates all samples at or after since. The hourly rate is
// normalized over the window between since and the newest sample.
func Summarize(items []Sample, since time.Time) Summary {
	var sum Summary
	for _, s := range items {
		if s.Timestamp.Before(since) {
			continue
		}
		if sum.Count == 0 {
			sum.From = s.Timestamp
			sum.To = s.Timestamp
		}
		if s.Timestamp.Before(sum.From) {
			sum.From = s.Timestamp
		}
		if s.Timestamp.After(sum.To) {
			sum.To = s.Timestamp
		}
		sum.TotalBytes += s.BytesUsed
		sum.Count++
	}
	if sum.Count == 0 {
		return sum
	}

	window := sum.To.Sub(since)
	if window < time.Minute {
		window = time.Minute
	}
	mb := float64(sum.TotalBytes) / (1024 * 1024)
	sum.RateMBPerHour = mb / window.Hours()
	return sum
}
