package coordinator

import (
	"fmt"

	"github.com/hazyhaar/boothcrawl/crawl/internal/store"
)

// maxErrorLen bounds error text kept in health and metrics.
const maxErrorLen = 1000

// NextHealth computes a source's health after a run. It is pure: the caller
// loads prev with the source and persists the result.
//
// An aborted run leaves health untouched. A failed run increments the
// consecutive-failure counter; at threshold, or immediately for a
// configuration error, the source is disabled and flagged for review. Any
// other outcome resets the counter and records a success.
func NextHealth(prev store.Health, rep *Report, now int64, threshold int) store.Health {
	if rep.Status == StatusAborted {
		return prev
	}
	next := prev
	next.LastRunAt = &now
	next.LastStatus = rep.Status
	next.TotalFound += int64(rep.Found)
	next.TotalAdded += int64(rep.Added)
	next.TotalUpdated += int64(rep.Updated)

	if rep.Status != StatusError {
		next.ConsecutiveFailures = 0
		next.LastSuccessAt = &now
		next.LastError = truncate(rep.Error, maxErrorLen)
		return next
	}

	next.ConsecutiveFailures++
	next.LastError = truncate(rep.Error, maxErrorLen)
	switch {
	case rep.Class == ClassConfig:
		next.Enabled = false
		next.NeedsReview = true
		next.ReviewReason = truncate("configuration error: "+rep.Error, maxErrorLen)
	case threshold > 0 && next.ConsecutiveFailures >= threshold:
		next.Enabled = false
		next.NeedsReview = true
		next.ReviewReason = truncate(fmt.Sprintf("%d consecutive failures, last: %s",
			next.ConsecutiveFailures, rep.Error), maxErrorLen)
	}
	return next
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && s[n]&0xC0 == 0x80 {
		n--
	}
	return s[:n]
}
