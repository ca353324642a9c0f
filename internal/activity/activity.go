// Package activity decides whether a content item's comment section is
// fresh enough to be worth engaging with.
package activity

import (
	"fmt"
	"time"

	"github.com/feedpilot/feedpilot/internal/feed"
)

const (
	// sampleSize is how many of the newest comments are inspected when
	// enough are available.
	sampleSize = 5

	recentWindow   = 48 * time.Hour
	fallbackWindow = 24 * time.Hour
)

// Result is the outcome of one activity evaluation.
type Result struct {
	Active bool
	Reason string
}

// Evaluate classifies the recency pattern of comments (ordered newest-first)
// at the instant now. With at least five comments available the item is
// active iff two of the first five fall within the last 48 hours; with fewer
// it is active iff any comment falls within the last 24 hours. Missing data
// is inactive. Pure function, no side effects.
func Evaluate(comments []feed.Comment, now time.Time) Result {
	if comments == nil {
		return Result{Active: false, Reason: "comment data missing or malformed"}
	}

	if len(comments) >= sampleSize {
		recent := 0
		for _, c := range comments[:sampleSize] {
			if withinWindow(c, now, recentWindow) {
				recent++
			}
		}
		if recent >= 2 {
			return Result{Active: true, Reason: fmt.Sprintf("%d of first %d comments within 48h", recent, sampleSize)}
		}
		return Result{Active: false, Reason: fmt.Sprintf("only %d of first %d comments within 48h", recent, sampleSize)}
	}

	recent := 0
	for _, c := range comments {
		if withinWindow(c, now, fallbackWindow) {
			recent++
		}
	}
	if recent >= 1 {
		return Result{Active: true, Reason: fmt.Sprintf("%d of %d comments within 24h", recent, len(comments))}
	}
	return Result{Active: false, Reason: fmt.Sprintf("no comment within 24h (%d total)", len(comments))}
}

func withinWindow(c feed.Comment, now time.Time, window time.Duration) bool {
	if c.CreatedAt.IsZero() {
		return false
	}
	age := now.Sub(c.CreatedAt)
	return age >= 0 && age < window
}
