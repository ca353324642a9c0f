package engine

import (
	"context"

	"github.com/feedpilot/feedpilot/internal/feed"
)

// Platform drives one site's automation surface. Implementations own the
// browser session, network interception and selectors; the session runner
// owns policy, pacing and bookkeeping.
//
// PostComment covers the full submission: focusing the input, typing
// through the human-input simulator, attaching images, submitting and
// awaiting the publish acknowledgement. It returns ErrVerificationTimeout
// when a verification challenge outlasts its bound.
type Platform interface {
	Name() string

	// Launch brings the browser session up: restore persisted session
	// state, navigate to the feed and install response interception.
	// Runs the search flow when one is configured.
	Launch(ctx context.Context) error
	// Teardown persists session state and releases the browser.
	Teardown(ctx context.Context) error

	// NextItem returns the item at the current feed position. ok is
	// false when no item is available yet; the runner waits and
	// advances.
	NextItem(ctx context.Context) (item feed.ContentItem, ok bool, err error)
	// Advance moves to the next feed position.
	Advance(ctx context.Context) error

	// Eligible applies platform-specific pre-filters such as item kind
	// and comment-volume bounds. reason is set when ok is false.
	Eligible(item feed.ContentItem) (ok bool, reason string)

	Like(ctx context.Context, item feed.ContentItem) error
	OpenComments(ctx context.Context, item feed.ContentItem) error
	// FetchComments returns observed comment data for the activity
	// check. An error means the data never arrived; the caller treats
	// that as inactive.
	FetchComments(ctx context.Context, item feed.ContentItem) ([]feed.Comment, error)
	PostComment(ctx context.Context, item feed.ContentItem, text string, imagePaths []string) error
	CloseComments(ctx context.Context) error
}

// ItemOpener is implemented by platforms whose feed is a grid of entries
// that must be clicked into before engagement, rather than a full-screen
// scroll feed. When present, OpenItem runs after rule matching and before
// the watch simulation.
type ItemOpener interface {
	OpenItem(ctx context.Context, item feed.ContentItem) error
}
