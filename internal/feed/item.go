package feed

import "time"

// ContentItem is the platform-neutral view of one feed entry. Platform
// adapters map their intercepted wire formats into this shape before the
// engine sees them.
type ContentItem struct {
	ID           string   `json:"id"`
	AuthorName   string   `json:"author_name"`
	Description  string   `json:"description"`
	Tags         []string `json:"tags,omitempty"`
	CommentCount int      `json:"comment_count"`
	ShareURL     string   `json:"share_url,omitempty"`
	// RawKind carries the platform-specific item discriminator (e.g. the
	// aweme_type of a Douyin feed entry). Interpretation is left to the
	// platform adapter.
	RawKind string `json:"raw_kind,omitempty"`
}

// Comment is one observed comment on a content item, newest-first ordering
// is preserved from the intercepted comment-list response.
type Comment struct {
	Author    string    `json:"author,omitempty"`
	Text      string    `json:"text,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
