package xhs

import (
	"encoding/json"
	"fmt"

	"github.com/feedpilot/feedpilot/internal/feed"
)

// Endpoints whose responses feed the note queue.
const (
	homefeedEndpoint = "/api/sns/web/v1/homefeed"
	searchEndpoint   = "/api/sns/web/v1/search/notes"
)

type noteItem struct {
	ID        string `json:"id"`
	ModelType string `json:"model_type"`
	XsecToken string `json:"xsec_token"`
	NoteCard  struct {
		DisplayTitle string `json:"display_title"`
		User         struct {
			Nickname string `json:"nickname"`
		} `json:"user"`
		InteractInfo struct {
			LikeCount json.Number `json:"like_count"`
		} `json:"interact_info"`
	} `json:"note_card"`
}

func (n noteItem) toContentItem() feed.ContentItem {
	return feed.ContentItem{
		ID:          n.ID,
		AuthorName:  n.NoteCard.User.Nickname,
		Description: n.NoteCard.DisplayTitle,
		ShareURL: fmt.Sprintf("https://www.xiaohongshu.com/explore/%s?xsec_token=%s&xsec_source=",
			n.ID, n.XsecToken),
		RawKind: n.ModelType,
	}
}

type feedResponse struct {
	Data struct {
		Items []noteItem `json:"items"`
	} `json:"data"`
}

func parseNoteItems(body []byte) []noteItem {
	var parsed feedResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil
	}
	out := make([]noteItem, 0, len(parsed.Data.Items))
	for _, n := range parsed.Data.Items {
		if n.ID != "" {
			out = append(out, n)
		}
	}
	return out
}
