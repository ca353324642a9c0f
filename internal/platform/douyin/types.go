package douyin

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/feedpilot/feedpilot/internal/feed"
)

// Endpoints whose responses feed the cache and the one-shot waits.
const (
	feedEndpoint        = "/aweme/v1/web/tab/feed/"
	searchEndpoint      = "/aweme/v1/web/general/search/single/"
	commentListEndpoint = "/aweme/v1/web/comment/list/"
	publishEndpoint     = "/aweme/v1/web/comment/publish"
)

type feedItem struct {
	AwemeID   string `json:"aweme_id"`
	Desc      string `json:"desc"`
	AwemeType int    `json:"aweme_type"`
	ShareURL  string `json:"share_url"`
	Author    struct {
		Nickname string `json:"nickname"`
	} `json:"author"`
	VideoTag []struct {
		TagName string `json:"tag_name"`
	} `json:"video_tag"`
	Statistics struct {
		CommentCount int `json:"comment_count"`
	} `json:"statistics"`
}

func (v feedItem) toContentItem() feed.ContentItem {
	tags := make([]string, 0, len(v.VideoTag))
	for _, t := range v.VideoTag {
		if t.TagName != "" {
			tags = append(tags, t.TagName)
		}
	}
	return feed.ContentItem{
		ID:           v.AwemeID,
		AuthorName:   v.Author.Nickname,
		Description:  v.Desc,
		Tags:         tags,
		CommentCount: v.Statistics.CommentCount,
		ShareURL:     v.ShareURL,
		RawKind:      strconv.Itoa(v.AwemeType),
	}
}

type feedListResponse struct {
	AwemeList []feedItem `json:"aweme_list"`
}

type searchResponse struct {
	Data []struct {
		AwemeInfo *feedItem `json:"aweme_info"`
	} `json:"data"`
}

type commentListResponse struct {
	Comments []struct {
		Text       string `json:"text"`
		CreateTime int64  `json:"create_time"`
		User       struct {
			Nickname string `json:"nickname"`
		} `json:"user"`
	} `json:"comments"`
}

func (r commentListResponse) toComments() []feed.Comment {
	out := make([]feed.Comment, 0, len(r.Comments))
	for _, c := range r.Comments {
		out = append(out, feed.Comment{
			Author:    c.User.Nickname,
			Text:      c.Text,
			CreatedAt: time.Unix(c.CreateTime, 0),
		})
	}
	return out
}

type publishResponse struct {
	StatusCode int `json:"status_code"`
}

func parseFeedItems(body []byte) []feedItem {
	var parsed feedListResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil
	}
	return parsed.AwemeList
}

func parseSearchItems(body []byte) []feedItem {
	var parsed searchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil
	}
	out := make([]feedItem, 0, len(parsed.Data))
	for _, d := range parsed.Data {
		if d.AwemeInfo != nil {
			out = append(out, *d.AwemeInfo)
		}
	}
	return out
}
