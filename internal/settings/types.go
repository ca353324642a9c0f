// Package settings holds the versioned engagement configuration and its
// persistence. V2 is current; V1 blobs from older installs are migrated on
// first read.
package settings

import "github.com/feedpilot/feedpilot/internal/rules"

// Version discriminates a persisted settings blob.
type Version string

const (
	VersionV1      Version = "v1"
	VersionV2      Version = "v2"
	VersionUnknown Version = "unknown"
)

// Settings is the current (v2) configuration shape. The orchestrator reads
// it once per session start and treats it as immutable for the session
// duration; edits go through whole-object replace on the store.
type Settings struct {
	Version                    string        `json:"version"`
	RuleGroups                 []rules.Group `json:"ruleGroups"`
	BlockKeywords              []string      `json:"blockKeywords"`
	AuthorBlockKeywords        []string      `json:"authorBlockKeywords"`
	SimulateWatchBeforeComment bool          `json:"simulateWatchBeforeComment"`
	WatchTimeRangeSeconds      [2]int        `json:"watchTimeRangeSeconds"`
	OnlyCommentActiveVideo     bool          `json:"onlyCommentActiveVideo"`
	MaxCount                   int           `json:"maxCount"`
	SearchEnabled              bool          `json:"isSearchEnabled"`
	SearchWord                 string        `json:"searchWord"`
	SearchSort                 string        `json:"searchSort"`
	SearchTimeRange            string        `json:"searchTimeRange"`
}

// SettingsV1 is the legacy flat configuration: a single rule list instead
// of a rule-group forest, with the comment payload at the top level.
type SettingsV1 struct {
	BlockKeywords              []string        `json:"blockKeywords"`
	AuthorBlockKeywords        []string        `json:"authorBlockKeywords"`
	RuleRelation               rules.Relation  `json:"ruleRelation"`
	Rules                      []rules.Rule    `json:"rules"`
	SimulateWatchBeforeComment bool            `json:"simulateWatchBeforeComment"`
	WatchTimeRangeSeconds      [2]int          `json:"watchTimeRangeSeconds"`
	OnlyCommentActiveVideo     bool            `json:"onlyCommentActiveVideo"`
	CommentTexts               []string        `json:"commentTexts"`
	CommentImagePath           string          `json:"commentImagePath,omitempty"`
	CommentImageType           rules.ImageMode `json:"commentImageType,omitempty"`
}

// Default returns the v2 defaults used for fresh installs and unknown
// blobs.
func Default() Settings {
	return Settings{
		Version:               string(VersionV2),
		RuleGroups:            []rules.Group{},
		BlockKeywords:         []string{},
		AuthorBlockKeywords:   []string{},
		WatchTimeRangeSeconds: [2]int{5, 15},
		MaxCount:              10,
	}
}
