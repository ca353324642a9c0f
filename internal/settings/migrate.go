package settings

import (
	"encoding/json"

	"github.com/feedpilot/feedpilot/internal/rules"
)

// DetectVersion inspects a persisted blob and reports its schema version.
// Legacy blobs carried no version field at all, so a missing or empty
// version means v1. A version value we do not recognize is reported as
// unknown and the caller falls back to defaults.
func DetectVersion(raw json.RawMessage) Version {
	var probe struct {
		Version *string `json:"version"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return VersionUnknown
	}
	if probe.Version == nil || *probe.Version == "" || *probe.Version == string(VersionV1) {
		return VersionV1
	}
	if *probe.Version == string(VersionV2) {
		return VersionV2
	}
	return VersionUnknown
}

// MigrateV1ToV2 lifts a legacy flat configuration into the rule-group
// shape. The single rule list becomes one manual root group carrying the
// old comment payload; everything else maps field for field. The
// conversion is total: any v1 value produces a valid v2 value.
func MigrateV1ToV2(v1 SettingsV1) Settings {
	out := Default()
	out.BlockKeywords = append([]string{}, v1.BlockKeywords...)
	out.AuthorBlockKeywords = append([]string{}, v1.AuthorBlockKeywords...)
	out.SimulateWatchBeforeComment = v1.SimulateWatchBeforeComment
	if v1.WatchTimeRangeSeconds != [2]int{} {
		out.WatchTimeRangeSeconds = v1.WatchTimeRangeSeconds
	}
	out.OnlyCommentActiveVideo = v1.OnlyCommentActiveVideo

	group := rules.Group{
		ID:           rules.NewGroupID(),
		Kind:         rules.KindManual,
		Name:         "default",
		Relation:     v1.RuleRelation,
		Rules:        append([]rules.Rule{}, v1.Rules...),
		CommentTexts: append([]string{}, v1.CommentTexts...),
	}
	if group.Relation == "" {
		group.Relation = rules.RelationOr
	}
	if v1.CommentImagePath != "" {
		group.CommentImage = &rules.CommentImage{
			Path: v1.CommentImagePath,
			Mode: v1.CommentImageType,
		}
	}
	out.RuleGroups = []rules.Group{group}
	return out
}
