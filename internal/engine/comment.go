package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/feedpilot/feedpilot/internal/pacing"
	"github.com/feedpilot/feedpilot/internal/rules"
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
	".bmp":  true,
}

// pickCommentText selects one of the leaf group's comment texts at random.
func pickCommentText(pacer *pacing.Pacer, group *rules.Group) (string, error) {
	if len(group.CommentTexts) == 0 {
		return "", fmt.Errorf("rule group %q has no comment texts configured", group.Name)
	}
	return group.CommentTexts[pacer.Index(len(group.CommentTexts))], nil
}

// pickCommentImages resolves a group's image attachment config into
// concrete file paths: the single configured file, or one random image
// from the configured folder.
func pickCommentImages(pacer *pacing.Pacer, img *rules.CommentImage) ([]string, error) {
	if img == nil || img.Path == "" {
		return nil, nil
	}
	if img.Mode != rules.ImageModeFolder {
		return []string{img.Path}, nil
	}

	entries, err := os.ReadDir(img.Path)
	if err != nil {
		return nil, fmt.Errorf("read comment image folder: %w", err)
	}
	var candidates []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			candidates = append(candidates, filepath.Join(img.Path, e.Name()))
		}
	}
	if len(candidates) == 0 {
		return nil, fmt.Errorf("comment image folder %q has no images", img.Path)
	}
	return []string{candidates[pacer.Index(len(candidates))]}, nil
}

// firstContained returns the first keyword contained in s, or "".
// Matching is case-sensitive substring containment.
func firstContained(s string, keywords []string) string {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(s, kw) {
			return kw
		}
	}
	return ""
}
