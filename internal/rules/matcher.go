package rules

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/feedpilot/feedpilot/internal/feed"
)

// Classifier answers whether a content item is worth engaging with for a
// given free-text prompt. Implementations may fail; the matcher treats any
// failure as a non-match.
type Classifier interface {
	Classify(ctx context.Context, itemSummaryJSON string, prompt string) (bool, error)
}

// Matcher evaluates a rule-group forest against one content item and
// returns the single deepest matching leaf group.
type Matcher struct {
	classifier Classifier
	logger     *zap.Logger
}

// NewMatcher creates a matcher. classifier may be nil, in which case AI
// groups never match.
func NewMatcher(classifier Classifier, logger *zap.Logger) *Matcher {
	return &Matcher{classifier: classifier, logger: logger}
}

// Match walks sibling groups in list order and returns the first matching
// leaf, or nil when nothing matches. A group whose own condition holds but
// that has children only matches through a matching descendant.
func (m *Matcher) Match(ctx context.Context, groups []Group, item feed.ContentItem) *Group {
	for i := range groups {
		if leaf := m.matchGroup(ctx, &groups[i], item); leaf != nil {
			return leaf
		}
	}
	return nil
}

func (m *Matcher) matchGroup(ctx context.Context, g *Group, item feed.ContentItem) *Group {
	if !m.locallyMatched(ctx, g, item) {
		return nil
	}

	if !g.IsLeaf() {
		// A parent match is only realized through a matching descendant.
		return m.Match(ctx, g.Children, item)
	}
	return g
}

func (m *Matcher) locallyMatched(ctx context.Context, g *Group, item feed.ContentItem) bool {
	switch g.Kind {
	case KindAI:
		return m.classify(ctx, g, item)
	case KindManual:
		return matchManual(g, item)
	default:
		return false
	}
}

func (m *Matcher) classify(ctx context.Context, g *Group, item feed.ContentItem) bool {
	if m.classifier == nil || g.Prompt == "" {
		return false
	}
	summary, err := json.Marshal(map[string]interface{}{
		"author":      item.AuthorName,
		"description": item.Description,
		"tags":        item.Tags,
	})
	if err != nil {
		return false
	}
	ok, err := m.classifier.Classify(ctx, string(summary), g.Prompt)
	if err != nil {
		// Fail closed: a classifier outage must not abort the scan.
		m.logger.Warn("AI classification failed, treating as non-match",
			zap.String("group", g.Name),
			zap.Error(err),
		)
		return false
	}
	return ok
}

func matchManual(g *Group, item feed.ContentItem) bool {
	if len(g.Rules) == 0 {
		return false
	}
	relation := g.Relation
	if relation == "" {
		relation = RelationOr
	}
	for _, rule := range g.Rules {
		hit := matchRule(rule, item)
		if relation == RelationAnd && !hit {
			return false
		}
		if relation == RelationOr && hit {
			return true
		}
	}
	return relation == RelationAnd
}

func matchRule(rule Rule, item feed.ContentItem) bool {
	if rule.Keyword == "" {
		return false
	}
	switch rule.Field {
	case FieldAuthorName:
		return strings.Contains(item.AuthorName, rule.Keyword)
	case FieldDescription:
		return strings.Contains(item.Description, rule.Keyword)
	case FieldTag:
		for _, tag := range item.Tags {
			if strings.Contains(tag, rule.Keyword) {
				return true
			}
		}
		return false
	default:
		return false
	}
}
