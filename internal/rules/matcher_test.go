package rules

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/feedpilot/feedpilot/internal/feed"
)

type stubClassifier struct {
	decision bool
	err      error
	calls    int
}

func (s *stubClassifier) Classify(_ context.Context, _ string, _ string) (bool, error) {
	s.calls++
	return s.decision, s.err
}

func manualLeaf(id, name string, relation Relation, rules ...Rule) Group {
	return Group{
		ID:           id,
		Kind:         KindManual,
		Name:         name,
		Relation:     relation,
		Rules:        rules,
		CommentTexts: []string{"nice"},
	}
}

func catItem() feed.ContentItem {
	return feed.ContentItem{
		ID:          "v1",
		AuthorName:  "catlady",
		Description: "cute cat video",
		Tags:        []string{"pets", "cats"},
	}
}

func TestMatchSimpleLeaf(t *testing.T) {
	m := NewMatcher(nil, zap.NewNop())
	forest := []Group{manualLeaf("g1", "cats", RelationOr, Rule{Field: FieldDescription, Keyword: "cat"})}

	got := m.Match(context.Background(), forest, catItem())
	require.NotNil(t, got)
	assert.Equal(t, "g1", got.ID)
}

func TestMatchSiblingOrder(t *testing.T) {
	m := NewMatcher(nil, zap.NewNop())
	forest := []Group{
		manualLeaf("first", "first", RelationOr, Rule{Field: FieldDescription, Keyword: "cat"}),
		manualLeaf("second", "second", RelationOr, Rule{Field: FieldDescription, Keyword: "cute"}),
	}

	got := m.Match(context.Background(), forest, catItem())
	require.NotNil(t, got)
	assert.Equal(t, "first", got.ID, "first matching sibling in list order wins")
}

func TestMatchParentWithoutChildMatchIsNull(t *testing.T) {
	m := NewMatcher(nil, zap.NewNop())
	parent := manualLeaf("parent", "parent", RelationOr, Rule{Field: FieldDescription, Keyword: "cat"})
	parent.Children = []Group{
		manualLeaf("child", "child", RelationOr, Rule{Field: FieldDescription, Keyword: "dog"}),
	}

	got := m.Match(context.Background(), []Group{parent}, catItem())
	assert.Nil(t, got, "a parent match without a matching child is no match")
}

func TestMatchReturnsDeepestLeaf(t *testing.T) {
	m := NewMatcher(nil, zap.NewNop())
	parent := manualLeaf("parent", "parent", RelationOr, Rule{Field: FieldDescription, Keyword: "cat"})
	parent.Children = []Group{
		manualLeaf("miss", "miss", RelationOr, Rule{Field: FieldDescription, Keyword: "dog"}),
		manualLeaf("hit", "hit", RelationOr, Rule{Field: FieldTag, Keyword: "cats"}),
	}

	got := m.Match(context.Background(), []Group{parent}, catItem())
	require.NotNil(t, got)
	assert.Equal(t, "hit", got.ID)
}

func TestMatchAndRelation(t *testing.T) {
	m := NewMatcher(nil, zap.NewNop())
	both := manualLeaf("both", "both", RelationAnd,
		Rule{Field: FieldDescription, Keyword: "cat"},
		Rule{Field: FieldAuthorName, Keyword: "catlady"},
	)
	oneMisses := manualLeaf("partial", "partial", RelationAnd,
		Rule{Field: FieldDescription, Keyword: "cat"},
		Rule{Field: FieldAuthorName, Keyword: "nobody"},
	)

	assert.NotNil(t, m.Match(context.Background(), []Group{both}, catItem()))
	assert.Nil(t, m.Match(context.Background(), []Group{oneMisses}, catItem()))
}

func TestMatchEmptyRuleListNeverMatches(t *testing.T) {
	m := NewMatcher(nil, zap.NewNop())
	empty := Group{ID: "e", Kind: KindManual, Relation: RelationAnd}

	assert.Nil(t, m.Match(context.Background(), []Group{empty}, catItem()))
}

func TestMatchUnknownFieldNeverMatches(t *testing.T) {
	m := NewMatcher(nil, zap.NewNop())
	weird := manualLeaf("w", "w", RelationOr, Rule{Field: "shareUrl", Keyword: "cat"})

	assert.Nil(t, m.Match(context.Background(), []Group{weird}, catItem()))
}

func TestMatchEmptyForest(t *testing.T) {
	m := NewMatcher(nil, zap.NewNop())
	assert.Nil(t, m.Match(context.Background(), nil, catItem()))
}

func TestMatchAIGroup(t *testing.T) {
	cls := &stubClassifier{decision: true}
	m := NewMatcher(cls, zap.NewNop())
	forest := []Group{{ID: "ai", Kind: KindAI, Prompt: "is this about cats?", CommentTexts: []string{"meow"}}}

	got := m.Match(context.Background(), forest, catItem())
	require.NotNil(t, got)
	assert.Equal(t, "ai", got.ID)
	assert.Equal(t, 1, cls.calls)
}

func TestMatchAIFailureIsFailClosed(t *testing.T) {
	cls := &stubClassifier{err: errors.New("quota exceeded")}
	m := NewMatcher(cls, zap.NewNop())
	forest := []Group{
		{ID: "ai", Kind: KindAI, Prompt: "cats?"},
		manualLeaf("fallback", "fallback", RelationOr, Rule{Field: FieldDescription, Keyword: "cat"}),
	}

	got := m.Match(context.Background(), forest, catItem())
	require.NotNil(t, got, "classifier failure must not abort the scan")
	assert.Equal(t, "fallback", got.ID)
}

func TestMatchAIWithoutClassifierNeverMatches(t *testing.T) {
	m := NewMatcher(nil, zap.NewNop())
	forest := []Group{{ID: "ai", Kind: KindAI, Prompt: "cats?"}}

	assert.Nil(t, m.Match(context.Background(), forest, catItem()))
}

func TestMatchDeterministic(t *testing.T) {
	m := NewMatcher(nil, zap.NewNop())
	forest := []Group{
		manualLeaf("a", "a", RelationOr, Rule{Field: FieldTag, Keyword: "cats"}),
		manualLeaf("b", "b", RelationOr, Rule{Field: FieldDescription, Keyword: "cute"}),
	}
	item := catItem()

	first := m.Match(context.Background(), forest, item)
	for i := 0; i < 10; i++ {
		again := m.Match(context.Background(), forest, item)
		require.NotNil(t, again)
		assert.Equal(t, first.ID, again.ID)
	}
}

func TestMatchCaseSensitive(t *testing.T) {
	m := NewMatcher(nil, zap.NewNop())
	forest := []Group{manualLeaf("g", "g", RelationOr, Rule{Field: FieldDescription, Keyword: "Cat"})}

	assert.Nil(t, m.Match(context.Background(), forest, catItem()))
}
