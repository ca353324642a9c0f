// Package rules holds the hierarchical engagement-matching configuration
// and the matcher that evaluates it against content items.
package rules

// Kind discriminates how a rule group decides a local match.
type Kind string

const (
	KindAI     Kind = "ai"
	KindManual Kind = "manual"
)

// Relation combines the results of a manual group's rules.
type Relation string

const (
	RelationAnd Relation = "and"
	RelationOr  Relation = "or"
)

// Field names the content-item attribute a rule inspects.
type Field string

const (
	FieldAuthorName  Field = "authorName"
	FieldDescription Field = "description"
	FieldTag         Field = "tag"
)

// Rule is one keyword test against a single item field. Matching is
// substring containment, case-sensitive.
type Rule struct {
	Field   Field  `json:"field"`
	Keyword string `json:"keyword"`
}

// ImageMode selects how a leaf group's comment image path is interpreted.
type ImageMode string

const (
	ImageModeFile   ImageMode = "file"
	ImageModeFolder ImageMode = "folder"
)

// CommentImage configures an optional image attachment for comments posted
// by a leaf group.
type CommentImage struct {
	Path string    `json:"path"`
	Mode ImageMode `json:"mode"`
}

// Group is one node in the matching forest. A group with children is never
// itself a terminal match; comment payload is meaningful only on leaves.
type Group struct {
	ID       string  `json:"id"`
	Kind     Kind    `json:"kind"`
	Name     string  `json:"name"`
	Children []Group `json:"children,omitempty"`

	// manual kind
	Relation Relation `json:"relation,omitempty"`
	Rules    []Rule   `json:"rules,omitempty"`

	// ai kind
	Prompt string `json:"prompt,omitempty"`

	// leaf payload
	CommentTexts []string      `json:"commentTexts,omitempty"`
	CommentImage *CommentImage `json:"commentImage,omitempty"`
}

// IsLeaf reports whether the group has no children.
func (g *Group) IsLeaf() bool {
	return len(g.Children) == 0
}
