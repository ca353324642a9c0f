package rules

import (
	"errors"

	"github.com/google/uuid"
)

// ErrGroupNotFound is returned by tree edits that reference an unknown id.
var ErrGroupNotFound = errors.New("rule group not found")

// NewGroupID mints an id for a new rule group.
func NewGroupID() string {
	return uuid.New().String()
}

// Tree edits treat the forest as an immutable value: every operation deep
// copies the input and returns a new forest, so concurrent readers of the
// old value never observe a partial edit.

// Insert adds g under parentID, or at the root when parentID is empty. An
// empty g.ID is filled in.
func Insert(forest []Group, g Group, parentID string) ([]Group, error) {
	if g.ID == "" {
		g.ID = NewGroupID()
	}
	next := cloneForest(forest)
	if parentID == "" {
		return append(next, g), nil
	}
	parent := findByID(next, parentID)
	if parent == nil {
		return nil, ErrGroupNotFound
	}
	parent.Children = append(parent.Children, g)
	return next, nil
}

// Update applies fn to the group with the given id. The group's id and
// children survive the edit regardless of what fn returns.
func Update(forest []Group, id string, fn func(Group) Group) ([]Group, error) {
	next := cloneForest(forest)
	target := findByID(next, id)
	if target == nil {
		return nil, ErrGroupNotFound
	}
	updated := fn(*target)
	updated.ID = target.ID
	updated.Children = target.Children
	*target = updated
	return next, nil
}

// Delete removes the group with the given id (and its subtree).
func Delete(forest []Group, id string) ([]Group, error) {
	next := cloneForest(forest)
	if !deleteByID(&next, id) {
		return nil, ErrGroupNotFound
	}
	return next, nil
}

// Copy duplicates the subtree rooted at id, regenerating every id in the
// duplicate, and attaches it under parentID (root when empty).
func Copy(forest []Group, id string, parentID string) ([]Group, error) {
	src := findByID(forest, id)
	if src == nil {
		return nil, ErrGroupNotFound
	}
	dup := cloneGroup(*src)
	regenerateIDs(&dup)
	return Insert(forest, dup, parentID)
}

// FindByID returns a copy of the group with the given id, or false.
func FindByID(forest []Group, id string) (Group, bool) {
	g := findByID(forest, id)
	if g == nil {
		return Group{}, false
	}
	return cloneGroup(*g), true
}

func findByID(forest []Group, id string) *Group {
	for i := range forest {
		if forest[i].ID == id {
			return &forest[i]
		}
		if found := findByID(forest[i].Children, id); found != nil {
			return found
		}
	}
	return nil
}

func deleteByID(forest *[]Group, id string) bool {
	for i := range *forest {
		if (*forest)[i].ID == id {
			*forest = append((*forest)[:i], (*forest)[i+1:]...)
			return true
		}
		if deleteByID(&(*forest)[i].Children, id) {
			return true
		}
	}
	return false
}

func regenerateIDs(g *Group) {
	g.ID = NewGroupID()
	for i := range g.Children {
		regenerateIDs(&g.Children[i])
	}
}

func cloneForest(forest []Group) []Group {
	if forest == nil {
		return nil
	}
	out := make([]Group, len(forest))
	for i := range forest {
		out[i] = cloneGroup(forest[i])
	}
	return out
}

func cloneGroup(g Group) Group {
	out := g
	out.Children = cloneForest(g.Children)
	if g.Rules != nil {
		out.Rules = append([]Rule(nil), g.Rules...)
	}
	if g.CommentTexts != nil {
		out.CommentTexts = append([]string(nil), g.CommentTexts...)
	}
	if g.CommentImage != nil {
		img := *g.CommentImage
		out.CommentImage = &img
	}
	return out
}
