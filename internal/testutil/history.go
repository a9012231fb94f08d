// Package testutil builds synthetic legacy histories for tests.
//
// A HistoryBuilder composes action streams the way the decoder would
// have produced them, with controlled timestamps, so scheduler and
// replay tests read as scenarios instead of struct literals.
package testutil

import (
	"github.com/ssmig/ssmig/internal/action"
)

// BaseTime is the first timestamp a fresh builder hands out. Arbitrary
// but stable, so golden files stay readable.
const BaseTime int64 = 1_000_000_000

// HistoryBuilder accumulates actions with monotonically advancing
// timestamps.
type HistoryBuilder struct {
	actions []action.Action
	now     int64
	author  string
	comment string
	has     bool
}

// NewHistory returns a builder starting at BaseTime with the given
// default author.
func NewHistory(author string) *HistoryBuilder {
	return &HistoryBuilder{now: BaseTime, author: author}
}

// At jumps the clock to an absolute timestamp.
func (h *HistoryBuilder) At(ts int64) *HistoryBuilder {
	h.now = ts
	return h
}

// Tick advances the clock by the given number of seconds.
func (h *HistoryBuilder) Tick(seconds int64) *HistoryBuilder {
	h.now += seconds
	return h
}

// As switches the default author for subsequent actions.
func (h *HistoryBuilder) As(author string) *HistoryBuilder {
	h.author = author
	return h
}

// Saying sets the comment for subsequent actions.
func (h *HistoryBuilder) Saying(comment string) *HistoryBuilder {
	h.comment = comment
	h.has = true
	return h
}

// Silently clears the comment for subsequent actions.
func (h *HistoryBuilder) Silently() *HistoryBuilder {
	h.comment = ""
	h.has = false
	return h
}

// Actions returns everything recorded so far.
func (h *HistoryBuilder) Actions() []action.Action {
	return h.actions
}

func (h *HistoryBuilder) push(a action.Action) *HistoryBuilder {
	a.Timestamp = h.now
	a.Author = h.author
	a.Comment = h.comment
	a.HasComment = h.has
	h.actions = append(h.actions, a)
	return h
}

// AddProject records the creation of a project under a parent.
func (h *HistoryBuilder) AddProject(objectID, parentID, name string) *HistoryBuilder {
	return h.push(action.Action{
		ObjectID: objectID, ParentObjectID: parentID,
		Kind: action.KindAdd, ItemType: action.TypeProject, ItemName: name,
	})
}

// AddFile records the creation of a file under a parent project.
func (h *HistoryBuilder) AddFile(objectID, parentID, name string) *HistoryBuilder {
	return h.push(action.Action{
		ObjectID: objectID, ParentObjectID: parentID, Version: 1,
		Kind: action.KindAdd, ItemType: action.TypeFile, ItemName: name,
	})
}

// Commit records a content check-in of the given version.
func (h *HistoryBuilder) Commit(objectID, parentID, name string, version int) *HistoryBuilder {
	return h.push(action.Action{
		ObjectID: objectID, ParentObjectID: parentID, Version: version,
		Kind: action.KindCommit, ItemType: action.TypeFile, ItemName: name,
	})
}

// Share records an additional live path for a file under parentID.
func (h *HistoryBuilder) Share(objectID, parentID, name, source string) *HistoryBuilder {
	return h.push(action.Action{
		ObjectID: objectID, ParentObjectID: parentID,
		Kind: action.KindShare, ItemType: action.TypeFile, ItemName: name,
		Info: action.Info{ShareSource: source},
	})
}

// Branch records a shared file splitting into a new object id.
func (h *HistoryBuilder) Branch(objectID, parentID, name, priorID string) *HistoryBuilder {
	return h.push(action.Action{
		ObjectID: objectID, ParentObjectID: parentID, Version: 1,
		Kind: action.KindBranch, ItemType: action.TypeFile, ItemName: name,
		Info: action.Info{PriorObjectID: priorID},
	})
}

// Rename records a name change.
func (h *HistoryBuilder) Rename(objectID, parentID, name, newName string, itemType action.ItemType) *HistoryBuilder {
	return h.push(action.Action{
		ObjectID: objectID, ParentObjectID: parentID,
		Kind: action.KindRename, ItemType: itemType, ItemName: name,
		Info: action.Info{NewName: newName},
	})
}

// Delete records a recoverable removal.
func (h *HistoryBuilder) Delete(objectID, parentID, name string, itemType action.ItemType) *HistoryBuilder {
	return h.push(action.Action{
		ObjectID: objectID, ParentObjectID: parentID,
		Kind: action.KindDelete, ItemType: itemType, ItemName: name,
	})
}

// Recover records the undo of a prior Delete.
func (h *HistoryBuilder) Recover(objectID, parentID, name string, itemType action.ItemType) *HistoryBuilder {
	return h.push(action.Action{
		ObjectID: objectID, ParentObjectID: parentID,
		Kind: action.KindRecover, ItemType: itemType, ItemName: name,
	})
}

// Label records a named snapshot.
func (h *HistoryBuilder) Label(objectID, label, comment string) *HistoryBuilder {
	return h.push(action.Action{
		ObjectID: objectID,
		Kind:     action.KindLabel, ItemType: action.TypeProject, ItemName: "",
		Info: action.Info{Label: label, LabelComment: comment},
	})
}
