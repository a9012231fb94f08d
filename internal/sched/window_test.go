package sched

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ssmig/ssmig/internal/action"
)

func TestWindowRenumber(t *testing.T) {
	w := &Window{
		Base: 10,
		Slots: []Slot{
			slotFor(action.Action{ObjectID: "F1"}),
			slotFor(action.Action{ObjectID: "F2"}),
			slotFor(action.Action{ObjectID: "F3"}),
		},
	}

	w.Renumber()
	for i, s := range w.Slots {
		assert.Equal(t, int64(10+i), s.ScheduleID)
	}

	// Reordering and renumbering keeps the ids dense.
	w.Slots[0], w.Slots[2] = w.Slots[2], w.Slots[0]
	w.Renumber()
	assert.Equal(t, int64(10), w.Slots[0].ScheduleID)
	assert.Equal(t, int64(12), w.Slots[2].ScheduleID)
}

func TestAffinitySort_PullsMatchingAuthorForward(t *testing.T) {
	// alice commits at t=100, then a tied pair at t=200 where bob's
	// action was pulled first but alice's resembles the context before
	// the tie.
	slots := []Slot{
		slotFor(action.Action{Timestamp: 100, Author: "alice", Kind: action.KindCommit, ItemType: action.TypeFile, ObjectID: "F1"}),
		slotFor(action.Action{Timestamp: 200, Author: "bob", Kind: action.KindCommit, ItemType: action.TypeFile, ObjectID: "F2"}),
		slotFor(action.Action{Timestamp: 200, Author: "alice", Kind: action.KindCommit, ItemType: action.TypeFile, ObjectID: "F3"}),
	}

	affinitySort(slots)

	assert.Equal(t, "alice", slots[1].Action.Author)
	assert.Equal(t, "bob", slots[2].Action.Author)
}

func TestAffinitySort_PushesMatchingFollowerBack(t *testing.T) {
	// The tie sits at the window start, so only the neighbor after it
	// contributes. bob's tied action resembles the follower and sinks.
	slots := []Slot{
		slotFor(action.Action{Timestamp: 100, Author: "bob", Kind: action.KindCommit, ItemType: action.TypeFile, ObjectID: "F1"}),
		slotFor(action.Action{Timestamp: 100, Author: "alice", Kind: action.KindCommit, ItemType: action.TypeFile, ObjectID: "F2"}),
		slotFor(action.Action{Timestamp: 200, Author: "bob", Kind: action.KindCommit, ItemType: action.TypeFile, ObjectID: "F3"}),
	}

	affinitySort(slots)

	assert.Equal(t, "alice", slots[0].Action.Author)
	assert.Equal(t, "bob", slots[1].Action.Author)
}

func TestAffinitySort_StableOnEqualScores(t *testing.T) {
	slots := []Slot{
		slotFor(action.Action{Timestamp: 100, Author: "a", Kind: action.KindCommit, ItemType: action.TypeFile, ObjectID: "F1"}),
		slotFor(action.Action{Timestamp: 100, Author: "a", Kind: action.KindCommit, ItemType: action.TypeFile, ObjectID: "F2"}),
		slotFor(action.Action{Timestamp: 100, Author: "a", Kind: action.KindCommit, ItemType: action.TypeFile, ObjectID: "F3"}),
	}
	want := ids(slots)

	affinitySort(slots)

	assert.Equal(t, want, ids(slots), "no neighbors and equal scores must keep pull order")
}

func TestAffinitySort_LabelTextTieBreak(t *testing.T) {
	// Two tied labels; the one matching the preceding label text wins.
	slots := []Slot{
		slotFor(action.Action{Timestamp: 100, Author: "a", Kind: action.KindLabel, ItemType: action.TypeProject, ObjectID: "P1", Info: action.Info{Label: "v2"}}),
		slotFor(action.Action{Timestamp: 200, Author: "a", Kind: action.KindLabel, ItemType: action.TypeProject, ObjectID: "P2", Info: action.Info{Label: "v1"}}),
		slotFor(action.Action{Timestamp: 200, Author: "a", Kind: action.KindLabel, ItemType: action.TypeProject, ObjectID: "P3", Info: action.Info{Label: "v2"}}),
	}

	affinitySort(slots)

	assert.Equal(t, "v2", slots[1].Action.Info.Label)
	assert.Equal(t, "v1", slots[2].Action.Info.Label)
}

func TestResemblance(t *testing.T) {
	a := action.Action{Author: "a", Comment: "c", HasComment: true, Kind: action.KindCommit}
	same := a
	assert.Equal(t, 2, resemblance(&a, &same))

	other := action.Action{Author: "b", Kind: action.KindCommit}
	assert.Equal(t, 0, resemblance(&a, &other))

	assert.Equal(t, 0, resemblance(&a, nil))

	l1 := action.Action{Author: "a", Kind: action.KindLabel, Info: action.Info{Label: "v1"}}
	l2 := l1
	// Same author, both comments absent, same label text.
	assert.Equal(t, 3, resemblance(&l1, &l2))
}
