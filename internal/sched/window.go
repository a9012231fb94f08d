package sched

import (
	"sort"

	"github.com/ssmig/ssmig/internal/action"
)

// Slot is one position in the live window: a dense schedule id bound to
// an action. Slots are mutable until their changeset retires, permanent
// afterwards.
type Slot struct {
	ScheduleID int64
	Action     action.Action
}

// Window is the scheduler's working set: a bounded slice of the global
// timeline, ordered, repaired, and then consumed changeset by changeset.
type Window struct {
	// Start is the window's inclusive lower timestamp bound.
	Start int64
	// Slots hold the current ordering, schedule ids dense from Base.
	Slots []Slot
	// Base is the first schedule id of the window.
	Base int64
}

// Renumber reassigns dense schedule ids from Base in current slice
// order. Called after every reorder so schedule ids always reflect the
// authoritative ordering.
func (w *Window) Renumber() {
	for i := range w.Slots {
		w.Slots[i].ScheduleID = w.Base + int64(i)
	}
}

// Actions returns the window's actions in order.
func (w *Window) Actions() []action.Action {
	out := make([]action.Action, len(w.Slots))
	for i, s := range w.Slots {
		out[i] = s.Action
	}
	return out
}

// affinitySort untangles same-second ties. For every timestamp shared by
// more than one action, each tied action gets a signed affinity score:
// how much it resembles the nearest action before the tied group minus
// how much it resembles the nearest action after it. Actions that look
// like the preceding context (same author, same comment, same label)
// float to the front of the tie; actions that look like what follows
// sink to the back. The sort is stable, so equal scores keep their
// (timestamp, priority, parent-side, id) pull order - that stability is
// what makes the heuristic deterministic.
func affinitySort(slots []Slot) {
	i := 0
	for i < len(slots) {
		j := i + 1
		for j < len(slots) && slots[j].Action.Timestamp == slots[i].Action.Timestamp {
			j++
		}
		if j-i > 1 {
			sortTiedGroup(slots, i, j)
		}
		i = j
	}
}

// sortTiedGroup stable-sorts slots[lo:hi] by descending affinity against
// the group's outside neighbors.
func sortTiedGroup(slots []Slot, lo, hi int) {
	var before, after *action.Action
	if lo > 0 {
		before = &slots[lo-1].Action
	}
	if hi < len(slots) {
		after = &slots[hi].Action
	}

	scores := make(map[int64]int, hi-lo)
	for k := lo; k < hi; k++ {
		a := &slots[k].Action
		scores[a.ID] = resemblance(a, before) - resemblance(a, after)
	}

	group := slots[lo:hi]
	sort.SliceStable(group, func(x, y int) bool {
		return scores[group[x].Action.ID] > scores[group[y].Action.ID]
	})
}

// resemblance scores how plausibly two actions belong to the same
// logical change. Nil neighbors (group at a window edge) contribute
// nothing.
func resemblance(a, neighbor *action.Action) int {
	if neighbor == nil {
		return 0
	}
	score := 0
	if a.Author == neighbor.Author {
		score++
	}
	if a.CommentEqual(neighbor) {
		score++
	}
	if a.IsLabel() && neighbor.IsLabel() && a.Info.Label == neighbor.Info.Label {
		score++
	}
	return score
}
