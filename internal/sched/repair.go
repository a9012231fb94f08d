package sched

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/ssmig/ssmig/internal/action"
	"github.com/ssmig/ssmig/internal/image"
)

// repairOrdering walks the window in order against a scratch clone of
// the live image and repairs causal violations: an action that
// references a parent project before anything has created that parent.
//
// Add and Share violations are repairable - the same-second tie group
// containing the violating action is reordered by how many of each
// action's siblings already exist in the simulation, which reconstructs
// the insertion order the one-second timestamps erased. Each reorder
// restarts the walk from scratch; restarts are bounded by window² and
// exceeding the bound is a fatal internal-consistency error.
//
// An Add/Share violation that a reorder cannot improve is a duplicate of
// an already-deleted object; it is removed from the window and archived
// in the discarded table. Any other violating kind passes through with a
// warning - the replay engine downgrades whatever it cannot do.
//
// The simulation only ever touches the clone; the live image is read,
// never written.
func (s *Scheduler) repairOrdering(ctx context.Context, w *Window, live *image.Image) error {
	for i := range w.Slots {
		if a := &w.Slots[i].Action; !a.Kind.Valid() {
			return &ScheduleError{
				Code:        ErrCodeUnknownKind,
				Message:     fmt.Sprintf("kind %d on object %s", int(a.Kind), a.ObjectID),
				WindowStart: w.Start,
				ActionID:    a.ID,
			}
		}
	}

	bound := len(w.Slots)*len(w.Slots) + 1
	restarts := 0
	excused := make(map[int64]bool)

	for {
		violIdx, repairable := s.findViolation(w, live, excused)
		if violIdx < 0 {
			return nil
		}

		a := w.Slots[violIdx].Action
		if !repairable {
			s.warns.Warnf("action %d (%s %s on %s): parent %s not in image, passing through",
				a.ID, a.Kind, a.ItemName, a.ObjectID, a.ParentObjectID)
			excused[a.ID] = true
			continue
		}

		restarts++
		if restarts > bound {
			return NewRetryExhaustedError(w.Start, restarts, bound)
		}

		if !s.reorderTieGroup(w, live, violIdx) {
			// Reordering is a fixed point and the parent still never
			// materializes: duplicate of a deleted object.
			slog.Debug("discarding unresolvable action",
				"action_id", a.ID,
				"kind", a.Kind.String(),
				"object_id", a.ObjectID,
				"parent", a.ParentObjectID,
			)
			if err := s.st.Discard(ctx, a.ID, "parent never materializes in window"); err != nil {
				return err
			}
			w.Slots = append(w.Slots[:violIdx], w.Slots[violIdx+1:]...)
		}
		w.Renumber()
	}
}

// findViolation simulates the window from the top and returns the index
// of the first action whose recorded parent is absent from the simulated
// image, along with whether that violation kind is auto-repairable.
// Returns -1 when the walk completes cleanly.
func (s *Scheduler) findViolation(w *Window, live *image.Image, excused map[int64]bool) (int, bool) {
	sim := live.Clone()
	for i := range w.Slots {
		a := &w.Slots[i].Action
		if a.ParentObjectID != "" && !sim.Has(a.ParentObjectID) && !excused[a.ID] {
			repairable := a.Kind == action.KindAdd || a.Kind == action.KindShare
			return i, repairable
		}
		Apply(sim, a)
	}
	return -1, false
}

// reorderTieGroup re-sorts the same-timestamp group containing idx so
// that actions whose parents already exist come first, ordered by how
// many siblings each already has in the image (fewer siblings means the
// parent was created more recently, so its children come sooner).
// Actions whose parents are still missing keep their relative order at
// the back, behind whatever creates those parents.
//
// Returns false when the group is already in that order, meaning the
// reorder cannot make progress.
func (s *Scheduler) reorderTieGroup(w *Window, live *image.Image, idx int) bool {
	ts := w.Slots[idx].Action.Timestamp
	lo := idx
	for lo > 0 && w.Slots[lo-1].Action.Timestamp == ts {
		lo--
	}
	hi := idx + 1
	for hi < len(w.Slots) && w.Slots[hi].Action.Timestamp == ts {
		hi++
	}
	if hi-lo < 2 {
		return false
	}

	// Simulation state as of the group start.
	sim := live.Clone()
	for i := 0; i < lo; i++ {
		Apply(sim, &w.Slots[i].Action)
	}

	group := w.Slots[lo:hi]
	before := make([]int64, len(group))
	for i, slot := range group {
		before[i] = slot.Action.ID
	}

	type ranked struct {
		class    int // 0: no parent, 1: parent present, 2: parent missing
		siblings int
	}
	keys := make(map[int64]ranked, len(group))
	for _, slot := range group {
		a := slot.Action
		switch {
		case a.ParentObjectID == "":
			keys[a.ID] = ranked{class: 0}
		case sim.Has(a.ParentObjectID):
			parentPath, _ := sim.CanonicalPath(a.ParentObjectID)
			keys[a.ID] = ranked{class: 1, siblings: sim.ChildCount(parentPath)}
		default:
			keys[a.ID] = ranked{class: 2}
		}
	}

	sort.SliceStable(group, func(x, y int) bool {
		kx, ky := keys[group[x].Action.ID], keys[group[y].Action.ID]
		if kx.class != ky.class {
			return kx.class < ky.class
		}
		return kx.siblings < ky.siblings
	})

	for i, slot := range group {
		if slot.Action.ID != before[i] {
			return true
		}
	}
	return false
}
