package sched

import (
	"github.com/ssmig/ssmig/internal/action"
)

// Changeset is a maximal run of consecutive scheduled actions that
// replays as one atomic commit: single author, single comment (or all
// absent), homogeneously label or non-label, one label text, structural
// project actions isolated, and no object mutated more than once
// (Share and Branch exempted - sharing the same file into five projects
// in one operation is one logical change).
type Changeset struct {
	ID    int64
	Slots []Slot
}

// Author returns the changeset's single author.
func (c *Changeset) Author() string {
	if len(c.Slots) == 0 {
		return ""
	}
	return c.Slots[0].Action.Author
}

// Comment returns the changeset's comment and whether one was recorded.
func (c *Changeset) Comment() (string, bool) {
	if len(c.Slots) == 0 {
		return "", false
	}
	a := c.Slots[0].Action
	return a.Comment, a.HasComment
}

// Timestamp returns the changeset's commit time: the latest action
// timestamp in the run.
func (c *Changeset) Timestamp() int64 {
	var ts int64
	for _, s := range c.Slots {
		if s.Action.Timestamp > ts {
			ts = s.Action.Timestamp
		}
	}
	return ts
}

// IsLabelSet reports whether the changeset consists of label actions.
func (c *Changeset) IsLabelSet() bool {
	return len(c.Slots) > 0 && c.Slots[0].Action.IsLabel()
}

// extractChangeset carves the longest valid prefix off the ordered slots
// and returns it with the deferred remainder. The boundary conditions
// are evaluated in fixed priority order, first match wins, and the scan
// repeats after every truncation because shortening the run can expose
// an earlier boundary under a higher-priority rule. Pure function of its
// input: repeated calls on the same slots yield the same split.
func extractChangeset(slots []Slot) (prefix, rest []Slot) {
	if len(slots) == 0 {
		return nil, nil
	}

	run := slots
	for {
		cut := boundaryIndex(run)
		if cut < 0 {
			break
		}
		run = run[:cut]
	}
	return run, slots[len(run):]
}

// boundaryIndex returns the index at which the run must be truncated, or
// -1 when the whole run is one valid changeset. Conditions in priority
// order; each returns the earliest index it triggers at.
func boundaryIndex(run []Slot) int {
	if len(run) < 2 {
		return -1
	}
	first := run[0].Action

	// (a) author changes.
	for i := 1; i < len(run); i++ {
		if run[i].Action.Author != first.Author {
			return i
		}
	}

	// (b) comment changes; absent-vs-present counts as differing.
	for i := 1; i < len(run); i++ {
		if !run[i].Action.CommentEqual(&first) {
			return i
		}
	}

	// (c) label/non-label composition changes.
	for i := 1; i < len(run); i++ {
		if run[i].Action.IsLabel() != first.IsLabel() {
			return i
		}
	}

	// (d) label text changes.
	if first.IsLabel() {
		for i := 1; i < len(run); i++ {
			if run[i].Action.Info.Label != first.Info.Label {
				return i
			}
		}
	}

	// (e) structural project actions stand alone. If the structural
	// action leads the run, everything after it goes; otherwise the run
	// ends just before it.
	for i := 0; i < len(run); i++ {
		a := run[i].Action
		if a.ItemType == action.TypeProject && a.Kind.Structural() {
			if i == 0 {
				return 1
			}
			return i
		}
	}

	// (f) same object mutated twice (Share/Branch exempt).
	seen := make(map[string]bool, len(run))
	for i := 0; i < len(run); i++ {
		a := run[i].Action
		if a.Kind == action.KindShare || a.Kind == action.KindBranch {
			continue
		}
		if seen[a.ObjectID] {
			return i
		}
		seen[a.ObjectID] = true
	}

	return -1
}
