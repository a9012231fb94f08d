// Package fixup reconciles the two perspectives the legacy store records
// for a single logical event.
//
// When a child is added to (or branched inside) a project, the legacy
// database writes one record in the child's own history and a second,
// thinner record in the parent project's history. The parent-side record
// carries the ordering weight the scheduler needs, but the child-side
// record carries the authoritative version number, binary flag, and
// comment. Fixup merges each such pair into one record, strips synthetic
// capability-probe check-ins, and collapses matched MoveFrom/MoveTo pairs
// into a single move. It runs exactly once, before any scheduling.
package fixup

import (
	"context"
	"log/slog"

	"github.com/ssmig/ssmig/internal/action"
	"github.com/ssmig/ssmig/internal/store"
	"github.com/ssmig/ssmig/internal/warn"
)

// probeComment is the sentinel written by legacy IDE integrations to
// detect whether the database was writable. These check-ins are noise:
// the probe file was deleted seconds after it was created.
const probeComment = "Temporary file created by Visual Studio .NET to detect Microsoft Visual SourceSafe"

// Stats reports what one fixup run changed.
type Stats struct {
	ProbesRemoved  int
	ParentsMerged  int
	MovesCollapsed int
	MovesRestored  int
}

// Run executes the full fixup pass against the staging store.
// Never fatal on ambiguous data: multiple merge candidates log a warning
// and the nearest-timestamp match wins.
func Run(ctx context.Context, st *store.Store, warns *warn.Collector) (Stats, error) {
	var stats Stats

	actions, err := st.AllActions(ctx)
	if err != nil {
		return stats, err
	}

	removed, err := removeProbes(ctx, st, actions)
	if err != nil {
		return stats, err
	}
	stats.ProbesRemoved = removed

	// Reload so merge candidates never include deleted probes.
	actions, err = st.AllActions(ctx)
	if err != nil {
		return stats, err
	}

	merged, err := mergeParentRecords(ctx, st, actions, warns)
	if err != nil {
		return stats, err
	}
	stats.ParentsMerged = merged

	actions, err = st.AllActions(ctx)
	if err != nil {
		return stats, err
	}

	collapsed, restored, err := collapseMoves(ctx, st, actions)
	if err != nil {
		return stats, err
	}
	stats.MovesCollapsed = collapsed
	stats.MovesRestored = restored

	slog.Info("fixup complete",
		"probes_removed", stats.ProbesRemoved,
		"parents_merged", stats.ParentsMerged,
		"moves_collapsed", stats.MovesCollapsed,
		"moves_restored", stats.MovesRestored,
	)
	return stats, nil
}

// removeProbes deletes capability-probe check-ins and their paired adds.
func removeProbes(ctx context.Context, st *store.Store, actions []action.Action) (int, error) {
	n := 0
	for _, a := range actions {
		if !a.HasComment || a.Comment != probeComment {
			continue
		}
		if err := st.DeleteAction(ctx, a.ID); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// mergeParentRecords copies the authoritative child-side fields onto each
// parent-side Add/Branch record missing a comment, then deletes the
// now-redundant child record so the event is not scheduled twice.
func mergeParentRecords(ctx context.Context, st *store.Store, actions []action.Action, warns *warn.Collector) (int, error) {
	// Index child-side candidates by (object_id, kind, author).
	type key struct {
		objectID string
		kind     action.Kind
		author   string
	}
	children := make(map[key][]action.Action)
	for _, a := range actions {
		if a.IsParentSide {
			continue
		}
		if a.Kind != action.KindAdd && a.Kind != action.KindBranch {
			continue
		}
		k := key{a.ObjectID, a.Kind, a.Author}
		children[k] = append(children[k], a)
	}

	merged := 0
	for _, a := range actions {
		if !a.IsParentSide || a.HasComment {
			continue
		}
		if a.Kind != action.KindAdd && a.Kind != action.KindBranch {
			continue
		}

		candidates := children[key{a.ObjectID, a.Kind, a.Author}]
		if len(candidates) == 0 {
			continue
		}

		best := nearestByTimestamp(candidates, a.Timestamp)
		if countAtDistance(candidates, a.Timestamp, absDelta(best.Timestamp, a.Timestamp)) > 1 {
			warns.Warnf("object %s: %d child candidates for parent-side %s at t=%d, using nearest (action %d)",
				a.ObjectID, len(candidates), a.Kind, a.Timestamp, best.ID)
		}

		err := st.MergeParentRecord(ctx, a.ID, best.Version, best.Comment, best.HasComment, best.IsBinary)
		if err != nil {
			return merged, err
		}
		if err := st.DeleteAction(ctx, best.ID); err != nil {
			return merged, err
		}
		merged++
	}
	return merged, nil
}

// collapseMoves pairs MoveFrom/MoveTo records sharing an object and a
// timestamp. The MoveTo survives, carrying both endpoints; the MoveFrom
// is deleted. A MoveTo with no counterpart at its timestamp is really a
// move out of a since-destroyed project, which replays as a Restore.
func collapseMoves(ctx context.Context, st *store.Store, actions []action.Action) (collapsed, restored int, err error) {
	type key struct {
		objectID  string
		timestamp int64
	}
	froms := make(map[key]action.Action)
	for _, a := range actions {
		if a.Kind == action.KindMoveFrom {
			froms[key{a.ObjectID, a.Timestamp}] = a
		}
	}

	for _, a := range actions {
		if a.Kind != action.KindMoveTo {
			continue
		}
		k := key{a.ObjectID, a.Timestamp}
		if from, ok := froms[k]; ok {
			info := a.Info
			info.MoveSource = from.Info.MoveSource
			if err := st.ConvertKind(ctx, a.ID, action.KindMoveTo, info); err != nil {
				return collapsed, restored, err
			}
			if err := st.DeleteAction(ctx, from.ID); err != nil {
				return collapsed, restored, err
			}
			delete(froms, k)
			collapsed++
			continue
		}

		info := a.Info
		info.MoveDestination = ""
		if err := st.ConvertKind(ctx, a.ID, action.KindRestore, info); err != nil {
			return collapsed, restored, err
		}
		restored++
	}
	return collapsed, restored, nil
}

func absDelta(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}

// nearestByTimestamp picks the candidate whose timestamp is closest to
// ts, breaking exact ties by lowest action id for determinism.
func nearestByTimestamp(candidates []action.Action, ts int64) action.Action {
	best := candidates[0]
	bestDelta := absDelta(best.Timestamp, ts)
	for _, c := range candidates[1:] {
		d := absDelta(c.Timestamp, ts)
		if d < bestDelta || (d == bestDelta && c.ID < best.ID) {
			best = c
			bestDelta = d
		}
	}
	return best
}

func countAtDistance(candidates []action.Action, ts, delta int64) int {
	n := 0
	for _, c := range candidates {
		if absDelta(c.Timestamp, ts) == delta {
			n++
		}
	}
	return n
}
