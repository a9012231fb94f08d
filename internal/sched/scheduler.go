package sched

import (
	"context"
	"log/slog"

	"github.com/ssmig/ssmig/internal/image"
	"github.com/ssmig/ssmig/internal/store"
	"github.com/ssmig/ssmig/internal/warn"
)

// DefaultRevTimeRange is the default changeset time-window size in
// seconds. One hour of legacy history per window keeps the tie groups
// the affinity pass must untangle small without splitting multi-file
// check-ins that straddled a minute boundary.
const DefaultRevTimeRange = 3600

// Scheduler owns the window-processing loop state: the explicit
// monotonic schedule and changeset counters and the window lower bound.
// All three persist in system_info and advance only inside the retire
// transaction, so a killed process resumes exactly where the last
// completed changeset left it.
//
// Every ordering decision is a pure function of the pending action set
// and the live image, which is what makes a resumed run reproduce the
// interrupted one byte for byte.
type Scheduler struct {
	st           *store.Store
	warns        *warn.Collector
	revTimeRange int64

	scheduleCounter  int64 // next unassigned schedule id
	changesetCounter int64 // last assigned changeset id
	windowStart      int64

	restored bool // persisted window ordering already consulted
}

// New creates a Scheduler resuming from the store's persisted cursor.
func New(st *store.Store, warns *warn.Collector, revTimeRange int64, cursor store.Cursor) *Scheduler {
	if revTimeRange <= 0 {
		revTimeRange = DefaultRevTimeRange
	}
	return &Scheduler{
		st:               st,
		warns:            warns,
		revTimeRange:     revTimeRange,
		scheduleCounter:  cursor.ScheduleCounter,
		changesetCounter: cursor.ChangesetCounter,
		windowStart:      cursor.WindowStart,
	}
}

// NextChangeset orders the next time window of pending actions and
// carves off one changeset. Returns ok=false when no pending actions
// remain. The live image is read for simulation but never mutated.
//
// A window ordering persisted by an interrupted process is consumed
// first, so a resumed run replays the exact ordering the crashed one had
// validated instead of recomputing it.
func (s *Scheduler) NextChangeset(ctx context.Context, live *image.Image) (*Changeset, bool, error) {
	if !s.restored {
		s.restored = true
		cs, ok, err := s.resumeWindow(ctx)
		if err != nil || ok {
			return cs, ok, err
		}
	}

	ts, ok, err := s.st.EarliestPending(ctx, 0)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	until := ts + s.revTimeRange
	pending, err := s.st.PendingWindow(ctx, ts, until)
	if err != nil {
		return nil, false, err
	}

	w := &Window{Start: ts, Base: s.scheduleCounter}
	w.Slots = make([]Slot, len(pending))
	for i, a := range pending {
		w.Slots[i] = Slot{Action: a}
	}
	w.Renumber()

	affinitySort(w.Slots)
	w.Renumber()

	if err := s.repairOrdering(ctx, w, live); err != nil {
		return nil, false, err
	}
	w.Renumber()

	// Persist the validated ordering before extraction, so the audit
	// trail shows the ordering every retired changeset was carved from.
	if err := s.st.ReplaceSchedule(ctx, storeSlots(w.Slots)); err != nil {
		return nil, false, err
	}
	if ts != s.windowStart {
		if err := s.st.SaveWindowStart(ctx, ts); err != nil {
			return nil, false, err
		}
		s.windowStart = ts
	}

	if len(w.Slots) == 0 {
		// Every action in the window was discarded; try the next one.
		return s.NextChangeset(ctx, live)
	}

	prefix, rest := extractChangeset(w.Slots)
	s.changesetCounter++

	slog.Debug("changeset extracted",
		"changeset_id", s.changesetCounter,
		"actions", len(prefix),
		"deferred", len(rest),
		"window_start", ts,
		"author", prefix[0].Action.Author,
	)

	return &Changeset{ID: s.changesetCounter, Slots: prefix}, true, nil
}

// resumeWindow carves a changeset from the ordering a previous process
// persisted but did not finish retiring. The ordering was affinity-
// sorted and repair-validated before it was persisted, so it is used
// as-is.
func (s *Scheduler) resumeWindow(ctx context.Context) (*Changeset, bool, error) {
	persisted, err := s.st.LoadSchedule(ctx)
	if err != nil {
		return nil, false, err
	}
	if len(persisted) == 0 {
		return nil, false, nil
	}

	slots := make([]Slot, len(persisted))
	for i, ps := range persisted {
		slots[i] = Slot{ScheduleID: ps.ScheduleID, Action: ps.Action}
	}
	prefix, rest := extractChangeset(slots)
	s.changesetCounter++

	slog.Debug("changeset resumed from persisted ordering",
		"changeset_id", s.changesetCounter,
		"actions", len(prefix),
		"deferred", len(rest),
	)

	return &Changeset{ID: s.changesetCounter, Slots: prefix}, true, nil
}

// Retire durably completes a replayed changeset: commit hash recorded,
// actions archived, counters advanced, image snapshot persisted - all in
// one store transaction.
func (s *Scheduler) Retire(ctx context.Context, cs *Changeset, commitHash string, snapshot map[string][]string) error {
	comment, hasComment := cs.Comment()
	rec := store.ChangesetRecord{
		ChangesetID: cs.ID,
		Author:      cs.Author(),
		Comment:     comment,
		HasComment:  hasComment,
		Timestamp:   cs.Timestamp(),
		CommitHash:  commitHash,
	}

	next := s.scheduleCounter + int64(len(cs.Slots))
	if err := s.st.RetireChangeset(ctx, rec, storeSlots(cs.Slots), next, snapshot); err != nil {
		return err
	}
	s.scheduleCounter = next
	return nil
}

// ChangesetCounter returns the last assigned changeset id.
func (s *Scheduler) ChangesetCounter() int64 {
	return s.changesetCounter
}

func storeSlots(slots []Slot) []store.Slot {
	out := make([]store.Slot, len(slots))
	for i, s := range slots {
		out[i] = store.Slot{ScheduleID: s.ScheduleID, ActionID: s.Action.ID}
	}
	return out
}
