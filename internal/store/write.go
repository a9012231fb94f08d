package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ssmig/ssmig/internal/action"
)

// InsertAction appends one historical action to the staging area and
// returns its assigned id. The priority column is denormalized from the
// kind so window pulls can order entirely in SQL.
func (s *Store) InsertAction(ctx context.Context, a action.Action) (int64, error) {
	info, err := marshalInfo(a.Info)
	if err != nil {
		return 0, fmt.Errorf("insert action: %w", err)
	}

	var version sql.NullInt64
	if a.Version > 0 {
		version = sql.NullInt64{Int64: int64(a.Version), Valid: true}
	}
	var parent sql.NullString
	if a.ParentObjectID != "" {
		parent = sql.NullString{String: a.ParentObjectID, Valid: true}
	}
	var comment sql.NullString
	if a.HasComment {
		comment = sql.NullString{String: a.Comment, Valid: true}
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO actions
		(object_id, version, parent_object_id, kind, item_type, item_name,
		 timestamp, author, comment, is_binary, info, priority, is_parent_side)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.ObjectID, version, parent, a.Kind, a.ItemType, a.ItemName,
		a.Timestamp, a.Author, comment, a.IsBinary, info,
		a.Kind.Priority(), a.IsParentSide,
	)
	if err != nil {
		return 0, fmt.Errorf("insert action: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert action: %w", err)
	}
	return id, nil
}

// InsertPhysical records where an object's raw history lives in the
// legacy source tree. Idempotent per object id.
func (s *Store) InsertPhysical(ctx context.Context, objectID, sourcePath string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO physical (object_id, source_path)
		VALUES (?, ?)
		ON CONFLICT(object_id) DO NOTHING
	`, objectID, sourcePath)
	if err != nil {
		return fmt.Errorf("insert physical: %w", err)
	}
	return nil
}

// MarkExtracted flags a scanned object as fully extracted into the
// action store.
func (s *Store) MarkExtracted(ctx context.Context, objectID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE physical SET extracted = 1 WHERE object_id = ?
	`, objectID)
	if err != nil {
		return fmt.Errorf("mark extracted: %w", err)
	}
	return nil
}

// InsertName records one legacy name-table entry.
func (s *Store) InsertName(ctx context.Context, offset int64, name string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO name_lookup (offset, name)
		VALUES (?, ?)
		ON CONFLICT(offset) DO NOTHING
	`, offset, name)
	if err != nil {
		return fmt.Errorf("insert name: %w", err)
	}
	return nil
}

// MergeParentRecord copies the authoritative child-side fields onto a
// parent-side record during the fixup pass.
func (s *Store) MergeParentRecord(ctx context.Context, id int64, version int, comment string, hasComment, isBinary bool) error {
	var v sql.NullInt64
	if version > 0 {
		v = sql.NullInt64{Int64: int64(version), Valid: true}
	}
	var c sql.NullString
	if hasComment {
		c = sql.NullString{String: comment, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE actions
		SET version = ?, comment = ?, is_binary = ?
		WHERE id = ?
	`, v, c, isBinary, id)
	if err != nil {
		return fmt.Errorf("merge parent record: %w", err)
	}
	return nil
}

// ConvertKind rewrites an action's kind and payload in place. The fixup
// pass uses this to collapse a matched MoveFrom/MoveTo pair into a single
// move, and to downgrade an unmatched MoveTo to a Restore.
func (s *Store) ConvertKind(ctx context.Context, id int64, kind action.Kind, info action.Info) error {
	infoJSON, err := marshalInfo(info)
	if err != nil {
		return fmt.Errorf("convert kind: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE actions
		SET kind = ?, info = ?, priority = ?
		WHERE id = ?
	`, kind, infoJSON, kind.Priority(), id)
	if err != nil {
		return fmt.Errorf("convert kind: %w", err)
	}
	return nil
}

// DeleteAction removes a record entirely. Only the fixup pass calls this,
// and only before any scheduling has referenced the record.
func (s *Store) DeleteAction(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM actions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete action: %w", err)
	}
	return nil
}

// Slot is one scheduled position: a dense schedule id bound to an action.
type Slot struct {
	ScheduleID int64
	ActionID   int64
}

// ReplaceSchedule atomically rewrites the live window ordering.
// Called after every successful scheduler pass so a resumed process sees
// exactly the ordering the crashed one had validated.
func (s *Store) ReplaceSchedule(ctx context.Context, slots []Slot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace schedule: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if _, err := tx.ExecContext(ctx, `DELETE FROM schedule`); err != nil {
		return fmt.Errorf("replace schedule: clear: %w", err)
	}
	for _, slot := range slots {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO schedule (schedule_id, action_id) VALUES (?, ?)
		`, slot.ScheduleID, slot.ActionID)
		if err != nil {
			return fmt.Errorf("replace schedule: insert slot %d: %w", slot.ScheduleID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("replace schedule: commit: %w", err)
	}
	return nil
}

// ChangesetRecord is the durable footprint of one emitted commit.
// CommitHash is empty for deferred-label changesets, which retire their
// actions without producing a primary-branch commit.
type ChangesetRecord struct {
	ChangesetID int64
	Author      string
	Comment     string
	HasComment  bool
	Timestamp   int64
	CommitHash  string
}

// RetireChangeset durably completes one changeset in a single
// transaction: the changeset row is recorded, its actions move from
// schedule into retired, and the monotonic counters advance. Crash
// recovery either sees the whole changeset retired or none of it, which
// is what makes resumed runs byte-identical.
func (s *Store) RetireChangeset(ctx context.Context, rec ChangesetRecord, slots []Slot, scheduleCounter int64, snapshot map[string][]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("retire changeset: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var comment sql.NullString
	if rec.HasComment {
		comment = sql.NullString{String: rec.Comment, Valid: true}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO changesets (changeset_id, author, comment, timestamp, commit_hash)
		VALUES (?, ?, ?, ?, ?)
	`, rec.ChangesetID, rec.Author, comment, rec.Timestamp, rec.CommitHash)
	if err != nil {
		return fmt.Errorf("retire changeset %d: %w", rec.ChangesetID, err)
	}

	for _, slot := range slots {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO retired (action_id, schedule_id, changeset_id)
			VALUES (?, ?, ?)
		`, slot.ActionID, slot.ScheduleID, rec.ChangesetID)
		if err != nil {
			return fmt.Errorf("retire changeset %d: action %d: %w", rec.ChangesetID, slot.ActionID, err)
		}
		_, err = tx.ExecContext(ctx, `DELETE FROM schedule WHERE action_id = ?`, slot.ActionID)
		if err != nil {
			return fmt.Errorf("retire changeset %d: unschedule %d: %w", rec.ChangesetID, slot.ActionID, err)
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE system_info
		SET schedule_counter = ?, changeset_counter = ?
		WHERE id = 1
	`, scheduleCounter, rec.ChangesetID)
	if err != nil {
		return fmt.Errorf("retire changeset %d: counters: %w", rec.ChangesetID, err)
	}

	snap, err := marshalSnapshot(snapshot)
	if err != nil {
		return fmt.Errorf("retire changeset %d: %w", rec.ChangesetID, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO image_state (id, snapshot) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET snapshot = excluded.snapshot
	`, snap)
	if err != nil {
		return fmt.Errorf("retire changeset %d: image state: %w", rec.ChangesetID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("retire changeset %d: commit: %w", rec.ChangesetID, err)
	}
	return nil
}

// Discard archives an action the scheduler proved unplayable.
// Idempotent: discarding twice keeps the first reason.
func (s *Store) Discard(ctx context.Context, actionID int64, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO discarded (action_id, reason)
		VALUES (?, ?)
		ON CONFLICT(action_id) DO NOTHING
	`, actionID, reason)
	if err != nil {
		return fmt.Errorf("discard action %d: %w", actionID, err)
	}
	return nil
}

// WriteDeferredLabel captures a label action together with the image
// snapshot and head commit at deferral time. Idempotent per action.
func (s *Store) WriteDeferredLabel(ctx context.Context, actionID int64, snapshot map[string][]string, headCommit string) error {
	snap, err := marshalSnapshot(snapshot)
	if err != nil {
		return fmt.Errorf("write deferred label: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO labels (action_id, snapshot, head_commit)
		VALUES (?, ?, ?)
		ON CONFLICT(action_id) DO NOTHING
	`, actionID, snap, headCommit)
	if err != nil {
		return fmt.Errorf("write deferred label: %w", err)
	}
	return nil
}

// SetLabelBranch persists the sanitized branch name chosen for a label,
// so a resumed run reuses the exact same name.
func (s *Store) SetLabelBranch(ctx context.Context, actionID int64, branch string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE labels SET branch_name = ? WHERE action_id = ?
	`, branch, actionID)
	if err != nil {
		return fmt.Errorf("set label branch: %w", err)
	}
	return nil
}

// MarkLabelProcessed records that a deferred label's branch commit landed.
func (s *Store) MarkLabelProcessed(ctx context.Context, actionID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE labels SET processed = 1 WHERE action_id = ?
	`, actionID)
	if err != nil {
		return fmt.Errorf("mark label processed: %w", err)
	}
	return nil
}

// SaveCursor persists the active task/step pair. Called at every phase
// transition; the resume path restores it verbatim.
func (s *Store) SaveCursor(ctx context.Context, task, step string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE system_info SET task = ?, step = ? WHERE id = 1
	`, task, step)
	if err != nil {
		return fmt.Errorf("save cursor: %w", err)
	}
	return nil
}

// SaveWindowStart persists the lower bound of the current time window.
func (s *Store) SaveWindowStart(ctx context.Context, ts int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE system_info SET window_start = ? WHERE id = 1
	`, ts)
	if err != nil {
		return fmt.Errorf("save window start: %w", err)
	}
	return nil
}
