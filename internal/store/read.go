package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ssmig/ssmig/internal/action"
)

const actionColumns = `
	a.id, a.object_id, a.version, a.parent_object_id, a.kind, a.item_type,
	a.item_name, a.timestamp, a.author, a.comment, a.is_binary, a.info,
	a.priority, a.is_parent_side`

// pendingFilter excludes every action that has already left the primary
// timeline: retired into a changeset, discarded as unplayable, or pulled
// out as a deferred label.
const pendingFilter = `
	a.id NOT IN (SELECT action_id FROM retired)
	AND a.id NOT IN (SELECT action_id FROM discarded)
	AND a.id NOT IN (SELECT action_id FROM labels)`

// Cursor is the single-row resume state.
type Cursor struct {
	RunID            string
	Task             string
	Step             string
	ScheduleCounter  int64
	ChangesetCounter int64
	WindowStart      int64
}

// ReadCursor returns the resume cursor. The row always exists; Open
// seeds it.
func (s *Store) ReadCursor(ctx context.Context) (Cursor, error) {
	var c Cursor
	err := s.db.QueryRowContext(ctx, `
		SELECT run_id, task, step, schedule_counter, changeset_counter, window_start
		FROM system_info WHERE id = 1
	`).Scan(&c.RunID, &c.Task, &c.Step, &c.ScheduleCounter, &c.ChangesetCounter, &c.WindowStart)
	if err != nil {
		return Cursor{}, fmt.Errorf("read cursor: %w", err)
	}
	return c, nil
}

// ReadAction retrieves a single action by id.
// Returns sql.ErrNoRows if not found.
func (s *Store) ReadAction(ctx context.Context, id int64) (action.Action, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+actionColumns+` FROM actions a WHERE a.id = ?
	`, id)
	return scanAction(row)
}

// PendingWindow returns every not-yet-processed action with timestamp in
// [from, until), ordered by (timestamp, priority, is_parent_side, id).
// The trailing id term keeps ordering deterministic for full ties.
func (s *Store) PendingWindow(ctx context.Context, from, until int64) ([]action.Action, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+actionColumns+`
		FROM actions a
		WHERE a.timestamp >= ? AND a.timestamp < ?
		AND `+pendingFilter+`
		ORDER BY a.timestamp ASC, a.priority ASC, a.is_parent_side ASC, a.id ASC
	`, from, until)
	if err != nil {
		return nil, fmt.Errorf("query pending window: %w", err)
	}
	defer rows.Close()

	return collectActions(rows)
}

// EarliestPending returns the smallest pending timestamp at or after
// from, or ok=false when nothing is left.
func (s *Store) EarliestPending(ctx context.Context, from int64) (ts int64, ok bool, err error) {
	var t sql.NullInt64
	err = s.db.QueryRowContext(ctx, `
		SELECT MIN(a.timestamp) FROM actions a
		WHERE a.timestamp >= ? AND `+pendingFilter, from).Scan(&t)
	if err != nil {
		return 0, false, fmt.Errorf("earliest pending: %w", err)
	}
	if !t.Valid {
		return 0, false, nil
	}
	return t.Int64, true, nil
}

// PendingCount returns how many actions have not yet left the primary
// timeline.
func (s *Store) PendingCount(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM actions a WHERE `+pendingFilter).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("pending count: %w", err)
	}
	return n, nil
}

// ScheduledSlot pairs an action with its persisted window position.
type ScheduledSlot struct {
	ScheduleID int64
	Action     action.Action
}

// LoadSchedule returns the persisted live-window ordering, empty after a
// clean changeset boundary. A resumed run replays this ordering verbatim
// instead of recomputing it.
func (s *Store) LoadSchedule(ctx context.Context) ([]ScheduledSlot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sc.schedule_id, `+actionColumns+`
		FROM schedule sc
		JOIN actions a ON a.id = sc.action_id
		ORDER BY sc.schedule_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("load schedule: %w", err)
	}
	defer rows.Close()

	var slots []ScheduledSlot
	for rows.Next() {
		var (
			slot     ScheduledSlot
			version  sql.NullInt64
			parent   sql.NullString
			comment  sql.NullString
			info     string
			priority int
		)
		a := &slot.Action
		err := rows.Scan(
			&slot.ScheduleID,
			&a.ID, &a.ObjectID, &version, &parent,
			&a.Kind, &a.ItemType, &a.ItemName,
			&a.Timestamp, &a.Author, &comment,
			&a.IsBinary, &info, &priority, &a.IsParentSide,
		)
		if err != nil {
			return nil, fmt.Errorf("load schedule: scan: %w", err)
		}
		if version.Valid {
			a.Version = int(version.Int64)
		}
		if parent.Valid {
			a.ParentObjectID = parent.String
		}
		if comment.Valid {
			a.Comment = comment.String
			a.HasComment = true
		}
		a.Info, err = unmarshalInfo(info)
		if err != nil {
			return nil, fmt.Errorf("load schedule: %w", err)
		}
		slots = append(slots, slot)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load schedule: iterate: %w", err)
	}
	return slots, nil
}

// LastCommitHash returns the commit hash of the most recently retired
// non-label changeset, or "" when nothing has been committed yet. A
// resumed replay compares it against the repository head to detect a
// changeset that was committed but never retired.
func (s *Store) LastCommitHash(ctx context.Context) (string, error) {
	var h string
	err := s.db.QueryRowContext(ctx, `
		SELECT commit_hash FROM changesets
		WHERE commit_hash != ''
		ORDER BY changeset_id DESC LIMIT 1
	`).Scan(&h)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("last commit hash: %w", err)
	}
	return h, nil
}

// DistinctAuthors returns every author appearing anywhere in the action
// store, sorted. The author map is validated against this set up front.
func (s *Store) DistinctAuthors(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT author FROM actions ORDER BY author ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("distinct authors: %w", err)
	}
	defer rows.Close()

	var authors []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, fmt.Errorf("distinct authors: scan: %w", err)
		}
		authors = append(authors, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("distinct authors: iterate: %w", err)
	}
	return authors, nil
}

// PhysicalEntry is one scanned legacy source file.
type PhysicalEntry struct {
	ObjectID   string
	SourcePath string
}

// PendingPhysical returns the scanned objects whose histories have not
// been extracted yet, in object-id order. Extraction resumes through
// this after a crash without re-reading finished objects.
func (s *Store) PendingPhysical(ctx context.Context) ([]PhysicalEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT object_id, source_path FROM physical
		WHERE extracted = 0
		ORDER BY object_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("pending physical: %w", err)
	}
	defer rows.Close()

	var out []PhysicalEntry
	for rows.Next() {
		var e PhysicalEntry
		if err := rows.Scan(&e.ObjectID, &e.SourcePath); err != nil {
			return nil, fmt.Errorf("pending physical: scan: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pending physical: iterate: %w", err)
	}
	return out, nil
}

// LookupName resolves a legacy name-cache offset to the recorded long
// name.
func (s *Store) LookupName(ctx context.Context, offset int64) (string, bool) {
	var name string
	err := s.db.QueryRowContext(ctx, `
		SELECT name FROM name_lookup WHERE offset = ?
	`, offset).Scan(&name)
	if err != nil {
		return "", false
	}
	return name, true
}

// PhysicalPath resolves an object id to the legacy source file it was
// scanned from. The content exporter re-invokes the decoder on it.
func (s *Store) PhysicalPath(ctx context.Context, objectID string) (string, error) {
	var p string
	err := s.db.QueryRowContext(ctx, `
		SELECT source_path FROM physical WHERE object_id = ?
	`, objectID).Scan(&p)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("physical path: unknown object %s", objectID)
	}
	if err != nil {
		return "", fmt.Errorf("physical path: %w", err)
	}
	return p, nil
}

// ActionsForObject returns an object's full recorded history in version
// order. The fixup pass joins parent and child perspectives through this.
func (s *Store) ActionsForObject(ctx context.Context, objectID string) ([]action.Action, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+actionColumns+`
		FROM actions a
		WHERE a.object_id = ?
		ORDER BY a.timestamp ASC, a.version ASC, a.id ASC
	`, objectID)
	if err != nil {
		return nil, fmt.Errorf("actions for object: %w", err)
	}
	defer rows.Close()

	return collectActions(rows)
}

// RetiredActionsOfKind returns already-committed actions of one kind in
// the order they were committed. The replay engine rebuilds pin state
// from the retired Pin actions when a run resumes.
func (s *Store) RetiredActionsOfKind(ctx context.Context, kind action.Kind) ([]action.Action, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+actionColumns+`
		FROM actions a
		JOIN retired r ON r.action_id = a.id
		WHERE a.kind = ?
		ORDER BY r.schedule_id ASC
	`, kind)
	if err != nil {
		return nil, fmt.Errorf("retired actions of kind: %w", err)
	}
	defer rows.Close()

	return collectActions(rows)
}

// AllActions returns the entire action store in (timestamp, id) order.
// Fixup iterates this once; the scheduler never does.
func (s *Store) AllActions(ctx context.Context) ([]action.Action, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+actionColumns+`
		FROM actions a
		ORDER BY a.timestamp ASC, a.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("all actions: %w", err)
	}
	defer rows.Close()

	return collectActions(rows)
}

// DeferredLabel is a label action pulled out of the primary timeline,
// with the state it must be replayed against.
type DeferredLabel struct {
	Action     action.Action
	Snapshot   map[string][]string
	HeadCommit string
	BranchName string
	Processed  bool
}

// DeferredLabels returns all captured labels in original chronological
// order. The label pass walks this after the primary replay finishes.
func (s *Store) DeferredLabels(ctx context.Context) ([]DeferredLabel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+actionColumns+`, l.snapshot, l.head_commit, l.branch_name, l.processed
		FROM labels l
		JOIN actions a ON a.id = l.action_id
		ORDER BY a.timestamp ASC, a.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("deferred labels: %w", err)
	}
	defer rows.Close()

	var out []DeferredLabel
	for rows.Next() {
		var (
			d        DeferredLabel
			version  sql.NullInt64
			parent   sql.NullString
			comment  sql.NullString
			info     string
			priority int
			snap     string
			branch   sql.NullString
		)
		a := &d.Action
		err := rows.Scan(
			&a.ID, &a.ObjectID, &version, &parent,
			&a.Kind, &a.ItemType, &a.ItemName,
			&a.Timestamp, &a.Author, &comment,
			&a.IsBinary, &info, &priority, &a.IsParentSide,
			&snap, &d.HeadCommit, &branch, &d.Processed,
		)
		if err != nil {
			return nil, fmt.Errorf("deferred labels: scan: %w", err)
		}
		if version.Valid {
			a.Version = int(version.Int64)
		}
		if parent.Valid {
			a.ParentObjectID = parent.String
		}
		if comment.Valid {
			a.Comment = comment.String
			a.HasComment = true
		}
		if branch.Valid {
			d.BranchName = branch.String
		}
		a.Info, err = unmarshalInfo(info)
		if err != nil {
			return nil, fmt.Errorf("deferred labels: %w", err)
		}
		d.Snapshot, err = unmarshalSnapshot(snap)
		if err != nil {
			return nil, fmt.Errorf("deferred labels: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("deferred labels: iterate: %w", err)
	}
	return out, nil
}

// UsedBranchNames returns every branch name already assigned to a label,
// so reused names never collide even across resumes.
func (s *Store) UsedBranchNames(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT branch_name FROM labels WHERE branch_name IS NOT NULL
	`)
	if err != nil {
		return nil, fmt.Errorf("used branch names: %w", err)
	}
	defer rows.Close()

	used := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("used branch names: scan: %w", err)
		}
		used[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("used branch names: iterate: %w", err)
	}
	return used, nil
}

// LoadImageState returns the last durably committed repository-image
// snapshot, empty on a fresh database.
func (s *Store) LoadImageState(ctx context.Context) (map[string][]string, error) {
	var snap string
	err := s.db.QueryRowContext(ctx, `
		SELECT snapshot FROM image_state WHERE id = 1
	`).Scan(&snap)
	if err == sql.ErrNoRows {
		return map[string][]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load image state: %w", err)
	}
	return unmarshalSnapshot(snap)
}

// Stats summarizes store contents for the status command.
type Stats struct {
	Actions    int64
	Pending    int64
	Retired    int64
	Discarded  int64
	Changesets int64
	Labels     int64
}

// ReadStats gathers table counts in one round of queries.
func (s *Store) ReadStats(ctx context.Context) (Stats, error) {
	var st Stats
	counts := []struct {
		query string
		dest  *int64
	}{
		{`SELECT COUNT(*) FROM actions`, &st.Actions},
		{`SELECT COUNT(*) FROM retired`, &st.Retired},
		{`SELECT COUNT(*) FROM discarded`, &st.Discarded},
		{`SELECT COUNT(*) FROM changesets`, &st.Changesets},
		{`SELECT COUNT(*) FROM labels`, &st.Labels},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, c.query).Scan(c.dest); err != nil {
			return Stats{}, fmt.Errorf("read stats: %w", err)
		}
	}
	var err error
	st.Pending, err = s.PendingCount(ctx)
	if err != nil {
		return Stats{}, err
	}
	return st, nil
}

// collectActions drains a rows cursor of action columns.
func collectActions(rows *sql.Rows) ([]action.Action, error) {
	var actions []action.Action
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, err
		}
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actions: %w", err)
	}
	return actions, nil
}
