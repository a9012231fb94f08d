// Package replay turns scheduled changesets into git commits.
//
// The engine is the only writer of the target working tree. It applies
// each action of a changeset to the tree, advances the live repository
// image in lock-step through the same path arithmetic the scheduler's
// simulation used, and emits exactly one commit per changeset with the
// mapped author identity and the original timestamp.
//
// Structural conflicts — a re-add of a live path, a move onto an
// occupied destination, a delete of a path that is not there — never
// abort the run. Each downgrades to a warning with a deterministic
// fallback, because a decades-old source database is full of them and
// the migration's job is to get the history across, not to litigate it.
package replay

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/ssmig/ssmig/internal/action"
	"github.com/ssmig/ssmig/internal/authmap"
	"github.com/ssmig/ssmig/internal/gitrepo"
	"github.com/ssmig/ssmig/internal/image"
	"github.com/ssmig/ssmig/internal/sched"
	"github.com/ssmig/ssmig/internal/store"
	"github.com/ssmig/ssmig/internal/warn"
)

// keepMarker is the file dropped into directories that would otherwise
// be empty, since git tracks no empty directories.
const keepMarker = ".keep"

// ContentSource fetches historical file content. Version 0 means the
// newest recorded revision. The production implementation shells out to
// the legacy decoder; tests substitute a fake.
type ContentSource interface {
	FetchVersion(ctx context.Context, objectID string, version int, dest string) error
}

// Engine replays changesets against the target repository.
type Engine struct {
	st      *store.Store
	repo    *gitrepo.Repo
	img     *image.Image
	authors *authmap.Map
	content ContentSource
	quar    *Quarantine
	side    *SideFiles
	warns   *warn.Collector

	// pinned tracks which share of an object is frozen: object id →
	// parent project id of the pinned share. Pinned shares are skipped
	// when later check-ins propagate content.
	pinned map[string]map[string]bool
}

// New returns an Engine over the given collaborators. img is the live
// repository image and must be the instance the scheduler validates
// against.
func New(st *store.Store, repo *gitrepo.Repo, img *image.Image, authors *authmap.Map, content ContentSource, quar *Quarantine, side *SideFiles, warns *warn.Collector) *Engine {
	return &Engine{
		st:      st,
		repo:    repo,
		img:     img,
		authors: authors,
		content: content,
		quar:    quar,
		side:    side,
		warns:   warns,
		pinned:  make(map[string]map[string]bool),
	}
}

// RestorePins rebuilds the in-memory pin state from already-committed
// Pin actions. Called once when a run resumes.
func (e *Engine) RestorePins(ctx context.Context) error {
	pins, err := e.st.RetiredActionsOfKind(ctx, action.KindPin)
	if err != nil {
		return err
	}
	for i := range pins {
		a := &pins[i]
		if a.Info.PinnedVersion > 0 {
			e.markPinned(a.ObjectID, a.ParentObjectID)
		} else {
			e.clearPinned(a.ObjectID, a.ParentObjectID)
		}
	}
	return nil
}

// AdvanceOnly applies a changeset's image and pin bookkeeping without
// touching the working tree. A resumed run uses it for a changeset the
// previous process committed but never retired: the repository already
// holds the commit, only the in-memory state has to catch up.
func (e *Engine) AdvanceOnly(cs *sched.Changeset) {
	for i := range cs.Slots {
		a := &cs.Slots[i].Action
		if a.Kind == action.KindPin {
			if a.Info.PinnedVersion > 0 {
				e.markPinned(a.ObjectID, a.ParentObjectID)
			} else {
				e.clearPinned(a.ObjectID, a.ParentObjectID)
			}
		}
		sched.Apply(e.img, a)
	}
}

// Commit replays one changeset and returns the resulting commit hash.
// Label changesets are never committed here: their actions are captured
// into the deferred-label table with the current image snapshot and head
// commit, and the returned hash is empty.
func (e *Engine) Commit(ctx context.Context, cs *sched.Changeset) (string, error) {
	if cs.IsLabelSet() {
		return "", e.deferLabels(ctx, cs)
	}

	for i := range cs.Slots {
		a := &cs.Slots[i].Action
		if err := e.apply(ctx, a); err != nil {
			return "", fmt.Errorf("changeset %d: action %d (%s %s): %w",
				cs.ID, a.ID, a.Kind, a.ObjectID, err)
		}
		sched.Apply(e.img, a)
	}

	who, err := e.identity(cs.Author())
	if err != nil {
		return "", err
	}
	hash, err := e.repo.Commit(commitMessage(cs), who, time.Unix(cs.Timestamp(), 0))
	if err != nil {
		return "", fmt.Errorf("changeset %d: %w", cs.ID, err)
	}
	return hash, nil
}

// deferLabels captures every label action of the changeset against the
// current state. The label pass replays them after the primary timeline
// finishes.
func (e *Engine) deferLabels(ctx context.Context, cs *sched.Changeset) error {
	head, err := e.repo.Head()
	if err != nil {
		return err
	}
	snap := e.img.Snapshot()
	for i := range cs.Slots {
		a := &cs.Slots[i].Action
		if err := e.st.WriteDeferredLabel(ctx, a.ID, snap, head); err != nil {
			return err
		}
	}
	return nil
}

// apply mirrors one action in the working tree. The image is advanced by
// the caller afterwards, so every path computed here sees the image
// state from before the action, same as the scheduler's simulation did.
func (e *Engine) apply(ctx context.Context, a *action.Action) error {
	switch a.Kind {
	case action.KindAdd, action.KindRestoredProject, action.KindRestore:
		return e.applyAdd(ctx, a)
	case action.KindCommit:
		return e.applyCommit(ctx, a)
	case action.KindShare:
		return e.applyShare(ctx, a)
	case action.KindBranch:
		// The path keeps its bytes; only the object-id binding moves,
		// which is image bookkeeping.
		return nil
	case action.KindRename:
		return e.applyRename(a)
	case action.KindMoveTo:
		return e.applyMove(a)
	case action.KindMoveFrom:
		// Collapsed into MoveTo by fixup; a straggler has no tree effect.
		return nil
	case action.KindDelete, action.KindDestroy:
		return e.applyRemove(a)
	case action.KindRecover:
		return e.applyRecover(ctx, a)
	case action.KindPin:
		return e.applyPin(ctx, a)
	case action.KindLabel:
		// Label changesets are homogeneous and intercepted in Commit.
		return nil
	}
	return fmt.Errorf("unhandled action kind %d", a.Kind)
}

func (e *Engine) applyAdd(ctx context.Context, a *action.Action) error {
	p := sched.TargetPath(e.img, a)
	if a.ItemType == action.TypeProject {
		if _, ok := e.img.ObjectAt(p); ok {
			e.warns.Warnf("re-add of live project path %s (action %d); keeping existing", p, a.ID)
			return nil
		}
		return e.materializeDir(p)
	}

	if owner, ok := e.img.ObjectAt(p); ok && owner != a.ObjectID {
		e.warns.Warnf("re-add over live path %s held by %s (action %d); overwriting", p, owner, a.ID)
	}
	return e.fetchContent(ctx, a, a.Version, p)
}

// applyCommit propagates a check-in's content to every unpinned share of
// the object.
func (e *Engine) applyCommit(ctx context.Context, a *action.Action) error {
	paths := e.img.Paths(a.ObjectID)
	if len(paths) == 0 {
		e.warns.Warnf("check-in for unmaterialized object %s (action %d); skipping", a.ObjectID, a.ID)
		return nil
	}

	var first string
	for _, p := range paths {
		if e.isPinnedPath(a.ObjectID, p) {
			continue
		}
		if first == "" {
			if err := e.fetchContent(ctx, a, a.Version, p); err != nil {
				return err
			}
			first = p
			continue
		}
		if err := e.copyWorkingFile(first, p); err != nil {
			return err
		}
	}
	if first == "" {
		e.warns.Warnf("check-in v%d of %s lands only on pinned shares; skipping", a.Version, a.ObjectID)
	}
	return nil
}

func (e *Engine) applyShare(ctx context.Context, a *action.Action) error {
	np := sched.TargetPath(e.img, a)
	if owner, ok := e.img.ObjectAt(np); ok {
		e.warns.Warnf("share onto live path %s held by %s (action %d); overwriting", np, owner, a.ID)
	}
	if src, ok := e.img.CanonicalPath(a.ObjectID); ok {
		if err := e.copyWorkingFile(src, np); err == nil {
			return nil
		}
		// Source vanished from disk; fall through to the decoder.
	}
	return e.fetchContent(ctx, a, 0, np)
}

func (e *Engine) applyRename(a *action.Action) error {
	newName := a.Info.NewName
	if newName == "" {
		e.warns.Warnf("rename of %s carries no new name (action %d); skipping", a.ObjectID, a.ID)
		return nil
	}

	if a.ItemType == action.TypeProject {
		old, ok := e.img.CanonicalPath(a.ObjectID)
		if !ok {
			e.warns.Warnf("rename of unmaterialized project %s (action %d); skipping", a.ObjectID, a.ID)
			return nil
		}
		return e.moveEntry(old, sched.JoinPath(parentOf(old), newName), a.ID)
	}

	// Rename records are parent-side; only the share under the acting
	// parent changes its name. The other sharing projects carry their
	// own rename records.
	p := sched.PathUnderParent(e.img, a)
	if _, err := os.Stat(e.repo.Abs(p)); err != nil {
		e.warns.Warnf("rename of missing path %s (action %d); skipping", p, a.ID)
		return nil
	}
	return e.moveEntry(p, sched.JoinPath(parentOf(p), newName), a.ID)
}

func (e *Engine) applyMove(a *action.Action) error {
	dest := sched.JoinPath(sched.NormalizeLegacyPath(a.Info.MoveDestination), a.ItemName)
	old := sched.PathUnderParent(e.img, a)
	if _, err := os.Stat(e.repo.Abs(old)); err != nil {
		e.warns.Warnf("move of missing path %s (action %d); materializing %s", old, a.ID, dest)
		if a.ItemType == action.TypeProject {
			return e.materializeDir(dest)
		}
		return nil
	}
	return e.moveEntry(old, dest, a.ID)
}

func (e *Engine) applyRemove(a *action.Action) error {
	p := sched.PathUnderParent(e.img, a)
	abs := e.repo.Abs(p)
	if _, err := os.Stat(abs); err != nil {
		e.warns.Warnf("%s of missing path %s (action %d); nothing to remove", strings.ToLower(a.Kind.String()), p, a.ID)
		return nil
	}

	// Destroyed content is quarantined too: permanent in the source
	// database, but the audit trail keeps it.
	if err := e.quar.Put(a.ObjectID, a.ID, abs); err != nil {
		return err
	}
	return e.keepEmptiedParent(p)
}

func (e *Engine) applyRecover(ctx context.Context, a *action.Action) error {
	dest := sched.TargetPath(e.img, a)
	restored, err := e.quar.Restore(a.ObjectID, e.repo.Abs(dest))
	if err != nil {
		return err
	}
	if restored {
		e.dropKeepMarker(parentOf(dest))
		return e.repo.Add(dest)
	}

	// Nothing quarantined (resumed run, or the removal predates this
	// one): take the content from the last commit that still had it.
	if hash, err := e.repo.FindLastCommitWith(dest); err == nil && hash != "" {
		e.dropKeepMarker(parentOf(dest))
		return e.repo.CheckoutPathFrom(hash, dest)
	}

	e.warns.Warnf("recover of %s found neither quarantined nor committed content (action %d)", a.ObjectID, a.ID)
	if a.ItemType == action.TypeProject {
		return e.materializeDir(dest)
	}
	return e.fetchContent(ctx, a, 0, dest)
}

func (e *Engine) applyPin(ctx context.Context, a *action.Action) error {
	if a.Info.PinnedVersion > 0 {
		p := sched.PathUnderParent(e.img, a)
		e.markPinned(a.ObjectID, a.ParentObjectID)
		return e.fetchContent(ctx, a, a.Info.PinnedVersion, p)
	}
	// Unpin is informational only: the share keeps the pinned bytes
	// until the next check-in propagates over it.
	e.clearPinned(a.ObjectID, a.ParentObjectID)
	return nil
}

// fetchContent writes one revision of an object into the working tree at
// rel and stages it. When the decoder cannot produce the bytes, the
// well-known placeholder blob for the object's recorded fate takes its
// place so the commit stream stays intact.
func (e *Engine) fetchContent(ctx context.Context, a *action.Action, version int, rel string) error {
	abs := e.repo.Abs(rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("fetch %s: %w", rel, err)
	}
	if err := e.content.FetchVersion(ctx, a.ObjectID, version, abs); err != nil {
		cause := e.placeholderCause(ctx, a.ObjectID)
		e.warns.Warnf("content of %s v%d unavailable (%v); substituting %s placeholder at %s", a.ObjectID, version, err, cause, rel)
		if werr := e.side.CopyTo(cause, abs); werr != nil {
			return werr
		}
	}
	e.dropKeepMarker(parentOf(rel))
	return e.repo.Add(rel)
}

// placeholderCause classifies a failed export from the object's recorded
// history: a Destroy anywhere means the bytes are permanently gone, a
// Delete means they went with the soft-delete, anything else is
// indeterminate.
func (e *Engine) placeholderCause(ctx context.Context, objectID string) PlaceholderCause {
	acts, err := e.st.ActionsForObject(ctx, objectID)
	if err != nil {
		return CauseIndeterminate
	}
	cause := CauseIndeterminate
	for i := range acts {
		switch acts[i].Kind {
		case action.KindDestroy:
			return CauseDestroyed
		case action.KindDelete:
			cause = CauseDeleted
		}
	}
	return cause
}

// materializeDir creates a project directory with a keep marker so git
// records its existence before any child lands.
func (e *Engine) materializeDir(rel string) error {
	marker := sched.JoinPath(rel, keepMarker)
	abs := e.repo.Abs(marker)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("create project %s: %w", rel, err)
	}
	if err := os.WriteFile(abs, nil, 0o644); err != nil {
		return fmt.Errorf("create project %s: %w", rel, err)
	}
	return e.repo.Add(marker)
}

// moveEntry relocates a working-tree entry, clearing an occupied
// destination first and keep-marking an emptied source parent after.
func (e *Engine) moveEntry(old, dst string, actionID int64) error {
	if old == dst {
		return nil
	}
	if _, err := os.Stat(e.repo.Abs(dst)); err == nil {
		e.warns.Warnf("move destination %s already occupied (action %d); replacing", dst, actionID)
		if err := os.RemoveAll(e.repo.Abs(dst)); err != nil {
			return fmt.Errorf("move %s: %w", dst, err)
		}
	}
	e.dropKeepMarker(parentOf(dst))
	if err := e.repo.Move(old, dst); err != nil {
		return err
	}
	return e.keepEmptiedParent(old)
}

// keepEmptiedParent drops a keep marker into the removed entry's parent
// directory when the removal left it empty.
func (e *Engine) keepEmptiedParent(removed string) error {
	parent := parentOf(removed)
	if parent == "" {
		return nil
	}
	entries, err := os.ReadDir(e.repo.Abs(parent))
	if err != nil || len(entries) > 0 {
		return nil
	}
	marker := sched.JoinPath(parent, keepMarker)
	if err := os.WriteFile(e.repo.Abs(marker), nil, 0o644); err != nil {
		return fmt.Errorf("keep marker %s: %w", marker, err)
	}
	return e.repo.Add(marker)
}

// dropKeepMarker removes the marker from a directory that is about to
// hold real content. Silent when there is none.
func (e *Engine) dropKeepMarker(dir string) {
	if dir == "" {
		return
	}
	os.Remove(e.repo.Abs(sched.JoinPath(dir, keepMarker)))
}

func (e *Engine) copyWorkingFile(srcRel, destRel string) error {
	src, err := os.Open(e.repo.Abs(srcRel))
	if err != nil {
		return fmt.Errorf("copy %s: %w", srcRel, err)
	}
	defer src.Close()

	abs := e.repo.Abs(destRel)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("copy to %s: %w", destRel, err)
	}
	dest, err := os.Create(abs)
	if err != nil {
		return fmt.Errorf("copy to %s: %w", destRel, err)
	}
	defer dest.Close()
	if _, err := io.Copy(dest, src); err != nil {
		return fmt.Errorf("copy to %s: %w", destRel, err)
	}
	e.dropKeepMarker(parentOf(destRel))
	return e.repo.Add(destRel)
}

func (e *Engine) identity(author string) (gitrepo.Identity, error) {
	id, ok := e.authors.Lookup(author)
	if !ok {
		// Validated up front; reaching here means the map file changed
		// mid-run.
		return gitrepo.Identity{}, fmt.Errorf("author %q not in author map", author)
	}
	return gitrepo.Identity{Name: id.Name, Email: id.Email}, nil
}

func (e *Engine) markPinned(objectID, parentID string) {
	if e.pinned[objectID] == nil {
		e.pinned[objectID] = make(map[string]bool)
	}
	e.pinned[objectID][parentID] = true
}

func (e *Engine) clearPinned(objectID, parentID string) {
	delete(e.pinned[objectID], parentID)
}

// isPinnedPath reports whether the share of the object living at p is
// pinned, by resolving p's parent directory back to its project id.
func (e *Engine) isPinnedPath(objectID, p string) bool {
	parents := e.pinned[objectID]
	if len(parents) == 0 {
		return false
	}
	dir := parentOf(p)
	if dir == "" {
		return false
	}
	parentID, ok := e.img.ObjectAt(dir)
	return ok && parents[parentID]
}

func commitMessage(cs *sched.Changeset) string {
	if msg, ok := cs.Comment(); ok && strings.TrimSpace(msg) != "" {
		return msg
	}
	return "(no comment)"
}

func parentOf(p string) string {
	d := path.Dir(p)
	if d == "." {
		return ""
	}
	return d
}
