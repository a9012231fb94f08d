package replay

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssmig/ssmig/internal/action"
	"github.com/ssmig/ssmig/internal/authmap"
	"github.com/ssmig/ssmig/internal/gitrepo"
	"github.com/ssmig/ssmig/internal/image"
	"github.com/ssmig/ssmig/internal/sched"
	"github.com/ssmig/ssmig/internal/store"
	"github.com/ssmig/ssmig/internal/testutil"
	"github.com/ssmig/ssmig/internal/warn"
)

// rig wires a full replay stack against a real temp repository: staging
// store, scheduler, engine, quarantine, and a fake content source.
type rig struct {
	st      *store.Store
	repo    *gitrepo.Repo
	img     *image.Image
	authors *authmap.Map
	content *testutil.FakeContent
	quar    *Quarantine
	side    *SideFiles
	warns   *warn.Collector
	eng     *Engine
	sch     *sched.Scheduler
}

func newRig(t *testing.T) *rig {
	t.Helper()
	base := t.TempDir()

	st, err := store.Open(filepath.Join(base, "staging.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	repo, err := gitrepo.Init(filepath.Join(base, "repo"), "main")
	require.NoError(t, err)

	mapPath := filepath.Join(base, "authors.yaml")
	require.NoError(t, os.WriteFile(mapPath, []byte(
		"alice:\n  name: Alice Doe\n  email: alice@example.com\n"+
			"bob:\n  name: Bob Roe\n  email: bob@example.com\n"), 0o644))
	authors, err := authmap.Load(mapPath)
	require.NoError(t, err)

	quar, err := NewQuarantine(filepath.Join(base, "quarantine"))
	require.NoError(t, err)

	side := NewSideFiles(filepath.Join(base, "sidefiles"))
	require.NoError(t, side.WriteAll())

	img := image.New()
	warns := warn.New()
	content := testutil.NewFakeContent()
	eng := New(st, repo, img, authors, content, quar, side, warns)

	cursor, err := st.ReadCursor(context.Background())
	require.NoError(t, err)
	sch := sched.New(st, warns, sched.DefaultRevTimeRange, cursor)

	return &rig{st: st, repo: repo, img: img, authors: authors, content: content, quar: quar, side: side, warns: warns, eng: eng, sch: sch}
}

func (r *rig) load(t *testing.T, actions []action.Action) {
	t.Helper()
	for _, a := range actions {
		_, err := r.st.InsertAction(context.Background(), a)
		require.NoError(t, err)
	}
}

// run drains the pending timeline, committing every changeset. Hooks run
// against each changeset before it is applied.
func (r *rig) run(t *testing.T, hooks ...func(cs *sched.Changeset)) []string {
	t.Helper()
	ctx := context.Background()
	var hashes []string
	for {
		cs, ok, err := r.sch.NextChangeset(ctx, r.img)
		require.NoError(t, err)
		if !ok {
			return hashes
		}
		for _, hook := range hooks {
			hook(cs)
		}
		hash, err := r.eng.Commit(ctx, cs)
		require.NoError(t, err)
		require.NoError(t, r.sch.Retire(ctx, cs, hash, r.img.Snapshot()))
		hashes = append(hashes, hash)
	}
}

func (r *rig) read(t *testing.T, rel string) string {
	t.Helper()
	data, err := os.ReadFile(r.repo.Abs(rel))
	require.NoError(t, err)
	return string(data)
}

func (r *rig) missing(rel string) bool {
	_, err := os.Stat(r.repo.Abs(rel))
	return os.IsNotExist(err)
}

func TestEngine_InitialImportAndCheckIn(t *testing.T) {
	r := newRig(t)
	r.load(t, testutil.NewHistory("alice").At(1000).Saying("initial import").
		AddProject("PROJ0001", "", "src").
		AddFile("FILE0001", "PROJ0001", "a.c").
		Tick(200).As("bob").Saying("fix crash").
		Commit("FILE0001", "PROJ0001", "a.c", 2).
		Actions())

	hashes := r.run(t)

	require.Len(t, hashes, 2)
	assert.NotEmpty(t, hashes[0])
	assert.NotEmpty(t, hashes[1])
	assert.Equal(t, testutil.Content("FILE0001", 2), r.read(t, "src/a.c"))
	assert.True(t, r.missing("src/.keep"), "marker must clear once real content lands")
	assert.Zero(t, r.warns.Count())
}

func TestEngine_CommitPropagatesToUnpinnedShares(t *testing.T) {
	r := newRig(t)
	r.load(t, testutil.NewHistory("alice").At(1000).Saying("setup").
		AddProject("PROJ0001", "", "src").
		AddProject("PROJ0002", "", "lib").
		AddFile("FILE0001", "PROJ0001", "a.c").
		Share("FILE0001", "PROJ0002", "a.c", "$/src/a.c").
		Tick(100).Saying("update").
		Commit("FILE0001", "PROJ0001", "a.c", 2).
		Actions())

	r.run(t)

	assert.Equal(t, testutil.Content("FILE0001", 2), r.read(t, "src/a.c"))
	assert.Equal(t, testutil.Content("FILE0001", 2), r.read(t, "lib/a.c"))

	// The share copied working content and the check-in was fetched
	// once; the second share got a working-tree copy.
	fetches := 0
	for _, f := range r.content.Fetched() {
		if f == "FILE0001@2" {
			fetches++
		}
	}
	assert.Equal(t, 1, fetches)
}

func TestEngine_BrokenContentWritesPlaceholder(t *testing.T) {
	r := newRig(t)
	r.content.Broken["FILE0001"] = true
	r.load(t, testutil.NewHistory("alice").At(1000).Saying("import").
		AddProject("PROJ0001", "", "src").
		AddFile("FILE0001", "PROJ0001", "a.c").
		Actions())

	hashes := r.run(t)

	require.Len(t, hashes, 1)
	assert.Equal(t, placeholderBodies[CauseIndeterminate], r.read(t, "src/a.c"))
	assert.Equal(t, 1, r.warns.Count())
}

func TestEngine_PlaceholderMatchesRecordedFate(t *testing.T) {
	r := newRig(t)
	r.content.Broken["FILE0001"] = true
	destroy := action.Action{ObjectID: "FILE0001", ParentObjectID: "PROJ0001", Kind: action.KindDestroy, ItemType: action.TypeFile, ItemName: "a.c", Timestamp: 1100, Author: "alice", Comment: "purge", HasComment: true}
	r.load(t, append(testutil.NewHistory("alice").At(1000).Saying("import").
		AddProject("PROJ0001", "", "src").
		AddFile("FILE0001", "PROJ0001", "a.c").
		Actions(), destroy))

	r.run(t)

	// The Add's substitute blob names the destroyed fate the history
	// records; the Destroy then moved it into quarantine.
	matches, err := filepath.Glob(filepath.Join(r.quar.Root(), "FILE0001", "*", "a.c"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	assert.Equal(t, placeholderBodies[CauseDestroyed], string(data))
}

func TestEngine_DeleteQuarantinesContent(t *testing.T) {
	r := newRig(t)
	r.load(t, testutil.NewHistory("alice").At(1000).Saying("setup").
		AddProject("PROJ0001", "", "src").
		AddFile("FILE0001", "PROJ0001", "a.c").
		AddFile("FILE0002", "PROJ0001", "b.c").
		Tick(100).Saying("cleanup").
		Delete("FILE0001", "PROJ0001", "a.c", action.TypeFile).
		Delete("FILE0002", "PROJ0001", "b.c", action.TypeFile).
		Actions())

	r.run(t)

	assert.True(t, r.missing("src/a.c"))
	assert.True(t, r.missing("src/b.c"))

	for _, name := range []string{"FILE0001/*/a.c", "FILE0002/*/b.c"} {
		matches, err := filepath.Glob(filepath.Join(r.quar.Root(), name))
		require.NoError(t, err)
		assert.Len(t, matches, 1, name)
	}

	// The emptied project keeps its directory alive.
	_, err := os.Stat(r.repo.Abs("src/.keep"))
	assert.NoError(t, err)
}

func TestEngine_RecoverRestoresQuarantinedContent(t *testing.T) {
	r := newRig(t)
	r.load(t, testutil.NewHistory("alice").At(1000).Saying("setup").
		AddProject("PROJ0001", "", "src").
		AddFile("FILE0001", "PROJ0001", "a.c").
		Tick(100).Saying("update").
		Commit("FILE0001", "PROJ0001", "a.c", 2).
		Tick(100).Saying("remove").
		Delete("FILE0001", "PROJ0001", "a.c", action.TypeFile).
		Tick(100).Saying("undo").
		Recover("FILE0001", "PROJ0001", "a.c", action.TypeFile).
		Actions())

	r.run(t)

	// Recovered bytes come back from quarantine, not from a refetch.
	assert.Equal(t, testutil.Content("FILE0001", 2), r.read(t, "src/a.c"))
	assert.NotContains(t, r.content.Fetched(), "FILE0001@0")
	assert.Zero(t, r.warns.Count())
}

func TestEngine_RecoverFallsBackToCommittedContent(t *testing.T) {
	r := newRig(t)
	r.load(t, testutil.NewHistory("alice").At(1000).Saying("setup").
		AddProject("PROJ0001", "", "src").
		AddFile("FILE0001", "PROJ0001", "a.c").
		Tick(100).Saying("remove").
		Delete("FILE0001", "PROJ0001", "a.c", action.TypeFile).
		Tick(100).Saying("undo").
		Recover("FILE0001", "PROJ0001", "a.c", action.TypeFile).
		Actions())

	// Simulate a resumed run whose quarantine did not survive.
	r.run(t, func(cs *sched.Changeset) {
		if cs.Slots[0].Action.Kind == action.KindRecover {
			require.NoError(t, os.RemoveAll(filepath.Join(r.quar.Root(), "FILE0001")))
		}
	})

	assert.Equal(t, testutil.Content("FILE0001", 1), r.read(t, "src/a.c"))
}

func TestEngine_PinFreezesShareAgainstCheckIns(t *testing.T) {
	r := newRig(t)
	setup := testutil.NewHistory("alice").At(1000).Saying("setup").
		AddProject("PROJ0001", "", "src").
		AddProject("PROJ0002", "", "lib").
		AddFile("FILE0001", "PROJ0001", "a.c").
		Share("FILE0001", "PROJ0002", "a.c", "$/src/a.c").
		Actions()
	pin := action.Action{ObjectID: "FILE0001", ParentObjectID: "PROJ0002", Kind: action.KindPin, ItemType: action.TypeFile, ItemName: "a.c", Timestamp: 1100, Author: "alice", Info: action.Info{PinnedVersion: 1}}
	checkin := action.Action{ObjectID: "FILE0001", ParentObjectID: "PROJ0001", Version: 3, Kind: action.KindCommit, ItemType: action.TypeFile, ItemName: "a.c", Timestamp: 1200, Author: "alice", Comment: "update", HasComment: true}

	r.load(t, append(setup, pin, checkin))
	r.run(t)

	assert.Equal(t, testutil.Content("FILE0001", 3), r.read(t, "src/a.c"))
	assert.Equal(t, testutil.Content("FILE0001", 1), r.read(t, "lib/a.c"))
	assert.True(t, r.eng.pinned["FILE0001"]["PROJ0002"])
}

func TestEngine_UnpinKeepsBytesUntilNextCheckIn(t *testing.T) {
	r := newRig(t)
	setup := testutil.NewHistory("alice").At(1000).Saying("setup").
		AddProject("PROJ0001", "", "src").
		AddProject("PROJ0002", "", "lib").
		AddFile("FILE0001", "PROJ0001", "a.c").
		Share("FILE0001", "PROJ0002", "a.c", "$/src/a.c").
		Actions()
	pin := action.Action{ObjectID: "FILE0001", ParentObjectID: "PROJ0002", Kind: action.KindPin, ItemType: action.TypeFile, ItemName: "a.c", Timestamp: 1100, Author: "alice", Info: action.Info{PinnedVersion: 1}}
	checkin3 := action.Action{ObjectID: "FILE0001", ParentObjectID: "PROJ0001", Version: 3, Kind: action.KindCommit, ItemType: action.TypeFile, ItemName: "a.c", Timestamp: 1200, Author: "alice", Comment: "update", HasComment: true}
	unpin := action.Action{ObjectID: "FILE0001", ParentObjectID: "PROJ0002", Kind: action.KindPin, ItemType: action.TypeFile, ItemName: "a.c", Timestamp: 1300, Author: "alice"}
	checkin4 := action.Action{ObjectID: "FILE0001", ParentObjectID: "PROJ0001", Version: 4, Kind: action.KindCommit, ItemType: action.TypeFile, ItemName: "a.c", Timestamp: 1400, Author: "alice", Comment: "more", HasComment: true}

	r.load(t, append(setup, pin, checkin3, unpin, checkin4))

	// The unpin itself rewrites nothing: when the next check-in arrives
	// the share still holds the pinned bytes.
	r.run(t, func(cs *sched.Changeset) {
		a := &cs.Slots[0].Action
		if a.Kind == action.KindCommit && a.Version == 4 {
			assert.Equal(t, testutil.Content("FILE0001", 1), r.read(t, "lib/a.c"))
		}
	})

	assert.Equal(t, testutil.Content("FILE0001", 4), r.read(t, "src/a.c"))
	assert.Equal(t, testutil.Content("FILE0001", 4), r.read(t, "lib/a.c"))
	assert.Empty(t, r.eng.pinned["FILE0001"])
	assert.NotContains(t, r.content.Fetched(), "FILE0001@0")
}

func TestEngine_RestorePinsRebuildsStateFromStore(t *testing.T) {
	r := newRig(t)
	setup := testutil.NewHistory("alice").At(1000).Saying("setup").
		AddProject("PROJ0001", "", "src").
		AddProject("PROJ0002", "", "lib").
		AddFile("FILE0001", "PROJ0001", "a.c").
		Share("FILE0001", "PROJ0002", "a.c", "$/src/a.c").
		Actions()
	pin := action.Action{ObjectID: "FILE0001", ParentObjectID: "PROJ0002", Kind: action.KindPin, ItemType: action.TypeFile, ItemName: "a.c", Timestamp: 1100, Author: "alice", Info: action.Info{PinnedVersion: 1}}

	r.load(t, append(setup, pin))
	r.run(t)

	// A restarted process builds a fresh engine over the same store.
	resumed := New(r.st, r.repo, r.img, r.authors, r.content, r.quar, r.side, r.warns)
	assert.Empty(t, resumed.pinned)
	require.NoError(t, resumed.RestorePins(context.Background()))
	assert.True(t, resumed.pinned["FILE0001"]["PROJ0002"])
}

func TestEngine_RenameOntoOccupiedPathReplaces(t *testing.T) {
	r := newRig(t)
	r.load(t, testutil.NewHistory("alice").At(1000).Saying("setup").
		AddProject("PROJ0001", "", "src").
		AddFile("FILE0001", "PROJ0001", "a.c").
		AddFile("FILE0002", "PROJ0001", "b.c").
		Tick(100).Saying("consolidate").
		Rename("FILE0002", "PROJ0001", "b.c", "a.c", action.TypeFile).
		Actions())

	r.run(t)

	assert.Equal(t, testutil.Content("FILE0002", 1), r.read(t, "src/a.c"))
	assert.True(t, r.missing("src/b.c"))
	assert.Equal(t, 1, r.warns.Count())
}

func TestEngine_RenameSharedFileLeavesOtherShareAlone(t *testing.T) {
	r := newRig(t)
	r.load(t, testutil.NewHistory("alice").At(1000).Saying("setup").
		AddProject("PROJ0001", "", "src").
		AddProject("PROJ0002", "", "lib").
		AddFile("FILE0001", "PROJ0001", "a.c").
		Share("FILE0001", "PROJ0002", "a.c", "$/src/a.c").
		Tick(100).Saying("rename").
		Rename("FILE0001", "PROJ0001", "a.c", "a2.c", action.TypeFile).
		Actions())

	r.run(t)

	assert.Equal(t, testutil.Content("FILE0001", 1), r.read(t, "src/a2.c"))
	assert.Equal(t, testutil.Content("FILE0001", 1), r.read(t, "lib/a.c"))
	assert.True(t, r.missing("src/a.c"))
	assert.ElementsMatch(t, []string{"src/a2.c", "lib/a.c"}, r.img.Paths("FILE0001"))
}

func TestEngine_RenameProjectMovesSubtree(t *testing.T) {
	r := newRig(t)
	r.load(t, testutil.NewHistory("alice").At(1000).Saying("setup").
		AddProject("PROJ0001", "", "src").
		AddFile("FILE0001", "PROJ0001", "a.c").
		Tick(100).Saying("rename").
		Rename("PROJ0001", "", "src", "source", action.TypeProject).
		Actions())

	r.run(t)

	assert.Equal(t, testutil.Content("FILE0001", 1), r.read(t, "source/a.c"))
	assert.True(t, r.missing("src"))
	p, _ := r.img.CanonicalPath("FILE0001")
	assert.Equal(t, "source/a.c", p)
}

func TestEngine_LabelsDeferThenReplayAsOrphanBranch(t *testing.T) {
	ctx := context.Background()
	r := newRig(t)
	r.load(t, testutil.NewHistory("alice").At(1000).Saying("initial import").
		AddProject("PROJ0001", "", "src").
		AddFile("FILE0001", "PROJ0001", "a.c").
		Tick(100).Silently().
		Label("PROJ0001", "v1.0", "first release").
		Actions())

	hashes := r.run(t)

	require.Len(t, hashes, 2)
	assert.Empty(t, hashes[1], "label changesets produce no primary-line commit")

	labels, err := r.st.DeferredLabels(ctx)
	require.NoError(t, err)
	require.Len(t, labels, 1)
	assert.Equal(t, hashes[0], labels[0].HeadCommit)
	assert.False(t, labels[0].Processed)

	n, err := r.eng.ReplayLabels(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.True(t, r.repo.BranchExists("v1.0"))

	// Rerunning the label pass is a no-op.
	n, err = r.eng.ReplayLabels(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	// The branch carries the snapshot content.
	require.NoError(t, r.repo.CheckoutBranch("v1.0"))
	assert.Equal(t, testutil.Content("FILE0001", 1), r.read(t, "src/a.c"))
}

func TestCommitMessage(t *testing.T) {
	cs := &sched.Changeset{Slots: []sched.Slot{{Action: action.Action{Comment: "did things", HasComment: true}}}}
	assert.Equal(t, "did things", commitMessage(cs))

	cs = &sched.Changeset{Slots: []sched.Slot{{Action: action.Action{Comment: "   ", HasComment: true}}}}
	assert.Equal(t, "(no comment)", commitMessage(cs))

	cs = &sched.Changeset{Slots: []sched.Slot{{Action: action.Action{}}}}
	assert.Equal(t, "(no comment)", commitMessage(cs))
}
