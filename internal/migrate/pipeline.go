// Package migrate orchestrates the full migration as an ordered run of
// named steps over the durable staging store. Every step leaves its
// progress in the store before the next one starts, so `resume` can pick
// the run back up at the step (and, inside the replay step, at the
// changeset) where the previous process died.
package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ssmig/ssmig/internal/authmap"
	"github.com/ssmig/ssmig/internal/fixup"
	"github.com/ssmig/ssmig/internal/gitrepo"
	"github.com/ssmig/ssmig/internal/image"
	"github.com/ssmig/ssmig/internal/replay"
	"github.com/ssmig/ssmig/internal/sched"
	"github.com/ssmig/ssmig/internal/ssphys"
	"github.com/ssmig/ssmig/internal/store"
	"github.com/ssmig/ssmig/internal/warn"
)

// taskName identifies this pipeline in the resume cursor.
const taskName = "migrate"

// namesCacheFile is the legacy long-name cache at the database root.
const namesCacheFile = "names.dat"

// Config collects everything a run needs.
type Config struct {
	SourceDir     string // legacy database root
	RepoDir       string // target git repository (created if absent)
	StagingDir    string // staging database, quarantine, scratch space
	AuthorMapPath string
	DecoderPath   string
	DefaultBranch string
	RevTimeRange  int64 // scheduling window size in seconds
}

// Pipeline is one migration run over an open staging store.
type Pipeline struct {
	cfg      Config
	st       *store.Store
	warns    *warn.Collector
	resuming bool

	tool    *ssphys.Tool
	authors *authmap.Map
	repo    *gitrepo.Repo
	img     *image.Image
	side    *replay.SideFiles
	eng     *replay.Engine
	sch     *sched.Scheduler
}

// New returns a Pipeline over the given store.
func New(cfg Config, st *store.Store, warns *warn.Collector) *Pipeline {
	if cfg.DefaultBranch == "" {
		cfg.DefaultBranch = "main"
	}
	if cfg.RevTimeRange <= 0 {
		cfg.RevTimeRange = sched.DefaultRevTimeRange
	}
	return &Pipeline{cfg: cfg, st: st, warns: warns}
}

type step struct {
	name string
	fn   func(*Pipeline, context.Context) error
}

var steps = []step{
	{"prepare", (*Pipeline).stepPrepare},
	{"scan", (*Pipeline).stepScan},
	{"extract", (*Pipeline).stepExtract},
	{"fixup", (*Pipeline).stepFixup},
	{"replay", (*Pipeline).stepReplay},
	{"labels", (*Pipeline).stepLabels},
	{"cleanup", (*Pipeline).stepCleanup},
}

// Run executes the pipeline from the beginning, or from after the last
// completed step when resume is set. A fresh run refuses to reuse a
// staging database that already has progress.
func (p *Pipeline) Run(ctx context.Context, resume bool) error {
	cursor, err := p.st.ReadCursor(ctx)
	if err != nil {
		return err
	}

	start := 0
	if cursor.Step != "" {
		if !resume {
			return fmt.Errorf("staging database already has progress (step %q); use resume or a fresh database", cursor.Step)
		}
		if cursor.Task != taskName {
			return fmt.Errorf("staging database belongs to task %q, cannot resume", cursor.Task)
		}
		idx := stepIndex(cursor.Step)
		if idx < 0 {
			return fmt.Errorf("staging database records unknown step %q", cursor.Step)
		}
		start = idx + 1
		p.resuming = true
		slog.Info("resuming run", "run_id", cursor.RunID, "after_step", cursor.Step)
	}

	for i := start; i < len(steps); i++ {
		s := steps[i]
		p.warns.SetPhase(s.name)
		slog.Info("step starting", "step", s.name)
		if err := s.fn(p, ctx); err != nil {
			return fmt.Errorf("step %s: %w", s.name, err)
		}
		if err := p.st.SaveCursor(ctx, taskName, s.name); err != nil {
			return err
		}
		slog.Info("step finished", "step", s.name)
	}

	p.warns.Summarize(os.Stderr)
	return nil
}

func stepIndex(name string) int {
	for i, s := range steps {
		if s.name == name {
			return i
		}
	}
	return -1
}

// stepPrepare gates on the decoder version, loads the author map, opens
// or creates the target repository, verifies that staging and target
// share a filesystem (quarantine and recovery move content by rename),
// and imports the legacy long-name cache.
func (p *Pipeline) stepPrepare(ctx context.Context) error {
	p.tool = ssphys.NewTool(p.cfg.DecoderPath)
	version, err := p.tool.Version(ctx)
	if err != nil {
		return err
	}
	if err := ssphys.CheckMinVersion(version); err != nil {
		return err
	}
	slog.Info("decoder ready", "version", version)

	p.authors, err = authmap.Load(p.cfg.AuthorMapPath)
	if err != nil {
		return err
	}
	slog.Info("author map loaded", "entries", p.authors.Len())

	if err := os.MkdirAll(p.cfg.StagingDir, 0o755); err != nil {
		return fmt.Errorf("staging dir: %w", err)
	}
	if err := p.ensureSideFiles(); err != nil {
		return err
	}
	if err := p.openRepo(); err != nil {
		return err
	}
	if err := sameFilesystem(p.cfg.StagingDir, p.cfg.RepoDir); err != nil {
		return err
	}

	return p.importNameCache(ctx)
}

// ensureSideFiles persists the well-known placeholder blobs the replay
// engine substitutes for unexportable content.
func (p *Pipeline) ensureSideFiles() error {
	if p.side != nil {
		return nil
	}
	side := replay.NewSideFiles(filepath.Join(p.cfg.StagingDir, "sidefiles"))
	if err := side.WriteAll(); err != nil {
		return err
	}
	p.side = side
	return nil
}

func (p *Pipeline) openRepo() error {
	if _, err := os.Stat(filepath.Join(p.cfg.RepoDir, ".git")); err == nil {
		repo, err := gitrepo.Open(p.cfg.RepoDir, p.cfg.DefaultBranch)
		if err != nil {
			return err
		}
		p.repo = repo
		return nil
	}
	repo, err := gitrepo.Init(p.cfg.RepoDir, p.cfg.DefaultBranch)
	if err != nil {
		return err
	}
	p.repo = repo
	return nil
}

func (p *Pipeline) importNameCache(ctx context.Context) error {
	cache := filepath.Join(p.cfg.SourceDir, namesCacheFile)
	if _, err := os.Stat(cache); err != nil {
		slog.Info("no name cache; long names unavailable")
		return nil
	}
	entries, err := p.tool.ReadNames(ctx, cache)
	if err != nil {
		// Long names are a nicety; short names still migrate.
		p.warns.Warnf("name cache unreadable: %v", err)
		return nil
	}
	for _, e := range entries {
		if err := p.st.InsertName(ctx, e.Offset, e.Name); err != nil {
			return err
		}
	}
	slog.Info("name cache imported", "entries", len(entries))
	return nil
}

// physicalName matches the legacy store's eight-letter history files.
var physicalName = regexp.MustCompile(`^[A-Za-z]{8}$`)

// stepScan walks the legacy data tree and records every history file.
func (p *Pipeline) stepScan(ctx context.Context) error {
	dataDir := filepath.Join(p.cfg.SourceDir, "data")
	if _, err := os.Stat(dataDir); err != nil {
		dataDir = p.cfg.SourceDir
	}

	count := 0
	err := filepath.WalkDir(dataDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !physicalName.MatchString(d.Name()) {
			return nil
		}
		if err := p.st.InsertPhysical(ctx, strings.ToUpper(d.Name()), path); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan %s: %w", dataDir, err)
	}
	if count == 0 {
		return fmt.Errorf("no history files under %s", dataDir)
	}
	slog.Info("source scanned", "objects", count)
	return nil
}

// stepExtract runs the decoder over every scanned object and loads the
// resulting histories into the action store. Per-object, so a crashed
// extraction resumes without duplicating actions.
func (p *Pipeline) stepExtract(ctx context.Context) error {
	if p.tool == nil {
		p.tool = ssphys.NewTool(p.cfg.DecoderPath)
	}
	pending, err := p.st.PendingPhysical(ctx)
	if err != nil {
		return err
	}
	longName := func(offset int64) (string, bool) {
		return p.st.LookupName(ctx, offset)
	}

	inserted := 0
	for _, entry := range pending {
		obj, err := p.tool.ReadObject(ctx, entry.SourcePath)
		if err != nil {
			p.warns.Warnf("object %s unreadable: %v", entry.ObjectID, err)
			if err := p.st.MarkExtracted(ctx, entry.ObjectID); err != nil {
				return err
			}
			continue
		}
		acts, unknown := ssphys.Actions(entry.ObjectID, obj, longName)
		for _, name := range unknown {
			p.warns.Warnf("object %s: unrecognized action %q skipped", entry.ObjectID, name)
		}
		for _, a := range acts {
			if _, err := p.st.InsertAction(ctx, a); err != nil {
				return err
			}
			inserted++
		}
		if err := p.st.MarkExtracted(ctx, entry.ObjectID); err != nil {
			return err
		}
	}
	slog.Info("histories extracted", "objects", len(pending), "actions", inserted)
	return nil
}

func (p *Pipeline) stepFixup(ctx context.Context) error {
	stats, err := fixup.Run(ctx, p.st, p.warns)
	if err != nil {
		return err
	}
	slog.Info("fixup finished",
		"probes_removed", stats.ProbesRemoved,
		"parents_merged", stats.ParentsMerged,
		"moves_collapsed", stats.MovesCollapsed,
		"moves_restored", stats.MovesRestored)
	return nil
}

// stepReplay drives the schedule → extract → commit loop until the
// pending set is empty. All progress lands in the retire transaction, so
// this step is safe to kill at any point.
func (p *Pipeline) stepReplay(ctx context.Context) error {
	if err := p.ensureReplay(ctx); err != nil {
		return err
	}

	authors, err := p.st.DistinctAuthors(ctx)
	if err != nil {
		return err
	}
	if err := p.authors.Validate(authors); err != nil {
		return err
	}

	// A crash between the git commit and the retire transaction leaves
	// the head one commit past the retired record. The recomputed next
	// changeset is that commit; adopt it instead of replaying it twice.
	adopt := ""
	if p.resuming {
		head, err := p.repo.Head()
		if err != nil {
			return err
		}
		last, err := p.st.LastCommitHash(ctx)
		if err != nil {
			return err
		}
		if head != last {
			adopt = head
		}
	}

	commits := 0
	for {
		cs, ok, err := p.sch.NextChangeset(ctx, p.img)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if adopt != "" && !cs.IsLabelSet() {
			p.eng.AdvanceOnly(cs)
			if err := p.sch.Retire(ctx, cs, adopt, p.img.Snapshot()); err != nil {
				return err
			}
			slog.Info("adopted committed changeset", "changeset", cs.ID, "commit", adopt)
			commits++
			adopt = ""
			continue
		}
		hash, err := p.eng.Commit(ctx, cs)
		if err != nil {
			return err
		}
		if err := p.sch.Retire(ctx, cs, hash, p.img.Snapshot()); err != nil {
			return err
		}
		if hash != "" {
			commits++
			slog.Debug("changeset committed", "changeset", cs.ID, "actions", len(cs.Slots), "commit", hash)
		} else {
			slog.Debug("label changeset deferred", "changeset", cs.ID, "labels", len(cs.Slots))
		}
	}
	slog.Info("primary timeline replayed", "commits", commits)
	return nil
}

func (p *Pipeline) stepLabels(ctx context.Context) error {
	if err := p.ensureReplay(ctx); err != nil {
		return err
	}
	n, err := p.eng.ReplayLabels(ctx)
	if err != nil {
		return err
	}
	slog.Info("labels replayed", "branches", n)
	return nil
}

// stepCleanup clears scratch space. The quarantine stays: it is the
// audit trail for everything the source database had deleted.
func (p *Pipeline) stepCleanup(ctx context.Context) error {
	scratch := filepath.Join(p.cfg.StagingDir, "tmp")
	if err := os.RemoveAll(scratch); err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	stats, err := p.st.ReadStats(ctx)
	if err != nil {
		return err
	}
	slog.Info("run complete",
		"actions", stats.Actions,
		"retired", stats.Retired,
		"discarded", stats.Discarded,
		"changesets", stats.Changesets,
		"labels", stats.Labels)
	return nil
}

// ensureReplay builds the replay collaborators. Called by both the
// replay and the label step, whichever runs first in this process.
func (p *Pipeline) ensureReplay(ctx context.Context) error {
	if p.eng != nil {
		return nil
	}
	if p.tool == nil {
		p.tool = ssphys.NewTool(p.cfg.DecoderPath)
	}
	if p.authors == nil {
		authors, err := authmap.Load(p.cfg.AuthorMapPath)
		if err != nil {
			return err
		}
		p.authors = authors
	}
	if p.repo == nil {
		if err := p.openRepo(); err != nil {
			return err
		}
	}
	if err := p.ensureSideFiles(); err != nil {
		return err
	}

	snap, err := p.st.LoadImageState(ctx)
	if err != nil {
		return err
	}
	p.img = image.FromSnapshot(snap)

	cursor, err := p.st.ReadCursor(ctx)
	if err != nil {
		return err
	}
	p.sch = sched.New(p.st, p.warns, p.cfg.RevTimeRange, cursor)

	quar, err := replay.NewQuarantine(filepath.Join(p.cfg.StagingDir, "quarantine"))
	if err != nil {
		return err
	}
	exporter := ssphys.NewExporter(p.tool, func(ctx context.Context, objectID string) (string, error) {
		return p.st.PhysicalPath(ctx, objectID)
	})
	p.eng = replay.New(p.st, p.repo, p.img, p.authors, exporter, quar, p.side, p.warns)
	return p.eng.RestorePins(ctx)
}

// sameFilesystem verifies that a rename between the two directories
// works, by doing one. Quarantine moves content between the working tree
// and staging with os.Rename, which cannot cross filesystems.
func sameFilesystem(stagingDir, repoDir string) error {
	probe, err := os.CreateTemp(stagingDir, ".fs-probe-*")
	if err != nil {
		return fmt.Errorf("filesystem probe: %w", err)
	}
	name := probe.Name()
	probe.Close()
	defer os.Remove(name)

	target := filepath.Join(repoDir, filepath.Base(name))
	if err := os.Rename(name, target); err != nil {
		return fmt.Errorf("staging dir %s and repository %s must be on the same filesystem: %w", stagingDir, repoDir, err)
	}
	if err := os.Rename(target, name); err != nil {
		os.Remove(target)
		return fmt.Errorf("filesystem probe: %w", err)
	}
	return nil
}
