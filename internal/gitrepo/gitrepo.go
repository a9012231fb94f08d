// Package gitrepo wraps the target git repository behind the small set
// of primitives the replay engine needs: stage, remove, move, commit
// with explicit author identity and date, checkout-path-from-commit,
// orphan branch creation, and head resolution.
//
// Everything goes through go-git; no git binary is shelled out to, so
// the migration runs identically wherever the process does.
package gitrepo

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/storer"
)

// Identity is a resolved commit author.
type Identity struct {
	Name  string
	Email string
}

// Repo is an open target repository with its working tree.
type Repo struct {
	repo          *git.Repository
	wt            *git.Worktree
	root          string
	defaultBranch string
}

// Init creates a fresh repository at path with the given default branch
// name and returns it opened.
func Init(path, defaultBranch string) (*Repo, error) {
	repo, err := git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repository: %w", err)
	}
	// Point HEAD at the requested default branch before the first
	// commit so history starts on it.
	head := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(defaultBranch))
	if err := repo.Storer.SetReference(head); err != nil {
		return nil, fmt.Errorf("init repository: set head: %w", err)
	}
	return wrap(repo, path, defaultBranch)
}

// Open opens an existing repository at path.
func Open(path, defaultBranch string) (*Repo, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("open repository: %w", err)
	}
	return wrap(repo, path, defaultBranch)
}

func wrap(repo *git.Repository, path, defaultBranch string) (*Repo, error) {
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("open worktree: %w", err)
	}
	return &Repo{repo: repo, wt: wt, root: path, defaultBranch: defaultBranch}, nil
}

// Root returns the working-tree directory.
func (r *Repo) Root() string {
	return r.root
}

// DefaultBranch returns the primary branch name.
func (r *Repo) DefaultBranch() string {
	return r.defaultBranch
}

// Abs resolves a repository-relative path to an absolute one.
func (r *Repo) Abs(rel string) string {
	return filepath.Join(r.root, filepath.FromSlash(rel))
}

// Add stages a file or directory (recursively) at the repository-
// relative path.
func (r *Repo) Add(rel string) error {
	if _, err := r.wt.Add(filepath.FromSlash(rel)); err != nil {
		return fmt.Errorf("stage %s: %w", rel, err)
	}
	return nil
}

// Remove deletes the path from the working tree. Directories go
// recursively. The deletion is staged by the next commit (commits run
// with All set).
func (r *Repo) Remove(rel string) error {
	if err := os.RemoveAll(r.Abs(rel)); err != nil {
		return fmt.Errorf("remove %s: %w", rel, err)
	}
	return nil
}

// Move relocates a file or directory inside the working tree, creating
// the destination's parent directories as needed, and stages the new
// location.
func (r *Repo) Move(oldRel, newRel string) error {
	dst := r.Abs(newRel)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("move %s: %w", oldRel, err)
	}
	if err := os.Rename(r.Abs(oldRel), dst); err != nil {
		return fmt.Errorf("move %s to %s: %w", oldRel, newRel, err)
	}
	return r.Add(newRel)
}

// Commit records a commit with the given author identity and date,
// staging all tracked modifications and deletions. Empty changesets are
// allowed: the legacy history contains pure-metadata events that still
// deserve a commit.
func (r *Repo) Commit(message string, who Identity, when time.Time) (string, error) {
	sig := &object.Signature{Name: who.Name, Email: who.Email, When: when}
	hash, err := r.wt.Commit(message, &git.CommitOptions{
		All:               true,
		AllowEmptyCommits: true,
		Author:            sig,
		Committer:         sig,
	})
	if err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return hash.String(), nil
}

// Head returns the current head commit hash, or "" before the first
// commit.
func (r *Repo) Head() (string, error) {
	ref, err := r.repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("resolve head: %w", err)
	}
	return ref.Hash().String(), nil
}

// BranchExists reports whether a local branch of that name exists.
func (r *Repo) BranchExists(name string) bool {
	_, err := r.repo.Reference(plumbing.NewBranchReferenceName(name), true)
	return err == nil
}

// CheckoutOrphanBranch points HEAD at a new unborn branch and empties
// the working tree, so the branch's first commit has no parents. The
// label pass uses this to attach point-in-time snapshots without a
// primary-branch ancestor.
func (r *Repo) CheckoutOrphanBranch(name string) error {
	head := plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName(name))
	if err := r.repo.Storer.SetReference(head); err != nil {
		return fmt.Errorf("orphan branch %s: %w", name, err)
	}
	return r.clearWorktree()
}

// CheckoutBranch switches the working tree to an existing branch.
func (r *Repo) CheckoutBranch(name string) error {
	err := r.wt.Checkout(&git.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(name),
		Force:  true,
	})
	if err != nil {
		return fmt.Errorf("checkout branch %s: %w", name, err)
	}
	return nil
}

// SetBranchDescription records free text against the branch in the
// repository config, the closest git analog to a label comment.
func (r *Repo) SetBranchDescription(name, description string) error {
	cfg, err := r.repo.Config()
	if err != nil {
		return fmt.Errorf("branch description %s: %w", name, err)
	}
	// Raw-only options do not survive a config rewrite; the option has to
	// live on the typed branch entry.
	branch := cfg.Branches[name]
	if branch == nil {
		branch = &config.Branch{Name: name}
		cfg.Branches[name] = branch
	}
	branch.Description = description
	if err := r.repo.Storer.SetConfig(cfg); err != nil {
		return fmt.Errorf("branch description %s: %w", name, err)
	}
	return nil
}

// CheckoutPathFrom copies one path (file or directory subtree) out of a
// historical commit into the working tree and stages it. This is how
// deferred labels materialize the exact content the label named, and how
// Recover falls back when the quarantine has nothing.
func (r *Repo) CheckoutPathFrom(commitHash, rel string) error {
	commit, err := r.repo.CommitObject(plumbing.NewHash(commitHash))
	if err != nil {
		return fmt.Errorf("checkout %s from %s: %w", rel, commitHash, err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return fmt.Errorf("checkout %s from %s: %w", rel, commitHash, err)
	}

	// A single file first; fall back to a subtree walk.
	if f, err := tree.File(rel); err == nil {
		if err := r.writeFileFromBlob(rel, f); err != nil {
			return err
		}
		return r.Add(rel)
	}

	sub, err := tree.Tree(rel)
	if err != nil {
		return fmt.Errorf("checkout %s from %s: path not in commit", rel, commitHash)
	}
	walker := object.NewTreeWalker(sub, true, nil)
	defer walker.Close()
	for {
		name, entry, err := walker.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("checkout %s from %s: %w", rel, commitHash, err)
		}
		if !entry.Mode.IsFile() {
			continue
		}
		f, err := sub.File(name)
		if err != nil {
			return fmt.Errorf("checkout %s from %s: %w", rel, commitHash, err)
		}
		if err := r.writeFileFromBlob(rel+"/"+name, f); err != nil {
			return err
		}
	}
	return r.Add(rel)
}

// FindLastCommitWith walks history from HEAD and returns the hash of
// the most recent commit that still contains rel. Empty when no commit
// ever held the path, or when the repository has no commits yet.
func (r *Repo) FindLastCommitWith(rel string) (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("find commit with %s: %w", rel, err)
	}
	iter, err := r.repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return "", fmt.Errorf("find commit with %s: %w", rel, err)
	}
	defer iter.Close()

	var found string
	err = iter.ForEach(func(c *object.Commit) error {
		if r.FileExistsIn(c.Hash.String(), rel) {
			found = c.Hash.String()
			return storer.ErrStop
		}
		return nil
	})
	if err != nil && !errors.Is(err, storer.ErrStop) {
		return "", fmt.Errorf("find commit with %s: %w", rel, err)
	}
	return found, nil
}

// FileExistsIn reports whether the path exists in the given commit.
func (r *Repo) FileExistsIn(commitHash, rel string) bool {
	commit, err := r.repo.CommitObject(plumbing.NewHash(commitHash))
	if err != nil {
		return false
	}
	tree, err := commit.Tree()
	if err != nil {
		return false
	}
	if _, err := tree.File(rel); err == nil {
		return true
	}
	_, err = tree.Tree(rel)
	return err == nil
}

func (r *Repo) writeFileFromBlob(rel string, f *object.File) error {
	reader, err := f.Reader()
	if err != nil {
		return fmt.Errorf("read blob %s: %w", rel, err)
	}
	defer reader.Close()

	abs := r.Abs(rel)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}
	out, err := os.Create(abs)
	if err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, reader); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}
	return nil
}

// clearWorktree removes everything except the .git directory.
func (r *Repo) clearWorktree() error {
	entries, err := os.ReadDir(r.root)
	if err != nil {
		return fmt.Errorf("clear worktree: %w", err)
	}
	for _, e := range entries {
		if e.Name() == git.GitDirName || strings.HasPrefix(e.Name(), ".git") {
			continue
		}
		if err := os.RemoveAll(filepath.Join(r.root, e.Name())); err != nil {
			return fmt.Errorf("clear worktree: %w", err)
		}
	}
	return nil
}
