package replay

import (
	"context"
	"crypto/sha1"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/ssmig/ssmig/internal/action"
	"github.com/ssmig/ssmig/internal/store"
)

// ReplayLabels materializes every unprocessed deferred label as an
// orphan branch: the label's captured image snapshot is checked out from
// the head commit recorded at deferral time, committed once, and the
// branch annotated with the label comment. Labels replay in original
// chronological order, and each one is marked processed only after its
// commit lands, so a crashed label pass resumes where it stopped.
//
// Returns the number of labels processed this call.
func (e *Engine) ReplayLabels(ctx context.Context) (int, error) {
	labels, err := e.st.DeferredLabels(ctx)
	if err != nil {
		return 0, err
	}
	used, err := e.st.UsedBranchNames(ctx)
	if err != nil {
		return 0, err
	}

	processed := 0
	for i := range labels {
		dl := &labels[i]
		if dl.Processed {
			continue
		}

		name := dl.BranchName
		if name == "" {
			name = BranchName(dl.Action.Info.Label, e.repo.DefaultBranch(), used, dl.Action.ID)
			if err := e.st.SetLabelBranch(ctx, dl.Action.ID, name); err != nil {
				return processed, err
			}
		}
		used[name] = true

		if err := e.replayLabel(ctx, dl, name); err != nil {
			return processed, fmt.Errorf("label %q: %w", dl.Action.Info.Label, err)
		}
		if err := e.st.MarkLabelProcessed(ctx, dl.Action.ID); err != nil {
			return processed, err
		}
		processed++
	}

	// Leave the working tree back on the primary line.
	if processed > 0 {
		if err := e.repo.CheckoutBranch(e.repo.DefaultBranch()); err != nil {
			return processed, err
		}
	}
	return processed, nil
}

func (e *Engine) replayLabel(ctx context.Context, dl *store.DeferredLabel, name string) error {
	if e.repo.BranchExists(name) {
		// A previous run created the branch and crashed before the
		// processed mark; re-enter it and recommit.
		if err := e.repo.CheckoutBranch(name); err != nil {
			return err
		}
	} else if err := e.repo.CheckoutOrphanBranch(name); err != nil {
		return err
	}

	if dl.HeadCommit != "" {
		for _, p := range coveringPaths(dl.Snapshot) {
			if !e.repo.FileExistsIn(dl.HeadCommit, p) {
				// Snapshot and commit can disagree for paths whose
				// content was placeholdered away; skip, don't fail.
				e.warns.Warnf("label %q: snapshot path %s absent from captured commit", dl.Action.Info.Label, p)
				continue
			}
			if err := e.repo.CheckoutPathFrom(dl.HeadCommit, p); err != nil {
				return err
			}
		}
	}

	who, err := e.identity(dl.Action.Author)
	if err != nil {
		return err
	}
	msg := labelMessage(&dl.Action)
	if _, err := e.repo.Commit(msg, who, time.Unix(dl.Action.Timestamp, 0)); err != nil {
		return err
	}

	// The raw label text survives in the branch description even when
	// the branch name had to be mangled.
	desc := dl.Action.Info.Label
	if dl.Action.Info.LabelComment != "" {
		desc += "\n" + dl.Action.Info.LabelComment
	}
	return e.repo.SetBranchDescription(name, desc)
}

// coveringPaths reduces an image snapshot to a minimal sorted set of
// paths: a path already covered by an earlier directory prefix is
// dropped, since checking out the prefix brings the whole subtree.
func coveringPaths(snap map[string][]string) []string {
	var all []string
	for _, paths := range snap {
		for _, p := range paths {
			if p != "" {
				all = append(all, p)
			}
		}
	}
	sort.Strings(all)

	var out []string
	for _, p := range all {
		if n := len(out); n > 0 {
			prev := out[n-1]
			if p == prev || strings.HasPrefix(p, prev+"/") {
				continue
			}
		}
		out = append(out, p)
	}
	return out
}

func labelMessage(a *action.Action) string {
	msg := a.Info.Label
	if msg == "" {
		msg = "(unnamed label)"
	}
	if a.Info.LabelComment != "" {
		msg += "\n\n" + a.Info.LabelComment
	}
	return msg
}

// BranchName derives a git branch name from a label, deterministically.
// Progressively harsher sanitizations of the label text are tried in
// order; the first one that is a valid ref name, is not the primary
// branch, and has not been assigned to an earlier label wins. When all
// fail, a name generated from the label's hash and the action id is
// used, which cannot collide.
func BranchName(label, defaultBranch string, used map[string]bool, key int64) string {
	ok := func(c string) bool {
		return c != "" && c != defaultBranch && !used[c] && validBranchName(c)
	}

	c := label
	if ok(c) {
		return c
	}
	c = strings.TrimLeft(c, "/")
	if ok(c) {
		return c
	}
	c = stripBadSequences(c)
	if ok(c) {
		return c
	}
	c = stripBadChars(c)
	if ok(c) {
		return c
	}
	c = stripBadSuffix(c)
	if ok(c) {
		return c
	}

	sum := sha1.Sum([]byte(label))
	c = fmt.Sprintf("label-%x", sum[:4])
	if ok(c) {
		return c
	}
	return fmt.Sprintf("label-%x-%d", sum[:4], key)
}

func stripBadSequences(s string) string {
	for _, seq := range []string{"..", "@{", ".lock"} {
		s = strings.ReplaceAll(s, seq, "-")
	}
	for strings.Contains(s, "//") {
		s = strings.ReplaceAll(s, "//", "/")
	}
	return s
}

func stripBadChars(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			b.WriteRune('-')
		case r < 0x20 || r == 0x7f:
		case strings.ContainsRune("~^:?*[\\", r):
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func stripBadSuffix(s string) string {
	s = strings.TrimSuffix(s, ".lock")
	return strings.TrimRight(s, "./-")
}

// validBranchName applies git's ref-name rules to a would-be branch.
func validBranchName(s string) bool {
	if s == "" || s == "@" {
		return false
	}
	if strings.HasPrefix(s, "/") || strings.HasSuffix(s, "/") || strings.HasSuffix(s, ".") {
		return false
	}
	if strings.HasSuffix(s, ".lock") {
		return false
	}
	if strings.Contains(s, "..") || strings.Contains(s, "@{") || strings.Contains(s, "//") {
		return false
	}
	for _, seg := range strings.Split(s, "/") {
		if seg == "" || strings.HasPrefix(seg, ".") {
			return false
		}
	}
	for _, r := range s {
		if r < 0x20 || r == 0x7f || unicode.IsSpace(r) {
			return false
		}
		if strings.ContainsRune("~^:?*[\\", r) {
			return false
		}
	}
	return true
}
