package sched

import (
	"path"
	"strings"

	"github.com/ssmig/ssmig/internal/action"
	"github.com/ssmig/ssmig/internal/image"
)

// The simulation applies actions to a scratch image at existence level
// only: which objects live where. No file content, no I/O. The replay
// engine re-applies the same transitions against the live image in
// lock-step with real working-tree operations; the two must agree on
// path arithmetic, which is why both go through the helpers below.

// JoinPath builds a child path under a parent project path. An empty
// parent means the repository root.
func JoinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

// NormalizeLegacyPath converts a legacy "$/Project/Sub" style path into
// the repository-relative form the image tracks. The root project "$"
// maps to the repository root.
func NormalizeLegacyPath(p string) string {
	p = strings.TrimPrefix(p, "$")
	p = strings.TrimPrefix(p, "/")
	return p
}

// TargetPath computes where an action lands, given the simulated or live
// image. Falls back to the object's canonical path when the recorded
// parent is not materialized.
func TargetPath(img *image.Image, a *action.Action) string {
	if a.ParentObjectID != "" {
		if parent, ok := img.CanonicalPath(a.ParentObjectID); ok {
			return JoinPath(parent, a.ItemName)
		}
	}
	if p, ok := img.CanonicalPath(a.ObjectID); ok {
		return p
	}
	return a.ItemName
}

// PathUnderParent returns the object's live path that sits under the
// acting parent, or its canonical path when none does. Parent-side
// records act on one specific share location, not on all of them.
// The replay engine uses the same lookup so working-tree operations and
// image bookkeeping never disagree about which share is touched.
func PathUnderParent(img *image.Image, a *action.Action) string {
	if a.ParentObjectID != "" {
		if parent, ok := img.CanonicalPath(a.ParentObjectID); ok {
			prefix := parent + "/"
			for _, p := range img.Paths(a.ObjectID) {
				if strings.HasPrefix(p, prefix) && path.Dir(p) == parent {
					return p
				}
			}
			return JoinPath(parent, a.ItemName)
		}
	}
	if p, ok := img.CanonicalPath(a.ObjectID); ok {
		return p
	}
	return a.ItemName
}

// Apply advances an image by one action at existence level. The repair
// walk runs it against scratch clones; the replay engine runs it against
// the live image after mirroring the action in the working tree.
// Unknown-parent cases have already been flagged by the repair walk.
func Apply(img *image.Image, a *action.Action) {
	switch a.Kind {
	case action.KindAdd, action.KindRestoredProject, action.KindRestore, action.KindRecover:
		img.AddPath(a.ObjectID, TargetPath(img, a))

	case action.KindShare:
		img.AddPath(a.ObjectID, TargetPath(img, a))

	case action.KindBranch:
		p := PathUnderParent(img, a)
		img.Detach(a.Info.PriorObjectID, a.ObjectID, p)

	case action.KindRename:
		applyRename(img, a)

	case action.KindMoveTo:
		applyMove(img, a)

	case action.KindMoveFrom:
		// Collapsed into MoveTo by fixup; stragglers are ordering
		// weight only.

	case action.KindDelete, action.KindDestroy:
		p := PathUnderParent(img, a)
		if a.ItemType == action.TypeProject {
			img.RemoveSubtree(p)
			img.Remove(a.ObjectID)
		} else {
			img.RemovePath(a.ObjectID, p)
		}

	case action.KindCommit, action.KindPin, action.KindLabel:
		// Content-level; no structural effect.
	}
}

// applyRename renames the share under the acting parent. Rename records
// are parent-side: each sharing project records its own rename, so the
// other share locations keep their names until their own record applies.
// Renaming a project drags its whole subtree along.
func applyRename(img *image.Image, a *action.Action) {
	newName := a.Info.NewName
	if newName == "" {
		return
	}
	if a.ItemType == action.TypeProject {
		if old, ok := img.CanonicalPath(a.ObjectID); ok {
			img.RewritePrefix(old, JoinPath(parentDir(old), newName))
		}
		return
	}
	p := PathUnderParent(img, a)
	img.RemovePath(a.ObjectID, p)
	img.AddPath(a.ObjectID, JoinPath(parentDir(p), newName))
}

// applyMove relocates the object to the recorded destination project.
func applyMove(img *image.Image, a *action.Action) {
	dest := NormalizeLegacyPath(a.Info.MoveDestination)
	newPath := JoinPath(dest, a.ItemName)
	old := PathUnderParent(img, a)
	if a.ItemType == action.TypeProject {
		img.RewritePrefix(old, newPath)
		return
	}
	img.RemovePath(a.ObjectID, old)
	img.AddPath(a.ObjectID, newPath)
}

func parentDir(p string) string {
	d := path.Dir(p)
	if d == "." {
		return ""
	}
	return d
}
