// Package action defines the historical event model extracted from the
// legacy version-control database.
//
// Every object in the legacy store (a Project or a File) carries a linear,
// per-object history of actions. The migration flattens all of those
// per-object histories into one global stream of Action values, which the
// scheduler then orders, groups into changesets, and replays against the
// target git repository.
package action

// Kind identifies what a historical action did to its object.
//
// The kind set is closed. Dispatch in the scheduler and the replay engine
// is an exhaustive switch over this enum, so adding a kind without handling
// it is a compile-time visible change, not a silent runtime fallthrough.
type Kind int

const (
	// KindAdd is the creation of an object under a parent project.
	KindAdd Kind = iota + 1
	// KindRestoredProject marks a project re-created from an archive.
	KindRestoredProject
	// KindRename changes an object's name in place. Info.NewName carries
	// the new item name.
	KindRename
	// KindMoveTo is the parent-side record of a child moving away.
	// Info.MoveDestination carries the destination project path.
	KindMoveTo
	// KindMoveFrom is the parent-side record of a child arriving.
	// Info.MoveSource carries the originating project path.
	KindMoveFrom
	// KindDelete soft-deletes an object (recoverable).
	KindDelete
	// KindDestroy permanently removes an object.
	KindDestroy
	// KindRecover undoes a prior Delete.
	KindRecover
	// KindRestore re-attaches an archived object to the tree.
	KindRestore
	// KindCommit is a content check-in of a new version.
	KindCommit
	// KindShare introduces an additional live path for an existing file.
	// Info.ShareSource carries the canonical source path.
	KindShare
	// KindBranch splits a shared file: a new object id takes over one of
	// the shared paths. Info.PriorObjectID names the object it split from.
	KindBranch
	// KindPin pins (or unpins) a shared file to a fixed version.
	// Info.PinnedVersion is the pinned version, 0 when unpinning.
	KindPin
	// KindLabel records a point-in-time named snapshot. Never replayed
	// inline; always deferred to the label pass.
	KindLabel
)

var kindNames = map[Kind]string{
	KindAdd:             "Add",
	KindRestoredProject: "RestoredProject",
	KindRename:          "Rename",
	KindMoveTo:          "MoveTo",
	KindMoveFrom:        "MoveFrom",
	KindDelete:          "Delete",
	KindDestroy:         "Destroy",
	KindRecover:         "Recover",
	KindRestore:         "Restore",
	KindCommit:          "Commit",
	KindShare:           "Share",
	KindBranch:          "Branch",
	KindPin:             "Pin",
	KindLabel:           "Label",
}

func (k Kind) String() string {
	if n, ok := kindNames[k]; ok {
		return n
	}
	return "Unknown"
}

// Valid reports whether k is a member of the closed kind set.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

// Priority returns the same-timestamp tie-break weight for the kind.
// Lower sorts earlier: an Add must precede a Share of the added file, a
// Share must precede a Branch that splits it. Everything else is equal.
func (k Kind) Priority() int {
	switch k {
	case KindAdd:
		return 0
	case KindShare, KindPin:
		return 1
	case KindBranch:
		return 2
	default:
		return 3
	}
}

// Structural reports whether the kind rearranges the tree rather than
// changing file content. Structural project actions force changeset
// boundaries so a single commit never mixes directory surgery with
// ordinary check-ins.
func (k Kind) Structural() bool {
	switch k {
	case KindRename, KindMoveTo, KindMoveFrom, KindDelete, KindDestroy,
		KindRecover, KindRestore:
		return true
	default:
		return false
	}
}

// ItemType distinguishes directory-like projects from files.
type ItemType int

const (
	// TypeProject is a directory-like container object.
	TypeProject ItemType = 1
	// TypeFile is a leaf content object.
	TypeFile ItemType = 2
)

func (t ItemType) String() string {
	switch t {
	case TypeProject:
		return "Project"
	case TypeFile:
		return "File"
	default:
		return "Unknown"
	}
}

// Info is the kind-dependent payload of an action. Only the fields
// relevant to the action's kind are populated; the rest stay zero.
type Info struct {
	NewName         string `json:"new_name,omitempty"`         // Rename
	ShareSource     string `json:"share_source,omitempty"`     // Share
	MoveSource      string `json:"move_source,omitempty"`      // MoveFrom
	MoveDestination string `json:"move_destination,omitempty"` // MoveTo
	PinnedVersion   int    `json:"pinned_version,omitempty"`   // Pin (0 = unpin)
	Label           string `json:"label,omitempty"`            // Label
	LabelComment    string `json:"label_comment,omitempty"`    // Label
	PriorObjectID   string `json:"prior_object_id,omitempty"`  // Branch
}

// Empty reports whether the payload carries no data at all.
func (i Info) Empty() bool {
	return i == Info{}
}

// Action is one historical event recorded against an object.
//
// ID is assigned by the staging store on insert and is stable for the
// lifetime of the migration; the quarantine area and the audit archives
// key on it.
//
// Version is nullable: parent-side records witnessed only from the
// containing project have no per-object version number until the fixup
// pass merges them with their child counterpart.
type Action struct {
	ID             int64
	ObjectID       string // legacy physical name, stable per object
	Version        int    // 0 = unknown (parent-only record pre-fixup)
	ParentObjectID string // containing project's object id, "" if none
	Kind           Kind
	ItemType       ItemType
	ItemName       string
	Timestamp      int64 // seconds, legacy local time, not monotonic
	Author         string
	Comment        string // "" = no comment recorded
	HasComment     bool   // distinguishes "" from absent
	IsBinary       bool
	Info           Info
	IsParentSide   bool
}

// SameMoment reports whether two actions share a timestamp. The legacy
// store records seconds only, so "same moment" ties are common and are
// what the affinity pass exists to untangle.
func (a *Action) SameMoment(b *Action) bool {
	return a.Timestamp == b.Timestamp
}

// CommentEqual compares comments treating absent and present-but-equal
// as distinct cases: an absent comment only matches another absent one.
func (a *Action) CommentEqual(b *Action) bool {
	if a.HasComment != b.HasComment {
		return false
	}
	if !a.HasComment {
		return true
	}
	return a.Comment == b.Comment
}

// IsLabel reports whether the action is a label snapshot.
func (a *Action) IsLabel() bool {
	return a.Kind == KindLabel
}
