package action

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKind_String(t *testing.T) {
	assert.Equal(t, "Add", KindAdd.String())
	assert.Equal(t, "Label", KindLabel.String())
	assert.Equal(t, "Unknown", Kind(99).String())
}

func TestKind_Valid(t *testing.T) {
	for k := KindAdd; k <= KindLabel; k++ {
		assert.True(t, k.Valid(), "kind %d", k)
	}
	assert.False(t, Kind(0).Valid())
	assert.False(t, Kind(99).Valid())
}

func TestKind_Priority_OrdersCreationBeforeShareBeforeBranch(t *testing.T) {
	assert.Less(t, KindAdd.Priority(), KindShare.Priority())
	assert.Less(t, KindShare.Priority(), KindBranch.Priority())
	assert.Less(t, KindBranch.Priority(), KindCommit.Priority())

	// Pin rides with Share: both act on an existing share set.
	assert.Equal(t, KindShare.Priority(), KindPin.Priority())
}

func TestKind_Structural(t *testing.T) {
	structural := []Kind{KindRename, KindMoveTo, KindMoveFrom, KindDelete, KindDestroy, KindRecover, KindRestore}
	for _, k := range structural {
		assert.True(t, k.Structural(), "%s", k)
	}
	for _, k := range []Kind{KindAdd, KindCommit, KindShare, KindBranch, KindPin, KindLabel} {
		assert.False(t, k.Structural(), "%s", k)
	}
}

func TestAction_CommentEqual(t *testing.T) {
	withComment := func(c string) *Action {
		return &Action{Comment: c, HasComment: true}
	}
	noComment := &Action{}

	assert.True(t, withComment("fix").CommentEqual(withComment("fix")))
	assert.False(t, withComment("fix").CommentEqual(withComment("other")))

	// Absent matches only absent; an empty recorded comment is not the
	// same as no comment at all.
	assert.True(t, noComment.CommentEqual(&Action{}))
	assert.False(t, noComment.CommentEqual(withComment("")))
}

func TestInfo_Empty(t *testing.T) {
	assert.True(t, Info{}.Empty())
	assert.False(t, Info{Label: "v1.0"}.Empty())
}
