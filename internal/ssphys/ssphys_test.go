package ssphys

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssmig/ssmig/internal/action"
)

func TestParseObject(t *testing.T) {
	raw := []byte(`<?xml version="1.0"?>
<physical type="file" parent="PROJ0001" binary="true">
  <version number="1" action="Added" date="1000" username="alice">
    <comment>first</comment>
    <itemname>a.c</itemname>
  </version>
  <version number="2" action="CheckedIn" date="1100" username="bob">
    <itemname>a.c</itemname>
  </version>
</physical>`)

	obj, err := parseObject(raw)
	require.NoError(t, err)
	assert.Equal(t, "file", obj.Type)
	assert.Equal(t, "PROJ0001", obj.Parent)
	assert.True(t, obj.Binary)
	require.Len(t, obj.Versions, 2)
	assert.Equal(t, "Added", obj.Versions[0].Action)
	assert.Equal(t, "first", obj.Versions[0].Comment)
	assert.Equal(t, int64(1100), obj.Versions[1].Date)
	assert.Equal(t, "bob", obj.Versions[1].Username)
}

func TestParseObject_TranscodesWindows1252(t *testing.T) {
	// 0xE9 is "é" in Windows-1252 and invalid UTF-8 on its own.
	raw := []byte(`<physical type="file" parent=""><version number="1" action="Added" date="1" username="ren`)
	raw = append(raw, 0xE9)
	raw = append(raw, []byte(`"><itemname>caf`)...)
	raw = append(raw, 0xE9)
	raw = append(raw, []byte(`.txt</itemname></version></physical>`)...)

	obj, err := parseObject(raw)
	require.NoError(t, err)
	require.Len(t, obj.Versions, 1)
	assert.Equal(t, "rené", obj.Versions[0].Username)
	assert.Equal(t, "café.txt", obj.Versions[0].ItemName)
}

func TestParseObject_Malformed(t *testing.T) {
	_, err := parseObject([]byte("<physical><version></physical>"))
	assert.Error(t, err)
}

func TestCheckMinVersion(t *testing.T) {
	ok := []string{"0.22", "0.22.1", "0.23", "1.0", "2"}
	for _, v := range ok {
		assert.NoError(t, CheckMinVersion(v), v)
	}

	bad := []string{"0.21", "0.21.9", "0", "0.9", ""}
	for _, v := range bad {
		assert.Error(t, CheckMinVersion(v), v)
	}

	assert.Error(t, CheckMinVersion("0.x"))
}

func TestActions_KindMapping(t *testing.T) {
	obj := &Object{
		Type:   "file",
		Parent: "PROJ0001",
		Versions: []VersionRecord{
			{Number: 1, Action: "Added", Date: 1000, Username: "alice", Comment: "new", ItemName: "a.c"},
			{Number: 2, Action: "CheckedIn", Date: 1100, Username: "alice", ItemName: "a.c"},
			{Number: 2, Action: "Pinned", Date: 1200, Username: "bob", ItemName: "a.c", PinVersion: 2},
		},
	}

	actions, unknown := Actions("FILE0001", obj, nil)
	require.Empty(t, unknown)
	require.Len(t, actions, 3)

	assert.Equal(t, action.KindAdd, actions[0].Kind)
	assert.Equal(t, "FILE0001", actions[0].ObjectID)
	assert.Equal(t, "PROJ0001", actions[0].ParentObjectID)
	assert.Equal(t, action.TypeFile, actions[0].ItemType)
	assert.True(t, actions[0].HasComment)
	assert.Equal(t, "new", actions[0].Comment)

	assert.Equal(t, action.KindCommit, actions[1].Kind)
	assert.False(t, actions[1].HasComment)

	assert.Equal(t, action.KindPin, actions[2].Kind)
	assert.Equal(t, 2, actions[2].Info.PinnedVersion)
}

func TestActions_ParentSideRecordsSwapObject(t *testing.T) {
	obj := &Object{
		Type: "project",
		Versions: []VersionRecord{
			{Number: 3, Action: "Deleted", Date: 1000, Username: "alice", ItemName: "a.c", PhysicalName: "FILE0002", ParentSide: true},
		},
	}

	actions, _ := Actions("PROJ0001", obj, nil)
	require.Len(t, actions, 1)
	a := actions[0]
	assert.Equal(t, "FILE0002", a.ObjectID, "parent-side record describes the child")
	assert.Equal(t, "PROJ0001", a.ParentObjectID)
	assert.True(t, a.IsParentSide)
	assert.Equal(t, action.KindDelete, a.Kind)
}

func TestActions_InfoPayloads(t *testing.T) {
	obj := &Object{
		Type: "file",
		Versions: []VersionRecord{
			{Number: 2, Action: "Renamed", RenameTo: "b.c"},
			{Number: 3, Action: "MovedTo", MoveTo: "$/lib"},
			{Number: 4, Action: "MovedFrom", MoveFrom: "$/src"},
			{Number: 5, Action: "Shared", MoveFrom: "$/src/a.c"},
			{Number: 6, Action: "Branched", PriorObject: "FILE0009"},
			{Number: 7, Action: "Labeled", Label: "v1.0", LabelComment: "first"},
		},
	}

	actions, unknown := Actions("FILE0001", obj, nil)
	require.Empty(t, unknown)
	require.Len(t, actions, 6)
	assert.Equal(t, "b.c", actions[0].Info.NewName)
	assert.Equal(t, "$/lib", actions[1].Info.MoveDestination)
	assert.Equal(t, "$/src", actions[2].Info.MoveSource)
	assert.Equal(t, "$/src/a.c", actions[3].Info.ShareSource)
	assert.Equal(t, "FILE0009", actions[4].Info.PriorObjectID)
	assert.Equal(t, "v1.0", actions[5].Info.Label)
	assert.Equal(t, "first", actions[5].Info.LabelComment)
}

func TestActions_UnknownNamesReported(t *testing.T) {
	obj := &Object{
		Type: "file",
		Versions: []VersionRecord{
			{Number: 1, Action: "Added"},
			{Number: 2, Action: "Archived"},
		},
	}

	actions, unknown := Actions("FILE0001", obj, nil)
	assert.Len(t, actions, 1)
	assert.Equal(t, []string{"Archived"}, unknown)
}

func TestActions_LongNameLookup(t *testing.T) {
	obj := &Object{
		Type: "file",
		Versions: []VersionRecord{
			{Number: 1, Action: "Added", ItemName: "LONGFI~1.TXT", NameOffset: 128},
			{Number: 2, Action: "CheckedIn", ItemName: "OTHER~1.TXT", NameOffset: 256},
		},
	}
	longName := func(offset int64) (string, bool) {
		if offset == 128 {
			return "long file name.txt", true
		}
		return "", false
	}

	actions, _ := Actions("FILE0001", obj, longName)
	require.Len(t, actions, 2)
	assert.Equal(t, "long file name.txt", actions[0].ItemName)
	assert.Equal(t, "OTHER~1.TXT", actions[1].ItemName, "unresolved offsets keep the short name")
}
