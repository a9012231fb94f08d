// Package ssphys adapts the external legacy-format decoder tool.
//
// The decoder is a trusted black box: invoked once per legacy object, it
// emits a structured XML document describing the object and its ordered
// version records. This package runs the tool, gates on its minimum
// supported version, transcodes its Windows-1252 output (the legacy
// store predates UTF-8), and maps its records onto action values.
//
// The decoder contract is deterministic: the same object id always
// yields the same history, which the migration's resumability depends
// on.
package ssphys

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"github.com/ssmig/ssmig/internal/action"
)

// MinVersion is the oldest decoder release whose output this adapter
// understands, as numeric version components.
var MinVersion = []int{0, 22}

// Tool is a handle on the decoder binary.
type Tool struct {
	bin string
}

// NewTool returns a Tool invoking the given binary path.
func NewTool(bin string) *Tool {
	return &Tool{bin: bin}
}

// Object is the decoder's view of one legacy object.
type Object struct {
	XMLName  xml.Name        `xml:"physical"`
	Type     string          `xml:"type,attr"`   // "project" | "file"
	Parent   string          `xml:"parent,attr"` // parent object id, "" for root
	Binary   bool            `xml:"binary,attr"`
	Versions []VersionRecord `xml:"version"`
}

// VersionRecord is one entry of an object's linear history as the
// decoder reports it.
type VersionRecord struct {
	Number       int    `xml:"number,attr"`
	Action       string `xml:"action,attr"`
	Date         int64  `xml:"date,attr"`
	Username     string `xml:"username,attr"`
	Comment      string `xml:"comment"`
	Label        string `xml:"label"`
	LabelComment string `xml:"labelcomment"`
	PhysicalName string `xml:"physicalname"`
	ItemName     string `xml:"itemname"`
	RenameTo     string `xml:"renameto"`
	MoveFrom     string `xml:"movefrom"`
	MoveTo       string `xml:"moveto"`
	PinVersion   int    `xml:"pinversion"`
	PriorObject  string `xml:"priorobject"`
	NameOffset   int64  `xml:"nameoffset,attr"`
	ParentSide   bool   `xml:"parentside,attr"`
}

// NameEntry is one record of the legacy long-name cache: the cache
// offset version records point at, and the full item name stored there.
type NameEntry struct {
	Offset int64
	Name   string
}

// ReadNames dumps the legacy name cache. Offsets are referenced by
// version records whose item names were truncated to the legacy short
// form.
func (t *Tool) ReadNames(ctx context.Context, cachePath string) ([]NameEntry, error) {
	out, err := exec.CommandContext(ctx, t.bin, "names", cachePath).Output()
	if err != nil {
		return nil, fmt.Errorf("decode name cache %s: %w", cachePath, err)
	}
	decoded, _, err := transform.Bytes(charmap.Windows1252.NewDecoder(), out)
	if err != nil {
		return nil, fmt.Errorf("transcode name cache: %w", err)
	}

	var entries []NameEntry
	for _, line := range strings.Split(string(decoded), "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		off, name, ok := strings.Cut(line, " ")
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(off, 10, 64)
		if err != nil {
			continue
		}
		entries = append(entries, NameEntry{Offset: n, Name: name})
	}
	return entries, nil
}

// Version runs the tool's version query and returns the reported
// version string.
func (t *Tool) Version(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, t.bin, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("decoder version query: %w", err)
	}
	fields := strings.Fields(strings.TrimSpace(string(out)))
	if len(fields) == 0 {
		return "", fmt.Errorf("decoder version query: empty output")
	}
	return fields[len(fields)-1], nil
}

// CheckMinVersion compares a reported version string against MinVersion
// component by component. Below-minimum is an error the caller treats as
// fatal: older decoders silently drop record fields this adapter needs.
func CheckMinVersion(version string) error {
	parts := strings.Split(strings.TrimSpace(version), ".")
	for i, min := range MinVersion {
		if i >= len(parts) {
			return fmt.Errorf("decoder version %q below minimum %v", version, MinVersion)
		}
		n, err := strconv.Atoi(parts[i])
		if err != nil {
			return fmt.Errorf("decoder version %q not numeric: %w", version, err)
		}
		if n > min {
			return nil
		}
		if n < min {
			return fmt.Errorf("decoder version %q below minimum %v", version, MinVersion)
		}
	}
	return nil
}

// ReadObject invokes the decoder for one legacy source file and parses
// the resulting document. The decoder emits Windows-1252; output is
// transcoded to UTF-8 before XML parsing.
func (t *Tool) ReadObject(ctx context.Context, sourcePath string) (*Object, error) {
	out, err := exec.CommandContext(ctx, t.bin, "info", "-e", sourcePath).Output()
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", sourcePath, err)
	}
	return parseObject(out)
}

func parseObject(raw []byte) (*Object, error) {
	decoded, _, err := transform.Bytes(charmap.Windows1252.NewDecoder(), raw)
	if err != nil {
		return nil, fmt.Errorf("transcode decoder output: %w", err)
	}

	var obj Object
	dec := xml.NewDecoder(bytes.NewReader(decoded))
	if err := dec.Decode(&obj); err != nil {
		return nil, fmt.Errorf("parse decoder output: %w", err)
	}
	return &obj, nil
}

// Exporter fetches historical file content through the decoder's
// version-export command. resolve maps an object id to its legacy
// source file; the staging store's physical table backs it in
// production.
type Exporter struct {
	tool    *Tool
	resolve func(ctx context.Context, objectID string) (string, error)
}

// NewExporter returns an Exporter bound to the given decoder and
// object-id resolver.
func NewExporter(tool *Tool, resolve func(ctx context.Context, objectID string) (string, error)) *Exporter {
	return &Exporter{tool: tool, resolve: resolve}
}

// FetchVersion exports one revision of an object's content into dest.
// Version 0 means the newest recorded revision.
func (e *Exporter) FetchVersion(ctx context.Context, objectID string, version int, dest string) error {
	src, err := e.resolve(ctx, objectID)
	if err != nil {
		return err
	}
	args := []string{"get", "--force-overwrite"}
	if version > 0 {
		args = append(args, "--version", strconv.Itoa(version))
	}
	args = append(args, src, dest)
	if out, err := exec.CommandContext(ctx, e.tool.bin, args...).CombinedOutput(); err != nil {
		return fmt.Errorf("export %s v%d: %w: %s", objectID, version, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// kindNames maps the decoder's action names onto the closed kind set.
var kindNames = map[string]action.Kind{
	"Added":           action.KindAdd,
	"RestoredProject": action.KindRestoredProject,
	"Renamed":         action.KindRename,
	"MovedTo":         action.KindMoveTo,
	"MovedFrom":       action.KindMoveFrom,
	"Deleted":         action.KindDelete,
	"Destroyed":       action.KindDestroy,
	"Recovered":       action.KindRecover,
	"Restored":        action.KindRestore,
	"CheckedIn":       action.KindCommit,
	"Shared":          action.KindShare,
	"Branched":        action.KindBranch,
	"Pinned":          action.KindPin,
	"Labeled":         action.KindLabel,
}

// Actions converts a decoded object history into staging-store actions.
// longName resolves name-cache offsets for records whose item name was
// stored in short form; nil disables the lookup. Records with
// unrecognized action names are skipped and reported in the returned
// slice of names; the caller decides whether to warn.
func Actions(objectID string, obj *Object, longName func(offset int64) (string, bool)) (actions []action.Action, unknown []string) {
	itemType := action.TypeFile
	if strings.EqualFold(obj.Type, "project") {
		itemType = action.TypeProject
	}

	for _, v := range obj.Versions {
		kind, ok := kindNames[v.Action]
		if !ok {
			unknown = append(unknown, v.Action)
			continue
		}

		name := v.ItemName
		if v.NameOffset > 0 && longName != nil {
			if full, ok := longName(v.NameOffset); ok {
				name = full
			}
		}

		a := action.Action{
			ObjectID:     objectID,
			Version:      v.Number,
			Kind:         kind,
			ItemType:     itemType,
			ItemName:     name,
			Timestamp:    v.Date,
			Author:       v.Username,
			IsBinary:     obj.Binary,
			IsParentSide: v.ParentSide,
		}
		if v.ParentSide {
			// Parent-side records live in the parent's history file;
			// the object they describe is named per record.
			a.ParentObjectID = objectID
			a.ObjectID = v.PhysicalName
		} else {
			a.ParentObjectID = obj.Parent
		}
		if v.Comment != "" {
			a.Comment = v.Comment
			a.HasComment = true
		}

		switch kind {
		case action.KindRename:
			a.Info.NewName = v.RenameTo
		case action.KindMoveTo:
			a.Info.MoveDestination = v.MoveTo
		case action.KindMoveFrom:
			a.Info.MoveSource = v.MoveFrom
		case action.KindShare:
			a.Info.ShareSource = v.MoveFrom
		case action.KindPin:
			a.Info.PinnedVersion = v.PinVersion
		case action.KindLabel:
			a.Info.Label = v.Label
			a.Info.LabelComment = v.LabelComment
		case action.KindBranch:
			a.Info.PriorObjectID = v.PriorObject
		}

		actions = append(actions, a)
	}
	return actions, unknown
}
