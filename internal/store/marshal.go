package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ssmig/ssmig/internal/action"
)

// marshalInfo serializes an action's kind-dependent payload to JSON.
// Empty payloads serialize to "{}" so the column is never NULL.
func marshalInfo(info action.Info) (string, error) {
	b, err := json.Marshal(info)
	if err != nil {
		return "", fmt.Errorf("marshal info: %w", err)
	}
	return string(b), nil
}

// unmarshalInfo deserializes an action payload.
func unmarshalInfo(s string) (action.Info, error) {
	var info action.Info
	if s == "" {
		return info, nil
	}
	if err := json.Unmarshal([]byte(s), &info); err != nil {
		return action.Info{}, fmt.Errorf("unmarshal info: %w", err)
	}
	return info, nil
}

// marshalSnapshot serializes a repository-image snapshot for the labels
// table. json.Marshal sorts map keys, so equal snapshots produce equal
// bytes and resume comparisons are exact.
func marshalSnapshot(snap map[string][]string) (string, error) {
	b, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	return string(b), nil
}

// unmarshalSnapshot deserializes a repository-image snapshot.
func unmarshalSnapshot(s string) (map[string][]string, error) {
	snap := make(map[string][]string)
	if s == "" {
		return snap, nil
	}
	if err := json.Unmarshal([]byte(s), &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return snap, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for the scan helpers.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanAction scans one actions-table row in column order:
// id, object_id, version, parent_object_id, kind, item_type, item_name,
// timestamp, author, comment, is_binary, info, priority, is_parent_side.
func scanAction(r rowScanner) (action.Action, error) {
	var (
		a        action.Action
		version  sql.NullInt64
		parent   sql.NullString
		comment  sql.NullString
		info     string
		priority int
	)
	err := r.Scan(
		&a.ID, &a.ObjectID, &version, &parent,
		&a.Kind, &a.ItemType, &a.ItemName,
		&a.Timestamp, &a.Author, &comment,
		&a.IsBinary, &info, &priority, &a.IsParentSide,
	)
	_ = priority // stored for SQL ordering; in Go it derives from Kind
	if err != nil {
		return action.Action{}, fmt.Errorf("scan action: %w", err)
	}
	if version.Valid {
		a.Version = int(version.Int64)
	}
	if parent.Valid {
		a.ParentObjectID = parent.String
	}
	if comment.Valid {
		a.Comment = comment.String
		a.HasComment = true
	}
	a.Info, err = unmarshalInfo(info)
	if err != nil {
		return action.Action{}, err
	}
	return a, nil
}
