package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ssmig/ssmig/internal/action"
	"github.com/ssmig/ssmig/internal/store"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// seedStaging creates a staging database under <repoDir>/.ssmig with a
// couple of extracted actions.
func seedStaging(t *testing.T, repoDir string) {
	t.Helper()
	ctx := context.Background()
	stagingDir := filepath.Join(repoDir, ".ssmig")
	require.NoError(t, os.MkdirAll(stagingDir, 0o755))
	st, err := store.Open(filepath.Join(stagingDir, stagingDBName))
	require.NoError(t, err)
	defer st.Close()

	_, err = st.InsertAction(ctx, action.Action{ObjectID: "FILE0001", Kind: action.KindAdd, ItemType: action.TypeFile, ItemName: "a.c", Timestamp: 1000, Author: "alice"})
	require.NoError(t, err)
	_, err = st.InsertAction(ctx, action.Action{ObjectID: "FILE0001", Version: 2, Kind: action.KindCommit, ItemType: action.TypeFile, ItemName: "a.c", Timestamp: 1100, Author: "bob"})
	require.NoError(t, err)
	require.NoError(t, st.SaveCursor(ctx, "migrate", "extract"))
}

func writeAuthorMap(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "authors.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestRootRejectsInvalidFormat(t *testing.T) {
	_, err := execute(t, "--format", "xml", "status", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "xml")
}

func TestStatusWithoutStagingDatabase(t *testing.T) {
	_, err := execute(t, "status", t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestStatusText(t *testing.T) {
	repoDir := t.TempDir()
	seedStaging(t, repoDir)

	out, err := execute(t, "status", repoDir)
	require.NoError(t, err)
	assert.Contains(t, out, "last step:  extract")
	assert.Contains(t, out, "actions:    2")
}

func TestStatusJSON(t *testing.T) {
	repoDir := t.TempDir()
	seedStaging(t, repoDir)

	out, err := execute(t, "--format", "json", "status", repoDir)
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "extract", data["step"])
	assert.EqualValues(t, 2, data["actions"])
	assert.NotEmpty(t, data["run_id"])
}

func TestAuthorsAllMapped(t *testing.T) {
	repoDir := t.TempDir()
	seedStaging(t, repoDir)
	mapPath := writeAuthorMap(t,
		"alice:\n  name: Alice Doe\n  email: alice@example.com\n"+
			"bob:\n  name: Bob Roe\n  email: bob@example.com\n")

	out, err := execute(t, "authors", "--authors", mapPath, repoDir)
	require.NoError(t, err)
	assert.Contains(t, out, "Alice Doe")
	assert.Contains(t, out, "2 authors, 0 unmapped")
}

func TestAuthorsUnmappedExitsNonzero(t *testing.T) {
	repoDir := t.TempDir()
	seedStaging(t, repoDir)
	mapPath := writeAuthorMap(t, "alice:\n  name: Alice Doe\n  email: alice@example.com\n")

	out, err := execute(t, "authors", "--authors", mapPath, repoDir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "UNMAPPED")
}

func TestAuthorsRequiresMapFlag(t *testing.T) {
	repoDir := t.TempDir()
	seedStaging(t, repoDir)

	_, err := execute(t, "authors", repoDir)
	assert.Error(t, err)
}

func TestRunRequiresArguments(t *testing.T) {
	_, err := execute(t, "run")
	assert.Error(t, err)
}

func TestVersionText(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "ssmig dev")
}

func TestVersionJSON(t *testing.T) {
	out, err := execute(t, "--format", "json", "version")
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "dev", data["version"])
}
