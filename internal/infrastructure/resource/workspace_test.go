package resource

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Nyukimin/portalclaw/internal/domain/execution"
)

func newTestWorkspace(t *testing.T) *Workspace {
	t.Helper()
	ws, err := NewWorkspace(t.TempDir(), "/workspace")
	require.NoError(t, err)
	return ws
}

func TestWorkspace_Resolve(t *testing.T) {
	ws := newTestWorkspace(t)

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr error
	}{
		{"relative", "docs/a.md", "docs/a.md", nil},
		{"logical prefix", "/workspace/docs/a.md", "docs/a.md", nil},
		{"logical root", "/workspace", ".", nil},
		{"absolute inside", filepath.Join(ws.Base(), "x.txt"), "x.txt", nil},
		{"dot dot escape", "../../etc/passwd", "", execution.ErrOutsideWorkspace},
		{"nested escape", "docs/../../secret", "", execution.ErrOutsideWorkspace},
		{"absolute outside", "/etc/passwd", "", execution.ErrOutsideWorkspace},
		{"empty", "  ", "", execution.ErrInvalidArguments},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ws.Resolve(tt.input)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, ws.Display(got))
		})
	}
}

func TestWorkspace_SymlinkEscapeIsContained(t *testing.T) {
	ws := newTestWorkspace(t)
	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("secret"), 0o644))
	require.NoError(t, os.Symlink(outside, filepath.Join(ws.Base(), "link")))

	resolved, err := ws.Resolve("link/secret.txt")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(resolved, ws.Base()), "resolved path %s escaped the workspace", resolved)

	_, err = ws.Read("link/secret.txt")
	assert.ErrorIs(t, err, execution.ErrNotFound)
}

func TestWorkspace_WriteModes(t *testing.T) {
	ws := newTestWorkspace(t)

	res, err := ws.Write("notes/today.md", "hello", WriteCreate)
	require.NoError(t, err)
	assert.Equal(t, WriteResult{Bytes: 5}, res)

	_, err = ws.Write("notes/today.md", " world", WriteAppend)
	require.NoError(t, err)

	content, err := ws.Read("notes/today.md")
	require.NoError(t, err)
	assert.Equal(t, "hello world", content)

	_, err = ws.Write("notes/today.md", "replaced", WriteOverwrite)
	require.NoError(t, err)
	content, _ = ws.Read("/workspace/notes/today.md")
	assert.Equal(t, "replaced", content)

	_, err = ws.Write("notes/missing.md", "x", WriteOverwrite)
	assert.ErrorIs(t, err, execution.ErrNotFound)

	_, err = ws.Write("new/dir/log.txt", "line\n", WriteAppend)
	require.NoError(t, err)

	_, err = ws.Write("new/dir/log.txt", "fresh", WriteReplace)
	require.NoError(t, err)
	content, _ = ws.Read("new/dir/log.txt")
	assert.Equal(t, "fresh", content)
}

func TestWorkspace_CreateOverExistingFile(t *testing.T) {
	ws := newTestWorkspace(t)
	_, err := ws.Write("crm/leads.csv", "old", WriteCreate)
	require.NoError(t, err)

	res, err := ws.Write("crm/leads.csv", "name,stage\n", WriteCreate)
	require.NoError(t, err)
	assert.Equal(t, WriteResult{Bytes: 11, Replaced: true}, res)
	content, _ := ws.Read("crm/leads.csv")
	assert.Equal(t, "name,stage\n", content)

	_, err = ws.Write("crm/leads.csv", "", WriteCreate)
	assert.ErrorIs(t, err, execution.ErrWriteFailed, "an empty placeholder must not clobber a file")
	content, _ = ws.Read("crm/leads.csv")
	assert.Equal(t, "name,stage\n", content)

	_, err = ws.Write("crm", "x", WriteCreate)
	assert.ErrorIs(t, err, execution.ErrWriteFailed)
}

func TestWorkspace_ReadAndList(t *testing.T) {
	ws := newTestWorkspace(t)
	_, err := ws.Write("b.txt", "b", WriteCreate)
	require.NoError(t, err)
	_, err = ws.Write("sub/a.txt", "a", WriteCreate)
	require.NoError(t, err)

	entries, err := ws.List("")
	require.NoError(t, err)
	assert.Equal(t, []string{"b.txt", "sub/"}, entries)

	_, err = ws.Read("nope.txt")
	assert.ErrorIs(t, err, execution.ErrNotFound)

	_, err = ws.Read("sub")
	assert.ErrorIs(t, err, execution.ErrInvalidArguments)

	_, err = ws.List("missing")
	assert.ErrorIs(t, err, execution.ErrNotFound)
}

func TestWorkspace_ReadTruncates(t *testing.T) {
	ws := newTestWorkspace(t)
	ws.maxReadBytes = 4
	_, err := ws.Write("big.txt", "0123456789", WriteCreate)
	require.NoError(t, err)

	content, err := ws.Read("big.txt")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(content, "0123\n... (truncated"), content)
}

func TestWorkspace_Search(t *testing.T) {
	ws := newTestWorkspace(t)
	_, _ = ws.Write("crm/leads.csv", "name,stage\nAcme,Qualified\nGlobex,lost\n", WriteCreate)
	_, _ = ws.Write("crm/notes.txt", "call ACME tomorrow\n", WriteCreate)
	_, _ = ws.Write(".git/config", "acme\n", WriteCreate)

	hits, truncated, err := ws.Search("acme", "")
	require.NoError(t, err)
	assert.False(t, truncated)
	require.Len(t, hits, 2)
	assert.Equal(t, SearchHit{Path: "crm/leads.csv", Line: 2, Text: "Acme,Qualified"}, hits[0])
	assert.Equal(t, "crm/notes.txt", hits[1].Path)

	ws.maxHits = 1
	hits, truncated, err = ws.Search("acme", "crm")
	require.NoError(t, err)
	assert.True(t, truncated)
	assert.Len(t, hits, 1)

	_, _, err = ws.Search("", "")
	assert.ErrorIs(t, err, execution.ErrInvalidArguments)
}

func TestWorkspace_Delete(t *testing.T) {
	ws := newTestWorkspace(t)
	_, _ = ws.Write("tmp.txt", "x", WriteCreate)

	require.NoError(t, ws.Delete("tmp.txt"))
	err := ws.Delete("tmp.txt")
	assert.True(t, errors.Is(err, execution.ErrNotFound))

	require.NoError(t, os.Mkdir(filepath.Join(ws.Base(), "dir"), 0o755))
	assert.ErrorIs(t, ws.Delete("dir"), execution.ErrInvalidArguments)
	assert.ErrorIs(t, ws.Delete("../outside.txt"), execution.ErrOutsideWorkspace)
}
