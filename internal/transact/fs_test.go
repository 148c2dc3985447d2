package transact

import (
	"os"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactFs_ReadPrefersStaged(t *testing.T) {
	actual := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(actual, "/cfg/laf.xml", []byte("actual"), 0644))

	tfs := New(WithActualFs(actual))
	got, err := tfs.ReadFile("/cfg/laf.xml")
	require.NoError(t, err)
	assert.Equal(t, "actual", string(got))

	require.NoError(t, tfs.WriteFile("/cfg/laf.xml", []byte("staged"), 0644))
	got, err = tfs.ReadFile("/cfg/laf.xml")
	require.NoError(t, err)
	assert.Equal(t, "staged", string(got))

	// actual untouched until commit
	content, _ := afero.ReadFile(actual, "/cfg/laf.xml")
	assert.Equal(t, "actual", string(content))
}

func TestTransactFs_Diff(t *testing.T) {
	actual := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(actual, "/cfg/keep.xml", []byte("same"), 0644))
	require.NoError(t, afero.WriteFile(actual, "/cfg/edit.xml", []byte("old"), 0644))
	require.NoError(t, afero.WriteFile(actual, "/cfg/gone.xml", []byte("x"), 0644))
	require.NoError(t, afero.WriteFile(actual, "/cfg/mode.xml", []byte("m"), 0644))

	tfs := New(WithActualFs(actual))
	require.NoError(t, tfs.WriteFile("/cfg/keep.xml", []byte("same"), 0644))
	require.NoError(t, tfs.WriteFile("/cfg/edit.xml", []byte("new"), 0644))
	require.NoError(t, tfs.WriteFile("/cfg/new.xml", []byte("n"), 0600))
	require.NoError(t, tfs.WriteFile("/cfg/mode.xml", []byte("m"), 0600))
	require.NoError(t, tfs.Remove("/cfg/gone.xml"))

	ops, err := tfs.Diff()
	require.NoError(t, err)

	got := make(map[string]OpType)
	for _, op := range ops {
		got[op.Path] = op.Op
	}
	assert.Equal(t, map[string]OpType{
		"/cfg/gone.xml": OpDelete,
		"/cfg/edit.xml": OpUpdate,
		"/cfg/new.xml":  OpCreate,
		"/cfg/mode.xml": OpChmod,
	}, got)
	assert.Equal(t, OpDelete, ops[0].Op, "deletions come first")
	assert.True(t, tfs.NeedsCommit())
}

func TestTransactFs_RemoveMissing(t *testing.T) {
	tfs := New(WithActualFs(afero.NewMemMapFs()))
	err := tfs.Remove("/nope")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestTransactFs_WriteAfterRemove_Resurrects(t *testing.T) {
	actual := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(actual, "/a", []byte("old"), 0644))

	tfs := New(WithActualFs(actual))
	require.NoError(t, tfs.Remove("/a"))
	_, err := tfs.ReadFile("/a")
	assert.Error(t, err)

	require.NoError(t, tfs.WriteFile("/a", []byte("back"), 0644))
	ops, err := tfs.Diff()
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, OpUpdate, ops[0].Op)
}

func TestTransactFs_Commit(t *testing.T) {
	actual := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(actual, "/cfg/gone.xml", []byte("x"), 0644))

	tfs := New(WithActualFs(actual))
	require.NoError(t, tfs.WriteFile("/cfg/options/laf.xml", []byte("LaF"), 0644))
	require.NoError(t, tfs.Remove("/cfg/gone.xml"))

	res, err := tfs.Commit(Apply)
	require.NoError(t, err)
	assert.Len(t, res.Ops, 2)

	content, err := afero.ReadFile(actual, "/cfg/options/laf.xml")
	require.NoError(t, err)
	assert.Equal(t, "LaF", string(content))
	exists, _ := afero.Exists(actual, "/cfg/gone.xml")
	assert.False(t, exists)
	assert.False(t, tfs.NeedsCommit())
}

func TestTransactFs_CommitFailurePreservesStaged(t *testing.T) {
	actual := afero.NewMemMapFs()
	tfs := New(WithActualFs(actual))
	require.NoError(t, tfs.WriteFile("/a", []byte("a"), 0644))

	_, err := tfs.Commit(func(CommitContext) error { return os.ErrPermission })
	require.Error(t, err)
	assert.True(t, tfs.NeedsCommit())

	_, err = tfs.Commit(Apply)
	require.NoError(t, err)
	content, _ := afero.ReadFile(actual, "/a")
	assert.Equal(t, "a", string(content))
}

func TestParentDir(t *testing.T) {
	tests := map[string]string{
		"/a/b/c": "/a/b",
		"/a":     "/",
		"a":      ".",
	}
	for in, want := range tests {
		if got := parentDir(in); got != want {
			t.Errorf("parentDir(%q) = %q, want %q", in, got, want)
		}
	}
}
