package gitproc

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// initRepo creates a git repository in a temp dir with one commit on
// main, and returns a Git wrapper bound to it plus the commit hash.
func initRepo(t *testing.T) (*Git, string) {
	t.Helper()
	dir := t.TempDir()
	run := func(argv ...string) {
		t.Helper()
		cmd := exec.Command("git", argv...)
		cmd.Dir = dir
		var out bytes.Buffer
		cmd.Stdout = &out
		cmd.Stderr = &out
		if err := cmd.Run(); err != nil {
			t.Fatalf("git %s: %v: %s", strings.Join(argv, " "), err, out.String())
		}
	}
	run("init", "-q", "-b", "main")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello\n"), 0o644))
	run("add", "a.txt")
	run("commit", "-q", "-m", "initial")

	g := New(filepath.Join(dir, ".git"))
	hash, err := g.ResolveRef(context.Background(), "HEAD")
	require.NoError(t, err)
	return g, hash
}

func TestResolveRef(t *testing.T) {
	g, hash := initRepo(t)
	ctx := context.Background()

	resolved, err := g.ResolveRef(ctx, "main")
	require.NoError(t, err)
	assert.Equal(t, hash, resolved)

	_, err = g.ResolveRef(ctx, "refs/heads/does-not-exist")
	assert.Error(t, err)
}

func TestHaveObjectAndCatObject(t *testing.T) {
	g, hash := initRepo(t)
	ctx := context.Background()

	assert.True(t, g.HaveObject(ctx, hash))
	assert.False(t, g.HaveObject(ctx, "0000000000000000000000000000000000000a"))

	loose, err := g.CatObject(ctx, hash)
	require.NoError(t, err)
	assert.NotEmpty(t, loose)
}

func TestWriteObjectRoundTrip(t *testing.T) {
	g, _ := initRepo(t)
	ctx := context.Background()

	hash, err := g.WriteObject(ctx, "blob", []byte("new content\n"))
	require.NoError(t, err)
	assert.True(t, g.HaveObject(ctx, hash))

	objType, err := g.ObjectType(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, "blob", objType)
}

func TestSymbolicRef(t *testing.T) {
	g, _ := initRepo(t)
	target, err := g.SymbolicRef(context.Background(), "HEAD")
	require.NoError(t, err)
	assert.Equal(t, "refs/heads/main", target)
}

func TestIsAncestor(t *testing.T) {
	g, first := initRepo(t)
	ctx := context.Background()

	dir := filepath.Dir(g.GitDir)
	run := func(argv ...string) {
		cmd := exec.Command("git", argv...)
		cmd.Dir = dir
		require.NoError(t, cmd.Run())
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("more\n"), 0o644))
	run("add", "b.txt")
	run("commit", "-q", "-m", "second")

	second, err := g.ResolveRef(ctx, "main")
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	ok, err := g.IsAncestor(ctx, first, second)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = g.IsAncestor(ctx, second, first)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCommitTree(t *testing.T) {
	g, first := initRepo(t)
	ctx := context.Background()

	tree, parents, err := g.CommitTree(ctx, first)
	require.NoError(t, err)
	assert.NotEmpty(t, tree)
	assert.Empty(t, parents)
}

func TestTreeEntries(t *testing.T) {
	g, first := initRepo(t)
	ctx := context.Background()

	tree, _, err := g.CommitTree(ctx, first)
	require.NoError(t, err)

	entries, err := g.TreeEntries(ctx, tree)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "blob", entries[0].Type)
}

func TestRevListMissing(t *testing.T) {
	g, hash := initRepo(t)
	ctx := context.Background()

	missing, err := g.RevListMissing(ctx, []string{hash}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, missing)

	none, err := g.RevListMissing(ctx, []string{hash}, []string{hash})
	require.NoError(t, err)
	assert.Empty(t, none)
}
