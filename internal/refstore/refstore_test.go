package refstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anishathalye/git-remote-dropbox/internal/blobstore"
	"github.com/anishathalye/git-remote-dropbox/internal/errs"
)

const hashA = "0000000000" + "0000000000" + "0000000000" + "000000000a"
const hashB = "0000000000" + "0000000000" + "0000000000" + "000000000b"

func TestListRefs(t *testing.T) {
	ctx := context.Background()
	mem := newMemStore()
	s := New(mem, nil)

	_, err := mem.PutCreate(ctx, "refs/heads/main", []byte(hashA+"\n"))
	require.NoError(t, err)
	_, err = mem.PutCreate(ctx, "refs/heads/bad", []byte("not-a-hash\n"))
	require.NoError(t, err)

	refs, warnings, err := s.ListRefs(ctx)
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	require.Contains(t, refs, "refs/heads/main")
	assert.Equal(t, hashA, refs["refs/heads/main"].Hash)
	assert.NotContains(t, refs, "refs/heads/bad")
}

func TestSortedNames(t *testing.T) {
	refs := map[string]Ref{
		"refs/heads/z": {},
		"refs/heads/a": {},
		"refs/heads/m": {},
	}
	assert.Equal(t, []string{"refs/heads/a", "refs/heads/m", "refs/heads/z"}, SortedNames(refs))
}

func TestGetSymbolicAndBootstrap(t *testing.T) {
	ctx := context.Background()
	mem := newMemStore()
	s := New(mem, nil)

	t.Run("absent before bootstrap", func(t *testing.T) {
		_, _, found, err := s.GetSymbolic(ctx, "HEAD")
		require.NoError(t, err)
		assert.False(t, found)
	})

	require.NoError(t, s.BootstrapHead(ctx, "refs/heads/main"))

	t.Run("present after bootstrap", func(t *testing.T) {
		target, _, found, err := s.GetSymbolic(ctx, "HEAD")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "refs/heads/main", target)
	})

	t.Run("second bootstrap is a no-op", func(t *testing.T) {
		assert.NoError(t, s.BootstrapHead(ctx, "refs/heads/other"))
		target, _, _, err := s.GetSymbolic(ctx, "HEAD")
		require.NoError(t, err)
		assert.Equal(t, "refs/heads/main", target) // unchanged
	})
}

func TestUpdateRef(t *testing.T) {
	ctx := context.Background()

	t.Run("create new ref with Absent", func(t *testing.T) {
		mem := newMemStore()
		s := New(mem, nil)
		require.NoError(t, s.UpdateRef(ctx, "refs/heads/main", hashA, Absent()))
		data, _, err := mem.Get(ctx, "refs/heads/main")
		require.NoError(t, err)
		assert.Equal(t, hashA+"\n", string(data))
	})

	t.Run("Absent conflicts if ref already exists", func(t *testing.T) {
		mem := newMemStore()
		s := New(mem, nil)
		require.NoError(t, s.UpdateRef(ctx, "refs/heads/main", hashA, Absent()))
		err := s.UpdateRef(ctx, "refs/heads/main", hashB, Absent())
		kind, ok := errs.KindOf(err)
		require.True(t, ok)
		assert.Equal(t, errs.Conflict, kind)
	})

	t.Run("AtRev succeeds with correct rev then fails when stale", func(t *testing.T) {
		mem := newMemStore()
		s := New(mem, nil)
		require.NoError(t, s.UpdateRef(ctx, "refs/heads/main", hashA, Absent()))
		_, rev, err := mem.Get(ctx, "refs/heads/main")
		require.NoError(t, err)

		require.NoError(t, s.UpdateRef(ctx, "refs/heads/main", hashB, AtRev(rev)))

		err = s.UpdateRef(ctx, "refs/heads/main", hashA, AtRev(rev)) // stale rev now
		kind, ok := errs.KindOf(err)
		require.True(t, ok)
		assert.Equal(t, errs.Conflict, kind)
	})

	t.Run("Force skips ancestry but still CASes on the observed rev", func(t *testing.T) {
		mem := newMemStore()
		s := New(mem, nil)
		require.NoError(t, s.UpdateRef(ctx, "refs/heads/main", hashA, Absent()))
		_, rev, err := mem.Get(ctx, "refs/heads/main")
		require.NoError(t, err)

		require.NoError(t, s.UpdateRef(ctx, "refs/heads/main", hashB, Force(rev, true)))
		data, _, err := mem.Get(ctx, "refs/heads/main")
		require.NoError(t, err)
		assert.Equal(t, hashB+"\n", string(data))

		// a force carrying a now-stale rev is still a conflict: force skips
		// the fast-forward check, not the compare-and-swap.
		err = s.UpdateRef(ctx, "refs/heads/main", hashA, Force(rev, true))
		kind, ok := errs.KindOf(err)
		require.True(t, ok)
		assert.Equal(t, errs.Conflict, kind)
	})

	t.Run("Force against an absent ref creates it", func(t *testing.T) {
		mem := newMemStore()
		s := New(mem, nil)
		require.NoError(t, s.UpdateRef(ctx, "refs/heads/topic", hashA, Force("", false)))
		data, _, err := mem.Get(ctx, "refs/heads/topic")
		require.NoError(t, err)
		assert.Equal(t, hashA+"\n", string(data))
	})

	t.Run("AtRev against a nonexistent ref is a Conflict, not a bare error", func(t *testing.T) {
		mem := newMemStore()
		s := New(mem, nil)
		err := s.UpdateRef(ctx, "refs/heads/missing", hashA, AtRev("rev-1"))
		kind, ok := errs.KindOf(err)
		require.True(t, ok)
		assert.Equal(t, errs.Conflict, kind)
	})
}

func TestDeleteRef(t *testing.T) {
	ctx := context.Background()

	t.Run("deletes when rev matches", func(t *testing.T) {
		mem := newMemStore()
		s := New(mem, nil)
		require.NoError(t, s.UpdateRef(ctx, "refs/heads/topic", hashA, Absent()))
		_, rev, err := mem.Get(ctx, "refs/heads/topic")
		require.NoError(t, err)

		require.NoError(t, s.DeleteRef(ctx, "refs/heads/topic", rev))
		_, _, err = mem.Get(ctx, "refs/heads/topic")
		assert.ErrorIs(t, err, blobstore.ErrNotFound)
	})

	t.Run("refuses to delete the HEAD branch", func(t *testing.T) {
		mem := newMemStore()
		s := New(mem, nil)
		require.NoError(t, s.UpdateRef(ctx, "refs/heads/main", hashA, Absent()))
		require.NoError(t, s.BootstrapHead(ctx, "refs/heads/main"))

		_, rev, err := mem.Get(ctx, "refs/heads/main")
		require.NoError(t, err)
		err = s.DeleteRef(ctx, "refs/heads/main", rev)
		kind, ok := errs.KindOf(err)
		require.True(t, ok)
		assert.Equal(t, errs.HEADProtected, kind)
	})
}
