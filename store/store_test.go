package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/chamfer/internal/fs"
)

// stores builds one instance of every Store implementation in this package.
func stores(t *testing.T) map[string]Store {
	t.Helper()

	local, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	return map[string]Store{
		"local":  local,
		"memory": NewMemory(),
	}
}

func TestStoreRoundTrip(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			payload := []byte("six-wide point rows")

			require.NoError(t, WriteAll(ctx, s, "pairs/a.chmf", payload))

			blob, err := s.Open(ctx, "pairs/a.chmf")
			require.NoError(t, err)
			defer blob.Close()

			assert.Equal(t, int64(len(payload)), blob.Size())

			got, _, err := ReadAll(ctx, blob)
			require.NoError(t, err)
			assert.Equal(t, payload, got)

			// Offset reads see the same bytes.
			part := make([]byte, 4)
			_, err = blob.ReadAt(ctx, part, 9)
			require.NoError(t, err)
			assert.Equal(t, []byte("poin"), part)
		})
	}
}

func TestStoreOpenMissing(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Open(context.Background(), "absent")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStoreDelete(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, WriteAll(ctx, s, "gone", []byte("x")))

			require.NoError(t, s.Delete(ctx, "gone"))

			_, err := s.Open(ctx, "gone")
			assert.ErrorIs(t, err, ErrNotFound)

			assert.ErrorIs(t, s.Delete(ctx, "gone"), ErrNotFound)
		})
	}
}

func TestStoreList(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, WriteAll(ctx, s, "sets/b", []byte("2")))
			require.NoError(t, WriteAll(ctx, s, "sets/a", []byte("1")))
			require.NoError(t, WriteAll(ctx, s, "other", []byte("3")))

			names, err := s.List(ctx, "sets/")
			require.NoError(t, err)
			assert.Equal(t, []string{"sets/a", "sets/b"}, names)

			all, err := s.List(ctx, "")
			require.NoError(t, err)
			assert.Equal(t, []string{"other", "sets/a", "sets/b"}, all)
		})
	}
}

func TestStoreUnclosedBlobInvisible(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			w, err := s.Create(ctx, "pending")
			require.NoError(t, err)
			_, err = w.Write([]byte("partial"))
			require.NoError(t, err)

			// Not closed: nothing to see.
			_, err = s.Open(ctx, "pending")
			assert.ErrorIs(t, err, ErrNotFound)

			names, err := s.List(ctx, "")
			require.NoError(t, err)
			assert.Empty(t, names)

			require.NoError(t, w.Close())

			_, err = s.Open(ctx, "pending")
			assert.NoError(t, err)
		})
	}
}

func TestStoreOverwrite(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, WriteAll(ctx, s, "v", []byte("old")))
			require.NoError(t, WriteAll(ctx, s, "v", []byte("new")))

			blob, err := s.Open(ctx, "v")
			require.NoError(t, err)
			defer blob.Close()

			got, _, err := ReadAll(ctx, blob)
			require.NoError(t, err)
			assert.Equal(t, []byte("new"), got)
		})
	}
}

func TestLocalZeroCopyRead(t *testing.T) {
	ctx := context.Background()

	s, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, WriteAll(ctx, s, "zc", []byte("mapped")))

	blob, err := s.Open(ctx, "zc")
	require.NoError(t, err)
	defer blob.Close()

	got, aliased, err := ReadAll(ctx, blob)
	require.NoError(t, err)
	assert.True(t, aliased, "local blobs read through the mapping")
	assert.Equal(t, []byte("mapped"), got)
}

func TestLocalWriteFaultDoesNotPublish(t *testing.T) {
	t.Run("write failure", func(t *testing.T) {
		ctx := context.Background()

		faulty := fs.NewFaultyFS(nil)
		faulty.AddRule("broken", fs.Fault{FailAfterBytes: 4, FailOnSync: false})

		s, err := NewLocalFS(t.TempDir(), faulty)
		require.NoError(t, err)

		w, err := s.Create(ctx, "broken")
		require.NoError(t, err)

		_, err = w.Write([]byte("exceeds the limit"))
		require.ErrorIs(t, err, fs.ErrInjected)

		// Close after a failed write cleans up instead of publishing.
		assert.ErrorIs(t, w.Close(), fs.ErrInjected)

		_, err = s.Open(ctx, "broken")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("sync failure", func(t *testing.T) {
		ctx := context.Background()

		faulty := fs.NewFaultyFS(nil)
		faulty.AddRule("nosync", fs.Fault{FailAfterBytes: -1, FailOnSync: true})

		s, err := NewLocalFS(t.TempDir(), faulty)
		require.NoError(t, err)

		w, err := s.Create(ctx, "nosync")
		require.NoError(t, err)

		_, err = w.Write([]byte("fits"))
		require.NoError(t, err)

		assert.ErrorIs(t, w.Close(), fs.ErrInjected)

		_, err = s.Open(ctx, "nosync")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestWriteAllAbortsOnError(t *testing.T) {
	ctx := context.Background()

	faulty := fs.NewFaultyFS(nil)
	faulty.AddRule("doomed", fs.Fault{FailAfterBytes: 0})

	s, err := NewLocalFS(t.TempDir(), faulty)
	require.NoError(t, err)

	err = WriteAll(ctx, s, "doomed", []byte("anything"))
	require.ErrorIs(t, err, fs.ErrInjected)

	names, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, names)
}
