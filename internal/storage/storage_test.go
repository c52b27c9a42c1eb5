package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkObjectPath(t *testing.T) {
	tests := []struct {
		name  string
		index int
		ext   string
		want  string
	}{
		{name: "first chunk mp4", index: 0, ext: "mp4", want: "users/u1/recordings/s1/chunks/chunk_0.mp4"},
		{name: "later chunk webm", index: 12, ext: "webm", want: "users/u1/recordings/s1/chunks/chunk_12.webm"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ChunkObjectPath("u1", "s1", tt.index, tt.ext))
		})
	}
}

func TestFinalObjectPath(t *testing.T) {
	assert.Equal(t, "users/u1/recordings/s1/final/recording.mp4", FinalObjectPath("u1", "s1", "mp4"))
}

func TestChunksFolderIsPrefixOfChunkPaths(t *testing.T) {
	folder := ChunksFolder("u1", "s1")
	for i := 0; i < 5; i++ {
		key := ChunkObjectPath("u1", "s1", i, "mp4")
		assert.True(t, len(key) > len(folder) && key[:len(folder)] == folder,
			"chunk key %q must live under folder %q", key, folder)
	}
}

func TestMemoryStorageUploadAndDownload(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()

	key := ChunkObjectPath("u1", "s1", 0, "mp4")
	payload := []byte("chunk bytes")
	meta := map[string]string{"sessionId": "s1", "chunkIndex": "0"}

	require.NoError(t, store.Upload(ctx, key, bytes.NewReader(payload), "audio/mp4", int64(len(payload)), meta))

	rc, err := store.Download(ctx, key)
	require.NoError(t, err)
	defer rc.Close()
	got, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	stored, ok := store.GetMetadata(key)
	require.True(t, ok)
	assert.Equal(t, "s1", stored["sessionId"])
	assert.Equal(t, "0", stored["chunkIndex"])

	ct, ok := store.GetContentType(key)
	require.True(t, ok)
	assert.Equal(t, "audio/mp4", ct)
}

func TestMemoryStorageRejectsEmptyKey(t *testing.T) {
	store := NewMemoryStorage()
	err := store.Upload(context.Background(), "", bytes.NewReader(nil), "audio/mp4", 0, nil)
	assert.True(t, errors.Is(err, ErrInvalidKey))
}

func TestMemoryStorageDownloadMissing(t *testing.T) {
	store := NewMemoryStorage()
	_, err := store.Download(context.Background(), "users/u1/recordings/s1/chunks/chunk_0.mp4")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestMemoryStorageExistsAndDelete(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()
	key := ChunkObjectPath("u1", "s1", 3, "webm")

	exists, err := store.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, store.Upload(ctx, key, bytes.NewReader([]byte("x")), "video/webm", 1, nil))
	exists, err = store.Exists(ctx, key)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, store.Delete(ctx, key))
	exists, err = store.Exists(ctx, key)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemoryStorageRespectsContextCancellation(t *testing.T) {
	store := NewMemoryStorage()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := store.Upload(ctx, "k", bytes.NewReader(nil), "", 0, nil)
	assert.Error(t, err)
	_, err = store.Download(ctx, "k")
	assert.Error(t, err)
}

// A full recording's chunk set written concurrently must land with every
// index present exactly once under the session's chunks folder.
func TestMemoryStorageConcurrentChunkSet(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()
	const n = 20

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := ChunkObjectPath("u1", "s1", i, "mp4")
			body := []byte(fmt.Sprintf("chunk-%d", i))
			meta := map[string]string{"chunkIndex": strconv.Itoa(i)}
			_ = store.Upload(ctx, key, bytes.NewReader(body), "audio/mp4", int64(len(body)), meta)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, n, store.Count())
	assert.Len(t, store.Keys(ChunksFolder("u1", "s1")), n)
	for i := 0; i < n; i++ {
		data, ok := store.GetData(ChunkObjectPath("u1", "s1", i, "mp4"))
		require.True(t, ok, "chunk %d missing", i)
		assert.Equal(t, fmt.Sprintf("chunk-%d", i), string(data))
	}
}

func TestMemoryStoragePresignedURL(t *testing.T) {
	store := NewMemoryStorage()
	ctx := context.Background()
	key := ChunkObjectPath("u1", "s1", 0, "mp4")

	_, err := store.GetPresignedURL(ctx, key, 60)
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, store.Upload(ctx, key, bytes.NewReader([]byte("x")), "audio/mp4", 1, nil))
	url, err := store.GetPresignedURL(ctx, key, 60)
	require.NoError(t, err)
	assert.Contains(t, url, key)
}
