package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nextconvert/assembler/internal/shared/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLocalService(t *testing.T) (*Service, string) {
	t.Helper()
	base := t.TempDir()
	svc, err := NewService(config.StorageConfig{Backend: "local", BasePath: base})
	require.NoError(t, err)
	return svc, base
}

func TestLocalBackendCreatesZones(t *testing.T) {
	_, base := newLocalService(t)
	for _, zone := range Zones() {
		assert.DirExists(t, filepath.Join(base, string(zone)))
	}
}

func TestStoreGeneratesName(t *testing.T) {
	svc, base := newLocalService(t)
	ctx := context.Background()

	info, err := svc.Store(ctx, ZoneOutput, "final.mp4", strings.NewReader("video"))
	require.NoError(t, err)

	assert.Equal(t, "final.mp4", info.Name)
	assert.Equal(t, int64(5), info.Size)
	assert.Equal(t, filepath.Join(base, "output", info.ID+".mp4"), info.Path)
	assert.Equal(t, "output/"+info.ID+".mp4", info.Key)
	assert.Equal(t, "storage://output/"+info.ID+".mp4", info.Ref())
	assert.Equal(t, info.Path, svc.Locate(info.Key))
	assert.True(t, info.ExpiresAt.After(info.CreatedAt))
}

func TestStoreAsKeepsNestedName(t *testing.T) {
	svc, base := newLocalService(t)
	ctx := context.Background()

	info, err := svc.StoreAs(ctx, ZoneDebug, "run-1/segment_000.mp4", strings.NewReader("seg"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(base, "debug", "run-1", "segment_000.mp4"), info.Path)
	assert.Equal(t, "debug/run-1/segment_000.mp4", info.Key)
	assert.WithinDuration(t, info.CreatedAt.Add(72*time.Hour), info.ExpiresAt, time.Second)
}

func TestLocateAndDownload(t *testing.T) {
	svc, base := newLocalService(t)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(base, "upload", "scene.png"), []byte("png"), 0644))

	path := svc.Locate("/upload/scene.png")
	assert.Equal(t, filepath.Join(base, "upload", "scene.png"), path)

	dest := filepath.Join(t.TempDir(), "copy.png")
	n, err := svc.Download(ctx, path, dest)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))
}

func TestCleanKey(t *testing.T) {
	key, err := CleanKey("/upload/run1/voice.wav")
	require.NoError(t, err)
	assert.Equal(t, "upload/run1/voice.wav", key)

	for _, bad := range []string{"", "upload", "upload/../../etc/passwd", "upload/./a.mp3", "etc/passwd", "upload//a.mp3"} {
		_, err := CleanKey(bad)
		assert.ErrorIs(t, err, ErrInvalidKey, bad)
	}
}

func TestDownloadMissing(t *testing.T) {
	svc, base := newLocalService(t)
	dest := filepath.Join(t.TempDir(), "x")

	_, err := svc.Download(context.Background(), filepath.Join(base, "upload", "missing.png"), dest)
	assert.ErrorIs(t, err, os.ErrNotExist)
	assert.NoFileExists(t, dest)
}

func TestStoreFileAndRetrieve(t *testing.T) {
	svc, _ := newLocalService(t)
	ctx := context.Background()

	src := filepath.Join(t.TempDir(), "out.mp4")
	require.NoError(t, os.WriteFile(src, []byte("final"), 0644))

	info, err := svc.StoreFile(ctx, ZoneOutput, "run-9.mp4", src)
	require.NoError(t, err)

	rc, err := svc.Retrieve(ctx, info.Path)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "final", string(data))
}

func TestS3BackendRequiresBucket(t *testing.T) {
	_, err := NewS3Backend(config.StorageConfig{Backend: "s3"})
	assert.Error(t, err)
}
