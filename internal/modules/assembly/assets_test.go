package assembly

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nextconvert/assembler/internal/shared/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newResolver(t *testing.T, cfg AssetConfig) *AssetResolver {
	t.Helper()
	return NewAssetResolver(cfg, zap.NewNop())
}

func TestMaterializeDataURI(t *testing.T) {
	dir := t.TempDir()
	r := newResolver(t, AssetConfig{})

	payload := base64.StdEncoding.EncodeToString([]byte("png-bytes"))
	path, err := r.Materialize(context.Background(), "data:image/png;base64,"+payload, filepath.Join(dir, "scene_000_image"))
	require.NoError(t, err)
	assert.Equal(t, ".png", filepath.Ext(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))
}

func TestMaterializeURLEncodedDataURI(t *testing.T) {
	dir := t.TempDir()
	r := newResolver(t, AssetConfig{})

	path, err := r.Materialize(context.Background(), "data:text/plain,hello%20world", filepath.Join(dir, "note"))
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(data))
}

func TestMaterializeRejectsBlob(t *testing.T) {
	r := newResolver(t, AssetConfig{})
	_, err := r.Materialize(context.Background(), "blob:https://app.example.com/1b2c", filepath.Join(t.TempDir(), "x"))
	assert.ErrorIs(t, err, ErrUnsupportedReference)
}

func TestMaterializeRejectsUnknownScheme(t *testing.T) {
	r := newResolver(t, AssetConfig{})
	_, err := r.Materialize(context.Background(), "ftp://example.com/a.png", filepath.Join(t.TempDir(), "x"))
	assert.ErrorIs(t, err, ErrUnsupportedReference)
}

func TestMaterializeHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/image.jpg":
			w.Write([]byte("jpeg"))
		case "/voice":
			w.Header().Set("Content-Type", "audio/mpeg")
			w.Write([]byte("mp3"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	r := newResolver(t, AssetConfig{Timeout: 5 * time.Second})

	path, err := r.Materialize(context.Background(), srv.URL+"/image.jpg", filepath.Join(dir, "img"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "img.jpg"), path)

	path, err = r.Materialize(context.Background(), srv.URL+"/voice", filepath.Join(dir, "voice"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "voice.mp3"), path)

	_, err = r.Materialize(context.Background(), srv.URL+"/missing.png", filepath.Join(dir, "missing"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.NoFileExists(t, filepath.Join(dir, "missing.png"))
}

func TestMaterializeLocalFallsBackToAssetRoot(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "images"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "images", "a.png"), []byte("a"), 0644))

	dest := t.TempDir()
	r := newResolver(t, AssetConfig{AssetRoot: root})

	path, err := r.Materialize(context.Background(), "/images/a.png", filepath.Join(dest, "scene_000_image"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, "scene_000_image.png"), path)

	path, err = r.Materialize(context.Background(), "file://"+filepath.Join(root, "images", "a.png"), filepath.Join(dest, "again"))
	require.NoError(t, err)
	assert.FileExists(t, path)

	_, err = r.Materialize(context.Background(), "images/none.png", filepath.Join(dest, "none"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestMaterializeLocalStaysInsideAssetRoot(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	secret := filepath.Join(outside, "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("secret"), 0644))
	require.NoError(t, os.Symlink(secret, filepath.Join(root, "link.png")))

	dest := t.TempDir()
	r := newResolver(t, AssetConfig{AssetRoot: root})

	rel, err := filepath.Rel(root, secret)
	require.NoError(t, err)

	for _, ref := range []string{
		rel,
		"../" + filepath.Base(outside) + "/secret.txt",
		"images/../../" + filepath.Base(outside) + "/secret.txt",
		"link.png",
	} {
		_, err := r.Materialize(context.Background(), ref, filepath.Join(dest, "x"))
		assert.ErrorIs(t, err, ErrOutsideAssetRoot, ref)
	}

	// Absolute paths outside the root are read as root-anchored.
	_, err = r.Materialize(context.Background(), secret, filepath.Join(dest, "abs"))
	assert.ErrorIs(t, err, os.ErrNotExist)
	_, err = r.Materialize(context.Background(), "file://"+secret, filepath.Join(dest, "file"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	entries, err := os.ReadDir(dest)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMaterializeLocalWithoutRootReadsAnyPath(t *testing.T) {
	src := filepath.Join(t.TempDir(), "a.png")
	require.NoError(t, os.WriteFile(src, []byte("a"), 0644))

	r := newResolver(t, AssetConfig{})
	path, err := r.Materialize(context.Background(), src, filepath.Join(t.TempDir(), "img"))
	require.NoError(t, err)
	assert.FileExists(t, path)
}

func TestMaterializeStorageReference(t *testing.T) {
	base := t.TempDir()
	backend, err := storage.NewLocalBackend(base)
	require.NoError(t, err)
	svc := storage.NewServiceWithBackend(backend, base)

	_, err = svc.StoreAs(context.Background(), storage.ZoneUpload, "run1/voice.wav", strings.NewReader("wav"))
	require.NoError(t, err)

	dest := t.TempDir()
	r := newResolver(t, AssetConfig{Storage: svc})
	path, err := r.Materialize(context.Background(), "storage://upload/run1/voice.wav", filepath.Join(dest, "audio"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, "audio.wav"), path)

	_, err = r.Materialize(context.Background(), "storage://upload/../../etc/passwd", filepath.Join(dest, "escape"))
	assert.ErrorIs(t, err, ErrUnsupportedReference)

	noStorage := newResolver(t, AssetConfig{})
	_, err = noStorage.Materialize(context.Background(), "storage://upload/run1/voice.wav", filepath.Join(dest, "x"))
	assert.ErrorIs(t, err, ErrUnsupportedReference)
}

func TestMoveFile(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "a.mp4")
	require.NoError(t, os.WriteFile(src, []byte("video"), 0644))

	dst := filepath.Join(dir, "out", "final.mp4")
	require.NoError(t, moveFile(src, dst))
	assert.NoFileExists(t, src)
	assert.FileExists(t, dst)
}
