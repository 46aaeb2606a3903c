package assembly

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/nextconvert/assembler/internal/shared/storage"
	"go.uber.org/zap"
)

// StorageScheme prefixes references to objects in the storage service.
const StorageScheme = storage.Scheme

// AssetResolver materializes scene asset references into local files.
type AssetResolver struct {
	client    *http.Client
	storage   *storage.Service
	assetRoot string
	timeout   time.Duration
	logger    *zap.Logger
}

// AssetConfig configures an AssetResolver.
type AssetConfig struct {
	// AssetRoot confines local paths: "/images/a.png" and "images/a.png"
	// both name a file under it. Empty allows any readable path.
	AssetRoot string
	// Timeout bounds each remote download.
	Timeout time.Duration
	// Storage resolves storage:// references; nil disables them.
	Storage *storage.Service
	Client  *http.Client
}

// NewAssetResolver creates a resolver.
func NewAssetResolver(cfg AssetConfig, logger *zap.Logger) *AssetResolver {
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.AssetRoot != "" {
		if abs, err := filepath.Abs(cfg.AssetRoot); err == nil {
			cfg.AssetRoot = abs
		}
	}
	return &AssetResolver{
		client:    cfg.Client,
		storage:   cfg.Storage,
		assetRoot: cfg.AssetRoot,
		timeout:   cfg.Timeout,
		logger:    logger,
	}
}

// Materialize copies the asset behind ref to destBase plus an inferred
// extension and returns the local path.
func (r *AssetResolver) Materialize(ctx context.Context, ref, destBase string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", fmt.Errorf("%w: empty reference", ErrUnsupportedReference)
	}
	if err := os.MkdirAll(filepath.Dir(destBase), 0755); err != nil {
		return "", fmt.Errorf("failed to create asset directory: %w", err)
	}

	lower := strings.ToLower(ref)
	switch {
	case strings.HasPrefix(lower, "blob:"):
		return "", fmt.Errorf("%w: browser-local blob references cannot be resolved on the server", ErrUnsupportedReference)
	case strings.HasPrefix(lower, "data:"):
		return r.fromDataURI(ref, destBase)
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		dest := destBase + extFromURL(ref)
		ext, err := download(ctx, r.client, ref, dest, r.timeout)
		if err != nil {
			return "", err
		}
		if ext != "" && filepath.Ext(dest) == "" {
			renamed := destBase + ext
			if err := os.Rename(dest, renamed); err == nil {
				dest = renamed
			}
		}
		return dest, nil
	case strings.HasPrefix(lower, StorageScheme):
		return r.fromStorage(ctx, ref[len(StorageScheme):], destBase)
	case strings.HasPrefix(lower, "file://"):
		u, err := url.Parse(ref)
		if err != nil {
			return "", fmt.Errorf("invalid file reference: %w", err)
		}
		return r.fromLocal(u.Path, destBase)
	case strings.Contains(ref, "://"):
		return "", fmt.Errorf("%w: scheme of %q", ErrUnsupportedReference, shortRef(ref))
	default:
		return r.fromLocal(ref, destBase)
	}
}

func (r *AssetResolver) fromDataURI(ref, destBase string) (string, error) {
	header, payload, ok := strings.Cut(ref[len("data:"):], ",")
	if !ok {
		return "", fmt.Errorf("malformed data URI: missing payload")
	}

	mediaType := header
	isBase64 := false
	if strings.HasSuffix(header, ";base64") {
		mediaType = strings.TrimSuffix(header, ";base64")
		isBase64 = true
	}

	var data []byte
	var err error
	if isBase64 {
		data, err = base64.StdEncoding.DecodeString(payload)
		if err != nil {
			data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		}
	} else {
		var s string
		s, err = url.PathUnescape(payload)
		data = []byte(s)
	}
	if err != nil {
		return "", fmt.Errorf("malformed data URI payload: %w", err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("data URI is empty")
	}

	dest := destBase + extFromMediaType(mediaType)
	if err := os.WriteFile(dest, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write inline asset: %w", err)
	}
	return dest, nil
}

func (r *AssetResolver) fromStorage(ctx context.Context, key, destBase string) (string, error) {
	if r.storage == nil {
		return "", fmt.Errorf("%w: storage references are not configured", ErrUnsupportedReference)
	}
	key, err := storage.CleanKey(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsupportedReference, err)
	}
	dest := destBase + path.Ext(key)
	if _, err := r.storage.Download(ctx, r.storage.Locate(key), dest); err != nil {
		return "", err
	}
	return dest, nil
}

func (r *AssetResolver) fromLocal(p, destBase string) (string, error) {
	src, err := r.openLocal(p)
	if err != nil {
		return "", err
	}
	defer src.Close()

	dest := destBase + filepath.Ext(p)
	if err := copyReader(src, dest); err != nil {
		return "", fmt.Errorf("failed to copy %s: %w", p, err)
	}
	return dest, nil
}

// openLocal opens p, confined to the asset root when one is configured.
func (r *AssetResolver) openLocal(p string) (*os.File, error) {
	if r.assetRoot == "" {
		f, err := os.Open(p)
		return openRegular(p, f, err)
	}

	rel, err := r.relativeToRoot(p)
	if err != nil {
		return nil, err
	}
	root, err := os.OpenRoot(r.assetRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to open asset root: %w", err)
	}
	defer root.Close()

	// os.Root refuses symlinks and ".." that leave the root.
	f, err := root.Open(rel)
	if err != nil && !errors.Is(err, os.ErrNotExist) && !errors.Is(err, os.ErrPermission) {
		return nil, fmt.Errorf("%w: %s: %v", ErrOutsideAssetRoot, p, err)
	}
	return openRegular(p, f, err)
}

// relativeToRoot maps p to a path local to the asset root. Absolute paths
// already inside the root are accepted as-is; other absolute paths are
// treated as root-anchored.
func (r *AssetResolver) relativeToRoot(p string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(p))
	if filepath.IsAbs(clean) {
		if rel, err := filepath.Rel(r.assetRoot, clean); err == nil && filepath.IsLocal(rel) {
			return rel, nil
		}
		clean = strings.TrimLeft(clean, string(filepath.Separator))
	}
	if !filepath.IsLocal(clean) {
		return "", fmt.Errorf("%w: %s", ErrOutsideAssetRoot, p)
	}
	return clean, nil
}

// openRegular rejects directories so a missing file and a folder read the same.
func openRegular(name string, f *os.File, err error) (*os.File, error) {
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("local asset %s: %w", name, os.ErrNotExist)
		}
		return nil, fmt.Errorf("local asset %s: %w", name, err)
	}
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("local asset %s: %w", name, os.ErrNotExist)
	}
	return f, nil
}

// download fetches url into dest and returns an extension suggested by the
// response content type. Partial files are removed on failure.
func download(ctx context.Context, client *http.Client, rawURL, dest string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid download url: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("download failed with status: %d", resp.StatusCode)
	}

	out, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}

	n, err := io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err == nil && n == 0 {
		err = errors.New("downloaded file is empty")
	}
	if err != nil {
		os.Remove(dest)
		return "", fmt.Errorf("failed to write file: %w", err)
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	return extFromMediaType(mediaType), nil
}

func extFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	ext := path.Ext(u.Path)
	if len(ext) > 6 {
		return ""
	}
	return ext
}

var knownMediaTypes = map[string]string{
	"image/png":    ".png",
	"image/jpeg":   ".jpg",
	"image/jpg":    ".jpg",
	"image/webp":   ".webp",
	"image/gif":    ".gif",
	"audio/mpeg":   ".mp3",
	"audio/mp3":    ".mp3",
	"audio/wav":    ".wav",
	"audio/x-wav":  ".wav",
	"audio/wave":   ".wav",
	"audio/ogg":    ".ogg",
	"audio/mp4":    ".m4a",
	"audio/aac":    ".aac",
	"audio/flac":   ".flac",
	"audio/webm":   ".weba",
	"video/mp4":    ".mp4",
	"video/webm":   ".webm",
}

func extFromMediaType(mediaType string) string {
	mediaType = strings.ToLower(strings.TrimSpace(mediaType))
	if ext, ok := knownMediaTypes[mediaType]; ok {
		return ext
	}
	if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ""
}

// copyFile copies src to dst byte for byte.
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	if err := copyReader(in, dst); err != nil {
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return nil
}

// copyReader writes everything from in to dst, removing dst on failure.
func copyReader(in io.Reader, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}

	_, err = io.Copy(out, in)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dst)
		return err
	}
	return nil
}

// moveFile renames src to dst, copying across filesystems.
func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	if err := copyFile(src, dst); err != nil {
		return err
	}
	return os.Remove(src)
}
