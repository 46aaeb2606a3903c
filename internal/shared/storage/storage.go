package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nextconvert/assembler/internal/shared/config"
)

// Zone represents a storage zone
type Zone string

const (
	ZoneUpload Zone = "upload" // user-supplied assets (images, narration, music)
	ZoneOutput Zone = "output" // finished videos
	ZoneDebug  Zone = "debug"  // retained intermediate segments, grouped by run
)

// Zones lists every zone a backend must provide.
func Zones() []Zone {
	return []Zone{ZoneUpload, ZoneOutput, ZoneDebug}
}

// Scheme prefixes references to stored objects inside scene manifests.
const Scheme = "storage://"

// FileInfo represents metadata about a stored file
type FileInfo struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Key       string    `json:"key"`  // zone-relative, e.g. "upload/<id>.png"
	Path      string    `json:"path"` // backend path, accepted by Retrieve
	Zone      Zone      `json:"zone"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Ref is the manifest reference for the file.
func (f *FileInfo) Ref() string {
	return Scheme + f.Key
}

// ErrInvalidKey is returned for storage keys that are not zone-relative paths.
var ErrInvalidKey = errors.New("invalid storage key")

// CleanKey validates a zone-relative key such as "upload/abc.mp3".
func CleanKey(key string) (string, error) {
	key = strings.TrimPrefix(key, "/")
	zone, _, _ := strings.Cut(key, "/")
	if !fs.ValidPath(key) || !strings.Contains(key, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if _, ok := retention[Zone(zone)]; !ok {
		return "", fmt.Errorf("%w: unknown zone %q", ErrInvalidKey, zone)
	}
	return key, nil
}

// retention is how long each zone keeps files.
var retention = map[Zone]time.Duration{
	ZoneUpload: 24 * time.Hour,
	ZoneDebug:  72 * time.Hour,
	ZoneOutput: 7 * 24 * time.Hour,
}

// Service provides file storage operations
type Service struct {
	backend  Backend
	basePath string
}

// Backend defines the storage backend interface
type Backend interface {
	Store(ctx context.Context, zone Zone, filename string, reader io.Reader) (string, error)
	Retrieve(ctx context.Context, path string) (io.ReadCloser, error)
	GetSize(ctx context.Context, path string) (int64, error)
	// Locate maps a zone-relative key ("upload/x.png") to a backend path.
	Locate(key string) string
}

// NewService creates a new storage service
func NewService(cfg config.StorageConfig) (*Service, error) {
	var backend Backend
	var err error

	switch cfg.Backend {
	case "s3":
		backend, err = NewS3Backend(cfg)
	default:
		backend, err = NewLocalBackend(cfg.BasePath)
	}

	if err != nil {
		return nil, err
	}

	return NewServiceWithBackend(backend, cfg.BasePath), nil
}

// NewServiceWithBackend wraps an existing backend.
func NewServiceWithBackend(backend Backend, basePath string) *Service {
	return &Service{backend: backend, basePath: basePath}
}

// Store saves a file to the specified zone under a generated name that
// keeps the original extension.
func (s *Service) Store(ctx context.Context, zone Zone, originalName string, reader io.Reader) (*FileInfo, error) {
	fileID := uuid.New().String()
	info, err := s.StoreAs(ctx, zone, fileID+filepath.Ext(originalName), reader)
	if err != nil {
		return nil, err
	}
	info.ID = fileID
	info.Name = originalName
	return info, nil
}

// StoreAs saves a file under an exact zone-relative name, which may contain
// slashes (e.g. "<run id>/segment_000.mp4").
func (s *Service) StoreAs(ctx context.Context, zone Zone, name string, reader io.Reader) (*FileInfo, error) {
	path, err := s.backend.Store(ctx, zone, name, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to store file: %w", err)
	}

	size, err := s.backend.GetSize(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to get file size: %w", err)
	}

	now := time.Now()
	return &FileInfo{
		ID:        name,
		Name:      name,
		Key:       string(zone) + "/" + name,
		Path:      path,
		Zone:      zone,
		Size:      size,
		CreatedAt: now,
		ExpiresAt: now.Add(retention[zone]),
	}, nil
}

// StoreFile uploads a local file under an exact zone-relative name.
func (s *Service) StoreFile(ctx context.Context, zone Zone, name, localPath string) (*FileInfo, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer f.Close()

	return s.StoreAs(ctx, zone, name, f)
}

// Retrieve gets a file from storage
func (s *Service) Retrieve(ctx context.Context, path string) (io.ReadCloser, error) {
	return s.backend.Retrieve(ctx, path)
}

// Locate resolves a zone-relative key to a backend path.
func (s *Service) Locate(key string) string {
	return s.backend.Locate(strings.TrimPrefix(key, "/"))
}

// Download copies a stored file to a local path.
func (s *Service) Download(ctx context.Context, path, dest string) (int64, error) {
	reader, err := s.backend.Retrieve(ctx, path)
	if err != nil {
		return 0, fmt.Errorf("failed to retrieve %s: %w", path, err)
	}
	defer reader.Close()

	out, err := os.Create(dest)
	if err != nil {
		return 0, fmt.Errorf("failed to create %s: %w", dest, err)
	}

	n, err := io.Copy(out, reader)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(dest)
		return 0, fmt.Errorf("failed to download %s: %w", path, err)
	}
	return n, nil
}

// LocalBackend implements local filesystem storage
type LocalBackend struct {
	basePath string
}

// NewLocalBackend creates a new local storage backend
func NewLocalBackend(basePath string) (*LocalBackend, error) {
	// Ensure base directories exist
	for _, zone := range Zones() {
		path := filepath.Join(basePath, string(zone))
		if err := os.MkdirAll(path, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", path, err)
		}
	}

	return &LocalBackend{basePath: basePath}, nil
}

func (b *LocalBackend) Store(ctx context.Context, zone Zone, filename string, reader io.Reader) (string, error) {
	path := filepath.Join(b.basePath, string(zone), filepath.FromSlash(filename))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}

	file, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	if _, err := io.Copy(file, reader); err != nil {
		os.Remove(path)
		return "", err
	}

	return path, nil
}

func (b *LocalBackend) Retrieve(ctx context.Context, path string) (io.ReadCloser, error) {
	return os.Open(path)
}

func (b *LocalBackend) GetSize(ctx context.Context, path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (b *LocalBackend) Locate(key string) string {
	return filepath.Join(b.basePath, filepath.FromSlash(key))
}
