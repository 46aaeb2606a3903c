package assembly

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/nextconvert/assembler/internal/shared/storage"
)

// DebugSink receives intermediate segments before the workspace is removed.
type DebugSink interface {
	// Save retains the local file under name for the run and returns where
	// it was put.
	Save(ctx context.Context, runID, name, localPath string) (string, error)
}

// DebugPolicy decides whether segments are retained and where.
type DebugPolicy struct {
	Enabled bool
	Sink    DebugSink
}

func (p DebugPolicy) active() bool {
	return p.Enabled && p.Sink != nil
}

// retain saves every existing segment and returns the retained locations.
// A failing segment does not stop the others.
func (p DebugPolicy) retain(ctx context.Context, runID string, segments []string) ([]string, error) {
	if !p.active() {
		return nil, nil
	}
	var kept []string
	var errs []error
	for _, seg := range segments {
		if seg == "" {
			continue
		}
		loc, err := p.Sink.Save(ctx, runID, filepath.Base(seg), seg)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		kept = append(kept, loc)
	}
	return kept, errors.Join(errs...)
}

// DirSink copies segments to Root/<run id>/.
type DirSink struct {
	Root string
}

func (s DirSink) Save(_ context.Context, runID, name, localPath string) (string, error) {
	dest := filepath.Join(s.Root, runID, name)
	if err := copyFile(localPath, dest); err != nil {
		return "", fmt.Errorf("failed to retain %s: %w", name, err)
	}
	return dest, nil
}

// StorageSink uploads segments to the debug storage zone.
type StorageSink struct {
	Storage *storage.Service
}

func (s StorageSink) Save(ctx context.Context, runID, name, localPath string) (string, error) {
	info, err := s.Storage.StoreFile(ctx, storage.ZoneDebug, runID+"/"+name, localPath)
	if err != nil {
		return "", fmt.Errorf("failed to retain %s: %w", name, err)
	}
	return info.Path, nil
}
