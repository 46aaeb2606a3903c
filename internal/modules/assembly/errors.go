package assembly

import (
	"errors"
	"fmt"
)

// ErrUnsupportedReference is returned for asset references that cannot be
// resolved outside a browser (blob: URLs) or use an unknown scheme.
var ErrUnsupportedReference = errors.New("unsupported asset reference")

// ErrOutsideAssetRoot is returned for local paths that escape the asset root.
var ErrOutsideAssetRoot = errors.New("local asset path is outside the asset root")

// AssetAcquisitionError means an input reference could not be materialized.
type AssetAcquisitionError struct {
	SceneIndex int
	Kind       string // image, audio, music
	Ref        string
	Err        error
}

func (e *AssetAcquisitionError) Error() string {
	return fmt.Sprintf("failed to acquire %s for scene %d (%s): %v", e.Kind, e.SceneIndex, shortRef(e.Ref), e.Err)
}

func (e *AssetAcquisitionError) Unwrap() error { return e.Err }

// SegmentRenderError means a scene's segment could not be rendered.
type SegmentRenderError struct {
	SceneIndex int
	Err        error
}

func (e *SegmentRenderError) Error() string {
	return fmt.Sprintf("failed to render segment for scene %d: %v", e.SceneIndex, e.Err)
}

func (e *SegmentRenderError) Unwrap() error { return e.Err }

// ConcatenationError names the offending segment when one is missing or
// empty; SceneIndex is -1 for failures of the merge itself.
type ConcatenationError struct {
	SceneIndex int
	Segment    string
	Err        error
}

func (e *ConcatenationError) Error() string {
	if e.SceneIndex >= 0 {
		return fmt.Sprintf("concatenation failed at scene %d (%s): %v", e.SceneIndex, e.Segment, e.Err)
	}
	return fmt.Sprintf("concatenation failed: %v", e.Err)
}

func (e *ConcatenationError) Unwrap() error { return e.Err }

// MusicMixError is non-fatal: the run keeps the pre-music video.
type MusicMixError struct {
	Err error
}

func (e *MusicMixError) Error() string {
	return fmt.Sprintf("background music mix failed: %v", e.Err)
}

func (e *MusicMixError) Unwrap() error { return e.Err }

// PipelineError is the caller-visible failure of a run. SceneIndex is -1
// when the failure is not tied to a scene.
type PipelineError struct {
	RunID      string
	Stage      State
	SceneIndex int
	Err        error
}

func (e *PipelineError) Error() string {
	if e.SceneIndex >= 0 {
		return fmt.Sprintf("assembly %s failed during %s at scene %d: %v", e.RunID, e.Stage, e.SceneIndex, e.Err)
	}
	return fmt.Sprintf("assembly %s failed during %s: %v", e.RunID, e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error { return e.Err }

// sceneIndexOf extracts the scene index carried by a stage error, or -1.
func sceneIndexOf(err error) int {
	var assetErr *AssetAcquisitionError
	var segErr *SegmentRenderError
	var concatErr *ConcatenationError
	switch {
	case errors.As(err, &assetErr):
		return assetErr.SceneIndex
	case errors.As(err, &segErr):
		return segErr.SceneIndex
	case errors.As(err, &concatErr):
		return concatErr.SceneIndex
	}
	return -1
}

// shortRef keeps inline data references readable in error messages.
func shortRef(ref string) string {
	if len(ref) > 64 {
		return ref[:61] + "..."
	}
	return ref
}
