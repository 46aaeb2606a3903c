package assembly

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/nextconvert/assembler/internal/modules/ffmpeg"
	"github.com/nextconvert/assembler/internal/modules/ffprobe"
	"go.uber.org/zap"
)

// WorkspacePrefix names every run workspace directory.
const WorkspacePrefix = "assembly-"

// Checker reports whether the encoder can run at all.
type Checker interface {
	Available(ctx context.Context) error
}

// Recorder receives pipeline metrics.
type Recorder interface {
	RecordStage(stage string, success bool, duration time.Duration)
	RecordSceneRendered()
	RecordMusicSource(source string)
	RecordMusicMixFailure()
	RecordRenderedSeconds(seconds float64)
}

type nopRecorder struct{}

func (nopRecorder) RecordStage(string, bool, time.Duration) {}
func (nopRecorder) RecordSceneRendered()                    {}
func (nopRecorder) RecordMusicSource(string)                {}
func (nopRecorder) RecordMusicMixFailure()                  {}
func (nopRecorder) RecordRenderedSeconds(float64)           {}

// Deps are the collaborators a pipeline runs with.
type Deps struct {
	Executor ffmpeg.Executor
	Prober   ffprobe.Prober
	// Checker is consulted before any workspace is created; nil skips it.
	Checker   Checker
	Assets    *AssetResolver
	Subtitles SubtitleGenerator
	Merger    TransitionMerger
	Music     MusicSources
	Debug     DebugPolicy
	Metrics   Recorder
}

// Config holds pipeline-wide options.
type Config struct {
	WorkspaceRoot string
	FastPresets   bool
}

// Pipeline assembles scenes into one video. Runs are independent and may
// execute concurrently; each owns its workspace.
type Pipeline struct {
	cfg      Config
	deps     Deps
	segments *SegmentAssembler
	concat   *Concatenator
	mixer    *MusicMixer
	logger   *zap.Logger
}

// NewPipeline wires the stage components.
func NewPipeline(cfg Config, deps Deps, logger *zap.Logger) *Pipeline {
	if cfg.WorkspaceRoot == "" {
		cfg.WorkspaceRoot = os.TempDir()
	}
	if deps.Metrics == nil {
		deps.Metrics = nopRecorder{}
	}
	if deps.Assets == nil {
		deps.Assets = NewAssetResolver(AssetConfig{}, logger)
	}
	return &Pipeline{
		cfg:      cfg,
		deps:     deps,
		segments: NewSegmentAssembler(deps.Executor, deps.Prober, deps.Subtitles, cfg.FastPresets, logger),
		concat:   NewConcatenator(deps.Executor, deps.Merger, cfg.FastPresets, logger),
		mixer:    NewMusicMixer(deps.Executor, deps.Prober, deps.Music, logger),
		logger:   logger,
	}
}

// Request is one assembly run.
type Request struct {
	RunID      string
	Scenes     []Scene
	Settings   Settings
	OutputPath string
	OnProgress ProgressFunc
}

// Result describes a finished run.
type Result struct {
	RunID           string   `json:"runId"`
	State           State    `json:"state"`
	OutputPath      string   `json:"outputPath,omitempty"`
	DurationSeconds float64  `json:"durationSeconds,omitempty"`
	DebugPaths      []string `json:"debugPaths,omitempty"`
	MusicApplied    bool     `json:"musicApplied"`
	MusicSource     string   `json:"musicSource,omitempty"`
	Warnings        []string `json:"warnings,omitempty"`
	Workspace       string   `json:"-"`
}

// run is the mutable state of one execution.
type run struct {
	req       Request
	settings  Settings
	tracker   *tracker
	workspace string
	images    []string
	audio     []string
	segments  []string
	current   string
	result    *Result
	logger    *zap.Logger
}

// Run executes every stage in order. A failed run returns a Result in the
// failed state together with a *PipelineError; the workspace is removed
// either way.
func (p *Pipeline) Run(ctx context.Context, req Request) (res *Result, err error) {
	if req.RunID == "" {
		req.RunID = uuid.New().String()
	}
	r := &run{
		req:     req,
		tracker: newTracker(req.RunID, len(req.Scenes), req.OnProgress),
		result:  &Result{RunID: req.RunID, State: StateInit},
		logger:  p.logger.With(zap.String("run_id", req.RunID)),
	}

	defer func() {
		if err != nil {
			err = r.fail(StateInit, err)
			res = r.result
		}
	}()

	settings, err := p.prepare(req)
	if err != nil {
		return nil, err
	}
	r.settings = settings

	if p.deps.Checker != nil {
		if err := p.deps.Checker.Available(ctx); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(p.cfg.WorkspaceRoot, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace root: %w", err)
	}
	workspace, err := os.MkdirTemp(p.cfg.WorkspaceRoot, WorkspacePrefix+req.RunID+"-")
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	r.workspace = workspace
	r.result.Workspace = workspace

	r.logger.Info("Starting assembly",
		zap.Int("scenes", len(req.Scenes)),
		zap.Float64("declared_duration", TotalDuration(req.Scenes)),
		zap.String("resolution", string(settings.Resolution)),
		zap.String("format", string(settings.Format)),
		zap.String("transition", string(settings.Transition.Kind)),
		zap.String("workspace", workspace),
	)

	runErr := p.execute(ctx, r)
	cleanupErr := p.cleanup(r)

	if runErr != nil {
		if cleanupErr != nil {
			r.logger.Warn("Workspace cleanup failed", zap.Error(cleanupErr))
		}
		return r.result, runErr
	}
	if cleanupErr != nil {
		r.logger.Warn("Workspace cleanup failed", zap.Error(cleanupErr))
		r.result.Warnings = append(r.result.Warnings, cleanupErr.Error())
	}
	return r.result, nil
}

func (p *Pipeline) prepare(req Request) (Settings, error) {
	if len(req.Scenes) == 0 {
		return Settings{}, fmt.Errorf("%w: at least one scene is required", ErrInvalidSettings)
	}
	if req.OutputPath == "" {
		return Settings{}, fmt.Errorf("%w: output path is required", ErrInvalidSettings)
	}
	for _, s := range req.Scenes {
		if err := s.Validate(); err != nil {
			return Settings{}, fmt.Errorf("%w: %w", ErrInvalidSettings, err)
		}
	}
	settings := req.Settings.Normalize()
	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

func (p *Pipeline) execute(ctx context.Context, r *run) error {
	stages := []struct {
		state State
		run   func(context.Context, *run) error
		skip  bool
	}{
		{StateDownloading, p.download, false},
		{StateSegmenting, p.segment, false},
		{StateConcatenating, p.concatenate, false},
		{StateMixingMusic, p.mixMusic, !r.settings.Music.Enabled},
		{StateFinalizing, p.finalize, false},
	}

	for _, st := range stages {
		if st.skip {
			continue
		}
		if err := r.tracker.advance(st.state); err != nil {
			return r.fail(st.state, err)
		}
		r.result.State = st.state

		if err := ctx.Err(); err != nil {
			return r.fail(st.state, fmt.Errorf("%w: %w", ffmpeg.ErrCancelled, err))
		}

		start := time.Now()
		err := st.run(ctx, r)
		p.deps.Metrics.RecordStage(string(st.state), err == nil, time.Since(start))
		if err != nil {
			return r.fail(st.state, err)
		}
	}

	if err := r.tracker.advance(StateCompleted); err != nil {
		return r.fail(StateFinalizing, err)
	}
	r.result.State = StateCompleted
	r.tracker.report(-1, 100, "Assembly complete")
	return nil
}

// fail moves the run to the failed state and wraps err with its stage.
func (r *run) fail(stage State, err error) error {
	if r.tracker.State() != StateFailed {
		_ = r.tracker.advance(StateFailed)
	}
	r.result.State = StateFailed

	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe
	}
	pe = &PipelineError{RunID: r.req.RunID, Stage: stage, SceneIndex: sceneIndexOf(err), Err: err}
	r.logger.Error("Assembly failed",
		zap.String("stage", string(stage)),
		zap.Int("scene", pe.SceneIndex),
		zap.Error(err),
	)
	r.tracker.report(pe.SceneIndex, 0, pe.Error())
	return pe
}

func (p *Pipeline) download(ctx context.Context, r *run) error {
	n := len(r.req.Scenes)
	assetDir := filepath.Join(r.workspace, "assets")
	r.images = make([]string, n)
	r.audio = make([]string, n)

	for i, scene := range r.req.Scenes {
		r.tracker.report(i, bandDownloadEnd*float64(i)/float64(n), fmt.Sprintf("Fetching assets for scene %d of %d", i+1, n))

		img, err := p.deps.Assets.Materialize(ctx, scene.ImagePath, filepath.Join(assetDir, fmt.Sprintf("scene_%03d_image", i)))
		if err != nil {
			return &AssetAcquisitionError{SceneIndex: i, Kind: "image", Ref: scene.ImagePath, Err: err}
		}
		r.images[i] = img

		if scene.AudioPath != "" {
			audio, err := p.deps.Assets.Materialize(ctx, scene.AudioPath, filepath.Join(assetDir, fmt.Sprintf("scene_%03d_audio", i)))
			if err != nil {
				return &AssetAcquisitionError{SceneIndex: i, Kind: "audio", Ref: scene.AudioPath, Err: err}
			}
			r.audio[i] = audio
		}
	}
	r.tracker.report(-1, bandDownloadEnd, "Assets ready")
	return nil
}

func (p *Pipeline) segment(ctx context.Context, r *run) error {
	n := len(r.req.Scenes)
	dir := filepath.Join(r.workspace, "segments")
	span := bandSegmentEnd - bandDownloadEnd

	for i, scene := range r.req.Scenes {
		base := bandDownloadEnd + span*float64(i)/float64(n)
		r.tracker.report(i, base, fmt.Sprintf("Rendering scene %d of %d", i+1, n))

		seg, err := p.segments.Render(ctx, SegmentInput{
			SceneIndex: i,
			ImagePath:  r.images[i],
			AudioPath:  r.audio[i],
			Duration:   scene.Duration,
			Narration:  scene.Narration,
			Settings:   r.settings,
			Dir:        dir,
			OnProgress: func(pct float64) {
				r.tracker.report(i, base+span*pct/100/float64(n), fmt.Sprintf("Rendering scene %d of %d", i+1, n))
			},
		})
		if err != nil {
			return err
		}
		r.segments = append(r.segments, seg)
		p.deps.Metrics.RecordSceneRendered()
	}
	r.tracker.report(-1, bandSegmentEnd, "All scenes rendered")
	return nil
}

func (p *Pipeline) concatenate(ctx context.Context, r *run) error {
	out := filepath.Join(r.workspace, "concat"+r.settings.Extension())
	message := "Joining scenes"
	if r.settings.Transition.Kind.Enabled() {
		message = "Merging scenes with transitions"
	}
	r.tracker.report(-1, bandSegmentEnd, message)

	merged, err := p.concat.Concat(ctx, ConcatInput{
		Segments: r.segments,
		Settings: r.settings,
		Output:   out,
		Duration: TotalDuration(r.req.Scenes),
		OnProgress: func(pct float64) {
			r.tracker.report(-1, min(pct, bandConcatEnd), message)
		},
	})
	if err != nil {
		return err
	}
	r.current = merged
	r.tracker.report(-1, bandConcatEnd, "Scenes joined")
	return nil
}

// mixMusic never fails the run: a failed mix keeps the pre-music video.
func (p *Pipeline) mixMusic(ctx context.Context, r *run) error {
	r.tracker.report(-1, bandConcatEnd, "Adding background music")
	out := filepath.Join(r.workspace, "music"+r.settings.Extension())

	res, err := p.mixer.Mix(ctx, MixInput{
		VideoPath: r.current,
		Output:    out,
		Music:     r.settings.Music,
		Settings:  r.settings,
		Dir:       r.workspace,
	})
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		p.deps.Metrics.RecordMusicMixFailure()
		r.logger.Warn("Background music skipped, keeping video without music", zap.Error(err))
		r.result.Warnings = append(r.result.Warnings, err.Error())
		r.tracker.report(-1, bandMusicEnd, "Background music skipped")
		return nil
	}

	if res.Applied {
		p.deps.Metrics.RecordMusicSource(res.Source)
		r.current = out
		r.result.MusicApplied = true
		r.result.MusicSource = res.Source
	}
	r.tracker.report(-1, bandMusicEnd, "Background music added")
	return nil
}

func (p *Pipeline) finalize(ctx context.Context, r *run) error {
	r.tracker.report(-1, bandMusicEnd, "Finalizing video")

	if err := moveFile(r.current, r.req.OutputPath); err != nil {
		return fmt.Errorf("failed to move output: %w", err)
	}
	r.result.OutputPath = r.req.OutputPath

	if p.deps.Prober != nil {
		d, err := ffprobe.Duration(ctx, p.deps.Prober, r.req.OutputPath)
		if err != nil {
			r.logger.Warn("Failed to probe final output", zap.Error(err))
		} else {
			r.result.DurationSeconds = d
			p.deps.Metrics.RecordRenderedSeconds(d)
		}
	}

	r.logger.Info("Assembly finished",
		zap.String("output", r.req.OutputPath),
		zap.Float64("duration", r.result.DurationSeconds),
		zap.Float64("declared_duration", TotalDuration(r.req.Scenes)),
		zap.Bool("music", r.result.MusicApplied),
	)
	return nil
}

// cleanup retains debug segments and removes the workspace. It runs after
// success and failure alike and uses its own context so a cancelled run is
// still cleaned up.
func (p *Pipeline) cleanup(r *run) error {
	if r.workspace == "" {
		return nil
	}
	var errs []error

	if p.deps.Debug.active() && len(r.segments) > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		kept, err := p.deps.Debug.retain(ctx, r.req.RunID, r.segments)
		cancel()
		r.result.DebugPaths = kept
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to retain debug segments: %w", err))
		}
	}

	if err := os.RemoveAll(r.workspace); err != nil {
		errs = append(errs, fmt.Errorf("failed to remove workspace: %w", err))
	}
	return errors.Join(errs...)
}

// SweepWorkspaces removes run workspaces under root older than maxAge and
// returns how many were removed.
func SweepWorkspaces(root string, maxAge time.Duration, now time.Time) (int, error) {
	matches, err := filepath.Glob(filepath.Join(root, WorkspacePrefix+"*"))
	if err != nil {
		return 0, err
	}
	removed := 0
	var errs []error
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || !info.IsDir() {
			continue
		}
		if now.Sub(info.ModTime()) < maxAge {
			continue
		}
		if err := os.RemoveAll(m); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
