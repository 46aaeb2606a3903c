package assembly

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/nextconvert/assembler/internal/modules/ffmpeg"
	fg "github.com/nextconvert/assembler/internal/modules/filtergraph"
	"github.com/nextconvert/assembler/internal/shared/storage"
)

// Music source tiers, reported in results and metrics.
const (
	TierLibrary     = "library"
	TierStorage     = "storage"
	TierLocal       = "local"
	TierRemote      = "remote"
	TierSynthesized = "synthesized"
	TierSilence     = "silence"
)

// MusicRequest is what a strategy needs to produce a track.
type MusicRequest struct {
	Settings   MusicSettings
	Duration   float64 // target video duration
	SampleRate int
	Dir        string // run workspace directory for fetched or generated files
}

// MusicStrategy produces a local music file or a typed failure.
type MusicStrategy interface {
	Name() string
	Resolve(ctx context.Context, req MusicRequest) (string, error)
}

var libraryExtensions = []string{".mp3", ".m4a", ".aac", ".wav", ".ogg", ".flac"}

// LibraryStrategy looks a track id up in the music library directory.
type LibraryStrategy struct {
	Dir string
}

func (LibraryStrategy) Name() string { return TierLibrary }

func (s LibraryStrategy) Resolve(_ context.Context, req MusicRequest) (string, error) {
	id := req.Settings.TrackID
	if id == "" {
		return "", errors.New("no track id")
	}
	if s.Dir == "" {
		return "", errors.New("music library is not configured")
	}
	if strings.ContainsAny(id, `/\`) || strings.Contains(id, "..") {
		return "", fmt.Errorf("invalid track id %q", id)
	}

	candidates := []string{filepath.Join(s.Dir, id)}
	for _, ext := range libraryExtensions {
		candidates = append(candidates, filepath.Join(s.Dir, id+ext))
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() && info.Size() > 0 {
			return c, nil
		}
	}
	return "", fmt.Errorf("track %q not found in library", id)
}

// StorageStrategy fetches storage:// references, such as tracks returned by
// the upload endpoint.
type StorageStrategy struct {
	Storage *storage.Service
}

func (StorageStrategy) Name() string { return TierStorage }

func (s StorageStrategy) Resolve(ctx context.Context, req MusicRequest) (string, error) {
	ref := req.Settings.TrackURL
	if !strings.HasPrefix(strings.ToLower(ref), StorageScheme) {
		return "", fmt.Errorf("%q is not a storage reference", shortRef(ref))
	}
	if s.Storage == nil {
		return "", errors.New("storage is not configured")
	}
	key, err := storage.CleanKey(ref[len(StorageScheme):])
	if err != nil {
		return "", err
	}
	dest := filepath.Join(req.Dir, "music_upload"+path.Ext(key))
	if _, err := s.Storage.Download(ctx, s.Storage.Locate(key), dest); err != nil {
		return "", err
	}
	return dest, nil
}

// LocalStrategy treats the track reference as a local path, trying each of
// Dirs for relative paths. Confined strategies only look inside Dirs.
type LocalStrategy struct {
	Dirs     []string
	Confined bool
}

func (LocalStrategy) Name() string { return TierLocal }

func (s LocalStrategy) Resolve(_ context.Context, req MusicRequest) (string, error) {
	ref := req.Settings.TrackURL
	if ref == "" {
		ref = req.Settings.TrackID
	}
	if ref == "" {
		return "", errors.New("no track reference")
	}
	if strings.Contains(ref, "://") && !strings.HasPrefix(ref, "file://") {
		return "", fmt.Errorf("%q is not a local path", shortRef(ref))
	}
	ref = strings.TrimPrefix(ref, "file://")

	var candidates []string
	rel := strings.TrimLeft(filepath.Clean(filepath.FromSlash(ref)), string(filepath.Separator))
	if s.Confined {
		if !filepath.IsLocal(rel) {
			return "", fmt.Errorf("%w: %s", ErrOutsideAssetRoot, ref)
		}
	} else {
		candidates = append(candidates, ref)
	}
	for _, dir := range s.Dirs {
		if dir != "" {
			candidates = append(candidates, filepath.Join(dir, rel))
		}
	}
	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && !info.IsDir() && info.Size() > 0 {
			return c, nil
		}
	}
	return "", fmt.Errorf("local track %s: %w", ref, os.ErrNotExist)
}

// RemoteStrategy downloads the track URL with a short timeout.
type RemoteStrategy struct {
	Client  *http.Client
	Timeout time.Duration
}

func (RemoteStrategy) Name() string { return TierRemote }

func (s RemoteStrategy) Resolve(ctx context.Context, req MusicRequest) (string, error) {
	ref := req.Settings.TrackURL
	lower := strings.ToLower(ref)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return "", fmt.Errorf("%q is not a remote url", shortRef(ref))
	}

	client := s.Client
	if client == nil {
		client = &http.Client{}
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	ext := extFromURL(ref)
	if ext == "" {
		ext = ".mp3"
	}
	dest := filepath.Join(req.Dir, "music_remote"+ext)
	if _, err := download(ctx, client, ref, dest, timeout); err != nil {
		return "", err
	}
	return dest, nil
}

// Partials of an A major triad, mixed and softened into an ambient pad.
var synthTones = []float64{220, 277.18, 329.63}

// SynthesizedStrategy generates a multi-tone ambient pad with lavfi sources.
type SynthesizedStrategy struct {
	Executor ffmpeg.Executor
}

func (SynthesizedStrategy) Name() string { return TierSynthesized }

func (s SynthesizedStrategy) Resolve(ctx context.Context, req MusicRequest) (string, error) {
	if req.Duration <= 0 {
		return "", errors.New("target duration is unknown")
	}
	out := filepath.Join(req.Dir, "music_synth.wav")
	length := strconv.FormatFloat(req.Duration, 'f', 3, 64)

	cmd := ffmpeg.NewCommand("music_synth", out)
	inputs := make([]string, len(synthTones))
	for i, freq := range synthTones {
		src := fg.New("sine").Set("frequency", freq).Set("sample_rate", req.SampleRate)
		cmd.Input(src.String(), "-f", "lavfi", "-t", length)
		inputs[i] = fmt.Sprintf("%d:a", i)
	}

	graph := fg.Graph{{
		Inputs: inputs,
		Chain: fg.Chain{
			fg.New("amix").Set("inputs", len(synthTones)).Set("duration", "longest"),
			fg.New("lowpass").Set("f", 1200),
			fg.New("volume").Arg(0.5),
		},
		Outputs: []string{"aout"},
	}}

	cmd.ComplexFilter(graph.String()).
		Map("[aout]").
		Option("-c:a", "pcm_s16le").
		Option("-ac", "2").
		WithExpectedDuration(req.Duration)

	if err := s.Executor.Run(ctx, cmd, nil); err != nil {
		return "", err
	}
	return out, nil
}

// SilenceStrategy generates a silent track. It is the last tier.
type SilenceStrategy struct {
	Executor ffmpeg.Executor
}

func (SilenceStrategy) Name() string { return TierSilence }

func (s SilenceStrategy) Resolve(ctx context.Context, req MusicRequest) (string, error) {
	if req.Duration <= 0 {
		return "", errors.New("target duration is unknown")
	}
	out := filepath.Join(req.Dir, "music_silence.wav")
	src := fg.New("anullsrc").Set("channel_layout", "stereo").Set("sample_rate", req.SampleRate)

	cmd := ffmpeg.NewCommand("music_silence", out).
		Input(src.String(), "-f", "lavfi", "-t", strconv.FormatFloat(req.Duration, 'f', 3, 64)).
		Option("-c:a", "pcm_s16le").
		WithExpectedDuration(req.Duration)

	if err := s.Executor.Run(ctx, cmd, nil); err != nil {
		return "", err
	}
	return out, nil
}

// MusicSources builds the ordered strategy chain per music source.
// ConfineLocal restricts local track paths to UploadDir and LibraryDir.
type MusicSources struct {
	LibraryDir      string
	UploadDir       string
	ConfineLocal    bool
	Storage         *storage.Service
	Client          *http.Client
	DownloadTimeout time.Duration
	Executor        ffmpeg.Executor
}

// Chain returns the strategies to try for a source. The synthesized and
// silence tiers always close the chain.
func (m MusicSources) Chain(source MusicSource) []MusicStrategy {
	library := LibraryStrategy{Dir: m.LibraryDir}
	local := LocalStrategy{Dirs: []string{m.UploadDir, m.LibraryDir}, Confined: m.ConfineLocal}
	remote := RemoteStrategy{Client: m.Client, Timeout: m.DownloadTimeout}
	stored := StorageStrategy{Storage: m.Storage}

	var chain []MusicStrategy
	switch source {
	case MusicUpload:
		chain = []MusicStrategy{stored, local, library}
	case MusicRemote:
		chain = []MusicStrategy{remote}
	default:
		chain = []MusicStrategy{library, local}
	}
	return append(chain,
		SynthesizedStrategy{Executor: m.Executor},
		SilenceStrategy{Executor: m.Executor},
	)
}

// ResolveMusic tries each strategy in order and returns the first track
// with the tier that produced it. Errors from every tier are joined.
func ResolveMusic(ctx context.Context, chain []MusicStrategy, req MusicRequest) (string, string, error) {
	var errs []error
	for _, s := range chain {
		if err := ctx.Err(); err != nil {
			return "", "", err
		}
		track, err := s.Resolve(ctx, req)
		if err == nil {
			return track, s.Name(), nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
	}
	if len(errs) == 0 {
		return "", "", errors.New("no music strategies configured")
	}
	return "", "", errors.Join(errs...)
}
