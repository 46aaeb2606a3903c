package assembly

import (
	"github.com/nextconvert/assembler/internal/modules/ffmpeg"
	"github.com/nextconvert/assembler/internal/modules/ffprobe"
	"github.com/nextconvert/assembler/internal/modules/subtitle"
	"github.com/nextconvert/assembler/internal/modules/transition"
	"github.com/nextconvert/assembler/internal/shared/config"
	"github.com/nextconvert/assembler/internal/shared/metrics"
	"github.com/nextconvert/assembler/internal/shared/storage"
	"go.uber.org/zap"
)

// Toolchain is the encoder pair a pipeline runs on.
type Toolchain struct {
	Runner *ffmpeg.Runner
	Prober *ffprobe.Client
}

// NewToolchain creates the encoder and prober from configuration. m may be nil.
func NewToolchain(cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) Toolchain {
	rc := ffmpeg.Config{
		FFmpegPath: cfg.FFmpegPath,
		MaxThreads: cfg.FFmpegMaxThreads,
		Timeout:    cfg.FFmpegTimeout,
		KillGrace:  cfg.FFmpegKillGrace,
	}
	if m != nil {
		rc.Recorder = m
	}
	return Toolchain{
		Runner: ffmpeg.NewRunner(rc, logger),
		Prober: ffprobe.NewClient(cfg.FFprobePath, logger),
	}
}

// FromConfig wires a pipeline over tools. store may be nil, in which case
// storage:// references are rejected and debug segments go to the debug
// directory. m may be nil.
func FromConfig(cfg *config.Config, tools Toolchain, store *storage.Service, m *metrics.Metrics, logger *zap.Logger) *Pipeline {
	ac := cfg.Assembly

	deps := Deps{
		Executor: tools.Runner,
		Prober:   tools.Prober,
		Checker:  tools.Runner,
		Assets: NewAssetResolver(AssetConfig{
			AssetRoot: ac.AssetRoot,
			Timeout:   ac.AssetDownloadTimeout,
			Storage:   store,
		}, logger),
		Subtitles: subtitle.NewGenerator(ac.SubtitleFontFile),
		Merger:    transition.NewMerger(tools.Runner, tools.Prober, logger),
		Music: MusicSources{
			LibraryDir:      ac.MusicLibraryDir,
			UploadDir:       ac.MusicUploadDir,
			ConfineLocal:    ac.AssetRoot != "",
			Storage:         store,
			DownloadTimeout: ac.MusicDownloadTimeout,
		},
	}
	if ac.DebugSegments {
		deps.Debug = DebugPolicy{Enabled: true, Sink: DirSink{Root: ac.DebugDir}}
		if store != nil {
			deps.Debug.Sink = StorageSink{Storage: store}
		}
	}
	if m != nil {
		deps.Metrics = m
	}

	return NewPipeline(Config{
		WorkspaceRoot: ac.WorkspaceRoot,
		FastPresets:   cfg.FFmpegFastPresets,
	}, deps, logger)
}
