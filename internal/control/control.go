package control

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/riverwatch/internal/core/backup"
	"github.com/vietddude/riverwatch/internal/core/config"
	"github.com/vietddude/riverwatch/internal/core/domain"
	"github.com/vietddude/riverwatch/internal/core/fetch"
	"github.com/vietddude/riverwatch/internal/infra/durable"
	"github.com/vietddude/riverwatch/internal/infra/durable/filesystem"
	"github.com/vietddude/riverwatch/internal/infra/homeassistant"
	redisclient "github.com/vietddude/riverwatch/internal/infra/redis"
	"github.com/vietddude/riverwatch/internal/infra/source"
	"github.com/vietddude/riverwatch/internal/infra/source/browser"
	"github.com/vietddude/riverwatch/internal/infra/source/cehq"
	"github.com/vietddude/riverwatch/internal/infra/source/imaging"
	"github.com/vietddude/riverwatch/internal/infra/storage/disk"
	"github.com/vietddude/riverwatch/internal/infra/storage/postgres"
	"github.com/vietddude/riverwatch/internal/overlay"
	"github.com/vietddude/riverwatch/internal/pipeline"
)

// buildTarget opens the configured durable target. The postgres DB handle is
// returned so the caller can run its pool metrics collector.
func buildTarget(ctx context.Context, cfg *config.AppConfig) (durable.Target, *postgres.DB, error) {
	switch cfg.Backup.Target {
	case config.TargetRedis:
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to init redis: %w", err)
		}
		slog.Info("Using Redis backup target")
		return redisclient.NewBackupTarget(client), nil, nil

	case config.TargetPostgres:
		db, err := postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to init db: %w", err)
		}
		if err := db.Migrate(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		slog.Info("Using PostgreSQL backup target")
		return postgres.NewBackupRepo(db), db, nil

	default:
		target, err := filesystem.New(cfg.Backup.Path)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("Using filesystem backup target", "path", cfg.Backup.Path)
		return target, nil, nil
	}
}

// buildPipeline wires the collaborators of one configured pipeline.
func buildPipeline(pc config.PipelineConfig, cfg *config.AppConfig, loc *time.Location, mgr *backup.Manager) (*pipeline.Pipeline, error) {
	pcfg := pipeline.Config{
		ID:        pc.ID,
		Kind:      pc.Kind,
		Interval:  pc.Interval,
		Threshold: pc.StaleThreshold,
		Retry:     fetch.Config{RetryCount: pc.Retry.Count, RetryDelay: pc.Retry.Delay},
		Backup:    mgr,
		Location:  loc,
	}
	opts := disk.Options{
		PipelineID: pc.ID,
		Dir:        pc.Store.Dir,
		Artifact:   pc.Store.Artifact,
		Status:     pc.Store.Status,
	}

	switch pc.Kind {
	case domain.PipelineKindTelemetry:
		pcfg.Source = source.NewHTTPSource(pc.Source.URL, pc.Source.Timeout)
		pcfg.Transformer = &cehq.Parser{
			PipelineID:        pc.ID,
			ArtifactName:      pc.Store.Artifact,
			StationNumber:     pc.Source.StationNumber,
			StationNamePrefix: pc.Telemetry.StationNamePrefix,
			RiverName:         pc.Telemetry.RiverName,
			RiverNameFallback: pc.Telemetry.RiverNameFallback,
			SourceURL:         pc.Source.URL,
			Location:          loc,
		}
		pcfg.Overlay = overlay.JSONFlag{Warning: overlay.DefaultWarning}
		if cfg.HomeAssistant.Enabled() {
			pcfg.Publisher = homeassistant.NewClient(homeassistant.Config{
				BaseURL:       cfg.HomeAssistant.BaseURL,
				Token:         cfg.HomeAssistant.Token,
				StationNumber: pc.Source.StationNumber,
				Timeout:       cfg.HomeAssistant.Timeout,
				Location:      loc,
			})
		}

	case domain.PipelineKindGraph:
		pcfg.Source = browser.NewCapture(pc.Source.URL, pc.Source.Timeout)
		pcfg.Transformer = &imaging.Processor{
			PipelineID:   pc.ID,
			ArtifactName: pc.Store.Artifact,
			CropBottom:   pc.Graph.CropBottom,
			MaxWidth:     pc.Graph.MaxWidth,
			MaxHeight:    pc.Graph.MaxHeight,
		}
		pcfg.Overlay = overlay.NewBanner(pc.Graph.WarningText)
		if pc.Graph.JPEGName != "" {
			opts.Derive = imaging.JPEGRendition(pc.Graph.JPEGName, pc.Graph.JPEGQuality)
		}

	default:
		return nil, fmt.Errorf("pipeline %s: unknown kind %q", pc.ID, pc.Kind)
	}

	store, err := disk.New(opts)
	if err != nil {
		return nil, fmt.Errorf("pipeline %s: %w", pc.ID, err)
	}
	pcfg.Store = store
	return pipeline.New(pcfg), nil
}
