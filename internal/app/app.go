// Package app wires configuration, storage, adapters and services into a
// running import pipeline shared by the API server and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/trailhead/trailimport/internal/config"
	"github.com/trailhead/trailimport/internal/domain"
	"github.com/trailhead/trailimport/internal/logger"
	"github.com/trailhead/trailimport/internal/notify"
	"github.com/trailhead/trailimport/internal/repository"
	"github.com/trailhead/trailimport/internal/service"
	"github.com/trailhead/trailimport/internal/source"
	"github.com/trailhead/trailimport/internal/source/nps"
	"github.com/trailhead/trailimport/internal/source/osm"
	"github.com/trailhead/trailimport/internal/source/synthetic"
	"github.com/trailhead/trailimport/internal/source/usgs"
	"github.com/trailhead/trailimport/internal/storage"
)

// App holds the wired pipeline.
type App struct {
	Config       *config.Config
	Logger       *logger.Logger
	DB           *gorm.DB
	Trails       *repository.TrailRepository
	Jobs         *repository.JobRepository
	Sources      *repository.SourceRepository
	Index        *repository.TrailIndex
	Registry     *source.Registry
	Metrics      *service.Metrics
	Orchestrator *service.Orchestrator
	Bootstrapper *service.Bootstrapper

	sentry  *notify.SentrySink
	closers []func() error
}

// New opens the store, seeds data sources, fails abandoned jobs and builds
// the services.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	if log == nil {
		log = logger.GetDefault()
	}
	a := &App{Config: cfg, Logger: log}

	db, err := repository.InitDB(&cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.DB = db
	if sqlDB, err := db.DB(); err == nil {
		a.closers = append(a.closers, sqlDB.Close)
	}

	a.Trails = repository.NewTrailRepository(db)
	a.Jobs = repository.NewJobRepository(db)
	a.Sources = repository.NewSourceRepository(db)
	a.Registry = NewRegistry(cfg)
	a.Metrics = service.NewMetrics()

	seeded, err := a.Sources.EnsureDefaults(ctx, DefaultSources(cfg))
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to seed data sources: %w", err)
	}
	if seeded > 0 {
		log.WithField(logger.FieldCount, seeded).Info("Seeded default data sources")
	}

	// Jobs silent for twice the monitoring ceiling belong to a dead process.
	cutoff := time.Now().Add(-2 * cfg.Bootstrap.MonitorTimeout)
	stale, err := a.Jobs.FailStaleJobs(ctx, cutoff, "abandoned: no progress before restart")
	if err != nil {
		log.WithError(err).Warn("Failed to clean up stale jobs")
	}
	for _, job := range stale {
		if job.BulkJobID != nil {
			if _, err := a.Jobs.RecomputeBulkJob(ctx, *job.BulkJobID); err != nil {
				log.WithError(err).Warn("Failed to recompute bulk job")
			}
		}
	}
	if len(stale) > 0 {
		log.WithField(logger.FieldCount, len(stale)).Warn("Marked abandoned import jobs as failed")
	}

	var archive service.SnapshotArchiver
	if cfg.Storage.Enabled {
		store, err := storage.NewStorage(&cfg.Storage)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		if err := store.EnsureBucket(ctx); err != nil {
			log.WithError(err).Warn("Snapshot bucket unavailable, archiving disabled")
		} else {
			archive = storage.NewArchive(store, "snapshots")
		}
	}

	var index service.TrailIndexer
	if cfg.Qdrant.Enabled {
		idx, err := repository.NewTrailIndex(&repository.QdrantConnectionConfig{
			Host:       cfg.Qdrant.Host,
			Port:       cfg.Qdrant.Port,
			Collection: cfg.Qdrant.Collection,
			APIKey:     cfg.Qdrant.APIKey,
			UseTLS:     cfg.Qdrant.UseTLS,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize trail index: %w", err)
		}
		a.closers = append(a.closers, idx.Close)
		if err := idx.EnsureCollection(ctx); err != nil {
			log.WithError(err).Warn("Trail index unavailable, indexing disabled")
		} else {
			a.Index = idx
			index = idx
		}
	}

	sinks := notify.MultiSink{notify.NewLogSink(log)}
	sentrySink, err := notify.NewSentrySink(&cfg.Sentry, log)
	if err != nil {
		log.WithError(err).Warn("Sentry disabled")
	} else if sentrySink != nil {
		a.sentry = sentrySink
		sinks = append(sinks, sentrySink)
	}

	tracker := service.NewJobTracker(a.Jobs, log)
	writer := service.NewBatchWriter(a.Trails, service.BatchWriterConfig{
		BatchSize:      cfg.Import.BatchSize,
		Concurrency:    cfg.Import.Concurrency,
		WavePause:      cfg.Import.WavePause,
		RetryAttempts:  cfg.Import.RetryAttempts,
		RetryBaseDelay: cfg.Import.RetryBaseDelay,
		RetryMaxDelay:  cfg.Import.RetryMaxDelay,
	}, a.Metrics, log)

	a.Orchestrator = service.NewOrchestrator(service.OrchestratorDeps{
		Registry:  a.Registry,
		Sources:   a.Sources,
		Inspector: a.Trails,
		Writer:    writer,
		Tracker:   tracker,
		Progress:  service.NewBroadcaster(),
		Archive:   archive,
		Index:     index,
		Notifier:  sinks,
		Metrics:   a.Metrics,
		Logger:    log,
	}, service.OrchestratorConfig{
		FetchConcurrency: cfg.Import.FetchConcurrency,
		FailureTolerance: cfg.Import.FailureTolerance,
		SyncInterval:     cfg.Import.SyncInterval,
	})

	var remote service.Invoker
	if cfg.Bootstrap.Mode == service.ModeRemote {
		remote = service.NewRemoteInvoker(&cfg.Functions)
	}
	a.Bootstrapper = service.NewBootstrapper(a.Trails, a.Orchestrator, remote, a.Metrics, service.BootstrapConfig{
		MinThreshold:   cfg.Bootstrap.MinThreshold,
		TargetCount:    cfg.Bootstrap.TargetCount,
		Mode:           cfg.Bootstrap.Mode,
		PollInterval:   cfg.Bootstrap.PollInterval,
		MonitorTimeout: cfg.Bootstrap.MonitorTimeout,
		FunctionName:   cfg.Bootstrap.FunctionName,
	}, log)

	return a, nil
}

// Close stops background runs and releases connections.
func (a *App) Close() error {
	if a.Bootstrapper != nil {
		a.Bootstrapper.Close()
	}
	if a.Orchestrator != nil {
		a.Orchestrator.Progress().Close()
	}
	if a.sentry != nil {
		a.sentry.Flush(2 * time.Second)
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewRegistry registers one adapter per source type. Live source types with
// live=false, and the types that have no public feed, are served by the
// deterministic generator.
func NewRegistry(cfg *config.Config) *source.Registry {
	imp := cfg.Import
	pager := source.NewPager(source.PagerConfig{
		PageSize:       imp.PageSize,
		PageDelay:      imp.PageDelay,
		RequestTimeout: imp.RequestTimeout,
		SafetyCap:      imp.SafetyCap,
		RetryAttempts:  imp.RetryAttempts,
		RetryBaseDelay: imp.RetryBaseDelay,
		RetryMaxDelay:  imp.RetryMaxDelay,
	})
	reg := source.NewRegistry()
	src := cfg.Sources

	if src.USGS.Live {
		reg.Register(usgs.NewAdapter(source.NewHTTPClient(src.USGS.BaseURL, imp.RequestTimeout), pager))
	} else {
		reg.Register(synthetic.NewAdapter(synthetic.StandIn(usgs.SourceType, usgs.SourceName), standInTotal, pager))
	}

	if src.NPS.Live {
		reg.Register(nps.NewAdapter(source.NewHTTPClient(src.NPS.BaseURL, imp.RequestTimeout), src.NPS.APIKey, pager))
	} else {
		reg.Register(synthetic.NewAdapter(synthetic.StandIn(nps.SourceType, nps.SourceName), standInTotal, pager))
	}

	if src.OSM.Live {
		reg.Register(osm.NewAdapter(source.NewHTTPClient(src.OSM.BaseURL, imp.RequestTimeout), pager, 0))
	} else {
		reg.Register(synthetic.NewAdapter(synthetic.StandIn(osm.SourceType, osm.SourceName), standInTotal, pager))
	}

	if src.ParksCanada.Enabled {
		reg.Register(synthetic.NewAdapter(synthetic.ParksCanada, src.ParksCanada.Total, pager))
	}
	if src.StateParks.Enabled {
		reg.Register(synthetic.NewAdapter(synthetic.StateParks, src.StateParks.Total, pager))
	}
	return reg
}

const standInTotal = 1000

// frontRange bounds the default OpenStreetMap source.
var frontRange = domain.BBox{MinLon: -105.9, MinLat: 39.9, MaxLon: -105.2, MaxLat: 40.6}

// DefaultSources lists the data sources created on first start. Operators
// edit or deactivate them afterwards; existing rows are never overwritten.
func DefaultSources(cfg *config.Config) []domain.DataSource {
	opts := func(o domain.SourceOptions) datatypes.JSONType[domain.SourceOptions] {
		return datatypes.NewJSONType(o)
	}
	box := frontRange

	sources := []domain.DataSource{
		{ID: "usgs-national", Name: usgs.SourceName, SourceType: usgs.SourceType, IsActive: true,
			Config: opts(domain.SourceOptions{Country: "US"})},
		{ID: "nps-hikes", Name: nps.SourceName, SourceType: nps.SourceType, IsActive: cfg.Sources.NPS.APIKey != "" || !cfg.Sources.NPS.Live,
			Config: opts(domain.SourceOptions{Country: "US"})},
		{ID: "osm-front-range", Name: osm.SourceName + " Front Range", SourceType: osm.SourceType, IsActive: true,
			Config: opts(domain.SourceOptions{Country: "US", StateCode: "CO", BBox: &box})},
	}
	if cfg.Sources.ParksCanada.Enabled {
		sources = append(sources, domain.DataSource{ID: "parks-canada", Name: synthetic.ParksCanada.DisplayName,
			SourceType: synthetic.ParksCanada.SourceType, IsActive: true, Config: opts(domain.SourceOptions{Country: "CA"})})
	}
	if cfg.Sources.StateParks.Enabled {
		sources = append(sources, domain.DataSource{ID: "state-parks", Name: synthetic.StateParks.DisplayName,
			SourceType: synthetic.StateParks.SourceType, IsActive: true, Config: opts(domain.SourceOptions{Country: "US"})})
	}
	return sources
}
