// internal/app/app.go
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/kaushikharsh99/Dropvault/internal/config"
	"github.com/kaushikharsh99/Dropvault/internal/core"
	db "github.com/kaushikharsh99/Dropvault/internal/core/database"
	"github.com/kaushikharsh99/Dropvault/internal/core/events"
	"github.com/kaushikharsh99/Dropvault/internal/core/extraction"
	"github.com/kaushikharsh99/Dropvault/internal/core/inference"
	"github.com/kaushikharsh99/Dropvault/internal/core/ingestion_engine"
	"github.com/kaushikharsh99/Dropvault/internal/core/llm"
	objectclient "github.com/kaushikharsh99/Dropvault/internal/core/object-client"
	"github.com/kaushikharsh99/Dropvault/internal/core/progress"
	"github.com/kaushikharsh99/Dropvault/internal/core/resync"
	"github.com/kaushikharsh99/Dropvault/internal/core/retrieval"
	"github.com/kaushikharsh99/Dropvault/internal/pkg/logger"
	"github.com/kaushikharsh99/Dropvault/internal/services"
)

const profileTTL = 5 * time.Minute

type App struct {
	Config      *config.Config
	DBClient    *db.DatabaseClient
	Pipeline    *ingestion_engine.Pipeline
	Broadcaster *progress.Broadcaster
	Engine      *retrieval.Engine
	Items       *services.ItemService
	GitHub      *resync.GitHubSyncer // nil without GITHUB_TOKEN
	Server      *Server

	log       logger.ILogger
	fanout    *progress.RedisFanout
	events    *events.Publisher
	scheduler *resync.Scheduler
	closers   []func() error
}

func NewApp(ctx context.Context, cfg *config.Config, log logger.ILogger) (*App, error) {
	appCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	a := &App{Config: cfg, log: log}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	dbClient, err := db.NewDatabaseClient(appCtx, cfg)
	if err != nil {
		return nil, err
	}
	a.DBClient = dbClient
	log.Info("app", "database initialized and ready", nil)

	// uploads fall back to local storage when no bucket credentials are set
	var objects core.ObjectClient
	if cfg.AwsAccessKey != "" {
		s3Client, err := objectclient.NewS3Client(appCtx, cfg)
		if err != nil {
			return nil, err
		}
		objects = s3Client
		log.Info("app", "object client initialized and ready", map[string]interface{}{"bucket": cfg.BucketName})
	}

	embedder, err := a.newEmbedder(appCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("couldn't initialize the embedder, %w", err)
	}

	vision, speech, err := a.newModels(appCtx, cfg)
	if err != nil {
		return nil, err
	}

	extractor := extraction.NewExtractor(
		extraction.NewDocconvExtractor(false),
		extraction.NewLinkExtractor(&http.Client{Timeout: cfg.ExtractTimeout}, cfg.LinkFetchRPS),
		cfg.ExtractTimeout,
	)

	hub := progress.NewHub(0)
	var fanout progress.Fanout
	if cfg.RedisURL != "" {
		f, err := progress.NewRedisFanout(appCtx, cfg.RedisURL, hub, log)
		if err != nil {
			return nil, err
		}
		a.fanout = f
		a.closers = append(a.closers, f.Close)
		fanout = f
	}
	a.Broadcaster = progress.NewBroadcaster(dbClient, hub, fanout, log)

	var itemEvents ingestion_engine.EventPublisher = events.Nop{}
	if cfg.NatsURL != "" {
		pub, err := events.NewPublisher(appCtx, cfg.NatsURL, log)
		if err != nil {
			return nil, err
		}
		a.events = pub
		itemEvents = pub
	}

	a.Pipeline, err = ingestion_engine.NewPipeline(ingestion_engine.PipelineDeps{
		Store:     dbClient,
		Objects:   objects,
		Extractor: extractor,
		Embedder:  embedder,
		Vision:    vision,
		Speech:    speech,
		Progress:  a.Broadcaster,
		Events:    itemEvents,
		Logger:    log,
	}, ingestion_engine.PipelineConfig{
		CPUWorkers:      cfg.CPUWorkers,
		VisionBatchSize: cfg.VisionBatchSize,
		ChunkWords:      cfg.ChunkWords,
		StorageRoot:     cfg.StorageRoot,
	})
	if err != nil {
		return nil, err
	}

	a.Engine = retrieval.NewEngine(dbClient, embedder, retrieval.NewProfileStore(dbClient, profileTTL), log)
	a.Items = services.NewItemService(dbClient, objects, cfg.BucketName, cfg.StorageRoot, a.Pipeline, a.Engine, log)

	if cfg.GithubToken != "" {
		source, err := resync.NewGitHubSource(appCtx, cfg.GithubToken, cfg.GithubOwner)
		if err != nil {
			return nil, err
		}
		a.GitHub = resync.NewGitHubSyncer(source, dbClient, a.Pipeline, log)
		if cfg.GithubOwner != "" {
			a.scheduler = resync.NewScheduler(a.GitHub, cfg.GithubOwner, cfg.GithubSyncInterval, log)
		}
	}

	a.Server = NewServer(cfg, a, log)
	ok = true
	return a, nil
}

func (a *App) newEmbedder(ctx context.Context, cfg *config.Config) (core.EmbeddingProvider, error) {
	switch cfg.EmbedProvider {
	case "openai", "ollama":
		return llm.NewOpenAIEmbedder(cfg.OpenAIBaseURL, cfg.AIAPIKey, cfg.EmbedModel)
	case "gemini", "":
		e, err := llm.NewGeminiEmbedder(ctx, cfg.AIAPIKey, cfg.EmbedModel)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, e.Close)
		return e, nil
	}
	return nil, fmt.Errorf("unknown EMBED_PROVIDER %q", cfg.EmbedProvider)
}

// newModels returns the vision and speech families. Speech always runs on the
// sidecar; vision can be delegated to Gemini when no local GPU is available.
func (a *App) newModels(ctx context.Context, cfg *config.Config) (core.VisionModel, core.SpeechModel, error) {
	sidecar := inference.NewSidecarClient(cfg.InferenceURL, cfg.InferenceTimeout)

	switch cfg.VisionProvider {
	case "gemini":
		v, err := llm.NewGeminiVision(ctx, cfg.AIAPIKey, cfg.VisionModel)
		if err != nil {
			return nil, nil, fmt.Errorf("couldn't initialize gemini vision, %w", err)
		}
		a.closers = append(a.closers, v.Close)
		return v, sidecar.Speech(), nil
	case "sidecar", "":
		return sidecar.Vision(), sidecar.Speech(), nil
	}
	return nil, nil, fmt.Errorf("unknown VISION_PROVIDER %q", cfg.VisionProvider)
}

// StartWorkers starts the pipeline and the background loops, then re-enqueues
// anything a previous process left unfinished.
func (a *App) StartWorkers(ctx context.Context) error {
	a.Pipeline.Start(ctx)
	if a.fanout != nil {
		go a.fanout.Run(ctx)
	}
	if a.scheduler != nil {
		a.scheduler.Start(ctx)
	}

	n, err := a.Pipeline.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recover unfinished items: %w", err)
	}
	if n > 0 {
		a.log.Info("app", "re-enqueued unfinished items", map[string]interface{}{"count": n})
	}
	return nil
}

func (a *App) Close() {
	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	if a.Pipeline != nil {
		a.Pipeline.Close()
	}
	if a.events != nil {
		a.events.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("app", "close failed", map[string]interface{}{"error": err.Error()})
		}
	}
	if a.DBClient != nil {
		_ = a.DBClient.Close()
	}
}
