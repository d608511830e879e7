package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/kaushikharsh99/Dropvault/internal/api/handlers"
	appMiddleware "github.com/kaushikharsh99/Dropvault/internal/api/middlewares"
	"github.com/kaushikharsh99/Dropvault/internal/config"
	"github.com/kaushikharsh99/Dropvault/internal/pkg/logger"
)

type Server struct {
	httpServer *http.Server
	log        logger.ILogger
}

func NewServer(cfg *config.Config, a *App, log logger.ILogger) *Server {
	itemHandler := handlers.NewItemHandler(a.Items, log)
	searchHandler := handlers.NewSearchHandler(a.Engine, log)
	progressHandler := handlers.NewProgressHandler(a.Broadcaster, log)

	var github handlers.RepoSyncer
	if a.GitHub != nil {
		github = a.GitHub
	}
	syncHandler := handlers.NewSyncHandler(github, log)

	return &Server{
		httpServer: &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           newRouter(cfg, a, itemHandler, searchHandler, progressHandler, syncHandler, log),
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: log,
	}
}

func newRouter(
	cfg *config.Config,
	a *App,
	items *handlers.ItemHandler,
	search *handlers.SearchHandler,
	progress *handlers.ProgressHandler,
	sync *handlers.SyncHandler,
	log logger.ILogger,
) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8888"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", handlers.Health(a.Pipeline))

	// Serve static files from the web directory
	r.Handle("/*", http.FileServer(http.Dir("./web")))

	r.Route("/api", func(api chi.Router) {
		api.Use(appMiddleware.JWTMiddleware(cfg.JWTSecret))

		// the event stream lives as long as the client stays connected
		api.Get("/progress", progress.Stream)

		api.Group(func(protected chi.Router) {
			protected.Use(middleware.Timeout(60 * time.Second))
			protected.Post("/items", items.CreateItem)
			protected.Get("/items", items.ListItems)
			protected.Get("/items/{id}", items.GetItem)
			protected.Delete("/items/{id}", items.DeleteItem)
			protected.Get("/search", search.Search)
			protected.Post("/sync/github", sync.SyncGitHub)
		})
	})

	return r
}

func requestLogger(log logger.ILogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Info("http", "request", map[string]interface{}{
				"method":     r.Method,
				"path":       r.URL.Path,
				"status":     ww.Status(),
				"bytes":      ww.BytesWritten(),
				"duration":   time.Since(start).String(),
				"request_id": middleware.GetReqID(r.Context()),
			})
		})
	}
}

// Start blocks until the server stops. A graceful Shutdown returns nil.
func (s *Server) Start() error {
	s.log.Info("http", "server listening", map[string]interface{}{"addr": s.httpServer.Addr})
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("http", "shutting down server", nil)
	return s.httpServer.Shutdown(ctx)
}
