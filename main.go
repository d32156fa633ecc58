package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/kratadata/quartier-atlas/internal/artifacts"
	"github.com/kratadata/quartier-atlas/internal/config"
	"github.com/kratadata/quartier-atlas/internal/districts"
	"github.com/kratadata/quartier-atlas/internal/gallery"
	"github.com/kratadata/quartier-atlas/internal/generator"
	"github.com/kratadata/quartier-atlas/internal/labeler"
	"github.com/kratadata/quartier-atlas/internal/logging"
	"github.com/kratadata/quartier-atlas/internal/middleware"
	"github.com/kratadata/quartier-atlas/internal/notify"
	"github.com/kratadata/quartier-atlas/internal/photo"
	"github.com/kratadata/quartier-atlas/internal/pipeline"
	"github.com/kratadata/quartier-atlas/internal/placements"
)

func RootHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintln(w, "ok")
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	catalog := districts.NewCatalog(districts.NewHTTPLoader(cfg.Districts.DatasetURL, cfg.Districts.Keys()), logger.With("component", "districts"))
	resolver := districts.NewResolver(catalog, cfg.Districts.OutsideName, logger.With("component", "districts"))
	// Warm the dataset in the background; requests load it on demand anyway.
	go func() {
		if err := resolver.EnsureLoaded(ctx); err != nil {
			logger.Warn("district dataset not loaded at startup", "error", err)
		}
	}()

	vision, err := newLabeler(cfg.Labeler)
	if err != nil {
		return err
	}

	store, err := newArtifactStore(cfg)
	if err != nil {
		return err
	}

	positions, err := placements.Open(ctx, placements.Options{
		Backend:    cfg.Placements.Backend,
		File:       cfg.Placements.File,
		SQLitePath: cfg.Placements.SQLitePath,
		DSN:        cfg.Placements.DSN,
		Verbose:    cfg.Log.SQL,
	})
	if err != nil {
		return fmt.Errorf("open placements: %w", err)
	}
	defer positions.Close()

	gps := photo.NewDefaultReader(cfg.Photo.ExiftoolCommand, logger.With("component", "photo"))
	defer gps.Close()

	deps := pipeline.Deps{
		Normalizer: photo.NewConverter(photo.ConverterConfig{
			JPEGQuality:  cfg.Photo.JPEGQuality,
			MaxDimension: cfg.Photo.MaxDimension,
		}, logger.With("component", "photo")),
		GPS:       gps,
		Locator:   resolver,
		Labeler:   vision,
		Generator: generator.NewFalClient(cfg.Generation.FalKey, cfg.Generation.Workflow, logger.With("component", "generator")),
		Store:     store,
		Recorder:  positions,
		Logger:    logger.With("component", "pipeline"),
	}

	if cfg.MQTT.Broker != "" {
		announcer, client, err := notify.Dial(cfg.MQTT.Broker, cfg.MQTT.ClientID, cfg.MQTT.Topic, logger.With("component", "mqtt"))
		if err != nil {
			logger.Warn("mqtt unavailable, announcements disabled", "broker", cfg.MQTT.Broker, "error", err)
		} else {
			defer client.Disconnect(250)
			deps.Announcer = announcer
		}
	}

	p, err := pipeline.New(pipeline.Config{
		Style:         cfg.Generation.Style(),
		ErrorTemplate: cfg.Generation.ErrorTemplate,
	}, deps)
	if err != nil {
		return err
	}

	api := gallery.SetupRoutes(&gallery.Handlers{
		Runner:         p,
		Placements:     positions,
		Artifacts:      store,
		Locator:        resolver,
		UploadDir:      cfg.Server.UploadDir,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		Logger:         logger.With("component", "api"),
	}, gallery.RouteOptions{
		AdminPasswordHash: cfg.Server.AdminPasswordHash,
		GeneratePerMinute: cfg.Server.GeneratePerMinute,
		GenerateBurst:     cfg.Server.GenerateBurst,
	})

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(cfg.Server.CORSOrigins))

	r.Get("/healthz", RootHealth)
	r.Mount("/api", api)
	serveDir(r, cfg.Storage.LocalPrefix, cfg.Storage.LocalDir)
	serveDir(r, "/placeholders", cfg.Server.PlaceholderDir)
	serveDir(r, "/", cfg.Server.PublicDir)

	// No write timeout: generation streams stay open for minutes.
	srv := &http.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%d", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr, "labeler", cfg.Labeler.Backend, "placements", cfg.Placements.Backend, "r2", cfg.Storage.R2.Enabled())
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// newLabeler returns nil for the "none" backend; the pipeline then labels
// every photo with the fallback word.
func newLabeler(cfg config.LabelerConfig) (labeler.Labeler, error) {
	switch cfg.Backend {
	case "replicate":
		return labeler.NewReplicateLabeler(cfg.Token, cfg.Model, cfg.Prompt), nil
	case "ollama":
		l, err := labeler.NewOllamaLabeler(cfg.Endpoint, cfg.Model, cfg.Prompt)
		if err != nil {
			return nil, err
		}
		return l, nil
	}
	return nil, nil
}

// newArtifactStore writes to R2 when configured and always keeps the local
// directory so older local URLs stay deletable.
func newArtifactStore(cfg config.Config) (artifacts.Store, error) {
	local, err := artifacts.NewLocalStore(cfg.Storage.LocalDir, cfg.Storage.LocalPrefix, cfg.Server.PublicDir)
	if err != nil {
		return nil, err
	}
	if !cfg.Storage.R2.Enabled() {
		return artifacts.Multi{local}, nil
	}

	r2, err := artifacts.NewR2Store(artifacts.R2Config{
		AccountID:       cfg.Storage.R2.AccountID,
		AccessKeyID:     cfg.Storage.R2.AccessKeyID,
		SecretAccessKey: cfg.Storage.R2.SecretAccessKey,
		Bucket:          cfg.Storage.R2.Bucket,
		PublicURL:       cfg.Storage.R2.PublicURL,
	})
	if err != nil {
		return nil, err
	}
	return artifacts.Multi{r2, local}, nil
}

func serveDir(r chi.Router, prefix, dir string) {
	if dir == "" {
		return
	}
	prefix = "/" + strings.Trim(prefix, "/")
	fs := http.FileServer(http.Dir(dir))
	if prefix == "/" {
		r.Handle("/*", fs)
		return
	}
	r.Handle(prefix+"/*", http.StripPrefix(prefix, fs))
}
