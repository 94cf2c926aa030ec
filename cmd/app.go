package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/kozaktomas/missing-persons/internal/config"
	"github.com/kozaktomas/missing-persons/internal/database"
	"github.com/kozaktomas/missing-persons/internal/database/mariadb"
	"github.com/kozaktomas/missing-persons/internal/database/postgres"
	"github.com/kozaktomas/missing-persons/internal/database/redisstore"
	"github.com/kozaktomas/missing-persons/internal/faceenc"
	"github.com/kozaktomas/missing-persons/internal/facematch"
	"github.com/kozaktomas/missing-persons/internal/logging"
	"github.com/kozaktomas/missing-persons/internal/metrics"
	"github.com/kozaktomas/missing-persons/internal/notify"
	"github.com/kozaktomas/missing-persons/internal/reports"
	"github.com/kozaktomas/missing-persons/internal/uploads"
)

// app holds what every command needs after bootstrapping.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	backend *database.Backend
}

// bootstrap loads the configuration, builds the logger and opens the
// database selected by DATABASE_DRIVER. Pending migrations are applied.
func bootstrap(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(&cfg.Log, os.Stderr)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	backend, applied, err := openBackend(ctx, &cfg.Database)
	if err != nil {
		return nil, err
	}
	for _, name := range applied {
		logger.Info("applied migration", "name", name, "backend", backend.Name)
	}
	return &app{cfg: cfg, logger: logger, backend: backend}, nil
}

func openBackend(ctx context.Context, cfg *config.DatabaseConfig) (*database.Backend, []string, error) {
	switch cfg.Driver {
	case "postgres":
		return postgres.Open(ctx, cfg)
	case "mysql":
		return mariadb.Open(ctx, cfg)
	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func (a *app) Close() error {
	return a.backend.Close()
}

// sessionStore returns the persistence used by the session manager. A nil
// store keeps sessions in process memory only.
func (a *app) sessionStore(ctx context.Context) (database.SessionStore, error) {
	switch a.cfg.Sessions.Store {
	case "redis":
		store, err := redisstore.New(ctx, a.cfg.Sessions.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		a.backend.OnClose(store.Close)
		a.logger.Info("session persistence enabled", "store", "redis")
		return store, nil
	case "memory":
		a.logger.Warn("sessions are kept in memory and lost on restart")
		return nil, nil
	default:
		a.logger.Info("session persistence enabled", "store", a.backend.Name)
		return a.backend.Sessions, nil
	}
}

// notifier returns the SMTP notifier, or a logging one when SMTP is not
// configured.
func (a *app) notifier() (notify.Notifier, error) {
	if !a.cfg.SMTP.Enabled() {
		a.logger.Warn("SMTP_HOST not set, guardian notifications are only logged")
		return notify.NewLogNotifier(a.logger), nil
	}
	n, err := notify.NewSMTPNotifier(&a.cfg.SMTP)
	if err != nil {
		return nil, err
	}
	return n, nil
}

// reportsService wires the encoder, matcher, notifier and upload store.
func (a *app) reportsService(ctx context.Context, m *metrics.Metrics) (*reports.Service, error) {
	encoder, err := faceenc.New(&a.cfg.Face)
	if err != nil {
		return nil, fmt.Errorf("failed to create face encoder: %w", err)
	}
	if c, ok := encoder.(interface{ Close() error }); ok {
		a.backend.OnClose(c.Close)
	}

	metric, err := database.ParseMetric(a.cfg.Face.Metric)
	if err != nil {
		return nil, err
	}
	matcher := facematch.NewMatcher(a.backend.Persons, metric, a.cfg.Face.Tolerance)
	if a.cfg.Face.Index == "hnsw" {
		n, err := matcher.EnableIndex(ctx)
		if err != nil {
			a.logger.Warn("failed to build face index, falling back to database search", "error", err)
		} else {
			a.logger.Info("face index built", "persons", n)
		}
	}

	notifier, err := a.notifier()
	if err != nil {
		return nil, err
	}

	store, err := uploads.NewStore(a.cfg.Uploads.Dir)
	if err != nil {
		return nil, err
	}

	return reports.NewService(reports.Deps{
		Persons:      a.backend.Persons,
		Matches:      a.backend.Matches,
		Encoder:      encoder,
		Matcher:      matcher,
		Notifier:     notifier,
		Uploads:      store,
		Metrics:      m,
		Logger:       a.logger,
		MaxImageSize: a.cfg.Uploads.MaxImageSize,
	}), nil
}
