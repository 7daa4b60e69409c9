// Package app initializes and runs the safety engine. It wires storage,
// policy, the session and strike services, and the terminal front-end,
// handles graceful shutdown, and runs the background sweeps (expired
// sessions, birthday age bumps).
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/brightnest/haven/internal/audit"
	"github.com/brightnest/haven/internal/backup"
	"github.com/brightnest/haven/internal/classifier"
	"github.com/brightnest/haven/internal/cli"
	"github.com/brightnest/haven/internal/common"
	"github.com/brightnest/haven/internal/config"
	"github.com/brightnest/haven/internal/dashboard"
	"github.com/brightnest/haven/internal/engine"
	"github.com/brightnest/haven/internal/inference"
	"github.com/brightnest/haven/internal/logging"
	"github.com/brightnest/haven/internal/policy"
	"github.com/brightnest/haven/internal/profile"
	"github.com/brightnest/haven/internal/session"
	"github.com/brightnest/haven/internal/storage"
	"github.com/brightnest/haven/internal/strikes"
)

const (
	sweepInterval    = time.Minute
	birthdayInterval = time.Hour
)

type App struct {
	config *config.Config
	logger logging.Logger
	store  *profile.Store
	engine *engine.Engine
	repos  *storage.Repositories
	cli    *cli.App
}

func NewApp(c *config.Config) (*App, error) {

	slogger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	logger := logging.NewSlogLogger(slogger)

	store, err := profile.NewStore(c.DataDir, logger)
	if err != nil {
		return nil, fmt.Errorf("profile store init error: %w", err)
	}

	repos, err := storage.InitDatabase(context.Background(), filepath.Join(c.DataDir, "haven.db"))
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	// An explicitly configured bundle that fails to load is a startup
	// error the parent has to see and fix; silently running without it
	// would hide the misconfiguration behind blocked chats.
	bundle := policy.Default()
	if c.PolicyBundlePath != "" {
		bundle, err = policy.Load(c.PolicyBundlePath)
		if err != nil {
			return nil, fmt.Errorf("policy bundle %s: %w", c.PolicyBundlePath, err)
		}
	}

	auditor := audit.NewLog(audit.DirFunc(store.ProfileDir), logger)
	alerter := audit.NewLogAlerter(logger)
	tracker := strikes.NewTracker(c.StrikeLimit, strikes.DirFunc(store.ProfileDir), logger)
	sessions := session.NewManager(c.IdleWarnAfter, c.IdleExpireAfter, c.SessionMaxDuration, logger)

	cls := classifier.New(bundle, tracker, auditor, alerter, logger)
	model := inference.NewOllamaClient(c.InferenceEndpoint, c.InferenceModel, logger)
	eng := engine.New(store, sessions, cls, tracker, auditor, model, repos, logger)

	dash := dashboard.New(store, tracker, auditor, repos,
		[]byte(c.SecretKey), c.AccessTokenValidityDuration, c.RefreshTokenValidityDuration, logger)

	var exporter *backup.Exporter
	if c.BackupEnabled {
		exporter = backup.NewExporter(c.DataDir, store, backup.S3Options{
			Region:       c.S3Region,
			RootUser:     c.S3RootUser,
			RootPassword: c.S3RootPassword,
			Bucket:       c.S3Bucket,
			BaseEndpoint: c.S3BaseEndpoint,
		}, logger)
	}

	cliApp := cli.NewApp(store, eng, dash, exporter, logger)

	return &App{
		config: c,
		logger: logger,
		store:  store,
		engine: eng,
		repos:  repos,
		cli:    cliApp,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// runSweeper expires idle and over-limit sessions and, less often, applies
// pending birthday age bumps. Birthday bumps need the record key, so they
// are skipped while the store is locked and picked up after the next login.
func (app *App) runSweeper(ctx context.Context) {
	sweep := time.NewTicker(sweepInterval)
	defer sweep.Stop()
	birthdays := time.NewTicker(birthdayInterval)
	defer birthdays.Stop()

	app.applyBirthdays(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			app.engine.Sweep(ctx)
		case <-birthdays.C:
			app.applyBirthdays(ctx)
		}
	}
}

func (app *App) applyBirthdays(ctx context.Context) {
	n, err := app.store.ApplyBirthdays(ctx)
	if err != nil {
		if !errors.Is(err, common.ErrAuthentication) && !errors.Is(err, common.ErrNotFound) {
			app.logger.Error(ctx, "birthday sweep failed", "error", err.Error())
		}
		return
	}
	if n > 0 {
		app.logger.Info(ctx, "profiles aged up", "count", n)
	}
}

func (app *App) Run(ctx context.Context) {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	go app.runSweeper(ctx)

	go func() {
		app.cli.Run(ctx)
		cancelFunc()
	}()

	<-ctx.Done()
	app.store.Lock()
	if err := app.repos.DB.Close(); err != nil {
		app.logger.Error(context.Background(), "closing database", "error", err.Error())
	}
	// the REPL goroutine may still be blocked on stdin; exiting main
	// releases it
	app.logger.Info(context.Background(), "Shutting down...")
}
