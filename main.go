// This is the main entry point of the postboard application.
// It loads configuration, opens the database and dispatches to one of the CLI commands:
// serving the HTTP API, running migrations or creating a superuser.
// @title Postboard API
// @version 1.0
// @description Blog backend: accounts, JWT authentication and owner-scoped posts.
// @contact.name API Support
// @license.name MIT
// @license.url https://opensource.org/licenses/MIT
// @BasePath /
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type 'Bearer YOUR_JWT_TOKEN' to authorize
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/user/postboard/apperror"
	"github.com/user/postboard/background"
	"github.com/user/postboard/config"
	"github.com/user/postboard/db"
	"github.com/user/postboard/enrichment"
	"github.com/user/postboard/server"
	"github.com/user/postboard/users"
)

// env is what every command needs: configuration, a logger and an open database.
type env struct {
	cfg    *config.AppConfig
	logger *zap.Logger
	db     *db.DB
}

func setup(ctx context.Context) (*env, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	logger, err := server.NewLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	database, err := db.Open(ctx, cfg.Database)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	logger.Debug("configuration loaded", zap.Stringer("config", cfg))
	return &env{cfg: cfg, logger: logger, db: database}, nil
}

func (e *env) close() {
	if err := e.db.Close(); err != nil {
		e.logger.Warn("error closing database", zap.Error(err))
	}
	_ = e.logger.Sync()
}

// withEnv runs fn with a ready env that is torn down afterwards.
func withEnv(fn func(c *cli.Context, e *env) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		e, err := setup(c.Context)
		if err != nil {
			return err
		}
		defer e.close()
		return fn(c, e)
	}
}

func serve(c *cli.Context, e *env) error {
	if e.cfg.Database.AutoMigrate {
		if err := db.RunMigrations(e.db); err != nil {
			return err
		}
		e.logger.Info("migrations applied")
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	enricher := enrichment.New(e.cfg.Enrichment)
	srv := server.New(e.cfg, e.db, enricher, e.logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	if e.cfg.Enrichment.Enabled && e.cfg.Enrichment.BackfillInterval > 0 {
		backfill := background.NewEnrichmentBackfill(e.db, enricher, e.cfg.Enrichment, e.logger)
		g.Go(func() error { return backfill.Run(gctx) })
	}
	return g.Wait()
}

func migrateUp(_ *cli.Context, e *env) error {
	if err := db.RunMigrations(e.db); err != nil {
		return err
	}
	version, dirty, err := db.MigrationVersion(e.db)
	if err != nil {
		return err
	}
	e.logger.Info("migrations applied", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

func migrateDown(c *cli.Context, e *env) error {
	steps := c.Int("steps")
	if err := db.RollbackMigrations(e.db, steps); err != nil {
		return err
	}
	e.logger.Info("migrations rolled back", zap.Int("steps", steps))
	return nil
}

func createSuperuser(c *cli.Context, e *env) error {
	svc := users.NewUserService(e.db, nil, e.logger)
	user, err := svc.CreateSuperuser(c.Context, users.CreateUserRequest{
		Email:    c.String("email"),
		Username: c.String("username"),
		Password: c.String("password"),
	})
	if err != nil {
		if appErr, ok := apperror.FromError(err); ok && len(appErr.Fields) > 0 {
			return fmt.Errorf("%s: %v", appErr.Message, appErr.Fields)
		}
		return err
	}
	fmt.Fprintf(c.App.Writer, "Superuser %q created (id %d).\n", user.Username, user.ID)
	return nil
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "postboard",
		Usage: "blog backend with owner-scoped posts",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API",
				Action: withEnv(serve),
			},
			{
				Name:  "migrate",
				Usage: "manage the database schema",
				Subcommands: []*cli.Command{
					{
						Name:   "up",
						Usage:  "apply all pending migrations",
						Action: withEnv(migrateUp),
					},
					{
						Name:  "down",
						Usage: "roll back migrations",
						Flags: []cli.Flag{
							&cli.IntFlag{Name: "steps", Value: 1, Usage: "number of migrations to roll back"},
						},
						Action: withEnv(migrateDown),
					},
				},
			},
			{
				Name:  "createsuperuser",
				Usage: "create an account with staff and superuser rights",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "email", Required: true},
					&cli.StringFlag{Name: "username", Usage: "defaults to the email"},
					&cli.StringFlag{Name: "password", Required: true, EnvVars: []string{"SUPERUSER_PASSWORD"}},
				},
				Action: withEnv(createSuperuser),
			},
		},
		// Running the binary without a command serves the API.
		Action: withEnv(serve),
	}
}

func main() {
	// Load .env file. In production, variables are usually set directly.
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found or error loading it: %v", err)
	}

	if err := newApp().Run(os.Args); err != nil {
		log.Fatalf("postboard: %v", err)
	}
}
