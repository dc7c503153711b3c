package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aethra/domus/internal/api"
	"github.com/aethra/domus/internal/auth"
	"github.com/aethra/domus/internal/config"
	"github.com/aethra/domus/internal/database"
	"github.com/aethra/domus/internal/engine"
	"github.com/aethra/domus/internal/logging"
	"github.com/aethra/domus/internal/metrics"
	"github.com/aethra/domus/internal/models"
	"github.com/aethra/domus/internal/realtime"
	"github.com/aethra/domus/internal/scheduler"
	"github.com/aethra/domus/internal/seed"
	"github.com/aethra/domus/internal/storage"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// app holds what every command needs: configuration, logger and an open,
// migrated database
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *gorm.DB
}

func bootstrap(configPath string, migrate bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Service)
	if err != nil {
		return nil, err
	}
	db, err := database.Open(cfg.Database, logger)
	if err != nil {
		return nil, err
	}
	if migrate {
		if err := database.RunMigrations(db, logger); err != nil {
			database.Close(db)
			return nil, fmt.Errorf("migration failed: %w", err)
		}
	}
	return &app{cfg: cfg, logger: logger, db: db}, nil
}

func (a *app) close() {
	if err := database.Close(a.db); err != nil {
		a.logger.Warn("Closing database failed", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// engines builds the engines without realtime delivery, for one-shot commands
func (a *app) engines(settings *config.SettingsService) *engine.Engines {
	return engine.New(a.db, engine.Options{
		Logger:   a.logger,
		Settings: settings,
		Store:    objectStore(a.cfg.Storage, a.logger),
		Observer: metrics.Business{},
	})
}

func objectStore(cfg config.StorageConfig, logger *zap.Logger) engine.ObjectStore {
	if cfg.BaseURL == "" {
		logger.Warn("No storage backend configured, documents are kept in memory")
		return storage.NewMemoryStore()
	}
	return storage.NewClient(cfg, logger)
}

func revoker(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (auth.Revoker, func()) {
	if cfg.Addr == "" {
		return auth.NewMemoryRevoker(), func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("Redis unreachable at startup", zap.String("addr", cfg.Addr), zap.Error(err))
	}
	return auth.NewRedisRevoker(client), func() { _ = client.Close() }
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server and the scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(*configPath)
		},
	}
}

func runServer(configPath string) error {
	a, err := bootstrap(configPath, true)
	if err != nil {
		return err
	}
	defer a.close()
	cfg, logger := a.cfg, a.logger

	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required (DOMUS_AUTH_JWT_SECRET)")
	}
	logger.Info("Starting", zap.String("version", Version), zap.String("port", cfg.Server.Port))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	settings := config.NewSettingsService(a.db)
	hub := realtime.NewHub(logger, cfg.CORS.AllowedOrigins)
	defer hub.Close()
	tokens, closeRevoker := revoker(ctx, cfg.Redis, logger)
	defer closeRevoker()

	engines := engine.New(a.db, engine.Options{
		Logger:    logger,
		Settings:  settings,
		Store:     objectStore(cfg.Storage, logger),
		Publisher: hub,
		Observer:  metrics.Business{},
	})

	sched := scheduler.New(engines, cfg.Scheduler, logger)
	if cfg.Scheduler.Enabled {
		if err := sched.Start(); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
	}

	router := api.SetupRouter(api.Dependencies{
		Engines:  engines,
		Settings: settings,
		JWT:      auth.NewJWTService(cfg.Auth),
		Revoker:  tokens,
		Hub:      hub,
		Logger:   logger,
		Config:   cfg,
		Version:  Version,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	sched.Stop(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
		return err
	}
	logger.Info("Server stopped")
	return nil
}

func migrateCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dryRun, _ := cmd.Flags().GetBool("dry-run")

			a, err := bootstrap(*configPath, false)
			if err != nil {
				return err
			}
			defer a.close()

			migrator := database.NewMigrator(a.db, a.logger)
			if dryRun {
				pending, err := migrator.Pending()
				if err != nil {
					return err
				}
				if len(pending) == 0 {
					fmt.Println("No pending migrations.")
					return nil
				}
				fmt.Println("Pending migrations:")
				for _, version := range pending {
					fmt.Printf("  %s\n", version)
				}
				return nil
			}

			applied, err := migrator.Up()
			if err != nil {
				return err
			}
			fmt.Printf("Applied %d migration(s)\n", applied)
			return nil
		},
	}
	cmd.Flags().Bool("dry-run", false, "list pending migrations without applying them")
	return cmd
}

func seedCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load fixtures from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("file")

			fixtures, err := seed.Load(file)
			if err != nil {
				return err
			}
			a, err := bootstrap(*configPath, true)
			if err != nil {
				return err
			}
			defer a.close()

			settings := config.NewSettingsService(a.db)
			res, err := seed.Apply(cmd.Context(), a.engines(settings), settings, fixtures, a.logger)
			if err != nil {
				return err
			}
			fmt.Printf("Seeded %d admin(s), %d building(s), %d apartment(s), %d tenant(s), %d lease(s), %d setting(s); skipped %d existing\n",
				res.Admins, res.Buildings, res.Apartments, res.Tenants, res.Leases, res.Settings, res.Skipped)
			return nil
		},
	}
	cmd.Flags().StringP("file", "f", "configs/seed.yaml", "fixtures file")
	return cmd
}

func adminCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage staff accounts",
	}

	create := &cobra.Command{
		Use:   "create",
		Short: "Create an administrator or manager account",
		RunE: func(cmd *cobra.Command, args []string) error {
			in := engine.AdminInput{}
			in.Email, _ = cmd.Flags().GetString("email")
			in.Password, _ = cmd.Flags().GetString("password")
			in.FirstName, _ = cmd.Flags().GetString("first")
			in.LastName, _ = cmd.Flags().GetString("last")
			in.Role, _ = cmd.Flags().GetString("role")

			a, err := bootstrap(*configPath, true)
			if err != nil {
				return err
			}
			defer a.close()

			admin, err := a.engines(config.NewSettingsService(a.db)).Admins.Create(cmd.Context(), engine.SystemActor(), in)
			if err != nil {
				return err
			}
			fmt.Printf("Created %s %s (%s)\n", admin.Role, admin.Email, admin.ID)
			return nil
		},
	}
	create.Flags().String("email", "", "login email")
	create.Flags().String("password", "", "initial password")
	create.Flags().String("first", "Admin", "first name")
	create.Flags().String("last", "User", "last name")
	create.Flags().String("role", models.RoleAdmin, "admin or manager")
	_ = create.MarkFlagRequired("email")
	_ = create.MarkFlagRequired("password")

	cmd.AddCommand(create)
	return cmd
}

func importCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Copy buildings and apartments from a legacy database",
		RunE: func(cmd *cobra.Command, args []string) error {
			var src engine.SourceConfig
			src.Driver, _ = cmd.Flags().GetString("driver")
			src.DSN, _ = cmd.Flags().GetString("dsn")
			if src.DSN == "" {
				return errors.New("--dsn is required")
			}

			a, err := bootstrap(*configPath, true)
			if err != nil {
				return err
			}
			defer a.close()

			conn, err := engine.OpenSource(cmd.Context(), src)
			if err != nil {
				return err
			}
			defer conn.Close()

			res, err := a.engines(config.NewSettingsService(a.db)).Import.ImportFrom(cmd.Context(), engine.SystemActor(), conn)
			if err != nil {
				return err
			}
			fmt.Printf("Buildings: %d created, %d skipped\n", res.BuildingsCreated, res.BuildingsSkipped)
			fmt.Printf("Apartments: %d created, %d skipped\n", res.ApartmentsCreated, res.ApartmentsSkipped)
			for _, e := range res.Errors {
				fmt.Fprintf(os.Stderr, "  %s\n", e)
			}
			return nil
		},
	}
	cmd.Flags().String("driver", "postgres", "source driver: postgres or mysql")
	cmd.Flags().String("dsn", "", "source connection string")
	return cmd
}
