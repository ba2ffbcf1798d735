package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/abdo90-dev/ecole-v2/internal/config"
	"github.com/abdo90-dev/ecole-v2/internal/domain"
	"github.com/abdo90-dev/ecole-v2/internal/handler"
	"github.com/abdo90-dev/ecole-v2/internal/repository/sqlite"
	"github.com/abdo90-dev/ecole-v2/internal/repository/sqlite/migrations"
	"github.com/abdo90-dev/ecole-v2/internal/service"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "ecole",
		Short:         "Student records administration server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "ecole.yaml", "Config file path (YAML, optional)")

	load := func() (*config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		level, _ := cfg.LogLevel()
		setupLogging(level)
		return cfg, nil
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP server",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := load()
				if err != nil {
					return err
				}
				return serve(cfg)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply pending migrations and print their status",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg, err := load()
				if err != nil {
					return err
				}
				return migrate(cmd.Context(), cfg)
			},
		},
		adminCmd(load),
	)
	return cmd
}

func adminCmd(load func() (*config.Config, error)) *cobra.Command {
	var email, password, firstName, lastName string

	create := &cobra.Command{
		Use:   "create",
		Short: "Create an administrator account",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return createAdmin(cmd.Context(), cfg, email, password, firstName, lastName)
		},
	}
	create.Flags().StringVar(&email, "email", "", "Administrator e-mail")
	create.Flags().StringVar(&password, "password", "", "Administrator password (at least 8 characters)")
	create.Flags().StringVar(&firstName, "first-name", "", "First name")
	create.Flags().StringVar(&lastName, "last-name", "", "Last name")
	for _, name := range []string{"email", "password", "first-name", "last-name"} {
		_ = create.MarkFlagRequired(name)
	}

	admin := &cobra.Command{
		Use:   "admin",
		Short: "Manage administrator accounts",
	}
	admin.AddCommand(create)
	return admin
}

func setupLogging(level slog.Level) {
	logOpts := &slog.HandlerOptions{Level: level}
	logger := slog.New(slog.NewMultiHandler(
		slog.NewTextHandler(os.Stdout, logOpts),
		slog.NewJSONHandler(os.Stderr, logOpts),
	))
	slog.SetDefault(logger)
}

func openDB(ctx context.Context, cfg *config.Config) (*sqlite.DB, error) {
	db, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")
	return db, nil
}

func serve(cfg *config.Config) error {
	// Graceful shutdown on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	store := db.Documents()
	idp := db.Identity(cfg.Auth.JWTSecret, cfg.Auth.BcryptCost, cfg.SessionDuration())

	users := service.OpenUsers(ctx, store)
	defer users.Close()
	specialties := service.NewSpecialtyRepository(ctx, store)
	defer specialties.Close()
	students := service.NewStudentRepository(ctx, store, users, service.WithCredentials(idp))
	defer students.Close()

	engine := service.NewStatsEngine(students, specialties, users)
	defer engine.Stop()

	scheduler := service.NewScheduler(engine, time.Local)
	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	defer scheduler.Stop()
	slog.Info("stats refresh scheduled", "next", scheduler.Next())

	limiter := service.NewTokenBucket(cfg.Auth.SignInRate, cfg.Auth.SignInBurst)
	defer limiter.Stop()

	sessions := service.NewSessionManager(idp, store, limiter)
	defer sessions.Close()

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux, handler.Deps{
		Sessions:     sessions,
		Auth:         service.NewAuthService(idp, store),
		Specialties:  specialties,
		Students:     students,
		Engine:       engine,
		CookieSecure: cfg.Auth.CookieSecure,
		SessionTTL:   cfg.SessionDuration(),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           handler.SecurityHeaders(mux),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if err := sessions.Start(ctx); err != nil {
		slog.Error("restore session", "error", err)
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	slog.Info("server stopped")
	return nil
}

func migrate(ctx context.Context, cfg *config.Config) error {
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	status, err := migrations.Status(ctx, db.SqlDB)
	if err != nil {
		return fmt.Errorf("migration status: %w", err)
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MIGRATION\tAPPLIED")
	for _, m := range status {
		fmt.Fprintf(tw, "%s\t%t\n", m.Filename, m.Applied)
	}
	return tw.Flush()
}

func createAdmin(ctx context.Context, cfg *config.Config, email, password, firstName, lastName string) error {
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	idp := db.Identity(cfg.Auth.JWTSecret, cfg.Auth.BcryptCost, cfg.SessionDuration())
	sessions := service.NewSessionManager(idp, db.Documents(), nil)
	defer sessions.Close()

	// The persisted session of a running server is left untouched.
	user, err := sessions.Provision(ctx, email, password, firstName, lastName, domain.RoleAdmin)
	if err != nil {
		return err
	}

	slog.Info("administrator created", "uid", user.ID, "email", user.Email)
	return nil
}
