// Package main provides the codemaestro binary entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/feilong2k/codemaestro/internal/config"
	"github.com/feilong2k/codemaestro/internal/container"
	"github.com/feilong2k/codemaestro/pkg/database"
	"github.com/feilong2k/codemaestro/pkg/utils"
)

// Version is overridden at build time with -ldflags "-X main.Version=..."
var Version = "dev"

func main() {
	// .env is optional
	_ = gotenv.Load()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:          "codemaestro",
		Short:        "Multi-agent TDD orchestration server",
		SilenceUsage: true,
		Long: `CodeMaestro drives subtasks through a test-driven lifecycle.

Role agents (orchestrator, tester, developer) act on the subtasks they own
and their replies are turned into file writes, state transitions and
notifications. Workflow definitions are stored as data and can be evolved
from recorded outcomes.`,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "Config file path (YAML)")

	cmd.AddCommand(
		serveCmd(&configPath),
		migrateCmd(&configPath),
		seedCmd(&configPath),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("codemaestro version %s\n", Version)
			},
		},
	)

	return cmd
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the agent loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			return serve(cmd.Context(), cfg, logger)
		},
	}
}

func serve(parent context.Context, cfg *config.Config, logger *zap.Logger) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting CodeMaestro",
		zap.String("version", Version),
		zap.Int("port", cfg.Server.Port),
		zap.Bool("agents", cfg.Agents.Enabled))

	c, err := container.NewContainer(cfg.ToContainerConfig(Version), logger)
	if err != nil {
		return err
	}
	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return err
	}

	if err := c.EnsureWorkflows(ctx); err != nil {
		_ = c.Close()
		return fmt.Errorf("failed to ensure workflows: %w", err)
	}

	server := c.HTTPServer()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down")
		return c.Close()
	})

	if err := g.Wait(); err != nil {
		return err
	}

	logger.Info("CodeMaestro exited successfully")
	return nil
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			db, err := openDatabase(cfg, logger)
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := database.NewMigrator(db, logger).RunMigrations()
			if err != nil {
				return err
			}
			fmt.Printf("applied %d migration(s)\n", applied)
			return nil
		},
	}
}

func seedCmd(configPath *string) *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Store the subtask lifecycle and the workflow YAML definitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := bootstrap(*configPath)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			if dir == "" {
				dir = cfg.Workflows.Dir
			}

			containerCfg := cfg.ToContainerConfig(Version)
			db, err := container.ProvideDatabase(&containerCfg.Database, logger)
			if err != nil {
				return err
			}
			defer db.DB.Close()

			repos, err := container.ProvideRepositories(db.DB, logger)
			if err != nil {
				return err
			}

			result, err := container.SeedWorkflows(cmd.Context(), repos.Workflow, dir, logger)
			if err != nil {
				return err
			}
			for _, name := range result.Workflows {
				fmt.Println(name)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "", "Workflow definition directory (defaults to workflows.dir)")
	return cmd
}

func bootstrap(configPath string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return cfg, logger, nil
}

func openDatabase(cfg *config.Config, logger *zap.Logger) (*database.DB, error) {
	return database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
}
