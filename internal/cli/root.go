// Package cli implements the taskd command line.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/yukikurage/task-hierarchy-api/internal/cache"
	"github.com/yukikurage/task-hierarchy-api/internal/config"
	"github.com/yukikurage/task-hierarchy-api/internal/database"
	"github.com/yukikurage/task-hierarchy-api/internal/logger"
	"github.com/yukikurage/task-hierarchy-api/internal/repository"
	"github.com/yukikurage/task-hierarchy-api/internal/services"
	"gorm.io/gorm"
)

var (
	configPath string
	rootCmd    *cobra.Command
)

func init() {
	rootCmd = &cobra.Command{
		Use:   "taskd",
		Short: "taskd - hierarchical task management API",
		Long: `taskd serves the task hierarchy API and provides maintenance commands.

Configuration is read from taskd.yaml (or --config / TASKD_CONFIG) and
overridden by environment variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file")
}

// Execute runs the root command
func Execute(version string) error {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(recurrencesCmd)

	rootCmd.Version = version
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// app holds the dependencies shared by every command
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	db      *gorm.DB
	stats   *cache.Cache[*services.Statistics]
	service *services.TaskService
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFrom(configPath)
	}
	return config.Load()
}

// newApp loads configuration, connects and migrates the database and builds
// the task service
func newApp() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	log := logger.New(cfg.LogLevel, cfg.ServiceName)

	db, err := database.Connect(cfg)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db, log); err != nil {
		return nil, err
	}

	stats, err := cache.New[*services.Statistics](cfg.StatisticsCache, cfg.StatisticsTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to create statistics cache: %w", err)
	}

	var aiService *services.AIService
	if cfg.OpenAIAPIKey != "" {
		aiService = services.NewAIService(cfg.OpenAIAPIKey)
	}

	return &app{
		cfg:     cfg,
		log:     log,
		db:      db,
		stats:   stats,
		service: services.NewTaskService(repository.NewStore(db), stats, aiService, log),
	}, nil
}

func (a *app) Close() {
	a.stats.Close()
	if sqlDB, err := a.db.DB(); err == nil {
		sqlDB.Close()
	}
}
