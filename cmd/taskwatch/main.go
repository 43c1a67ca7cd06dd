package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kelsos/taskwatch/internal/config"
	"github.com/kelsos/taskwatch/internal/logger"
	"github.com/kelsos/taskwatch/internal/services"
	"github.com/kelsos/taskwatch/internal/storage"
	"github.com/kelsos/taskwatch/internal/tui"
	"github.com/kelsos/taskwatch/internal/utils"
)

type flags struct {
	configFile           string
	statusURL            string
	apiURL               string
	tasks                string
	pollInterval         time.Duration
	maxRetries           int
	retryDelay           int
	maxReconnectAttempts int
	reconnectDelay       int
	metricsAddr          string
	resultsDir           string
	useTUI               bool
}

// loadConfig layers defaults, the config file, the environment and
// explicitly set flags, in that order.
func loadConfig(cmd *cobra.Command, f *flags) (*config.Config, error) {
	cfg := config.NewConfig()

	if f.configFile != "" {
		if err := cfg.LoadFromFile(f.configFile); err != nil {
			return nil, err
		}
	}

	cfg.LoadFromEnvironment()

	changed := cmd.Flags().Changed
	if changed("status-url") {
		cfg.StatusURL = f.statusURL
	}
	if changed("api-url") {
		cfg.APIURL = f.apiURL
	}
	if changed("tasks") {
		cfg.Tasks = config.ParseTaskList(f.tasks)
	}
	if changed("poll-interval") {
		cfg.PollInterval = f.pollInterval
	}
	if changed("max-retries") {
		cfg.MaxRetries = f.maxRetries
	}
	if changed("retry-delay") {
		cfg.RetryDelay = time.Duration(f.retryDelay) * time.Millisecond
	}
	if changed("max-reconnect-attempts") {
		cfg.MaxReconnectAttempts = f.maxReconnectAttempts
	}
	if changed("reconnect-delay") {
		cfg.ReconnectDelay = time.Duration(f.reconnectDelay) * time.Millisecond
	}
	if changed("metrics-addr") {
		cfg.MetricsAddr = f.metricsAddr
	}
	if changed("results-dir") {
		cfg.ResultsDir = f.resultsDir
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runWatch(cmd *cobra.Command, f *flags) {
	if f.useTUI {
		if err := logger.InitFileOnly(); err != nil {
			logger.Fatal("Failed to initialize file logger: %v", err)
		}
		defer logger.Close()
	}

	cfg, err := loadConfig(cmd, f)
	if err != nil {
		logger.Fatal("Invalid configuration: %v", err)
	}

	watchService, err := services.NewWatchService(cfg)
	if err != nil {
		logger.Fatal("Failed to create watch service: %v", err)
	}
	defer watchService.Cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if f.useTUI {
		monitor := tui.NewWatchMonitor(watchService)
		if err := monitor.Start(); err != nil {
			logger.Fatal("Failed to start monitor: %v", err)
		}
		if err := monitor.Run(ctx); err != nil {
			logger.Error("Monitor exited with error: %v", err)
		}
		return
	}

	if err := watchService.Run(ctx); err != nil {
		logger.Error("Watch stopped: %v", err)
		return
	}
	logger.Info("Shutting down")
}

func listResults(cmd *cobra.Command, f *flags) {
	cfg, err := loadConfig(cmd, f)
	if err != nil {
		logger.Fatal("Invalid configuration: %v", err)
	}

	dir, err := storage.ResolveDir(cfg.ResultsDir)
	if err != nil {
		logger.Fatal("Failed to resolve results directory: %v", err)
	}

	results, err := storage.NewResultStore(dir).ListResults()
	if err != nil {
		logger.Fatal("Failed to list results: %v", err)
	}
	if len(results) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No results in %s\n", dir)
		return
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tSTATUS\tSAVED")
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%s\t%s\n", r.TaskID, r.Status, time.Unix(r.SavedAt, 0).Format(time.RFC3339))
	}
	w.Flush()
}

func main() {
	envFiles, envErr := utils.LoadEnvironment()
	logger.Init()
	if envErr != nil {
		logger.Fatal("Failed to load environment file: %v", envErr)
	}
	for _, path := range envFiles {
		logger.Debug("Loaded environment from %s", path)
	}

	f := &flags{}

	rootCmd := &cobra.Command{
		Use:   "taskwatch",
		Short: "Watch video generation tasks over the status channel",
		Long: `taskwatch keeps a live subscription to every active generation task and
records the outcome of each task once it finishes.`,
		Run: func(cmd *cobra.Command, args []string) {
			runWatch(cmd, f)
		},
	}

	resultsCmd := &cobra.Command{
		Use:   "results",
		Short: "List the saved results of finished tasks",
		Run: func(cmd *cobra.Command, args []string) {
			listResults(cmd, f)
		},
	}

	// Shared flags
	rootCmd.PersistentFlags().StringVarP(&f.configFile, "config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVarP(&f.resultsDir, "results-dir", "", "results", "Directory for finished task results (relative to ~/.taskwatch)")

	// Watch flags
	rootCmd.Flags().StringVarP(&f.statusURL, "status-url", "s", "", "Websocket URL of the status channel")
	rootCmd.Flags().StringVarP(&f.apiURL, "api-url", "a", "", "Base URL of the task API")
	rootCmd.Flags().StringVarP(&f.tasks, "tasks", "", "", "Comma separated task ids to watch instead of polling the API")
	rootCmd.Flags().DurationVarP(&f.pollInterval, "poll-interval", "i", 5*time.Second, "How often to fetch the active task set")
	rootCmd.Flags().IntVarP(&f.maxRetries, "max-retries", "r", 3, "Subscribe retries before a task is dropped")
	rootCmd.Flags().IntVarP(&f.retryDelay, "retry-delay", "d", 1000, "Base subscribe retry delay in milliseconds")
	rootCmd.Flags().IntVarP(&f.maxReconnectAttempts, "max-reconnect-attempts", "", 3, "Reconnect attempts before giving up")
	rootCmd.Flags().IntVarP(&f.reconnectDelay, "reconnect-delay", "", 1000, "Reconnect delay step in milliseconds")
	rootCmd.Flags().StringVarP(&f.metricsAddr, "metrics-addr", "m", "", "Address to serve Prometheus metrics on, e.g. :9090")
	rootCmd.Flags().BoolVarP(&f.useTUI, "tui", "", false, "Show the live task monitor")

	// Add subcommands
	rootCmd.AddCommand(resultsCmd)

	// Execute the root command
	if err := rootCmd.Execute(); err != nil {
		logger.Fatal("Failed to execute command: %v", err)
	}
}
