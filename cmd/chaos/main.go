// cmd/chaos/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"librarium/internal/chaos"
	"librarium/internal/clients"
	"librarium/internal/config"
	"librarium/internal/logging"
	"librarium/internal/store"
)

type options struct {
	configPath  string
	apiURL      string
	stock       int
	concurrency int
	poolConns   int
	holdFor     time.Duration
	observe     time.Duration
	interval    time.Duration
	pause       time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := options{}
	cmd := &cobra.Command{
		Use:           "chaos",
		Short:         "Run the chaos game day against a live API and database",
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", "", "config file (default config.yaml)")
	flags.StringVar(&opts.apiURL, "api-url", envOr("API_URL", "http://localhost:8080"), "base URL of the API")
	flags.IntVar(&opts.stock, "stock", 5, "copies stocked for each drill book")
	flags.IntVar(&opts.concurrency, "concurrency", 50, "concurrent borrows per drill")
	flags.IntVar(&opts.poolConns, "pool-conns", 80, "database connections held by the exhaustion drill")
	flags.DurationVar(&opts.holdFor, "hold", 3*time.Second, "how long connections are held")
	flags.DurationVar(&opts.observe, "observe", 10*time.Second, "observation window per experiment")
	flags.DurationVar(&opts.interval, "interval", time.Second, "metric sampling interval")
	flags.DurationVar(&opts.pause, "pause", 2*time.Second, "pause between experiments")
	return cmd
}

func run(ctx context.Context, opts options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	logger := logging.New(cfg.LogLevel)

	db, err := store.Open(ctx, cfg.DatabaseURL, store.PoolConfig{MaxOpenConns: opts.poolConns + 5})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	lib := clients.NewLibraryClient(opts.apiURL, nil)
	if err := lib.Health(ctx); err != nil {
		return fmt.Errorf("api not healthy: %w", err)
	}

	engine := chaos.NewEngine(chaos.WithSampleInterval(opts.interval), chaos.WithOutput(os.Stdout))
	engine.Register(ConcurrentBorrowRace(lib, db, opts.stock, opts.concurrency, opts.observe))
	engine.Register(ConnectionPoolExhaustion(db.SQL(), lib, db, opts.poolConns, opts.holdFor, opts.stock, opts.concurrency, opts.observe))

	logger.Info("starting game day", "api", opts.apiURL, "experiments", len(engine.Experiments()))
	return engine.ExecuteGameDay(ctx, chaos.GameDay{
		Name:      "Library inventory game day",
		Date:      time.Now(),
		Scenarios: engine.Experiments(),
		Pause:     opts.pause,
	})
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
