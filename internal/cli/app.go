// Package cli implements qdfctl, the operator tool for offline ranking,
// cache administration, invalidation events and load generation.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/internal/cache"
	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/internal/invalidation"
	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/freshness-aggregator/pkg/kafka"
	pkgredis "github.com/Adithya-Monish-Kumar-K/freshness-aggregator/pkg/redis"
)

// Version is set at build time.
var Version = "dev"

// cacheAdmin is what the cache commands need from the result cache.
type cacheAdmin interface {
	Stats(ctx context.Context) (cache.Stats, error)
	Clear(ctx context.Context) (int, error)
}

// publisher sends invalidation messages.
type publisher interface {
	Publish(ctx context.Context, m invalidation.Message) error
}

// App is the qdfctl command tree.
type App struct {
	root       *cobra.Command
	stdout     io.Writer
	stderr     io.Writer
	configPath string

	openCache     func(cfg *config.Config) (cacheAdmin, func() error, error)
	openPublisher func(cfg *config.Config) (publisher, func() error, error)
}

// New builds the command tree.
func New() *App {
	app := &App{
		stdout:        os.Stdout,
		stderr:        os.Stderr,
		openCache:     openRedisCache,
		openPublisher: openKafkaPublisher,
	}
	app.root = &cobra.Command{
		Use:   "qdfctl",
		Short: "Operate the freshness aggregator",
		Long: `qdfctl ranks document files offline with the same QDF scoring the
service uses, inspects and clears the Redis result cache, publishes
cache invalidation events and load-tests a running aggregator.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	app.root.PersistentFlags().StringVarP(&app.configPath, "config", "c", "", "path to config file")
	app.root.AddCommand(
		app.newVersionCmd(),
		app.newRankCmd(),
		app.newCacheCmd(),
		app.newInvalidateCmd(),
		app.newLoadTestCmd(),
	)
	return app
}

// WithOutput redirects command output.
func (a *App) WithOutput(stdout, stderr io.Writer) *App {
	a.stdout = stdout
	a.stderr = stderr
	a.root.SetOut(stdout)
	a.root.SetErr(stderr)
	return a
}

// Execute runs the command line until completion or SIGINT/SIGTERM.
func (a *App) Execute(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return a.root.ExecuteContext(ctx)
}

// ExecuteWithArgs runs the command line with args instead of os.Args.
func (a *App) ExecuteWithArgs(ctx context.Context, args []string) error {
	a.root.SetArgs(args)
	return a.Execute(ctx)
}

func (a *App) loadConfig() (*config.Config, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

func (a *App) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.stdout, "qdfctl version %s\n", Version)
		},
	}
}

func openRedisCache(cfg *config.Config) (cacheAdmin, func() error, error) {
	client, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	store := cache.New(cache.NewRedisBackend(client, cache.RedisOptions{}), cache.WithDefaultTTL(cfg.Cache.TTL()))
	return store, client.Close, nil
}

func openKafkaPublisher(cfg *config.Config) (publisher, func() error, error) {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, nil, fmt.Errorf("kafka.brokers is empty")
	}
	producer := kafka.NewProducer(cfg.Kafka, cfg.Kafka.Topics.CacheInvalidate)
	return invalidation.NewPublisher(producer), producer.Close, nil
}
