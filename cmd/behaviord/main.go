package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"Behavior-Chain/internal/api"
	"Behavior-Chain/internal/config"
	"Behavior-Chain/internal/observability/alerting"
	"Behavior-Chain/internal/observability/metrics"
	"Behavior-Chain/internal/pattern"
	"Behavior-Chain/internal/recorder"
	"Behavior-Chain/internal/storage/mysql"
	bundlecache "Behavior-Chain/internal/storage/redis"
	"Behavior-Chain/internal/symbol"
	"Behavior-Chain/internal/validation"
	"Behavior-Chain/pkg/logger"
)

// main 是 behaviord 守护进程的入口。
func main() {
	app := &cli.App{
		Name:  "behaviord",
		Usage: "记录行为事件并生成、验证 Merkle 行为证明",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "配置文件路径 (YAML 或 JSON)",
				EnvVars: []string{"BEHAVIOR_CONFIG"},
				Value:   filepath.Join("configs", "behaviord.yaml"),
			},
		},
		Action: func(c *cli.Context) error {
			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, c.String("config"))
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatalf("behaviord 运行失败: %v", err)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.Outputs,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
			Compress:   cfg.Logging.Audit.Compress,
		},
	}); err != nil {
		return err
	}
	defer logger.Sync()

	var (
		db    *mysql.Database
		rec   *recorder.Recorder
		store validation.Store
	)
	switch cfg.Storage.Journal.Driver {
	case "mysql":
		db, err = mysql.Open(ctx, mysql.Config{
			DSN:             cfg.Storage.Journal.DSN,
			MaxOpenConns:    cfg.Storage.Journal.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.Journal.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Storage.Journal.ConnMaxLifetimeSeconds) * time.Second,
			ConnMaxIdleTime: time.Duration(cfg.Storage.Journal.ConnMaxIdleTimeSeconds) * time.Second,
		})
		if err != nil {
			return err
		}
		defer db.Close()

		journal := db.Journal()
		history, err := journal.LoadAll(ctx)
		if err != nil {
			return err
		}
		rec = recorder.New(recorder.WithJournal(journal))
		if err := rec.Restore(ctx, history); err != nil {
			return fmt.Errorf("恢复行为记录失败: %w", err)
		}
		logger.L().Info("行为记录已从 MySQL 恢复",
			slog.Int("events", rec.TotalEvents()),
			slog.Int("agents", rec.AgentCount()),
		)
		store = db.Validations()
	default:
		rec = recorder.New()
		store = validation.NewMemoryStore()
	}

	dictionary, err := buildDictionary(cfg.Symbols)
	if err != nil {
		return err
	}

	var cache bundlecache.BundleCache
	switch cfg.Storage.Cache.Driver {
	case "redis":
		cache, err = bundlecache.NewRedisBundleCache(ctx, bundlecache.RedisConfig{
			Addr:      cfg.Storage.Cache.Address,
			Password:  cfg.Storage.Cache.Password,
			DB:        cfg.Storage.Cache.DB,
			KeyPrefix: cfg.Storage.Cache.KeyPrefix,
			TTL:       cfg.CacheTTL(),
		})
		if err != nil {
			return err
		}
	default:
		cache = bundlecache.NewLocalBundleCache(cfg.Storage.Cache.MaxBytes)
	}
	defer cache.Close()

	queue, err := buildQueue(cfg.Queue)
	if err != nil {
		return err
	}
	defer func() {
		if err := queue.Close(); err != nil {
			logger.L().Warn("关闭验证队列失败", slog.Any("error", err))
		}
	}()

	registry := metrics.New()
	notifiers := []alerting.Notifier{&alerting.LogNotifier{}}
	if cfg.Alerting.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{URL: cfg.Alerting.WebhookURL})
	}

	service := validation.NewService(store, queue, cfg.Queue.Retries)
	processor := validation.NewProcessor(store, queue, queue,
		validation.WithWorkerCount(cfg.Queue.Workers),
		validation.WithObserver(registry),
		validation.WithAlertDispatcher(alerting.NewFanout(notifiers...)),
		validation.WithProcessorLogger(logger.Named("validation")),
	)

	server := api.NewServer(cfg.Server.Address, api.Options{
		Recorder:      rec,
		Cache:         cache,
		Validations:   service,
		Dictionary:    dictionary,
		Parser:        pattern.NewParser(pattern.WithBudget(cfg.ParseBudget())),
		Metrics:       registry,
		CORSOrigins:   cfg.Server.CORSOrigins,
		RateLimit:     rate.Limit(cfg.Server.RateLimit.RPS),
		RateBurst:     cfg.Server.RateLimit.Burst,
		VerifyWorkers: cfg.Engine.VerifyWorkers,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return processor.Start(gctx) })
	g.Go(func() error { return server.Start(gctx) })
	if cfg.Metrics.Address != "" {
		g.Go(func() error { return metrics.StartServer(gctx, cfg.Metrics.Address, registry.Handler()) })
	}
	logger.L().Info("behaviord 已启动",
		slog.String("address", cfg.Server.Address),
		slog.String("journal", cfg.Storage.Journal.Driver),
		slog.String("cache", fmt.Sprint(cache)),
		slog.String("queue", cfg.Queue.Driver),
		slog.Int("symbols", dictionary.Len()),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.L().Info("behaviord 已退出")
	return nil
}

// buildDictionary 载入内置签名、插件与部署者登记。
func buildDictionary(cfg config.SymbolsConfig) (*symbol.Dictionary, error) {
	var opts []symbol.DictionaryOption
	if cfg.DeployersPath != "" {
		deployers, err := symbol.LoadDeployerRegistry(cfg.DeployersPath)
		if err != nil {
			return nil, err
		}
		opts = append(opts, symbol.WithDeployers(deployers))
	}
	dictionary := symbol.NewDictionary(opts...)
	if cfg.DictionaryPath != "" {
		if err := dictionary.LoadPlugins(cfg.DictionaryPath); err != nil {
			return nil, err
		}
	}
	return dictionary, nil
}

func buildQueue(cfg config.QueueConfig) (validation.Queue, error) {
	switch cfg.Driver {
	case "redis":
		return validation.NewRedisQueue(validation.RedisQueueConfig{
			Address:   cfg.Redis.Address,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			Queue:     cfg.Redis.Queue,
			BlockWait: time.Duration(cfg.Redis.BlockWaitSeconds) * time.Second,
		})
	case "rabbitmq":
		return validation.NewRabbitMQQueue(validation.RabbitMQConfig{
			URL:        cfg.RabbitMQ.URL,
			Queue:      cfg.RabbitMQ.Queue,
			Prefetch:   cfg.RabbitMQ.Prefetch,
			Durable:    cfg.RabbitMQ.Durable,
			AutoDelete: cfg.RabbitMQ.AutoDelete,
		})
	default:
		return validation.NewMemoryQueue(cfg.Buffer), nil
	}
}
