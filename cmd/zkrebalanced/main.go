package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"ZKRebalance-Chain/internal/api"
	"ZKRebalance-Chain/internal/cas"
	"ZKRebalance-Chain/internal/config"
	"ZKRebalance-Chain/internal/observability/alerting"
	"ZKRebalance-Chain/internal/pipeline"
	"ZKRebalance-Chain/internal/policy"
	"ZKRebalance-Chain/internal/registry/provider"
	"ZKRebalance-Chain/internal/reputation"
	"ZKRebalance-Chain/internal/storage/mysql"
	"ZKRebalance-Chain/internal/workflow"
	"ZKRebalance-Chain/internal/zk/snarkjs"
	"ZKRebalance-Chain/pkg/logger"
)

// main 是 zkrebalanced 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("zkrebalanced 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configFlag := flag.String("config", "", "配置文件路径,优先于 ZKREBALANCE_CONFIG 环境变量")
	flag.Parse()

	configPath := *configFlag
	if configPath == "" {
		configPath = os.Getenv("ZKREBALANCE_CONFIG")
	}
	if configPath == "" {
		configPath = filepath.Join("configs", "zkrebalance.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer logger.Sync()

	var runStore workflow.RunStore
	switch cfg.Storage.RunStore.Driver {
	case "", "memory":
		runStore = workflow.NewMemoryStore()
	case "mysql":
		store, err := workflow.NewMySQLStore(cfg.Storage.RunStore.DSN)
		if err != nil {
			return err
		}
		runStore = store
	default:
		return fmt.Errorf("未知的运行存储驱动: %s", cfg.Storage.RunStore.Driver)
	}
	defer func() {
		if runStore != nil {
			_ = runStore.Close()
		}
	}()

	var packageStore cas.Store
	switch cfg.Storage.PackageStore.Driver {
	case "", "memory":
		packageStore = cas.NewMemoryStore()
	case "file":
		store, err := cas.NewFileStore(cfg.Storage.PackageStore.Dir)
		if err != nil {
			return err
		}
		packageStore = store
	case "mysql":
		db, err := openMySQL(ctx, cfg.Storage.PackageStore.DSN)
		if err != nil {
			return err
		}
		defer db.Close()
		store, err := cas.NewMySQLStore(db)
		if err != nil {
			return err
		}
		packageStore = store
	default:
		return fmt.Errorf("未知的证明包存储驱动: %s", cfg.Storage.PackageStore.Driver)
	}
	defer func() {
		if packageStore != nil {
			_ = packageStore.Close()
		}
	}()

	var ledger reputation.Ledger
	switch cfg.Storage.Reputation.Driver {
	case "", "memory":
		ledger = reputation.NewMemoryLedger()
	case "mysql":
		db, err := openMySQL(ctx, cfg.Storage.Reputation.DSN)
		if err != nil {
			return err
		}
		defer db.Close()
		ledger = reputation.NewMySQLLedger(db)
	default:
		return fmt.Errorf("未知的声誉存储驱动: %s", cfg.Storage.Reputation.Driver)
	}
	defer func() {
		if ledger != nil {
			_ = ledger.Close()
		}
	}()

	var queue workflow.Queue
	switch cfg.Queue.Driver {
	case "", "memory":
		queue = workflow.NewMemoryQueue(cfg.Queue.Buffer)
	case "redis":
		q, err := workflow.NewRedisQueue(workflow.RedisQueueConfig{
			Address:  cfg.Queue.Redis.Addr,
			Password: cfg.Queue.Redis.Password,
			DB:       cfg.Queue.Redis.DB,
			Queue:    cfg.Queue.Redis.QueueKey,
		})
		if err != nil {
			return err
		}
		queue = q
	case "rabbitmq":
		q, err := workflow.NewRabbitMQQueue(workflow.RabbitMQConfig{
			URL:        cfg.Queue.RabbitMQ.URL,
			Queue:      cfg.Queue.RabbitMQ.QueueName,
			Prefetch:   cfg.Queue.RabbitMQ.Prefetch,
			Durable:    cfg.Queue.RabbitMQ.Durable,
			AutoDelete: cfg.Queue.RabbitMQ.AutoDelete,
		})
		if err != nil {
			return err
		}
		queue = q
	default:
		return fmt.Errorf("未知的队列驱动: %s", cfg.Queue.Driver)
	}
	defer func() {
		if queue != nil {
			if err := queue.Close(); err != nil {
				logger.L().Warn("关闭运行队列失败", slog.Any("error", err))
			}
		}
	}()

	registryClients, err := provider.New(ctx, cfg.Registry)
	if err != nil {
		return err
	}
	defer registryClients.Close()

	zkCfg := snarkjs.Config{
		Binary:          cfg.ZK.SnarkjsBin,
		BuildDir:        cfg.ZK.BuildDir,
		CircuitWasm:     cfg.ZK.CircuitWasm,
		CircuitR1CS:     cfg.ZK.CircuitR1CS,
		ProvingKey:      cfg.ZK.ProvingKey,
		VerificationKey: cfg.ZK.VerificationKey,
		Timeout:         time.Duration(cfg.ZK.TimeoutSec) * time.Second,
	}
	prover, err := snarkjs.NewProver(zkCfg)
	if err != nil {
		return err
	}
	verifier, err := snarkjs.NewVerifier(zkCfg)
	if err != nil {
		return err
	}

	var catalog policy.Catalog
	if cfg.Workflow.PolicyCatalog != "" {
		loaded, err := policy.LoadStaticCatalog(cfg.Workflow.PolicyCatalog)
		if err != nil {
			return err
		}
		catalog = loaded
	} else {
		catalog = policy.Default()
	}

	orchestrator, err := workflow.NewOrchestrator(workflow.OrchestratorDeps{
		ProviderRegistry:  registryClients.Provider,
		ValidatorRegistry: registryClients.Validator,
		ClientRegistry:    registryClients.Client,
		Prover:            prover,
		Pipeline:          pipeline.New(verifier, zkCfg.Timeout),
		Packages:          packageStore,
		Ledger:            ledger,
		Catalog:           catalog,
	}, workflow.OrchestratorConfig{
		ProviderDomain:  cfg.Workflow.ProviderDomain,
		ValidatorDomain: cfg.Workflow.ValidatorDomain,
		ClientDomain:    cfg.Workflow.ClientDomain,
		DefaultMinPct:   cfg.Workflow.DefaultMinPct,
		DefaultMaxPct:   cfg.Workflow.DefaultMaxPct,
		StepTimeout:     time.Duration(cfg.Workflow.StepTimeoutSec) * time.Second,
	})
	if err != nil {
		return err
	}

	service := workflow.NewService(runStore, queue, cfg.Workflow.MaxAttempts)

	processorOpts := []workflow.ProcessorOption{
		workflow.WithWorkerCount(cfg.Workflow.Workers),
		workflow.WithRetryBackoff(time.Duration(cfg.Workflow.RetryBackoffSec) * time.Second),
		workflow.WithProcessorLogger(logger.Named("workflow.processor")),
	}
	if dispatcher := buildAlertDispatcher(cfg.Alerting); dispatcher != nil {
		processorOpts = append(processorOpts, workflow.WithAlertDispatcher(dispatcher))
	}
	processor := workflow.NewProcessor(orchestrator, runStore, queue, queue, processorOpts...)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()

	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("运行处理器异常退出", slog.Any("error", err))
		}
	}()

	server := api.NewServer(cfg.Server.Address, service, ledger,
		api.WithBearerToken(cfg.Server.APIToken))

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// openMySQL 打开连接池并执行嵌入的建表迁移。
func openMySQL(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := mysql.Open(ctx, mysql.Config{DSN: dsn})
	if err != nil {
		return nil, err
	}
	if err := mysql.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// buildAlertDispatcher 按配置组装告警通道,全部未启用时返回 nil。
func buildAlertDispatcher(cfg config.AlertingConfig) alerting.Dispatcher {
	var notifiers []alerting.Notifier
	if cfg.Email.Enabled {
		notifiers = append(notifiers, &alerting.EmailNotifier{
			Sender: alerting.NewSMTPSender(alerting.SMTPConfig{
				Host:     cfg.Email.Host,
				Port:     cfg.Email.Port,
				Username: cfg.Email.Username,
				Password: cfg.Email.Password,
				From:     cfg.Email.From,
			}),
			To:            cfg.Email.To,
			SubjectPrefix: "[zkrebalance] ",
		})
	}
	if cfg.DingTalk.Enabled {
		notifiers = append(notifiers, &alerting.DingTalkNotifier{
			Sender: &alerting.DingTalkWebhook{URL: cfg.DingTalk.Webhook},
		})
	}
	if cfg.Slack.Enabled {
		notifiers = append(notifiers, &alerting.SlackNotifier{
			Sender:    &alerting.SlackWebhook{URL: cfg.Slack.Webhook},
			ChannelID: cfg.Slack.Channel,
		})
	}
	if len(notifiers) == 0 {
		return nil
	}
	return alerting.NewFanout(notifiers...)
}
