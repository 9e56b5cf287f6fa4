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
	"strings"
	"syscall"
	"time"

	"AgroSubsidy-Chain/internal/agent"
	"AgroSubsidy-Chain/internal/api"
	"AgroSubsidy-Chain/internal/auth"
	"AgroSubsidy-Chain/internal/config"
	"AgroSubsidy-Chain/internal/dispatch"
	"AgroSubsidy-Chain/internal/eventlog"
	"AgroSubsidy-Chain/internal/knowledge"
	"AgroSubsidy-Chain/internal/ledger/provider"
	"AgroSubsidy-Chain/internal/llm/groq"
	"AgroSubsidy-Chain/internal/observability/alerting"
	"AgroSubsidy-Chain/internal/observability/metrics"
	"AgroSubsidy-Chain/internal/storage/mysql"
	"AgroSubsidy-Chain/internal/submit"
	"AgroSubsidy-Chain/pkg/logger"
)

// main 是补贴代理守护进程的入口。
// 运行模式：server（默认，常驻轮询 + API）、cron（单实例低频节拍）、
// demo（投递一次标准演示事件后退出）。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mode := "server"
	if len(os.Args) > 1 {
		mode = strings.ToLower(strings.TrimSpace(os.Args[1]))
	}

	if err := run(ctx, mode); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("agrosubsidyd 运行失败: %v", err)
	}
}

func run(ctx context.Context, mode string) error {
	configPath := os.Getenv("AGROSUBSIDY_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "agrosubsidy.json")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Service:     "agrosubsidyd",
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

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return err
	}

	registry, err := provider.NewRegistry(ctx, cfg.Ledger)
	if err != nil {
		return err
	}
	defer registry.Close()

	gateway, err := registry.DefaultGateway()
	if err != nil {
		return err
	}

	activity := eventlog.New(cfg.Agent.LogBufferCapacity, eventlog.WithMirror(logger.L()))

	// 真实落账要求开关打开且网关配置了签名密钥，其余情况走虚拟提交，
	// 流水线本身不区分两种路径。
	virtual := submit.NewVirtualSubmitter(activity)
	var eligibility submit.Submitter = virtual
	var payments submit.Submitter = virtual
	if cfg.Agent.AutoExecuteEligibility && gateway.CanWrite() {
		eligibility = submit.NewLedgerSubmitter(gateway, activity)
	}
	if cfg.Agent.AutoExecutePayments && gateway.CanWrite() {
		payments = submit.NewLedgerSubmitter(gateway, activity)
	}
	if (cfg.Agent.AutoExecuteEligibility || cfg.Agent.AutoExecutePayments) && !gateway.CanWrite() {
		logger.L().Warn("已开启自动落账但网关缺少签名密钥，回退到虚拟提交",
			slog.String("chain", gateway.ChainName()))
	}

	opts := []agent.Option{
		agent.WithScheme(cfg.Agent.DefaultSchemeID),
		agent.WithCallTimeout(time.Duration(cfg.Agent.CallTimeoutSeconds) * time.Second),
		agent.WithAlertThreshold(cfg.Agent.WriteFailureAlertThreshold),
		agent.WithAutoExecution(cfg.Agent.AutoExecuteEligibility, cfg.Agent.AutoExecutePayments),
		agent.WithContracts(registry.DefaultContracts()),
	}

	alerts, err := alerting.FromConfig(alerting.Config{
		Channels:           cfg.Alerting.Channels,
		DingTalkWebhookEnv: cfg.Alerting.DingTalk.WebhookEnv,
		SlackWebhookEnv:    cfg.Alerting.Slack.WebhookEnv,
		SlackChannel:       cfg.Alerting.Slack.Channel,
		Email: alerting.EmailConfig{
			Host:          cfg.Alerting.Email.Host,
			Port:          cfg.Alerting.Email.Port,
			Username:      cfg.Alerting.Email.Username,
			PasswordEnv:   cfg.Alerting.Email.PasswordEnv,
			From:          cfg.Alerting.Email.From,
			To:            cfg.Alerting.Email.To,
			SubjectPrefix: cfg.Alerting.Email.SubjectPrefix,
		},
	})
	if err != nil {
		return err
	}
	opts = append(opts, agent.WithAlertDispatcher(alerts))

	if cfg.Knowledge.Source != "" {
		knowledgeProvider, err := knowledge.LoadStaticProvider(cfg.Knowledge.Source, cfg.Knowledge.MaxResults)
		if err != nil {
			return err
		}
		opts = append(opts, agent.WithKnowledgeProvider(knowledgeProvider))
	}

	if cfg.Summarizer.APIKeyEnv != "" {
		apiKey := strings.TrimSpace(os.Getenv(cfg.Summarizer.APIKeyEnv))
		if apiKey == "" {
			logger.L().Warn("摘要 API Key 未设置，批次摘要使用离线模板",
				slog.String("env", cfg.Summarizer.APIKeyEnv))
		} else {
			summarizer, err := groq.NewClient(groq.Config{
				APIKey:    apiKey,
				BaseURL:   cfg.Summarizer.BaseURL,
				Model:     cfg.Summarizer.Model,
				Timeout:   time.Duration(cfg.Summarizer.TimeoutSeconds) * time.Second,
				MaxTokens: cfg.Summarizer.MaxTokens,
			})
			if err != nil {
				return err
			}
			opts = append(opts, agent.WithSummarizer(summarizer))
		}
	}

	repo, err := createRepository(ctx, cfg)
	if err != nil {
		return err
	}
	if closer, ok := repo.(interface{ Close() error }); ok {
		defer closer.Close()
	}
	opts = append(opts, agent.WithRepository(repo))

	ag := agent.New(gateway, eligibility, payments, activity, opts...)

	queue, err := createQueue(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := queue.Close(); err != nil {
			logger.L().Warn("关闭触发队列失败", slog.String("error", err.Error()))
		}
	}()

	interval := time.Duration(cfg.Agent.PollIntervalMS) * time.Millisecond
	if mode == "cron" {
		interval = time.Duration(cfg.Agent.CronIntervalMinutes) * time.Minute
	}
	runner := dispatch.NewRunner(queue, interval, activity)

	// 批处理节拍从账本起点完整重放，常驻模式只追新区块。
	if mode == "cron" {
		if err := ag.BootstrapReplay(ctx); err != nil {
			return err
		}
	} else if err := ag.Bootstrap(ctx); err != nil {
		return err
	}

	logger.L().Info("补贴代理已启动",
		slog.String("mode", mode),
		slog.String("chain", gateway.ChainName()),
		slog.String("scheme", ag.Status().SchemeID),
		slog.Uint64("cursor", ag.Status().Cursor),
		slog.Bool("signer_ready", gateway.CanWrite()),
		slog.Bool("summarizer_ready", ag.Status().SummarizerReady),
	)

	if mode == "demo" {
		return runDemo(ctx, ag, runner, queue)
	}

	guard, err := auth.NewService(cfg.Auth.Mode, cfg.Auth.Tokens)
	if err != nil {
		return err
	}

	runnerCtx, cancelRunner := context.WithCancel(ctx)
	defer cancelRunner()
	runnerErr := make(chan error, 1)
	go func() {
		runnerErr <- runner.Start(runnerCtx, ag.HandleTrigger)
	}()

	if cfg.Metrics.Address != "" {
		go func() {
			if err := metrics.StartServer(runnerCtx, cfg.Metrics.Address); err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Warn("指标服务退出", slog.String("error", err.Error()))
			}
		}()
	}

	// cron 模式不提供 HTTP 面板，只靠粗粒度节拍驱动轮询。
	if mode == "cron" {
		err := <-runnerErr
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}

	server := api.NewServer(cfg.Server.Address, ag, runner, guard)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	cancelRunner()
	select {
	case err := <-runnerErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	case <-time.After(5 * time.Second):
	}
	return nil
}

// runDemo 投递一次标准演示事件，处理完成后退出。
func runDemo(ctx context.Context, ag *agent.Agent, runner *dispatch.Runner, queue dispatch.Queue) error {
	event := agent.DefaultSyntheticEvent()
	if err := runner.Enqueue(ctx, dispatch.Job{Kind: dispatch.KindSimulate, Event: &event}); err != nil {
		return err
	}

	demoCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- queue.Consume(demoCtx, func(jobCtx context.Context, job dispatch.Job) error {
			err := ag.HandleTrigger(jobCtx, job)
			cancel()
			return err
		})
	}()

	select {
	case <-demoCtx.Done():
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}

	for _, entry := range ag.Log().Query(0, 0) {
		fmt.Printf("[%s] %s\n", entry.Level, entry.Text)
	}
	return nil
}

func createRepository(ctx context.Context, cfg *config.Config) (mysql.DisbursementRepository, error) {
	store := cfg.Storage.Disbursements
	switch store.Driver {
	case "", "memory":
		return mysql.NewMemoryDisbursementRepository(cfg.Runtime.DataDir)
	case "mysql":
		return mysql.NewSQLDisbursementRepository(ctx, mysql.Config{
			DSN:             store.DSN,
			MaxOpenConns:    store.MaxOpenConns,
			MaxIdleConns:    store.MaxIdleConns,
			ConnMaxLifetime: time.Duration(store.ConnMaxLifetimeMin) * time.Minute,
		})
	default:
		return nil, fmt.Errorf("未知的拨付仓库驱动: %s", store.Driver)
	}
}

func createQueue(cfg *config.Config) (dispatch.Queue, error) {
	switch cfg.TriggerQueue.Driver {
	case "", "memory":
		return dispatch.NewMemoryQueue(64), nil
	case "redis":
		return dispatch.NewRedisQueue(dispatch.RedisQueueConfig{
			Address:  cfg.TriggerQueue.Redis.Address,
			Password: cfg.TriggerQueue.Redis.Password,
			DB:       cfg.TriggerQueue.Redis.DB,
			Queue:    cfg.TriggerQueue.Redis.Queue,
		})
	case "rabbitmq":
		return dispatch.NewRabbitMQQueue(dispatch.RabbitMQConfig{
			URL:        cfg.TriggerQueue.RabbitMQ.URL,
			Queue:      cfg.TriggerQueue.RabbitMQ.Queue,
			Durable:    cfg.TriggerQueue.RabbitMQ.Durable,
			AutoDelete: cfg.TriggerQueue.RabbitMQ.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("未知的触发队列驱动: %s", cfg.TriggerQueue.Driver)
	}
}
