package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Config 描述了补贴代理在启动阶段需要加载的核心配置。
type Config struct {
	Server       ServerConfig       `json:"server"`
	Agent        AgentConfig        `json:"agent"`
	Ledger       LedgerConfig       `json:"ledger"`
	Summarizer   SummarizerConfig   `json:"summarizer"`
	Knowledge    KnowledgeConfig    `json:"knowledge"`
	Storage      StorageConfig      `json:"storage"`
	TriggerQueue TriggerQueueConfig `json:"trigger_queue"`
	Auth         AuthConfig         `json:"auth"`
	Alerting     AlertingConfig     `json:"alerting"`
	Logging      LoggingConfig      `json:"logging"`
	Metrics      MetricsConfig      `json:"metrics"`
	Runtime      RuntimeConfig      `json:"runtime"`
}

// ServerConfig 控制运营端 API 服务的监听地址等参数。
type ServerConfig struct {
	Address string `json:"address"`
}

// AgentConfig 控制处理流水线的节奏与开关。
type AgentConfig struct {
	PollIntervalMS             int    `json:"poll_interval_ms"`
	CronIntervalMinutes        int    `json:"cron_interval_minutes"`
	AutoExecuteEligibility     bool   `json:"auto_execute_eligibility"`
	AutoExecutePayments        bool   `json:"auto_execute_payments"`
	DefaultSchemeID            string `json:"default_scheme_id"`
	CallTimeoutSeconds         int    `json:"call_timeout_seconds"`
	LogBufferCapacity          int    `json:"log_buffer_capacity"`
	WriteFailureAlertThreshold int    `json:"write_failure_alert_threshold"`
}

// LedgerConfig 包含访问账本节点与合约所需的信息。
// 私钥通过环境变量引用，配置文件不落明文。
type LedgerConfig struct {
	ChainConfig   string                  `json:"chain_config"`
	DefaultChain  string                  `json:"default_chain"`
	RPCURL        string                  `json:"rpc_url"`
	ChainID       int64                   `json:"chain_id"`
	PrivateKeyEnv string                  `json:"private_key_env"`
	Contracts     ContractAddressesConfig `json:"contracts"`
}

// ContractAddressesConfig 在不使用链配置文件时直接指定合约地址。
type ContractAddressesConfig struct {
	PartyRegistry  string `json:"party_registry"`
	DisasterOracle string `json:"disaster_oracle"`
	RulesEngine    string `json:"rules_engine"`
	FundCustodian  string `json:"fund_custodian"`
}

// SummarizerConfig 用于配置批次摘要的大模型调用方式。
type SummarizerConfig struct {
	APIKeyEnv      string `json:"api_key_env"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
	MaxTokens      int    `json:"max_tokens"`
}

// KnowledgeConfig 指定政策知识库的加载来源。
type KnowledgeConfig struct {
	Source     string `json:"source"`
	MaxResults int    `json:"max_results"`
}

// StorageConfig 统一描述后端存储的连接信息。
type StorageConfig struct {
	Disbursements DisbursementStoreConfig `json:"disbursements"`
}

// DisbursementStoreConfig 描述拨付审计仓库的驱动与连接参数。
type DisbursementStoreConfig struct {
	Driver             string `json:"driver"`
	DSN                string `json:"dsn"`
	MaxOpenConns       int    `json:"max_open_conns"`
	MaxIdleConns       int    `json:"max_idle_conns"`
	ConnMaxLifetimeMin int    `json:"conn_max_lifetime_minutes"`
}

// TriggerQueueConfig 描述触发队列的驱动与连接参数。
type TriggerQueueConfig struct {
	Driver   string              `json:"driver"`
	Redis    RedisQueueConfig    `json:"redis"`
	RabbitMQ RabbitMQQueueConfig `json:"rabbitmq"`
}

// RedisQueueConfig 描述 Redis 触发队列的连接参数。
type RedisQueueConfig struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	Queue    string `json:"queue"`
}

// RabbitMQQueueConfig 描述 RabbitMQ 触发队列的连接参数。
type RabbitMQQueueConfig struct {
	URL        string `json:"url"`
	Queue      string `json:"queue"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// AuthConfig 控制运营端接口的访问控制。
type AuthConfig struct {
	Mode   string   `json:"mode"`
	Tokens []string `json:"tokens"`
}

// AlertingConfig 控制写失败升级告警的通知渠道。
// Webhook 地址与邮箱口令都通过环境变量引用，配置文件不落明文。
type AlertingConfig struct {
	Channels []string            `json:"channels"`
	DingTalk DingTalkAlertConfig `json:"dingtalk"`
	Slack    SlackAlertConfig    `json:"slack"`
	Email    EmailAlertConfig    `json:"email"`
}

// DingTalkAlertConfig 描述钉钉机器人渠道。
type DingTalkAlertConfig struct {
	WebhookEnv string `json:"webhook_env"`
}

// SlackAlertConfig 描述 Slack Webhook 渠道。
type SlackAlertConfig struct {
	WebhookEnv string `json:"webhook_env"`
	Channel    string `json:"channel"`
}

// EmailAlertConfig 描述 SMTP 邮件渠道。
type EmailAlertConfig struct {
	Host          string   `json:"host"`
	Port          int      `json:"port"`
	Username      string   `json:"username"`
	PasswordEnv   string   `json:"password_env"`
	From          string   `json:"from"`
	To            []string `json:"to"`
	SubjectPrefix string   `json:"subject_prefix"`
}

// LoggingConfig 控制结构化日志与审计日志的输出。
type LoggingConfig struct {
	Level       string         `json:"level"`
	Format      string         `json:"format"`
	OutputPaths []string       `json:"output_paths"`
	Audit       AuditLogConfig `json:"audit"`
}

// AuditLogConfig 控制审计日志的滚动策略。
type AuditLogConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// MetricsConfig 控制独立的指标监听地址，可选。
type MetricsConfig struct {
	Address string `json:"address"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir string `json:"data_dir"`
}

// Load 负责解析指定路径的 JSON 配置文件。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("打开配置文件失败: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := json.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))

	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Server.Address == "" {
		c.Server.Address = ":4001"
	}

	if c.Agent.PollIntervalMS <= 0 {
		c.Agent.PollIntervalMS = 15000
	}
	if c.Agent.CronIntervalMinutes <= 0 {
		c.Agent.CronIntervalMinutes = 15
	}
	if c.Agent.DefaultSchemeID == "" {
		c.Agent.DefaultSchemeID = "scheme-001"
	}
	if c.Agent.CallTimeoutSeconds <= 0 {
		c.Agent.CallTimeoutSeconds = 30
	}
	if c.Agent.LogBufferCapacity <= 0 {
		c.Agent.LogBufferCapacity = 1000
	}
	if c.Agent.WriteFailureAlertThreshold <= 0 {
		c.Agent.WriteFailureAlertThreshold = 3
	}

	if c.Ledger.PrivateKeyEnv == "" {
		c.Ledger.PrivateKeyEnv = "AGENT_PRIVATE_KEY"
	}
	if c.Ledger.ChainConfig != "" && !filepath.IsAbs(c.Ledger.ChainConfig) {
		c.Ledger.ChainConfig = filepath.Join(baseDir, c.Ledger.ChainConfig)
	}

	if c.Summarizer.APIKeyEnv == "" {
		c.Summarizer.APIKeyEnv = "GROQ_API_KEY"
	}

	if c.Knowledge.Source != "" && !filepath.IsAbs(c.Knowledge.Source) {
		c.Knowledge.Source = filepath.Join(baseDir, c.Knowledge.Source)
	}

	if c.Storage.Disbursements.Driver == "" {
		c.Storage.Disbursements.Driver = "memory"
	}

	if c.TriggerQueue.Driver == "" {
		c.TriggerQueue.Driver = "memory"
	}

	if c.Auth.Mode == "" {
		c.Auth.Mode = "disabled"
	}

	if len(c.Alerting.Channels) == 0 {
		c.Alerting.Channels = []string{"log"}
	}

	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
}
