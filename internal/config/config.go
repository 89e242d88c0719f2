package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	xerrors "ZKRebalance-Chain/internal/errors"
)

// Config 描述了 zkrebalanced 启动阶段需要加载的全部配置。
type Config struct {
	Server   ServerConfig   `json:"server"`
	Logging  LoggingConfig  `json:"logging"`
	Storage  StorageConfig  `json:"storage"`
	Queue    QueueConfig    `json:"queue"`
	Registry RegistryConfig `json:"registry"`
	ZK       ZKConfig       `json:"zk"`
	Workflow WorkflowConfig `json:"workflow"`
	Alerting AlertingConfig `json:"alerting"`
}

// ServerConfig 控制 API 服务的监听地址与访问令牌。
type ServerConfig struct {
	Address  string `json:"address"`
	APIToken string `json:"api_token"`
}

// LoggingConfig 透传给 pkg/logger。
type LoggingConfig struct {
	Level       string      `json:"level"`
	Format      string      `json:"format"`
	OutputPaths []string    `json:"output_paths"`
	Audit       AuditConfig `json:"audit"`
}

// AuditConfig 控制审计日志的落盘与轮转。
type AuditConfig struct {
	Enabled    bool   `json:"enabled"`
	Path       string `json:"path"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
	MaxAgeDays int    `json:"max_age_days"`
}

// StorageConfig 统一描述各持久化后端的驱动与连接信息。
type StorageConfig struct {
	RunStore     DriverConfig       `json:"run_store"`
	PackageStore PackageStoreConfig `json:"package_store"`
	Reputation   DriverConfig       `json:"reputation"`
}

// DriverConfig 是 memory/mysql 双驱动存储的通用配置。
type DriverConfig struct {
	Driver string `json:"driver"`
	DSN    string `json:"dsn"`
}

// PackageStoreConfig 描述证明包存储。file 驱动需要 dir，mysql 驱动需要 dsn。
type PackageStoreConfig struct {
	Driver string `json:"driver"`
	Dir    string `json:"dir"`
	DSN    string `json:"dsn"`
}

// QueueConfig 描述工作流运行队列。
type QueueConfig struct {
	Driver   string         `json:"driver"`
	Buffer   int            `json:"buffer"`
	Redis    RedisConfig    `json:"redis"`
	RabbitMQ RabbitMQConfig `json:"rabbitmq"`
}

// RedisConfig 描述 Redis 队列连接参数。
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	QueueKey string `json:"queue_key"`
}

// RabbitMQConfig 描述 RabbitMQ 队列连接参数。
type RabbitMQConfig struct {
	URL        string `json:"url"`
	QueueName  string `json:"queue_name"`
	Prefetch   int    `json:"prefetch"`
	Durable    bool   `json:"durable"`
	AutoDelete bool   `json:"auto_delete"`
}

// RegistryConfig 描述身份/验证/声誉注册表的接入方式。
// driver 为 ethereum 时需要链配置与已部署合约地址文件。
type RegistryConfig struct {
	Driver        string `json:"driver"`
	Chain         string `json:"chain"`
	ChainsPath    string `json:"chains_path"`
	ContractsPath string `json:"contracts_path"`
	PrivateKeyEnv string `json:"private_key_env"`
	TimeoutSec    int    `json:"timeout_sec"`
}

// ZKConfig 描述 snarkjs 工具链与电路制品的位置。
type ZKConfig struct {
	SnarkjsBin      string `json:"snarkjs_bin"`
	BuildDir        string `json:"build_dir"`
	CircuitWasm     string `json:"circuit_wasm"`
	CircuitR1CS     string `json:"circuit_r1cs"`
	ProvingKey      string `json:"proving_key"`
	VerificationKey string `json:"verification_key"`
	TimeoutSec      int    `json:"timeout_sec"`
}

// WorkflowConfig 控制运行处理器与默认的配比约束。
type WorkflowConfig struct {
	Workers         int    `json:"workers"`
	MaxAttempts     int    `json:"max_attempts"`
	StepTimeoutSec  int    `json:"step_timeout_sec"`
	RetryBackoffSec int    `json:"retry_backoff_sec"`
	DefaultMinPct   int    `json:"default_min_pct"`
	DefaultMaxPct   int    `json:"default_max_pct"`
	PolicyCatalog   string `json:"policy_catalog"`
	ProviderDomain  string `json:"provider_domain"`
	ValidatorDomain string `json:"validator_domain"`
	ClientDomain    string `json:"client_domain"`
}

// AlertingConfig 描述终态失败运行的告警通道。
type AlertingConfig struct {
	Email    EmailAlertConfig   `json:"email"`
	DingTalk WebhookAlertConfig `json:"dingtalk"`
	Slack    WebhookAlertConfig `json:"slack"`
}

// EmailAlertConfig 描述 SMTP 告警通道。
type EmailAlertConfig struct {
	Enabled  bool     `json:"enabled"`
	Host     string   `json:"host"`
	Port     int      `json:"port"`
	Username string   `json:"username"`
	Password string   `json:"password"`
	From     string   `json:"from"`
	To       []string `json:"to"`
}

// WebhookAlertConfig 描述 Webhook 型告警通道。
// Channel 仅 Slack 使用,指定消息投递的频道。
type WebhookAlertConfig struct {
	Enabled bool   `json:"enabled"`
	Webhook string `json:"webhook"`
	Channel string `json:"channel"`
}

// Load 解析指定路径的 JSON 配置文件，应用默认值并做基本校验。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, xerrors.New(xerrors.CodeConfigInvalid, "配置文件路径为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfigInvalid, err, "打开配置文件失败")
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfigInvalid, err, "读取配置文件失败")
	}

	cfg, err := Parse(content)
	if err != nil {
		return nil, err
	}
	cfg.resolvePaths(filepath.Dir(path))
	return cfg, nil
}

// Parse 从字节流解析配置。未知字段视为配置错误，避免拼写错误被静默忽略。
func Parse(content []byte) (*Config, error) {
	decoder := json.NewDecoder(bytes.NewReader(content))
	decoder.DisallowUnknownFields()

	var cfg Config
	if err := decoder.Decode(&cfg); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfigInvalid, err, "解析配置失败")
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置默认值。
func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}

	if c.Storage.RunStore.Driver == "" {
		c.Storage.RunStore.Driver = "memory"
	}
	if c.Storage.PackageStore.Driver == "" {
		c.Storage.PackageStore.Driver = "memory"
	}
	if c.Storage.Reputation.Driver == "" {
		c.Storage.Reputation.Driver = "memory"
	}

	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Buffer <= 0 {
		c.Queue.Buffer = 64
	}
	if c.Queue.Redis.QueueKey == "" {
		c.Queue.Redis.QueueKey = "zkrebalance:runs"
	}
	if c.Queue.RabbitMQ.QueueName == "" {
		c.Queue.RabbitMQ.QueueName = "zkrebalance.runs"
	}

	if c.Registry.Driver == "" {
		c.Registry.Driver = "memory"
	}
	if c.Registry.PrivateKeyEnv == "" {
		c.Registry.PrivateKeyEnv = "ZKREBALANCE_PRIVATE_KEY"
	}
	if c.Registry.TimeoutSec <= 0 {
		c.Registry.TimeoutSec = 60
	}

	if c.ZK.SnarkjsBin == "" {
		c.ZK.SnarkjsBin = "snarkjs"
	}
	if c.ZK.TimeoutSec <= 0 {
		c.ZK.TimeoutSec = 120
	}

	if c.Workflow.Workers <= 0 {
		c.Workflow.Workers = 4
	}
	if c.Workflow.MaxAttempts <= 0 {
		c.Workflow.MaxAttempts = 3
	}
	if c.Workflow.StepTimeoutSec <= 0 {
		c.Workflow.StepTimeoutSec = 90
	}
	if c.Workflow.RetryBackoffSec <= 0 {
		c.Workflow.RetryBackoffSec = 5
	}
	if c.Workflow.DefaultMaxPct <= 0 {
		c.Workflow.DefaultMaxPct = 100
	}
	if c.Workflow.ProviderDomain == "" {
		c.Workflow.ProviderDomain = "rebalancer.agent.local"
	}
	if c.Workflow.ValidatorDomain == "" {
		c.Workflow.ValidatorDomain = "validator.agent.local"
	}
	if c.Workflow.ClientDomain == "" {
		c.Workflow.ClientDomain = "client.agent.local"
	}
}

// resolvePaths 把相对路径统一解析到配置文件所在目录。
func (c *Config) resolvePaths(baseDir string) {
	resolve := func(p *string) {
		if *p != "" && !filepath.IsAbs(*p) {
			*p = filepath.Join(baseDir, *p)
		}
	}
	resolve(&c.Storage.PackageStore.Dir)
	resolve(&c.Registry.ChainsPath)
	resolve(&c.Registry.ContractsPath)
	resolve(&c.ZK.BuildDir)
	resolve(&c.ZK.CircuitWasm)
	resolve(&c.ZK.CircuitR1CS)
	resolve(&c.ZK.ProvingKey)
	resolve(&c.ZK.VerificationKey)
	resolve(&c.Workflow.PolicyCatalog)
}

// Validate 检查驱动取值与约束范围。
func (c *Config) Validate() error {
	switch c.Storage.RunStore.Driver {
	case "memory", "mysql":
	default:
		return invalidf("不支持的运行存储驱动: %s", c.Storage.RunStore.Driver)
	}
	if c.Storage.RunStore.Driver == "mysql" && c.Storage.RunStore.DSN == "" {
		return invalidf("运行存储使用 mysql 驱动时必须提供 dsn")
	}

	switch c.Storage.PackageStore.Driver {
	case "memory", "file", "mysql":
	default:
		return invalidf("不支持的证明包存储驱动: %s", c.Storage.PackageStore.Driver)
	}
	if c.Storage.PackageStore.Driver == "file" && c.Storage.PackageStore.Dir == "" {
		return invalidf("证明包存储使用 file 驱动时必须提供 dir")
	}
	if c.Storage.PackageStore.Driver == "mysql" && c.Storage.PackageStore.DSN == "" {
		return invalidf("证明包存储使用 mysql 驱动时必须提供 dsn")
	}

	switch c.Storage.Reputation.Driver {
	case "memory", "mysql":
	default:
		return invalidf("不支持的声誉存储驱动: %s", c.Storage.Reputation.Driver)
	}
	if c.Storage.Reputation.Driver == "mysql" && c.Storage.Reputation.DSN == "" {
		return invalidf("声誉存储使用 mysql 驱动时必须提供 dsn")
	}

	switch c.Queue.Driver {
	case "memory", "redis", "rabbitmq":
	default:
		return invalidf("不支持的队列驱动: %s", c.Queue.Driver)
	}
	if c.Queue.Driver == "redis" && c.Queue.Redis.Addr == "" {
		return invalidf("队列使用 redis 驱动时必须提供 addr")
	}
	if c.Queue.Driver == "rabbitmq" && c.Queue.RabbitMQ.URL == "" {
		return invalidf("队列使用 rabbitmq 驱动时必须提供 url")
	}

	switch c.Registry.Driver {
	case "memory", "ethereum":
	default:
		return invalidf("不支持的注册表驱动: %s", c.Registry.Driver)
	}
	if c.Registry.Driver == "ethereum" {
		if c.Registry.ChainsPath == "" {
			return invalidf("注册表使用 ethereum 驱动时必须提供 chains_path")
		}
		if c.Registry.ContractsPath == "" {
			return invalidf("注册表使用 ethereum 驱动时必须提供 contracts_path")
		}
	}

	if c.Workflow.DefaultMinPct < 0 || c.Workflow.DefaultMaxPct > 100 ||
		c.Workflow.DefaultMinPct > c.Workflow.DefaultMaxPct {
		return invalidf("默认配比约束非法: [%d, %d]", c.Workflow.DefaultMinPct, c.Workflow.DefaultMaxPct)
	}
	return nil
}

func invalidf(format string, args ...any) error {
	return xerrors.New(xerrors.CodeConfigInvalid, fmt.Sprintf(format, args...))
}
