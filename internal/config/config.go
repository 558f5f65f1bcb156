package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"contractkit/internal/errors"
	"contractkit/internal/logging"
	"contractkit/internal/retry"

	"github.com/spf13/viper"
)

// EnvPrefix 环境变量前缀，例如 CONTRACTKIT_API_PORT
const EnvPrefix = "CONTRACTKIT"

// Config 主配置
type Config struct {
	Blockchain  *BlockchainConfig  `mapstructure:"blockchain"`
	Transaction *TransactionConfig `mapstructure:"transaction"`
	Filter      *FilterConfig      `mapstructure:"filter"`
	Decoder     *DecoderConfig     `mapstructure:"decoder"`
	Store       *StoreConfig       `mapstructure:"store"`
	Output      *OutputConfig      `mapstructure:"output"`
	API         *APIConfig         `mapstructure:"api"`
	Logging     *logging.LogConfig `mapstructure:"logging"`
}

// BlockchainConfig 区块链配置
type BlockchainConfig struct {
	Nodes []*NodeConfig `mapstructure:"nodes"`
}

// NodeConfig 节点配置
type NodeConfig struct {
	Name      string `mapstructure:"name"`
	URL       string `mapstructure:"url"`
	RateLimit int    `mapstructure:"rate_limit"` // 每秒请求数，0表示不限
	Priority  int    `mapstructure:"priority"`   // 数值越小越优先
	Timeout   string `mapstructure:"timeout"`    // 单次请求超时
}

// TransactionConfig 回执轮询配置
type TransactionConfig struct {
	MaxAttempts     int     `mapstructure:"max_attempts"`
	InitialInterval string  `mapstructure:"initial_interval"`
	MaxInterval     string  `mapstructure:"max_interval"`
	BackoffFactor   float64 `mapstructure:"backoff_factor"`
}

// FilterConfig 事件轮询配置
type FilterConfig struct {
	PollInterval string `mapstructure:"poll_interval"`
}

// DecoderConfig 解码器配置
type DecoderConfig struct {
	FourByteAPIURL string `mapstructure:"fourbyte_api_url"`
	APITimeout     string `mapstructure:"api_timeout"`
	EnableCache    bool   `mapstructure:"enable_cache"`
	CacheSize      int    `mapstructure:"cache_size"`
	EnableAPI      bool   `mapstructure:"enable_api"`
}

// StoreConfig 持久化配置
type StoreConfig struct {
	Driver string `mapstructure:"driver"` // none, bolt, postgres
	Path   string `mapstructure:"path"`
	DSN    string `mapstructure:"dsn"`
}

// KafkaConfig Kafka配置
type KafkaConfig struct {
	Brokers []string          `mapstructure:"brokers"`
	Topics  map[string]string `mapstructure:"topics"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	Format    string       `mapstructure:"format"` // stdout, file, kafka
	Directory string       `mapstructure:"directory"`
	Kafka     *KafkaConfig `mapstructure:"kafka"`
}

// APIConfig HTTP服务配置
type APIConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

// LoadConfig 加载配置：文件存在时读取文件，否则使用默认值，最后应用环境变量
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	cfg := GetDefaultConfig()
	setDefaults(v, cfg)

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, configError("读取配置文件失败: %v", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, configError("检查配置文件失败: %v", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, configError("解析配置失败: %v", err)
	}

	// 单节点快捷方式
	if rpcURL := os.Getenv(EnvPrefix + "_RPC_URL"); rpcURL != "" {
		cfg.Blockchain.Nodes = []*NodeConfig{{Name: "env", URL: rpcURL, Priority: 1, Timeout: "30s"}}
	}

	return cfg, nil
}

// LoadConfigFromFile 从文件加载配置，文件必须存在
func LoadConfigFromFile(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); err != nil {
		return nil, configError("读取配置文件失败: %v", err)
	}
	return LoadConfig(configPath)
}

// setDefaults 注册标量键，使AutomaticEnv能覆盖它们
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("transaction.max_attempts", cfg.Transaction.MaxAttempts)
	v.SetDefault("transaction.initial_interval", cfg.Transaction.InitialInterval)
	v.SetDefault("transaction.max_interval", cfg.Transaction.MaxInterval)
	v.SetDefault("transaction.backoff_factor", cfg.Transaction.BackoffFactor)
	v.SetDefault("filter.poll_interval", cfg.Filter.PollInterval)
	v.SetDefault("decoder.fourbyte_api_url", cfg.Decoder.FourByteAPIURL)
	v.SetDefault("decoder.api_timeout", cfg.Decoder.APITimeout)
	v.SetDefault("decoder.enable_cache", cfg.Decoder.EnableCache)
	v.SetDefault("decoder.cache_size", cfg.Decoder.CacheSize)
	v.SetDefault("decoder.enable_api", cfg.Decoder.EnableAPI)
	v.SetDefault("store.driver", cfg.Store.Driver)
	v.SetDefault("store.path", cfg.Store.Path)
	v.SetDefault("store.dsn", cfg.Store.DSN)
	v.SetDefault("output.format", cfg.Output.Format)
	v.SetDefault("output.directory", cfg.Output.Directory)
	v.SetDefault("api.port", cfg.API.Port)
	v.SetDefault("api.mode", cfg.API.Mode)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.format", cfg.Logging.Format)
	v.SetDefault("logging.output", cfg.Logging.Output)
}

// GetDefaultConfig 获取默认配置
func GetDefaultConfig() *Config {
	return &Config{
		Blockchain: &BlockchainConfig{
			Nodes: []*NodeConfig{
				{
					Name:      "local_node",
					URL:       "", // 需要在YAML配置或环境变量中指定
					RateLimit: 0,
					Priority:  1,
					Timeout:   "30s",
				},
			},
		},
		Transaction: &TransactionConfig{
			MaxAttempts:     50,
			InitialInterval: "1s",
			MaxInterval:     "10s",
			BackoffFactor:   2.0,
		},
		Filter: &FilterConfig{
			PollInterval: "10s",
		},
		Decoder: &DecoderConfig{
			FourByteAPIURL: "https://www.4byte.directory/api/v1/signatures/",
			APITimeout:     "5s",
			EnableCache:    true,
			CacheSize:      10000,
			EnableAPI:      false,
		},
		Store: &StoreConfig{
			Driver: "none",
			Path:   "./data/contractkit.db",
		},
		Output: &OutputConfig{
			Format:    "stdout",
			Directory: "./outputs",
			Kafka: &KafkaConfig{
				Brokers: []string{"localhost:9092"},
				Topics: map[string]string{
					"events":   "contract_events",
					"receipts": "transaction_receipts",
				},
			},
		},
		API: &APIConfig{
			Port: 8080,
			Mode: "release",
		},
		Logging: &logging.LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stderr",
		},
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if c.Blockchain == nil || c.Transaction == nil || c.Filter == nil || c.Decoder == nil ||
		c.Store == nil || c.Output == nil || c.API == nil || c.Logging == nil {
		return configError("配置缺少必要的分组")
	}

	names := make(map[string]bool)
	for i, node := range c.Blockchain.Nodes {
		if node.Name == "" {
			return configError("节点 %d 缺少名称", i)
		}
		if names[node.Name] {
			return configError("节点名称重复: %s", node.Name)
		}
		names[node.Name] = true
		if node.URL != "" {
			u, err := url.Parse(node.URL)
			if err != nil || !validScheme(u.Scheme) || u.Host == "" {
				return configError("节点 %s 的URL无效: %s", node.Name, node.URL)
			}
		}
		if node.RateLimit < 0 {
			return configError("节点 %s 的rate_limit不能为负数", node.Name)
		}
		if _, err := parseDuration(node.Timeout, 30*time.Second); err != nil {
			return configError("节点 %s 的timeout无效: %v", node.Name, err)
		}
	}

	if _, err := c.Transaction.RetryConfig(); err != nil {
		return err
	}
	if _, err := c.Filter.Interval(); err != nil {
		return err
	}
	if _, err := c.Decoder.Timeout(); err != nil {
		return err
	}

	switch c.Store.Driver {
	case "", "none":
	case "bolt":
		if c.Store.Path == "" {
			return configError("bolt存储需要path")
		}
	case "postgres":
		if c.Store.DSN == "" {
			return configError("postgres存储需要dsn")
		}
	default:
		return configError("不支持的存储驱动: %s", c.Store.Driver)
	}

	switch c.Output.Format {
	case "stdout", "file":
	case "kafka":
		if c.Output.Kafka == nil || len(c.Output.Kafka.Brokers) == 0 {
			return configError("kafka输出需要至少一个broker")
		}
	default:
		return configError("不支持的输出格式: %s", c.Output.Format)
	}

	if c.API.Port <= 0 || c.API.Port > 65535 {
		return configError("API端口无效: %d", c.API.Port)
	}

	if _, err := logging.NewLogger(&logging.LogConfig{Level: c.Logging.Level, Format: c.Logging.Format, Output: "stderr"}); err != nil {
		return configError("日志配置无效: %v", err)
	}

	return nil
}

// HasNodes 是否至少配置了一个带URL的节点
func (c *Config) HasNodes() bool {
	if c.Blockchain == nil {
		return false
	}
	for _, node := range c.Blockchain.Nodes {
		if node.URL != "" {
			return true
		}
	}
	return false
}

// RetryConfig 转换为回执轮询使用的重试配置
func (tc *TransactionConfig) RetryConfig() (*retry.RetryConfig, error) {
	initial, err := parseDuration(tc.InitialInterval, time.Second)
	if err != nil {
		return nil, configError("transaction.initial_interval无效: %v", err)
	}
	maxInterval, err := parseDuration(tc.MaxInterval, 10*time.Second)
	if err != nil {
		return nil, configError("transaction.max_interval无效: %v", err)
	}
	if tc.MaxAttempts <= 0 {
		return nil, configError("transaction.max_attempts必须为正数")
	}
	if tc.BackoffFactor < 1 {
		return nil, configError("transaction.backoff_factor不能小于1")
	}
	if maxInterval < initial {
		return nil, configError("transaction.max_interval不能小于initial_interval")
	}

	return &retry.RetryConfig{
		MaxAttempts:     tc.MaxAttempts,
		InitialInterval: initial,
		MaxInterval:     maxInterval,
		BackoffFactor:   tc.BackoffFactor,
	}, nil
}

// Interval 轮询间隔
func (fc *FilterConfig) Interval() (time.Duration, error) {
	d, err := parseDuration(fc.PollInterval, 10*time.Second)
	if err != nil {
		return 0, configError("filter.poll_interval无效: %v", err)
	}
	return d, nil
}

// Timeout 4byte接口超时
func (dc *DecoderConfig) Timeout() (time.Duration, error) {
	d, err := parseDuration(dc.APITimeout, 5*time.Second)
	if err != nil {
		return 0, configError("decoder.api_timeout无效: %v", err)
	}
	return d, nil
}

// RequestTimeout 节点单次请求超时
func (nc *NodeConfig) RequestTimeout() time.Duration {
	d, err := parseDuration(nc.Timeout, 30*time.Second)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("时长必须为正数: %s", s)
	}
	return d, nil
}

func validScheme(scheme string) bool {
	switch scheme {
	case "http", "https", "ws", "wss":
		return true
	}
	return false
}

func configError(format string, args ...interface{}) *errors.ContractError {
	return errors.NewContractError(errors.ErrorTypeConfig, errors.SeverityHigh, "CONFIG_INVALID", fmt.Sprintf(format, args...)).
		WithComponent("config")
}
