package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// WalletConfig 钱包配置（私钥或助记词二选一）
type WalletConfig struct {
	PrivateKey     string
	Mnemonic       string
	DerivationPath string
}

// BackendConfig 后端 REST 配置
type BackendConfig struct {
	BaseURL          string
	Timeout          time.Duration
	RateCapacity     int // 令牌桶容量
	RateRefillPerSec int // 每秒补充令牌数
}

// ChainConfig 链上配置（卖家操作使用）
type ChainConfig struct {
	RPCURL        string
	ChainID       int64
	EscrowAddress string
	ReceiptWait   time.Duration // 等待交易回执的上限
}

// TradeConfig 交易流程的时间参数
// 卡住阈值和轮询上限是两个独立的可覆盖值，彼此不做推导
type TradeConfig struct {
	PaymentWindow   time.Duration // 支付窗口（默认 900 秒）
	SyncInterval    time.Duration // 创建后同步轮询间隔（默认 2 秒）
	SyncMaxAttempts int           // 同步最大次数（默认 30 次）
	PollInterval    time.Duration // 结算轮询间隔（默认 10 秒）
	StuckProofGrace time.Duration // 证明已生成但未结算的宽限期（默认 2 分钟）
	PollCeiling     time.Duration // 结算轮询绝对上限（默认 15 分钟）
	ExpiryTick      time.Duration // 倒计时刷新间隔（默认 1 秒）
}

// OrdersConfig 订单列表配置
type OrdersConfig struct {
	RefreshInterval time.Duration
	Sort            string
}

// FeeConfig 固定手续费（完整代币单位）
type FeeConfig struct {
	Public  decimal.Decimal
	Private decimal.Decimal
}

// ServerConfig 本地状态 API 配置
type ServerConfig struct {
	Listen string
}

// Config 应用配置
type Config struct {
	Wallet   WalletConfig
	Backend  BackendConfig
	Chain    ChainConfig
	Trade    TradeConfig
	Orders   OrdersConfig
	Fees     map[string]FeeConfig // key 为大写代币符号
	Server   ServerConfig
	StateDir string
	LogLevel string
	LogFile  string
}

// ConfigFile 配置文件结构（用于 YAML/JSON 解析）
// 时间字段按秒配置，sync_interval_ms 例外
type ConfigFile struct {
	Wallet struct {
		PrivateKey     string `yaml:"private_key" json:"private_key"`
		Mnemonic       string `yaml:"mnemonic" json:"mnemonic"`
		DerivationPath string `yaml:"derivation_path" json:"derivation_path"`
	} `yaml:"wallet" json:"wallet"`
	Backend struct {
		BaseURL          string `yaml:"base_url" json:"base_url"`
		TimeoutSeconds   int    `yaml:"timeout_seconds" json:"timeout_seconds"`
		RateCapacity     int    `yaml:"rate_capacity" json:"rate_capacity"`
		RateRefillPerSec int    `yaml:"rate_refill_per_sec" json:"rate_refill_per_sec"`
	} `yaml:"backend" json:"backend"`
	Chain struct {
		RPCURL             string `yaml:"rpc_url" json:"rpc_url"`
		ChainID            int64  `yaml:"chain_id" json:"chain_id"`
		EscrowAddress      string `yaml:"escrow_address" json:"escrow_address"`
		ReceiptWaitSeconds int    `yaml:"receipt_wait_seconds" json:"receipt_wait_seconds"`
	} `yaml:"chain" json:"chain"`
	Trade struct {
		PaymentWindowSeconds   int `yaml:"payment_window_seconds" json:"payment_window_seconds"`
		SyncIntervalMs         int `yaml:"sync_interval_ms" json:"sync_interval_ms"`
		SyncMaxAttempts        int `yaml:"sync_max_attempts" json:"sync_max_attempts"`
		PollIntervalSeconds    int `yaml:"poll_interval_seconds" json:"poll_interval_seconds"`
		StuckProofGraceSeconds int `yaml:"stuck_proof_grace_seconds" json:"stuck_proof_grace_seconds"`
		PollCeilingSeconds     int `yaml:"poll_ceiling_seconds" json:"poll_ceiling_seconds"`
		ExpiryTickMs           int `yaml:"expiry_tick_ms" json:"expiry_tick_ms"`
	} `yaml:"trade" json:"trade"`
	Orders struct {
		RefreshSeconds int    `yaml:"refresh_seconds" json:"refresh_seconds"`
		Sort           string `yaml:"sort" json:"sort"`
	} `yaml:"orders" json:"orders"`
	Fees map[string]struct {
		Public  string `yaml:"public" json:"public"`
		Private string `yaml:"private" json:"private"`
	} `yaml:"fees" json:"fees"`
	Server struct {
		Listen string `yaml:"listen" json:"listen"`
	} `yaml:"server" json:"server"`
	StateDir string `yaml:"state_dir" json:"state_dir"`
	LogLevel string `yaml:"log_level" json:"log_level"`
	LogFile  string `yaml:"log_file" json:"log_file"`
}

// 默认值
const (
	DefaultBackendURL      = "http://127.0.0.1:8000"
	DefaultPaymentWindow   = 900 * time.Second
	DefaultSyncInterval    = 2 * time.Second
	DefaultSyncMaxAttempts = 30
	DefaultPollInterval    = 10 * time.Second
	DefaultStuckProofGrace = 2 * time.Minute
	DefaultPollCeiling     = 15 * time.Minute
	DefaultExpiryTick      = time.Second
	DefaultOrdersRefresh   = 15 * time.Second
	DefaultDerivationPath  = "m/44'/60'/0'/0/0"
)

// DefaultFees 默认固定手续费（完整代币单位）
func DefaultFees() map[string]FeeConfig {
	return map[string]FeeConfig{
		"USDT": {Public: decimal.RequireFromString("0.1"), Private: decimal.Zero},
		"USDC": {Public: decimal.RequireFromString("0.1"), Private: decimal.Zero},
	}
}

// Load 加载配置：配置文件 -> .env -> 环境变量 -> 默认值
// filePath 为空时只使用环境变量和默认值
func Load(filePath string) (*Config, error) {
	// .env 不存在时忽略
	_ = godotenv.Load()

	var cf *ConfigFile
	if filePath != "" {
		var err error
		cf, err = loadConfigFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("加载配置文件失败 %s: %w", filePath, err)
		}
	} else {
		cf = &ConfigFile{}
	}

	cfg := &Config{
		Wallet: WalletConfig{
			PrivateKey:     getEnv("P2P_PRIVATE_KEY", cf.Wallet.PrivateKey),
			Mnemonic:       getEnv("P2P_MNEMONIC", cf.Wallet.Mnemonic),
			DerivationPath: firstNonEmpty(getEnv("P2P_DERIVATION_PATH", cf.Wallet.DerivationPath), DefaultDerivationPath),
		},
		Backend: BackendConfig{
			BaseURL:          firstNonEmpty(getEnv("P2P_BACKEND_URL", cf.Backend.BaseURL), DefaultBackendURL),
			Timeout:          seconds(parseIntEnv("P2P_BACKEND_TIMEOUT_SECONDS", cf.Backend.TimeoutSeconds), 30*time.Second),
			RateCapacity:     positiveOr(parseIntEnv("P2P_BACKEND_RATE_CAPACITY", cf.Backend.RateCapacity), 20),
			RateRefillPerSec: positiveOr(parseIntEnv("P2P_BACKEND_RATE_REFILL", cf.Backend.RateRefillPerSec), 10),
		},
		Chain: ChainConfig{
			RPCURL:        getEnv("P2P_RPC_URL", cf.Chain.RPCURL),
			ChainID:       int64(parseIntEnv("P2P_CHAIN_ID", int(cf.Chain.ChainID))),
			EscrowAddress: getEnv("P2P_ESCROW_ADDRESS", cf.Chain.EscrowAddress),
			ReceiptWait:   seconds(parseIntEnv("P2P_RECEIPT_WAIT_SECONDS", cf.Chain.ReceiptWaitSeconds), 2*time.Minute),
		},
		Trade: TradeConfig{
			PaymentWindow:   seconds(parseIntEnv("P2P_PAYMENT_WINDOW_SECONDS", cf.Trade.PaymentWindowSeconds), DefaultPaymentWindow),
			SyncInterval:    millis(parseIntEnv("P2P_SYNC_INTERVAL_MS", cf.Trade.SyncIntervalMs), DefaultSyncInterval),
			SyncMaxAttempts: positiveOr(parseIntEnv("P2P_SYNC_MAX_ATTEMPTS", cf.Trade.SyncMaxAttempts), DefaultSyncMaxAttempts),
			PollInterval:    seconds(parseIntEnv("P2P_POLL_INTERVAL_SECONDS", cf.Trade.PollIntervalSeconds), DefaultPollInterval),
			StuckProofGrace: seconds(parseIntEnv("P2P_STUCK_PROOF_GRACE_SECONDS", cf.Trade.StuckProofGraceSeconds), DefaultStuckProofGrace),
			PollCeiling:     seconds(parseIntEnv("P2P_POLL_CEILING_SECONDS", cf.Trade.PollCeilingSeconds), DefaultPollCeiling),
			ExpiryTick:      millis(parseIntEnv("P2P_EXPIRY_TICK_MS", cf.Trade.ExpiryTickMs), DefaultExpiryTick),
		},
		Orders: OrdersConfig{
			RefreshInterval: seconds(parseIntEnv("P2P_ORDERS_REFRESH_SECONDS", cf.Orders.RefreshSeconds), DefaultOrdersRefresh),
			Sort:            firstNonEmpty(getEnv("P2P_ORDERS_SORT", cf.Orders.Sort), "rate_asc"),
		},
		Server: ServerConfig{
			Listen: firstNonEmpty(getEnv("P2P_SERVER_LISTEN", cf.Server.Listen), "127.0.0.1:8088"),
		},
		StateDir: firstNonEmpty(getEnv("P2P_STATE_DIR", cf.StateDir), "data"),
		LogLevel: firstNonEmpty(getEnv("P2P_LOG_LEVEL", cf.LogLevel), "info"),
		LogFile:  getEnv("P2P_LOG_FILE", cf.LogFile),
	}

	fees, err := parseFees(cf)
	if err != nil {
		return nil, err
	}
	cfg.Fees = fees

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置验证失败: %w", err)
	}
	return cfg, nil
}

// Default 返回纯默认配置（测试和无配置文件场景使用）
func Default() *Config {
	return &Config{
		Wallet:  WalletConfig{DerivationPath: DefaultDerivationPath},
		Backend: BackendConfig{BaseURL: DefaultBackendURL, Timeout: 30 * time.Second, RateCapacity: 20, RateRefillPerSec: 10},
		Chain:   ChainConfig{ReceiptWait: 2 * time.Minute},
		Trade: TradeConfig{
			PaymentWindow:   DefaultPaymentWindow,
			SyncInterval:    DefaultSyncInterval,
			SyncMaxAttempts: DefaultSyncMaxAttempts,
			PollInterval:    DefaultPollInterval,
			StuckProofGrace: DefaultStuckProofGrace,
			PollCeiling:     DefaultPollCeiling,
			ExpiryTick:      DefaultExpiryTick,
		},
		Orders:   OrdersConfig{RefreshInterval: DefaultOrdersRefresh, Sort: "rate_asc"},
		Fees:     DefaultFees(),
		Server:   ServerConfig{Listen: "127.0.0.1:8088"},
		StateDir: "data",
		LogLevel: "info",
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Backend.BaseURL) == "" {
		return fmt.Errorf("P2P_BACKEND_URL 未配置")
	}
	if c.Trade.PaymentWindow <= 0 {
		return fmt.Errorf("payment_window_seconds 必须大于 0")
	}
	if c.Trade.SyncMaxAttempts <= 0 {
		return fmt.Errorf("sync_max_attempts 必须大于 0")
	}
	if c.Trade.PollInterval <= 0 || c.Trade.PollCeiling <= 0 || c.Trade.StuckProofGrace <= 0 {
		return fmt.Errorf("轮询间隔/宽限期/上限必须大于 0")
	}
	for sym, fee := range c.Fees {
		if fee.Public.IsNegative() || fee.Private.IsNegative() {
			return fmt.Errorf("代币 %s 的手续费不能为负数", sym)
		}
	}
	return nil
}

// loadConfigFile 加载配置文件（支持 YAML 和 JSON）
func loadConfigFile(filePath string) (*ConfigFile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cf ConfigFile
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cf); err != nil {
			return nil, fmt.Errorf("解析 YAML 配置文件失败: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cf); err != nil {
			return nil, fmt.Errorf("解析 JSON 配置文件失败: %w", err)
		}
	default:
		return nil, fmt.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml, .json)", filePath)
	}
	return &cf, nil
}

func parseFees(cf *ConfigFile) (map[string]FeeConfig, error) {
	fees := DefaultFees()
	for sym, raw := range cf.Fees {
		fee := FeeConfig{Public: decimal.Zero, Private: decimal.Zero}
		if raw.Public != "" {
			d, err := decimal.NewFromString(raw.Public)
			if err != nil {
				return nil, fmt.Errorf("解析 %s 公开手续费失败: %w", sym, err)
			}
			fee.Public = d
		}
		if raw.Private != "" {
			d, err := decimal.NewFromString(raw.Private)
			if err != nil {
				return nil, fmt.Errorf("解析 %s 私有手续费失败: %w", sym, err)
			}
			fee.Private = d
		}
		fees[strings.ToUpper(strings.TrimSpace(sym))] = fee
	}
	return fees, nil
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// parseIntEnv 解析整数环境变量
func parseIntEnv(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func positiveOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func seconds(v int, def time.Duration) time.Duration {
	if v > 0 {
		return time.Duration(v) * time.Second
	}
	return def
}

func millis(v int, def time.Duration) time.Duration {
	if v > 0 {
		return time.Duration(v) * time.Millisecond
	}
	return def
}
