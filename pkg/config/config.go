// 文件: pkg/config/config.go
// 进程配置
//
// 加载顺序: 默认值 -> .env 文件 (godotenv) -> 环境变量 OPT_*
// 已存在的环境变量不会被 .env 覆盖

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// Config 全局配置
type Config struct {
	// HTTP
	HTTPAddr string

	// 身份
	AdminAddress common.Address

	// 报价资产
	QuoteSymbol   string
	QuoteDecimals int32

	// 存储
	DBDriver  string // memory / sqlite / mysql
	DBDSN     string
	RedisAddr string // 为空则不启用缓存/Redis 到期索引
	WALDir    string // 为空则账本不落盘

	// 消息
	NatsURL      string
	KafkaBrokers []string
	EventTopic   string

	// 其它
	NodeID       int64
	ScanInterval time.Duration
	LogLevel     string
	LogFormat    string
}

// Default 默认配置
func Default() Config {
	return Config{
		HTTPAddr:      ":8080",
		AdminAddress:  common.HexToAddress("0x00000000000000000000000000000000000000AD"),
		QuoteSymbol:   "USDT",
		QuoteDecimals: 18,
		DBDriver:      "memory",
		EventTopic:    "options.events",
		NodeID:        1,
		ScanInterval:  time.Second,
		LogLevel:      "info",
		LogFormat:     "text",
	}
}

// Load 读取 .env 与环境变量
func Load(files ...string) (Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv()
}

// FromEnv 只读环境变量
func FromEnv() (Config, error) {
	cfg := Default()

	str(&cfg.HTTPAddr, "OPT_HTTP_ADDR")
	str(&cfg.QuoteSymbol, "OPT_QUOTE_SYMBOL")
	str(&cfg.DBDriver, "OPT_DB_DRIVER")
	str(&cfg.DBDSN, "OPT_DB_DSN")
	str(&cfg.RedisAddr, "OPT_REDIS_ADDR")
	str(&cfg.WALDir, "OPT_WAL_DIR")
	str(&cfg.NatsURL, "OPT_NATS_URL")
	str(&cfg.EventTopic, "OPT_EVENT_TOPIC")
	str(&cfg.LogLevel, "OPT_LOG_LEVEL")
	str(&cfg.LogFormat, "OPT_LOG_FORMAT")

	if v := os.Getenv("OPT_ADMIN_ADDRESS"); v != "" {
		if !common.IsHexAddress(v) {
			return cfg, fmt.Errorf("OPT_ADMIN_ADDRESS: invalid address %q", v)
		}
		cfg.AdminAddress = common.HexToAddress(v)
	}
	if v := os.Getenv("OPT_KAFKA_BROKERS"); v != "" {
		cfg.KafkaBrokers = splitList(v)
	}
	if v := os.Getenv("OPT_QUOTE_DECIMALS"); v != "" {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil || n < 0 {
			return cfg, fmt.Errorf("OPT_QUOTE_DECIMALS: invalid value %q", v)
		}
		cfg.QuoteDecimals = int32(n)
	}
	if v := os.Getenv("OPT_NODE_ID"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return cfg, fmt.Errorf("OPT_NODE_ID: %w", err)
		}
		cfg.NodeID = n
	}
	if v := os.Getenv("OPT_SCAN_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("OPT_SCAN_INTERVAL: %w", err)
		}
		cfg.ScanInterval = d
	}

	return cfg, cfg.Validate()
}

// Validate 校验
func (c Config) Validate() error {
	switch c.DBDriver {
	case "memory":
	case "sqlite", "mysql":
		if c.DBDSN == "" {
			return fmt.Errorf("OPT_DB_DSN is required for driver %s", c.DBDriver)
		}
	default:
		return fmt.Errorf("unknown db driver %q", c.DBDriver)
	}
	if c.NodeID < 0 || c.NodeID > 1023 {
		return fmt.Errorf("node id %d out of range [0, 1023]", c.NodeID)
	}
	if c.ScanInterval <= 0 {
		return fmt.Errorf("scan interval must be positive")
	}
	if c.AdminAddress == (common.Address{}) {
		return fmt.Errorf("admin address must be set")
	}
	return nil
}

func str(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func splitList(v string) []string {
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
