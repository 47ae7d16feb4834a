package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, "memory", cfg.DBDriver)
	assert.Equal(t, int32(18), cfg.QuoteDecimals)
	assert.Equal(t, "options.events", cfg.EventTopic)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("OPT_ADMIN_ADDRESS", "0x1111111111111111111111111111111111111111")
	t.Setenv("OPT_QUOTE_DECIMALS", "6")
	t.Setenv("OPT_KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("OPT_SCAN_INTERVAL", "250ms")
	t.Setenv("OPT_DB_DRIVER", "sqlite")
	t.Setenv("OPT_DB_DSN", "file::memory:")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x1111111111111111111111111111111111111111"), cfg.AdminAddress)
	assert.Equal(t, int32(6), cfg.QuoteDecimals)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 250*time.Millisecond, cfg.ScanInterval)
}

func TestFromEnv_Invalid(t *testing.T) {
	t.Setenv("OPT_DB_DRIVER", "mysql")
	_, err := FromEnv()
	assert.ErrorContains(t, err, "OPT_DB_DSN")

	t.Setenv("OPT_DB_DRIVER", "memory")
	t.Setenv("OPT_ADMIN_ADDRESS", "not-an-address")
	_, err = FromEnv()
	assert.ErrorContains(t, err, "OPT_ADMIN_ADDRESS")
}

func TestLoad_DotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("OPT_QUOTE_SYMBOL=USDC\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("OPT_QUOTE_SYMBOL") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "USDC", cfg.QuoteSymbol)

	// 文件不存在不算错误
	_, err = Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}
