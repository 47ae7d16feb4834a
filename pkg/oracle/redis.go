// 文件: pkg/oracle/redis.go
// Redis 报价源
//
// 喂价进程写 hash oracle:price:{symbol} (price, decimals, updated_at)
// 期权服务读取

package oracle

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const priceKeyPrefix = "oracle:price:"

// RedisOracle 单品种 Redis 预言机
type RedisOracle struct {
	client redis.UniversalClient
	symbol string
}

// NewRedisOracle 创建
func NewRedisOracle(client redis.UniversalClient, symbol string) *RedisOracle {
	return &RedisOracle{client: client, symbol: symbol}
}

func priceKey(symbol string) string {
	return priceKeyPrefix + symbol
}

// LatestPrice 实现 PriceOracle
func (o *RedisOracle) LatestPrice(ctx context.Context) (decimal.Decimal, int32, error) {
	vals, err := o.client.HMGet(ctx, priceKey(o.symbol), "price", "decimals").Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return decimal.Zero, 0, ErrNoPrice
		}
		return decimal.Zero, 0, fmt.Errorf("oracle %s: %w", o.symbol, err)
	}
	ps, ok1 := vals[0].(string)
	ds, ok2 := vals[1].(string)
	if !ok1 || !ok2 {
		return decimal.Zero, 0, ErrNoPrice
	}

	price, err := decimal.NewFromString(ps)
	if err != nil {
		return decimal.Zero, 0, fmt.Errorf("%w: %v", ErrInvalidPrice, err)
	}
	dec, err := strconv.ParseInt(ds, 10, 32)
	if err != nil {
		return decimal.Zero, 0, fmt.Errorf("%w: %v", ErrInvalidPrice, err)
	}
	if err := validate(price, int32(dec)); err != nil {
		return decimal.Zero, 0, err
	}
	return price, int32(dec), nil
}

// Publish 写入报价 (喂价端)
func (o *RedisOracle) Publish(ctx context.Context, price decimal.Decimal, decimals int32) error {
	if err := validate(price, decimals); err != nil {
		return err
	}
	return o.client.HSet(ctx, priceKey(o.symbol),
		"price", price.String(),
		"decimals", strconv.FormatInt(int64(decimals), 10),
		"updated_at", strconv.FormatInt(time.Now().UnixMilli(), 10),
	).Err()
}

// Delete 删除报价
func (o *RedisOracle) Delete(ctx context.Context) error {
	return o.client.Del(ctx, priceKey(o.symbol)).Err()
}
