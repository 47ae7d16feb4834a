// 文件: cmd/optiond/main.go
// 期权服务进程
//
// 组装顺序: 配置 -> 日志 -> 事件总线 -> 账本 -> 喂价 -> 注册表/挂单 -> 到期扫描 -> HTTP

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/PsyCodeLabs/de-opt-contracts/pkg/api"
	"github.com/PsyCodeLabs/de-opt-contracts/pkg/asset"
	"github.com/PsyCodeLabs/de-opt-contracts/pkg/config"
	"github.com/PsyCodeLabs/de-opt-contracts/pkg/event"
	"github.com/PsyCodeLabs/de-opt-contracts/pkg/ident"
	"github.com/PsyCodeLabs/de-opt-contracts/pkg/kafka"
	"github.com/PsyCodeLabs/de-opt-contracts/pkg/logx"
	"github.com/PsyCodeLabs/de-opt-contracts/pkg/nats"
	"github.com/PsyCodeLabs/de-opt-contracts/pkg/offer"
	"github.com/PsyCodeLabs/de-opt-contracts/pkg/oracle"
	"github.com/PsyCodeLabs/de-opt-contracts/pkg/registry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	logger := logx.New(logx.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	log := logx.Component(logger, "optiond")
	if !strings.EqualFold(cfg.LogLevel, "debug") {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	// 1. 事件总线
	// -------------------------------------------------------------------------
	var publishers event.Multi

	if len(cfg.KafkaBrokers) > 0 {
		producer, err := kafka.NewProducer(kafka.DefaultProducerConfig(cfg.KafkaBrokers), logger.WithField("svc", "optiond"))
		if err != nil {
			log.WithError(err).Fatal("create kafka producer")
		}
		closers = append(closers, func() {
			if err := producer.Close(); err != nil {
				log.WithError(err).Warn("close kafka producer")
			}
		})
		publishers = append(publishers, event.NewKafkaPublisher(producer, cfg.EventTopic))

		consumer, err := kafka.NewConsumer(
			kafka.DefaultConsumerConfig(cfg.KafkaBrokers, "optiond-audit", cfg.EventTopic),
			auditKafka(logx.Component(logger, "audit")),
			logger.WithField("svc", "optiond"),
		)
		if err != nil {
			log.WithError(err).Fatal("create kafka consumer")
		}
		consumer.Start(ctx)
		closers = append(closers, func() { _ = consumer.Stop() })
		log.WithField("brokers", cfg.KafkaBrokers).Info("✅ Kafka publisher started")
	}

	if cfg.NatsURL != "" {
		pub, err := nats.NewPublisher(cfg.NatsURL)
		if err != nil {
			log.WithError(err).Fatal("create nats publisher")
		}
		closers = append(closers, pub.Close)
		publishers = append(publishers, event.NewNatsPublisher(pub, cfg.EventTopic))

		sub, err := nats.NewSubscriber(cfg.NatsURL, auditNats(logx.Component(logger, "audit")), logger.WithField("svc", "optiond"))
		if err != nil {
			log.WithError(err).Fatal("create nats subscriber")
		}
		if err := sub.Subscribe(cfg.EventTopic + ".>"); err != nil {
			log.WithError(err).Fatal("subscribe events")
		}
		closers = append(closers, func() { _ = sub.Close() })
		log.WithField("url", cfg.NatsURL).Info("✅ NATS publisher started")
	}

	// 2. Redis (可选)
	// -------------------------------------------------------------------------
	var rdb redis.UniversalClient
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			log.WithError(err).Fatal("connect redis")
		}
		rdb = client
		closers = append(closers, func() { _ = client.Close() })
	}

	// 3. 账本
	// -------------------------------------------------------------------------
	ledgers := &ledgerFactory{
		walDir:    cfg.WALDir,
		publisher: publishers,
		log:       logx.Component(logger, "ledger"),
	}
	closers = append(closers, ledgers.Close)

	quote, err := ledgers.New(cfg.QuoteSymbol, cfg.QuoteDecimals)
	if err != nil {
		log.WithError(err).Fatal("open quote ledger")
	}

	// 4. 喂价, 有 Redis 时同步镜像一份
	// -------------------------------------------------------------------------
	feed := oracle.NewFeed()
	if rdb != nil {
		feed.OnUpdate(func(q oracle.Quote) {
			if err := oracle.NewRedisOracle(rdb, q.Symbol).Publish(context.Background(), q.Price, q.Decimals); err != nil {
				log.WithError(err).WithField("symbol", q.Symbol).Warn("mirror price to redis")
			}
		})
	}

	// 5. 注册表
	// -------------------------------------------------------------------------
	repo, err := openRepository(cfg, rdb)
	if err != nil {
		log.WithError(err).Fatal("open repository")
	}
	var index registry.ExpiryIndex
	if rdb != nil {
		index = registry.NewRedisExpiryIndex(rdb, "")
	}

	// 注册表/挂单的托管地址都从 admin 派生
	regAddr := crypto.CreateAddress(cfg.AdminAddress, 0)
	offerAddr := crypto.CreateAddress(cfg.AdminAddress, 1)

	reg, err := registry.New(registry.Config{
		Address:    regAddr,
		Admin:      cfg.AdminAddress,
		NodeID:     cfg.NodeID,
		Publisher:  publishers,
		Repository: repo,
		Index:      index,
		Logger:     logx.Component(logger, "registry"),
	}, quote)
	if err != nil {
		log.WithError(err).Fatal("create registry")
	}
	// 重启时按登记过的资产重新打开账本并绑定喂价
	openLedger := func(symbol string, decimals int32) (asset.Ledger, oracle.PriceOracle, error) {
		l, err := ledgers.New(symbol, decimals)
		if err != nil {
			return nil, nil, err
		}
		return l, feed.Oracle(symbol), nil
	}
	if err := reg.Resume(ctx, openLedger); err != nil {
		log.WithError(err).Fatal("resume registry")
	}

	offerIDs, err := ident.NewGenerator(cfg.NodeID, offerAddr)
	if err != nil {
		log.WithError(err).Fatal("create offer id generator")
	}
	offers := offer.NewRegistry(offer.RegistryConfig{
		Quote:     quote,
		IDs:       offerIDs,
		Publisher: publishers,
		Store:     registry.NewOfferStore(repo),
		Logger:    logx.Component(logger, "offer"),
	})
	if err := offers.Resume(ctx, func(id int64) (offer.Right, error) {
		o, err := reg.Get(id)
		if err != nil {
			return nil, err
		}
		return o, nil
	}); err != nil {
		log.WithError(err).Fatal("resume offers")
	}

	// 6. 到期扫描
	// -------------------------------------------------------------------------
	watcher := registry.NewWatcher(registry.WatcherConfig{ScanInterval: cfg.ScanInterval}, reg)
	if err := watcher.Start(); err != nil {
		log.WithError(err).Fatal("start expiry watcher")
	}
	closers = append(closers, watcher.Stop)

	// 7. HTTP
	// -------------------------------------------------------------------------
	srv := api.NewServer(api.Config{
		Registry: reg,
		Offers:   offers,
		Feed:     feed,
		NewToken: ledgers.New,
		Logger:   logx.Component(logger, "api"),
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server")
		}
	}()
	log.WithFields(logrus.Fields{
		"addr":     cfg.HTTPAddr,
		"admin":    cfg.AdminAddress.Hex(),
		"registry": regAddr.Hex(),
		"quote":    cfg.QuoteSymbol,
		"db":       cfg.DBDriver,
	}).Info("🚀 optiond started")

	// 等待信号
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("🛑 Shutting down...")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
}

// openRepository 按驱动打开记录存储, 有 Redis 时外包一层缓存
func openRepository(cfg config.Config, rdb redis.UniversalClient) (registry.Repository, error) {
	var repo registry.Repository
	switch cfg.DBDriver {
	case "memory":
		repo = registry.NewMemoryRepository()
	default:
		db, err := registry.OpenDB(cfg.DBDriver, cfg.DBDSN)
		if err != nil {
			return nil, err
		}
		gr, err := registry.NewGormRepository(db)
		if err != nil {
			return nil, err
		}
		repo = gr
	}
	if rdb != nil {
		repo = registry.NewCachedRepository(repo, rdb)
	}
	return repo, nil
}

// =============================================================================
// 账本工厂
// =============================================================================

// ledgerFactory 新建代币账本: 可选 WAL, 余额变动发 LEDGER_TRANSFER 事件
type ledgerFactory struct {
	walDir    string
	publisher event.Publisher
	log       *logrus.Entry

	mu   sync.Mutex
	wals []*asset.WAL
}

func (f *ledgerFactory) New(symbol string, decimals int32) (asset.Ledger, error) {
	cfg := asset.TokenConfig{
		Symbol:   symbol,
		Decimals: decimals,
		OnChange: f.onChange,
	}
	if f.walDir != "" {
		wal, err := asset.NewWAL(asset.WALConfig{
			Dir:  filepath.Join(f.walDir, strings.ToLower(symbol)),
			Name: "ledger.wal",
		})
		if err != nil {
			return nil, err
		}
		f.mu.Lock()
		f.wals = append(f.wals, wal)
		f.mu.Unlock()
		cfg.WAL = wal
	}

	token := asset.NewToken(cfg)
	n, err := token.Recover()
	if err != nil {
		return nil, err
	}
	f.log.WithFields(logrus.Fields{"symbol": symbol, "replayed": n}).Info("ledger ready")
	return token, nil
}

func (f *ledgerFactory) onChange(m asset.Movement) {
	if m.Type == asset.WALApprove {
		return
	}
	actor := m.Spender
	if actor == (common.Address{}) {
		actor = m.From
	}
	ev := event.New(event.LedgerTransfer, 0, common.Address{}, actor, time.Now()).
		With("symbol", m.Symbol).
		With("kind", m.Type.String()).
		With("from", m.From.Hex()).
		With("to", m.To.Hex()).
		With("amount", m.Amount.String())
	if err := f.publisher.Publish(context.Background(), ev); err != nil {
		f.log.WithError(err).Warn("publish ledger movement")
	}
}

func (f *ledgerFactory) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.wals {
		if err := w.Close(); err != nil {
			f.log.WithError(err).Warn("close wal")
		}
	}
}

// =============================================================================
// 审计镜像: 订阅自己发出的事件, 只打日志
// =============================================================================

func auditKafka(log *logrus.Entry) kafka.Handler {
	return func(_ context.Context, topic string, key, value []byte) error {
		return auditEvent(log.WithField("topic", topic), value)
	}
}

func auditNats(log *logrus.Entry) nats.MessageHandler {
	return func(subject string, data []byte) error {
		return auditEvent(log.WithField("subject", subject), data)
	}
}

func auditEvent(log *logrus.Entry, data []byte) error {
	e, err := event.Decode(data)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"type":    e.Type,
		"subject": e.SubjectID,
		"actor":   e.Actor.Hex(),
	}).Debug("[Audit] event")
	return nil
}
