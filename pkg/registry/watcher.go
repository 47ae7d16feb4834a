// 文件: pkg/registry/watcher.go
// 到期扫描
//
// 定时从 ExpiryIndex 认领到期的期权并发出通知事件:
// - 已终结:        只从索引移除
// - 已售出未行权:  OPTION_LAPSED, writer 此后可以 Withdraw
// - 未售出:        OPTION_EXPIRED_UNSOLD, writer 可以 Cancel
//
// Watcher 从不划转资产, 取回/撤销仍由 writer 自己调用

package registry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/PsyCodeLabs/de-opt-contracts/pkg/event"
)

// WatcherConfig 扫描配置
type WatcherConfig struct {
	ScanInterval time.Duration
	BatchSize    int // 每次认领上限
}

// DefaultWatcherConfig 默认配置
func DefaultWatcherConfig() WatcherConfig {
	return WatcherConfig{
		ScanInterval: time.Second,
		BatchSize:    500,
	}
}

// ScanResult 单次扫描统计
type ScanResult struct {
	Lapsed  int
	Unsold  int
	Dropped int // 已终结或找不到实例
}

// Watcher 到期扫描器
type Watcher struct {
	cfg WatcherConfig
	reg *Registry
	log *logrus.Entry

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewWatcher 创建
func NewWatcher(cfg WatcherConfig, reg *Registry) *Watcher {
	def := DefaultWatcherConfig()
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = def.ScanInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	return &Watcher{
		cfg: cfg,
		reg: reg,
		log: reg.log.WithField("component", "expiry-watcher"),
	}
}

// Start 启动扫描循环
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return errors.New("expiry watcher already running")
	}
	w.running = true
	w.stopChan = make(chan struct{})
	w.wg.Add(1)
	go w.scanLoop()

	w.log.WithField("interval", w.cfg.ScanInterval).Info("[Watcher] started")
	return nil
}

// Stop 停止并等待当前扫描结束
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	close(w.stopChan)
	w.running = false
	w.mu.Unlock()

	w.wg.Wait()
	w.log.Info("[Watcher] stopped")
}

func (w *Watcher) scanLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopChan:
			return
		case <-ticker.C:
			if _, err := w.Scan(context.Background()); err != nil {
				w.log.WithError(err).Error("[Watcher] scan failed")
			}
		}
	}
}

// Scan 执行一次扫描 (也供手动触发/测试)
func (w *Watcher) Scan(ctx context.Context) (ScanResult, error) {
	var res ScanResult
	now := w.reg.clock()

	for {
		ids, err := w.reg.index.Due(ctx, now, w.cfg.BatchSize)
		if err != nil {
			return res, err
		}
		for _, id := range ids {
			w.handle(ctx, id, &res)
		}
		if len(ids) < w.cfg.BatchSize {
			return res, nil
		}
	}
}

func (w *Watcher) handle(ctx context.Context, id int64, res *ScanResult) {
	o, err := w.reg.Get(id)
	if err != nil {
		// 重启后 Redis 索引里可能残留本进程不认识的 ID
		w.log.WithField("option_id", id).Warn("[Watcher] unknown option dropped")
		res.Dropped++
		return
	}

	snap := o.Snapshot()
	var typ event.Type
	switch {
	case snap.Status.Terminal():
		res.Dropped++
		return
	case snap.Holder != (common.Address{}):
		typ = event.OptionLapsed
		res.Lapsed++
	default:
		typ = event.OptionExpiredUnsold
		res.Unsold++
	}

	ev := event.New(typ, snap.ID, snap.Address, common.Address{}, w.reg.clock()).
		With("writer", snap.Writer.Hex()).
		With("status", string(snap.Status))
	if snap.Holder != (common.Address{}) {
		ev.With("holder", snap.Holder.Hex())
	}

	w.log.WithFields(logrus.Fields{
		"option_id": snap.ID,
		"event":     typ,
		"expiry":    snap.Expiry.UTC().Format(time.RFC3339),
	}).Info("[Watcher] option expired")

	if err := w.reg.publisher.Publish(ctx, ev); err != nil {
		w.log.WithError(err).WithField("option_id", snap.ID).Error("[Watcher] publish event failed")
	}
}
