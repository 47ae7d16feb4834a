// 文件: pkg/registry/syncer.go
// 记录同步: 订阅期权事件, 把最新快照写回 Repository

package registry

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/PsyCodeLabs/de-opt-contracts/pkg/event"
	"github.com/PsyCodeLabs/de-opt-contracts/pkg/option"
)

// RecordSyncer 期权事件 -> 持久化记录
//
// OPTION_CREATED 在期权登记进注册表之前发出, 此时查不到实例, 直接忽略;
// 创建记录由 Registry.CreateOption 显式保存
type RecordSyncer struct {
	lookup func(id int64) (*option.Option, error)
	repo   Repository
	index  ExpiryIndex
	log    *logrus.Entry
}

var _ event.Publisher = (*RecordSyncer)(nil)

// NewRecordSyncer 创建
func NewRecordSyncer(lookup func(int64) (*option.Option, error), repo Repository, index ExpiryIndex, log *logrus.Entry) *RecordSyncer {
	return &RecordSyncer{lookup: lookup, repo: repo, index: index, log: log}
}

// Publish 实现 event.Publisher
func (s *RecordSyncer) Publish(ctx context.Context, e *event.Event) error {
	if !strings.HasPrefix(string(e.Type), "OPTION_") {
		return nil
	}
	o, err := s.lookup(e.SubjectID)
	if err != nil {
		return nil
	}

	snap := o.Snapshot()
	if err := s.repo.Save(ctx, NewRecord(snap)); err != nil {
		return err
	}
	if snap.Status.Terminal() && s.index != nil {
		if err := s.index.Remove(ctx, snap.ID); err != nil {
			s.log.WithError(err).WithField("option_id", snap.ID).Warn("[RecordSyncer] remove expiry failed")
		}
	}
	return nil
}
