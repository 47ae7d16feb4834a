// 文件: pkg/registry/offer_store.go
// 挂单快照存进同一个 Repository (实现 offer.Store)

package registry

import (
	"context"

	"github.com/PsyCodeLabs/de-opt-contracts/pkg/offer"
)

var _ offer.Store = (*OfferStore)(nil)

// OfferStore offer.Store 适配
type OfferStore struct {
	repo Repository
}

// NewOfferStore 创建
func NewOfferStore(repo Repository) *OfferStore {
	return &OfferStore{repo: repo}
}

func (s *OfferStore) SaveOffer(ctx context.Context, snap offer.Snapshot) error {
	return s.repo.SaveOffer(ctx, NewOfferRecord(snap))
}

func (s *OfferStore) ListOffers(ctx context.Context) ([]offer.Snapshot, error) {
	recs, err := s.repo.ListOffers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]offer.Snapshot, 0, len(recs))
	for _, rec := range recs {
		snap, err := rec.Snapshot()
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, nil
}
