// 文件: pkg/registry/gorm_repo.go
// 记录 GORM 存储 (MySQL 生产 / SQLite 开发与测试)

package registry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/PsyCodeLabs/de-opt-contracts/pkg/option"
)

var _ Repository = (*GormRepository)(nil)

// OpenDB 按驱动名打开数据库: "mysql" 或 "sqlite"
func OpenDB(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "mysql":
		dialector = mysql.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}
	return gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
}

// GormRepository GORM 实现
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository 创建并自动建表
func NewGormRepository(db *gorm.DB) (*GormRepository, error) {
	if err := db.AutoMigrate(&OptionRecord{}, &AssetRecord{}, &OfferRecord{}); err != nil {
		return nil, fmt.Errorf("migrate records: %w", err)
	}
	return &GormRepository{db: db}, nil
}

// 期权创建后只有这些列会变
var mutableColumns = []string{"holder", "premium", "inited", "executed", "status", "updated_at"}

// Save upsert
func (r *GormRepository) Save(ctx context.Context, rec *OptionRecord) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "option_id"}},
			DoUpdates: clause.AssignmentColumns(mutableColumns),
		}).
		Create(rec).Error
}

// Get 按 ID 查询
func (r *GormRepository) Get(ctx context.Context, optionID int64) (*OptionRecord, error) {
	var rec OptionRecord
	err := r.db.WithContext(ctx).
		Where("option_id = ?", optionID).
		First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrOptionNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// List 全部记录
func (r *GormRepository) List(ctx context.Context) ([]*OptionRecord, error) {
	var recs []*OptionRecord
	err := r.db.WithContext(ctx).
		Order("option_id ASC").
		Find(&recs).Error
	return recs, err
}

// ListByStatus 按状态查询
func (r *GormRepository) ListByStatus(ctx context.Context, status string) ([]*OptionRecord, error) {
	var recs []*OptionRecord
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("option_id ASC").
		Find(&recs).Error
	return recs, err
}

// ListExpiredBefore 到期且未终结
func (r *GormRepository) ListExpiredBefore(ctx context.Context, t time.Time, limit int) ([]*OptionRecord, error) {
	q := r.db.WithContext(ctx).
		Where("expiry <= ?", t.UnixMilli()).
		Where("status NOT IN ?", []string{
			string(option.StatusCancelled),
			string(option.StatusExercised),
			string(option.StatusLapsedWithdrawn),
		}).
		Order("expiry ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var recs []*OptionRecord
	err := q.Find(&recs).Error
	return recs, err
}

// SaveAsset upsert
func (r *GormRepository) SaveAsset(ctx context.Context, rec *AssetRecord) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "symbol"}},
			DoUpdates: clause.AssignmentColumns([]string{"decimals", "updated_at"}),
		}).
		Create(rec).Error
}

// ListAssets 全部标的登记
func (r *GormRepository) ListAssets(ctx context.Context) ([]*AssetRecord, error) {
	var recs []*AssetRecord
	err := r.db.WithContext(ctx).
		Order("symbol ASC").
		Find(&recs).Error
	return recs, err
}

// SaveOffer upsert, 挂单创建后只有成交方和状态会变
func (r *GormRepository) SaveOffer(ctx context.Context, rec *OfferRecord) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "offer_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"buyer", "status", "updated_at"}),
		}).
		Create(rec).Error
}

// ListOffers 全部挂单
func (r *GormRepository) ListOffers(ctx context.Context) ([]*OfferRecord, error) {
	var recs []*OfferRecord
	err := r.db.WithContext(ctx).
		Order("offer_id ASC").
		Find(&recs).Error
	return recs, err
}
