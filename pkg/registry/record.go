// 文件: pkg/registry/record.go
// 持久化记录: 期权 / 标的登记 / 挂单
//
// 记录是实例快照的镜像, 运行中以内存实例为准; 进程重启时按记录重建实例
// 金额统一存十进制字符串, 18 位精度的代币会超出 BIGINT

package registry

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/PsyCodeLabs/de-opt-contracts/pkg/offer"
	"github.com/PsyCodeLabs/de-opt-contracts/pkg/option"
)

// OptionRecord 期权记录
type OptionRecord struct {
	OptionID           int64  `gorm:"primaryKey;autoIncrement:false" json:"option_id"`
	Address            string `gorm:"type:varchar(42);uniqueIndex" json:"address"`
	Kind               string `gorm:"type:varchar(8)" json:"kind"`
	Underlying         string `gorm:"type:varchar(32)" json:"underlying"`
	UnderlyingDecimals int32  `json:"underlying_decimals"`
	Quote              string `gorm:"type:varchar(32)" json:"quote"`
	QuoteDecimals      int32  `json:"quote_decimals"`
	OracleDecimals     int32  `json:"oracle_decimals"`
	Writer             string `gorm:"type:varchar(42);index" json:"writer"`
	Holder             string `gorm:"type:varchar(42);index" json:"holder"`
	Premium            string `gorm:"type:varchar(80)" json:"premium"`
	StrikePrice        string `gorm:"type:varchar(80)" json:"strike_price"`
	Quantity           string `gorm:"type:varchar(80)" json:"quantity"`
	StrikeValue        string `gorm:"type:varchar(80)" json:"strike_value"`
	Expiry             int64  `gorm:"index" json:"expiry"` // 毫秒
	Inited             bool   `json:"inited"`
	Executed           bool   `json:"executed"`
	Status             string `gorm:"type:varchar(20);index" json:"status"`
	OpenedAt           int64  `json:"opened_at"` // 期权创建时间, 毫秒
	UpdatedAt          int64  `gorm:"autoUpdateTime:milli" json:"updated_at"`
}

// TableName GORM 表名
func (OptionRecord) TableName() string {
	return "option_records"
}

// NewRecord 从快照生成记录
func NewRecord(s option.Snapshot) *OptionRecord {
	holder := ""
	if s.Holder != (common.Address{}) {
		holder = s.Holder.Hex()
	}
	return &OptionRecord{
		OptionID:           s.ID,
		Address:            s.Address.Hex(),
		Kind:               s.Kind.String(),
		Underlying:         s.Underlying,
		UnderlyingDecimals: s.UnderlyingDecimals,
		Quote:              s.Quote,
		QuoteDecimals:      s.QuoteDecimals,
		OracleDecimals:     s.OracleDecimals,
		Writer:             s.Writer.Hex(),
		Holder:             holder,
		Premium:            s.Premium.String(),
		StrikePrice:        s.StrikePrice.String(),
		Quantity:           s.Quantity.String(),
		StrikeValue:        s.StrikeValue.String(),
		Expiry:             s.Expiry.UnixMilli(),
		Inited:             s.Inited,
		Executed:           s.Executed,
		Status:             string(s.Status),
		OpenedAt:           s.CreatedAt.UnixMilli(),
	}
}

// PremiumAmount 解析权利金
func (r *OptionRecord) PremiumAmount() (decimal.Decimal, error) {
	return decimal.NewFromString(r.Premium)
}

// StrikeValueAmount 解析 strikeValue
func (r *OptionRecord) StrikeValueAmount() (decimal.Decimal, error) {
	return decimal.NewFromString(r.StrikeValue)
}

// Terminal 是否已终结
func (r *OptionRecord) Terminal() bool {
	return option.Status(r.Status).Terminal()
}

// Snapshot 还原为期权快照
func (r *OptionRecord) Snapshot() (option.Snapshot, error) {
	kind, err := option.ParseKind(r.Kind)
	if err != nil {
		return option.Snapshot{}, err
	}
	amounts := make([]decimal.Decimal, 4)
	for i, v := range []string{r.Premium, r.StrikePrice, r.Quantity, r.StrikeValue} {
		if amounts[i], err = decimal.NewFromString(v); err != nil {
			return option.Snapshot{}, fmt.Errorf("option %d amount %q: %w", r.OptionID, v, err)
		}
	}
	return option.Snapshot{
		ID:                 r.OptionID,
		Address:            common.HexToAddress(r.Address),
		Kind:               kind,
		Underlying:         r.Underlying,
		UnderlyingDecimals: r.UnderlyingDecimals,
		Quote:              r.Quote,
		QuoteDecimals:      r.QuoteDecimals,
		OracleDecimals:     r.OracleDecimals,
		Writer:             common.HexToAddress(r.Writer),
		Holder:             hexOrZero(r.Holder),
		Premium:            amounts[0],
		StrikePrice:        amounts[1],
		Quantity:           amounts[2],
		StrikeValue:        amounts[3],
		Expiry:             time.UnixMilli(r.Expiry).UTC(),
		CreatedAt:          time.UnixMilli(r.OpenedAt).UTC(),
		Inited:             r.Inited,
		Executed:           r.Executed,
		Status:             option.Status(r.Status),
	}, nil
}

// =============================================================================
// 标的登记
// =============================================================================

// AssetRecord SetOracle 登记过的标的资产
type AssetRecord struct {
	Symbol    string `gorm:"type:varchar(32);primaryKey" json:"symbol"`
	Decimals  int32  `json:"decimals"`
	UpdatedAt int64  `gorm:"autoUpdateTime:milli" json:"updated_at"`
}

// TableName GORM 表名
func (AssetRecord) TableName() string {
	return "option_assets"
}

// =============================================================================
// 挂单
// =============================================================================

// OfferRecord 挂单记录
type OfferRecord struct {
	OfferID   int64  `gorm:"primaryKey;autoIncrement:false" json:"offer_id"`
	Address   string `gorm:"type:varchar(42);uniqueIndex" json:"address"`
	OptionID  int64  `gorm:"index" json:"option_id"`
	Option    string `gorm:"type:varchar(42)" json:"option"`
	Seller    string `gorm:"type:varchar(42)" json:"seller"`
	Buyer     string `gorm:"type:varchar(42)" json:"buyer"`
	Ask       string `gorm:"type:varchar(80)" json:"ask"`
	Quote     string `gorm:"type:varchar(32)" json:"quote"`
	Status    string `gorm:"type:varchar(20);index" json:"status"`
	OpenedAt  int64  `json:"opened_at"` // 毫秒
	UpdatedAt int64  `gorm:"autoUpdateTime:milli" json:"updated_at"`
}

// TableName GORM 表名
func (OfferRecord) TableName() string {
	return "offer_records"
}

// NewOfferRecord 从挂单快照生成记录
func NewOfferRecord(s offer.Snapshot) *OfferRecord {
	buyer := ""
	if s.Buyer != (common.Address{}) {
		buyer = s.Buyer.Hex()
	}
	return &OfferRecord{
		OfferID:  s.ID,
		Address:  s.Address.Hex(),
		OptionID: s.OptionID,
		Option:   s.Option.Hex(),
		Seller:   s.Seller.Hex(),
		Buyer:    buyer,
		Ask:      s.Ask.String(),
		Quote:    s.Quote,
		Status:   string(s.Status),
		OpenedAt: s.CreatedAt.UnixMilli(),
	}
}

// Snapshot 还原为挂单快照 (InCustody 由行权权实时决定, 不还原)
func (r *OfferRecord) Snapshot() (offer.Snapshot, error) {
	ask, err := decimal.NewFromString(r.Ask)
	if err != nil {
		return offer.Snapshot{}, fmt.Errorf("offer %d ask %q: %w", r.OfferID, r.Ask, err)
	}
	return offer.Snapshot{
		ID:        r.OfferID,
		Address:   common.HexToAddress(r.Address),
		OptionID:  r.OptionID,
		Option:    common.HexToAddress(r.Option),
		Seller:    common.HexToAddress(r.Seller),
		Buyer:     hexOrZero(r.Buyer),
		Ask:       ask,
		Quote:     r.Quote,
		Status:    offer.Status(r.Status),
		CreatedAt: time.UnixMilli(r.OpenedAt).UTC(),
	}, nil
}

func hexOrZero(s string) common.Address {
	if s == "" {
		return common.Address{}
	}
	return common.HexToAddress(s)
}
