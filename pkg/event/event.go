// 文件: pkg/event/event.go
// 领域事件
//
// 期权/挂单/账本每次成功的状态变化都产出一条 Event，
// 由 Publisher 发往 Kafka / NATS / 本地记录器。
// 发布失败只记日志，绝不回滚已经完成的结算。

package event

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// DefaultTopic 默认 topic / subject
const DefaultTopic = "options.events"

// Type 事件类型
type Type string

const (
	OptionCreated         Type = "OPTION_CREATED"
	OptionInited          Type = "OPTION_INITED"
	OptionBought          Type = "OPTION_BOUGHT"
	OptionPremiumAdjusted Type = "OPTION_PREMIUM_ADJUSTED"
	OptionTransferred     Type = "OPTION_TRANSFERRED"
	OptionCancelled       Type = "OPTION_CANCELLED"
	OptionExercised       Type = "OPTION_EXERCISED"
	OptionWithdrawn       Type = "OPTION_WITHDRAWN"
	OptionLapsed          Type = "OPTION_LAPSED"
	OptionExpiredUnsold   Type = "OPTION_EXPIRED_UNSOLD"
	OfferCreated          Type = "OFFER_CREATED"
	OfferAccepted         Type = "OFFER_ACCEPTED"
	OfferCancelled        Type = "OFFER_CANCELLED"
	LedgerTransfer        Type = "LEDGER_TRANSFER"
)

// Event 领域事件
type Event struct {
	ID         string            `json:"id"`
	Type       Type              `json:"type"`
	SubjectID  int64             `json:"subject_id"` // 期权/挂单 ID, 账本事件为 0
	Subject    common.Address    `json:"subject"`    // 期权/挂单托管地址
	Actor      common.Address    `json:"actor"`
	Data       map[string]string `json:"data,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// New 创建事件
func New(typ Type, subjectID int64, subject, actor common.Address, at time.Time) *Event {
	return &Event{
		ID:         uuid.NewString(),
		Type:       typ,
		SubjectID:  subjectID,
		Subject:    subject,
		Actor:      actor,
		Data:       make(map[string]string),
		OccurredAt: at,
	}
}

// With 追加字段
func (e *Event) With(key, value string) *Event {
	e.Data[key] = value
	return e
}

// Key 分区 key: 同一实例的事件落在同一分区，保证顺序
func (e *Event) Key() string {
	if e.SubjectID != 0 {
		return strconv.FormatInt(e.SubjectID, 10)
	}
	return e.Subject.Hex()
}

// Value 序列化
func (e *Event) Value() ([]byte, error) {
	return json.Marshal(e)
}

// Decode 反序列化
func Decode(data []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// =============================================================================
// Publisher
// =============================================================================

// Publisher 事件发布接口
type Publisher interface {
	Publish(ctx context.Context, e *Event) error
}

// PublisherFunc 函数适配
type PublisherFunc func(ctx context.Context, e *Event) error

// Publish 实现 Publisher
func (f PublisherFunc) Publish(ctx context.Context, e *Event) error {
	return f(ctx, e)
}

// Nop 丢弃所有事件
type Nop struct{}

// Publish 实现 Publisher
func (Nop) Publish(context.Context, *Event) error { return nil }

// Multi 扇出到多个 Publisher，全部尝试，错误合并返回
type Multi []Publisher

// Publish 实现 Publisher
func (m Multi) Publish(ctx context.Context, e *Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OrNop nil 时返回 Nop
func OrNop(p Publisher) Publisher {
	if p == nil {
		return Nop{}
	}
	return p
}

// =============================================================================
// Recorder - 内存记录 (测试/本地调试)
// =============================================================================

// Recorder 记录所有事件
type Recorder struct {
	mu     sync.Mutex
	events []*Event
}

// NewRecorder 创建记录器
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Publish 实现 Publisher
func (r *Recorder) Publish(_ context.Context, e *Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

// Events 全部事件 (副本)
func (r *Recorder) Events() []*Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types 按顺序返回事件类型
func (r *Recorder) Types() []Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Type, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

// Count 某类事件条数
func (r *Recorder) Count(typ Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Type == typ {
			n++
		}
	}
	return n
}

// Reset 清空
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
