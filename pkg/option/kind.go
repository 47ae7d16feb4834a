// 文件: pkg/option/kind.go

package option

import (
	"fmt"
	"strings"
)

// Kind 期权类型
//
// 看涨/看跌共用一个状态机，只是抵押与交割的资产角色互换:
//
//	        抵押(writer 存入)      行权时 holder 交付
//	CALL    quantity 标的          strikeValue 报价资产
//	PUT     strikeValue 报价资产   quantity 标的
type Kind uint8

const (
	Call Kind = iota + 1
	Put
)

func (k Kind) String() string {
	switch k {
	case Call:
		return "CALL"
	case Put:
		return "PUT"
	default:
		return "UNKNOWN"
	}
}

// Valid 是否为已知类型
func (k Kind) Valid() bool {
	return k == Call || k == Put
}

// ParseKind 解析 "call"/"put" (不区分大小写)
func ParseKind(s string) (Kind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CALL":
		return Call, nil
	case "PUT":
		return Put, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidKind, s)
}

// MarshalText 实现 encoding.TextMarshaler
func (k Kind) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, ErrInvalidKind
	}
	return []byte(k.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler
func (k *Kind) UnmarshalText(b []byte) error {
	v, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// =============================================================================
// Status
// =============================================================================

// Status 生命周期状态 (由 inited/holder/executed 推导)
type Status string

const (
	StatusCreated         Status = "CREATED"
	StatusInited          Status = "INITED"
	StatusSold            Status = "SOLD"
	StatusCancelled       Status = "CANCELLED"
	StatusExercised       Status = "EXERCISED"
	StatusLapsedWithdrawn Status = "LAPSED_WITHDRAWN"
)

// Terminal 是否终态
func (s Status) Terminal() bool {
	switch s {
	case StatusCancelled, StatusExercised, StatusLapsedWithdrawn:
		return true
	}
	return false
}
