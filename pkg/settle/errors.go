// 文件: pkg/settle/errors.go
// 结算错误分类
//
// 所有业务错误都归入五类之一:
// - Authorization: 调用方身份不对 (不是 writer/holder/seller/admin)
// - State:         当前生命周期状态不允许该操作
// - Timing:        到期前/到期后的时间限制
// - Value:         参数非法 (零值等)
// - Transfer:      底层资产账本调用失败 (余额/授权不足)
//
// 用法:
//
//	errors.Is(err, settle.ErrState)          // 按类别匹配
//	errors.Is(err, option.ErrAlreadyBought)  // 按具体错误匹配

package settle

import (
	"errors"
	"fmt"
)

// =============================================================================
// 错误类别
// =============================================================================

// Class 错误类别
type Class uint8

const (
	ClassUnknown Class = iota
	ClassAuthorization
	ClassState
	ClassTiming
	ClassValue
	ClassTransfer
)

func (c Class) String() string {
	switch c {
	case ClassAuthorization:
		return "AUTHORIZATION"
	case ClassState:
		return "STATE"
	case ClassTiming:
		return "TIMING"
	case ClassValue:
		return "VALUE"
	case ClassTransfer:
		return "TRANSFER"
	default:
		return "UNKNOWN"
	}
}

// 类别哨兵
var (
	ErrAuthorization = &Error{class: ClassAuthorization, msg: "authorization error", root: true}
	ErrState         = &Error{class: ClassState, msg: "state error", root: true}
	ErrTiming        = &Error{class: ClassTiming, msg: "timing error", root: true}
	ErrValue         = &Error{class: ClassValue, msg: "value error", root: true}
	ErrTransfer      = &Error{class: ClassTransfer, msg: "transfer error", root: true}
)

// 跨模块共用的具体错误
var (
	ErrTransferFailed    = New(ClassTransfer, "asset transfer failed")
	ErrCustodyShortfall  = New(ClassState, "custody balance below settlement requirement")
	ErrZeroAddress       = New(ClassValue, "zero address")
	ErrNonPositiveAmount = New(ClassValue, "amount must be a positive integer")
)

// =============================================================================
// Error
// =============================================================================

// Error 带类别的业务错误
type Error struct {
	class Class
	msg   string
	root  bool // 类别哨兵
}

// New 创建具体错误
func New(class Class, msg string) *Error {
	return &Error{class: class, msg: msg}
}

func (e *Error) Error() string {
	return e.msg
}

// Class 返回错误类别
func (e *Error) Class() Class {
	return e.class
}

// Is 具体错误可以匹配自身, 也可以匹配所属类别的哨兵
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t == e {
		return true
	}
	return t.root && t.class == e.class
}

// ClassOf 取出错误链上第一个业务错误的类别
func ClassOf(err error) Class {
	var e *Error
	if errors.As(err, &e) {
		return e.class
	}
	return ClassUnknown
}

// Transfer 把账本错误包装为 TransferError
//
// 结果同时匹配 ErrTransferFailed 和原始账本错误 (如 asset.ErrInsufficientAllowance)
func Transfer(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrTransferFailed, op, err)
}
