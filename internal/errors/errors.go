package errors

import (
	"errors"
	"fmt"
)

// AppError 工作台错误
//
// Code 与 REST 信封的 code 字段一一对应，开发后端写出、api 客户端读回的是同一张
// 码表；Message 直接作为工作台底部的提示文本。Err 保存底层原因（HTTP、NATS、
// pgx 错误），只进日志，不展示给客服。
type AppError struct {
	Code    int
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%d] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewError 定义一个错误码
func NewError(code int, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap 附上底层原因，返回新值，预定义错误本身不变
// err 为 nil 时返回 e
func (e *AppError) Wrap(err error) *AppError {
	if err == nil {
		return e
	}
	return &AppError{
		Code:    e.Code,
		Message: e.Message,
		Err:     err,
	}
}

// FromResponse 把 REST 信封中的非零 code 还原为错误
// 已知错误码复用本地定义，使 Is 与 IsTransient 在客户端同样生效；
// 服务端给出的提示优先
func FromResponse(code int, message string) *AppError {
	known, ok := byCode[code]
	if !ok {
		if message == "" {
			message = GetMessage(nil)
		}
		return NewError(code, message)
	}
	if message == "" || message == known.Message {
		return known
	}
	return NewError(code, message)
}

// Is 按错误码判断，穿透 fmt.Errorf("%w") 包装
func Is(err error, target *AppError) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == target.Code
	}
	return false
}

// GetCode 错误码，非 AppError 一律视为服务端内部错误
func GetCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeServerError
}

// GetMessage 给客服看的提示文本
func GetMessage(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return ErrServerError.Message
}

// IsTransient 是否为可重试的瞬时错误（网络、推送通道断开）
// 瞬时错误只提示用户，不清理任何缓存
func IsTransient(err error) bool {
	switch GetCode(err) {
	case CodeNetwork, CodeChannelDisconnected:
		return true
	}
	return false
}

// ============== 错误码定义 ==============

const (
	CodeSuccess = 0

	// 认证相关 10000-10999
	CodeTokenInvalid = 10003
	CodeTokenExpired = 10004

	// 参数相关 11000-11999
	CodeInvalidParams = 11002
	CodeNotFound      = 11003

	// 会话同步相关 20000-20999
	CodeNetwork             = 20001
	CodeSendFailed          = 20002
	CodeUploadFailed        = 20003
	CodeChannelDisconnected = 20004
	CodeMalformedEvent      = 20005

	// 系统错误 50000-50999
	CodeServerError   = 50001
	CodeDBError       = 50002
	CodeQuotaExceeded = 50004
)

// ============== 预定义错误 ==============

// 认证相关
var (
	ErrTokenInvalid = NewError(CodeTokenInvalid, "Token 无效")
	ErrTokenExpired = NewError(CodeTokenExpired, "Token 已过期")
)

// 参数相关
var (
	ErrInvalidParams = NewError(CodeInvalidParams, "参数校验失败")
	ErrNotFound      = NewError(CodeNotFound, "会话不存在")
)

// 会话同步相关
var (
	ErrNetwork             = NewError(CodeNetwork, "网络异常，稍后自动重试")
	ErrSendFailed          = NewError(CodeSendFailed, "消息发送失败，内容已恢复到输入框")
	ErrUploadFailed        = NewError(CodeUploadFailed, "附件上传失败，消息未发送")
	ErrChannelDisconnected = NewError(CodeChannelDisconnected, "实时连接已断开，正在重连")
	ErrMalformedEvent      = NewError(CodeMalformedEvent, "无法解析的推送事件")
)

// 系统相关
var (
	ErrServerError   = NewError(CodeServerError, "服务器内部错误")
	ErrDBError       = NewError(CodeDBError, "数据库错误")
	ErrQuotaExceeded = NewError(CodeQuotaExceeded, "自动回复额度已用完")
)

// byCode 客户端还原错误时使用的码表
var byCode = func() map[int]*AppError {
	m := make(map[int]*AppError)
	for _, e := range []*AppError{
		ErrTokenInvalid, ErrTokenExpired,
		ErrInvalidParams, ErrNotFound,
		ErrNetwork, ErrSendFailed, ErrUploadFailed, ErrChannelDisconnected, ErrMalformedEvent,
		ErrServerError, ErrDBError, ErrQuotaExceeded,
	} {
		m[e.Code] = e
	}
	return m
}()
