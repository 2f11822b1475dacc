package errors

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// ErrorCode 错误码类型
type ErrorCode int

// 错误码定义（按模块分组）
const (
	// 通用错误 (1000-1999)
	ErrUnknown          ErrorCode = 1000
	ErrInvalidParam     ErrorCode = 1001
	ErrNotFound         ErrorCode = 1002
	ErrAlreadyExists    ErrorCode = 1003
	ErrPermissionDenied ErrorCode = 1004
	ErrTimeout          ErrorCode = 1005
	ErrCanceled         ErrorCode = 1006

	// 会话/回合错误 (2000-2999)
	ErrSessionNotFound  ErrorCode = 2000
	ErrSessionFull      ErrorCode = 2001
	ErrNotInSession     ErrorCode = 2002
	ErrNotYourTurn      ErrorCode = 2003
	ErrVersionConflict  ErrorCode = 2004
	ErrNoActivePlayers  ErrorCode = 2005
	ErrInviteNotFound   ErrorCode = 2006
	ErrNotCreator       ErrorCode = 2007
	ErrAlreadyJoined    ErrorCode = 2008
	ErrGoalRegression   ErrorCode = 2009

	// 叙事生成错误 (3000-3999)
	ErrGenerateFailed   ErrorCode = 3000
	ErrGenerateTimeout  ErrorCode = 3001
	ErrMalformedOutput  ErrorCode = 3002
	ErrImageFailed      ErrorCode = 3003
	ErrGenerateDisabled ErrorCode = 3004

	// 通信错误 (4000-4999)
	ErrWebSocketConnect ErrorCode = 4000
	ErrWebSocketSend    ErrorCode = 4001
	ErrWebSocketClosed  ErrorCode = 4002
	ErrMessageFormat    ErrorCode = 4003
	ErrNotAuthenticated ErrorCode = 4004

	// 数据库错误 (5000-5999)
	ErrDatabaseConnect ErrorCode = 5000
	ErrDatabaseQuery   ErrorCode = 5001
	ErrDatabaseInsert  ErrorCode = 5002
	ErrDatabaseUpdate  ErrorCode = 5003
	ErrDatabaseDelete  ErrorCode = 5004
	ErrTransaction     ErrorCode = 5005
	ErrDataIntegrity   ErrorCode = 5006

	// 配置错误 (6000-6999)
	ErrConfigLoad    ErrorCode = 6000
	ErrConfigParse   ErrorCode = 6001
	ErrConfigMissing ErrorCode = 6002

	// 安全错误 (7000-7999)
	ErrAuthentication ErrorCode = 7000
	ErrAuthorization  ErrorCode = 7001
	ErrTokenExpired   ErrorCode = 7002
	ErrTokenInvalid   ErrorCode = 7003

	// 用户错误 (8000-8999)
	ErrInvalidCredentials ErrorCode = 8000
	ErrUserExists         ErrorCode = 8001
	ErrUserNotFound       ErrorCode = 8002
	ErrUserBanned         ErrorCode = 8003
)

// 错误码消息映射
var errorMessages = map[ErrorCode]string{
	// 通用错误
	ErrUnknown:          "未知错误",
	ErrInvalidParam:     "无效的参数",
	ErrNotFound:         "资源未找到",
	ErrAlreadyExists:    "资源已存在",
	ErrPermissionDenied: "权限不足",
	ErrTimeout:          "操作超时",
	ErrCanceled:         "操作已取消",

	// 会话/回合错误
	ErrSessionNotFound: "故事会话不存在",
	ErrSessionFull:     "会话人数已满",
	ErrNotInSession:    "不是该会话的成员",
	ErrNotYourTurn:     "还没有轮到该玩家行动",
	ErrVersionConflict: "回合版本冲突，请刷新会话状态",
	ErrNoActivePlayers: "没有在线玩家，会话已暂停",
	ErrInviteNotFound:  "邀请码无效",
	ErrNotCreator:      "只有创建者可以执行该操作",
	ErrAlreadyJoined:   "已经加入了该会话",
	ErrGoalRegression:  "目标状态不允许回退",

	// 叙事生成错误
	ErrGenerateFailed:   "叙事生成失败",
	ErrGenerateTimeout:  "叙事生成超时",
	ErrMalformedOutput:  "叙事生成结果格式错误",
	ErrImageFailed:      "场景图片生成失败",
	ErrGenerateDisabled: "叙事生成服务未配置",

	// 通信错误
	ErrWebSocketConnect: "WebSocket连接失败",
	ErrWebSocketSend:    "WebSocket发送失败",
	ErrWebSocketClosed:  "WebSocket连接已关闭",
	ErrMessageFormat:    "消息格式错误",
	ErrNotAuthenticated: "连接未完成认证握手",

	// 数据库错误
	ErrDatabaseConnect: "数据库连接失败",
	ErrDatabaseQuery:   "数据库查询失败",
	ErrDatabaseInsert:  "数据库插入失败",
	ErrDatabaseUpdate:  "数据库更新失败",
	ErrDatabaseDelete:  "数据库删除失败",
	ErrTransaction:     "事务处理失败",
	ErrDataIntegrity:   "数据完整性错误",

	// 配置错误
	ErrConfigLoad:    "配置加载失败",
	ErrConfigParse:   "配置解析失败",
	ErrConfigMissing: "配置项缺失",

	// 安全错误
	ErrAuthentication: "认证失败",
	ErrAuthorization:  "授权失败",
	ErrTokenExpired:   "令牌已过期",
	ErrTokenInvalid:   "无效的令牌",

	// 用户错误
	ErrInvalidCredentials: "用户名或密码错误",
	ErrUserExists:         "用户名已存在",
	ErrUserNotFound:       "用户不存在",
	ErrUserBanned:         "用户已被封禁",
}

// AppError 应用错误结构
type AppError struct {
	Code    ErrorCode    `json:"code"`            // 错误码
	Message string       `json:"message"`         // 错误消息
	Details string       `json:"details"`         // 详细信息
	Cause   error        `json:"-"`               // 原始错误
	Stack   []StackFrame `json:"stack,omitempty"` // 调用栈
}

// StackFrame 调用栈帧
type StackFrame struct {
	Function string `json:"function"`
	File     string `json:"file"`
	Line     int    `json:"line"`
}

// Error 实现error接口
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("[%d] %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%d] %s", e.Code, e.Message)
}

// Unwrap 返回原始错误
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails 添加详细信息
func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

// WithCause 添加原因错误
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	if cause != nil && e.Details == "" {
		e.Details = cause.Error()
	}
	return e
}

// New 创建新的应用错误
func New(code ErrorCode, details ...string) *AppError {
	message, ok := errorMessages[code]
	if !ok {
		message = errorMessages[ErrUnknown]
	}

	err := &AppError{
		Code:    code,
		Message: message,
	}

	if len(details) > 0 {
		err.Details = strings.Join(details, "; ")
	}

	// 捕获调用栈
	err.captureStack(2)

	return err
}

// Newf 创建格式化的应用错误
func Newf(code ErrorCode, format string, args ...interface{}) *AppError {
	details := fmt.Sprintf(format, args...)
	return New(code, details)
}

// Wrap 包装错误
func Wrap(err error, code ErrorCode, details ...string) *AppError {
	if err == nil {
		return nil
	}

	// 如果已经是AppError，保留原始错误码
	if appErr, ok := err.(*AppError); ok {
		if len(details) > 0 {
			appErr.Details = strings.Join(details, "; ") + "; " + appErr.Details
		}
		return appErr
	}

	appErr := New(code, details...)
	appErr.Cause = err
	if appErr.Details == "" {
		appErr.Details = err.Error()
	}

	return appErr
}

// Wrapf 包装格式化错误
func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *AppError {
	details := fmt.Sprintf(format, args...)
	return Wrap(err, code, details)
}

// Is 判断错误是否为指定错误码
func Is(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}

	appErr, ok := err.(*AppError)
	return ok && appErr.Code == code
}

// GetCode 获取错误码
func GetCode(err error) ErrorCode {
	if err == nil {
		return 0
	}

	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}

	return ErrUnknown
}

// captureStack 捕获调用栈
func (e *AppError) captureStack(skip int) {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(skip+1, pcs)

	if n > 0 {
		frames := runtime.CallersFrames(pcs[:n])
		for {
			frame, more := frames.Next()

			// 跳过runtime和本包的调用
			if strings.Contains(frame.Function, "runtime.") ||
				strings.Contains(frame.Function, "github.com/wfunc/story-game/internal/errors") {
				if !more {
					break
				}
				continue
			}

			e.Stack = append(e.Stack, StackFrame{
				Function: frame.Function,
				File:     frame.File,
				Line:     frame.Line,
			})

			if !more {
				break
			}

			// 只保留前10个栈帧
			if len(e.Stack) >= 10 {
				break
			}
		}
	}
}

// HTTPStatus 返回对应的HTTP状态码
func (e *AppError) HTTPStatus() int {
	switch {
	case e.Code == ErrInvalidParam || e.Code == ErrMessageFormat:
		return 400 // Bad Request
	case e.Code == ErrNotFound || e.Code == ErrSessionNotFound ||
		e.Code == ErrInviteNotFound || e.Code == ErrUserNotFound:
		return 404 // Not Found
	case e.Code == ErrPermissionDenied || e.Code == ErrNotYourTurn ||
		e.Code == ErrNotInSession || e.Code == ErrNotCreator ||
		e.Code == ErrUserBanned:
		return 403 // Forbidden
	case e.Code == ErrVersionConflict || e.Code == ErrSessionFull ||
		e.Code == ErrAlreadyExists || e.Code == ErrAlreadyJoined ||
		e.Code == ErrUserExists:
		return 409 // Conflict
	case e.Code == ErrTimeout || e.Code == ErrGenerateTimeout:
		return 504 // Gateway Timeout
	case (e.Code >= 7000 && e.Code <= 7003) || e.Code == ErrInvalidCredentials:
		return 401 // Unauthorized
	case e.Code == ErrGenerateFailed || e.Code == ErrMalformedOutput:
		return 502 // Bad Gateway
	case e.Code >= 5000 && e.Code <= 5999:
		return 503 // Service Unavailable
	default:
		return 500 // Internal Server Error
	}
}

// IsRetryable 判断错误是否可重试
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	code := GetCode(err)
	switch code {
	case ErrTimeout,
		ErrGenerateFailed,
		ErrGenerateTimeout,
		ErrMalformedOutput,
		ErrWebSocketConnect,
		ErrDatabaseConnect:
		return true
	default:
		return false
	}
}

// ErrorResponse API错误响应结构
type ErrorResponse struct {
	Success   bool      `json:"success"`
	Error     *AppError `json:"error,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
	Timestamp int64     `json:"timestamp"`
}

// NewErrorResponse 创建错误响应
func NewErrorResponse(err *AppError, requestID string) *ErrorResponse {
	return &ErrorResponse{
		Success:   false,
		Error:     err,
		RequestID: requestID,
		Timestamp: time.Now().Unix(),
	}
}
