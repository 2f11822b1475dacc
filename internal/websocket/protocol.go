package websocket

import "encoding/json"

// 消息类型
const (
	// 握手消息
	MessageTypeAuthenticate  = "authenticate"
	MessageTypeAuthenticated = "authenticated"
	MessageTypeAuthError     = "auth_error"

	// 系统消息
	MessageTypePing  = "ping"
	MessageTypePong  = "pong"
	MessageTypeError = "error"

	// 会话消息
	MessageTypeSessionState = "session_state"
	MessageTypePlayerLeft   = "player_left"
)

// Message WebSocket消息
// 客户端连接后必须先发送 authenticate 携带凭证与目标会话ID，
// 服务端应答 authenticated 或 auth_error
type Message struct {
	Type      string          `json:"type"`
	Token     string          `json:"token,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// AuthenticatedData authenticated消息的负载
type AuthenticatedData struct {
	UserID    uint   `json:"userId"`
	SessionID string `json:"sessionId"`
}

// PlayerLeftData player_left消息的负载
type PlayerLeftData struct {
	UserID uint `json:"userId"`
}

// ErrorData 错误消息的负载
type ErrorData struct {
	Code    int    `json:"code,omitempty"`
	Message string `json:"message"`
}
