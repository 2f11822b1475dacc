package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	apperrors "github.com/wfunc/story-game/internal/errors"
	"go.uber.org/zap"
)

// WebSocket配置
const (
	// 写超时
	writeWait = 10 * time.Second

	// 读取pong超时
	pongWait = 60 * time.Second

	// ping发送周期（必须小于pongWait）
	pingPeriod = (pongWait * 9) / 10

	// 最大消息大小
	maxMessageSize = 64 * 1024 // 64KB

	// 握手超时
	authWait = 15 * time.Second
)

// Client WebSocket客户端
// 完成 authenticate 握手前不属于任何会话，不接收广播
type Client struct {
	Hub       *Hub
	Conn      *websocket.Conn
	Send      chan []byte
	UserID    uint
	SessionID string

	authenticated bool

	// sendMu 保护Send的关闭状态；关闭后的投递静默丢弃，
	// 读泵与Hub广播可能在任何时刻投递，不能向已关闭的通道发送
	sendMu     sync.Mutex
	sendClosed bool
}

// NewClient 创建新客户端
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		Hub:  hub,
		Conn: conn,
		Send: make(chan []byte, 256),
	}
}

// ReadPump 读取消息
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(maxMessageSize)
	// 握手阶段用更短的期限，超时未认证直接断开
	c.Conn.SetReadDeadline(time.Now().Add(authWait))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.Hub.logger.Debug("WebSocket读取错误",
					zap.Uint("user_id", c.UserID),
					zap.Error(err))
			}
			break
		}
		c.handleMessage(message)
	}
}

// WritePump 写入消息
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.Conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// 批量发送队列中的消息
			n := len(c.Send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.Send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage 处理接收到的消息
func (c *Client) handleMessage(data []byte) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.Hub.logger.Warn("解析WebSocket消息失败", zap.Error(err))
		c.sendError(apperrors.ErrMessageFormat, "消息格式错误")
		return
	}

	switch msg.Type {
	case MessageTypeAuthenticate:
		c.handleAuthenticate(&msg)

	case MessageTypePing:
		c.sendMessage(&Message{Type: MessageTypePong, Timestamp: time.Now().Unix()})

	case MessageTypePong:
		// 客户端应用层pong，读期限已在协议层pong处理器刷新

	default:
		if !c.authenticated {
			c.sendError(apperrors.ErrNotAuthenticated, "请先完成认证")
			return
		}
		c.Hub.logger.Warn("收到不支持的消息类型",
			zap.String("type", msg.Type),
			zap.Uint("user_id", c.UserID))
		c.sendError(apperrors.ErrMessageFormat, "不支持的消息类型: "+msg.Type)
	}
}

// handleAuthenticate 处理握手
// 成功应答 authenticated 并登记在线状态；失败应答 auth_error 并断开
func (c *Client) handleAuthenticate(msg *Message) {
	if c.authenticated {
		c.sendMessage(&Message{Type: MessageTypeAuthenticated, SessionID: c.SessionID, Timestamp: time.Now().Unix()})
		return
	}
	if msg.Token == "" || msg.SessionID == "" {
		c.sendAuthError("缺少凭证或会话ID")
		c.closeSend()
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	userID, err := c.Hub.auth.Authenticate(ctx, msg.Token, msg.SessionID)
	if err != nil {
		c.Hub.logger.Warn("WebSocket认证失败",
			zap.String("session_id", msg.SessionID),
			zap.Error(err))
		c.sendAuthError(err.Error())
		c.closeSend()
		return
	}

	c.UserID = userID
	c.SessionID = msg.SessionID
	c.authenticated = true
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))

	c.Hub.Connect(c)

	data, _ := json.Marshal(AuthenticatedData{UserID: userID, SessionID: msg.SessionID})
	c.sendMessage(&Message{
		Type:      MessageTypeAuthenticated,
		SessionID: msg.SessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
}

// sendMessage 发送一条协议消息
func (c *Client) sendMessage(msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

// trySend 非阻塞投递原始字节
// 通道已关闭或缓冲区满时返回false并丢弃
func (c *Client) trySend(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// sendError 发送错误消息
func (c *Client) sendError(code apperrors.ErrorCode, message string) {
	data, _ := json.Marshal(ErrorData{Code: int(code), Message: message})
	c.sendMessage(&Message{Type: MessageTypeError, Data: data, Timestamp: time.Now().Unix()})
}

// sendAuthError 发送认证失败消息
func (c *Client) sendAuthError(message string) {
	data, _ := json.Marshal(ErrorData{Message: message})
	c.sendMessage(&Message{Type: MessageTypeAuthError, Data: data, Timestamp: time.Now().Unix()})
}

// closeSend 关闭发送通道，写泵随后关闭底层连接
// 幂等；关闭之后的投递全部走丢弃路径
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return
	}
	c.sendClosed = true
	close(c.Send)
}
