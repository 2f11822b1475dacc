package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Authenticator 握手凭证校验器
// 校验凭证并确认用户是目标会话的成员，返回用户ID
type Authenticator interface {
	Authenticate(ctx context.Context, token, sessionID string) (uint, error)
}

// Hub 在线状态注册表与广播中心
// 按 会话 -> 用户 -> 客户端 维护活动连接；仅存于进程内存，
// 进程重启后全部在线信息丢失，客户端必须重连后重新握手
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]map[uint]*Client

	unregister chan *Client

	auth   Authenticator
	logger *zap.Logger
}

// NewHub 创建Hub
func NewHub(auth Authenticator, logger *zap.Logger) *Hub {
	return &Hub{
		sessions:   make(map[string]map[uint]*Client),
		unregister: make(chan *Client, 16),
		auth:       auth,
		logger:     logger,
	}
}

// Run 运行Hub事件循环，处理读写泵退出后的注销
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case client := <-h.unregister:
			h.disconnect(client)
		}
	}
}

// Connect 登记完成握手的客户端
// 对 (会话, 用户) 幂等：同一用户的新连接替换旧连接，旧连接被关闭
func (h *Hub) Connect(client *Client) {
	h.mu.Lock()
	users, ok := h.sessions[client.SessionID]
	if !ok {
		users = make(map[uint]*Client)
		h.sessions[client.SessionID] = users
	}
	old := users[client.UserID]
	users[client.UserID] = client
	h.mu.Unlock()

	if old != nil && old != client {
		// 旧连接整体淘汰：发送通道停止接收，底层连接关闭促使读写泵退出
		old.closeSend()
		if old.Conn != nil {
			old.Conn.Close()
		}
	}

	h.logger.Info("玩家连接到会话",
		zap.String("session_id", client.SessionID),
		zap.Uint("user_id", client.UserID))
}

// disconnect 注销客户端
// 同一用户的注册已被新连接替换时不做处理；会话清空后条目整体移除，
// 并向其余在线客户端发送 player_left
func (h *Hub) disconnect(client *Client) {
	if client.SessionID == "" {
		return
	}

	h.mu.Lock()
	users, ok := h.sessions[client.SessionID]
	if !ok || users[client.UserID] != client {
		h.mu.Unlock()
		return
	}
	delete(users, client.UserID)
	if len(users) == 0 {
		delete(h.sessions, client.SessionID)
	}
	h.mu.Unlock()

	h.logger.Info("玩家离开会话",
		zap.String("session_id", client.SessionID),
		zap.Uint("user_id", client.UserID))

	data, _ := json.Marshal(PlayerLeftData{UserID: client.UserID})
	h.send(client.SessionID, &Message{
		Type:      MessageTypePlayerLeft,
		SessionID: client.SessionID,
		Data:      data,
		Timestamp: time.Now().Unix(),
	})
}

// IsConnected 查询用户在会话内是否在线，纯查询无副作用
func (h *Hub) IsConnected(sessionID string, userID uint) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	users, ok := h.sessions[sessionID]
	if !ok {
		return false
	}
	_, ok = users[userID]
	return ok
}

// Publish 向会话的全部在线客户端推送消息
// 尽力而为、至多一次：缓冲区满的客户端直接丢弃本条，靠重连后查询补齐
func (h *Hub) Publish(sessionID string, message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("序列化广播消息失败", zap.Error(err))
		return
	}
	h.deliver(sessionID, data)
}

// send 向会话广播一条协议消息
func (h *Hub) send(sessionID string, msg *Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("序列化消息失败", zap.Error(err))
		return
	}
	h.deliver(sessionID, data)
}

// deliver 投递原始字节到会话的每个客户端
func (h *Hub) deliver(sessionID string, data []byte) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.sessions[sessionID]))
	for _, c := range h.sessions[sessionID] {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if !client.trySend(data) {
			h.logger.Warn("客户端不可写，丢弃消息",
				zap.String("session_id", sessionID),
				zap.Uint("user_id", client.UserID))
		}
	}
}

// SessionCount 当前有在线客户端的会话数
func (h *Hub) SessionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// OnlineCount 会话内的在线人数
func (h *Hub) OnlineCount(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

// Unregister 注销客户端
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Disconnect 同步注销客户端，测试与优雅停机使用
func (h *Hub) Disconnect(client *Client) {
	h.disconnect(client)
}
