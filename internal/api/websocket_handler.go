package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	apperrors "github.com/wfunc/story-game/internal/errors"
	"github.com/wfunc/story-game/internal/repository"
	"github.com/wfunc/story-game/internal/service"
	ws "github.com/wfunc/story-game/internal/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// WebSocketHandler WebSocket处理器
// 升级连接后客户端必须先发送authenticate消息完成握手
type WebSocketHandler struct {
	hub      *ws.Hub
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewWebSocketHandler 创建WebSocket处理器
func NewWebSocketHandler(hub *ws.Hub, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// 在生产环境中应该检查Origin
				return true
			},
		},
		logger: logger,
	}
}

// StoryWebSocket 故事会话WebSocket连接
func (h *WebSocketHandler) StoryWebSocket(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("WebSocket升级失败",
			zap.String("ip", c.ClientIP()),
			zap.Error(err))
		return
	}

	client := ws.NewClient(h.hub, conn)
	go client.WritePump()
	go client.ReadPump()
}

// sessionAuthenticator 握手校验器
// 校验令牌并确认用户在目标会话的花名册上
type sessionAuthenticator struct {
	auth     service.AuthService
	sessions repository.StorySessionRepository
}

// NewSessionAuthenticator 创建握手校验器
func NewSessionAuthenticator(auth service.AuthService, sessions repository.StorySessionRepository) ws.Authenticator {
	return &sessionAuthenticator{
		auth:     auth,
		sessions: sessions,
	}
}

// Authenticate 校验凭证并返回用户ID
func (a *sessionAuthenticator) Authenticate(ctx context.Context, token, sessionID string) (uint, error) {
	claims, err := a.auth.ValidateToken(ctx, token)
	if err != nil {
		return 0, err
	}

	session, err := a.sessions.FindBySessionID(ctx, sessionID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return 0, apperrors.New(apperrors.ErrSessionNotFound)
		}
		return 0, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	if session.FindPlayerByUser(claims.UserID) == nil {
		return 0, apperrors.New(apperrors.ErrNotInSession)
	}

	return claims.UserID, nil
}
