package websocket

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/story-game/internal/game"
	"go.uber.org/zap"
)

// newTestClient 不带真实连接的测试客户端
func newTestClient(h *Hub, sessionID string, userID uint) *Client {
	return &Client{
		Hub:           h,
		Send:          make(chan []byte, 16),
		UserID:        userID,
		SessionID:     sessionID,
		authenticated: true,
	}
}

func TestHub_ConnectAndIsConnected(t *testing.T) {
	h := NewHub(nil, zap.NewNop())

	assert.False(t, h.IsConnected("sess-1", 1))

	c1 := newTestClient(h, "sess-1", 1)
	h.Connect(c1)

	assert.True(t, h.IsConnected("sess-1", 1))
	assert.False(t, h.IsConnected("sess-1", 2))
	assert.False(t, h.IsConnected("sess-2", 1))
	assert.Equal(t, 1, h.OnlineCount("sess-1"))
}

func TestHub_ConnectReplacesExisting(t *testing.T) {
	// 同一用户重连时新连接替换旧连接
	h := NewHub(nil, zap.NewNop())

	c1 := newTestClient(h, "sess-1", 1)
	h.Connect(c1)
	c2 := newTestClient(h, "sess-1", 1)
	h.Connect(c2)

	assert.True(t, h.IsConnected("sess-1", 1))
	assert.Equal(t, 1, h.OnlineCount("sess-1"))

	// 旧连接的发送通道已关闭
	_, open := <-c1.Send
	assert.False(t, open)

	// 旧连接的注销不能影响新连接的登记
	h.Disconnect(c1)
	assert.True(t, h.IsConnected("sess-1", 1))
}

func TestHub_ReplacedClientSendIsNoop(t *testing.T) {
	// 被替换的旧连接的读泵还在运行，之后的应用层消息
	// 和广播投递都必须静默丢弃，不能让进程崩溃
	h := NewHub(nil, zap.NewNop())

	c1 := newTestClient(h, "sess-1", 1)
	h.Connect(c1)
	c2 := newTestClient(h, "sess-1", 1)
	h.Connect(c2)

	assert.NotPanics(t, func() {
		c1.handleMessage([]byte(`{"type":"ping"}`))
	})
	assert.False(t, c1.trySend([]byte("stale")))

	// 广播只送达新连接
	assert.NotPanics(t, func() {
		h.Publish("sess-1", game.Event{Type: game.EventSessionState})
	})
	select {
	case <-c2.Send:
	default:
		t.Fatal("新连接应收到广播")
	}
}

func TestHub_DisconnectPrunesEmptySession(t *testing.T) {
	h := NewHub(nil, zap.NewNop())

	c1 := newTestClient(h, "sess-1", 1)
	h.Connect(c1)
	assert.Equal(t, 1, h.SessionCount())

	h.Disconnect(c1)
	assert.False(t, h.IsConnected("sess-1", 1))
	assert.Equal(t, 0, h.SessionCount())
}

func TestHub_DisconnectNotifiesPlayerLeft(t *testing.T) {
	h := NewHub(nil, zap.NewNop())

	c1 := newTestClient(h, "sess-1", 1)
	c2 := newTestClient(h, "sess-1", 2)
	h.Connect(c1)
	h.Connect(c2)

	h.Disconnect(c1)

	select {
	case raw := <-c2.Send:
		var msg Message
		require.NoError(t, json.Unmarshal(raw, &msg))
		assert.Equal(t, MessageTypePlayerLeft, msg.Type)

		var data PlayerLeftData
		require.NoError(t, json.Unmarshal(msg.Data, &data))
		assert.Equal(t, uint(1), data.UserID)
	default:
		t.Fatal("其余客户端应收到player_left")
	}
}

func TestHub_Publish(t *testing.T) {
	h := NewHub(nil, zap.NewNop())

	c1 := newTestClient(h, "sess-1", 1)
	c2 := newTestClient(h, "sess-1", 2)
	other := newTestClient(h, "sess-2", 3)
	h.Connect(c1)
	h.Connect(c2)
	h.Connect(other)

	h.Publish("sess-1", game.Event{Type: game.EventSessionState, Data: map[string]string{"sessionId": "sess-1"}})

	for _, c := range []*Client{c1, c2} {
		select {
		case raw := <-c.Send:
			var event game.Event
			require.NoError(t, json.Unmarshal(raw, &event))
			assert.Equal(t, game.EventSessionState, event.Type)
		default:
			t.Fatal("会话内客户端应收到广播")
		}
	}

	// 其他会话的客户端不应收到
	select {
	case <-other.Send:
		t.Fatal("其他会话的客户端不应收到广播")
	default:
	}
}

func TestHub_PublishBestEffort(t *testing.T) {
	// 缓冲区满的客户端被跳过，不阻塞也不报错
	h := NewHub(nil, zap.NewNop())

	full := &Client{
		Hub:       h,
		Send:      make(chan []byte), // 无缓冲且无人读取
		UserID:    1,
		SessionID: "sess-1",
	}
	normal := newTestClient(h, "sess-1", 2)
	h.Connect(full)
	h.Connect(normal)

	h.Publish("sess-1", game.Event{Type: game.EventSessionState})

	select {
	case <-normal.Send:
	default:
		t.Fatal("正常客户端应收到广播")
	}
}
