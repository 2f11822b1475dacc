package game

// 广播事件类型
const (
	EventSessionState = "session_state"
	EventPlayerLeft   = "player_left"
)

// Event 广播通道上的事件信封
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}
