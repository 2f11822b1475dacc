package game

import "context"

// TurnPayload 叙事生成器返回的结构化回合数据
// 第0回合由生成器给出目标与前置条件；后续回合给出新满足的前置条件与达成信号
type TurnPayload struct {
	Narrative        string   `json:"narrative"`
	ImagePrompt      string   `json:"imagePrompt"`
	SuggestedActions []string `json:"suggestedActions"`
	TimeOfDay        string   `json:"timeOfDay"`
	IsSameLocation   bool     `json:"isSameLocation"`
	Characters       []string `json:"characters"`

	// 开局回合字段
	GameGoal          string   `json:"gameGoal,omitempty"`
	GoalPrerequisites []string `json:"goalPrerequisites,omitempty"`

	// 后续回合字段
	UpdatedMetPrerequisites []string `json:"updatedMetPrerequisites,omitempty"`
	GoalMetThisTurn         bool     `json:"goalMetThisTurn,omitempty"`
}

// Generator 叙事生成器接口
// 网络失败或超时返回 ErrGenerateTimeout，输出不符合结构返回 ErrMalformedOutput
type Generator interface {
	Generate(ctx context.Context, systemContext, prompt string) (*TurnPayload, error)
}

// ImageGenerator 场景图片生成器接口
// 尽力而为：失败由调用方降级为占位图，不影响回合
type ImageGenerator interface {
	GenerateImage(ctx context.Context, prompt string) (string, error)
}

// Presence 在线状态注册表接口（仅存于进程内存）
type Presence interface {
	IsConnected(sessionID string, userID uint) bool
}

// Broadcaster 会话广播通道接口
// 投递为尽力而为、至多一次，不做确认与重发
type Broadcaster interface {
	Publish(sessionID string, message interface{})
}
