package models

import (
	"gorm.io/gorm"
)

// StorySession 故事会话表
// CurrentPlayerIndex 为空表示单人模式；多人模式下始终指向花名册中某个
// 活跃玩家的 PlayerIndex。
type StorySession struct {
	BaseModel
	SessionID          string     `gorm:"uniqueIndex;size:64;not null" json:"session_id"`
	CreatorID          uint       `gorm:"index;not null" json:"creator_id"`
	Theme              string     `gorm:"size:100;not null" json:"theme"`
	IsMultiplayer      bool       `gorm:"default:false" json:"is_multiplayer"`
	MaxPlayers         *int       `json:"max_players,omitempty"`
	CurrentPlayerIndex *int       `json:"current_player_index,omitempty"`
	InviteCode         *string    `gorm:"uniqueIndex;size:16" json:"invite_code,omitempty"`
	GameGoal           string     `gorm:"size:500" json:"game_goal"`
	GoalPrerequisites  StringList `gorm:"type:json" json:"goal_prerequisites"`
	MetPrerequisites   StringList `gorm:"type:json" json:"met_prerequisites"`
	IsGoalMet          bool       `gorm:"default:false" json:"is_goal_met"`

	// 关联
	Players []StoryPlayer `gorm:"foreignKey:SessionRef;constraint:OnDelete:CASCADE" json:"players,omitempty"`
	Turns   []StoryTurn   `gorm:"foreignKey:SessionRef;constraint:OnDelete:CASCADE" json:"turns,omitempty"`
}

// StoryPlayer 故事玩家花名册表
// PlayerIndex 即回合顺序位置：加入时分配，从0开始连续递增，创建者固定为0，
// 此后永不重新分配。
type StoryPlayer struct {
	BaseModel
	SessionRef    uint   `gorm:"index:idx_story_player,unique;not null" json:"session_ref"`
	UserID        uint   `gorm:"index;not null" json:"user_id"`
	PlayerIndex   int    `gorm:"index:idx_story_player,unique;not null" json:"player_index"`
	CharacterName string `gorm:"size:100" json:"character_name"`
	Gender        string `gorm:"column:character_gender;size:20" json:"character_gender"`
	PortraitURL   string `gorm:"size:255" json:"portrait_url"`
	IsActive      bool   `gorm:"default:true" json:"is_active"`
}

// StoryTurn 故事回合表
// TurnIndex 在会话内从0开始无间断严格递增；第N回合记录的是第N次行动产生的
// 场景，以第N-1回合为上下文。ActionTaken 仅在第0回合为空。
type StoryTurn struct {
	BaseModel
	SessionRef        uint       `gorm:"index:idx_story_turn,unique;not null" json:"session_ref"`
	TurnIndex         int        `gorm:"index:idx_story_turn,unique;not null" json:"turn_index"`
	Narrative         string     `gorm:"type:text;not null" json:"narrative"`
	ImageURL          string     `gorm:"size:500" json:"image_url"`
	ImagePrompt       string     `gorm:"size:1000" json:"image_prompt"`
	SuggestedActions  StringList `gorm:"type:json" json:"suggested_actions"`
	ActionTaken       *string    `gorm:"size:1000" json:"action_taken,omitempty"`
	TimeOfDay         string     `gorm:"size:30" json:"time_of_day"`
	IsSameLocation    bool       `gorm:"default:true" json:"is_same_location"`
	Characters        StringList `gorm:"type:json" json:"characters"`
	ActingUserID      *uint      `json:"acting_user_id,omitempty"`
	ActingPlayerIndex *int       `json:"acting_player_index,omitempty"`
}

// TableName 指定StorySession表名
func (StorySession) TableName() string {
	return "story_sessions"
}

// TableName 指定StoryPlayer表名
func (StoryPlayer) TableName() string {
	return "story_players"
}

// TableName 指定StoryTurn表名
func (StoryTurn) TableName() string {
	return "story_turns"
}

// BeforeCreate 创建前的钩子
func (s *StorySession) BeforeCreate(tx *gorm.DB) error {
	if s.GoalPrerequisites == nil {
		s.GoalPrerequisites = StringList{}
	}
	if s.MetPrerequisites == nil {
		s.MetPrerequisites = StringList{}
	}
	return nil
}

// PlayerCount 返回花名册人数
func (s *StorySession) PlayerCount() int {
	return len(s.Players)
}

// IsFull 判断会话是否已满员
func (s *StorySession) IsFull() bool {
	if s.MaxPlayers == nil {
		return len(s.Players) >= 1
	}
	return len(s.Players) >= *s.MaxPlayers
}

// FindPlayerByUser 按用户ID查找活跃的花名册条目
func (s *StorySession) FindPlayerByUser(userID uint) *StoryPlayer {
	for i := range s.Players {
		if s.Players[i].UserID == userID && s.Players[i].IsActive {
			return &s.Players[i]
		}
	}
	return nil
}

// FindPlayerByIndex 按回合顺序位置查找活跃的花名册条目
func (s *StorySession) FindPlayerByIndex(index int) *StoryPlayer {
	for i := range s.Players {
		if s.Players[i].PlayerIndex == index && s.Players[i].IsActive {
			return &s.Players[i]
		}
	}
	return nil
}
