package game

import "github.com/wfunc/story-game/internal/models"

// PlayerState 花名册条目的对外表示
type PlayerState struct {
	UserID        uint   `json:"userId"`
	PlayerIndex   int    `json:"playerIndex"`
	CharacterName string `json:"characterName"`
	Gender        string `json:"gender,omitempty"`
	PortraitURL   string `json:"portraitUrl,omitempty"`
	IsActive      bool   `json:"isActive"`
}

// TurnState 单个回合的对外表示
type TurnState struct {
	TurnIndex         int      `json:"turnIndex"`
	Narrative         string   `json:"narrative"`
	ImageURL          string   `json:"imageUrl,omitempty"`
	ImagePrompt       string   `json:"imagePrompt,omitempty"`
	SuggestedActions  []string `json:"suggestedActions"`
	ActionTaken       *string  `json:"actionTaken"`
	TimeOfDay         string   `json:"timeOfDay,omitempty"`
	IsSameLocation    bool     `json:"isSameLocation"`
	Characters        []string `json:"characters"`
	ActingUserID      *uint    `json:"actingUserId,omitempty"`
	ActingPlayerIndex *int     `json:"actingPlayerIndex,omitempty"`
}

// SessionState 完整会话状态文档
// 同步提交响应与广播通道推送使用同一份结构
type SessionState struct {
	SessionID          string        `json:"sessionId"`
	Theme              string        `json:"theme"`
	IsMultiplayer      bool          `json:"isMultiplayer"`
	MaxPlayers         *int          `json:"maxPlayers,omitempty"`
	InviteCode         string        `json:"inviteCode,omitempty"`
	CurrentPlayerIndex *int          `json:"currentPlayerIndex"`
	Players            []PlayerState `json:"players"`
	History            []TurnState   `json:"history"`
	GameGoal           string        `json:"gameGoal"`
	GoalPrerequisites  []string      `json:"goalPrerequisites"`
	MetPrerequisites   []string      `json:"metPrerequisites"`
	IsGoalMet          bool          `json:"isGoalMet"`
}

// SubmitResult 提交行动的结果
// Skipped 表示仅跳过了离线玩家、未生成新回合；Paused 表示全员离线、会话暂停
type SubmitResult struct {
	State   *SessionState `json:"state,omitempty"`
	Skipped bool          `json:"skipped"`
	Paused  bool          `json:"paused"`
}

// BuildSessionState 由模型装配完整会话状态文档
func BuildSessionState(session *models.StorySession, turns []*models.StoryTurn) *SessionState {
	state := &SessionState{
		SessionID:          session.SessionID,
		Theme:              session.Theme,
		IsMultiplayer:      session.IsMultiplayer,
		MaxPlayers:         session.MaxPlayers,
		CurrentPlayerIndex: session.CurrentPlayerIndex,
		Players:            make([]PlayerState, 0, len(session.Players)),
		History:            make([]TurnState, 0, len(turns)),
		GameGoal:           session.GameGoal,
		GoalPrerequisites:  session.GoalPrerequisites,
		MetPrerequisites:   session.MetPrerequisites,
		IsGoalMet:          session.IsGoalMet,
	}
	if session.InviteCode != nil {
		state.InviteCode = *session.InviteCode
	}
	if state.GoalPrerequisites == nil {
		state.GoalPrerequisites = []string{}
	}
	if state.MetPrerequisites == nil {
		state.MetPrerequisites = []string{}
	}

	for _, p := range session.Players {
		state.Players = append(state.Players, PlayerState{
			UserID:        p.UserID,
			PlayerIndex:   p.PlayerIndex,
			CharacterName: p.CharacterName,
			Gender:        p.Gender,
			PortraitURL:   p.PortraitURL,
			IsActive:      p.IsActive,
		})
	}

	for _, t := range turns {
		turn := TurnState{
			TurnIndex:         t.TurnIndex,
			Narrative:         t.Narrative,
			ImageURL:          t.ImageURL,
			ImagePrompt:       t.ImagePrompt,
			SuggestedActions:  t.SuggestedActions,
			ActionTaken:       t.ActionTaken,
			TimeOfDay:         t.TimeOfDay,
			IsSameLocation:    t.IsSameLocation,
			Characters:        t.Characters,
			ActingUserID:      t.ActingUserID,
			ActingPlayerIndex: t.ActingPlayerIndex,
		}
		if turn.SuggestedActions == nil {
			turn.SuggestedActions = []string{}
		}
		if turn.Characters == nil {
			turn.Characters = []string{}
		}
		state.History = append(state.History, turn)
	}

	return state
}
