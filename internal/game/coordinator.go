package game

import (
	"context"
	"time"

	apperrors "github.com/wfunc/story-game/internal/errors"
	"github.com/wfunc/story-game/internal/models"
	"github.com/wfunc/story-game/internal/repository"
	"github.com/wfunc/story-game/internal/utils"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CoordinatorConfig 回合协调器配置
type CoordinatorConfig struct {
	MaxRetries            int           // 生成重试次数上限
	RetryBackoff          time.Duration // 线性退避基数（第n次失败后等待 n*RetryBackoff）
	HistoryWindow         int           // 提示词携带的最近回合数，0表示不截断
	MaxPlayersLimit       int           // 多人会话人数硬上限
	AllowBranchTruncation bool          // 是否允许针对历史回合的破坏性截断
	PlaceholderImageURL   string        // 图片生成失败时的占位图
}

// DefaultCoordinatorConfig 默认协调器配置
func DefaultCoordinatorConfig() *CoordinatorConfig {
	return &CoordinatorConfig{
		MaxRetries:          3,
		RetryBackoff:        500 * time.Millisecond,
		HistoryWindow:       20,
		MaxPlayersLimit:     6,
		PlaceholderImageURL: "/static/placeholder.png",
	}
}

// Coordinator 回合协调器
// 持有回合归属的唯一裁决权：校验提交、驱动生成、持久化并推进回合
type Coordinator struct {
	db          *gorm.DB
	sessionRepo repository.StorySessionRepository
	playerRepo  repository.StoryPlayerRepository
	turnRepo    repository.StoryTurnRepository
	generator   Generator
	imageGen    ImageGenerator
	presence    Presence
	broadcaster Broadcaster
	locks       *LockManager
	config      *CoordinatorConfig
	logger      *zap.Logger
}

// NewCoordinator 创建回合协调器
func NewCoordinator(
	db *gorm.DB,
	generator Generator,
	imageGen ImageGenerator,
	presence Presence,
	broadcaster Broadcaster,
	config *CoordinatorConfig,
	logger *zap.Logger,
) *Coordinator {
	if config == nil {
		config = DefaultCoordinatorConfig()
	}
	return &Coordinator{
		db:          db,
		sessionRepo: repository.NewStorySessionRepository(db),
		playerRepo:  repository.NewStoryPlayerRepository(db),
		turnRepo:    repository.NewStoryTurnRepository(db),
		generator:   generator,
		imageGen:    imageGen,
		presence:    presence,
		broadcaster: broadcaster,
		locks:       NewLockManager(),
		config:      config,
		logger:      logger,
	}
}

// StartRequest 开局请求
type StartRequest struct {
	Theme         string `json:"theme" binding:"required"`
	IsMultiplayer bool   `json:"isMultiplayer"`
	MaxPlayers    int    `json:"maxPlayers"`
	CharacterName string `json:"characterName"`
	Gender        string `json:"gender"`
	PortraitURL   string `json:"portraitUrl"`
}

// JoinRequest 加入请求
type JoinRequest struct {
	InviteCode    string `json:"inviteCode" binding:"required"`
	CharacterName string `json:"characterName"`
	Gender        string `json:"gender"`
	PortraitURL   string `json:"portraitUrl"`
}

// StartSession 开始新会话
// 会话、第0回合与创建者花名册条目在一个事务内原子创建
func (c *Coordinator) StartSession(ctx context.Context, userID uint, req *StartRequest) (*SessionState, error) {
	maxPlayers := req.MaxPlayers
	if req.IsMultiplayer {
		if maxPlayers < 2 {
			maxPlayers = 2
		}
		if maxPlayers > c.config.MaxPlayersLimit {
			maxPlayers = c.config.MaxPlayersLimit
		}
	}

	creator := models.StoryPlayer{
		UserID:        userID,
		PlayerIndex:   0,
		CharacterName: req.CharacterName,
		Gender:        req.Gender,
		PortraitURL:   req.PortraitURL,
		IsActive:      true,
	}

	payload, err := c.generateWithRetry(ctx, OpeningSystemContext(), BuildOpeningPrompt(req.Theme, []models.StoryPlayer{creator}))
	if err != nil {
		return nil, err
	}

	imageURL := c.resolveImage(ctx, payload.ImagePrompt)

	session := &models.StorySession{
		SessionID:         utils.GenerateSessionID(),
		CreatorID:         userID,
		Theme:             req.Theme,
		IsMultiplayer:     req.IsMultiplayer,
		GameGoal:          payload.GameGoal,
		GoalPrerequisites: models.StringList(payload.GoalPrerequisites),
		MetPrerequisites:  models.StringList{},
	}
	if req.IsMultiplayer {
		session.MaxPlayers = &maxPlayers
		zero := 0
		session.CurrentPlayerIndex = &zero
		code, err := c.allocateInviteCode(ctx)
		if err != nil {
			return nil, err
		}
		session.InviteCode = code
	}

	opening := &models.StoryTurn{
		TurnIndex:        0,
		Narrative:        payload.Narrative,
		ImageURL:         imageURL,
		ImagePrompt:      payload.ImagePrompt,
		SuggestedActions: models.StringList(payload.SuggestedActions),
		TimeOfDay:        payload.TimeOfDay,
		IsSameLocation:   payload.IsSameLocation,
		Characters:       models.StringList(payload.Characters),
	}

	err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := c.sessionRepo.WithTx(tx).Create(ctx, session); err != nil {
			return err
		}
		creator.SessionRef = session.ID
		if err := c.playerRepo.WithTx(tx).Create(ctx, &creator); err != nil {
			return err
		}
		opening.SessionRef = session.ID
		return c.turnRepo.WithTx(tx).Create(ctx, opening)
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}

	c.logger.Info("故事会话已创建",
		zap.String("session_id", session.SessionID),
		zap.Uint("creator_id", userID),
		zap.Bool("multiplayer", req.IsMultiplayer))

	session.Players = []models.StoryPlayer{creator}
	return BuildSessionState(session, []*models.StoryTurn{opening}), nil
}

// JoinSession 通过邀请码加入多人会话
// 新玩家获得下一个顺序回合序号，受人数上限约束
func (c *Coordinator) JoinSession(ctx context.Context, userID uint, req *JoinRequest) (*SessionState, error) {
	session, err := c.sessionRepo.FindByInviteCode(ctx, req.InviteCode)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperrors.New(apperrors.ErrInviteNotFound)
		}
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}

	c.locks.Lock(session.SessionID)
	defer c.locks.Unlock(session.SessionID)

	// 加锁后重读，避免与并发加入竞争同一个序号
	session, err = c.sessionRepo.FindBySessionID(ctx, session.SessionID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}

	if session.FindPlayerByUser(userID) != nil {
		return nil, apperrors.New(apperrors.ErrAlreadyJoined)
	}
	if session.IsFull() {
		return nil, apperrors.New(apperrors.ErrSessionFull)
	}

	player := &models.StoryPlayer{
		SessionRef:    session.ID,
		UserID:        userID,
		PlayerIndex:   len(session.Players),
		CharacterName: req.CharacterName,
		Gender:        req.Gender,
		PortraitURL:   req.PortraitURL,
		IsActive:      true,
	}
	if err := c.playerRepo.Create(ctx, player); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	session.Players = append(session.Players, *player)

	c.logger.Info("玩家加入会话",
		zap.String("session_id", session.SessionID),
		zap.Uint("user_id", userID),
		zap.Int("player_index", player.PlayerIndex))

	state, err := c.loadState(ctx, session)
	if err != nil {
		return nil, err
	}
	c.publish(session.SessionID, state)
	return state, nil
}

// SubmitAction 提交行动
// 同一会话的提交严格串行；生成、持久化、回合推进作为一个原子单元完成
func (c *Coordinator) SubmitAction(ctx context.Context, sessionID string, userID uint, action string, fromTurnIndex int) (*SubmitResult, error) {
	c.locks.Lock(sessionID)
	defer c.locks.Unlock(sessionID)

	session, err := c.sessionRepo.FindBySessionID(ctx, sessionID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperrors.New(apperrors.ErrSessionNotFound)
		}
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}

	player := session.FindPlayerByUser(userID)
	if player == nil {
		return nil, apperrors.New(apperrors.ErrNotInSession)
	}

	latest, err := c.turnRepo.LatestIndex(ctx, session.ID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}

	truncateAfter := -1
	if fromTurnIndex != latest {
		// 针对历史回合的提交只有在显式开启截断策略时才被接受
		if fromTurnIndex < latest && fromTurnIndex >= 0 && c.config.AllowBranchTruncation {
			truncateAfter = fromTurnIndex
		} else {
			return nil, apperrors.Newf(apperrors.ErrVersionConflict,
				"提交基于回合%d，最新回合为%d", fromTurnIndex, latest)
		}
	}

	if !session.IsMultiplayer {
		return c.processTurn(ctx, session, player, action, fromTurnIndex, truncateAfter)
	}

	current := 0
	if session.CurrentPlayerIndex != nil {
		current = *session.CurrentPlayerIndex
	}

	// 当前玩家离线时不生成回合，只把回合归属跳给下一个在线玩家
	if !c.presence.IsConnected(sessionID, c.userIDAt(session, current)) {
		return c.skipDisconnected(ctx, session, current)
	}

	if player.PlayerIndex != current {
		return nil, apperrors.New(apperrors.ErrNotYourTurn)
	}

	return c.processTurn(ctx, session, player, action, fromTurnIndex, truncateAfter)
}

// processTurn 生成并持久化新回合
func (c *Coordinator) processTurn(ctx context.Context, session *models.StorySession, player *models.StoryPlayer, action string, fromTurnIndex, truncateAfter int) (*SubmitResult, error) {
	turns, err := c.turnRepo.FindBySession(ctx, session.ID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	if truncateAfter >= 0 {
		// 提示词只使用截断点之前的历史
		kept := turns[:0]
		for _, t := range turns {
			if t.TurnIndex <= truncateAfter {
				kept = append(kept, t)
			}
		}
		turns = kept
	}

	prompt := BuildTurnPrompt(session, turns, player.PlayerIndex, action, c.config.HistoryWindow)
	payload, err := c.generateWithRetry(ctx, TurnSystemContext(), prompt)
	if err != nil {
		// 重试耗尽后整个操作失败，不写入任何状态
		return nil, err
	}

	imageURL := c.resolveImage(ctx, payload.ImagePrompt)

	// 目标达成只承认行动之前已经集齐全部前置条件的情况，
	// 同一行动补上的前置条件不参与本次判定
	preMet := session.MetPrerequisites
	goalMet := session.IsGoalMet
	if !goalMet && payload.GoalMetThisTurn && preMet.ContainsAll(session.GoalPrerequisites) {
		goalMet = true
	}
	merged := preMet.Merge(payload.UpdatedMetPrerequisites)

	actionTaken := action
	actingIndex := player.PlayerIndex
	newTurn := &models.StoryTurn{
		SessionRef:        session.ID,
		TurnIndex:         fromTurnIndex + 1,
		Narrative:         payload.Narrative,
		ImageURL:          imageURL,
		ImagePrompt:       payload.ImagePrompt,
		SuggestedActions:  models.StringList(payload.SuggestedActions),
		ActionTaken:       &actionTaken,
		TimeOfDay:         payload.TimeOfDay,
		IsSameLocation:    payload.IsSameLocation,
		Characters:        models.StringList(payload.Characters),
		ActingUserID:      &player.UserID,
		ActingPlayerIndex: &actingIndex,
	}

	updates := map[string]interface{}{
		"met_prerequisites": merged,
		"is_goal_met":       goalMet,
	}
	var nextIndex *int
	if session.IsMultiplayer && session.CurrentPlayerIndex != nil {
		// 轮转推进与连接状态无关，下一次提交的连接检查才触发跳过
		next := (*session.CurrentPlayerIndex + 1) % len(session.Players)
		nextIndex = &next
		updates["current_player_index"] = next
	}

	err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if truncateAfter >= 0 {
			dropped, err := c.turnRepo.WithTx(tx).DeleteAfterIndex(ctx, session.ID, truncateAfter)
			if err != nil {
				return err
			}
			if dropped > 0 {
				c.logger.Warn("已截断后续回合",
					zap.String("session_id", session.SessionID),
					zap.Int("after_index", truncateAfter),
					zap.Int64("dropped", dropped))
			}
		}
		if err := c.turnRepo.WithTx(tx).Create(ctx, newTurn); err != nil {
			return err
		}
		return c.sessionRepo.WithTx(tx).UpdateBySessionID(ctx, session.SessionID, updates)
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}

	session.MetPrerequisites = merged
	session.IsGoalMet = goalMet
	if nextIndex != nil {
		session.CurrentPlayerIndex = nextIndex
	}
	turns = append(turns, newTurn)

	c.logger.Info("回合已生成",
		zap.String("session_id", session.SessionID),
		zap.Int("turn_index", newTurn.TurnIndex),
		zap.Uint("acting_user", player.UserID),
		zap.Bool("goal_met", goalMet))

	state := BuildSessionState(session, turns)
	c.publish(session.SessionID, state)
	return &SubmitResult{State: state}, nil
}

// skipDisconnected 跳过离线的当前玩家
// 花名册从下一位开始环绕扫描一圈，全员离线则不做任何变更并报告暂停
func (c *Coordinator) skipDisconnected(ctx context.Context, session *models.StorySession, current int) (*SubmitResult, error) {
	next, found := NextEligiblePlayer(session.Players, current, func(idx int) bool {
		return c.presence.IsConnected(session.SessionID, c.userIDAt(session, idx))
	})
	if !found {
		state, err := c.loadState(ctx, session)
		if err != nil {
			return nil, err
		}
		c.logger.Info("全员离线，会话暂停", zap.String("session_id", session.SessionID))
		return &SubmitResult{State: state, Paused: true}, nil
	}

	err := c.sessionRepo.UpdateBySessionID(ctx, session.SessionID, map[string]interface{}{
		"current_player_index": next,
	})
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	session.CurrentPlayerIndex = &next

	c.logger.Info("跳过离线玩家",
		zap.String("session_id", session.SessionID),
		zap.Int("from_index", current),
		zap.Int("to_index", next))

	state, err := c.loadState(ctx, session)
	if err != nil {
		return nil, err
	}
	c.publish(session.SessionID, state)
	return &SubmitResult{State: state, Skipped: true}, nil
}

// GetState 查询完整会话状态
// 广播是尽力而为的，断线的客户端重连后靠这个查询补齐错过的更新
func (c *Coordinator) GetState(ctx context.Context, sessionID string) (*SessionState, error) {
	session, err := c.sessionRepo.FindBySessionID(ctx, sessionID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, apperrors.New(apperrors.ErrSessionNotFound)
		}
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	return c.loadState(ctx, session)
}

// ListSessions 查询用户参与的会话（不携带回合历史）
func (c *Coordinator) ListSessions(ctx context.Context, userID uint, p *repository.Pagination) ([]*SessionState, error) {
	sessions, err := c.sessionRepo.FindByUserID(ctx, userID, p)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	states := make([]*SessionState, 0, len(sessions))
	for _, s := range sessions {
		states = append(states, BuildSessionState(s, nil))
	}
	return states, nil
}

// DeleteSession 删除会话（仅创建者），回合与花名册级联删除
func (c *Coordinator) DeleteSession(ctx context.Context, sessionID string, userID uint) error {
	c.locks.Lock(sessionID)
	defer c.locks.Unlock(sessionID)

	session, err := c.sessionRepo.FindBySessionID(ctx, sessionID)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return apperrors.New(apperrors.ErrSessionNotFound)
		}
		return apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	if session.CreatorID != userID {
		return apperrors.New(apperrors.ErrNotCreator)
	}

	err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := c.turnRepo.WithTx(tx).DeleteBySession(ctx, session.ID); err != nil {
			return err
		}
		if err := c.playerRepo.WithTx(tx).DeleteBySession(ctx, session.ID); err != nil {
			return err
		}
		return c.sessionRepo.WithTx(tx).Delete(ctx, sessionID)
	})
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}

	c.logger.Info("会话已删除",
		zap.String("session_id", sessionID),
		zap.Uint("user_id", userID))
	return nil
}

// generateWithRetry 带线性退避的生成调用
// 超时与格式错误都按失败尝试计数，耗尽后返回最后一次错误
func (c *Coordinator) generateWithRetry(ctx context.Context, systemContext, prompt string) (*TurnPayload, error) {
	if c.generator == nil {
		return nil, apperrors.New(apperrors.ErrGenerateDisabled)
	}

	maxRetries := c.config.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		payload, err := c.generator.Generate(ctx, systemContext, prompt)
		if err == nil {
			return payload, nil
		}
		lastErr = err
		if !apperrors.IsRetryable(err) {
			break
		}
		c.logger.Warn("叙事生成失败，准备重试",
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				return nil, apperrors.Wrap(ctx.Err(), apperrors.ErrGenerateTimeout)
			case <-time.After(time.Duration(attempt) * c.config.RetryBackoff):
			}
		}
	}
	return nil, lastErr
}

// 邀请码分配的重试上限
const inviteCodeAttempts = 5

// allocateInviteCode 分配未被占用的邀请码
// 先查重再使用，invite_code上的唯一索引兜底并发窗口内的冲突
func (c *Coordinator) allocateInviteCode(ctx context.Context) (*string, error) {
	for attempt := 0; attempt < inviteCodeAttempts; attempt++ {
		code := utils.GenerateInviteCode(0)
		_, err := c.sessionRepo.FindByInviteCode(ctx, code)
		if err == gorm.ErrRecordNotFound {
			return &code, nil
		}
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
		}
	}
	return nil, apperrors.New(apperrors.ErrUnknown, "邀请码分配失败")
}

// resolveImage 生成场景图片，失败降级为占位图
func (c *Coordinator) resolveImage(ctx context.Context, prompt string) string {
	if c.imageGen == nil || prompt == "" {
		return c.config.PlaceholderImageURL
	}
	url, err := c.imageGen.GenerateImage(ctx, prompt)
	if err != nil || url == "" {
		c.logger.Warn("图片生成失败，使用占位图", zap.Error(err))
		return c.config.PlaceholderImageURL
	}
	return url
}

// loadState 装配完整会话状态
func (c *Coordinator) loadState(ctx context.Context, session *models.StorySession) (*SessionState, error) {
	turns, err := c.turnRepo.FindBySession(ctx, session.ID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	return BuildSessionState(session, turns), nil
}

// publish 向会话的全部在线客户端推送状态
func (c *Coordinator) publish(sessionID string, state *SessionState) {
	if c.broadcaster == nil {
		return
	}
	c.broadcaster.Publish(sessionID, Event{Type: EventSessionState, Data: state})
}

// userIDAt 返回指定回合序号的玩家的用户ID，不存在时返回0
func (c *Coordinator) userIDAt(session *models.StorySession, index int) uint {
	if p := session.FindPlayerByIndex(index); p != nil {
		return p.UserID
	}
	return 0
}
