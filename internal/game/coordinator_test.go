package game

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperrors "github.com/wfunc/story-game/internal/errors"
	"github.com/wfunc/story-game/internal/models"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// fakeGenerator 可编排的叙事生成器
type fakeGenerator struct {
	mu       sync.Mutex
	payloads []*TurnPayload
	errs     []error
	calls    int
}

func (f *fakeGenerator) Generate(ctx context.Context, systemContext, prompt string) (*TurnPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}

	if len(f.payloads) > 0 {
		p := f.payloads[0]
		f.payloads = f.payloads[1:]
		return p, nil
	}
	return defaultPayload(), nil
}

func (f *fakeGenerator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func defaultPayload() *TurnPayload {
	return &TurnPayload{
		Narrative:        "故事继续。",
		ImagePrompt:      "a scene",
		SuggestedActions: []string{"继续"},
		TimeOfDay:        "day",
		IsSameLocation:   true,
	}
}

func openingPayload() *TurnPayload {
	return &TurnPayload{
		Narrative:         "故事开始了。",
		ImagePrompt:       "an opening scene",
		SuggestedActions:  []string{"环顾四周", "出发"},
		TimeOfDay:         "morning",
		IsSameLocation:    true,
		GameGoal:          "找到失落的王冠",
		GoalPrerequisites: []string{"获得地图", "打开暗门"},
	}
}

// fakeImage 图片生成器
type fakeImage struct {
	url string
	err error
}

func (f *fakeImage) GenerateImage(ctx context.Context, prompt string) (string, error) {
	return f.url, f.err
}

// fakePresence 在线状态
type fakePresence struct {
	mu        sync.Mutex
	connected map[uint]bool
}

func newFakePresence(userIDs ...uint) *fakePresence {
	p := &fakePresence{connected: make(map[uint]bool)}
	for _, id := range userIDs {
		p.connected[id] = true
	}
	return p
}

func (p *fakePresence) IsConnected(sessionID string, userID uint) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected[userID]
}

func (p *fakePresence) set(userID uint, online bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected[userID] = online
}

// fakeBroadcaster 广播通道
type fakeBroadcaster struct {
	mu     sync.Mutex
	events []Event
}

func (b *fakeBroadcaster) Publish(sessionID string, message interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ev, ok := message.(Event); ok {
		b.events = append(b.events, ev)
	}
}

func (b *fakeBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// coordinatorFixture 协调器测试环境
type coordinatorFixture struct {
	coord       *Coordinator
	db          *gorm.DB
	generator   *fakeGenerator
	presence    *fakePresence
	broadcaster *fakeBroadcaster
}

func setupCoordinator(t *testing.T, tweak func(*CoordinatorConfig)) *coordinatorFixture {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.StorySession{}, &models.StoryPlayer{}, &models.StoryTurn{}))

	t.Cleanup(func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
	})

	cfg := &CoordinatorConfig{
		MaxRetries:          3,
		RetryBackoff:        time.Millisecond,
		HistoryWindow:       20,
		MaxPlayersLimit:     6,
		PlaceholderImageURL: "/static/placeholder.png",
	}
	if tweak != nil {
		tweak(cfg)
	}

	gen := &fakeGenerator{}
	presence := newFakePresence()
	broadcaster := &fakeBroadcaster{}
	img := &fakeImage{url: "https://img.example.com/scene.png"}

	return &coordinatorFixture{
		coord:       NewCoordinator(db, gen, img, presence, broadcaster, cfg, zap.NewNop()),
		db:          db,
		generator:   gen,
		presence:    presence,
		broadcaster: broadcaster,
	}
}

// startSingle 建一个单人会话
func (f *coordinatorFixture) startSingle(t *testing.T, userID uint) *SessionState {
	f.generator.mu.Lock()
	f.generator.payloads = append(f.generator.payloads, openingPayload())
	f.generator.mu.Unlock()

	state, err := f.coord.StartSession(context.Background(), userID, &StartRequest{
		Theme:         "Fantasy",
		CharacterName: "冒险者",
	})
	require.NoError(t, err)
	return state
}

// startMulti 建一个n人多人会话并让其余玩家依次加入
func (f *coordinatorFixture) startMulti(t *testing.T, creatorID uint, joiners []uint, maxPlayers int) *SessionState {
	f.generator.mu.Lock()
	f.generator.payloads = append(f.generator.payloads, openingPayload())
	f.generator.mu.Unlock()

	state, err := f.coord.StartSession(context.Background(), creatorID, &StartRequest{
		Theme:         "Fantasy",
		IsMultiplayer: true,
		MaxPlayers:    maxPlayers,
		CharacterName: "队长",
	})
	require.NoError(t, err)

	for _, userID := range joiners {
		state, err = f.coord.JoinSession(context.Background(), userID, &JoinRequest{
			InviteCode:    state.InviteCode,
			CharacterName: "队员",
		})
		require.NoError(t, err)
	}
	return state
}

func TestCoordinator_StartSession_SinglePlayer(t *testing.T) {
	f := setupCoordinator(t, nil)
	state := f.startSingle(t, 1)

	assert.NotEmpty(t, state.SessionID)
	assert.False(t, state.IsMultiplayer)
	assert.Nil(t, state.CurrentPlayerIndex)
	assert.Empty(t, state.InviteCode)
	assert.Equal(t, "找到失落的王冠", state.GameGoal)
	assert.Equal(t, []string{"获得地图", "打开暗门"}, state.GoalPrerequisites)
	assert.Empty(t, state.MetPrerequisites)
	assert.False(t, state.IsGoalMet)

	require.Len(t, state.History, 1)
	opening := state.History[0]
	assert.Equal(t, 0, opening.TurnIndex)
	assert.Nil(t, opening.ActionTaken)
	assert.Nil(t, opening.ActingUserID)
	assert.Equal(t, "https://img.example.com/scene.png", opening.ImageURL)

	require.Len(t, state.Players, 1)
	assert.Equal(t, 0, state.Players[0].PlayerIndex)
	assert.Equal(t, uint(1), state.Players[0].UserID)
}

func TestCoordinator_StartSession_Multiplayer(t *testing.T) {
	f := setupCoordinator(t, nil)
	state := f.startMulti(t, 1, nil, 4)

	assert.True(t, state.IsMultiplayer)
	assert.NotEmpty(t, state.InviteCode)
	require.NotNil(t, state.CurrentPlayerIndex)
	assert.Equal(t, 0, *state.CurrentPlayerIndex)
	require.NotNil(t, state.MaxPlayers)
	assert.Equal(t, 4, *state.MaxPlayers)
}

func TestCoordinator_StartSession_GenerationFails(t *testing.T) {
	f := setupCoordinator(t, nil)
	f.generator.errs = []error{
		apperrors.New(apperrors.ErrGenerateTimeout),
		apperrors.New(apperrors.ErrMalformedOutput),
		apperrors.New(apperrors.ErrGenerateTimeout),
	}

	_, err := f.coord.StartSession(context.Background(), 1, &StartRequest{Theme: "Fantasy"})
	require.Error(t, err)
	assert.Equal(t, 3, f.generator.callCount())

	// 重试耗尽后什么都不写入
	var count int64
	f.db.Model(&models.StorySession{}).Count(&count)
	assert.Zero(t, count)
}

func TestCoordinator_SubmitAction_SinglePlayer(t *testing.T) {
	f := setupCoordinator(t, nil)
	state := f.startSingle(t, 1)

	result, err := f.coord.SubmitAction(context.Background(), state.SessionID, 1, "search the room", 0)
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.False(t, result.Paused)

	require.Len(t, result.State.History, 2)
	turn := result.State.History[1]
	assert.Equal(t, 1, turn.TurnIndex)
	require.NotNil(t, turn.ActionTaken)
	assert.Equal(t, "search the room", *turn.ActionTaken)
	require.NotNil(t, turn.ActingUserID)
	assert.Equal(t, uint(1), *turn.ActingUserID)
	assert.Nil(t, result.State.CurrentPlayerIndex)

	// 基于过期回合的重复提交必须被版本冲突拒绝
	_, err = f.coord.SubmitAction(context.Background(), state.SessionID, 1, "search again", 0)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrVersionConflict, apperrors.GetCode(err))

	// 回合账目没有被重复提交污染
	fresh, err := f.coord.GetState(context.Background(), state.SessionID)
	require.NoError(t, err)
	assert.Len(t, fresh.History, 2)
}

func TestCoordinator_SubmitAction_ConcurrentDuplicate(t *testing.T) {
	// 同一fromTurnIndex的并发提交恰好一个成功一个冲突
	f := setupCoordinator(t, nil)
	state := f.startSingle(t, 1)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.coord.SubmitAction(context.Background(), state.SessionID, 1, "open the chest", 0)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok, conflict int
	for err := range results {
		if err == nil {
			ok++
		} else if apperrors.GetCode(err) == apperrors.ErrVersionConflict {
			conflict++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflict)

	// 回合序号仍然无缝
	fresh, err := f.coord.GetState(context.Background(), state.SessionID)
	require.NoError(t, err)
	require.Len(t, fresh.History, 2)
	for i, turn := range fresh.History {
		assert.Equal(t, i, turn.TurnIndex)
	}
}

func TestCoordinator_SubmitAction_RoundRobinAdvance(t *testing.T) {
	f := setupCoordinator(t, nil)
	state := f.startMulti(t, 1, []uint{2, 3}, 3)
	f.presence.set(1, true)
	f.presence.set(2, true)
	f.presence.set(3, true)

	// 依次行动，序号严格按 (i+1) mod N 推进
	expected := []int{1, 2, 0}
	for i, userID := range []uint{1, 2, 3} {
		result, err := f.coord.SubmitAction(context.Background(), state.SessionID, userID, "act", i)
		require.NoError(t, err)
		require.NotNil(t, result.State.CurrentPlayerIndex)
		assert.Equal(t, expected[i], *result.State.CurrentPlayerIndex)
	}
}

func TestCoordinator_SubmitAction_NotYourTurn(t *testing.T) {
	f := setupCoordinator(t, nil)
	state := f.startMulti(t, 1, []uint{2}, 2)
	f.presence.set(1, true)
	f.presence.set(2, true)

	_, err := f.coord.SubmitAction(context.Background(), state.SessionID, 2, "act out of turn", 0)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrNotYourTurn, apperrors.GetCode(err))

	// 没有任何状态被修改
	fresh, err := f.coord.GetState(context.Background(), state.SessionID)
	require.NoError(t, err)
	assert.Len(t, fresh.History, 1)
	assert.Equal(t, 0, *fresh.CurrentPlayerIndex)
}

func TestCoordinator_SubmitAction_NotInSession(t *testing.T) {
	f := setupCoordinator(t, nil)
	state := f.startSingle(t, 1)

	_, err := f.coord.SubmitAction(context.Background(), state.SessionID, 99, "intrude", 0)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrNotInSession, apperrors.GetCode(err))
}

func TestCoordinator_SubmitAction_SkipDisconnected(t *testing.T) {
	// 4人局，只有1号和3号在线，当前是0号：
	// 提交必须先把回合跳给1号且不生成新回合
	f := setupCoordinator(t, nil)
	state := f.startMulti(t, 1, []uint{2, 3, 4}, 4)
	f.presence.set(2, true) // player_index 1
	f.presence.set(4, true) // player_index 3

	before := f.generator.callCount()

	result, err := f.coord.SubmitAction(context.Background(), state.SessionID, 2, "act", 0)
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	require.NotNil(t, result.State.CurrentPlayerIndex)
	assert.Equal(t, 1, *result.State.CurrentPlayerIndex)
	assert.Len(t, result.State.History, 1)
	assert.Equal(t, before, f.generator.callCount())

	// 跳过后1号可以正常行动
	result, err = f.coord.SubmitAction(context.Background(), state.SessionID, 2, "act", 0)
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.Len(t, result.State.History, 2)
	// 2号离线，推进到2号后下一次提交会继续触发跳过
	assert.Equal(t, 2, *result.State.CurrentPlayerIndex)
}

func TestCoordinator_SubmitAction_AllDisconnectedPaused(t *testing.T) {
	f := setupCoordinator(t, nil)
	state := f.startMulti(t, 1, []uint{2}, 2)

	// 反复提交都报告暂停，序号与账目完全不变
	for i := 0; i < 3; i++ {
		result, err := f.coord.SubmitAction(context.Background(), state.SessionID, 1, "act", 0)
		require.NoError(t, err)
		assert.True(t, result.Paused)
		assert.False(t, result.Skipped)
		require.NotNil(t, result.State.CurrentPlayerIndex)
		assert.Equal(t, 0, *result.State.CurrentPlayerIndex)
		assert.Len(t, result.State.History, 1)
	}
}

func TestCoordinator_GoalTracking_Monotonic(t *testing.T) {
	f := setupCoordinator(t, nil)
	state := f.startSingle(t, 1)

	// 第一回合满足一个前置条件
	p1 := defaultPayload()
	p1.UpdatedMetPrerequisites = []string{"获得地图"}
	f.generator.payloads = []*TurnPayload{p1}

	result, err := f.coord.SubmitAction(context.Background(), state.SessionID, 1, "find the map", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"获得地图"}, result.State.MetPrerequisites)

	// 生成器漏报已满足的前置条件时集合不回退
	p2 := defaultPayload()
	p2.UpdatedMetPrerequisites = []string{"打开暗门"}
	f.generator.payloads = []*TurnPayload{p2}

	result, err = f.coord.SubmitAction(context.Background(), state.SessionID, 1, "open the door", 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"获得地图", "打开暗门"}, result.State.MetPrerequisites)
	assert.False(t, result.State.IsGoalMet)
}

func TestCoordinator_GoalMet_RequiresPriorPrerequisites(t *testing.T) {
	// 同一行动补上最后一个前置条件并宣称达成：不承认
	f := setupCoordinator(t, nil)
	state := f.startSingle(t, 1)

	p1 := defaultPayload()
	p1.UpdatedMetPrerequisites = []string{"获得地图"}
	f.generator.payloads = []*TurnPayload{p1}
	_, err := f.coord.SubmitAction(context.Background(), state.SessionID, 1, "find the map", 0)
	require.NoError(t, err)

	p2 := defaultPayload()
	p2.UpdatedMetPrerequisites = []string{"打开暗门"}
	p2.GoalMetThisTurn = true
	f.generator.payloads = []*TurnPayload{p2}

	result, err := f.coord.SubmitAction(context.Background(), state.SessionID, 1, "open door and grab crown", 1)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"获得地图", "打开暗门"}, result.State.MetPrerequisites)
	assert.False(t, result.State.IsGoalMet)

	// 前置条件已全部满足后，下一次达成信号被承认
	p3 := defaultPayload()
	p3.GoalMetThisTurn = true
	f.generator.payloads = []*TurnPayload{p3}

	result, err = f.coord.SubmitAction(context.Background(), state.SessionID, 1, "take the crown", 2)
	require.NoError(t, err)
	assert.True(t, result.State.IsGoalMet)
}

func TestCoordinator_SubmitAction_RetriesThenSucceeds(t *testing.T) {
	f := setupCoordinator(t, nil)
	state := f.startSingle(t, 1)

	before := f.generator.callCount()
	f.generator.errs = []error{
		apperrors.New(apperrors.ErrMalformedOutput),
		apperrors.New(apperrors.ErrGenerateTimeout),
		nil,
	}

	result, err := f.coord.SubmitAction(context.Background(), state.SessionID, 1, "try again", 0)
	require.NoError(t, err)
	assert.Len(t, result.State.History, 2)
	assert.Equal(t, before+3, f.generator.callCount())
}

func TestCoordinator_SubmitAction_RetriesExhausted(t *testing.T) {
	f := setupCoordinator(t, nil)
	state := f.startSingle(t, 1)

	f.generator.errs = []error{
		apperrors.New(apperrors.ErrGenerateTimeout),
		apperrors.New(apperrors.ErrGenerateTimeout),
		apperrors.New(apperrors.ErrGenerateTimeout),
	}

	_, err := f.coord.SubmitAction(context.Background(), state.SessionID, 1, "doomed", 0)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrGenerateTimeout, apperrors.GetCode(err))

	// 失败的回合不留任何痕迹
	fresh, err := f.coord.GetState(context.Background(), state.SessionID)
	require.NoError(t, err)
	assert.Len(t, fresh.History, 1)
}

func TestCoordinator_SubmitAction_ImageFailureDegrades(t *testing.T) {
	f := setupCoordinator(t, nil)
	f.coord.imageGen = &fakeImage{err: apperrors.New(apperrors.ErrImageFailed)}
	state := f.startSingle(t, 1)

	require.Len(t, state.History, 1)
	assert.Equal(t, "/static/placeholder.png", state.History[0].ImageURL)

	result, err := f.coord.SubmitAction(context.Background(), state.SessionID, 1, "look around", 0)
	require.NoError(t, err)
	assert.Equal(t, "/static/placeholder.png", result.State.History[1].ImageURL)
}

func TestCoordinator_BranchTruncation_DisabledByDefault(t *testing.T) {
	f := setupCoordinator(t, nil)
	state := f.startSingle(t, 1)

	_, err := f.coord.SubmitAction(context.Background(), state.SessionID, 1, "first", 0)
	require.NoError(t, err)
	_, err = f.coord.SubmitAction(context.Background(), state.SessionID, 1, "second", 1)
	require.NoError(t, err)

	// 默认策略：针对历史回合的提交直接拒绝
	_, err = f.coord.SubmitAction(context.Background(), state.SessionID, 1, "rewrite history", 0)
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrVersionConflict, apperrors.GetCode(err))

	fresh, err := f.coord.GetState(context.Background(), state.SessionID)
	require.NoError(t, err)
	assert.Len(t, fresh.History, 3)
}

func TestCoordinator_BranchTruncation_Enabled(t *testing.T) {
	f := setupCoordinator(t, func(cfg *CoordinatorConfig) {
		cfg.AllowBranchTruncation = true
	})
	state := f.startSingle(t, 1)

	_, err := f.coord.SubmitAction(context.Background(), state.SessionID, 1, "first", 0)
	require.NoError(t, err)
	_, err = f.coord.SubmitAction(context.Background(), state.SessionID, 1, "second", 1)
	require.NoError(t, err)

	// 显式开启截断策略后，针对回合0的提交丢弃后续分支
	result, err := f.coord.SubmitAction(context.Background(), state.SessionID, 1, "alternate path", 0)
	require.NoError(t, err)
	require.Len(t, result.State.History, 2)
	assert.Equal(t, 1, result.State.History[1].TurnIndex)
	assert.Equal(t, "alternate path", *result.State.History[1].ActionTaken)
}

func TestCoordinator_JoinSession(t *testing.T) {
	f := setupCoordinator(t, nil)
	state := f.startMulti(t, 1, nil, 4)

	joined, err := f.coord.JoinSession(context.Background(), 2, &JoinRequest{
		InviteCode:    state.InviteCode,
		CharacterName: "游侠",
	})
	require.NoError(t, err)
	require.Len(t, joined.Players, 2)
	assert.Equal(t, 1, joined.Players[1].PlayerIndex)

	// 重复加入被拒绝
	_, err = f.coord.JoinSession(context.Background(), 2, &JoinRequest{InviteCode: state.InviteCode})
	assert.Equal(t, apperrors.ErrAlreadyJoined, apperrors.GetCode(err))

	// 无效邀请码
	_, err = f.coord.JoinSession(context.Background(), 3, &JoinRequest{InviteCode: "BOGUS9"})
	assert.Equal(t, apperrors.ErrInviteNotFound, apperrors.GetCode(err))
}

func TestCoordinator_JoinSession_Full(t *testing.T) {
	f := setupCoordinator(t, nil)
	state := f.startMulti(t, 1, []uint{2, 3, 4}, 4)

	_, err := f.coord.JoinSession(context.Background(), 5, &JoinRequest{InviteCode: state.InviteCode})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrSessionFull, apperrors.GetCode(err))

	// 花名册没有被污染
	fresh, err := f.coord.GetState(context.Background(), state.SessionID)
	require.NoError(t, err)
	assert.Len(t, fresh.Players, 4)
}

func TestCoordinator_DeleteSession(t *testing.T) {
	f := setupCoordinator(t, nil)
	state := f.startMulti(t, 1, []uint{2}, 2)

	// 非创建者不能删除
	err := f.coord.DeleteSession(context.Background(), state.SessionID, 2)
	assert.Equal(t, apperrors.ErrNotCreator, apperrors.GetCode(err))

	require.NoError(t, f.coord.DeleteSession(context.Background(), state.SessionID, 1))

	_, err = f.coord.GetState(context.Background(), state.SessionID)
	assert.Equal(t, apperrors.ErrSessionNotFound, apperrors.GetCode(err))

	// 回合与花名册级联删除
	var turns, players int64
	f.db.Model(&models.StoryTurn{}).Count(&turns)
	f.db.Model(&models.StoryPlayer{}).Count(&players)
	assert.Zero(t, turns)
	assert.Zero(t, players)
}

func TestCoordinator_PublishesAfterMutations(t *testing.T) {
	f := setupCoordinator(t, nil)
	state := f.startSingle(t, 1)

	before := f.broadcaster.count()
	_, err := f.coord.SubmitAction(context.Background(), state.SessionID, 1, "act", 0)
	require.NoError(t, err)
	assert.Equal(t, before+1, f.broadcaster.count())
}
