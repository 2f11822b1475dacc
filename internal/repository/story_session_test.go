package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"github.com/wfunc/story-game/internal/models"
	"gorm.io/gorm"
)

// StorySessionRepositoryTestSuite 故事会话仓储测试套件
type StorySessionRepositoryTestSuite struct {
	suite.Suite
	db   *gorm.DB
	repo StorySessionRepository
}

func (suite *StorySessionRepositoryTestSuite) SetupTest() {
	suite.db = SetupTestDB()
	suite.repo = NewStorySessionRepository(suite.db)
}

func (suite *StorySessionRepositoryTestSuite) TearDownTest() {
	CleanupTestDB(suite.db)
}

// TestStorySessionRepository_Create 测试创建会话
func (suite *StorySessionRepositoryTestSuite) TestStorySessionRepository_Create() {
	ctx := context.Background()
	user := newTestUser(suite.db, "creator")

	session := &models.StorySession{
		SessionID:     "sess-create-01",
		CreatorID:     user.ID,
		Theme:         "Cyberpunk",
		IsMultiplayer: false,
		GameGoal:      "逃出实验室",
	}

	err := suite.repo.Create(ctx, session)
	assert.NoError(suite.T(), err)
	assert.NotZero(suite.T(), session.ID)

	// BeforeCreate 钩子应初始化前置条件列表
	found, err := suite.repo.FindBySessionID(ctx, "sess-create-01")
	assert.NoError(suite.T(), err)
	assert.NotNil(suite.T(), found.GoalPrerequisites)
	assert.NotNil(suite.T(), found.MetPrerequisites)
	assert.False(suite.T(), found.IsGoalMet)
}

// TestStorySessionRepository_FindBySessionID 测试根据会话ID查找
func (suite *StorySessionRepositoryTestSuite) TestStorySessionRepository_FindBySessionID() {
	ctx := context.Background()
	user := newTestUser(suite.db, "creator")
	session := newTestSession(suite.db, "sess-find-01", user.ID, true, 4)

	found, err := suite.repo.FindBySessionID(ctx, session.SessionID)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), session.ID, found.ID)
	assert.Len(suite.T(), found.Players, 1)
	assert.Equal(suite.T(), 0, found.Players[0].PlayerIndex)

	// 不存在的会话
	_, err = suite.repo.FindBySessionID(ctx, "no-such-session")
	assert.ErrorIs(suite.T(), err, gorm.ErrRecordNotFound)
}

// TestStorySessionRepository_FindBySessionID_PlayerOrder 测试花名册按序号排序
func (suite *StorySessionRepositoryTestSuite) TestStorySessionRepository_FindBySessionID_PlayerOrder() {
	ctx := context.Background()
	creator := newTestUser(suite.db, "creator")
	second := newTestUser(suite.db, "second")
	third := newTestUser(suite.db, "third")
	session := newTestSession(suite.db, "sess-order-01", creator.ID, true, 4)

	// 故意乱序插入
	suite.db.Create(&models.StoryPlayer{SessionRef: session.ID, UserID: third.ID, PlayerIndex: 2, CharacterName: "法师", IsActive: true})
	suite.db.Create(&models.StoryPlayer{SessionRef: session.ID, UserID: second.ID, PlayerIndex: 1, CharacterName: "盗贼", IsActive: true})

	found, err := suite.repo.FindBySessionID(ctx, session.SessionID)
	assert.NoError(suite.T(), err)
	assert.Len(suite.T(), found.Players, 3)
	for i, p := range found.Players {
		assert.Equal(suite.T(), i, p.PlayerIndex)
	}
}

// TestStorySessionRepository_FindByInviteCode 测试邀请码查找
func (suite *StorySessionRepositoryTestSuite) TestStorySessionRepository_FindByInviteCode() {
	ctx := context.Background()
	user := newTestUser(suite.db, "creator")
	session := newTestSession(suite.db, "sess-invite-01", user.ID, true, 4)

	found, err := suite.repo.FindByInviteCode(ctx, *session.InviteCode)
	assert.NoError(suite.T(), err)
	assert.Equal(suite.T(), session.SessionID, found.SessionID)

	// 单人会话没有邀请码，不可通过邀请码找到
	solo := newTestUser(suite.db, "solo")
	newTestSession(suite.db, "sess-invite-02", solo.ID, false, 0)
	_, err = suite.repo.FindByInviteCode(ctx, "")
	assert.Error(suite.T(), err)
}

// TestStorySessionRepository_InviteCodeUnique 测试邀请码唯一约束
func (suite *StorySessionRepositoryTestSuite) TestStorySessionRepository_InviteCodeUnique() {
	ctx := context.Background()
	user := newTestUser(suite.db, "creator")
	session := newTestSession(suite.db, "sess-unique-01", user.ID, true, 4)

	// 相同邀请码的第二个会话被唯一索引拒绝
	dup := &models.StorySession{
		SessionID:         "sess-unique-02",
		CreatorID:         user.ID,
		Theme:             "Fantasy",
		IsMultiplayer:     true,
		InviteCode:        session.InviteCode,
		GoalPrerequisites: models.StringList{},
		MetPrerequisites:  models.StringList{},
	}
	err := suite.repo.Create(ctx, dup)
	assert.Error(suite.T(), err)

	// 无邀请码的单人会话不受唯一索引影响，可同时存在多个
	solo1 := newTestUser(suite.db, "solo1")
	solo2 := newTestUser(suite.db, "solo2")
	newTestSession(suite.db, "sess-solo-01", solo1.ID, false, 0)
	newTestSession(suite.db, "sess-solo-02", solo2.ID, false, 0)
}

// TestStorySessionRepository_FindByUserID 测试查找用户参与的会话
func (suite *StorySessionRepositoryTestSuite) TestStorySessionRepository_FindByUserID() {
	ctx := context.Background()
	creator := newTestUser(suite.db, "creator")
	joiner := newTestUser(suite.db, "joiner")

	first := newTestSession(suite.db, "sess-list-01", creator.ID, true, 4)
	newTestSession(suite.db, "sess-list-02", creator.ID, false, 0)

	// joiner 只加入了第一个会话
	suite.db.Create(&models.StoryPlayer{SessionRef: first.ID, UserID: joiner.ID, PlayerIndex: 1, CharacterName: "游侠", IsActive: true})

	p := NewPagination(1, 10)
	sessions, err := suite.repo.FindByUserID(ctx, creator.ID, p)
	assert.NoError(suite.T(), err)
	assert.Len(suite.T(), sessions, 2)
	assert.Equal(suite.T(), int64(2), p.Total)

	p2 := NewPagination(1, 10)
	sessions, err = suite.repo.FindByUserID(ctx, joiner.ID, p2)
	assert.NoError(suite.T(), err)
	assert.Len(suite.T(), sessions, 1)
	assert.Equal(suite.T(), "sess-list-01", sessions[0].SessionID)
}

// TestStorySessionRepository_UpdateBySessionID 测试部分字段更新
func (suite *StorySessionRepositoryTestSuite) TestStorySessionRepository_UpdateBySessionID() {
	ctx := context.Background()
	user := newTestUser(suite.db, "creator")
	session := newTestSession(suite.db, "sess-update-01", user.ID, true, 4)

	err := suite.repo.UpdateBySessionID(ctx, session.SessionID, map[string]interface{}{
		"current_player_index": 2,
		"is_goal_met":          true,
	})
	assert.NoError(suite.T(), err)

	found, err := suite.repo.FindBySessionID(ctx, session.SessionID)
	assert.NoError(suite.T(), err)
	assert.NotNil(suite.T(), found.CurrentPlayerIndex)
	assert.Equal(suite.T(), 2, *found.CurrentPlayerIndex)
	assert.True(suite.T(), found.IsGoalMet)
}

// TestStorySessionRepository_Delete 测试删除会话
func (suite *StorySessionRepositoryTestSuite) TestStorySessionRepository_Delete() {
	ctx := context.Background()
	user := newTestUser(suite.db, "creator")
	session := newTestSession(suite.db, "sess-delete-01", user.ID, false, 0)

	err := suite.repo.Delete(ctx, session.SessionID)
	assert.NoError(suite.T(), err)

	_, err = suite.repo.FindBySessionID(ctx, session.SessionID)
	assert.ErrorIs(suite.T(), err, gorm.ErrRecordNotFound)
}

// TestStorySessionRepository_MetPrerequisitesRoundTrip 测试JSON列表字段读写
func (suite *StorySessionRepositoryTestSuite) TestStorySessionRepository_MetPrerequisitesRoundTrip() {
	ctx := context.Background()
	user := newTestUser(suite.db, "creator")
	session := newTestSession(suite.db, "sess-json-01", user.ID, false, 0)

	session.MetPrerequisites = session.MetPrerequisites.Merge([]string{"获得地图"})
	err := suite.repo.Update(ctx, session)
	assert.NoError(suite.T(), err)

	found, err := suite.repo.FindBySessionID(ctx, session.SessionID)
	assert.NoError(suite.T(), err)
	assert.True(suite.T(), found.MetPrerequisites.Contains("获得地图"))
	assert.False(suite.T(), found.MetPrerequisites.Contains("打开暗门"))
}

func TestStorySessionRepositoryTestSuite(t *testing.T) {
	suite.Run(t, new(StorySessionRepositoryTestSuite))
}
