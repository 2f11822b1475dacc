package repository

import (
	"github.com/wfunc/story-game/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// SetupTestDB 为测试套件设置测试数据库
func SetupTestDB() *gorm.DB {
	// 使用内存数据库进行测试（更快，不需要文件系统，在所有环境中都能工作）
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		panic(err)
	}

	err = db.AutoMigrate(
		&models.User{},
		&models.StorySession{},
		&models.StoryPlayer{},
		&models.StoryTurn{},
	)
	if err != nil {
		panic(err)
	}

	return db
}

// CleanupTestDB 清理测试数据库
func CleanupTestDB(db *gorm.DB) {
	// 注意：清理顺序很重要，先清理有外键依赖的表
	tables := []interface{}{
		&models.StoryTurn{},
		&models.StoryPlayer{},
		&models.StorySession{},
		&models.User{},
	}
	for _, table := range tables {
		db.Session(&gorm.Session{AllowGlobalUpdate: true}).Delete(table)
	}

	sqlDB, err := db.DB()
	if err == nil {
		sqlDB.Close()
	}
}

// newTestUser 写入一个测试用户
func newTestUser(db *gorm.DB, username string) *models.User {
	user := &models.User{
		Username: username,
		Nickname: username,
		Email:    username + "@test.local",
		Status:   "active",
		Password: "$argon2id$test",
	}
	if err := db.Create(user).Error; err != nil {
		panic(err)
	}
	return user
}

// newTestSession 构造一个测试会话（含创建者花名册条目与第0回合）
func newTestSession(db *gorm.DB, sessionID string, creatorID uint, multiplayer bool, maxPlayers int) *models.StorySession {
	session := &models.StorySession{
		SessionID:         sessionID,
		CreatorID:         creatorID,
		Theme:             "Fantasy",
		IsMultiplayer:     multiplayer,
		GameGoal:          "找到失落的王冠",
		GoalPrerequisites: models.StringList{"获得地图", "打开暗门"},
		MetPrerequisites:  models.StringList{},
	}
	if multiplayer {
		session.MaxPlayers = &maxPlayers
		zero := 0
		session.CurrentPlayerIndex = &zero
		code := "CODE" + sessionID[len(sessionID)-2:]
		session.InviteCode = &code
	}
	if err := db.Create(session).Error; err != nil {
		panic(err)
	}

	player := &models.StoryPlayer{
		SessionRef:    session.ID,
		UserID:        creatorID,
		PlayerIndex:   0,
		CharacterName: "冒险者",
		IsActive:      true,
	}
	if err := db.Create(player).Error; err != nil {
		panic(err)
	}

	turn := &models.StoryTurn{
		SessionRef:       session.ID,
		TurnIndex:        0,
		Narrative:        "故事从一间昏暗的石屋开始。",
		SuggestedActions: models.StringList{"环顾四周", "推门出去"},
		TimeOfDay:        "night",
		IsSameLocation:   true,
		Characters:       models.StringList{},
	}
	if err := db.Create(turn).Error; err != nil {
		panic(err)
	}

	session.Players = []models.StoryPlayer{*player}
	return session
}
