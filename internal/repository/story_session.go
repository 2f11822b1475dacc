package repository

import (
	"context"

	"github.com/wfunc/story-game/internal/models"
	"gorm.io/gorm"
)

// StorySessionRepository 故事会话仓储接口
type StorySessionRepository interface {
	BaseRepository
	Create(ctx context.Context, session *models.StorySession) error
	Update(ctx context.Context, session *models.StorySession) error
	UpdateBySessionID(ctx context.Context, sessionID string, updates map[string]interface{}) error
	FindBySessionID(ctx context.Context, sessionID string) (*models.StorySession, error)
	FindByInviteCode(ctx context.Context, inviteCode string) (*models.StorySession, error)
	FindByUserID(ctx context.Context, userID uint, p *Pagination) ([]*models.StorySession, error)
	Delete(ctx context.Context, sessionID string) error
	WithTx(tx *gorm.DB) StorySessionRepository
}

// storySessionRepo 故事会话仓储实现
type storySessionRepo struct {
	*BaseRepo
}

// NewStorySessionRepository 创建故事会话仓储
func NewStorySessionRepository(db *gorm.DB) StorySessionRepository {
	return &storySessionRepo{
		BaseRepo: NewBaseRepo(db),
	}
}

// Create 创建故事会话
func (r *storySessionRepo) Create(ctx context.Context, session *models.StorySession) error {
	return r.db.WithContext(ctx).Create(session).Error
}

// Update 更新故事会话
func (r *storySessionRepo) Update(ctx context.Context, session *models.StorySession) error {
	return r.db.WithContext(ctx).Save(session).Error
}

// UpdateBySessionID 根据会话ID更新
func (r *storySessionRepo) UpdateBySessionID(ctx context.Context, sessionID string, updates map[string]interface{}) error {
	return r.db.WithContext(ctx).
		Model(&models.StorySession{}).
		Where("session_id = ?", sessionID).
		Updates(updates).Error
}

// FindBySessionID 根据会话ID查找（携带花名册）
func (r *storySessionRepo) FindBySessionID(ctx context.Context, sessionID string) (*models.StorySession, error) {
	var session models.StorySession
	err := r.db.WithContext(ctx).
		Preload("Players", func(db *gorm.DB) *gorm.DB {
			return db.Order("player_index asc")
		}).
		Where("session_id = ?", sessionID).
		First(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// FindByInviteCode 根据邀请码查找多人会话
func (r *storySessionRepo) FindByInviteCode(ctx context.Context, inviteCode string) (*models.StorySession, error) {
	var session models.StorySession
	err := r.db.WithContext(ctx).
		Preload("Players", func(db *gorm.DB) *gorm.DB {
			return db.Order("player_index asc")
		}).
		Where("invite_code = ? AND is_multiplayer = ?", inviteCode, true).
		First(&session).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// FindByUserID 查找用户参与的全部会话（分页，按更新时间倒序）
func (r *storySessionRepo) FindByUserID(ctx context.Context, userID uint, p *Pagination) ([]*models.StorySession, error) {
	var sessions []*models.StorySession

	sub := r.db.WithContext(ctx).
		Model(&models.StoryPlayer{}).
		Select("session_ref").
		Where("user_id = ? AND is_active = ?", userID, true)

	// 查询总数
	r.db.WithContext(ctx).
		Model(&models.StorySession{}).
		Where("id IN (?)", sub).
		Count(&p.Total)

	// 查询数据
	err := r.db.WithContext(ctx).
		Preload("Players", func(db *gorm.DB) *gorm.DB {
			return db.Order("player_index asc")
		}).
		Where("id IN (?)", sub).
		Order("updated_at desc").
		Scopes(Paginate(p)).
		Find(&sessions).Error

	return sessions, err
}

// Delete 删除会话（回合与玩家由外键级联删除）
func (r *storySessionRepo) Delete(ctx context.Context, sessionID string) error {
	return r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Delete(&models.StorySession{}).Error
}

// WithTx 使用事务
func (r *storySessionRepo) WithTx(tx *gorm.DB) StorySessionRepository {
	return &storySessionRepo{
		BaseRepo: &BaseRepo{db: tx},
	}
}
