package repository

import (
	"context"

	"github.com/wfunc/story-game/internal/models"
	"gorm.io/gorm"
)

// StoryPlayerRepository 故事玩家仓储接口
type StoryPlayerRepository interface {
	BaseRepository
	Create(ctx context.Context, player *models.StoryPlayer) error
	Update(ctx context.Context, player *models.StoryPlayer) error
	FindBySession(ctx context.Context, sessionRef uint) ([]*models.StoryPlayer, error)
	FindBySessionAndUser(ctx context.Context, sessionRef uint, userID uint) (*models.StoryPlayer, error)
	CountBySession(ctx context.Context, sessionRef uint) (int64, error)
	DeleteBySession(ctx context.Context, sessionRef uint) error
	WithTx(tx *gorm.DB) StoryPlayerRepository
}

// storyPlayerRepo 故事玩家仓储实现
type storyPlayerRepo struct {
	*BaseRepo
}

// NewStoryPlayerRepository 创建故事玩家仓储
func NewStoryPlayerRepository(db *gorm.DB) StoryPlayerRepository {
	return &storyPlayerRepo{
		BaseRepo: NewBaseRepo(db),
	}
}

// Create 创建花名册条目
func (r *storyPlayerRepo) Create(ctx context.Context, player *models.StoryPlayer) error {
	return r.db.WithContext(ctx).Create(player).Error
}

// Update 更新花名册条目
func (r *storyPlayerRepo) Update(ctx context.Context, player *models.StoryPlayer) error {
	return r.db.WithContext(ctx).Save(player).Error
}

// FindBySession 查找会话的全部花名册条目（按回合顺序）
func (r *storyPlayerRepo) FindBySession(ctx context.Context, sessionRef uint) ([]*models.StoryPlayer, error) {
	var players []*models.StoryPlayer
	err := r.db.WithContext(ctx).
		Where("session_ref = ?", sessionRef).
		Order("player_index asc").
		Find(&players).Error
	return players, err
}

// FindBySessionAndUser 查找用户在会话中的花名册条目
func (r *storyPlayerRepo) FindBySessionAndUser(ctx context.Context, sessionRef uint, userID uint) (*models.StoryPlayer, error) {
	var player models.StoryPlayer
	err := r.db.WithContext(ctx).
		Where("session_ref = ? AND user_id = ?", sessionRef, userID).
		First(&player).Error
	if err != nil {
		return nil, err
	}
	return &player, nil
}

// CountBySession 统计会话人数
func (r *storyPlayerRepo) CountBySession(ctx context.Context, sessionRef uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.StoryPlayer{}).
		Where("session_ref = ?", sessionRef).
		Count(&count).Error
	return count, err
}

// DeleteBySession 删除会话的全部花名册条目
func (r *storyPlayerRepo) DeleteBySession(ctx context.Context, sessionRef uint) error {
	return r.db.WithContext(ctx).
		Where("session_ref = ?", sessionRef).
		Delete(&models.StoryPlayer{}).Error
}

// WithTx 使用事务
func (r *storyPlayerRepo) WithTx(tx *gorm.DB) StoryPlayerRepository {
	return &storyPlayerRepo{
		BaseRepo: &BaseRepo{db: tx},
	}
}
