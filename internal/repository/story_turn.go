package repository

import (
	"context"

	"github.com/wfunc/story-game/internal/models"
	"gorm.io/gorm"
)

// StoryTurnRepository 故事回合仓储接口
type StoryTurnRepository interface {
	BaseRepository
	Create(ctx context.Context, turn *models.StoryTurn) error
	FindBySession(ctx context.Context, sessionRef uint) ([]*models.StoryTurn, error)
	FindBySessionAndIndex(ctx context.Context, sessionRef uint, turnIndex int) (*models.StoryTurn, error)
	LatestIndex(ctx context.Context, sessionRef uint) (int, error)
	DeleteAfterIndex(ctx context.Context, sessionRef uint, turnIndex int) (int64, error)
	DeleteBySession(ctx context.Context, sessionRef uint) error
	WithTx(tx *gorm.DB) StoryTurnRepository
}

// storyTurnRepo 故事回合仓储实现
type storyTurnRepo struct {
	*BaseRepo
}

// NewStoryTurnRepository 创建故事回合仓储
func NewStoryTurnRepository(db *gorm.DB) StoryTurnRepository {
	return &storyTurnRepo{
		BaseRepo: NewBaseRepo(db),
	}
}

// Create 追加回合
func (r *storyTurnRepo) Create(ctx context.Context, turn *models.StoryTurn) error {
	return r.db.WithContext(ctx).Create(turn).Error
}

// FindBySession 查找会话的全部回合（按回合序号升序）
func (r *storyTurnRepo) FindBySession(ctx context.Context, sessionRef uint) ([]*models.StoryTurn, error) {
	var turns []*models.StoryTurn
	err := r.db.WithContext(ctx).
		Where("session_ref = ?", sessionRef).
		Order("turn_index asc").
		Find(&turns).Error
	return turns, err
}

// FindBySessionAndIndex 查找指定序号的回合
func (r *storyTurnRepo) FindBySessionAndIndex(ctx context.Context, sessionRef uint, turnIndex int) (*models.StoryTurn, error) {
	var turn models.StoryTurn
	err := r.db.WithContext(ctx).
		Where("session_ref = ? AND turn_index = ?", sessionRef, turnIndex).
		First(&turn).Error
	if err != nil {
		return nil, err
	}
	return &turn, nil
}

// LatestIndex 返回会话最新回合序号（无回合返回-1）
func (r *storyTurnRepo) LatestIndex(ctx context.Context, sessionRef uint) (int, error) {
	var turn models.StoryTurn
	err := r.db.WithContext(ctx).
		Where("session_ref = ?", sessionRef).
		Order("turn_index desc").
		First(&turn).Error
	if err == gorm.ErrRecordNotFound {
		return -1, nil
	}
	if err != nil {
		return -1, err
	}
	return turn.TurnIndex, nil
}

// DeleteAfterIndex 删除指定序号之后的全部回合（分支截断，返回删除数）
func (r *storyTurnRepo) DeleteAfterIndex(ctx context.Context, sessionRef uint, turnIndex int) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("session_ref = ? AND turn_index > ?", sessionRef, turnIndex).
		Delete(&models.StoryTurn{})
	return result.RowsAffected, result.Error
}

// DeleteBySession 删除会话的全部回合
func (r *storyTurnRepo) DeleteBySession(ctx context.Context, sessionRef uint) error {
	return r.db.WithContext(ctx).
		Where("session_ref = ?", sessionRef).
		Delete(&models.StoryTurn{}).Error
}

// WithTx 使用事务
func (r *storyTurnRepo) WithTx(tx *gorm.DB) StoryTurnRepository {
	return &storyTurnRepo{
		BaseRepo: &BaseRepo{db: tx},
	}
}
