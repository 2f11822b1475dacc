package service

import (
	"time"

	"github.com/wfunc/story-game/internal/config"
	"github.com/wfunc/story-game/internal/repository"
	"github.com/wfunc/story-game/internal/utils"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Services 服务集合
type Services struct {
	Auth      AuthService
	Narrative *NarrativeService
	Image     *ImageService
}

// NewServices 创建服务集合
func NewServices(db *gorm.DB, cfg *config.Config, log *zap.Logger) *Services {
	userRepo := repository.NewUserRepository(db)

	jwtManager := utils.NewJWTManager(
		cfg.Security.JWT.Secret,
		time.Duration(cfg.Security.JWT.ExpireHours)*time.Hour,
		time.Duration(cfg.Security.JWT.RefreshHours)*time.Hour,
	)

	return &Services{
		Auth:      NewAuthService(userRepo, jwtManager, log),
		Narrative: NewNarrativeService(&cfg.AI, log),
		Image:     NewImageService(&cfg.Image, log),
	}
}
