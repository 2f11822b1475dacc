package service

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wfunc/story-game/internal/config"
	apperrors "github.com/wfunc/story-game/internal/errors"
	"go.uber.org/zap"
)

// ImageService 场景图片生成客户端
// 实现 game.ImageGenerator，调用方在失败时降级为占位图
type ImageService struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	size       string
	enabled    bool
	log        *zap.Logger
}

// NewImageService 创建图片生成客户端
func NewImageService(cfg *config.ImageConfig, log *zap.Logger) *ImageService {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ImageService{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		size:       cfg.Size,
		enabled:    cfg.Enabled && cfg.APIKey != "",
		log:        log,
	}
}

type imageRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
	Size   string `json:"size,omitempty"`
}

type imageResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// GenerateImage 生成场景图片并返回URL
func (s *ImageService) GenerateImage(ctx context.Context, prompt string) (string, error) {
	if !s.enabled {
		return "", apperrors.New(apperrors.ErrGenerateDisabled)
	}

	reqBody := imageRequest{
		Model:  s.model,
		Prompt: prompt,
		N:      1,
		Size:   s.size,
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrImageFailed)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/images/generations", bytes.NewReader(jsonBody))
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrImageFailed)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrImageFailed)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrImageFailed)
	}
	if resp.StatusCode != http.StatusOK {
		s.log.Warn("图片接口返回异常状态", zap.Int("status", resp.StatusCode))
		return "", apperrors.Newf(apperrors.ErrImageFailed, "接口返回状态 %d", resp.StatusCode)
	}

	var imgResp imageResponse
	if err := json.Unmarshal(body, &imgResp); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrImageFailed)
	}
	if imgResp.Error != nil {
		return "", apperrors.New(apperrors.ErrImageFailed, imgResp.Error.Message)
	}
	if len(imgResp.Data) == 0 || imgResp.Data[0].URL == "" {
		return "", apperrors.New(apperrors.ErrImageFailed, "响应没有图片数据")
	}

	return imgResp.Data[0].URL, nil
}
