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
	"github.com/wfunc/story-game/internal/game"
	"go.uber.org/zap"
)

// NarrativeService OpenAI兼容接口的叙事生成客户端
// 实现 game.Generator；超时与网络失败返回 ErrGenerateTimeout，
// 输出无法解析或缺少必填字段返回 ErrMalformedOutput
type NarrativeService struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
	log        *zap.Logger
}

// NewNarrativeService 创建叙事生成客户端
func NewNarrativeService(cfg *config.AIConfig, log *zap.Logger) *NarrativeService {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &NarrativeService{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		log:        log,
	}
}

// IsAvailable 是否已配置密钥
func (s *NarrativeService) IsAvailable() bool {
	return s.apiKey != ""
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Generate 调用聊天补全接口生成一个结构化回合
func (s *NarrativeService) Generate(ctx context.Context, systemContext, prompt string) (*game.TurnPayload, error) {
	if !s.IsAvailable() {
		return nil, apperrors.New(apperrors.ErrGenerateDisabled)
	}

	reqBody := chatRequest{
		Model: s.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemContext},
			{Role: "user", Content: prompt},
		},
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrGenerateFailed)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrGenerateFailed)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		// 网络错误与客户端超时统一按超时处理，参与重试
		return nil, apperrors.Wrap(err, apperrors.ErrGenerateTimeout)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrGenerateTimeout)
	}

	if resp.StatusCode != http.StatusOK {
		s.log.Warn("叙事接口返回异常状态",
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", body))
		return nil, apperrors.Newf(apperrors.ErrGenerateFailed, "接口返回状态 %d", resp.StatusCode)
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrMalformedOutput)
	}
	if chatResp.Error != nil {
		return nil, apperrors.New(apperrors.ErrGenerateFailed, chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return nil, apperrors.New(apperrors.ErrMalformedOutput, "响应没有choices")
	}

	content := cleanJSONContent(chatResp.Choices[0].Message.Content)

	var payload game.TurnPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		s.log.Warn("叙事输出不是合法JSON", zap.Error(err))
		return nil, apperrors.Wrap(err, apperrors.ErrMalformedOutput)
	}
	if err := validatePayload(&payload); err != nil {
		return nil, err
	}

	return &payload, nil
}

// validatePayload 校验生成结果的必填字段
func validatePayload(p *game.TurnPayload) error {
	if strings.TrimSpace(p.Narrative) == "" {
		return apperrors.New(apperrors.ErrMalformedOutput, "缺少narrative字段")
	}
	if len(p.SuggestedActions) == 0 {
		return apperrors.New(apperrors.ErrMalformedOutput, "缺少suggestedActions字段")
	}
	return nil
}

// cleanJSONContent 剥离模型偶尔附带的markdown围栏
func cleanJSONContent(content string) string {
	content = strings.TrimSpace(content)
	if strings.HasPrefix(content, "```json") {
		content = strings.TrimPrefix(content, "```json")
	}
	if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```")
	}
	if strings.HasSuffix(content, "```") {
		content = strings.TrimSuffix(content, "```")
	}
	return strings.TrimSpace(content)
}
