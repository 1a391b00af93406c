package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/nc-ai-qqbot-go/internal/config"
	"github.com/nc-ai-qqbot-go/internal/i18n"
	"github.com/nc-ai-qqbot-go/internal/middleware"
	"github.com/nc-ai-qqbot-go/internal/models"
	"github.com/nc-ai-qqbot-go/internal/services/history"
)

const defaultSystemPrompt = "你是一个乐于助人的群聊助手，回答尽量简洁。"

// Responder builds a prompt from history and calls the chat-completion
// endpoint. It never returns an error: every failure mode becomes a
// user-facing string, so the pipeline can always reply with its result.
type Responder struct {
	cfg        *config.AIConfig
	history    *history.Store
	localizer  *i18n.Localizer
	limiter    *rate.Limiter
	httpClient *http.Client
	metrics    *middleware.Metrics
	logger     *logrus.Logger
}

// NewResponder creates an AI responder. The limiter caps outbound request
// rate across all groups to protect the upstream API.
func NewResponder(
	cfg *config.AIConfig,
	historyStore *history.Store,
	localizer *i18n.Localizer,
	metrics *middleware.Metrics,
	logger *logrus.Logger,
) *Responder {
	return &Responder{
		cfg:       cfg,
		history:   historyStore,
		localizer: localizer,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.Timeout) * time.Second,
		},
		metrics: metrics,
		logger:  logger,
	}
}

// Respond answers question with up to the configured number of recent
// turns as context. It does not append to history; the caller records the
// exchange after the reply is sent.
func (r *Responder) Respond(ctx context.Context, scopeKey, question string) string {
	if strings.TrimSpace(r.cfg.BaseURL) == "" || strings.TrimSpace(r.cfg.APIKey) == "" {
		r.logger.Warn("AI endpoint not configured, skipping request")
		return r.localizer.T(i18n.MsgAIConfigMissing, nil)
	}

	messages := r.buildMessages(scopeKey, question)

	start := time.Now()
	reply, status := r.complete(ctx, messages)
	if r.metrics != nil {
		r.metrics.RecordAIRequest(status, time.Since(start))
	}
	return reply
}

func (r *Responder) buildMessages(scopeKey, question string) []models.Turn {
	prompt := strings.TrimSpace(r.cfg.SystemPrompt)
	if prompt == "" {
		prompt = defaultSystemPrompt
	}

	recent := r.history.Recent(scopeKey, r.cfg.ContextLength)
	messages := make([]models.Turn, 0, len(recent)+2)
	messages = append(messages, models.Turn{Role: "system", Content: prompt})
	messages = append(messages, recent...)
	messages = append(messages, models.Turn{Role: "user", Content: question})
	return messages
}

// complete performs one request and maps every outcome to a reply string
// plus a metrics status label.
func (r *Responder) complete(ctx context.Context, messages []models.Turn) (string, string) {
	reqBody := map[string]interface{}{
		"model":       r.cfg.Model,
		"messages":    messages,
		"temperature": 0.7,
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return r.callFailed(err), "error"
	}

	if err := r.limiter.Wait(ctx); err != nil {
		return r.callFailed(err), "throttled"
	}

	url := strings.TrimSuffix(r.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return r.callFailed(err), "error"
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return r.callFailed(err), "error"
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return r.callFailed(err), "error"
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		r.logger.WithFields(logrus.Fields{
			"status": resp.StatusCode,
			"body":   string(body),
		}).Error("AI request failed")
		return r.localizer.T(i18n.MsgAIRequestFailed, map[string]interface{}{
			"Status":     resp.StatusCode,
			"StatusText": http.StatusText(resp.StatusCode),
		}), "http_error"
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return r.callFailed(err), "error"
	}

	if msg, ok := apiError(result.Error); ok {
		r.logger.WithField("error", msg).Error("AI returned an error payload")
		return r.localizer.T(i18n.MsgAIError, map[string]interface{}{"Message": msg}), "api_error"
	}

	if len(result.Choices) > 0 && result.Choices[0].Message.Content != "" {
		return result.Choices[0].Message.Content, "success"
	}

	r.logger.WithField("body", string(body)).Warn("AI response carried no choices")
	return r.localizer.T(i18n.MsgAIEmptyReply, nil), "empty"
}

func (r *Responder) callFailed(err error) string {
	r.logger.WithError(err).Error("AI call failed")
	return r.localizer.T(i18n.MsgAICallFailed, map[string]interface{}{"Message": err.Error()})
}

// apiError extracts the message from an error payload, falling back to the
// raw JSON when the message field is absent.
func apiError(raw json.RawMessage) (string, bool) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return "", false
	}

	var obj struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Message != "" {
		return obj.Message, true
	}
	return trimmed, true
}
