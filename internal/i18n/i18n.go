package i18n

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"

	"github.com/nc-ai-qqbot-go/internal/config"
)

// Localizer manages internationalization
type Localizer struct {
	bundle          *i18n.Bundle
	defaultLanguage string
	localizers      map[string]*i18n.Localizer
}

// NewLocalizer creates a new localizer. Built-in bundles are always loaded;
// files under cfg.Directory override them when present.
func NewLocalizer(cfg *config.I18nConfig) (*Localizer, error) {
	bundle := i18n.NewBundle(language.Chinese)
	bundle.RegisterUnmarshalFunc("json", json.Unmarshal)

	for name, data := range builtinMessages {
		if _, err := bundle.ParseMessageFileBytes([]byte(data), name); err != nil {
			return nil, fmt.Errorf("failed to parse built-in messages %s: %w", name, err)
		}
	}

	if cfg.Directory != "" {
		for _, lang := range cfg.Languages {
			path := filepath.Join(cfg.Directory, lang+".json")
			// Override files are optional
			bundle.LoadMessageFile(path)
		}
	}

	localizers := make(map[string]*i18n.Localizer)
	for _, lang := range cfg.Languages {
		localizers[lang] = i18n.NewLocalizer(bundle, lang)
	}
	if _, ok := localizers[cfg.DefaultLanguage]; !ok {
		localizers[cfg.DefaultLanguage] = i18n.NewLocalizer(bundle, cfg.DefaultLanguage)
	}

	return &Localizer{
		bundle:          bundle,
		defaultLanguage: cfg.DefaultLanguage,
		localizers:      localizers,
	}, nil
}

// Get returns localized message
func (l *Localizer) Get(lang, messageID string, data map[string]interface{}) string {
	localizer, exists := l.localizers[lang]
	if !exists {
		localizer = l.localizers[l.defaultLanguage]
	}

	msg, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: data,
	})
	if err != nil {
		return messageID // Fallback to message ID
	}

	return msg
}

// T returns the message in the default language.
func (l *Localizer) T(messageID string, data map[string]interface{}) string {
	return l.Get(l.defaultLanguage, messageID, data)
}

// Message IDs
const (
	MsgHelp             = "help"
	MsgPong             = "pong"
	MsgCooldownWait     = "cooldown_wait"
	MsgStatus           = "status"
	MsgPermissionDenied = "permission_denied"
	MsgAIEnabled        = "ai_enabled"
	MsgAIDisabled       = "ai_disabled"
	MsgHistoryCleared   = "history_cleared"
	MsgRateLimited      = "rate_limited"
	MsgAIConfigMissing  = "ai_config_missing"
	MsgAIRequestFailed  = "ai_request_failed"
	MsgAIError          = "ai_error"
	MsgAIEmptyReply     = "ai_empty_reply"
	MsgAICallFailed     = "ai_call_failed"
)

var builtinMessages = map[string]string{
	"zh-CN.json": `{
  "help": "可用命令：\n{{.Prefix}} help - 显示本帮助\n{{.Prefix}} ping - 测试机器人是否在线\n{{.Prefix}} status - 查看运行状态\n{{.Prefix}} ai enable/disable - 开启/关闭本群 AI 回复（管理员）\n{{.Prefix}} clear - 清空本群对话上下文（管理员）\n@我 并提问即可与 AI 对话",
  "pong": "pong!",
  "cooldown_wait": "请等待 {{.Seconds}} 秒后再试",
  "status": "运行时长：{{.Uptime}}\n今日已处理：{{.Today}} 条\n累计已处理：{{.Total}} 条",
  "permission_denied": "只有群主、管理员或配置的管理账号才能执行此操作",
  "ai_enabled": "本群 AI 回复已开启",
  "ai_disabled": "本群 AI 回复已关闭",
  "history_cleared": "本群对话上下文已清空",
  "rate_limited": "太频繁了，请稍后再试",
  "ai_config_missing": "AI 配置不完整，请先设置接口地址和密钥",
  "ai_request_failed": "请求失败 ({{.Status}}): {{.StatusText}}",
  "ai_error": "AI 错误: {{.Message}}",
  "ai_empty_reply": "AI 回复失败，请稍后再试",
  "ai_call_failed": "AI 回复失败: {{.Message}}"
}`,
	"en.json": `{
  "help": "Available commands:\n{{.Prefix}} help - show this help\n{{.Prefix}} ping - check the bot is alive\n{{.Prefix}} status - show runtime status\n{{.Prefix}} ai enable/disable - toggle AI replies for this group (admin)\n{{.Prefix}} clear - clear this group's conversation context (admin)\nMention me with a question to chat with the AI",
  "pong": "pong!",
  "cooldown_wait": "Please wait {{.Seconds}} seconds and try again",
  "status": "Uptime: {{.Uptime}}\nProcessed today: {{.Today}}\nProcessed total: {{.Total}}",
  "permission_denied": "Only the group owner, admins or configured privileged accounts can do that",
  "ai_enabled": "AI replies enabled for this group",
  "ai_disabled": "AI replies disabled for this group",
  "history_cleared": "Conversation context cleared for this group",
  "rate_limited": "Too frequent, please try again later",
  "ai_config_missing": "AI is not configured yet; set the endpoint URL and API key first",
  "ai_request_failed": "Request failed ({{.Status}}): {{.StatusText}}",
  "ai_error": "AI error: {{.Message}}",
  "ai_empty_reply": "AI reply failed, please try again later",
  "ai_call_failed": "AI reply failed: {{.Message}}"
}`,
}
