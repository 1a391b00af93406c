package handlers

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/nc-ai-qqbot-go/internal/config"
	"github.com/nc-ai-qqbot-go/internal/i18n"
	"github.com/nc-ai-qqbot-go/internal/middleware"
	"github.com/nc-ai-qqbot-go/internal/models"
	"github.com/nc-ai-qqbot-go/internal/onebot"
	"github.com/nc-ai-qqbot-go/internal/services/history"
	"github.com/nc-ai-qqbot-go/internal/services/storage"
)

// CommandHandler dispatches prefixed commands. Tokens it does not know are
// left alone entirely: other bots sharing the prefix namespace may own
// them, so not even an error reply is sent.
type CommandHandler struct {
	cfg       *config.Config
	sender    Sender
	gate      *middleware.Gate
	perms     *middleware.Permissions
	history   *history.Store
	storage   *storage.Manager
	localizer *i18n.Localizer
	metrics   *middleware.Metrics
	logger    *logrus.Logger
	startedAt time.Time
}

// NewCommandHandler creates a command handler.
func NewCommandHandler(
	cfg *config.Config,
	sender Sender,
	gate *middleware.Gate,
	perms *middleware.Permissions,
	historyStore *history.Store,
	storageManager *storage.Manager,
	localizer *i18n.Localizer,
	metrics *middleware.Metrics,
	logger *logrus.Logger,
) *CommandHandler {
	return &CommandHandler{
		cfg:       cfg,
		sender:    sender,
		gate:      gate,
		perms:     perms,
		history:   historyStore,
		storage:   storageManager,
		localizer: localizer,
		metrics:   metrics,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Handle dispatches one prefixed command. rest is the raw text with the
// command prefix already stripped.
func (h *CommandHandler) Handle(ctx context.Context, ev *onebot.Event, settings *models.GroupSettings, rest string) {
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return
	}

	groupKey := strconv.FormatInt(ev.GroupID, 10)

	switch strings.ToLower(fields[0]) {
	case "help":
		h.metrics.RecordCommandExecuted("help")
		h.reply(ctx, ev, h.localizer.T(i18n.MsgHelp, map[string]interface{}{
			"Prefix": h.cfg.Bot.CommandPrefix,
		}))

	case "ping":
		h.handlePing(ctx, ev, groupKey)

	case "status":
		h.handleStatus(ctx, ev)

	case "ai":
		if len(fields) < 2 {
			return
		}
		h.handleAIToggle(ctx, ev, settings, groupKey, strings.ToLower(fields[1]))

	case "clear":
		h.handleClear(ctx, ev, groupKey)

	default:
		// Foreign command namespace, stay silent
	}
}

func (h *CommandHandler) handlePing(ctx context.Context, ev *onebot.Event, groupKey string) {
	if remaining := h.gate.CheckCooldown(groupKey, "ping"); remaining > 0 {
		h.metrics.RecordCooldownRejected("ping")
		h.reply(ctx, ev, h.localizer.T(i18n.MsgCooldownWait, map[string]interface{}{
			"Seconds": remaining,
		}))
		return
	}

	h.metrics.RecordCommandExecuted("ping")
	h.reply(ctx, ev, h.localizer.T(i18n.MsgPong, nil))
	h.gate.SetCooldown(groupKey, "ping")

	if err := h.storage.IncrementProcessed(ctx); err != nil {
		h.logger.WithError(err).Error("Failed to increment processed counter")
	}
}

func (h *CommandHandler) handleStatus(ctx context.Context, ev *onebot.Event) {
	h.metrics.RecordCommandExecuted("status")

	stats, err := h.storage.GetStats(ctx)
	if err != nil {
		h.logger.WithError(err).Error("Failed to load stats")
		stats = &models.BotStats{}
	}

	h.reply(ctx, ev, h.localizer.T(i18n.MsgStatus, map[string]interface{}{
		"Uptime": time.Since(h.startedAt).Round(time.Second).String(),
		"Today":  stats.TodayProcessed,
		"Total":  stats.TotalProcessed,
	}))
}

func (h *CommandHandler) handleAIToggle(ctx context.Context, ev *onebot.Event, settings *models.GroupSettings, groupKey, action string) {
	if action != "enable" && action != "disable" {
		return
	}

	if !h.perms.CanManageAI(ev) {
		h.reply(ctx, ev, h.localizer.T(i18n.MsgPermissionDenied, nil))
		return
	}

	h.metrics.RecordCommandExecuted("ai_" + action)

	if settings == nil {
		settings = &models.GroupSettings{}
	}
	enabled := action == "enable"
	settings.AIEnabled = &enabled

	if err := h.storage.SaveGroupSettings(ctx, groupKey, settings); err != nil {
		h.logger.WithError(err).WithField("group_id", ev.GroupID).Error("Failed to persist group settings")
	}

	msgID := i18n.MsgAIDisabled
	if enabled {
		msgID = i18n.MsgAIEnabled
	}
	h.reply(ctx, ev, h.localizer.T(msgID, nil))
}

func (h *CommandHandler) handleClear(ctx context.Context, ev *onebot.Event, groupKey string) {
	if !h.perms.CanManageAI(ev) {
		h.reply(ctx, ev, h.localizer.T(i18n.MsgPermissionDenied, nil))
		return
	}

	h.metrics.RecordCommandExecuted("clear")
	h.history.Clear(groupKey)
	h.reply(ctx, ev, h.localizer.T(i18n.MsgHistoryCleared, nil))
}

func (h *CommandHandler) reply(ctx context.Context, ev *onebot.Event, text string) {
	if err := h.sender.SendGroupMessage(ctx, ev.GroupID, text); err != nil {
		h.logger.WithError(err).WithField("group_id", ev.GroupID).Error("Failed to send reply")
	}
}
