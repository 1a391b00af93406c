package handlers

import (
	"context"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/nc-ai-qqbot-go/internal/config"
	"github.com/nc-ai-qqbot-go/internal/i18n"
	"github.com/nc-ai-qqbot-go/internal/middleware"
	"github.com/nc-ai-qqbot-go/internal/models"
	"github.com/nc-ai-qqbot-go/internal/onebot"
	"github.com/nc-ai-qqbot-go/internal/services/history"
	"github.com/nc-ai-qqbot-go/internal/services/storage"
	"github.com/nc-ai-qqbot-go/pkg/logger"
	"github.com/nc-ai-qqbot-go/pkg/markdown"
)

// Sender delivers outbound messages to the host runtime.
type Sender interface {
	SendGroupMessage(ctx context.Context, groupID int64, text string) error
}

// AIResponder answers a question for a group scope. The returned string is
// always sent as the reply, error strings included.
type AIResponder interface {
	Respond(ctx context.Context, scopeKey, question string) string
}

// Pipeline sequences the guard checks for one inbound event: command
// dispatch, AI-enabled gate, mention gate, content filter, rate gate, AI
// call, history update.
type Pipeline struct {
	cfg       *config.Config
	sender    Sender
	commands  *CommandHandler
	gate      *middleware.Gate
	filter    *middleware.ContentFilter
	history   *history.Store
	responder AIResponder
	storage   *storage.Manager
	localizer *i18n.Localizer
	metrics   *middleware.Metrics
	logger    *logrus.Logger
}

// NewPipeline creates the dispatch pipeline.
func NewPipeline(
	cfg *config.Config,
	sender Sender,
	commands *CommandHandler,
	gate *middleware.Gate,
	filter *middleware.ContentFilter,
	historyStore *history.Store,
	responder AIResponder,
	storageManager *storage.Manager,
	localizer *i18n.Localizer,
	metrics *middleware.Metrics,
	logger *logrus.Logger,
) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		sender:    sender,
		commands:  commands,
		gate:      gate,
		filter:    filter,
		history:   historyStore,
		responder: responder,
		storage:   storageManager,
		localizer: localizer,
		metrics:   metrics,
		logger:    logger,
	}
}

// HandleEvent processes one inbound event to completion. No failure in
// here may reach the host runtime: panics are recovered and logged, and
// every other error becomes either a log line or a chat reply.
func (p *Pipeline) HandleEvent(ctx context.Context, ev *onebot.Event) {
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.WithField("panic", rec).Error("Pipeline panic recovered")
			p.metrics.RecordMessageProcessed("panic")
		}
	}()

	p.metrics.RecordMessageReceived(ev.MessageType)

	if !ev.IsGroup() || ev.GroupID == 0 {
		return
	}

	groupKey := strconv.FormatInt(ev.GroupID, 10)

	settings, err := p.storage.GetGroupSettings(ctx, groupKey)
	if err != nil {
		p.logger.WithError(err).WithField("group_id", ev.GroupID).Error("Failed to load group settings")
		return
	}
	if settings.Disabled() {
		return
	}

	rawText := strings.TrimSpace(ev.RawMessage)
	if strings.HasPrefix(rawText, p.cfg.Bot.CommandPrefix) {
		p.commands.Handle(ctx, ev, settings, strings.TrimPrefix(rawText, p.cfg.Bot.CommandPrefix))
		return
	}

	p.handleTrigger(ctx, ev, settings, groupKey)
}

// handleTrigger runs the AI path for a non-command group message. The
// AI-enabled override is checked first so that a disabled group causes no
// filter side effects, not even log lines.
func (p *Pipeline) handleTrigger(ctx context.Context, ev *onebot.Event, settings *models.GroupSettings, groupKey string) {
	if settings.AIDisabled() {
		return
	}

	if !ev.Mentioned {
		return
	}

	senderID := strconv.FormatInt(ev.Sender.UserID, 10)
	if p.filter.IsBlacklisted(senderID) {
		logger.WithGroup(p.logger, ev.GroupID, ev.Sender.UserID).Info("Dropping message from blacklisted sender")
		p.metrics.RecordFilterBlocked("blacklist")
		return
	}

	if matched := p.filter.Matches(ev.RawMessage); len(matched) > 0 {
		for _, pattern := range matched {
			logger.WithGroup(p.logger, ev.GroupID, ev.Sender.UserID).
				WithField("pattern", pattern).
				Info("Dropping message matching filter pattern")
		}
		p.metrics.RecordFilterBlocked("pattern")
		return
	}

	question := ev.PlainText()
	if question == "" {
		return
	}

	limit := p.cfg.Rate.PerMinute
	if settings != nil && settings.RateLimit != 0 {
		limit = settings.RateLimit
	}
	if p.gate.CheckRateLimit(groupKey, limit) {
		p.metrics.RecordRateLimitRejected()
		p.reply(ctx, ev, p.localizer.T(i18n.MsgRateLimited, nil))
		return
	}

	answer := p.responder.Respond(ctx, groupKey, question)
	p.reply(ctx, ev, markdown.ToPlainText(answer))

	// Recorded after the reply regardless of how the AI call went; error
	// strings become assistant turns too.
	p.history.Append(groupKey, "user", question)
	p.history.Append(groupKey, "assistant", answer)

	if err := p.storage.IncrementProcessed(ctx); err != nil {
		p.logger.WithError(err).Error("Failed to increment processed counter")
	}
	p.metrics.RecordMessageProcessed("success")
}

func (p *Pipeline) reply(ctx context.Context, ev *onebot.Event, text string) {
	if err := p.sender.SendGroupMessage(ctx, ev.GroupID, text); err != nil {
		p.logger.WithError(err).WithField("group_id", ev.GroupID).Error("Failed to send reply")
	}
}
