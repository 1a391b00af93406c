package handlers

import (
	"context"
	"io"
	"regexp"
	"strings"
	"testing"
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

func boolPtr(b bool) *bool { return &b }

type sentMessage struct {
	groupID int64
	text    string
}

type fakeSender struct {
	sent []sentMessage
}

func (f *fakeSender) SendGroupMessage(ctx context.Context, groupID int64, text string) error {
	f.sent = append(f.sent, sentMessage{groupID: groupID, text: text})
	return nil
}

type fakeResponder struct {
	answer    string
	questions []string
}

func (f *fakeResponder) Respond(ctx context.Context, scopeKey, question string) string {
	f.questions = append(f.questions, question)
	return f.answer
}

type pipelineEnv struct {
	pipeline  *Pipeline
	sender    *fakeSender
	responder *fakeResponder
	storage   *storage.Manager
	history   *history.Store
}

func testPipelineConfig() *config.Config {
	return &config.Config{
		Bot: config.BotConfig{
			CommandPrefix: "#bot",
		},
		Rate: config.RateConfig{
			CooldownSeconds: 60,
			PerMinute:       -1,
		},
		Storage: config.StorageConfig{
			Type: "memory",
		},
		I18n: config.I18nConfig{
			DefaultLanguage: "zh-CN",
			Languages:       []string{"zh-CN", "en"},
		},
	}
}

func newPipelineEnv(t *testing.T, cfg *config.Config) *pipelineEnv {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	manager, err := storage.NewManager(cfg, logger)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if err := manager.Seed(context.Background(), cfg.Groups); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	localizer, err := i18n.NewLocalizer(&cfg.I18n)
	if err != nil {
		t.Fatalf("NewLocalizer: %v", err)
	}

	historyStore := history.NewStore(&config.MemoryConfig{
		DefaultExpiration: time.Hour,
		CleanupInterval:   time.Hour,
	}, logger)

	metrics := middleware.NewMetrics()
	gate := middleware.NewGate(&cfg.Rate, logger)
	filter := middleware.NewContentFilter(&cfg.Access, logger)
	perms := middleware.NewPermissions(&cfg.Access)

	sender := &fakeSender{}
	responder := &fakeResponder{answer: "an answer"}

	commands := NewCommandHandler(cfg, sender, gate, perms, historyStore, manager, localizer, metrics, logger)
	pipeline := NewPipeline(cfg, sender, commands, gate, filter, historyStore, responder, manager, localizer, metrics, logger)

	return &pipelineEnv{
		pipeline:  pipeline,
		sender:    sender,
		responder: responder,
		storage:   manager,
		history:   historyStore,
	}
}

func commandEvent(groupID, userID int64, role, raw string) *onebot.Event {
	return &onebot.Event{
		PostType:    "message",
		MessageType: "group",
		GroupID:     groupID,
		UserID:      userID,
		SelfID:      999,
		RawMessage:  raw,
		Segments:    []onebot.Segment{{Type: "text", Text: raw}},
		Sender:      onebot.Sender{UserID: userID, Role: role},
	}
}

func mentionEvent(groupID, userID int64, question string) *onebot.Event {
	return &onebot.Event{
		PostType:    "message",
		MessageType: "group",
		GroupID:     groupID,
		UserID:      userID,
		SelfID:      999,
		RawMessage:  "[CQ:at,qq=999] " + question,
		Mentioned:   true,
		Segments: []onebot.Segment{
			{Type: "at", Target: "999"},
			{Type: "text", Text: " " + question},
		},
		Sender: onebot.Sender{UserID: userID, Role: "member"},
	}
}

func TestPipeline_PingThenCooldown(t *testing.T) {
	env := newPipelineEnv(t, testPipelineConfig())
	ctx := context.Background()

	env.pipeline.HandleEvent(ctx, commandEvent(100, 1, "member", "#bot ping"))
	if len(env.sender.sent) != 1 || env.sender.sent[0].text != "pong!" {
		t.Fatalf("sent = %+v, want single pong!", env.sender.sent)
	}

	env.pipeline.HandleEvent(ctx, commandEvent(100, 1, "member", "#bot ping"))
	if len(env.sender.sent) != 2 {
		t.Fatalf("sent %d messages, want 2", len(env.sender.sent))
	}
	cooldownMsg := regexp.MustCompile(`请等待 \d+ 秒后再试`)
	if !cooldownMsg.MatchString(env.sender.sent[1].text) {
		t.Fatalf("second reply = %q, want cooldown notice", env.sender.sent[1].text)
	}
}

func TestPipeline_IgnoresNonGroupEvents(t *testing.T) {
	env := newPipelineEnv(t, testPipelineConfig())

	ev := mentionEvent(100, 1, "hello")
	ev.MessageType = "private"
	ev.GroupID = 0
	env.pipeline.HandleEvent(context.Background(), ev)

	if len(env.sender.sent) != 0 || len(env.responder.questions) != 0 {
		t.Fatalf("private event reached the group pipeline: sent=%+v calls=%d",
			env.sender.sent, len(env.responder.questions))
	}
}

func TestPipeline_DisabledGroupIsSilent(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.Groups = map[string]models.GroupSettings{
		"100": {Enabled: boolPtr(false)},
	}
	env := newPipelineEnv(t, cfg)
	ctx := context.Background()

	env.pipeline.HandleEvent(ctx, mentionEvent(100, 1, "hello"))
	env.pipeline.HandleEvent(ctx, commandEvent(100, 1, "member", "#bot ping"))

	if len(env.sender.sent) != 0 || len(env.responder.questions) != 0 {
		t.Fatalf("disabled group produced output: sent=%+v calls=%d",
			env.sender.sent, len(env.responder.questions))
	}
}

func TestPipeline_AIDisabledStillDispatchesCommands(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.Groups = map[string]models.GroupSettings{
		"100": {AIEnabled: boolPtr(false)},
	}
	env := newPipelineEnv(t, cfg)
	ctx := context.Background()

	env.pipeline.HandleEvent(ctx, mentionEvent(100, 1, "hello"))
	if len(env.responder.questions) != 0 || len(env.sender.sent) != 0 {
		t.Fatalf("AI-disabled group answered a mention: sent=%+v", env.sender.sent)
	}
	if got := env.history.Recent("100", 10); len(got) != 0 {
		t.Fatalf("AI-disabled group recorded %d history turns, want 0", len(got))
	}

	env.pipeline.HandleEvent(ctx, commandEvent(100, 1, "member", "#bot ping"))
	if len(env.sender.sent) != 1 || env.sender.sent[0].text != "pong!" {
		t.Fatalf("commands should still work when AI is off, sent=%+v", env.sender.sent)
	}
}

func TestPipeline_PartialGroupEntryStaysEnabled(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.Groups = map[string]models.GroupSettings{
		"100": {AIEnabled: boolPtr(false)},
		"200": {RateLimit: 3},
	}
	env := newPipelineEnv(t, cfg)
	ctx := context.Background()

	// A group entry that only turns AI off must not disable the group
	// itself: an admin can still revive it from chat.
	env.pipeline.HandleEvent(ctx, commandEvent(100, 2, "admin", "#bot ai enable"))
	if len(env.sender.sent) != 1 || !strings.Contains(env.sender.sent[0].text, "已开启") {
		t.Fatalf("sent = %+v, want enable confirmation for a partially configured group", env.sender.sent)
	}

	env.pipeline.HandleEvent(ctx, mentionEvent(100, 1, "hello"))
	if len(env.responder.questions) != 1 {
		t.Fatalf("re-enabled group did not answer, calls = %d", len(env.responder.questions))
	}

	// Same for an entry that only sets a rate limit
	env.pipeline.HandleEvent(ctx, mentionEvent(200, 1, "hello"))
	if len(env.responder.questions) != 2 {
		t.Fatalf("rate-limit-only group did not answer, calls = %d", len(env.responder.questions))
	}
}

func TestPipeline_MentionRequired(t *testing.T) {
	env := newPipelineEnv(t, testPipelineConfig())

	ev := mentionEvent(100, 1, "hello")
	ev.Mentioned = false
	ev.Segments[0].Target = "888"
	env.pipeline.HandleEvent(context.Background(), ev)

	if len(env.sender.sent) != 0 || len(env.responder.questions) != 0 {
		t.Fatalf("unmentioned message triggered the AI path: sent=%+v", env.sender.sent)
	}
}

func TestPipeline_BlacklistedSender(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.Access.Blacklist = []string{"42"}
	env := newPipelineEnv(t, cfg)

	env.pipeline.HandleEvent(context.Background(), mentionEvent(100, 42, "hello"))

	if len(env.sender.sent) != 0 || len(env.responder.questions) != 0 {
		t.Fatalf("blacklisted sender got through: sent=%+v calls=%d",
			env.sender.sent, len(env.responder.questions))
	}
}

func TestPipeline_PatternFilter(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.Access.Patterns = []string{`(?i)badword`}
	env := newPipelineEnv(t, cfg)

	env.pipeline.HandleEvent(context.Background(), mentionEvent(100, 1, "so much BadWord here"))

	if len(env.sender.sent) != 0 || len(env.responder.questions) != 0 {
		t.Fatalf("filtered message got through: sent=%+v calls=%d",
			env.sender.sent, len(env.responder.questions))
	}
}

func TestPipeline_EmptyQuestionIgnored(t *testing.T) {
	env := newPipelineEnv(t, testPipelineConfig())

	env.pipeline.HandleEvent(context.Background(), mentionEvent(100, 1, "   "))

	if len(env.sender.sent) != 0 || len(env.responder.questions) != 0 {
		t.Fatalf("bare mention triggered the AI path: sent=%+v", env.sender.sent)
	}
}

func TestPipeline_UnknownCommandStaysSilent(t *testing.T) {
	env := newPipelineEnv(t, testPipelineConfig())

	env.pipeline.HandleEvent(context.Background(), commandEvent(100, 1, "member", "#bot frobnicate"))

	if len(env.sender.sent) != 0 {
		t.Fatalf("unknown command got a reply: %+v", env.sender.sent)
	}
}

func TestPipeline_GroupRateLimitOverride(t *testing.T) {
	cfg := testPipelineConfig()
	cfg.Groups = map[string]models.GroupSettings{
		"100": {RateLimit: 1},
	}
	env := newPipelineEnv(t, cfg)
	ctx := context.Background()

	env.pipeline.HandleEvent(ctx, mentionEvent(100, 1, "first question"))
	if len(env.responder.questions) != 1 {
		t.Fatalf("responder calls = %d, want 1", len(env.responder.questions))
	}

	env.pipeline.HandleEvent(ctx, mentionEvent(100, 2, "second question"))
	if len(env.responder.questions) != 1 {
		t.Fatalf("rate-limited trigger still reached the responder")
	}
	if len(env.sender.sent) != 2 {
		t.Fatalf("sent %d messages, want 2", len(env.sender.sent))
	}
	if !strings.Contains(env.sender.sent[1].text, "太频繁") {
		t.Fatalf("second reply = %q, want rate-limit notice", env.sender.sent[1].text)
	}
}

func TestPipeline_SuccessRecordsHistory(t *testing.T) {
	env := newPipelineEnv(t, testPipelineConfig())
	env.responder.answer = "**bold** reply"

	env.pipeline.HandleEvent(context.Background(), mentionEvent(100, 1, "what is up"))

	if len(env.sender.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(env.sender.sent))
	}
	// Outbound replies are flattened to plain text
	if env.sender.sent[0].text != "bold reply" {
		t.Fatalf("reply = %q, want %q", env.sender.sent[0].text, "bold reply")
	}

	turns := env.history.Recent("100", 10)
	if len(turns) != 2 {
		t.Fatalf("history has %d turns, want 2", len(turns))
	}
	if turns[0].Role != "user" || turns[0].Content != "what is up" {
		t.Fatalf("turns[0] = %+v, want the user question", turns[0])
	}
	// History keeps the raw answer, not the flattened form
	if turns[1].Role != "assistant" || turns[1].Content != "**bold** reply" {
		t.Fatalf("turns[1] = %+v, want the raw assistant answer", turns[1])
	}
}

func TestPipeline_AIToggleCommands(t *testing.T) {
	env := newPipelineEnv(t, testPipelineConfig())
	ctx := context.Background()

	// A plain member cannot toggle
	env.pipeline.HandleEvent(ctx, commandEvent(100, 1, "member", "#bot ai disable"))
	if len(env.sender.sent) != 1 || !strings.Contains(env.sender.sent[0].text, "只有群主") {
		t.Fatalf("sent = %+v, want permission-denied reply", env.sender.sent)
	}

	env.pipeline.HandleEvent(ctx, commandEvent(100, 2, "admin", "#bot ai disable"))
	if len(env.sender.sent) != 2 || !strings.Contains(env.sender.sent[1].text, "已关闭") {
		t.Fatalf("sent = %+v, want disable confirmation", env.sender.sent)
	}

	settings, err := env.storage.GetGroupSettings(ctx, "100")
	if err != nil {
		t.Fatalf("GetGroupSettings: %v", err)
	}
	if !settings.AIDisabled() {
		t.Fatalf("settings = %+v, want AI disabled", settings)
	}

	env.pipeline.HandleEvent(ctx, mentionEvent(100, 1, "hello"))
	if len(env.responder.questions) != 0 {
		t.Fatalf("disabled AI still answered a mention")
	}

	env.pipeline.HandleEvent(ctx, commandEvent(100, 2, "admin", "#bot ai enable"))
	if len(env.sender.sent) != 3 || !strings.Contains(env.sender.sent[2].text, "已开启") {
		t.Fatalf("sent = %+v, want enable confirmation", env.sender.sent)
	}

	env.pipeline.HandleEvent(ctx, mentionEvent(100, 1, "hello again"))
	if len(env.responder.questions) != 1 {
		t.Fatalf("re-enabled AI did not answer, calls = %d", len(env.responder.questions))
	}
}

func TestPipeline_ClearCommand(t *testing.T) {
	env := newPipelineEnv(t, testPipelineConfig())
	ctx := context.Background()

	env.history.Append("100", "user", "q")
	env.history.Append("100", "assistant", "a")

	env.pipeline.HandleEvent(ctx, commandEvent(100, 2, "owner", "#bot clear"))
	if len(env.sender.sent) != 1 || !strings.Contains(env.sender.sent[0].text, "已清空") {
		t.Fatalf("sent = %+v, want clear confirmation", env.sender.sent)
	}
	if got := env.history.Recent("100", 10); len(got) != 0 {
		t.Fatalf("history still has %d turns after clear", len(got))
	}
}
