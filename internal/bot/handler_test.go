package bot

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"dutybot/internal/config"
	"dutybot/internal/domain"
	"dutybot/internal/duty"
	"dutybot/internal/store"
	"dutybot/internal/toggle"
	"dutybot/internal/tracker"

	tgbot "github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
)

type fakeChatAPI struct {
	mu      sync.Mutex
	sent    []*tgbot.SendMessageParams
	edited  []*tgbot.EditMessageTextParams
	answers []*tgbot.AnswerCallbackQueryParams
}

func (f *fakeChatAPI) SendMessage(_ context.Context, params *tgbot.SendMessageParams) (*tgmodels.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, params)
	return &tgmodels.Message{ID: len(f.sent)}, nil
}

func (f *fakeChatAPI) EditMessageText(_ context.Context, params *tgbot.EditMessageTextParams) (*tgmodels.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edited = append(f.edited, params)
	return &tgmodels.Message{}, nil
}

func (f *fakeChatAPI) AnswerCallbackQuery(_ context.Context, params *tgbot.AnswerCallbackQueryParams) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers = append(f.answers, params)
	return true, nil
}

func (f *fakeChatAPI) lastText() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1].Text
}

type fakeBackend struct {
	mu           sync.Mutex
	problems     []domain.Problem
	unack        []domain.Problem
	acked        []domain.Problem
	err          error
	ackedEvents  []string
	ackedMessage []string
}

func (f *fakeBackend) Problems(context.Context, time.Duration, domain.Severity) ([]domain.Problem, error) {
	return f.problems, f.err
}

func (f *fakeBackend) UnacknowledgedProblems(context.Context, time.Duration, domain.Severity) ([]domain.Problem, error) {
	return f.unack, f.err
}

func (f *fakeBackend) AcknowledgedEvents(context.Context, time.Duration, domain.Severity) ([]domain.Problem, error) {
	return f.acked, f.err
}

func (f *fakeBackend) HostName(_ context.Context, hostID string) (string, error) {
	if hostID == "7" {
		return "DB primary", nil
	}
	return "", errors.New("unknown host")
}

func (f *fakeBackend) Acknowledge(_ context.Context, eventID, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.ackedEvents = append(f.ackedEvents, eventID)
	f.ackedMessage = append(f.ackedMessage, message)
	return nil
}

type fixture struct {
	handler     *Handler
	api         *fakeChatAPI
	backend     *fakeBackend
	coordinator *duty.Coordinator
	seen        *tracker.Tracker
	flag        *toggle.Realtime
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	api := &fakeChatAPI{}
	backend := &fakeBackend{}
	coordinator := duty.NewCoordinator(backend, logger)
	seen := tracker.New(5 * time.Minute)
	flag := toggle.NewRealtime(store.NewMemoryKV())

	handler := NewHandler(
		config.ServiceConfig{QueryWindowHours: 2, MinSeverity: 2},
		[]int64{100},
		api,
		backend,
		coordinator,
		flag,
		seen,
		logger,
	)
	return &fixture{handler: handler, api: api, backend: backend, coordinator: coordinator, seen: seen, flag: flag}
}

func messageUpdate(chatID int64, text string) *tgmodels.Update {
	return &tgmodels.Update{
		Message: &tgmodels.Message{
			Chat: tgmodels.Chat{ID: chatID},
			Text: text,
		},
	}
}

func TestAuthorizeReturnsSentinel(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	if err := fx.handler.authorize(100); err != nil {
		t.Fatalf("allow-listed chat rejected: %v", err)
	}
	if err := fx.handler.authorize(999); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestCommandsDenyUnknownChat(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.handler.onProblems(context.Background(), nil, messageUpdate(999, "/problems"))

	if got := fx.api.lastText(); !strings.Contains(got, "not authorized") {
		t.Fatalf("expected explicit denial, got %q", got)
	}
}

func TestFreeTextFromUnknownChatIsDropped(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.handler.OnFreeText(context.Background(), nil, messageUpdate(999, "hello"))

	if len(fx.api.sent) != 0 {
		t.Fatalf("expected silence, got %d messages", len(fx.api.sent))
	}
}

func TestSetDuty(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)

	fx.handler.onSetDuty(context.Background(), nil, messageUpdate(100, "/set_duty"))
	if got := fx.api.lastText(); !strings.Contains(got, "Usage") {
		t.Fatalf("expected usage hint, got %q", got)
	}

	fx.handler.onSetDuty(context.Background(), nil, messageUpdate(100, "/set_duty Smith"))
	if got := fx.api.lastText(); !strings.Contains(got, "Smith") {
		t.Fatalf("expected confirmation, got %q", got)
	}
	if fx.coordinator.DutyOfficer() != "Smith" {
		t.Fatalf("duty officer not set")
	}
}

func TestAcknowledgeCallbackRequiresDutyOfficer(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.handler.dispatchCallback(context.Background(), "cb1", 100, 7, "ack_101")

	if len(fx.backend.ackedEvents) != 0 {
		t.Fatalf("backend called without duty officer")
	}
	if len(fx.api.answers) != 1 || !strings.Contains(fx.api.answers[0].Text, "/set_duty") {
		t.Fatalf("expected duty hint answer, got %+v", fx.api.answers)
	}
}

func TestAcknowledgeCallback(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	if err := fx.coordinator.SetDutyOfficer("Smith"); err != nil {
		t.Fatalf("set officer: %v", err)
	}
	fx.seen.Classify([]domain.Problem{{EventID: "101", Severity: domain.SeverityWarning}}, time.Now())

	fx.handler.dispatchCallback(context.Background(), "cb1", 100, 7, "ack_101")

	if len(fx.backend.ackedEvents) != 1 || fx.backend.ackedEvents[0] != "101" {
		t.Fatalf("unexpected backend calls: %v", fx.backend.ackedEvents)
	}
	if fx.backend.ackedMessage[0] != "Acknowledged by duty officer Smith" {
		t.Fatalf("unexpected audit message: %q", fx.backend.ackedMessage[0])
	}
	if _, tracked := fx.seen.FirstSeen("101"); tracked {
		t.Fatalf("acknowledged event still tracked")
	}
	if len(fx.api.edited) != 1 || fx.api.edited[0].MessageID != 7 {
		t.Fatalf("expected in-place edit, got %+v", fx.api.edited)
	}
}

func TestCommentCallbackFlow(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	if err := fx.coordinator.SetDutyOfficer("Smith"); err != nil {
		t.Fatalf("set officer: %v", err)
	}

	fx.handler.dispatchCallback(context.Background(), "cb1", 100, 7, "ack_comment_101")
	if got := fx.api.lastText(); !strings.Contains(got, "comment") {
		t.Fatalf("expected comment prompt, got %q", got)
	}
	if len(fx.backend.ackedEvents) != 0 {
		t.Fatalf("backend called before comment text")
	}

	fx.handler.OnFreeText(context.Background(), nil, messageUpdate(100, "restarted the service"))

	if len(fx.backend.ackedEvents) != 1 || fx.backend.ackedEvents[0] != "101" {
		t.Fatalf("unexpected backend calls: %v", fx.backend.ackedEvents)
	}
	if fx.backend.ackedMessage[0] != "Duty officer Smith: restarted the service" {
		t.Fatalf("unexpected audit message: %q", fx.backend.ackedMessage[0])
	}
	if got := fx.api.lastText(); !strings.Contains(got, "acknowledged") {
		t.Fatalf("expected confirmation, got %q", got)
	}

	// A second free-text message has nothing pending and is dropped.
	before := len(fx.api.sent)
	fx.handler.OnFreeText(context.Background(), nil, messageUpdate(100, "anything else"))
	if len(fx.api.sent) != before {
		t.Fatalf("expected silence for plain text")
	}
}

func TestToggleRealtimeCallback(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	if err := fx.flag.Seed(context.Background()); err != nil {
		t.Fatalf("seed flag: %v", err)
	}

	fx.handler.dispatchCallback(context.Background(), "cb1", 100, 0, "toggle_realtime")
	if got := fx.api.lastText(); !strings.Contains(got, "disabled") {
		t.Fatalf("expected disabled notice, got %q", got)
	}

	enabled, err := fx.flag.Enabled(context.Background())
	if err != nil {
		t.Fatalf("read flag: %v", err)
	}
	if enabled {
		t.Fatalf("flag not flipped")
	}
}

func TestUnacknowledgedListing(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.backend.unack = []domain.Problem{
		{EventID: "101", Name: "Disk full", HostID: "7", Severity: domain.SeverityHigh},
		{EventID: "102", Name: "High load", Severity: domain.SeverityAverage},
	}

	fx.handler.sendUnacknowledged(context.Background(), 100)

	// Header plus one message per problem.
	if len(fx.api.sent) != 3 {
		t.Fatalf("unexpected message count: %d", len(fx.api.sent))
	}
	if !strings.Contains(fx.api.sent[1].Text, "DB primary") {
		t.Fatalf("host name not resolved: %q", fx.api.sent[1].Text)
	}
	markup, ok := fx.api.sent[1].ReplyMarkup.(*tgmodels.InlineKeyboardMarkup)
	if !ok || markup.InlineKeyboard[0][0].CallbackData != "ack_101" {
		t.Fatalf("expected ack keyboard, got %+v", fx.api.sent[1].ReplyMarkup)
	}
}

func TestBackendErrorAnswersRetryLater(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.backend.err = errors.New("connection refused")

	fx.handler.sendProblems(context.Background(), 100)
	if got := fx.api.lastText(); got != retryLaterReply {
		t.Fatalf("expected retry-later reply, got %q", got)
	}
}

func TestAcknowledgedListingIncludesComments(t *testing.T) {
	t.Parallel()

	fx := newFixture(t)
	fx.backend.acked = []domain.Problem{{
		EventID:      "101",
		Name:         "Disk full",
		Severity:     domain.SeverityHigh,
		Acknowledged: true,
		Comments: []domain.Comment{
			{Message: "Acknowledged by duty officer Smith", At: time.Date(2026, 8, 25, 9, 30, 0, 0, time.UTC)},
		},
	}}

	fx.handler.sendAcknowledged(context.Background(), 100)
	got := fx.api.lastText()
	if !strings.Contains(got, "Acknowledged by duty officer Smith") {
		t.Fatalf("comment missing: %q", got)
	}
	if !strings.Contains(got, "09:30:00 2026.08.25") {
		t.Fatalf("comment time missing: %q", got)
	}
}
