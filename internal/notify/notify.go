package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"dutybot/internal/clock"
	"dutybot/internal/config"
	"dutybot/internal/domain"
	"dutybot/internal/templatefmt"

	tgbot "github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
)

// Callback data exchanged between the inline keyboards and the chat
// handlers.
const (
	CallbackAckPrefix        = "ack_"
	CallbackAckCommentPrefix = "ack_comment_"
	CallbackToggleRealtime   = "toggle_realtime"
	CallbackProblems         = "problems"
	CallbackUnacknowledged   = "unacknowledged"
	CallbackAcknowledged     = "acknowledged"
	CallbackSetDuty          = "set_duty"
)

// Messenger is the outbound Telegram surface the dispatcher needs.
// *tgbot.Bot satisfies it.
type Messenger interface {
	SendMessage(ctx context.Context, params *tgbot.SendMessageParams) (*tgmodels.Message, error)
	EditMessageText(ctx context.Context, params *tgbot.EditMessageTextParams) (*tgmodels.Message, error)
}

// templateData is the rendering context for notification bodies.
// Params: resolved display fields of one problem.
// Returns: fields addressable from configured templates.
type templateData struct {
	Host       string
	Name       string
	Severity   string
	OccurredAt time.Time
	Age        time.Duration
}

// Dispatcher formats and delivers per-event Telegram notifications.
// Params: messenger transport, recipient list, and compiled templates.
// Returns: outbound notification surface for the polling scheduler.
type Dispatcher struct {
	messenger    Messenger
	recipients   []int64
	newTmpl      *template.Template
	reminderTmpl *template.Template
	clk          clock.Clock
	logger       *slog.Logger
}

// NewDispatcher compiles templates and builds the dispatcher.
// Params: telegram settings, messenger transport, clock, and logger.
// Returns: dispatcher or template compile error.
func NewDispatcher(cfg config.TelegramConfig, messenger Messenger, clk clock.Clock, logger *slog.Logger) (*Dispatcher, error) {
	newTmpl, err := templatefmt.ParseNotificationTemplate("new_event", cfg.NewTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse new-event template: %w", err)
	}
	reminderTmpl, err := templatefmt.ParseNotificationTemplate("reminder", cfg.ReminderTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse reminder template: %w", err)
	}
	return &Dispatcher{
		messenger:    messenger,
		recipients:   cfg.AdminIDs,
		newTmpl:      newTmpl,
		reminderTmpl: reminderTmpl,
		clk:          clk,
		logger:       logger,
	}, nil
}

// NotifyNew announces a newly seen problem to every recipient.
// Params: problem snapshot and resolved host display name.
// Returns: nothing; per-recipient failures are logged, never raised.
func (d *Dispatcher) NotifyNew(ctx context.Context, problem domain.Problem, host string) {
	d.dispatch(ctx, d.newTmpl, problem, host)
}

// NotifyReminder re-announces a problem still unacknowledged after the
// reminder interval.
// Params: problem snapshot and resolved host display name.
// Returns: nothing; per-recipient failures are logged, never raised.
func (d *Dispatcher) NotifyReminder(ctx context.Context, problem domain.Problem, host string) {
	d.dispatch(ctx, d.reminderTmpl, problem, host)
}

// dispatch renders one body and sends it to each recipient independently.
// Params: compiled template, problem, and host name.
// Returns: nothing; a failed recipient does not stop the rest.
func (d *Dispatcher) dispatch(ctx context.Context, tmpl *template.Template, problem domain.Problem, host string) {
	body, err := renderBody(tmpl, problem, host, d.clk.Now())
	if err != nil {
		d.logger.Error("render notification", "event_id", problem.EventID, "error", err)
		return
	}

	keyboard := AckKeyboard(problem.EventID)
	for _, chatID := range d.recipients {
		_, err := d.messenger.SendMessage(ctx, &tgbot.SendMessageParams{
			ChatID:      chatID,
			Text:        body,
			ReplyMarkup: keyboard,
		})
		if err != nil {
			d.logger.Error("send notification", "event_id", problem.EventID, "chat_id", chatID, "error", err)
			continue
		}
	}
}

// renderBody executes one notification template.
// Params: template, problem, host name, and rendering instant.
// Returns: rendered text or execute error.
func renderBody(tmpl *template.Template, problem domain.Problem, host string, now time.Time) (string, error) {
	var out strings.Builder
	err := tmpl.Execute(&out, templateData{
		Host:       host,
		Name:       problem.Name,
		Severity:   problem.Severity.Name(),
		OccurredAt: problem.OccurredAt,
		Age:        now.Sub(problem.OccurredAt),
	})
	if err != nil {
		return "", err
	}
	return out.String(), nil
}

// MarkAcknowledged rewrites a notification in place after its button was
// used, dropping the keyboard. Presentation only.
// Params: chat id, message id, and replacement text.
// Returns: nothing; an edit failure is logged, the acknowledgment stands.
func (d *Dispatcher) MarkAcknowledged(ctx context.Context, chatID int64, messageID int, text string) {
	_, err := d.messenger.EditMessageText(ctx, &tgbot.EditMessageTextParams{
		ChatID:    chatID,
		MessageID: messageID,
		Text:      text,
	})
	if err != nil {
		d.logger.Warn("edit acknowledged message", "chat_id", chatID, "message_id", messageID, "error", err)
	}
}

// AckKeyboard builds the per-event acknowledgment controls.
// Params: eventID bound into the callback data.
// Returns: inline keyboard with acknowledge and comment buttons.
func AckKeyboard(eventID string) *tgmodels.InlineKeyboardMarkup {
	return &tgmodels.InlineKeyboardMarkup{
		InlineKeyboard: [][]tgmodels.InlineKeyboardButton{
			{
				{Text: "✅ Acknowledge", CallbackData: CallbackAckPrefix + eventID},
			},
			{
				{Text: "💬 Acknowledge with comment", CallbackData: CallbackAckCommentPrefix + eventID},
			},
		},
	}
}

// MenuKeyboard builds the /start menu shortcuts.
// Params: none.
// Returns: inline keyboard mirroring the chat commands.
func MenuKeyboard() *tgmodels.InlineKeyboardMarkup {
	return &tgmodels.InlineKeyboardMarkup{
		InlineKeyboard: [][]tgmodels.InlineKeyboardButton{
			{
				{Text: "🔥 Problems", CallbackData: CallbackProblems},
				{Text: "⚠️ Unacknowledged", CallbackData: CallbackUnacknowledged},
			},
			{
				{Text: "✅ Acknowledged", CallbackData: CallbackAcknowledged},
				{Text: "👤 Duty officer", CallbackData: CallbackSetDuty},
			},
			{
				{Text: "🔔 Toggle realtime", CallbackData: CallbackToggleRealtime},
			},
		},
	}
}
