package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"dutybot/internal/config"
	"dutybot/internal/domain"
	"dutybot/internal/duty"
	"dutybot/internal/notify"
	"dutybot/internal/templatefmt"
	"dutybot/internal/toggle"
	"dutybot/internal/tracker"

	tgbot "github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
)

const (
	retryLaterReply = "The monitoring backend is not responding, try again later."
	deniedReply     = "You are not authorized to use this bot."
)

// Backend is the read/resolve surface the chat handlers need.
type Backend interface {
	Problems(ctx context.Context, window time.Duration, minSeverity domain.Severity) ([]domain.Problem, error)
	UnacknowledgedProblems(ctx context.Context, window time.Duration, minSeverity domain.Severity) ([]domain.Problem, error)
	AcknowledgedEvents(ctx context.Context, window time.Duration, minSeverity domain.Severity) ([]domain.Problem, error)
	HostName(ctx context.Context, hostID string) (string, error)
}

// chatAPI is the Telegram surface the handlers call back into.
// *tgbot.Bot satisfies it.
type chatAPI interface {
	notify.Messenger
	AnswerCallbackQuery(ctx context.Context, params *tgbot.AnswerCallbackQueryParams) (bool, error)
}

// Handler wires chat commands and callbacks to the coordination core.
// Params: allow-list, query window, and the collaborating components.
// Returns: the interactive surface of the service.
type Handler struct {
	api         chatAPI
	backend     Backend
	coordinator *duty.Coordinator
	flag        *toggle.Realtime
	seen        *tracker.Tracker
	window      time.Duration
	minSeverity domain.Severity
	allowed     map[int64]struct{}
	logger      *slog.Logger
}

// NewHandler creates the chat handler.
// Params: service settings, allow-list, chat transport, and collaborators.
// Returns: handler ready to register on a bot.
func NewHandler(
	svc config.ServiceConfig,
	adminIDs []int64,
	api chatAPI,
	backend Backend,
	coordinator *duty.Coordinator,
	flag *toggle.Realtime,
	seen *tracker.Tracker,
	logger *slog.Logger,
) *Handler {
	allowed := make(map[int64]struct{}, len(adminIDs))
	for _, id := range adminIDs {
		allowed[id] = struct{}{}
	}
	return &Handler{
		api:         api,
		backend:     backend,
		coordinator: coordinator,
		flag:        flag,
		seen:        seen,
		window:      time.Duration(svc.QueryWindowHours) * time.Hour,
		minSeverity: domain.Severity(svc.MinSeverity),
		allowed:     allowed,
		logger:      logger,
	}
}

// Register attaches command and callback handlers to the bot.
// Params: b is the constructed bot.
// Returns: nothing.
func (h *Handler) Register(b *tgbot.Bot) {
	b.RegisterHandler(tgbot.HandlerTypeMessageText, "/start", tgbot.MatchTypeExact, h.onStart)
	b.RegisterHandler(tgbot.HandlerTypeMessageText, "/problems", tgbot.MatchTypeExact, h.onProblems)
	b.RegisterHandler(tgbot.HandlerTypeMessageText, "/unacknowledged", tgbot.MatchTypeExact, h.onUnacknowledged)
	b.RegisterHandler(tgbot.HandlerTypeMessageText, "/acknowledged", tgbot.MatchTypeExact, h.onAcknowledged)
	b.RegisterHandler(tgbot.HandlerTypeMessageText, "/set_duty", tgbot.MatchTypePrefix, h.onSetDuty)
	// One prefix handler for every callback; ack_ is a prefix of
	// ack_comment_, so dispatch happens inside.
	b.RegisterHandler(tgbot.HandlerTypeCallbackQueryData, "", tgbot.MatchTypePrefix, h.onCallback)
}

// authorize checks the chat against the allow-list.
// Params: chatID of the inbound update.
// Returns: domain.ErrUnauthorized for chats outside the list.
func (h *Handler) authorize(chatID int64) error {
	if _, ok := h.allowed[chatID]; !ok {
		return domain.ErrUnauthorized
	}
	return nil
}

func (h *Handler) reply(ctx context.Context, chatID int64, text string) {
	_, err := h.api.SendMessage(ctx, &tgbot.SendMessageParams{ChatID: chatID, Text: text})
	if err != nil {
		h.logger.Error("send reply", "chat_id", chatID, "error", err)
	}
}

func (h *Handler) onStart(ctx context.Context, _ *tgbot.Bot, update *tgmodels.Update) {
	chatID := update.Message.Chat.ID
	if err := h.authorize(chatID); err != nil {
		h.reply(ctx, chatID, deniedReply)
		return
	}
	_, err := h.api.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: chatID,
		Text: "Monitoring duty bot.\n\n" +
			"/problems - active problems\n" +
			"/unacknowledged - unacknowledged problems\n" +
			"/acknowledged - acknowledged problems\n" +
			"/set_duty <name> - set the duty officer",
		ReplyMarkup: notify.MenuKeyboard(),
	})
	if err != nil {
		h.logger.Error("send menu", "chat_id", chatID, "error", err)
	}
}

func (h *Handler) onProblems(ctx context.Context, _ *tgbot.Bot, update *tgmodels.Update) {
	chatID := update.Message.Chat.ID
	if err := h.authorize(chatID); err != nil {
		h.reply(ctx, chatID, deniedReply)
		return
	}
	h.sendProblems(ctx, chatID)
}

func (h *Handler) onUnacknowledged(ctx context.Context, _ *tgbot.Bot, update *tgmodels.Update) {
	chatID := update.Message.Chat.ID
	if err := h.authorize(chatID); err != nil {
		h.reply(ctx, chatID, deniedReply)
		return
	}
	h.sendUnacknowledged(ctx, chatID)
}

func (h *Handler) onAcknowledged(ctx context.Context, _ *tgbot.Bot, update *tgmodels.Update) {
	chatID := update.Message.Chat.ID
	if err := h.authorize(chatID); err != nil {
		h.reply(ctx, chatID, deniedReply)
		return
	}
	h.sendAcknowledged(ctx, chatID)
}

func (h *Handler) onSetDuty(ctx context.Context, _ *tgbot.Bot, update *tgmodels.Update) {
	chatID := update.Message.Chat.ID
	if err := h.authorize(chatID); err != nil {
		h.reply(ctx, chatID, deniedReply)
		return
	}
	name := strings.TrimSpace(strings.TrimPrefix(update.Message.Text, "/set_duty"))
	h.setDuty(ctx, chatID, name)
}

// setDuty applies a duty-officer change request.
// Params: chat id and requested name, possibly empty.
// Returns: nothing; the outcome is reported into the chat.
func (h *Handler) setDuty(ctx context.Context, chatID int64, name string) {
	if name == "" {
		current := h.coordinator.DutyOfficer()
		if current == "" {
			h.reply(ctx, chatID, "Duty officer is not set. Usage: /set_duty <name>")
			return
		}
		h.reply(ctx, chatID, fmt.Sprintf("Duty officer: %s\nUsage: /set_duty <name>", current))
		return
	}
	if err := h.coordinator.SetDutyOfficer(name); err != nil {
		h.reply(ctx, chatID, "Usage: /set_duty <name>")
		return
	}
	h.reply(ctx, chatID, fmt.Sprintf("Duty officer set: %s", name))
}

// OnFreeText is the bot's default handler; free text either completes a
// pending comment or is silently dropped.
// Params: standard go-telegram/bot handler arguments.
// Returns: nothing.
func (h *Handler) OnFreeText(ctx context.Context, _ *tgbot.Bot, update *tgmodels.Update) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}
	chatID := update.Message.Chat.ID
	if h.authorize(chatID) != nil {
		return
	}
	h.completeComment(ctx, chatID, update.Message.Text)
}

// completeComment finishes a pending comment acknowledgment.
// Params: chat id and the free text.
// Returns: nothing; text without pending state is dropped silently.
func (h *Handler) completeComment(ctx context.Context, chatID int64, text string) {
	eventID, err := h.coordinator.CompleteComment(ctx, chatID, strings.TrimSpace(text))
	if err != nil {
		if errors.Is(err, domain.ErrNoPendingComment) {
			return
		}
		h.logger.Error("complete comment", "chat_id", chatID, "event_id", eventID, "error", err)
		h.reply(ctx, chatID, retryLaterReply)
		return
	}
	h.seen.Forget(eventID)
	h.reply(ctx, chatID, fmt.Sprintf("✅ Problem %s acknowledged with comment.", eventID))
}

func (h *Handler) onCallback(ctx context.Context, _ *tgbot.Bot, update *tgmodels.Update) {
	cb := update.CallbackQuery
	if cb == nil {
		return
	}
	chatID := cb.From.ID
	messageID := 0
	if cb.Message.Message != nil {
		chatID = cb.Message.Message.Chat.ID
		messageID = cb.Message.Message.ID
	}

	if err := h.authorize(chatID); err != nil {
		h.answer(ctx, cb.ID, deniedReply)
		return
	}

	h.dispatchCallback(ctx, cb.ID, chatID, messageID, cb.Data)
}

// dispatchCallback routes one callback by its data payload.
// Params: callback id, chat, source message id, and payload.
// Returns: nothing; every path answers the callback.
func (h *Handler) dispatchCallback(ctx context.Context, callbackID string, chatID int64, messageID int, data string) {
	switch {
	case strings.HasPrefix(data, notify.CallbackAckCommentPrefix):
		h.beginComment(ctx, callbackID, chatID, strings.TrimPrefix(data, notify.CallbackAckCommentPrefix))
	case strings.HasPrefix(data, notify.CallbackAckPrefix):
		h.acknowledge(ctx, callbackID, chatID, messageID, strings.TrimPrefix(data, notify.CallbackAckPrefix))
	case data == notify.CallbackToggleRealtime:
		h.toggleRealtime(ctx, callbackID, chatID)
	case data == notify.CallbackProblems:
		h.answer(ctx, callbackID, "")
		h.sendProblems(ctx, chatID)
	case data == notify.CallbackUnacknowledged:
		h.answer(ctx, callbackID, "")
		h.sendUnacknowledged(ctx, chatID)
	case data == notify.CallbackAcknowledged:
		h.answer(ctx, callbackID, "")
		h.sendAcknowledged(ctx, chatID)
	case data == notify.CallbackSetDuty:
		h.answer(ctx, callbackID, "")
		h.setDuty(ctx, chatID, "")
	default:
		h.answer(ctx, callbackID, "")
	}
}

// acknowledge handles the plain acknowledge button.
// Params: callback id, chat, source message id, and event id.
// Returns: nothing.
func (h *Handler) acknowledge(ctx context.Context, callbackID string, chatID int64, messageID int, eventID string) {
	officer := h.coordinator.DutyOfficer()
	if err := h.coordinator.Acknowledge(ctx, eventID, ""); err != nil {
		if errors.Is(err, domain.ErrDutyNotSet) {
			h.answer(ctx, callbackID, "Set the duty officer first: /set_duty <name>")
			return
		}
		h.logger.Error("acknowledge via button", "event_id", eventID, "error", err)
		h.answer(ctx, callbackID, retryLaterReply)
		return
	}

	h.seen.Forget(eventID)
	h.answer(ctx, callbackID, "Acknowledged")
	if messageID != 0 {
		_, err := h.api.EditMessageText(ctx, &tgbot.EditMessageTextParams{
			ChatID:    chatID,
			MessageID: messageID,
			Text:      fmt.Sprintf("✅ Problem %s acknowledged by duty officer %s.", eventID, officer),
		})
		if err != nil {
			h.logger.Warn("edit acknowledged message", "event_id", eventID, "error", err)
		}
	}
}

// beginComment handles the acknowledge-with-comment button.
// Params: callback id, chat, and event id.
// Returns: nothing.
func (h *Handler) beginComment(ctx context.Context, callbackID string, chatID int64, eventID string) {
	if h.coordinator.DutyOfficer() == "" {
		h.answer(ctx, callbackID, "Set the duty officer first: /set_duty <name>")
		return
	}
	h.coordinator.BeginComment(chatID, eventID)
	h.answer(ctx, callbackID, "")
	h.reply(ctx, chatID, fmt.Sprintf("Send the comment for problem %s as a plain message.", eventID))
}

// toggleRealtime handles the realtime flag button.
// Params: callback id and chat.
// Returns: nothing.
func (h *Handler) toggleRealtime(ctx context.Context, callbackID string, chatID int64) {
	enabled, err := h.flag.Toggle(ctx)
	if err != nil {
		h.logger.Error("toggle realtime", "error", err)
		h.answer(ctx, callbackID, retryLaterReply)
		return
	}
	h.answer(ctx, callbackID, "")
	if enabled {
		h.reply(ctx, chatID, "🔔 Realtime notifications enabled.")
		return
	}
	h.reply(ctx, chatID, "🔕 Realtime notifications disabled.")
}

func (h *Handler) answer(ctx context.Context, callbackID, text string) {
	_, err := h.api.AnswerCallbackQuery(ctx, &tgbot.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
		Text:            text,
	})
	if err != nil {
		h.logger.Warn("answer callback", "error", err)
	}
}

// sendProblems reports recent problems regardless of acknowledgment.
// Params: destination chat.
// Returns: nothing.
func (h *Handler) sendProblems(ctx context.Context, chatID int64) {
	problems, err := h.backend.Problems(ctx, h.window, h.minSeverity)
	if err != nil {
		h.logger.Error("fetch problems", "error", err)
		h.reply(ctx, chatID, retryLaterReply)
		return
	}
	if len(problems) == 0 {
		h.reply(ctx, chatID, "No active problems. 🎉")
		return
	}
	h.reply(ctx, chatID, h.formatProblemList(ctx, "🔥 Active problems:", problems))
}

// sendUnacknowledged reports unacknowledged problems, one message per
// problem with acknowledgment controls.
// Params: destination chat.
// Returns: nothing.
func (h *Handler) sendUnacknowledged(ctx context.Context, chatID int64) {
	problems, err := h.backend.UnacknowledgedProblems(ctx, h.window, h.minSeverity)
	if err != nil {
		h.logger.Error("fetch unacknowledged", "error", err)
		h.reply(ctx, chatID, retryLaterReply)
		return
	}
	if len(problems) == 0 {
		h.reply(ctx, chatID, "No unacknowledged problems. 🎉")
		return
	}

	h.reply(ctx, chatID, fmt.Sprintf("⚠️ Unacknowledged problems: %d", len(problems)))
	for _, problem := range problems {
		_, err := h.api.SendMessage(ctx, &tgbot.SendMessageParams{
			ChatID:      chatID,
			Text:        h.formatProblem(ctx, problem),
			ReplyMarkup: notify.AckKeyboard(problem.EventID),
		})
		if err != nil {
			h.logger.Error("send unacknowledged problem", "event_id", problem.EventID, "error", err)
		}
	}
}

// sendAcknowledged reports acknowledged problems with their audit trails.
// Params: destination chat.
// Returns: nothing.
func (h *Handler) sendAcknowledged(ctx context.Context, chatID int64) {
	events, err := h.backend.AcknowledgedEvents(ctx, h.window, h.minSeverity)
	if err != nil {
		h.logger.Error("fetch acknowledged", "error", err)
		h.reply(ctx, chatID, retryLaterReply)
		return
	}
	if len(events) == 0 {
		h.reply(ctx, chatID, "No acknowledged problems in the window.")
		return
	}

	var out strings.Builder
	out.WriteString("✅ Acknowledged problems:\n")
	for _, event := range events {
		out.WriteString("\n")
		out.WriteString(h.formatProblem(ctx, event))
		for _, comment := range event.Comments {
			fmt.Fprintf(&out, "  💬 %s (%s)\n", comment.Message, templatefmt.FormatTime(comment.At))
		}
	}
	h.reply(ctx, chatID, out.String())
}

// formatProblemList renders a compact multi-problem report.
// Params: header line and problems in backend order.
// Returns: one message body.
func (h *Handler) formatProblemList(ctx context.Context, header string, problems []domain.Problem) string {
	var out strings.Builder
	out.WriteString(header)
	out.WriteString("\n")
	for _, problem := range problems {
		out.WriteString("\n")
		out.WriteString(h.formatProblem(ctx, problem))
	}
	return out.String()
}

// formatProblem renders one problem block.
// Params: problem snapshot.
// Returns: display block with host, description, severity, and time.
func (h *Handler) formatProblem(ctx context.Context, problem domain.Problem) string {
	host := problem.HostID
	if problem.HostID != "" {
		if name, err := h.backend.HostName(ctx, problem.HostID); err == nil {
			host = name
		} else {
			h.logger.Warn("resolve host", "host_id", problem.HostID, "error", err)
		}
	}

	var out strings.Builder
	fmt.Fprintf(&out, "%s\n", problem.Severity.Name())
	if host != "" {
		fmt.Fprintf(&out, "Host: %s\n", host)
	}
	fmt.Fprintf(&out, "Problem: %s\n", problem.Name)
	fmt.Fprintf(&out, "Time: %s\n", templatefmt.FormatTime(problem.OccurredAt))
	return out.String()
}
