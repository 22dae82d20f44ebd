// Package telegram hosts the Telegram client and turns updates into dispatch
// events.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"tg_member_gate_bot/internal/config"
	"tg_member_gate_bot/internal/dispatch"
	"tg_member_gate_bot/internal/domain"
	"tg_member_gate_bot/internal/logging"
	"tg_member_gate_bot/internal/metrics"
)

// WebhookPath is where the HTTP server mounts WebhookHandler.
const WebhookPath = "/telegram/webhook"

type botAPI interface {
	Start(ctx context.Context)
	StartWebhook(ctx context.Context)
	WebhookHandler() http.HandlerFunc
	SetWebhook(ctx context.Context, params *bot.SetWebhookParams) (bool, error)
	DeleteWebhook(ctx context.Context, params *bot.DeleteWebhookParams) (bool, error)
	SetMyCommands(ctx context.Context, params *bot.SetMyCommandsParams) (bool, error)
	GetChatMember(ctx context.Context, params *bot.GetChatMemberParams) (*models.ChatMember, error)
	messenger
}

type messenger interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	EditMessageText(ctx context.Context, params *bot.EditMessageTextParams) (*models.Message, error)
	DeleteMessage(ctx context.Context, params *bot.DeleteMessageParams) (bool, error)
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
}

// EventHandler consumes dispatch events.
type EventHandler interface {
	Handle(ctx context.Context, ev dispatch.Event, out dispatch.Responder)
}

var (
	defaultAllowedUpdates = bot.AllowedUpdates{
		"message",
		"callback_query",
	}

	botCommands = []models.BotCommand{
		{Command: "start", Description: "Check membership and open the menu"},
		{Command: "help", Description: "How to use the bot"},
	}

	createBot = func(token string, options ...bot.Option) (botAPI, error) {
		return bot.New(token, options...)
	}
)

// Client wraps the Telegram bot instance and logging dependencies.
type Client struct {
	api           botAPI
	logger        *logrus.Entry
	handler       EventHandler
	webhookURL    string
	webhookSecret string
}

// NewClient initializes the Telegram bot. Updates are dropped until
// SetHandler is called.
func NewClient(cfg config.Config, logger *logrus.Entry) (*Client, error) {
	if strings.TrimSpace(cfg.TelegramToken) == "" {
		return nil, errors.New("telegram token is required")
	}
	if logger == nil {
		logger = logging.Logger()
	}

	client := &Client{
		logger:        logger,
		webhookURL:    strings.TrimRight(cfg.WebhookURL, "/"),
		webhookSecret: cfg.WebhookSecret,
	}

	options := []bot.Option{
		bot.WithAllowedUpdates(defaultAllowedUpdates),
		bot.WithDefaultHandler(client.handleUpdate),
		bot.WithErrorsHandler(errorHandler(logger)),
	}
	if client.webhookSecret != "" {
		options = append(options, bot.WithWebhookSecretToken(client.webhookSecret))
	}

	tgBot, err := createBot(cfg.TelegramToken, options...)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot client: %w", err)
	}
	client.api = tgBot

	return client, nil
}

// SetHandler installs the event handler. Call it before Start.
func (c *Client) SetHandler(handler EventHandler) {
	c.handler = handler
}

// GetChatMember queries a user's status in a chat.
func (c *Client) GetChatMember(ctx context.Context, params *bot.GetChatMemberParams) (*models.ChatMember, error) {
	return c.api.GetChatMember(ctx, params)
}

// WebhookMode reports whether Start registers a webhook instead of polling.
func (c *Client) WebhookMode() bool {
	return c.webhookURL != ""
}

// WebhookHandler serves webhook deliveries. It is only fed in webhook mode.
func (c *Client) WebhookHandler() http.Handler {
	return c.api.WebhookHandler()
}

// Start receives updates until the context is canceled, through a webhook
// when a webhook URL is configured and long polling otherwise.
func (c *Client) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := c.api.SetMyCommands(ctx, &bot.SetMyCommandsParams{Commands: botCommands}); err != nil {
		c.logger.WithField("event", "telegram_commands_error").WithError(err).Warn("failed to register bot commands")
	}

	if c.WebhookMode() {
		url := c.webhookURL + WebhookPath
		if _, err := c.api.SetWebhook(ctx, &bot.SetWebhookParams{
			URL:            url,
			SecretToken:    c.webhookSecret,
			AllowedUpdates: defaultAllowedUpdates,
		}); err != nil {
			return fmt.Errorf("set telegram webhook: %w", err)
		}

		c.logger.WithFields(logging.Fields{
			"event":           "telegram_listen",
			"mode":            "webhook",
			"webhook_path":    WebhookPath,
			"allowed_updates": defaultAllowedUpdates,
		}).Info("starting telegram webhook processing")

		c.api.StartWebhook(ctx)
	} else {
		if _, err := c.api.DeleteWebhook(ctx, &bot.DeleteWebhookParams{}); err != nil {
			c.logger.WithField("event", "telegram_webhook_delete_error").WithError(err).Warn("failed to delete webhook before polling")
		}

		c.logger.WithFields(logging.Fields{
			"event":           "telegram_listen",
			"mode":            "polling",
			"allowed_updates": defaultAllowedUpdates,
		}).Info("starting telegram long polling")

		c.api.Start(ctx)
	}

	c.logger.WithField("event", "telegram_stopped").Info("telegram update processing stopped")
	return nil
}

func (c *Client) handleUpdate(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			metrics.IncHandlerError("panic")
			c.logger.WithFields(logging.Fields{
				"event":     "telegram_handler_panic",
				"update_id": update.ID,
				"panic":     fmt.Sprint(r),
			}).Error("recovered from panic while handling update")
		}
	}()

	ev, ok := toEvent(update)

	fields := logging.Fields{
		"event":     "telegram_update",
		"update_id": update.ID,
		"routed":    ok,
	}
	if ok {
		fields["kind"] = ev.Kind
		fields["user_id"] = ev.Identity.UserID
		fields["chat_id"] = ev.ChatID
	}
	c.logger.WithFields(fields).Debug("telegram update received")

	if !ok {
		return
	}
	if c.handler == nil {
		c.logger.WithField("event", "telegram_no_handler").Warn("dropping update, no handler installed")
		return
	}

	c.handler.Handle(ctx, ev, &chatResponder{api: c.api, chatID: ev.ChatID})
}

// toEvent keeps private text messages, commands and callback queries.
func toEvent(update *models.Update) (dispatch.Event, bool) {
	switch {
	case update.Message != nil:
		msg := update.Message
		if msg.From == nil || strings.TrimSpace(msg.Text) == "" {
			return dispatch.Event{}, false
		}

		ev := dispatch.Event{
			Identity: identity(msg.From),
			ChatID:   msg.Chat.ID,
			Text:     strings.TrimSpace(msg.Text),
		}
		if name, ok := dispatch.ParseCommand(msg.Text); ok {
			ev.Kind = dispatch.KindCommand
			ev.Command = name
			return ev, true
		}
		if msg.Chat.Type != models.ChatTypePrivate {
			return dispatch.Event{}, false
		}
		ev.Kind = dispatch.KindText
		return ev, true

	case update.CallbackQuery != nil:
		query := update.CallbackQuery
		chatID, messageID := messageRef(query.Message)
		if chatID == 0 {
			chatID = query.From.ID
		}

		return dispatch.Event{
			Kind:       dispatch.KindCallback,
			Identity:   identity(&query.From),
			ChatID:     chatID,
			MessageID:  messageID,
			CallbackID: query.ID,
			Data:       strings.TrimSpace(query.Data),
		}, true

	default:
		return dispatch.Event{}, false
	}
}

func identity(user *models.User) domain.Identity {
	if user == nil {
		return domain.Identity{}
	}

	return domain.Identity{
		UserID:    user.ID,
		Username:  user.Username,
		FirstName: user.FirstName,
		LastName:  user.LastName,
	}
}

// messageRef returns the chat and, when still editable, the message a
// callback button belongs to.
func messageRef(msg models.MaybeInaccessibleMessage) (int64, int) {
	switch msg.Type {
	case models.MaybeInaccessibleMessageTypeMessage:
		if msg.Message == nil {
			return 0, 0
		}
		return msg.Message.Chat.ID, msg.Message.ID
	case models.MaybeInaccessibleMessageTypeInaccessibleMessage:
		if msg.InaccessibleMessage == nil {
			return 0, 0
		}
		return msg.InaccessibleMessage.Chat.ID, 0
	default:
		return 0, 0
	}
}

func errorHandler(logger *logrus.Entry) bot.ErrorsHandler {
	if logger == nil {
		logger = logging.Logger()
	}

	return func(err error) {
		if err == nil {
			return
		}

		logger.WithField("event", "telegram_error").WithError(err).Error("telegram polling error")
	}
}
