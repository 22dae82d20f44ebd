package telegram

import (
	"context"
	"errors"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"tg_member_gate_bot/internal/render"
)

// chatResponder answers in the chat an update came from.
type chatResponder struct {
	api    messenger
	chatID int64
}

func (r *chatResponder) Send(ctx context.Context, reply render.Reply) (int, error) {
	msg, err := r.api.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      r.chatID,
		Text:        reply.Text,
		ParseMode:   models.ParseModeHTML,
		ReplyMarkup: keyboardMarkup(reply.Keyboard),
	})
	if err != nil {
		return 0, err
	}
	if msg == nil {
		return 0, errors.New("send message returned no message")
	}

	return msg.ID, nil
}

func (r *chatResponder) Edit(ctx context.Context, messageID int, reply render.Reply) error {
	_, err := r.api.EditMessageText(ctx, &bot.EditMessageTextParams{
		ChatID:      r.chatID,
		MessageID:   messageID,
		Text:        reply.Text,
		ParseMode:   models.ParseModeHTML,
		ReplyMarkup: keyboardMarkup(reply.Keyboard),
	})
	return err
}

func (r *chatResponder) Delete(ctx context.Context, messageID int) error {
	_, err := r.api.DeleteMessage(ctx, &bot.DeleteMessageParams{
		ChatID:    r.chatID,
		MessageID: messageID,
	})
	return err
}

func (r *chatResponder) Acknowledge(ctx context.Context, callbackID string) error {
	_, err := r.api.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: callbackID,
	})
	return err
}

// keyboardMarkup returns nil for an empty keyboard so no markup is sent.
func keyboardMarkup(rows [][]render.Button) models.ReplyMarkup {
	if len(rows) == 0 {
		return nil
	}

	keyboard := make([][]models.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]models.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			buttons = append(buttons, models.InlineKeyboardButton{
				Text:         b.Text,
				URL:          b.URL,
				CallbackData: b.Data,
			})
		}
		keyboard = append(keyboard, buttons)
	}

	return &models.InlineKeyboardMarkup{InlineKeyboard: keyboard}
}
