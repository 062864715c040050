// Package telegram adapts the Telegram bot API to the notification
// surface the settlement core depends on.
package telegram

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// Button is one inline-keyboard button; Data is the callback payload.
type Button struct {
	Text string
	Data string
}

// Notifier sends and edits group messages through the bot API
type Notifier struct {
	bot *tgbotapi.BotAPI
	log *zap.Logger
}

// NewNotifier creates a Notifier on an authorized bot handle
func NewNotifier(bot *tgbotapi.BotAPI, log *zap.Logger) *Notifier {
	return &Notifier{bot: bot, log: log.Named("telegram")}
}

// SendMessage sends a plain text message and returns its message id
func (n *Notifier) SendMessage(chatID int64, text string) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	sent, err := n.bot.Send(msg)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

// SendMessageWithButtons sends a message with an inline keyboard, one row
// per button row, and returns its message id
func (n *Notifier) SendMessageWithButtons(chatID int64, text string, buttons [][]Button) (int, error) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = keyboard(buttons)
	sent, err := n.bot.Send(msg)
	if err != nil {
		return 0, err
	}
	return sent.MessageID, nil
}

// EditMessageText replaces the text and keyboard of an existing message
func (n *Notifier) EditMessageText(chatID int64, messageID int, text string, buttons [][]Button) error {
	edit := tgbotapi.NewEditMessageTextAndMarkup(chatID, messageID, text, keyboard(buttons))
	_, err := n.bot.Send(edit)
	return err
}

// AnswerCallback acknowledges an inline-button press with a toast
func (n *Notifier) AnswerCallback(callbackID, text string) error {
	_, err := n.bot.Request(tgbotapi.NewCallback(callbackID, text))
	return err
}

func keyboard(buttons [][]Button) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, row := range buttons {
		btns := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, b := range row {
			btns = append(btns, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
		}
		rows = append(rows, btns)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}
