package notify

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

type botSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// OpsAlerter posts operational alerts (settlement runs, failed jobs) to a Telegram chat.
type OpsAlerter struct {
	bot    botSender
	chatID int64
}

func NewOpsAlerter(botToken string, chatID int64) (*OpsAlerter, error) {
	if botToken == "" || chatID == 0 {
		return &OpsAlerter{}, nil
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	bot.Debug = false

	return &OpsAlerter{bot: bot, chatID: chatID}, nil
}

func (a *OpsAlerter) Alert(text string) error {
	if a.bot == nil {
		return nil
	}
	msg := tgbotapi.NewMessage(a.chatID, text)
	msg.DisableWebPagePreview = true
	if _, err := a.bot.Send(msg); err != nil {
		return fmt.Errorf("send telegram alert: %w", err)
	}
	return nil
}
