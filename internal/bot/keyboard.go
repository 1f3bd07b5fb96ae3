package bot

import tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

// InlineButton is a callback button, or a link button when URL is set
type InlineButton struct {
	Text string
	Data string
	URL  string
}

func BuildInlineKeyboard(rows [][]InlineButton) *tgbotapi.InlineKeyboardMarkup {
	if len(rows) == 0 {
		return nil
	}
	keyboardRows := make([][]tgbotapi.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(row))
		for _, button := range row {
			if button.URL != "" {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonURL(button.Text, button.URL))
				continue
			}
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(button.Text, button.Data))
		}
		keyboardRows = append(keyboardRows, buttons)
	}
	markup := tgbotapi.NewInlineKeyboardMarkup(keyboardRows...)
	return &markup
}

func backRow(text, data string) []InlineButton {
	return []InlineButton{{Text: text, Data: data}}
}
