package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

// DefaultTelegramAPI is the Bot API base URL
const DefaultTelegramAPI = "https://api.telegram.org"

// TelegramSettings configures the Telegram transport
type TelegramSettings struct {
	APIURL string
	Token  string
	ChatID string
}

// Telegram sends alerts through the Bot API sendMessage method
type Telegram struct {
	url    string
	chatID string
	poster poster
}

type sendMessage struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

// NewTelegram creates a Telegram notifier
func NewTelegram(s TelegramSettings, client *http.Client) *Telegram {
	api := s.APIURL
	if api == "" {
		api = DefaultTelegramAPI
	}
	return &Telegram{
		url:    strings.TrimRight(api, "/") + "/bot" + s.Token + "/sendMessage",
		chatID: s.ChatID,
		poster: newPoster(client),
	}
}

func (t *Telegram) Name() string {
	return "telegram"
}

// Notify sends body as the message text; Telegram has no separate title
func (t *Telegram) Notify(ctx context.Context, _, body string) error {
	payload, err := json.Marshal(sendMessage{
		ChatID:                t.chatID,
		Text:                  body,
		DisableWebPagePreview: true,
	})
	if err != nil {
		return err
	}

	return t.poster.do(ctx, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
}
