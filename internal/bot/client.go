package bot

import (
	"context"
	"errors"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"course-bot/internal/util"
)

// Sender is the part of the Telegram API the bot writes through.
// *tgbotapi.BotAPI satisfies it.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

type UpdateHandler func(context.Context, tgbotapi.Update)

// Client long-polls Telegram for updates
type Client struct {
	api         *tgbotapi.BotAPI
	pollTimeout int
	logger      *zap.Logger
}

// NewClient authenticates with token
func NewClient(token string, debug bool) (*Client, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("telegram bot token is required")
	}

	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	api.Debug = debug

	return &Client{api: api, pollTimeout: 30, logger: util.GetLogger()}, nil
}

// API exposes the underlying client as a Sender
func (c *Client) API() *tgbotapi.BotAPI {
	return c.api
}

// Username is the bot's public handle
func (c *Client) Username() string {
	return c.api.Self.UserName
}

// Start delivers updates to handler until ctx is done
func (c *Client) Start(ctx context.Context, handler UpdateHandler) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = c.pollTimeout
	updates := c.api.GetUpdatesChan(updateConfig)

	c.logger.Info("Telegram polling started", zap.String("username", c.api.Self.UserName))

	for {
		select {
		case <-ctx.Done():
			c.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			handler(ctx, update)
		}
	}
}
