// Package telegram adapts go-telegram-bot-api to the channel.Channel
// interface: bot-token construction plus a long-polling update loop,
// translated into channel.Incoming/Outgoing.
package telegram

import (
	"context"
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"omega/internal/channel"
	"omega/internal/identity"
)

type Channel struct {
	bot   *tgbotapi.BotAPI
	inbox *identity.Inbox
}

// New builds a Channel; inbox may be nil, in which case incoming photos
// are reported with their raw Telegram file ID as the attachment path
// instead of a locally staged file (identity.FormatAttachmentLine still
// produces a readable line either way, just not one the direct pipeline
// can open as a local file).
func New(token string, inbox *identity.Inbox) (*Channel, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: new bot: %w", err)
	}
	return &Channel{bot: bot, inbox: inbox}, nil
}

func (c *Channel) Start(ctx context.Context, handler func(channel.Incoming)) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message == nil {
					continue
				}
				handler(c.toIncoming(update.Message))
			}
		}
	}()
	return nil
}

// toIncoming stages the largest photo size (Telegram sends several
// resolutions per photo, largest last) into the local inbox via its
// direct-download URL before handing the turn to the gateway.
func (c *Channel) toIncoming(m *tgbotapi.Message) channel.Incoming {
	var atts []channel.Attachment
	if len(m.Photo) > 0 {
		fileID := m.Photo[len(m.Photo)-1].FileID
		path := fileID
		if c.inbox != nil {
			if url, err := c.bot.GetFileDirectURL(fileID); err == nil {
				if staged, err := c.inbox.Fetch(fileID, ".jpg", url); err == nil {
					path = staged.Path
				}
			}
		}
		atts = append(atts, channel.Attachment{Path: path, MimeType: "image/jpeg"})
	}
	return channel.Incoming{
		ID:          strconv.Itoa(m.MessageID),
		Channel:     "telegram",
		SenderID:    strconv.FormatInt(m.From.ID, 10),
		SenderName:  m.From.UserName,
		Text:        m.Text,
		TimestampMs: int64(m.Date) * 1000,
		Attachments: atts,
		ReplyTarget: strconv.FormatInt(m.Chat.ID, 10),
		IsGroup:     m.Chat.IsGroup() || m.Chat.IsSuperGroup(),
	}
}

func (c *Channel) Send(target string, msg channel.Outgoing) error {
	chatID, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid target %q: %w", target, err)
	}
	_, err = c.bot.Send(tgbotapi.NewMessage(chatID, msg.Text))
	return err
}

func (c *Channel) SendTyping(target string) error {
	chatID, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return err
	}
	_, err = c.bot.Send(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))
	return err
}

func (c *Channel) SendPhoto(target string, data []byte, filename string) error {
	chatID, err := strconv.ParseInt(target, 10, 64)
	if err != nil {
		return err
	}
	file := tgbotapi.FileBytes{Name: filename, Bytes: data}
	_, err = c.bot.Send(tgbotapi.NewPhoto(chatID, file))
	return err
}

func (c *Channel) Stop() error {
	c.bot.StopReceivingUpdates()
	return nil
}
