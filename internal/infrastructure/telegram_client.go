package infrastructure

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"

	"whatsapp_ai_backend/internal/entities"
	"whatsapp_ai_backend/internal/interfaces"
)

// TelegramClient is the bot serving one organization over long polling.
type TelegramClient struct {
	Bot            *tgbotapi.BotAPI
	OrganizationID string
	logger         zerolog.Logger
}

var _ interfaces.Messenger = (*TelegramClient)(nil)

func NewTelegramClient(token, orgID string, logger zerolog.Logger) (*TelegramClient, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &TelegramClient{
		Bot:            bot,
		OrganizationID: orgID,
		logger:         logger.With().Str("component", "telegram").Str("organization_id", orgID).Logger(),
	}, nil
}

func (t *TelegramClient) SendMessage(ctx context.Context, to string, msg entities.OutboundMessage) (string, error) {
	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid chat id %q: %w", to, err)
	}
	out := tgbotapi.NewMessage(chatID, msg.Text)
	if len(msg.Options) > 0 {
		keyboard := OptionsKeyboard(msg.Options)
		out.ReplyMarkup = keyboard
	}
	sent, err := t.Bot.Send(out)
	if err != nil {
		return "", err
	}
	return strconv.Itoa(sent.MessageID), nil
}

// SendPresence shows the typing action. Telegram clears it by itself.
func (t *TelegramClient) SendPresence(ctx context.Context, to string, typing bool) error {
	if !typing {
		return nil
	}
	chatID, err := strconv.ParseInt(to, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", to, err)
	}
	_, err = t.Bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping))
	return err
}

// Poll feeds updates to handle until ctx is cancelled.
func (t *TelegramClient) Poll(ctx context.Context, handle func(context.Context, entities.InboundMessage)) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := t.Bot.GetUpdatesChan(u)
	t.logger.Info().Str("bot", t.Bot.Self.UserName).Msg("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.Bot.StopReceivingUpdates()
			t.logger.Info().Msg("telegram polling stopped")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			if update.CallbackQuery != nil {
				if _, err := t.Bot.Request(tgbotapi.NewCallback(update.CallbackQuery.ID, "")); err != nil {
					t.logger.Debug().Err(err).Msg("acknowledge callback")
				}
			}
			msg, ok := ParseUpdate(t.OrganizationID, update)
			if !ok {
				continue
			}
			handle(ctx, msg)
		}
	}
}

// ParseUpdate converts a text message or an inline keyboard press into an inbound
// message. Button presses carry the option number as their content.
func ParseUpdate(orgID string, update tgbotapi.Update) (entities.InboundMessage, bool) {
	switch {
	case update.CallbackQuery != nil && update.CallbackQuery.Message != nil:
		cb := update.CallbackQuery
		return entities.InboundMessage{
			OrganizationID:    orgID,
			Channel:           entities.ChannelTelegram,
			ExternalID:        strconv.FormatInt(cb.Message.Chat.ID, 10),
			DisplayName:       telegramName(cb.From),
			Content:           cb.Data,
			ProviderMessageID: "cb:" + cb.ID,
		}, true
	case update.Message != nil:
		m := update.Message
		if m.Chat == nil || !m.Chat.IsPrivate() {
			return entities.InboundMessage{}, false
		}
		if m.IsCommand() && m.Command() == "start" {
			return entities.InboundMessage{}, false
		}
		content := m.Text
		if content == "" {
			content = m.Caption
		}
		var media []string
		if len(m.Photo) > 0 {
			media = append(media, "photo:"+m.Photo[len(m.Photo)-1].FileID)
		}
		if m.Document != nil {
			media = append(media, "document:"+m.Document.FileID)
		}
		if m.Voice != nil {
			media = append(media, "voice:"+m.Voice.FileID)
		}
		return entities.InboundMessage{
			OrganizationID:    orgID,
			Channel:           entities.ChannelTelegram,
			ExternalID:        strconv.FormatInt(m.Chat.ID, 10),
			DisplayName:       telegramName(m.From),
			Content:           content,
			ProviderMessageID: strconv.Itoa(m.MessageID),
			MediaURLs:         media,
		}, true
	}
	return entities.InboundMessage{}, false
}

func telegramName(u *tgbotapi.User) string {
	if u == nil {
		return ""
	}
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// OptionsKeyboard lays options out two per row. Callback data is the 1-based option number.
func OptionsKeyboard(options []entities.ButtonOption) tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	var row []tgbotapi.InlineKeyboardButton
	for i, opt := range options {
		row = append(row, tgbotapi.NewInlineKeyboardButtonData(opt.Title, strconv.Itoa(i+1)))
		if (i+1)%2 == 0 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}
