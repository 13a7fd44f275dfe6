package infrastructure

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/skip2/go-qrcode"
	"go.mau.fi/whatsmeow"
	waProto "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"whatsapp_ai_backend/internal/entities"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// WhatsAppClient is one organization's linked WhatsApp device.
type WhatsAppClient struct {
	Client         *whatsmeow.Client
	OrganizationID string

	logger zerolog.Logger
	qrCode string
	qrLock sync.RWMutex
}

func NewWhatsAppClient(ctx context.Context, dbPath, orgID string, logger zerolog.Logger) (*WhatsAppClient, error) {
	logger = logger.With().Str("component", "whatsapp").Str("organization_id", orgID).Logger()

	container, err := sqlstore.New(ctx, "sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)", waLog.Zerolog(logger.With().Str("module", "store").Logger()))
	if err != nil {
		return nil, fmt.Errorf("open device store: %w", err)
	}
	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("load device: %w", err)
	}

	client := whatsmeow.NewClient(deviceStore, waLog.Zerolog(logger.With().Str("module", "client").Logger()))
	return &WhatsAppClient{Client: client, OrganizationID: orgID, logger: logger}, nil
}

// Connect starts the session. Unpaired devices publish pairing codes through QR().
func (w *WhatsAppClient) Connect(ctx context.Context) error {
	if w.Client.Store.ID != nil {
		if err := w.Client.Connect(); err != nil {
			return err
		}
		w.logger.Info().Msg("whatsapp connected with existing session")
		return nil
	}

	qrChan, err := w.Client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("qr channel: %w", err)
	}
	if err := w.Client.Connect(); err != nil {
		return err
	}
	go w.watchQR(qrChan)
	return nil
}

func (w *WhatsAppClient) watchQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for evt := range qrChan {
		if evt.Event == whatsmeow.QRChannelEventCode {
			w.qrLock.Lock()
			w.qrCode = evt.Code
			w.qrLock.Unlock()
			w.logger.Info().Msg("new pairing code available")
			continue
		}
		w.logger.Info().Str("event", evt.Event).Msg("pairing event")
		if evt.Event == whatsmeow.QRChannelSuccess.Event {
			w.qrLock.Lock()
			w.qrCode = ""
			w.qrLock.Unlock()
		}
	}
}

func (w *WhatsAppClient) QR() string {
	w.qrLock.RLock()
	defer w.qrLock.RUnlock()
	return w.qrCode
}

// QRPNG renders the current pairing code; ok is false when there is nothing to scan.
func (w *WhatsAppClient) QRPNG(size int) ([]byte, bool, error) {
	code := w.QR()
	if code == "" {
		return nil, false, nil
	}
	png, err := qrcode.Encode(code, qrcode.Medium, size)
	if err != nil {
		return nil, false, fmt.Errorf("encode qr: %w", err)
	}
	return png, true, nil
}

func (w *WhatsAppClient) IsLoggedIn() bool {
	return w.Client.Store.ID != nil
}

func (w *WhatsAppClient) IsConnected() bool {
	return w.Client.IsConnected() && w.Client.Store.ID != nil
}

// Account returns the paired phone number and push name.
func (w *WhatsAppClient) Account() (string, string) {
	if w.Client.Store.ID == nil {
		return "", ""
	}
	return w.Client.Store.ID.User, w.Client.Store.PushName
}

func (w *WhatsAppClient) Logout(ctx context.Context) error {
	w.qrLock.Lock()
	w.qrCode = ""
	w.qrLock.Unlock()

	if err := w.Client.Logout(ctx); err != nil {
		return err
	}
	w.Client.Disconnect()
	return nil
}

func (w *WhatsAppClient) Disconnect() {
	w.Client.Disconnect()
}

func (w *WhatsAppClient) AddHandler(handler func(interface{})) {
	w.Client.AddEventHandler(handler)
}

func toJID(to string) (types.JID, error) {
	if strings.Contains(to, "@") {
		return types.ParseJID(to)
	}
	return types.ParseJID(to + "@" + types.DefaultUserServer)
}

// SendMessage sends text plus any offered options as a numbered list, since linked
// devices cannot send interactive buttons.
func (w *WhatsAppClient) SendMessage(ctx context.Context, to string, msg entities.OutboundMessage) (string, error) {
	jid, err := toJID(to)
	if err != nil {
		return "", fmt.Errorf("invalid number format: %w", err)
	}
	text := msg.Text
	if len(msg.Options) > 0 {
		text += "\n\n" + NumberedOptions(msg.Options)
	}
	resp, err := w.Client.SendMessage(ctx, jid, &waProto.Message{Conversation: proto.String(text)})
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (w *WhatsAppClient) SendPresence(ctx context.Context, to string, typing bool) error {
	jid, err := toJID(to)
	if err != nil {
		return fmt.Errorf("invalid number format: %w", err)
	}
	state := types.ChatPresencePaused
	if typing {
		_ = w.Client.SendPresence(ctx, types.PresenceAvailable)
		state = types.ChatPresenceComposing
	}
	return w.Client.SendChatPresence(ctx, jid, state, types.ChatPresenceMediaText)
}

// ParseMessage converts a whatsmeow event into an inbound message. ok is false for
// events that should not reach the bot (own messages, groups, status broadcasts).
func ParseMessage(orgID string, evt *events.Message) (entities.InboundMessage, bool) {
	if evt.Info.IsFromMe || evt.Info.IsGroup || evt.Info.Chat.Server == types.BroadcastServer {
		return entities.InboundMessage{}, false
	}
	m := evt.Message
	content := m.GetConversation()
	if content == "" {
		content = m.GetExtendedTextMessage().GetText()
	}
	if content == "" {
		content = m.GetButtonsResponseMessage().GetSelectedDisplayText()
	}
	if content == "" {
		content = m.GetListResponseMessage().GetTitle()
	}

	var media []string
	switch {
	case m.GetImageMessage() != nil:
		if content == "" {
			content = m.GetImageMessage().GetCaption()
		}
		media = append(media, "image:"+m.GetImageMessage().GetMimetype())
	case m.GetDocumentMessage() != nil:
		media = append(media, "document:"+m.GetDocumentMessage().GetMimetype())
	case m.GetAudioMessage() != nil:
		media = append(media, "audio:"+m.GetAudioMessage().GetMimetype())
	}

	return entities.InboundMessage{
		OrganizationID:    orgID,
		Channel:           entities.ChannelWhatsApp,
		ExternalID:        evt.Info.Sender.User,
		DisplayName:       evt.Info.PushName,
		Content:           content,
		ProviderMessageID: evt.Info.ID,
		MediaURLs:         media,
	}, true
}

// NumberedOptions renders options as "1. title" lines; replies with the bare number
// are mapped back to the option by the batch processor.
func NumberedOptions(options []entities.ButtonOption) string {
	var b strings.Builder
	for i, opt := range options {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(strconv.Itoa(i + 1))
		b.WriteString(". ")
		b.WriteString(opt.Title)
	}
	return b.String()
}
