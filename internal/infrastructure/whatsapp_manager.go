package infrastructure

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/rs/zerolog"

	"whatsapp_ai_backend/internal/apperr"
	"whatsapp_ai_backend/internal/interfaces"
)

var unsafePathChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// WhatsAppManager holds one linked device per organization.
type WhatsAppManager struct {
	clients map[string]*WhatsAppClient
	mu      sync.RWMutex
	baseDir string
	logger  zerolog.Logger

	// HandlerFactory builds the event handler registered on each new client.
	HandlerFactory func(orgID string) func(interface{})
}

func NewWhatsAppManager(baseDir string, logger zerolog.Logger) *WhatsAppManager {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		logger.Warn().Err(err).Str("dir", baseDir).Msg("could not create devices directory")
	}
	return &WhatsAppManager{
		clients: make(map[string]*WhatsAppClient),
		baseDir: baseDir,
		logger:  logger,
	}
}

// DevicePath is the sqlite file holding orgID's device keys.
func (m *WhatsAppManager) DevicePath(orgID string) string {
	return filepath.Join(m.baseDir, "org_"+unsafePathChars.ReplaceAllString(orgID, "_")+".db")
}

func (m *WhatsAppManager) GetClient(orgID string) *WhatsAppClient {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.clients[orgID]
}

func (m *WhatsAppManager) GetOrCreateClient(ctx context.Context, orgID string) (*WhatsAppClient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if client, ok := m.clients[orgID]; ok {
		return client, nil
	}
	client, err := NewWhatsAppClient(ctx, m.DevicePath(orgID), orgID, m.logger)
	if err != nil {
		return nil, fmt.Errorf("whatsapp client for organization %s: %w", orgID, err)
	}
	if m.HandlerFactory != nil {
		client.AddHandler(m.HandlerFactory(orgID))
	}
	m.clients[orgID] = client
	return client, nil
}

func (m *WhatsAppManager) ConnectClient(ctx context.Context, orgID string) (*WhatsAppClient, error) {
	client, err := m.GetOrCreateClient(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if client.Client.IsConnected() {
		return client, nil
	}
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect whatsapp for organization %s: %w", orgID, err)
	}
	return client, nil
}

// LogoutClient unlinks the device. A missing client counts as logged out.
func (m *WhatsAppManager) LogoutClient(ctx context.Context, orgID string) error {
	m.mu.Lock()
	client, ok := m.clients[orgID]
	delete(m.clients, orgID)
	m.mu.Unlock()

	if !ok || client == nil {
		return nil
	}
	if !client.IsLoggedIn() && !client.Client.IsConnected() {
		return nil
	}
	return client.Logout(ctx)
}

// ReconnectExisting connects every organization that already has a device file.
func (m *WhatsAppManager) ReconnectExisting(ctx context.Context) []string {
	paths, err := filepath.Glob(filepath.Join(m.baseDir, "org_*.db"))
	if err != nil {
		m.logger.Warn().Err(err).Msg("scan devices directory")
		return nil
	}
	var connected []string
	for _, path := range paths {
		base := filepath.Base(path)
		orgID := base[len("org_") : len(base)-len(".db")]
		client, err := m.ConnectClient(ctx, orgID)
		if err != nil {
			m.logger.Warn().Err(err).Str("organization_id", orgID).Msg("reconnect whatsapp")
			continue
		}
		if client.IsLoggedIn() {
			connected = append(connected, orgID)
		}
	}
	return connected
}

// Messenger returns orgID's connected device for the send transport.
func (m *WhatsAppManager) Messenger(orgID string) (*WhatsAppClient, error) {
	client := m.GetClient(orgID)
	if client == nil || !client.IsConnected() {
		return nil, fmt.Errorf("whatsapp for organization %s: %w", orgID, apperr.ErrChannelUnavailable)
	}
	return client, nil
}

func (m *WhatsAppManager) DisconnectAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, client := range m.clients {
		client.Disconnect()
	}
	m.clients = make(map[string]*WhatsAppClient)
}

var _ interfaces.Messenger = (*WhatsAppClient)(nil)
