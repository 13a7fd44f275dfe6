package usecases

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"whatsapp_ai_backend/internal/apperr"
	"whatsapp_ai_backend/internal/entities"
)

var testLogger = zerolog.Nop()

// memoryStore is an in-memory implementation of every store port used by the usecases.
type memoryStore struct {
	mu       sync.Mutex
	seq      int
	threads  map[string]*entities.Thread
	messages []*entities.Message
	contacts map[string]*entities.Contact
	memories map[string]*entities.ContactMemory
	products []entities.Product
	agents   map[string]*entities.Agent
	settings map[string]string

	typingCalls   []bool
	markedBatches [][]string
	productLists  int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		threads:  map[string]*entities.Thread{},
		contacts: map[string]*entities.Contact{},
		memories: map[string]*entities.ContactMemory{},
		agents:   map[string]*entities.Agent{},
		settings: map[string]string{},
	}
}

func (s *memoryStore) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-%d", prefix, s.seq)
}

func (s *memoryStore) GetThread(ctx context.Context, orgID, threadID string) (*entities.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[threadID]
	if !ok || t.OrganizationID != orgID {
		return nil, apperr.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *memoryStore) FindOrCreateThread(ctx context.Context, orgID, contactID string, channel entities.Channel) (*entities.Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.threads {
		if t.OrganizationID == orgID && t.ContactID == contactID && t.Channel == channel {
			cp := *t
			return &cp, nil
		}
	}
	t := &entities.Thread{ID: s.nextID("thread"), OrganizationID: orgID, ContactID: contactID, Channel: channel, Status: entities.ThreadStatusAI}
	s.threads[t.ID] = t
	cp := *t
	return &cp, nil
}

func (s *memoryStore) SetButtonPrompt(ctx context.Context, orgID, threadID string, prompt *entities.ButtonPrompt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[threadID]
	if !ok || t.OrganizationID != orgID {
		return apperr.ErrNotFound
	}
	t.Buttons = prompt
	return nil
}

func (s *memoryStore) SetAgentTyping(ctx context.Context, orgID, threadID string, typing bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typingCalls = append(s.typingCalls, typing)
	if t, ok := s.threads[threadID]; ok && t.OrganizationID == orgID {
		t.AgentTyping = typing
	}
	return nil
}

func (s *memoryStore) SetStatus(ctx context.Context, orgID, threadID string, status entities.ThreadStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[threadID]
	if !ok || t.OrganizationID != orgID {
		return apperr.ErrNotFound
	}
	t.Status = status
	return nil
}

func (s *memoryStore) addInbound(orgID, threadID, content string) *entities.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := &entities.Message{
		ID:             s.nextID("msg"),
		ThreadID:       threadID,
		OrganizationID: orgID,
		Direction:      entities.DirectionInbound,
		Content:        content,
		Status:         entities.MessageStatusReceived,
		CreatedAt:      time.Now().Add(time.Duration(s.seq) * time.Millisecond),
	}
	s.messages = append(s.messages, m)
	return m
}

func (s *memoryStore) CreateInbound(ctx context.Context, msg *entities.Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.ProviderMessageID != "" {
		for _, m := range s.messages {
			if m.OrganizationID == msg.OrganizationID && m.ProviderMessageID == msg.ProviderMessageID {
				return false, nil
			}
		}
	}
	if msg.ID == "" {
		msg.ID = s.nextID("msg")
	}
	msg.CreatedAt = time.Now().Add(time.Duration(s.seq) * time.Millisecond)
	cp := *msg
	s.messages = append(s.messages, &cp)
	return true, nil
}

func (s *memoryStore) ListPendingInbound(ctx context.Context, orgID, threadID string) ([]entities.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entities.Message
	for _, m := range s.messages {
		if m.OrganizationID == orgID && m.ThreadID == threadID && m.Direction == entities.DirectionInbound && !m.Consumed && m.DeletedAt == nil {
			out = append(out, *m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *memoryStore) ListRecent(ctx context.Context, orgID, threadID string, limit int) ([]entities.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entities.Message
	for _, m := range s.messages {
		if m.OrganizationID == orgID && m.ThreadID == threadID && m.DeletedAt == nil {
			out = append(out, *m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *memoryStore) MarkConsumed(ctx context.Context, orgID string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markedBatches = append(s.markedBatches, append([]string(nil), ids...))
	set := map[string]bool{}
	for _, id := range ids {
		set[id] = true
	}
	for _, m := range s.messages {
		if m.OrganizationID == orgID && set[m.ID] {
			m.Consumed = true
		}
	}
	return nil
}

func (s *memoryStore) ClaimOutbound(ctx context.Context, msg *entities.Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.OrganizationID == msg.OrganizationID && msg.DedupeKey != "" && m.DedupeKey == msg.DedupeKey {
			if m.Status != entities.MessageStatusFailed {
				return false, nil
			}
			m.Status = entities.MessageStatusSending
			m.Content = msg.Content
			msg.ID = m.ID
			return true, nil
		}
	}
	if msg.ID == "" {
		msg.ID = s.nextID("out")
	}
	msg.CreatedAt = time.Now()
	cp := *msg
	s.messages = append(s.messages, &cp)
	return true, nil
}

func (s *memoryStore) findMessage(orgID, id string) *entities.Message {
	for _, m := range s.messages {
		if m.OrganizationID == orgID && m.ID == id {
			return m
		}
	}
	return nil
}

func (s *memoryStore) MarkOutboundSent(ctx context.Context, orgID, id, providerMessageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m := s.findMessage(orgID, id); m != nil {
		m.Status = entities.MessageStatusSent
		m.ProviderMessageID = providerMessageID
	}
	return nil
}

func (s *memoryStore) MarkOutboundFailed(ctx context.Context, orgID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m := s.findMessage(orgID, id); m != nil {
		m.Status = entities.MessageStatusFailed
	}
	return nil
}

func (s *memoryStore) UpdateStatusByProviderID(ctx context.Context, providerMessageID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ProviderMessageID == providerMessageID {
			m.Status = status
		}
	}
	return nil
}

func (s *memoryStore) outbound() []entities.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []entities.Message
	for _, m := range s.messages {
		if m.Direction == entities.DirectionOutbound {
			out = append(out, *m)
		}
	}
	return out
}

func (s *memoryStore) GetContact(ctx context.Context, orgID, contactID string) (*entities.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[contactID]
	if !ok || c.OrganizationID != orgID {
		return nil, apperr.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *memoryStore) FindOrCreateContact(ctx context.Context, orgID string, channel entities.Channel, externalID, displayName string) (*entities.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.contacts {
		if c.OrganizationID == orgID && c.Channel == channel && c.ExternalID == externalID {
			if displayName != "" {
				c.DisplayName = displayName
			}
			cp := *c
			return &cp, nil
		}
	}
	c := &entities.Contact{ID: s.nextID("contact"), OrganizationID: orgID, Channel: channel, ExternalID: externalID, DisplayName: displayName}
	s.contacts[c.ID] = c
	cp := *c
	return &cp, nil
}

func (s *memoryStore) UpdateContactName(ctx context.Context, orgID, contactID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contacts[contactID]
	if !ok || c.OrganizationID != orgID {
		return apperr.ErrNotFound
	}
	c.DisplayName = name
	return nil
}

func (s *memoryStore) GetMemory(ctx context.Context, orgID, contactID string) (*entities.ContactMemory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[contactID]
	if !ok || m.OrganizationID != orgID {
		return nil, apperr.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

// UpsertMemory mirrors the SQL guards: confirmation is sticky and the original name is written once.
func (s *memoryStore) UpsertMemory(ctx context.Context, mem *entities.ContactMemory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.memories[mem.ContactID]
	cp := *mem
	if ok {
		cp.NameConfirmed = existing.NameConfirmed || mem.NameConfirmed
		cp.NameAsked = existing.NameAsked || mem.NameAsked
		if existing.OriginalDisplayName != "" {
			cp.OriginalDisplayName = existing.OriginalDisplayName
		}
		if existing.NameConfirmedAt != nil {
			cp.NameConfirmedAt = existing.NameConfirmedAt
		}
	}
	s.memories[mem.ContactID] = &cp
	return nil
}

func (s *memoryStore) ListProducts(ctx context.Context, orgID string) ([]entities.Product, error) {
	s.mu.Lock()
	s.productLists++
	s.mu.Unlock()
	return s.products, nil
}

func (s *memoryStore) GetEnabledAgent(ctx context.Context, orgID string) (*entities.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[orgID]
	if !ok || !a.Enabled {
		return nil, apperr.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *memoryStore) GetSetting(ctx context.Context, orgID, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.settings[orgID+"/"+key]
	if !ok {
		return "", apperr.ErrNotFound
	}
	return v, nil
}

type sentMessage struct {
	dest entities.Destination
	msg  entities.OutboundMessage
}

type fakeTransport struct {
	mu      sync.Mutex
	sent    []sentMessage
	typing  []bool
	sendErr error
}

func (f *fakeTransport) Send(ctx context.Context, dest entities.Destination, msg entities.OutboundMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, sentMessage{dest: dest, msg: msg})
	return fmt.Sprintf("wamid-%d", len(f.sent)), nil
}

func (f *fakeTransport) SetTyping(ctx context.Context, dest entities.Destination, typing bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, typing)
	return nil
}
