package usecases

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"whatsapp_ai_backend/internal/apperr"
	"whatsapp_ai_backend/internal/entities"
	"whatsapp_ai_backend/internal/interfaces"
)

var (
	initialsPattern = regexp.MustCompile(`^([\p{L}]\.?\s*){1,4}$`)
	phonePattern    = regexp.MustCompile(`^[+()\d\s.-]{6,}$`)
)

var kinshipPrefixes = []string{
	"mãe d", "mae d", "pai d", "vó d", "vo d", "avó d", "tia d", "tio d",
	"esposa d", "marido d", "filho d", "filha d",
	"mom of", "mother of", "dad of", "father of", "wife of", "husband of",
}

var placeholderNames = map[string]struct{}{
	"user": {}, "test": {}, "teste": {}, "cliente": {}, "customer": {}, "client": {},
	"unknown": {}, "desconhecido": {}, "null": {}, "none": {}, "whatsapp": {},
	"whatsapp user": {}, "usuario": {}, "usuário": {}, "guest": {},
}

// IsSuspiciousName reports whether a display name is unlikely to be the contact's real name.
func IsSuspiciousName(name string) bool {
	name = strings.TrimSpace(name)
	lower := strings.ToLower(name)
	if utf8.RuneCountInString(name) <= 3 {
		return true
	}
	if _, ok := placeholderNames[lower]; ok {
		return true
	}
	if phonePattern.MatchString(name) {
		return true
	}
	if initialsPattern.MatchString(name) && strings.Contains(name, ".") {
		return true
	}
	for _, prefix := range kinshipPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	letters := 0
	for _, r := range name {
		switch {
		case unicode.IsLetter(r):
			letters++
		case unicode.IsSpace(r), r == '-', r == '\'', r == '.':
		default:
			// digits, emoji and decorative symbols
			return true
		}
	}
	return letters == 0
}

// IsLikelyRealName applies the stricter check used to skip asking for a name.
func IsLikelyRealName(name string) bool {
	name = strings.TrimSpace(name)
	if IsSuspiciousName(name) {
		return false
	}
	words := strings.Fields(name)
	if len(words) < 2 {
		return false
	}
	return utf8.RuneCountInString(words[0]) >= 3 && utf8.RuneCountInString(name) >= 5
}

// ResolveNameState derives the name state from stored memory and the current display name.
func ResolveNameState(mem *entities.ContactMemory, displayName string) entities.NameState {
	if mem != nil && mem.NameConfirmed {
		return entities.NameStateConfirmed
	}
	if mem != nil && mem.NameAsked {
		return entities.NameStateAwaitingResponse
	}
	if IsLikelyRealName(displayName) {
		return entities.NameStateLikelyReal
	}
	return entities.NameStateNeedsConfirmation
}

// NameInstructions renders the system prompt section for a name state.
func NameInstructions(state entities.NameState, displayName string) string {
	displayName = strings.TrimSpace(displayName)
	switch state {
	case entities.NameStateConfirmed:
		return fmt.Sprintf("The customer's confirmed name is %q. Use it naturally and never ask for it again.", displayName)
	case entities.NameStateAwaitingResponse:
		return "You already asked for the customer's name. Do not ask again. If this message reveals their name, " +
			"call update_contact with the name and confirmed=true."
	case entities.NameStateLikelyReal:
		return fmt.Sprintf("The customer's profile name is %q and looks real. You may use it without asking. "+
			"If they state or correct their name, call update_contact with confirmed=true.", displayName)
	default:
		return "The customer's profile name is missing or unreliable. Politely ask for their name once in this reply, " +
			"then call mark_name_asked. When they answer, call update_contact with confirmed=true."
	}
}

// NameTracker applies the two tool-driven name transitions to stored memory.
type NameTracker struct {
	memories interfaces.MemoryStore
	contacts interfaces.ContactStore
	now      func() time.Time
	logger   zerolog.Logger
}

func NewNameTracker(memories interfaces.MemoryStore, contacts interfaces.ContactStore, logger zerolog.Logger) *NameTracker {
	return &NameTracker{
		memories: memories,
		contacts: contacts,
		now:      time.Now,
		logger:   logger.With().Str("component", "name_tracker").Logger(),
	}
}

func (t *NameTracker) load(ctx context.Context, orgID, contactID string) (*entities.ContactMemory, error) {
	mem, err := t.memories.GetMemory(ctx, orgID, contactID)
	if errors.Is(err, apperr.ErrNotFound) {
		return &entities.ContactMemory{ContactID: contactID, OrganizationID: orgID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load contact memory: %w", err)
	}
	return mem, nil
}

// State loads memory and resolves the current name state.
func (t *NameTracker) State(ctx context.Context, contact *entities.Contact) (entities.NameState, *entities.ContactMemory, error) {
	mem, err := t.load(ctx, contact.OrganizationID, contact.ID)
	if err != nil {
		return entities.NameStateNeedsConfirmation, nil, err
	}
	return ResolveNameState(mem, contact.DisplayName), mem, nil
}

// MarkNameAsked records that the name question was posed. It never touches a confirmed memory.
func (t *NameTracker) MarkNameAsked(ctx context.Context, orgID, contactID string) error {
	mem, err := t.load(ctx, orgID, contactID)
	if err != nil {
		return err
	}
	if mem.NameConfirmed || mem.NameAsked {
		return nil
	}
	mem.NameAsked = true
	mem.UpdatedAt = t.now()
	if err := t.memories.UpsertMemory(ctx, mem); err != nil {
		return fmt.Errorf("save contact memory: %w", err)
	}
	t.logger.Info().Str("organization_id", orgID).Str("contact_id", contactID).Msg("name asked")
	return nil
}

// ConfirmName is the only path that writes the contact's name.
func (t *NameTracker) ConfirmName(ctx context.Context, orgID, contactID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: name is empty", apperr.ErrInvalidToolArgs)
	}
	contact, err := t.contacts.GetContact(ctx, orgID, contactID)
	if err != nil {
		return fmt.Errorf("load contact: %w", err)
	}
	mem, err := t.load(ctx, orgID, contactID)
	if err != nil {
		return err
	}
	if mem.OriginalDisplayName == "" {
		mem.OriginalDisplayName = contact.DisplayName
	}
	now := t.now()
	mem.NameAsked = true
	mem.NameConfirmed = true
	if mem.NameConfirmedAt == nil {
		mem.NameConfirmedAt = &now
	}
	mem.UpdatedAt = now
	if err := t.memories.UpsertMemory(ctx, mem); err != nil {
		return fmt.Errorf("save contact memory: %w", err)
	}
	if err := t.contacts.UpdateContactName(ctx, orgID, contactID, name); err != nil {
		return fmt.Errorf("update contact name: %w", err)
	}
	t.logger.Info().Str("organization_id", orgID).Str("contact_id", contactID).Msg("name confirmed")
	return nil
}
