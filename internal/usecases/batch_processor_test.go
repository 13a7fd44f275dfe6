package usecases

import (
	"context"
	"errors"
	"testing"

	"whatsapp_ai_backend/internal/apperr"
	"whatsapp_ai_backend/internal/entities"
)

type recordingComposer struct {
	inputs []ComposeInput
	err    error
	failN  int // fail only the first failN calls when set
	result *ComposeResult
	during func(in ComposeInput)
}

func (c *recordingComposer) Compose(ctx context.Context, in ComposeInput) (*ComposeResult, error) {
	c.inputs = append(c.inputs, in)
	if c.during != nil {
		c.during(in)
	}
	if c.err != nil && (c.failN == 0 || len(c.inputs) <= c.failN) {
		return nil, c.err
	}
	if c.result != nil {
		return c.result, nil
	}
	return &ComposeResult{ReplyText: "ok", Sent: true}, nil
}

type batchFixture struct {
	store     *memoryStore
	transport *fakeTransport
	composer  *recordingComposer
	processor *BatchProcessor
	thread    *entities.Thread
	trigger   entities.BatchTrigger
}

func newBatchFixture(t *testing.T) *batchFixture {
	t.Helper()
	ctx := context.Background()
	store := newMemoryStore()
	contact, _ := store.FindOrCreateContact(ctx, "org-1", entities.ChannelWhatsApp, "5511988887777", "Maria Clara")
	thread, _ := store.FindOrCreateThread(ctx, "org-1", contact.ID, entities.ChannelWhatsApp)
	store.agents["org-1"] = &entities.Agent{ID: "agent-1", OrganizationID: "org-1", Enabled: true}
	transport := &fakeTransport{}
	composer := &recordingComposer{}
	return &batchFixture{
		store:     store,
		transport: transport,
		composer:  composer,
		processor: NewBatchProcessor(store, store, store, store, composer, transport, testLogger),
		thread:    thread,
		trigger:   entities.BatchTrigger{ThreadID: thread.ID, OrganizationID: "org-1", ContactID: contact.ID},
	}
}

func TestProcessCombinesPendingInOrder(t *testing.T) {
	f := newBatchFixture(t)
	a := f.store.addInbound("org-1", f.thread.ID, "oi")
	b := f.store.addInbound("org-1", f.thread.ID, "quero um visto")
	c := f.store.addInbound("org-1", f.thread.ID, "quanto custa?")

	if err := f.processor.Process(context.Background(), f.trigger); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(f.composer.inputs) != 1 {
		t.Fatalf("expected one compose call, got %d", len(f.composer.inputs))
	}
	in := f.composer.inputs[0]
	if in.IncomingText != "oi\nquero um visto\nquanto custa?" {
		t.Fatalf("unexpected combined text %q", in.IncomingText)
	}
	if in.BatchKey != BatchKey(f.thread.ID, []string{c.ID, a.ID, b.ID}) {
		t.Fatal("expected batch key over the fetched ids")
	}
	pending, _ := f.store.ListPendingInbound(context.Background(), "org-1", f.thread.ID)
	if len(pending) != 0 {
		t.Fatalf("expected all messages consumed, %d pending", len(pending))
	}
	if len(f.transport.typing) != 2 || !f.transport.typing[0] || f.transport.typing[1] {
		t.Fatalf("expected typing on then off, got %v", f.transport.typing)
	}
}

func TestProcessResolvesButtonAnswers(t *testing.T) {
	f := newBatchFixture(t)
	prompt := &entities.ButtonPrompt{Options: []entities.ButtonOption{
		{ID: "a", Title: "Track order"},
		{ID: "b", Title: "Talk to agent"},
	}}
	_ = f.store.SetButtonPrompt(context.Background(), "org-1", f.thread.ID, prompt)
	f.store.addInbound("org-1", f.thread.ID, " 2 ")

	if err := f.processor.Process(context.Background(), f.trigger); err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := f.composer.inputs[0].IncomingText; got != "Talk to agent" {
		t.Fatalf("expected option title, got %q", got)
	}
	thread, _ := f.store.GetThread(context.Background(), "org-1", f.thread.ID)
	if thread.AwaitingButtonResponse() {
		t.Fatal("expected button prompt cleared")
	}
}

func TestProcessOutOfRangeButtonPassesThrough(t *testing.T) {
	f := newBatchFixture(t)
	_ = f.store.SetButtonPrompt(context.Background(), "org-1", f.thread.ID, &entities.ButtonPrompt{Options: []entities.ButtonOption{
		{ID: "a", Title: "Track order"},
		{ID: "b", Title: "Talk to agent"},
	}})
	f.store.addInbound("org-1", f.thread.ID, "5")

	if err := f.processor.Process(context.Background(), f.trigger); err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := f.composer.inputs[0].IncomingText; got != "5" {
		t.Fatalf("expected passthrough, got %q", got)
	}
	thread, _ := f.store.GetThread(context.Background(), "org-1", f.thread.ID)
	if thread.AwaitingButtonResponse() {
		t.Fatal("expected button prompt cleared even without a numeric answer")
	}
}

func TestResolveButtonAnswersWithoutPrompt(t *testing.T) {
	got := ResolveButtonAnswers(nil, []entities.Message{{Content: "1"}, {Content: "hello"}})
	if got[0] != "1" || got[1] != "hello" {
		t.Fatalf("expected unchanged text, got %v", got)
	}
}

func TestProcessTenantMismatchIsPermanent(t *testing.T) {
	f := newBatchFixture(t)
	f.store.addInbound("org-1", f.thread.ID, "oi")
	trigger := f.trigger
	trigger.OrganizationID = "org-2"

	err := f.processor.Process(context.Background(), trigger)
	if !errors.Is(err, apperr.ErrTenantMismatch) || !apperr.IsPermanent(err) {
		t.Fatalf("expected permanent tenant mismatch, got %v", err)
	}
	if len(f.composer.inputs) != 0 {
		t.Fatal("expected no compose call")
	}
	pending, _ := f.store.ListPendingInbound(context.Background(), "org-1", f.thread.ID)
	if len(pending) != 1 {
		t.Fatal("expected message left pending")
	}
}

func TestProcessContactMismatch(t *testing.T) {
	f := newBatchFixture(t)
	trigger := f.trigger
	trigger.ContactID = "someone-else"
	if err := f.processor.Process(context.Background(), trigger); !errors.Is(err, apperr.ErrTenantMismatch) {
		t.Fatalf("expected tenant mismatch, got %v", err)
	}
}

func TestProcessNoPendingIsNoop(t *testing.T) {
	f := newBatchFixture(t)
	if err := f.processor.Process(context.Background(), f.trigger); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(f.composer.inputs) != 0 {
		t.Fatal("expected no compose call")
	}
	if n := len(f.transport.typing); n == 0 || f.transport.typing[n-1] {
		t.Fatalf("expected typing cleared, got %v", f.transport.typing)
	}
}

func TestProcessWithoutAgentIsNoop(t *testing.T) {
	f := newBatchFixture(t)
	delete(f.store.agents, "org-1")
	f.store.addInbound("org-1", f.thread.ID, "oi")

	if err := f.processor.Process(context.Background(), f.trigger); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(f.composer.inputs) != 0 {
		t.Fatal("expected no compose call")
	}
}

func TestProcessWithoutAgentClearsPrompt(t *testing.T) {
	f := newBatchFixture(t)
	delete(f.store.agents, "org-1")
	_ = f.store.SetButtonPrompt(context.Background(), "org-1", f.thread.ID, &entities.ButtonPrompt{Options: []entities.ButtonOption{
		{ID: "a", Title: "Track order"},
	}})
	f.store.addInbound("org-1", f.thread.ID, "1")

	if err := f.processor.Process(context.Background(), f.trigger); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	thread, _ := f.store.GetThread(context.Background(), "org-1", f.thread.ID)
	if thread.AwaitingButtonResponse() {
		t.Fatal("expected button prompt cleared")
	}
}

func TestProcessRetryAfterComposeFailureStillResolvesButton(t *testing.T) {
	f := newBatchFixture(t)
	_ = f.store.SetButtonPrompt(context.Background(), "org-1", f.thread.ID, &entities.ButtonPrompt{Options: []entities.ButtonOption{
		{ID: "a", Title: "Track order"},
		{ID: "b", Title: "Talk to agent"},
	}})
	f.store.addInbound("org-1", f.thread.ID, "2")
	f.composer.err = errors.New("completion unavailable")
	f.composer.failN = 1

	if err := f.processor.Process(context.Background(), f.trigger); err == nil {
		t.Fatal("expected first attempt to fail")
	}
	if err := f.processor.Process(context.Background(), f.trigger); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(f.composer.inputs) != 2 {
		t.Fatalf("expected two compose calls, got %d", len(f.composer.inputs))
	}
	for i, in := range f.composer.inputs {
		if in.IncomingText != "Talk to agent" {
			t.Fatalf("attempt %d: expected option title, got %q", i+1, in.IncomingText)
		}
	}
	thread, _ := f.store.GetThread(context.Background(), "org-1", f.thread.ID)
	if thread.AwaitingButtonResponse() {
		t.Fatal("expected prompt cleared once the reply went out")
	}
}

func TestProcessKeepsPromptOfferedByReply(t *testing.T) {
	f := newBatchFixture(t)
	_ = f.store.SetButtonPrompt(context.Background(), "org-1", f.thread.ID, &entities.ButtonPrompt{Options: []entities.ButtonOption{
		{ID: "a", Title: "Track order"},
	}})
	f.store.addInbound("org-1", f.thread.ID, "1")
	next := &entities.ButtonPrompt{Options: []entities.ButtonOption{
		{ID: "x", Title: "Visto"},
		{ID: "y", Title: "Passaporte"},
	}}
	f.composer.during = func(in ComposeInput) {
		_ = f.store.SetButtonPrompt(context.Background(), "org-1", f.thread.ID, next)
	}
	f.composer.result = &ComposeResult{ReplyText: "Qual serviço?", Sent: true, OptionsOffered: true}

	if err := f.processor.Process(context.Background(), f.trigger); err != nil {
		t.Fatalf("process: %v", err)
	}
	thread, _ := f.store.GetThread(context.Background(), "org-1", f.thread.ID)
	if !thread.AwaitingButtonResponse() || thread.Buttons.Options[0].Title != "Visto" {
		t.Fatalf("expected the new prompt kept, got %+v", thread.Buttons)
	}
}

func TestProcessSkippedSendKeepsPromptSavedEarlier(t *testing.T) {
	f := newBatchFixture(t)
	_ = f.store.SetButtonPrompt(context.Background(), "org-1", f.thread.ID, &entities.ButtonPrompt{Options: []entities.ButtonOption{
		{ID: "a", Title: "Track order"},
	}})
	f.store.addInbound("org-1", f.thread.ID, "1")
	// an earlier attempt already sent a reply with new options; this attempt's send is deduped
	f.composer.during = func(in ComposeInput) {
		_ = f.store.SetButtonPrompt(context.Background(), "org-1", f.thread.ID, &entities.ButtonPrompt{Options: []entities.ButtonOption{
			{ID: "x", Title: "Visto"},
		}})
	}
	f.composer.result = &ComposeResult{ReplyText: "Qual serviço?", Sent: false}

	if err := f.processor.Process(context.Background(), f.trigger); err != nil {
		t.Fatalf("process: %v", err)
	}
	thread, _ := f.store.GetThread(context.Background(), "org-1", f.thread.ID)
	if !thread.AwaitingButtonResponse() || thread.Buttons.Options[0].Title != "Visto" {
		t.Fatalf("expected the earlier reply's prompt kept, got %+v", thread.Buttons)
	}
}

func TestProcessHumanThreadConsumesWithoutReply(t *testing.T) {
	f := newBatchFixture(t)
	_ = f.store.SetStatus(context.Background(), "org-1", f.thread.ID, entities.ThreadStatusHuman)
	f.store.addInbound("org-1", f.thread.ID, "alguém aí?")

	if err := f.processor.Process(context.Background(), f.trigger); err != nil {
		t.Fatalf("process: %v", err)
	}
	if len(f.composer.inputs) != 0 {
		t.Fatal("expected no compose call for a human-handled thread")
	}
	if len(f.transport.typing) != 0 || len(f.store.typingCalls) != 0 {
		t.Fatalf("expected no typing indicator, got transport=%v store=%v", f.transport.typing, f.store.typingCalls)
	}
	pending, _ := f.store.ListPendingInbound(context.Background(), "org-1", f.thread.ID)
	if len(pending) != 0 {
		t.Fatal("expected messages consumed")
	}
}

func TestProcessMarksConsumedAfterComposeOnlyForFetchedIDs(t *testing.T) {
	f := newBatchFixture(t)
	first := f.store.addInbound("org-1", f.thread.ID, "primeira")
	var late *entities.Message
	f.composer.during = func(in ComposeInput) {
		pending, _ := f.store.ListPendingInbound(context.Background(), "org-1", f.thread.ID)
		if len(pending) != 1 {
			t.Fatalf("expected message still pending during compose, got %d", len(pending))
		}
		late = f.store.addInbound("org-1", f.thread.ID, "chegou durante")
	}

	if err := f.processor.Process(context.Background(), f.trigger); err != nil {
		t.Fatalf("process: %v", err)
	}
	pending, _ := f.store.ListPendingInbound(context.Background(), "org-1", f.thread.ID)
	if len(pending) != 1 || pending[0].ID != late.ID {
		t.Fatalf("expected only the late message pending, got %+v", pending)
	}
	if got := f.store.markedBatches[0]; len(got) != 1 || got[0] != first.ID {
		t.Fatalf("expected exactly the fetched id marked, got %v", got)
	}
}

func TestProcessRetrySkipsConsumedMessages(t *testing.T) {
	f := newBatchFixture(t)
	f.store.addInbound("org-1", f.thread.ID, "primeira")
	if err := f.processor.Process(context.Background(), f.trigger); err != nil {
		t.Fatalf("process: %v", err)
	}
	f.store.addInbound("org-1", f.thread.ID, "segunda")
	if err := f.processor.Process(context.Background(), f.trigger); err != nil {
		t.Fatalf("process: %v", err)
	}
	if got := f.composer.inputs[1].IncomingText; got != "segunda" {
		t.Fatalf("expected only the new message, got %q", got)
	}
}

func TestProcessComposeFailureLeavesMessagesPending(t *testing.T) {
	f := newBatchFixture(t)
	f.store.addInbound("org-1", f.thread.ID, "oi")
	f.composer.err = errors.New("completion unavailable")

	err := f.processor.Process(context.Background(), f.trigger)
	if err == nil || apperr.IsPermanent(err) {
		t.Fatalf("expected retryable error, got %v", err)
	}
	pending, _ := f.store.ListPendingInbound(context.Background(), "org-1", f.thread.ID)
	if len(pending) != 1 {
		t.Fatal("expected message left pending for retry")
	}
}

func TestBatchKeyIgnoresOrder(t *testing.T) {
	if BatchKey("t1", []string{"b", "a"}) != BatchKey("t1", []string{"a", "b"}) {
		t.Fatal("expected order-independent key")
	}
	if BatchKey("t1", []string{"a"}) == BatchKey("t2", []string{"a"}) {
		t.Fatal("expected thread to be part of the key")
	}
}
