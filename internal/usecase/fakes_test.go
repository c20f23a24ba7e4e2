package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"booksoul/internal/domain"
	"booksoul/internal/repository"
	"booksoul/internal/repository/memstore"
)

var (
	_ Store = (*memstore.Store)(nil)
	_ Store = (*repository.Client)(nil)
)

var testNow = time.Date(2026, 3, 1, 12, 30, 45, 0, time.UTC)

func fixedClock(t time.Time) Clock { return func() time.Time { return t } }

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type mockParams struct {
	vals  map[string]string
	err   error
	calls int
}

func (m *mockParams) GetParameter(_ context.Context, name string) (string, error) {
	m.calls++
	if m.err != nil {
		return "", m.err
	}
	v, ok := m.vals[name]
	if !ok {
		return "", fmt.Errorf("param not found: %s", name)
	}
	return v, nil
}

type transientParams struct {
	*mockParams
	failOnce bool
}

func (p *transientParams) GetParameter(ctx context.Context, name string) (string, error) {
	if p.failOnce {
		p.failOnce = false
		return "", errors.New("temporary ssm failure")
	}
	return p.mockParams.GetParameter(ctx, name)
}

func defaultParams() *mockParams {
	return &mockParams{vals: map[string]string{"/prefix/config/openai_model": "gpt-4o-mini"}}
}

type mockLLM struct {
	answer   string
	err      error
	model    string
	messages []domain.ChatMessage
	calls    int
}

func (m *mockLLM) Chat(_ context.Context, model string, msgs []domain.ChatMessage) (string, error) {
	m.calls++
	m.model = model
	m.messages = msgs
	return m.answer, m.err
}

type sentMessage struct {
	ConversationID string
	Text           string
	Photo          string
}

type fakeTransport struct {
	mu       sync.Mutex
	sent     []sentMessage
	textErr  error
	photoErr error
}

func (f *fakeTransport) SendText(_ context.Context, conversationID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.textErr != nil {
		return f.textErr
	}
	f.sent = append(f.sent, sentMessage{ConversationID: conversationID, Text: text})
	return nil
}

func (f *fakeTransport) SendPhoto(_ context.Context, conversationID, photo, caption string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.photoErr != nil {
		return f.photoErr
	}
	f.sent = append(f.sent, sentMessage{ConversationID: conversationID, Text: caption, Photo: photo})
	return nil
}

func (f *fakeTransport) messages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

func (f *fakeTransport) texts() []string {
	var out []string
	for _, m := range f.messages() {
		if m.Photo == "" {
			out = append(out, m.Text)
		}
	}
	return out
}

// syncSpawner runs tasks inline so tests observe their effects immediately.
type syncSpawner struct {
	mu    sync.Mutex
	names []string
	errs  []error
}

func (s *syncSpawner) Go(name string, fn func(ctx context.Context) error) {
	err := fn(context.Background())
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names = append(s.names, name)
	if err != nil {
		s.errs = append(s.errs, err)
	}
}

// scriptedInterpreter returns a fixed action or error.
type scriptedInterpreter struct {
	action domain.Action
	err    error
	calls  int
	mu     sync.Mutex
}

func (s *scriptedInterpreter) Interpret(_ context.Context, _ string) (domain.Action, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.action, s.err
}

type blockingInterpreter struct{}

func (blockingInterpreter) Interpret(ctx context.Context, _ string) (domain.Action, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func newTestProduction(t *testing.T, store *memstore.Store, now time.Time) *Production {
	t.Helper()
	p, err := NewProduction(store, PermissiveStages{}, discardLogger())
	require.NoError(t, err)
	p.now = fixedClock(now)
	return p
}

type testStack struct {
	store      *memstore.Store
	transport  *fakeTransport
	production *Production
	outbox     *Outbox
	processor  *Processor
	notifier   *CadenceNotifier
	intake     *IntakeService
	spawner    *syncSpawner
}

func newTestStack(t *testing.T, interp Interpreter) *testStack {
	t.Helper()
	st := &testStack{
		store:     memstore.New(),
		transport: &fakeTransport{},
		spawner:   &syncSpawner{},
	}
	st.production = newTestProduction(t, st.store, testNow)

	var err error
	st.outbox, err = NewOutbox(st.store, st.transport, discardLogger())
	require.NoError(t, err)
	st.outbox.now = fixedClock(testNow)

	st.processor, err = NewProcessor(st.outbox, interp, st.production, time.Second, discardLogger())
	require.NoError(t, err)

	st.notifier, err = NewCadenceNotifier(st.store, st.transport, DefaultCadenceThresholds(), "banner.png", discardLogger())
	require.NoError(t, err)
	st.notifier.now = fixedClock(testNow)

	st.intake, err = NewIntakeService(st.store, st.store, st.spawner, st.processor, st.notifier, discardLogger())
	require.NoError(t, err)
	st.intake.now = fixedClock(testNow)
	return st
}

func expectCode(t *testing.T, err error, code ErrorCode, reason string) {
	t.Helper()
	var ue *Error
	require.ErrorAs(t, err, &ue)
	require.Equal(t, code, ue.Code)
	if reason != "" {
		require.Equal(t, reason, ue.Reason)
	}
}
