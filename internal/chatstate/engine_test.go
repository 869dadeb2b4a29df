package chatstate

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/12313awe/skalgpt/internal/i18n"
	"github.com/12313awe/skalgpt/internal/store"
)

type fakeStream struct {
	fragments []string
	terminal  error
	i         int
	closed    bool
}

func (f *fakeStream) Recv() (string, error) {
	if f.i >= len(f.fragments) {
		if f.terminal != nil {
			return "", f.terminal
		}
		return "", io.EOF
	}
	frag := f.fragments[f.i]
	f.i++
	return frag, nil
}

func (f *fakeStream) Close() error {
	f.closed = true
	return nil
}

type fakeServer struct {
	sessions     []store.ChatSession
	messages     map[string][]store.Message
	messageCalls int

	title    string
	titleErr error

	createErr error
	onCreate  func()
	deleteErr error

	stream    *fakeStream
	streamErr error
}

func (f *fakeServer) ListSessions(ctx context.Context) ([]store.ChatSession, error) {
	return f.sessions, nil
}

func (f *fakeServer) SessionMessages(ctx context.Context, sessionID string) ([]store.Message, error) {
	f.messageCalls++
	return f.messages[sessionID], nil
}

func (f *fakeServer) CreateSession(ctx context.Context, title string) (*store.ChatSession, error) {
	if f.onCreate != nil {
		f.onCreate()
	}
	if f.createErr != nil {
		return nil, f.createErr
	}
	session := store.ChatSession{ID: uuid.NewString(), UserID: 1, Title: title}
	return &session, nil
}

func (f *fakeServer) DeleteSession(ctx context.Context, sessionID string) error {
	return f.deleteErr
}

func (f *fakeServer) GenerateTitle(ctx context.Context, seed string) (string, error) {
	if f.titleErr != nil {
		return "", f.titleErr
	}
	return f.title, nil
}

func (f *fakeServer) StreamTurn(ctx context.Context, sessionID, message string) (TurnStream, error) {
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	if f.stream == nil {
		f.stream = &fakeStream{}
	}
	return f.stream, nil
}

type recordingNotifier struct {
	errors    []string
	successes []string
}

func (n *recordingNotifier) Error(message string)   { n.errors = append(n.errors, message) }
func (n *recordingNotifier) Success(message string) { n.successes = append(n.successes, message) }

func newEngineFixture(server *fakeServer) (*Engine, *recordingNotifier) {
	notifier := &recordingNotifier{}
	return NewEngine(server, notifier, i18n.Lookup("tr"), zap.NewNop()), notifier
}

func session(title string) store.ChatSession {
	return store.ChatSession{ID: uuid.NewString(), UserID: 1, Title: title}
}

func TestSelectSessionIdempotent(t *testing.T) {
	s1 := session("bir")
	server := &fakeServer{
		sessions: []store.ChatSession{s1},
		messages: map[string][]store.Message{s1.ID: {{ID: "m1", SessionID: s1.ID, Role: store.RoleUser, Content: "soru"}}},
	}
	engine, _ := newEngineFixture(server)
	require.NoError(t, engine.FetchSessions(context.Background()))

	require.NoError(t, engine.SelectSession(context.Background(), s1.ID))
	require.Equal(t, 1, server.messageCalls)
	require.Len(t, engine.State().Messages, 1)

	// Re-selecting the active session does not reload.
	require.NoError(t, engine.SelectSession(context.Background(), s1.ID))
	assert.Equal(t, 1, server.messageCalls)
}

func TestSelectSessionSwapsAndDiscardsOldMessages(t *testing.T) {
	s1, s2 := session("bir"), session("iki")
	server := &fakeServer{
		sessions: []store.ChatSession{s1, s2},
		messages: map[string][]store.Message{
			s1.ID: {{ID: "m1", SessionID: s1.ID, Role: store.RoleUser, Content: "eski"}},
			s2.ID: {{ID: "m2", SessionID: s2.ID, Role: store.RoleUser, Content: "yeni"}},
		},
	}
	engine, _ := newEngineFixture(server)
	require.NoError(t, engine.FetchSessions(context.Background()))
	require.NoError(t, engine.SelectSession(context.Background(), s1.ID))

	require.NoError(t, engine.SelectSession(context.Background(), s2.ID))
	st := engine.State()
	require.NotNil(t, st.Active)
	assert.Equal(t, s2.ID, st.Active.ID)
	require.Len(t, st.Messages, 1)
	assert.Equal(t, "yeni", st.Messages[0].Content)
}

func TestCreateSessionTitleFallback(t *testing.T) {
	server := &fakeServer{titleErr: errors.New("title model down")}
	engine, notifier := newEngineFixture(server)

	created, err := engine.CreateSession(context.Background(), "Explain photosynthesis")
	require.NoError(t, err)
	require.NotNil(t, created)

	// Session creation succeeded with the default title despite the
	// title-generation failure.
	assert.Equal(t, i18n.Lookup("tr").DefaultSessionTitle, created.Title)
	assert.NotEmpty(t, created.Title)
	assert.NotEmpty(t, notifier.errors)

	st := engine.State()
	require.Len(t, st.Sessions, 1)
	require.NotNil(t, st.Active)
	assert.Equal(t, created.ID, st.Active.ID)
}

func TestCreateSessionUsesGeneratedTitle(t *testing.T) {
	server := &fakeServer{title: "Fotosentez Özeti"}
	engine, _ := newEngineFixture(server)

	created, err := engine.CreateSession(context.Background(), "Fotosentezi açıkla")
	require.NoError(t, err)
	assert.Equal(t, "Fotosentez Özeti", created.Title)

	// New sessions land at the head of the list.
	another, err := engine.CreateSession(context.Background(), "")
	require.NoError(t, err)
	st := engine.State()
	require.Len(t, st.Sessions, 2)
	assert.Equal(t, another.ID, st.Sessions[0].ID)
	assert.Equal(t, created.ID, st.Sessions[1].ID)
}

func TestSendMessageStreamsIntoPlaceholder(t *testing.T) {
	s1 := session("sohbet")
	server := &fakeServer{
		sessions: []store.ChatSession{s1},
		messages: map[string][]store.Message{},
		stream:   &fakeStream{fragments: []string{"Merhaba", ", ", "dünya"}},
	}
	engine, _ := newEngineFixture(server)
	require.NoError(t, engine.FetchSessions(context.Background()))
	require.NoError(t, engine.SelectSession(context.Background(), s1.ID))

	var sawOptimistic, sawResponding bool
	unsubscribe := engine.Subscribe(func(st State) {
		if st.Responding {
			sawResponding = true
		}
		if len(st.Messages) == 2 && st.Messages[1].Content == "" {
			sawOptimistic = true
		}
	})
	defer unsubscribe()

	require.NoError(t, engine.SendMessage(context.Background(), "soru"))

	st := engine.State()
	assert.True(t, sawOptimistic, "user message and empty placeholder must appear before any fragment")
	assert.True(t, sawResponding)
	assert.False(t, st.Responding)
	require.Len(t, st.Messages, 2)
	assert.Equal(t, store.RoleUser, st.Messages[0].Role)
	assert.Equal(t, "soru", st.Messages[0].Content)
	assert.Equal(t, store.RoleAssistant, st.Messages[1].Role)
	assert.Equal(t, "Merhaba, dünya", st.Messages[1].Content)
	assert.True(t, server.stream.closed)
}

func TestSendMessageRollbackOnStreamFailure(t *testing.T) {
	s1 := session("sohbet")
	existing := store.Message{ID: "m0", SessionID: s1.ID, Role: store.RoleAssistant, Content: "önceki cevap"}
	server := &fakeServer{
		sessions: []store.ChatSession{s1},
		messages: map[string][]store.Message{s1.ID: {existing}},
		stream:   &fakeStream{fragments: []string{"Hello, "}, terminal: errors.New("stream died")},
	}
	engine, notifier := newEngineFixture(server)
	require.NoError(t, engine.FetchSessions(context.Background()))
	require.NoError(t, engine.SelectSession(context.Background(), s1.ID))

	before := engine.State().Messages
	err := engine.SendMessage(context.Background(), "soru")
	require.Error(t, err)

	// Exact pre-send state: neither the optimistic user message nor the
	// partially filled placeholder remains.
	st := engine.State()
	require.Len(t, st.Messages, len(before))
	assert.Equal(t, "m0", st.Messages[0].ID)
	assert.Equal(t, "önceki cevap", st.Messages[0].Content)
	assert.False(t, st.Responding)
	assert.Contains(t, notifier.errors, i18n.Lookup("tr").SendFailed)
}

func TestSendMessageRollbackOnOpenFailure(t *testing.T) {
	s1 := session("sohbet")
	server := &fakeServer{
		sessions:  []store.ChatSession{s1},
		messages:  map[string][]store.Message{},
		streamErr: errors.New("network down"),
	}
	engine, _ := newEngineFixture(server)
	require.NoError(t, engine.FetchSessions(context.Background()))
	require.NoError(t, engine.SelectSession(context.Background(), s1.ID))

	require.Error(t, engine.SendMessage(context.Background(), "soru"))
	st := engine.State()
	assert.Empty(t, st.Messages)
	assert.False(t, st.Responding)
}

func TestSendMessageCreatesSeededSessionWhenNoneActive(t *testing.T) {
	server := &fakeServer{
		title:  "Fotosentez Soruları",
		stream: &fakeStream{fragments: []string{"cevap"}},
	}
	engine, _ := newEngineFixture(server)

	require.NoError(t, engine.SendMessage(context.Background(), "Fotosentezi açıkla"))

	st := engine.State()
	require.NotNil(t, st.Active)
	assert.Equal(t, "Fotosentez Soruları", st.Active.Title)
	require.Len(t, st.Messages, 2)
	assert.Equal(t, "cevap", st.Messages[1].Content)
}

func TestSendMessageGatesOnResponding(t *testing.T) {
	s1 := session("sohbet")
	server := &fakeServer{sessions: []store.ChatSession{s1}, messages: map[string][]store.Message{}}
	engine, _ := newEngineFixture(server)
	require.NoError(t, engine.FetchSessions(context.Background()))
	require.NoError(t, engine.SelectSession(context.Background(), s1.ID))

	// A second turn issued while one is marked in flight is refused.
	engine.apply(func(st State) State { return withResponding(st, true) })
	assert.ErrorIs(t, engine.SendMessage(context.Background(), "soru"), ErrTurnInProgress)
}

func TestSendMessageHoldsGateAcrossSessionCreation(t *testing.T) {
	server := &fakeServer{
		title:  "Fotosentez Soruları",
		stream: &fakeStream{fragments: []string{"cevap"}},
	}
	engine, _ := newEngineFixture(server)

	// The gate must already be up while the session-creation network call
	// runs, otherwise a concurrent send could slip through.
	var respondingDuringCreate bool
	server.onCreate = func() { respondingDuringCreate = engine.State().Responding }

	require.NoError(t, engine.SendMessage(context.Background(), "soru"))
	assert.True(t, respondingDuringCreate)
	assert.False(t, engine.State().Responding)
}

func TestSendMessageReleasesGateWhenSessionCreationFails(t *testing.T) {
	server := &fakeServer{createErr: errors.New("store down")}
	engine, notifier := newEngineFixture(server)

	require.Error(t, engine.SendMessage(context.Background(), "soru"))
	assert.False(t, engine.State().Responding)
	assert.Contains(t, notifier.errors, i18n.Lookup("tr").SendFailed)
}

func TestDeleteSessionOptimisticWithRollback(t *testing.T) {
	s1, s2 := session("bir"), session("iki")
	server := &fakeServer{
		sessions: []store.ChatSession{s1, s2},
		messages: map[string][]store.Message{s1.ID: {{ID: "m1", SessionID: s1.ID, Role: store.RoleUser, Content: "soru"}}},
	}
	engine, notifier := newEngineFixture(server)
	require.NoError(t, engine.FetchSessions(context.Background()))
	require.NoError(t, engine.SelectSession(context.Background(), s1.ID))

	// Failure path: full state restored, including active session and
	// its loaded messages.
	server.deleteErr = errors.New("store rejected delete")
	require.Error(t, engine.DeleteSession(context.Background(), s1.ID))
	st := engine.State()
	require.Len(t, st.Sessions, 2)
	require.NotNil(t, st.Active)
	assert.Equal(t, s1.ID, st.Active.ID)
	require.Len(t, st.Messages, 1)
	assert.Contains(t, notifier.errors, i18n.Lookup("tr").SessionDeleteFailed)

	// Success path: session gone, active selection cleared.
	server.deleteErr = nil
	require.NoError(t, engine.DeleteSession(context.Background(), s1.ID))
	st = engine.State()
	require.Len(t, st.Sessions, 1)
	assert.Equal(t, s2.ID, st.Sessions[0].ID)
	assert.Nil(t, st.Active)
	assert.Empty(t, st.Messages)
}

func TestDeleteInactiveSessionKeepsSelection(t *testing.T) {
	s1, s2 := session("bir"), session("iki")
	server := &fakeServer{
		sessions: []store.ChatSession{s1, s2},
		messages: map[string][]store.Message{s1.ID: {}},
	}
	engine, _ := newEngineFixture(server)
	require.NoError(t, engine.FetchSessions(context.Background()))
	require.NoError(t, engine.SelectSession(context.Background(), s1.ID))

	require.NoError(t, engine.DeleteSession(context.Background(), s2.ID))
	st := engine.State()
	require.NotNil(t, st.Active)
	assert.Equal(t, s1.ID, st.Active.ID)
}
