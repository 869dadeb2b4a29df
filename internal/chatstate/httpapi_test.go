package chatstate

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/12313awe/skalgpt/internal/api"
	"github.com/12313awe/skalgpt/internal/auth"
	"github.com/12313awe/skalgpt/internal/config"
	"github.com/12313awe/skalgpt/internal/core"
	"github.com/12313awe/skalgpt/internal/i18n"
	"github.com/12313awe/skalgpt/internal/store"
)

func init() {
	config.AppConfig.JWTSecret = "test-secret"
}

type stubUsers struct {
	user *store.User
}

func (s *stubUsers) GetUserByExternalID(externalUserID string) (*store.User, error) {
	if s.user != nil && s.user.ExternalUserID == externalUserID {
		return s.user, nil
	}
	return nil, nil
}

func (s *stubUsers) CreateUser(externalUserID, passwordHash string) (*store.User, error) {
	return nil, errors.New("not supported")
}

type stubTurnStore struct {
	session   *store.ChatSession
	persisted []store.Message
}

func (s *stubTurnStore) GetSessionByID(sessionID string, userID int64) (*store.ChatSession, error) {
	if s.session != nil && s.session.ID == sessionID && s.session.UserID == userID {
		return s.session, nil
	}
	return nil, nil
}

func (s *stubTurnStore) GetSessionsByUserID(userID int64) ([]store.ChatSession, error) {
	if s.session == nil {
		return nil, nil
	}
	return []store.ChatSession{*s.session}, nil
}

func (s *stubTurnStore) CreateSession(userID int64, title string) (*store.ChatSession, error) {
	return nil, errors.New("not supported")
}

func (s *stubTurnStore) DeleteSession(sessionID string, userID int64) error {
	return errors.New("not supported")
}

func (s *stubTurnStore) UpdateSessionTitle(sessionID string, userID int64, title string) error {
	return nil
}

func (s *stubTurnStore) GetMessagesBySessionID(sessionID string, userID int64) ([]store.Message, error) {
	return nil, nil
}

func (s *stubTurnStore) CreateMessage(msg *store.Message) error {
	msg.ID = uuid.NewString()
	s.persisted = append(s.persisted, *msg)
	return nil
}

type stubRetriever struct{}

func (stubRetriever) Retrieve(ctx context.Context, query string, k int) ([]core.Passage, error) {
	return nil, nil
}

type stubGenerator struct {
	fragments []string
	terminal  error
}

func (g *stubGenerator) Generate(ctx context.Context, prompt string) (*core.Stream, error) {
	i := 0
	return core.NewStream(func() (string, error) {
		if i >= len(g.fragments) {
			if g.terminal != nil {
				return "", g.terminal
			}
			return "", io.EOF
		}
		frag := g.fragments[i]
		i++
		return frag, nil
	}, nil), nil
}

type stubTitler struct{}

func (stubTitler) GenerateTitle(ctx context.Context, seed string) (string, error) {
	return "Fotosentez Soruları", nil
}

// Runs the engine against the real router over a real connection: a
// generation failure after the first streamed byte must come back to the
// engine as a failed turn, not as a short but clean stream.
func TestSendMessageRollsBackWhenServerStreamAborts(t *testing.T) {
	session := &store.ChatSession{ID: uuid.NewString(), UserID: 1, Title: "Fotosentez"}
	turns := &stubTurnStore{session: session}
	generator := &stubGenerator{fragments: []string{"Hello, "}, terminal: errors.New("model failed mid-answer")}

	chatService := core.NewChatService(turns, stubRetriever{}, generator, stubTitler{}, zap.NewNop())
	handler := api.NewAPIHandler(chatService, &stubUsers{user: &store.User{ID: 1, ExternalUserID: "ogrenci-1"}}, zap.NewNop())
	srv := httptest.NewServer(api.NewRouter(handler))
	defer srv.Close()

	token, err := auth.GenerateJWT("ogrenci-1")
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	engine := NewEngine(NewHTTPClient(srv.URL, token), notifier, i18n.Lookup("tr"), zap.NewNop())
	require.NoError(t, engine.FetchSessions(context.Background()))
	require.NoError(t, engine.SelectSession(context.Background(), session.ID))

	err = engine.SendMessage(context.Background(), "Fotosentez nedir?")
	require.Error(t, err)

	// Neither the optimistic user message nor the partially filled
	// placeholder survives the failed turn.
	st := engine.State()
	assert.Empty(t, st.Messages)
	assert.False(t, st.Responding)
	assert.Contains(t, notifier.errors, i18n.Lookup("tr").SendFailed)

	// Server side kept the partial text per the turn semantics.
	require.Len(t, turns.persisted, 2)
	assert.Equal(t, "Hello, ", turns.persisted[1].Content)
}
