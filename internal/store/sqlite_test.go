package store

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func createTestUser(t *testing.T, s *SQLiteStore, externalID string) *User {
	t.Helper()
	user, err := s.CreateUser(externalID, "hash")
	require.NoError(t, err)
	return user
}

func TestUserRoundTrip(t *testing.T) {
	s := openTestStore(t)

	missing, err := s.GetUserByExternalID("nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)

	created := createTestUser(t, s, "alice")
	found, err := s.GetUserByExternalID("alice")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, created.ID, found.ID)
}

func TestSessionOwnershipScoping(t *testing.T) {
	s := openTestStore(t)
	alice := createTestUser(t, s, "alice")
	bob := createTestUser(t, s, "bob")

	session, err := s.CreateSession(alice.ID, "Fotosentez")
	require.NoError(t, err)

	// Bob cannot see Alice's session through any read path.
	got, err := s.GetSessionByID(session.ID, bob.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	bobSessions, err := s.GetSessionsByUserID(bob.ID)
	require.NoError(t, err)
	assert.Empty(t, bobSessions)

	msgs, err := s.GetMessagesBySessionID(session.ID, bob.ID)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	// Nor delete or rename it.
	assert.ErrorIs(t, s.DeleteSession(session.ID, bob.ID), sql.ErrNoRows)
	assert.Error(t, s.UpdateSessionTitle(session.ID, bob.ID, "ele geçirildi"))

	got, err = s.GetSessionByID(session.ID, alice.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Fotosentez", got.Title)
}

func TestSessionListNewestFirst(t *testing.T) {
	s := openTestStore(t)
	alice := createTestUser(t, s, "alice")

	older, err := s.CreateSession(alice.ID, "eski")
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	newer, err := s.CreateSession(alice.ID, "yeni")
	require.NoError(t, err)

	sessions, err := s.GetSessionsByUserID(alice.ID)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, newer.ID, sessions[0].ID)
	assert.Equal(t, older.ID, sessions[1].ID)
}

func TestMessagesOrderedAndTouchSession(t *testing.T) {
	s := openTestStore(t)
	alice := createTestUser(t, s, "alice")
	session, err := s.CreateSession(alice.ID, "sohbet")
	require.NoError(t, err)

	userMsg := Message{SessionID: session.ID, UserID: alice.ID, Role: RoleUser, Content: "soru"}
	require.NoError(t, s.CreateMessage(&userMsg))
	assistantMsg := Message{SessionID: session.ID, UserID: alice.ID, Role: RoleAssistant, Content: "cevap"}
	require.NoError(t, s.CreateMessage(&assistantMsg))

	messages, err := s.GetMessagesBySessionID(session.ID, alice.ID)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, RoleUser, messages[0].Role)
	assert.Equal(t, RoleAssistant, messages[1].Role)

	reloaded, err := s.GetSessionByID(session.ID, alice.ID)
	require.NoError(t, err)
	assert.False(t, reloaded.UpdatedAt.Before(session.UpdatedAt))
}

func TestDeleteSessionRemovesMessages(t *testing.T) {
	s := openTestStore(t)
	alice := createTestUser(t, s, "alice")
	session, err := s.CreateSession(alice.ID, "silinecek")
	require.NoError(t, err)

	msg := Message{SessionID: session.ID, UserID: alice.ID, Role: RoleUser, Content: "soru"}
	require.NoError(t, s.CreateMessage(&msg))

	require.NoError(t, s.DeleteSession(session.ID, alice.ID))

	got, err := s.GetSessionByID(session.ID, alice.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	messages, err := s.GetMessagesBySessionID(session.ID, alice.ID)
	require.NoError(t, err)
	assert.Empty(t, messages)
}

func TestUpdateSessionTitle(t *testing.T) {
	s := openTestStore(t)
	alice := createTestUser(t, s, "alice")
	session, err := s.CreateSession(alice.ID, "")
	require.NoError(t, err)

	require.NoError(t, s.UpdateSessionTitle(session.ID, alice.ID, "Fotosentez Soruları"))

	reloaded, err := s.GetSessionByID(session.ID, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "Fotosentez Soruları", reloaded.Title)
}

func TestDocumentChunkRoundTrip(t *testing.T) {
	s := openTestStore(t)

	chunk := DocumentChunk{Content: "okul pazartesi kapalı", Embedding: []float32{0.25, -0.5, 1}}
	require.NoError(t, s.InsertDocumentChunk(&chunk))
	require.NotZero(t, chunk.ID)

	chunks, err := s.GetAllDocumentChunks()
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, chunk.Content, chunks[0].Content)
	assert.Equal(t, chunk.Embedding, chunks[0].Embedding)
}

func TestCreateMessageAtomicWithSessionTouch(t *testing.T) {
	s := openTestStore(t)
	user := createTestUser(t, s, "ali")
	session, err := s.CreateSession(user.ID, "Fotosentez")
	require.NoError(t, err)

	// Make the updated_at touch fail after the insert statement.
	_, err = s.db.Exec("ALTER TABLE chat_sessions RENAME TO chat_sessions_hidden")
	require.NoError(t, err)

	msg := Message{SessionID: session.ID, UserID: user.ID, Role: RoleUser, Content: "soru"}
	require.Error(t, s.CreateMessage(&msg))

	_, err = s.db.Exec("ALTER TABLE chat_sessions_hidden RENAME TO chat_sessions")
	require.NoError(t, err)

	// The failed touch rolled the insert back with it.
	messages, err := s.GetMessagesBySessionID(session.ID, user.ID)
	require.NoError(t, err)
	assert.Empty(t, messages)
}
