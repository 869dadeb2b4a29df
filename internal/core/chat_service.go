package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/12313awe/skalgpt/internal/store"
)

// MaxMessageLength is the upper bound on one user message.
const MaxMessageLength = 8000

// TurnStore is the slice of the persistence layer one chat turn touches.
// Every method is scoped to the calling principal.
type TurnStore interface {
	GetSessionByID(sessionID string, userID int64) (*store.ChatSession, error)
	GetSessionsByUserID(userID int64) ([]store.ChatSession, error)
	CreateSession(userID int64, title string) (*store.ChatSession, error)
	DeleteSession(sessionID string, userID int64) error
	UpdateSessionTitle(sessionID string, userID int64, title string) error
	GetMessagesBySessionID(sessionID string, userID int64) ([]store.Message, error)
	CreateMessage(msg *store.Message) error
}

// Generator opens a streaming generation call.
type Generator interface {
	Generate(ctx context.Context, prompt string) (*Stream, error)
}

// TitleGenerator produces a short session title from a seed message.
// Best effort: failures never block anything.
type TitleGenerator interface {
	GenerateTitle(ctx context.Context, seed string) (string, error)
}

type ChatService struct {
	store     TurnStore
	retriever Retriever
	generator Generator
	titler    TitleGenerator
	logger    *zap.Logger
}

func NewChatService(st TurnStore, retriever Retriever, generator Generator, titler TitleGenerator, logger *zap.Logger) *ChatService {
	return &ChatService{
		store:     st,
		retriever: retriever,
		generator: generator,
		titler:    titler,
		logger:    logger,
	}
}

// TurnRequest is one validated chat turn: a user message aimed at a
// session the calling principal owns.
type TurnRequest struct {
	UserID    int64
	SessionID string
	Message   string
}

// ValidateTurnInput rejects malformed input before any I/O. The session
// id must be a well-formed UUID; the message must be 1..MaxMessageLength
// characters.
func ValidateTurnInput(message, sessionID string) error {
	if message == "" {
		return &ValidationError{Field: "message", Reason: "cannot be empty"}
	}
	if len([]rune(message)) > MaxMessageLength {
		return &ValidationError{Field: "message", Reason: fmt.Sprintf("cannot be longer than %d characters", MaxMessageLength)}
	}
	if _, err := uuid.Parse(sessionID); err != nil {
		return &ValidationError{Field: "sessionId", Reason: "must be a valid UUID"}
	}
	return nil
}

// StreamTurn runs one chat turn: retrieval, prompt assembly, streaming
// generation and persistence. Each generated fragment is handed to
// forward as soon as it arrives; forward failing (e.g. the client went
// away) cancels the upstream stream. The user message is written before
// generation starts; the assistant message is written after the stream
// terminates, with whatever non-empty text accumulated, including when
// the stream failed partway.
func (s *ChatService) StreamTurn(ctx context.Context, req TurnRequest, forward func(fragment string) error) error {
	session, err := s.store.GetSessionByID(req.SessionID, req.UserID)
	if err != nil {
		return &PersistenceError{Op: "load session", Err: err}
	}
	if session == nil {
		return ErrSessionNotFound
	}

	// An unreachable index aborts the turn before anything is persisted.
	// Zero matches is fine: the turn proceeds ungrounded.
	passages, err := s.retriever.Retrieve(ctx, req.Message, DefaultPassageCount)
	if err != nil {
		return &RetrievalError{Err: err}
	}

	history, err := s.store.GetMessagesBySessionID(req.SessionID, req.UserID)
	if err != nil {
		return &PersistenceError{Op: "load history", Err: err}
	}

	prompt := Assemble(PersonaPrompt(GroundingBlock(passages)), HistoryFromMessages(history), req.Message)

	userMsg := store.Message{
		SessionID: req.SessionID,
		UserID:    req.UserID,
		Role:      store.RoleUser,
		Content:   req.Message,
	}
	if err := s.store.CreateMessage(&userMsg); err != nil {
		return &PersistenceError{Op: "store user message", Err: err}
	}

	stream, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		return &GenerationError{Err: err}
	}

	var turnErr error
	for {
		fragment, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.logger.Error("generation stream failed",
				zap.String("session_id", req.SessionID), zap.Error(err))
			turnErr = &GenerationError{Err: err}
			break
		}
		if fragment == "" {
			continue
		}
		if err := forward(fragment); err != nil {
			stream.Cancel()
			s.logger.Warn("client transport write failed, aborting stream",
				zap.String("session_id", req.SessionID), zap.Error(err))
			turnErr = &GenerationError{Err: fmt.Errorf("client write failed: %w", err)}
			break
		}
	}

	// Never silently lose output the user already saw.
	if text := stream.Text(); text != "" {
		assistantMsg := store.Message{
			SessionID: req.SessionID,
			UserID:    req.UserID,
			Role:      store.RoleAssistant,
			Content:   text,
		}
		if err := s.store.CreateMessage(&assistantMsg); err != nil {
			s.logger.Error("failed to store assistant message",
				zap.String("session_id", req.SessionID), zap.Error(err))
			if turnErr == nil {
				turnErr = &PersistenceError{Op: "store assistant message", Err: err}
			}
		}

		if turnErr == nil && session.Title == "" {
			go s.generateAndSaveSessionTitle(req.SessionID, req.UserID, req.Message)
		}
	}

	return turnErr
}

// generateAndSaveSessionTitle fills in a missing title after the first
// completed exchange. Runs detached from the turn; failures only log.
func (s *ChatService) generateAndSaveSessionTitle(sessionID string, userID int64, basis string) {
	title, err := s.GenerateSessionTitle(context.Background(), basis)
	if err != nil {
		s.logger.Warn("title generation failed", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	if err := s.store.UpdateSessionTitle(sessionID, userID, title); err != nil {
		s.logger.Warn("failed to save generated title", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	s.logger.Info("session title generated", zap.String("session_id", sessionID), zap.String("title", title))
}

// GenerateSessionTitle asks the title collaborator for a short title.
func (s *ChatService) GenerateSessionTitle(ctx context.Context, seed string) (string, error) {
	title, err := s.titler.GenerateTitle(ctx, seed)
	if err != nil {
		return "", err
	}
	return strings.Trim(title, "\"'\n\r\t ."), nil
}

// Session operations, all scoped to the calling principal.

func (s *ChatService) ListSessions(userID int64) ([]store.ChatSession, error) {
	return s.store.GetSessionsByUserID(userID)
}

func (s *ChatService) CreateSession(userID int64, title string) (*store.ChatSession, error) {
	return s.store.CreateSession(userID, title)
}

func (s *ChatService) DeleteSession(sessionID string, userID int64) error {
	return s.store.DeleteSession(sessionID, userID)
}

func (s *ChatService) GetSessionMessages(sessionID string, userID int64) ([]store.Message, error) {
	session, err := s.store.GetSessionByID(sessionID, userID)
	if err != nil {
		return nil, &PersistenceError{Op: "load session", Err: err}
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	return s.store.GetMessagesBySessionID(sessionID, userID)
}
