package chatstate

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/12313awe/skalgpt/internal/i18n"
	"github.com/12313awe/skalgpt/internal/store"
)

// ErrTurnInProgress is returned when SendMessage is called while a
// previous turn is still streaming. Callers gate on State.Responding.
var ErrTurnInProgress = errors.New("a turn is already in progress")

// TurnStream is the client side of one streamed chat turn.
type TurnStream interface {
	// Recv returns the next fragment, io.EOF on clean end, any other
	// error on stream failure.
	Recv() (string, error)
	Close() error
}

// API is the server collaborator the engine talks to.
type API interface {
	ListSessions(ctx context.Context) ([]store.ChatSession, error)
	SessionMessages(ctx context.Context, sessionID string) ([]store.Message, error)
	CreateSession(ctx context.Context, title string) (*store.ChatSession, error)
	DeleteSession(ctx context.Context, sessionID string) error
	GenerateTitle(ctx context.Context, seed string) (string, error)
	StreamTurn(ctx context.Context, sessionID, message string) (TurnStream, error)
}

// Notifier surfaces transient user-facing notifications (the toast
// analogue). Implementations must not call back into the engine.
type Notifier interface {
	Error(message string)
	Success(message string)
}

// Engine owns the in-memory session/message view ahead of server
// confirmation: optimistic mutations applied immediately, rolled back
// when the network disagrees. All state changes go through transition
// functions; subscribers are notified with the resulting snapshot.
type Engine struct {
	api     API
	notify  Notifier
	strings i18n.Bundle
	logger  *zap.Logger

	mu      sync.Mutex
	state   State
	subs    map[int]func(State)
	nextSub int
}

func NewEngine(api API, notifier Notifier, bundle i18n.Bundle, logger *zap.Logger) *Engine {
	return &Engine{
		api:     api,
		notify:  notifier,
		strings: bundle,
		logger:  logger,
		state:   State{Loading: true},
		subs:    make(map[int]func(State)),
	}
}

// State returns the current snapshot.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Subscribe registers a listener called after every state transition.
// The returned function cancels the subscription.
func (e *Engine) Subscribe(fn func(State)) func() {
	e.mu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.subs, id)
		e.mu.Unlock()
	}
}

// apply runs a transition under the lock and notifies subscribers with
// the new snapshot outside of it.
func (e *Engine) apply(transition func(State) State) State {
	e.mu.Lock()
	e.state = transition(e.state)
	st := e.state
	listeners := e.listenersLocked()
	e.mu.Unlock()

	for _, fn := range listeners {
		fn(st)
	}
	return st
}

func (e *Engine) listenersLocked() []func(State) {
	listeners := make([]func(State), 0, len(e.subs))
	for _, fn := range e.subs {
		listeners = append(listeners, fn)
	}
	return listeners
}

// beginTurn flips Responding under the same lock as the gate check, so
// two concurrent sends can never both pass. Returns the active session
// as of the flip.
func (e *Engine) beginTurn() (*store.ChatSession, bool) {
	e.mu.Lock()
	if e.state.Responding {
		e.mu.Unlock()
		return nil, false
	}
	e.state = withResponding(e.state, true)
	st := e.state
	listeners := e.listenersLocked()
	e.mu.Unlock()

	for _, fn := range listeners {
		fn(st)
	}
	return st.Active, true
}

// FetchSessions loads the principal's session list, newest first.
func (e *Engine) FetchSessions(ctx context.Context) error {
	e.apply(func(st State) State { return withLoading(st, true) })

	sessions, err := e.api.ListSessions(ctx)
	if err != nil {
		e.logger.Error("failed to fetch sessions", zap.Error(err))
		e.notify.Error(e.strings.SessionsLoadFailed)
		e.apply(func(st State) State { return withLoading(st, false) })
		return err
	}
	e.apply(func(st State) State { return withSessions(st, sessions) })
	return nil
}

// SelectSession makes a session active and loads its messages. Selecting
// the already-active session is a no-op: no reload is triggered.
func (e *Engine) SelectSession(ctx context.Context, sessionID string) error {
	e.mu.Lock()
	if e.state.Active != nil && e.state.Active.ID == sessionID {
		e.mu.Unlock()
		return nil
	}
	var selected *store.ChatSession
	for i := range e.state.Sessions {
		if e.state.Sessions[i].ID == sessionID {
			session := e.state.Sessions[i]
			selected = &session
			break
		}
	}
	e.mu.Unlock()

	e.apply(func(st State) State { return withActiveSession(st, selected) })
	if selected == nil {
		return nil
	}
	return e.fetchMessages(ctx, sessionID)
}

// StartNewConversation clears the active session so the next SendMessage
// creates a fresh one.
func (e *Engine) StartNewConversation() {
	e.apply(func(st State) State { return withActiveSession(st, nil) })
}

func (e *Engine) fetchMessages(ctx context.Context, sessionID string) error {
	e.apply(func(st State) State { return withLoading(st, true) })

	messages, err := e.api.SessionMessages(ctx, sessionID)
	if err != nil {
		e.logger.Error("failed to fetch messages", zap.String("session_id", sessionID), zap.Error(err))
		e.notify.Error(e.strings.MessagesLoadFailed)
		e.apply(func(st State) State { return withMessages(st, nil) })
		return err
	}
	e.apply(func(st State) State { return withMessages(st, messages) })
	return nil
}

// CreateSession creates a session and makes it active. With a non-empty
// seed message a server-generated title is requested first; if that fails
// the default title is used; title generation never blocks creation.
func (e *Engine) CreateSession(ctx context.Context, seedMessage string) (*store.ChatSession, error) {
	title := e.strings.DefaultSessionTitle
	if seedMessage != "" {
		generated, err := e.api.GenerateTitle(ctx, seedMessage)
		if err != nil {
			e.logger.Warn("title generation failed, using default", zap.Error(err))
			e.notify.Error(e.strings.TitleGenFailed)
		} else if generated != "" {
			title = generated
		}
	}

	session, err := e.api.CreateSession(ctx, title)
	if err != nil {
		e.logger.Error("failed to create session", zap.Error(err))
		e.notify.Error(e.strings.SessionCreateFailed)
		return nil, err
	}

	e.apply(func(st State) State { return withSessionInserted(st, *session) })
	return session, nil
}

// SendMessage runs one optimistic chat turn: both the finalized user
// message and an empty assistant placeholder appear in local state before
// the network round trip; the placeholder's content is then filled in
// fragment by fragment. On stream failure both records are removed again,
// restoring the message list to its exact pre-send shape.
func (e *Engine) SendMessage(ctx context.Context, text string) error {
	if text == "" {
		return errors.New("message is empty")
	}

	session, ok := e.beginTurn()
	if !ok {
		return ErrTurnInProgress
	}

	if session == nil {
		created, err := e.CreateSession(ctx, text)
		if err != nil {
			e.apply(func(st State) State { return withResponding(st, false) })
			e.notify.Error(e.strings.SendFailed)
			return err
		}
		session = created
	}

	now := time.Now()
	userMsg := store.Message{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		UserID:    session.UserID,
		Role:      store.RoleUser,
		Content:   text,
		CreatedAt: now,
	}
	assistantMsg := store.Message{
		ID:        uuid.NewString(),
		SessionID: session.ID,
		UserID:    session.UserID,
		Role:      store.RoleAssistant,
		Content:   "",
		CreatedAt: now,
	}

	e.apply(func(st State) State {
		return withMessagesAppended(st, userMsg, assistantMsg)
	})

	rollback := func() {
		e.apply(func(st State) State {
			return withResponding(withMessagesRemoved(st, userMsg.ID, assistantMsg.ID), false)
		})
		e.notify.Error(e.strings.SendFailed)
	}

	stream, err := e.api.StreamTurn(ctx, session.ID, text)
	if err != nil {
		e.logger.Error("failed to open turn stream", zap.String("session_id", session.ID), zap.Error(err))
		rollback()
		return err
	}
	defer stream.Close()

	var full strings.Builder
	for {
		fragment, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			e.logger.Error("turn stream failed", zap.String("session_id", session.ID), zap.Error(err))
			rollback()
			return err
		}
		full.WriteString(fragment)
		content := full.String()
		e.apply(func(st State) State {
			return withLastMessageContent(st, assistantMsg.ID, content)
		})
	}

	e.apply(func(st State) State { return withResponding(st, false) })
	return nil
}

// DeleteSession removes a session optimistically and restores the exact
// prior state if the server rejects the deletion.
func (e *Engine) DeleteSession(ctx context.Context, sessionID string) error {
	e.mu.Lock()
	previous := snapshot(e.state)
	e.mu.Unlock()

	e.apply(func(st State) State { return withSessionRemoved(st, sessionID) })

	if err := e.api.DeleteSession(ctx, sessionID); err != nil {
		e.logger.Error("failed to delete session", zap.String("session_id", sessionID), zap.Error(err))
		e.apply(func(State) State { return previous })
		e.notify.Error(e.strings.SessionDeleteFailed)
		return err
	}

	e.notify.Success(e.strings.SessionDeleted)
	return nil
}
