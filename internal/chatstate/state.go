package chatstate

import "github.com/12313awe/skalgpt/internal/store"

// State is one snapshot of the client-side view: the session list, the
// active session with its messages, and the two flags the UI gates on.
// Snapshots handed to subscribers share message backing arrays with the
// engine and are meant for immediate rendering, not retention.
type State struct {
	Sessions   []store.ChatSession
	Active     *store.ChatSession
	Messages   []store.Message
	Loading    bool
	Responding bool
}

// The transition functions below are the only way engine state changes:
// each takes the prior state and returns the next one. No hidden
// mutation outside of them.

func withLoading(st State, loading bool) State {
	st.Loading = loading
	return st
}

func withResponding(st State, responding bool) State {
	st.Responding = responding
	return st
}

func withSessions(st State, sessions []store.ChatSession) State {
	st.Sessions = sessions
	st.Loading = false
	return st
}

// withSessionInserted puts a fresh session at the head of the list and
// makes it active with an empty message view.
func withSessionInserted(st State, session store.ChatSession) State {
	sessions := make([]store.ChatSession, 0, len(st.Sessions)+1)
	sessions = append(sessions, session)
	sessions = append(sessions, st.Sessions...)
	st.Sessions = sessions
	st.Active = &session
	st.Messages = nil
	return st
}

func withSessionRemoved(st State, sessionID string) State {
	sessions := make([]store.ChatSession, 0, len(st.Sessions))
	for _, s := range st.Sessions {
		if s.ID != sessionID {
			sessions = append(sessions, s)
		}
	}
	st.Sessions = sessions
	if st.Active != nil && st.Active.ID == sessionID {
		st.Active = nil
		st.Messages = nil
	}
	return st
}

func withActiveSession(st State, session *store.ChatSession) State {
	st.Active = session
	st.Messages = nil
	return st
}

func withMessages(st State, messages []store.Message) State {
	st.Messages = messages
	st.Loading = false
	return st
}

func withMessagesAppended(st State, messages ...store.Message) State {
	appended := make([]store.Message, 0, len(st.Messages)+len(messages))
	appended = append(appended, st.Messages...)
	appended = append(appended, messages...)
	st.Messages = appended
	return st
}

// withLastMessageContent overwrites the content of the trailing message,
// provided it is the expected one. This is an O(1) in-place update of the
// existing element, not a rebuild of the list; message lists grow long and
// a per-fragment rebuild would make streaming updates quadratic.
func withLastMessageContent(st State, messageID, content string) State {
	if n := len(st.Messages); n > 0 && st.Messages[n-1].ID == messageID {
		st.Messages[n-1].Content = content
	}
	return st
}

// withMessagesRemoved drops the identified messages, preserving order of
// everything else. Used to roll back an optimistic turn.
func withMessagesRemoved(st State, messageIDs ...string) State {
	drop := make(map[string]struct{}, len(messageIDs))
	for _, id := range messageIDs {
		drop[id] = struct{}{}
	}
	messages := make([]store.Message, 0, len(st.Messages))
	for _, m := range st.Messages {
		if _, gone := drop[m.ID]; !gone {
			messages = append(messages, m)
		}
	}
	st.Messages = messages
	return st
}

// snapshot deep-copies the slices so a later restore is exact even after
// in-place message updates.
func snapshot(st State) State {
	if st.Sessions != nil {
		sessions := make([]store.ChatSession, len(st.Sessions))
		copy(sessions, st.Sessions)
		st.Sessions = sessions
	}
	if st.Messages != nil {
		messages := make([]store.Message, len(st.Messages))
		copy(messages, st.Messages)
		st.Messages = messages
	}
	if st.Active != nil {
		active := *st.Active
		st.Active = &active
	}
	return st
}
