// Package session stores caller-visible sessions for the codex dispatcher.
//
// A session maps an opaque id to the conversation id that the codex CLI issued
// for it. A session without a conversation id starts a new conversation on its
// next use; a session with one resumes it.
//
// Invariants:
// - Session ids are UUID v4 strings generated by the store and never change.
// - UpdateConversationID and Touch fail with ErrSessionNotFound for unknown ids.
// - Stores never delete sessions on their own; Cleanup and DeleteSession do.
//
// Usage:
//
//	store := session.NewMemoryStore()
//	id, _ := store.CreateSession(ctx)
//	_ = store.UpdateConversationID(ctx, id, "0199a1b2-c3d4")
//	s, _ := store.GetSession(ctx, id)
//	_ = s.ConversationID
package session
