// Package codex dispatches prompts to the codex CLI while keeping track of
// which caller session maps to which codex conversation.
//
// Each call to Dispatcher.Execute makes exactly one runner invocation. The
// argument vector always has the shape
//
//	exec | resume <conversation-id>
//	--model <model>
//	--skip-git-repo-check
//	<additional args, verbatim and in order>
//	<prompt>
//
// After a successful run the dispatcher scans stderr for a
// "conversation id: <token>" line and stores the token on the session, so the
// session's next call resumes that conversation.
//
// The dispatcher takes no locks. Two concurrent calls for one session race on
// the stored conversation id; callers that need ordering serialize per session
// (the MCP server does so through a command queue lane per session).
package codex
