package codex

const (
	// CommandName is the executable the dispatcher runs.
	CommandName = "codex"

	// DefaultModel is used when a request does not name a model.
	DefaultModel = "gpt-5-codex"

	// SubcommandExec starts a new conversation.
	SubcommandExec = "exec"

	// SubcommandResume continues the conversation named by the next argument.
	SubcommandResume = "resume"

	// ModelFlag precedes the model name.
	ModelFlag = "--model"

	// SkipGitRepoCheckFlag lets codex run outside a git work tree.
	SkipGitRepoCheckFlag = "--skip-git-repo-check"
)

// Mode is how an invocation relates to a session.
type Mode string

const (
	// ModeStateless is a one-shot call with no session.
	ModeStateless Mode = "stateless"
	// ModeNew is the first call of a session that has no conversation yet.
	ModeNew Mode = "new"
	// ModeResume continues a session's stored conversation.
	ModeResume Mode = "resume"
)
