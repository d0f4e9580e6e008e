package codex

// BuildArgs assembles the codex argument vector. conversationID selects resume
// mode when non-empty. model must already be resolved to a non-empty value.
func BuildArgs(conversationID, model string, additionalArgs []string, prompt string) []string {
	args := make([]string, 0, 6+len(additionalArgs))

	if conversationID != "" {
		args = append(args, SubcommandResume, conversationID)
	} else {
		args = append(args, SubcommandExec)
	}

	args = append(args, ModelFlag, model, SkipGitRepoCheckFlag)
	args = append(args, additionalArgs...)
	return append(args, prompt)
}
