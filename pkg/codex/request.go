package codex

// Request is one dispatch call.
type Request struct {
	Prompt         string   `json:"prompt"`
	Model          string   `json:"model,omitempty"`
	SessionID      string   `json:"sessionId,omitempty"`
	AdditionalArgs []string `json:"additionalArgs,omitempty"`
}

// Result is the raw output of the codex run, returned unmodified.
type Result struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// Argument names accepted by ParseRequest.
const (
	ArgPrompt         = "prompt"
	ArgModel          = "model"
	ArgSessionID      = "sessionId"
	ArgAdditionalArgs = "additionalArgs"
)

// Validate checks the fields that typed callers can still get wrong.
func (r Request) Validate() error {
	if r.Prompt == "" {
		return newValidationError(ArgPrompt, "must be a non-empty string")
	}
	return nil
}

// ParseRequest decodes raw tool-call arguments. Values of the wrong type are
// rejected rather than coerced: additionalArgs must be an array whose every
// element is a string.
func ParseRequest(args map[string]interface{}) (Request, error) {
	var req Request

	prompt, ok := args[ArgPrompt].(string)
	if !ok || prompt == "" {
		return Request{}, newValidationError(ArgPrompt, "must be a non-empty string")
	}
	req.Prompt = prompt

	model, err := optionalString(args, ArgModel)
	if err != nil {
		return Request{}, err
	}
	req.Model = model

	sessionID, err := optionalString(args, ArgSessionID)
	if err != nil {
		return Request{}, err
	}
	req.SessionID = sessionID

	extra, err := parseAdditionalArgs(args[ArgAdditionalArgs])
	if err != nil {
		return Request{}, err
	}
	req.AdditionalArgs = extra

	return req, nil
}

func optionalString(args map[string]interface{}, key string) (string, error) {
	raw, present := args[key]
	if !present || raw == nil {
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", newValidationError(key, "must be a string, got %T", raw)
	}
	return s, nil
}

func parseAdditionalArgs(raw interface{}) ([]string, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out, nil
	case []interface{}:
		out := make([]string, 0, len(v))
		for i, elem := range v {
			s, ok := elem.(string)
			if !ok {
				return nil, newValidationError(ArgAdditionalArgs, "element %d must be a string, got %T", i, elem)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, newValidationError(ArgAdditionalArgs, "must be an array of strings, got %T", raw)
	}
}
