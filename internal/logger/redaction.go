package logger

import (
	"io"
	"regexp"
)

const redactedMarker = "[REDACTED]"

// Redactor scrubs credentials from log lines.
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor returns a redactor loaded with the default credential patterns.
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: []*regexp.Regexp{
			// OpenAI and Anthropic style keys
			regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{20,}`),
			regexp.MustCompile(`sk-(?:proj-)?[a-zA-Z0-9_-]{20,}`),

			regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._-]+`),

			// GitHub tokens
			regexp.MustCompile(`gh[pousr]_[A-Za-z0-9]{36,}`),

			regexp.MustCompile(`AKIA[0-9A-Z]{16}`),

			regexp.MustCompile(`(?i)(password|pwd)["\s:=]+[^\s"]+`),
			regexp.MustCompile(`(?i)token["\s:=]+[a-zA-Z0-9._-]{20,}`),
			regexp.MustCompile(`(?i)secret["\s:=]+[^\s"]+`),
		},
	}
}

// AddPattern adds a custom redaction pattern
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.patterns = append(r.patterns, re)
	return nil
}

// Redact replaces every match with [REDACTED].
func (r *Redactor) Redact(s string) string {
	for _, pattern := range r.patterns {
		s = pattern.ReplaceAllString(s, redactedMarker)
	}
	return s
}

// Wrap returns a writer that redacts before delegating to w.
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{writer: w, redactor: r}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write reports len(p) on success so zerolog does not treat a shorter
// redacted line as a short write.
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := w.writer.Write([]byte(w.redactor.Redact(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}
