package logger

import (
	"io"
	"regexp"
)

// redactor blanks credential-shaped substrings before a line reaches
// any sink. Patterns cover the key formats this process actually
// handles: Anthropic and OpenAI API keys, bearer tokens, and generic
// secret/token/password assignments.
type redactor struct {
	patterns []*regexp.Regexp
}

func newRedactor() *redactor {
	return &redactor{
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{20,}`),
			regexp.MustCompile(`sk-[a-zA-Z0-9_-]{20,}`),
			regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._-]+`),
			regexp.MustCompile(`(?i)(secret|token|password)["\s:=]+[^\s",]+`),
		},
	}
}

func (r *redactor) redact(s string) string {
	out := s
	for _, p := range r.patterns {
		out = p.ReplaceAllString(out, "[REDACTED]")
	}
	return out
}

func (r *redactor) wrap(w io.Writer) io.Writer {
	return &redactingWriter{dst: w, redactor: r}
}

type redactingWriter struct {
	dst      io.Writer
	redactor *redactor
}

// Write reports the original length so zerolog does not see a short
// write when redaction shrinks the line.
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := w.dst.Write([]byte(w.redactor.redact(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}
