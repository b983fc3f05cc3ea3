package secrets

import (
	"strings"
	"sync"
)

// Mask replaces registered secret values in redacted output.
const Mask = "***"

// Redactor scrubs registered secret values out of strings before they reach
// logs, error messages, or outbound request dumps. Replacement is literal, so
// it works for tokens of any length or character set.
type Redactor struct {
	mu     sync.RWMutex
	values []string
}

// NewRedactor creates an empty Redactor.
func NewRedactor() *Redactor {
	return &Redactor{}
}

// Register adds a secret value to be masked. Empty values are ignored.
func (r *Redactor) Register(value string) {
	if value == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.values {
		if existing == value {
			return
		}
	}
	r.values = append(r.values, value)
}

// Redact returns s with every registered secret value replaced by the mask.
func (r *Redactor) Redact(s string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, v := range r.values {
		s = strings.ReplaceAll(s, v, Mask)
	}
	return s
}

// RedactError masks secrets in an error's message. Returns "" for nil.
func (r *Redactor) RedactError(err error) string {
	if err == nil {
		return ""
	}
	return r.Redact(err.Error())
}
