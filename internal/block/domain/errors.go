package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Singular conditions callers can match with errors.Is.
var (
	// ErrRuleExists means the (blockURL, redirectURL) pair is already present.
	ErrRuleExists = errors.New("rule already exists")
	// ErrRuleNotFound means the referenced index or key has no stored record.
	ErrRuleNotFound = errors.New("rule not found")
)

// ValidationError reports one or more failed checks on a candidate rule.
// Codes carries every failed check so the caller can render all problems
// at once instead of just the first.
type ValidationError struct {
	Codes []Code
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Codes))
	for i, c := range e.Codes {
		parts[i] = string(c)
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// Has reports whether the given check is among the failures.
func (e *ValidationError) Has(code Code) bool {
	for _, c := range e.Codes {
		if c == code {
			return true
		}
	}
	return false
}

// EngineError wraps a failed install/remove call against the platform
// filtering engine. Callers must not assume partial success.
type EngineError struct {
	Op  string
	Err error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("rule engine %s failed: %v", e.Op, e.Err)
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// MigrationError means the full-rebuild migration failed partway. The
// stored list is left untouched so the caller can alert the user and retry.
type MigrationError struct {
	Err error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("rule migration failed: %v", e.Err)
}

func (e *MigrationError) Unwrap() error {
	return e.Err
}
