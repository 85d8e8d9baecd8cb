package domain

import (
	"fmt"
	"strings"
)

// ParseError reports an unparseable cell value. Parse problems degrade to a
// missing value downstream; they never abort a batch.
type ParseError struct {
	Column string
	Value  string
	Row    int
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error: column %q row %d: unparseable value %q", e.Column, e.Row, e.Value)
}

// UnknownCategoryError reports a category seen at transform time that was
// absent from the fitted label-encoder mapping. The affected prediction is
// aborted; the error names the offending column and value.
type UnknownCategoryError struct {
	Column string
	Value  string
}

func (e *UnknownCategoryError) Error() string {
	return fmt.Sprintf("unknown category: column %q has unseen value %q", e.Column, e.Value)
}

// SchemaMismatchError reports inference input that is missing required
// columns or that produced a feature vector with the wrong shape or order.
type SchemaMismatchError struct {
	Reason     string
	Missing    []string
	Unexpected []string
}

func (e *SchemaMismatchError) Error() string {
	msg := "schema mismatch: " + e.Reason
	if len(e.Missing) > 0 {
		msg += fmt.Sprintf(" (missing: %s)", strings.Join(e.Missing, ", "))
	}
	if len(e.Unexpected) > 0 {
		msg += fmt.Sprintf(" (unexpected: %s)", strings.Join(e.Unexpected, ", "))
	}
	return msg
}

// InsufficientDataError reports fewer distinct customers than the requested
// cluster count during label engineering.
type InsufficientDataError struct {
	Needed int
	Got    int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: need at least %d distinct customers, got %d", e.Needed, e.Got)
}

// ConfigurationError reports invalid configuration: a snapshot date before
// the data horizon, a missing or incompatible fitted-state bundle, or an
// invalid scoring expression. Always fail fast at load time.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}
