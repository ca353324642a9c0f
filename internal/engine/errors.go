package engine

import (
	"errors"
	"fmt"
)

// Session-fatal sentinels. Everything else fails forward to the next item.
var (
	// ErrVerificationTimeout means a verification challenge stayed on
	// screen past its bound.
	ErrVerificationTimeout = errors.New("verification challenge timed out")
)

// LaunchError wraps a failure to bring the automation session up. Always
// session-fatal.
type LaunchError struct {
	Err error
}

func (e *LaunchError) Error() string { return fmt.Sprintf("session launch failed: %v", e.Err) }
func (e *LaunchError) Unwrap() error { return e.Err }

// ConfigError reports an invalid session configuration, detected before
// any automation starts.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid session config: %s %s", e.Field, e.Reason)
}

// ItemError is a per-item failure. The session records a skip and
// advances.
type ItemError struct {
	Reason string
	Err    error
}

func (e *ItemError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("item failed: %s", e.Reason)
	}
	return fmt.Sprintf("item failed: %s: %v", e.Reason, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

// isSessionFatal reports whether an error must terminate the whole
// session rather than the current item.
func isSessionFatal(err error) bool {
	var launch *LaunchError
	return errors.Is(err, ErrVerificationTimeout) || errors.As(err, &launch)
}

// Skip reasons recorded in video records and skipped-item metrics.
const (
	SkipAlreadyCommented = "already_commented"
	SkipBlockedKeyword   = "blocked_keyword"
	SkipBlockedAuthor    = "blocked_author"
	SkipIneligible       = "ineligible"
	SkipNoRuleMatch      = "no_rule_match"
	SkipInactive         = "inactive"
	SkipNoCommentText    = "no_comment_text"
	SkipCommentFailed    = "comment_failed"
	SkipItemError        = "item_error"
)
