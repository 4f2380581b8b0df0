// Package apperr classifies failures surfaced to callers of the reader.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the caller-facing classification of a failure.
type Kind int

const (
	// KindDatabase covers persistence failures and anything unclassified.
	KindDatabase Kind = iota
	// KindBadInput is user-correctable: malformed URL, duplicate subscription, unknown token.
	KindBadInput
	// KindNotFound means the addressed feed or entry does not exist.
	KindNotFound
	// KindNetwork is a failed outbound fetch, including timeouts and non-2xx replies.
	KindNetwork
	// KindFeedParse means the remote document could not be decoded as a feed.
	KindFeedParse
)

func (k Kind) String() string {
	switch k {
	case KindBadInput:
		return "bad_input"
	case KindNotFound:
		return "not_found"
	case KindNetwork:
		return "network_error"
	case KindFeedParse:
		return "feed_parse_error"
	default:
		return "database_error"
	}
}

// Error is a classified failure. Message is safe to show to a user; Err
// carries the underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// BadInput reports a request the caller can fix.
func BadInput(msg string) *Error {
	return &Error{Kind: KindBadInput, Message: msg}
}

// NotFound reports a missing feed or entry.
func NotFound(msg string) *Error {
	return &Error{Kind: KindNotFound, Message: msg}
}

// Network reports a failure to fetch a remote document.
func Network(msg string, err error) *Error {
	return &Error{Kind: KindNetwork, Message: msg, Err: err}
}

// FeedParse reports a document that could not be decoded as a feed.
func FeedParse(msg string, err error) *Error {
	return &Error{Kind: KindFeedParse, Message: msg, Err: err}
}

// Database reports a storage failure.
func Database(msg string, err error) *Error {
	return &Error{Kind: KindDatabase, Message: msg, Err: err}
}

// KindOf returns the classification of err. Errors that were never
// classified are reported as KindDatabase.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindDatabase
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}
