package apperror

import (
	"context"
	"errors"
	"fmt"
)

type Kind string

const (
	KindPlayerNotFound            Kind = "PLAYER_NOT_FOUND"
	KindRegionInvalid             Kind = "REGION_INVALID"
	KindRateLimited               Kind = "RATE_LIMITED"
	KindServiceUnavailable        Kind = "SERVICE_UNAVAILABLE"
	KindInsufficientData          Kind = "INSUFFICIENT_DATA"
	KindNarrativeGenerationFailed Kind = "NARRATIVE_GENERATION_FAILED"
	KindInvalidTransition         Kind = "INVALID_TRANSITION"
	KindInternal                  Kind = "INTERNAL_ERROR"

	// request-level kinds, never recorded on a job
	KindUnauthenticated Kind = "UNAUTHENTICATED"
	KindInvalidRequest  Kind = "INVALID_REQUEST"
	KindNotFound        Kind = "NOT_FOUND"
)

type kindInfo struct {
	code    string
	message string
}

// Messages are safe to show to end users.
var kinds = map[Kind]kindInfo{
	KindUnauthenticated:           {"ERR_103", "Your session has expired, please sign in again"},
	KindInvalidRequest:            {"ERR_201", "Invalid request format"},
	KindRegionInvalid:             {"ERR_202", "Region is not supported"},
	KindPlayerNotFound:            {"ERR_301", "Summoner not found in the specified region"},
	KindNotFound:                  {"ERR_302", "Job not found"},
	KindInsufficientData:          {"ERR_304", "Not enough games were played this season to build a recap"},
	KindServiceUnavailable:        {"ERR_401", "Failed to fetch data from game server"},
	KindRateLimited:               {"ERR_402", "Too many requests, please try again later"},
	KindNarrativeGenerationFailed: {"ERR_403", "AI service temporarily unavailable"},
	KindInternal:                  {"ERR_500", "An unexpected error occurred"},
	KindInvalidTransition:         {"ERR_500", "An unexpected error occurred"},
}

// Kinds lists every known kind.
func Kinds() []Kind {
	out := make([]Kind, 0, len(kinds))
	for k := range kinds {
		out = append(out, k)
	}
	return out
}

// UserMessage maps a kind to its user-facing text. Unknown kinds fall back to the internal error text.
func UserMessage(k Kind) string {
	if info, ok := kinds[k]; ok {
		return info.message
	}
	return kinds[KindInternal].message
}

// Code returns the client-facing ERR_xxx code for a kind.
func Code(k Kind) string {
	if info, ok := kinds[k]; ok {
		return info.code
	}
	return kinds[KindInternal].code
}

type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match on kind alone, e.g. errors.Is(err, apperror.New(KindRateLimited, "")).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, message string) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf classifies any error. Typed errors keep their kind; deadlines count as an unavailable
// upstream; anything else is internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindServiceUnavailable
	}
	return KindInternal
}

// MessageOf returns the most specific message carried by err.
func MessageOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Message != "" {
		return appErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
