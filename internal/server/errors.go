package server

import (
	"errors"

	"summoner-story/internal/apperror"

	"connectrpc.com/connect"
)

// Error metadata keys sent alongside every failed call.
const (
	ErrorKindHeader = "Summoner-Error-Kind"
	ErrorCodeHeader = "Summoner-Error-Code"
)

var kindCodes = map[apperror.Kind]connect.Code{
	apperror.KindPlayerNotFound:            connect.CodeNotFound,
	apperror.KindRegionInvalid:             connect.CodeInvalidArgument,
	apperror.KindRateLimited:               connect.CodeResourceExhausted,
	apperror.KindServiceUnavailable:        connect.CodeUnavailable,
	apperror.KindInsufficientData:          connect.CodeFailedPrecondition,
	apperror.KindNarrativeGenerationFailed: connect.CodeUnavailable,
	apperror.KindInvalidTransition:         connect.CodeInternal,
	apperror.KindInternal:                  connect.CodeInternal,
	apperror.KindUnauthenticated:           connect.CodeUnauthenticated,
	apperror.KindInvalidRequest:            connect.CodeInvalidArgument,
	apperror.KindNotFound:                  connect.CodeNotFound,
}

// toConnectError converts err to a connect error carrying the kind and client code. Internal
// details never leave the process.
func toConnectError(err error) *connect.Error {
	kind := apperror.KindOf(err)
	code, ok := kindCodes[kind]
	if !ok {
		kind, code = apperror.KindInternal, connect.CodeInternal
	}

	msg := apperror.MessageOf(err)
	if kind == apperror.KindInternal || kind == apperror.KindInvalidTransition {
		msg = apperror.UserMessage(kind)
	}

	cerr := connect.NewError(code, errors.New(msg))
	cerr.Meta().Set(ErrorKindHeader, string(kind))
	cerr.Meta().Set(ErrorCodeHeader, apperror.Code(kind))
	return cerr
}

// fromConnectError restores the error kind on the client side.
func fromConnectError(err error) error {
	var cerr *connect.Error
	if !errors.As(err, &cerr) {
		return apperror.Wrap(apperror.KindServiceUnavailable, err, "recap service unreachable")
	}
	if kind := cerr.Meta().Get(ErrorKindHeader); kind != "" {
		return apperror.Wrap(apperror.Kind(kind), err, cerr.Message())
	}
	switch cerr.Code() {
	case connect.CodeUnauthenticated:
		return apperror.Wrap(apperror.KindUnauthenticated, err, cerr.Message())
	case connect.CodeNotFound:
		return apperror.Wrap(apperror.KindNotFound, err, cerr.Message())
	case connect.CodeUnavailable, connect.CodeDeadlineExceeded:
		return apperror.Wrap(apperror.KindServiceUnavailable, err, cerr.Message())
	}
	return apperror.Wrap(apperror.KindInternal, err, cerr.Message())
}
