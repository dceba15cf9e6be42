package server

import (
	"context"

	"summoner-story/internal/auth"

	"connectrpc.com/connect"
	"github.com/rs/zerolog"
)

// NewAuthInterceptor verifies the Authorization header of every incoming call and stores the session
// on the context.
func NewAuthInterceptor(verifier *auth.Verifier) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			if req.Spec().IsClient {
				return next(ctx, req)
			}
			session, err := verifier.Verify(req.Header().Get("Authorization"))
			if err != nil {
				zerolog.Ctx(ctx).Debug().
					Err(err).
					Str("procedure", req.Spec().Procedure).
					Msg("rejected unauthenticated call")
				return nil, toConnectError(err)
			}
			return next(auth.WithSession(ctx, session), req)
		}
	}
}

// NewTokenInterceptor attaches a bearer token to outgoing calls.
func NewTokenInterceptor(token string) connect.UnaryInterceptorFunc {
	return func(next connect.UnaryFunc) connect.UnaryFunc {
		return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
			if req.Spec().IsClient && token != "" {
				req.Header().Set("Authorization", "Bearer "+token)
			}
			return next(ctx, req)
		}
	}
}
