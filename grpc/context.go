// Package grpc carries the logged in identity from a microauth session into
// gRPC services.
//
// Clients send the session id under the x-session-id metadata key. The
// interceptors resolve it to the identity id stored in the session and put
// that id on the handler's context. Services calling further downstream
// forward the id under x-user-id.
package grpc

import (
	"context"

	ma "github.com/panyam/microauth"
	"google.golang.org/grpc/metadata"
)

const (
	// MetadataKeySessionID carries the session id on incoming calls.
	MetadataKeySessionID = "x-session-id"

	// MetadataKeyUserID carries the identity id to downstream services.
	MetadataKeyUserID = "x-user-id"
)

// SessionResolver reads session values without touching the session.
// *microauth.SessionManager implements it.
type SessionResolver interface {
	Peek(ctx context.Context, id string) (map[string]any, bool)
}

type userIDKey struct{}

// WithUserID returns ctx carrying the authenticated identity id.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// UserIDFromContext returns the identity id set by the interceptors, or ""
// when the call is not authenticated.
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey{}).(string)
	return id
}

// IsAuthenticated reports whether ctx carries an identity id.
func IsAuthenticated(ctx context.Context) bool {
	return UserIDFromContext(ctx) != ""
}

// SessionIDToOutgoingContext attaches a session id to an outgoing call.
func SessionIDToOutgoingContext(ctx context.Context, sessionID string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, MetadataKeySessionID, sessionID)
}

// UserIDToOutgoingContext forwards the identity id in ctx to an outgoing
// call. ctx is returned unchanged when it carries none.
func UserIDToOutgoingContext(ctx context.Context) context.Context {
	id := UserIDFromContext(ctx)
	if id == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, MetadataKeyUserID, id)
}

// ForwardedUserID returns the identity id an upstream service forwarded.
func ForwardedUserID(ctx context.Context) string {
	return firstValue(ctx, MetadataKeyUserID)
}

func firstValue(ctx context.Context, key string) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if values := md.Get(key); len(values) > 0 {
		return values[0]
	}
	return ""
}

// resolveUserID looks up the identity id stored in the caller's session.
func resolveUserID(ctx context.Context, sessions SessionResolver) string {
	sid := firstValue(ctx, MetadataKeySessionID)
	if sid == "" {
		return ""
	}
	values, ok := sessions.Peek(ctx, sid)
	if !ok {
		return ""
	}
	id, _ := values[ma.SessionKeyUserID].(string)
	return id
}
